package repository

import (
	"context"
	"database/sql"
	"errors"

	"credential-server/backend/internal/gateway/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a gateway repository that uses the given db.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetByName returns the gateway for name with its options, or nil if not found.
func (r *PostgresRepository) GetByName(ctx context.Context, name string) (*domain.Gateway, error) {
	var g domain.Gateway
	err := r.db.QueryRowContext(ctx,
		"SELECT id, name, provider, created_at FROM gateways WHERE name = $1", name).
		Scan(&g.ID, &g.Name, &g.Provider, &g.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx,
		"SELECT key, value FROM gateway_options WHERE gateway_id = $1", g.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	g.Options = make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		g.Options[k] = v
	}
	return &g, rows.Err()
}

// Create persists the gateway and its options. The gateway must have ID and Name set.
func (r *PostgresRepository) Create(ctx context.Context, g *domain.Gateway) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		"INSERT INTO gateways (id, name, provider, created_at) VALUES ($1, $2, $3, $4)",
		g.ID, g.Name, g.Provider, g.CreatedAt)
	if err != nil {
		return err
	}
	for k, v := range g.Options {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO gateway_options (gateway_id, key, value) VALUES ($1, $2, $3)",
			g.ID, k, v); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Delete removes the gateway and its options by name.
func (r *PostgresRepository) Delete(ctx context.Context, name string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM gateways WHERE name = $1", name)
	return err
}
