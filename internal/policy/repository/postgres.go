package repository

import (
	"context"
	"database/sql"

	"credential-server/backend/internal/policy/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a policy repository that uses the given db.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetEnabledByScope returns all enabled policies of the given scope.
func (r *PostgresRepository) GetEnabledByScope(ctx context.Context, scope string) ([]*domain.Policy, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, scope, realm, username, client, action, enabled, created_at
		 FROM policies WHERE scope = $1 AND enabled ORDER BY name`, scope)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Policy
	for rows.Next() {
		var p domain.Policy
		if err := rows.Scan(&p.ID, &p.Name, &p.Scope, &p.Realm, &p.User,
			&p.Client, &p.Action, &p.Enabled, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

// Create persists the policy. The policy must have ID and Name set.
func (r *PostgresRepository) Create(ctx context.Context, p *domain.Policy) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO policies (id, name, scope, realm, username, client, action, enabled, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		p.ID, p.Name, p.Scope, p.Realm, p.User, p.Client, p.Action, p.Enabled, p.CreatedAt)
	return err
}

// Delete removes the policy by name.
func (r *PostgresRepository) Delete(ctx context.Context, name string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM policies WHERE name = $1", name)
	return err
}
