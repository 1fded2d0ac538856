package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"credential-server/backend/internal/token/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a token repository that uses the given db.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const tokenColumns = "id, serial, token_type, rollout_state, active, pin_hash, owner_user, owner_realm, secret, created_at, updated_at"

// GetBySerial returns the token for serial with its token-info, or nil if not found.
func (r *PostgresRepository) GetBySerial(ctx context.Context, serial string) (*domain.Token, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+tokenColumns+" FROM tokens WHERE serial = $1", serial)
	t, err := scanToken(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if err := r.loadInfo(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// GetByOwner returns all tokens bound to the given user and realm.
func (r *PostgresRepository) GetByOwner(ctx context.Context, user, realm string) ([]*domain.Token, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+tokenColumns+" FROM tokens WHERE owner_user = $1 AND owner_realm = $2 ORDER BY serial", user, realm)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Token
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, t := range out {
		if err := r.loadInfo(ctx, t); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Create persists the token and its token-info. The token must have ID and Serial set.
func (r *PostgresRepository) Create(ctx context.Context, t *domain.Token) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO tokens (`+tokenColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		t.ID, t.Serial, t.Type, string(t.RolloutState), t.Active, t.PINHash,
		t.OwnerUser, t.OwnerRealm, t.Secret, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return err
	}
	if err := writeInfo(ctx, tx, t); err != nil {
		return err
	}
	return tx.Commit()
}

// Update persists the mutable token fields and replaces the token-info mapping.
func (r *PostgresRepository) Update(ctx context.Context, t *domain.Token) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE tokens SET rollout_state = $2, active = $3, pin_hash = $4,
		 owner_user = $5, owner_realm = $6, secret = $7, updated_at = $8
		 WHERE id = $1`,
		t.ID, string(t.RolloutState), t.Active, t.PINHash,
		t.OwnerUser, t.OwnerRealm, t.Secret, time.Now().UTC())
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("token %s: not found", t.Serial)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM tokeninfo WHERE token_id = $1", t.ID); err != nil {
		return err
	}
	if err := writeInfo(ctx, tx, t); err != nil {
		return err
	}
	return tx.Commit()
}

// CompleteEnrollment performs the step-2 state transition with a conditional
// UPDATE so that at most one concurrent completion succeeds. The losing
// attempt observes zero affected rows and gets ok=false with nothing written.
func (r *PostgresRepository) CompleteEnrollment(ctx context.Context, t *domain.Token) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE tokens SET rollout_state = $2, active = TRUE, secret = $3, updated_at = $4
		 WHERE id = $1 AND rollout_state = $5`,
		t.ID, string(domain.RolloutEnrolled), t.Secret, time.Now().UTC(),
		string(domain.RolloutClientWait))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM tokeninfo WHERE token_id = $1", t.ID); err != nil {
		return false, err
	}
	if err := writeInfo(ctx, tx, t); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

// Delete removes the token and its token-info by serial.
func (r *PostgresRepository) Delete(ctx context.Context, serial string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM tokens WHERE serial = $1", serial)
	return err
}

func (r *PostgresRepository) loadInfo(ctx context.Context, t *domain.Token) error {
	rows, err := r.db.QueryContext(ctx, "SELECT key, value FROM tokeninfo WHERE token_id = $1", t.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	t.Info = make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return err
		}
		t.Info[k] = v
	}
	return rows.Err()
}

func writeInfo(ctx context.Context, tx *sql.Tx, t *domain.Token) error {
	for k, v := range t.Info {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO tokeninfo (token_id, key, value) VALUES ($1, $2, $3)",
			t.ID, k, v); err != nil {
			return err
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanToken(row rowScanner) (*domain.Token, error) {
	var t domain.Token
	var state string
	if err := row.Scan(&t.ID, &t.Serial, &t.Type, &state, &t.Active, &t.PINHash,
		&t.OwnerUser, &t.OwnerRealm, &t.Secret, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.RolloutState = domain.RolloutState(state)
	return &t, nil
}
