package repository

import (
	"context"
	"database/sql"

	"credential-server/backend/internal/audit/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an audit log repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create persists one audit event.
func (r *PostgresRepository) Create(ctx context.Context, a *domain.AuditLog) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, username, realm, serial, action, success, ip, info, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		a.ID, a.Username, a.Realm, a.Serial, a.Action, a.Success, a.IP, a.Info, a.CreatedAt,
	)
	return err
}

// ListBySerial returns events for one token, newest first.
// Returns (nil, error) only on database errors.
func (r *PostgresRepository) ListBySerial(ctx context.Context, serial string, limit, offset int32) ([]*domain.AuditLog, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, username, realm, serial, action, success, ip, info, created_at
		FROM audit_logs
		WHERE serial = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`,
		serial, limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.AuditLog
	for rows.Next() {
		a := &domain.AuditLog{}
		if err := rows.Scan(&a.ID, &a.Username, &a.Realm, &a.Serial, &a.Action, &a.Success, &a.IP, &a.Info, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
