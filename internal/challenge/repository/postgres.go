package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"credential-server/backend/internal/challenge/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a challenge repository that uses the given db.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create persists a new challenge for serial with the given TTL.
func (r *PostgresRepository) Create(ctx context.Context, serial, message string, ttl time.Duration) (*domain.Challenge, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	txid, err := NewTransactionID()
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	c := &domain.Challenge{
		ID:            uuid.New().String(),
		TransactionID: txid,
		Serial:        serial,
		Message:       message,
		CreatedAt:     now,
		ExpiresAt:     now.Add(ttl),
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO challenges (id, transaction_id, serial, message, answered, answer, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, FALSE, FALSE, $5, $6)`,
		c.ID, c.TransactionID, c.Serial, c.Message, c.CreatedAt, c.ExpiresAt)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Get returns challenges matching the given filters, oldest first.
func (r *PostgresRepository) Get(ctx context.Context, serial, transactionID string) ([]*domain.Challenge, error) {
	const cols = "id, transaction_id, serial, message, answered, answer, created_at, expires_at"
	var rows *sql.Rows
	var err error
	switch {
	case serial != "" && transactionID != "":
		rows, err = r.db.QueryContext(ctx,
			"SELECT "+cols+" FROM challenges WHERE serial = $1 AND transaction_id = $2 ORDER BY created_at", serial, transactionID)
	case serial != "":
		rows, err = r.db.QueryContext(ctx,
			"SELECT "+cols+" FROM challenges WHERE serial = $1 ORDER BY created_at", serial)
	case transactionID != "":
		rows, err = r.db.QueryContext(ctx,
			"SELECT "+cols+" FROM challenges WHERE transaction_id = $1 ORDER BY created_at", transactionID)
	default:
		return nil, ErrNoFilter
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Challenge
	for rows.Next() {
		var c domain.Challenge
		if err := rows.Scan(&c.ID, &c.TransactionID, &c.Serial, &c.Message,
			&c.Answered, &c.Answer, &c.CreatedAt, &c.ExpiresAt); err != nil {
			return nil, err
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

// SetAnswer records the confirmation outcome. The conditional UPDATE makes the
// write atomic with respect to concurrent polls, never re-answers an answered
// challenge, and silently ignores unknown or expired transaction ids.
func (r *PostgresRepository) SetAnswer(ctx context.Context, transactionID string, value bool) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE challenges SET answered = TRUE, answer = $2
		 WHERE transaction_id = $1 AND answered = FALSE AND expires_at > $3`,
		transactionID, value, time.Now().UTC())
	return err
}

// DeleteByTransactionID removes one challenge after its outcome was delivered.
func (r *PostgresRepository) DeleteByTransactionID(ctx context.Context, transactionID string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM challenges WHERE transaction_id = $1", transactionID)
	return err
}

// DeleteBySerial removes all challenges of a token.
func (r *PostgresRepository) DeleteBySerial(ctx context.Context, serial string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM challenges WHERE serial = $1", serial)
	return err
}
