package repository

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"credential-server/backend/internal/challenge/domain"
)

// ErrNoFilter is returned by Get when neither serial nor transaction id is supplied.
var ErrNoFilter = errors.New("challenge: at least one of serial or transaction id is required")

// DefaultTTL is the default challenge expiry.
const DefaultTTL = 2 * time.Minute

// Repository defines persistence for pending authentication challenges.
type Repository interface {
	// Create persists a new challenge with a fresh unguessable transaction id.
	Create(ctx context.Context, serial, message string, ttl time.Duration) (*domain.Challenge, error)
	// Get returns challenges matching serial and/or transactionID, oldest
	// first. At least one filter must be non-empty.
	Get(ctx context.Context, serial, transactionID string) ([]*domain.Challenge, error)
	// SetAnswer records the confirmation outcome for transactionID. Unknown
	// ids are a silent no-op (late or replayed callbacks are tolerated), and
	// an already answered challenge is never re-answered.
	SetAnswer(ctx context.Context, transactionID string, value bool) error
	// DeleteByTransactionID removes one challenge. Called when a poll has
	// delivered an answered outcome so the transaction id is single use.
	DeleteByTransactionID(ctx context.Context, transactionID string) error
	// DeleteBySerial removes all challenges of a token, used on token deletion.
	DeleteBySerial(ctx context.Context, serial string) error
}

// NewTransactionID returns a fresh unguessable transaction id.
func NewTransactionID() (string, error) {
	b := make([]byte, 10)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
