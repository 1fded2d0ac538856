package repository

import (
	"context"

	"credential-server/backend/internal/token/domain"
)

// Repository defines persistence for token records including their token-info
// mapping. Get methods return nil (not an error) when no record matches.
type Repository interface {
	GetBySerial(ctx context.Context, serial string) (*domain.Token, error)
	// GetByOwner returns active-or-not tokens bound to the given user and realm.
	GetByOwner(ctx context.Context, user, realm string) ([]*domain.Token, error)
	Create(ctx context.Context, t *domain.Token) error
	// Update persists the mutable fields and replaces the token-info mapping.
	Update(ctx context.Context, t *domain.Token) error
	// CompleteEnrollment atomically transitions the token from clientwait to
	// enrolled, activates it, stores the secret, and replaces token-info.
	// Returns false when the token was not in clientwait (e.g. a concurrent
	// completion won); in that case nothing is written.
	CompleteEnrollment(ctx context.Context, t *domain.Token) (bool, error)
	Delete(ctx context.Context, serial string) error
}
