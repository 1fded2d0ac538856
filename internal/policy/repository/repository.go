package repository

import (
	"context"

	"credential-server/backend/internal/policy/domain"
)

// Repository defines persistence for policy records.
type Repository interface {
	// GetEnabledByScope returns all enabled policies of the given scope.
	GetEnabledByScope(ctx context.Context, scope string) ([]*domain.Policy, error)
	Create(ctx context.Context, p *domain.Policy) error
	Delete(ctx context.Context, name string) error
}
