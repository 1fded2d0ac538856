package repository

import (
	"context"

	"credential-server/backend/internal/gateway/domain"
)

// Repository defines persistence for push gateway configurations.
type Repository interface {
	// GetByName returns the gateway for name, or nil if not found.
	GetByName(ctx context.Context, name string) (*domain.Gateway, error)
	Create(ctx context.Context, g *domain.Gateway) error
	Delete(ctx context.Context, name string) error
}
