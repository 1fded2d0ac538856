package repository

import (
	"context"

	"credential-server/backend/internal/audit/domain"
)

// Repository defines persistence for audit logs.
type Repository interface {
	Create(ctx context.Context, a *domain.AuditLog) error
	// ListBySerial returns events for one token, newest first.
	ListBySerial(ctx context.Context, serial string, limit, offset int32) ([]*domain.AuditLog, error)
}
