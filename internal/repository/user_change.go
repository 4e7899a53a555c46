package repository

import (
	"context"

	"github.com/google/uuid"

	"identity-gateway/internal/domain"
)

// UserChangeRepository is the append-only store behind the audit trail.
type UserChangeRepository interface {
	Init(ctx context.Context) error
	Create(ctx context.Context, change *domain.UserChange) (int64, error)
	Get(ctx context.Context, id int64) (*domain.UserChange, error)
	List(ctx context.Context) ([]domain.UserChange, error)
	ListByAccount(ctx context.Context, accountID uuid.UUID) ([]domain.UserChange, error)
}
