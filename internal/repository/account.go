package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"identity-gateway/internal/domain"
)

var (
	// ErrNotFound is returned by lookups that match no row.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when a write violates a uniqueness constraint.
	ErrDuplicate = errors.New("duplicate record")
)

// AccountRepository exposes persistence operations for Account records.
type AccountRepository interface {
	Init(ctx context.Context) error
	FindByID(ctx context.Context, id uuid.UUID) (*domain.Account, error)
	FindByUsername(ctx context.Context, username string) (*domain.Account, error)
	FindByEmail(ctx context.Context, email string) (*domain.Account, error)
	ExistsByUsername(ctx context.Context, username string) (bool, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	// Save inserts the account or updates the row with the same ID.
	Save(ctx context.Context, account *domain.Account) error
	// ListTimedOut returns disabled accounts carrying a finite DisabledUntil deadline.
	ListTimedOut(ctx context.Context) ([]domain.Account, error)
}
