package service

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrInvalidCredentials indicates that provided login credentials are incorrect.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUsernameTaken is returned when the requested username belongs to another account.
	ErrUsernameTaken = errors.New("username already taken")
	// ErrEmailTaken is returned when the requested email belongs to another account.
	ErrEmailTaken = errors.New("email already taken")
	// ErrInvalidInput wraps request validation failures.
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvalidTimeout is returned for non-positive durations or unknown time units.
	ErrInvalidTimeout = errors.New("invalid timeout")
	// ErrArchiveDisabled is returned when no object storage is configured for audit exports.
	ErrArchiveDisabled = errors.New("audit archive is not configured")
)

// Reason names the operation that was attempted when an account error occurred.
type Reason string

const (
	ReasonPromote        Reason = "promote"
	ReasonDemote         Reason = "demote"
	ReasonBan            Reason = "ban"
	ReasonUnban          Reason = "unban"
	ReasonTimeout        Reason = "timeout"
	ReasonReenable       Reason = "reenable"
	ReasonLookup         Reason = "lookup"
	ReasonAudit          Reason = "audit"
	ReasonChangeUsername Reason = "change_username"
	ReasonChangeEmail    Reason = "change_email"
	ReasonChangePassword Reason = "change_password"
)

// AccountNotFoundError is returned when the target account of an operation does not exist.
type AccountNotFoundError struct {
	ID     uuid.UUID
	Reason Reason
}

func (e *AccountNotFoundError) Error() string {
	return fmt.Sprintf("account %s not found (%s)", e.ID, e.Reason)
}

// AccountCannotBeModifiedError is returned when an operation's precondition does not hold.
type AccountCannotBeModifiedError struct {
	ID     uuid.UUID
	Reason Reason
	Detail string
}

func (e *AccountCannotBeModifiedError) Error() string {
	return fmt.Sprintf("account %s cannot be modified (%s): %s", e.ID, e.Reason, e.Detail)
}

// UserChangeNotFoundError is returned when no audit record has the requested id.
type UserChangeNotFoundError struct {
	ID int64
}

func (e *UserChangeNotFoundError) Error() string {
	return fmt.Sprintf("user change %d not found", e.ID)
}

func cannotModify(id uuid.UUID, reason Reason, format string, args ...any) error {
	return &AccountCannotBeModifiedError{ID: id, Reason: reason, Detail: fmt.Sprintf(format, args...)}
}
