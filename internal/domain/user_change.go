package domain

import (
	"time"

	"github.com/google/uuid"
)

// UserField names an account attribute tracked by the audit trail.
type UserField string

const (
	FieldUsername UserField = "USERNAME"
	FieldEmail    UserField = "EMAIL"
	FieldPassword UserField = "PASSWORD"
	FieldRole     UserField = "ROLE"
	FieldEnabled  UserField = "ENABLED"
)

// IsCredential reports whether values of the field must never be captured.
func (f UserField) IsCredential() bool {
	return f == FieldPassword
}

// IsValid checks if the field is one of the tracked fields.
func (f UserField) IsValid() bool {
	switch f {
	case FieldUsername, FieldEmail, FieldPassword, FieldRole, FieldEnabled:
		return true
	default:
		return false
	}
}

// SystemActor identifies changes made by background jobs rather than a user.
const SystemActor = "system"

// UserChange is one immutable field mutation recorded against an account.
type UserChange struct {
	ID            int64
	AccountID     uuid.UUID
	Field         UserField
	PreviousValue *string
	UpdatedValue  *string
	CreatedAt     time.Time
	ChangedBy     string
}
