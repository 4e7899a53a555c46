package domain

import (
	"time"

	"github.com/google/uuid"
)

// IndefiniteDisable marks an account banned with no scheduled re-enable.
var IndefiniteDisable = time.Date(9999, time.December, 31, 23, 59, 59, 0, time.UTC)

// Account is the persisted identity record of a user of the gateway.
type Account struct {
	ID                    uuid.UUID
	Username              string
	Email                 string
	PasswordHash          string
	Role                  Role
	Enabled               bool
	AccountNonExpired     bool
	AccountNonLocked      bool
	CredentialsNonExpired bool
	DisabledUntil         *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// NewAccount returns an enabled USER account with a fresh identifier.
func NewAccount(username, email, passwordHash string) *Account {
	return &Account{
		ID:                    uuid.New(),
		Username:              username,
		Email:                 email,
		PasswordHash:          passwordHash,
		Role:                  RoleUser,
		Enabled:               true,
		AccountNonExpired:     true,
		AccountNonLocked:      true,
		CredentialsNonExpired: true,
	}
}

// IsBannedIndefinitely reports whether the account carries the indefinite ban marker.
func (a *Account) IsBannedIndefinitely() bool {
	return !a.Enabled && a.DisabledUntil != nil && a.DisabledUntil.Equal(IndefiniteDisable)
}

// Principal is the authenticated view of an account attached to a single request.
type Principal struct {
	ID                    uuid.UUID
	Username              string
	Role                  Role
	Authorities           []string
	Enabled               bool
	AccountNonExpired     bool
	AccountNonLocked      bool
	CredentialsNonExpired bool
}

// NewPrincipal snapshots the account; the password hash is not carried over.
func NewPrincipal(a *Account) *Principal {
	return &Principal{
		ID:                    a.ID,
		Username:              a.Username,
		Role:                  a.Role,
		Authorities:           a.Role.Authorities(),
		Enabled:               a.Enabled,
		AccountNonExpired:     a.AccountNonExpired,
		AccountNonLocked:      a.AccountNonLocked,
		CredentialsNonExpired: a.CredentialsNonExpired,
	}
}

// HasAnyAuthority reports whether the principal holds at least one of the given authorities.
func (p *Principal) HasAnyAuthority(required ...string) bool {
	for _, want := range required {
		for _, have := range p.Authorities {
			if have == want {
				return true
			}
		}
	}
	return false
}

// HasAllAuthorities reports whether the principal holds every given authority.
func (p *Principal) HasAllAuthorities(required ...string) bool {
	for _, want := range required {
		if !p.HasAnyAuthority(want) {
			return false
		}
	}
	return true
}
