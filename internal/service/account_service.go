package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"identity-gateway/internal/auth"
	"identity-gateway/internal/domain"
	"identity-gateway/internal/repository"
)

const minPasswordLength = 8

// AuthResult is returned by operations that issue a token.
type AuthResult struct {
	Account   *domain.Account
	Token     string
	ExpiresAt time.Time
}

// AccountService covers signup, login and self-service changes of the caller's own account.
type AccountService interface {
	Signup(ctx context.Context, username, email, password string) (*AuthResult, error)
	Login(ctx context.Context, username, password string) (*AuthResult, error)
	Get(ctx context.Context, id uuid.UUID) (*domain.Account, error)
	// ChangeUsername renames the account and returns a token for the new subject.
	ChangeUsername(ctx context.Context, id uuid.UUID, username string) (*AuthResult, error)
	ChangeEmail(ctx context.Context, id uuid.UUID, email string) (*domain.Account, error)
	ChangePassword(ctx context.Context, id uuid.UUID, current, password string) error
}

type AccountOption func(*accountService)

func WithBcryptCost(cost int) AccountOption {
	return func(s *accountService) {
		if cost >= bcrypt.MinCost && cost <= bcrypt.MaxCost {
			s.bcryptCost = cost
		}
	}
}

func WithAccountClock(clock func() time.Time) AccountOption {
	return func(s *accountService) {
		if clock != nil {
			s.now = clock
		}
	}
}

type accountService struct {
	accounts   repository.AccountRepository
	audit      AuditService
	codec      *auth.TokenCodec
	locks      *AccountLocks
	bcryptCost int
	now        func() time.Time
}

func NewAccountService(accounts repository.AccountRepository, audit AuditService, codec *auth.TokenCodec, locks *AccountLocks, opts ...AccountOption) AccountService {
	s := &accountService{
		accounts:   accounts,
		audit:      audit,
		codec:      codec,
		locks:      locks,
		bcryptCost: bcrypt.DefaultCost,
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.locks == nil {
		s.locks = NewAccountLocks()
	}
	return s
}

func (s *accountService) Signup(ctx context.Context, username, email, password string) (*AuthResult, error) {
	username = strings.TrimSpace(username)
	email = strings.TrimSpace(email)

	if err := validateUsername(username); err != nil {
		return nil, err
	}
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if err := validatePassword(password); err != nil {
		return nil, err
	}

	if taken, err := s.accounts.ExistsByUsername(ctx, username); err != nil {
		return nil, err
	} else if taken {
		return nil, ErrUsernameTaken
	}
	if taken, err := s.accounts.ExistsByEmail(ctx, email); err != nil {
		return nil, err
	} else if taken {
		return nil, ErrEmailTaken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	account := domain.NewAccount(username, email, string(hash))
	if err := s.accounts.Save(ctx, account); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrUsernameTaken
		}
		return nil, err
	}

	return s.issue(account)
}

func (s *accountService) Login(ctx context.Context, username, password string) (*AuthResult, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	account, err := s.accounts.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	return s.issue(account)
}

func (s *accountService) Get(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	account, err := s.accounts.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, &AccountNotFoundError{ID: id, Reason: ReasonLookup}
		}
		return nil, err
	}
	return sanitizeAccount(account), nil
}

func (s *accountService) ChangeUsername(ctx context.Context, id uuid.UUID, username string) (*AuthResult, error) {
	username = strings.TrimSpace(username)
	if err := validateUsername(username); err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	account, err := s.load(ctx, id, ReasonChangeUsername)
	if err != nil {
		return nil, err
	}
	if account.Username == username {
		return nil, cannotModify(id, ReasonChangeUsername, "username is unchanged")
	}
	if taken, err := s.accounts.ExistsByUsername(ctx, username); err != nil {
		return nil, err
	} else if taken {
		return nil, ErrUsernameTaken
	}

	previous := account.Username
	account.Username = username
	if err := s.save(ctx, account, ErrUsernameTaken); err != nil {
		return nil, err
	}
	if _, err := s.audit.RecordChange(ctx, account, domain.FieldUsername, &previous, &username, account.ID.String(), s.now()); err != nil {
		return nil, err
	}

	return s.issue(account)
}

func (s *accountService) ChangeEmail(ctx context.Context, id uuid.UUID, email string) (*domain.Account, error) {
	email = strings.TrimSpace(email)
	if err := validateEmail(email); err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	account, err := s.load(ctx, id, ReasonChangeEmail)
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(account.Email, email) {
		return nil, cannotModify(id, ReasonChangeEmail, "email is unchanged")
	}
	if taken, err := s.accounts.ExistsByEmail(ctx, email); err != nil {
		return nil, err
	} else if taken {
		return nil, ErrEmailTaken
	}

	previous := account.Email
	account.Email = email
	if err := s.save(ctx, account, ErrEmailTaken); err != nil {
		return nil, err
	}
	if _, err := s.audit.RecordChange(ctx, account, domain.FieldEmail, &previous, &email, account.ID.String(), s.now()); err != nil {
		return nil, err
	}
	return sanitizeAccount(account), nil
}

func (s *accountService) ChangePassword(ctx context.Context, id uuid.UUID, current, password string) error {
	if err := validatePassword(password); err != nil {
		return err
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	account, err := s.load(ctx, id, ReasonChangePassword)
	if err != nil {
		return err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(current)); err != nil {
		return ErrInvalidCredentials
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	account.PasswordHash = string(hash)
	if err := s.save(ctx, account, nil); err != nil {
		return err
	}
	_, err = s.audit.RecordChange(ctx, account, domain.FieldPassword, nil, nil, account.ID.String(), s.now())
	return err
}

func (s *accountService) load(ctx context.Context, id uuid.UUID, reason Reason) (*domain.Account, error) {
	account, err := s.accounts.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, &AccountNotFoundError{ID: id, Reason: reason}
		}
		return nil, fmt.Errorf("load account %s: %w", id, err)
	}
	return account, nil
}

func (s *accountService) save(ctx context.Context, account *domain.Account, onDuplicate error) error {
	if err := s.accounts.Save(ctx, account); err != nil {
		if onDuplicate != nil && errors.Is(err, repository.ErrDuplicate) {
			return onDuplicate
		}
		return err
	}
	return nil
}

func (s *accountService) issue(account *domain.Account) (*AuthResult, error) {
	now := s.now()
	token, err := s.codec.Issue(account.Username, map[string]any{"role": string(account.Role)}, now)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	expiresAt, err := s.codec.ExtractExpiry(token)
	if err != nil {
		return nil, fmt.Errorf("read token expiry: %w", err)
	}
	return &AuthResult{
		Account:   sanitizeAccount(account),
		Token:     token,
		ExpiresAt: expiresAt.UTC(),
	}, nil
}

func validateUsername(username string) error {
	if username == "" {
		return fmt.Errorf("%w: username is required", ErrInvalidInput)
	}
	if len(username) > 64 {
		return fmt.Errorf("%w: username must be at most 64 characters", ErrInvalidInput)
	}
	return nil
}

func validateEmail(email string) error {
	if email == "" {
		return fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return fmt.Errorf("%w: email is not a valid address", ErrInvalidInput)
	}
	return nil
}

func validatePassword(password string) error {
	if strings.TrimSpace(password) == "" {
		return fmt.Errorf("%w: password is required", ErrInvalidInput)
	}
	if len(password) < minPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLength)
	}
	return nil
}

func sanitizeAccount(account *domain.Account) *domain.Account {
	if account == nil {
		return nil
	}
	clone := *account
	clone.PasswordHash = ""
	if account.DisabledUntil != nil {
		until := *account.DisabledUntil
		clone.DisabledUntil = &until
	}
	return &clone
}
