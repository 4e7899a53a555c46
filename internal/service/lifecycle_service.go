package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"identity-gateway/internal/domain"
	"identity-gateway/internal/repository"
	"identity-gateway/internal/scheduler"
)

// TimeUnit is the unit of a timeout duration.
type TimeUnit string

const (
	UnitSeconds TimeUnit = "SECONDS"
	UnitMinutes TimeUnit = "MINUTES"
	UnitHours   TimeUnit = "HOURS"
	UnitDays    TimeUnit = "DAYS"
)

// ParseTimeUnit accepts plural or singular unit names in any case.
func ParseTimeUnit(s string) (TimeUnit, bool) {
	u := strings.ToUpper(strings.TrimSpace(s))
	if u != "" && !strings.HasSuffix(u, "S") {
		u += "S"
	}
	switch TimeUnit(u) {
	case UnitSeconds, UnitMinutes, UnitHours, UnitDays:
		return TimeUnit(u), true
	default:
		return "", false
	}
}

func (u TimeUnit) step() time.Duration {
	switch u {
	case UnitSeconds:
		return time.Second
	case UnitMinutes:
		return time.Minute
	case UnitHours:
		return time.Hour
	case UnitDays:
		return 24 * time.Hour
	default:
		return 0
	}
}

// maxTimeout keeps now+d well clear of the indefinite ban marker and of Duration overflow.
const maxTimeout = 100 * 365 * 24 * time.Hour

// Duration converts amount units into a time.Duration.
func (u TimeUnit) Duration(amount int64) (time.Duration, error) {
	step := u.step()
	if step == 0 {
		return 0, fmt.Errorf("%w: unknown time unit %q", ErrInvalidTimeout, u)
	}
	if amount <= 0 {
		return 0, fmt.Errorf("%w: duration must be positive", ErrInvalidTimeout)
	}
	if amount > int64(maxTimeout/step) {
		return 0, fmt.Errorf("%w: duration exceeds %s", ErrInvalidTimeout, maxTimeout)
	}
	return time.Duration(amount) * step, nil
}

// LifecycleService changes role and enablement of accounts on behalf of administrators.
type LifecycleService interface {
	Promote(ctx context.Context, actor string, id uuid.UUID) (string, error)
	Demote(ctx context.Context, actor string, id uuid.UUID) (string, error)
	Ban(ctx context.Context, actor string, id uuid.UUID) (string, error)
	Unban(ctx context.Context, actor string, id uuid.UUID) (string, error)
	// Timeout disables the account and schedules its re-enable after amount units.
	Timeout(ctx context.Context, actor string, id uuid.UUID, amount int64, unit TimeUnit) (string, error)
	// DefaultTimeout returns the amount and unit applied when a request omits them.
	DefaultTimeout() (int64, TimeUnit)
	// Reenable restores an account timed out until deadline. It is a no-op
	// when the account is enabled or disabled with another deadline.
	Reenable(ctx context.Context, id uuid.UUID, deadline time.Time) (bool, error)
	// ReenableExpired re-enables every timed out account whose deadline has passed.
	ReenableExpired(ctx context.Context) (int, error)
	// Resume schedules re-enables for timeouts that are still running.
	Resume(ctx context.Context) (int, error)
}

// LifecycleObserver is notified of every lifecycle operation result.
type LifecycleObserver interface {
	LifecycleOperation(operation, result string)
}

// LifecycleOption customizes the lifecycle service.
type LifecycleOption func(*lifecycleService)

// WithLifecycleClock injects a custom clock.
func WithLifecycleClock(clock func() time.Time) LifecycleOption {
	return func(s *lifecycleService) {
		if clock != nil {
			s.now = clock
		}
	}
}

func WithLifecycleLogger(logger *logrus.Logger) LifecycleOption {
	return func(s *lifecycleService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithLifecycleObserver(observer LifecycleObserver) LifecycleOption {
	return func(s *lifecycleService) {
		s.observer = observer
	}
}

// WithDefaultTimeout sets the timeout used when a request does not specify one.
// Invalid values are ignored.
func WithDefaultTimeout(amount int64, unit TimeUnit) LifecycleOption {
	return func(s *lifecycleService) {
		if _, err := unit.Duration(amount); err == nil {
			s.defaultAmount = amount
			s.defaultUnit = unit
		}
	}
}

type lifecycleService struct {
	accounts  repository.AccountRepository
	audit     AuditService
	locks     *AccountLocks
	scheduler scheduler.Scheduler

	now           func() time.Time
	logger        *logrus.Logger
	observer      LifecycleObserver
	defaultAmount int64
	defaultUnit   TimeUnit
}

func NewLifecycleService(accounts repository.AccountRepository, audit AuditService, locks *AccountLocks, sched scheduler.Scheduler, opts ...LifecycleOption) LifecycleService {
	s := &lifecycleService{
		accounts:      accounts,
		audit:         audit,
		locks:         locks,
		scheduler:     sched,
		now:           time.Now,
		logger:        logrus.StandardLogger(),
		defaultAmount: 5,
		defaultUnit:   UnitMinutes,
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

func (s *lifecycleService) DefaultTimeout() (int64, TimeUnit) {
	return s.defaultAmount, s.defaultUnit
}

// mutation applies an operation to a loaded account and reports the audited field change.
type mutation func(account *domain.Account, now time.Time) (field domain.UserField, previous, updated string, err error)

func (s *lifecycleService) apply(ctx context.Context, actor string, id uuid.UUID, reason Reason, mutate mutation) (*domain.Account, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	account, err := s.accounts.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, &AccountNotFoundError{ID: id, Reason: reason}
		}
		return nil, fmt.Errorf("load account %s: %w", id, err)
	}

	now := s.now()
	field, previous, updated, err := mutate(account, now)
	if err != nil {
		return nil, err
	}

	if err := s.accounts.Save(ctx, account); err != nil {
		return nil, fmt.Errorf("%s account %s: %w", reason, id, err)
	}
	if _, err := s.audit.RecordChange(ctx, account, field, &previous, &updated, actor, now); err != nil {
		return nil, err
	}
	return account, nil
}

func (s *lifecycleService) finish(reason Reason, id uuid.UUID, actor string, err error) {
	result := "ok"
	entry := s.logger.WithFields(logrus.Fields{
		"account_id": id,
		"operation":  reason,
		"actor":      actor,
	})
	var notFound *AccountNotFoundError
	var conflict *AccountCannotBeModifiedError
	switch {
	case err == nil:
		entry.Info("account lifecycle operation applied")
	case errors.As(err, &notFound):
		result = "not_found"
		entry.Debug(err.Error())
	case errors.As(err, &conflict):
		result = "conflict"
		entry.Debug(err.Error())
	case errors.Is(err, ErrInvalidTimeout):
		result = "invalid"
		entry.Debug(err.Error())
	default:
		result = "error"
		entry.Errorf("account lifecycle operation failed: %v", err)
	}
	if s.observer != nil {
		s.observer.LifecycleOperation(string(reason), result)
	}
}

func (s *lifecycleService) Promote(ctx context.Context, actor string, id uuid.UUID) (msg string, err error) {
	defer func() { s.finish(ReasonPromote, id, actor, err) }()

	account, err := s.apply(ctx, actor, id, ReasonPromote, func(a *domain.Account, _ time.Time) (domain.UserField, string, string, error) {
		if a.Role != domain.RoleUser {
			return "", "", "", cannotModify(a.ID, ReasonPromote, "only %s accounts can be promoted, account has role %s", domain.RoleUser, a.Role)
		}
		a.Role = domain.RoleOperator
		return domain.FieldRole, string(domain.RoleUser), string(domain.RoleOperator), nil
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Account %s has been promoted to %s", account.Username, account.Role), nil
}

func (s *lifecycleService) Demote(ctx context.Context, actor string, id uuid.UUID) (msg string, err error) {
	defer func() { s.finish(ReasonDemote, id, actor, err) }()

	account, err := s.apply(ctx, actor, id, ReasonDemote, func(a *domain.Account, _ time.Time) (domain.UserField, string, string, error) {
		if a.Role != domain.RoleOperator {
			return "", "", "", cannotModify(a.ID, ReasonDemote, "only %s accounts can be demoted, account has role %s", domain.RoleOperator, a.Role)
		}
		a.Role = domain.RoleUser
		return domain.FieldRole, string(domain.RoleOperator), string(domain.RoleUser), nil
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Account %s has been demoted to %s", account.Username, account.Role), nil
}

func (s *lifecycleService) Ban(ctx context.Context, actor string, id uuid.UUID) (msg string, err error) {
	defer func() { s.finish(ReasonBan, id, actor, err) }()

	account, err := s.apply(ctx, actor, id, ReasonBan, func(a *domain.Account, _ time.Time) (domain.UserField, string, string, error) {
		if err := disablePrecondition(a, ReasonBan); err != nil {
			return "", "", "", err
		}
		until := domain.IndefiniteDisable
		a.Enabled = false
		a.DisabledUntil = &until
		return domain.FieldEnabled, "true", "false", nil
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Account %s has been banned", account.Username), nil
}

func (s *lifecycleService) Unban(ctx context.Context, actor string, id uuid.UUID) (msg string, err error) {
	defer func() { s.finish(ReasonUnban, id, actor, err) }()

	account, err := s.apply(ctx, actor, id, ReasonUnban, func(a *domain.Account, _ time.Time) (domain.UserField, string, string, error) {
		if a.Enabled {
			return "", "", "", cannotModify(a.ID, ReasonUnban, "account is not banned")
		}
		a.Enabled = true
		a.DisabledUntil = nil
		return domain.FieldEnabled, "false", "true", nil
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Account %s has been unbanned", account.Username), nil
}

func (s *lifecycleService) Timeout(ctx context.Context, actor string, id uuid.UUID, amount int64, unit TimeUnit) (msg string, err error) {
	defer func() { s.finish(ReasonTimeout, id, actor, err) }()

	d, err := unit.Duration(amount)
	if err != nil {
		return "", err
	}

	var until time.Time
	account, err := s.apply(ctx, actor, id, ReasonTimeout, func(a *domain.Account, now time.Time) (domain.UserField, string, string, error) {
		if err := disablePrecondition(a, ReasonTimeout); err != nil {
			return "", "", "", err
		}
		until = now.Add(d).UTC().Truncate(time.Millisecond)
		a.Enabled = false
		a.DisabledUntil = &until
		return domain.FieldEnabled, "true", "false", nil
	})
	if err != nil {
		return "", err
	}

	s.scheduleReenable(account.ID, until)
	return fmt.Sprintf("Account %s has been timed out for %d %s", account.Username, amount, strings.ToLower(string(unit))), nil
}

func disablePrecondition(a *domain.Account, reason Reason) error {
	if a.Role == domain.RoleAdmin {
		return cannotModify(a.ID, reason, "%s accounts cannot be disabled", domain.RoleAdmin)
	}
	if !a.Enabled {
		return cannotModify(a.ID, reason, "account is already disabled")
	}
	return nil
}

func (s *lifecycleService) scheduleReenable(id uuid.UUID, deadline time.Time) {
	if s.scheduler == nil {
		s.logger.WithField("account_id", id).Warn("no scheduler configured, re-enable left to the sweeper")
		return
	}
	delay := deadline.Sub(s.now())
	s.scheduler.Schedule(id, delay, func(ctx context.Context) error {
		_, err := s.Reenable(ctx, id, deadline)
		return err
	})
}

func (s *lifecycleService) Reenable(ctx context.Context, id uuid.UUID, deadline time.Time) (bool, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	logger := s.logger.WithField("account_id", id)

	account, err := s.accounts.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			logger.Warn("timed out account no longer exists")
			return false, nil
		}
		return false, fmt.Errorf("load account %s: %w", id, err)
	}
	if account.Enabled || account.DisabledUntil == nil || !account.DisabledUntil.Equal(deadline) {
		logger.Debug("re-enable skipped, account state changed since timeout")
		return false, nil
	}

	account.Enabled = true
	account.DisabledUntil = nil
	if err := s.accounts.Save(ctx, account); err != nil {
		return false, fmt.Errorf("%s account %s: %w", ReasonReenable, id, err)
	}

	previous, updated := "false", "true"
	if _, err := s.audit.RecordChange(ctx, account, domain.FieldEnabled, &previous, &updated, domain.SystemActor, s.now()); err != nil {
		return false, err
	}

	logger.Info("account re-enabled after timeout")
	if s.observer != nil {
		s.observer.LifecycleOperation(string(ReasonReenable), "ok")
	}
	return true, nil
}

func (s *lifecycleService) ReenableExpired(ctx context.Context) (int, error) {
	accounts, err := s.accounts.ListTimedOut(ctx)
	if err != nil {
		return 0, err
	}

	now := s.now()
	count := 0
	for _, account := range accounts {
		if account.DisabledUntil.After(now) {
			continue
		}
		ok, err := s.Reenable(ctx, account.ID, *account.DisabledUntil)
		if err != nil {
			return count, err
		}
		if ok {
			count++
		}
	}
	return count, nil
}

func (s *lifecycleService) Resume(ctx context.Context) (int, error) {
	accounts, err := s.accounts.ListTimedOut(ctx)
	if err != nil {
		return 0, err
	}
	for _, account := range accounts {
		s.scheduleReenable(account.ID, *account.DisabledUntil)
	}
	if len(accounts) > 0 {
		s.logger.Infof("resumed %d pending account timeouts", len(accounts))
	}
	return len(accounts), nil
}
