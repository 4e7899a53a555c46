package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"identity-gateway/internal/domain"
	"identity-gateway/internal/scheduler"
)

const adminActor = "3f1c2d40-0000-4000-8000-000000000001"

func newLifecycle(env *testEnv, sched scheduler.Scheduler, now func() time.Time) LifecycleService {
	return NewLifecycleService(env.accounts, env.audit, env.locks, sched,
		WithLifecycleClock(now),
		WithLifecycleLogger(quietLogger()),
	)
}

func fixedClock() time.Time { return fixedNow }

func TestParseTimeUnit(t *testing.T) {
	cases := map[string]TimeUnit{
		"SECONDS": UnitSeconds,
		"second":  UnitSeconds,
		"Minutes": UnitMinutes,
		"hour":    UnitHours,
		" days ":  UnitDays,
		"DAY":     UnitDays,
	}
	for in, want := range cases {
		got, ok := ParseTimeUnit(in)
		require.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}

	for _, in := range []string{"", "weeks", "s", "MILLISECONDS"} {
		_, ok := ParseTimeUnit(in)
		assert.False(t, ok, in)
	}
}

func TestTimeUnitDuration(t *testing.T) {
	d, err := UnitDays.Duration(2)
	require.NoError(t, err)
	assert.Equal(t, 48*time.Hour, d)

	_, err = UnitSeconds.Duration(0)
	assert.ErrorIs(t, err, ErrInvalidTimeout)
	_, err = UnitMinutes.Duration(-5)
	assert.ErrorIs(t, err, ErrInvalidTimeout)
	_, err = TimeUnit("WEEKS").Duration(1)
	assert.ErrorIs(t, err, ErrInvalidTimeout)
	_, err = UnitDays.Duration(1 << 40)
	assert.ErrorIs(t, err, ErrInvalidTimeout)
}

func TestPromote(t *testing.T) {
	env := newTestEnv(t)
	svc := newLifecycle(env, &recordingScheduler{}, fixedClock)
	account := env.createAccount(t, "alice", domain.RoleUser)

	msg, err := svc.Promote(context.Background(), adminActor, account.ID)
	require.NoError(t, err)
	assert.Contains(t, msg, "alice")
	assert.Equal(t, domain.RoleOperator, env.reload(t, account.ID).Role)

	history := env.history(t, account.ID)
	require.Len(t, history, 1)
	assert.Equal(t, domain.FieldRole, history[0].Field)
	assert.Equal(t, "USER", *history[0].PreviousValue)
	assert.Equal(t, "OPERATOR", *history[0].UpdatedValue)
	assert.Equal(t, adminActor, history[0].ChangedBy)
	assert.True(t, history[0].CreatedAt.Equal(fixedNow))
}

func TestPromote_RejectsNonUserRoles(t *testing.T) {
	env := newTestEnv(t)
	svc := newLifecycle(env, &recordingScheduler{}, fixedClock)

	for _, role := range []domain.Role{domain.RoleOperator, domain.RoleAdmin} {
		account := env.createAccount(t, "acct-"+string(role), role)

		_, err := svc.Promote(context.Background(), adminActor, account.ID)
		var conflict *AccountCannotBeModifiedError
		require.ErrorAs(t, err, &conflict)
		assert.Equal(t, ReasonPromote, conflict.Reason)
		assert.Equal(t, role, env.reload(t, account.ID).Role)
		assert.Empty(t, env.history(t, account.ID))
	}
}

func TestDemote(t *testing.T) {
	env := newTestEnv(t)
	svc := newLifecycle(env, &recordingScheduler{}, fixedClock)
	operator := env.createAccount(t, "op", domain.RoleOperator)
	user := env.createAccount(t, "user", domain.RoleUser)

	_, err := svc.Demote(context.Background(), adminActor, operator.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleUser, env.reload(t, operator.ID).Role)
	history := env.history(t, operator.ID)
	require.Len(t, history, 1)
	assert.Equal(t, "OPERATOR", *history[0].PreviousValue)
	assert.Equal(t, "USER", *history[0].UpdatedValue)

	_, err = svc.Demote(context.Background(), adminActor, user.ID)
	var conflict *AccountCannotBeModifiedError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, ReasonDemote, conflict.Reason)
}

func TestOperations_UnknownAccount(t *testing.T) {
	env := newTestEnv(t)
	svc := newLifecycle(env, &recordingScheduler{}, fixedClock)
	id := uuid.New()
	ctx := context.Background()

	ops := map[Reason]func() error{
		ReasonPromote: func() error { _, err := svc.Promote(ctx, adminActor, id); return err },
		ReasonDemote:  func() error { _, err := svc.Demote(ctx, adminActor, id); return err },
		ReasonBan:     func() error { _, err := svc.Ban(ctx, adminActor, id); return err },
		ReasonUnban:   func() error { _, err := svc.Unban(ctx, adminActor, id); return err },
		ReasonTimeout: func() error { _, err := svc.Timeout(ctx, adminActor, id, 1, UnitMinutes); return err },
	}
	for reason, op := range ops {
		var notFound *AccountNotFoundError
		require.ErrorAs(t, op(), &notFound, string(reason))
		assert.Equal(t, reason, notFound.Reason)
		assert.Equal(t, id, notFound.ID)
	}
}

func TestBan(t *testing.T) {
	env := newTestEnv(t)
	sched := &recordingScheduler{}
	svc := newLifecycle(env, sched, fixedClock)
	account := env.createAccount(t, "bob", domain.RoleUser)

	_, err := svc.Ban(context.Background(), adminActor, account.ID)
	require.NoError(t, err)

	stored := env.reload(t, account.ID)
	assert.False(t, stored.Enabled)
	require.NotNil(t, stored.DisabledUntil)
	assert.True(t, stored.DisabledUntil.Equal(domain.IndefiniteDisable))
	assert.True(t, stored.IsBannedIndefinitely())
	assert.Empty(t, sched.scheduled())

	history := env.history(t, account.ID)
	require.Len(t, history, 1)
	assert.Equal(t, domain.FieldEnabled, history[0].Field)
	assert.Equal(t, "true", *history[0].PreviousValue)
	assert.Equal(t, "false", *history[0].UpdatedValue)

	_, err = svc.Ban(context.Background(), adminActor, account.ID)
	var conflict *AccountCannotBeModifiedError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, ReasonBan, conflict.Reason)
	assert.Len(t, env.history(t, account.ID), 1)
}

func TestBan_AdminAlwaysFails(t *testing.T) {
	env := newTestEnv(t)
	svc := newLifecycle(env, &recordingScheduler{}, fixedClock)
	admin := env.createAccount(t, "root", domain.RoleAdmin)

	_, err := svc.Ban(context.Background(), adminActor, admin.ID)
	var conflict *AccountCannotBeModifiedError
	require.ErrorAs(t, err, &conflict)

	admin.Enabled = false
	require.NoError(t, env.accounts.Save(context.Background(), admin))
	_, err = svc.Ban(context.Background(), adminActor, admin.ID)
	require.ErrorAs(t, err, &conflict)

	_, err = svc.Timeout(context.Background(), adminActor, admin.ID, 1, UnitMinutes)
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, ReasonTimeout, conflict.Reason)
	assert.Empty(t, env.history(t, admin.ID))
}

func TestUnban(t *testing.T) {
	env := newTestEnv(t)
	svc := newLifecycle(env, &recordingScheduler{}, fixedClock)
	account := env.createAccount(t, "carol", domain.RoleUser)
	ctx := context.Background()

	_, err := svc.Unban(ctx, adminActor, account.ID)
	var conflict *AccountCannotBeModifiedError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, ReasonUnban, conflict.Reason)

	_, err = svc.Ban(ctx, adminActor, account.ID)
	require.NoError(t, err)
	_, err = svc.Unban(ctx, adminActor, account.ID)
	require.NoError(t, err)

	stored := env.reload(t, account.ID)
	assert.True(t, stored.Enabled)
	assert.Nil(t, stored.DisabledUntil)

	_, err = svc.Unban(ctx, adminActor, account.ID)
	require.ErrorAs(t, err, &conflict)

	history := env.history(t, account.ID)
	require.Len(t, history, 2)
	assert.Equal(t, "false", *history[1].PreviousValue)
	assert.Equal(t, "true", *history[1].UpdatedValue)
}

func TestTimeout_SchedulesReenableAtDeadline(t *testing.T) {
	env := newTestEnv(t)
	sched := &recordingScheduler{}
	svc := newLifecycle(env, sched, fixedClock)
	account := env.createAccount(t, "dave", domain.RoleOperator)
	ctx := context.Background()

	msg, err := svc.Timeout(ctx, adminActor, account.ID, 10, UnitMinutes)
	require.NoError(t, err)
	assert.Contains(t, msg, "10 minutes")

	stored := env.reload(t, account.ID)
	assert.False(t, stored.Enabled)
	require.NotNil(t, stored.DisabledUntil)
	assert.True(t, stored.DisabledUntil.Equal(fixedNow.Add(10*time.Minute)))

	tasks := sched.scheduled()
	require.Len(t, tasks, 1)
	assert.Equal(t, account.ID, tasks[0].accountID)
	assert.Equal(t, 10*time.Minute, tasks[0].delay)

	require.NoError(t, tasks[0].task(ctx))
	stored = env.reload(t, account.ID)
	assert.True(t, stored.Enabled)
	assert.Nil(t, stored.DisabledUntil)

	history := env.history(t, account.ID)
	require.Len(t, history, 2)
	assert.Equal(t, domain.SystemActor, history[1].ChangedBy)
	assert.Equal(t, "true", *history[1].UpdatedValue)
}

func TestTimeout_InvalidInput(t *testing.T) {
	env := newTestEnv(t)
	sched := &recordingScheduler{}
	svc := newLifecycle(env, sched, fixedClock)
	account := env.createAccount(t, "erin", domain.RoleUser)

	_, err := svc.Timeout(context.Background(), adminActor, account.ID, 0, UnitSeconds)
	assert.ErrorIs(t, err, ErrInvalidTimeout)
	_, err = svc.Timeout(context.Background(), adminActor, account.ID, 3, TimeUnit("FORTNIGHTS"))
	assert.ErrorIs(t, err, ErrInvalidTimeout)

	assert.True(t, env.reload(t, account.ID).Enabled)
	assert.Empty(t, sched.scheduled())
}

func TestReenable_StaleTaskAfterUnbanIsNoop(t *testing.T) {
	env := newTestEnv(t)
	sched := &recordingScheduler{}
	svc := newLifecycle(env, sched, fixedClock)
	account := env.createAccount(t, "frank", domain.RoleUser)
	ctx := context.Background()

	_, err := svc.Timeout(ctx, adminActor, account.ID, 1, UnitHours)
	require.NoError(t, err)
	_, err = svc.Unban(ctx, adminActor, account.ID)
	require.NoError(t, err)
	_, err = svc.Ban(ctx, adminActor, account.ID)
	require.NoError(t, err)

	tasks := sched.scheduled()
	require.Len(t, tasks, 1)
	require.NoError(t, tasks[0].task(ctx))

	stored := env.reload(t, account.ID)
	assert.False(t, stored.Enabled)
	assert.True(t, stored.IsBannedIndefinitely())
	assert.Len(t, env.history(t, account.ID), 3)
}

func TestReenable_EnabledAccountIsNoop(t *testing.T) {
	env := newTestEnv(t)
	svc := newLifecycle(env, &recordingScheduler{}, fixedClock)
	account := env.createAccount(t, "gina", domain.RoleUser)

	ok, err := svc.Reenable(context.Background(), account.ID, fixedNow)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = svc.Reenable(context.Background(), uuid.New(), fixedNow)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, env.history(t, account.ID))
}

func TestReenableExpiredAndResume(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	now := fixedNow
	clock := func() time.Time { return now }

	sched := &recordingScheduler{}
	svc := newLifecycle(env, sched, clock)

	short := env.createAccount(t, "short", domain.RoleUser)
	long := env.createAccount(t, "long", domain.RoleUser)
	banned := env.createAccount(t, "banned", domain.RoleUser)

	_, err := svc.Timeout(ctx, adminActor, short.ID, 1, UnitMinutes)
	require.NoError(t, err)
	_, err = svc.Timeout(ctx, adminActor, long.ID, 1, UnitDays)
	require.NoError(t, err)
	_, err = svc.Ban(ctx, adminActor, banned.ID)
	require.NoError(t, err)

	restarted := &recordingScheduler{}
	resumed := newLifecycle(env, restarted, clock)
	n, err := resumed.Resume(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, restarted.scheduled(), 2)

	now = fixedNow.Add(2 * time.Minute)
	n, err = resumed.ReenableExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.True(t, env.reload(t, short.ID).Enabled)
	assert.False(t, env.reload(t, long.ID).Enabled)
	assert.False(t, env.reload(t, banned.ID).Enabled)
}

func TestTimeout_ReenabledByRunningScheduler(t *testing.T) {
	env := newTestEnv(t)
	sched := scheduler.New(scheduler.Config{Workers: 2, Logger: quietLogger()})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		sched.Shutdown()
	})
	require.NoError(t, sched.Start(ctx))

	svc := newLifecycle(env, sched, time.Now)
	account := env.createAccount(t, "henry", domain.RoleUser)

	_, err := svc.Timeout(context.Background(), adminActor, account.ID, 1, UnitSeconds)
	require.NoError(t, err)
	assert.False(t, env.reload(t, account.ID).Enabled)

	assert.Eventually(t, func() bool {
		stored, err := env.accounts.FindByID(context.Background(), account.ID)
		return err == nil && stored.Enabled && stored.DisabledUntil == nil
	}, 5*time.Second, 50*time.Millisecond)
}

func TestLifecycle_ConcurrentOperationsOnOneAccount(t *testing.T) {
	env := newTestEnv(t)
	svc := newLifecycle(env, &recordingScheduler{}, fixedClock)
	account := env.createAccount(t, "ivy", domain.RoleUser)

	const attempts = 8
	var wg sync.WaitGroup
	errs := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Promote(context.Background(), adminActor, account.ID)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		var conflict *AccountCannotBeModifiedError
		assert.True(t, errors.As(err, &conflict), err)
	}
	assert.Equal(t, 1, succeeded)
	assert.Len(t, env.history(t, account.ID), 1)
	assert.Equal(t, 0, env.locks.size())
}

type recordingObserver struct {
	mu    sync.Mutex
	calls []string
}

func (o *recordingObserver) LifecycleOperation(operation, result string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, operation+":"+result)
}

func TestLifecycle_ReportsResults(t *testing.T) {
	env := newTestEnv(t)
	observer := &recordingObserver{}
	svc := NewLifecycleService(env.accounts, env.audit, env.locks, &recordingScheduler{},
		WithLifecycleClock(fixedClock),
		WithLifecycleLogger(quietLogger()),
		WithLifecycleObserver(observer),
		WithDefaultTimeout(30, UnitSeconds),
	)
	account := env.createAccount(t, "jack", domain.RoleUser)
	ctx := context.Background()

	_, _ = svc.Promote(ctx, adminActor, account.ID)
	_, _ = svc.Promote(ctx, adminActor, account.ID)
	_, _ = svc.Ban(ctx, adminActor, uuid.New())

	assert.Equal(t, []string{"promote:ok", "promote:conflict", "ban:not_found"}, observer.calls)

	amount, unit := svc.DefaultTimeout()
	assert.Equal(t, int64(30), amount)
	assert.Equal(t, UnitSeconds, unit)
}
