package service

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"identity-gateway/internal/auth"
	"identity-gateway/internal/domain"
	"identity-gateway/internal/repository"
	"identity-gateway/internal/repository/sqlite"
	"identity-gateway/internal/scheduler"
	"identity-gateway/internal/storage"
)

var fixedNow = time.Date(2026, time.October, 15, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	accounts repository.AccountRepository
	changes  repository.UserChangeRepository
	audit    AuditService
	locks    *AccountLocks
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	accounts := sqlite.NewAccountRepository(db)
	require.NoError(t, accounts.Init(ctx))
	changes := sqlite.NewUserChangeRepository(db)
	require.NoError(t, changes.Init(ctx))

	return &testEnv{
		accounts: accounts,
		changes:  changes,
		audit:    NewAuditService(accounts, changes, nil, ArchiveOptions{}, nil),
		locks:    NewAccountLocks(),
	}
}

func (e *testEnv) createAccount(t *testing.T, username string, role domain.Role) *domain.Account {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.MinCost)
	require.NoError(t, err)
	account := domain.NewAccount(username, username+"@example.com", string(hash))
	account.Role = role
	require.NoError(t, e.accounts.Save(context.Background(), account))
	return account
}

func (e *testEnv) reload(t *testing.T, id uuid.UUID) *domain.Account {
	t.Helper()
	account, err := e.accounts.FindByID(context.Background(), id)
	require.NoError(t, err)
	return account
}

func (e *testEnv) history(t *testing.T, id uuid.UUID) []domain.UserChange {
	t.Helper()
	changes, err := e.changes.ListByAccount(context.Background(), id)
	require.NoError(t, err)
	return changes
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestCodec(t *testing.T) *auth.TokenCodec {
	t.Helper()
	codec, err := auth.NewTokenCodec(auth.TokenConfig{
		Secret: []byte("0123456789abcdef0123456789abcdef"),
		TTL:    time.Hour,
	})
	require.NoError(t, err)
	return codec
}

type scheduledTask struct {
	accountID uuid.UUID
	delay     time.Duration
	task      scheduler.Task
}

// recordingScheduler keeps tasks until the test runs them.
type recordingScheduler struct {
	mu    sync.Mutex
	tasks []scheduledTask
}

func (s *recordingScheduler) Start(context.Context) error { return nil }
func (s *recordingScheduler) Shutdown() {}

func (s *recordingScheduler) Schedule(accountID uuid.UUID, delay time.Duration, task scheduler.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, scheduledTask{accountID: accountID, delay: delay, task: task})
}

func (s *recordingScheduler) scheduled() []scheduledTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]scheduledTask(nil), s.tasks...)
}

type fakeStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	err     error
}

func (f *fakeStore) PutObject(_ context.Context, body io.Reader, opts storage.PutOptions) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.objects == nil {
		f.objects = map[string][]byte{}
	}
	f.objects[opts.Key] = data
	return "s3://" + opts.Bucket + "/" + opts.Key, nil
}

func (f *fakeStore) ListObjects(_ context.Context, _ string, prefix string) ([]storage.ObjectInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []storage.ObjectInfo
	for key, data := range f.objects {
		if strings.HasPrefix(key, prefix) {
			out = append(out, storage.ObjectInfo{Key: key, Size: int64(len(data))})
		}
	}
	return out, nil
}

func strPtr(s string) *string { return &s }
