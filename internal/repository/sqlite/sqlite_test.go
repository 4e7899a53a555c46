package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"identity-gateway/internal/domain"
	"identity-gateway/internal/repository"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newRepos(t *testing.T) (repository.AccountRepository, repository.UserChangeRepository) {
	t.Helper()
	db := openTestDB(t)
	ctx := context.Background()

	accounts := NewAccountRepository(db)
	require.NoError(t, accounts.Init(ctx))
	changes := NewUserChangeRepository(db)
	require.NoError(t, changes.Init(ctx))
	return accounts, changes
}

func TestAccountRepository_SaveAndFind(t *testing.T) {
	accounts, _ := newRepos(t)
	ctx := context.Background()

	acc := domain.NewAccount("alice", "alice@example.com", "hash")
	require.NoError(t, accounts.Save(ctx, acc))
	assert.False(t, acc.CreatedAt.IsZero())

	byID, err := accounts.FindByID(ctx, acc.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", byID.Username)
	assert.Equal(t, domain.RoleUser, byID.Role)
	assert.True(t, byID.Enabled)
	assert.Nil(t, byID.DisabledUntil)

	byName, err := accounts.FindByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, acc.ID, byName.ID)

	byEmail, err := accounts.FindByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, acc.ID, byEmail.ID)

	ok, err := accounts.ExistsByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = accounts.ExistsByEmail(ctx, "bob@example.com")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAccountRepository_SaveUpdatesExistingRow(t *testing.T) {
	accounts, _ := newRepos(t)
	ctx := context.Background()

	acc := domain.NewAccount("alice", "alice@example.com", "hash")
	require.NoError(t, accounts.Save(ctx, acc))

	until := time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)
	acc.Enabled = false
	acc.DisabledUntil = &until
	acc.Role = domain.RoleOperator
	require.NoError(t, accounts.Save(ctx, acc))

	got, err := accounts.FindByID(ctx, acc.ID)
	require.NoError(t, err)
	assert.False(t, got.Enabled)
	assert.Equal(t, domain.RoleOperator, got.Role)
	require.NotNil(t, got.DisabledUntil)
	assert.True(t, got.DisabledUntil.Equal(until))
}

func TestAccountRepository_NotFound(t *testing.T) {
	accounts, _ := newRepos(t)

	_, err := accounts.FindByID(context.Background(), uuid.New())
	require.ErrorIs(t, err, repository.ErrNotFound)

	_, err = accounts.FindByUsername(context.Background(), "ghost")
	require.ErrorIs(t, err, repository.ErrNotFound)
}

func TestAccountRepository_DuplicateUsername(t *testing.T) {
	accounts, _ := newRepos(t)
	ctx := context.Background()

	require.NoError(t, accounts.Save(ctx, domain.NewAccount("alice", "a@example.com", "h")))
	err := accounts.Save(ctx, domain.NewAccount("alice", "other@example.com", "h"))
	require.ErrorIs(t, err, repository.ErrDuplicate)
}

func TestAccountRepository_ListTimedOutSkipsBans(t *testing.T) {
	accounts, _ := newRepos(t)
	ctx := context.Background()

	timedOut := domain.NewAccount("t", "t@example.com", "h")
	until := time.Now().UTC().Add(time.Minute).Truncate(time.Second)
	timedOut.Enabled = false
	timedOut.DisabledUntil = &until
	require.NoError(t, accounts.Save(ctx, timedOut))

	banned := domain.NewAccount("b", "b@example.com", "h")
	indefinite := domain.IndefiniteDisable
	banned.Enabled = false
	banned.DisabledUntil = &indefinite
	require.NoError(t, accounts.Save(ctx, banned))

	require.NoError(t, accounts.Save(ctx, domain.NewAccount("ok", "ok@example.com", "h")))

	got, err := accounts.ListTimedOut(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, timedOut.ID, got[0].ID)
}

func TestUserChangeRepository_AppendAndQuery(t *testing.T) {
	accounts, changes := newRepos(t)
	ctx := context.Background()

	a := domain.NewAccount("alice", "alice@example.com", "h")
	b := domain.NewAccount("bob", "bob@example.com", "h")
	require.NoError(t, accounts.Save(ctx, a))
	require.NoError(t, accounts.Save(ctx, b))

	prev, next := "USER", "OPERATOR"
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	first := &domain.UserChange{AccountID: a.ID, Field: domain.FieldRole, PreviousValue: &prev, UpdatedValue: &next, CreatedAt: now, ChangedBy: "admin"}
	second := &domain.UserChange{AccountID: b.ID, Field: domain.FieldPassword, CreatedAt: now.Add(time.Second), ChangedBy: "bob"}
	third := &domain.UserChange{AccountID: a.ID, Field: domain.FieldEnabled, CreatedAt: now.Add(2 * time.Second), ChangedBy: "admin"}

	for _, c := range []*domain.UserChange{first, second, third} {
		_, err := changes.Create(ctx, c)
		require.NoError(t, err)
	}
	assert.Less(t, first.ID, second.ID)
	assert.Less(t, second.ID, third.ID)

	all, err := changes.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)

	forA, err := changes.ListByAccount(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, forA, 2)
	assert.Equal(t, first.ID, forA[0].ID)
	assert.Equal(t, third.ID, forA[1].ID)

	got, err := changes.Get(ctx, second.ID)
	require.NoError(t, err)
	assert.Nil(t, got.PreviousValue)
	assert.Nil(t, got.UpdatedValue)
	assert.Equal(t, "bob", got.ChangedBy)

	got, err = changes.Get(ctx, first.ID)
	require.NoError(t, err)
	require.NotNil(t, got.UpdatedValue)
	assert.Equal(t, "OPERATOR", *got.UpdatedValue)
	assert.True(t, got.CreatedAt.Equal(now))

	_, err = changes.Get(ctx, 999)
	require.ErrorIs(t, err, repository.ErrNotFound)
}

func TestAccountRepository_SaveWrapsDriverError(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO accounts`)).
		WillReturnError(errors.New("disk I/O error"))

	repo := NewAccountRepository(db)
	err = repo.Save(context.Background(), domain.NewAccount("alice", "a@example.com", "h"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, repository.ErrDuplicate)
	assert.Contains(t, err.Error(), "save account: disk I/O error")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAccountRepository_UniqueTextFromOtherDriverIsNotDuplicate(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO accounts`)).
		WillReturnError(errors.New("UNIQUE constraint failed: accounts.username"))

	repo := NewAccountRepository(db)
	err = repo.Save(context.Background(), domain.NewAccount("alice", "a@example.com", "h"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, repository.ErrDuplicate)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAccountRepository_ExistsWrapsDriverError(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT EXISTS`).WithArgs("alice").WillReturnError(errors.New("db down"))

	repo := NewAccountRepository(db)
	_, err = repo.ExistsByUsername(context.Background(), "alice")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
	require.NoError(t, mock.ExpectationsWereMet())
}
