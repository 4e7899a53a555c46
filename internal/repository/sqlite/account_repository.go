package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"identity-gateway/internal/domain"
	"identity-gateway/internal/repository"
)

const createAccountsTable = `
CREATE TABLE IF NOT EXISTS accounts (
	id TEXT PRIMARY KEY,
	username TEXT NOT NULL UNIQUE,
	email TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	role TEXT NOT NULL,
	enabled INTEGER NOT NULL DEFAULT 1,
	account_non_expired INTEGER NOT NULL DEFAULT 1,
	account_non_locked INTEGER NOT NULL DEFAULT 1,
	credentials_non_expired INTEGER NOT NULL DEFAULT 1,
	disabled_until DATETIME,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_accounts_disabled ON accounts(enabled, disabled_until);
`

const accountColumns = `id, username, email, password_hash, role, enabled, account_non_expired,
	account_non_locked, credentials_non_expired, disabled_until, created_at, updated_at`

type AccountRepository struct {
	db *sql.DB
}

func NewAccountRepository(db *sql.DB) repository.AccountRepository {
	return &AccountRepository{db: db}
}

func (r *AccountRepository) Init(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createAccountsTable); err != nil {
		return fmt.Errorf("create accounts table: %w", err)
	}
	return nil
}

func (r *AccountRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id.String())
	return scanAccount(row)
}

func (r *AccountRepository) FindByUsername(ctx context.Context, username string) (*domain.Account, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE username = ?`, username)
	return scanAccount(row)
}

func (r *AccountRepository) FindByEmail(ctx context.Context, email string) (*domain.Account, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE email = ?`, email)
	return scanAccount(row)
}

func (r *AccountRepository) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	return r.exists(ctx, `SELECT EXISTS(SELECT 1 FROM accounts WHERE username = ?)`, username)
}

func (r *AccountRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	return r.exists(ctx, `SELECT EXISTS(SELECT 1 FROM accounts WHERE email = ?)`, email)
}

func (r *AccountRepository) exists(ctx context.Context, query string, arg any) (bool, error) {
	var found int
	if err := r.db.QueryRowContext(ctx, query, arg).Scan(&found); err != nil {
		return false, fmt.Errorf("query account existence: %w", err)
	}
	return found == 1, nil
}

func (r *AccountRepository) Save(ctx context.Context, account *domain.Account) error {
	now := time.Now().UTC()
	if account.CreatedAt.IsZero() {
		account.CreatedAt = now
	}
	account.UpdatedAt = now

	var disabledUntil any
	if account.DisabledUntil != nil {
		disabledUntil = account.DisabledUntil.UTC()
	}

	_, err := r.db.ExecContext(ctx, `
INSERT INTO accounts (`+accountColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	username = excluded.username,
	email = excluded.email,
	password_hash = excluded.password_hash,
	role = excluded.role,
	enabled = excluded.enabled,
	account_non_expired = excluded.account_non_expired,
	account_non_locked = excluded.account_non_locked,
	credentials_non_expired = excluded.credentials_non_expired,
	disabled_until = excluded.disabled_until,
	updated_at = excluded.updated_at`,
		account.ID.String(),
		account.Username,
		account.Email,
		account.PasswordHash,
		string(account.Role),
		account.Enabled,
		account.AccountNonExpired,
		account.AccountNonLocked,
		account.CredentialsNonExpired,
		disabledUntil,
		account.CreatedAt.UTC(),
		account.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("save account: %w", repository.ErrDuplicate)
		}
		return fmt.Errorf("save account: %w", err)
	}
	return nil
}

func (r *AccountRepository) ListTimedOut(ctx context.Context) ([]domain.Account, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT `+accountColumns+`
FROM accounts
WHERE enabled = 0 AND disabled_until IS NOT NULL
ORDER BY disabled_until ASC`)
	if err != nil {
		return nil, fmt.Errorf("query timed out accounts: %w", err)
	}
	defer rows.Close()

	var accounts []domain.Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		if account.IsBannedIndefinitely() {
			continue
		}
		accounts = append(accounts, *account)
	}
	return accounts, rows.Err()
}

func scanAccount(row interface {
	Scan(dest ...any) error
}) (*domain.Account, error) {
	var (
		account       domain.Account
		id            string
		role          string
		disabledUntil sql.NullTime
	)
	if err := row.Scan(
		&id,
		&account.Username,
		&account.Email,
		&account.PasswordHash,
		&role,
		&account.Enabled,
		&account.AccountNonExpired,
		&account.AccountNonLocked,
		&account.CredentialsNonExpired,
		&disabledUntil,
		&account.CreatedAt,
		&account.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("account: %w", repository.ErrNotFound)
		}
		return nil, fmt.Errorf("scan account: %w", err)
	}

	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("parse account id %q: %w", id, err)
	}
	account.ID = parsed
	account.Role = domain.Role(role)
	if disabledUntil.Valid {
		t := disabledUntil.Time.UTC()
		account.DisabledUntil = &t
	}
	return &account, nil
}
