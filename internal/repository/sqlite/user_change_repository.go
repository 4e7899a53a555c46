package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"identity-gateway/internal/domain"
	"identity-gateway/internal/repository"
)

const createUserChangesTable = `
CREATE TABLE IF NOT EXISTS user_changes (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	account_id TEXT NOT NULL,
	field TEXT NOT NULL,
	previous_value TEXT,
	updated_value TEXT,
	created_at DATETIME NOT NULL,
	changed_by TEXT NOT NULL,
	FOREIGN KEY(account_id) REFERENCES accounts(id)
);
CREATE INDEX IF NOT EXISTS idx_user_changes_account_id ON user_changes(account_id);
`

const userChangeColumns = `id, account_id, field, previous_value, updated_value, created_at, changed_by`

type UserChangeRepository struct {
	db *sql.DB
}

func NewUserChangeRepository(db *sql.DB) repository.UserChangeRepository {
	return &UserChangeRepository{db: db}
}

func (r *UserChangeRepository) Init(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createUserChangesTable); err != nil {
		return fmt.Errorf("create user_changes table: %w", err)
	}
	return nil
}

func (r *UserChangeRepository) Create(ctx context.Context, change *domain.UserChange) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
INSERT INTO user_changes (account_id, field, previous_value, updated_value, created_at, changed_by)
VALUES (?, ?, ?, ?, ?, ?)`,
		change.AccountID.String(),
		string(change.Field),
		nullableString(change.PreviousValue),
		nullableString(change.UpdatedValue),
		change.CreatedAt.UTC(),
		change.ChangedBy,
	)
	if err != nil {
		return 0, fmt.Errorf("insert user change: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("user change last insert id: %w", err)
	}
	change.ID = id
	return id, nil
}

func (r *UserChangeRepository) Get(ctx context.Context, id int64) (*domain.UserChange, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userChangeColumns+` FROM user_changes WHERE id = ?`, id)
	change, err := scanUserChange(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user change %d: %w", id, repository.ErrNotFound)
		}
		return nil, err
	}
	return change, nil
}

func (r *UserChangeRepository) List(ctx context.Context) ([]domain.UserChange, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+userChangeColumns+` FROM user_changes ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query user changes: %w", err)
	}
	return collectUserChanges(rows)
}

func (r *UserChangeRepository) ListByAccount(ctx context.Context, accountID uuid.UUID) ([]domain.UserChange, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT `+userChangeColumns+`
FROM user_changes
WHERE account_id = ?
ORDER BY id ASC`, accountID.String())
	if err != nil {
		return nil, fmt.Errorf("query account user changes: %w", err)
	}
	return collectUserChanges(rows)
}

func collectUserChanges(rows *sql.Rows) ([]domain.UserChange, error) {
	defer rows.Close()

	changes := []domain.UserChange{}
	for rows.Next() {
		change, err := scanUserChange(rows)
		if err != nil {
			return nil, err
		}
		changes = append(changes, *change)
	}
	return changes, rows.Err()
}

func scanUserChange(row interface {
	Scan(dest ...any) error
}) (*domain.UserChange, error) {
	var (
		change    domain.UserChange
		accountID string
		field     string
		previous  sql.NullString
		updated   sql.NullString
	)
	if err := row.Scan(&change.ID, &accountID, &field, &previous, &updated, &change.CreatedAt, &change.ChangedBy); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan user change: %w", err)
	}

	parsed, err := uuid.Parse(accountID)
	if err != nil {
		return nil, fmt.Errorf("parse user change account id %q: %w", accountID, err)
	}
	change.AccountID = parsed
	change.Field = domain.UserField(field)
	if previous.Valid {
		change.PreviousValue = &previous.String
	}
	if updated.Valid {
		change.UpdatedValue = &updated.String
	}
	return &change, nil
}

func nullableString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
