package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"identity-gateway/internal/domain"
	"identity-gateway/internal/repository"
	"identity-gateway/internal/storage"
)

// AuditService records and queries the append-only history of account field changes.
type AuditService interface {
	RecordChange(ctx context.Context, account *domain.Account, field domain.UserField, previous, updated *string, actor string, now time.Time) (*domain.UserChange, error)
	GetAll(ctx context.Context) ([]domain.UserChange, error)
	GetByID(ctx context.Context, id int64) (*domain.UserChange, error)
	GetAllForAccount(ctx context.Context, accountID uuid.UUID) ([]domain.UserChange, error)
	// Export uploads the account history as JSON lines and returns the object location.
	Export(ctx context.Context, accountID uuid.UUID, now time.Time) (string, error)
	ListArchives(ctx context.Context, accountID uuid.UUID) ([]storage.ObjectInfo, error)
}

// AuditObserver is notified after each appended record.
type AuditObserver interface {
	AuditRecorded()
}

// ArchiveOptions locates audit exports in object storage. An empty bucket disables exports.
type ArchiveOptions struct {
	Bucket    string
	KeyPrefix string
}

type auditService struct {
	accounts repository.AccountRepository
	changes  repository.UserChangeRepository
	store    storage.Service
	archive  ArchiveOptions
	observer AuditObserver
}

func NewAuditService(accounts repository.AccountRepository, changes repository.UserChangeRepository, store storage.Service, archive ArchiveOptions, observer AuditObserver) AuditService {
	archive.Bucket = strings.TrimSpace(archive.Bucket)
	archive.KeyPrefix = strings.Trim(strings.TrimSpace(archive.KeyPrefix), "/")
	return &auditService{
		accounts: accounts,
		changes:  changes,
		store:    store,
		archive:  archive,
		observer: observer,
	}
}

func (s *auditService) RecordChange(ctx context.Context, account *domain.Account, field domain.UserField, previous, updated *string, actor string, now time.Time) (*domain.UserChange, error) {
	if account == nil {
		return nil, errors.New("account is required")
	}
	if !field.IsValid() {
		return nil, fmt.Errorf("%w: unknown field %q", ErrInvalidInput, field)
	}
	if actor == "" {
		actor = domain.SystemActor
	}
	if field.IsCredential() {
		previous, updated = nil, nil
	}

	change := &domain.UserChange{
		AccountID:     account.ID,
		Field:         field,
		PreviousValue: previous,
		UpdatedValue:  updated,
		CreatedAt:     now.UTC(),
		ChangedBy:     actor,
	}
	if _, err := s.changes.Create(ctx, change); err != nil {
		return nil, fmt.Errorf("record %s change: %w", field, err)
	}
	if s.observer != nil {
		s.observer.AuditRecorded()
	}
	return change, nil
}

func (s *auditService) GetAll(ctx context.Context) ([]domain.UserChange, error) {
	return s.changes.List(ctx)
}

func (s *auditService) GetByID(ctx context.Context, id int64) (*domain.UserChange, error) {
	change, err := s.changes.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, &UserChangeNotFoundError{ID: id}
		}
		return nil, err
	}
	return change, nil
}

func (s *auditService) GetAllForAccount(ctx context.Context, accountID uuid.UUID) ([]domain.UserChange, error) {
	if _, err := s.accounts.FindByID(ctx, accountID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, &AccountNotFoundError{ID: accountID, Reason: ReasonAudit}
		}
		return nil, err
	}
	return s.changes.ListByAccount(ctx, accountID)
}

type changeRecord struct {
	ID            int64     `json:"id"`
	AccountID     string    `json:"account_id"`
	Field         string    `json:"field"`
	PreviousValue *string   `json:"previous_value"`
	UpdatedValue  *string   `json:"updated_value"`
	CreatedAt     time.Time `json:"created_at"`
	ChangedBy     string    `json:"changed_by"`
}

func (s *auditService) Export(ctx context.Context, accountID uuid.UUID, now time.Time) (string, error) {
	if !s.archiveEnabled() {
		return "", ErrArchiveDisabled
	}

	changes, err := s.GetAllForAccount(ctx, accountID)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, c := range changes {
		if err := enc.Encode(changeRecord{
			ID:            c.ID,
			AccountID:     c.AccountID.String(),
			Field:         string(c.Field),
			PreviousValue: c.PreviousValue,
			UpdatedValue:  c.UpdatedValue,
			CreatedAt:     c.CreatedAt,
			ChangedBy:     c.ChangedBy,
		}); err != nil {
			return "", fmt.Errorf("encode change %d: %w", c.ID, err)
		}
	}

	key := path.Join(s.accountPrefix(accountID), now.UTC().Format("20060102T150405Z")+".jsonl")
	location, err := s.store.PutObject(ctx, &buf, storage.PutOptions{
		Bucket:      s.archive.Bucket,
		Key:         key,
		ContentType: "application/x-ndjson",
	})
	if err != nil {
		return "", fmt.Errorf("export account %s history: %w", accountID, err)
	}
	return location, nil
}

func (s *auditService) ListArchives(ctx context.Context, accountID uuid.UUID) ([]storage.ObjectInfo, error) {
	if !s.archiveEnabled() {
		return nil, ErrArchiveDisabled
	}
	if _, err := s.accounts.FindByID(ctx, accountID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, &AccountNotFoundError{ID: accountID, Reason: ReasonAudit}
		}
		return nil, err
	}
	return s.store.ListObjects(ctx, s.archive.Bucket, s.accountPrefix(accountID)+"/")
}

func (s *auditService) archiveEnabled() bool {
	return s.store != nil && s.archive.Bucket != ""
}

func (s *auditService) accountPrefix(accountID uuid.UUID) string {
	return path.Join(s.archive.KeyPrefix, accountID.String())
}
