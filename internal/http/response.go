package http

import (
	"time"

	"identity-gateway/internal/domain"
	"identity-gateway/internal/service"
	"identity-gateway/internal/storage"
)

type AccountResponse struct {
	ID            string   `json:"id"`
	Username      string   `json:"username"`
	Email         string   `json:"email"`
	Role          string   `json:"role"`
	Authorities   []string `json:"authorities"`
	Enabled       bool     `json:"enabled"`
	DisabledUntil *string  `json:"disabled_until,omitempty"`
	CreatedAt     string   `json:"created_at"`
	UpdatedAt     string   `json:"updated_at"`
}

type AuthResponse struct {
	Token     string          `json:"token"`
	ExpiresAt string          `json:"expires_at"`
	Account   AccountResponse `json:"account"`
}

type UserChangeResponse struct {
	ID            int64   `json:"id"`
	AccountID     string  `json:"account_id"`
	Field         string  `json:"field"`
	PreviousValue *string `json:"previous_value"`
	UpdatedValue  *string `json:"updated_value"`
	CreatedAt     string  `json:"created_at"`
	ChangedBy     string  `json:"changed_by"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

type ArchiveResponse struct {
	Location string `json:"location"`
}

type StorageObjectResponse struct {
	Key          string  `json:"key"`
	Size         int64   `json:"size"`
	LastModified *string `json:"last_modified,omitempty"`
}

func accountToResponse(account *domain.Account) AccountResponse {
	resp := AccountResponse{
		ID:          account.ID.String(),
		Username:    account.Username,
		Email:       account.Email,
		Role:        string(account.Role),
		Authorities: account.Role.Authorities(),
		Enabled:     account.Enabled,
		CreatedAt:   account.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   account.UpdatedAt.Format(time.RFC3339),
	}
	if account.DisabledUntil != nil {
		v := account.DisabledUntil.Format(time.RFC3339)
		resp.DisabledUntil = &v
	}
	return resp
}

func authToResponse(res *service.AuthResult) AuthResponse {
	return AuthResponse{
		Token:     res.Token,
		ExpiresAt: res.ExpiresAt.Format(time.RFC3339),
		Account:   accountToResponse(res.Account),
	}
}

func changeToResponse(change domain.UserChange) UserChangeResponse {
	return UserChangeResponse{
		ID:            change.ID,
		AccountID:     change.AccountID.String(),
		Field:         string(change.Field),
		PreviousValue: change.PreviousValue,
		UpdatedValue:  change.UpdatedValue,
		CreatedAt:     change.CreatedAt.Format(time.RFC3339),
		ChangedBy:     change.ChangedBy,
	}
}

func changesToResponse(changes []domain.UserChange) []UserChangeResponse {
	resp := make([]UserChangeResponse, len(changes))
	for i := range changes {
		resp[i] = changeToResponse(changes[i])
	}
	return resp
}

func objectToResponse(obj storage.ObjectInfo) StorageObjectResponse {
	resp := StorageObjectResponse{
		Key:  obj.Key,
		Size: obj.Size,
	}
	if obj.LastModified != nil && !obj.LastModified.IsZero() {
		v := obj.LastModified.Format(time.RFC3339)
		resp.LastModified = &v
	}
	return resp
}
