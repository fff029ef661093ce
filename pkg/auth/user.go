package auth

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// User is the durable record of a git-provider user. Token fields hold
// TokenCipher ciphertext, never plaintext.
type User struct {
	ID                 uuid.UUID      `json:"id"`
	Provider           Provider       `json:"provider"`
	ProviderInternalID string         `json:"provider_internal_id"`
	Login              string         `json:"login"`
	Name               string         `json:"name,omitempty"`
	Email              string         `json:"email,omitempty"`
	AvatarURL          string         `json:"avatar_url,omitempty"`
	AccessToken        string         `json:"-"`
	AccessTokenSecret  string         `json:"-"`
	RefreshToken       string         `json:"-"`
	AllowedAccounts    sql.NullString `json:"-"` // serialized authorization mirror
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
	LastLoginAt        *time.Time     `json:"last_login_at,omitempty"`
}

// UserPatch is a partial update. Nil fields are left untouched; a non-nil
// AllowedAccounts with Valid=false clears the mirror.
type UserPatch struct {
	Login             *string
	Name              *string
	Email             *string
	AvatarURL         *string
	AccessToken       *string
	AccessTokenSecret *string
	RefreshToken      *string
	AllowedAccounts   *sql.NullString
	LastLoginAt       *time.Time
}

// UserStore persists git-provider users. Find methods return (nil, nil) when
// no record matches.
type UserStore interface {
	FindByProviderID(ctx context.Context, provider Provider, externalID string) (*User, error)
	FindByID(ctx context.Context, id uuid.UUID) (*User, error)
	Create(ctx context.Context, user *User) (*User, error)
	Update(ctx context.Context, id uuid.UUID, patch UserPatch) (*User, error)
}

// StringPtr is a helper for building patches.
func StringPtr(s string) *string {
	return &s
}
