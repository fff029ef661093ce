package sso

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/warden/pkg/auth"
)

// ProviderConfig is an enterprise IdP configuration owned by an account
type ProviderConfig struct {
	ID             uuid.UUID `json:"id"`
	AccountID      string    `json:"account_id"`
	Enabled        bool      `json:"enabled"`
	EntityID       string    `json:"entity_id"`   // IdP issuer
	SSOURL         string    `json:"sso_url"`     // IdP redirect binding endpoint
	Certificate    string    `json:"certificate"` // PEM encoded signing certificate
	Audience       string    `json:"audience,omitempty"`
	EmailAttribute string    `json:"email_attribute,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Account is an organizational account that owns IdP configurations
type Account struct {
	ID        string        `json:"id"`
	Provider  auth.Provider `json:"provider"`
	Login     string        `json:"login"`
	CreatedAt time.Time     `json:"created_at"`
}

// SAMLIdentity records an assertion subject. LinkedUserID stays nil until
// the identity is linked to a git-provider user.
type SAMLIdentity struct {
	ID               uuid.UUID  `json:"id"`
	ProviderConfigID uuid.UUID  `json:"provider_config_id"`
	ExternalID       string     `json:"external_id"` // assertion NameID
	Email            string     `json:"email,omitempty"`
	LinkedUserID     *uuid.UUID `json:"linked_user_id,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Linked reports whether the identity is linked to a git user
func (i *SAMLIdentity) Linked() bool {
	return i.LinkedUserID != nil
}

// IdentityPatch is a partial update of a SAMLIdentity. Unlink clears the
// link and wins over LinkedUserID.
type IdentityPatch struct {
	Email        *string
	LinkedUserID *uuid.UUID
	Unlink       bool
}

// Assertion is the validated content of a SAML response
type Assertion struct {
	NameID       string
	Email        string
	SessionIndex string
	Attributes   map[string]string
}

// Registry persists IdP configurations, their owning accounts and the SAML
// identities seen for them. Find methods return (nil, nil) on a miss.
type Registry interface {
	FindProviderConfig(ctx context.Context, id uuid.UUID) (*ProviderConfig, error)
	FindAccount(ctx context.Context, id string) (*Account, error)
	FindIdentity(ctx context.Context, providerConfigID uuid.UUID, externalID string) (*SAMLIdentity, error)
	FindIdentityByID(ctx context.Context, id uuid.UUID) (*SAMLIdentity, error)
	CreateIdentity(ctx context.Context, identity *SAMLIdentity) (*SAMLIdentity, error)
	UpdateIdentity(ctx context.Context, id uuid.UUID, patch IdentityPatch) (*SAMLIdentity, error)
}
