package sso

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/platinummonkey/warden/pkg/auth"
)

// memRegistry is an in-memory Registry
type memRegistry struct {
	mu         sync.Mutex
	configs    map[uuid.UUID]*ProviderConfig
	accounts   map[string]*Account
	identities map[uuid.UUID]*SAMLIdentity
}

func newMemRegistry() *memRegistry {
	return &memRegistry{
		configs:    make(map[uuid.UUID]*ProviderConfig),
		accounts:   make(map[string]*Account),
		identities: make(map[uuid.UUID]*SAMLIdentity),
	}
}

func (r *memRegistry) FindProviderConfig(_ context.Context, id uuid.UUID) (*ProviderConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cfg, ok := r.configs[id]
	if !ok {
		return nil, nil
	}
	cp := *cfg
	return &cp, nil
}

func (r *memRegistry) FindAccount(_ context.Context, id string) (*Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	acct, ok := r.accounts[id]
	if !ok {
		return nil, nil
	}
	cp := *acct
	return &cp, nil
}

func (r *memRegistry) FindIdentity(_ context.Context, providerConfigID uuid.UUID, externalID string) (*SAMLIdentity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, identity := range r.identities {
		if identity.ProviderConfigID == providerConfigID && identity.ExternalID == externalID {
			cp := *identity
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *memRegistry) FindIdentityByID(_ context.Context, id uuid.UUID) (*SAMLIdentity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	identity, ok := r.identities[id]
	if !ok {
		return nil, nil
	}
	cp := *identity
	return &cp, nil
}

func (r *memRegistry) CreateIdentity(_ context.Context, identity *SAMLIdentity) (*SAMLIdentity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *identity
	if cp.ID == uuid.Nil {
		cp.ID = uuid.New()
	}
	cp.CreatedAt, cp.UpdatedAt = time.Now(), time.Now()
	r.identities[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (r *memRegistry) UpdateIdentity(_ context.Context, id uuid.UUID, patch IdentityPatch) (*SAMLIdentity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	identity, ok := r.identities[id]
	if !ok {
		return nil, auth.NotFound(auth.ErrNotFound, "saml identity not found")
	}
	if patch.Email != nil {
		identity.Email = *patch.Email
	}
	switch {
	case patch.Unlink:
		identity.LinkedUserID = nil
	case patch.LinkedUserID != nil:
		linked := *patch.LinkedUserID
		identity.LinkedUserID = &linked
	}
	identity.UpdatedAt = time.Now()
	out := *identity
	return &out, nil
}

// identity returns the stored identity, or nil
func (r *memRegistry) identity(id uuid.UUID) *SAMLIdentity {
	out, _ := r.FindIdentityByID(context.Background(), id)
	return out
}

func (r *memRegistry) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.identities)
}

// stubValidator returns a fixed assertion
type stubValidator struct {
	assertion *Assertion
	err       error
}

func (v *stubValidator) Validate(_ context.Context, _ *ProviderConfig, encoded string) (*Assertion, error) {
	if v.err != nil {
		return nil, v.err
	}
	cp := *v.assertion
	return &cp, nil
}

func (v *stubValidator) AuthURL(cfg *ProviderConfig, relayState string) (string, error) {
	return cfg.SSOURL + "?RelayState=" + relayState, nil
}

// fakeCredentials records the tokens it was asked about
type fakeCredentials struct {
	mu           sync.Mutex
	valid        bool
	validErr     error
	refreshed    *oauth2.Token
	refreshErr   error
	checked      []string
	refreshCalls []string
}

func (c *fakeCredentials) IsValid(_ context.Context, _ auth.Provider, accessToken, _, _ string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checked = append(c.checked, accessToken)
	return c.valid, c.validErr
}

func (c *fakeCredentials) Refresh(_ context.Context, _ auth.Provider, refreshToken string) (*oauth2.Token, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refreshCalls = append(c.refreshCalls, refreshToken)
	if c.refreshErr != nil {
		return nil, c.refreshErr
	}
	return c.refreshed, nil
}
