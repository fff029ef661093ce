// Package userstest provides an in-memory auth.UserStore for tests.
package userstest

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/platinummonkey/warden/pkg/auth"
)

// Memory is a concurrency-safe auth.UserStore backed by a map. Err, when
// set, is returned by every call.
type Memory struct {
	mu    sync.Mutex
	users map[uuid.UUID]*auth.User
	Err   error
}

// NewMemory creates a store seeded with users
func NewMemory(users ...*auth.User) *Memory {
	m := &Memory{users: make(map[uuid.UUID]*auth.User)}
	for _, u := range users {
		cp := *u
		m.users[u.ID] = &cp
	}
	return m
}

// Get returns a copy of the stored user, or nil
func (m *Memory) Get(id uuid.UUID) *auth.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		cp := *u
		return &cp
	}
	return nil
}

// Len returns the number of stored users
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.users)
}

func (m *Memory) FindByProviderID(_ context.Context, provider auth.Provider, externalID string) (*auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	for _, u := range m.users {
		if u.Provider == provider && u.ProviderInternalID == externalID {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *Memory) FindByID(_ context.Context, id uuid.UUID) (*auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	if u, ok := m.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, nil
}

func (m *Memory) Create(_ context.Context, user *auth.User) (*auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	cp := *user
	m.users[user.ID] = &cp
	out := cp
	return &out, nil
}

func (m *Memory) Update(_ context.Context, id uuid.UUID, patch auth.UserPatch) (*auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	u, ok := m.users[id]
	if !ok {
		return nil, auth.NotFound(auth.ErrNotFound, "user not found")
	}
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	set(&u.Login, patch.Login)
	set(&u.Name, patch.Name)
	set(&u.Email, patch.Email)
	set(&u.AvatarURL, patch.AvatarURL)
	set(&u.AccessToken, patch.AccessToken)
	set(&u.AccessTokenSecret, patch.AccessTokenSecret)
	set(&u.RefreshToken, patch.RefreshToken)
	if patch.AllowedAccounts != nil {
		u.AllowedAccounts = *patch.AllowedAccounts
	}
	if patch.LastLoginAt != nil {
		t := *patch.LastLoginAt
		u.LastLoginAt = &t
	}
	cp := *u
	return &cp, nil
}
