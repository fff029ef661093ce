// Package authcache answers "which accounts and repositories may this user
// act on" from a fast cache, a durable mirror on the user record, or, when
// neither has an answer yet, by reporting that synchronization is underway.
package authcache

import (
	"context"

	"github.com/platinummonkey/warden/pkg/auth"
)

// Repositories lists repository ids by privilege. Read and Admin are
// disjoint; an id in Admin grants full access.
type Repositories struct {
	Read  []string `json:"read"`
	Admin []string `json:"admin"`
}

// Account is one organizational account the user can reach
type Account struct {
	Login               string        `json:"login"`
	Provider            auth.Provider `json:"provider"`
	AllowedRepositories Repositories  `json:"allowedRepositories"`
	AvatarURL           string        `json:"avatarUrl,omitempty"`
	URL                 string        `json:"url,omitempty"`
}

// AllowedAccounts maps account id to the user's access on that account
type AllowedAccounts map[string]Account

// LookupState says which tier answered a lookup
type LookupState int

const (
	// StateHit means the fast cache answered
	StateHit LookupState = iota
	// StateHitFromStore means the durable mirror answered and the cache was backfilled
	StateHitFromStore
	// StateSynchronizing means no tier had an answer. It is not "zero access".
	StateSynchronizing
)

func (s LookupState) String() string {
	switch s {
	case StateHit:
		return "hit"
	case StateHitFromStore:
		return "hit_from_store"
	case StateSynchronizing:
		return "synchronizing"
	}
	return "unknown"
}

// LookupResult is the outcome of Lookup
type LookupResult struct {
	AllowedAccounts AllowedAccounts
	State           LookupState
}

// IsSynchronizing reports whether the caller should retry shortly
func (r LookupResult) IsSynchronizing() bool {
	return r.State == StateSynchronizing
}

// AccountAccess is the result of CheckAccountAccess
type AccountAccess struct {
	AccountID           string
	AllowedRepositories Repositories
	// Repositories is the union of Read and Admin, read ids first
	Repositories []string
}

// Synchronizer computes ground truth from the live providers
type Synchronizer interface {
	ComputeAllowedAccounts(ctx context.Context, user *auth.RequestUser) (AllowedAccounts, error)
}

// SynchronizerFunc adapts a function to Synchronizer
type SynchronizerFunc func(ctx context.Context, user *auth.RequestUser) (AllowedAccounts, error)

// ComputeAllowedAccounts implements Synchronizer
func (f SynchronizerFunc) ComputeAllowedAccounts(ctx context.Context, user *auth.RequestUser) (AllowedAccounts, error) {
	return f(ctx, user)
}

// normalize makes Read and Admin disjoint and free of duplicates. Admin wins
// when an id appears in both.
func (a AllowedAccounts) normalize() AllowedAccounts {
	out := make(AllowedAccounts, len(a))
	for id, acct := range a {
		admin := dedupe(acct.AllowedRepositories.Admin, nil)
		adminSet := make(map[string]struct{}, len(admin))
		for _, repo := range admin {
			adminSet[repo] = struct{}{}
		}
		acct.AllowedRepositories = Repositories{
			Read:  dedupe(acct.AllowedRepositories.Read, adminSet),
			Admin: admin,
		}
		out[id] = acct
	}
	return out
}

// dedupe keeps nil as nil so a renewed entry reads back exactly as computed
func dedupe(ids []string, exclude map[string]struct{}) []string {
	if ids == nil {
		return nil
	}
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, skip := exclude[id]; skip {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
