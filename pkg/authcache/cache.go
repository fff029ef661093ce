package authcache

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/platinummonkey/warden/pkg/auth"
	"github.com/platinummonkey/warden/pkg/observability"
	"github.com/platinummonkey/warden/pkg/storage"
)

// DefaultTTL bounds how long a cached allowed-accounts entry lives
const DefaultTTL = time.Hour

// Config configures a Cache
type Config struct {
	TTL     time.Duration
	Logger  *observability.Logger
	Metrics *observability.Metrics
}

// Cache is the three-tier authorization cache. Renew is its only write path
// and always overwrites; concurrent renewals for one user are last-write-wins.
type Cache struct {
	fast    storage.Cache
	users   auth.UserStore
	sync    Synchronizer
	ttl     time.Duration
	logger  *observability.Logger
	metrics *observability.Metrics
	group   singleflight.Group
}

// New creates an authorization cache
func New(fast storage.Cache, users auth.UserStore, sync Synchronizer, cfg Config) *Cache {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Cache{
		fast:    fast,
		users:   users,
		sync:    sync,
		ttl:     ttl,
		logger:  logger,
		metrics: cfg.Metrics,
	}
}

// Key returns the fast-cache key for a user
func Key(provider auth.Provider, login string) string {
	return fmt.Sprintf("allowedAccounts_%s_%s_v2", provider, strings.ToLower(login))
}

// Renew recomputes the user's allowed accounts, writes them to the fast cache
// and mirrors them onto the user's durable record.
func (c *Cache) Renew(ctx context.Context, user *auth.RequestUser) (err error) {
	start := time.Now()
	defer func() { c.metrics.RecordAuthCacheRenewal(err, time.Since(start)) }()

	ctx, span := observability.StartSpan(ctx, "authcache.Renew")
	defer span.End()

	accounts, err := c.sync.ComputeAllowedAccounts(ctx, user)
	if err != nil {
		return fmt.Errorf("failed to compute allowed accounts: %w", err)
	}
	if accounts == nil {
		accounts = AllowedAccounts{}
	}

	data, err := json.Marshal(accounts.normalize())
	if err != nil {
		return fmt.Errorf("failed to marshal allowed accounts: %w", err)
	}

	key := Key(user.Provider, user.Login())
	if err := c.fast.Set(ctx, key, string(data), c.ttl); err != nil {
		return fmt.Errorf("failed to cache allowed accounts: %w", err)
	}

	record, err := c.users.FindByProviderID(ctx, user.Provider, user.ProviderInternalID)
	if err != nil {
		return fmt.Errorf("failed to load user record: %w", err)
	}
	if record == nil {
		return fmt.Errorf("no user record for %s/%s", user.Provider, user.ProviderInternalID)
	}
	mirror := sql.NullString{String: string(data), Valid: true}
	if _, err := c.users.Update(ctx, record.ID, auth.UserPatch{AllowedAccounts: &mirror}); err != nil {
		return fmt.Errorf("failed to mirror allowed accounts: %w", err)
	}

	c.logger.WithFields(map[string]interface{}{
		"provider": string(user.Provider),
		"login":    user.Login(),
		"accounts": len(accounts),
	}).Debug("allowed accounts renewed")
	return nil
}

// Lookup answers from the fast cache, then the durable mirror (backfilling
// the cache), and otherwise reports StateSynchronizing with an empty map.
func (c *Cache) Lookup(ctx context.Context, user *auth.RequestUser) (LookupResult, error) {
	key := Key(user.Provider, user.Login())
	logger := c.logger.WithField("key", key)

	if data, ok, err := c.fast.Get(ctx, key); err != nil {
		logger.WithError(err).Warn("fast cache read failed, falling back to user record")
	} else if ok {
		var accounts AllowedAccounts
		if err := json.Unmarshal([]byte(data), &accounts); err == nil {
			c.metrics.RecordAuthCacheLookup(StateHit.String())
			return LookupResult{AllowedAccounts: accounts, State: StateHit}, nil
		}
		logger.Warn("discarding corrupt cached allowed accounts")
		if err := c.fast.Del(ctx, key); err != nil {
			logger.WithError(err).Warn("failed to delete corrupt cache entry")
		}
	}

	// Collapsed callers share this load, so it must outlive the caller that started it
	loadCtx := context.WithoutCancel(ctx)
	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		return c.loadFromStore(loadCtx, user, key)
	})
	if err != nil {
		return LookupResult{}, err
	}
	if accounts, _ := v.(AllowedAccounts); accounts != nil {
		c.metrics.RecordAuthCacheLookup(StateHitFromStore.String())
		return LookupResult{AllowedAccounts: accounts, State: StateHitFromStore}, nil
	}

	c.metrics.RecordAuthCacheLookup(StateSynchronizing.String())
	return LookupResult{AllowedAccounts: AllowedAccounts{}, State: StateSynchronizing}, nil
}

// loadFromStore returns nil accounts when the record or its mirror is absent.
func (c *Cache) loadFromStore(ctx context.Context, user *auth.RequestUser, key string) (AllowedAccounts, error) {
	record, err := c.users.FindByProviderID(ctx, user.Provider, user.ProviderInternalID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user record: %w", err)
	}
	if record == nil || !record.AllowedAccounts.Valid {
		return nil, nil
	}

	var accounts AllowedAccounts
	if err := json.Unmarshal([]byte(record.AllowedAccounts.String), &accounts); err != nil {
		c.logger.WithField("key", key).WithError(err).Warn("ignoring corrupt allowed accounts mirror")
		return nil, nil
	}
	if accounts == nil {
		accounts = AllowedAccounts{}
	}

	if err := c.fast.Set(ctx, key, record.AllowedAccounts.String, c.ttl); err != nil {
		c.logger.WithField("key", key).WithError(err).Warn("failed to backfill fast cache")
	}
	return accounts, nil
}

// Invalidate drops the cached entry and clears the durable mirror so the next
// Renew starts from scratch.
func (c *Cache) Invalidate(ctx context.Context, user *auth.RequestUser) error {
	if err := c.fast.Del(ctx, Key(user.Provider, user.Login())); err != nil {
		return fmt.Errorf("failed to delete cached allowed accounts: %w", err)
	}

	record, err := c.users.FindByProviderID(ctx, user.Provider, user.ProviderInternalID)
	if err != nil {
		return fmt.Errorf("failed to load user record: %w", err)
	}
	if record == nil {
		return nil
	}
	cleared := sql.NullString{}
	if _, err := c.users.Update(ctx, record.ID, auth.UserPatch{AllowedAccounts: &cleared}); err != nil {
		return fmt.Errorf("failed to clear allowed accounts mirror: %w", err)
	}
	return nil
}

// CheckAccountAccess returns the user's repositories on accountID, or a
// FORBIDDEN error when the account is not allowed. While synchronizing the
// error carries a "synchronizing" context flag.
func (c *Cache) CheckAccountAccess(ctx context.Context, user *auth.RequestUser, accountID string) (*AccountAccess, error) {
	result, err := c.Lookup(ctx, user)
	if err != nil {
		return nil, err
	}

	acct, ok := result.AllowedAccounts[accountID]
	if !ok {
		return nil, auth.Forbidden(auth.ErrForbidden, "you do not have access to this account").
			WithContext("account_id", accountID).
			WithContext("synchronizing", result.IsSynchronizing())
	}

	repos := acct.AllowedRepositories
	return &AccountAccess{
		AccountID:           accountID,
		AllowedRepositories: repos,
		Repositories:        dedupe(append(append([]string{}, repos.Read...), repos.Admin...), nil),
	}, nil
}

// IsSynchronizing reports whether err is a FORBIDDEN raised while the user's
// allowed accounts were still being computed.
func IsSynchronizing(err error) bool {
	authErr, ok := auth.AsError(err)
	if !ok || authErr.Code != auth.ErrForbidden {
		return false
	}
	synchronizing, _ := authErr.Context["synchronizing"].(bool)
	return synchronizing
}
