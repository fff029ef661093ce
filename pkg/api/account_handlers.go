package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/warden/pkg/audit"
	"github.com/platinummonkey/warden/pkg/auth"
	"github.com/platinummonkey/warden/pkg/authcache"
	"github.com/platinummonkey/warden/pkg/httputil"
	"github.com/platinummonkey/warden/pkg/middleware"
	"github.com/platinummonkey/warden/pkg/observability"
)

// DefaultRetryAfter is advertised while a user's accounts are synchronizing
const DefaultRetryAfter = 5 * time.Second

// AccountService is the part of authcache.Cache the handlers use
type AccountService interface {
	Lookup(ctx context.Context, user *auth.RequestUser) (authcache.LookupResult, error)
	CheckAccountAccess(ctx context.Context, user *auth.RequestUser, accountID string) (*authcache.AccountAccess, error)
	Invalidate(ctx context.Context, user *auth.RequestUser) error
	Renew(ctx context.Context, user *auth.RequestUser) error
}

// Spawner runs work after the response is written
type Spawner interface {
	Go(ctx context.Context, taskName string, fn func(context.Context) error)
}

// AuditReader lists a principal's recent authentication events
type AuditReader interface {
	Recent(ctx context.Context, principal string, limit int) ([]*audit.Event, error)
}

// AccountHandlers serves the authenticated user's authorization data
type AccountHandlers struct {
	accounts   AccountService
	spawner    Spawner
	audit      AuditReader
	retryAfter time.Duration
}

// NewAccountHandlers creates account handlers
func NewAccountHandlers(accounts AccountService, spawner Spawner) *AccountHandlers {
	return &AccountHandlers{accounts: accounts, spawner: spawner, retryAfter: DefaultRetryAfter}
}

// SetAuditReader enables GET /v1/me/audit
func (h *AccountHandlers) SetAuditReader(reader AuditReader) {
	h.audit = reader
}

// RegisterRoutes registers account routes on a router that already runs
// session authentication
func (h *AccountHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/me", h.me).Methods("GET")
	router.HandleFunc("/me/accounts", h.listAccounts).Methods("GET")
	router.HandleFunc("/me/accounts/sync", h.syncAccounts).Methods("POST")
	router.HandleFunc("/accounts/{accountId}/access", h.accountAccess).Methods("GET")
	router.HandleFunc("/me/audit", h.recentAudit).Methods("GET")
}

// MeResponse describes the session identity
type MeResponse struct {
	Provider  auth.Provider     `json:"provider"`
	Login     string            `json:"login"`
	User      auth.UserSnapshot `json:"user"`
	Providers []auth.Provider   `json:"providers"`
	ExpiresAt time.Time         `json:"expiresAt"`
}

// AccountsResponse is the body of GET /v1/me/accounts
type AccountsResponse struct {
	AllowedAccounts authcache.AllowedAccounts `json:"allowedAccounts"`
	IsSynchronizing bool                      `json:"isSynchronizing"`
	State           string                    `json:"state"`
}

// AccessResponse is the body of GET /v1/accounts/{accountId}/access
type AccessResponse struct {
	AccountID           string                 `json:"accountId"`
	AllowedRepositories authcache.Repositories `json:"allowedRepositories"`
	Repositories        []string               `json:"repositories"`
}

// me handles GET /v1/me
func (h *AccountHandlers) me(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.RequireUser(w, r)
	if !ok {
		return
	}

	resp := MeResponse{
		Provider:  user.Provider,
		User:      user.User,
		ExpiresAt: user.ExpiresAt,
	}
	if acct, ok := user.Account(user.Provider); ok {
		resp.Login = acct.Nickname
	}
	for _, p := range auth.Providers {
		if _, ok := user.Account(p); ok {
			resp.Providers = append(resp.Providers, p)
		}
	}
	httputil.WriteSuccess(w, resp)
}

// listAccounts handles GET /v1/me/accounts
func (h *AccountHandlers) listAccounts(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.RequireUser(w, r)
	if !ok {
		return
	}

	result, err := h.accounts.Lookup(r.Context(), user)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	allowed := result.AllowedAccounts
	if allowed == nil {
		allowed = authcache.AllowedAccounts{}
	}
	if result.IsSynchronizing() {
		h.setRetryAfter(w)
	}
	httputil.WriteSuccess(w, AccountsResponse{
		AllowedAccounts: allowed,
		IsSynchronizing: result.IsSynchronizing(),
		State:           result.State.String(),
	})
}

// syncAccounts handles POST /v1/me/accounts/sync
func (h *AccountHandlers) syncAccounts(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.RequireUser(w, r)
	if !ok {
		return
	}

	if err := h.accounts.Invalidate(r.Context(), user); err != nil {
		httputil.WriteError(w, err)
		return
	}
	h.spawner.Go(r.Context(), "authcache renewal", func(ctx context.Context) error {
		return h.accounts.Renew(ctx, user)
	})

	h.setRetryAfter(w)
	httputil.WriteJSON(w, http.StatusAccepted, AccountsResponse{
		AllowedAccounts: authcache.AllowedAccounts{},
		IsSynchronizing: true,
		State:           authcache.StateSynchronizing.String(),
	})
}

// accountAccess handles GET /v1/accounts/{accountId}/access
func (h *AccountHandlers) accountAccess(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.RequireUser(w, r)
	if !ok {
		return
	}
	accountID, ok := httputil.ParsePathStringOrError(w, r, "accountId")
	if !ok {
		return
	}

	access, err := h.accounts.CheckAccountAccess(r.Context(), user, accountID)
	if err != nil {
		if authcache.IsSynchronizing(err) {
			h.setRetryAfter(w)
		}
		httputil.WriteError(w, err)
		return
	}

	repos := access.Repositories
	if repos == nil {
		repos = []string{}
	}
	httputil.WriteSuccess(w, AccessResponse{
		AccountID:           access.AccountID,
		AllowedRepositories: access.AllowedRepositories,
		Repositories:        repos,
	})
}

// recentAudit handles GET /v1/me/audit
func (h *AccountHandlers) recentAudit(w http.ResponseWriter, r *http.Request) {
	if _, ok := middleware.RequireUser(w, r); !ok {
		return
	}
	if h.audit == nil {
		httputil.WriteError(w, auth.NotFound(auth.ErrNotFound, "audit trail is not enabled"))
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 200 {
			httputil.WriteBadRequest(w, "limit must be between 1 and 200")
			return
		}
		limit = n
	}

	events, err := h.audit.Recent(r.Context(), observability.GetPrincipal(r.Context()), limit)
	if err != nil {
		httputil.WriteError(w, auth.Internal(auth.ErrInternal, "failed to read audit trail", err))
		return
	}
	if events == nil {
		events = []*audit.Event{}
	}
	httputil.WriteSuccess(w, map[string]interface{}{"events": events})
}

func (h *AccountHandlers) setRetryAfter(w http.ResponseWriter) {
	w.Header().Set("Retry-After", strconv.Itoa(int(h.retryAfter.Seconds())))
}
