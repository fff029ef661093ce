package oauth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/warden/pkg/audit"
	"github.com/platinummonkey/warden/pkg/auth"
	"github.com/platinummonkey/warden/pkg/observability"
	"github.com/platinummonkey/warden/pkg/session"
)

// StateCookieName binds the OAuth state parameter to the browser
const StateCookieName = "warden_oauth_state"

// Handlers exposes the OAuth login and callback endpoints
type Handlers struct {
	core         *Handler
	exchangers   map[auth.Provider]Exchanger
	cookies      *session.CookieStore
	dashboardURL string
	logger       *observability.Logger
	audit        audit.Logger
}

// NewHandlers creates the OAuth HTTP handlers
func NewHandlers(core *Handler, exchangers map[auth.Provider]Exchanger, cookies *session.CookieStore, dashboardURL string, logger *observability.Logger) *Handlers {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Handlers{
		core:         core,
		exchangers:   exchangers,
		cookies:      cookies,
		dashboardURL: dashboardURL,
		logger:       logger,
		audit:        audit.NopLogger{},
	}
}

// SetAuditLogger records login, failure and logout events to logger
func (h *Handlers) SetAuditLogger(logger audit.Logger) {
	if logger == nil {
		logger = audit.NopLogger{}
	}
	h.audit = logger
}

// RegisterRoutes registers OAuth routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/auth/{provider}/login", h.login).Methods("GET")
	router.HandleFunc("/auth/{provider}/callback", h.callback).Methods("GET")
	router.HandleFunc("/auth/logout", h.logout).Methods("GET", "POST")
}

// login handles GET /auth/{provider}/login
func (h *Handlers) login(w http.ResponseWriter, r *http.Request) {
	exchanger, err := h.exchanger(mux.Vars(r)["provider"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	stateBytes := make([]byte, 32)
	if _, err := rand.Read(stateBytes); err != nil {
		http.Error(w, "failed to generate state", http.StatusInternalServerError)
		return
	}
	state := base64.RawURLEncoding.EncodeToString(stateBytes)

	http.SetCookie(w, &http.Cookie{
		Name:     StateCookieName,
		Value:    state,
		Path:     "/auth",
		HttpOnly: true,
		Secure:   h.cookies.Secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   600, // 10 minutes
	})

	http.Redirect(w, r, exchanger.AuthCodeURL(state), http.StatusFound)
}

// callback handles GET /auth/{provider}/callback
func (h *Handlers) callback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	exchanger, err := h.exchanger(mux.Vars(r)["provider"])
	if err != nil {
		h.recordFailure(r, mux.Vars(r)["provider"], auth.BadRequest(auth.ErrBadRequest, err.Error()))
		h.redirect(w, r, auth.ErrBadRequest)
		return
	}

	stateCookie, err := r.Cookie(StateCookieName)
	http.SetCookie(w, &http.Cookie{Name: StateCookieName, MaxAge: -1, Path: "/auth"})
	if err != nil || stateCookie.Value == "" || r.URL.Query().Get("state") != stateCookie.Value {
		h.logger.WithField("provider", string(exchanger.Provider())).
			WithField("request_id", observability.GetRequestID(ctx)).
			Warn("oauth state mismatch")
		h.recordFailure(r, string(exchanger.Provider()), auth.BadRequest(auth.ErrBadRequest, "oauth state mismatch"))
		h.redirect(w, r, auth.ErrBadRequest)
		return
	}

	result := CallbackResult{Provider: exchanger.Provider()}
	if providerErr := r.URL.Query().Get("error"); providerErr != "" {
		result.Err = fmt.Errorf("provider returned %s: %s", providerErr, r.URL.Query().Get("error_description"))
	} else {
		result.Profile, result.Err = exchanger.Exchange(ctx, r.URL.Query().Get("code"))
	}

	login, err := h.core.Complete(ctx, result)
	if err != nil {
		code := auth.ErrOAuthInternal
		if authErr, ok := auth.AsError(err); ok {
			code = authErr.Code
		}
		h.recordFailure(r, string(exchanger.Provider()), err)
		h.redirect(w, r, code)
		return
	}

	event := audit.NewEvent(r, audit.EventOAuthLogin, audit.StatusSuccess)
	event.Provider = string(login.Identity.Provider)
	event.Principal = string(login.Identity.Provider) + ":" + login.Identity.Username
	if login.User != nil {
		event.WithUser(login.User.ID)
	}
	audit.Emit(r.Context(), h.audit, event)

	h.cookies.SetGitSession(w, login.Token, login.ExpiresAt)
	http.Redirect(w, r, h.dashboardURL, http.StatusFound)
}

// logout handles GET/POST /auth/logout
func (h *Handlers) logout(w http.ResponseWriter, r *http.Request) {
	event := audit.NewEvent(r, audit.EventLogout, audit.StatusSuccess)
	if raw := h.cookies.GitSession(r); raw != "" {
		if user, err := h.core.codec.Verify(raw); err == nil {
			event.Provider = string(user.Provider)
			if acct, ok := user.Account(user.Provider); ok {
				event.Principal = string(user.Provider) + ":" + acct.Nickname
			}
		}
	}
	audit.Emit(r.Context(), h.audit, event)

	h.cookies.ClearGitSession(w)
	h.cookies.ClearSAMLSession(w)
	http.Redirect(w, r, h.dashboardURL, http.StatusFound)
}

func (h *Handlers) exchanger(name string) (Exchanger, error) {
	provider, err := auth.ParseProvider(name)
	if err != nil {
		return nil, err
	}
	exchanger, ok := h.exchangers[provider]
	if !ok {
		return nil, fmt.Errorf("provider %s is not enabled", provider)
	}
	return exchanger, nil
}

func (h *Handlers) recordFailure(r *http.Request, provider string, err error) {
	event := audit.NewEvent(r, audit.EventOAuthLoginFailed, audit.StatusFailure).WithError(err)
	event.Provider = provider
	audit.Emit(r.Context(), h.audit, event)
}

// redirect sends the browser to the dashboard with an error code
func (h *Handlers) redirect(w http.ResponseWriter, r *http.Request, code string) {
	http.Redirect(w, r, withQuery(h.dashboardURL, "error", code), http.StatusFound)
}

func withQuery(target, key, value string) string {
	u, err := url.Parse(target)
	if err != nil {
		return target
	}
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String()
}
