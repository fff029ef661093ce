package sso

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/warden/pkg/audit"
	"github.com/platinummonkey/warden/pkg/auth"
	"github.com/platinummonkey/warden/pkg/contextkeys"
	"github.com/platinummonkey/warden/pkg/httputil"
	"github.com/platinummonkey/warden/pkg/middleware"
	"github.com/platinummonkey/warden/pkg/observability"
	"github.com/platinummonkey/warden/pkg/session"
)

// Authenticator is the part of Flow the HTTP handlers drive
type Authenticator interface {
	LoginURL(ctx context.Context, providerConfigID, relayState string) (string, error)
	Authenticate(ctx context.Context, req AssertionRequest) (*Result, error)
	Link(ctx context.Context, samlSession *session.SAMLSession, gitUser *auth.RequestUser) (*SAMLIdentity, error)
	Unlink(ctx context.Context, samlSession *session.SAMLSession) (*SAMLIdentity, error)
}

// genericFailure is shown for failures whose details must not reach the browser
const genericFailure = "Something went wrong while signing in with SSO. Please try again."

// Handlers exposes the SAML login, assertion consumer and link endpoints
type Handlers struct {
	flow         Authenticator
	codec        *session.Codec
	samlCodec    *session.SAMLCodec
	cookies      *session.CookieStore
	dashboardURL string
	logger       *observability.Logger
	audit        audit.Logger
}

// NewHandlers creates the SAML HTTP handlers
func NewHandlers(flow Authenticator, codec *session.Codec, samlCodec *session.SAMLCodec, cookies *session.CookieStore, dashboardURL string, logger *observability.Logger) *Handlers {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Handlers{
		flow:         flow,
		codec:        codec,
		samlCodec:    samlCodec,
		cookies:      cookies,
		dashboardURL: dashboardURL,
		logger:       logger,
		audit:        audit.NopLogger{},
	}
}

// SetAuditLogger records sign-in and link events to logger
func (h *Handlers) SetAuditLogger(logger audit.Logger) {
	if logger == nil {
		logger = audit.NopLogger{}
	}
	h.audit = logger
}

// RegisterRoutes registers SAML routes. The link and session routes require a
// SAML session cookie.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	requireSAML := middleware.SAMLSessionAuth(h.samlCodec, h.cookies)
	router.Handle("/auth/saml/session", requireSAML(http.HandlerFunc(h.current))).Methods("GET")
	router.Handle("/auth/saml/link", requireSAML(http.HandlerFunc(h.link))).Methods("POST")
	router.Handle("/auth/saml/link", requireSAML(http.HandlerFunc(h.unlink))).Methods("DELETE")
	router.HandleFunc("/auth/saml/{providerConfigId}/login", h.login).Methods("GET")
	router.HandleFunc("/auth/saml/{providerConfigId}/acs", h.acs).Methods("POST")
}

// login handles GET /auth/saml/{providerConfigId}/login
func (h *Handlers) login(w http.ResponseWriter, r *http.Request) {
	target, err := h.flow.LoginURL(r.Context(), mux.Vars(r)["providerConfigId"], r.URL.Query().Get("relay_state"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// acs handles POST /auth/saml/{providerConfigId}/acs
func (h *Handlers) acs(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.fail(w, r, auth.BadRequest(auth.ErrBadRequest, "The SSO request could not be read."))
		return
	}

	req := AssertionRequest{
		ProviderConfigID: mux.Vars(r)["providerConfigId"],
		SAMLResponse:     r.PostForm.Get("SAMLResponse"),
	}
	// A stale or foreign git session is simply ignored
	if raw := h.cookies.GitSession(r); raw != "" {
		if user, err := h.codec.Verify(raw); err == nil {
			req.GitUser = user
		}
	}

	result, err := h.flow.Authenticate(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.cookies.SetSAMLSession(w, result.SAMLToken, result.SAMLExpiresAt)
	switch {
	case result.GitToken != "":
		h.cookies.SetGitSession(w, result.GitToken, result.GitExpiresAt)
	case result.ClearGitSession:
		h.cookies.ClearGitSession(w)
	}

	event := audit.NewEvent(r, audit.EventSAMLLogin, audit.StatusSuccess)
	event.ProviderConfigID = req.ProviderConfigID
	if result.Identity != nil {
		event.WithSAMLIdentity(result.Identity.ID)
		event.Principal = result.Identity.Email
	}
	linked := "false"
	if result.LinkedUser != nil {
		linked = "true"
		event.WithUser(result.LinkedUser.ID)
		event.Provider = string(result.LinkedUser.Provider)
	}
	audit.Emit(r.Context(), h.audit, event.WithMetadata("linked", result.LinkedUser != nil))

	target := withQuery(h.dashboardURL, url.Values{"saml": {"success"}, "linked": {linked}})
	http.Redirect(w, r, target, http.StatusFound)
}

// SessionResponse is the body of GET /auth/saml/session
type SessionResponse struct {
	SAMLIdentityID   string    `json:"samlIdentityId"`
	Email            string    `json:"email,omitempty"`
	ProviderConfigID string    `json:"providerConfigId"`
	ExpiresAt        time.Time `json:"expiresAt"`
}

// current handles GET /auth/saml/session
func (h *Handlers) current(w http.ResponseWriter, r *http.Request) {
	samlSession, _ := contextkeys.GetSAMLSession(r.Context())
	httputil.WriteSuccess(w, SessionResponse{
		SAMLIdentityID:   samlSession.SAMLIdentityID.String(),
		Email:            samlSession.Email,
		ProviderConfigID: samlSession.ProviderConfigID.String(),
		ExpiresAt:        samlSession.ExpiresAt,
	})
}

// link handles POST /auth/saml/link. It needs both a SAML session and a git
// session.
func (h *Handlers) link(w http.ResponseWriter, r *http.Request) {
	samlSession, _ := contextkeys.GetSAMLSession(r.Context())
	gitUser, err := h.codec.Verify(h.cookies.GitSession(r))
	if err != nil {
		if !auth.IsUserFacing(err) {
			err = auth.Unauthorized(auth.ErrInvalidSession, "session credential is invalid")
		}
		httputil.WriteError(w, err)
		return
	}

	identity, err := h.flow.Link(r.Context(), samlSession, gitUser)
	event := audit.NewEvent(r, audit.EventSAMLLink, audit.StatusSuccess).WithSAMLIdentity(samlSession.SAMLIdentityID)
	event.ProviderConfigID = samlSession.ProviderConfigID.String()
	event.Provider = string(gitUser.Provider)
	if acct, ok := gitUser.Account(gitUser.Provider); ok {
		event.Principal = string(gitUser.Provider) + ":" + acct.Nickname
	}
	audit.Emit(r.Context(), h.audit, event.WithError(err))
	if err != nil {
		h.logFailure(r.Context(), err, "failed to link saml identity")
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, identity)
}

// unlink handles DELETE /auth/saml/link
func (h *Handlers) unlink(w http.ResponseWriter, r *http.Request) {
	samlSession, _ := contextkeys.GetSAMLSession(r.Context())

	identity, err := h.flow.Unlink(r.Context(), samlSession)
	event := audit.NewEvent(r, audit.EventSAMLUnlink, audit.StatusSuccess).WithSAMLIdentity(samlSession.SAMLIdentityID)
	event.ProviderConfigID = samlSession.ProviderConfigID.String()
	event.Principal = samlSession.Email
	audit.Emit(r.Context(), h.audit, event.WithError(err))
	if err != nil {
		h.logFailure(r.Context(), err, "failed to unlink saml identity")
		httputil.WriteError(w, err)
		return
	}
	h.cookies.ClearGitSession(w)
	httputil.WriteSuccess(w, identity)
}

// fail sends the browser back to the dashboard with a displayable message
func (h *Handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	h.logFailure(r.Context(), err, "saml sign in failed")
	event := audit.NewEvent(r, audit.EventSAMLLoginFailed, audit.StatusFailure).WithError(err)
	event.ProviderConfigID = mux.Vars(r)["providerConfigId"]
	audit.Emit(r.Context(), h.audit, event)

	params := url.Values{"saml": {"error"}, "message": {genericFailure}}
	if ae, ok := auth.AsError(err); ok {
		params.Set("code", ae.Code)
		if ae.UserFacing {
			params.Set("message", ae.Message)
		}
	}
	http.Redirect(w, r, withQuery(h.dashboardURL, params), http.StatusFound)
}

func (h *Handlers) logFailure(ctx context.Context, err error, msg string) {
	logger := h.logger.WithError(err).WithField("request_id", observability.GetRequestID(ctx))
	if auth.IsUserFacing(err) {
		logger.Info(msg)
		return
	}
	logger.Error(msg)
}

func withQuery(target string, params url.Values) string {
	u, err := url.Parse(target)
	if err != nil {
		return target
	}
	q := u.Query()
	for key, values := range params {
		for _, v := range values {
			q.Set(key, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}
