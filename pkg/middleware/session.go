package middleware

import (
	"net/http"
	"strings"

	"github.com/platinummonkey/warden/pkg/auth"
	"github.com/platinummonkey/warden/pkg/contextkeys"
	"github.com/platinummonkey/warden/pkg/httputil"
	"github.com/platinummonkey/warden/pkg/observability"
	"github.com/platinummonkey/warden/pkg/session"
)

// SessionAuth verifies the git-identity session credential and stores the
// decoded *auth.RequestUser in the request context.
type SessionAuth struct {
	codec    *session.Codec
	cookies  *session.CookieStore
	optional bool // If true, allow requests without a session
}

// NewSessionAuth creates session authentication middleware
func NewSessionAuth(codec *session.Codec, cookies *session.CookieStore, optional bool) *SessionAuth {
	return &SessionAuth{codec: codec, cookies: cookies, optional: optional}
}

// Handler wraps an HTTP handler with session authentication. The credential
// is read from the session cookie, then from an "Authorization: Bearer"
// header.
func (m *SessionAuth) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := m.cookies.GitSession(r)
		if raw == "" {
			raw = bearerToken(r)
		}
		if raw == "" {
			if m.optional {
				next.ServeHTTP(w, r)
				return
			}
			httputil.WriteError(w, auth.Unauthorized(auth.ErrInvalidSession, "authentication required"))
			return
		}

		user, err := m.codec.Verify(raw)
		if err != nil {
			if m.optional {
				next.ServeHTTP(w, r)
				return
			}
			if !auth.IsUserFacing(err) {
				err = auth.Unauthorized(auth.ErrInvalidSession, "session credential is invalid")
			}
			httputil.WriteError(w, err)
			return
		}

		ctx := contextkeys.WithRequestUser(r.Context(), user)
		if acct, ok := user.Account(user.Provider); ok {
			ctx = observability.WithPrincipal(ctx, string(user.Provider)+":"+acct.Nickname)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// SAMLSessionAuth verifies the SAML-scoped session cookie and stores the
// *session.SAMLSession in the request context.
func SAMLSessionAuth(codec *session.SAMLCodec, cookies *session.CookieStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s, err := codec.Verify(cookies.SAMLSession(r))
			if err != nil {
				httputil.WriteError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(contextkeys.WithSAMLSession(r.Context(), s)))
		})
	}
}

// RequireUser returns the authenticated user or writes a 401
func RequireUser(w http.ResponseWriter, r *http.Request) (*auth.RequestUser, bool) {
	user, ok := contextkeys.GetRequestUser(r.Context())
	if !ok {
		httputil.WriteError(w, auth.Unauthorized(auth.ErrInvalidSession, "authentication required"))
		return nil, false
	}
	return user, true
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || scheme != "Bearer" {
		return ""
	}
	return strings.TrimSpace(token)
}
