// Package contextkeys provides centralized context key definitions
//
// IMPORTANT: All context keys used across the application must be defined here.
// This prevents typos, documents dependencies, and makes key usage discoverable.
//
// USAGE PATTERN:
//
//	import "github.com/platinummonkey/warden/pkg/contextkeys"
//	ctx = contextkeys.WithRequestUser(ctx, user)
//	user, ok := contextkeys.GetRequestUser(ctx)
package contextkeys

import (
	"context"

	"github.com/platinummonkey/warden/pkg/auth"
	"github.com/platinummonkey/warden/pkg/session"
)

// Key is the type for context keys to prevent collisions
type Key string

const (
	// RequestUserKey contains *auth.RequestUser
	// Set by: middleware.SessionAuth (pkg/middleware/session.go)
	// Required by: /v1 endpoints, SAML link handlers
	// Type: *auth.RequestUser
	RequestUserKey Key = "request_user"

	// SAMLSessionKey contains *session.SAMLSession
	// Set by: middleware.SAMLSessionAuth (pkg/middleware/session.go)
	// Required by: SAML link and unlink handlers
	// Type: *session.SAMLSession
	SAMLSessionKey Key = "saml_session"
)

// WithRequestUser adds the authenticated git-identity user to the context
func WithRequestUser(ctx context.Context, user *auth.RequestUser) context.Context {
	return context.WithValue(ctx, RequestUserKey, user)
}

// GetRequestUser retrieves the authenticated git-identity user
func GetRequestUser(ctx context.Context) (*auth.RequestUser, bool) {
	user, ok := ctx.Value(RequestUserKey).(*auth.RequestUser)
	return user, ok && user != nil
}

// WithSAMLSession adds the verified SAML session to the context
func WithSAMLSession(ctx context.Context, s *session.SAMLSession) context.Context {
	return context.WithValue(ctx, SAMLSessionKey, s)
}

// GetSAMLSession retrieves the verified SAML session
func GetSAMLSession(ctx context.Context) (*session.SAMLSession, bool) {
	s, ok := ctx.Value(SAMLSessionKey).(*session.SAMLSession)
	return s, ok && s != nil
}
