// Package middleware provides HTTP middleware for session authentication and
// rate limiting.
//
// # Middleware Components
//
// SessionAuth: git-identity session verification
//
//	sessionAuth := middleware.NewSessionAuth(codec, cookies, false)
//	router.Use(sessionAuth.Handler)
//	// Verifies the session cookie or Bearer token, adds *auth.RequestUser to the context
//
// SAMLSessionAuth: SAML-scoped session verification
//
//	router.Use(middleware.SAMLSessionAuth(samlCodec, cookies))
//
// RateLimit: per client IP limits for login and callback endpoints
//
//	limiter := middleware.NewRateLimiter(middleware.DefaultRateLimitConfig())
//	// or middleware.NewDistributedRateLimiter(redisClient, cfg, "")
//	router.Use(middleware.RateLimit(limiter))
//
// # Related Packages
//
//   - pkg/contextkeys: context keys for the authenticated user and SAML session
//   - pkg/httputil: error responses
package middleware
