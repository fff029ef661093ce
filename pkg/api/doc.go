// Package api assembles the warden HTTP server.
//
// # Overview
//
// The router is built on gorilla/mux and serves three groups of routes:
//
//   - /auth/...: OAuth and SAML login flows, rate limited per client IP
//   - /v1/...: endpoints for the authenticated git user (session cookie or Bearer token)
//   - health and metrics on a separate router for the health port
//
// # Key Types
//
// Server wires the handler groups behind the shared middleware chain:
//
//	server := api.NewServer(api.Dependencies{
//		OAuth:       oauthHandlers,
//		SAML:        samlHandlers,
//		Accounts:    api.NewAccountHandlers(cache, tracker),
//		SessionAuth: middleware.NewSessionAuth(codec, cookies, false),
//		RateLimiter: limiter,
//		Logger:      logger,
//		Metrics:     metrics,
//	})
//	http.ListenAndServe(":8080", server)
//
// AccountHandlers exposes the authorization cache:
//
//	GET  /v1/me                          current session identity
//	GET  /v1/me/accounts                 allowed accounts, with isSynchronizing
//	POST /v1/me/accounts/sync            drop cached entries and renew in the background
//	GET  /v1/accounts/{accountId}/access repositories on one account
//
// # Related Packages
//
//   - pkg/oauth, pkg/sso: login flows
//   - pkg/authcache: allowed-accounts cache
//   - pkg/middleware, pkg/httputil: middleware and JSON responses
package api
