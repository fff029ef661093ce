// Package httputil provides HTTP utilities for standardized request/response handling.
//
// # Response Helpers
//
//	httputil.WriteJSON(w, http.StatusOK, data)
//	httputil.WriteSuccess(w, data)
//	httputil.WriteNoContent(w)
//
// Error responses map *auth.Error values onto their status and code:
//
//	httputil.WriteError(w, err)
//	httputil.WriteBadRequest(w, "Invalid input")
//
// # Request Parsing
//
//	id, err := httputil.ParsePathUUID(r, "id")
//	name, ok := httputil.ParsePathStringOrError(w, r, "name")
//
// # Middleware
//
//	httputil.Chain(
//		httputil.RequestIDMiddleware(logger),
//		httputil.RecoveryMiddleware,
//		httputil.LoggingMiddleware,
//		httputil.MaxBytesMiddleware(1<<20),
//	)
//
// # Related Packages
//
//   - pkg/middleware: Session authentication middleware
package httputil
