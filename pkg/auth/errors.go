package auth

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes
const (
	ErrInvalidIdentities     = "INVALID_IDENTITIES"
	ErrMalformedCredential   = "MALFORMED_CREDENTIAL"
	ErrInvalidSession        = "INVALID_SESSION"
	ErrDecryption            = "DECRYPTION_FAILED"
	ErrOAuthProvider         = "OAUTH_PROVIDER_ERROR"
	ErrNoEmailProvided       = "NO_EMAIL_PROVIDED"
	ErrEmailDomainNotAllowed = "EMAIL_DOMAIN_NOT_ALLOWED"
	ErrOAuthInternal         = "OAUTH_INTERNAL_ERROR"
	ErrSAMLAssertion         = "SAML_ASSERTION_INVALID"
	ErrSAMLProviderNotFound  = "SAML_PROVIDER_NOT_FOUND"
	ErrSAMLProviderDisabled  = "SAML_PROVIDER_DISABLED"
	ErrSAMLPermissionDenied  = "SAML_PERMISSION_DENIED"
	ErrSAMLAccountNotFound   = "SAML_ACCOUNT_NOT_FOUND"
	ErrAccessTokenStale      = "ACCESS_TOKEN_STALE"
	ErrForbidden             = "FORBIDDEN"
	ErrNotFound              = "NOT_FOUND"
	ErrBadRequest            = "BAD_REQUEST"
	ErrRateLimited           = "RATE_LIMITED"
	ErrInternal              = "INTERNAL_ERROR"
)

// Error is an authentication failure with a stable code.
type Error struct {
	// Code is a stable machine-readable identifier such as NO_EMAIL_PROVIDED
	Code string

	// Message is safe to show the user when UserFacing is set
	Message string

	// Status is the HTTP status the error maps to
	Status int

	// UserFacing errors are shown verbatim and never reported to telemetry
	UserFacing bool

	// Context holds extra fields for logs
	Context map[string]interface{}

	// Cause is the underlying error
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// ErrorCode returns e.Code
func (e *Error) ErrorCode() string {
	return e.Code
}

// WithContext returns e with an extra log field attached.
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// BadRequest creates a user-facing 400 error
func BadRequest(code, message string) *Error {
	return &Error{Code: code, Message: message, Status: http.StatusBadRequest, UserFacing: true}
}

// Unauthorized creates a user-facing 401 error
func Unauthorized(code, message string) *Error {
	return &Error{Code: code, Message: message, Status: http.StatusUnauthorized, UserFacing: true}
}

// Forbidden creates a user-facing 403 error
func Forbidden(code, message string) *Error {
	return &Error{Code: code, Message: message, Status: http.StatusForbidden, UserFacing: true}
}

// NotFound creates a user-facing 404 error
func NotFound(code, message string) *Error {
	return &Error{Code: code, Message: message, Status: http.StatusNotFound, UserFacing: true}
}

// Internal wraps cause as an internal error. Internal errors are reported to
// telemetry and only their code is shown to the user.
func Internal(code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Status: http.StatusInternalServerError, Cause: cause}
}

// AsError extracts an *Error from err's chain.
func AsError(err error) (*Error, bool) {
	var authErr *Error
	if errors.As(err, &authErr) {
		return authErr, true
	}
	return nil, false
}

// HasCode reports whether err carries an *Error with the given code.
func HasCode(err error, code string) bool {
	authErr, ok := AsError(err)
	return ok && authErr.Code == code
}

// IsUserFacing reports whether err may be shown to the user as is.
func IsUserFacing(err error) bool {
	authErr, ok := AsError(err)
	return ok && authErr.UserFacing
}
