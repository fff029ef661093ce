package audit

import (
	"time"

	"github.com/google/uuid"
)

// EventType is the category of an audit event
type EventType string

const (
	EventOAuthLogin       EventType = "auth.oauth_login"
	EventOAuthLoginFailed EventType = "auth.oauth_login_failed"
	EventLogout           EventType = "auth.logout"

	EventSAMLLogin       EventType = "auth.saml_login"
	EventSAMLLoginFailed EventType = "auth.saml_login_failed"
	EventSAMLLink        EventType = "auth.saml_link"
	EventSAMLUnlink      EventType = "auth.saml_unlink"
)

// Status is the outcome of an event
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
	StatusDenied  Status = "denied"
)

// Event is a single audit record
type Event struct {
	ID        int64     `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	EventType EventType `json:"event_type"`
	Status    Status    `json:"status"`

	// Actor
	Provider  string     `json:"provider,omitempty"`
	Principal string     `json:"principal,omitempty"`
	UserID    *uuid.UUID `json:"user_id,omitempty"`

	// SAML identity and provider configuration, when the event has one
	SAMLIdentityID   *uuid.UUID `json:"saml_identity_id,omitempty"`
	ProviderConfigID string     `json:"provider_config_id,omitempty"`

	// Request context
	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	Method    string `json:"method,omitempty"`
	Path      string `json:"path,omitempty"`

	ErrorCode string                 `json:"error_code,omitempty"`
	Message   string                 `json:"message,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// WithError records err's code and marks the event failed, or denied when
// err is a 403.
func (e *Event) WithError(err error) *Event {
	if err == nil {
		return e
	}
	e.Status, e.ErrorCode = classify(err)
	return e
}

// WithUser records the internal user id
func (e *Event) WithUser(id uuid.UUID) *Event {
	e.UserID = &id
	return e
}

// WithSAMLIdentity records the SAML identity id
func (e *Event) WithSAMLIdentity(id uuid.UUID) *Event {
	e.SAMLIdentityID = &id
	return e
}

// WithMetadata sets a metadata key
func (e *Event) WithMetadata(key string, value interface{}) *Event {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}
