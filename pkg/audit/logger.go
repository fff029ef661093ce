package audit

import (
	"context"
	"net/http"
	"time"

	"github.com/platinummonkey/warden/pkg/auth"
	"github.com/platinummonkey/warden/pkg/middleware"
	"github.com/platinummonkey/warden/pkg/observability"
)

// Logger is the interface for audit sinks
type Logger interface {
	// Log writes an audit event
	Log(ctx context.Context, event *Event) error

	// Close flushes and releases the sink
	Close() error
}

// NopLogger discards every event
type NopLogger struct{}

func (NopLogger) Log(context.Context, *Event) error { return nil }

func (NopLogger) Close() error { return nil }

// NewEvent creates an event populated from the request: client address,
// user agent, request id, and the authenticated principal when there is one.
func NewEvent(r *http.Request, eventType EventType, status Status) *Event {
	event := &Event{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Status:    status,
	}
	if r == nil {
		return event
	}

	ctx := r.Context()
	event.RequestID = observability.GetRequestID(ctx)
	event.Principal = observability.GetPrincipal(ctx)
	event.IPAddress = middleware.ClientIP(r)
	event.UserAgent = r.UserAgent()
	event.Method = r.Method
	event.Path = r.URL.Path
	return event
}

// Emit writes event to logger. A failure is logged, never returned.
func Emit(ctx context.Context, logger Logger, event *Event) {
	if logger == nil || event == nil {
		return
	}
	if err := logger.Log(ctx, event); err != nil {
		observability.FromContext(ctx).WithError(err).
			WithField("event_type", string(event.EventType)).
			Warn("failed to write audit event")
	}
}

func classify(err error) (Status, string) {
	authErr, ok := auth.AsError(err)
	if !ok {
		return StatusFailure, auth.ErrInternal
	}
	if authErr.Status == http.StatusForbidden {
		return StatusDenied, authErr.Code
	}
	return StatusFailure, authErr.Code
}
