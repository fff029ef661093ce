package observability

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrorReporter receives internal errors. User-facing errors are never passed
// to it.
type ErrorReporter interface {
	Report(ctx context.Context, err error, fields map[string]interface{})
}

// codedError is satisfied by errors carrying a stable code
type codedError interface {
	error
	ErrorCode() string
}

// TelemetryReporter logs the error, counts it and records it on the active span.
type TelemetryReporter struct {
	logger  *Logger
	metrics *Metrics
}

// NewTelemetryReporter creates a reporter. metrics may be nil.
func NewTelemetryReporter(logger *Logger, metrics *Metrics) *TelemetryReporter {
	if logger == nil {
		logger = NewLogger(InfoLevel, nil)
	}
	return &TelemetryReporter{logger: logger, metrics: metrics}
}

// Report implements ErrorReporter
func (r *TelemetryReporter) Report(ctx context.Context, err error, fields map[string]interface{}) {
	if err == nil {
		return
	}
	code := "UNKNOWN"
	var coded codedError
	if errors.As(err, &coded) {
		code = coded.ErrorCode()
	}

	logger := UpdateLoggerWithTraceContext(ctx, r.logger).WithError(err).WithField("error_code", code)
	if requestID := GetRequestID(ctx); requestID != "" {
		logger = logger.WithField("request_id", requestID)
	}
	if len(fields) > 0 {
		logger = logger.WithFields(fields)
	}
	logger.Error("internal error reported")

	r.metrics.RecordReportedError(code)

	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.RecordError(err, trace.WithAttributes(attribute.String("error.code", code)))
		span.SetStatus(codes.Error, code)
	}
}

// NopReporter discards reports
type NopReporter struct{}

// Report implements ErrorReporter
func (NopReporter) Report(context.Context, error, map[string]interface{}) {}
