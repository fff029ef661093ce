// Package observability provides logging, metrics, tracing, error reporting
// and health checks for the warden service.
//
// Logger is a structured JSON logger over log/slog. Metrics holds the
// Prometheus collectors for login outcomes, SAML flows and the authorization
// cache. ErrorReporter is the telemetry sink for internal errors; user-facing
// errors must never reach it.
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	metrics := observability.NewMetrics(prometheus.NewRegistry())
//	reporter := observability.NewTelemetryReporter(logger, metrics)
//	reporter.Report(ctx, err, map[string]interface{}{"provider": "github"})
package observability
