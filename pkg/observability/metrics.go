package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. Every Record method is safe on a nil
// *Metrics so components can run without instrumentation.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Login metrics
	OAuthCallbacksTotal *prometheus.CounterVec
	SAMLFlowsTotal      *prometheus.CounterVec
	SAMLUnlinksTotal    prometheus.Counter
	SessionsMintedTotal *prometheus.CounterVec

	// Authorization cache metrics
	AuthCacheLookupsTotal  *prometheus.CounterVec
	AuthCacheRenewalsTotal *prometheus.CounterVec
	AuthCacheRenewDuration prometheus.Histogram

	// Error reporting
	ReportedErrorsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "warden_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		OAuthCallbacksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_oauth_callbacks_total",
				Help: "OAuth callbacks by provider and outcome code",
			},
			[]string{"provider", "outcome"},
		),
		SAMLFlowsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_saml_flows_total",
				Help: "SAML callbacks by outcome",
			},
			[]string{"outcome"},
		),
		SAMLUnlinksTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "warden_saml_stale_unlinks_total",
				Help: "SAML identities unlinked because the linked git credential was stale",
			},
		),
		SessionsMintedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_sessions_minted_total",
				Help: "Session credentials minted by kind",
			},
			[]string{"kind"},
		),
		AuthCacheLookupsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_authcache_lookups_total",
				Help: "Authorization cache lookups by resolving tier",
			},
			[]string{"state"},
		),
		AuthCacheRenewalsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_authcache_renewals_total",
				Help: "Authorization cache renewals by result",
			},
			[]string{"result"},
		),
		AuthCacheRenewDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "warden_authcache_renew_duration_seconds",
				Help:    "Time spent computing and storing allowed accounts",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
		),
		ReportedErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_reported_errors_total",
				Help: "Internal errors reported to telemetry by code",
			},
			[]string{"code"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.OAuthCallbacksTotal,
		m.SAMLFlowsTotal,
		m.SAMLUnlinksTotal,
		m.SessionsMintedTotal,
		m.AuthCacheLookupsTotal,
		m.AuthCacheRenewalsTotal,
		m.AuthCacheRenewDuration,
		m.ReportedErrorsTotal,
	)

	return m
}

// RecordOAuthCallback counts an OAuth callback outcome ("success" or an error code)
func (m *Metrics) RecordOAuthCallback(provider, outcome string) {
	if m == nil {
		return
	}
	m.OAuthCallbacksTotal.WithLabelValues(provider, outcome).Inc()
}

// RecordSAMLFlow counts a SAML callback outcome
func (m *Metrics) RecordSAMLFlow(outcome string) {
	if m == nil {
		return
	}
	m.SAMLFlowsTotal.WithLabelValues(outcome).Inc()
}

// RecordSAMLUnlink counts a stale-credential unlink
func (m *Metrics) RecordSAMLUnlink() {
	if m == nil {
		return
	}
	m.SAMLUnlinksTotal.Inc()
}

// RecordSessionMinted counts a minted credential ("git" or "saml")
func (m *Metrics) RecordSessionMinted(kind string) {
	if m == nil {
		return
	}
	m.SessionsMintedTotal.WithLabelValues(kind).Inc()
}

// RecordAuthCacheLookup counts a lookup by the tier that answered it
func (m *Metrics) RecordAuthCacheLookup(state string) {
	if m == nil {
		return
	}
	m.AuthCacheLookupsTotal.WithLabelValues(state).Inc()
}

// RecordAuthCacheRenewal records a renewal result and its duration
func (m *Metrics) RecordAuthCacheRenewal(err error, duration time.Duration) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	m.AuthCacheRenewalsTotal.WithLabelValues(result).Inc()
	m.AuthCacheRenewDuration.Observe(duration.Seconds())
}

// RecordReportedError counts an error sent to telemetry
func (m *Metrics) RecordReportedError(code string) {
	if m == nil {
		return
	}
	m.ReportedErrorsTotal.WithLabelValues(code).Inc()
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests. Routes are labelled with
// their mux path template to keep cardinality bounded.
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if metrics == nil {
				next.ServeHTTP(w, r)
				return
			}
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			route := "unmatched"
			if current := mux.CurrentRoute(r); current != nil {
				if tpl, err := current.GetPathTemplate(); err == nil {
					route = tpl
				}
			}
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// MetricsHandler serves the registry in Prometheus exposition format
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
