// Package config provides application configuration management from environment variables.
//
// # Overview
//
// LoadConfig reads WARDEN_* environment variables, applies defaults and
// validates the result. Secrets are never defaulted.
//
// # Configuration Structure
//
// Server settings:
//
//	WARDEN_HOST="0.0.0.0"
//	WARDEN_PORT="8080"
//	WARDEN_HEALTH_PORT="9090"
//	WARDEN_BASE_URL="https://warden.example.com"
//	WARDEN_DASHBOARD_URL="/dashboard"
//
// Storage settings:
//
//	WARDEN_POSTGRES_URL="postgres://localhost/warden"   # required
//	WARDEN_REDIS_URL="redis://localhost:6379/0"          # empty = in-process cache
//	WARDEN_AUTH_CACHE_TTL="1h"
//
// Secrets:
//
//	WARDEN_TOKEN_CIPHER_SECRET    # exactly 32 bytes
//	WARDEN_SESSION_SECRET
//	WARDEN_SAML_SESSION_SECRET    # must differ from WARDEN_SESSION_SECRET
//
// Auth settings:
//
//	WARDEN_SESSION_LIFETIME="2h"
//	WARDEN_ALLOWED_EMAIL_DOMAINS="example.com,corp.example.com"
//	WARDEN_RENEWAL_TIMEOUT="2m"
//	WARDEN_CREDENTIAL_TIMEOUT="10s"
//	WARDEN_SYNC_URL="http://sync.internal/v1/allowed-accounts"   # required
//	WARDEN_COOKIE_SECURE="true"
//	WARDEN_AUTH_RATE_LIMIT="60"
//
// Git providers (an app is enabled when both values are set):
//
//	WARDEN_GITHUB_CLIENT_ID / WARDEN_GITHUB_CLIENT_SECRET
//	WARDEN_GITLAB_CLIENT_ID / WARDEN_GITLAB_CLIENT_SECRET
//	WARDEN_BITBUCKET_CLIENT_ID / WARDEN_BITBUCKET_CLIENT_SECRET
//	WARDEN_GITLAB_URL="https://gitlab.com"
//	WARDEN_BITBUCKET_DATA_CENTER_URL="https://bitbucket.corp.example.com"
//
// Observability settings:
//
//	WARDEN_LOG_LEVEL="info"
//	WARDEN_METRICS_ENABLED="true"
//	WARDEN_OTEL_ENABLED="false"
//	WARDEN_OTEL_ENDPOINT="localhost:4317"
//
// # Usage
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
package config
