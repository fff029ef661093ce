package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/warden/pkg/auth"
	"github.com/platinummonkey/warden/pkg/credentials"
	"github.com/platinummonkey/warden/pkg/observability"
	"github.com/platinummonkey/warden/pkg/storage"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Storage configuration
	Storage storage.Config

	// Auth holds secrets, session and flow settings
	Auth AuthConfig

	// Providers holds the git provider OAuth applications
	Providers credentials.Providers

	// Observability configuration
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// AuthConfig holds authentication settings
type AuthConfig struct {
	BaseURL      string
	DashboardURL string

	TokenCipherSecret string
	SessionSecret     string
	SAMLSessionSecret string
	SessionLifetime   time.Duration

	AllowedEmailDomains []string

	RenewalTimeout    time.Duration
	CredentialTimeout time.Duration
	SyncURL           string

	CookieSecure bool
	CookieDomain string

	// SAMLSeedFile provisions accounts and IdP configurations at startup
	SAMLSeedFile string

	// Login and callback endpoints, per client IP
	RateLimitRequests int
	RateLimitWindow   time.Duration
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection

	// Audit trail of authentication events
	AuditDBEnabled bool
	AuditLogDir    string // empty disables the JSON-lines file sink
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Storage:       loadStorageConfig(),
		Auth:          loadAuthConfig(),
		Providers:     loadProviders(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("WARDEN_HOST", "0.0.0.0"),
		Port:            getEnv("WARDEN_PORT", "8080"),
		ReadTimeout:     getEnvDuration("WARDEN_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("WARDEN_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("WARDEN_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("WARDEN_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("WARDEN_HEALTH_PORT", "9090"),
	}
}

// loadStorageConfig loads storage configuration from environment
func loadStorageConfig() storage.Config {
	cfg := storage.DefaultConfig()

	// PostgreSQL config
	cfg.PostgresURL = getEnv("WARDEN_POSTGRES_URL", "")
	if maxConns := getEnvInt("WARDEN_POSTGRES_MAX_CONNS", 0); maxConns > 0 {
		cfg.PostgresMaxConns = maxConns
	}
	if minConns := getEnvInt("WARDEN_POSTGRES_MIN_CONNS", 0); minConns > 0 {
		cfg.PostgresMinConns = minConns
	}
	if timeout := getEnvDuration("WARDEN_POSTGRES_TIMEOUT", 0); timeout > 0 {
		cfg.PostgresTimeout = timeout
	}

	// Redis config. Empty means the in-process cache.
	cfg.RedisURL = getEnv("WARDEN_REDIS_URL", "")
	cfg.RedisPassword = getEnv("WARDEN_REDIS_PASSWORD", "")
	if redisDB := getEnvInt("WARDEN_REDIS_DB", -1); redisDB >= 0 {
		cfg.RedisDB = redisDB
	}
	if redisMaxRetries := getEnvInt("WARDEN_REDIS_MAX_RETRIES", 0); redisMaxRetries > 0 {
		cfg.RedisMaxRetries = redisMaxRetries
	}
	if redisPoolSize := getEnvInt("WARDEN_REDIS_POOL_SIZE", 0); redisPoolSize > 0 {
		cfg.RedisPoolSize = redisPoolSize
	}

	// Cache config
	cfg.CacheTTL = getEnvDuration("WARDEN_AUTH_CACHE_TTL", cfg.CacheTTL)
	if entries := getEnvInt("WARDEN_L1_CACHE_ENTRIES", 0); entries > 0 {
		cfg.L1CacheEntries = entries
	}

	return cfg
}

func loadAuthConfig() AuthConfig {
	return AuthConfig{
		BaseURL:             strings.TrimRight(getEnv("WARDEN_BASE_URL", "http://localhost:8080"), "/"),
		DashboardURL:        getEnv("WARDEN_DASHBOARD_URL", "/dashboard"),
		TokenCipherSecret:   os.Getenv("WARDEN_TOKEN_CIPHER_SECRET"),
		SessionSecret:       os.Getenv("WARDEN_SESSION_SECRET"),
		SAMLSessionSecret:   os.Getenv("WARDEN_SAML_SESSION_SECRET"),
		SessionLifetime:     getEnvDuration("WARDEN_SESSION_LIFETIME", 2*time.Hour),
		AllowedEmailDomains: getEnvList("WARDEN_ALLOWED_EMAIL_DOMAINS"),
		RenewalTimeout:      getEnvDuration("WARDEN_RENEWAL_TIMEOUT", 2*time.Minute),
		CredentialTimeout:   getEnvDuration("WARDEN_CREDENTIAL_TIMEOUT", credentials.DefaultTimeout),
		SyncURL:             getEnv("WARDEN_SYNC_URL", ""),
		CookieSecure:        getEnvBool("WARDEN_COOKIE_SECURE", true),
		CookieDomain:        getEnv("WARDEN_COOKIE_DOMAIN", ""),
		SAMLSeedFile:        os.Getenv("WARDEN_SAML_SEED_FILE"),
		RateLimitRequests:   getEnvInt("WARDEN_AUTH_RATE_LIMIT", 60),
		RateLimitWindow:     getEnvDuration("WARDEN_AUTH_RATE_LIMIT_WINDOW", time.Minute),
	}
}

func loadProviders() credentials.Providers {
	app := func(prefix string) credentials.App {
		return credentials.App{
			ClientID:     os.Getenv(prefix + "_CLIENT_ID"),
			ClientSecret: os.Getenv(prefix + "_CLIENT_SECRET"),
		}
	}
	consumer := func(prefix string) credentials.App {
		return credentials.App{
			ClientID:     os.Getenv(prefix + "_CONSUMER_KEY"),
			ClientSecret: os.Getenv(prefix + "_CONSUMER_SECRET"),
		}
	}
	return credentials.Providers{
		GitHub:                 app("WARDEN_GITHUB"),
		GitLab:                 app("WARDEN_GITLAB"),
		Bitbucket:              app("WARDEN_BITBUCKET"),
		BitbucketDataCenter:    consumer("WARDEN_BITBUCKET_DATA_CENTER"),
		GitHubAPIURL:           getEnv("WARDEN_GITHUB_API_URL", ""),
		GitLabURL:              getEnv("WARDEN_GITLAB_URL", "https://gitlab.com"),
		BitbucketAPIURL:        getEnv("WARDEN_BITBUCKET_API_URL", ""),
		BitbucketDataCenterURL: getEnv("WARDEN_BITBUCKET_DATA_CENTER_URL", ""),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLevel(getEnv("WARDEN_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("WARDEN_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("WARDEN_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("WARDEN_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("WARDEN_OTEL_SERVICE_NAME", "warden"),
		OTelServiceVersion: getEnv("WARDEN_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("WARDEN_OTEL_INSECURE", true),
		AuditDBEnabled:     getEnvBool("WARDEN_AUDIT_DB_ENABLED", true),
		AuditLogDir:        os.Getenv("WARDEN_AUDIT_LOG_DIR"),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return errors.New("server port is required")
	}
	if c.Server.HealthPort == "" {
		return errors.New("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return errors.New("server port and health port must be different")
	}

	if c.Storage.PostgresURL == "" {
		return errors.New("WARDEN_POSTGRES_URL is required")
	}

	// Validate secrets
	if len(c.Auth.TokenCipherSecret) != auth.TokenCipherKeySize {
		return fmt.Errorf("WARDEN_TOKEN_CIPHER_SECRET must be exactly %d bytes, got %d",
			auth.TokenCipherKeySize, len(c.Auth.TokenCipherSecret))
	}
	if c.Auth.SessionSecret == "" {
		return errors.New("WARDEN_SESSION_SECRET is required")
	}
	if c.Auth.SAMLSessionSecret == "" {
		return errors.New("WARDEN_SAML_SESSION_SECRET is required")
	}
	if c.Auth.SessionSecret == c.Auth.SAMLSessionSecret {
		return errors.New("WARDEN_SESSION_SECRET and WARDEN_SAML_SESSION_SECRET must be different")
	}
	if c.Auth.SessionLifetime <= 0 {
		return errors.New("WARDEN_SESSION_LIFETIME must be positive")
	}

	if c.Auth.SyncURL == "" {
		return errors.New("WARDEN_SYNC_URL is required")
	}
	if c.Auth.RateLimitRequests <= 0 || c.Auth.RateLimitWindow <= 0 {
		return errors.New("auth rate limit must be positive")
	}

	// A half-configured OAuth app is almost always a deployment mistake
	apps := map[string]credentials.App{
		"GITHUB":    c.Providers.GitHub,
		"GITLAB":    c.Providers.GitLab,
		"BITBUCKET": c.Providers.Bitbucket,
	}
	for name, app := range apps {
		if (app.ClientID == "") != (app.ClientSecret == "") {
			return fmt.Errorf("WARDEN_%s_CLIENT_ID and WARDEN_%s_CLIENT_SECRET must be set together", name, name)
		}
	}

	// Validate OpenTelemetry config
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return errors.New("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return errors.New("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// OTel returns the OpenTelemetry settings for observability.InitOTel
func (c *Config) OTel() observability.OTelConfig {
	return observability.OTelConfig{
		Enabled:        c.Observability.OTelEnabled,
		Endpoint:       c.Observability.OTelEndpoint,
		ServiceName:    c.Observability.OTelServiceName,
		ServiceVersion: c.Observability.OTelServiceVersion,
		Insecure:       c.Observability.OTelInsecure,
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvList splits a comma-separated variable, dropping empty entries
func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
