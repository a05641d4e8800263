// Package config provides configuration management with hot-reload support.
// It uses fsnotify to watch for file changes and atomic pointer swaps for zero-downtime updates.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables that override file values.
const (
	EnvAllowedRedirectOrigins = "SUPPORTGATE_ALLOWED_REDIRECT_ORIGINS"
	EnvSessionSecret          = "SUPPORTGATE_SESSION_SECRET"
	EnvBaseURL                = "SUPPORTGATE_BASE_URL"
	EnvBackendURL             = "SUPPORTGATE_BACKEND_URL"
)

// Limiter class names used by the default route policy.
const (
	ClassAuth      = "auth"
	ClassAPI       = "api"
	ClassAnalytics = "analytics"
)

// Config represents the complete gateway configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Backend   BackendConfig   `yaml:"backend"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Routes      []RouteConfig     `yaml:"routes"`
	Audit       AuditConfig       `yaml:"audit"`
	Secrets     SecretsConfig     `yaml:"secrets"`
	CORS        CORSConfig        `yaml:"cors"`
	HealthCheck HealthCheckConfig `yaml:"health_check"`
	Logging     LoggingConfig     `yaml:"logging"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Tracing     TracingConfig     `yaml:"tracing"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
	// BaseURL is the trusted public origin of the dashboard. Redirects that
	// fail validation fall back to it.
	BaseURL      string        `yaml:"base_url"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// BackendConfig describes the ticketing backend the gateway fronts.
type BackendConfig struct {
	BaseURL string `yaml:"base_url"`
	// APIToken may be a literal or a secret reference (env://, vault://).
	APIToken       string        `yaml:"api_token"`
	Timeout        time.Duration `yaml:"timeout"`
	RosterCacheTTL time.Duration `yaml:"roster_cache_ttl"`
	// HealthPath is probed for readiness. Empty disables the probe.
	HealthPath string        `yaml:"health_path"`
	Breaker    BreakerConfig `yaml:"breaker"`
}

// BreakerConfig trips the backend client's per-endpoint circuit after
// consecutive failed lookups. A zero threshold disables it.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	Cooldown         time.Duration `yaml:"cooldown"`
}

// AuthConfig groups sign-in and session settings.
type AuthConfig struct {
	Session                SessionConfig `yaml:"session"`
	OIDC                   OIDCConfig    `yaml:"oidc"`
	AllowedRedirectOrigins []string      `yaml:"allowed_redirect_origins"`
	AllowedEmailDomain     string        `yaml:"allowed_email_domain"`
}

// SessionConfig configures the signed session cookie.
type SessionConfig struct {
	Secret          string        `yaml:"secret"`
	CookieName      string        `yaml:"cookie_name"`
	StateCookieName string        `yaml:"state_cookie_name"`
	CookieDomain    string        `yaml:"cookie_domain"`
	CookiePath      string        `yaml:"cookie_path"`
	CookieSecure    bool          `yaml:"cookie_secure"`
	CookieSameSite  string        `yaml:"cookie_same_site"`
	TTL             time.Duration `yaml:"ttl"`
	StateTTL        time.Duration `yaml:"state_ttl"`
}

// OIDCConfig configures the identity provider.
type OIDCConfig struct {
	IssuerURL    string   `yaml:"issuer_url"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	RedirectURL  string   `yaml:"redirect_url"`
	Scopes       []string `yaml:"scopes"`
}

// RateLimitConfig defines rate limiting parameters.
type RateLimitConfig struct {
	Enabled         bool                        `yaml:"enabled"`
	Backend         string                      `yaml:"backend"` // memory, redis
	CleanupInterval time.Duration               `yaml:"cleanup_interval"`
	FailOpen        bool                        `yaml:"fail_open"`
	Classes         map[string]LimitClassConfig `yaml:"classes"`
	Redis           RedisConfig                 `yaml:"redis"`
}

// LimitClassConfig is the ceiling and window for one limiter class.
type LimitClassConfig struct {
	Max    int           `yaml:"max"`
	Window time.Duration `yaml:"window"`
}

// RedisConfig contains Redis connection settings.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// RouteConfig binds a proxied path prefix to a limiter class and a
// capability (authenticated, leadership, escalation, support_engineer or
// team:<name>).
type RouteConfig struct {
	Prefix     string `yaml:"prefix"`
	Class      string `yaml:"class"`
	Capability string `yaml:"capability"`
}

// AuditConfig selects where security events are recorded.
type AuditConfig struct {
	Enabled  bool           `yaml:"enabled"`
	Backend  string         `yaml:"backend"` // memory, postgres
	Postgres PostgresConfig `yaml:"postgres"`
	// RetentionDays deletes older events once an hour. Zero keeps everything.
	RetentionDays int `yaml:"retention_days"`
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	DSN          string        `yaml:"dsn"`
	MaxOpenConns int           `yaml:"max_open_conns"`
	MaxIdleConns int           `yaml:"max_idle_conns"`
	ConnLifetime time.Duration `yaml:"conn_lifetime"`
}

// SecretsConfig configures secret resolution.
type SecretsConfig struct {
	CacheTTL time.Duration `yaml:"cache_ttl"`
	Vault    VaultConfig   `yaml:"vault"`
}

// VaultConfig contains HashiCorp Vault settings.
type VaultConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Address    string `yaml:"address"`
	AuthMethod string `yaml:"auth_method"` // approle, cert
	RoleID     string `yaml:"role_id"`
	SecretID   string `yaml:"secret_id"`
	CACert     string `yaml:"ca_cert"`
	ClientCert string `yaml:"client_cert"`
	ClientKey  string `yaml:"client_key"`
}

// CORSConfig controls cross-origin access for the dashboard frontend.
type CORSConfig struct {
	Enabled          bool          `yaml:"enabled"`
	AllowedOrigins   []string      `yaml:"allowed_origins"`
	AllowCredentials bool          `yaml:"allow_credentials"`
	AllowMethods     []string      `yaml:"allow_methods"`
	AllowHeaders     []string      `yaml:"allow_headers"`
	ExposeHeaders    []string      `yaml:"expose_headers"`
	MaxAge           time.Duration `yaml:"max_age"`
}

// HealthCheckConfig controls background dependency probing.
type HealthCheckConfig struct {
	Enabled          bool          `yaml:"enabled"`
	Interval         time.Duration `yaml:"interval"`
	Timeout          time.Duration `yaml:"timeout"`
	FailureThreshold int           `yaml:"failure_threshold"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// TracingConfig contains OpenTelemetry tracing settings.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`     // OTLP endpoint (e.g., "localhost:4317")
	ServiceName string  `yaml:"service_name"` // Service name for traces
	SampleRate  float64 `yaml:"sample_rate"`  // Sampling rate (0.0 to 1.0)
	Insecure    bool    `yaml:"insecure"`     // Use insecure connection (no TLS)
}

// DefaultLimitClasses returns the built-in limiter classes.
func DefaultLimitClasses() map[string]LimitClassConfig {
	return map[string]LimitClassConfig{
		ClassAuth:      {Max: 5, Window: 15 * time.Minute},
		ClassAPI:       {Max: 100, Window: time.Minute},
		ClassAnalytics: {Max: 40, Window: time.Minute},
	}
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			BaseURL:      "http://localhost:8080",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Backend: BackendConfig{
			Timeout:        10 * time.Second,
			RosterCacheTTL: time.Minute,
			HealthPath:     "/health",
			Breaker: BreakerConfig{
				FailureThreshold: 5,
				Cooldown:         30 * time.Second,
			},
		},
		Auth: AuthConfig{
			Session: SessionConfig{
				CookieName:      "supportgate_session",
				StateCookieName: "supportgate_oidc_state",
				CookiePath:      "/",
				CookieSecure:    true,
				CookieSameSite:  "lax",
				TTL:             24 * time.Hour,
				StateTTL:        10 * time.Minute,
			},
			OIDC: OIDCConfig{
				Scopes: []string{"openid", "profile", "email"},
			},
		},
		RateLimit: RateLimitConfig{
			Enabled:         true,
			Backend:         "memory",
			CleanupInterval: 5 * time.Minute,
			FailOpen:        false,
			Classes:         DefaultLimitClasses(),
			Redis: RedisConfig{
				Addr:      "localhost:6379",
				KeyPrefix: "supportgate:rl",
			},
		},
		Audit: AuditConfig{
			Enabled: true,
			Backend: "memory",
			Postgres: PostgresConfig{
				MaxOpenConns: 10,
				MaxIdleConns: 2,
				ConnLifetime: 5 * time.Minute,
			},
		},
		Secrets: SecretsConfig{
			CacheTTL: 5 * time.Minute,
		},
		CORS: CORSConfig{
			AllowCredentials: true,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Authorization", "Content-Type", "X-Request-ID"},
			ExposeHeaders:    []string{"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
			MaxAge:           10 * time.Minute,
		},
		HealthCheck: HealthCheckConfig{
			Enabled:          true,
			Interval:         30 * time.Second,
			Timeout:          5 * time.Second,
			FailureThreshold: 3,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			Endpoint:    "localhost:4317",
			ServiceName: "supportgate",
			SampleRate:  1.0,
			Insecure:    true,
		},
	}
}

// LoadFromFile reads and parses a YAML configuration file.
// Environment variables in the format ${VAR_NAME} are expanded, then the
// SUPPORTGATE_* overrides are applied on top.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse builds a validated configuration from raw YAML.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	cfg.fillClassDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v, ok := os.LookupEnv(EnvAllowedRedirectOrigins); ok {
		c.Auth.AllowedRedirectOrigins = ParseOriginList(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvSessionSecret)); v != "" {
		c.Auth.Session.Secret = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvBaseURL)); v != "" {
		c.Server.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvBackendURL)); v != "" {
		c.Backend.BaseURL = v
	}
}

// fillClassDefaults restores built-in classes a partial `classes:` map left out.
func (c *Config) fillClassDefaults() {
	if c.RateLimit.Classes == nil {
		c.RateLimit.Classes = make(map[string]LimitClassConfig)
	}
	for name, class := range DefaultLimitClasses() {
		if _, ok := c.RateLimit.Classes[name]; !ok {
			c.RateLimit.Classes[name] = class
		}
	}
}

// ParseOriginList splits a comma-separated origin list, dropping blanks.
func ParseOriginList(value string) []string {
	parts := strings.Split(value, ",")
	origins := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		origins = append(origins, part)
	}
	return origins
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if err := validateAbsoluteURL("server.base_url", c.Server.BaseURL); err != nil {
		return err
	}
	if err := validateAbsoluteURL("backend.base_url", c.Backend.BaseURL); err != nil {
		return err
	}
	if c.Backend.Timeout < 0 {
		return fmt.Errorf("backend.timeout cannot be negative")
	}
	if c.Backend.Breaker.FailureThreshold < 0 || c.Backend.Breaker.Cooldown < 0 {
		return fmt.Errorf("backend.breaker values cannot be negative")
	}

	if strings.TrimSpace(c.Auth.Session.Secret) == "" {
		return fmt.Errorf("auth.session.secret is required")
	}
	if c.Auth.Session.TTL < 0 {
		return fmt.Errorf("auth.session.ttl cannot be negative")
	}
	if c.Auth.OIDC.IssuerURL != "" && c.Auth.OIDC.ClientID == "" {
		return fmt.Errorf("auth.oidc.client_id is required when issuer_url is set")
	}
	for i, origin := range c.Auth.AllowedRedirectOrigins {
		if origin == "*" {
			continue
		}
		if !strings.HasPrefix(origin, "http://") && !strings.HasPrefix(origin, "https://") {
			return fmt.Errorf("auth.allowed_redirect_origins[%d] %q: must be an http(s) origin or *", i, origin)
		}
	}

	switch c.RateLimit.Backend {
	case "", "memory":
	case "redis":
		if c.RateLimit.Redis.Addr == "" {
			return fmt.Errorf("rate_limit.redis.addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("rate_limit.backend %q is not supported", c.RateLimit.Backend)
	}
	if c.RateLimit.CleanupInterval < 0 {
		return fmt.Errorf("rate_limit.cleanup_interval cannot be negative")
	}
	for name, class := range c.RateLimit.Classes {
		if class.Max <= 0 {
			return fmt.Errorf("rate_limit.classes.%s: max must be positive", name)
		}
		if class.Window <= 0 {
			return fmt.Errorf("rate_limit.classes.%s: window must be positive", name)
		}
	}

	for i, route := range c.Routes {
		if !strings.HasPrefix(route.Prefix, "/") {
			return fmt.Errorf("routes[%d]: prefix %q must start with /", i, route.Prefix)
		}
		if _, ok := c.RateLimit.Classes[route.Class]; !ok {
			return fmt.Errorf("routes[%d]: unknown rate limit class %q", i, route.Class)
		}
	}

	switch c.Audit.Backend {
	case "", "memory":
	case "postgres":
		if c.Audit.Postgres.DSN == "" {
			return fmt.Errorf("audit.postgres.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("audit.backend %q is not supported", c.Audit.Backend)
	}

	if c.Audit.RetentionDays < 0 {
		return fmt.Errorf("audit.retention_days cannot be negative")
	}
	for i, origin := range c.CORS.AllowedOrigins {
		if origin == "*" && c.CORS.AllowCredentials {
			return fmt.Errorf("cors.allowed_origins[%d]: * cannot be combined with allow_credentials", i)
		}
	}

	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		return fmt.Errorf("tracing.sample_rate must be between 0 and 1")
	}

	return nil
}

func validateAbsoluteURL(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%s is required", field)
	}
	u, err := url.Parse(value)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%s %q must be an absolute URL", field, value)
	}
	return nil
}
