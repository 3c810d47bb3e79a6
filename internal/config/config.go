package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds the application configuration.
type Config struct {
	Environment string `env:"APP_ENV"`

	Database  DatabaseConfig
	Server    ServerConfig
	Log       LogConfig
	Redis     RedisConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Scheduler SchedulerConfig
	Telemetry TelemetryConfig
	TLS       TLSConfig

	// AuditSink is the file the receipt trail is appended to. Empty keeps
	// the trail in memory only.
	AuditSink string `env:"AUDIT_SINK"`
}

type DatabaseConfig struct {
	Driver string `env:"DATABASE_DRIVER"`
	URL    string `env:"DATABASE_URL"`
}

type ServerConfig struct {
	GRPCAddr        string        `env:"GRPC_ADDR" envDefault:":9090"`
	HTTPAddr        string        `env:"HTTP_ADDR" envDefault:":8080"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`
	// AdminAllowCIDRs restricts the admin routes by client address. Empty
	// allows every address.
	AdminAllowCIDRs []string `env:"ADMIN_ALLOW_CIDRS" envSeparator:","`
}

// TLSConfig enables TLS on both listeners when CertFile is set. CAFile
// verifies client certificates, required when RequireClientCert is on.
type TLSConfig struct {
	CertFile          string `env:"TLS_CERT_FILE"`
	KeyFile           string `env:"TLS_KEY_FILE"`
	CAFile            string `env:"TLS_CA_FILE"`
	RequireClientCert bool   `env:"TLS_REQUIRE_CLIENT_CERT" envDefault:"false"`
}

// Enabled reports whether a server certificate is configured.
func (t TLSConfig) Enabled() bool {
	return t.CertFile != ""
}

type LogConfig struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"json"`
}

// RedisConfig points at the Redis used for rate limiting and job locks.
// An empty Addr turns both off.
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
}

type AuthConfig struct {
	JWTSecret string `env:"JWT_SECRET"`
	Issuer    string `env:"JWT_ISSUER" envDefault:"doint-ledger"`
	Audience  string `env:"JWT_AUDIENCE" envDefault:"doint-api"`
}

type RateLimitConfig struct {
	Capacity   int     `env:"RATE_LIMIT_CAPACITY" envDefault:"60"`
	RefillRate float64 `env:"RATE_LIMIT_REFILL_PER_SECOND" envDefault:"1"`
}

type SchedulerConfig struct {
	Enabled        bool          `env:"SCHEDULER_ENABLED" envDefault:"true"`
	DailyInterval  time.Duration `env:"SCHEDULER_DAILY_INTERVAL" envDefault:"24h"`
	HourlyInterval time.Duration `env:"SCHEDULER_HOURLY_INTERVAL" envDefault:"1h"`
	RetryAttempts  int           `env:"SCHEDULER_RETRY_ATTEMPTS" envDefault:"5"`
	RetryBackoff   time.Duration `env:"SCHEDULER_RETRY_BACKOFF" envDefault:"2s"`
	LockTTL        time.Duration `env:"SCHEDULER_LOCK_TTL" envDefault:"10m"`
}

type TelemetryConfig struct {
	Endpoint    string `env:"OTEL_EXPORTER_ENDPOINT"`
	ServiceName string `env:"OTEL_SERVICE_NAME" envDefault:"doint-ledger"`
}

const minSecretLength = 32

// Load parses the environment and validates the result.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// IsProduction reports whether strict checks apply.
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "staging"
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	var missing []string

	if c.Environment == "" {
		missing = append(missing, "APP_ENV")
	}
	if c.Database.Driver == "" {
		missing = append(missing, "DATABASE_DRIVER")
	}
	if c.Database.URL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if c.IsProduction() {
		if c.Auth.JWTSecret == "" {
			missing = append(missing, "JWT_SECRET")
		}
		if c.AuditSink == "" {
			missing = append(missing, "AUDIT_SINK")
		}
	}
	if len(missing) > 0 {
		return errors.New("missing required environment variables: " + strings.Join(missing, ", "))
	}

	var invalid []string
	switch c.Database.Driver {
	case "postgres", "sqlite3":
	default:
		invalid = append(invalid, fmt.Sprintf("DATABASE_DRIVER must be postgres or sqlite3, got %q", c.Database.Driver))
	}
	if c.IsProduction() && len(c.Auth.JWTSecret) < minSecretLength {
		invalid = append(invalid, fmt.Sprintf("JWT_SECRET must be at least %d bytes", minSecretLength))
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		invalid = append(invalid, fmt.Sprintf("LOG_FORMAT must be json or text, got %q", c.Log.Format))
	}
	if c.Scheduler.DailyInterval <= 0 || c.Scheduler.HourlyInterval <= 0 {
		invalid = append(invalid, "scheduler intervals must be positive")
	}
	if c.Scheduler.RetryAttempts < 1 {
		invalid = append(invalid, "SCHEDULER_RETRY_ATTEMPTS must be at least 1")
	}
	if c.RateLimit.Capacity < 0 || c.RateLimit.RefillRate < 0 {
		invalid = append(invalid, "rate limit settings must not be negative")
	}
	if c.TLS.Enabled() && c.TLS.KeyFile == "" {
		invalid = append(invalid, "TLS_KEY_FILE is required with TLS_CERT_FILE")
	}
	if c.TLS.RequireClientCert && c.TLS.CAFile == "" {
		invalid = append(invalid, "TLS_CA_FILE is required with TLS_REQUIRE_CLIENT_CERT")
	}
	if len(invalid) > 0 {
		return errors.New("invalid configuration: " + strings.Join(invalid, "; "))
	}
	return nil
}
