package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/LockTrip/b2b-integration/internal/domain"
	pkgconfig "github.com/LockTrip/b2b-integration/pkg/config"
)

// Config holds all configuration for the booking service.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// HTTP server
	HTTPPort int `env:"BOOKING_HTTP_PORT" envDefault:"8080"`

	// Supplier API
	SupplierBaseURL string `env:"SUPPLIER_BASE_URL" envDefault:"http://localhost:9100/api/v2"`
	SupplierAPIKey  string `env:"SUPPLIER_API_KEY"`

	// Supplier HTTP client
	SupplierTimeoutSecs int `env:"SUPPLIER_TIMEOUT_SECONDS" envDefault:"30"`
	SupplierMaxRetries  int `env:"SUPPLIER_MAX_RETRIES" envDefault:"3"`

	// Workflow orchestration
	PollInitialDelaySecs int     `env:"POLL_INITIAL_DELAY_SECONDS" envDefault:"2"`
	PollIntervalSecs     int     `env:"POLL_INTERVAL_SECONDS" envDefault:"3"`
	PollMaxAttempts      int     `env:"POLL_MAX_ATTEMPTS" envDefault:"10"`
	PriceCeiling         float64 `env:"PRICE_CEILING" envDefault:"0"`
	SessionTTLMins       int     `env:"SESSION_TTL_MINUTES" envDefault:"30"`
	DefaultMode          string  `env:"DEFAULT_MODE" envDefault:"search_only"`

	// Stale run reaper
	ReapIntervalMins int `env:"STALE_RUN_REAP_INTERVAL_MINUTES" envDefault:"5"`
	StaleRunTTLMins  int `env:"STALE_RUN_TTL_MINUTES" envDefault:"60"`

	// PostgreSQL
	PostgresHost string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort int    `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser string `env:"POSTGRES_USER" envDefault:"booking"`
	PostgresPass string `env:"POSTGRES_PASSWORD" envDefault:"booking_secret"`
	PostgresDB   string `env:"BOOKING_DB_NAME" envDefault:"booking_db"`
	PostgresSSL  string `env:"POSTGRES_SSL_MODE" envDefault:"disable"`

	// Database pool
	DBMaxConns            int32 `env:"DB_MAX_CONNS" envDefault:"25"`
	DBMinConns            int32 `env:"DB_MIN_CONNS" envDefault:"5"`
	DBMaxConnLifetimeMins int   `env:"DB_MAX_CONN_LIFETIME_MINUTES" envDefault:"60"`
	DBMaxConnIdleTimeMins int   `env:"DB_MAX_CONN_IDLE_TIME_MINUTES" envDefault:"30"`
	DBSlowQueryMs         int   `env:"DB_SLOW_QUERY_THRESHOLD_MS" envDefault:"200"`

	// Redis
	RedisHost        string `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort        int    `env:"REDIS_PORT" envDefault:"6379"`
	RedisPassword    string `env:"REDIS_PASSWORD"`
	RedisDB          int    `env:"REDIS_DB" envDefault:"0"`
	LocationTTLHours int    `env:"LOCATION_CACHE_TTL_HOURS" envDefault:"24"`
	LocationCacheOn  bool   `env:"LOCATION_CACHE_ENABLED" envDefault:"true"`

	// Kafka
	KafkaBrokers []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`

	// Circuit breaker settings for supplier calls
	CBMaxRequests  uint32  `env:"CB_MAX_REQUESTS" envDefault:"1"`
	CBInterval     int     `env:"CB_INTERVAL_SECONDS" envDefault:"60"`
	CBTimeout      int     `env:"CB_TIMEOUT_SECONDS" envDefault:"30"`
	CBFailureRatio float64 `env:"CB_FAILURE_RATIO" envDefault:"0.5"`
	CBMinRequests  uint32  `env:"CB_MIN_REQUESTS" envDefault:"5"`

	// OpenTelemetry
	OTELEnabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTELEndpoint   string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4318"`
	OTELSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`

	// Pprof debug endpoints (IP allowlist in CIDR notation)
	PprofAllowedCIDRs []string `env:"PPROF_ALLOWED_CIDRS" envDefault:"10.0.0.0/8,172.16.0.0/12,192.168.0.0/16,127.0.0.0/8,::1/128" envSeparator:","`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load booking config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate checks configuration invariants.
func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.SupplierBaseURL == "" {
		return fmt.Errorf("SUPPLIER_BASE_URL is required")
	}
	if _, err := url.ParseRequestURI(c.SupplierBaseURL); err != nil {
		return fmt.Errorf("invalid SUPPLIER_BASE_URL %q: %w", c.SupplierBaseURL, err)
	}
	if c.PollMaxAttempts < 1 {
		return fmt.Errorf("POLL_MAX_ATTEMPTS must be at least 1, got %d", c.PollMaxAttempts)
	}
	if c.PollIntervalSecs < 0 || c.PollInitialDelaySecs < 0 {
		return fmt.Errorf("poll delays must not be negative")
	}
	if c.PriceCeiling < 0 {
		return fmt.Errorf("PRICE_CEILING must not be negative, got %f", c.PriceCeiling)
	}
	modeValid := false
	for _, m := range domain.ValidModes() {
		if c.DefaultMode == m {
			modeValid = true
			break
		}
	}
	if !modeValid {
		return fmt.Errorf("DEFAULT_MODE must be one of %v, got %q", domain.ValidModes(), c.DefaultMode)
	}
	if c.PostgresHost == "" {
		return fmt.Errorf("POSTGRES_HOST is required")
	}
	if c.PostgresUser == "" {
		return fmt.Errorf("POSTGRES_USER is required")
	}
	if len(c.KafkaBrokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required")
	}
	if c.OTELSampleRate < 0 || c.OTELSampleRate > 1.0 {
		return fmt.Errorf("OTEL_SAMPLE_RATE must be between 0.0 and 1.0, got %f", c.OTELSampleRate)
	}
	return nil
}

// SlowQueryThreshold returns the slow query warning threshold.
func (c *Config) SlowQueryThreshold() time.Duration {
	return time.Duration(c.DBSlowQueryMs) * time.Millisecond
}

// ReapInterval returns how often the stale run reaper wakes up.
func (c *Config) ReapInterval() time.Duration {
	return time.Duration(c.ReapIntervalMins) * time.Minute
}

// StaleRunTTL returns how long a non-terminal run may sit without progress
// before it is reaped.
func (c *Config) StaleRunTTL() time.Duration {
	return time.Duration(c.StaleRunTTLMins) * time.Minute
}

// PollInitialDelay returns the initial poll delay as a duration.
func (c *Config) PollInitialDelay() time.Duration {
	return time.Duration(c.PollInitialDelaySecs) * time.Second
}

// PollInterval returns the per-attempt poll delay as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSecs) * time.Second
}

// SessionTTL returns the search session validity window as a duration.
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLMins) * time.Minute
}

// PostgresDSN returns the PostgreSQL connection string.
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.PostgresUser, c.PostgresPass, c.PostgresHost, c.PostgresPort, c.PostgresDB, c.PostgresSSL,
	)
}
