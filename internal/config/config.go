package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
	_ "time/tzdata"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Token         TokenConfig
	Events        EventsConfig
	Reset         ResetConfig
	Observability ObservabilityConfig
	RateLimit     RateLimitConfig
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	// TrustProxy takes client addresses from X-Forwarded-For / X-Real-IP.
	TrustProxy   bool
}

// DatabaseConfig holds the profile store configuration
type DatabaseConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig holds the claims storage configuration used by the token service
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// TokenConfig holds signing parameters for caller tokens
type TokenConfig struct {
	Issuer        string
	SigningSecret string
	TTL           time.Duration
}

// EventsConfig holds the account-creation event trigger configuration
type EventsConfig struct {
	SharedSecret string
	Timeout      time.Duration // zero: provisioning runs until the stores answer
}

// ResetConfig holds the usage reset schedule
type ResetConfig struct {
	Enabled     bool
	Schedule    string // standard 5-field cron expression
	Timezone    string
	BatchSize   int
	Concurrency int
	RunTimeout  time.Duration // zero: a run is never cut short
}

// ObservabilityConfig holds logging and tracing configuration
type ObservabilityConfig struct {
	LogLevel       string
	LogFormat      string
	OTELEnabled    bool
	ServiceName    string
	ServiceVersion string
}

// MaxBatchSize is the largest number of writes the profile store accepts in one batch.
const MaxBatchSize = 500

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnv("SERVER_PORT", "8080"),
			ReadTimeout:  parseDuration("SERVER_READ_TIMEOUT", "15s"),
			WriteTimeout: parseDuration("SERVER_WRITE_TIMEOUT", "15s"),
			IdleTimeout:  parseDuration("SERVER_IDLE_TIMEOUT", "60s"),
			TrustProxy:   parseBool("SERVER_TRUST_PROXY", false),
		},
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnv("DB_PORT", "5432"),
			User:            getEnv("DB_USER", "entitlements"),
			Password:        getEnv("DB_PASSWORD", ""),
			Database:        getEnv("DB_NAME", "entitlements"),
			SSLMode:         getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:    parseInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    parseInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: parseDuration("DB_CONN_MAX_LIFETIME", "5m"),
		},
		Redis: RedisConfig{
			Addr:      getEnv("REDIS_ADDR", "localhost:6379"),
			Password:  getEnv("REDIS_PASSWORD", ""),
			DB:        parseInt("REDIS_DB", 0),
			KeyPrefix: getEnv("REDIS_KEY_PREFIX", "claims:"),
		},
		Token: TokenConfig{
			Issuer:        getEnv("TOKEN_ISSUER", "entitlements"),
			SigningSecret: getEnv("TOKEN_SIGNING_SECRET", ""),
			TTL:           parseDuration("TOKEN_TTL", "1h"),
		},
		Events: EventsConfig{
			SharedSecret: getEnv("EVENTS_SHARED_SECRET", ""),
			Timeout:      parseDuration("EVENTS_TIMEOUT", "0s"),
		},
		Reset: ResetConfig{
			Enabled:     parseBool("RESET_ENABLED", true),
			Schedule:    getEnv("RESET_SCHEDULE", "0 0 1 * *"),
			Timezone:    getEnv("RESET_TIMEZONE", "Asia/Seoul"),
			BatchSize:   parseInt("RESET_BATCH_SIZE", MaxBatchSize),
			Concurrency: parseInt("RESET_CONCURRENCY", 4),
			RunTimeout:  parseDuration("RESET_RUN_TIMEOUT", "0s"),
		},
		Observability: ObservabilityConfig{
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			LogFormat:      getEnv("LOG_FORMAT", "json"),
			OTELEnabled:    parseBool("OTEL_ENABLED", false),
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "entitlements"),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "0.1.0"),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: float64(parseInt("RATELIMIT_RPS", 10)),
			Burst:             parseInt("RATELIMIT_BURST", 20),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate validates the settings every command shares. Secrets are checked
// per command by ValidateCommand.
func (c *Config) Validate() error {
	if c.Database.Password == "" {
		return fmt.Errorf("DB_PASSWORD is required")
	}
	if c.Events.Timeout < 0 || c.Reset.RunTimeout < 0 {
		return fmt.Errorf("EVENTS_TIMEOUT and RESET_RUN_TIMEOUT must not be negative")
	}
	if c.Reset.BatchSize <= 0 || c.Reset.BatchSize > MaxBatchSize {
		return fmt.Errorf("RESET_BATCH_SIZE must be between 1 and %d", MaxBatchSize)
	}
	if c.Reset.Concurrency <= 0 {
		return fmt.Errorf("RESET_CONCURRENCY must be positive")
	}
	if _, err := time.LoadLocation(c.Reset.Timezone); err != nil {
		return fmt.Errorf("RESET_TIMEZONE %q: %w", c.Reset.Timezone, err)
	}
	return nil
}

// ValidateCommand checks the secrets cmd needs. migrate touches only the
// database; serve also accepts events; every other command signs or
// verifies tokens.
func (c *Config) ValidateCommand(cmd string) error {
	switch cmd {
	case "migrate":
		return nil
	case "serve":
		if err := c.validateTokenSecret(); err != nil {
			return err
		}
		if c.Events.SharedSecret == "" {
			return fmt.Errorf("EVENTS_SHARED_SECRET is required")
		}
		return nil
	default:
		return c.validateTokenSecret()
	}
}

func (c *Config) validateTokenSecret() error {
	if len(c.Token.SigningSecret) < 32 {
		return fmt.Errorf("TOKEN_SIGNING_SECRET must be at least 32 bytes")
	}
	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func parseBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func parseDuration(key string, defaultValue string) time.Duration {
	value := getEnv(key, defaultValue)
	d, err := time.ParseDuration(value)
	if err != nil {
		// Fallback to default
		d, _ = time.ParseDuration(defaultValue)
	}
	return d
}
