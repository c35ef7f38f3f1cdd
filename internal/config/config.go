// Package config loads service settings from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all service configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "text" or "json"

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Security
	AdminSecret   string // X-Admin-Secret value for admin routes
	RateLimitRPM  int
	AllowedOrigin string

	// Analysis
	MaxTransactions int    // snapshot cap per run
	Timezone        string // IANA zone for hour-of-day rules, "Local" for host zone
	SessionTTL      time.Duration

	// Ledger janitor
	PendingMaxAge   time.Duration
	CleanupInterval time.Duration

	// Tracing
	OTLPEndpoint string // empty disables tracing
}

const (
	DefaultPort            = "8080"
	DefaultEnv             = "development"
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "text"
	DefaultRateLimitRPM    = 120
	DefaultMaxTransactions = 5000
	DefaultTimezone        = "Local"
	DefaultSessionTTL      = time.Hour
	DefaultPendingMaxAge   = 10 * time.Minute
	DefaultCleanupInterval = 3 * time.Hour
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:            getEnv("PORT", DefaultPort),
		Env:             getEnv("ENV", DefaultEnv),
		LogLevel:        getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:       getEnv("LOG_FORMAT", DefaultLogFormat),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		AdminSecret:     os.Getenv("ADMIN_SECRET"),
		RateLimitRPM:    int(getEnvInt64("RATE_LIMIT_RPM", DefaultRateLimitRPM)),
		AllowedOrigin:   os.Getenv("CORS_ALLOWED_ORIGIN"),
		MaxTransactions: int(getEnvInt64("ANALYSIS_MAX_TRANSACTIONS", DefaultMaxTransactions)),
		Timezone:        getEnv("ANALYSIS_TIMEZONE", DefaultTimezone),
		SessionTTL:      getEnvDuration("SESSION_TTL", DefaultSessionTTL),
		PendingMaxAge:   getEnvDuration("PENDING_TX_MAX_AGE", DefaultPendingMaxAge),
		CleanupInterval: getEnvDuration("CLEANUP_INTERVAL", DefaultCleanupInterval),
		OTLPEndpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.AdminSecret == "" && !c.IsDevelopment() {
		return fmt.Errorf("ADMIN_SECRET is required outside development")
	}
	if c.MaxTransactions <= 0 {
		return fmt.Errorf("ANALYSIS_MAX_TRANSACTIONS must be positive")
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("ANALYSIS_TIMEZONE: %w", err)
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be positive")
	}
	if c.PendingMaxAge <= 0 || c.CleanupInterval <= 0 {
		return fmt.Errorf("PENDING_TX_MAX_AGE and CLEANUP_INTERVAL must be positive")
	}
	return nil
}

// Location resolves Timezone. Empty or "Local" is the host zone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
