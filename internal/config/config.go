// Package config provides configuration management for the template service.
// It handles loading configuration from environment variables with sensible
// defaults and validates the configuration to ensure the service starts safely.
//
// Environment Variables:
//
// Application Settings:
//   - PORT: Server port (default: 8080)
//   - LOG_LEVEL: Logging level (default: info)
//
// Database Configuration:
//   - DATABASE_TYPE: Database type - "sqlite" or "postgres" (default: sqlite)
//   - DATABASE_PATH: SQLite database file path (default: ./templates.db)
//   - POSTGRES_HOST: PostgreSQL host (required if using PostgreSQL)
//   - POSTGRES_PORT: PostgreSQL port (default: 5432)
//   - POSTGRES_DB: PostgreSQL database name (required if using PostgreSQL)
//   - POSTGRES_USER: PostgreSQL username (required if using PostgreSQL)
//   - POSTGRES_PASSWORD: PostgreSQL password
//   - POSTGRES_SSL_MODE: PostgreSQL SSL mode (default: disable)
//
// Redis Configuration:
//   - REDIS_ADDRESS: Redis server address (default: localhost:6379)
//   - REDIS_PASSWORD: Redis password
//   - REDIS_DB: Redis database number 0-15 (default: 0)
//   - REDIS_POOL_SIZE: Redis connection pool size (default: 50)
//   - REDIS_SOCKET_TIMEOUT: Per-operation socket timeout (default: 5s)
//   - REDIS_MAX_RETRIES: Attempt cap for transient failures (default: 3)
//
// Template Cache:
//   - TEMPLATE_CACHE_ENABLED: Enable the in-process mirror cache (default: true)
//   - TEMPLATE_CACHE_TTL: Cache-aside entry TTL (default: 300s)
//   - TEMPLATE_CACHE_SYNC_INTERVAL: Mirror refresh poll interval (default: 60s)
//   - TEMPLATE_CACHE_NAMESPACE: Version counter namespace (default: templates)
//   - TEMPLATE_CACHE_MEMORY_LIMIT_MB: Mirror memory ceiling before eviction (default: 100)
//   - TEMPLATE_CACHE_WARMUP_COUNT: Top-used templates pre-rendered at startup (default: 10)
//
// Rendering:
//   - TEMPLATE_RENDER_TIMEOUT: Render queuing budget (default: 5s)
//
// Usage Logs:
//   - USAGE_LOG_RETENTION_DAYS: Retention window for usage logs (default: 90)
//   - USAGE_LOG_CLEANUP_SCHEDULE: Cron schedule for the retention job (default: "0 3 * * *")
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration values for the template service.
// All fields correspond to environment variables that can be set to
// override the default values.
type Config struct {
	// Application settings
	Port     string // Server port number
	LogLevel string // Logging level (debug, info, warn, error)

	// Database configuration
	DatabaseType     string // Database type: "sqlite" or "postgres"
	DatabasePath     string // Path to SQLite database file
	PostgresHost     string // PostgreSQL host address
	PostgresPort     string // PostgreSQL port number
	PostgresDB       string // PostgreSQL database name
	PostgresUser     string // PostgreSQL username
	PostgresPassword string // PostgreSQL password
	PostgresSSLMode  string // PostgreSQL SSL mode (disable, require, etc.)

	// Redis configuration for the shared cache/counter store
	RedisAddress       string // Redis server address (host:port)
	RedisPassword      string // Redis authentication password
	RedisDB            string // Redis database number (0-15)
	RedisPoolSize      string // Redis connection pool size
	RedisSocketTimeout string // Per-operation socket timeout
	RedisMaxRetries    string // Attempt cap for transient failures

	// Template cache configuration
	CacheEnabled       bool   // Whether the mirror cache runs at all
	CacheTTL           string // Cache-aside entry TTL
	CacheSyncInterval  string // Mirror refresh poll interval
	CacheNamespace     string // Version counter namespace
	CacheMemoryLimitMB string // Mirror memory ceiling in MB
	CacheWarmupCount   string // Templates pre-rendered at startup

	// Rendering configuration
	RenderTimeout string // Render queuing budget

	// Usage log retention
	UsageLogRetentionDays string // Days of usage logs to keep
	UsageLogCleanupCron   string // Cron schedule for the retention job
}

// Load creates a new Config instance with values loaded from environment
// variables. If an environment variable is not set, the corresponding
// default value is used.
//
// This function does not validate the configuration - call Validate() on the
// returned Config to ensure all required values are properly set and valid.
func Load() *Config {
	return &Config{
		Port:     getEnv("PORT", "8080"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		DatabaseType:     getEnv("DATABASE_TYPE", "sqlite"),
		DatabasePath:     getEnv("DATABASE_PATH", "./templates.db"),
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresDB:       getEnv("POSTGRES_DB", "templates"),
		PostgresUser:     getEnv("POSTGRES_USER", "postgres"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", ""),
		PostgresSSLMode:  getEnv("POSTGRES_SSL_MODE", "disable"),

		RedisAddress:       getEnv("REDIS_ADDRESS", "localhost:6379"),
		RedisPassword:      getEnv("REDIS_PASSWORD", ""),
		RedisDB:            getEnv("REDIS_DB", "0"),
		RedisPoolSize:      getEnv("REDIS_POOL_SIZE", "50"),
		RedisSocketTimeout: getEnv("REDIS_SOCKET_TIMEOUT", "5s"),
		RedisMaxRetries:    getEnv("REDIS_MAX_RETRIES", "3"),

		CacheEnabled:       getBoolEnv("TEMPLATE_CACHE_ENABLED", true),
		CacheTTL:           getEnv("TEMPLATE_CACHE_TTL", "300s"),
		CacheSyncInterval:  getEnv("TEMPLATE_CACHE_SYNC_INTERVAL", "60s"),
		CacheNamespace:     getEnv("TEMPLATE_CACHE_NAMESPACE", "templates"),
		CacheMemoryLimitMB: getEnv("TEMPLATE_CACHE_MEMORY_LIMIT_MB", "100"),
		CacheWarmupCount:   getEnv("TEMPLATE_CACHE_WARMUP_COUNT", "10"),

		RenderTimeout: getEnv("TEMPLATE_RENDER_TIMEOUT", "5s"),

		UsageLogRetentionDays: getEnv("USAGE_LOG_RETENTION_DAYS", "90"),
		UsageLogCleanupCron:   getEnv("USAGE_LOG_CLEANUP_SCHEDULE", "0 3 * * *"),
	}
}

// getEnv retrieves an environment variable value or returns a default value if not set.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getBoolEnv retrieves a boolean environment variable value or returns a default value.
func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// Validate performs validation on the configuration to ensure all required
// fields are present and all values are valid. The service should call this
// after loading configuration and before starting.
func (c *Config) Validate() error {
	if port, err := strconv.Atoi(c.Port); err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("PORT must be a valid port number between 1 and 65535")
	}

	switch c.DatabaseType {
	case "sqlite", "postgres", "postgresql":
		// Valid database types
	default:
		return fmt.Errorf("DATABASE_TYPE must be 'sqlite' or 'postgres'")
	}

	if c.DatabaseType == "postgres" || c.DatabaseType == "postgresql" {
		if c.PostgresHost == "" {
			return fmt.Errorf("POSTGRES_HOST is required when using PostgreSQL")
		}
		if c.PostgresDB == "" {
			return fmt.Errorf("POSTGRES_DB is required when using PostgreSQL")
		}
		if c.PostgresUser == "" {
			return fmt.Errorf("POSTGRES_USER is required when using PostgreSQL")
		}
		if port, err := strconv.Atoi(c.PostgresPort); err != nil || port < 1 || port > 65535 {
			return fmt.Errorf("POSTGRES_PORT must be a valid port number")
		}
	}

	if c.RedisAddress != "" {
		if db, err := strconv.Atoi(c.RedisDB); err != nil || db < 0 || db > 15 {
			return fmt.Errorf("REDIS_DB must be a number between 0 and 15")
		}
		if poolSize, err := strconv.Atoi(c.RedisPoolSize); err != nil || poolSize < 1 {
			return fmt.Errorf("REDIS_POOL_SIZE must be a positive number")
		}
		if _, err := time.ParseDuration(c.RedisSocketTimeout); err != nil {
			return fmt.Errorf("REDIS_SOCKET_TIMEOUT must be a valid duration (e.g., '5s')")
		}
		if retries, err := strconv.Atoi(c.RedisMaxRetries); err != nil || retries < 1 {
			return fmt.Errorf("REDIS_MAX_RETRIES must be a positive number")
		}
	}

	if _, err := time.ParseDuration(c.CacheTTL); err != nil {
		return fmt.Errorf("TEMPLATE_CACHE_TTL must be a valid duration (e.g., '300s')")
	}
	if _, err := time.ParseDuration(c.CacheSyncInterval); err != nil {
		return fmt.Errorf("TEMPLATE_CACHE_SYNC_INTERVAL must be a valid duration (e.g., '60s')")
	}
	if limit, err := strconv.Atoi(c.CacheMemoryLimitMB); err != nil || limit < 1 {
		return fmt.Errorf("TEMPLATE_CACHE_MEMORY_LIMIT_MB must be a positive number")
	}
	if warmup, err := strconv.Atoi(c.CacheWarmupCount); err != nil || warmup < 0 {
		return fmt.Errorf("TEMPLATE_CACHE_WARMUP_COUNT must be zero or a positive number")
	}

	if _, err := time.ParseDuration(c.RenderTimeout); err != nil {
		return fmt.Errorf("TEMPLATE_RENDER_TIMEOUT must be a valid duration (e.g., '5s')")
	}

	if days, err := strconv.Atoi(c.UsageLogRetentionDays); err != nil || days < 1 {
		return fmt.Errorf("USAGE_LOG_RETENTION_DAYS must be a positive number")
	}

	return nil
}

// RedisSocketTimeoutDuration returns the parsed socket timeout.
// Validate must have been called first.
func (c *Config) RedisSocketTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.RedisSocketTimeout)
	return d
}

// CacheTTLDuration returns the parsed cache-aside TTL.
func (c *Config) CacheTTLDuration() time.Duration {
	d, _ := time.ParseDuration(c.CacheTTL)
	return d
}

// CacheSyncIntervalDuration returns the parsed mirror sync interval.
func (c *Config) CacheSyncIntervalDuration() time.Duration {
	d, _ := time.ParseDuration(c.CacheSyncInterval)
	return d
}

// RenderTimeoutDuration returns the parsed render budget.
func (c *Config) RenderTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.RenderTimeout)
	return d
}
