package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the application.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	NewRelic   NewRelicConfig
	Storage    StorageConfig
	Lock       LockConfig
	Events     EventsConfig
	Auth       AuthConfig
	Assignment AssignmentConfig
}

// Storage backends.
const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// Lock backends.
const (
	LockMemory = "memory"
	LockRedis  = "redis"
)

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port           string
	ReadTimeout    time.Duration
	AllowedOrigins []string
}

// DatabaseConfig holds PostgreSQL configuration.
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig holds Redis configuration. With Enabled false the service runs
// without the driver cache, nearby search and idempotent replay.
type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

// NewRelicConfig holds New Relic configuration.
type NewRelicConfig struct {
	AppName    string
	LicenseKey string
	Enabled    bool
}

// StorageConfig selects where reservations, drivers and refunds are kept.
type StorageConfig struct {
	Backend     string
	AutoMigrate bool
}

// LockConfig selects the keyed lock used to serialize reservation and driver writes.
// The redis backend is required when more than one engine process shares a store.
type LockConfig struct {
	Backend string
	TTL     time.Duration
}

// EventsConfig holds RabbitMQ settings for lifecycle events. An empty URL keeps
// events in-process (notification log only).
type EventsConfig struct {
	RabbitURL    string
	Exchange     string
	MaxRetries   int
	InitialDelay time.Duration
}

// AuthConfig holds bearer token settings.
type AuthConfig struct {
	JWTSecret string
}

// AssignmentConfig holds stale-assignment monitor settings.
type AssignmentConfig struct {
	StaleAfter   time.Duration
	ScanInterval time.Duration
}

// Load loads configuration from environment variables.
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           getEnv("SERVER_PORT", "8080"),
			ReadTimeout:    getDurationEnv("SERVER_READ_TIMEOUT", 10*time.Second),
			AllowedOrigins: getListEnv("CORS_ALLOWED_ORIGINS", []string{"*"}),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "ridebook"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Enabled:  getBoolEnv("REDIS_ENABLED", true),
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),
		},
		NewRelic: NewRelicConfig{
			AppName:    getEnv("NEW_RELIC_APP_NAME", "ridebook"),
			LicenseKey: getEnv("NEW_RELIC_LICENSE_KEY", ""),
			Enabled:    getBoolEnv("NEW_RELIC_ENABLED", false),
		},
		Storage: StorageConfig{
			Backend:     getEnv("STORAGE_BACKEND", StoragePostgres),
			AutoMigrate: getBoolEnv("DB_AUTO_MIGRATE", true),
		},
		Lock: LockConfig{
			Backend: getEnv("LOCK_BACKEND", LockMemory),
			TTL:     getDurationEnv("LOCK_TTL", 10*time.Second),
		},
		Events: EventsConfig{
			RabbitURL:    getEnv("RABBITMQ_URL", ""),
			Exchange:     getEnv("EVENTS_EXCHANGE", "reservation_events"),
			MaxRetries:   getIntEnv("RABBITMQ_MAX_RETRIES", 10),
			InitialDelay: getDurationEnv("RABBITMQ_RETRY_DELAY", time.Second),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", ""),
		},
		Assignment: AssignmentConfig{
			StaleAfter:   getDurationEnv("ASSIGNMENT_STALE_AFTER", 10*time.Minute),
			ScanInterval: getDurationEnv("ASSIGNMENT_STALE_SCAN_INTERVAL", time.Minute),
		},
	}
}

// Validate checks combinations that would otherwise fail at first use.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case StoragePostgres, StorageMemory:
	default:
		return fmt.Errorf("unknown STORAGE_BACKEND %q", c.Storage.Backend)
	}

	switch c.Lock.Backend {
	case LockMemory:
	case LockRedis:
		if !c.Redis.Enabled {
			return fmt.Errorf("LOCK_BACKEND=redis requires REDIS_ENABLED")
		}
		if c.Lock.TTL <= 0 {
			return fmt.Errorf("LOCK_TTL must be positive")
		}
	default:
		return fmt.Errorf("unknown LOCK_BACKEND %q", c.Lock.Backend)
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	if c.Assignment.StaleAfter <= 0 || c.Assignment.ScanInterval <= 0 {
		return fmt.Errorf("ASSIGNMENT_STALE_AFTER and ASSIGNMENT_STALE_SCAN_INTERVAL must be positive")
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getListEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
