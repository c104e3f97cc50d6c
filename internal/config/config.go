package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	Port string
	Env  string

	// DATABASE_URL selects PostgreSQL for the room directory; SQLITE_PATH
	// selects SQLite. With neither set, the directory is in-memory.
	DatabaseURL string
	SQLitePath  string
	// REDIS_URL selects Redis for message logs; unset means in-memory.
	RedisURL string

	// JWTSecret verifies identity-provider tokens.
	JWTSecret string

	// RoomDeletePolicy is "creator" or "participant".
	RoomDeletePolicy string

	// RequestTimeout bounds each mutating operation, including its
	// internal retries.
	RequestTimeout time.Duration

	// CodeAttempts bounds invite-code generation retries; CASRetries
	// bounds optimistic-concurrency retries on joins.
	CodeAttempts int
	CASRetries   int
}

// Load reads configuration from environment variables. In development it
// loads from a .env file if present. In production it panics on missing
// required variables.
func Load() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		Port:             getEnv("PORT", "8080"),
		Env:              getEnv("ENV", "development"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		SQLitePath:       os.Getenv("SQLITE_PATH"),
		RedisURL:         os.Getenv("REDIS_URL"),
		JWTSecret:        os.Getenv("JWT_SECRET"),
		RoomDeletePolicy: getEnv("ROOM_DELETE_POLICY", "creator"),
		RequestTimeout:   getDuration("REQUEST_TIMEOUT", 5*time.Second),
		CodeAttempts:     getInt("INVITE_CODE_ATTEMPTS", 5),
		CASRetries:       getInt("JOIN_RETRIES", 5),
	}

	if cfg.Env == "production" {
		if cfg.JWTSecret == "" {
			panic("JWT_SECRET is required in production")
		}
	}
	return cfg
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
