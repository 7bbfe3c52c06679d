// Package config provides configuration for the back-office server.
package config

import (
	"encoding/json"
	"os"
	"strconv"
	"time"
)

// Config holds the server configuration.
type Config struct {
	// Server settings
	ListenAddr string
	BaseURL    string

	// Database
	DatabaseURL string

	// Secrets
	JWTSecret     string
	StateSecret   string
	EncryptionKey string // hex-encoded 32-byte key for client secrets

	// Session settings
	SessionTTL time.Duration

	// SCIM calls allowed per config per minute
	ScimRateLimit int

	// Global fallback group→role mapping, merged under each config's
	// own mapping during role sync. Parsed once at startup and passed
	// by reference; never read from the environment after this.
	GlobalGroupMapping map[string]string

	// Logging
	LogLevel  string
	LogFormat string
}

// FromEnv loads configuration from environment variables.
func FromEnv() *Config {
	return &Config{
		ListenAddr:         getEnv("LISTEN_ADDR", ":8080"),
		BaseURL:            getEnv("BASE_URL", "http://localhost:8080"),
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		JWTSecret:          getEnv("JWT_SECRET", ""),
		StateSecret:        getEnv("SSO_STATE_SECRET", ""),
		EncryptionKey:      getEnv("ENCRYPTION_KEY", ""),
		SessionTTL:         getEnvDuration("SESSION_TTL", 12*time.Hour),
		ScimRateLimit:      getEnvInt("SCIM_RATE_LIMIT", 120),
		GlobalGroupMapping: getEnvJSONMap("SSO_GLOBAL_GROUP_MAPPING"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		LogFormat:          getEnv("LOG_FORMAT", "text"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
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

func getEnvJSONMap(key string) map[string]string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(value), &m); err != nil {
		return nil
	}
	return m
}
