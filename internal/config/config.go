package config

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	// Environment
	GoEnv string `env:"GO_ENV" default:"development"`

	// WebSocket listener
	WSHost string `env:"WS_HOST" default:"0.0.0.0"`
	WSPort int    `env:"WS_PORT" default:"30000"`

	// Admin HTTP server (0 = disabled)
	AdminPort int `env:"ADMIN_PORT" default:"0"`

	// Admission and flow control (0 = unbounded)
	MaxConnections   int `env:"MAX_CONNECTIONS" default:"0"`
	MessageRateLimit int `env:"MESSAGE_RATE_LIMIT" default:"0"`
	MessageRateBurst int `env:"MESSAGE_RATE_BURST" default:"20"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" default:"debug"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	// .env is optional; system env vars still apply
	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read .env file: %w", err)
	}

	config := &Config{}

	if err := loadEnvString(&config.GoEnv, "GO_ENV", "development"); err != nil {
		return nil, err
	}

	// Listener
	if err := loadEnvString(&config.WSHost, "WS_HOST", "0.0.0.0"); err != nil {
		return nil, err
	}
	if err := loadEnvInt(&config.WSPort, "WS_PORT", 30000); err != nil {
		return nil, err
	}
	if err := loadEnvInt(&config.AdminPort, "ADMIN_PORT", 0); err != nil {
		return nil, err
	}

	// Limits
	if err := loadEnvInt(&config.MaxConnections, "MAX_CONNECTIONS", 0); err != nil {
		return nil, err
	}
	if err := loadEnvInt(&config.MessageRateLimit, "MESSAGE_RATE_LIMIT", 0); err != nil {
		return nil, err
	}
	if err := loadEnvInt(&config.MessageRateBurst, "MESSAGE_RATE_BURST", 20); err != nil {
		return nil, err
	}

	// Logging
	if err := loadEnvString(&config.LogLevel, "LOG_LEVEL", "debug"); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.LogFormat, "LOG_FORMAT", "text"); err != nil {
		return nil, err
	}
	return config, nil
}

// Helper functions for type conversion
func loadEnvString(target *string, key, defaultValue string) error {
	if value := os.Getenv(key); value != "" {
		*target = strings.TrimSpace(value)
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvInt(target *int, key string, defaultValue int) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("invalid integer value for %s: %w", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

// Validate performs validation on the loaded configuration
func (c *Config) Validate() error {
	var errors []string

	if c.WSPort < 1 || c.WSPort > 65535 {
		errors = append(errors, "WS_PORT must be between 1 and 65535")
	}
	if c.AdminPort < 0 || c.AdminPort > 65535 {
		errors = append(errors, "ADMIN_PORT must be between 0 and 65535")
	}
	if c.AdminPort != 0 && c.AdminPort == c.WSPort {
		errors = append(errors, "ADMIN_PORT must differ from WS_PORT")
	}

	if c.MaxConnections < 0 {
		errors = append(errors, "MAX_CONNECTIONS must not be negative")
	}
	if c.MessageRateLimit < 0 {
		errors = append(errors, "MESSAGE_RATE_LIMIT must not be negative")
	}
	if c.MessageRateLimit > 0 && c.MessageRateBurst < 1 {
		errors = append(errors, "MESSAGE_RATE_BURST must be at least 1 when rate limiting is enabled")
	}

	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLogLevels, c.LogLevel) {
		errors = append(errors, fmt.Sprintf("LOG_LEVEL must be one of: %s", strings.Join(validLogLevels, ", ")))
	}
	validLogFormats := []string{"text", "json"}
	if !contains(validLogFormats, c.LogFormat) {
		errors = append(errors, fmt.Sprintf("LOG_FORMAT must be one of: %s", strings.Join(validLogFormats, ", ")))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errors, "; "))
	}
	return nil
}

// BindAddr returns the websocket listener address
func (c *Config) BindAddr() string {
	return net.JoinHostPort(c.WSHost, strconv.Itoa(c.WSPort))
}

// AdminAddr returns the admin HTTP address, or "" when disabled
func (c *Config) AdminAddr() string {
	if c.AdminPort == 0 {
		return ""
	}
	return net.JoinHostPort(c.WSHost, strconv.Itoa(c.AdminPort))
}

// SlogLevel maps LOG_LEVEL onto a slog level
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelDebug
	}
}

// IsDevelopment returns true if the application is running in development mode
func (c *Config) IsDevelopment() bool {
	return c.GoEnv == "development"
}

// Helper function to check if slice contains a string
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
