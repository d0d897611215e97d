// Package config provides application configuration.
package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	BackendDynamoDB = "dynamodb"
	BackendSQLite   = "sqlite"
)

// Config holds all application configuration.
type Config struct {
	StoreBackend     string
	StateTable       string
	SQLitePath       string
	MentorBaseURL    string
	ParamPrefix      string
	InferenceTimeout time.Duration
	StoreTimeout     time.Duration
	MaxMessageLength int
	LogFormat        string // "json" or "text"
	LogLevel         string
}

// BatchGetter reads several Parameter Store values at once.
type BatchGetter interface {
	GetParameters(ctx context.Context, names ...string) (map[string]string, error)
}

// Load reads configuration from environment variables and validates it.
func Load() (*Config, error) {
	cfg := FromEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// FromEnv reads configuration from environment variables without validating
// it, so callers can apply overrides first.
func FromEnv() *Config {
	return &Config{
		StoreBackend:     strings.ToLower(getEnv("STORE_BACKEND", BackendDynamoDB)),
		StateTable:       getEnv("STATE_TABLE", ""),
		SQLitePath:       getEnv("SQLITE_PATH", "./data/mentor.db"),
		MentorBaseURL:    getEnv("MENTOR_BASE_URL", ""),
		ParamPrefix:      strings.TrimRight(getEnv("PARAM_PREFIX", ""), "/"),
		InferenceTimeout: getEnvDuration("INFERENCE_TIMEOUT", 30*time.Second),
		StoreTimeout:     getEnvDuration("STORE_TIMEOUT", 10*time.Second),
		MaxMessageLength: getEnvInt("MAX_MESSAGE_LENGTH", 4000),
		LogFormat:        strings.ToLower(getEnv("LOG_FORMAT", "json")),
		LogLevel:         strings.ToLower(getEnv("LOG_LEVEL", "info")),
	}
}

// Validate checks that all required configuration fields are set. The mentor
// URL may be missing when a parameter prefix is configured; ApplyParameters
// fills it in.
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case BackendDynamoDB:
		if c.StateTable == "" {
			return fmt.Errorf("STATE_TABLE cannot be empty when STORE_BACKEND=%s", BackendDynamoDB)
		}
	case BackendSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH cannot be empty when STORE_BACKEND=%s", BackendSQLite)
		}
	default:
		return fmt.Errorf("STORE_BACKEND must be %q or %q, got %q", BackendDynamoDB, BackendSQLite, c.StoreBackend)
	}
	if c.MentorBaseURL == "" && c.ParamPrefix == "" {
		return fmt.Errorf("MENTOR_BASE_URL cannot be empty without PARAM_PREFIX")
	}
	if c.InferenceTimeout <= 0 {
		return fmt.Errorf("INFERENCE_TIMEOUT must be > 0")
	}
	if c.StoreTimeout <= 0 {
		return fmt.Errorf("STORE_TIMEOUT must be > 0")
	}
	if c.MaxMessageLength <= 0 {
		return fmt.Errorf("MAX_MESSAGE_LENGTH must be > 0")
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return fmt.Errorf("LOG_FORMAT must be json or text, got %q", c.LogFormat)
	}
	return nil
}

func (c *Config) MentorBaseURLParameter() string {
	return c.ParamPrefix + "/config/mentor-base-url"
}

// ApplyParameters fills settings left empty in the environment from
// Parameter Store under ParamPrefix. Environment values win.
func (c *Config) ApplyParameters(ctx context.Context, ps BatchGetter) error {
	if c.MentorBaseURL != "" || c.ParamPrefix == "" {
		return nil
	}
	if ps == nil {
		return fmt.Errorf("MENTOR_BASE_URL is not set and no parameter store is available")
	}
	name := c.MentorBaseURLParameter()
	values, err := ps.GetParameters(ctx, name)
	if err != nil {
		return fmt.Errorf("load parameters: %w", err)
	}
	c.MentorBaseURL = strings.TrimSpace(values[name])
	if c.MentorBaseURL == "" {
		return fmt.Errorf("MENTOR_BASE_URL is not set and parameter %s is missing", name)
	}
	return nil
}

// Debug reports whether debug logging was requested.
func (c *Config) Debug() bool {
	return c.LogLevel == "debug"
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return strings.TrimSpace(value)
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

// getEnvDuration accepts Go durations ("45s") or a bare number of seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if n, err := strconv.Atoi(value); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}
