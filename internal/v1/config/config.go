// Package config validates the Orchestrator's environment configuration
// once at startup. Grounded on the teacher's internal/v1/config: a single
// ValidateEnv accumulating every violation before returning, rather than
// failing on the first one.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// StoreBackend selects which store.Store implementation cmd/orchestrator
// constructs.
type StoreBackend string

const (
	StoreBackendMemory StoreBackend = "memory"
	StoreBackendRedis  StoreBackend = "redis"
)

// Config holds validated environment configuration.
type Config struct {
	// Required variables
	Port string

	// Store backend selection
	StoreBackend  StoreBackend
	RedisAddr     string
	RedisPassword string

	// Chat Provider credentials
	OpenAIAPIKey     string
	OpenAIBaseURL    string
	AnthropicAPIKey  string
	AnthropicBaseURL string
	DefaultModel     string

	// Optional variables with defaults
	GoEnv           string
	LogLevel        string
	DevelopmentMode bool
	AllowedOrigins  string

	// Tracing
	OTLPCollectorAddr string
}

// ValidateEnv validates all required environment variables and returns a
// Config, or an error listing every violation found.
func ValidateEnv() (*Config, error) {
	cfg := &Config{}
	var errs []string

	cfg.Port = os.Getenv("PORT")
	if cfg.Port == "" {
		errs = append(errs, "PORT is required")
	} else {
		port, err := strconv.Atoi(cfg.Port)
		if err != nil || port < 1 || port > 65535 {
			errs = append(errs, fmt.Sprintf("PORT must be a valid port number between 1 and 65535 (got '%s')", cfg.Port))
		}
	}

	cfg.StoreBackend = StoreBackend(getEnvOrDefault("STORE_BACKEND", string(StoreBackendMemory)))
	switch cfg.StoreBackend {
	case StoreBackendMemory:
	case StoreBackendRedis:
		cfg.RedisAddr = os.Getenv("REDIS_ADDR")
		if cfg.RedisAddr == "" {
			cfg.RedisAddr = "localhost:6379"
			slog.Warn("REDIS_ADDR not set, using default", "addr", cfg.RedisAddr)
		} else if !isValidHostPort(cfg.RedisAddr) {
			errs = append(errs, fmt.Sprintf("REDIS_ADDR must be in format 'host:port' (got '%s')", cfg.RedisAddr))
		}
		cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	default:
		errs = append(errs, fmt.Sprintf("STORE_BACKEND must be 'memory' or 'redis' (got '%s')", cfg.StoreBackend))
	}

	cfg.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	cfg.OpenAIBaseURL = os.Getenv("OPENAI_BASE_URL")
	cfg.AnthropicAPIKey = os.Getenv("ANTHROPIC_API_KEY")
	cfg.AnthropicBaseURL = os.Getenv("ANTHROPIC_BASE_URL")
	cfg.DefaultModel = getEnvOrDefault("DEFAULT_MODEL", "claude-3-5-sonnet-20241022")
	if cfg.OpenAIAPIKey == "" && cfg.AnthropicAPIKey == "" {
		errs = append(errs, "at least one of OPENAI_API_KEY or ANTHROPIC_API_KEY is required")
	}

	cfg.GoEnv = getEnvOrDefault("GO_ENV", "production")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")
	cfg.DevelopmentMode = os.Getenv("DEVELOPMENT_MODE") == "true"
	cfg.AllowedOrigins = os.Getenv("ALLOWED_ORIGINS")
	cfg.OTLPCollectorAddr = os.Getenv("OTEL_COLLECTOR_ADDR")

	if len(errs) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	logValidatedConfig(cfg)
	return cfg, nil
}

// isValidHostPort checks if a string is in the format "host:port".
func isValidHostPort(addr string) bool {
	parts := strings.Split(addr, ":")
	if len(parts) != 2 {
		return false
	}
	port, err := strconv.Atoi(parts[1])
	if err != nil || port < 1 || port > 65535 {
		return false
	}
	return parts[0] != ""
}

func logValidatedConfig(cfg *Config) {
	slog.Info("environment configuration validated successfully")
	slog.Info("configuration",
		"port", cfg.Port,
		"store_backend", cfg.StoreBackend,
		"redis_addr", cfg.RedisAddr,
		"openai_api_key", redactSecret(cfg.OpenAIAPIKey),
		"anthropic_api_key", redactSecret(cfg.AnthropicAPIKey),
		"default_model", cfg.DefaultModel,
		"go_env", cfg.GoEnv,
		"log_level", cfg.LogLevel,
		"development_mode", cfg.DevelopmentMode,
	)
}

// getEnvOrDefault returns the value of the environment variable or a
// default value if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// redactSecret shows only the first 8 characters of a secret.
func redactSecret(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:8] + "***"
}
