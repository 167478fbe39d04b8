package config

import (
	"os"
	"strings"
	"testing"
)

// setupTestEnv clears the variables ValidateEnv reads and restores them
// after the test.
func setupTestEnv(t *testing.T) func() {
	keys := []string{
		"PORT", "STORE_BACKEND", "REDIS_ADDR", "REDIS_PASSWORD",
		"OPENAI_API_KEY", "ANTHROPIC_API_KEY", "DEFAULT_MODEL",
		"GO_ENV", "LOG_LEVEL", "DEVELOPMENT_MODE", "ALLOWED_ORIGINS", "OTEL_COLLECTOR_ADDR",
	}
	orig := make(map[string]string, len(keys))
	for _, k := range keys {
		orig[k] = os.Getenv(k)
		os.Unsetenv(k)
	}
	return func() {
		for k, v := range orig {
			if v != "" {
				os.Setenv(k, v)
			} else {
				os.Unsetenv(k)
			}
		}
	}
}

func TestValidateEnv_ValidConfiguration(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("PORT", "8080")
	os.Setenv("ANTHROPIC_API_KEY", "sk-ant-test-key")

	cfg, err := ValidateEnv()
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("expected PORT to be '8080', got '%s'", cfg.Port)
	}
	if cfg.StoreBackend != StoreBackendMemory {
		t.Errorf("expected STORE_BACKEND to default to memory, got '%s'", cfg.StoreBackend)
	}
	if cfg.GoEnv != "production" {
		t.Errorf("expected GO_ENV to default to 'production', got '%s'", cfg.GoEnv)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("expected LOG_LEVEL to default to 'info', got '%s'", cfg.LogLevel)
	}
}

func TestValidateEnv_MissingPort(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("ANTHROPIC_API_KEY", "sk-ant-test-key")

	_, err := ValidateEnv()
	if err == nil {
		t.Fatal("expected error for missing PORT, got nil")
	}
	if !strings.Contains(err.Error(), "PORT is required") {
		t.Errorf("expected error about PORT, got: %v", err)
	}
}

func TestValidateEnv_InvalidPort(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("PORT", "99999")
	os.Setenv("ANTHROPIC_API_KEY", "sk-ant-test-key")

	_, err := ValidateEnv()
	if err == nil {
		t.Fatal("expected error for invalid PORT, got nil")
	}
	if !strings.Contains(err.Error(), "PORT must be a valid port number") {
		t.Errorf("expected error about invalid PORT, got: %v", err)
	}
}

func TestValidateEnv_NoProviderKeys(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("PORT", "8080")

	_, err := ValidateEnv()
	if err == nil {
		t.Fatal("expected error when no Chat Provider key is set, got nil")
	}
	if !strings.Contains(err.Error(), "OPENAI_API_KEY or ANTHROPIC_API_KEY") {
		t.Errorf("expected error about provider keys, got: %v", err)
	}
}

func TestValidateEnv_RedisBackendRequiresValidAddr(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("PORT", "8080")
	os.Setenv("ANTHROPIC_API_KEY", "sk-ant-test-key")
	os.Setenv("STORE_BACKEND", "redis")
	os.Setenv("REDIS_ADDR", "invalid-format")

	_, err := ValidateEnv()
	if err == nil {
		t.Fatal("expected error for invalid REDIS_ADDR, got nil")
	}
	if !strings.Contains(err.Error(), "REDIS_ADDR must be in format 'host:port'") {
		t.Errorf("expected error about REDIS_ADDR format, got: %v", err)
	}
}

func TestValidateEnv_RedisBackendDefaultAddr(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("PORT", "8080")
	os.Setenv("ANTHROPIC_API_KEY", "sk-ant-test-key")
	os.Setenv("STORE_BACKEND", "redis")

	cfg, err := ValidateEnv()
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if cfg.RedisAddr != "localhost:6379" {
		t.Errorf("expected REDIS_ADDR to default to 'localhost:6379', got '%s'", cfg.RedisAddr)
	}
}

func TestValidateEnv_UnknownStoreBackend(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("PORT", "8080")
	os.Setenv("ANTHROPIC_API_KEY", "sk-ant-test-key")
	os.Setenv("STORE_BACKEND", "bogus")

	_, err := ValidateEnv()
	if err == nil {
		t.Fatal("expected error for unknown STORE_BACKEND, got nil")
	}
	if !strings.Contains(err.Error(), "STORE_BACKEND must be") {
		t.Errorf("expected error about STORE_BACKEND, got: %v", err)
	}
}

func TestRedactSecret(t *testing.T) {
	tests := []struct {
		name     string
		secret   string
		expected string
	}{
		{"empty", "", ""},
		{"long secret", "sk-ant-1234567890", "sk-ant-1***"},
		{"short secret", "short", "***"},
		{"exactly 8 chars", "12345678", "***"},
		{"9 chars", "123456789", "12345678***"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := redactSecret(tt.secret); got != tt.expected {
				t.Errorf("redactSecret(%q) = %q, expected %q", tt.secret, got, tt.expected)
			}
		})
	}
}

func TestIsValidHostPort(t *testing.T) {
	tests := []struct {
		name     string
		addr     string
		expected bool
	}{
		{"valid localhost", "localhost:8080", true},
		{"valid IP", "127.0.0.1:3000", true},
		{"valid hostname", "example.com:443", true},
		{"missing port", "localhost", false},
		{"missing host", ":8080", false},
		{"invalid port", "localhost:99999", false},
		{"non-numeric port", "localhost:abc", false},
		{"multiple colons", "localhost:8080:9090", false},
		{"empty string", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isValidHostPort(tt.addr); got != tt.expected {
				t.Errorf("isValidHostPort(%q) = %v, expected %v", tt.addr, got, tt.expected)
			}
		})
	}
}
