package config

import (
	"os"
	"slices"
	"testing"
	"time"

	"github.com/felipepmaragno/model-router/internal/secrets"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	tests := []struct {
		name     string
		got      any
		expected any
	}{
		{"Addr", cfg.Addr, ":8080"},
		{"LogLevel", cfg.LogLevel, "info"},
		{"OllamaBaseURL", cfg.OllamaBaseURL, ""},
		{"ModelCacheBackend", cfg.ModelCacheBackend, "file"},
		{"DiscoveryTTL", cfg.DiscoveryTTL, 24 * time.Hour},
		{"MaxCandidates", cfg.MaxCandidates, 5},
		{"FallbackTTL", cfg.FallbackTTL, 5 * time.Minute},
		{"CacheTTL", cfg.CacheTTL, time.Hour},
		{"CacheCapacity", cfg.CacheCapacity, 100},
		{"CBFailureThreshold", cfg.CBFailureThreshold, 3},
		{"CBResetTimeout", cfg.CBResetTimeout, 30 * time.Second},
		{"RetryMaxAttempts", cfg.RetryMaxAttempts, 3},
		{"RetryBaseDelay", cfg.RetryBaseDelay, time.Second},
		{"RetryMaxDelay", cfg.RetryMaxDelay, 10 * time.Second},
		{"RouteTimeout", cfg.RouteTimeout, time.Duration(0)},
		{"ShutdownTimeout", cfg.ShutdownTimeout, 30 * time.Second},
		{"AlertDedupWindow", cfg.AlertDedupWindow, 15 * time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.expected {
				t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.expected)
			}
		})
	}

	if cfg.CachePartitionByUser {
		t.Error("CachePartitionByUser should default to false")
	}
	if cfg.UseDistributedCircuitBreaker {
		t.Error("UseDistributedCircuitBreaker should default to false")
	}
	if cfg.AdminAuthEnabled {
		t.Error("AdminAuthEnabled should default to false")
	}
	if len(cfg.BedrockModels) != 0 {
		t.Errorf("BedrockModels = %v, want empty", cfg.BedrockModels)
	}
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("ADDR", ":9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("GEMINI_API_KEY", "AIza-test")
	t.Setenv("OLLAMA_BASE_URL", "http://ollama:11434")
	t.Setenv("BEDROCK_MODELS", "anthropic.claude-3-haiku, ,amazon.titan-text-lite")
	t.Setenv("MODEL_CACHE_BACKEND", "redis")
	t.Setenv("MAX_CANDIDATES", "2")
	t.Setenv("CACHE_PARTITION_BY_USER", "true")
	t.Setenv("USE_DISTRIBUTED_CB", "true")
	t.Setenv("RETRY_BASE_DELAY_MS", "250")
	t.Setenv("ROUTE_TIMEOUT", "45")
	t.Setenv("TRACE_SAMPLE_RATIO", "0.25")
	t.Setenv("FALLBACK_MODELS", "gemini-2.0-flash,openai/gpt-4o-mini")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	tests := []struct {
		name     string
		got      any
		expected any
	}{
		{"Addr", cfg.Addr, ":9090"},
		{"LogLevel", cfg.LogLevel, "debug"},
		{"GeminiAPIKey", cfg.GeminiAPIKey, "AIza-test"},
		{"OllamaBaseURL", cfg.OllamaBaseURL, "http://ollama:11434"},
		{"ModelCacheBackend", cfg.ModelCacheBackend, "redis"},
		{"MaxCandidates", cfg.MaxCandidates, 2},
		{"RetryBaseDelay", cfg.RetryBaseDelay, 250 * time.Millisecond},
		{"RouteTimeout", cfg.RouteTimeout, 45 * time.Second},
		{"TraceSampleRatio", cfg.TraceSampleRatio, 0.25},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.expected {
				t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.expected)
			}
		})
	}

	if !slices.Equal(cfg.BedrockModels, []string{"anthropic.claude-3-haiku", "amazon.titan-text-lite"}) {
		t.Errorf("BedrockModels = %v", cfg.BedrockModels)
	}
	if !slices.Equal(cfg.FallbackModels, []string{"gemini-2.0-flash", "openai/gpt-4o-mini"}) {
		t.Errorf("FallbackModels = %v", cfg.FallbackModels)
	}
	if !cfg.CachePartitionByUser || !cfg.UseDistributedCircuitBreaker {
		t.Error("boolean flags should be true")
	}
}

func TestLoad_InvalidNumbersFallBack(t *testing.T) {
	t.Setenv("MAX_CANDIDATES", "many")
	t.Setenv("CACHE_TTL", "1h")

	cfg, _ := Load()
	if cfg.MaxCandidates != 5 {
		t.Errorf("MaxCandidates = %d, want 5", cfg.MaxCandidates)
	}
	if cfg.CacheTTL != time.Hour {
		t.Errorf("CacheTTL = %v, want 1h", cfg.CacheTTL)
	}
}

func TestGetEnv(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		envValue     string
		defaultValue string
		expected     string
	}{
		{"env set", "TEST_VAR", "custom", "default", "custom"},
		{"env not set", "TEST_VAR_UNSET", "", "default", "default"},
		{"env empty", "TEST_VAR_EMPTY", "", "default", "default"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				os.Setenv(tt.key, tt.envValue)
				defer os.Unsetenv(tt.key)
			}

			got := getEnv(tt.key, tt.defaultValue)
			if got != tt.expected {
				t.Errorf("getEnv(%q, %q) = %q, want %q", tt.key, tt.defaultValue, got, tt.expected)
			}
		})
	}
}

func TestMergeCredentials(t *testing.T) {
	cfg := &Config{OpenAIAPIKey: "from-env"}
	cfg.MergeCredentials(secrets.Credentials{
		GeminiAPIKey: "from-secret",
		OpenAIAPIKey: "ignored",
		DatabaseURL:  "postgres://router@db/models",
	})

	if cfg.GeminiAPIKey != "from-secret" {
		t.Errorf("GeminiAPIKey = %q", cfg.GeminiAPIKey)
	}
	if cfg.OpenAIAPIKey != "from-env" {
		t.Errorf("OpenAIAPIKey = %q, environment should win", cfg.OpenAIAPIKey)
	}
	if cfg.AnthropicAPIKey != "" {
		t.Errorf("AnthropicAPIKey = %q, want empty", cfg.AnthropicAPIKey)
	}
	if cfg.DatabaseURL != "postgres://router@db/models" {
		t.Errorf("DatabaseURL = %q", cfg.DatabaseURL)
	}
}

func TestAdminAuthEnabled_FalseValues(t *testing.T) {
	falseValues := []string{"false", "0", "no", "FALSE", ""}

	for _, v := range falseValues {
		t.Run("value="+v, func(t *testing.T) {
			t.Setenv("ADMIN_AUTH_ENABLED", v)

			cfg, _ := Load()
			if cfg.AdminAuthEnabled {
				t.Errorf("AdminAuthEnabled should be false for value %q", v)
			}
		})
	}
}
