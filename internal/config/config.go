package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/felipepmaragno/model-router/internal/secrets"
)

type Config struct {
	Addr        string
	LogLevel    string
	RedisURL    string
	DatabaseURL string

	// Upstream credentials and endpoints
	GeminiAPIKey    string
	GeminiBaseURL   string
	OpenAIAPIKey    string
	OpenAIBaseURL   string
	AnthropicAPIKey string
	OllamaBaseURL   string
	BedrockModels   []string

	AWSRegion    string
	SecretsName  string
	OTLPEndpoint string
	// TraceSampleRatio in (0,1) samples that fraction of traces.
	TraceSampleRatio float64

	// Alerting and analytics
	SNSTopicARN      string
	SQSEventsURL     string
	AlertDedupWindow time.Duration

	// Model discovery
	ModelCacheBackend string // file, redis, postgres or none
	ModelCacheFile    string
	DiscoveryTTL      time.Duration
	MaxCandidates     int

	// FallbackModels replaces the built-in fallback list ("provider/model").
	FallbackModels  []string
	FallbackTTL     time.Duration
	PreferredModels []string

	// Response cache
	CacheTTL             time.Duration
	CacheCapacity        int
	CachePartitionByUser bool

	// Circuit breaker and retry
	CBFailureThreshold           int
	CBResetTimeout               time.Duration
	UseDistributedCircuitBreaker bool
	RetryMaxAttempts             int
	RetryBaseDelay               time.Duration
	RetryMaxDelay                time.Duration
	RouteTimeout                 time.Duration

	// Inbound limit per caller on /v1/generate, zero disables it
	RateLimitRPM int

	// Operator endpoints
	AdminAuthEnabled bool
	AdminOperators   []string // username:role:bcrypt-hash

	// Instance identification
	PodName      string
	PodNamespace string

	// Graceful shutdown
	ShutdownTimeout time.Duration
}

func Load() (*Config, error) {
	cfg := &Config{
		Addr:                         getEnv("ADDR", ":8080"),
		LogLevel:                     getEnv("LOG_LEVEL", "info"),
		RedisURL:                     getEnv("REDIS_URL", ""),
		DatabaseURL:                  getEnv("DATABASE_URL", ""),
		GeminiAPIKey:                 getEnv("GEMINI_API_KEY", ""),
		GeminiBaseURL:                getEnv("GEMINI_BASE_URL", ""),
		OpenAIAPIKey:                 getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:                getEnv("OPENAI_BASE_URL", ""),
		AnthropicAPIKey:              getEnv("ANTHROPIC_API_KEY", ""),
		OllamaBaseURL:                getEnv("OLLAMA_BASE_URL", ""),
		BedrockModels:                getListEnv("BEDROCK_MODELS"),
		AWSRegion:                    getEnv("AWS_REGION", ""),
		SecretsName:                  getEnv("SECRETS_NAME", ""),
		OTLPEndpoint:                 getEnv("OTLP_ENDPOINT", ""),
		TraceSampleRatio:             getFloatEnv("TRACE_SAMPLE_RATIO", 1),
		SNSTopicARN:                  getEnv("SNS_TOPIC_ARN", ""),
		SQSEventsURL:                 getEnv("SQS_EVENTS_QUEUE_URL", ""),
		AlertDedupWindow:             getDurationEnv("ALERT_DEDUP_WINDOW", 15*time.Minute),
		ModelCacheBackend:            getEnv("MODEL_CACHE_BACKEND", "file"),
		ModelCacheFile:               getEnv("MODEL_CACHE_FILE", "model-cache.json"),
		DiscoveryTTL:                 getDurationEnv("DISCOVERY_TTL", 24*time.Hour),
		MaxCandidates:                getIntEnv("MAX_CANDIDATES", 5),
		FallbackModels:               getListEnv("FALLBACK_MODELS"),
		FallbackTTL:                  getDurationEnv("FALLBACK_TTL", 5*time.Minute),
		PreferredModels:              getListEnv("PREFERRED_MODELS"),
		CacheTTL:                     getDurationEnv("CACHE_TTL", time.Hour),
		CacheCapacity:                getIntEnv("CACHE_CAPACITY", 100),
		CachePartitionByUser:         getEnv("CACHE_PARTITION_BY_USER", "false") == "true",
		CBFailureThreshold:           getIntEnv("CB_FAILURE_THRESHOLD", 3),
		CBResetTimeout:               getDurationEnv("CB_RESET_TIMEOUT", 30*time.Second),
		UseDistributedCircuitBreaker: getEnv("USE_DISTRIBUTED_CB", "false") == "true",
		RetryMaxAttempts:             getIntEnv("RETRY_MAX_ATTEMPTS", 3),
		RetryBaseDelay:               getMillisEnv("RETRY_BASE_DELAY_MS", time.Second),
		RetryMaxDelay:                getMillisEnv("RETRY_MAX_DELAY_MS", 10*time.Second),
		RouteTimeout:                 getDurationEnv("ROUTE_TIMEOUT", 0),
		RateLimitRPM:                 getIntEnv("RATE_LIMIT_RPM", 0),
		AdminAuthEnabled:             getEnv("ADMIN_AUTH_ENABLED", "false") == "true",
		AdminOperators:               getListEnv("ADMIN_OPERATORS"),
		PodName:                      getEnv("POD_NAME", hostname()),
		PodNamespace:                 getEnv("POD_NAMESPACE", "default"),
		ShutdownTimeout:              getDurationEnv("SHUTDOWN_TIMEOUT", 30*time.Second),
	}

	return cfg, nil
}

// MergeCredentials fills API keys that the environment left empty. Keys set
// in the environment win.
func (c *Config) MergeCredentials(creds secrets.Credentials) {
	if c.GeminiAPIKey == "" {
		c.GeminiAPIKey = creds.GeminiAPIKey
	}
	if c.OpenAIAPIKey == "" {
		c.OpenAIAPIKey = creds.OpenAIAPIKey
	}
	if c.AnthropicAPIKey == "" {
		c.AnthropicAPIKey = creds.AnthropicAPIKey
	}
	if c.RedisURL == "" {
		c.RedisURL = creds.RedisURL
	}
	if c.DatabaseURL == "" {
		c.DatabaseURL = creds.DatabaseURL
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getDurationEnv reads whole seconds.
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if seconds, err := strconv.Atoi(value); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return defaultValue
}

func getMillisEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if ms, err := strconv.Atoi(value); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return defaultValue
}

func getListEnv(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func hostname() string {
	name, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return name
}
