package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/ObiAU/disasterfeed/internal/ai"
	"github.com/ObiAU/disasterfeed/internal/cache"
	"github.com/ObiAU/disasterfeed/internal/feed"
	"github.com/ObiAU/disasterfeed/internal/sources"
	"github.com/ObiAU/disasterfeed/internal/upstream"
)

const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"

	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

type Config struct {
	TwitterAPIKey    string
	TwitterAPISecret string
	TwitterSearchURL string
	TwitterPageSize  int
	SearchQuery      string

	AIProvider    string
	GeminiAPIKey  string
	GeminiBaseURL string
	GeminiModel   string
	OpenAIAPIKey  string
	OpenAIModel   string

	CacheBackend  string
	CacheTTLHours int
	RedisURL      string
	DatabaseURL   string

	PollInterval      time.Duration
	UpdateInterval    time.Duration
	FeedLimit         int
	MockSourceEnabled bool

	TelegramToken      string
	TelegramWebhookURL string

	ServerPort  string
	HTTPTimeout time.Duration
	LogLevel    string
}

// Load reads .env (when present) and then the process environment.
func Load(logger logrus.FieldLogger) *Config {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil && logger != nil {
			logger.WithError(err).Warn("Failed to load .env")
		}
	}

	return &Config{
		TwitterAPIKey:    strings.TrimSpace(getEnv("TWITTER_API_KEY", "")),
		TwitterAPISecret: strings.TrimSpace(getEnv("TWITTER_API_SECRET", "")),
		TwitterSearchURL: getEnv("TWITTER_SEARCH_URL", sources.DefaultTwitterSearchURL),
		TwitterPageSize:  getEnvAsInt("TWITTER_PAGE_SIZE", sources.DefaultPageSize),
		SearchQuery:      getEnv("SEARCH_QUERY", sources.DefaultQuery),

		AIProvider:    strings.ToLower(getEnv("AI_PROVIDER", ProviderGemini)),
		GeminiAPIKey:  getEnv("GEMINI_API_KEY", ""),
		GeminiBaseURL: getEnv("GEMINI_API_URL", ai.DefaultGeminiBaseURL),
		GeminiModel:   getEnv("GEMINI_MODEL", ai.DefaultGeminiModel),
		OpenAIAPIKey:  getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:   getEnv("OPENAI_MODEL", ai.DefaultOpenAIModel),

		CacheBackend:  strings.ToLower(getEnv("CACHE_BACKEND", BackendMemory)),
		CacheTTLHours: getEnvAsInt("CACHE_TTL_HOURS", cache.DefaultTTLHours),
		RedisURL:      getEnv("REDIS_URL", ""),
		DatabaseURL:   getEnv("DATABASE_URL", ""),

		PollInterval:      getEnvAsDuration("POLL_INTERVAL", 5*time.Minute),
		UpdateInterval:    getEnvAsDuration("UPDATE_INTERVAL", feed.DefaultUpdateInterval),
		FeedLimit:         getEnvAsInt("FEED_LIMIT", feed.DefaultUpdateLimit),
		MockSourceEnabled: getEnvAsBool("MOCK_SOURCE_ENABLED", false),

		TelegramToken:      getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramWebhookURL: getEnv("TELEGRAM_WEBHOOK_URL", ""),

		ServerPort:  getEnv("SERVER_PORT", "8080"),
		HTTPTimeout: getEnvAsDuration("HTTP_TIMEOUT", 30*time.Second),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
	}
}

// Validate checks the settings the server cannot start without.
func (c *Config) Validate() error {
	if c.TwitterAPIKey == "" {
		return &upstream.ConfigurationError{Field: "TWITTER_API_KEY"}
	}
	if c.TwitterAPISecret == "" {
		return &upstream.ConfigurationError{Field: "TWITTER_API_SECRET"}
	}
	switch c.CacheBackend {
	case BackendMemory:
	case BackendRedis:
		if c.RedisURL == "" {
			return &upstream.ConfigurationError{Field: "REDIS_URL"}
		}
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return &upstream.ConfigurationError{Field: "DATABASE_URL"}
		}
	default:
		return &upstream.ConfigurationError{Field: "CACHE_BACKEND"}
	}
	switch c.AIProvider {
	case ProviderGemini, ProviderOpenAI:
	default:
		return &upstream.ConfigurationError{Field: "AI_PROVIDER"}
	}
	return nil
}

// AIKey returns the API key of the selected provider.
func (c *Config) AIKey() string {
	if c.AIProvider == ProviderOpenAI {
		return c.OpenAIAPIKey
	}
	return c.GeminiAPIKey
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
