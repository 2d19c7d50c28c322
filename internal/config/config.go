package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	OpenAI   OpenAIConfig
	Queue    QueueConfig
	Scrape   ScrapeConfig
	Quota    QuotaConfig
	Janitor  JanitorConfig
	Log      LogConfig
}

type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	// RequestTimeout bounds non-streaming handlers.
	RequestTimeout time.Duration
	CORSOrigins    []string
	// Burst throttle per client IP, in front of the daily quota.
	RateLimitRPS   float64
	RateLimitBurst int
	// Honour X-Forwarded-For and X-Real-IP. Off unless a proxy sets them.
	TrustProxyHeaders bool
}

// DatabaseConfig selects the event store. An empty URL keeps events in memory.
type DatabaseConfig struct {
	URL string
}

// RedisConfig is optional. Without an address quota counters stay in memory
// and scrapes are not cached.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

type QueueConfig struct {
	Concurrency int
}

type ScrapeConfig struct {
	Concurrency  int
	Timeout      time.Duration
	CacheTTL     time.Duration
	MaxBodyBytes int64
	UserAgent    string
}

type QuotaConfig struct {
	Enabled    bool
	DailyLimit int
}

type JanitorConfig struct {
	Interval  time.Duration
	Retention time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

// Load reads the configuration from the environment. A .env file in the
// working directory is applied first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			ReadTimeout:    getEnvAsDuration("READ_TIMEOUT", 30*time.Second),
			WriteTimeout:   getEnvAsDuration("WRITE_TIMEOUT", 180*time.Second),
			IdleTimeout:    getEnvAsDuration("IDLE_TIMEOUT", 60*time.Second),
			RequestTimeout: getEnvAsDuration("REQUEST_TIMEOUT", 90*time.Second),
			CORSOrigins:    getEnvAsList("CORS_ORIGINS", []string{"*"}),
			RateLimitRPS:   getEnvAsFloat("RATE_LIMIT_RPS", 2),
			RateLimitBurst: getEnvAsInt("RATE_LIMIT_BURST", 10),

			TrustProxyHeaders: getEnvAsBool("TRUST_PROXY_HEADERS", false),
		},
		Database: DatabaseConfig{
			URL: getEnv("POSTGRES_URL", ""),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		OpenAI: OpenAIConfig{
			APIKey:  getEnv("OPENAI_API_KEY", ""),
			BaseURL: getEnv("OPENAI_BASE_URL", ""),
			Model:   getEnv("LLM_MODEL", "gpt-4o-mini"),
		},
		Queue: QueueConfig{
			Concurrency: getEnvAsInt("QUEUE_CONCURRENCY", 3),
		},
		Scrape: ScrapeConfig{
			Concurrency:  getEnvAsInt("SCRAPE_CONCURRENCY", 5),
			Timeout:      getEnvAsDuration("SCRAPE_TIMEOUT", 15*time.Second),
			CacheTTL:     getEnvAsDuration("SCRAPE_CACHE_TTL", time.Hour),
			MaxBodyBytes: int64(getEnvAsInt("SCRAPE_MAX_BODY_BYTES", 2<<20)),
			UserAgent:    getEnv("SCRAPE_USER_AGENT", ""),
		},
		Quota: QuotaConfig{
			Enabled:    getEnvAsBool("QUOTA_ENABLED", true),
			DailyLimit: getEnvAsInt("QUOTA_DAILY_LIMIT", 50),
		},
		Janitor: JanitorConfig{
			Interval:  getEnvAsDuration("JANITOR_INTERVAL", 10*time.Minute),
			Retention: getEnvAsDuration("JANITOR_RETENTION", 30*time.Minute),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if cfg.OpenAI.APIKey == "" {
		return nil, errors.New("OPENAI_API_KEY is required")
	}

	return cfg, nil
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

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
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

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
