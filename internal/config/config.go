// Package config loads server and native-host settings from the environment.
package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all runtime settings. Values come from the environment, with a
// .env file loaded first when present.
type Config struct {
	Addr string

	// Browser pool
	PoolMaxSize    int
	PoolMaxAge     time.Duration
	BrowserBackend string // "local" (playwright-managed) or "docker" (browserless container)
	BrowserImage   string
	Headless       bool

	// Stores
	DatabasePath string
	RedisAddr    string
	RedisDB      int

	// Secrets
	EncryptionKey []byte

	// Dispatch
	RemoteJobTimeout time.Duration

	// Per-user API budget
	RateLimitPerHour int
	RateLimitBurst   int

	// Content generation
	OpenAIKey   string
	OpenAIModel string

	JSONLogs bool
}

// Load reads configuration from the environment. A missing .env file is not
// an error.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Addr:             getEnv("ADDR", ":8080"),
		PoolMaxSize:      getEnvInt("POOL_MAX_SIZE", 3),
		PoolMaxAge:       getEnvDuration("POOL_MAX_AGE", 30*time.Minute),
		BrowserBackend:   getEnv("BROWSER_BACKEND", "local"),
		BrowserImage:     getEnv("BROWSER_IMAGE", "browserless/chrome:latest"),
		Headless:         getEnvBool("BROWSER_HEADLESS", true),
		DatabasePath:     getEnv("DATABASE_PATH", "./postwing.db"),
		RedisAddr:        getEnv("REDIS_ADDR", "localhost:6379"),
		RedisDB:          getEnvInt("REDIS_DB", 0),
		RemoteJobTimeout: getEnvDuration("REMOTE_JOB_TIMEOUT", 2*time.Minute),
		RateLimitPerHour: getEnvInt("RATE_LIMIT_PER_HOUR", 100),
		RateLimitBurst:   getEnvInt("RATE_LIMIT_BURST", 10),
		OpenAIKey:        getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:      getEnv("OPENAI_MODEL", "gpt-4o"),
		JSONLogs:         getEnvBool("JSON_LOGS", false),
	}

	if cfg.BrowserBackend != "local" && cfg.BrowserBackend != "docker" {
		return nil, fmt.Errorf("invalid BROWSER_BACKEND %q (want local or docker)", cfg.BrowserBackend)
	}

	keyHex := getEnv("ENCRYPTION_KEY", "")
	if keyHex != "" {
		key, err := hex.DecodeString(keyHex)
		if err != nil {
			return nil, fmt.Errorf("ENCRYPTION_KEY is not valid hex: %w", err)
		}
		if len(key) != 32 {
			return nil, fmt.Errorf("ENCRYPTION_KEY must be 32 bytes, got %d", len(key))
		}
		cfg.EncryptionKey = key
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
