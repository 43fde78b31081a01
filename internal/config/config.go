package config

import (
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the tile converter service
type Config struct {
	Server    ServerConfig
	Generator GeneratorConfig
	RateLimit RateLimitConfig
	Analytics AnalyticsConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// GeneratorConfig holds generation pipeline configuration
type GeneratorConfig struct {
	DataDir        string
	Concurrency    int
	TileTimeout    time.Duration
	BatchDelay     time.Duration
	ChunkSizeBytes int
}

// RateLimitConfig holds client-facing rate limit configuration
type RateLimitConfig struct {
	Limit  int
	Window time.Duration
}

// AnalyticsConfig holds optional PostHog configuration
type AnalyticsConfig struct {
	PostHogKey      string
	PostHogEndpoint string
}

// Load reads configuration from environment variables and an optional .env
// file in the working directory
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Printf("[Config] No .env file found (environment variables still apply)")
	}

	homeDir, _ := os.UserHomeDir()
	defaultDataDir := filepath.Join(homeDir, ".map-tile-converter")

	return &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnv("SERVER_PORT", "8080"),
			ReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 60*time.Second),
			IdleTimeout:  getDurationEnv("SERVER_IDLE_TIMEOUT", 60*time.Second),
		},
		Generator: GeneratorConfig{
			DataDir:        getEnv("DATA_DIR", defaultDataDir),
			Concurrency:    getIntEnv("FETCH_CONCURRENCY", 10),
			TileTimeout:    getDurationEnv("TILE_TIMEOUT", 15*time.Second),
			BatchDelay:     getDurationEnv("BATCH_DELAY", 200*time.Millisecond),
			ChunkSizeBytes: getIntEnv("CHUNK_SIZE_BYTES", 2*1024*1024),
		},
		RateLimit: RateLimitConfig{
			Limit:  getIntEnv("RATE_LIMIT", 300),
			Window: getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),
		},
		Analytics: AnalyticsConfig{
			PostHogKey:      getEnv("POSTHOG_API_KEY", ""),
			PostHogEndpoint: getEnv("POSTHOG_ENDPOINT", ""),
		},
	}
}

// getEnv retrieves an environment variable with a default fallback
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getIntEnv retrieves an integer environment variable with a default fallback
func getIntEnv(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("[Config] Invalid integer for %s: %q, using default %d", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}

// getDurationEnv retrieves a duration environment variable with a default
// fallback. Values use Go duration syntax ("15s", "200ms").
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		log.Printf("[Config] Invalid duration for %s: %q, using default %s", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}
