package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type CacheBackend string

const (
	CacheMemory CacheBackend = "memory"
	CacheRedis  CacheBackend = "redis"
)

type AppConfig struct {
	Port        string
	Environment string

	DatabasePath      string
	SeedDemoLocations bool

	OpenWeatherAPIKey  string
	OpenWeatherBaseURL string
	OpenWeatherTimeout time.Duration

	// SeededFallback answers demo cities from the built-in registry.
	SeededFallback bool

	CacheTTL      time.Duration
	CacheBackend  CacheBackend
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	BackgroundSyncEnabled bool
	// FallbackInterval is the shortest wait between background runs.
	FallbackInterval time.Duration
	FailureBackoff   time.Duration

	RateLimitMax int
	CORSOrigins  string
}

// Load reads configuration from environment with sensible defaults. A .env
// file in the working directory is loaded first when present.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("INFO: No .env file found or error loading it: %v", err)
	}
	cfg := &AppConfig{}

	cfg.Port = getenvDefault("PORT", "8080")
	cfg.Environment = getenvDefault("ENVIRONMENT", "development")

	cfg.DatabasePath = getenvDefault("DATABASE_PATH", "weather.db")
	cfg.SeedDemoLocations = getenvBool("SEED_DEMO_LOCATIONS", true)

	cfg.OpenWeatherAPIKey = os.Getenv("OPENWEATHER_API_KEY")
	cfg.OpenWeatherBaseURL = getenvDefault("OPENWEATHER_BASE_URL", "https://api.openweathermap.org")
	cfg.SeededFallback = getenvBool("WEATHER_SEEDED_FALLBACK", true)

	var err error
	if cfg.OpenWeatherTimeout, err = getenvDuration("OPENWEATHER_TIMEOUT", "20s"); err != nil {
		return nil, err
	}

	// Provider cache: default 5 minutes, never below 1 minute.
	if cfg.CacheTTL, err = getenvDuration("WEATHER_CACHE_TTL", "5m"); err != nil {
		return nil, err
	}
	if cfg.CacheTTL < time.Minute {
		cfg.CacheTTL = time.Minute
	}

	switch backend := CacheBackend(strings.ToLower(getenvDefault("WEATHER_CACHE_BACKEND", string(CacheMemory)))); backend {
	case CacheMemory, CacheRedis:
		cfg.CacheBackend = backend
	default:
		return nil, fmt.Errorf("invalid WEATHER_CACHE_BACKEND %q: expected memory or redis", backend)
	}
	cfg.RedisAddr = getenvDefault("REDIS_ADDR", "localhost:6379")
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	cfg.RedisDB = getenvInt("REDIS_DB", 0)

	cfg.BackgroundSyncEnabled = getenvBool("BACKGROUND_SYNC_ENABLED", true)
	if cfg.FallbackInterval, err = getenvDuration("BACKGROUND_SYNC_FALLBACK_INTERVAL", "30m"); err != nil {
		return nil, err
	}
	if cfg.FailureBackoff, err = getenvDuration("BACKGROUND_SYNC_FAILURE_BACKOFF", "5m"); err != nil {
		return nil, err
	}

	cfg.RateLimitMax = getenvInt("RATE_LIMIT_MAX", 100)
	cfg.CORSOrigins = getenvDefault("CORS_ORIGINS", "http://localhost:4200")

	return cfg, nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func getenvDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(getenvDefault(key, def))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", key)
	}
	return d, nil
}
