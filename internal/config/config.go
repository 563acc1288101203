// Package config handles loading and validating configuration from
// environment variables. All defaults for the governance pipeline are
// enumerated here rather than read ad hoc at the point of use.
package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds all configuration for the Postgate publishing gate.
type Config struct {
	// Server
	Port        string
	LogLevel    string
	AdminAPIKey string // Required for /api/v1 endpoints; empty = management API disabled

	// Database (usage ledger + telemetry)
	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string

	// Remote cache. An empty RedisAddr silently activates fallback-only mode.
	RedisAddr     string
	RedisPassword string

	// Budget enforcement
	DailyCostLimitUSD  float64
	CostTrackerEnabled bool
	CostTrackerStrict  bool // strict: tracker failures error out instead of warning
	CacheKeyPrefix     string

	// Content safety
	FactCheckMode string // off | light | strict

	// Segmentation guard
	ThreadForceSegments bool
	ThreadDelimiter     string
	NumberingPattern    string

	// Rate controller ceilings
	PostsPerHourMin      float64
	PostsPerHourMax      float64
	RepliesPerDayMin     float64
	RepliesPerDayMax     float64
	HardMaxPostsPerHour  float64
	HardMaxRepliesPerDay float64

	// LLM client
	OpenAIKey   string
	OpenAIModel string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("POSTGATE_PORT", "8080"),
		LogLevel:    getEnv("POSTGATE_LOG_LEVEL", "info"),
		AdminAPIKey: os.Getenv("POSTGATE_ADMIN_API_KEY"),

		DBHost:     getEnv("POSTGRES_HOST", "localhost"),
		DBName:     getEnv("POSTGRES_DB", "postgate"),
		DBUser:     getEnv("POSTGRES_USER", "postgate"),
		DBPassword: getEnv("POSTGRES_PASSWORD", ""),
		DBSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),

		CostTrackerEnabled: getEnv("POSTGATE_COST_TRACKER_ENABLED", "true") == "true",
		CostTrackerStrict:  getEnv("POSTGATE_COST_TRACKER_STRICT", "false") == "true",
		CacheKeyPrefix:     getEnv("POSTGATE_CACHE_KEY_PREFIX", "postgate:spend"),

		FactCheckMode: getEnv("POSTGATE_FACT_CHECK_MODE", "light"),

		ThreadForceSegments: getEnv("POSTGATE_THREAD_FORCE", "true") == "true",
		ThreadDelimiter:     getEnv("POSTGATE_THREAD_DELIMITER", "---"),
		NumberingPattern:    getEnv("POSTGATE_THREAD_NUMBERING_PATTERN", `\d+\s*/\s*\d+`),

		OpenAIKey:   os.Getenv("OPENAI_API_KEY"),
		OpenAIModel: getEnv("POSTGATE_OPENAI_MODEL", "gpt-4o-mini"),
	}

	dbPort, err := strconv.Atoi(getEnv("POSTGRES_PORT", "5432"))
	if err != nil {
		return nil, fmt.Errorf("invalid POSTGRES_PORT: %w", err)
	}
	cfg.DBPort = dbPort

	floats := []struct {
		dst      *float64
		key, def string
	}{
		{&cfg.DailyCostLimitUSD, "POSTGATE_DAILY_COST_LIMIT_USD", "5.0"},
		{&cfg.PostsPerHourMin, "POSTGATE_POSTS_PER_HOUR_MIN", "0.5"},
		{&cfg.PostsPerHourMax, "POSTGATE_POSTS_PER_HOUR_MAX", "2.0"},
		{&cfg.RepliesPerDayMin, "POSTGATE_REPLIES_PER_DAY_MIN", "5"},
		{&cfg.RepliesPerDayMax, "POSTGATE_REPLIES_PER_DAY_MAX", "20"},
		{&cfg.HardMaxPostsPerHour, "POSTGATE_HARD_MAX_POSTS_PER_HOUR", "3"},
		{&cfg.HardMaxRepliesPerDay, "POSTGATE_HARD_MAX_REPLIES_PER_DAY", "30"},
	}
	for _, f := range floats {
		v, err := strconv.ParseFloat(getEnv(f.key, f.def), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", f.key, err)
		}
		*f.dst = v
	}

	if cfg.DailyCostLimitUSD <= 0 {
		return nil, fmt.Errorf("POSTGATE_DAILY_COST_LIMIT_USD must be positive, got %v", cfg.DailyCostLimitUSD)
	}
	switch cfg.FactCheckMode {
	case "off", "light", "strict":
	default:
		return nil, fmt.Errorf("invalid POSTGATE_FACT_CHECK_MODE %q (want off, light, or strict)", cfg.FactCheckMode)
	}

	return cfg, nil
}

// DSN returns the PostgreSQL connection string.
func (c *Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode)
}

// RedactedDSN returns the DSN with the password masked for safe logging.
func (c *Config) RedactedDSN() string {
	return fmt.Sprintf("postgres://%s:***@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode)
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}
