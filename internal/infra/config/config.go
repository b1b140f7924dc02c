package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"event_reminder_bot/internal/domain/reminder"
)

// AppConfig holds all configuration for the application.
type AppConfig struct {
	TelegramToken   string
	DatabaseURL     string
	AdminTelegramID int64

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	LogLevel    string
	Environment string
	Timezone    string
	MetricsAddr string

	// Engine tuning.
	TickInterval        time.Duration
	MisfireGrace        time.Duration
	MaxRetries          int
	RetryBackoff        time.Duration
	DispatchConcurrency int
	NotifyTimeout       time.Duration
	SendRatePerSec      int
	SessionTTL          time.Duration
	CronSpecReconcile   string

	Offsets []reminder.Offset
}

// Load reads configuration from environment variables and .env file (if
// present). Offset misconfiguration is fatal: the engine refuses to start
// with a broken reminder ladder.
func Load() (*AppConfig, error) {
	// Attempt to load .env file. Errors are ignored if the file doesn't exist.
	// godotenv.Load will not override existing env variables.
	_ = godotenv.Load()

	cfg := &AppConfig{}
	var err error

	cfg.TelegramToken = os.Getenv("TELEGRAM_TOKEN")
	if cfg.TelegramToken == "" {
		return nil, fmt.Errorf("TELEGRAM_TOKEN is not set")
	}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is not set")
	}

	adminIDStr := os.Getenv("ADMIN_TELEGRAM_ID")
	if adminIDStr == "" {
		return nil, fmt.Errorf("ADMIN_TELEGRAM_ID is not set")
	}
	cfg.AdminTelegramID, err = strconv.ParseInt(adminIDStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid ADMIN_TELEGRAM_ID: %w", err)
	}

	cfg.RedisAddr = envOrDefault("REDIS_ADDR", "localhost:6379")
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	if cfg.RedisDB, err = intEnv("REDIS_DB", 0); err != nil {
		return nil, err
	}

	cfg.LogLevel = strings.ToLower(envOrDefault("LOG_LEVEL", "info"))
	cfg.Environment = strings.ToLower(envOrDefault("ENVIRONMENT", "development"))
	cfg.Timezone = envOrDefault("TIMEZONE", "Asia/Almaty")
	cfg.MetricsAddr = envOrDefault("METRICS_ADDR", ":9090")

	if cfg.TickInterval, err = durationEnv("TICK_INTERVAL", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.MisfireGrace, err = durationEnv("MISFIRE_GRACE", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.MaxRetries, err = intEnv("MAX_RETRIES", 5); err != nil {
		return nil, err
	}
	if cfg.RetryBackoff, err = durationEnv("RETRY_BACKOFF", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.DispatchConcurrency, err = intEnv("DISPATCH_CONCURRENCY", 8); err != nil {
		return nil, err
	}
	if cfg.NotifyTimeout, err = durationEnv("NOTIFY_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.SendRatePerSec, err = intEnv("SEND_RATE_PER_SEC", 25); err != nil {
		return nil, err
	}
	if cfg.SessionTTL, err = durationEnv("SESSION_TTL", 30*time.Minute); err != nil {
		return nil, err
	}
	cfg.CronSpecReconcile = envOrDefault("CRON_SPEC_RECONCILE", "*/15 * * * *")

	cfg.Offsets, err = loadOffsets(os.Getenv("REMINDER_OFFSETS"), os.Getenv("REMINDER_OFFSETS_FILE"))
	if err != nil {
		return nil, err
	}
	if err := reminder.ValidateOffsets(cfg.Offsets); err != nil {
		return nil, fmt.Errorf("invalid reminder offsets: %w", err)
	}

	return cfg, nil
}

// Location resolves the configured display timezone.
func (c *AppConfig) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE %q: %w", c.Timezone, err)
	}
	return loc, nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func intEnv(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
