package config

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

var (
	loadOnce sync.Once

	defaults = map[string]string{
		"SERVER_PORT":          "8080",
		"POSTGRES_HOST":        "localhost",
		"POSTGRES_PORT":        "5432",
		"POSTGRES_USER":        "postgres",
		"POSTGRES_PASSWORD":    "postgres",
		"POSTGRES_DB":          "messenger",
		"REDIS_HOST":           "localhost",
		"REDIS_PORT":           "6379",
		"REDIS_DB":             "0,1",
		"RABBITMQ_HOST":        "localhost",
		"RABBITMQ_PORT":        "5672",
		"RABBITMQ_USER":        "guest",
		"RABBITMQ_PASSWORD":    "guest",
		"EVENT_MODE":           "ENABLE",
		"JWT_ACCESS_EXPIRE":    "15",
		"JWT_REFRESH_EXPIRE":   "10080",
		"OTP_ISSUER":           "dm-service",
		"POLL_INTERVAL_MS":     "5000",
		"POLL_RATE_LIMIT":      "150",
		"POLL_RATE_WINDOW_MS":  "60000",
		"MESSAGE_MAX_LENGTH":   "4000",
		"PROFILE_CACHE_TTL_MS": "300000",
		"CASBIN_MODEL":         "config/rbac_model.conf",
		"LOG_LEVEL":            "info",
		"LOG_PRETTY":           "false",
	}
)

// Config returns the value of an environment key. A .env file in the working
// directory is loaded on first use; variables already set in the process
// environment take precedence over it.
func Config(key string) string {
	loadOnce.Do(func() {
		_ = godotenv.Load()
	})
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return defaults[key]
}

// Int parses a key as a base 10 integer, falling back to def when the value
// is missing or malformed.
func Int(key string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(Config(key)))
	if err != nil {
		return def
	}
	return n
}

// Duration reads a key holding milliseconds.
func Duration(key string, def time.Duration) time.Duration {
	ms := Int(key, -1)
	if ms < 0 {
		return def
	}
	return time.Duration(ms) * time.Millisecond
}

func Bool(key string) bool {
	b, _ := strconv.ParseBool(strings.TrimSpace(Config(key)))
	return b
}
