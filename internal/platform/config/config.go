// Package config assembles runtime configuration from the environment so
// main stays lean. Every knob has an inline default suitable for local
// development.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the full runtime configuration.
type Config struct {
	Addr     string
	DevMode  bool
	LogLevel string

	// CronToken authenticates the scheduler that triggers the refresh and
	// health jobs. Empty disables the job endpoints.
	CronToken string

	// StoreBackend selects the document store: memory, redis, or postgres.
	StoreBackend string
	Redis        RedisConfig
	PostgresDSN  string

	KafkaBrokers []string
	AuditTopic   string

	JobConcurrency int
	FetchPace      float64

	RateLimits RateLimits
}

// RedisConfig tunes the Redis document store connection.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Quota is one fixed-window rate limit.
type Quota struct {
	MaxRequests int
	Window      time.Duration
}

// RateLimits carries the per-endpoint-group quotas.
type RateLimits struct {
	Register Quota
	Refresh  Quota
	Search   Quota
	Read     Quota
	Dump     Quota
}

// FromEnv builds the configuration from OAPHUB_* environment variables.
func FromEnv() Config {
	return Config{
		Addr:         getEnv("OAPHUB_ADDR", ":8080"),
		DevMode:      os.Getenv("OAPHUB_DEV_MODE") == "true",
		LogLevel:     getEnv("OAPHUB_LOG_LEVEL", "info"),
		CronToken:    os.Getenv("OAPHUB_CRON_TOKEN"),
		StoreBackend: getEnv("OAPHUB_STORE", "memory"),
		Redis: RedisConfig{
			URL:          os.Getenv("OAPHUB_REDIS_URL"),
			PoolSize:     getInt("OAPHUB_REDIS_POOL_SIZE", 10),
			MinIdleConns: getInt("OAPHUB_REDIS_MIN_IDLE", 2),
			DialTimeout:  getDuration("OAPHUB_REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getDuration("OAPHUB_REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getDuration("OAPHUB_REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		PostgresDSN:    os.Getenv("OAPHUB_POSTGRES_DSN"),
		KafkaBrokers:   splitList(os.Getenv("OAPHUB_KAFKA_BROKERS")),
		AuditTopic:     getEnv("OAPHUB_AUDIT_TOPIC", "oaphub.registry.events"),
		JobConcurrency: getInt("OAPHUB_JOB_CONCURRENCY", 4),
		FetchPace:      getFloat("OAPHUB_FETCH_PACE", 10),
		RateLimits: RateLimits{
			Register: Quota{MaxRequests: getInt("OAPHUB_LIMIT_REGISTER", 5), Window: getDuration("OAPHUB_LIMIT_REGISTER_WINDOW", 15*time.Minute)},
			Refresh:  Quota{MaxRequests: getInt("OAPHUB_LIMIT_REFRESH", 10), Window: getDuration("OAPHUB_LIMIT_REFRESH_WINDOW", 15*time.Minute)},
			Search:   Quota{MaxRequests: getInt("OAPHUB_LIMIT_SEARCH", 60), Window: getDuration("OAPHUB_LIMIT_SEARCH_WINDOW", time.Minute)},
			Read:     Quota{MaxRequests: getInt("OAPHUB_LIMIT_READ", 120), Window: getDuration("OAPHUB_LIMIT_READ_WINDOW", time.Minute)},
			Dump:     Quota{MaxRequests: getInt("OAPHUB_LIMIT_DUMP", 10), Window: getDuration("OAPHUB_LIMIT_DUMP_WINDOW", time.Hour)},
		},
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
