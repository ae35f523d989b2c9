package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all runtime configuration loaded from environment variables.
// Every field has a sensible default; only DATABASE_URL and REDIS_URL are required.
type Config struct {
	// Server
	HTTPPort        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	LogLevel        string

	// Database
	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32

	// Job queue
	RedisURL          string
	QueueName         string
	QueueMaxAttempts  int
	QueueBackoffBase  time.Duration
	QueueBackoffMax   time.Duration
	QueueLease        time.Duration
	QueuePollInterval time.Duration
	QueueCompletedAge time.Duration
	QueueCompletedMax int
	QueueFailedAge    time.Duration

	// Workers
	WorkerConcurrency    int
	WorkerJobsPerMinute  int
	ReaperInterval       time.Duration
	JanitorSchedule      string
	DeliveryLogRetention time.Duration

	// Ingestion
	DebounceWindow  time.Duration
	MaxPayloadBytes int
	ExtraEventTypes []string
	InternalToken   string

	// External providers. An empty URL means the channel is stubbed.
	EmailWebhookURL  string
	PushWebhookURL   string
	ProviderTimeout  time.Duration
	ChannelRateLimit int

	// Kafka ingestion is disabled when KafkaBrokers is empty.
	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroupID string
}

// Load reads a .env file when one exists, then the process environment.
// Variables already set in the environment take precedence over the file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		return nil, fmt.Errorf("REDIS_URL is required")
	}

	backoffBase := getDuration("QUEUE_BACKOFF_BASE", 2*time.Second)

	return &Config{
		HTTPPort:        getEnv("HTTP_PORT", "8080"),
		ReadTimeout:     getDuration("READ_TIMEOUT", 5*time.Second),
		WriteTimeout:    getDuration("WRITE_TIMEOUT", 10*time.Second),
		ShutdownTimeout: getDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		LogLevel:        getEnv("LOG_LEVEL", "info"),

		DatabaseURL: dbURL,
		DBMaxConns:  int32(getInt("DB_MAX_CONNS", 25)),
		DBMinConns:  int32(getInt("DB_MIN_CONNS", 5)),

		RedisURL:          redisURL,
		QueueName:         getEnv("QUEUE_NAME", "notifications"),
		QueueMaxAttempts:  getInt("QUEUE_MAX_ATTEMPTS", 10),
		QueueBackoffBase:  backoffBase,
		QueueBackoffMax:   getDuration("QUEUE_BACKOFF_MAX", backoffBase<<9),
		QueueLease:        getDuration("QUEUE_LEASE", 5*time.Minute),
		QueuePollInterval: getDuration("QUEUE_POLL_INTERVAL", 500*time.Millisecond),
		QueueCompletedAge: getDuration("QUEUE_COMPLETED_AGE", time.Hour),
		QueueCompletedMax: getInt("QUEUE_COMPLETED_KEEP", 1000),
		QueueFailedAge:    getDuration("QUEUE_FAILED_AGE", 24*time.Hour),

		WorkerConcurrency:    getInt("WORKER_CONCURRENCY", 10),
		WorkerJobsPerMinute:  getInt("WORKER_JOBS_PER_MINUTE", 100),
		ReaperInterval:       getDuration("REAPER_INTERVAL", 30*time.Second),
		JanitorSchedule:      getEnv("JANITOR_SCHEDULE", "@hourly"),
		DeliveryLogRetention: getDuration("DELIVERY_LOG_RETENTION", 90*24*time.Hour),

		DebounceWindow:  getDuration("DEBOUNCE_WINDOW", 5*time.Second),
		MaxPayloadBytes: getInt("MAX_PAYLOAD_BYTES", 10*1024),
		ExtraEventTypes: getList("EXTRA_EVENT_TYPES"),
		InternalToken:   os.Getenv("INTERNAL_TOKEN"),

		EmailWebhookURL:  os.Getenv("EMAIL_WEBHOOK_URL"),
		PushWebhookURL:   os.Getenv("PUSH_WEBHOOK_URL"),
		ProviderTimeout:  getDuration("PROVIDER_TIMEOUT", 10*time.Second),
		ChannelRateLimit: getInt("CHANNEL_RATE_LIMIT", 100),

		KafkaBrokers: getList("KAFKA_BROKERS"),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "domain-events"),
		KafkaGroupID: getEnv("KAFKA_GROUP_ID", "event-notification-service"),
	}, nil
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

// getList splits a comma-separated variable, dropping blanks.
func getList(key string) []string {
	var out []string
	for _, s := range strings.Split(os.Getenv(key), ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
