package config_test

import (
	"testing"
	"time"

	"github.com/notifyhub/event-notification-service/internal/config"
)

func TestLoad_RequiresDatabaseAndRedis(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	if _, err := config.Load(); err == nil {
		t.Fatal("expected error without DATABASE_URL")
	}

	t.Setenv("DATABASE_URL", "postgres://localhost/app")
	t.Setenv("REDIS_URL", "")
	if _, err := config.Load(); err == nil {
		t.Fatal("expected error without REDIS_URL")
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/app")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.QueueMaxAttempts != 10 {
		t.Fatalf("expected 10 attempts, got %d", cfg.QueueMaxAttempts)
	}
	if cfg.QueueBackoffBase != 2*time.Second || cfg.QueueBackoffMax != 1024*time.Second {
		t.Fatalf("unexpected backoff %v/%v", cfg.QueueBackoffBase, cfg.QueueBackoffMax)
	}
	if cfg.WorkerConcurrency != 10 || cfg.WorkerJobsPerMinute != 100 {
		t.Fatalf("unexpected worker limits %d/%d", cfg.WorkerConcurrency, cfg.WorkerJobsPerMinute)
	}
	if cfg.DebounceWindow != 5*time.Second {
		t.Fatalf("unexpected debounce window %v", cfg.DebounceWindow)
	}
	if cfg.DeliveryLogRetention != 90*24*time.Hour {
		t.Fatalf("unexpected retention %v", cfg.DeliveryLogRetention)
	}
	if len(cfg.KafkaBrokers) != 0 {
		t.Fatalf("expected kafka disabled, got %v", cfg.KafkaBrokers)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/app")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("EXTRA_EVENT_TYPES", " INVENTORY_LOW, ,PRICE_DROP")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("DEBOUNCE_WINDOW", "not-a-duration")
	t.Setenv("WORKER_CONCURRENCY", "4")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.ExtraEventTypes) != 2 || cfg.ExtraEventTypes[0] != "INVENTORY_LOW" || cfg.ExtraEventTypes[1] != "PRICE_DROP" {
		t.Fatalf("unexpected extra types %v", cfg.ExtraEventTypes)
	}
	if len(cfg.KafkaBrokers) != 2 {
		t.Fatalf("unexpected brokers %v", cfg.KafkaBrokers)
	}
	if cfg.DebounceWindow != 5*time.Second {
		t.Fatalf("invalid duration should fall back to default, got %v", cfg.DebounceWindow)
	}
	if cfg.WorkerConcurrency != 4 {
		t.Fatalf("expected 4 workers, got %d", cfg.WorkerConcurrency)
	}
}
