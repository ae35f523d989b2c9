package db

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/notifyhub/event-notification-service/internal/config"
)

// ConnectRedis parses REDIS_URL and verifies the server answers PING.
func ConnectRedis(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}
