// internal/infra/redis/client.go
package redis

import (
	"context"
	"fmt"
	"log/slog"

	"minutebars/internal/infra/connect"

	goredis "github.com/redis/go-redis/v9"
)

// keyPrefix namespaces every key this package writes.
const keyPrefix = "minutebars:"

// ClientConfig holds the Redis connection settings.
type ClientConfig struct {
	Addr     string
	Username string
	Password string
	DB       int
	Connect  connect.Policy
}

// NewClient creates a Redis client and waits until the server answers a PING.
func NewClient(ctx context.Context, cfg ClientConfig, logger *slog.Logger) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	_, err := connect.Retry(ctx, cfg.Connect, logger, "redis", func(ctx context.Context) (string, error) {
		return client.Ping(ctx).Result()
	})
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	logger.Info("connected to redis", "addr", cfg.Addr, "db", cfg.DB)
	return client, nil
}
