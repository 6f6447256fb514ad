package repo

import (
	"context"
	"fmt"

	"datalake/config"

	"github.com/redis/go-redis/v9"
)

// NewRedis connects to Redis and checks the connection.
func NewRedis(ctx context.Context, cfg config.Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.RedisHost, cfg.RedisPort),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("init redis: %w", err)
	}
	return client, nil
}
