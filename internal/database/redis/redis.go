package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"docsearch/internal/config"
)

// NewClient 按配置创建 Redis 客户端并验证连通性。
func NewClient(ctx context.Context, cfg *config.RedisConfig) (*redis.Client, error) {
	c := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := c.Ping(pingCtx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("无法连接到 Redis: %w", err)
	}
	return c, nil
}

// HealthCheck 检查 Redis 连接的健康状况。
func HealthCheck(ctx context.Context, c *redis.Client) error {
	if c == nil {
		return fmt.Errorf("redis client is nil")
	}
	return c.Ping(ctx).Err()
}
