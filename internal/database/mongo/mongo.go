package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"docsearch/internal/config"
)

// Client 包装了 MongoDB 客户端与选定的数据库句柄。
type Client struct {
	Client   *mongo.Client
	Database *mongo.Database
}

// NewClient 建立到 MongoDB 的连接并验证连通性。
func NewClient(ctx context.Context, cfg *config.MongoConfig) (*Client, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	uri := fmt.Sprintf("mongodb://%s", cfg.Address)
	if cfg.Username != "" {
		uri = fmt.Sprintf("mongodb://%s:%s@%s", cfg.Username, cfg.Password, cfg.Address)
	}
	c, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("无法连接到 MongoDB: %w", err)
	}

	// Ping 主节点以确认连接可用。
	if err := c.Ping(connectCtx, readpref.Primary()); err != nil {
		_ = c.Disconnect(context.Background())
		return nil, fmt.Errorf("MongoDB ping 失败: %w", err)
	}

	return &Client{
		Client:   c,
		Database: c.Database(cfg.Database),
	}, nil
}

// Collection 返回指定名称的集合句柄。
func (c *Client) Collection(name string) *mongo.Collection {
	return c.Database.Collection(name)
}

// Close 断开与 MongoDB 的连接。
func (c *Client) Close(ctx context.Context) error {
	return c.Client.Disconnect(ctx)
}

// HealthCheck 检查 MongoDB 连接的健康状况。
func (c *Client) HealthCheck(ctx context.Context) error {
	return c.Client.Ping(ctx, readpref.Primary())
}
