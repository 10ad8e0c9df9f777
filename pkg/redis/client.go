package redis

import (
	"context"
	"fmt"
	"net"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/ChaneHaDa/stock-batch-server/pkg/config"
)

const dialTimeout = 5 * time.Second

// Client is the shared go-redis handle. A disabled client (REDIS_ENABLED=false
// or a nil handle) turns Cache, RateLimiter and Claims into pass-throughs.
// ⭐ SSOT: Redis 연결은 여기서만 관리
type Client struct {
	rdb     *goredis.Client
	enabled bool
}

// New connects when Redis is enabled and fails fast if the server is unreachable
func New(cfg *config.Config) (*Client, error) {
	rc := cfg.Redis
	if !rc.Enabled {
		return &Client{}, nil
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        net.JoinHostPort(rc.Host, rc.Port),
		Password:    rc.Password,
		DB:          rc.DB,
		DialTimeout: dialTimeout,
	})
	c := &Client{rdb: rdb, enabled: true}

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	if err := c.Ping(ctx); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis connection failed (%s): %w", rdb.Options().Addr, err)
	}

	return c, nil
}

// NewFromClient wraps an existing go-redis client; nil yields a disabled client
func NewFromClient(rdb *goredis.Client) *Client {
	return &Client{rdb: rdb, enabled: rdb != nil}
}

// Ping reports connectivity; a disabled client is always healthy
func (c *Client) Ping(ctx context.Context) error {
	if !c.enabled {
		return nil
	}
	return c.rdb.Ping(ctx).Err()
}

func (c *Client) Close() error {
	if c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}

func (c *Client) Enabled() bool {
	return c.enabled
}

// Redis exposes the raw handle for scripts and pipelines
func (c *Client) Redis() *goredis.Client {
	return c.rdb
}
