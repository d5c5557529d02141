// Package redis implements mutable agent state on Redis.
package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Client wraps the go-redis client for dependency injection.
type Client struct {
	*goredis.Client
}

// NewClient connects to addr and verifies the connection.
func NewClient(ctx context.Context, addr, password string, db int) (*Client, error) {
	c := goredis.NewClient(&goredis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := c.Ping(pingCtx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Client{Client: c}, nil
}
