package infra

import (
	"context"

	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"
)

// NewRedisClient configures a Redis client and verifies connectivity.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	if url == "" {
		return nil, oops.Errorf("redis url is required")
	}

	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, oops.With("operation", "parse redis url").Wrap(err)
	}

	client := redis.NewClient(opt)

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, oops.With("operation", "ping redis").With("addr", opt.Addr).Wrap(err)
	}

	return client, nil
}
