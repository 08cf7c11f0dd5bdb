package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRedisNotReady is returned when the server does not answer a ping.
var ErrRedisNotReady = errors.New("cache: redis not ready")

type redisClient interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
	Ping(ctx context.Context) *redis.StatusCmd
}

// Redis is a deny list shared by every replica.
type Redis struct {
	client redisClient
}

// NewRedis wraps an existing client.
func NewRedis(client redis.UniversalClient) *Redis {
	return &Redis{client: client}
}

// Connect parses url, pings the server and returns the client and cache.
func Connect(ctx context.Context, url string, timeout time.Duration) (*redis.Client, *Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, nil, fmt.Errorf("cache: parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, errors.Join(ErrRedisNotReady, err)
	}
	return client, &Redis{client: client}, nil
}

// MarkRevoked implements auth.RevocationCache.
func (r *Redis) MarkRevoked(ctx context.Context, hash string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	return r.client.Set(ctx, Key(hash), "1", ttl).Err()
}

// IsRevoked implements auth.RevocationCache.
func (r *Redis) IsRevoked(ctx context.Context, hash string) (bool, error) {
	n, err := r.client.Exists(ctx, Key(hash)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Ping reports whether the server is reachable.
func (r *Redis) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return errors.Join(ErrRedisNotReady, err)
	}
	return nil
}
