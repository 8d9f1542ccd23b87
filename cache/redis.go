// cache/redis.go
package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "cookies:"

// Redis keeps each scope in one hash so a scope is dropped with a single DEL.
// The TTL applies to the whole scope and is refreshed on every Set.
type Redis struct {
	client *redis.Client
}

// NewRedis connects to url and verifies the connection.
func NewRedis(ctx context.Context, url string, poolSize int) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if poolSize > 0 {
		opts.PoolSize = poolSize
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Redis{client: client}, nil
}

func (r *Redis) Get(ctx context.Context, scope, key string) ([]byte, bool, error) {
	val, err := r.client.HGet(ctx, keyPrefix+scope, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis hget %s: %w", scope, err)
	}
	return val, true, nil
}

func (r *Redis) Set(ctx context.Context, scope, key string, value []byte, ttl time.Duration) error {
	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, keyPrefix+scope, key, value)
	pipe.Expire(ctx, keyPrefix+scope, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis hset %s: %w", scope, err)
	}
	return nil
}

func (r *Redis) Invalidate(ctx context.Context, scope string) error {
	if err := r.client.Del(ctx, keyPrefix+scope).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", scope, err)
	}
	return nil
}

func (r *Redis) InvalidatePrefix(ctx context.Context, prefix string) error {
	iter := r.client.Scan(ctx, 0, scanPattern(prefix), 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan %s: %w", prefix, err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis del %s*: %w", prefix, err)
	}
	return nil
}

var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

// scanPattern matches every key under prefix and nothing else. Ids may carry
// glob metacharacters.
func scanPattern(prefix string) string {
	return globEscaper.Replace(keyPrefix+prefix) + "*"
}

func (r *Redis) Close() error {
	return r.client.Close()
}
