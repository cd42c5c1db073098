package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"forkwiki/pkg/types"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "forkwiki:"

// RedisBackend stores each object as a plain string key.
type RedisBackend struct {
	client *redis.Client
	prefix string
}

// NewRedisBackend connects to redisURL and verifies the connection.
func NewRedisBackend(redisURL string) (*RedisBackend, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisBackendWithClient(client), nil
}

func NewRedisBackendWithClient(client *redis.Client) *RedisBackend {
	return &RedisBackend{
		client: client,
		prefix: defaultRedisPrefix,
	}
}

func (r *RedisBackend) key(owner types.Identity, path string) string {
	return r.prefix + string(owner) + path
}

func (r *RedisBackend) Write(ctx context.Context, owner types.Identity, path string, data []byte) error {
	if err := r.client.Set(ctx, r.key(owner, path), data, 0).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (r *RedisBackend) Read(ctx context.Context, owner types.Identity, path string) ([]byte, error) {
	data, err := r.client.Get(ctx, r.key(owner, path)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return data, nil
}

func (r *RedisBackend) Erase(ctx context.Context, owner types.Identity, path string) error {
	n, err := r.client.Del(ctx, r.key(owner, path)).Result()
	if err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *RedisBackend) Keys(ctx context.Context, owner types.Identity, prefix string) ([]string, error) {
	full := r.key(owner, prefix)
	ownerPrefix := r.key(owner, "")

	var paths []string
	iter := r.client.Scan(ctx, 0, escapeGlob(full)+"*", 100).Iterator()
	for iter.Next(ctx) {
		paths = append(paths, strings.TrimPrefix(iter.Val(), ownerPrefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan: %w", err)
	}
	sort.Strings(paths)
	return paths, nil
}

func (r *RedisBackend) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisBackend) Close() error {
	return r.client.Close()
}

func escapeGlob(s string) string {
	var b strings.Builder
	for _, c := range s {
		switch c {
		case '*', '?', '[', ']', '\\':
			b.WriteRune('\\')
		}
		b.WriteRune(c)
	}
	return b.String()
}
