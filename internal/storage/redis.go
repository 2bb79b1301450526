package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// RedisKV keeps slots in Redis so a cart can follow the shopper across
// machines. Slots never expire.
type RedisKV struct {
	client    *redis.Client
	namespace string
}

func NewRedisKV(client *redis.Client, namespace string) *RedisKV {
	return &RedisKV{client: client, namespace: strings.TrimSpace(namespace)}
}

func (r *RedisKV) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %q: %w", key, err)
	}
	return data, nil
}

func (r *RedisKV) Set(ctx context.Context, key string, value []byte) error {
	if err := r.client.Set(ctx, r.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("redis set %q: %w", key, err)
	}
	return nil
}

func (r *RedisKV) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("redis delete %q: %w", key, err)
	}
	return nil
}

func (r *RedisKV) key(key string) string {
	if r.namespace == "" {
		return key
	}
	return fmt.Sprintf("%s:%s", r.namespace, key)
}

var _ KV = (*RedisKV)(nil)
