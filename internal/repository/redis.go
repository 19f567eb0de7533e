package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
)

// RedisBackend implements Backend with plain Redis strings and sets, which
// keeps the key layout readable with redis-cli.
type RedisBackend struct {
	client *redis.Client
}

// NewRedisBackend wraps a shared client. The caller keeps ownership of it.
func NewRedisBackend(client *redis.Client) *RedisBackend {
	return &RedisBackend{client: client}
}

func (b *RedisBackend) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := b.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return value, nil
}

func (b *RedisBackend) Set(ctx context.Context, key string, value []byte) error {
	if err := b.client.Set(ctx, key, value, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// SetMany applies every write inside MULTI/EXEC.
func (b *RedisBackend) SetMany(ctx context.Context, values map[string][]byte) error {
	if len(values) == 0 {
		return nil
	}
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, key := range keys {
			pipe.Set(ctx, key, values[key], 0)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis multi set: %w", err)
	}
	return nil
}

func (b *RedisBackend) AddMember(ctx context.Context, key, member string) (bool, error) {
	added, err := b.client.SAdd(ctx, key, member).Result()
	if err != nil {
		return false, fmt.Errorf("redis sadd %s: %w", key, err)
	}
	return added == 1, nil
}

func (b *RedisBackend) CountMembers(ctx context.Context, key string) (int, error) {
	count, err := b.client.SCard(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis scard %s: %w", key, err)
	}
	return int(count), nil
}

func (b *RedisBackend) Members(ctx context.Context, key string) ([]string, error) {
	members, err := b.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis smembers %s: %w", key, err)
	}
	sort.Strings(members)
	return members, nil
}

// Close is a no-op; the shared client is closed by whoever opened it.
func (b *RedisBackend) Close() error {
	return nil
}
