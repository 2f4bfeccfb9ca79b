package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"termsguard/pkg/termsguard"
)

const defaultRedisKeyPrefix = "termsguard"

// RedisConfig configures the redis-backed storage.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// Redis stores each namespace as one redis hash.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis connects to redis and verifies the connection with PING.
func NewRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, fmt.Errorf("new redis storage: empty addr")
	}
	if cfg.DB < 0 {
		return nil, fmt.Errorf("new redis storage: db must be >= 0")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("new redis storage ping %s: %w", addr, err)
	}

	return NewRedisWithClient(client, cfg.KeyPrefix), nil
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(client *redis.Client, keyPrefix string) *Redis {
	prefix := strings.TrimSpace(keyPrefix)
	if prefix == "" {
		prefix = defaultRedisKeyPrefix
	}

	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) hashKey(namespace string) string {
	return r.prefix + ":" + namespace
}

// Get reads one hash field.
func (r *Redis) Get(ctx context.Context, namespace, key string) ([]byte, bool, error) {
	value, err := r.client.HGet(ctx, r.hashKey(namespace), key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis storage get %s/%s: %w", namespace, key, err)
	}

	return value, true, nil
}

// Put writes one hash field.
func (r *Redis) Put(ctx context.Context, namespace, key string, value []byte) error {
	if err := r.client.HSet(ctx, r.hashKey(namespace), key, value).Err(); err != nil {
		return fmt.Errorf("redis storage put %s/%s: %w", namespace, key, err)
	}

	return nil
}

// Delete removes one hash field.
func (r *Redis) Delete(ctx context.Context, namespace, key string) error {
	if err := r.client.HDel(ctx, r.hashKey(namespace), key).Err(); err != nil {
		return fmt.Errorf("redis storage delete %s/%s: %w", namespace, key, err)
	}

	return nil
}

// List reads the whole namespace hash.
func (r *Redis) List(ctx context.Context, namespace string) (map[string][]byte, error) {
	fields, err := r.client.HGetAll(ctx, r.hashKey(namespace)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis storage list %s: %w", namespace, err)
	}

	listed := make(map[string][]byte, len(fields))
	for key, value := range fields {
		listed[key] = []byte(value)
	}

	return listed, nil
}

// Clear deletes the namespace hash.
func (r *Redis) Clear(ctx context.Context, namespace string) error {
	if err := r.client.Del(ctx, r.hashKey(namespace)).Err(); err != nil {
		return fmt.Errorf("redis storage clear %s: %w", namespace, err)
	}

	return nil
}

// Close closes the underlying client.
func (r *Redis) Close() error {
	if err := r.client.Close(); err != nil {
		return fmt.Errorf("close redis storage: %w", err)
	}

	return nil
}

var _ termsguard.Storage = (*Redis)(nil)
