package storage

import (
	"context"
	"fmt"

	redisclient "github.com/angelmondragon/storefront/pkg/redis"
)

type redisKV interface {
	Get(ctx context.Context, key string) (string, error)
	MSet(ctx context.Context, values map[string]string) error
	Del(ctx context.Context, keys ...string) error
	Ping(ctx context.Context) error
}

// Redis persists entries as plain string keys.
type Redis struct {
	client redisKV
}

// NewRedis binds the store to an established redis client.
func NewRedis(client redisKV) *Redis {
	return &Redis{client: client}
}

func (r *Redis) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := r.client.Get(ctx, key)
	if redisclient.IsNil(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return value, true, nil
}

// SetMany issues one MSET, which redis applies atomically.
func (r *Redis) SetMany(ctx context.Context, values map[string]string) error {
	if err := r.client.MSet(ctx, values); err != nil {
		return fmt.Errorf("redis mset: %w", err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, keys ...string) error {
	if err := r.client.Del(ctx, keys...); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx)
}
