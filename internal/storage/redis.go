package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/dharsanguruparan/ragctl/internal/model"
)

const redisKeyPrefix = "ragctl:session:"

// RedisOptions configures a RedisStore.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Key      string
}

// RedisStore keeps the record as a JSON string under one redis key, for
// machines that share a session across shells or hosts.
type RedisStore struct {
	client *redis.Client
	key    string
}

// NewRedisStore connects and pings the server before returning.
func NewRedisStore(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	addr := opts.Addr
	if addr == "" {
		addr = "127.0.0.1:6379"
	}
	key := opts.Key
	if key == "" {
		key = DefaultKey
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisStore{client: client, key: redisKeyPrefix + key}, nil
}

// Get reads and decodes the record.
func (r *RedisStore) Get(ctx context.Context) (model.Record, error) {
	raw, err := r.client.Get(ctx, r.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return model.Record{}, ErrNotFound
		}
		return model.Record{}, fmt.Errorf("get session: %w", err)
	}
	var rec model.Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return model.Record{}, fmt.Errorf("decode session: %w", err)
	}
	return rec, nil
}

// Set stores the record without expiry; the token's own exp claim governs
// validity.
func (r *RedisStore) Set(ctx context.Context, rec model.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := r.client.Set(ctx, r.key, data, 0).Err(); err != nil {
		return fmt.Errorf("set session: %w", err)
	}
	return nil
}

// Clear deletes the key.
func (r *RedisStore) Clear(ctx context.Context) error {
	if err := r.client.Del(ctx, r.key).Err(); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

// Close closes the client.
func (r *RedisStore) Close() error {
	return r.client.Close()
}
