// Package storage persists the session record between launches. Every
// backend stores exactly one {token, username} record per key.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/dharsanguruparan/ragctl/internal/config"
	"github.com/dharsanguruparan/ragctl/internal/model"
)

// ErrNotFound is returned by Get when no record has been saved.
var ErrNotFound = errors.New("session record not found")

// Store is a durable key/value slot for the session record.
type Store interface {
	Get(ctx context.Context) (model.Record, error)
	Set(ctx context.Context, rec model.Record) error
	Clear(ctx context.Context) error
	Close() error
}

// DefaultKey names the record when a backend is shared between profiles.
const DefaultKey = "default"

// Open builds the backend selected by cfg.SessionBackend.
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.SessionBackend {
	case config.BackendMemory:
		return NewMemoryStore(DefaultKey, 0), nil
	case config.BackendRedis:
		return NewRedisStore(ctx, RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Key:      DefaultKey,
		})
	case config.BackendPostgres:
		if cfg.DatabaseURL == "" {
			return nil, errors.New("RAG_DATABASE_URL is required for the postgres session backend")
		}
		return NewPostgresStore(ctx, cfg.DatabaseURL, DefaultKey)
	case config.BackendFile, "":
		return NewFileStore(cfg.SessionFile), nil
	default:
		return nil, fmt.Errorf("unknown session backend %q", cfg.SessionBackend)
	}
}
