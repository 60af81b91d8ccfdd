package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dharsanguruparan/ragctl/internal/model"
)

// PostgresStore keeps the record in a client_sessions row keyed by profile.
type PostgresStore struct {
	pool *pgxpool.Pool
	key  string
}

// NewPostgresStore opens a small pool and ensures the table exists.
func NewPostgresStore(ctx context.Context, dsn, key string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.MaxConns = 2
	cfg.MaxConnIdleTime = 5 * time.Minute
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if key == "" {
		key = DefaultKey
	}
	store := &PostgresStore{pool: pool, key: key}
	if err := store.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

func (p *PostgresStore) ensureSchema(ctx context.Context) error {
	const stmt = `
CREATE TABLE IF NOT EXISTS client_sessions (
	profile TEXT PRIMARY KEY,
	token TEXT NOT NULL,
	username TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);`
	if _, err := p.pool.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Get reads the profile's row.
func (p *PostgresStore) Get(ctx context.Context) (model.Record, error) {
	var rec model.Record
	row := p.pool.QueryRow(ctx, `SELECT token, username FROM client_sessions WHERE profile=$1`, p.key)
	if err := row.Scan(&rec.Token, &rec.Username); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Record{}, ErrNotFound
		}
		return model.Record{}, fmt.Errorf("select session: %w", err)
	}
	return rec, nil
}

// Set upserts the profile's row.
func (p *PostgresStore) Set(ctx context.Context, rec model.Record) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO client_sessions (profile, token, username, updated_at)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (profile) DO UPDATE
		SET token=EXCLUDED.token, username=EXCLUDED.username, updated_at=EXCLUDED.updated_at
	`, p.key, rec.Token, rec.Username, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

// Clear deletes the profile's row.
func (p *PostgresStore) Clear(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM client_sessions WHERE profile=$1`, p.key); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// Close releases the pool.
func (p *PostgresStore) Close() error {
	p.pool.Close()
	return nil
}
