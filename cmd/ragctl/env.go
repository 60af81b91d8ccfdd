package main

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/dharsanguruparan/ragctl/internal/apiclient"
	"github.com/dharsanguruparan/ragctl/internal/app"
	"github.com/dharsanguruparan/ragctl/internal/chat"
	"github.com/dharsanguruparan/ragctl/internal/config"
	"github.com/dharsanguruparan/ragctl/internal/events"
	"github.com/dharsanguruparan/ragctl/internal/logging"
	"github.com/dharsanguruparan/ragctl/internal/session"
	"github.com/dharsanguruparan/ragctl/internal/storage"
	"github.com/dharsanguruparan/ragctl/internal/upload"
)

// env is everything a command needs, built once per invocation.
type env struct {
	cfg    *config.Config
	logger *zap.Logger
	bus    *events.Bus
	store  storage.Store
	app    *app.App
}

func openEnv(ctx context.Context, opts *rootOptions) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if opts.baseURL != "" {
		cfg.BaseURL = strings.TrimRight(opts.baseURL, "/")
	}
	if opts.logLevel != "" {
		cfg.LogLevel = strings.ToLower(opts.logLevel)
	}

	logger, err := logging.New(cfg.LogFile, cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	store, err := storage.Open(ctx, cfg)
	if err != nil {
		logger.Sync()
		return nil, fmt.Errorf("open %s session store: %w", cfg.SessionBackend, err)
	}

	bus := events.NewBus(logger)
	client := apiclient.New(cfg.BaseURL, cfg.HTTPTimeout, logger)
	sessions := session.NewStore(client, store,
		session.WithPublisher(bus),
		session.WithLogger(logger),
	)
	uploads := upload.NewController(client, sessions,
		upload.WithPublisher(bus),
		upload.WithLogger(logger),
		upload.WithMaxBytes(cfg.MaxUploadBytes),
	)
	chats := chat.NewController(client, sessions,
		chat.WithPublisher(bus),
		chat.WithLogger(logger),
	)
	a := app.New(sessions, uploads, chats,
		app.WithPublisher(bus),
		app.WithLogger(logger),
	)
	a.Restore(ctx)

	logger.Debug("environment ready",
		zap.String("base_url", cfg.BaseURL),
		zap.String("session_backend", cfg.SessionBackend),
	)
	return &env{cfg: cfg, logger: logger, bus: bus, store: store, app: a}, nil
}

func (e *env) Close() {
	if err := e.bus.Close(); err != nil {
		e.logger.Warn("close event bus", zap.Error(err))
	}
	if err := e.store.Close(); err != nil {
		e.logger.Warn("close session store", zap.Error(err))
	}
	_ = e.logger.Sync()
}

// requireSession fails fast with a hint when nobody is signed in.
func (e *env) requireSession() error {
	if _, ok := e.app.Sessions().Current(); !ok {
		return fmt.Errorf("%w: run `ragctl login <username>` first", session.ErrNotAuthenticated)
	}
	return nil
}
