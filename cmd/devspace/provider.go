package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/dshills/devspace/config"
	"github.com/dshills/devspace/model"
	"github.com/dshills/devspace/model/anthropic"
	"github.com/dshills/devspace/model/google"
	"github.com/dshills/devspace/model/openai"
	"github.com/dshills/devspace/workflow/store"
)

func newModel(ctx context.Context, cfg *config.Config) (model.StreamingModel, error) {
	ai := cfg.AI
	var (
		m   model.StreamingModel
		err error
	)
	switch ai.Provider {
	case "openai":
		m, err = openai.NewChatModel(ai.APIKey, ai.Model, ai.BaseURL)
	case "anthropic":
		m, err = anthropic.NewChatModel(ai.APIKey, ai.Model, ai.BaseURL)
	case "google":
		m, err = google.NewChatModel(ctx, ai.APIKey, ai.Model)
	case "mock":
		m = &model.MockModel{Chunks: []string{"This ", "is ", "a ", "canned ", "reply."}}
	default:
		err = fmt.Errorf("unknown ai provider %q", ai.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("%s model: %w", ai.Provider, err)
	}
	return m, nil
}

// newLedger opens the configured run ledger. The returned close func is
// never nil.
func newLedger(cfg *config.Config) (store.RunStore, func() error, error) {
	switch cfg.Ledger.Driver {
	case "sqlite":
		s, err := store.NewSQLiteStore(cfg.Ledger.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite ledger: %w", err)
		}
		return s, s.Close, nil
	case "mysql":
		s, err := store.NewMySQLStore(cfg.Ledger.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open mysql ledger: %w", err)
		}
		return s, s.Close, nil
	default:
		return store.NewMemStore(), func() error { return nil }, nil
	}
}

// instanceID names this server as the owner of its runs. The host name stays
// the same across restarts, so a restarted server fails its own orphaned
// runs at startup instead of waiting for their leases to lapse.
func instanceID(cfg *config.Config) string {
	if cfg.Server.InstanceID != "" {
		return cfg.Server.InstanceID
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return uuid.NewString()
}

func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(cfg.Log.Level))); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
