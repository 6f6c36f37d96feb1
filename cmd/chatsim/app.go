package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/r3d91ll/llm-chat-simulator/internal/completion"
	"github.com/r3d91ll/llm-chat-simulator/internal/config"
	"github.com/r3d91ll/llm-chat-simulator/internal/engine"
	"github.com/r3d91ll/llm-chat-simulator/internal/store"
	"github.com/r3d91ll/llm-chat-simulator/internal/telemetry"
)

// app bundles everything a command needs.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	client  *completion.Client
	store   store.Store
	service *engine.Service
}

// loadConfig reads config and applies flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	return cfg, nil
}

// newApp wires config, logging, telemetry, the provider client, the session
// store and the service. logOut receives log output.
func newApp(ctx context.Context, cfg *config.Config, logOut io.Writer) (*app, error) {
	logger := newLogger(logOut, cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	tcfg := telemetry.DefaultConfig()
	tcfg.Enabled = cfg.Telemetry.Enabled
	tcfg.Endpoint = cfg.Telemetry.Endpoint
	tcfg.ProjectName = cfg.Telemetry.Project
	tcfg.Version = Version
	if err := telemetry.Init(ctx, tcfg); err != nil {
		logger.Warn("failed to initialize telemetry", "error", err)
	} else if tcfg.Enabled {
		logger.Info("tracing enabled", "project", tcfg.ProjectName, "endpoint", tcfg.Endpoint)
	}

	client := completion.New(completion.Config{
		BaseURL:   cfg.Provider.BaseURL,
		Model:     cfg.Provider.Model,
		MaxTokens: cfg.Provider.MaxTokens,
		Timeout:   cfg.Provider.Timeout,
		Logger:    logger,
	})

	st, err := store.Open(ctx, store.Config{
		Backend: cfg.Store.Backend,
		Path:    cfg.Store.Path,
		TTL:     cfg.Store.TTL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}

	eng := engine.New(engine.Config{
		Completer:           client,
		Window:              cfg.Engine.Window,
		SimilarityThreshold: cfg.Engine.SimilarityThreshold,
		ClosureTimeout:      cfg.Provider.ClosureTimeout,
		Logger:              logger,
	})

	return &app{
		cfg:     cfg,
		logger:  logger,
		client:  client,
		store:   st,
		service: engine.NewService(st, eng, logger),
	}, nil
}

// Close flushes traces and closes the store.
func (a *app) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := telemetry.Shutdown(ctx); err != nil {
		a.logger.Warn("failed to flush traces", "error", err)
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn("failed to close session store", "error", err)
	}
}

// stderr is swapped out by tests.
var stderr io.Writer = os.Stderr
