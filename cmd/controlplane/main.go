// Command controlplane runs the workflow control plane's HTTP API.
//
// It owns a durable run ledger for declarative, human-gated workflows:
// agent drafting steps, write-sensitive tool invocations, shell commands,
// and stubbed HTTP steps, suspending for approval before any gated action
// and notifying a configured webhook on completion.
//
// Required environment variables:
//
//	MASTER_KEY - deployment master key for the secrets vault
//
// See internal/config for the full list of optional environment variables.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dara-labs/workflow-control-plane/internal/api"
	"github.com/dara-labs/workflow-control-plane/internal/config"
	"github.com/dara-labs/workflow-control-plane/internal/connector"
	"github.com/dara-labs/workflow-control-plane/internal/engine"
	"github.com/dara-labs/workflow-control-plane/internal/notifier"
	"github.com/dara-labs/workflow-control-plane/internal/presets"
	"github.com/dara-labs/workflow-control-plane/internal/store"
	"github.com/dara-labs/workflow-control-plane/internal/vault"
)

// Version is set via ldflags at build time.
var Version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "controlplane: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Getenv("CONTROL_PLANE_CONFIG"))
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Log.Level),
	}))

	logger.Info("starting controlplane",
		"version", Version,
		"data_dir", cfg.Store.DataDir,
		"artifacts_dir", cfg.Artifacts.Dir,
		"http_addr", cfg.HTTP.Addr,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	s, err := store.Open(cfg.Store.DataDir)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}

	v, err := vault.New(cfg.Vault.MasterKey, s)
	if err != nil {
		return fmt.Errorf("creating vault: %w", err)
	}

	c := connector.New(cfg.Connector.URL, cfg.Connector.APIKey, s)
	if !c.Enabled() {
		logger.Warn("connector client disabled: base URL missing or failed the SSRF gate", "url", cfg.Connector.URL)
	}

	p, err := presets.Open(s, cfg.Presets)
	if err != nil {
		return fmt.Errorf("opening preset registry: %w", err)
	}

	n := notifier.New(cfg.Webhook, cfg.TTS, logger)

	e, err := engine.New(s, v, c, p, n, cfg.Artifacts.Dir, logger)
	if err != nil {
		return fmt.Errorf("creating engine: %w", err)
	}

	server := api.New(e, v, p, c, os.Getenv("CONTROL_PLANE_CORS_ORIGINS"), logger)

	httpServer := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.HTTP.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
