// Package main runs an analysis worker node: the claim-and-execute loop,
// the recovery sweep and the operational HTTP surface, against a shared
// Postgres or MongoDB job store.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/fieldlens/analysis-queue/internal/config"
	"github.com/fieldlens/analysis-queue/internal/platform/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Printf("analysis worker exited: %v", err)
		os.Exit(1)
	}
}

// run loads configuration, assembles the node and serves until ctx is done.
func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	appLogger := logger.Setup(cfg.Server.LogLevel, os.Stdout)
	appLogger.Info("configuration loaded",
		"port", cfg.Server.Port,
		"store_driver", cfg.Store.Driver,
		"max_concurrency", cfg.Engine.MaxConcurrency,
		"webhook_enabled", cfg.Notify.WebhookURL != "",
		"redis_dedupe", cfg.Redis.URL != "")

	app, err := newApplication(ctx, cfg, appLogger)
	if err != nil {
		return err
	}
	defer app.close()

	if err := app.start(ctx); err != nil {
		return err
	}
	return app.serve(ctx)
}
