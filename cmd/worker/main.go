package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"campusvote/internal/app"
	"campusvote/internal/config"
	"campusvote/internal/tallycache"
	"campusvote/internal/watch"
	"campusvote/internal/worker"
)

// Worker consumes the event feed, refreshes the tally cache and watches for
// elections whose voting window closed while still active.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := app.Logger(cfg)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.QueueBackend == "memory" {
		logger.Fatal("worker needs the redis queue; the in-memory queue is drained by the api process")
	}

	rt, err := app.Open(ctx, cfg, logger, nil)
	if err != nil {
		logger.Fatal("open runtime failed", zap.Error(err))
	}
	defer rt.Close()

	expiry := watch.NewExpiry(rt.Service, logger.Named("expiry"))
	if err := expiry.Start(cfg.ExpiryCheckSpec); err != nil {
		logger.Fatal("expiry watcher", zap.Error(err))
	}
	defer expiry.Stop()

	cache := tallycache.New(rt.Redis.Client, cfg.TallyCacheTTL)
	refresher := worker.NewRefresher(rt.Queue, rt.Service, cache, logger.Named("events"), 0)
	if err := refresher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker stopped", zap.Error(err))
		return
	}
	logger.Info("worker stopped")
}
