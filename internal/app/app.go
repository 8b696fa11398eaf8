// Package app wires configuration into the shared runtime pieces used by
// every command.
package app

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"campusvote/internal/config"
	"campusvote/internal/election"
	"campusvote/internal/logging"
	"campusvote/internal/queue"
	"campusvote/internal/store"
)

// Runtime holds the opened dependencies. Close releases them.
type Runtime struct {
	Config  config.App
	Logger  *zap.Logger
	DB      *store.DB
	Redis   *store.Redis
	Queue   queue.Queue
	Service *election.Service
}

// Logger builds the process logger from cfg.
func Logger(cfg config.App) (*zap.Logger, error) {
	return logging.New(logging.Config{
		Level: cfg.LogLevel,
		File:  cfg.LogFile,
		Debug: cfg.Env == "dev",
	})
}

// Open connects the configured store and queue and builds the election
// service. reg receives the service metrics; nil skips registration.
func Open(ctx context.Context, cfg config.App, logger *zap.Logger, reg prometheus.Registerer) (*Runtime, error) {
	rt := &Runtime{Config: cfg, Logger: logger}

	var st election.Store
	switch cfg.StoreBackend {
	case "memory":
		logger.Warn("using in-memory store; data is lost on exit")
		st = election.NewMemoryStore()
	default:
		db, err := store.NewDB(ctx, cfg.DatabaseURL, store.PoolOptions{
			MaxOpenConns: cfg.DBMaxOpenConns,
			MaxIdleConns: cfg.DBMaxIdleConns,
		})
		if err != nil {
			return nil, err
		}
		rt.DB = db
		if err := db.Migrate(ctx); err != nil {
			rt.Close()
			return nil, err
		}
		st = election.NewRepository(db.Client)
	}

	switch cfg.QueueBackend {
	case "memory":
		rt.Queue = queue.NewInMemory(1024)
	default:
		rt.Redis = store.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if !rt.Redis.Healthy(ctx) {
			logger.Warn("redis not reachable; events and cache will fail until it is", zap.String("addr", cfg.RedisAddr))
		}
		rt.Queue = queue.NewRedisQueue(rt.Redis.Client, cfg.QueueKey)
	}

	rt.Service = election.NewService(st, election.Options{
		Publisher:     rt.Queue,
		Metrics:       election.NewMetrics(reg),
		Logger:        logger.Named("election"),
		MaxInFlight:   cfg.MaxInFlightTx,
		TxTimeout:     cfg.TxTimeout,
		AdmissionWait: cfg.AdmissionWait,
	})
	logger.Info("runtime ready",
		zap.String("store", cfg.StoreBackend),
		zap.String("queue", cfg.QueueBackend),
		zap.Int64("max_inflight_tx", cfg.MaxInFlightTx),
		zap.Duration("tx_timeout", cfg.TxTimeout),
	)
	return rt, nil
}

// Close releases every opened dependency.
func (rt *Runtime) Close() error {
	var firstErr error
	if err := rt.Redis.Close(); err != nil {
		firstErr = fmt.Errorf("close redis: %w", err)
	}
	if err := rt.DB.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("close db: %w", err)
	}
	return firstErr
}
