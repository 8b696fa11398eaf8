package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"campusvote/internal/api"
	"campusvote/internal/app"
	"campusvote/internal/config"
	"campusvote/internal/tallycache"
	"campusvote/internal/watch"
	"campusvote/internal/worker"
)

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

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg, logger); err != nil {
		logger.Fatal("http server failed", zap.Error(err))
	}
}

func runHTTP(cfg config.App, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := app.Open(ctx, cfg, logger, prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}
	defer rt.Close()

	health := map[string]api.HealthCheck{}
	var cache api.ResultsCache
	if rt.DB != nil {
		health["db"] = rt.DB.Healthy
	}
	if rt.Redis != nil {
		health["redis"] = rt.Redis.Healthy
		cache = tallycache.New(rt.Redis.Client, cfg.TallyCacheTTL)
	} else {
		// No separate worker can see an in-process queue, so drain it here.
		go func() {
			refresher := worker.NewRefresher(rt.Queue, rt.Service, nil, logger.Named("events"), 0)
			if err := refresher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("event worker exited", zap.Error(err))
			}
		}()
		expiry := watch.NewExpiry(rt.Service, logger.Named("expiry"))
		if err := expiry.Start(cfg.ExpiryCheckSpec); err != nil {
			return err
		}
		defer expiry.Stop()
	}

	r := api.NewRouter(api.Options{
		Service:         rt.Service,
		Cache:           cache,
		Logger:          logger.Named("http"),
		JWTIssuer:       cfg.JWTIssuer,
		JWTSigningKey:   cfg.JWTSigningKey,
		AccessTTL:       cfg.AccessTTL,
		RateLimitPerMin: cfg.RateLimitPerMin,
		Health:          health,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down server")

	// Give outstanding requests 10 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server forced shutdown", zap.Error(err))
	}
	logger.Info("server exited")
	return nil
}
