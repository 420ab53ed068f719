/*
main.go - Application entry point

PURPOSE:
  Starts the fleet ledger HTTP server. Handles configuration, dependency
  wiring and graceful shutdown.

STARTUP SEQUENCE:
  1. Load FLEET_* configuration
  2. Build the zap logger
  3. Open the SQLite store (migrates the schema)
  4. Connect the Redis view cache when FLEET_REDIS_ADDR is set
  5. Register Prometheus collectors
  6. Build service, handler and router
  7. Serve until SIGINT/SIGTERM

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests (FLEET_SHUTDOWN_TIMEOUT)
  3. Close Redis and the database
  4. Exit

EXAMPLES:
  # Run with file database
  FLEET_DB_PATH=./data/fleet.db ./server

  # In-memory database, human-readable logs, Redis views
  FLEET_DB_PATH=":memory:" FLEET_LOG_FORMAT=console FLEET_REDIS_ADDR=localhost:6379 ./server

SEE ALSO:
  - config/config.go: Environment variables
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/fleetops/fleet-ledger/api"
	"github.com/fleetops/fleet-ledger/cache"
	"github.com/fleetops/fleet-ledger/config"
	"github.com/fleetops/fleet-ledger/metrics"
	"github.com/fleetops/fleet-ledger/service"
	"github.com/fleetops/fleet-ledger/store/sqlite"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fleet-ledger: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer store.Close()

	opts := []service.Option{service.WithLogger(logger.Named("service"))}
	if cfg.CacheEnabled() {
		client, err := cache.New(context.Background(), cfg.RedisAddr)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer client.Close()
		opts = append(opts, service.WithViewCache(cache.NewLedgerCache(client, cfg.ViewTTL)))
		logger.Info("view cache enabled", zap.String("redis", cfg.RedisAddr), zap.Duration("ttl", cfg.ViewTTL))
	}

	metrics.Init()

	svc := service.New(store, opts...)
	handler := api.NewHandler(svc, logger.Named("api"))
	router := api.NewRouter(handler, api.RouterOptions{
		Logger:      logger.Named("http"),
		CORSOrigins: cfg.CORSOrigins,
		RateLimit:   cfg.RateLimit,
		Production:  cfg.IsProduction(),
	})

	server := &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("addr", cfg.Addr), zap.String("env", cfg.Env), zap.String("db", cfg.DBPath))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case sig := <-quit:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}
