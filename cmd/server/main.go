/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the commission ledger server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags and load config (file + LEDGER_* env)
  2. Build the structured logger
  3. Open the store (sqlite, postgres or memory)
  4. Create API handler and maintenance scheduler
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  Path to a YAML config file (default: ./config.yaml if present)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the maintenance scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection

EXAMPLES:
  # Run with defaults (sqlite at ./data/ledger.db, port 8080)
  ./server

  # Run against Postgres
  LEDGER_DATABASE_DRIVER=postgres \
  LEDGER_DATABASE_URL=postgres://ledger@localhost/ledger ./server

  # Run in memory with JSON logs
  LEDGER_DATABASE_DRIVER=memory LEDGER_LOG_FORMAT=json ./server

SEE ALSO:
  - config/config.go: Settings and defaults
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go, store/postgres/postgres.go: Database implementations
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/warp/commission-ledger/api"
	"github.com/warp/commission-ledger/config"
	"github.com/warp/commission-ledger/ledger"
	"github.com/warp/commission-ledger/ledger/store"
	"github.com/warp/commission-ledger/store/postgres"
	"github.com/warp/commission-ledger/store/sqlite"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := cfg.Log.NewLogger(os.Stderr)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx := context.Background()

	db, closeDB, err := openStore(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer closeDB()
	logger.Info("store ready", "driver", cfg.Database.Driver)

	handler := api.NewHandler(db)
	handler.SetLogger(logger)
	handler.Forecast.DefaultMonths = cfg.Forecast.DefaultMonths

	scheduler := api.NewMaintenanceScheduler(handler.Payroll, logger)
	scheduler.CheckInterval = cfg.Maintenance.Interval
	scheduler.Enabled = cfg.Maintenance.Enabled
	handler.Scheduler = scheduler

	router := api.NewRouter(handler, api.RouterOptions{AllowedOrigins: cfg.Server.AllowedOrigins})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	scheduler.Start()
	defer scheduler.Stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		logger.Info("shutting down", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

// openStore returns the configured store and its close function.
func openStore(ctx context.Context, cfg config.DatabaseConfig) (ledger.TxStore, func(), error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		s, err := postgres.Connect(ctx, cfg.URL, postgres.Options{MaxConns: cfg.MaxConns})
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil

	case config.DriverMemory:
		return store.NewTxMemory(), func() {}, nil

	default:
		if cfg.Path != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
				return nil, nil, fmt.Errorf("create data dir: %w", err)
			}
		}
		s, err := sqlite.New(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	}
}
