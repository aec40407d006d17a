/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the estimate engine HTTP server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags and load config (file + ESTIMATE_* env)
  2. Build the zap logger
  3. Wire store, locker and holiday calendar (package app)
  4. Start the holiday import scheduler when configured
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  YAML config file (optional)
  -port    HTTP server port, overrides addr
  -db      SQLite database path, overrides database.dsn
           Use ":memory:" for in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the scheduler
  4. Close database and redis connections

EXAMPLES:
  ./server -db="./data/estimates.db"
  ./server -config=estimate.yaml
  ESTIMATE_DB_DRIVER=postgres ESTIMATE_DB_DSN=postgres://... ./server

SEE ALSO:
  - app/app.go: Wiring
  - api/server.go: Router configuration
  - config/config.go: Settings
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/warp/estimate-engine/api"
	"github.com/warp/estimate-engine/app"
	"github.com/warp/estimate-engine/config"
	"github.com/warp/estimate-engine/logging"
)

func main() {
	// Flags
	configPath := flag.String("config", "", "YAML config file")
	port := flag.Int("port", 0, "HTTP server port (overrides config)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *port > 0 {
		cfg.Addr = fmt.Sprintf(":%d", *port)
	}
	if *dbPath != "" {
		cfg.Database.Driver = config.DriverSQLite
		cfg.Database.DSN = *dbPath
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, "estimate-engine")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	engine, err := app.New(context.Background(), cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize engine", zap.Error(err))
	}
	defer engine.Close()

	scheduler := engine.Scheduler()
	if scheduler != nil {
		scheduler.Start()
		defer scheduler.Stop()
	}

	router := api.NewRouter(engine.Handler, cfg.CORS)

	server := &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("server starting", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}
