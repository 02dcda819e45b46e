/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the Kafala sponsorship server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (defaults, YAML, .env, environment, flags)
  2. Build the logger
  3. Initialize SQLite store
  4. Create the engine and API handler
  5. Register and start the maintenance jobs
  6. Configure HTTP router
  7. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port       HTTP server port (default: 8080)
  -db         SQLite database path (default: kafala.db)
              Use ":memory:" for in-memory database
  -log-level  debug | info | warn | error (default: info)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Wait for a running job to finish
  4. Close database connection
  5. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/kafala.db"

  # Run with in-memory database and debug logs
  ./server -db=":memory:" -log-level=debug

  # Run from a YAML file with JSON logs
  KAFALA_CONFIG=./kafala.yaml LOG_FORMAT=json ./server

ENVIRONMENT:
  See config/config.go for the full list (PORT, DATABASE_PATH, LOG_LEVEL,
  LOG_FORMAT, ALLOWED_ORIGINS, STATIC_DIR, SCHEDULER_*). A .env file in the
  working directory is loaded first.

SEE ALSO:
  - config/config.go: Configuration sources
  - api/server.go: Router configuration
  - api/scheduler.go: Maintenance jobs
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warp/kafala-engine/api"
	"github.com/warp/kafala-engine/config"
	"github.com/warp/kafala-engine/kafala"
	"github.com/warp/kafala-engine/store/sqlite"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// Configuration
	cfg, err := config.Load(config.Options{Args: os.Args[1:]})
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := cfg.NewLogger(os.Stdout)
	slog.SetDefault(logger)

	// Initialize store
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer store.Close()

	// Initialize engine and handler
	engine := kafala.NewEngine(store, kafala.WithLogger(logger))
	handler := api.NewHandler(engine, store, logger)

	// Maintenance jobs
	loc, err := cfg.Scheduler.Location()
	if err != nil {
		return err
	}
	scheduler, err := api.NewScheduler(engine, api.SchedulerConfig{
		Enabled:        cfg.Scheduler.Enabled,
		ExtendSpec:     cfg.Scheduler.ExtendSpec,
		AgeRefreshSpec: cfg.Scheduler.AgeRefreshSpec,
		Location:       loc,
	}, logger)
	if err != nil {
		return err
	}
	handler.Scheduler = scheduler
	scheduler.Start()
	defer scheduler.Stop()

	// Create router
	router := api.NewRouter(handler, api.RouterOptions{
		AllowedOrigins: cfg.AllowedOrigins,
		StaticDir:      cfg.StaticDir,
		AccessLog:      cfg.AccessLog,
	})

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", server.Addr, "db", cfg.DBPath)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serveErr:
		return err
	case <-quit:
	}

	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}
