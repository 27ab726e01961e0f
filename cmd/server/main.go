/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the impact engine server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags, load YAML config
  2. Initialize the key-value store (SQLite or in-memory)
  3. Assemble the fulfillment client and processing pipeline
  4. Configure HTTP router, start the batch scheduler
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  YAML config file path (optional)
  -port    HTTP server port (overrides config)
  -db      SQLite database path (overrides config)
           Use ":memory:" for an in-memory store

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the batch scheduler
  4. Close the store
  5. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/impact.db"

  # Run with in-memory store
  ./server -db=":memory:"

  # Run from a config file
  ./server -config=./impact.yaml

SEE ALSO:
  - config/config.go: YAML configuration
  - api/server.go: Router configuration
  - pipeline/runner.go: Batch scheduler
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/wityliti/afforestation-atlassian-plugin/afforestation"
	"github.com/wityliti/afforestation-atlassian-plugin/api"
	"github.com/wityliti/afforestation-atlassian-plugin/config"
	"github.com/wityliti/afforestation-atlassian-plugin/pipeline"
	"github.com/wityliti/afforestation-atlassian-plugin/store"
	"github.com/wityliti/afforestation-atlassian-plugin/store/memory"
	"github.com/wityliti/afforestation-atlassian-plugin/store/sqlite"
)

func main() {
	// Flags
	configPath := flag.String("config", "", "YAML config file path")
	port := flag.Int("port", 0, "HTTP server port (overrides config)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}

	// Logger
	var zl *zap.Logger
	if cfg.Development {
		zl, err = zap.NewDevelopment()
	} else {
		zl, err = zap.NewProduction()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer zl.Sync()
	log := zl.Sugar()

	// Store
	var kv store.KV
	var closeStore func() error
	if cfg.DBPath == ":memory:" {
		kv = memory.New()
		closeStore = func() error { return nil }
		log.Infow("using in-memory store")
	} else {
		db, err := sqlite.New(cfg.DBPath)
		if err != nil {
			log.Fatalw("failed to initialize database", "path", cfg.DBPath, "error", err)
		}
		kv = db
		closeStore = db.Close
		log.Infow("using sqlite store", "path", cfg.DBPath)
	}
	defer closeStore()

	// Fulfillment client (optional: no API key means no planting)
	var fulfillment *afforestation.Client
	var fulfiller pipeline.Fulfiller
	if cfg.Fulfillment.APIKey != "" {
		fulfillment = afforestation.New(cfg.Fulfillment.BaseURL, cfg.Fulfillment.APIKey, log)
		fulfiller = fulfillment
	} else {
		log.Warnw("no fulfillment API key configured; pledges and orders disabled")
	}

	// Pipeline and scheduler
	engine := pipeline.New(kv, fulfiller, log)
	runner := pipeline.NewRunner(engine)
	runner.CheckInterval = time.Duration(cfg.Scheduler.CheckIntervalMinutes) * time.Minute
	runner.Enabled = cfg.Scheduler.Enabled
	runner.Start()
	defer runner.Stop()

	// Router
	handler := api.NewHandler(engine, fulfillment, log)
	router := api.NewRouter(handler)

	// Server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Infow("server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("server failed", "error", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Infow("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalw("server forced to shutdown", "error", err)
	}

	log.Infow("server stopped")
}
