/*
main.go - Application entry point

PURPOSE:
  Initializes and starts a custody ledger dev node: one process that
  sequences transactions into blocks and serves the HTTP API.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags and load configuration
  2. Build the zap logger
  3. Open the state backend (memory, sqlite or leveldb)
  4. Bootstrap the chain (genesis block on first start)
  5. Start the block scheduler and the HTTP server

COMMAND-LINE FLAGS:
  -config  Optional .toml/.yaml configuration file
  -port    HTTP server port (overrides listen)
  -db      Database path (overrides data_path)
           Use ":memory:" for an in-memory SQLite database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop producing blocks
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close the backend
  5. Exit

EXAMPLES:
  # Run with a file database
  ./server -db="./data/custody.db"

  # Run on LevelDB with a config file
  CUSTODY_BACKEND=leveldb ./server -config=custody.toml -db=./data/ldb

ENVIRONMENT:
  CUSTODY_* variables, see config/config.go.

SEE ALSO:
  - api/server.go: Router configuration
  - ledger/chain.go: Chain
  - config/config.go: Configuration precedence
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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fitmarket/custody-ledger/api"
	"github.com/fitmarket/custody-ledger/config"
	"github.com/fitmarket/custody-ledger/custody"
	"github.com/fitmarket/custody-ledger/ledger"
	"github.com/fitmarket/custody-ledger/ledger/store"
	"github.com/fitmarket/custody-ledger/logging"
	"github.com/fitmarket/custody-ledger/metrics"
	"github.com/fitmarket/custody-ledger/store/leveldb"
	"github.com/fitmarket/custody-ledger/store/sqlite"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "custody-ledger: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Flags
	configPath := flag.String("config", "", "Configuration file (.toml, .yaml)")
	port := flag.Int("port", 0, "HTTP server port (overrides listen)")
	dbPath := flag.String("db", "", "Database path (overrides data_path)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if *port != 0 {
		cfg.Listen = fmt.Sprintf(":%d", *port)
	}
	if *dbPath != "" {
		cfg.DataPath = *dbPath
	}

	logger, _, err := logging.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	// Initialize backend
	backend, err := openBackend(cfg)
	if err != nil {
		return fmt.Errorf("open %s backend: %w", cfg.Backend, err)
	}
	defer backend.Close()

	opts := []ledger.Option{
		ledger.WithLogger(logger.Named("chain")),
		ledger.WithGenesis(cfg.GenesisAlloc()),
	}
	var metricsHandler http.Handler
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		opts = append(opts, ledger.WithObserver(metrics.NewCollector(reg)))
		metricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	}

	chain := ledger.NewChain(custody.NewRegistry(), backend, opts...)
	if err := chain.Bootstrap(context.Background()); err != nil {
		return fmt.Errorf("bootstrap chain: %w", err)
	}

	handler := api.NewHandler(chain, backend, ledger.Address(cfg.Genesis.Address), logger.Named("api"))
	router := api.NewRouter(handler, cfg.API, metricsHandler)

	scheduler := api.NewBlockScheduler(chain, cfg.BlockInterval, logger)
	scheduler.Start()
	defer scheduler.Stop()

	server := &http.Server{
		Addr:         cfg.Listen,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("listen", cfg.Listen),
			zap.String("backend", cfg.Backend),
			zap.Duration("block_interval", cfg.BlockInterval))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

func openBackend(cfg config.Config) (ledger.Backend, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return store.NewMemory(), nil
	case config.BackendSQLite:
		return sqlite.New(cfg.DataPath)
	case config.BackendLevelDB:
		return leveldb.New(cfg.DataPath)
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}
