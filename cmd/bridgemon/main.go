// bridgemon keeps a rosbridge connection alive and reports on it.
//
// Usage: go run ./cmd/bridgemon -config configs/bridgemon.example.yaml
//
// Without -config it runs with defaults against ws://<hostname>:9090.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/autobridge/internal/config"
	"github.com/rickgao/autobridge/internal/database"
	"github.com/rickgao/autobridge/internal/history"
	"github.com/rickgao/autobridge/internal/logging"
	"github.com/rickgao/autobridge/internal/metrics"
	"github.com/rickgao/autobridge/internal/reconnect"
	"github.com/rickgao/autobridge/internal/server"
	"github.com/rickgao/autobridge/internal/version"
	"github.com/rickgao/autobridge/internal/watch"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "", "path to config file (.yaml, .yml or .toml)")
	logLevel := flag.String("log-level", "", "override log.level (debug, info, warn, error)")
	flag.Parse()

	// Load configuration
	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.LoadAndValidate(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
			os.Exit(1)
		}
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}

	// Set up structured logging
	logger := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stdout)
	slog.SetDefault(logger)

	logger.Info("starting bridgemon",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
		"instance_id", cfg.Instance.ID,
	)

	if err := run(cfg, *configPath, logger); err != nil {
		logger.Error("bridgemon failed", "error", err)
		os.Exit(1)
	}

	logger.Info("bridgemon stopped")
}

func run(cfg *config.Config, configPath string, logger *slog.Logger) error {
	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Reconnect manager
	mgrOpts := cfg.Bridge.ReconnectOptions()
	mgrOpts.Logger = logger
	mgr, err := reconnect.New(mgrOpts)
	if err != nil {
		return fmt.Errorf("create reconnect manager: %w", err)
	}

	// Metrics
	m := metrics.New()
	if _, err := m.Observe(mgr); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	// Live status stream
	hub := server.NewHub(server.DefaultHubCapacity, m.Subscribers, logger)
	hub.Observe(mgr)
	defer hub.Close()

	handlerOpts := server.Options{
		InstanceID:  cfg.Instance.ID,
		Manager:     mgr,
		Hub:         hub,
		Metrics:     m.Handler(),
		MetricsPath: cfg.Server.MetricsPath,
		Logger:      logger,
	}

	// Optional status history
	var historyWriter stopper
	if cfg.Database.Enabled() {
		logger.Info("connecting to database",
			"host", cfg.Database.Host,
			"port", cfg.Database.Port,
			"database", cfg.Database.Name,
		)

		pool, err := database.Connect(ctx, cfg.Database)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer pool.Close()

		writer := history.NewWriter(history.Config{
			InstanceID:    cfg.Instance.ID,
			Table:         cfg.History.Table,
			BatchSize:     cfg.History.BatchSize,
			FlushInterval: cfg.History.FlushInterval,
			BufferSize:    cfg.History.BufferSize,
		}, pool, logger)

		if err := writer.EnsureSchema(ctx); err != nil {
			return err
		}
		if err := m.ObserveHistory(writer.Stats); err != nil {
			return fmt.Errorf("register history metrics: %w", err)
		}
		if err := writer.Start(ctx); err != nil {
			return fmt.Errorf("start history writer: %w", err)
		}
		historyWriter = writer
		writer.Observe(mgr)

		handlerOpts.History = writer.Stats
		handlerOpts.Ping = pool.Ping

		logger.Info("database connected", "table", cfg.History.Table)
	}

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           server.NewHandler(handlerOpts),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting http server", "port", cfg.Server.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if cfg.Watch.Enabled && configPath != "" {
		w := watch.New(configPath, cfg.Bridge.Address, cfg.Watch.Debounce, mgr.Connect, logger)
		g.Go(func() error {
			return w.Run(gctx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()

		logger.Info("shutting down...")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	// An empty address falls back to ws://<hostname>:9090.
	mgr.Connect(cfg.Bridge.Address)

	logger.Info("bridgemon running",
		"address", mgr.Address(),
		"reconnect_timeout", mgr.ReconnectTimeout(),
		"health_url", fmt.Sprintf("http://localhost:%d/health", cfg.Server.Port),
	)

	err = g.Wait()
	shutdown(historyWriter, mgr.Conn(), shutdownTimeout, logger)
	return err
}

type stopper interface {
	Stop(ctx context.Context) error
}

// shutdown stops the history writer, then closes the bridge. The bridge goes
// last because its close notification schedules a retry.
func shutdown(w stopper, conn io.Closer, timeout time.Duration, logger *slog.Logger) {
	if w != nil {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := w.Stop(ctx); err != nil {
			logger.Warn("history writer stop failed", "error", err)
		}
	}

	if err := conn.Close(); err != nil {
		logger.Debug("bridge close failed", "error", err)
	}
}
