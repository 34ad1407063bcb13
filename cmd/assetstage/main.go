// Package main is the entry point for the assetstage upload staging server.
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
	"sync"
	"syscall"
	"time"

	"github.com/assetstage/assetstage/internal/config"
	"github.com/assetstage/assetstage/internal/logging"
	"github.com/assetstage/assetstage/internal/metrics"
	"github.com/assetstage/assetstage/internal/pipeline"
	"github.com/assetstage/assetstage/internal/registry"
	"github.com/assetstage/assetstage/internal/server"
	"github.com/assetstage/assetstage/internal/storage"
)

func main() {
	configPath := flag.String("config", "assetstage.yaml", "path to configuration file")
	port := flag.Int("port", 0, "override listening port (default: from config or 8080)")
	host := flag.String("host", "", "override listening host (default: from config or 0.0.0.0)")
	logLevel := flag.String("log-level", "", "log level: debug, info, warn, error (default: from config or info)")
	logFormat := flag.String("log-format", "", "log format: text, json (default: from config or text)")
	shutdownTimeout := flag.Int("shutdown-timeout", 0, "graceful shutdown timeout in seconds (default: from config or 30)")
	noSweeper := flag.Bool("no-sweeper", false, "disable the scheduled reclamation sweep")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Command-line flags override config file values.
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if *logFormat != "" {
		cfg.Logging.Format = *logFormat
	}
	if *shutdownTimeout != 0 {
		cfg.Server.ShutdownTimeout = *shutdownTimeout
	}
	if *noSweeper {
		cfg.Sweeper.Enabled = false
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)
	if cfg.Observability.Metrics {
		metrics.Register()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.NewFromConfig(ctx, cfg.Storage)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize storage: %v\n", err)
		os.Exit(1)
	}

	reg, err := registry.NewFromConfig(ctx, cfg.Registry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize registry: %v\n", err)
		os.Exit(1)
	}
	defer reg.Close()

	p := pipeline.New(store, reg, pipeline.ConfigFrom(cfg.Pipeline))

	srv, err := server.New(cfg, p, server.WithObjectStore(store), server.WithRegistry(reg))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create server: %v\n", err)
		os.Exit(1)
	}

	var wg sync.WaitGroup
	if cfg.Sweeper.Enabled {
		sched, err := pipeline.NewScheduler(p.Sweeper, cfg.Sweeper)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to configure sweeper: %v\n", err)
			os.Exit(1)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			sched.Run(ctx)
		}()
	} else {
		slog.Info("Scheduled sweep disabled")
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)

	// Start the server in a goroutine so we can handle shutdown signals.
	errCh := make(chan error, 1)
	go func() {
		slog.Info("assetstage listening", "addr", addr,
			"staging_prefix", cfg.Pipeline.StagingPrefix, "permanent_prefix", cfg.Pipeline.PermanentPrefix)
		if err := srv.ListenAndServe(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		slog.Info("Received signal, shutting down")

		// Give in-flight requests time to complete.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Shutdown error", "error", err)
		}
		wg.Wait()
		slog.Info("Server stopped")

	case err := <-errCh:
		if err != nil {
			fmt.Fprintf(os.Stderr, "server error: %v\n", err)
			stop()
			wg.Wait()
			os.Exit(1)
		}
	}
}
