// Package main is the entry point for assetstage-sweep, a one-shot
// reclamation sweep for operators.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/assetstage/assetstage/internal/config"
	"github.com/assetstage/assetstage/internal/logging"
	"github.com/assetstage/assetstage/internal/pipeline"
	"github.com/assetstage/assetstage/internal/registry"
	"github.com/assetstage/assetstage/internal/storage"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// report is the JSON document printed on success.
type report struct {
	DryRun    bool     `json:"dryRun"`
	Scanned   int      `json:"scanned"`
	Claimed   int      `json:"claimed"`
	Reclaimed []string `json:"reclaimed"`
	Failed    int      `json:"failed"`
	Purged    int64    `json:"purged"`
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("assetstage-sweep", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "assetstage.yaml", "path to configuration file")
	dryRun := fs.Bool("dry-run", false, "list orphaned staging objects without deleting them")
	logLevel := fs.String("log-level", "", "log level: debug, info, warn, error (default: from config or info)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "failed to load config: %v\n", err)
		return 1
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format, stderr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.NewFromConfig(ctx, cfg.Storage)
	if err != nil {
		fmt.Fprintf(stderr, "failed to initialize storage: %v\n", err)
		return 1
	}
	reg, err := registry.NewFromConfig(ctx, cfg.Registry)
	if err != nil {
		fmt.Fprintf(stderr, "failed to initialize registry: %v\n", err)
		return 1
	}
	defer reg.Close()

	sweeper := pipeline.NewSweeper(store, reg, pipeline.ConfigFrom(cfg.Pipeline))
	return sweep(ctx, sweeper, *dryRun, stdout, stderr)
}

func sweep(ctx context.Context, sweeper *pipeline.Sweeper, dryRun bool, stdout, stderr io.Writer) int {
	r, err := sweeper.Sweep(ctx, pipeline.SweepOptions{DryRun: dryRun})
	if err != nil {
		fmt.Fprintf(stderr, "sweep failed: %v\n", err)
		return 1
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report{
		DryRun:    dryRun,
		Scanned:   r.Scanned,
		Claimed:   r.Claimed,
		Reclaimed: r.Reclaimed,
		Failed:    r.Failed,
		Purged:    r.Purged,
	}); err != nil {
		fmt.Fprintf(stderr, "writing report: %v\n", err)
		return 1
	}
	if r.Failed > 0 {
		return 3
	}
	return 0
}
