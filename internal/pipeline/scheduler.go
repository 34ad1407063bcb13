package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/assetstage/assetstage/internal/config"
	"github.com/assetstage/assetstage/internal/logging"
)

// Scheduler runs the sweeper on a cron schedule or a fixed interval.
type Scheduler struct {
	sweeper    *Sweeper
	schedule   string
	interval   time.Duration
	runOnStart bool
	logger     *slog.Logger
}

// NewScheduler builds a Scheduler from cfg. A cron expression takes
// precedence over the interval; it is parsed here so a bad expression
// fails at startup rather than at the first tick.
func NewScheduler(sweeper *Sweeper, cfg config.SweeperConfig) (*Scheduler, error) {
	if cfg.Cron != "" {
		if _, err := cron.ParseStandard(cfg.Cron); err != nil {
			return nil, fmt.Errorf("parsing sweeper cron %q: %w", cfg.Cron, err)
		}
	} else if cfg.Interval <= 0 {
		return nil, fmt.Errorf("sweeper needs a cron expression or a positive interval")
	}
	return &Scheduler{
		sweeper:    sweeper,
		schedule:   cfg.Cron,
		interval:   cfg.Interval,
		runOnStart: cfg.RunOnStart,
		logger:     logging.Component("scheduler"),
	}, nil
}

// Run blocks, sweeping on schedule, until ctx is cancelled. A sweep in
// flight when ctx is cancelled sees the cancellation and stops early.
func (s *Scheduler) Run(ctx context.Context) {
	if s.runOnStart {
		s.runOnce(ctx)
	}
	if s.schedule != "" {
		s.runCron(ctx)
		return
	}
	s.runTicker(ctx)
}

func (s *Scheduler) runCron(ctx context.Context) {
	cl := cronLogger{s.logger}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := c.AddFunc(s.schedule, func() { s.runOnce(ctx) }); err != nil {
		s.logger.Error("Invalid sweeper schedule", "cron", s.schedule, "error", err)
		return
	}
	s.logger.Info("Sweeper scheduled", "cron", s.schedule)
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
}

func (s *Scheduler) runTicker(ctx context.Context) {
	s.logger.Info("Sweeper scheduled", "interval", s.interval)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	if _, err := s.sweeper.Sweep(ctx, SweepOptions{}); err != nil && ctx.Err() == nil {
		s.logger.Error("Scheduled sweep failed", "error", err)
	}
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error(msg, append(keysAndValues, "error", err)...)
}
