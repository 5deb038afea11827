package evaluator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// SchedulerConfig contains the scan cadences.
type SchedulerConfig struct {
	// EvaluationInterval is how often the threshold scan runs.
	// Default: 5 minutes.
	EvaluationInterval time.Duration

	// RefreshCheckSchedule is a standard cron expression for the daily
	// refresh scan (e.g., "0 2 * * *"). If empty, the refresh scan
	// never runs.
	RefreshCheckSchedule string
}

// Scheduler drives the evaluator: the threshold scan on a fixed
// interval and the refresh scan on a cron schedule.
type Scheduler struct {
	evaluator *Evaluator
	config    SchedulerConfig
	cron      *cron.Cron
	logger    *slog.Logger

	mu      sync.Mutex
	running bool
}

// NewScheduler creates a scheduler for the given evaluator.
func NewScheduler(evaluator *Evaluator, config SchedulerConfig) *Scheduler {
	if config.EvaluationInterval <= 0 {
		config.EvaluationInterval = 5 * time.Minute
	}
	return &Scheduler{
		evaluator: evaluator,
		config:    config,
		cron:      cron.New(),
		logger:    slog.Default().With("component", "evaluator.scheduler"),
	}
}

// Start begins both scans. The interval loop runs on a goroutine; the
// cron scheduler runs its own. Both stop when ctx is cancelled. Start
// returns an error only for an invalid cron expression.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already running")
	}

	if s.config.RefreshCheckSchedule != "" {
		if _, err := cron.ParseStandard(s.config.RefreshCheckSchedule); err != nil {
			return fmt.Errorf("invalid cron schedule %q: %w", s.config.RefreshCheckSchedule, err)
		}
		_, err := s.cron.AddFunc(s.config.RefreshCheckSchedule, func() {
			if err := s.evaluator.RefreshScan(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("scheduled refresh scan failed", "error", err)
			}
		})
		if err != nil {
			return fmt.Errorf("failed to schedule refresh scan: %w", err)
		}
		s.cron.Start()
	}

	go s.runEvaluationLoop(ctx)
	s.running = true

	s.logger.Info("Evaluation scheduler started",
		"evaluation_interval", s.config.EvaluationInterval.String(),
		"refresh_check_schedule", s.config.RefreshCheckSchedule,
	)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	return nil
}

// runEvaluationLoop runs the threshold scan on the configured interval
// until ctx is cancelled. An immediate first scan catches state left
// over from before a restart.
func (s *Scheduler) runEvaluationLoop(ctx context.Context) {
	if err := s.evaluator.EvaluateAll(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("evaluation scan failed", "error", err)
	}

	ticker := time.NewTicker(s.config.EvaluationInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.evaluator.EvaluateAll(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("evaluation scan failed", "error", err)
			}
		}
	}
}

// Stop stops the cron scheduler and waits for any running job.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		stopCtx := s.cron.Stop()
		<-stopCtx.Done()
		s.running = false
		s.logger.Info("Evaluation scheduler stopped")
	}
}
