// Package scheduler runs the daemon's periodic housekeeping jobs on cron
// schedules evaluated in the reference timezone.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/JackSteven13/cashbot-dreamweaver-sub002/internal/observability"
)

const (
	JobRollover = "rollover"
	JobPrune    = "mirror_prune"

	// DefaultRolloverSpec fires one second after reference midnight.
	DefaultRolloverSpec = "1 0 0 * * *"
	DefaultPruneSpec    = "0 30 3 * * *"
)

// RollOverer starts a new daily window when the date moved.
type RollOverer interface {
	RollOver() bool
}

// Pruner drops mirror entries that were not written since cutoff.
type Pruner interface {
	PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type Config struct {
	Location       *time.Location
	RolloverSpec   string
	PruneSpec      string
	PruneRetention time.Duration
}

// Scheduler owns the cron instance and the jobs registered on it.
type Scheduler struct {
	cron    *cron.Cron
	cfg     Config
	ledger  RollOverer
	pruner  Pruner
	now     func() time.Time
	logger  zerolog.Logger
	metrics *observability.Metrics
}

// New creates a Scheduler. pruner may be nil when the mirror is not
// file-backed.
func New(cfg Config, ledger RollOverer, pruner Pruner, logger zerolog.Logger, metrics *observability.Metrics) *Scheduler {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.RolloverSpec == "" {
		cfg.RolloverSpec = DefaultRolloverSpec
	}
	if cfg.PruneSpec == "" {
		cfg.PruneSpec = DefaultPruneSpec
	}
	if cfg.PruneRetention <= 0 {
		cfg.PruneRetention = 90 * 24 * time.Hour
	}
	return &Scheduler{
		cron:    cron.New(cron.WithSeconds(), cron.WithLocation(cfg.Location)),
		cfg:     cfg,
		ledger:  ledger,
		pruner:  pruner,
		now:     time.Now,
		logger:  logger,
		metrics: metrics,
	}
}

// RegisterAll adds every job to the cron instance.
func (s *Scheduler) RegisterAll() error {
	if _, err := s.cron.AddFunc(s.cfg.RolloverSpec, s.RunRolloverNow); err != nil {
		return fmt.Errorf("register rollover job: %w", err)
	}
	if s.pruner == nil {
		return nil
	}
	if _, err := s.cron.AddFunc(s.cfg.PruneSpec, s.RunPruneNow); err != nil {
		return fmt.Errorf("register prune job: %w", err)
	}
	return nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info().Int("jobs", len(s.cron.Entries())).Str("location", s.cfg.Location.String()).Msg("scheduler started")
}

// Stop stops the cron instance and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info().Msg("scheduler stopped")
}

// RunRolloverNow runs the rollover job immediately.
func (s *Scheduler) RunRolloverNow() {
	rolled := s.ledger.RollOver()
	s.metrics.SchedulerRun(JobRollover, nil)
	s.logger.Info().Bool("rolled", rolled).Msg("daily rollover sweep")
}

// RunPruneNow runs the mirror prune job immediately.
func (s *Scheduler) RunPruneNow() {
	if s.pruner == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cutoff := s.now().Add(-s.cfg.PruneRetention)
	n, err := s.pruner.PruneOlderThan(ctx, cutoff)
	s.metrics.SchedulerRun(JobPrune, err)
	if err != nil {
		s.logger.Error().Err(err).Msg("mirror prune failed")
		return
	}
	s.logger.Info().Int64("removed", n).Time("cutoff", cutoff).Msg("mirror pruned")
}
