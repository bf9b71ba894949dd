// Package jobs runs periodic maintenance inside the API process.
package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/kue-app/backend/internal/logger"
)

// Purger deletes records older than a cutoff. payment.EventStore satisfies it.
type Purger interface {
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Config holds scheduler configuration
type Config struct {
	// Schedule is a cron spec or descriptor such as "@daily".
	Schedule string
	// Retention is how long processed webhook deliveries are remembered.
	Retention time.Duration
	// Timeout bounds one purge run.
	Timeout time.Duration
}

// DefaultConfig returns default scheduler configuration
func DefaultConfig() Config {
	return Config{
		Schedule:  "@daily",
		Retention: 30 * 24 * time.Hour,
		Timeout:   time.Minute,
	}
}

// Scheduler purges expired webhook deliveries on a cron schedule.
type Scheduler struct {
	cron   *cron.Cron
	events Purger
	cfg    Config
	now    func() time.Time
	log    zerolog.Logger

	mu         sync.Mutex
	lastRun    time.Time
	runCount   int64
	errorCount int64
	lastPurged int64
}

// NewScheduler validates the schedule and registers the purge job.
func NewScheduler(events Purger, cfg Config) (*Scheduler, error) {
	def := DefaultConfig()
	if cfg.Schedule == "" {
		cfg.Schedule = def.Schedule
	}
	if cfg.Retention <= 0 {
		cfg.Retention = def.Retention
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}

	s := &Scheduler{
		cron:   cron.New(),
		events: events,
		cfg:    cfg,
		now:    time.Now,
		log:    logger.Component("jobs"),
	}
	if _, err := s.cron.AddFunc(cfg.Schedule, func() { s.RunPurge(context.Background()) }); err != nil {
		return nil, fmt.Errorf("invalid cleanup schedule %q: %w", cfg.Schedule, err)
	}
	return s, nil
}

// Start runs the cron loop in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Str("schedule", s.cfg.Schedule).Dur("retention", s.cfg.Retention).Msg("scheduler started")
}

// Stop stops the cron loop and waits for a running purge, up to ctx.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.log.Info().Msg("scheduler stopped gracefully")
	case <-ctx.Done():
		s.log.Warn().Msg("scheduler stop timed out")
	}
}

// RunPurge deletes deliveries older than the retention window once.
func (s *Scheduler) RunPurge(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	start := s.now()
	cutoff := start.Add(-s.cfg.Retention).UTC()
	n, err := s.events.PurgeBefore(ctx, cutoff)

	s.mu.Lock()
	s.lastRun = start
	s.runCount++
	if err != nil {
		s.errorCount++
	} else {
		s.lastPurged = n
	}
	s.mu.Unlock()

	if err != nil {
		s.log.Error().Err(err).Time("cutoff", cutoff).Msg("webhook event purge failed")
		return
	}
	s.log.Info().Int64("deleted", n).Time("cutoff", cutoff).Msg("purged webhook events")
}

// Stats contains scheduler statistics
type Stats struct {
	Schedule   string    `json:"schedule"`
	LastRun    time.Time `json:"last_run"`
	RunCount   int64     `json:"run_count"`
	ErrorCount int64     `json:"error_count"`
	LastPurged int64     `json:"last_purged"`
}

// GetStats returns scheduler statistics
func (s *Scheduler) GetStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Schedule:   s.cfg.Schedule,
		LastRun:    s.lastRun,
		RunCount:   s.runCount,
		ErrorCount: s.errorCount,
		LastPurged: s.lastPurged,
	}
}
