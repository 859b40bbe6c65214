// Package scheduler provides a daily scheduler for the ingestion job.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Job is the work executed once per day.
type Job func(ctx context.Context) error

// RanCheck reports whether the job already ran on the day of now.
type RanCheck func(ctx context.Context, now time.Time) (bool, error)

// Scheduler manages the daily job schedule.
type Scheduler struct {
	job     Job
	ranOn   RanCheck
	runHour int
	now     func() time.Time
	logger  zerolog.Logger

	mu        sync.RWMutex
	nextRunAt time.Time
	lastRunAt *time.Time
	running   bool
}

// Option configures the Scheduler.
type Option func(*Scheduler)

// WithRanCheck sets the check used on start to decide whether to run immediately.
// Without it, the job only runs at the scheduled hour.
func WithRanCheck(c RanCheck) Option {
	return func(s *Scheduler) {
		s.ranOn = c
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

// New creates a new Scheduler running job daily at runHour.
func New(job Job, runHour int, logger zerolog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		job:     job,
		runHour: runHour,
		now:     time.Now,
		logger:  logger.With().Str("component", "scheduler").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start starts the scheduler and blocks until the context is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	s.logger.Info().Int("runHour", s.runHour).Msg("starting scheduler")

	// Catch up if the job has not run today yet
	s.runIfNeeded(ctx)

	nextRun := s.scheduleNext()
	timer := time.NewTimer(nextRun.Sub(s.now()))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("scheduler stopped")
			return ctx.Err()
		case <-timer.C:
			s.runJob(ctx)

			nextRun = s.scheduleNext()
			timer.Reset(nextRun.Sub(s.now()))
		}
	}
}

func (s *Scheduler) scheduleNext() time.Time {
	nextRun := NextRun(s.now(), s.runHour)
	s.mu.Lock()
	s.nextRunAt = nextRun
	s.mu.Unlock()

	s.logger.Info().
		Time("nextRun", nextRun).
		Dur("duration", nextRun.Sub(s.now())).
		Msg("next run scheduled")
	return nextRun
}

// NextRun returns the next occurrence of runHour after now, in now's location.
func NextRun(now time.Time, runHour int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), runHour, 0, 0, 0, now.Location())
	if !next.After(now) {
		next = time.Date(now.Year(), now.Month(), now.Day()+1, runHour, 0, 0, 0, now.Location())
	}
	return next
}

// runIfNeeded runs the job unless it already ran today.
func (s *Scheduler) runIfNeeded(ctx context.Context) {
	if s.ranOn == nil {
		return
	}

	ran, err := s.ranOn(ctx, s.now())
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to check if job ran today")
		return
	}
	if ran {
		s.logger.Info().Msg("already ran today, skipping initial run")
		return
	}

	s.logger.Info().Msg("no run for today, running initial job")
	s.runJob(ctx)
}

// runJob runs the job once and records the time.
func (s *Scheduler) runJob(ctx context.Context) {
	s.logger.Info().Msg("running scheduled job")

	now := s.now()
	s.mu.Lock()
	s.lastRunAt = &now
	s.mu.Unlock()

	if err := s.job(ctx); err != nil {
		s.logger.Error().Err(err).Msg("scheduled job failed")
	} else {
		s.logger.Info().Msg("scheduled job completed")
	}
}

// NextRunAt returns the time of the next scheduled run.
func (s *Scheduler) NextRunAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nextRunAt
}

// LastRunAt returns the time of the last run started by this scheduler.
func (s *Scheduler) LastRunAt() *time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastRunAt
}

// IsRunning returns whether the scheduler is currently running.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// SameDay reports whether a and b fall on the same calendar day in b's location.
func SameDay(a, b time.Time) bool {
	a = a.In(b.Location())
	y1, m1, d1 := a.Date()
	y2, m2, d2 := b.Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}
