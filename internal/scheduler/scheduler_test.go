package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextRun(t *testing.T) {
	loc := time.FixedZone("CET", 3600)
	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{"before run hour", time.Date(2024, 1, 1, 5, 59, 0, 0, loc), time.Date(2024, 1, 1, 6, 0, 0, 0, loc)},
		{"exactly at run hour", time.Date(2024, 1, 1, 6, 0, 0, 0, loc), time.Date(2024, 1, 2, 6, 0, 0, 0, loc)},
		{"after run hour", time.Date(2024, 1, 1, 18, 0, 0, 0, loc), time.Date(2024, 1, 2, 6, 0, 0, 0, loc)},
		{"end of month", time.Date(2024, 1, 31, 23, 0, 0, 0, loc), time.Date(2024, 2, 1, 6, 0, 0, 0, loc)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NextRun(tt.now, 6))
		})
	}
}

func TestSameDay(t *testing.T) {
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	assert.True(t, SameDay(base.Add(-11*time.Hour), base))
	assert.False(t, SameDay(base.Add(-13*time.Hour), base))
}

func TestScheduler_RunsImmediatelyWhenNotRunToday(t *testing.T) {
	var calls atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())

	s := New(func(ctx context.Context) error {
		calls.Add(1)
		cancel()
		return nil
	}, 6, zerolog.Nop(), WithRanCheck(func(ctx context.Context, now time.Time) (bool, error) {
		return false, nil
	}))

	err := s.Start(ctx)

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(1), calls.Load())
	assert.NotNil(t, s.LastRunAt())
	assert.False(t, s.IsRunning())
}

func TestScheduler_SkipsInitialRunWhenAlreadyRan(t *testing.T) {
	for _, tc := range []struct {
		name string
		ran  bool
		err  error
	}{
		{"already ran", true, nil},
		{"check fails", false, errors.New("database is locked")},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var calls atomic.Int32
			ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			defer cancel()

			s := New(func(ctx context.Context) error {
				calls.Add(1)
				return nil
			}, 6, zerolog.Nop(), WithRanCheck(func(ctx context.Context, now time.Time) (bool, error) {
				return tc.ran, tc.err
			}))

			err := s.Start(ctx)

			require.ErrorIs(t, err, context.DeadlineExceeded)
			assert.Zero(t, calls.Load())
			assert.Nil(t, s.LastRunAt())
			assert.False(t, s.NextRunAt().IsZero())
		})
	}
}

func TestScheduler_ReportsRunningAndNextRun(t *testing.T) {
	now := time.Date(2024, 1, 1, 3, 0, 0, 0, time.UTC)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := New(func(ctx context.Context) error { return nil }, 6, zerolog.Nop(), WithClock(func() time.Time { return now }))

	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	require.Eventually(t, s.IsRunning, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return !s.NextRunAt().IsZero() }, time.Second, 5*time.Millisecond)
	assert.Equal(t, time.Date(2024, 1, 1, 6, 0, 0, 0, time.UTC), s.NextRunAt())

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
	assert.False(t, s.IsRunning())
}
