package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterRejectsBadSpec(t *testing.T) {
	s := New(zerolog.Nop(), time.UTC)
	err := s.Register(TaskReconcile, "not a cron line", func(ctx context.Context, now time.Time) error { return nil })
	require.Error(t, err)
}

func TestDefaultSpecsParse(t *testing.T) {
	s := New(zerolog.Nop(), time.UTC)
	noop := func(ctx context.Context, now time.Time) error { return nil }
	require.NoError(t, s.Register(TaskCatalogRefresh, SpecCatalogRefresh, noop))
	require.NoError(t, s.Register(TaskReservation, SpecReservation, noop))
	require.NoError(t, s.Register(TaskSideQuests, SpecSideQuests, noop))
	require.NoError(t, s.Register(TaskReconcile, SpecReconcile, noop))
	require.NoError(t, s.Register(TaskTokenSweep, SpecTokenSweep, noop))

	assert.Equal(t, []TaskKind{
		TaskCatalogRefresh, TaskReservation, TaskSideQuests, TaskReconcile, TaskTokenSweep,
	}, s.Kinds())
}

func TestRunNowPassesClockTime(t *testing.T) {
	tick := time.Date(2026, 8, 31, 9, 7, 0, 0, time.UTC)
	s := New(zerolog.Nop(), time.UTC, WithClock(func() time.Time { return tick }))

	var got time.Time
	require.NoError(t, s.Register(TaskReservation, SpecReservation, func(ctx context.Context, now time.Time) error {
		got = now
		return nil
	}))

	require.NoError(t, s.RunNow(context.Background(), TaskReservation))
	assert.Equal(t, tick, got)
}

func TestRunNowUnknownTask(t *testing.T) {
	s := New(zerolog.Nop(), time.UTC)
	err := s.RunNow(context.Background(), TaskKind("nope"))
	require.Error(t, err)
}

func TestRunNowPropagatesTaskError(t *testing.T) {
	s := New(zerolog.Nop(), time.UTC)
	boom := errors.New("boom")
	require.NoError(t, s.Register(TaskReconcile, SpecReconcile, func(ctx context.Context, now time.Time) error {
		return boom
	}))
	assert.ErrorIs(t, s.RunNow(context.Background(), TaskReconcile), boom)
}

func TestTickTimeoutAppliedToContext(t *testing.T) {
	s := New(zerolog.Nop(), time.UTC, WithTimeout(25*time.Millisecond))
	require.NoError(t, s.Register(TaskSideQuests, SpecSideQuests, func(ctx context.Context, now time.Time) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Second):
			return nil
		}
	}))

	err := s.RunNow(context.Background(), TaskSideQuests)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestOverlappingRunsBothComplete(t *testing.T) {
	s := New(zerolog.Nop(), time.UTC)
	release := make(chan struct{})
	started := make(chan struct{}, 2)
	require.NoError(t, s.Register(TaskReservation, SpecReservation, func(ctx context.Context, now time.Time) error {
		started <- struct{}{}
		<-release
		return nil
	}))

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.RunNow(context.Background(), TaskReservation)
		}()
	}
	<-started
	<-started
	close(release)
	wg.Wait()
}

func TestStartTwiceFails(t *testing.T) {
	s := New(zerolog.Nop(), time.UTC)
	require.NoError(t, s.Register(TaskTokenSweep, SpecTokenSweep, func(ctx context.Context, now time.Time) error { return nil }))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Start(ctx))
	defer s.Stop()

	assert.Error(t, s.Start(ctx))
}
