package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestRunOnStartRunsImmediately(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	s, err := New(func(context.Context) { calls.Add(1) }, time.Hour, WithRunOnStart(true))
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Stop(context.Background()) })

	require.Eventually(t, func() bool { return calls.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return s.Runs() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestTickerRunsOnInterval(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	s, err := New(func(context.Context) { calls.Add(1) }, time.Second)
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Stop(context.Background()) })

	require.Eventually(t, func() bool { return calls.Load() >= 1 }, 3*time.Second, 20*time.Millisecond)
}

func TestCyclesNeverOverlap(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	var active, maxActive atomic.Int32
	job := func(context.Context) {
		n := active.Add(1)
		for {
			m := maxActive.Load()
			if n <= m || maxActive.CompareAndSwap(m, n) {
				break
			}
		}
		<-release
		active.Add(-1)
	}

	core, logs := observer.New(zap.WarnLevel)
	s, err := New(job, time.Hour, WithLogger(zap.New(core)))
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))

	require.True(t, s.Trigger())
	require.Eventually(t, func() bool { return active.Load() == 1 }, time.Second, 5*time.Millisecond)
	require.False(t, s.Trigger())

	close(release)
	require.Eventually(t, func() bool { return s.Runs() == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, int32(1), maxActive.Load())
	require.Zero(t, logs.FilterMessage("previous poll cycle still running, skipping").Len())
	require.NoError(t, s.Stop(context.Background()))
}

func TestTriggerClaimsCycleBeforeReturning(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	job := func(context.Context) {
		if calls.Add(1) == 1 {
			close(started)
		}
		<-release
	}
	s, err := New(job, time.Hour)
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Stop(context.Background()) })

	require.True(t, s.Trigger())
	require.True(t, s.running.Load())
	s.tick()
	require.False(t, s.Trigger())

	<-started
	close(release)
	require.Eventually(t, func() bool { return s.Runs() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, int32(1), calls.Load())
	require.Eventually(t, func() bool { return !s.running.Load() }, 2*time.Second, 10*time.Millisecond)
}

func TestPanickingJobIsRecovered(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	s, err := New(func(context.Context) {
		calls.Add(1)
		panic("boom")
	}, time.Hour)
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))

	require.True(t, s.Trigger())
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return s.Trigger() }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return calls.Load() == 2 }, time.Second, 5*time.Millisecond)
	require.Zero(t, s.Runs())
	require.NoError(t, s.Stop(context.Background()))
}

func TestStopCancelsInFlightCycle(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	var canceled atomic.Bool
	s, err := New(func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		canceled.Store(true)
	}, time.Hour, WithRunOnStart(true))
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	require.True(t, canceled.Load())
	require.False(t, s.Trigger())
}

func TestSetInterval(t *testing.T) {
	t.Parallel()

	s, err := New(func(context.Context) {}, time.Minute)
	require.NoError(t, err)
	require.Error(t, s.SetInterval(10*time.Millisecond))
	require.NoError(t, s.SetInterval(2*time.Minute))
	require.Equal(t, 2*time.Minute, s.Interval())

	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.SetInterval(3*time.Minute))
	require.Equal(t, 3*time.Minute, s.Interval())
	require.Len(t, s.cron.Entries(), 1)
	require.Error(t, s.Start(context.Background()))
	require.NoError(t, s.Stop(context.Background()))
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(nil, time.Minute)
	require.Error(t, err)
	_, err = New(func(context.Context) {}, 500*time.Millisecond)
	require.Error(t, err)

	s, err := New(func(context.Context) {}, time.Minute)
	require.NoError(t, err)
	require.False(t, s.Trigger())
	require.NoError(t, s.Stop(context.Background()))
}
