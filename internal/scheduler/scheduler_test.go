package scheduler_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/septivank/ven-fleet-simulator/internal/scheduler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSchedulerRunsTasksPeriodically(t *testing.T) {
	s := scheduler.New(zap.NewNop())

	var runs atomic.Int32
	require.NoError(t, s.Add("count", 10*time.Millisecond, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}))

	s.Start(context.Background())
	assert.Eventually(t, func() bool { return runs.Load() >= 3 }, time.Second, 5*time.Millisecond)
	s.Stop()

	after := runs.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, runs.Load())
}

func TestSchedulerSurvivesFailuresAndPanics(t *testing.T) {
	s := scheduler.New(zap.NewNop())

	var failing, panicking atomic.Int32
	require.NoError(t, s.Add("fail", 10*time.Millisecond, func(ctx context.Context) error {
		failing.Add(1)
		return errors.New("boom")
	}))
	require.NoError(t, s.Add("panic", 10*time.Millisecond, func(ctx context.Context) error {
		panicking.Add(1)
		panic("boom")
	}))

	s.Start(context.Background())
	assert.Eventually(t, func() bool {
		return failing.Load() >= 2 && panicking.Load() >= 2
	}, time.Second, 5*time.Millisecond)
	s.Stop()
}

func TestSchedulerAddValidation(t *testing.T) {
	s := scheduler.New(zap.NewNop())

	assert.Error(t, s.Add("zero", 0, func(ctx context.Context) error { return nil }))

	s.Start(context.Background())
	defer s.Stop()
	assert.Error(t, s.Add("late", time.Second, func(ctx context.Context) error { return nil }))
}
