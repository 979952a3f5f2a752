package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddJobRejectsDuplicates(t *testing.T) {
	s := New(10)
	noop := func(ctx context.Context) error { return nil }

	require.NoError(t, s.AddEvery("sweep", time.Second, noop))
	err := s.AddEvery("sweep", time.Second, noop)
	assert.ErrorIs(t, err, ErrJobExists)
}

func TestAddJobValidation(t *testing.T) {
	s := New(10)
	noop := func(ctx context.Context) error { return nil }

	assert.Error(t, s.AddEvery("", time.Second, noop))
	assert.Error(t, s.AddEvery("x", 0, noop))
}

func TestScheduledExecution(t *testing.T) {
	s := New(10)
	var runs atomic.Int32
	require.NoError(t, s.AddEvery("tick", time.Second, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}))

	s.Start()
	defer s.Stop()

	assert.Eventually(t, func() bool { return runs.Load() >= 1 }, 3*time.Second, 50*time.Millisecond)
}

func TestRunNowRecordsHistory(t *testing.T) {
	s := New(10)
	require.NoError(t, s.AddEvery("snapshot", time.Hour, func(ctx context.Context) error {
		return nil
	}))

	require.NoError(t, s.RunNow("snapshot"))

	latest := s.History().Latest("snapshot")
	require.NotNil(t, latest)
	assert.Equal(t, "snapshot", latest.Job)
	assert.Equal(t, 1, latest.Attempts)
	assert.Empty(t, latest.Err)
}

func TestRunNowUnknownJob(t *testing.T) {
	s := New(10)
	assert.ErrorIs(t, s.RunNow("missing"), ErrJobNotFound)
}

func TestRetryUntilSuccess(t *testing.T) {
	s := New(10)
	var attempts atomic.Int32
	job := &Job{
		Name:     "flaky",
		Interval: time.Hour,
		Retry: RetryPolicy{
			MaxAttempts:  5,
			InitialDelay: time.Millisecond,
			MaxDelay:     10 * time.Millisecond,
			Multiplier:   2,
		},
	}
	require.NoError(t, s.AddJob(job, func(ctx context.Context) error {
		if attempts.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	}))

	require.NoError(t, s.RunNow("flaky"))
	assert.Equal(t, int32(3), attempts.Load())

	latest := s.History().Latest("flaky")
	require.NotNil(t, latest)
	assert.Equal(t, 3, latest.Attempts)
}

func TestNonRetryableStopsRetry(t *testing.T) {
	s := New(10)
	var attempts atomic.Int32
	job := &Job{
		Name:     "fatal",
		Interval: time.Hour,
		Retry:    DefaultRetryPolicy(),
	}
	require.NoError(t, s.AddJob(job, func(ctx context.Context) error {
		attempts.Add(1)
		return NonRetryable(errors.New("bad config"))
	}))

	err := s.RunNow("fatal")
	assert.Error(t, err)
	assert.Equal(t, int32(1), attempts.Load())
}

func TestPanicIsCaptured(t *testing.T) {
	s := New(10)
	require.NoError(t, s.AddEvery("panicky", time.Hour, func(ctx context.Context) error {
		panic("boom")
	}))

	err := s.RunNow("panicky")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")
}

func TestRemoveJob(t *testing.T) {
	s := New(10)
	require.NoError(t, s.AddEvery("gone", time.Hour, func(ctx context.Context) error { return nil }))
	require.NoError(t, s.RemoveJob("gone"))
	assert.ErrorIs(t, s.RemoveJob("gone"), ErrJobNotFound)
	assert.Empty(t, s.Jobs())
}

func TestHistoryBound(t *testing.T) {
	h := NewHistory(3)
	for i := 0; i < 5; i++ {
		h.Record(RunEntry{Job: "j", Started: time.Now(), Attempts: i + 1})
	}
	runs := h.List("j")
	require.Len(t, runs, 3)
	assert.Equal(t, 3, runs[0].Attempts)
	assert.Equal(t, 5, runs[2].Attempts)
}

func TestRetryPolicyDelays(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 3, InitialDelay: time.Second, MaxDelay: 3 * time.Second, Multiplier: 2}

	assert.Equal(t, time.Second, p.NextDelay(0))
	assert.Equal(t, 2*time.Second, p.NextDelay(1))
	assert.Equal(t, 3*time.Second, p.NextDelay(2), "capped at MaxDelay")

	assert.True(t, p.ShouldRetry(0, errors.New("x")))
	assert.False(t, p.ShouldRetry(3, errors.New("x")))
	assert.True(t, p.ShouldRetry(0, Retryable(errors.New("x"))))
	assert.False(t, p.ShouldRetry(0, NonRetryable(errors.New("x"))))

	zero := RetryPolicy{}
	assert.False(t, zero.ShouldRetry(0, errors.New("x")))
}
