package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runScheduler(t *testing.T) *Scheduler {
	t.Helper()
	s := NewScheduler(SchedulerConfig{TickInterval: time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return s
}

func TestCallCancelledWhileRunning(t *testing.T) {
	s := runScheduler(t)

	ctx, cancel := context.WithCancel(context.Background())
	release := make(chan struct{})
	finished := make(chan struct{})

	v, err := call(ctx, s, func() int {
		defer close(finished)
		cancel()
		<-release
		return 7
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, v)

	close(release)
	<-finished

	// the scheduler keeps serving after an abandoned request
	n, err := s.Active(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStatusUnknownJob(t *testing.T) {
	s := runScheduler(t)

	st, err := s.Status(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, st.Found)
}

func TestCallAfterStop(t *testing.T) {
	s := NewScheduler(SchedulerConfig{TickInterval: time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx)
	}()
	cancel()
	<-done

	st, err := s.Status(context.Background(), "x")
	assert.ErrorIs(t, err, ErrSchedulerStopped)
	assert.Equal(t, JobStatus{}, st)
}
