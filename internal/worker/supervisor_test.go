package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type workerFunc func(ctx context.Context) error

func (f workerFunc) Run(ctx context.Context) error { return f(ctx) }

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestSupervisorRestartsFailedWorker(t *testing.T) {
	var runs atomic.Int32
	w := workerFunc(func(ctx context.Context) error {
		runs.Add(1)
		return errors.New("db gone")
	})

	ctx, cancel := context.WithCancel(context.Background())
	s := NewSupervisor(SupervisorConfig{Cooldown: 5 * time.Millisecond, JoinTimeout: time.Second}, testLogger())
	s.Start(ctx, "upload-0", w)

	waitFor(t, func() bool { return runs.Load() >= 3 })
	cancel()
	s.Wait()
}

func TestSupervisorRecoversPanic(t *testing.T) {
	var runs atomic.Int32
	w := workerFunc(func(ctx context.Context) error {
		runs.Add(1)
		panic("nil map write")
	})

	ctx, cancel := context.WithCancel(context.Background())
	s := NewSupervisor(SupervisorConfig{Cooldown: 5 * time.Millisecond, JoinTimeout: time.Second}, testLogger())
	s.Start(ctx, "enrichment-0", w)

	waitFor(t, func() bool { return runs.Load() >= 2 })
	cancel()
	s.Wait()
}

func TestSupervisorStopsCleanWorkerOnCancel(t *testing.T) {
	w := workerFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	s := NewSupervisor(DefaultSupervisorConfig(), testLogger())
	s.Start(ctx, "deletion-0", w)

	cancel()
	done := make(chan struct{})
	go func() {
		s.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return after cancel")
	}
}

func TestSupervisorAbandonsStuckWorker(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	w := workerFunc(func(ctx context.Context) error {
		<-block
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	s := NewSupervisor(SupervisorConfig{Cooldown: time.Second, JoinTimeout: 30 * time.Millisecond}, testLogger())
	s.Start(ctx, "stuck", w)
	cancel()

	start := time.Now()
	s.Wait()
	elapsed := time.Since(start)
	require.GreaterOrEqual(t, elapsed, 30*time.Millisecond)
	assert.Less(t, elapsed, time.Second)
}
