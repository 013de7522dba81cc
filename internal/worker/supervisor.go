package worker

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

// Worker is a long-running loop that exits cleanly when its context is
// canceled.
type Worker interface {
	Run(ctx context.Context) error
}

// SupervisorConfig tunes restart and shutdown behavior.
type SupervisorConfig struct {
	// Cooldown is the pause before restarting a worker that returned an
	// error or panicked.
	Cooldown time.Duration

	// JoinTimeout bounds how long Wait blocks per worker after shutdown.
	JoinTimeout time.Duration
}

// DefaultSupervisorConfig matches the deployment defaults.
func DefaultSupervisorConfig() SupervisorConfig {
	return SupervisorConfig{Cooldown: 15 * time.Second, JoinTimeout: 30 * time.Second}
}

type supervised struct {
	name string
	done chan struct{}
}

// Supervisor runs workers in goroutines, restarting any that fail until
// the context is canceled. A panic inside a worker is recovered and
// treated like an error return, so one broken worker never takes the
// process down.
type Supervisor struct {
	cfg    SupervisorConfig
	logger *slog.Logger

	mu      sync.Mutex
	workers []supervised
}

func NewSupervisor(cfg SupervisorConfig, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 15 * time.Second
	}
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = 30 * time.Second
	}
	return &Supervisor{cfg: cfg, logger: logger}
}

// Start launches the worker under supervision. It returns immediately.
func (s *Supervisor) Start(ctx context.Context, name string, w Worker) {
	done := make(chan struct{})
	s.mu.Lock()
	s.workers = append(s.workers, supervised{name: name, done: done})
	s.mu.Unlock()

	logger := s.logger.With("worker", name)
	go func() {
		defer close(done)
		for {
			err := s.runOnce(ctx, w, logger)
			if ctx.Err() != nil {
				logger.Info("worker: supervised worker stopped")
				return
			}
			if err != nil {
				logger.Error("worker: supervised worker failed, restarting after cooldown",
					"error", err, "cooldown", s.cfg.Cooldown)
			} else {
				logger.Warn("worker: supervised worker returned early, restarting after cooldown",
					"cooldown", s.cfg.Cooldown)
			}
			sleepCtx(ctx, s.cfg.Cooldown)
		}
	}()
}

// runOnce runs the worker, converting panics into errors.
func (s *Supervisor) runOnce(ctx context.Context, w Worker, logger *slog.Logger) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("worker: supervised worker panicked",
				"panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("worker: panic: %v", r)
		}
	}()
	return w.Run(ctx)
}

// Wait blocks until every supervised worker has exited, giving each at
// most JoinTimeout from the moment Wait reaches it. A worker that does not
// exit in time is abandoned with a log line rather than holding up
// shutdown.
func (s *Supervisor) Wait() {
	s.mu.Lock()
	workers := make([]supervised, len(s.workers))
	copy(workers, s.workers)
	s.mu.Unlock()

	for _, w := range workers {
		select {
		case <-w.done:
		case <-time.After(s.cfg.JoinTimeout):
			s.logger.Warn("worker: abandoning worker that did not stop in time",
				"worker", w.name, "timeout", s.cfg.JoinTimeout)
		}
	}
}
