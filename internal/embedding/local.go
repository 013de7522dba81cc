package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

const (
	readinessTimeout  = 120 * time.Second
	readinessInterval = 500 * time.Millisecond
	shutdownGrace     = 5 * time.Second
)

// LocalConfig describes the sidecar inference process.
type LocalConfig struct {
	Command string // binary to spawn
	Port    int    // loopback port the sidecar serves on
	Device  string // device the model is loaded on, e.g. cuda or cpu
	Model   string
	Timeout time.Duration
}

// Local runs an inference sidecar as a child process and encodes over
// loopback with the service wire dialect. When a batch hits an
// out-of-memory condition the model is moved to CPU for that batch and
// the original device is restored afterwards. Device moves restart the
// child and are serialized by a mutex.
type Local struct {
	cfg    LocalConfig
	logger *slog.Logger

	mu     sync.Mutex
	proc   *exec.Cmd
	remote *Remote
}

// NewLocal spawns the sidecar, waits for it to become ready and probes
// the vector dimension.
func NewLocal(ctx context.Context, cfg LocalConfig, logger *slog.Logger) (*Local, error) {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Local{cfg: cfg, logger: logger}

	if err := l.start(ctx, cfg.Device); err != nil {
		return nil, err
	}

	remote, err := NewRemote(ctx, DialectService, l.baseURL(), cfg.Model, cfg.Timeout)
	if err != nil {
		l.stop()
		return nil, fmt.Errorf("embedding: sidecar probe failed: %w", err)
	}
	l.remote = remote
	return l, nil
}

// Dimension returns the probed vector width.
func (l *Local) Dimension() int { return l.remote.Dimension() }

// ModelName returns the configured model.
func (l *Local) ModelName() string { return l.cfg.Model }

func (l *Local) baseURL() string {
	return fmt.Sprintf("http://127.0.0.1:%d", l.cfg.Port)
}

// Encode produces vectors via the sidecar. An OOM-classified failure
// moves the model to CPU, retries the batch once and restores the
// original device.
func (l *Local) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	vectors, err := l.remote.Encode(ctx, texts)
	if err == nil || !IsOOM(err) {
		return vectors, classifyError(err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.logger.Warn("embedding: sidecar out of memory, retrying batch on cpu",
		"device", l.cfg.Device, "batch", len(texts))

	if restartErr := l.restart(ctx, "cpu"); restartErr != nil {
		return nil, fmt.Errorf("embedding: cpu fallback failed: %w", restartErr)
	}
	vectors, retryErr := l.remote.Encode(ctx, texts)

	if restoreErr := l.restart(ctx, l.cfg.Device); restoreErr != nil {
		l.logger.Error("embedding: failed to restore sidecar device",
			"device", l.cfg.Device, "error", restoreErr)
		if retryErr == nil {
			return vectors, nil
		}
		return nil, fmt.Errorf("embedding: failed to restore sidecar device: %w", restoreErr)
	}

	if retryErr != nil {
		return nil, classifyError(retryErr)
	}
	return vectors, nil
}

// Close stops the sidecar process.
func (l *Local) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stop()
	return nil
}

func (l *Local) start(ctx context.Context, device string) error {
	cmd := exec.Command(l.cfg.Command)
	cmd.Env = append(os.Environ(),
		fmt.Sprintf("EMBEDDING_DEVICE=%s", device),
		fmt.Sprintf("EMBEDDING_PORT=%d", l.cfg.Port),
		fmt.Sprintf("EMBEDDING_MODEL_NAME=%s", l.cfg.Model),
	)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("embedding: failed to start sidecar %q: %w", l.cfg.Command, err)
	}
	l.proc = cmd
	l.logger.Info("embedding: sidecar started",
		"command", l.cfg.Command, "device", device, "pid", cmd.Process.Pid)

	if err := l.waitReady(ctx); err != nil {
		l.stop()
		return err
	}
	return nil
}

func (l *Local) restart(ctx context.Context, device string) error {
	l.stop()
	return l.start(ctx, device)
}

func (l *Local) stop() {
	if l.proc == nil || l.proc.Process == nil {
		return
	}
	_ = l.proc.Process.Signal(syscall.SIGTERM)

	done := make(chan struct{})
	go func(p *exec.Cmd) {
		_ = p.Wait()
		close(done)
	}(l.proc)

	select {
	case <-done:
	case <-time.After(shutdownGrace):
		_ = l.proc.Process.Kill()
		<-done
	}
	l.proc = nil
}

// waitReady polls the sidecar health endpoint until it answers.
func (l *Local) waitReady(ctx context.Context) error {
	deadline := time.Now().Add(readinessTimeout)
	client := &http.Client{Timeout: 2 * time.Second}
	url := l.baseURL() + "/health"

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(readinessInterval):
		}

		resp, err := client.Get(url)
		if err != nil {
			continue
		}
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			return nil
		}
	}
	return fmt.Errorf("embedding: sidecar did not become ready within %s", readinessTimeout)
}
