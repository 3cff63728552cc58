package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/nerrad567/gray-logic-relay/internal/retry"
)

// Status represents the current state of a supervised daemon.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusFailed   Status = "failed"
)

// ErrAlreadyRunning is returned by Start when the daemon is up.
var ErrAlreadyRunning = errors.New("process: already running")

// Config describes a daemon to supervise.
type Config struct {
	// Name is used in log lines.
	Name string

	Binary string
	Args   []string

	// Env is appended to the parent environment. Nil inherits it unchanged.
	Env []string

	// RestartDelay is the pause before relaunching after an unexpected exit.
	RestartDelay time.Duration

	// MaxRestarts limits relaunches. 0 means unlimited.
	MaxRestarts int

	// GracefulTimeout is how long Stop waits after SIGTERM before SIGKILL.
	GracefulTimeout time.Duration

	// OnExit is called after every exit, expected or not.
	OnExit func(err error)
}

// Logger defines the logging interface for the manager.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Manager launches a daemon and relaunches it when it dies.
type Manager struct {
	config Config
	logger Logger
	sleep  func(ctx context.Context, d time.Duration) error

	mu            sync.RWMutex
	cmd           *exec.Cmd
	status        Status
	restarts      int
	lastError     error
	startTime     time.Time
	stopRequested bool
	done          chan struct{}
}

// NewManager creates a manager for cfg, filling zero durations with defaults.
func NewManager(cfg Config, logger Logger) *Manager {
	if cfg.RestartDelay == 0 {
		cfg.RestartDelay = 5 * time.Second
	}
	if cfg.GracefulTimeout == 0 {
		cfg.GracefulTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &Manager{
		config: cfg,
		logger: logger,
		sleep:  retry.Sleep,
		status: StatusStopped,
	}
}

// Start launches the daemon and supervises it until ctx is cancelled or
// Stop is called. It returns the error of the first launch only.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.status == StatusRunning || m.status == StatusStarting {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, m.config.Name)
	}
	m.status = StatusStarting
	m.stopRequested = false
	m.done = make(chan struct{})
	m.mu.Unlock()

	if err := m.launch(ctx); err != nil {
		m.mu.Lock()
		m.status = StatusFailed
		m.lastError = err
		close(m.done)
		m.mu.Unlock()
		return err
	}

	go m.supervise(ctx)
	return nil
}

func (m *Manager) launch(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, m.config.Binary, m.config.Args...) //nolint:gosec // binary comes from operator config
	// Own process group so Stop can signal children too.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if m.config.Env != nil {
		cmd.Env = append(os.Environ(), m.config.Env...)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("creating stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting %s: %w", m.config.Name, err)
	}

	m.mu.Lock()
	m.cmd = cmd
	m.status = StatusRunning
	m.startTime = time.Now()
	m.mu.Unlock()

	go m.forwardOutput("stdout", stdout)
	go m.forwardOutput("stderr", stderr)

	m.logger.Info("daemon started", "name", m.config.Name, "pid", cmd.Process.Pid)
	return nil
}

// forwardOutput logs each line the daemon writes.
func (m *Manager) forwardOutput(stream string, r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		m.logger.Debug("daemon output", "name", m.config.Name, "stream", stream, "line", scanner.Text())
	}
}

func (m *Manager) supervise(ctx context.Context) {
	m.mu.RLock()
	done := m.done
	m.mu.RUnlock()
	defer close(done)

	for {
		m.mu.RLock()
		cmd := m.cmd
		m.mu.RUnlock()

		err := cmd.Wait()

		m.mu.Lock()
		stopping := m.stopRequested
		if stopping {
			m.status = StatusStopped
		} else {
			m.status = StatusFailed
			m.lastError = err
		}
		m.mu.Unlock()

		if m.config.OnExit != nil {
			m.config.OnExit(err)
		}
		if stopping {
			m.logger.Info("daemon stopped", "name", m.config.Name)
			return
		}

		m.logger.Warn("daemon exited unexpectedly", "name", m.config.Name, "error", err)

		if !m.relaunch(ctx) {
			return
		}
	}
}

// relaunch waits RestartDelay and starts the daemon again, retrying
// failed launches within the restart budget.
func (m *Manager) relaunch(ctx context.Context) bool {
	for {
		m.mu.Lock()
		if m.config.MaxRestarts > 0 && m.restarts >= m.config.MaxRestarts {
			m.mu.Unlock()
			m.logger.Error("daemon restart limit reached", "name", m.config.Name, "restarts", m.config.MaxRestarts)
			return false
		}
		m.restarts++
		attempt := m.restarts
		m.mu.Unlock()

		m.logger.Info("restarting daemon", "name", m.config.Name, "attempt", attempt, "delay", m.config.RestartDelay)
		if err := m.sleep(ctx, m.config.RestartDelay); err != nil {
			return false
		}

		m.mu.RLock()
		stopping := m.stopRequested
		m.mu.RUnlock()
		if stopping {
			m.mu.Lock()
			m.status = StatusStopped
			m.mu.Unlock()
			return false
		}

		err := m.launch(ctx)
		if err == nil {
			return true
		}
		m.mu.Lock()
		m.lastError = err
		m.mu.Unlock()
		m.logger.Error("daemon relaunch failed", "name", m.config.Name, "error", err)
	}
}

// Stop sends SIGTERM to the daemon's process group and waits, escalating
// to SIGKILL after GracefulTimeout.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if m.status != StatusRunning && m.status != StatusStarting && m.status != StatusFailed {
		m.mu.Unlock()
		return nil
	}
	m.stopRequested = true
	cmd := m.cmd
	done := m.done
	running := m.status == StatusRunning
	m.mu.Unlock()

	if done == nil {
		return nil
	}
	if !running || cmd == nil || cmd.Process == nil {
		// Between restarts: the supervisor sees stopRequested after its sleep.
		<-done
		return nil
	}

	pid := cmd.Process.Pid
	m.logger.Info("stopping daemon", "name", m.config.Name, "pid", pid)

	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
		m.logger.Warn("sending SIGTERM failed", "name", m.config.Name, "error", err)
	}

	select {
	case <-done:
		return nil
	case <-time.After(m.config.GracefulTimeout):
		m.logger.Warn("graceful stop timed out, sending SIGKILL", "name", m.config.Name, "timeout", m.config.GracefulTimeout)
	}

	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("killing %s: %w", m.config.Name, err)
	}
	<-done
	return nil
}

// Status returns the current status.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// IsRunning reports whether the daemon is up.
func (m *Manager) IsRunning() bool {
	return m.Status() == StatusRunning
}

// Stats is a point-in-time view of the daemon.
type Stats struct {
	Name      string        `json:"name"`
	Status    Status        `json:"status"`
	PID       int           `json:"pid,omitempty"`
	Uptime    time.Duration `json:"uptime,omitempty"`
	Restarts  int           `json:"restarts"`
	LastError string        `json:"last_error,omitempty"`
}

// Stats returns current statistics for the daemon.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Stats{
		Name:     m.config.Name,
		Status:   m.status,
		Restarts: m.restarts,
	}
	if m.status == StatusRunning && m.cmd != nil && m.cmd.Process != nil {
		stats.PID = m.cmd.Process.Pid
		stats.Uptime = time.Since(m.startTime)
	}
	if m.lastError != nil {
		stats.LastError = m.lastError.Error()
	}
	return stats
}
