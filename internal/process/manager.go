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
)

// Status represents the current state of a managed process.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusFailed   Status = "failed"
)

const (
	defaultRestartDelay        = 5 * time.Second
	defaultMaxRestartDelay     = 5 * time.Minute
	defaultStableThreshold     = 2 * time.Minute
	defaultGracefulTimeout     = 10 * time.Second
	defaultHealthCheckInterval = 30 * time.Second

	healthCheckTimeout     = 5 * time.Second
	maxConsecutiveFailures = 3
)

// Config holds configuration for a managed subprocess.
type Config struct {
	// Name is a human-readable identifier for logging.
	Name string

	// Binary is the path to the executable.
	Binary string

	// Args are command-line arguments to pass to the binary.
	Args []string

	// Env are additional environment variables (key=value format).
	// If nil, inherits from parent process.
	Env []string

	// RestartOnFailure enables automatic restart when the process exits unexpectedly.
	RestartOnFailure bool

	// RestartDelay is the first backoff step. It doubles per consecutive
	// failure up to MaxRestartDelay.
	RestartDelay    time.Duration
	MaxRestartDelay time.Duration

	// StableThreshold is how long a run must last for the backoff to reset.
	StableThreshold time.Duration

	// MaxRestartAttempts limits consecutive restart attempts. 0 means unlimited.
	MaxRestartAttempts int

	// GracefulTimeout is how long to wait after SIGTERM before SIGKILL.
	GracefulTimeout time.Duration

	// HealthCheck is called every HealthCheckInterval while the process runs.
	// Three consecutive failures kill the process. Nil disables checks.
	HealthCheck         func(ctx context.Context) error
	HealthCheckInterval time.Duration

	// OnStart is called when the process starts successfully.
	OnStart func()

	// OnStop is called when the process stops; err is nil for a requested stop.
	OnStop func(err error)
}

// DefaultConfig returns a Config with restart enabled and default timings.
func DefaultConfig(name, binary string, args []string) Config {
	return Config{
		Name:                name,
		Binary:              binary,
		Args:                args,
		RestartOnFailure:    true,
		RestartDelay:        defaultRestartDelay,
		MaxRestartDelay:     defaultMaxRestartDelay,
		StableThreshold:     defaultStableThreshold,
		MaxRestartAttempts:  10,
		GracefulTimeout:     defaultGracefulTimeout,
		HealthCheckInterval: defaultHealthCheckInterval,
	}
}

// RecoverableError lets a health check or start error opt out of restarts.
type RecoverableError interface {
	error
	IsRecoverable() bool
}

// IsRecoverable reports whether a restart should follow err. Errors that do
// not implement RecoverableError are recoverable.
func IsRecoverable(err error) bool {
	var re RecoverableError
	if errors.As(err, &re) {
		return re.IsRecoverable()
	}
	return true
}

// Logger defines the logging interface for the process manager.
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

// Manager manages the lifecycle of one subprocess.
type Manager struct {
	config Config
	logger Logger

	mu            sync.RWMutex
	cmd           *exec.Cmd
	status        Status
	restartCount  int
	failures      int // consecutive, drives the backoff
	lastError     error
	startTime     time.Time
	stopRequested bool
	done          chan struct{}
}

// NewManager creates a process manager. Zero durations take defaults.
func NewManager(cfg Config) *Manager {
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = defaultRestartDelay
	}
	if cfg.MaxRestartDelay <= 0 {
		cfg.MaxRestartDelay = defaultMaxRestartDelay
	}
	if cfg.StableThreshold <= 0 {
		cfg.StableThreshold = defaultStableThreshold
	}
	if cfg.GracefulTimeout <= 0 {
		cfg.GracefulTimeout = defaultGracefulTimeout
	}
	if cfg.HealthCheckInterval <= 0 {
		cfg.HealthCheckInterval = defaultHealthCheckInterval
	}
	return &Manager{
		config: cfg,
		logger: noopLogger{},
		status: StatusStopped,
	}
}

// SetLogger sets the logger for the manager.
func (m *Manager) SetLogger(logger Logger) {
	m.logger = logger
}

// Start launches the subprocess and begins monitoring it.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.status == StatusRunning || m.status == StatusStarting {
		m.mu.Unlock()
		return fmt.Errorf("process %s is already running", m.config.Name)
	}
	m.status = StatusStarting
	m.stopRequested = false
	m.done = make(chan struct{})
	m.mu.Unlock()

	if err := m.startProcess(ctx); err != nil {
		m.mu.Lock()
		m.status = StatusFailed
		m.lastError = err
		close(m.done)
		m.mu.Unlock()
		return err
	}

	go m.monitor(ctx)
	return nil
}

func (m *Manager) startProcess(ctx context.Context) error {
	m.logger.Info("starting process", "name", m.config.Name, "binary", m.config.Binary, "args", m.config.Args)

	cmd := exec.CommandContext(ctx, m.config.Binary, m.config.Args...) //nolint:gosec // binary comes from operator config
	// New process group so Stop can signal the whole tree.
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

	go m.captureOutput("stdout", stdout)
	go m.captureOutput("stderr", stderr)

	m.logger.Info("process started", "name", m.config.Name, "pid", cmd.Process.Pid)
	if m.config.OnStart != nil {
		m.config.OnStart()
	}
	return nil
}

// captureOutput logs each line the child writes.
func (m *Manager) captureOutput(stream string, r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		m.logger.Debug("process output", "name", m.config.Name, "stream", stream, "line", scanner.Text())
	}
}

// wait blocks until the process exits or is killed by the health watchdog.
func (m *Manager) wait(ctx context.Context, cmd *exec.Cmd) error {
	exitCh := make(chan error, 1)
	go func() { exitCh <- cmd.Wait() }()

	if m.config.HealthCheck == nil {
		return <-exitCh
	}

	ticker := time.NewTicker(m.config.HealthCheckInterval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case err := <-exitCh:
			return err
		case <-ticker.C:
			checkCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
			err := m.config.HealthCheck(checkCtx)
			cancel()
			if err == nil {
				if failures > 0 {
					m.logger.Info("health check recovered", "name", m.config.Name, "previous_failures", failures)
				}
				failures = 0
				continue
			}

			failures++
			m.logger.Warn("health check failed", "name", m.config.Name, "error", err, "consecutive_failures", failures)
			if failures < maxConsecutiveFailures {
				continue
			}

			m.logger.Error("health check failed repeatedly, killing process", "name", m.config.Name)
			_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
			<-exitCh
			return fmt.Errorf("killed after %d failed health checks: %w", failures, err)
		}
	}
}

// monitor watches the process and handles restarts.
func (m *Manager) monitor(ctx context.Context) {
	m.mu.RLock()
	done := m.done
	m.mu.RUnlock()
	defer close(done)

	for {
		m.mu.RLock()
		cmd := m.cmd
		m.mu.RUnlock()

		err := m.wait(ctx, cmd)

		m.mu.Lock()
		stopRequested := m.stopRequested || ctx.Err() != nil
		ran := time.Since(m.startTime)
		m.mu.Unlock()

		if stopRequested {
			m.logger.Info("process stopped", "name", m.config.Name)
			m.setStopped(nil)
			if m.config.OnStop != nil {
				m.config.OnStop(nil)
			}
			return
		}

		m.logger.Warn("process exited unexpectedly", "name", m.config.Name, "error", err, "ran", ran.String())

		m.mu.Lock()
		m.lastError = err
		m.status = StatusFailed
		if ran >= m.config.StableThreshold {
			m.failures = 0
		}
		m.failures++
		attempt := m.failures
		m.mu.Unlock()

		if m.config.OnStop != nil {
			m.config.OnStop(err)
		}

		if !m.config.RestartOnFailure || !IsRecoverable(err) {
			m.logger.Info("not restarting", "name", m.config.Name)
			return
		}
		if m.config.MaxRestartAttempts > 0 && attempt > m.config.MaxRestartAttempts {
			m.logger.Error("max restart attempts reached", "name", m.config.Name, "attempts", attempt-1)
			return
		}

		delay := m.calculateBackoffDelay(attempt)
		m.logger.Info("restarting process", "name", m.config.Name, "attempt", attempt, "delay", delay.String())

		// Retry start failures inside the same backoff schedule.
		for {
			select {
			case <-ctx.Done():
				m.setStopped(nil)
				return
			case <-time.After(delay):
			}

			m.mu.RLock()
			stopRequested = m.stopRequested
			m.mu.RUnlock()
			if stopRequested {
				m.setStopped(nil)
				return
			}

			if err := m.startProcess(ctx); err != nil {
				m.logger.Error("failed to restart process", "name", m.config.Name, "error", err)
				m.mu.Lock()
				m.lastError = err
				m.failures++
				attempt = m.failures
				m.mu.Unlock()
				if m.config.MaxRestartAttempts > 0 && attempt > m.config.MaxRestartAttempts {
					return
				}
				delay = m.calculateBackoffDelay(attempt)
				continue
			}
			m.mu.Lock()
			m.restartCount++
			m.mu.Unlock()
			break
		}
	}
}

func (m *Manager) setStopped(err error) {
	m.mu.Lock()
	m.status = StatusStopped
	if err != nil {
		m.lastError = err
	}
	m.mu.Unlock()
}

// calculateBackoffDelay returns RestartDelay·2^(attempt-1), capped at
// MaxRestartDelay.
func (m *Manager) calculateBackoffDelay(attempt int) time.Duration {
	delay := m.config.RestartDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= m.config.MaxRestartDelay {
			return m.config.MaxRestartDelay
		}
	}
	return delay
}

// Stop sends SIGTERM to the process group, then SIGKILL after
// GracefulTimeout, and waits for the monitor to exit.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if m.status == StatusStopped || m.done == nil {
		m.mu.Unlock()
		return nil
	}
	m.stopRequested = true
	cmd := m.cmd
	status := m.status
	done := m.done
	m.mu.Unlock()

	if status != StatusRunning || cmd == nil || cmd.Process == nil {
		// Failed or between restarts: the monitor notices stopRequested.
		select {
		case <-done:
		case <-time.After(m.config.GracefulTimeout):
		}
		m.setStopped(nil)
		return nil
	}

	pid := cmd.Process.Pid
	m.logger.Info("stopping process", "name", m.config.Name, "pid", pid)
	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
		m.logger.Warn("failed to send SIGTERM", "name", m.config.Name, "error", err)
	}

	select {
	case <-done:
		return nil
	case <-time.After(m.config.GracefulTimeout):
		m.logger.Warn("graceful shutdown timeout, sending SIGKILL", "name", m.config.Name)
	}

	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("killing process group %s: %w", m.config.Name, err)
	}
	<-done
	return nil
}

// Status returns the current status of the managed process.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// IsRunning returns true if the process is currently running.
func (m *Manager) IsRunning() bool {
	return m.Status() == StatusRunning
}

// LastError returns the last error that caused the process to exit.
func (m *Manager) LastError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastError
}

// RestartCount returns the number of successful restarts.
func (m *Manager) RestartCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.restartCount
}

// PID returns the process ID, or 0 if not running.
func (m *Manager) PID() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.status == StatusRunning && m.cmd != nil && m.cmd.Process != nil {
		return m.cmd.Process.Pid
	}
	return 0
}

// Stats reports the process state.
type Stats struct {
	Name          string  `json:"name"`
	Status        Status  `json:"status"`
	PID           int     `json:"pid,omitempty"`
	UptimeSeconds float64 `json:"uptime_seconds,omitempty"`
	RestartCount  int     `json:"restart_count"`
	LastError     string  `json:"last_error,omitempty"`
}

// Stats returns current statistics for the process.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Stats{
		Name:         m.config.Name,
		Status:       m.status,
		RestartCount: m.restartCount,
	}
	if m.status == StatusRunning {
		if m.cmd != nil && m.cmd.Process != nil {
			stats.PID = m.cmd.Process.Pid
		}
		stats.UptimeSeconds = time.Since(m.startTime).Seconds()
	}
	if m.lastError != nil {
		stats.LastError = m.lastError.Error()
	}
	return stats
}
