package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"
)

// maxOutput caps the combined output kept from one invocation.
const maxOutput = 4096

// ErrTimeout is returned when a command is killed for running too long.
var ErrTimeout = errors.New("process timed out")

// Config holds configuration for a helper command.
type Config struct {
	// Name is a human-readable identifier for logging.
	Name string

	// Binary is the path to the executable.
	Binary string

	// Env are additional environment variables (key=value format).
	// If nil, inherits from parent process.
	Env []string

	// Timeout bounds a single invocation. Default: 10s.
	Timeout time.Duration
}

// Logger defines the logging interface for the runner.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Runner executes one configured binary with varying arguments.
// It is safe for concurrent use.
type Runner struct {
	config Config
	logger Logger
}

// NewRunner creates a runner with the given configuration.
func NewRunner(cfg Config) *Runner {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Name == "" {
		cfg.Name = cfg.Binary
	}
	return &Runner{
		config: cfg,
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the runner.
func (r *Runner) SetLogger(logger Logger) {
	if logger != nil {
		r.logger = logger
	}
}

// Binary returns the configured executable path.
func (r *Runner) Binary() string {
	return r.config.Binary
}

// Run executes the binary with args and returns its combined output.
//
// A non-zero exit status is an error carrying the trimmed output. When ctx
// is cancelled or the timeout passes, the process group is killed and
// ErrTimeout (or the context error) is returned.
func (r *Runner) Run(ctx context.Context, args ...string) ([]byte, error) {
	// Never start a command once the caller has given up; for adapter
	// control that would leave the radio half reset.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	defer cancel()

	cmd := exec.Command(r.config.Binary, args...) //nolint:gosec // Binary comes from operator configuration
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if r.config.Env != nil {
		cmd.Env = append(os.Environ(), r.config.Env...)
	}

	var out limitedBuffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	r.logger.Debug("running command", "name", r.config.Name, "args", args)

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", r.config.Name, err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		output := out.Bytes()
		if err != nil {
			return output, fmt.Errorf("%s %s: %w: %s",
				r.config.Name, strings.Join(args, " "), err, strings.TrimSpace(string(output)))
		}
		r.logger.Debug("command finished", "name", r.config.Name, "args", args, "duration", time.Since(start))
		return output, nil

	case <-ctx.Done():
		pid := cmd.Process.Pid
		// Negative PID signals the whole group created via Setpgid.
		if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
			r.logger.Warn("failed to kill process group", "name", r.config.Name, "pid", pid, "error", err)
		}
		<-done

		r.logger.Warn("command killed", "name", r.config.Name, "args", args, "after", time.Since(start))
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return out.Bytes(), fmt.Errorf("%s %s: %w after %s",
				r.config.Name, strings.Join(args, " "), ErrTimeout, r.config.Timeout)
		}
		return out.Bytes(), ctx.Err()
	}
}

// limitedBuffer keeps the first maxOutput bytes written to it.
type limitedBuffer struct {
	buf bytes.Buffer
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if room := maxOutput - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *limitedBuffer) Bytes() []byte {
	return append([]byte(nil), b.buf.Bytes()...)
}
