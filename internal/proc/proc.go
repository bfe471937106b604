// Package proc runs external tools as subprocesses with streamed output
// and CPU accounting.
package proc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
)

const (
	// ExitKilled is the exit code reported for a process stopped by its
	// timeout or by cancellation.
	ExitKilled = -1
	// ExitNotStarted is the exit code reported when no process ran.
	ExitNotStarted = -2
)

// killGrace is how long the process group has to exit after SIGTERM before
// it is sent SIGKILL.
const killGrace = 5 * time.Second

// waitDelay bounds how long Wait lingers on inherited pipes after the
// process is signalled. It must exceed killGrace.
const waitDelay = 10 * time.Second

// Command describes one subprocess invocation.
type Command struct {
	Path string
	Args []string
	Dir  string
	// Env entries are appended to the current environment.
	Env []string
	// Timeout kills the process after the given duration. Zero means no timeout.
	Timeout time.Duration
}

// String renders the command line for logs.
func (c Command) String() string {
	return strings.Join(append([]string{c.Path}, c.Args...), " ")
}

// Elapsed is the time a subprocess took.
type Elapsed struct {
	Real   time.Duration `json:"real" yaml:"real"`
	User   time.Duration `json:"user" yaml:"user"`
	System time.Duration `json:"system" yaml:"system"`
}

// Add returns the sum of e and o.
func (e Elapsed) Add(o Elapsed) Elapsed {
	return Elapsed{
		Real:   e.Real + o.Real,
		User:   e.User + o.User,
		System: e.System + o.System,
	}
}

// Result is the outcome of a completed subprocess.
type Result struct {
	ExitCode int     `json:"exit_code" yaml:"exit_code"`
	Elapsed  Elapsed `json:"elapsed" yaml:"elapsed"`
	TimedOut bool    `json:"timed_out,omitempty" yaml:"timed_out,omitempty"`
}

// OK reports whether the process exited cleanly.
func (r Result) OK() bool {
	return r.ExitCode == 0 && !r.TimedOut
}

// Runner launches subprocesses.
type Runner struct {
	// Output receives the combined stdout and stderr. Defaults to os.Stdout.
	Output io.Writer
	Logger *slog.Logger
}

// Run starts cmd and waits for it to finish.
//
// A nonzero exit is not an error: it is reported in Result.ExitCode. Errors
// are returned only when the process could not be started or ctx was
// cancelled. A timeout yields ExitKilled with TimedOut set.
//
// The process runs in its own process group. On timeout or cancellation the
// whole group is terminated, so helpers the tool spawned (a launcher's JVM)
// do not outlive the call.
func (r *Runner) Run(ctx context.Context, cmd Command) (Result, error) {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	out := r.Output
	if out == nil {
		out = os.Stdout
	}

	runCtx := ctx
	if cmd.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, cmd.Timeout)
		defer cancel()
	}

	c := exec.CommandContext(runCtx, cmd.Path, cmd.Args...)
	c.Dir = cmd.Dir
	if len(cmd.Env) > 0 {
		c.Env = append(os.Environ(), cmd.Env...)
	}
	c.Stdout = out
	c.Stderr = out
	setProcessGroup(c)

	var (
		mu        sync.Mutex
		escalate  *time.Timer
		signalled bool
	)
	c.Cancel = func() error {
		pid := c.Process.Pid
		mu.Lock()
		signalled = true
		escalate = time.AfterFunc(killGrace, func() {
			_ = killGroup(pid, syscall.SIGKILL)
		})
		mu.Unlock()
		return killGroup(pid, syscall.SIGTERM)
	}
	c.WaitDelay = waitDelay

	logger.Debug("starting process", "cmd", cmd.String())
	start := time.Now()
	if err := c.Start(); err != nil {
		return Result{ExitCode: ExitNotStarted}, fmt.Errorf("failed to start %s: %w", cmd.Path, err)
	}

	waitErr := c.Wait()
	mu.Lock()
	if escalate != nil {
		escalate.Stop()
	}
	if signalled {
		// Anything left in the group ignored SIGTERM
		_ = killGroup(c.Process.Pid, syscall.SIGKILL)
	}
	mu.Unlock()
	res := Result{Elapsed: Elapsed{Real: time.Since(start)}}
	if c.ProcessState != nil {
		res.Elapsed.User = c.ProcessState.UserTime()
		res.Elapsed.System = c.ProcessState.SystemTime()
		res.ExitCode = c.ProcessState.ExitCode()
	}

	switch {
	case ctx.Err() != nil:
		res.ExitCode = ExitKilled
		return res, fmt.Errorf("%s interrupted: %w", cmd.Path, ctx.Err())
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		res.ExitCode = ExitKilled
		res.TimedOut = true
		logger.Warn("process timed out", "cmd", cmd.Path, "timeout", cmd.Timeout)
		return res, nil
	}

	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) && !errors.Is(waitErr, exec.ErrWaitDelay) {
		return res, fmt.Errorf("failed waiting for %s: %w", cmd.Path, waitErr)
	}

	logger.Debug("process finished", "cmd", cmd.Path, "exit", res.ExitCode, "real", res.Elapsed.Real)
	return res, nil
}
