// Package runner invokes one external analysis binary as a subprocess with a
// per attempt timeout and bounded retry with exponential backoff. Timeouts and
// process launch failures are transient and retried; any other failure is
// permanent and surfaced immediately.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"slices"
	"time"

	"github.com/cenkalti/backoff/v4"
)

var (
	ErrTimeout = errors.New("tool timed out")
	ErrLaunch  = errors.New("tool failed to launch")
	ErrExit    = errors.New("tool exited with unexpected code")
)

// Command describes one external tool invocation.
type Command struct {
	Path    string
	Args    []string
	Env     []string // nil inherits the process environment
	Timeout time.Duration

	// SuccessCodes lists exit codes counted as success, so tools which
	// signal "findings present" with a non-zero exit still succeed.
	// Nil means only 0.
	SuccessCodes []int
}

// Result captures one finished invocation.
type Result struct {
	Path     string
	Args     []string
	ExitCode int
	Stdout   []byte
	Stderr   []byte
	Started  time.Time
	Stopped  time.Time
	Attempts int
}

// Runner executes Commands with a shared retry policy.
type Runner struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

func New() *Runner {
	return &Runner{
		maxAttempts: 3,
		baseDelay:   500 * time.Millisecond,
		maxDelay:    4 * time.Second,
	}
}

func (r *Runner) WithMaxAttempts(n int) *Runner {
	ret := *r
	if n >= 1 {
		ret.maxAttempts = n
	}
	return &ret
}

func (r *Runner) WithBackoff(base, cap time.Duration) *Runner {
	ret := *r
	if base > 0 {
		ret.baseDelay = base
	}
	if cap > 0 {
		ret.maxDelay = cap
	}
	return &ret
}

// Run invokes cmd, retrying transient failures up to the attempt bound.
// The returned Result is valid on success only, the error carries the last
// attempt's failure and its attempt number.
func (r *Runner) Run(ctx context.Context, cmd Command) (Result, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.baseDelay
	bo.MaxInterval = r.maxDelay
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0 // the attempt bound terminates the loop

	attempt := 0
	operation := func() (Result, error) {
		attempt++
		res, err := r.attempt(ctx, cmd)
		res.Attempts = attempt
		if err == nil {
			return res, nil
		}
		if !transient(err) {
			return res, backoff.Permanent(err)
		}
		return res, err
	}

	notify := func(err error, delay time.Duration) {
		slog.WarnContext(ctx, "tool attempt failed, retrying",
			"path", cmd.Path,
			"attempt", attempt,
			"delay", delay.String(),
			"error", err,
		)
	}

	res, err := backoff.RetryNotifyWithData(
		operation,
		backoff.WithMaxRetries(backoff.WithContext(bo, ctx), uint64(r.maxAttempts-1)),
		notify,
	)
	if err != nil {
		return res, fmt.Errorf("attempt %d/%d: %w", attempt, r.maxAttempts, err)
	}
	return res, nil
}

func (r *Runner) attempt(ctx context.Context, cmd Command) (Result, error) {
	res := Result{
		Path:    cmd.Path,
		Args:    slices.Clone(cmd.Args),
		Started: time.Now().UTC(),
	}

	attemptCtx := ctx
	var cancel context.CancelFunc
	if cmd.Timeout == 0 {
		slog.WarnContext(ctx, "command has no timeout", "path", cmd.Path)
	} else {
		attemptCtx, cancel = context.WithTimeout(ctx, cmd.Timeout)
		defer cancel()
	}

	c := exec.CommandContext(attemptCtx, cmd.Path, cmd.Args...)
	if cmd.Env != nil {
		c.Env = cmd.Env
	}
	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	err := c.Run()
	res.Stopped = time.Now().UTC()
	res.Stdout = stdout.Bytes()
	res.Stderr = stderr.Bytes()
	if c.ProcessState != nil {
		res.ExitCode = c.ProcessState.ExitCode()
	}

	switch {
	case err == nil:
		return res, nil
	case errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		return res, fmt.Errorf("%s after %s: %w", cmd.Path, cmd.Timeout, ErrTimeout)
	case isLaunchError(err):
		return res, fmt.Errorf("%s: %v: %w", cmd.Path, err, ErrLaunch)
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if exitCodeOK(res.ExitCode, cmd.SuccessCodes) {
			return res, nil
		}
		return res, fmt.Errorf("%s exited %d: %s: %w",
			cmd.Path, res.ExitCode, firstLine(res.Stderr), ErrExit)
	}
	return res, err
}

// transient failures are worth another attempt, everything else is not.
func transient(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrLaunch)
}

func isLaunchError(err error) bool {
	var execErr *exec.Error
	return errors.As(err, &execErr)
}

func exitCodeOK(code int, successCodes []int) bool {
	if successCodes == nil {
		return code == 0
	}
	return slices.Contains(successCodes, code)
}

func firstLine(b []byte) string {
	if i := bytes.IndexByte(b, '\n'); i >= 0 {
		b = b[:i]
	}
	const maxLen = 256
	if len(b) > maxLen {
		b = b[:maxLen]
	}
	return string(bytes.TrimSpace(b))
}
