package runner_test

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mallardlabs/mallard/internal/runner"
)

func shPath(t *testing.T) string {
	t.Helper()
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skipf("skipped, binary sh not available: %v", err)
	}
	return sh
}

func fastRunner() *runner.Runner {
	return runner.New().WithBackoff(10*time.Millisecond, 40*time.Millisecond)
}

func TestRunSuccess(t *testing.T) {
	t.Parallel()
	sh := shPath(t)

	res, err := fastRunner().Run(t.Context(), runner.Command{
		Path:    sh,
		Args:    []string{"-c", "echo stdout; echo stderr 1>&2"},
		Timeout: time.Second,
	})
	require.NoError(t, err)
	require.Equal(t, 1, res.Attempts)
	require.Equal(t, 0, res.ExitCode)
	require.Equal(t, "stdout\n", string(res.Stdout))
	require.Equal(t, "stderr\n", string(res.Stderr))
	require.NotZero(t, res.Started)
	require.True(t, res.Stopped.After(res.Started) || res.Stopped.Equal(res.Started))
}

func TestRunFindingsExitCode(t *testing.T) {
	t.Parallel()
	sh := shPath(t)

	cmd := runner.Command{
		Path:         sh,
		Args:         []string{"-c", "echo found; exit 1"},
		Timeout:      time.Second,
		SuccessCodes: []int{0, 1},
	}
	res, err := fastRunner().Run(t.Context(), cmd)
	require.NoError(t, err)
	require.Equal(t, 1, res.ExitCode)
	require.Equal(t, "found\n", string(res.Stdout))
}

func TestRunUnexpectedExitIsPermanent(t *testing.T) {
	t.Parallel()
	sh := shPath(t)

	res, err := fastRunner().Run(t.Context(), runner.Command{
		Path:    sh,
		Args:    []string{"-c", "echo oops 1>&2; exit 3"},
		Timeout: time.Second,
	})
	require.Error(t, err)
	require.ErrorIs(t, err, runner.ErrExit)
	require.Equal(t, 1, res.Attempts, "unexpected exit codes must not be retried")
	require.ErrorContains(t, err, "oops")
	require.ErrorContains(t, err, "attempt 1/3")
}

func TestRunTimeoutIsRetried(t *testing.T) {
	t.Parallel()
	sh := shPath(t)

	start := time.Now()
	res, err := fastRunner().WithMaxAttempts(2).Run(t.Context(), runner.Command{
		Path:    sh,
		Args:    []string{"-c", "sleep 5"},
		Timeout: 50 * time.Millisecond,
	})
	require.Error(t, err)
	require.ErrorIs(t, err, runner.ErrTimeout)
	require.Equal(t, 2, res.Attempts)
	require.ErrorContains(t, err, "attempt 2/2")
	// two 50ms timeouts plus one 10ms backoff delay
	require.GreaterOrEqual(t, time.Since(start), 110*time.Millisecond)
}

func TestRunLaunchFailureIsRetried(t *testing.T) {
	t.Parallel()

	res, err := fastRunner().WithMaxAttempts(2).Run(t.Context(), runner.Command{
		Path:    "/does/not/exist",
		Timeout: time.Second,
	})
	require.Error(t, err)
	require.ErrorIs(t, err, runner.ErrLaunch)
	require.Equal(t, 2, res.Attempts)
}

func TestRunTransientThenSuccess(t *testing.T) {
	t.Parallel()
	sh := shPath(t)

	// the script times out on the first two runs and succeeds on the third
	counter := filepath.Join(t.TempDir(), "count")
	script := filepath.Join(t.TempDir(), "flaky.sh")
	err := os.WriteFile(script, []byte(`#!/bin/sh
count=$(cat "`+counter+`" 2>/dev/null || echo 0)
count=$((count+1))
echo "$count" > "`+counter+`"
if [ "$count" -lt 3 ]; then
	sleep 5
fi
echo done
`), 0o755)
	require.NoError(t, err)

	start := time.Now()
	res, err := fastRunner().Run(t.Context(), runner.Command{
		Path:    sh,
		Args:    []string{script},
		Timeout: 100 * time.Millisecond,
	})
	require.NoError(t, err)
	require.Equal(t, 3, res.Attempts)
	require.Equal(t, "done\n", string(res.Stdout))
	// two timeouts plus the 10ms and 20ms backoff delays
	require.GreaterOrEqual(t, time.Since(start), 230*time.Millisecond)
}

func TestRunContextCancel(t *testing.T) {
	t.Parallel()
	sh := shPath(t)

	ctx, cancel := context.WithCancel(t.Context())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := fastRunner().Run(ctx, runner.Command{
		Path:    sh,
		Args:    []string{"-c", "sleep 5"},
		Timeout: 10 * time.Second,
	})
	require.Error(t, err)
}
