package processor

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"time"

	"github.com/mallardlabs/mallard/internal/model"
	"github.com/mallardlabs/mallard/internal/runner"
)

const installTimeout = 2 * time.Minute

// Ensure checks the tool binary is runnable. When it is missing and
// autoInstall is set, a pip bootstrap is attempted once, otherwise the
// tool is reported unavailable.
func Ensure(ctx context.Context, run *runner.Runner, binary string, autoInstall bool) error {
	if _, err := exec.LookPath(binary); err == nil {
		return nil
	}
	if !autoInstall {
		return fmt.Errorf("%s not found in PATH: %w", binary, model.ErrToolUnavailable)
	}

	slog.InfoContext(ctx, "tool not found, installing", "binary", binary)
	_, err := run.Run(ctx, runner.Command{
		Path:    "python3",
		Args:    []string{"-m", "pip", "install", binary},
		Timeout: installTimeout,
	})
	if err != nil {
		return fmt.Errorf("installing %s: %v: %w", binary, err, model.ErrToolUnavailable)
	}
	if _, err := exec.LookPath(binary); err != nil {
		return fmt.Errorf("%s still not found after install: %w", binary, model.ErrToolUnavailable)
	}
	return nil
}
