// Package processor adapts external analysis tools to the normalized
// diagnostic model. Every adapter writes the submitted code to a temporary
// file, invokes its tool through the runner with machine readable output
// requested, parses the raw findings into model.Diagnostic and applies the
// caller supplied filter.
package processor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/mallardlabs/mallard/internal/model"
	"github.com/mallardlabs/mallard/internal/runner"
)

// Processor runs one analysis tool over submitted code.
type Processor interface {
	Type() model.JobType
	Run(ctx context.Context, code string, opts model.FilterOptions) ([]model.Diagnostic, error)
}

// Registry is the closed set of processors available to the manager,
// assembled once at process start.
type Registry struct {
	procs map[model.JobType]Processor
	order []model.JobType
}

func NewRegistry(procs ...Processor) *Registry {
	r := &Registry{
		procs: make(map[model.JobType]Processor, len(procs)),
	}
	for _, p := range procs {
		if _, ok := r.procs[p.Type()]; ok {
			continue
		}
		r.procs[p.Type()] = p
		r.order = append(r.order, p.Type())
	}
	return r
}

// FromConfig builds the registry from the tools section, skipping disabled
// entries. An empty tools section enables everything with defaults.
func FromConfig(cfg model.Tools, run *runner.Runner) *Registry {
	var procs []Processor
	if p := newFromTool(cfg.Lint, run, NewPylint); p != nil {
		procs = append(procs, p)
	}
	if p := newFromTool(cfg.StaticAnalysis, run, NewMypy); p != nil {
		procs = append(procs, p)
	}
	if p := newFromTool(cfg.BasedPyright, run, NewBasedPyright); p != nil {
		procs = append(procs, p)
	}
	return NewRegistry(procs...)
}

func newFromTool(tc *model.Tool, run *runner.Runner, ctor func(*tool) Processor) Processor {
	if tc == nil {
		tc = &model.Tool{}
	}
	if tc.Enabled != nil && !*tc.Enabled {
		return nil
	}
	t := &tool{
		runner:      run,
		binary:      model.Get(tc.Binary),
		timeout:     model.DefaultToolTimeout,
		autoInstall: model.Get(tc.AutoInstall),
	}
	if s := model.Get(tc.Timeout); s != "" {
		if d, err := time.ParseDuration(s); err == nil && d > 0 {
			t.timeout = d
		}
	}
	if n := model.Get(tc.MaxAttempts); n >= 1 {
		t.runner = run.WithMaxAttempts(n)
	}
	return ctor(t)
}

func (r *Registry) Get(t model.JobType) (Processor, bool) {
	p, ok := r.procs[t]
	return p, ok
}

func (r *Registry) Types() []model.JobType {
	return r.order
}

// tool holds what every adapter shares: the runner, the binary and the
// lazy availability check.
type tool struct {
	runner      *runner.Runner
	binary      string
	timeout     time.Duration
	autoInstall bool

	ensureOnce sync.Once
	ensureErr  error
}

// invoke writes code to a scoped temporary file, ensures the tool binary is
// runnable and executes it. The temporary file is removed on every exit path.
func (t *tool) invoke(ctx context.Context, code string, buildArgs func(srcPath string) []string, successCodes []int) (runner.Result, error) {
	t.ensureOnce.Do(func() {
		t.ensureErr = Ensure(ctx, t.runner, t.binary, t.autoInstall)
	})
	if t.ensureErr != nil {
		return runner.Result{}, t.ensureErr
	}

	f, err := os.CreateTemp("", "mallard-*.py")
	if err != nil {
		return runner.Result{}, fmt.Errorf("creating temporary source file: %w", err)
	}
	srcPath := f.Name()
	defer func() {
		if rmErr := os.Remove(srcPath); rmErr != nil {
			slog.WarnContext(ctx, "removing temporary source file", "path", srcPath, "error", rmErr)
		}
	}()

	_, err = f.WriteString(code)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return runner.Result{}, fmt.Errorf("writing temporary source file: %w", err)
	}

	return t.runner.Run(ctx, runner.Command{
		Path:         t.binary,
		Args:         buildArgs(srcPath),
		Timeout:      t.timeout,
		SuccessCodes: successCodes,
	})
}
