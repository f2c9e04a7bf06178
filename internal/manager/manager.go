// Package manager owns the job registry and drives concurrent execution of
// each job's processors.
//
// Overview
// Submit validates the request, stores a pending Job under a fresh id and
// dispatches one goroutine per requested processor. Processors of one job
// race freely; all mutation of a job's status and results happens inside the
// completion handler, which holds that job's guard. The registry lock only
// protects the id -> job mapping, so a slow processor never blocks new
// submissions or lookups.
//
// State machine: pending -> running -> {completed, failed}. The first
// processor error marks the job failed; already launched siblings still
// finish and their results are recorded, but the terminal status stands.
package manager

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/mallardlabs/mallard/internal/log"
	"github.com/mallardlabs/mallard/internal/model"
	"github.com/mallardlabs/mallard/internal/processor"
)

// Recorder journals terminal jobs, see internal/history.
type Recorder interface {
	Record(ctx context.Context, job model.Job) error
}

type entry struct {
	mx        sync.Mutex // guards job and remaining
	job       model.Job
	remaining int // processors still running
}

type Manager struct {
	registry *processor.Registry
	recorder Recorder

	mx    sync.RWMutex // guards jobs and order
	jobs  map[string]*entry
	order []string // submission order, oldest first

	wg sync.WaitGroup
}

func New(registry *processor.Registry) *Manager {
	return &Manager{
		registry: registry,
		jobs:     make(map[string]*entry),
	}
}

// WithRecorder journals every terminal job through rec.
func (m *Manager) WithRecorder(rec Recorder) *Manager {
	m.recorder = rec
	return m
}

// Submit validates the request, registers a pending job and begins dispatch
// without blocking the caller. The returned id is unique and never reused.
func (m *Manager) Submit(ctx context.Context, code string, types []model.JobType, opts model.FilterOptions) (string, error) {
	if code == "" {
		return "", fmt.Errorf("empty code: %w", model.ErrInvalidRequest)
	}
	if len(types) == 0 {
		return "", fmt.Errorf("empty job type set: %w", model.ErrInvalidRequest)
	}
	types = dedupe(types)
	for _, t := range types {
		if _, ok := m.registry.Get(t); !ok {
			return "", fmt.Errorf("job type %q is not registered: %w", t, model.ErrInvalidRequest)
		}
	}
	if opts.TopN < 0 {
		return "", fmt.Errorf("top_n must be >= 0: %w", model.ErrInvalidRequest)
	}

	id := uuid.New().String()
	e := &entry{
		job: model.Job{
			ID:             id,
			Code:           code,
			RequestedTypes: types,
			Status:         model.StatusPending,
			Results:        make(map[model.JobType][]model.Diagnostic, len(types)),
			Options:        opts,
			CreatedAt:      time.Now().UTC(),
		},
		remaining: len(types),
	}

	m.mx.Lock()
	m.jobs[id] = e
	m.order = append(m.order, id)
	m.mx.Unlock()

	slog.InfoContext(ctx, "job submitted",
		"job_id", id, "types", types, "code_bytes", len(code))

	// the job must outlive the submitting request
	dispatchCtx := log.ContextAttrs(context.WithoutCancel(ctx), slog.String("job_id", id))
	m.wg.Add(1)
	go m.dispatch(dispatchCtx, e)

	return id, nil
}

func (m *Manager) dispatch(ctx context.Context, e *entry) {
	defer m.wg.Done()

	e.mx.Lock()
	e.job.Status = model.StatusRunning
	e.job.StartedAt = time.Now().UTC()
	types := slices.Clone(e.job.RequestedTypes)
	code := e.job.Code
	opts := e.job.Options
	e.mx.Unlock()

	var g errgroup.Group
	for _, t := range types {
		proc, _ := m.registry.Get(t)
		g.Go(func() error {
			procCtx := log.ContextAttrs(ctx, slog.String("job_type", string(t)))
			diags, err := proc.Run(procCtx, code, opts)
			m.complete(procCtx, e, t, diags, err)
			return nil
		})
	}
	_ = g.Wait() // completion handlers never return an error

	e.mx.Lock()
	job := e.job.Clone()
	e.mx.Unlock()
	slog.InfoContext(ctx, "job finished",
		"status", job.Status, "elapsed", job.ExecutionTime().String())

	if m.recorder != nil {
		if err := m.recorder.Record(ctx, job); err != nil {
			slog.ErrorContext(ctx, "recording job history", "error", err)
		}
	}
}

// complete is the single place a job's status and results are mutated after
// dispatch. It holds the per job guard so two processors finishing at the
// same instant cannot race on the failed/completed decision.
func (m *Manager) complete(ctx context.Context, e *entry, t model.JobType, diags []model.Diagnostic, err error) {
	e.mx.Lock()
	defer e.mx.Unlock()

	e.remaining--
	if err != nil {
		slog.ErrorContext(ctx, "processor failed", "error", err)
		// first error wins; siblings still run to completion
		if !e.job.Status.Terminal() {
			e.job.Status = model.StatusFailed
			e.job.Error = fmt.Sprintf("%s: %v", t, err)
			e.job.CompletedAt = time.Now().UTC()
		}
		return
	}

	if diags == nil {
		diags = []model.Diagnostic{}
	}
	e.job.Results[t] = diags
	slog.DebugContext(ctx, "processor finished", "diagnostics", len(diags))

	if e.remaining == 0 && !e.job.Status.Terminal() {
		e.job.Status = model.StatusCompleted
		e.job.CompletedAt = time.Now().UTC()
	}
}

// Get returns a read only snapshot of the job's current state.
func (m *Manager) Get(id string) (model.Job, error) {
	m.mx.RLock()
	e, ok := m.jobs[id]
	m.mx.RUnlock()
	if !ok {
		return model.Job{}, fmt.Errorf("job %q: %w", id, model.ErrNotFound)
	}

	e.mx.Lock()
	defer e.mx.Unlock()
	return e.job.Clone(), nil
}

// List returns summaries of all known jobs, oldest first. A non empty filter
// keeps only jobs which requested that type.
func (m *Manager) List(filter model.JobType) []model.Summary {
	m.mx.RLock()
	entries := make([]*entry, 0, len(m.order))
	for _, id := range m.order {
		if e, ok := m.jobs[id]; ok {
			entries = append(entries, e)
		}
	}
	m.mx.RUnlock()

	out := make([]model.Summary, 0, len(entries))
	for _, e := range entries {
		e.mx.Lock()
		s := e.job.Summary()
		e.mx.Unlock()
		if filter != "" && !slices.Contains(s.RequestedTypes, filter) {
			continue
		}
		out = append(out, s)
	}
	return out
}

// Stats aggregates per status and per type job counts.
func (m *Manager) Stats() model.Stats {
	m.mx.RLock()
	entries := make([]*entry, 0, len(m.jobs))
	for _, e := range m.jobs {
		entries = append(entries, e)
	}
	m.mx.RUnlock()

	stats := model.Stats{
		ByStatus: make(map[model.JobStatus]int),
		ByType:   make(map[model.JobType]int),
	}
	for _, e := range entries {
		e.mx.Lock()
		status := e.job.Status
		types := slices.Clone(e.job.RequestedTypes)
		e.mx.Unlock()

		stats.Total++
		stats.ByStatus[status]++
		for _, t := range types {
			stats.ByType[t]++
		}
	}
	return stats
}

// Evict removes terminal jobs which finished more than maxAge ago and
// returns how many were dropped. Ids of evicted jobs are never reused.
func (m *Manager) Evict(maxAge time.Duration) int {
	cutoff := time.Now().UTC().Add(-maxAge)

	m.mx.Lock()
	defer m.mx.Unlock()

	evicted := 0
	kept := m.order[:0]
	for _, id := range m.order {
		e := m.jobs[id]
		e.mx.Lock()
		old := e.job.Status.Terminal() && e.job.CompletedAt.Before(cutoff)
		e.mx.Unlock()
		if old {
			delete(m.jobs, id)
			evicted++
			continue
		}
		kept = append(kept, id)
	}
	m.order = kept
	return evicted
}

// Wait blocks until every dispatched job has reached a terminal state.
// Intended for oneshot mode and tests.
func (m *Manager) Wait() {
	m.wg.Wait()
}

func dedupe(types []model.JobType) []model.JobType {
	out := make([]model.JobType, 0, len(types))
	for _, t := range types {
		if !slices.Contains(out, t) {
			out = append(out, t)
		}
	}
	return out
}
