package model

import (
	"fmt"
	"slices"
	"time"
)

// JobType identifies one available analysis kind. The set of registered
// types is closed at process start.
type JobType string

const (
	JobTypeLint           JobType = "lint"
	JobTypeStaticAnalysis JobType = "static_analysis"
	JobTypeBasedPyright   JobType = "basedpyright"
)

// ParseJobType accepts any registered spelling, it does not check the type
// is backed by an enabled processor - the manager does.
func ParseJobType(s string) (JobType, error) {
	switch JobType(s) {
	case JobTypeLint, JobTypeStaticAnalysis, JobTypeBasedPyright:
		return JobType(s), nil
	default:
		return "", fmt.Errorf("unknown job type %q: %w", s, ErrInvalidRequest)
	}
}

// JobStatus is monotonic: a job never regresses to an earlier status and
// Completed/Failed are terminal.
type JobStatus string

const (
	StatusPending   JobStatus = "pending"
	StatusRunning   JobStatus = "running"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
)

// Terminal reports whether the status can no longer change.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Job is a snapshot of one analysis submission. The manager owns the live
// record; callers only ever see copies produced by Clone.
type Job struct {
	ID             string                   `json:"job_id"`
	Code           string                   `json:"-"`
	RequestedTypes []JobType                `json:"requested_types"`
	Status         JobStatus                `json:"status"`
	Results        map[JobType][]Diagnostic `json:"results,omitempty"`
	Error          string                   `json:"error,omitempty"` // non-empty iff Status == failed
	Options        FilterOptions            `json:"options"`
	CreatedAt      time.Time                `json:"created_at"`
	StartedAt      time.Time                `json:"started_at,omitzero"`
	CompletedAt    time.Time                `json:"completed_at,omitzero"`
}

// ExecutionTime is the wall time between dispatch and the terminal
// transition, zero while the job still runs.
func (j Job) ExecutionTime() time.Duration {
	if j.StartedAt.IsZero() || j.CompletedAt.IsZero() {
		return 0
	}
	return j.CompletedAt.Sub(j.StartedAt)
}

// Clone returns a deep copy, so a caller can't reach into the registry.
func (j Job) Clone() Job {
	out := j
	out.RequestedTypes = slices.Clone(j.RequestedTypes)
	if j.Results != nil {
		out.Results = make(map[JobType][]Diagnostic, len(j.Results))
		for t, diags := range j.Results {
			out.Results[t] = slices.Clone(diags)
		}
	}
	return out
}

// Summary is the cheap listing shape: no diagnostic payload.
type Summary struct {
	ID             string    `json:"job_id"`
	Status         JobStatus `json:"status"`
	RequestedTypes []JobType `json:"requested_types"`
	CreatedAt      time.Time `json:"created_at"`
}

// Summary converts the job into its listing shape.
func (j Job) Summary() Summary {
	return Summary{
		ID:             j.ID,
		Status:         j.Status,
		RequestedTypes: slices.Clone(j.RequestedTypes),
		CreatedAt:      j.CreatedAt,
	}
}

// Stats aggregates registry counters for the stats operation.
type Stats struct {
	Total    int               `json:"total"`
	ByStatus map[JobStatus]int `json:"by_status"`
	ByType   map[JobType]int   `json:"by_type"`
}
