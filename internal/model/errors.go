package model

import (
	"errors"
)

var (
	// ErrInvalidRequest marks a malformed submission: unknown job type,
	// empty type set or empty code. Rejected synchronously at submit time.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrNotFound is returned when a job id is not known to the registry.
	ErrNotFound = errors.New("job not found")

	// ErrToolUnavailable means the analysis binary is missing and could
	// not be bootstrapped.
	ErrToolUnavailable = errors.New("tool unavailable")

	// ErrMalformedOutput means the tool produced output its parser cannot
	// decode. Permanent, never retried.
	ErrMalformedOutput = errors.New("malformed tool output")
)
