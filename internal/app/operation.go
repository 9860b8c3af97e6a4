package app

import (
	"time"

	"srcsnap/internal/snap"
)

// Operation is one CLI invocation. Its ID tags every log line the run
// writes so interleaved runs can be told apart in the shared log file.
type Operation struct {
	ID        string
	Name      string
	StartedAt time.Time
	Status    string // "success" or "error"
}

// NewOperation starts an operation named after the CLI command being run.
func NewOperation(name string, clock snap.Clock) *Operation {
	now := clock.Now().UTC()
	return &Operation{
		ID:        now.Format("20060102T150405Z"),
		Name:      name,
		StartedAt: now,
		Status:    "success",
	}
}

// Fail marks the operation as failed if err is non-nil.
func (op *Operation) Fail(err error) {
	if err != nil {
		op.Status = "error"
	}
}

// Elapsed returns the time since the operation started.
func (op *Operation) Elapsed(clock snap.Clock) time.Duration {
	return clock.Now().Sub(op.StartedAt)
}
