package domain

import (
	"errors"
	"time"
)

var (
	ErrEmptyScript        = errors.New("script is empty")
	ErrInvalidMaxAttempts = errors.New("max attempts out of range")
	ErrRunNotFound        = errors.New("run not found")
)

const (
	DefaultMaxAttempts = 3
	MaxAllowedAttempts = 10
)

// Context is the opaque bundle handed from the submitter to the diagnoser and
// repairer. The engine never inspects it.
type Context map[string]any

// String returns the value stored under key when it is a string, "" otherwise.
func (c Context) String(key string) string {
	s, _ := c[key].(string)
	return s
}

// Job is one submitted script with its retry bound. Script is replaced by the
// repairer between attempts; the engine owns the Job for its whole lifetime.
type Job struct {
	RunID       string
	Script      string
	Context     Context
	MaxAttempts int
	Attempt     int
}

type RunStatus string

const (
	RunStatusRunning     RunStatus = "running"
	RunStatusSucceeded   RunStatus = "succeeded"
	RunStatusExhausted   RunStatus = "exhausted"
	RunStatusSystemFault RunStatus = "system_fault"
	RunStatusCancelled   RunStatus = "cancelled"
)

// Run is the persisted summary of a Job.
type Run struct {
	ID          string
	SubmittedBy *string
	MaxAttempts int
	Status      RunStatus
	Attempts    int
	LastError   *string
	Report      []byte // raw JSON, nil when the script printed none
	CreatedAt   time.Time
	CompletedAt *time.Time
}

// Attempt is one execution of the Job's current script. It is immutable once
// the child has exited and both output streams have been drained.
type Attempt struct {
	Index     int
	Stdout    []string
	Stderr    []string
	ExitCode  int
	TimedOut  bool
	Diagnosis string
	Duration  time.Duration
	// ReportTruncated is set when the last non-blank stdout line was cut at
	// the per-line limit, so it cannot be read as a report.
	ReportTruncated bool
}

// Succeeded reports whether the child exited with status zero.
func (a *Attempt) Succeeded() bool {
	return !a.TimedOut && a.ExitCode == 0
}

// AttemptRecord is the persisted row for an attempt.
type AttemptRecord struct {
	ID          string
	RunID       string
	AttemptNum  int
	StartedAt   time.Time
	CompletedAt *time.Time
	ExitCode    *int
	Error       *string
	Diagnosis   *string
	DurationMS  *int64
}
