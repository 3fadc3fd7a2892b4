package repository

import (
	"context"

	"github.com/ErlanBelekov/script-runner/internal/domain"
)

type AttemptRepository interface {
	// CreateAttempt opens an attempt record at the moment the script is written.
	// Returns the persisted attempt (with its generated ID) so the caller
	// can close it with CompleteAttempt once the attempt is evaluated.
	CreateAttempt(ctx context.Context, attempt *domain.AttemptRecord) (*domain.AttemptRecord, error)

	// CompleteAttempt closes an open attempt record with the execution outcome.
	// exitCode is nil when the child never started. errMsg and diagnosis are
	// nil on success.
	CompleteAttempt(ctx context.Context, id string, exitCode *int, errMsg, diagnosis *string, durationMS int64) error

	// ListByRunID returns all attempts for a run, ordered by attempt number.
	ListByRunID(ctx context.Context, runID string) ([]*domain.AttemptRecord, error)
}
