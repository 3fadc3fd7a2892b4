package repository

import (
	"context"

	"github.com/ErlanBelekov/script-runner/internal/domain"
)

type FinishRunInput struct {
	Status    domain.RunStatus
	Attempts  int
	LastError *string
	Report    []byte
}

// RunRepository keeps one summary row per submitted job.
type RunRepository interface {
	Create(ctx context.Context, run *domain.Run) (*domain.Run, error)
	Finish(ctx context.Context, id string, input FinishRunInput) error
	// GetByID returns domain.ErrRunNotFound when no run has the ID.
	GetByID(ctx context.Context, id string) (*domain.Run, error)
}
