// Package memory keeps the run log in process memory. It backs the server
// when no database is configured and the local CLI.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ErlanBelekov/script-runner/internal/domain"
	"github.com/ErlanBelekov/script-runner/internal/repository"
)

type RunRepository struct {
	mu   sync.RWMutex
	runs map[string]domain.Run
}

func NewRunRepository() *RunRepository {
	return &RunRepository{runs: make(map[string]domain.Run)}
}

func (r *RunRepository) Create(_ context.Context, run *domain.Run) (*domain.Run, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.runs[run.ID]; ok {
		return nil, fmt.Errorf("run %s already exists", run.ID)
	}
	stored := *run
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	r.runs[run.ID] = stored
	return &stored, nil
}

func (r *RunRepository) Finish(_ context.Context, id string, in repository.FinishRunInput) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	run, ok := r.runs[id]
	if !ok || run.CompletedAt != nil {
		return domain.ErrRunNotFound
	}
	now := time.Now().UTC()
	run.Status = in.Status
	run.Attempts = in.Attempts
	run.LastError = in.LastError
	run.Report = in.Report
	run.CompletedAt = &now
	r.runs[id] = run
	return nil
}

func (r *RunRepository) GetByID(_ context.Context, id string) (*domain.Run, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	run, ok := r.runs[id]
	if !ok {
		return nil, domain.ErrRunNotFound
	}
	return &run, nil
}

type AttemptRepository struct {
	mu       sync.RWMutex
	seq      int
	attempts map[string]domain.AttemptRecord
}

func NewAttemptRepository() *AttemptRepository {
	return &AttemptRepository{attempts: make(map[string]domain.AttemptRecord)}
}

func (r *AttemptRepository) CreateAttempt(_ context.Context, a *domain.AttemptRecord) (*domain.AttemptRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	stored := *a
	stored.ID = fmt.Sprintf("%s-%d", a.RunID, r.seq)
	r.attempts[stored.ID] = stored
	return &stored, nil
}

func (r *AttemptRepository) CompleteAttempt(_ context.Context, id string, exitCode *int, errMsg, diagnosis *string, durationMS int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.attempts[id]
	if !ok {
		return fmt.Errorf("complete attempt: %s not found", id)
	}
	now := time.Now().UTC()
	a.CompletedAt = &now
	a.ExitCode = exitCode
	a.Error = errMsg
	a.Diagnosis = diagnosis
	a.DurationMS = &durationMS
	r.attempts[id] = a
	return nil
}

func (r *AttemptRepository) ListByRunID(_ context.Context, runID string) ([]*domain.AttemptRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*domain.AttemptRecord
	for _, a := range r.attempts {
		if a.RunID == runID {
			a := a
			out = append(out, &a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AttemptNum < out[j].AttemptNum })
	return out, nil
}
