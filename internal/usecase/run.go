package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/ErlanBelekov/script-runner/internal/domain"
	"github.com/ErlanBelekov/script-runner/internal/email"
	"github.com/ErlanBelekov/script-runner/internal/repository"
)

// Runner drives one job and streams its events. *engine.Engine implements it.
type Runner interface {
	Submit(ctx context.Context, job domain.Job) <-chan domain.Event
}

type RunUsecase struct {
	runner      Runner
	runs        repository.RunRepository
	attempts    repository.AttemptRepository
	email       email.Sender
	notifyTo    string
	maxAttempts int
	logger      *slog.Logger
}

type RunUsecaseConfig struct {
	// DefaultMaxAttempts applies when a submission names no bound.
	DefaultMaxAttempts int
	// NotifyEmail receives a message for every failed run. Empty disables it.
	NotifyEmail string
}

func NewRunUsecase(
	runner Runner,
	runs repository.RunRepository,
	attempts repository.AttemptRepository,
	emailSender email.Sender,
	cfg RunUsecaseConfig,
	logger *slog.Logger,
) *RunUsecase {
	if cfg.DefaultMaxAttempts <= 0 {
		cfg.DefaultMaxAttempts = domain.DefaultMaxAttempts
	}
	return &RunUsecase{
		runner:      runner,
		runs:        runs,
		attempts:    attempts,
		email:       emailSender,
		notifyTo:    cfg.NotifyEmail,
		maxAttempts: cfg.DefaultMaxAttempts,
		logger:      logger.With("component", "run_usecase"),
	}
}

type SubmitInput struct {
	Script  string
	Context domain.Context
	// MaxAttempts counts executions, the first included.
	MaxAttempts int
	// MaxRetries is the older way to bound a run: attempts = retries + 1.
	// Ignored when MaxAttempts is set.
	MaxRetries  *int
	SubmittedBy *string
}

func (u *RunUsecase) resolveAttempts(input SubmitInput) (int, error) {
	n := u.maxAttempts
	switch {
	case input.MaxAttempts != 0:
		n = input.MaxAttempts
	case input.MaxRetries != nil:
		n = *input.MaxRetries + 1
	}
	if n < 1 || n > domain.MaxAllowedAttempts {
		return 0, domain.ErrInvalidMaxAttempts
	}
	return n, nil
}

// Submit validates and records a run, then starts it. The returned channel
// carries the engine's events unchanged and is closed after the terminal
// event, or early when ctx is cancelled.
func (u *RunUsecase) Submit(ctx context.Context, input SubmitInput) (*domain.Run, <-chan domain.Event, error) {
	if strings.TrimSpace(input.Script) == "" {
		return nil, nil, domain.ErrEmptyScript
	}
	maxAttempts, err := u.resolveAttempts(input)
	if err != nil {
		return nil, nil, err
	}
	if input.Context == nil {
		input.Context = domain.Context{}
	}

	run, err := u.runs.Create(ctx, &domain.Run{
		ID:          uuid.NewString(),
		SubmittedBy: input.SubmittedBy,
		MaxAttempts: maxAttempts,
		Status:      domain.RunStatusRunning,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create run: %w", err)
	}

	events := u.runner.Submit(ctx, domain.Job{
		RunID:       run.ID,
		Script:      input.Script,
		Context:     input.Context,
		MaxAttempts: maxAttempts,
	})

	out := make(chan domain.Event, 16)
	go u.forward(ctx, run.ID, events, out)
	return run, out, nil
}

func (u *RunUsecase) forward(ctx context.Context, runID string, events <-chan domain.Event, out chan<- domain.Event) {
	defer close(out)

	// The run record must be closed even when the caller has gone away.
	bg := context.WithoutCancel(ctx)
	finished := false
	consumerGone := false

	for ev := range events {
		if ev.Status.Terminal() {
			u.finish(bg, runID, ev)
			finished = true
		}
		if consumerGone {
			continue
		}
		select {
		case out <- ev:
		case <-ctx.Done():
			consumerGone = true
		}
	}

	if !finished {
		msg := "cancelled before completion"
		if err := u.runs.Finish(bg, runID, repository.FinishRunInput{
			Status:    domain.RunStatusCancelled,
			LastError: &msg,
		}); err != nil {
			u.logger.ErrorContext(bg, "finish cancelled run", "run_id", runID, "error", err)
		}
	}
}

func (u *RunUsecase) finish(ctx context.Context, runID string, ev domain.Event) {
	res, _ := ev.Data.(domain.ResultData)

	input := repository.FinishRunInput{
		Status:   res.Outcome,
		Attempts: res.Attempts,
		Report:   res.Report,
	}
	if input.Status == "" {
		input.Status = domain.RunStatusSucceeded
		if ev.Status == domain.EventFinalError {
			input.Status = domain.RunStatusExhausted
		}
	}
	if ev.Status == domain.EventFinalError {
		lastErr := res.Diagnosis
		if lastErr == "" {
			lastErr = ev.Message
		}
		input.LastError = &lastErr
	}

	if err := u.runs.Finish(ctx, runID, input); err != nil {
		u.logger.ErrorContext(ctx, "finish run", "run_id", runID, "error", err)
	}

	if ev.Status == domain.EventFinalError {
		u.notify(ctx, runID, res)
	}
}

func (u *RunUsecase) notify(ctx context.Context, runID string, res domain.ResultData) {
	if u.notifyTo == "" || u.email == nil {
		return
	}
	subject, body, err := email.FailureMessage(runID, res)
	if err != nil {
		u.logger.ErrorContext(ctx, "render notification", "run_id", runID, "error", err)
		return
	}
	if err := u.email.Send(ctx, u.notifyTo, subject, body); err != nil {
		u.logger.ErrorContext(ctx, "send notification", "run_id", runID, "error", err)
	}
}

func (u *RunUsecase) GetRun(ctx context.Context, id string) (*domain.Run, error) {
	run, err := u.runs.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// ListAttempts returns the attempt log of an existing run.
func (u *RunUsecase) ListAttempts(ctx context.Context, runID string) ([]*domain.AttemptRecord, error) {
	if _, err := u.runs.GetByID(ctx, runID); err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	attempts, err := u.attempts.ListByRunID(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	return attempts, nil
}
