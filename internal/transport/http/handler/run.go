package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ErlanBelekov/script-runner/internal/domain"
	"github.com/ErlanBelekov/script-runner/internal/transport/http/middleware"
	"github.com/ErlanBelekov/script-runner/internal/usecase"
	"github.com/gin-gonic/gin"
)

const contentTypeNDJSON = "application/x-ndjson"

// runUsecaser is satisfied by *usecase.RunUsecase.
type runUsecaser interface {
	Submit(ctx context.Context, input usecase.SubmitInput) (*domain.Run, <-chan domain.Event, error)
	GetRun(ctx context.Context, id string) (*domain.Run, error)
	ListAttempts(ctx context.Context, runID string) ([]*domain.AttemptRecord, error)
}

type RunHandler struct {
	runUsecase runUsecaser
	logger     *slog.Logger
}

func NewRunHandler(runUsecase runUsecaser, logger *slog.Logger) *RunHandler {
	return &RunHandler{runUsecase: runUsecase, logger: logger.With("component", "run_handler")}
}

type submitRunRequest struct {
	Script      string         `json:"script"       binding:"required"`
	Context     domain.Context `json:"context"`
	MaxAttempts int            `json:"max_attempts" binding:"omitempty,min=1,max=10"`
	MaxRetries  *int           `json:"max_retries"  binding:"omitempty,min=0,max=9"`
}

type getRunResponse struct {
	ID          string           `json:"id"`
	Status      domain.RunStatus `json:"status"`
	MaxAttempts int              `json:"max_attempts"`
	Attempts    int              `json:"attempts"`
	SubmittedBy *string          `json:"submitted_by,omitempty"`
	LastError   *string          `json:"last_error,omitempty"`
	Report      json.RawMessage  `json:"report"`
	CreatedAt   time.Time        `json:"created_at"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
}

type attemptResponse struct {
	AttemptNum  int        `json:"attempt"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	ExitCode    *int       `json:"exit_code,omitempty"`
	Error       *string    `json:"error,omitempty"`
	Diagnosis   *string    `json:"diagnosis,omitempty"`
	DurationMS  *int64     `json:"duration_ms,omitempty"`
}

// Submit starts a run and streams its events for as long as it lasts:
// NDJSON by default, server-sent events when the client asks for them.
func (h *RunHandler) Submit(ctx *gin.Context) {
	var req submitRunRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var submittedBy *string
	if subject := ctx.GetString(middleware.SubjectKey); subject != "" {
		submittedBy = &subject
	}

	run, events, err := h.runUsecase.Submit(ctx.Request.Context(), usecase.SubmitInput{
		Script:      req.Script,
		Context:     req.Context,
		MaxAttempts: req.MaxAttempts,
		MaxRetries:  req.MaxRetries,
		SubmittedBy: submittedBy,
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrEmptyScript):
			ctx.JSON(http.StatusBadRequest, gin.H{"error": errEmptyScript})
		case errors.Is(err, domain.ErrInvalidMaxAttempts):
			ctx.JSON(http.StatusBadRequest, gin.H{"error": errInvalidMaxAttempts})
		default:
			h.logger.ErrorContext(ctx.Request.Context(), "submit run", "error", err)
			ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		}
		return
	}

	ctx.Header("X-Run-ID", run.ID)
	// Proxies must not buffer the stream.
	ctx.Header("X-Accel-Buffering", "no")

	if strings.Contains(ctx.GetHeader("Accept"), "text/event-stream") {
		h.streamSSE(ctx, events)
		return
	}
	h.streamNDJSON(ctx, events)
}

func (h *RunHandler) streamNDJSON(ctx *gin.Context, events <-chan domain.Event) {
	ctx.Header("Content-Type", contentTypeNDJSON)
	ctx.Status(http.StatusOK)

	ctx.Stream(func(w io.Writer) bool {
		ev, ok := <-events
		if !ok {
			return false
		}
		if err := json.NewEncoder(w).Encode(ev); err != nil {
			h.logger.WarnContext(ctx.Request.Context(), "write event", "error", err)
			return false
		}
		return true
	})
}

func (h *RunHandler) streamSSE(ctx *gin.Context, events <-chan domain.Event) {
	ctx.Stream(func(w io.Writer) bool {
		ev, ok := <-events
		if !ok {
			return false
		}
		ctx.SSEvent("message", ev)
		return true
	})
}

func (h *RunHandler) GetByID(ctx *gin.Context) {
	runID := ctx.Param("id")

	run, err := h.runUsecase.GetRun(ctx.Request.Context(), runID)
	if err != nil {
		if errors.Is(err, domain.ErrRunNotFound) {
			ctx.JSON(http.StatusNotFound, gin.H{"error": errRunNotFound})
			return
		}
		h.logger.ErrorContext(ctx.Request.Context(), "get run by id", "run_id", runID, "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	ctx.JSON(http.StatusOK, getRunResponse{
		ID:          run.ID,
		Status:      run.Status,
		MaxAttempts: run.MaxAttempts,
		Attempts:    run.Attempts,
		SubmittedBy: run.SubmittedBy,
		LastError:   run.LastError,
		Report:      run.Report,
		CreatedAt:   run.CreatedAt,
		CompletedAt: run.CompletedAt,
	})
}

func (h *RunHandler) ListAttempts(ctx *gin.Context) {
	runID := ctx.Param("id")

	attempts, err := h.runUsecase.ListAttempts(ctx.Request.Context(), runID)
	if err != nil {
		if errors.Is(err, domain.ErrRunNotFound) {
			ctx.JSON(http.StatusNotFound, gin.H{"error": errRunNotFound})
			return
		}
		h.logger.ErrorContext(ctx.Request.Context(), "list attempts", "run_id", runID, "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	out := make([]attemptResponse, 0, len(attempts))
	for _, a := range attempts {
		out = append(out, attemptResponse{
			AttemptNum:  a.AttemptNum,
			StartedAt:   a.StartedAt,
			CompletedAt: a.CompletedAt,
			ExitCode:    a.ExitCode,
			Error:       a.Error,
			Diagnosis:   a.Diagnosis,
			DurationMS:  a.DurationMS,
		})
	}
	ctx.JSON(http.StatusOK, gin.H{"attempts": out})
}

func Health(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
}
