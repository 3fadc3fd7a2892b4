package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/ErlanBelekov/script-runner/internal/domain"
	ctxlog "github.com/ErlanBelekov/script-runner/internal/log"
	"github.com/ErlanBelekov/script-runner/internal/metrics"
	"github.com/ErlanBelekov/script-runner/internal/repository"
)

// Diagnoser explains why an attempt failed.
type Diagnoser interface {
	Diagnose(ctx context.Context, script, stderr string, jobCtx domain.Context) (domain.Diagnosis, error)
}

// Repairer produces a new script from a failed one.
type Repairer interface {
	Repair(ctx context.Context, req domain.RepairRequest) (string, error)
}

const (
	defaultMaxCaptureBytes   = 4 << 20
	defaultHeartbeatInterval = 5 * time.Second
	diagnosisFallbackBytes   = 500
	historyErrorBytes        = 1000
	eventErrorBytes          = 200
)

type Config struct {
	// MaxCaptureBytes bounds the output retained per attempt. Lines past
	// the bound are still streamed, and the most recent ones are kept.
	MaxCaptureBytes   int
	HeartbeatInterval time.Duration
	// HistoryWindow caps the prior failures sent to the repairer; 0 sends all.
	HistoryWindow int
}

// Engine drives jobs through write, run, evaluate, diagnose, repair cycles.
type Engine struct {
	executor  *Executor
	diagnoser Diagnoser
	repairer  Repairer
	attempts  repository.AttemptRepository
	logger    *slog.Logger
	cfg       Config
}

func New(
	executor *Executor,
	diagnoser Diagnoser,
	repairer Repairer,
	attempts repository.AttemptRepository,
	logger *slog.Logger,
	cfg Config,
) *Engine {
	if cfg.MaxCaptureBytes <= 0 {
		cfg.MaxCaptureBytes = defaultMaxCaptureBytes
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = defaultHeartbeatInterval
	}
	return &Engine{
		executor:  executor,
		diagnoser: diagnoser,
		repairer:  repairer,
		attempts:  attempts,
		logger:    logger.With("component", "engine"),
		cfg:       cfg,
	}
}

// Submit starts driving job and returns its event stream. The stream ends
// with exactly one success or final_error event and is then closed. If ctx
// is cancelled the child is killed and the stream is closed without a
// terminal event.
func (e *Engine) Submit(ctx context.Context, job domain.Job) <-chan domain.Event {
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = domain.DefaultMaxAttempts
	}
	job.Attempt = 0

	events := make(chan domain.Event, 16)
	r := &run{
		engine: e,
		ctx:    ctxlog.WithRunID(ctx, job.RunID),
		job:    job,
		events: events,
		logger: e.logger,
	}

	go func() {
		defer close(events)
		r.execute()
	}()
	return events
}

// run is the private state of one job. Only its goroutine touches it.
type run struct {
	engine  *Engine
	ctx     context.Context
	job     domain.Job
	history History
	events  chan<- domain.Event
	logger  *slog.Logger
}

func (r *run) emit(status domain.EventStatus, msg string, data any) bool {
	select {
	case r.events <- domain.Event{Status: status, Message: msg, Data: data}:
		return true
	case <-r.ctx.Done():
		return false
	}
}

func (r *run) execute() {
	metrics.RunsInFlight.Inc()
	defer metrics.RunsInFlight.Dec()

	defer func() {
		if p := recover(); p != nil {
			r.logger.ErrorContext(r.ctx, "engine panic", "panic", p)
			r.systemFault(fmt.Errorf("internal error: %v", p), nil)
		}
	}()

	for {
		r.job.Attempt++
		n := r.job.Attempt

		r.emit(domain.EventInfo, fmt.Sprintf("Execution attempt %d/%d...", n, r.job.MaxAttempts), domain.AttemptData{
			Attempt:     n,
			MaxAttempts: r.job.MaxAttempts,
			Script:      r.job.Script,
		})

		rec := r.openRecord(n)
		attempt, err := r.runAttempt(n)
		if err != nil {
			var fault *SystemFault
			if errors.As(err, &fault) {
				r.systemFault(err, rec)
				return
			}
			msg := "abandoned: " + err.Error()
			r.closeRecord(rec, nil, &msg, nil)
			r.logger.InfoContext(r.ctx, "run abandoned by caller", "attempt", n, "error", err)
			metrics.RunsCompletedTotal.WithLabelValues(string(domain.RunStatusCancelled)).Inc()
			return
		}

		outcome := "failure"
		switch {
		case attempt.Succeeded():
			outcome = "success"
		case attempt.TimedOut:
			outcome = "timeout"
		}
		metrics.AttemptsTotal.WithLabelValues(outcome).Inc()
		metrics.AttemptDuration.WithLabelValues(outcome).Observe(attempt.Duration.Seconds())

		if attempt.Succeeded() {
			r.closeRecord(rec, attempt, nil, nil)
			r.succeed(attempt)
			return
		}

		errText := r.failureText(attempt)
		r.logger.WarnContext(r.ctx, "attempt failed",
			"attempt", n,
			"max_attempts", r.job.MaxAttempts,
			"exit_code", attempt.ExitCode,
			"timed_out", attempt.TimedOut,
		)

		if n >= r.job.MaxAttempts {
			r.closeRecord(rec, attempt, &errText, nil)
			r.exhaust(attempt, errText)
			return
		}

		diag := r.diagnose(attempt, errText)
		attempt.Diagnosis = diag.Summary
		r.history.Record(n, tail(errText, historyErrorBytes), diag.Summary)
		r.closeRecord(rec, attempt, &errText, &diag.Summary)
		r.emit(domain.EventError, fmt.Sprintf("Attempt %d failed: %s", n, diag.Summary), domain.DiagnosisData{
			Attempt:   n,
			Diagnosis: diag.Summary,
		})

		r.repair(n, errText, diag)
		if r.ctx.Err() != nil {
			metrics.RunsCompletedTotal.WithLabelValues(string(domain.RunStatusCancelled)).Inc()
			return
		}
	}
}

// runAttempt writes the script, runs it to completion and captures its
// output. Errors are either *SystemFault or the caller's context error.
func (r *run) runAttempt(n int) (*domain.Attempt, error) {
	path, err := r.engine.executor.WriteScript(r.job.RunID, n, r.job.Script)
	if err != nil {
		return nil, err
	}
	defer r.removeScript(path)

	r.emit(domain.EventInfo, "Running pipeline script...", domain.ScriptData{Script: r.job.Script})

	if err := r.ctx.Err(); err != nil {
		return nil, err
	}
	proc, err := r.engine.executor.Start(r.ctx, path)
	if err != nil {
		return nil, err
	}

	attempt := &domain.Attempt{Index: n}
	out := newCapture(r.engine.cfg.MaxCaptureBytes)

	for line := range proc.Lines() {
		if out.add(line) {
			r.emit(domain.EventInfo, "Output capture limit reached; further lines are streamed and only the most recent are retained.", nil)
		}
		r.emit(domain.EventInfo, line.Text, domain.LineData{Stream: line.Stream, Attempt: n, Truncated: line.Truncated})
	}
	attempt.Stdout = out.stdout.lines()
	attempt.Stderr = out.stderr.lines()
	attempt.ReportTruncated = out.stdout.truncated

	res := proc.Wait()
	if err := r.ctx.Err(); err != nil {
		return nil, err
	}

	attempt.ExitCode = res.ExitCode
	attempt.TimedOut = res.TimedOut
	attempt.Duration = res.Duration
	if res.Err != nil {
		attempt.Stderr = append(attempt.Stderr, res.Err.Error())
	}
	return attempt, nil
}

func (r *run) removeScript(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		r.logger.WarnContext(r.ctx, "remove script file", "path", path, "error", err)
	}
}

// failureText is what the diagnoser and repairer see for a failed attempt.
// A timeout notice goes last so truncation from the front keeps it.
func (r *run) failureText(a *domain.Attempt) string {
	var b strings.Builder
	b.WriteString(joinLines(a.Stderr))
	if strings.TrimSpace(b.String()) == "" && len(a.Stdout) > 0 {
		b.WriteString(tail(joinLines(a.Stdout), historyErrorBytes))
	}
	switch {
	case a.TimedOut:
		fmt.Fprintf(&b, "Execution timed out after %s.", r.engine.executor.Timeout())
	case b.Len() == 0:
		fmt.Fprintf(&b, "Process exited with status %d.", a.ExitCode)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (r *run) diagnose(a *domain.Attempt, errText string) domain.Diagnosis {
	r.emit(domain.EventFixing, "AI is analyzing the error details...", nil)

	start := time.Now()
	diag, err := WithHeartbeat(r.ctx, r.engine.cfg.HeartbeatInterval, r.beat("Still analyzing the error"),
		func(ctx context.Context) (domain.Diagnosis, error) {
			return r.engine.diagnoser.Diagnose(ctx, r.job.Script, errText, r.job.Context)
		})
	metrics.CollaboratorDuration.WithLabelValues("diagnoser").Observe(time.Since(start).Seconds())

	if err == nil && strings.TrimSpace(diag.Summary) == "" {
		err = errors.New("empty diagnosis")
	}
	if err != nil {
		metrics.CollaboratorCallsTotal.WithLabelValues("diagnoser", "error").Inc()
		r.logger.WarnContext(r.ctx, "diagnoser failed, using raw error", "attempt", a.Index, "error", err)
		diag = domain.Diagnosis{Summary: tail(errText, diagnosisFallbackBytes), FixType: domain.FixRepair}
	} else {
		metrics.CollaboratorCallsTotal.WithLabelValues("diagnoser", "ok").Inc()
	}

	if a.TimedOut && !strings.Contains(strings.ToLower(diag.Summary), "timed out") {
		diag.Summary = fmt.Sprintf("Execution timed out after %s. %s", r.engine.executor.Timeout(), diag.Summary)
	}
	return diag
}

// repair replaces the job's script. On failure the script is left as is and
// the next attempt runs it unchanged.
func (r *run) repair(n int, errText string, diag domain.Diagnosis) {
	r.emit(domain.EventFixing, "AI is generating a fixed version of the code...", nil)

	req := domain.RepairRequest{
		Script:    r.job.Script,
		Stderr:    errText,
		Context:   r.job.Context,
		Diagnosis: diag,
		History:   r.history.Recent(r.engine.cfg.HistoryWindow, n),
	}

	start := time.Now()
	fixed, err := WithHeartbeat(r.ctx, r.engine.cfg.HeartbeatInterval, r.beat("Still generating a fix"),
		func(ctx context.Context) (string, error) {
			return r.engine.repairer.Repair(ctx, req)
		})
	metrics.CollaboratorDuration.WithLabelValues("repairer").Observe(time.Since(start).Seconds())

	if err == nil && strings.TrimSpace(fixed) == "" {
		err = errors.New("repairer returned an empty script")
	}
	if err != nil {
		metrics.CollaboratorCallsTotal.WithLabelValues("repairer", "error").Inc()
		r.logger.WarnContext(r.ctx, "repairer failed, retrying unchanged script", "attempt", n, "error", err)
		r.emit(domain.EventError, fmt.Sprintf("Repair failed: %v. Retrying with the unchanged script.", err), nil)
		return
	}

	metrics.CollaboratorCallsTotal.WithLabelValues("repairer", "ok").Inc()
	r.job.Script = fixed
	r.emit(domain.EventInfo, "Fix applied. Retrying...", domain.ScriptData{Script: fixed})
}

func (r *run) beat(msg string) func(int) {
	interval := r.engine.cfg.HeartbeatInterval
	return func(n int) {
		metrics.HeartbeatsTotal.Inc()
		elapsed := time.Duration(n) * interval
		r.emit(domain.EventFixing, fmt.Sprintf("%s (%s elapsed)...", msg, elapsed), nil)
	}
}

func (r *run) succeed(a *domain.Attempt) {
	var report []byte
	msg := "Execution successful"
	switch {
	case a.ReportTruncated:
		msg = "Execution finished (last output line exceeded the line limit; report dropped)"
	default:
		report = ExtractReport(a.Stdout)
		if report == nil {
			msg = "Execution finished (no JSON report)"
		}
	}
	metrics.RunsCompletedTotal.WithLabelValues(string(domain.RunStatusSucceeded)).Inc()
	r.logger.InfoContext(r.ctx, "run succeeded", "attempts", a.Index, "report", report != nil)
	r.emit(domain.EventSuccess, msg, domain.ResultData{
		Stdout:   joinLines(a.Stdout),
		Stderr:   joinLines(a.Stderr),
		Report:   report,
		Script:   r.job.Script,
		Attempts: a.Index,
		Outcome:  domain.RunStatusSucceeded,
	})
}

func (r *run) exhaust(a *domain.Attempt, errText string) {
	diagnosis := r.history.Last()
	if diagnosis == "" {
		diagnosis = tail(errText, diagnosisFallbackBytes)
	}
	metrics.RunsCompletedTotal.WithLabelValues(string(domain.RunStatusExhausted)).Inc()
	r.logger.WarnContext(r.ctx, "run exhausted", "attempts", a.Index, "error", tail(errText, eventErrorBytes))
	r.emit(domain.EventFinalError, "Max retries reached. Execution failed.", domain.ResultData{
		Stdout:    joinLines(a.Stdout),
		Stderr:    joinLines(a.Stderr),
		Script:    r.job.Script,
		Attempts:  a.Index,
		Diagnosis: diagnosis,
		Outcome:   domain.RunStatusExhausted,
	})
}

func (r *run) systemFault(err error, rec *domain.AttemptRecord) {
	msg := err.Error()
	if rec != nil {
		r.closeRecord(rec, nil, &msg, nil)
	}
	metrics.RunsCompletedTotal.WithLabelValues(string(domain.RunStatusSystemFault)).Inc()
	r.logger.ErrorContext(r.ctx, "run aborted by system fault", "attempt", r.job.Attempt, "error", err)
	r.emit(domain.EventFinalError, "System error: "+msg, domain.ResultData{
		Stderr:    msg,
		Script:    r.job.Script,
		Attempts:  r.job.Attempt,
		Diagnosis: r.history.Last(),
		Outcome:   domain.RunStatusSystemFault,
	})
}

func (r *run) openRecord(n int) *domain.AttemptRecord {
	if r.engine.attempts == nil {
		return nil
	}
	rec, err := r.engine.attempts.CreateAttempt(r.ctx, &domain.AttemptRecord{
		RunID:      r.job.RunID,
		AttemptNum: n,
		StartedAt:  time.Now(),
	})
	if err != nil {
		r.logger.ErrorContext(r.ctx, "create attempt record", "attempt", n, "error", err)
		return nil
	}
	return rec
}

// closeRecord uses a context detached from cancellation so an abandoned run
// still gets its attempt closed.
func (r *run) closeRecord(rec *domain.AttemptRecord, a *domain.Attempt, errMsg, diagnosis *string) {
	if rec == nil || r.engine.attempts == nil {
		return
	}
	var exitCode *int
	var durationMS int64
	if a != nil {
		code := a.ExitCode
		exitCode = &code
		durationMS = a.Duration.Milliseconds()
	}
	var errTail *string
	if errMsg != nil {
		t := tail(*errMsg, historyErrorBytes)
		errTail = &t
	}
	ctx := context.WithoutCancel(r.ctx)
	if err := r.engine.attempts.CompleteAttempt(ctx, rec.ID, exitCode, errTail, diagnosis, durationMS); err != nil {
		r.logger.ErrorContext(ctx, "complete attempt record", "attempt", rec.AttemptNum, "error", err)
	}
}
