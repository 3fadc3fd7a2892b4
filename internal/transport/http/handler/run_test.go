package handler_test

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ErlanBelekov/script-runner/internal/domain"
	"github.com/ErlanBelekov/script-runner/internal/transport/http/handler"
	"github.com/ErlanBelekov/script-runner/internal/transport/http/middleware"
	"github.com/ErlanBelekov/script-runner/internal/usecase"
	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeRunUsecase implements the unexported runUsecaser interface via method matching.
type fakeRunUsecase struct {
	submit       func(ctx context.Context, input usecase.SubmitInput) (*domain.Run, <-chan domain.Event, error)
	getRun       func(ctx context.Context, id string) (*domain.Run, error)
	listAttempts func(ctx context.Context, runID string) ([]*domain.AttemptRecord, error)
}

func (f *fakeRunUsecase) Submit(ctx context.Context, input usecase.SubmitInput) (*domain.Run, <-chan domain.Event, error) {
	return f.submit(ctx, input)
}

func (f *fakeRunUsecase) GetRun(ctx context.Context, id string) (*domain.Run, error) {
	return f.getRun(ctx, id)
}

func (f *fakeRunUsecase) ListAttempts(ctx context.Context, runID string) ([]*domain.AttemptRecord, error) {
	return f.listAttempts(ctx, runID)
}

func newTestEngine(uc *fakeRunUsecase) *gin.Engine {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := handler.NewRunHandler(uc, logger)

	r := gin.New()
	r.POST("/runs", func(c *gin.Context) {
		if s := c.GetHeader("X-Test-Subject"); s != "" {
			c.Set(middleware.SubjectKey, s)
		}
		c.Next()
	}, h.Submit)
	r.GET("/runs/:id", h.GetByID)
	r.GET("/runs/:id/attempts", h.ListAttempts)
	r.GET("/health", handler.Health)
	return r
}

func streamOf(events ...domain.Event) <-chan domain.Event {
	ch := make(chan domain.Event, len(events))
	for _, ev := range events {
		ch <- ev
	}
	close(ch)
	return ch
}

func successfulRun(got *usecase.SubmitInput) *fakeRunUsecase {
	return &fakeRunUsecase{submit: func(_ context.Context, input usecase.SubmitInput) (*domain.Run, <-chan domain.Event, error) {
		if got != nil {
			*got = input
		}
		return &domain.Run{ID: "run-123"}, streamOf(
			domain.Event{Status: domain.EventInfo, Message: "Execution attempt 1/3..."},
			domain.Event{Status: domain.EventSuccess, Message: "Execution successful", Data: domain.ResultData{
				Report:  json.RawMessage(`{"ok":true}`),
				Outcome: domain.RunStatusSucceeded,
			}},
		), nil
	}}
}

func post(t *testing.T, url, body string, header map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

// ---- Submit ----

func TestSubmit_InvalidJSON_Returns400(t *testing.T) {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/runs", strings.NewReader(`{bad json}`))
	req.Header.Set("Content-Type", "application/json")
	newTestEngine(&fakeRunUsecase{}).ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestSubmit_MissingScript_Returns400(t *testing.T) {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/runs", strings.NewReader(`{"context":{}}`))
	req.Header.Set("Content-Type", "application/json")
	newTestEngine(&fakeRunUsecase{}).ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestSubmit_AttemptsOutOfRange_Returns400(t *testing.T) {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/runs", strings.NewReader(`{"script":"print(1)","max_attempts":11}`))
	req.Header.Set("Content-Type", "application/json")
	newTestEngine(&fakeRunUsecase{}).ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestSubmit_UsecaseValidationError_Returns400(t *testing.T) {
	uc := &fakeRunUsecase{submit: func(context.Context, usecase.SubmitInput) (*domain.Run, <-chan domain.Event, error) {
		return nil, nil, domain.ErrEmptyScript
	}}
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/runs", strings.NewReader(`{"script":"   "}`))
	req.Header.Set("Content-Type", "application/json")
	newTestEngine(uc).ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
	if !strings.Contains(w.Body.String(), "Script must not be empty") {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestSubmit_UsecaseFailure_Returns500(t *testing.T) {
	uc := &fakeRunUsecase{submit: func(context.Context, usecase.SubmitInput) (*domain.Run, <-chan domain.Event, error) {
		return nil, nil, errors.New("db down")
	}}
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/runs", strings.NewReader(`{"script":"print(1)"}`))
	req.Header.Set("Content-Type", "application/json")
	newTestEngine(uc).ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}

func TestSubmit_StreamsNDJSON(t *testing.T) {
	var input usecase.SubmitInput
	srv := httptest.NewServer(newTestEngine(successfulRun(&input)))
	defer srv.Close()

	resp := post(t, srv.URL+"/runs", `{"script":"print(1)","context":{"analysis":"users"},"max_retries":2}`,
		map[string]string{"X-Test-Subject": "ci-bot"})
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/x-ndjson" {
		t.Errorf("content type = %q", ct)
	}
	if id := resp.Header.Get("X-Run-ID"); id != "run-123" {
		t.Errorf("X-Run-ID = %q", id)
	}

	var events []map[string]any
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		var ev map[string]any
		if err := json.Unmarshal(sc.Bytes(), &ev); err != nil {
			t.Fatalf("line %q: %v", sc.Text(), err)
		}
		events = append(events, ev)
	}
	if len(events) != 2 {
		t.Fatalf("events = %v", events)
	}
	if events[0]["status"] != "info" || events[1]["status"] != "success" {
		t.Errorf("statuses = %v, %v", events[0]["status"], events[1]["status"])
	}
	data, _ := events[1]["data"].(map[string]any)
	if report, _ := data["report"].(map[string]any); report["ok"] != true {
		t.Errorf("report = %v", data["report"])
	}

	if input.Script != "print(1)" || input.Context.String("analysis") != "users" {
		t.Errorf("input = %+v", input)
	}
	if input.MaxRetries == nil || *input.MaxRetries != 2 {
		t.Errorf("max_retries not forwarded: %v", input.MaxRetries)
	}
	if input.SubmittedBy == nil || *input.SubmittedBy != "ci-bot" {
		t.Errorf("submitted_by = %v", input.SubmittedBy)
	}
}

func TestSubmit_StreamsSSE(t *testing.T) {
	srv := httptest.NewServer(newTestEngine(successfulRun(nil)))
	defer srv.Close()

	resp := post(t, srv.URL+"/runs", `{"script":"print(1)"}`, map[string]string{"Accept": "text/event-stream"})
	defer func() { _ = resp.Body.Close() }()

	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Errorf("content type = %q", ct)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Count(string(body), "event:message") != 2 {
		t.Errorf("body = %s", body)
	}
	if !strings.Contains(string(body), `"status":"success"`) {
		t.Errorf("terminal event missing: %s", body)
	}
}

// ---- GetByID ----

func TestGetByID_NotFound_Returns404(t *testing.T) {
	uc := &fakeRunUsecase{getRun: func(context.Context, string) (*domain.Run, error) {
		return nil, domain.ErrRunNotFound
	}}
	w := httptest.NewRecorder()
	newTestEngine(uc).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/runs/nope", nil))

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestGetByID_ReturnsRun(t *testing.T) {
	lastErr := "column age missing"
	uc := &fakeRunUsecase{getRun: func(_ context.Context, id string) (*domain.Run, error) {
		return &domain.Run{ID: id, Status: domain.RunStatusExhausted, MaxAttempts: 3, Attempts: 3, LastError: &lastErr}, nil
	}}
	w := httptest.NewRecorder()
	newTestEngine(uc).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/runs/run-9", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	if body["id"] != "run-9" || body["status"] != "exhausted" || body["last_error"] != lastErr {
		t.Errorf("body = %v", body)
	}
	if v, ok := body["report"]; !ok || v != nil {
		t.Errorf("report = %v, want null", v)
	}
}

// ---- ListAttempts ----

func TestListAttempts(t *testing.T) {
	code := 1
	uc := &fakeRunUsecase{listAttempts: func(_ context.Context, runID string) ([]*domain.AttemptRecord, error) {
		if runID != "run-9" {
			return nil, domain.ErrRunNotFound
		}
		return []*domain.AttemptRecord{{RunID: runID, AttemptNum: 1, ExitCode: &code}}, nil
	}}

	w := httptest.NewRecorder()
	newTestEngine(uc).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/runs/run-9/attempts", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"exit_code":1`) {
		t.Fatalf("status = %d body = %s", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	newTestEngine(uc).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/runs/other/attempts", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestHealth(t *testing.T) {
	w := httptest.NewRecorder()
	newTestEngine(&fakeRunUsecase{}).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Errorf("status = %d", w.Code)
	}
}
