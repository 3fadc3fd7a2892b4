package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ErlanBelekov/script-runner/internal/domain"
	"github.com/ErlanBelekov/script-runner/internal/llm"
)

var ErrMalformedDiagnosis = errors.New("diagnosis is not valid JSON")

// ErrorAnalyzer asks an LLM for a structured diagnosis of a failed script.
type ErrorAnalyzer struct {
	llm    llm.Client
	logger *slog.Logger
}

func NewErrorAnalyzer(client llm.Client, logger *slog.Logger) *ErrorAnalyzer {
	return &ErrorAnalyzer{llm: client, logger: logger.With("component", "error_analyzer")}
}

func (a *ErrorAnalyzer) Diagnose(ctx context.Context, script, stderr string, jobCtx domain.Context) (domain.Diagnosis, error) {
	resp, err := a.llm.Generate(ctx, diagnosisPrompt(script, stderr, jobCtx))
	if err != nil {
		return domain.Diagnosis{}, fmt.Errorf("generate diagnosis: %w", err)
	}

	var d domain.Diagnosis
	if err := json.Unmarshal([]byte(stripFences(resp)), &d); err != nil {
		a.logger.DebugContext(ctx, "unparseable diagnosis", "response", resp)
		return domain.Diagnosis{}, fmt.Errorf("%w: %v", ErrMalformedDiagnosis, err)
	}

	d.Summary = strings.TrimSpace(d.Summary)
	if d.FixType != domain.FixQuick {
		d.FixType = domain.FixRepair
	}
	if d.FixType == domain.FixRepair {
		d.QuickFix = nil
	}
	return d, nil
}
