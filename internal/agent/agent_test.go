package agent

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/ErlanBelekov/script-runner/internal/domain"
)

type fakeLLM struct {
	generateFn func(ctx context.Context, prompt string) (string, error)
	prompts    []string
}

func (f *fakeLLM) Generate(ctx context.Context, prompt string) (string, error) {
	f.prompts = append(f.prompts, prompt)
	return f.generateFn(ctx, prompt)
}

func respond(s string) *fakeLLM {
	return &fakeLLM{generateFn: func(context.Context, string) (string, error) { return s, nil }}
}

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestDiagnose_ParsesFencedJSON(t *testing.T) {
	client := respond("```json\n{\"summary\": \"np is not imported.\", \"fix_type\": \"QUICK_FIX\", \"quick_fix_details\": {\"action\": \"add_import\", \"library\": \"numpy as np\"}}\n```")
	a := NewErrorAnalyzer(client, discard)

	d, err := a.Diagnose(context.Background(), "x = np.zeros(3)", "NameError: name 'np' is not defined", nil)
	if err != nil {
		t.Fatalf("Diagnose: %v", err)
	}
	if d.Summary != "np is not imported." || d.FixType != domain.FixQuick {
		t.Errorf("diagnosis = %+v", d)
	}
	if d.QuickFix == nil || d.QuickFix.Library != "numpy as np" {
		t.Errorf("quick fix = %+v", d.QuickFix)
	}
}

func TestDiagnose_MalformedResponse(t *testing.T) {
	a := NewErrorAnalyzer(respond("I think the error is a typo."), discard)

	_, err := a.Diagnose(context.Background(), "s", "e", nil)
	if !errors.Is(err, ErrMalformedDiagnosis) {
		t.Fatalf("err = %v, want ErrMalformedDiagnosis", err)
	}
}

func TestDiagnose_LLMError(t *testing.T) {
	client := &fakeLLM{generateFn: func(context.Context, string) (string, error) {
		return "", errors.New("connection refused")
	}}
	if _, err := NewErrorAnalyzer(client, discard).Diagnose(context.Background(), "s", "e", nil); err == nil {
		t.Fatal("expected error")
	}
}

func TestDiagnose_UnknownFixTypeIsFullRepair(t *testing.T) {
	a := NewErrorAnalyzer(respond(`{"summary":"bad join","fix_type":"MAYBE","quick_fix_details":{"action":"add_import","library":"x"}}`), discard)

	d, err := a.Diagnose(context.Background(), "s", "e", nil)
	if err != nil {
		t.Fatal(err)
	}
	if d.FixType != domain.FixRepair || d.QuickFix != nil {
		t.Fatalf("diagnosis = %+v", d)
	}
}

func TestDiagnose_PromptCarriesContextAndTruncatedCode(t *testing.T) {
	client := respond(`{"summary":"s","fix_type":"FULL_REPAIR"}`)
	a := NewErrorAnalyzer(client, discard)
	jobCtx := domain.Context{
		"ml_objective": "predict churn",
		"analysis":     "users table",
		"raw_schema":   map[string]any{"users": []string{"id", "name"}},
	}
	script := strings.Repeat("a", 3000) + "TAIL_MARKER"

	if _, err := a.Diagnose(context.Background(), script, "Traceback: boom", jobCtx); err != nil {
		t.Fatal(err)
	}
	p := client.prompts[0]
	for _, want := range []string{"predict churn", "users table", `"users":["id","name"]`, "Traceback: boom"} {
		if !strings.Contains(p, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
	if strings.Contains(p, "TAIL_MARKER") {
		t.Error("prompt must only carry the first 2000 characters of the script")
	}
}

func TestRepair_QuickFixSkipsLLM(t *testing.T) {
	client := &fakeLLM{generateFn: func(context.Context, string) (string, error) {
		t.Fatal("LLM must not be called for an import quick fix")
		return "", nil
	}}
	r := NewCodeRepairer(client, discard)

	got, err := r.Repair(context.Background(), domain.RepairRequest{
		Script: "print(np.zeros(2))",
		Diagnosis: domain.Diagnosis{
			FixType:  domain.FixQuick,
			QuickFix: &domain.QuickFix{Action: domain.QuickFixAddImport, Library: "numpy as np"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if got != "import numpy as np\nprint(np.zeros(2))" {
		t.Fatalf("got %q", got)
	}
}

func TestRepair_QuickFixAlreadyImportedFallsBackToLLM(t *testing.T) {
	client := respond("```python\nimport numpy as np\nprint(np.ones(2))\n```")
	r := NewCodeRepairer(client, discard)

	got, err := r.Repair(context.Background(), domain.RepairRequest{
		Script: "import numpy as np\nprint(np.zeros(2))",
		Diagnosis: domain.Diagnosis{
			FixType:  domain.FixQuick,
			QuickFix: &domain.QuickFix{Action: domain.QuickFixAddImport, Library: "numpy as np"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if got != "import numpy as np\nprint(np.ones(2))" || len(client.prompts) != 1 {
		t.Fatalf("got %q after %d calls", got, len(client.prompts))
	}
}

func TestRepair_PromptListsHistory(t *testing.T) {
	client := respond("```python\nprint('ok')\n```")
	r := NewCodeRepairer(client, discard)

	got, err := r.Repair(context.Background(), domain.RepairRequest{
		Script:    "print(x)",
		Stderr:    "NameError: name 'x' is not defined",
		Diagnosis: domain.Diagnosis{Summary: "x is undefined", FixType: domain.FixRepair},
		History: []domain.HistoryEntry{
			{Attempt: 1, Error: "KeyError: 'age'", Diagnosis: "column age missing"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if got != "print('ok')" {
		t.Errorf("got %q", got)
	}
	p := client.prompts[0]
	for _, want := range []string{"do not repeat", "Attempt 1: column age missing", "KeyError: 'age'", "x is undefined", "print(x)"} {
		if !strings.Contains(p, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestRepair_EmptyResult(t *testing.T) {
	r := NewCodeRepairer(respond("```python\n```"), discard)
	if _, err := r.Repair(context.Background(), domain.RepairRequest{Script: "s"}); !errors.Is(err, ErrEmptyRepair) {
		t.Fatalf("err = %v, want ErrEmptyRepair", err)
	}
}

func TestExtractCode(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Here you go:\n```python\nprint(1)\n```\nEnjoy", "print(1)"},
		{"```\nprint(2)\n```", "print(2)"},
		{"  print(3)  ", "print(3)"},
	}
	for _, tt := range tests {
		if got := extractCode(tt.in); got != tt.want {
			t.Errorf("extractCode(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
