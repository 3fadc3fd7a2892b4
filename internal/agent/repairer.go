package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ErlanBelekov/script-runner/internal/domain"
	"github.com/ErlanBelekov/script-runner/internal/llm"
)

var ErrEmptyRepair = errors.New("repair produced no code")

// CodeRepairer produces a corrected script. Import quick fixes are applied
// locally; everything else goes to the LLM.
type CodeRepairer struct {
	llm    llm.Client
	logger *slog.Logger
}

func NewCodeRepairer(client llm.Client, logger *slog.Logger) *CodeRepairer {
	return &CodeRepairer{llm: client, logger: logger.With("component", "code_repairer")}
}

func (r *CodeRepairer) Repair(ctx context.Context, req domain.RepairRequest) (string, error) {
	if fixed, ok := applyQuickFix(req.Script, req.Diagnosis); ok {
		r.logger.InfoContext(ctx, "applied quick fix", "library", req.Diagnosis.QuickFix.Library)
		return fixed, nil
	}

	resp, err := r.llm.Generate(ctx, repairPrompt(req))
	if err != nil {
		return "", fmt.Errorf("generate repair: %w", err)
	}

	code := extractCode(resp)
	if code == "" {
		return "", ErrEmptyRepair
	}
	return code, nil
}

// applyQuickFix prepends the missing import named by an add_import diagnosis.
// It reports false when the diagnosis is not a usable quick fix.
func applyQuickFix(script string, d domain.Diagnosis) (string, bool) {
	if d.FixType != domain.FixQuick || d.QuickFix == nil || d.QuickFix.Action != domain.QuickFixAddImport {
		return "", false
	}
	lib := strings.TrimSpace(d.QuickFix.Library)
	if lib == "" || strings.ContainsAny(lib, "\n;") {
		return "", false
	}

	stmt := "import " + lib
	if strings.HasPrefix(lib, "import ") || strings.HasPrefix(lib, "from ") {
		stmt = lib
	}
	for _, line := range strings.Split(script, "\n") {
		if strings.TrimSpace(line) == stmt {
			// Already imported; the quick fix cannot help.
			return "", false
		}
	}
	return stmt + "\n" + script, true
}
