package agent

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/ErlanBelekov/script-runner/internal/domain"
)

// Keys read from the job context. Everything else stays opaque.
const (
	ctxObjective     = "ml_objective"
	ctxAnalysis      = "analysis"
	ctxSchemaContext = "schema_context"
	ctxRawSchema     = "raw_schema"
)

const codeSnippetChars = 2000

var codeFence = regexp.MustCompile("(?s)```(?:python)?\\s*(.*?)```")

// contextText renders a context value for a prompt. Non-string values are
// shown as JSON.
func contextText(c domain.Context, key string) string {
	v, ok := c[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

func schemaText(c domain.Context) string {
	if s := contextText(c, ctxSchemaContext); s != "" {
		return s
	}
	return contextText(c, ctxRawSchema)
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}

// headRunes returns the first n runes of s.
func headRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	for i := range s {
		if n == 0 {
			return s[:i]
		}
		n--
	}
	return s
}

// stripFences removes a surrounding markdown code fence, if any.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 && !strings.ContainsAny(s[:nl], "{[") {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// extractCode returns the body of the first fenced block, or the whole
// response when there is none.
func extractCode(resp string) string {
	if m := codeFence.FindStringSubmatch(resp); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(resp)
}

func diagnosisPrompt(script, stderr string, c domain.Context) string {
	var b strings.Builder
	b.WriteString("You are a Senior Machine Learning Engineer and Debugging Expert.\n")
	b.WriteString("A Python ML pipeline failed to execute. Analyze the error and provide a structured summary in JSON format.\n\n")
	if obj := contextText(c, ctxObjective); obj != "" {
		fmt.Fprintf(&b, "User ML Objective: %s\n\n", obj)
	}
	fmt.Fprintf(&b, "Dataset Context (Analysis):\n%s\n\n", orNA(contextText(c, ctxAnalysis)))
	fmt.Fprintf(&b, "Raw Schema Info:\n%s\n\n", schemaText(c))
	fmt.Fprintf(&b, "Error Message (stderr):\n%s\n\n", stderr)

	snippet := headRunes(script, codeSnippetChars)
	if len(snippet) < len(script) {
		snippet += "\n... (truncated)"
	}
	fmt.Fprintf(&b, "Failed Code Snippet:\n%s\n\n", snippet)

	b.WriteString(`Tasks:
1. Identify the exact technical cause.
2. Categorize the fix:
   - "QUICK_FIX": For missing imports (e.g. 'name "np" is not defined') or single-line fixes.
   - "FULL_REPAIR": For logic errors, schema mismatches, or multi-line repairs.
3. If QUICK_FIX and it's a missing import, specify which one.

Return ONLY a JSON object with this structure:
{
    "summary": "Concise human-readable explanation (max 2 sentences).",
    "fix_type": "QUICK_FIX" or "FULL_REPAIR",
    "quick_fix_details": {"action": "add_import", "library": "library_name_to_import"} (or null if not a quick fix)
}
`)
	return b.String()
}

func repairPrompt(req domain.RepairRequest) string {
	var b strings.Builder
	b.WriteString("You are a Machine Learning Engineer. The following Python code failed to execute. Fix it.\n\n")
	fmt.Fprintf(&b, "Error Message:\n%s\n\n", req.Stderr)
	if req.Diagnosis.Summary != "" {
		fmt.Fprintf(&b, "Diagnosis:\n%s\n\n", req.Diagnosis.Summary)
	}
	fmt.Fprintf(&b, "Original Code:\n```python\n%s\n```\n\n", req.Script)
	fmt.Fprintf(&b, "Dataset Analysis:\n%s\n\n", contextText(req.Context, ctxAnalysis))
	fmt.Fprintf(&b, "Raw Schema:\n%s\n\n", schemaText(req.Context))

	if len(req.History) > 0 {
		b.WriteString("Previous failed attempts (do not repeat these fixes):\n")
		for _, h := range req.History {
			fmt.Fprintf(&b, "- Attempt %d: %s\n  Error: %s\n", h.Attempt, h.Diagnosis, h.Error)
		}
		b.WriteString("\n")
	}

	b.WriteString(`Tasks:
1. Analyze the error and the code.
2. Fix the code to resolve the error. Ensure imports are correct and data types are handled.
3. IMPORTANT: If using sklearn, ensure X.columns are converted to strings (X.columns = X.columns.astype(str)) to avoid TypeError.
4. Output the full valid Python code.
`)
	return b.String()
}
