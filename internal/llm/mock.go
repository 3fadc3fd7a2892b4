package llm

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
)

var (
	undefinedName = regexp.MustCompile(`NameError: name '([A-Za-z_][A-Za-z0-9_]*)' is not defined`)
	fencedBlock   = regexp.MustCompile("(?s)```[a-z]*\\s*(.*?)```")
)

var knownAliases = map[string]string{
	"np":  "numpy as np",
	"pd":  "pandas as pd",
	"plt": "matplotlib.pyplot as plt",
	"sns": "seaborn as sns",
}

// Mock answers without a model. Diagnosis prompts get a JSON diagnosis that
// turns NameErrors into import quick fixes; any other prompt gets the first
// fenced code block it contains echoed back.
type Mock struct{}

func (Mock) Generate(_ context.Context, prompt string) (string, error) {
	if strings.Contains(prompt, "Return ONLY a JSON object") {
		return mockDiagnosis(prompt), nil
	}
	if m := fencedBlock.FindStringSubmatch(prompt); m != nil {
		return "```python\n" + m[1] + "```", nil
	}
	return "I am a mock AI agent.", nil
}

func mockDiagnosis(prompt string) string {
	out := map[string]any{
		"summary":           "The script failed; see stderr for details.",
		"fix_type":          "FULL_REPAIR",
		"quick_fix_details": nil,
	}
	if m := undefinedName.FindStringSubmatch(prompt); m != nil {
		lib := m[1]
		if alias, ok := knownAliases[lib]; ok {
			lib = alias
		}
		out["summary"] = "The name '" + m[1] + "' is used without being imported."
		out["fix_type"] = "QUICK_FIX"
		out["quick_fix_details"] = map[string]string{"action": "add_import", "library": lib}
	}
	b, _ := json.Marshal(out)
	return string(b)
}
