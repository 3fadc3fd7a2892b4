package email

import (
	"bytes"
	"fmt"
	"html/template"
	"unicode/utf8"

	"github.com/ErlanBelekov/script-runner/internal/domain"
)

var failureTmpl = template.Must(template.New("failure").Parse(`<p>Run <code>{{.RunID}}</code> finished with status <b>{{.Outcome}}</b> after {{.Attempts}} attempt(s).</p>
{{if .Diagnosis}}<p><b>Diagnosis:</b> {{.Diagnosis}}</p>{{end}}
{{if .Stderr}}<p><b>Last error output:</b></p><pre>{{.Stderr}}</pre>{{end}}`))

// stderrLimit bounds the error output quoted in a notification.
const stderrLimit = 2000

// FailureMessage renders the subject and HTML body sent when a run does not
// succeed.
func FailureMessage(runID string, res domain.ResultData) (subject, body string, err error) {
	stderr := res.Stderr
	if len(stderr) > stderrLimit {
		stderr = "..." + tail(stderr, stderrLimit)
	}

	var buf bytes.Buffer
	err = failureTmpl.Execute(&buf, struct {
		RunID     string
		Outcome   domain.RunStatus
		Attempts  int
		Diagnosis string
		Stderr    string
	}{runID, res.Outcome, res.Attempts, res.Diagnosis, stderr})
	if err != nil {
		return "", "", fmt.Errorf("render failure email: %w", err)
	}
	return fmt.Sprintf("Run %s failed (%s)", runID, res.Outcome), buf.String(), nil
}

// tail returns at most n trailing bytes of s without splitting a rune.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	i := len(s) - n
	for i < len(s) && !utf8.RuneStart(s[i]) {
		i++
	}
	return s[i:]
}
