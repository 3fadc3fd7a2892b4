package engine

import (
	"encoding/json"
	"strings"
)

// ExtractReport parses the last non-blank stdout line as a JSON document.
// It returns nil when there is no such line or it is not valid JSON; the
// caller must only consult it after a zero exit status.
func ExtractReport(stdout []string) json.RawMessage {
	for i := len(stdout) - 1; i >= 0; i-- {
		line := strings.TrimSpace(stdout[i])
		if line == "" {
			continue
		}
		if !json.Valid([]byte(line)) {
			return nil
		}
		return json.RawMessage(line)
	}
	return nil
}

// tail returns at most n trailing bytes of s, starting on a rune boundary.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	s = s[len(s)-n:]
	for i := 0; i < len(s) && i < 4; i++ {
		if s[i]&0xC0 != 0x80 {
			return s[i:]
		}
	}
	return s
}

func joinLines(lines []string) string {
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n") + "\n"
}
