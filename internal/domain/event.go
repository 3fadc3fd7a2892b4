package domain

import "encoding/json"

type EventStatus string

const (
	EventInfo       EventStatus = "info"
	EventFixing     EventStatus = "fixing"
	EventError      EventStatus = "error"
	EventSuccess    EventStatus = "success"
	EventFinalError EventStatus = "final_error"
)

// Terminal reports whether no event can follow one with this status.
func (s EventStatus) Terminal() bool {
	return s == EventSuccess || s == EventFinalError
}

// Event is one unit of the progress stream delivered to the submitter.
type Event struct {
	Status  EventStatus `json:"status"`
	Message string      `json:"message"`
	Data    any         `json:"data,omitempty"`
}

type Stream string

const (
	StreamStdout Stream = "stdout"
	StreamStderr Stream = "stderr"
)

// LineData accompanies info events that relay a line of child output.
type LineData struct {
	Stream  Stream `json:"stream"`
	Attempt int    `json:"attempt"`
	// Truncated marks a line cut at the per-line limit.
	Truncated bool `json:"truncated,omitempty"`
}

// AttemptData accompanies the info event opening each attempt.
type AttemptData struct {
	Attempt     int    `json:"attempt"`
	MaxAttempts int    `json:"max_attempts"`
	Script      string `json:"script"`
}

// ScriptData accompanies info events that announce a new script.
type ScriptData struct {
	Script string `json:"script"`
}

// DiagnosisData accompanies error events raised after a failed attempt.
type DiagnosisData struct {
	Attempt   int    `json:"attempt"`
	Diagnosis string `json:"diagnosis"`
}

// ResultData is carried by terminal events. Report is null unless the
// script's last stdout line was a JSON document.
type ResultData struct {
	Stdout    string          `json:"stdout"`
	Stderr    string          `json:"stderr"`
	Report    json.RawMessage `json:"report"`
	Script    string          `json:"script"`
	Attempts  int             `json:"attempts"`
	Diagnosis string          `json:"diagnosis,omitempty"`
	Outcome   RunStatus       `json:"outcome"`
}
