package domain

type FixType string

const (
	FixQuick  FixType = "QUICK_FIX"
	FixRepair FixType = "FULL_REPAIR"
)

// QuickFix describes a mechanical fix the repairer may apply without
// regenerating the whole script.
type QuickFix struct {
	Action  string `json:"action"`
	Library string `json:"library"`
}

const QuickFixAddImport = "add_import"

// Diagnosis is the diagnoser's view of a failed attempt.
type Diagnosis struct {
	Summary  string    `json:"summary"`
	FixType  FixType   `json:"fix_type"`
	QuickFix *QuickFix `json:"quick_fix_details"`
}

// HistoryEntry is one prior failed attempt shown to the repairer.
type HistoryEntry struct {
	Attempt   int
	Error     string
	Diagnosis string
}

// RepairRequest is everything the repairer gets to produce a new script.
type RepairRequest struct {
	Script    string
	Stderr    string
	Context   Context
	Diagnosis Diagnosis
	History   []HistoryEntry
}
