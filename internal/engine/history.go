package engine

import "github.com/ErlanBelekov/script-runner/internal/domain"

// History is the append-only log of failed attempts for one job.
// It is owned by the goroutine driving the job and is not safe for
// concurrent use.
type History struct {
	entries []domain.HistoryEntry
}

// Record appends a failed attempt. Attempts that were already recorded are
// ignored so the log never holds duplicates.
func (h *History) Record(attempt int, errText, diagnosis string) {
	for _, e := range h.entries {
		if e.Attempt == attempt {
			return
		}
	}
	h.entries = append(h.entries, domain.HistoryEntry{
		Attempt:   attempt,
		Error:     errText,
		Diagnosis: diagnosis,
	})
}

// Recent returns up to n of the latest entries recorded strictly before the
// given attempt, oldest first. n <= 0 means no limit.
func (h *History) Recent(n, current int) []domain.HistoryEntry {
	prior := make([]domain.HistoryEntry, 0, len(h.entries))
	for _, e := range h.entries {
		if e.Attempt < current {
			prior = append(prior, e)
		}
	}
	if n > 0 && len(prior) > n {
		prior = prior[len(prior)-n:]
	}
	return prior
}

func (h *History) Len() int { return len(h.entries) }

// Last returns the most recent diagnosis, or "" when nothing failed yet.
func (h *History) Last() string {
	if len(h.entries) == 0 {
		return ""
	}
	return h.entries[len(h.entries)-1].Diagnosis
}
