package engine

import (
	"fmt"
	"strings"

	"github.com/ErlanBelekov/script-runner/internal/domain"
)

const captureTailBytes = 64 << 10

// capture retains the output of one attempt. Lines go to head while the
// shared budget lasts; after that only a bounded tail of the most recent
// lines per stream is kept, so the last stdout line and the end of stderr
// always survive.
type capture struct {
	budget int
	capped bool
	stdout streamCapture
	stderr streamCapture
}

type streamCapture struct {
	head    []string
	tail    []string
	tailLen int
	dropped int
	// truncated records whether the most recent non-blank line was cut.
	truncated bool
}

func newCapture(budget int) *capture {
	return &capture{budget: budget}
}

// add stores line and reports whether this call exhausted the budget.
func (c *capture) add(line Line) (justCapped bool) {
	s := &c.stderr
	if line.Stream == domain.StreamStdout {
		s = &c.stdout
	}
	if strings.TrimSpace(line.Text) != "" {
		s.truncated = line.Truncated
	}

	if !c.capped && c.budget >= len(line.Text) {
		c.budget -= len(line.Text)
		s.head = append(s.head, line.Text)
		return false
	}
	s.keepTail(line.Text)
	if c.capped {
		return false
	}
	c.capped = true
	return true
}

func (s *streamCapture) keepTail(text string) {
	s.tail = append(s.tail, text)
	s.tailLen += len(text)
	for s.tailLen > captureTailBytes && len(s.tail) > 1 {
		s.tailLen -= len(s.tail[0])
		s.tail = s.tail[1:]
		s.dropped++
	}
}

// lines returns the retained lines in order, with a marker where lines
// were dropped.
func (s *streamCapture) lines() []string {
	out := make([]string, 0, len(s.head)+len(s.tail)+1)
	out = append(out, s.head...)
	if s.dropped > 0 {
		out = append(out, fmt.Sprintf("[output capture limit reached: %d lines not retained]", s.dropped))
	}
	return append(out, s.tail...)
}
