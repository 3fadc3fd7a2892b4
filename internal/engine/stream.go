package engine

import (
	"bufio"
	"io"
	"sync"

	"github.com/ErlanBelekov/script-runner/internal/domain"
)

const defaultMaxLineBytes = 1 << 20

// Line is one line read from a child output stream, without its terminator.
type Line struct {
	Stream    domain.Stream
	Text      string
	Truncated bool // the line exceeded the per-line limit and was cut
}

// Multiplex reads stdout and stderr on separate goroutines and delivers every
// line on the returned channel as soon as it is read, so a quiet stream never
// holds back a noisy one. A trailing line without a newline is delivered when
// its stream ends. The channel is closed once both streams have ended.
//
// The consumer must drain the channel.
func Multiplex(stdout, stderr io.Reader, maxLineBytes int) <-chan Line {
	if maxLineBytes <= 0 {
		maxLineBytes = defaultMaxLineBytes
	}

	out := make(chan Line, 64)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		readLines(stdout, domain.StreamStdout, maxLineBytes, out)
	}()
	go func() {
		defer wg.Done()
		readLines(stderr, domain.StreamStderr, maxLineBytes, out)
	}()
	go func() {
		wg.Wait()
		close(out)
	}()
	return out
}

// readLines forwards lines from r until EOF or a read error. A read error
// after the child is killed is an ordinary end of data.
func readLines(r io.Reader, stream domain.Stream, maxLineBytes int, out chan<- Line) {
	br := bufio.NewReader(r)
	var line []byte
	truncated := false
	pending := false

	for {
		chunk, more, err := br.ReadLine()
		if err != nil {
			if pending {
				out <- Line{Stream: stream, Text: string(line), Truncated: truncated}
			}
			return
		}
		pending = true

		if room := maxLineBytes - len(line); room > 0 {
			if len(chunk) > room {
				chunk = chunk[:room]
				truncated = true
			}
			line = append(line, chunk...)
		} else if len(chunk) > 0 {
			truncated = true
		}
		if more {
			continue
		}

		out <- Line{Stream: stream, Text: string(line), Truncated: truncated}
		line = line[:0]
		truncated = false
		pending = false
	}
}
