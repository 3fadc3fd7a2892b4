package engine

import (
	"context"
	"fmt"
	"time"
)

// WithHeartbeat runs call on its own goroutine and invokes beat once per
// interval until call returns. beat runs on the caller's goroutine, so events
// it emits stay ordered with everything else the caller produces.
//
// call is always awaited; cancelling ctx is left to call itself.
func WithHeartbeat[T any](ctx context.Context, interval time.Duration, beat func(n int), call func(context.Context) (T, error)) (T, error) {
	type result struct {
		val T
		err error
	}

	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		v, err := call(ctx)
		done <- result{val: v, err: err}
	}()

	var tick <-chan time.Time
	if interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	beats := 0
	for {
		select {
		case r := <-done:
			return r.val, r.err
		case <-tick:
			beats++
			beat(beats)
		}
	}
}
