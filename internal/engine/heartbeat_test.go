package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ErlanBelekov/script-runner/internal/engine"
)

func TestWithHeartbeat_FastCallNoBeats(t *testing.T) {
	beats := 0
	v, err := engine.WithHeartbeat(context.Background(), time.Second, func(int) { beats++ },
		func(context.Context) (string, error) { return "ok", nil })
	if err != nil || v != "ok" {
		t.Fatalf("got %q, %v", v, err)
	}
	if beats != 0 {
		t.Errorf("beats = %d, want 0", beats)
	}
}

func TestWithHeartbeat_SlowCallBeatsUntilDone(t *testing.T) {
	const interval = 20 * time.Millisecond
	var seen []int
	v, err := engine.WithHeartbeat(context.Background(), interval, func(n int) { seen = append(seen, n) },
		func(context.Context) (int, error) {
			time.Sleep(6 * interval)
			return 42, nil
		})
	if err != nil || v != 42 {
		t.Fatalf("got %d, %v", v, err)
	}
	if len(seen) < 2 {
		t.Fatalf("beats = %d, want >= 2", len(seen))
	}
	for i, n := range seen {
		if n != i+1 {
			t.Fatalf("beat numbers = %v, want consecutive from 1", seen)
		}
	}
}

func TestWithHeartbeat_PropagatesError(t *testing.T) {
	want := errors.New("llm down")
	_, err := engine.WithHeartbeat(context.Background(), time.Second, func(int) {},
		func(context.Context) (string, error) { return "", want })
	if !errors.Is(err, want) {
		t.Fatalf("err = %v, want %v", err, want)
	}
}

func TestWithHeartbeat_PanicBecomesError(t *testing.T) {
	_, err := engine.WithHeartbeat(context.Background(), time.Second, func(int) {},
		func(context.Context) (string, error) { panic("boom") })
	if err == nil {
		t.Fatal("expected error from panicking call")
	}
}

func TestWithHeartbeat_AwaitsCallAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	v, err := engine.WithHeartbeat(ctx, time.Second, func(int) {},
		func(context.Context) (string, error) {
			time.Sleep(20 * time.Millisecond)
			return "finished", nil
		})
	if err != nil || v != "finished" {
		t.Fatalf("got %q, %v; the call must be awaited", v, err)
	}
}
