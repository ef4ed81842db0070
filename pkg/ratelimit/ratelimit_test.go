package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestLimiter_Disabled(t *testing.T) {
	for name, l := range map[string]*Limiter{
		"zero rps": NewLimiter(0, 0.5),
		"nil":      nil,
	} {
		t.Run(name, func(t *testing.T) {
			start := time.Now()
			for range 5 {
				if err := l.Wait(context.Background()); err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
			}
			if d := time.Since(start); d > 20*time.Millisecond {
				t.Errorf("disabled limiter blocked for %v", d)
			}
		})
	}
}

func TestLimiter_Spacing(t *testing.T) {
	l := NewLimiter(20, 0) // one every 50ms
	ctx := context.Background()

	start := time.Now()
	for range 3 {
		if err := l.Wait(ctx); err != nil {
			t.Fatal(err)
		}
	}
	// the first grant is immediate, the next two wait a full interval each
	if d := time.Since(start); d < 90*time.Millisecond || d > 250*time.Millisecond {
		t.Errorf("expected about 100ms for three grants, took %v", d)
	}
}

func TestLimiter_Jitter(t *testing.T) {
	l := NewLimiter(20, 1) // 50ms interval plus up to 50ms
	ctx := context.Background()
	_ = l.Wait(ctx)

	start := time.Now()
	_ = l.Wait(ctx)
	if d := time.Since(start); d < 40*time.Millisecond || d > 300*time.Millisecond {
		t.Errorf("jittered wait out of range: %v", d)
	}
}

func TestLimiter_Cancelled(t *testing.T) {
	l := NewLimiter(0.5, 0)
	_ = l.Wait(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	err := l.Wait(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected a deadline error, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Error("cancelled wait should return before the next grant")
	}
}

func TestNewLimiter_ClampsJitter(t *testing.T) {
	if l := NewLimiter(1, 3); l.jitter != 1 {
		t.Errorf("expected jitter clamped to 1, got %v", l.jitter)
	}
	if l := NewLimiter(1, -1); l.jitter != 0 {
		t.Errorf("expected jitter clamped to 0, got %v", l.jitter)
	}
}

func TestPause(t *testing.T) {
	start := time.Now()
	if err := Pause(context.Background(), 20*time.Millisecond, 20*time.Millisecond); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d := time.Since(start); d < 20*time.Millisecond {
		t.Errorf("expected at least the base delay, took %v", d)
	}
	if err := Pause(context.Background(), 0, 0); err != nil {
		t.Errorf("zero pause should return immediately, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Pause(ctx, time.Hour, 0); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestJittered(t *testing.T) {
	base := 5 * time.Second
	for range 50 {
		if d := Jittered(base, 3*time.Second); d < base || d >= 8*time.Second {
			t.Fatalf("jittered delay %v outside [5s, 8s)", d)
		}
	}
	if d := Jittered(base, 0); d != base {
		t.Errorf("expected no jitter, got %v", d)
	}
}
