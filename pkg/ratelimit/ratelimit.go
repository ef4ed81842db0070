// Package ratelimit paces outbound requests and the pauses between search
// pages and keywords.
package ratelimit

import (
	"context"
	"math/rand/v2"
	"time"

	"golang.org/x/time/rate"
)

// Limiter spaces requests to at most rps per second, with a burst of one, and
// adds a random delay of up to jitter times the interval after each grant.
// It is shared by every strategy of a process and safe for concurrent use.
// A nil or zero-rate Limiter never blocks.
type Limiter struct {
	lim      *rate.Limiter
	interval time.Duration
	jitter   float64
}

// NewLimiter returns a limiter for rps requests per second. jitter is clamped
// to [0, 1].
func NewLimiter(rps float64, jitter float64) *Limiter {
	jitter = min(max(jitter, 0), 1)
	if rps <= 0 {
		return &Limiter{jitter: jitter}
	}
	return &Limiter{
		lim:      rate.NewLimiter(rate.Limit(rps), 1),
		interval: time.Duration(float64(time.Second) / rps),
		jitter:   jitter,
	}
}

// Wait blocks until the next request may go out or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil || l.lim == nil {
		return nil
	}
	// Reserve rather than rate.Limiter.Wait, which fails at once when the
	// grant lies past ctx's deadline instead of waiting for ctx to end.
	r := l.lim.Reserve()
	if err := Pause(ctx, r.Delay(), 0); err != nil {
		r.Cancel()
		return err
	}
	if l.jitter == 0 {
		return nil
	}
	return Pause(ctx, 0, time.Duration(float64(l.interval)*l.jitter))
}

// Pause sleeps for base plus a uniformly random extra in [0, jitter), or until
// ctx is done. Non-positive totals return immediately.
func Pause(ctx context.Context, base, jitter time.Duration) error {
	d := Jittered(base, jitter)
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Jittered returns base plus a uniformly random extra in [0, jitter).
func Jittered(base, jitter time.Duration) time.Duration {
	if jitter > 0 {
		base += rand.N(jitter)
	}
	return base
}
