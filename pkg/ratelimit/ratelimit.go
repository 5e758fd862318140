// Package ratelimit provides the token-bucket primitive used to throttle
// outbound cartridge calls (pkg/guard's retry interceptor) and fan-out
// notification delivery (pkg/notify), per spec §5's backpressure guidance.
// Built directly on golang.org/x/time/rate rather than a hand-rolled bucket.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter wraps rate.Limiter with the construction shape Switchboard's
// callers want: a steady rate plus a burst allowance.
type Limiter struct {
	l *rate.Limiter
}

// New builds a Limiter permitting ratePerSecond sustained events with up to
// burst events admitted instantaneously.
func New(ratePerSecond float64, burst int) *Limiter {
	return &Limiter{l: rate.NewLimiter(rate.Limit(ratePerSecond), burst)}
}

// Wait blocks until a token is available or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	return l.l.Wait(ctx)
}

// Allow reports whether a token is available right now, consuming it if so.
func (l *Limiter) Allow() bool {
	return l.l.Allow()
}

// Registry hands out one Limiter per key (e.g. per cartridge id), building
// it lazily on first use and reusing it afterward — mirroring the teacher's
// per-scope limiter registries in core/pkg/kernel/limiter.go.
type Registry struct {
	mu           sync.Mutex
	limiters     map[string]*Limiter
	ratePerSec   float64
	burst        int
}

// NewRegistry builds a Registry whose limiters all share the given rate and
// burst.
func NewRegistry(ratePerSecond float64, burst int) *Registry {
	return &Registry{limiters: map[string]*Limiter{}, ratePerSec: ratePerSecond, burst: burst}
}

// For returns the Limiter for key, creating it on first access.
func (r *Registry) For(key string) *Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.limiters[key]
	if !ok {
		l = New(r.ratePerSec, r.burst)
		r.limiters[key] = l
	}
	return l
}

// Backoff computes an exponential backoff delay with full jitter for retry
// attempt n (1-indexed), capped at max (spec §4.8 "exponential backoff and
// jitter"). jitter returns the multiplier applied to the capped delay: values
// in [0,1) give full jitter, while a constant 1 (guard.DefaultConfig's choice)
// leaves the delay unjittered; tests pass a deterministic stub.
func Backoff(attempt int, base, max time.Duration, jitter func() float64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d > max {
			d = max
			break
		}
	}
	if d > max {
		d = max
	}
	return time.Duration(float64(d) * jitter())
}
