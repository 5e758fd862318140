// Package notify implements the ApprovalNotifier fan-out (spec §5
// "Backpressure": "Approval notifications fan out via a composite notifier
// that aggregates per-notifier failures (best-effort notify; failures are
// logged, not propagated)"). Retry uses the pkg/ratelimit backoff helper so
// the same jittered-exponential math governs both outbound cartridge calls
// and notification delivery.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/switchboard-run/switchboard/pkg/errs"
	"github.com/switchboard-run/switchboard/pkg/ratelimit"
	"github.com/switchboard-run/switchboard/pkg/schemas"
)

// Notifier delivers an approval notification through one channel (Slack,
// email, webhook, …). Name is used for logging and per-failure reporting.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, req *schemas.ApprovalRequest) error
}

// Failure records one notifier's delivery failure for a Composite.Notify
// call; the caller may inspect these for observability but the overall call
// never fails because of them.
type Failure struct {
	Notifier string
	Err      error
}

// Composite fans a notification out to every registered Notifier
// concurrently and in best-effort fashion: one channel's failure never blocks
// or fails delivery through the others (spec §5).
type Composite struct {
	notifiers []Notifier
	logger    *slog.Logger
}

// NewComposite builds a Composite over the given notifiers.
func NewComposite(notifiers ...Notifier) *Composite {
	return &Composite{notifiers: notifiers, logger: slog.Default().With("component", "notify")}
}

// Notify delivers req through every registered notifier concurrently.
// Failures are logged and returned for inspection; Notify itself never
// returns an error, matching the spec's "failures are logged, not
// propagated."
func (c *Composite) Notify(ctx context.Context, req *schemas.ApprovalRequest) []Failure {
	var (
		mu       sync.Mutex
		failures []Failure
		wg       sync.WaitGroup
	)
	for _, n := range c.notifiers {
		wg.Add(1)
		go func(n Notifier) {
			defer wg.Done()
			if err := n.Notify(ctx, req); err != nil {
				c.logger.WarnContext(ctx, "notifier delivery failed",
					"notifier", n.Name(), "approvalId", req.ID, "error", err)
				mu.Lock()
				failures = append(failures, Failure{Notifier: n.Name(), Err: err})
				mu.Unlock()
			}
		}(n)
	}
	wg.Wait()
	return failures
}

// Retrying wraps a Notifier with the shared jittered-exponential backoff,
// retrying transient and rate-limited delivery failures up to maxAttempts.
type Retrying struct {
	inner       Notifier
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	jitter      func() float64
	limiter     *ratelimit.Limiter
}

// RetryingConfig tunes a Retrying notifier.
type RetryingConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      func() float64
	Limiter     *ratelimit.Limiter
}

// DefaultRetryingConfig mirrors the Guard's default retry posture: 3
// attempts, 200ms base / 5s cap.
func DefaultRetryingConfig() RetryingConfig {
	return RetryingConfig{
		MaxAttempts: 3,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    5 * time.Second,
		Jitter:      func() float64 { return 1 },
	}
}

// NewRetrying wraps inner with retry behavior per cfg.
func NewRetrying(inner Notifier, cfg RetryingConfig) *Retrying {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.Jitter == nil {
		cfg.Jitter = func() float64 { return 1 }
	}
	return &Retrying{
		inner: inner, maxAttempts: cfg.MaxAttempts,
		baseDelay: cfg.BaseDelay, maxDelay: cfg.MaxDelay,
		jitter: cfg.Jitter, limiter: cfg.Limiter,
	}
}

// Name delegates to the wrapped notifier.
func (r *Retrying) Name() string { return r.inner.Name() }

// Notify retries transient/rate-limited failures from the wrapped notifier
// with exponential backoff and jitter, honoring ctx cancellation between
// attempts.
func (r *Retrying) Notify(ctx context.Context, req *schemas.ApprovalRequest) error {
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return errs.Wrap(errs.Transient, err, "notify rate limiter wait")
		}
	}

	var lastErr error
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		err := r.inner.Notify(ctx, req)
		if err == nil {
			return nil
		}
		lastErr = err
		kind := errs.KindOf(err)
		if attempt == r.maxAttempts || (kind != errs.Transient && kind != errs.RateLimited) {
			return err
		}
		delay := ratelimit.Backoff(attempt, r.baseDelay, r.maxDelay, r.jitter)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}

var _ Notifier = (*Retrying)(nil)
