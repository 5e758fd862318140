// Package guard implements the Execution Guard (spec §4.8): an ordered
// interceptor chain wrapping every cartridge Execute call with idempotency,
// retry, and post-mutation verification. The before/after/onError
// hook shape is grounded on the teacher's IOInterceptor
// (core/pkg/kernel/io_capture.go): capture the call and retry transient
// failures with backoff. The chain applies no redaction: Run never calls
// Config.Redact.
package guard

import (
	"context"
	"time"

	"github.com/switchboard-run/switchboard/pkg/canonical"
	"github.com/switchboard-run/switchboard/pkg/errs"
	"github.com/switchboard-run/switchboard/pkg/ratelimit"
	"github.com/switchboard-run/switchboard/pkg/schemas"
)

// Executor is the narrow slice of cartridge.Cartridge the Guard calls
// through — kept as an interface here so this package doesn't import
// pkg/cartridge just for one method.
type Executor interface {
	Execute(ctx context.Context, proposal schemas.ActionProposal, enrichment map[string]any) (schemas.ExecuteResult, error)
}

// IdempotencyStore caches a successful ExecuteResult by key so a retried or
// replayed call with the same (envelopeId, actionType, parameterHash) short
// circuits without re-invoking the cartridge (spec §4.8 "Idempotency
// interceptor").
type IdempotencyStore interface {
	Get(ctx context.Context, key string) (schemas.ExecuteResult, bool, error)
	Put(ctx context.Context, key string, result schemas.ExecuteResult, ttl time.Duration) error
}

// RetryClassifier decides whether an error from Execute should be retried.
// The default classifier retries errs.Transient and errs.RateLimited only.
type RetryClassifier func(err error) bool

// DefaultRetryClassifier retries transient and rate-limited failures, never
// validation, forbidden, or fatal ones.
func DefaultRetryClassifier(err error) bool {
	k := errs.KindOf(err)
	return k == errs.Transient || k == errs.RateLimited
}

// Verifier polls the target via the cartridge's read path to confirm a
// mutation took effect (spec §4.8 "Post-mutation verification"). Returning
// ok=false does not fail the call; it only changes the summary annotation.
type Verifier func(ctx context.Context, proposal schemas.ActionProposal, result schemas.ExecuteResult) (ok bool, err error)

// Config tunes one Guard instance.
type Config struct {
	IdempotencyTTL time.Duration
	MaxAttempts    int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	Jitter         func() float64
	Classify       RetryClassifier
	Limiter        *ratelimit.Limiter
	Verify         Verifier
	// Redact is not called by Run.
	Redact         func(snapshot map[string]any) map[string]any
}

// DefaultConfig returns sane defaults: 3 attempts, 200ms base / 5s cap
// backoff, no jitter randomization override (callers should supply one
// backed by math/rand in production; the zero value here is a no-jitter
// 1.0 multiplier, safe for deterministic tests).
func DefaultConfig() Config {
	return Config{
		IdempotencyTTL: 24 * time.Hour,
		MaxAttempts:    3,
		BaseDelay:      200 * time.Millisecond,
		MaxDelay:       5 * time.Second,
		Jitter:         func() float64 { return 1 },
		Classify:       DefaultRetryClassifier,
	}
}

// Guard wraps an Executor with the spec §4.8 interceptor chain.
type Guard struct {
	idempotency IdempotencyStore
	cfg         Config
}

// New builds a Guard. idempotency may be nil to disable the idempotency
// interceptor (e.g. for cartridges whose actions are naturally idempotent).
func New(idempotency IdempotencyStore, cfg Config) *Guard {
	return &Guard{idempotency: idempotency, cfg: cfg}
}

// Key builds the idempotency interceptor's cache key (spec §4.8: keyed by
// "(envelopeId, actionType, parameterHash)").
func Key(envelopeID, actionType string, parameters map[string]any) (string, error) {
	paramHash, err := canonical.Hash(parameters)
	if err != nil {
		return "", errs.Wrap(errs.Fatal, err, "hashing parameters for idempotency key")
	}
	return envelopeID + "\x00" + actionType + "\x00" + paramHash, nil
}

// Run executes proposal through the interceptor chain: idempotency lookup,
// rate limiting, retried execution, then post-mutation verification. The
// result is returned without redaction.
func (g *Guard) Run(ctx context.Context, exec Executor, envelopeID string, proposal schemas.ActionProposal, enrichment map[string]any) (schemas.ExecuteResult, error) {
	key, err := Key(envelopeID, proposal.ActionType, proposal.Parameters)
	if err != nil {
		return schemas.ExecuteResult{}, err
	}

	if g.idempotency != nil {
		if cached, ok, err := g.idempotency.Get(ctx, key); err != nil {
			return schemas.ExecuteResult{}, err
		} else if ok {
			return cached, nil
		}
	}

	if g.cfg.Limiter != nil {
		if err := g.cfg.Limiter.Wait(ctx); err != nil {
			return schemas.ExecuteResult{}, errs.Wrap(errs.Transient, err, "rate limiter wait")
		}
	}

	result, err := g.runWithRetry(ctx, exec, proposal, enrichment)
	if err != nil {
		return schemas.ExecuteResult{}, err
	}

	if g.cfg.Verify != nil {
		ok, verr := g.cfg.Verify(ctx, proposal, result)
		switch {
		case verr != nil:
			result.Summary += " [verification pending]"
		case ok:
			result.Summary += " [verified]"
		default:
			result.Summary += " [verification pending]"
		}
	}

	if result.Success && g.idempotency != nil {
		if err := g.idempotency.Put(ctx, key, result, g.cfg.IdempotencyTTL); err != nil {
			return schemas.ExecuteResult{}, err
		}
	}
	return result, nil
}

func (g *Guard) runWithRetry(ctx context.Context, exec Executor, proposal schemas.ActionProposal, enrichment map[string]any) (schemas.ExecuteResult, error) {
	maxAttempts := g.cfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	classify := g.cfg.Classify
	if classify == nil {
		classify = DefaultRetryClassifier
	}
	jitter := g.cfg.Jitter
	if jitter == nil {
		jitter = func() float64 { return 1 }
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result, err := exec.Execute(ctx, proposal, enrichment)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if attempt == maxAttempts || !classify(err) {
			return schemas.ExecuteResult{}, err
		}
		delay := ratelimit.Backoff(attempt, g.cfg.BaseDelay, g.cfg.MaxDelay, jitter)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return schemas.ExecuteResult{}, ctx.Err()
		}
	}
	return schemas.ExecuteResult{}, lastErr
}
