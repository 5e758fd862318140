package guard_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/switchboard-run/switchboard/pkg/errs"
	"github.com/switchboard-run/switchboard/pkg/guard"
	"github.com/switchboard-run/switchboard/pkg/ratelimit"
	"github.com/switchboard-run/switchboard/pkg/schemas"
)

type stubExecutor struct {
	calls   int
	errs    []error
	results []schemas.ExecuteResult
}

func (s *stubExecutor) Execute(ctx context.Context, proposal schemas.ActionProposal, enrichment map[string]any) (schemas.ExecuteResult, error) {
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return schemas.ExecuteResult{}, s.errs[i]
	}
	if i < len(s.results) {
		return s.results[i], nil
	}
	return schemas.ExecuteResult{Success: true, Summary: "done"}, nil
}

func noJitter() float64 { return 0 }

func testProposal() schemas.ActionProposal {
	return schemas.ActionProposal{ID: "prop-1", ActionType: "billing.refund", Parameters: map[string]any{"amount": 25}}
}

func TestRunSucceedsOnFirstAttempt(t *testing.T) {
	exec := &stubExecutor{}
	g := guard.New(nil, guard.DefaultConfig())

	result, err := g.Run(context.Background(), exec, "env-1", testProposal(), nil)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 1, exec.calls)
}

func TestRunRetriesTransientFailureThenSucceeds(t *testing.T) {
	exec := &stubExecutor{errs: []error{errs.New(errs.Transient, "upstream timeout")}}
	cfg := guard.DefaultConfig()
	cfg.BaseDelay = time.Millisecond
	cfg.MaxDelay = time.Millisecond
	cfg.Jitter = noJitter
	g := guard.New(nil, cfg)

	result, err := g.Run(context.Background(), exec, "env-1", testProposal(), nil)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 2, exec.calls)
}

func TestRunDoesNotRetryValidationFailure(t *testing.T) {
	exec := &stubExecutor{errs: []error{errs.New(errs.Validation, "bad amount")}}
	g := guard.New(nil, guard.DefaultConfig())

	_, err := g.Run(context.Background(), exec, "env-1", testProposal(), nil)
	assert.Equal(t, errs.Validation, errs.KindOf(err))
	assert.Equal(t, 1, exec.calls)
}

func TestRunExhaustsRetriesAndReturnsLastError(t *testing.T) {
	exec := &stubExecutor{errs: []error{
		errs.New(errs.Transient, "timeout 1"),
		errs.New(errs.Transient, "timeout 2"),
		errs.New(errs.Transient, "timeout 3"),
	}}
	cfg := guard.DefaultConfig()
	cfg.MaxAttempts = 3
	cfg.BaseDelay = time.Millisecond
	cfg.MaxDelay = time.Millisecond
	cfg.Jitter = noJitter
	g := guard.New(nil, cfg)

	_, err := g.Run(context.Background(), exec, "env-1", testProposal(), nil)
	assert.Equal(t, errs.Transient, errs.KindOf(err))
	assert.Equal(t, 3, exec.calls)
}

func TestRunShortCircuitsOnCachedIdempotentResult(t *testing.T) {
	exec := &stubExecutor{}
	cache := guard.NewMemoryIdempotencyCache(nil)
	g := guard.New(cache, guard.DefaultConfig())

	first, err := g.Run(context.Background(), exec, "env-1", testProposal(), nil)
	require.NoError(t, err)
	second, err := g.Run(context.Background(), exec, "env-1", testProposal(), nil)
	require.NoError(t, err)

	assert.Equal(t, 1, exec.calls, "second call must not re-invoke the cartridge")
	assert.Equal(t, first, second)
}

func TestRunDoesNotCacheAcrossDifferentParameters(t *testing.T) {
	exec := &stubExecutor{}
	cache := guard.NewMemoryIdempotencyCache(nil)
	g := guard.New(cache, guard.DefaultConfig())

	_, err := g.Run(context.Background(), exec, "env-1", testProposal(), nil)
	require.NoError(t, err)

	other := testProposal()
	other.Parameters = map[string]any{"amount": 99}
	_, err = g.Run(context.Background(), exec, "env-1", other, nil)
	require.NoError(t, err)

	assert.Equal(t, 2, exec.calls)
}

func TestRunAnnotatesVerifiedSummary(t *testing.T) {
	exec := &stubExecutor{}
	cfg := guard.DefaultConfig()
	cfg.Verify = func(ctx context.Context, proposal schemas.ActionProposal, result schemas.ExecuteResult) (bool, error) {
		return true, nil
	}
	g := guard.New(nil, cfg)

	result, err := g.Run(context.Background(), exec, "env-1", testProposal(), nil)
	require.NoError(t, err)
	assert.Contains(t, result.Summary, "[verified]")
}

func TestRunAnnotatesVerificationPendingOnVerifierError(t *testing.T) {
	exec := &stubExecutor{}
	cfg := guard.DefaultConfig()
	cfg.Verify = func(ctx context.Context, proposal schemas.ActionProposal, result schemas.ExecuteResult) (bool, error) {
		return false, errs.New(errs.Transient, "read path unavailable")
	}
	g := guard.New(nil, cfg)

	result, err := g.Run(context.Background(), exec, "env-1", testProposal(), nil)
	require.NoError(t, err)
	assert.Contains(t, result.Summary, "[verification pending]")
}

func TestRunRespectsRateLimiterDenial(t *testing.T) {
	exec := &stubExecutor{}
	cfg := guard.DefaultConfig()
	cfg.Limiter = ratelimit.New(1, 1)
	g := guard.New(nil, cfg)

	limiterCtx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := g.Run(limiterCtx, exec, "env-1", testProposal(), nil)
	assert.Error(t, err)
	assert.Equal(t, 0, exec.calls, "a cancelled wait must not reach the cartridge")
}

func TestIdempotencyCacheExpiresEntries(t *testing.T) {
	now := time.Now()
	clock := now
	cache := guard.NewMemoryIdempotencyCache(func() time.Time { return clock })

	require.NoError(t, cache.Put(context.Background(), "k", schemas.ExecuteResult{Success: true}, time.Minute))
	_, ok, err := cache.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.True(t, ok)

	clock = now.Add(2 * time.Minute)
	_, ok, err = cache.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.False(t, ok)
}
