package guardrail_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/switchboard-run/switchboard/pkg/guardrail"
)

func f64(v float64) *float64 { return &v }

func TestCheckRateLimitAllowsUpToMaxThenDenies(t *testing.T) {
	g := guardrail.New(guardrail.NewMemoryCounters())
	ctx := context.Background()
	now := time.Now()
	limits := []guardrail.RateLimit{{Scope: guardrail.ScopeGlobal, Max: 2, Window: time.Minute}}

	r1, err := g.CheckRateLimit(ctx, "p1", "a.b", limits, now)
	require.NoError(t, err)
	assert.True(t, r1.Allowed)

	r2, err := g.CheckRateLimit(ctx, "p1", "a.b", limits, now.Add(time.Second))
	require.NoError(t, err)
	assert.True(t, r2.Allowed)

	r3, err := g.CheckRateLimit(ctx, "p1", "a.b", limits, now.Add(2*time.Second))
	require.NoError(t, err)
	assert.False(t, r3.Allowed, "third call within window with max=2 must deny")
}

func TestCheckRateLimitPerActionTypeScopesIndependently(t *testing.T) {
	g := guardrail.New(guardrail.NewMemoryCounters())
	ctx := context.Background()
	now := time.Now()
	limits := []guardrail.RateLimit{{Scope: guardrail.ScopePerActionType, ActionType: "billing.refund", Max: 1, Window: time.Minute}}

	r1, err := g.CheckRateLimit(ctx, "p1", "billing.refund", limits, now)
	require.NoError(t, err)
	assert.True(t, r1.Allowed)

	r2, err := g.CheckRateLimit(ctx, "p1", "billing.refund", limits, now.Add(time.Second))
	require.NoError(t, err)
	assert.False(t, r2.Allowed)

	// A different action type is untouched by the per-action-type limit.
	r3, err := g.CheckRateLimit(ctx, "p1", "billing.charge", limits, now.Add(time.Second))
	require.NoError(t, err)
	assert.True(t, r3.Allowed)
}

func TestCheckCooldownBoundary(t *testing.T) {
	g := guardrail.New(guardrail.NewMemoryCounters())
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, g.RecordCooldownTouch(ctx, "entity-1", now))

	// Within cooldown: denied.
	r1, err := g.CheckCooldown(ctx, "entity-1", 10*time.Second, now.Add(5*time.Second))
	require.NoError(t, err)
	assert.False(t, r1.Allowed)

	// Exactly at cooldown boundary: allowed (spec: "cooldown at exactly cooldownMs: allowed").
	r2, err := g.CheckCooldown(ctx, "entity-1", 10*time.Second, now.Add(10*time.Second))
	require.NoError(t, err)
	assert.True(t, r2.Allowed)
}

func TestCheckProtectedEntity(t *testing.T) {
	r := guardrail.CheckProtectedEntity("ent_1", []string{"ent_1", "ent_2"})
	assert.False(t, r.Allowed)

	r2 := guardrail.CheckProtectedEntity("ent_3", []string{"ent_1", "ent_2"})
	assert.True(t, r2.Allowed)
}

func TestCheckSpendLimitOrderAndBoundary(t *testing.T) {
	g := guardrail.New(guardrail.NewMemoryCounters())
	ctx := context.Background()
	now := time.Now()

	limits := guardrail.SpendLimits{PerAction: f64(100), Daily: f64(150)}

	// Exactly at perAction limit: allowed.
	r1, err := g.CheckSpendLimit(ctx, "p1:cartridge", 100, limits, now)
	require.NoError(t, err)
	assert.True(t, r1.Allowed)
	require.NoError(t, g.RecordSpend(ctx, "p1:cartridge", 100, now))

	// Spending 0.01 more than remaining daily budget denies on the daily window.
	r2, err := g.CheckSpendLimit(ctx, "p1:cartridge", 50.01, limits, now.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, r2.Allowed)
	assert.Equal(t, guardrail.SpendDaily, r2.ExceededPeriod)

	// perAction check fires before the cumulative window is even consulted.
	r3, err := g.CheckSpendLimit(ctx, "p1:cartridge", 200, limits, now.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, r3.Allowed)
	assert.Equal(t, guardrail.SpendPerAction, r3.ExceededPeriod)
}
