// Package guardrail implements the in-process guardrail counters and spend
// lookup the Policy Engine's rate-limit, cooldown, protected-entity, and
// spend-limit checks read from (spec §4.4 steps 4-7, §5 "guardrail counters
// ... must be made safe for concurrent access"). The sliding-window counting
// and token-bucket shapes are grounded on the teacher's kernel.LimiterStore
// (core/pkg/kernel/limiter.go, limiter_redis.go).
package guardrail

import (
	"context"
	"strconv"
	"time"
)

// RateLimit is one configured limit the Policy Engine checks an action
// against (spec §4.4 step 4: scope ∈ {global, per-action-type}).
type RateLimit struct {
	Scope      Scope
	ActionType string // only meaningful when Scope == ScopePerActionType
	Max        int
	Window     time.Duration
}

// Scope is the rate limit's counting domain.
type Scope string

const (
	ScopeGlobal        Scope = "global"
	ScopePerActionType Scope = "per_action_type"
)

// SpendPeriod names one of the rollup windows spend limits are checked
// against, in the order spec §4.4 step 7 mandates: perAction first, then
// the cumulative windows smallest to largest.
type SpendPeriod string

const (
	SpendPerAction SpendPeriod = "per_action"
	SpendDaily     SpendPeriod = "daily"
	SpendWeekly    SpendPeriod = "weekly"
	SpendMonthly   SpendPeriod = "monthly"
)

// spendPeriodWindows gives each cumulative SpendPeriod (everything but
// per-action, which has no window) its rollup duration.
var spendPeriodWindows = map[SpendPeriod]time.Duration{
	SpendDaily:   24 * time.Hour,
	SpendWeekly:  7 * 24 * time.Hour,
	SpendMonthly: 30 * 24 * time.Hour,
}

// Counters is the storage-agnostic primitive the Guardrail service builds
// its checks on: sliding-window action counts, per-entity last-touch times,
// and cumulative spend sums. Implementations must be safe for concurrent
// access (spec §5).
type Counters interface {
	// CountSince returns how many actions were recorded under key with a
	// timestamp >= since, then records one more action at now.
	CountSince(ctx context.Context, key string, since, now time.Time) (int, error)
	// LastTouch returns the most recent recorded time for key, if any.
	LastTouch(ctx context.Context, key string) (t time.Time, ok bool, err error)
	// Touch records key as having been acted on at now.
	Touch(ctx context.Context, key string, now time.Time) error
	// SpendSince sums amounts recorded under key with a timestamp >= since.
	SpendSince(ctx context.Context, key string, since time.Time) (float64, error)
	// RecordSpend adds amount to key's spend ledger at now.
	RecordSpend(ctx context.Context, key string, amount float64, now time.Time) error
}

// Guardrail wraps Counters with the domain-level checks the Policy Engine
// evaluates (spec §4.4 steps 4-7).
type Guardrail struct {
	counters Counters
}

// New builds a Guardrail over the given Counters backend.
func New(counters Counters) *Guardrail {
	return &Guardrail{counters: counters}
}

// RateLimitKey builds the counter key for a rate limit scope.
func RateLimitKey(principalID string, limit RateLimit) string {
	switch limit.Scope {
	case ScopePerActionType:
		return "ratelimit:" + principalID + ":action:" + limit.ActionType
	default:
		return "ratelimit:" + principalID + ":global"
	}
}

// CheckResult is the outcome of one guardrail check: whether it passed, and
// a human-readable detail for the DecisionCheck it feeds.
type CheckResult struct {
	Allowed bool
	Detail  string
}

// CheckRateLimit reports whether actionType is within every configured
// limit for principalID, recording this action's occurrence as a side
// effect of the check (spec §4.4 step 4: "deny if in-window count >= max").
func (g *Guardrail) CheckRateLimit(ctx context.Context, principalID, actionType string, limits []RateLimit, now time.Time) (CheckResult, error) {
	for _, limit := range limits {
		if limit.Scope == ScopePerActionType && limit.ActionType != actionType {
			continue
		}
		key := RateLimitKey(principalID, limit)
		count, err := g.counters.CountSince(ctx, key, now.Add(-limit.Window), now)
		if err != nil {
			return CheckResult{}, err
		}
		if count >= limit.Max {
			return CheckResult{Allowed: false, Detail: rateLimitDetail(limit, count)}, nil
		}
	}
	return CheckResult{Allowed: true, Detail: "within configured rate limits"}, nil
}

func rateLimitDetail(limit RateLimit, count int) string {
	scope := string(limit.Scope)
	if limit.Scope == ScopePerActionType {
		scope = "action type " + limit.ActionType
	}
	return "rate limit exceeded for " + scope + ": " + strconv.Itoa(count) + " actions in window, max " + strconv.Itoa(limit.Max)
}

// CheckCooldown reports whether entityKey was last touched more than
// cooldown ago; it records nothing, RecordCooldownTouch does (spec §4.4 step 5: "deny if the
// target entity was touched within cooldownMs"; boundary: exactly
// cooldownMs elapsed is allowed).
func (g *Guardrail) CheckCooldown(ctx context.Context, entityKey string, cooldown time.Duration, now time.Time) (CheckResult, error) {
	if cooldown <= 0 {
		return CheckResult{Allowed: true, Detail: "no cooldown configured"}, nil
	}
	last, ok, err := g.counters.LastTouch(ctx, "cooldown:"+entityKey)
	if err != nil {
		return CheckResult{}, err
	}
	if ok && now.Sub(last) < cooldown {
		return CheckResult{Allowed: false, Detail: "entity " + entityKey + " touched within cooldown window"}, nil
	}
	return CheckResult{Allowed: true, Detail: "cooldown window elapsed"}, nil
}

// RecordCooldownTouch marks entityKey as acted on at now. Call after a
// cooldown check passes and the action is actually admitted, not on every check.
func (g *Guardrail) RecordCooldownTouch(ctx context.Context, entityKey string, now time.Time) error {
	return g.counters.Touch(ctx, "cooldown:"+entityKey, now)
}

// CheckProtectedEntity reports whether entityID matches one of the
// configured protected ids (spec §4.4 step 6). Pure — no counter I/O.
func CheckProtectedEntity(entityID string, protected []string) CheckResult {
	for _, p := range protected {
		if p == entityID {
			return CheckResult{Allowed: false, Detail: "entity " + entityID + " is protected"}
		}
	}
	return CheckResult{Allowed: true, Detail: "entity not in protected set"}
}

// SpendCheck is the outcome of a spend-limit evaluation: which period (if
// any) was exceeded, in the order spec §4.4 step 7 mandates.
type SpendCheck struct {
	Allowed        bool
	ExceededPeriod SpendPeriod
	Detail         string
}

// CheckSpendLimit evaluates amount against limits in spec order: perAction,
// then daily, weekly, monthly cumulative windows. The first exceeded window
// denies (spec §4.4 step 7; boundary: spend at exactly the limit is allowed).
func (g *Guardrail) CheckSpendLimit(ctx context.Context, spendKey string, amount float64, limits SpendLimits, now time.Time) (SpendCheck, error) {
	if limits.PerAction != nil && amount > *limits.PerAction {
		return SpendCheck{Allowed: false, ExceededPeriod: SpendPerAction, Detail: "exceeds per-action limit"}, nil
	}

	ordered := []struct {
		period SpendPeriod
		limit  *float64
	}{
		{SpendDaily, limits.Daily},
		{SpendWeekly, limits.Weekly},
		{SpendMonthly, limits.Monthly},
	}
	for _, o := range ordered {
		if o.limit == nil {
			continue
		}
		since := now.Add(-spendPeriodWindows[o.period])
		cumulative, err := g.counters.SpendSince(ctx, spendKey, since)
		if err != nil {
			return SpendCheck{}, err
		}
		if cumulative+amount > *o.limit {
			return SpendCheck{Allowed: false, ExceededPeriod: o.period, Detail: "exceeds " + string(o.period) + " cumulative limit"}, nil
		}
	}
	return SpendCheck{Allowed: true}, nil
}

// RecordSpend appends amount to spendKey's ledger at now. Call only once
// the action is actually admitted.
func (g *Guardrail) RecordSpend(ctx context.Context, spendKey string, amount float64, now time.Time) error {
	return g.counters.RecordSpend(ctx, spendKey, amount, now)
}

// SpendLimits mirrors schemas.SpendWindow's shape for guardrail math; kept
// distinct so this package doesn't need to import schemas just for four
// float pointers.
type SpendLimits struct {
	Daily     *float64
	Weekly    *float64
	Monthly   *float64
	PerAction *float64
}
