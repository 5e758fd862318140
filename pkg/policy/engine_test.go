package policy_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/switchboard-run/switchboard/pkg/govidentity"
	"github.com/switchboard-run/switchboard/pkg/guardrail"
	"github.com/switchboard-run/switchboard/pkg/policy"
	"github.com/switchboard-run/switchboard/pkg/risk"
	"github.com/switchboard-run/switchboard/pkg/rules"
	"github.com/switchboard-run/switchboard/pkg/schemas"
)

func baseIdentity() govidentity.ResolvedIdentity {
	return govidentity.ResolvedIdentity{
		PrincipalID: "principal-1",
		EffectiveRiskTolerance: map[schemas.RiskCategory]schemas.ApprovalRequirement{
			schemas.RiskNone:     schemas.ApprovalNone,
			schemas.RiskLow:      schemas.ApprovalNone,
			schemas.RiskMedium:   schemas.ApprovalStandard,
			schemas.RiskHigh:     schemas.ApprovalElevated,
			schemas.RiskCritical: schemas.ApprovalMandatory,
		},
		EffectiveForbiddenBehaviors: map[string]bool{},
		EffectiveTrustBehaviors:     map[string]bool{},
	}
}

func newEngine(t *testing.T) *policy.Engine {
	t.Helper()
	ev, err := rules.NewEvaluator()
	require.NoError(t, err)
	gr := guardrail.New(guardrail.NewMemoryCounters())
	return policy.NewEngine(ev, gr, risk.DefaultConfig())
}

func lowRiskInput() schemas.RiskInput {
	return schemas.RiskInput{
		BaseRisk:      schemas.RiskLow,
		Exposure:      schemas.Exposure{DollarsAtRisk: 10, BlastRadius: 0.01},
		Reversibility: schemas.ReversibilityFull,
	}
}

func TestEvaluateAutoAllowsLowRiskWithNoPolicies(t *testing.T) {
	e := newEngine(t)
	trace, err := e.Evaluate(policy.EvalInput{
		Proposal:       schemas.ActionProposal{ActionType: "crm.note.add", Parameters: map[string]any{}},
		PrincipalID:    "principal-1",
		OrganizationID: "org-1",
		Identity:       baseIdentity(),
		RiskInput:      lowRiskInput(),
		Now:            time.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, schemas.DecisionAllow, trace.FinalDecision)
	assert.Equal(t, schemas.ApprovalNone, trace.ApprovalRequired)
	assert.Equal(t, -1, trace.TerminalDenyIndex())
}

func TestEvaluateDeniesForbiddenBehavior(t *testing.T) {
	e := newEngine(t)
	identity := baseIdentity()
	identity.EffectiveForbiddenBehaviors["billing.refund"] = true

	trace, err := e.Evaluate(policy.EvalInput{
		Proposal:    schemas.ActionProposal{ActionType: "billing.refund", Parameters: map[string]any{}},
		Identity:    identity,
		PrincipalID: "principal-1",
		RiskInput:   lowRiskInput(),
		Now:         time.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, schemas.DecisionDeny, trace.FinalDecision)
	idx := trace.TerminalDenyIndex()
	require.GreaterOrEqual(t, idx, 0)
	assert.Equal(t, schemas.CheckForbiddenBehavior, trace.Checks[idx].Code)
	assert.Equal(t, idx, len(trace.Checks)-1, "no check may follow the terminal deny")
}

func TestEvaluateDeniesOnRateLimitExceeded(t *testing.T) {
	e := newEngine(t)
	now := time.Now()
	limits := []guardrail.RateLimit{{Scope: guardrail.ScopeGlobal, Max: 1, Window: time.Minute}}
	in := policy.EvalInput{
		Proposal:    schemas.ActionProposal{ActionType: "crm.note.add", Parameters: map[string]any{}},
		PrincipalID: "principal-1",
		Identity:    baseIdentity(),
		RiskInput:   lowRiskInput(),
		RateLimits:  limits,
		Now:         now,
	}

	first, err := e.Evaluate(in)
	require.NoError(t, err)
	assert.Equal(t, schemas.DecisionAllow, first.FinalDecision)

	in.Now = now.Add(time.Second)
	second, err := e.Evaluate(in)
	require.NoError(t, err)
	assert.Equal(t, schemas.DecisionDeny, second.FinalDecision)
	idx := second.TerminalDenyIndex()
	require.GreaterOrEqual(t, idx, 0)
	assert.Equal(t, schemas.CheckRateLimit, second.Checks[idx].Code)
}

func TestEvaluateDeniesOnMatchingPolicy(t *testing.T) {
	e := newEngine(t)
	policies := []schemas.Policy{
		{
			ID:       "pol-deny-refund",
			Priority: 10,
			Active:   true,
			Effect:   schemas.EffectDeny,
			Rule: schemas.Rule{
				Conditions: []schemas.RuleCondition{
					{Field: "action.type", Operator: schemas.OpEq, Value: "billing.refund"},
				},
			},
		},
	}
	require.NoError(t, e.SetPolicyBundleHash(policies))

	trace, err := e.Evaluate(policy.EvalInput{
		Proposal:    schemas.ActionProposal{ActionType: "billing.refund", Parameters: map[string]any{}},
		Identity:    baseIdentity(),
		PrincipalID: "principal-1",
		RiskInput:   lowRiskInput(),
		Context:     rules.Context{"action.type": "billing.refund"},
		Policies:    policies,
		Now:         time.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, schemas.DecisionDeny, trace.FinalDecision)
	assert.NotEmpty(t, trace.PolicyBundleHash)
	idx := trace.TerminalDenyIndex()
	require.GreaterOrEqual(t, idx, 0)
	assert.Equal(t, schemas.CheckPolicyRule, trace.Checks[idx].Code)
}

func TestEvaluateRequiresApprovalForHighRisk(t *testing.T) {
	e := newEngine(t)
	trace, err := e.Evaluate(policy.EvalInput{
		Proposal:    schemas.ActionProposal{ActionType: "billing.refund", Parameters: map[string]any{}},
		Identity:    baseIdentity(),
		PrincipalID: "principal-1",
		RiskInput: schemas.RiskInput{
			BaseRisk:      schemas.RiskHigh,
			Exposure:      schemas.Exposure{DollarsAtRisk: 1, BlastRadius: 0.05},
			Reversibility: schemas.ReversibilityFull,
		},
		Now: time.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, schemas.DecisionAllow, trace.FinalDecision)
	assert.Equal(t, schemas.ApprovalElevated, trace.ApprovalRequired)
	require.NotNil(t, trace.ComputedRiskScore)
	assert.Equal(t, schemas.RiskHigh, trace.ComputedRiskScore.Category)
}

func TestEvaluateTrustedBehaviorFastPathBypassesApproval(t *testing.T) {
	e := newEngine(t)
	identity := baseIdentity()
	identity.EffectiveTrustBehaviors["crm.note.add"] = true

	trace, err := e.Evaluate(policy.EvalInput{
		Proposal:    schemas.ActionProposal{ActionType: "crm.note.add", Parameters: map[string]any{}},
		Identity:    identity,
		PrincipalID: "principal-1",
		RiskInput: schemas.RiskInput{
			BaseRisk:      schemas.RiskCritical,
			Exposure:      schemas.Exposure{DollarsAtRisk: 1000000, BlastRadius: 1},
			Reversibility: schemas.ReversibilityNone,
		},
		Now: time.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, schemas.DecisionAllow, trace.FinalDecision)
	assert.Equal(t, schemas.ApprovalNone, trace.ApprovalRequired)
}

func TestEvaluateSystemPostureCriticalForcesApproval(t *testing.T) {
	e := newEngine(t)
	trace, err := e.Evaluate(policy.EvalInput{
		Proposal:      schemas.ActionProposal{ActionType: "crm.note.add", Parameters: map[string]any{}},
		Identity:      baseIdentity(),
		PrincipalID:   "principal-1",
		RiskInput:     lowRiskInput(),
		SystemPosture: schemas.PostureCritical,
		Now:           time.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, schemas.ApprovalMandatory, trace.ApprovalRequired)
}

func TestEvaluateMalformedPolicyRuleFailsOpenToNonMatching(t *testing.T) {
	e := newEngine(t)
	policies := []schemas.Policy{
		{
			ID:       "pol-bad-cel",
			Priority: 5,
			Active:   true,
			Effect:   schemas.EffectDeny,
			Rule: schemas.Rule{
				Conditions: []schemas.RuleCondition{
					{Field: "action.type", Operator: schemas.OpCEL, Value: "this is not valid cel ((("},
				},
			},
		},
	}
	trace, err := e.Evaluate(policy.EvalInput{
		Proposal:    schemas.ActionProposal{ActionType: "crm.note.add", Parameters: map[string]any{}},
		Identity:    baseIdentity(),
		PrincipalID: "principal-1",
		RiskInput:   lowRiskInput(),
		Policies:    policies,
		Now:         time.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, schemas.DecisionAllow, trace.FinalDecision)
	found := false
	for _, c := range trace.Checks {
		if c.Code == schemas.CheckPolicyRule && !c.Matched {
			found = true
		}
	}
	assert.True(t, found, "malformed rule must be recorded as a non-matching, skipped check")
}

func TestEvaluateProtectedEntityDenies(t *testing.T) {
	e := newEngine(t)
	trace, err := e.Evaluate(policy.EvalInput{
		Proposal: schemas.ActionProposal{
			ActionType: "crm.contact.delete",
			Parameters: map[string]any{"entityId": "ent-protected"},
		},
		Identity:          baseIdentity(),
		PrincipalID:       "principal-1",
		RiskInput:         lowRiskInput(),
		ProtectedEntities: []string{"ent-protected"},
		Now:               time.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, schemas.DecisionDeny, trace.FinalDecision)
	idx := trace.TerminalDenyIndex()
	require.GreaterOrEqual(t, idx, 0)
	assert.Equal(t, schemas.CheckProtectedEntity, trace.Checks[idx].Code)
}

func TestEvaluateSpendLimitDenies(t *testing.T) {
	e := newEngine(t)
	limit := 100.0
	trace, err := e.Evaluate(policy.EvalInput{
		Proposal:    schemas.ActionProposal{ActionType: "billing.charge", Parameters: map[string]any{}},
		Identity:    baseIdentity(),
		PrincipalID: "principal-1",
		RiskInput:   lowRiskInput(),
		SpendAmount: 150,
		SpendKey:    "principal-1:billing",
		SpendLimits: guardrail.SpendLimits{PerAction: &limit},
		Now:         time.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, schemas.DecisionDeny, trace.FinalDecision)
	idx := trace.TerminalDenyIndex()
	require.GreaterOrEqual(t, idx, 0)
	assert.Equal(t, schemas.CheckSpendLimit, trace.Checks[idx].Code)
}
