// Package policy implements the Policy Engine (spec §3, §4.4): the ordered,
// deny-terminal pipeline that turns a proposal, a resolved identity, and a
// cartridge's risk input into a DecisionTrace. Its bundle-hash/version
// concept and fail-closed-on-malformed-rule posture are grounded on the
// teacher's CELPolicyDecisionPoint (core/pkg/governance/pdp.go).
package policy

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/switchboard-run/switchboard/pkg/canonical"
	"github.com/switchboard-run/switchboard/pkg/errs"
	"github.com/switchboard-run/switchboard/pkg/govidentity"
	"github.com/switchboard-run/switchboard/pkg/guardrail"
	"github.com/switchboard-run/switchboard/pkg/risk"
	"github.com/switchboard-run/switchboard/pkg/rules"
	"github.com/switchboard-run/switchboard/pkg/schemas"
)

// Engine evaluates one proposal through the spec §4.4 ordered pipeline.
type Engine struct {
	evaluator *rules.Evaluator
	guardrail *guardrail.Guardrail
	riskCfg   risk.Config

	mu               sync.RWMutex
	policyBundleHash string
}

// NewEngine builds an Engine. evaluator and gr may be shared across Engines
// (both are safe for concurrent use).
func NewEngine(evaluator *rules.Evaluator, gr *guardrail.Guardrail, riskCfg risk.Config) *Engine {
	return &Engine{evaluator: evaluator, guardrail: gr, riskCfg: riskCfg}
}

// SetPolicyBundleHash records the content-addressed hash of the active
// policy set (SPEC_FULL.md §C.4), stamped onto every DecisionTrace this
// Engine produces until the next call.
func (e *Engine) SetPolicyBundleHash(policies []schemas.Policy) error {
	h, err := canonical.Hash(policies)
	if err != nil {
		return errs.Wrap(errs.Fatal, err, "hashing policy bundle")
	}
	e.mu.Lock()
	e.policyBundleHash = h
	e.mu.Unlock()
	return nil
}

func (e *Engine) bundleHash() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.policyBundleHash
}

// EvalInput bundles everything one pipeline evaluation needs, grounded on
// the teacher's PDPRequest descriptor bundling (core/pkg/governance/pdp.go).
type EvalInput struct {
	Ctx            context.Context
	Proposal       schemas.ActionProposal
	PrincipalID    string
	OrganizationID string
	CartridgeID    string
	Identity       govidentity.ResolvedIdentity
	Competence     *schemas.CompetenceRecord
	RiskInput      schemas.RiskInput
	CompositeRisk  schemas.CompositeRiskContext
	Context        rules.Context
	Policies       []schemas.Policy

	RateLimits        []guardrail.RateLimit
	Cooldown          time.Duration
	CooldownEntityKey string
	ProtectedEntities []string

	SpendAmount float64
	SpendKey    string
	SpendLimits guardrail.SpendLimits

	SystemPosture schemas.SystemRiskPosture
	Now           time.Time
}

func (in EvalInput) ctx() context.Context {
	if in.Ctx != nil {
		return in.Ctx
	}
	return context.Background()
}

// Evaluate runs the ordered pipeline (spec §4.4 steps 1-11). Any step that
// denies is terminal: no later step runs. Malformed rule content does not
// panic or abort the pipeline — it is recorded as a non-matching, skipped
// check (spec §4.4 "Failure semantics": "the engine itself does not throw
// on policy content; malformed rules are treated as non-matching").
func (e *Engine) Evaluate(in EvalInput) (*schemas.DecisionTrace, error) {
	trace := &schemas.DecisionTrace{}
	actionType := in.Proposal.ActionType

	// Step 1: forbidden behaviors.
	if in.Identity.EffectiveForbiddenBehaviors[actionType] {
		trace.Append(schemas.DecisionCheck{
			Code: schemas.CheckForbiddenBehavior, Matched: true, Effect: schemas.CheckDeny,
			HumanDetail: "action type " + actionType + " is forbidden for this principal",
		})
		return e.finalize(trace, schemas.DecisionDeny, schemas.ApprovalNone,
			"denied: forbidden behavior "+actionType)
	}
	trace.Append(schemas.DecisionCheck{
		Code: schemas.CheckForbiddenBehavior, Matched: false, Effect: schemas.CheckAllow,
		HumanDetail: "action type not in forbidden set",
	})

	// Step 2: trust behaviors — recorded now, decided at step 11.
	trusted := in.Identity.EffectiveTrustBehaviors[actionType]
	trace.Append(schemas.DecisionCheck{
		Code: schemas.CheckTrustBehavior, Matched: trusted, Effect: effectFor(trusted, schemas.CheckSkip),
		HumanDetail: "trust-behavior fast path deferred to final decision", Data: trusted,
	})

	// Step 3: competence trust — informational only.
	trace.Append(schemas.DecisionCheck{
		Code: schemas.CheckCompetenceTrust, Matched: in.Competence != nil, Effect: schemas.CheckSkip,
		HumanDetail: "competence record attached for informational context", Data: in.Competence,
	})

	// Step 4: rate limits.
	if len(in.RateLimits) > 0 {
		result, err := e.guardrail.CheckRateLimit(in.ctx(), in.PrincipalID, actionType, in.RateLimits, in.Now)
		if err != nil {
			return nil, err
		}
		trace.Append(schemas.DecisionCheck{
			Code: schemas.CheckRateLimit, Matched: !result.Allowed, Effect: effectFor(!result.Allowed, schemas.CheckAllow),
			HumanDetail: result.Detail,
		})
		if !result.Allowed {
			return e.finalize(trace, schemas.DecisionDeny, schemas.ApprovalNone, "denied: "+result.Detail)
		}
	}

	// Step 5: cooldowns.
	if in.CooldownEntityKey != "" {
		result, err := e.guardrail.CheckCooldown(in.ctx(), in.CooldownEntityKey, in.Cooldown, in.Now)
		if err != nil {
			return nil, err
		}
		trace.Append(schemas.DecisionCheck{
			Code: schemas.CheckCooldown, Matched: !result.Allowed, Effect: effectFor(!result.Allowed, schemas.CheckAllow),
			HumanDetail: result.Detail,
		})
		if !result.Allowed {
			return e.finalize(trace, schemas.DecisionDeny, schemas.ApprovalNone, "denied: "+result.Detail)
		}
	}

	// Step 6: protected entities.
	if entityID, ok := in.Proposal.Parameters["entityId"].(string); ok && len(in.ProtectedEntities) > 0 {
		result := guardrail.CheckProtectedEntity(entityID, in.ProtectedEntities)
		trace.Append(schemas.DecisionCheck{
			Code: schemas.CheckProtectedEntity, Matched: !result.Allowed, Effect: effectFor(!result.Allowed, schemas.CheckAllow),
			HumanDetail: result.Detail,
		})
		if !result.Allowed {
			return e.finalize(trace, schemas.DecisionDeny, schemas.ApprovalNone, "denied: "+result.Detail)
		}
	}

	// Step 7: spend limits — only when the parameter set carries a spend amount.
	if in.SpendAmount > 0 {
		spendCheck, err := e.guardrail.CheckSpendLimit(in.ctx(), in.SpendKey, in.SpendAmount, in.SpendLimits, in.Now)
		if err != nil {
			return nil, err
		}
		trace.Append(schemas.DecisionCheck{
			Code: schemas.CheckSpendLimit, Matched: !spendCheck.Allowed, Effect: effectFor(!spendCheck.Allowed, schemas.CheckAllow),
			HumanDetail: spendCheck.Detail, Data: spendCheck.ExceededPeriod,
		})
		if !spendCheck.Allowed {
			return e.finalize(trace, schemas.DecisionDeny, schemas.ApprovalNone, "denied: "+spendCheck.Detail)
		}
	}

	// Step 8: policies, filtered and priority-sorted.
	policyDecision, approvalOverride, riskOverride, denied, denyDetail := e.evaluatePolicies(in, trace)
	if denied {
		return e.finalize(trace, schemas.DecisionDeny, schemas.ApprovalNone, "denied: "+denyDetail)
	}

	// Step 9: risk scoring + composite adjustment.
	score := risk.Score(in.RiskInput, e.riskCfg)
	trace.Append(schemas.DecisionCheck{
		Code: schemas.CheckRiskScoring, Matched: true, Effect: schemas.CheckSkip,
		HumanDetail: "computed base risk score", Data: score,
	})
	adjusted := risk.ApplyComposite(score, in.CompositeRisk, e.riskCfg)
	if adjusted.RawScore != score.RawScore {
		trace.Append(schemas.DecisionCheck{
			Code: schemas.CheckCompositeRisk, Matched: true, Effect: schemas.CheckSkip,
			HumanDetail: "composite risk adjustment raised the score", Data: adjusted,
		})
	}
	if riskOverride != nil {
		adjusted.Category = adjusted.Category.Max(*riskOverride)
	}
	trace.ComputedRiskScore = &adjusted

	// Step 10: approval requirement resolution.
	approvalRequirement := in.Identity.EffectiveRiskTolerance[adjusted.Category]
	if approvalOverride != nil {
		approvalRequirement = *approvalOverride
	}
	switch in.SystemPosture {
	case schemas.PostureCritical:
		approvalRequirement = schemas.ApprovalMandatory
	case schemas.PostureElevated:
		if approvalRequirement == schemas.ApprovalNone || approvalRequirement == schemas.ApprovalStandard {
			approvalRequirement = approvalRequirement.Max(schemas.ApprovalElevated)
		}
	}
	trace.Append(schemas.DecisionCheck{
		Code: schemas.CheckSystemPosture, Matched: in.SystemPosture != schemas.PostureNormal, Effect: schemas.CheckSkip,
		HumanDetail: "system risk posture applied to approval requirement", Data: in.SystemPosture,
	})

	// Step 11: final decision.
	if trusted && policyDecision != schemas.EffectDeny {
		return e.finalize(trace, schemas.DecisionAllow, schemas.ApprovalNone,
			"allowed: trusted behavior "+actionType)
	}

	finalDecision := schemas.DecisionAllow
	switch policyDecision {
	case schemas.EffectModify:
		finalDecision = schemas.DecisionModify
	}

	explanation := "allowed with no approval required"
	if approvalRequirement != schemas.ApprovalNone {
		explanation = "requires " + string(approvalRequirement) + " approval: risk category " + string(adjusted.Category)
	}
	return e.finalize(trace, finalDecision, approvalRequirement, explanation)
}

func (e *Engine) finalize(trace *schemas.DecisionTrace, decision schemas.FinalDecision, approval schemas.ApprovalRequirement, explanation string) (*schemas.DecisionTrace, error) {
	trace.FinalDecision = decision
	trace.ApprovalRequired = approval
	trace.Explanation = explanation
	trace.PolicyBundleHash = e.bundleHash()
	return trace, nil
}

// evaluatePolicies runs step 8: filter by scope, sort by priority ascending,
// evaluate each rule in order. deny is terminal; allow/modify record the
// latest matching decision; require_approval may raise the approval
// requirement; riskCategoryOverride may raise the risk category.
func (e *Engine) evaluatePolicies(in EvalInput, trace *schemas.DecisionTrace) (decision schemas.PolicyEffect, approvalOverride *schemas.ApprovalRequirement, riskOverride *schemas.RiskCategory, denied bool, denyDetail string) {
	applicable := make([]schemas.Policy, 0, len(in.Policies))
	for _, p := range in.Policies {
		if !p.Active {
			continue
		}
		if !p.AppliesTo(in.CartridgeID, in.OrganizationID) {
			continue
		}
		applicable = append(applicable, p)
	}
	sort.SliceStable(applicable, func(i, j int) bool { return applicable[i].Priority < applicable[j].Priority })

	decision = schemas.EffectAllow
	for _, p := range applicable {
		result, err := e.evaluator.Evaluate(p.Rule, in.Context)
		if err != nil {
			// Malformed rule content fails open to non-matching, logged via the
			// trace rather than aborting the pipeline (spec §4.4 "Failure semantics").
			trace.Append(schemas.DecisionCheck{
				Code: schemas.CheckPolicyRule, Matched: false, Effect: schemas.CheckSkip,
				HumanDetail: "policy " + p.ID + " rule failed to evaluate, treated as non-matching: " + err.Error(),
				Data: p.ID,
			})
			continue
		}
		if !result.Matched {
			trace.Append(schemas.DecisionCheck{
				Code: schemas.CheckPolicyRule, Matched: false, Effect: schemas.CheckSkip,
				HumanDetail: "policy " + p.ID + " did not match", Data: p.ID,
			})
			continue
		}

		switch p.Effect {
		case schemas.EffectDeny:
			trace.Append(schemas.DecisionCheck{
				Code: schemas.CheckPolicyRule, Matched: true, Effect: schemas.CheckDeny,
				HumanDetail: "policy " + p.ID + " denied the action", Data: p.ID,
			})
			return schemas.EffectDeny, approvalOverride, riskOverride, true, "policy " + p.ID
		case schemas.EffectAllow, schemas.EffectModify:
			decision = p.Effect
			checkEffect := schemas.CheckAllow
			if p.Effect == schemas.EffectModify {
				checkEffect = schemas.CheckModify
			}
			trace.Append(schemas.DecisionCheck{
				Code: schemas.CheckPolicyRule, Matched: true, Effect: checkEffect,
				HumanDetail: "policy " + p.ID + " matched with effect " + string(p.Effect), Data: p.ID,
			})
		case schemas.EffectRequireApproval:
			trace.Append(schemas.DecisionCheck{
				Code: schemas.CheckPolicyRule, Matched: true, Effect: schemas.CheckSkip,
				HumanDetail: "policy " + p.ID + " requires approval", Data: p.ID,
			})
		}

		if p.ApprovalRequirement != nil {
			raised := *p.ApprovalRequirement
			if approvalOverride != nil {
				raised = approvalOverride.Max(raised)
			}
			approvalOverride = &raised
		}
		if p.RiskCategoryOverride != nil {
			raised := *p.RiskCategoryOverride
			if riskOverride != nil {
				raised = riskOverride.Max(raised)
			}
			riskOverride = &raised
		}
	}
	return decision, approvalOverride, riskOverride, false, ""
}

func effectFor(matched bool, fallback schemas.CheckEffect) schemas.CheckEffect {
	if matched {
		return schemas.CheckDeny
	}
	return fallback
}
