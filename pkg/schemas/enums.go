// Package schemas defines Switchboard's canonical domain types: the entities
// named in spec §3, their enums, and structural validators. Every other
// package imports schemas rather than redeclaring these shapes.
package schemas

// PrincipalType distinguishes a human operator from an autonomous agent.
type PrincipalType string

const (
	PrincipalUser  PrincipalType = "user"
	PrincipalAgent PrincipalType = "agent"
)

// RiskCategory buckets a computed risk score (spec §4.3 thresholds).
type RiskCategory string

const (
	RiskNone     RiskCategory = "none"
	RiskLow      RiskCategory = "low"
	RiskMedium   RiskCategory = "medium"
	RiskHigh     RiskCategory = "high"
	RiskCritical RiskCategory = "critical"
)

// riskOrder gives RiskCategory a total order so callers can compare/raise it.
var riskOrder = map[RiskCategory]int{
	RiskNone:     0,
	RiskLow:      1,
	RiskMedium:   2,
	RiskHigh:     3,
	RiskCritical: 4,
}

// Rank returns the ordinal position of a risk category, higher is riskier.
func (r RiskCategory) Rank() int { return riskOrder[r] }

// Max returns the higher-ranked of r and other — used when a composite-risk
// adjustment or a policy's riskCategoryOverride may only ever raise category.
func (r RiskCategory) Max(other RiskCategory) RiskCategory {
	if other.Rank() > r.Rank() {
		return other
	}
	return r
}

// ApprovalRequirement is the governance disposition derived from risk
// tolerance, policy, and system posture (spec §3, §4.4 step 10).
type ApprovalRequirement string

const (
	ApprovalNone      ApprovalRequirement = "none"
	ApprovalStandard  ApprovalRequirement = "standard"
	ApprovalElevated  ApprovalRequirement = "elevated"
	ApprovalMandatory ApprovalRequirement = "mandatory"
)

var approvalOrder = map[ApprovalRequirement]int{
	ApprovalNone:      0,
	ApprovalStandard:  1,
	ApprovalElevated:  2,
	ApprovalMandatory: 3,
}

// Rank returns the ordinal strictness of an approval requirement.
func (a ApprovalRequirement) Rank() int { return approvalOrder[a] }

// Max returns the stricter of a and other.
func (a ApprovalRequirement) Max(other ApprovalRequirement) ApprovalRequirement {
	if other.Rank() > a.Rank() {
		return other
	}
	return a
}

// Reversibility describes whether a cartridge action can be undone.
type Reversibility string

const (
	ReversibilityFull    Reversibility = "full"
	ReversibilityPartial Reversibility = "partial"
	ReversibilityNone    Reversibility = "none"
)

// GovernanceProfile is an org-level dial mapping to a system risk posture.
type GovernanceProfile string

const (
	ProfileObserve GovernanceProfile = "observe"
	ProfileGuarded GovernanceProfile = "guarded"
	ProfileStrict  GovernanceProfile = "strict"
	ProfileLocked  GovernanceProfile = "locked"
)

// SystemRiskPosture is the SYSTEM_RISK_POSTURE environment dial (spec §6, §4.4 step 10).
type SystemRiskPosture string

const (
	PostureNormal   SystemRiskPosture = "normal"
	PostureElevated SystemRiskPosture = "elevated"
	PostureCritical SystemRiskPosture = "critical"
)

// PolicyEffect is the outcome a matched Policy produces.
type PolicyEffect string

const (
	EffectAllow            PolicyEffect = "allow"
	EffectDeny             PolicyEffect = "deny"
	EffectModify           PolicyEffect = "modify"
	EffectRequireApproval  PolicyEffect = "require_approval"
)

// CheckCode identifies which step of the policy pipeline produced a DecisionCheck.
type CheckCode string

const (
	CheckForbiddenBehavior CheckCode = "FORBIDDEN_BEHAVIOR"
	CheckTrustBehavior     CheckCode = "TRUST_BEHAVIOR"
	CheckCompetenceTrust   CheckCode = "COMPETENCE_TRUST"
	CheckRateLimit         CheckCode = "RATE_LIMIT"
	CheckCooldown          CheckCode = "COOLDOWN"
	CheckProtectedEntity   CheckCode = "PROTECTED_ENTITY"
	CheckSpendLimit        CheckCode = "SPEND_LIMIT"
	CheckPolicyRule        CheckCode = "POLICY_RULE"
	CheckRiskScoring       CheckCode = "RISK_SCORING"
	CheckCompositeRisk     CheckCode = "COMPOSITE_RISK"
	CheckSystemPosture     CheckCode = "SYSTEM_POSTURE"
	CheckDelegationChain   CheckCode = "DELEGATION_CHAIN"
)

// CheckEffect is the disposition a single DecisionCheck records.
type CheckEffect string

const (
	CheckAllow CheckEffect = "allow"
	CheckDeny  CheckEffect = "deny"
	CheckModify CheckEffect = "modify"
	CheckSkip  CheckEffect = "skip"
)

// FinalDecision is the terminal verdict of a DecisionTrace.
type FinalDecision string

const (
	DecisionAllow FinalDecision = "allow"
	DecisionDeny  FinalDecision = "deny"
	DecisionModify FinalDecision = "modify"
)

// ApprovalStatus is the Approval State Machine's state (spec §4.5).
type ApprovalStatus string

const (
	ApprovalPending   ApprovalStatus = "pending"
	ApprovalApproved  ApprovalStatus = "approved"
	ApprovalRejected  ApprovalStatus = "rejected"
	ApprovalPatched   ApprovalStatus = "patched"
	ApprovalExpired   ApprovalStatus = "expired"
	ApprovalCancelled ApprovalStatus = "cancelled"
)

// ExpiredBehavior is what an expired ApprovalRequest resolves to.
type ExpiredBehavior string

const (
	ExpiredDeny  ExpiredBehavior = "deny"
	ExpiredAllow ExpiredBehavior = "allow"
)

// EnvelopeStatus is ActionEnvelope's lifecycle state (spec §3 invariants).
type EnvelopeStatus string

const (
	EnvelopeProposed        EnvelopeStatus = "proposed"
	EnvelopePendingApproval EnvelopeStatus = "pending_approval"
	EnvelopeApproved        EnvelopeStatus = "approved"
	EnvelopeDenied          EnvelopeStatus = "denied"
	EnvelopeExecuting       EnvelopeStatus = "executing"
	EnvelopeExecuted        EnvelopeStatus = "executed"
	EnvelopeFailed          EnvelopeStatus = "failed"
	EnvelopeUndone          EnvelopeStatus = "undone"
)

// Terminal reports whether a status is one of the four lifecycle sinks
// named in spec §3 invariants: exactly one of {executed, denied, failed, undone}.
func (s EnvelopeStatus) Terminal() bool {
	switch s {
	case EnvelopeDenied, EnvelopeExecuted, EnvelopeFailed, EnvelopeUndone:
		return true
	default:
		return false
	}
}

// RuleComposition is the boolean combinator for a rule tree node (spec §3, §4.2).
type RuleComposition string

const (
	CompositionAND RuleComposition = "AND"
	CompositionOR  RuleComposition = "OR"
	CompositionNOT RuleComposition = "NOT"
)

// RuleOperator is a leaf condition's comparison operator (spec §3, §4.2).
type RuleOperator string

const (
	OpEq         RuleOperator = "eq"
	OpNeq        RuleOperator = "neq"
	OpGt         RuleOperator = "gt"
	OpGte        RuleOperator = "gte"
	OpLt         RuleOperator = "lt"
	OpLte        RuleOperator = "lte"
	OpIn         RuleOperator = "in"
	OpNotIn      RuleOperator = "not_in"
	OpContains   RuleOperator = "contains"
	OpNotContains RuleOperator = "not_contains"
	OpMatches    RuleOperator = "matches"
	OpExists     RuleOperator = "exists"
	OpNotExists  RuleOperator = "not_exists"
	// OpCEL is a Switchboard extension (SPEC_FULL.md §B): the condition's
	// Value is a CEL expression evaluated against the same dotted context.
	OpCEL RuleOperator = "cel"
)

// OverlayMode is how a RoleOverlay combines with the base IdentitySpec (spec §4.1).
type OverlayMode string

const (
	OverlayRestrict OverlayMode = "restrict"
	OverlayExtend   OverlayMode = "extend"
)
