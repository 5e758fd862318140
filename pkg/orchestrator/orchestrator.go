// Package orchestrator implements the Lifecycle Orchestrator (spec §4.6):
// the single choke point every proposal passes through — entity resolution,
// context enrichment, risk scoring, policy evaluation, approval routing,
// guarded execution, and undo derivation — wired atomically to one
// ActionEnvelope per lifecycle. Grounded on the teacher's top-level
// coordinator (core/pkg/governance/pdp.go's request/response plumbing),
// generalized from one policy call into the full pipeline this spec names.
package orchestrator

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/switchboard-run/switchboard/pkg/approval"
	"github.com/switchboard-run/switchboard/pkg/audit"
	"github.com/switchboard-run/switchboard/pkg/canonical"
	"github.com/switchboard-run/switchboard/pkg/cartridge"
	"github.com/switchboard-run/switchboard/pkg/competence"
	"github.com/switchboard-run/switchboard/pkg/errs"
	"github.com/switchboard-run/switchboard/pkg/escalation/ceremony"
	"github.com/switchboard-run/switchboard/pkg/govidentity"
	"github.com/switchboard-run/switchboard/pkg/guard"
	"github.com/switchboard-run/switchboard/pkg/guardrail"
	"github.com/switchboard-run/switchboard/pkg/notify"
	"github.com/switchboard-run/switchboard/pkg/policy"
	"github.com/switchboard-run/switchboard/pkg/rules"
	"github.com/switchboard-run/switchboard/pkg/schemas"
	"github.com/switchboard-run/switchboard/pkg/store"
)

// Outcome is the Orchestrator's coarse-grained verdict (spec §4.6
// "execute(request) -> {outcome}").
type Outcome string

const (
	OutcomeExecuted        Outcome = "EXECUTED"
	OutcomePendingApproval Outcome = "PENDING_APPROVAL"
	OutcomeDenied          Outcome = "DENIED"
)

// IDs abstracts identifier generation so tests can supply deterministic
// values; production wiring defaults to uuid.NewString.
type IDs struct {
	Envelope  func() string
	Approval  func() string
	AuditID   func() string
}

// DefaultIDs returns an IDs using github.com/google/uuid throughout.
func DefaultIDs() IDs {
	return IDs{Envelope: uuid.NewString, Approval: uuid.NewString, AuditID: uuid.NewString}
}

// Clock abstracts time.Now for deterministic tests.
type Clock func() time.Time

// ApproverSet names who may respond to an ApprovalRequest for a given
// envelope context. Switchboard does not own an org chart (spec §1: "does
// not replace identity providers") so this is supplied by the caller —
// typically backed by whatever directory resolves org roles to principals.
type ApproverSet struct {
	Approvers        []string
	FallbackApprover string
	EscalationDelay  time.Duration
}

// ApproverResolver resolves the ApproverSet empowered to decide one
// approval request.
type ApproverResolver func(ctx context.Context, principalID, organizationID, actionType string) (ApproverSet, error)

// Config bundles everything the Orchestrator needs beyond the stores.
type Config struct {
	Registry      *cartridge.Registry
	PolicyEngine  *policy.Engine
	Guard         *guard.Guard
	Guardrail     *guardrail.Guardrail
	Notifier      *notify.Composite
	SystemPosture schemas.SystemRiskPosture
	IdempotencyTTL time.Duration
	UndoWindow     time.Duration
	Now            Clock
	IDs            IDs
	Approvers      ApproverResolver
	// CeremonyPolicy gates ActionApprove when the envelope's latest decision
	// required mandatory approval (spec §4.5 "mandatory approval requirement
	// consults the stepped-up approval ceremony"). Defaults to
	// ceremony.StrictPolicy.
	CeremonyPolicy ceremony.CeremonyPolicy
}

// Stores bundles the persistence backends one Orchestrator reads/writes.
type Stores struct {
	Envelopes   store.EnvelopeStore
	Approvals   store.ApprovalStore
	Identities  store.IdentityStore
	Competences store.CompetenceStore
}

// Orchestrator drives one full action lifecycle end to end.
type Orchestrator struct {
	stores Stores
	audit  *audit.Ledger
	cfg    Config
}

// New builds an Orchestrator. cfg.Now and cfg.IDs default to wall-clock time
// and uuid generation when left zero.
func New(stores Stores, ledger *audit.Ledger, cfg Config) *Orchestrator {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.IDs.Envelope == nil {
		cfg.IDs = DefaultIDs()
	}
	if cfg.IdempotencyTTL == 0 {
		cfg.IdempotencyTTL = 24 * time.Hour
	}
	if cfg.UndoWindow == 0 {
		cfg.UndoWindow = 24 * time.Hour
	}
	if cfg.Approvers == nil {
		cfg.Approvers = func(ctx context.Context, principalID, organizationID, actionType string) (ApproverSet, error) {
			return ApproverSet{}, nil
		}
	}
	if cfg.CeremonyPolicy == (ceremony.CeremonyPolicy{}) {
		cfg.CeremonyPolicy = ceremony.StrictPolicy()
	}
	return &Orchestrator{stores: stores, audit: ledger, cfg: cfg}
}

// ExecuteRequest is the Orchestrator's entry point descriptor (spec §6
// POST /api/execute body).
type ExecuteRequest struct {
	PrincipalID      string
	OrganizationID   string
	Proposal         schemas.ActionProposal
	EntityRefs       []schemas.EntityRef
	TraceID          string
	IdempotencyKey   string
	ParentEnvelopeID string
}

// ExecuteResponse is what execute returns to its caller (spec §4.6).
type ExecuteResponse struct {
	Outcome    Outcome
	EnvelopeID string
	TraceID    string
	Envelope   *schemas.ActionEnvelope
}

// Execute runs the full spec §4.6 pipeline for one proposal.
func (o *Orchestrator) Execute(ctx context.Context, req ExecuteRequest) (*ExecuteResponse, error) {
	now := o.cfg.Now()

	if req.IdempotencyKey != "" {
		if existing, err := o.stores.Envelopes.GetByIdempotencyKey(ctx, req.IdempotencyKey); err == nil && existing != nil {
			return &ExecuteResponse{Outcome: outcomeFor(existing.Status), EnvelopeID: existing.ID, TraceID: existing.TraceID, Envelope: existing}, nil
		} else if err != nil && errs.KindOf(err) != errs.NotFound {
			return nil, err
		}
	}

	// Step 1: cartridge lookup, inferring by action-type prefix when needed.
	cart, cartridgeID, err := o.resolveCartridge(req.Proposal.ActionType)
	if err != nil {
		return nil, err
	}

	// Step 2: entity resolution.
	resolved := make([]schemas.ResolvedEntity, 0, len(req.EntityRefs))
	for _, ref := range req.EntityRefs {
		r, err := cart.ResolveEntity(ctx, ref)
		if err != nil {
			return nil, err
		}
		if r.Ambiguous {
			return nil, errs.Newf(errs.NeedsClarification, "entity reference %q is ambiguous: %v", ref.Ref, r.Alternatives)
		}
		if r.NotFound {
			return nil, errs.Newf(errs.NotFound, "entity reference %q not found", ref.Ref)
		}
		resolved = append(resolved, r)
	}

	// Step 3: context enrichment.
	enrichment, err := cart.EnrichContext(ctx, req.Proposal, resolved)
	if err != nil {
		return nil, err
	}

	// Step 4: risk input + policy evaluation.
	riskInput, err := cart.GetRiskInput(ctx, req.Proposal, enrichment)
	if err != nil {
		return nil, err
	}

	identity, err := o.resolveIdentity(ctx, req.PrincipalID, req.Proposal.ActionType, cartridgeID, now)
	if err != nil {
		return nil, err
	}
	comp, err := o.loadCompetence(ctx, req.PrincipalID, req.Proposal.ActionType)
	if err != nil {
		return nil, err
	}
	guardrails, err := cart.GetGuardrails(ctx, req.PrincipalID)
	if err != nil {
		return nil, err
	}

	evalCtx := rules.Merge(rules.Flatten("parameters", req.Proposal.Parameters), rules.Flatten("enrichment", enrichment))
	trace, err := o.cfg.PolicyEngine.Evaluate(policy.EvalInput{
		Ctx: ctx, Proposal: req.Proposal, PrincipalID: req.PrincipalID, OrganizationID: req.OrganizationID,
		CartridgeID: cartridgeID, Identity: *identity, Competence: comp, RiskInput: riskInput,
		Context:           evalCtx,
		RateLimits:        rateLimitsFrom(guardrails),
		CooldownEntityKey: cooldownKey(req.PrincipalID, resolved),
		Cooldown:          time.Duration(guardrails.CooldownSeconds) * time.Second,
		ProtectedEntities: guardrails.ProtectedEntities,
		SpendAmount:       spendAmount(req.Proposal.Parameters),
		SpendKey:          req.PrincipalID + ":" + cartridgeID,
		SpendLimits:       spendLimitsFrom(identity.EffectiveSpendLimits(cartridgeID)),
		SystemPosture:     o.cfg.SystemPosture,
		Now:               now,
	})
	if err != nil {
		return nil, err
	}

	// Step 5: build the envelope.
	env := &schemas.ActionEnvelope{
		ID:               o.cfg.IDs.Envelope(),
		Version:          1,
		Proposals:        []schemas.ActionProposal{req.Proposal},
		ResolvedEntities: resolved,
		Decisions:        []schemas.DecisionTrace{*trace},
		TraceID:          req.TraceID,
		PrincipalID:      req.PrincipalID,
		OrganizationID:   req.OrganizationID,
		ParentEnvelopeID: req.ParentEnvelopeID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	switch {
	case trace.FinalDecision == schemas.DecisionDeny:
		env.Status = schemas.EnvelopeDenied
		if err := o.recordAudit(ctx, "action.denied", req.PrincipalID, env, trace, nil); err != nil {
			return nil, err
		}
		if err := o.stores.Envelopes.Create(ctx, env); err != nil {
			return nil, err
		}
		if req.IdempotencyKey != "" {
			_ = o.stores.Envelopes.PutIdempotencyKey(ctx, req.IdempotencyKey, env.ID)
		}
		return &ExecuteResponse{Outcome: OutcomeDenied, EnvelopeID: env.ID, TraceID: env.TraceID, Envelope: env}, nil

	case trace.ApprovalRequired == schemas.ApprovalNone:
		env.Status = schemas.EnvelopeApproved
		if err := o.stores.Envelopes.Create(ctx, env); err != nil {
			return nil, err
		}
		if req.IdempotencyKey != "" {
			_ = o.stores.Envelopes.PutIdempotencyKey(ctx, req.IdempotencyKey, env.ID)
		}
		return o.executeApproved(ctx, env, cart, cartridgeID, enrichment)

	default:
		env.Status = schemas.EnvelopePendingApproval
		bindingHash, err := approvalBindingHash(req.Proposal, req.PrincipalID, req.OrganizationID, trace.ComputedRiskScore.Category)
		if err != nil {
			return nil, err
		}
		approvers, err := o.cfg.Approvers(ctx, req.PrincipalID, req.OrganizationID, req.Proposal.ActionType)
		if err != nil {
			return nil, err
		}
		approvalReq := &schemas.ApprovalRequest{
			ID: o.cfg.IDs.Approval(), EnvelopeID: env.ID, Summary: trace.Explanation,
			RiskCategory: trace.ComputedRiskScore.Category, BindingHash: bindingHash,
			Approvers: approvers.Approvers, FallbackApprover: approvers.FallbackApprover,
			EscalationDelay: approvers.EscalationDelay, CreatedAt: now,
			ExpiresAt: now.Add(24 * time.Hour), ExpiredBehavior: schemas.ExpiredDeny,
			Status: schemas.ApprovalPending, Version: 1,
		}
		if err := o.stores.Approvals.Create(ctx, approvalReq); err != nil {
			return nil, err
		}
		env.ApprovalRequestIDs = append(env.ApprovalRequestIDs, approvalReq.ID)
		if err := o.recordAudit(ctx, "approval.created", req.PrincipalID, env, trace, nil); err != nil {
			return nil, err
		}
		if err := o.stores.Envelopes.Create(ctx, env); err != nil {
			return nil, err
		}
		if o.cfg.Notifier != nil {
			o.cfg.Notifier.Notify(ctx, approvalReq)
		}
		if req.IdempotencyKey != "" {
			_ = o.stores.Envelopes.PutIdempotencyKey(ctx, req.IdempotencyKey, env.ID)
		}
		return &ExecuteResponse{Outcome: OutcomePendingApproval, EnvelopeID: env.ID, TraceID: env.TraceID, Envelope: env}, nil
	}
}

// ExecuteApproved runs step 7 (guarded execution) for an envelope already in
// the approved state, looking the cartridge and last proposal back up.
func (o *Orchestrator) ExecuteApproved(ctx context.Context, envelopeID string) (*ExecuteResponse, error) {
	env, err := o.stores.Envelopes.Get(ctx, envelopeID)
	if err != nil {
		return nil, err
	}
	if env.Status != schemas.EnvelopeApproved {
		return nil, errs.Newf(errs.Validation, "envelope %q is %s, not approved", envelopeID, env.Status)
	}
	proposal := env.LatestProposal()
	if proposal == nil {
		return nil, errs.Newf(errs.Fatal, "envelope %q has no proposal to execute", envelopeID)
	}
	cart, cartridgeID, err := o.resolveCartridge(proposal.ActionType)
	if err != nil {
		return nil, err
	}
	enrichment, err := cart.EnrichContext(ctx, *proposal, env.ResolvedEntities)
	if err != nil {
		return nil, err
	}
	return o.executeApproved(ctx, env, cart, cartridgeID, enrichment)
}

func (o *Orchestrator) executeApproved(ctx context.Context, env *schemas.ActionEnvelope, cart cartridge.Cartridge, cartridgeID string, enrichment map[string]any) (*ExecuteResponse, error) {
	now := o.cfg.Now()
	proposal := env.LatestProposal()

	env.Status = schemas.EnvelopeExecuting
	env.Version++
	env.UpdatedAt = now
	if err := o.stores.Envelopes.Update(ctx, env); err != nil {
		return nil, err
	}

	result, execErr := o.cfg.Guard.Run(ctx, cart, env.ID, *proposal, enrichment)

	env.Version++
	env.UpdatedAt = o.cfg.Now()
	outcome := "action.executed"
	if execErr != nil || !result.Success {
		env.Status = schemas.EnvelopeFailed
		outcome = "action.failed"
	} else {
		env.Status = schemas.EnvelopeExecuted
		env.ExecutionResults = append(env.ExecutionResults, result)
	}
	if err := o.stores.Envelopes.Update(ctx, env); err != nil {
		return nil, err
	}

	o.recordCompetenceOutcome(ctx, env.PrincipalID, proposal.ActionType, env.ID, execErr == nil && result.Success, now)

	snapshot := map[string]any{"success": result.Success, "summary": result.Summary}
	if err := o.recordAudit(ctx, outcome, env.PrincipalID, env, env.LatestDecision(), snapshot); err != nil {
		return nil, err
	}

	if execErr != nil {
		return nil, execErr
	}
	return &ExecuteResponse{Outcome: OutcomeExecuted, EnvelopeID: env.ID, TraceID: env.TraceID, Envelope: env}, nil
}

// RespondToApprovalAction names the action a human takes on a pending
// request (spec §4.5).
type RespondToApprovalAction string

const (
	ActionApprove RespondToApprovalAction = "approve"
	ActionReject  RespondToApprovalAction = "reject"
	ActionPatch   RespondToApprovalAction = "patch"
)

// RespondToApproval transitions an ApprovalRequest and, on approval, drives
// execution; on patch, it creates a fresh pending request rather than
// executing (spec §4.5, §4.6).
// ceremonyReq carries the stepped-up approval ceremony evidence (spec §4.5);
// it is required only when the envelope's latest decision set
// ApprovalRequired to mandatory, and ignored otherwise.
func (o *Orchestrator) RespondToApproval(ctx context.Context, sm *approval.StateMachine, approvalID string, action RespondToApprovalAction, respondedBy, bindingHash string, patchValue map[string]any, validate approval.ValidatePatch, ceremonyReq *ceremony.CeremonyRequest) (*ExecuteResponse, error) {
	now := o.cfg.Now()

	switch action {
	case ActionApprove:
		pending, err := o.stores.Approvals.Get(ctx, approvalID)
		if err != nil {
			return nil, err
		}
		preEnv, err := o.stores.Envelopes.Get(ctx, pending.EnvelopeID)
		if err != nil {
			return nil, err
		}
		if decision := preEnv.LatestDecision(); decision != nil && decision.ApprovalRequired == schemas.ApprovalMandatory {
			if ceremonyReq == nil {
				return nil, errs.Newf(errs.Validation, "approval %q requires mandatory-tier ceremony evidence", approvalID)
			}
			if result := ceremony.ValidateCeremony(o.cfg.CeremonyPolicy, *ceremonyReq); !result.Valid {
				return nil, errs.Newf(errs.Validation, "approval ceremony failed: %s", result.Reason)
			}
		}

		approvalReq, err := sm.Approve(ctx, approvalID, bindingHash, respondedBy, now)
		if err != nil {
			return nil, err
		}
		env, err := o.stores.Envelopes.Get(ctx, approvalReq.EnvelopeID)
		if err != nil {
			return nil, err
		}
		env.Status = schemas.EnvelopeApproved
		env.Version++
		env.UpdatedAt = now
		if err := o.stores.Envelopes.Update(ctx, env); err != nil {
			return nil, err
		}
		return o.ExecuteApproved(ctx, env.ID)

	case ActionReject:
		approvalReq, err := sm.Reject(ctx, approvalID, respondedBy, now)
		if err != nil {
			return nil, err
		}
		env, err := o.stores.Envelopes.Get(ctx, approvalReq.EnvelopeID)
		if err != nil {
			return nil, err
		}
		env.Status = schemas.EnvelopeDenied
		env.Version++
		env.UpdatedAt = now
		if err := o.stores.Envelopes.Update(ctx, env); err != nil {
			return nil, err
		}
		return &ExecuteResponse{Outcome: OutcomeDenied, EnvelopeID: env.ID, TraceID: env.TraceID, Envelope: env}, nil

	case ActionPatch:
		req, err := o.stores.Approvals.Get(ctx, approvalID)
		if err != nil {
			return nil, err
		}
		env, err := o.stores.Envelopes.Get(ctx, req.EnvelopeID)
		if err != nil {
			return nil, err
		}
		proposal := env.LatestProposal()
		if proposal == nil {
			return nil, errs.Newf(errs.Fatal, "envelope %q has no proposal to patch", env.ID)
		}
		merged := mergeParameters(proposal.Parameters, patchValue)
		newHash, err := approvalBindingHash(schemas.ActionProposal{ActionType: proposal.ActionType, Parameters: merged}, env.PrincipalID, env.OrganizationID, req.RiskCategory)
		if err != nil {
			return nil, err
		}
		result, err := sm.Patch(ctx, approvalID, bindingHash, respondedBy, patchValue, newHash, o.cfg.IDs.Approval(), proposal.ActionType, validate, now)
		if err != nil {
			return nil, err
		}
		env.ApprovalRequestIDs = append(env.ApprovalRequestIDs, result.Reissued.ID)
		env.Version++
		env.UpdatedAt = now
		if err := o.stores.Envelopes.Update(ctx, env); err != nil {
			return nil, err
		}
		if o.cfg.Notifier != nil {
			o.cfg.Notifier.Notify(ctx, result.Reissued)
		}
		return &ExecuteResponse{Outcome: OutcomePendingApproval, EnvelopeID: env.ID, TraceID: env.TraceID, Envelope: env}, nil

	default:
		return nil, errs.Newf(errs.Validation, "unknown approval response action %q", action)
	}
}

// RequestUndo synthesizes the reverse action from an executed envelope's
// undoRecipe and feeds it back through Execute, linked by parentEnvelopeId
// (spec §4.6).
func (o *Orchestrator) RequestUndo(ctx context.Context, envelopeID string) (*ExecuteResponse, error) {
	env, err := o.stores.Envelopes.Get(ctx, envelopeID)
	if err != nil {
		return nil, err
	}
	if env.Status != schemas.EnvelopeExecuted {
		return nil, errs.Newf(errs.Validation, "envelope %q is %s, not executed", envelopeID, env.Status)
	}
	if len(env.ExecutionResults) == 0 || env.ExecutionResults[len(env.ExecutionResults)-1].UndoRecipe == nil {
		return nil, errs.Newf(errs.NotFound, "envelope %q has no undo recipe", envelopeID)
	}
	recipe := env.ExecutionResults[len(env.ExecutionResults)-1].UndoRecipe
	now := o.cfg.Now()
	if now.After(recipe.UndoExpiresAt) {
		return nil, errs.Newf(errs.Validation, "undo window for envelope %q has expired", envelopeID)
	}

	return o.Execute(ctx, ExecuteRequest{
		PrincipalID:    env.PrincipalID,
		OrganizationID: env.OrganizationID,
		Proposal: schemas.ActionProposal{
			ID: o.cfg.IDs.Envelope(), ActionType: recipe.ReverseActionType, Parameters: recipe.ReverseParameters,
		},
		TraceID:          env.TraceID,
		ParentEnvelopeID: env.ID,
	})
}

// Simulate runs the pipeline through policy evaluation only, never
// persisting an envelope or invoking the cartridge's execute — a dry run
// for "what would happen" previews.
func (o *Orchestrator) Simulate(ctx context.Context, req ExecuteRequest) (*schemas.DecisionTrace, error) {
	now := o.cfg.Now()
	cart, cartridgeID, err := o.resolveCartridge(req.Proposal.ActionType)
	if err != nil {
		return nil, err
	}
	resolved := make([]schemas.ResolvedEntity, 0, len(req.EntityRefs))
	for _, ref := range req.EntityRefs {
		r, err := cart.ResolveEntity(ctx, ref)
		if err != nil {
			return nil, err
		}
		resolved = append(resolved, r)
	}
	enrichment, err := cart.EnrichContext(ctx, req.Proposal, resolved)
	if err != nil {
		return nil, err
	}
	riskInput, err := cart.GetRiskInput(ctx, req.Proposal, enrichment)
	if err != nil {
		return nil, err
	}
	identity, err := o.resolveIdentity(ctx, req.PrincipalID, req.Proposal.ActionType, cartridgeID, now)
	if err != nil {
		return nil, err
	}
	comp, err := o.loadCompetence(ctx, req.PrincipalID, req.Proposal.ActionType)
	if err != nil {
		return nil, err
	}
	guardrails, err := cart.GetGuardrails(ctx, req.PrincipalID)
	if err != nil {
		return nil, err
	}
	evalCtx := rules.Merge(rules.Flatten("parameters", req.Proposal.Parameters), rules.Flatten("enrichment", enrichment))
	return o.cfg.PolicyEngine.Evaluate(policy.EvalInput{
		Ctx: ctx, Proposal: req.Proposal, PrincipalID: req.PrincipalID, OrganizationID: req.OrganizationID,
		CartridgeID: cartridgeID, Identity: *identity, Competence: comp, RiskInput: riskInput,
		Context:           evalCtx,
		RateLimits:        rateLimitsFrom(guardrails),
		CooldownEntityKey: cooldownKey(req.PrincipalID, resolved),
		Cooldown:          time.Duration(guardrails.CooldownSeconds) * time.Second,
		ProtectedEntities: guardrails.ProtectedEntities,
		SpendAmount:       spendAmount(req.Proposal.Parameters),
		SpendKey:          req.PrincipalID + ":" + cartridgeID,
		SpendLimits:       spendLimitsFrom(identity.EffectiveSpendLimits(cartridgeID)),
		SystemPosture:     o.cfg.SystemPosture,
		Now:               now,
	})
}

func (o *Orchestrator) resolveCartridge(actionType string) (cartridge.Cartridge, string, error) {
	cartridgeID, err := o.cfg.Registry.InferCartridgeID(actionType)
	if err != nil {
		return nil, "", errs.Wrap(errs.NeedsClarification, err, "could not resolve a cartridge for action type "+actionType)
	}
	cart, err := o.cfg.Registry.Resolve(cartridgeID)
	if err != nil {
		return nil, "", err
	}
	return cart, cartridgeID, nil
}

func (o *Orchestrator) resolveIdentity(ctx context.Context, principalID, actionType, cartridgeID string, now time.Time) (*govidentity.ResolvedIdentity, error) {
	spec, err := o.stores.Identities.GetSpec(ctx, principalID)
	if err != nil {
		return nil, err
	}
	overlays, err := o.stores.Identities.ListOverlays(ctx, principalID)
	if err != nil {
		return nil, err
	}
	return govidentity.Resolve(*spec, overlays, govidentity.EvalContext{ActionType: actionType, CartridgeID: cartridgeID, Now: now})
}

func (o *Orchestrator) loadCompetence(ctx context.Context, principalID, actionType string) (*schemas.CompetenceRecord, error) {
	rec, err := o.stores.Competences.Get(ctx, principalID, actionType)
	if err != nil {
		if errs.KindOf(err) == errs.NotFound {
			return nil, nil
		}
		return nil, err
	}
	decayed := competence.ApplyDecay(*rec, o.cfg.Now())
	return &decayed, nil
}

func (o *Orchestrator) recordCompetenceOutcome(ctx context.Context, principalID, actionType, envelopeID string, success bool, now time.Time) {
	rec, err := o.stores.Competences.Get(ctx, principalID, actionType)
	if err != nil && errs.KindOf(err) != errs.NotFound {
		return
	}
	var current schemas.CompetenceRecord
	if rec != nil {
		current = competence.ApplyDecay(*rec, now)
	} else {
		current = schemas.CompetenceRecord{PrincipalID: principalID, ActionType: actionType}
	}
	outcome := competence.OutcomeSuccess
	if !success {
		outcome = competence.OutcomeFailure
	}
	updated := competence.Record(current, principalID, actionType, outcome, envelopeID, now)
	_ = o.stores.Competences.Put(ctx, updated)
}

func (o *Orchestrator) recordAudit(ctx context.Context, eventType, principalID string, env *schemas.ActionEnvelope, trace *schemas.DecisionTrace, extraSnapshot map[string]any) error {
	riskCategory := schemas.RiskNone
	if trace != nil && trace.ComputedRiskScore != nil {
		riskCategory = trace.ComputedRiskScore.Category
	}
	snapshot := map[string]any{"envelopeId": env.ID, "status": string(env.Status)}
	for k, v := range extraSnapshot {
		snapshot[k] = v
	}
	entry, err := o.audit.Record(ctx, audit.RecordInput{
		EventType: eventType, Timestamp: o.cfg.Now(), ActorType: schemas.PrincipalAgent, ActorID: principalID,
		EntityType: "envelope", EntityID: env.ID, RiskCategory: riskCategory, VisibilityLevel: "standard",
		Summary: eventType + " for envelope " + env.ID, Snapshot: snapshot,
		EnvelopeID: env.ID, OrganizationID: env.OrganizationID, TraceID: env.TraceID,
	})
	if err != nil {
		return err
	}
	env.AuditEntryIDs = append(env.AuditEntryIDs, entry.ID)
	return nil
}

func outcomeFor(status schemas.EnvelopeStatus) Outcome {
	switch status {
	case schemas.EnvelopeDenied:
		return OutcomeDenied
	case schemas.EnvelopeExecuted:
		return OutcomeExecuted
	default:
		return OutcomePendingApproval
	}
}

func rateLimitsFrom(g cartridge.Guardrails) []guardrail.RateLimit {
	if g.RateLimitPerMinute <= 0 {
		return nil
	}
	return []guardrail.RateLimit{{Scope: guardrail.ScopeGlobal, Max: g.RateLimitPerMinute, Window: time.Minute}}
}

func spendLimitsFrom(w schemas.SpendWindow) guardrail.SpendLimits {
	return guardrail.SpendLimits{Daily: w.Daily, Weekly: w.Weekly, Monthly: w.Monthly, PerAction: w.PerAction}
}

func spendAmount(parameters map[string]any) float64 {
	if v, ok := parameters["amount"].(float64); ok {
		return v
	}
	if v, ok := parameters["budgetChange"].(float64); ok {
		return v
	}
	return 0
}

func cooldownKey(principalID string, resolved []schemas.ResolvedEntity) string {
	for _, r := range resolved {
		if r.EntityID != "" {
			return principalID + ":" + r.EntityID
		}
	}
	return ""
}

func mergeParameters(base map[string]any, patch map[string]any) map[string]any {
	merged := make(map[string]any, len(base)+len(patch))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range patch {
		merged[k] = v
	}
	return merged
}

func approvalBindingHash(proposal schemas.ActionProposal, principalID, organizationID string, riskCategory schemas.RiskCategory) (string, error) {
	return canonical.BindingHash(canonical.BindingTuple{
		ActionType: proposal.ActionType, Parameters: proposal.Parameters,
		PrincipalID: principalID, OrganizationID: organizationID, RiskCategory: string(riskCategory),
	})
}
