// Package approval implements the Approval State Machine (spec §3, §4.5):
// pending -> {approved, rejected, patched, expired, cancelled}, guarded by
// binding-hash integrity and optimistic versioning. Grounded on the
// teacher's CAS-guarded state transitions in pkg/governance/pdp.go (every
// mutation carries the version it was read at; a concurrent writer's update
// is rejected rather than silently overwritten).
package approval

import (
	"context"
	"time"

	"github.com/switchboard-run/switchboard/pkg/errs"
	"github.com/switchboard-run/switchboard/pkg/schemas"
	"github.com/switchboard-run/switchboard/pkg/store"
)

// StateMachine drives ApprovalRequest transitions over a store.ApprovalStore.
type StateMachine struct {
	store store.ApprovalStore
}

// NewStateMachine builds a StateMachine over the given backend.
func NewStateMachine(s store.ApprovalStore) *StateMachine {
	return &StateMachine{store: s}
}

func (sm *StateMachine) load(ctx context.Context, id string) (*schemas.ApprovalRequest, error) {
	req, err := sm.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Status != schemas.ApprovalPending {
		return nil, errs.Newf(errs.Validation, "approval %q is %s, not pending", id, req.Status)
	}
	return req, nil
}

func checkExpiry(req *schemas.ApprovalRequest, now time.Time) error {
	if !req.ExpiresAt.IsZero() && !now.Before(req.ExpiresAt) {
		return errs.Newf(errs.Validation, "approval %q expired at %s", req.ID, req.ExpiresAt)
	}
	return nil
}

// Approve transitions a pending request to approved (spec §4.5 row 1):
// bindingHash must match, respondedBy must be an authorized approver (a
// listed approver, or the fallback approver once escalationDelay has
// elapsed), and the request must not have expired.
func (sm *StateMachine) Approve(ctx context.Context, id, bindingHash, respondedBy string, now time.Time) (*schemas.ApprovalRequest, error) {
	req, err := sm.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := checkExpiry(req, now); err != nil {
		return nil, err
	}
	if bindingHash != req.BindingHash {
		return nil, errs.Newf(errs.BindingHashMismatch, "approval %q: binding hash mismatch", id)
	}
	if !req.IsApprover(respondedBy, now) {
		return nil, errs.Newf(errs.Forbidden, "%q is not an authorized approver for %q", respondedBy, id)
	}

	next := *req
	next.Status = schemas.ApprovalApproved
	next.RespondedBy = respondedBy
	next.RespondedAt = &now
	next.Version = req.Version + 1
	if err := sm.store.Update(ctx, &next); err != nil {
		return nil, err
	}
	return &next, nil
}

// Reject transitions a pending request to rejected (spec §4.5 row 2).
// bindingHash is not required for reject; whoever responds must still be an
// authorized approver and the request must not have expired.
func (sm *StateMachine) Reject(ctx context.Context, id, respondedBy string, now time.Time) (*schemas.ApprovalRequest, error) {
	req, err := sm.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := checkExpiry(req, now); err != nil {
		return nil, err
	}
	if !req.IsApprover(respondedBy, now) {
		return nil, errs.Newf(errs.Forbidden, "%q is not an authorized approver for %q", respondedBy, id)
	}

	next := *req
	next.Status = schemas.ApprovalRejected
	next.RespondedBy = respondedBy
	next.RespondedAt = &now
	next.Version = req.Version + 1
	if err := sm.store.Update(ctx, &next); err != nil {
		return nil, err
	}
	return &next, nil
}

// PatchResult is the outcome of a successful Patch call: the original
// request transitioned to patched, plus the freshly issued pending request
// the Orchestrator should notify approvers about (spec §4.5 row 3:
// "patched does not execute; it emits a new pending request").
type PatchResult struct {
	Original *schemas.ApprovalRequest
	Reissued *schemas.ApprovalRequest
}

// ValidatePatch checks patchValue against an action type's parameter schema,
// passed in by the caller (typically cartridge.Registry.ValidateParameters)
// so this package doesn't need to depend on pkg/cartridge.
type ValidatePatch func(actionType string, patchValue map[string]any) error

// Patch transitions a pending request to patched and reissues a new pending
// request carrying newBindingHash (spec §4.5 row 3). The caller is
// responsible for computing newBindingHash over the patched parameter tuple
// (pkg/canonical.BindingHash) since this package has no notion of actionType
// or parameters beyond what's on the request itself.
func (sm *StateMachine) Patch(ctx context.Context, id, bindingHash, respondedBy string, patchValue map[string]any, newBindingHash, reissuedID string, actionType string, validate ValidatePatch, now time.Time) (*PatchResult, error) {
	req, err := sm.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := checkExpiry(req, now); err != nil {
		return nil, err
	}
	if bindingHash != req.BindingHash {
		return nil, errs.Newf(errs.BindingHashMismatch, "approval %q: binding hash mismatch", id)
	}
	if !req.IsApprover(respondedBy, now) {
		return nil, errs.Newf(errs.Forbidden, "%q is not an authorized approver for %q", respondedBy, id)
	}
	if validate != nil {
		if err := validate(actionType, patchValue); err != nil {
			return nil, errs.Wrap(errs.Validation, err, "patch value failed parameter schema validation")
		}
	}

	patched := *req
	patched.Status = schemas.ApprovalPatched
	patched.RespondedBy = respondedBy
	patched.RespondedAt = &now
	patched.PatchValue = patchValue
	patched.Version = req.Version + 1
	if err := sm.store.Update(ctx, &patched); err != nil {
		return nil, err
	}

	reissued := &schemas.ApprovalRequest{
		ID:               reissuedID,
		EnvelopeID:       req.EnvelopeID,
		Summary:          req.Summary,
		RiskCategory:     req.RiskCategory,
		BindingHash:      newBindingHash,
		EvidenceBundle:   req.EvidenceBundle,
		Approvers:        req.Approvers,
		FallbackApprover: req.FallbackApprover,
		EscalationDelay:  req.EscalationDelay,
		CreatedAt:        now,
		ExpiresAt:        now.Add(req.ExpiresAt.Sub(req.CreatedAt)),
		ExpiredBehavior:  req.ExpiredBehavior,
		Status:           schemas.ApprovalPending,
		Version:          1,
	}
	if err := sm.store.Create(ctx, reissued); err != nil {
		return nil, err
	}
	return &PatchResult{Original: &patched, Reissued: reissued}, nil
}

// ExpireIfDue transitions a pending request to expired if now has reached
// ExpiresAt (spec §4.5 row 4), leaving it untouched otherwise. The caller
// applies req.ExpiredBehavior to decide whether the underlying action is
// denied or allowed.
func (sm *StateMachine) ExpireIfDue(ctx context.Context, id string, now time.Time) (*schemas.ApprovalRequest, error) {
	req, err := sm.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Status != schemas.ApprovalPending || req.ExpiresAt.IsZero() || now.Before(req.ExpiresAt) {
		return req, nil
	}

	next := *req
	next.Status = schemas.ApprovalExpired
	next.Version = req.Version + 1
	if err := sm.store.Update(ctx, &next); err != nil {
		return nil, err
	}
	return &next, nil
}

// Cancel transitions a non-terminal request to cancelled (spec §4.5 row 5:
// "from non-terminal only"), e.g. when the owning envelope itself is
// cancelled.
func (sm *StateMachine) Cancel(ctx context.Context, id string, now time.Time) (*schemas.ApprovalRequest, error) {
	req, err := sm.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if isTerminal(req.Status) {
		return nil, errs.Newf(errs.Validation, "approval %q is already %s", id, req.Status)
	}

	next := *req
	next.Status = schemas.ApprovalCancelled
	next.Version = req.Version + 1
	if err := sm.store.Update(ctx, &next); err != nil {
		return nil, err
	}
	return &next, nil
}

func isTerminal(s schemas.ApprovalStatus) bool {
	switch s {
	case schemas.ApprovalApproved, schemas.ApprovalRejected, schemas.ApprovalPatched,
		schemas.ApprovalExpired, schemas.ApprovalCancelled:
		return true
	default:
		return false
	}
}
