package approval_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/switchboard-run/switchboard/pkg/approval"
	"github.com/switchboard-run/switchboard/pkg/errs"
	"github.com/switchboard-run/switchboard/pkg/schemas"
	"github.com/switchboard-run/switchboard/pkg/store"
)

func newPending(now time.Time) *schemas.ApprovalRequest {
	return &schemas.ApprovalRequest{
		ID: "appr-1", EnvelopeID: "env-1", Summary: "refund $50",
		RiskCategory: schemas.RiskMedium, BindingHash: "hash-v1",
		Approvers: []string{"mgr-1"}, FallbackApprover: "mgr-2",
		EscalationDelay: time.Hour, CreatedAt: now, ExpiresAt: now.Add(24 * time.Hour),
		ExpiredBehavior: schemas.ExpiredDeny, Status: schemas.ApprovalPending, Version: 1,
	}
}

func newStore(t *testing.T, req *schemas.ApprovalRequest) store.ApprovalStore {
	t.Helper()
	s := store.NewMemoryApprovalStore()
	require.NoError(t, s.Create(context.Background(), req))
	return s
}

func TestApproveSucceedsForListedApprover(t *testing.T) {
	now := time.Now()
	req := newPending(now)
	s := newStore(t, req)
	sm := approval.NewStateMachine(s)

	out, err := sm.Approve(context.Background(), "appr-1", "hash-v1", "mgr-1", now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, schemas.ApprovalApproved, out.Status)
	assert.Equal(t, "mgr-1", out.RespondedBy)
	assert.Equal(t, int64(2), out.Version)
}

func TestApproveRejectsBindingHashMismatch(t *testing.T) {
	now := time.Now()
	s := newStore(t, newPending(now))
	sm := approval.NewStateMachine(s)

	_, err := sm.Approve(context.Background(), "appr-1", "wrong-hash", "mgr-1", now)
	assert.Equal(t, errs.BindingHashMismatch, errs.KindOf(err))
}

func TestApproveRejectsNonApprover(t *testing.T) {
	now := time.Now()
	s := newStore(t, newPending(now))
	sm := approval.NewStateMachine(s)

	_, err := sm.Approve(context.Background(), "appr-1", "hash-v1", "stranger", now)
	assert.Equal(t, errs.Forbidden, errs.KindOf(err))
}

func TestApproveAllowsFallbackApproverAfterEscalationDelay(t *testing.T) {
	now := time.Now()
	s := newStore(t, newPending(now))
	sm := approval.NewStateMachine(s)

	_, err := sm.Approve(context.Background(), "appr-1", "hash-v1", "mgr-2", now.Add(30*time.Minute))
	assert.Equal(t, errs.Forbidden, errs.KindOf(err), "fallback too early must be rejected")

	out, err := sm.Approve(context.Background(), "appr-1", "hash-v1", "mgr-2", now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, schemas.ApprovalApproved, out.Status)
}

func TestApproveRejectsExpiredRequest(t *testing.T) {
	now := time.Now()
	s := newStore(t, newPending(now))
	sm := approval.NewStateMachine(s)

	_, err := sm.Approve(context.Background(), "appr-1", "hash-v1", "mgr-1", now.Add(25*time.Hour))
	assert.Equal(t, errs.Validation, errs.KindOf(err))
}

func TestRejectDoesNotRequireBindingHash(t *testing.T) {
	now := time.Now()
	s := newStore(t, newPending(now))
	sm := approval.NewStateMachine(s)

	out, err := sm.Reject(context.Background(), "appr-1", "mgr-1", now)
	require.NoError(t, err)
	assert.Equal(t, schemas.ApprovalRejected, out.Status)
}

func TestPatchReissuesFreshPendingRequest(t *testing.T) {
	now := time.Now()
	s := newStore(t, newPending(now))
	sm := approval.NewStateMachine(s)

	validated := false
	validate := func(actionType string, patchValue map[string]any) error {
		validated = true
		assert.Equal(t, "billing.refund", actionType)
		return nil
	}

	result, err := sm.Patch(context.Background(), "appr-1", "hash-v1", "mgr-1",
		map[string]any{"amount": 25}, "hash-v2", "appr-2", "billing.refund", validate, now.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, validated)
	assert.Equal(t, schemas.ApprovalPatched, result.Original.Status)
	assert.Equal(t, schemas.ApprovalPending, result.Reissued.Status)
	assert.Equal(t, "hash-v2", result.Reissued.BindingHash)
	assert.Equal(t, int64(1), result.Reissued.Version)

	stored, err := s.Get(context.Background(), "appr-2")
	require.NoError(t, err)
	assert.Equal(t, schemas.ApprovalPending, stored.Status)
}

func TestPatchPropagatesValidationFailure(t *testing.T) {
	now := time.Now()
	s := newStore(t, newPending(now))
	sm := approval.NewStateMachine(s)

	validate := func(actionType string, patchValue map[string]any) error {
		return assert.AnError
	}
	_, err := sm.Patch(context.Background(), "appr-1", "hash-v1", "mgr-1",
		map[string]any{"amount": -1}, "hash-v2", "appr-2", "billing.refund", validate, now)
	assert.Equal(t, errs.Validation, errs.KindOf(err))
}

func TestExpireIfDueTransitionsOncePastExpiry(t *testing.T) {
	now := time.Now()
	s := newStore(t, newPending(now))
	sm := approval.NewStateMachine(s)

	unchanged, err := sm.ExpireIfDue(context.Background(), "appr-1", now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, schemas.ApprovalPending, unchanged.Status)

	expired, err := sm.ExpireIfDue(context.Background(), "appr-1", now.Add(25*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, schemas.ApprovalExpired, expired.Status)
}

func TestCancelRejectsAlreadyTerminalRequest(t *testing.T) {
	now := time.Now()
	s := newStore(t, newPending(now))
	sm := approval.NewStateMachine(s)

	_, err := sm.Reject(context.Background(), "appr-1", "mgr-1", now)
	require.NoError(t, err)

	_, err = sm.Cancel(context.Background(), "appr-1", now)
	assert.Equal(t, errs.Validation, errs.KindOf(err))
}
