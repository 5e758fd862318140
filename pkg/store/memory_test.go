package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/switchboard-run/switchboard/pkg/schemas"
)

func TestMemoryEnvelopeStoreCreateGetUpdate(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryEnvelopeStore()

	env := &schemas.ActionEnvelope{ID: "env-1", Version: 1, PrincipalID: "p1", CreatedAt: time.Now()}
	require.NoError(t, s.Create(ctx, env))

	got, err := s.Get(ctx, "env-1")
	require.NoError(t, err)
	require.Equal(t, "p1", got.PrincipalID)

	got.Version = 2
	require.NoError(t, s.Update(ctx, got))

	got.Version = 2 // stale, should not be version-1 of current (2)
	err = s.Update(ctx, got)
	require.Error(t, err)
}

func TestMemoryEnvelopeStoreIdempotencyKey(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryEnvelopeStore()
	env := &schemas.ActionEnvelope{ID: "env-1", Version: 1, PrincipalID: "p1"}
	require.NoError(t, s.Create(ctx, env))
	require.NoError(t, s.PutIdempotencyKey(ctx, "idem-key-1", "env-1"))

	got, err := s.GetByIdempotencyKey(ctx, "idem-key-1")
	require.NoError(t, err)
	require.Equal(t, "env-1", got.ID)

	_, err = s.GetByIdempotencyKey(ctx, "missing")
	require.Error(t, err)
}

func TestMemoryApprovalStoreCASVersioning(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryApprovalStore()
	a := &schemas.ApprovalRequest{ID: "ar-1", Version: 1, Status: schemas.ApprovalPending, CreatedAt: time.Now()}
	require.NoError(t, s.Create(ctx, a))

	pending, err := s.ListPending(ctx, "")
	require.NoError(t, err)
	require.Len(t, pending, 1)

	a.Version = 2
	a.Status = schemas.ApprovalApproved
	require.NoError(t, s.Update(ctx, a))

	pending, err = s.ListPending(ctx, "")
	require.NoError(t, err)
	require.Empty(t, pending)

	stale := &schemas.ApprovalRequest{ID: "ar-1", Version: 2}
	err = s.Update(ctx, stale)
	require.Error(t, err)
}

func TestMemoryAuditStoreAppendAtomicAndQuery(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryAuditStore()

	e1 := schemas.AuditEntry{ID: "a1", EntryHash: "h1", EnvelopeID: "env-1", Timestamp: time.Now()}
	require.NoError(t, s.AppendAtomic(ctx, e1, ""))

	e2 := schemas.AuditEntry{ID: "a2", EntryHash: "h2", PreviousEntryHash: "h1", EnvelopeID: "env-1", Timestamp: time.Now()}
	require.NoError(t, s.AppendAtomic(ctx, e2, "h1"))

	// stale prev hash should fail
	e3 := schemas.AuditEntry{ID: "a3", EntryHash: "h3", PreviousEntryHash: "wrong", EnvelopeID: "env-1"}
	err := s.AppendAtomic(ctx, e3, "wrong")
	require.Error(t, err)

	latest, err := s.GetLatest(ctx)
	require.NoError(t, err)
	require.Equal(t, "a2", latest.ID)

	results, err := s.Query(ctx, AuditFilter{EnvelopeID: "env-1"})
	require.NoError(t, err)
	require.Len(t, results, 2)
}

func TestMemoryIdentityStoreOverlays(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryIdentityStore()
	require.NoError(t, s.PutSpec(ctx, schemas.IdentitySpec{PrincipalID: "p1"}))
	require.NoError(t, s.PutOverlay(ctx, schemas.RoleOverlay{ID: "ov1", PrincipalID: "p1", Active: true}))

	overlays, err := s.ListOverlays(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, overlays, 1)

	require.NoError(t, s.DeleteOverlay(ctx, "ov1"))
	overlays, err = s.ListOverlays(ctx, "p1")
	require.NoError(t, err)
	require.Empty(t, overlays)
}

func TestMemoryCartridgeStoreLatest(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryCartridgeStore()
	require.NoError(t, s.Put(ctx, CartridgeRegistration{CartridgeID: "crm", Version: "1.0.0", RegisteredAt: time.Now()}))
	require.NoError(t, s.Put(ctx, CartridgeRegistration{CartridgeID: "crm", Version: "1.1.0", RegisteredAt: time.Now().Add(time.Minute)}))

	latest, err := s.GetLatest(ctx, "crm")
	require.NoError(t, err)
	require.Equal(t, "1.1.0", latest.Version)
}
