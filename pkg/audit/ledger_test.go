package audit_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/switchboard-run/switchboard/pkg/audit"
	"github.com/switchboard-run/switchboard/pkg/schemas"
	"github.com/switchboard-run/switchboard/pkg/store"
)

func TestLedgerRecordChainsEntries(t *testing.T) {
	backend := store.NewMemoryAuditStore()
	l := audit.NewLedger(backend, nil)
	ctx := context.Background()
	now := time.Now()

	e1, err := l.Record(ctx, audit.RecordInput{
		EventType: "action.executed", Timestamp: now, ActorType: schemas.PrincipalAgent,
		ActorID: "agent-1", EntityType: "envelope", EntityID: "env-1",
		VisibilityLevel: "standard", Summary: "first", Snapshot: map[string]any{"foo": "bar"},
	})
	require.NoError(t, err)
	assert.Empty(t, e1.PreviousEntryHash)
	assert.NotEmpty(t, e1.EntryHash)

	e2, err := l.Record(ctx, audit.RecordInput{
		EventType: "action.denied", Timestamp: now.Add(time.Second), ActorType: schemas.PrincipalAgent,
		ActorID: "agent-1", EntityType: "envelope", EntityID: "env-1",
		VisibilityLevel: "standard", Summary: "second", Snapshot: map[string]any{"foo": "baz"},
	})
	require.NoError(t, err)
	assert.Equal(t, e1.EntryHash, e2.PreviousEntryHash)
	assert.NotEqual(t, e1.EntryHash, e2.EntryHash)
}

func TestLedgerRecordAppliesRedactionBeforeHashing(t *testing.T) {
	backend := store.NewMemoryAuditStore()
	l := audit.NewLedger(backend, audit.DefaultRedactor())
	ctx := context.Background()

	entry, err := l.Record(ctx, audit.RecordInput{
		EventType: "action.executed", Timestamp: time.Now(), ActorType: schemas.PrincipalUser,
		ActorID: "u1", EntityType: "envelope", EntityID: "env-1", VisibilityLevel: "standard",
		Summary: "test", Snapshot: map[string]any{"password": "hunter2", "note": "ok"},
	})
	require.NoError(t, err)
	assert.True(t, entry.RedactionApplied)
	assert.Equal(t, []string{"password"}, entry.RedactedFields)
	assert.Equal(t, "[redacted]", entry.Snapshot["password"])
	assert.Equal(t, "ok", entry.Snapshot["note"])
}

func TestChainCheckDetectsBreak(t *testing.T) {
	entries := []schemas.AuditEntry{
		{ID: "a", EntryHash: "h1"},
		{ID: "b", PreviousEntryHash: "h1", EntryHash: "h2"},
		{ID: "c", PreviousEntryHash: "wrong", EntryHash: "h3"},
	}
	ok, brk := audit.ChainCheck(entries)
	assert.False(t, ok)
	assert.Equal(t, 2, brk.Index)
	assert.Equal(t, "h2", brk.Expected)
	assert.Equal(t, "wrong", brk.Actual)
}

func TestChainCheckPassesOnIntactChain(t *testing.T) {
	backend := store.NewMemoryAuditStore()
	l := audit.NewLedger(backend, nil)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := l.Record(ctx, audit.RecordInput{
			EventType: "e", Timestamp: time.Now(), ActorType: schemas.PrincipalAgent,
			ActorID: "a1", EntityType: "envelope", EntityID: "env-1", VisibilityLevel: "standard",
			Summary: "s", Snapshot: map[string]any{"n": i},
		})
		require.NoError(t, err)
	}
	entries, err := l.Query(ctx, store.AuditFilter{EntityID: "env-1"})
	require.NoError(t, err)
	require.Len(t, entries, 3)

	ok, _ := audit.ChainCheck(entries)
	assert.True(t, ok)

	chainOK, _, mismatches, err := audit.DeepCheck(entries)
	require.NoError(t, err)
	assert.True(t, chainOK)
	assert.Empty(t, mismatches)
}

func TestDeepCheckDetectsTamperedEntry(t *testing.T) {
	backend := store.NewMemoryAuditStore()
	l := audit.NewLedger(backend, nil)
	ctx := context.Background()
	_, err := l.Record(ctx, audit.RecordInput{
		EventType: "e", Timestamp: time.Now(), ActorType: schemas.PrincipalAgent,
		ActorID: "a1", EntityType: "envelope", EntityID: "env-1", VisibilityLevel: "standard",
		Summary: "original", Snapshot: map[string]any{"n": 1},
	})
	require.NoError(t, err)

	entries, err := l.Query(ctx, store.AuditFilter{EntityID: "env-1"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	entries[0].Summary = "tampered after the fact"

	_, _, mismatches, err := audit.DeepCheck(entries)
	require.NoError(t, err)
	require.Len(t, mismatches, 1)
	assert.Equal(t, entries[0].ID, mismatches[0].EntryID)
}
