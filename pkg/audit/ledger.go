// Package audit implements the Audit Ledger (spec §3, §4.9): an
// append-only, hash-chained log over a store.AuditStore backend. Entry
// hashing and chain/deep verification are grounded on the teacher's
// append-only Ledger (core/pkg/ledger/ledger.go): content hash over
// {sequence-equivalent fields, data, prevHash}, headHash tracking, and a
// Verify walk that recomputes every hash. Switchboard substitutes §4.7's
// canonical-JSON (RFC 8785) hash for the teacher's plain json.Marshal hash.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/switchboard-run/switchboard/pkg/canonical"
	"github.com/switchboard-run/switchboard/pkg/errs"
	"github.com/switchboard-run/switchboard/pkg/store"
	"github.com/switchboard-run/switchboard/pkg/schemas"
)

// Ledger wraps a store.AuditStore with the append/hash/verify behavior spec
// §4.9 names. It serializes every append in-process and also appends
// through the store's AppendAtomic, so a tail changed by another writer
// fails with errs.StaleVersion.
type Ledger struct {
	store    store.AuditStore
	redactor *Redactor

	appendMu chanMutex
}

// chanMutex is a buffered-channel mutex so Append can select against ctx.Done
// instead of blocking forever on a contended in-process chain tail.
type chanMutex chan struct{}

func newChanMutex() chanMutex {
	c := make(chanMutex, 1)
	c <- struct{}{}
	return c
}

func (c chanMutex) lock(ctx context.Context) error {
	select {
	case <-c:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c chanMutex) unlock() { c <- struct{}{} }

// NewLedger builds a Ledger over backend, redacting snapshot fields through
// redactor before they are ever hashed (spec §4.9 "Redaction": "nulls/stars
// sensitive keys in the snapshot before hashing"). A nil redactor applies no
// redaction.
func NewLedger(backend store.AuditStore, redactor *Redactor) *Ledger {
	return &Ledger{store: backend, redactor: redactor, appendMu: newChanMutex()}
}

// RecordInput is what a caller supplies to append one entry; Ledger fills in
// ID, ChainHashVersion, SchemaVersion, PreviousEntryHash, and EntryHash.
type RecordInput struct {
	EventType        string
	Timestamp        time.Time
	ActorType        schemas.PrincipalType
	ActorID          string
	EntityType       string
	EntityID         string
	RiskCategory     schemas.RiskCategory
	VisibilityLevel  string
	Summary          string
	Snapshot         map[string]any
	EvidencePointers []schemas.EvidencePointer
	EnvelopeID       string
	OrganizationID   string
	TraceID          string
}

const (
	chainHashVersion = 1
	schemaVersion    = 1
)

// Record builds, hashes, and appends one AuditEntry (spec §4.9 "Append
// contract"). Holding the in-process lock, it reads the store's current
// tail, applies redaction, computes the entry hash over §4.7's canonical
// JSON, and appends via AppendAtomic against that tail.
func (l *Ledger) Record(ctx context.Context, in RecordInput) (*schemas.AuditEntry, error) {
	if err := l.appendMu.lock(ctx); err != nil {
		return nil, errs.Wrap(errs.Transient, err, "acquiring audit append lock")
	}
	defer l.appendMu.unlock()

	latest, err := l.store.GetLatest(ctx)
	if err != nil {
		return nil, err
	}
	var prevHash string
	if latest != nil {
		prevHash = latest.EntryHash
	}

	snapshot, redactionApplied, redactedFields := l.redactor.apply(in.Snapshot)

	entry := schemas.AuditEntry{
		ID:                uuid.NewString(),
		EventType:         in.EventType,
		Timestamp:         in.Timestamp,
		ActorType:         in.ActorType,
		ActorID:           in.ActorID,
		EntityType:        in.EntityType,
		EntityID:          in.EntityID,
		RiskCategory:      in.RiskCategory,
		VisibilityLevel:   in.VisibilityLevel,
		Summary:           in.Summary,
		Snapshot:          snapshot,
		EvidencePointers:  in.EvidencePointers,
		RedactionApplied:  redactionApplied,
		RedactedFields:    redactedFields,
		ChainHashVersion:  chainHashVersion,
		SchemaVersion:     schemaVersion,
		PreviousEntryHash: prevHash,
		EnvelopeID:        in.EnvelopeID,
		OrganizationID:    in.OrganizationID,
		TraceID:           in.TraceID,
	}

	hash, err := canonical.Hash(entry.ForHashing())
	if err != nil {
		return nil, errs.Wrap(errs.Fatal, err, "hashing audit entry")
	}
	entry.EntryHash = hash

	if err := l.store.AppendAtomic(ctx, entry, prevHash); err != nil {
		return nil, err
	}
	return &entry, nil
}

// Query delegates to the backing store.
func (l *Ledger) Query(ctx context.Context, filter store.AuditFilter) ([]schemas.AuditEntry, error) {
	return l.store.Query(ctx, filter)
}

// ChainBreak describes the first (or one) broken link found by ChainCheck.
type ChainBreak struct {
	Index    int
	Expected string
	Actual   string
}

// ChainCheck verifies entries[i].PreviousEntryHash == entries[i-1].EntryHash
// for every consecutive pair (spec §4.9 "Chain check"), returning the index
// of the first break, or ok=true if none exists. entries must be in append
// order.
func ChainCheck(entries []schemas.AuditEntry) (ok bool, brk ChainBreak) {
	var prev string
	for i, e := range entries {
		if i > 0 && e.PreviousEntryHash != prev {
			return false, ChainBreak{Index: i, Expected: prev, Actual: e.PreviousEntryHash}
		}
		prev = e.EntryHash
	}
	return true, ChainBreak{}
}

// Mismatch is one entry whose recomputed hash disagrees with its stored one.
type Mismatch struct {
	Index        int
	EntryID      string
	StoredHash   string
	ComputedHash string
}

// DeepCheck recomputes every entry's hash from its fields and compares it
// against the stored EntryHash (spec §4.9 "Deep check"), in addition to the
// chain-link check ChainCheck performs. Returns every mismatch found, not
// just the first.
func DeepCheck(entries []schemas.AuditEntry) (chainOK bool, firstBreak ChainBreak, mismatches []Mismatch, err error) {
	chainOK, firstBreak = ChainCheck(entries)
	for i, e := range entries {
		computed, hashErr := canonical.Hash(e.ForHashing())
		if hashErr != nil {
			return chainOK, firstBreak, mismatches, errs.Wrap(errs.Fatal, hashErr, "recomputing audit entry hash")
		}
		if computed != e.EntryHash {
			mismatches = append(mismatches, Mismatch{Index: i, EntryID: e.ID, StoredHash: e.EntryHash, ComputedHash: computed})
		}
	}
	return chainOK, firstBreak, mismatches, nil
}
