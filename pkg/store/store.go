// Package store defines the persistence contracts Switchboard's core
// packages depend on (spec §6: "one interface per entity"). Each interface
// is intentionally narrow — orchestrator, approval, and audit call through
// these rather than a shared "repository" god-interface, mirroring the
// teacher's per-concern store split (ReceiptStore, Ledger, OutboxStore).
package store

import (
	"context"
	"time"

	"github.com/switchboard-run/switchboard/pkg/errs"
	"github.com/switchboard-run/switchboard/pkg/schemas"
)

// AuditFilter narrows an audit Query (spec §4.9).
type AuditFilter struct {
	EnvelopeID     string
	OrganizationID string
	EntityType     string
	EntityID       string
	Since          time.Time
	Until          time.Time
	Limit          int
}

// EnvelopeStore persists ActionEnvelope aggregates.
type EnvelopeStore interface {
	Get(ctx context.Context, id string) (*schemas.ActionEnvelope, error)
	Create(ctx context.Context, env *schemas.ActionEnvelope) error
	// Update performs an optimistic-version compare-and-swap: it fails with
	// errs.StaleVersion if env.Version-1 does not match the stored version.
	Update(ctx context.Context, env *schemas.ActionEnvelope) error
	ListByPrincipal(ctx context.Context, principalID string, limit int) ([]*schemas.ActionEnvelope, error)
	// GetByIdempotencyKey supports the Orchestrator's idempotency-key replay
	// cache (spec §4.6: "execute ... is idempotent on a caller-supplied key").
	GetByIdempotencyKey(ctx context.Context, key string) (*schemas.ActionEnvelope, error)
	PutIdempotencyKey(ctx context.Context, key, envelopeID string) error
}

// PolicyStore persists Policy records.
type PolicyStore interface {
	List(ctx context.Context, organizationID string) ([]schemas.Policy, error)
	Get(ctx context.Context, id string) (*schemas.Policy, error)
	Put(ctx context.Context, p schemas.Policy) error
	Delete(ctx context.Context, id string) error
}

// IdentityStore persists IdentitySpec and RoleOverlay records.
type IdentityStore interface {
	GetSpec(ctx context.Context, principalID string) (*schemas.IdentitySpec, error)
	PutSpec(ctx context.Context, spec schemas.IdentitySpec) error
	ListOverlays(ctx context.Context, principalID string) ([]schemas.RoleOverlay, error)
	PutOverlay(ctx context.Context, overlay schemas.RoleOverlay) error
	DeleteOverlay(ctx context.Context, id string) error
}

// ApprovalStore persists ApprovalRequest aggregates (spec §4.5, §6:
// "listPending(orgId), updateState(id, state)").
type ApprovalStore interface {
	Get(ctx context.Context, id string) (*schemas.ApprovalRequest, error)
	Create(ctx context.Context, a *schemas.ApprovalRequest) error
	// Update performs an optimistic-version compare-and-swap identical in
	// spirit to EnvelopeStore.Update.
	Update(ctx context.Context, a *schemas.ApprovalRequest) error
	ListPending(ctx context.Context, organizationID string) ([]*schemas.ApprovalRequest, error)
}

// CompetenceStore persists CompetenceRecord rows, one per (principal, actionType).
type CompetenceStore interface {
	Get(ctx context.Context, principalID, actionType string) (*schemas.CompetenceRecord, error)
	Put(ctx context.Context, rec schemas.CompetenceRecord) error
}

// CartridgeRegistration is the persisted record of a registered cartridge
// version, keyed by (cartridgeId, version).
type CartridgeRegistration struct {
	CartridgeID string
	Version     string
	ManifestJSON []byte
	RegisteredAt time.Time
}

// CartridgeRegistryStore persists cartridge manifests by id and semver.
type CartridgeRegistryStore interface {
	Put(ctx context.Context, reg CartridgeRegistration) error
	GetLatest(ctx context.Context, cartridgeID string) (*CartridgeRegistration, error)
	Get(ctx context.Context, cartridgeID, version string) (*CartridgeRegistration, error)
	List(ctx context.Context) ([]CartridgeRegistration, error)
}

// AuditStore persists the append-only hash chain (spec §4.9, §6: "append,
// optional appendAtomic, getLatest, query(filter)").
type AuditStore interface {
	Append(ctx context.Context, entry schemas.AuditEntry) error
	// AppendAtomic appends entry only if the store's current tail hash equals
	// expectedPrevHash, failing with errs.StaleVersion otherwise — the
	// concurrency guard for the chain's single writable tail.
	AppendAtomic(ctx context.Context, entry schemas.AuditEntry, expectedPrevHash string) error
	GetLatest(ctx context.Context) (*schemas.AuditEntry, error)
	Query(ctx context.Context, filter AuditFilter) ([]schemas.AuditEntry, error)
	Get(ctx context.Context, id string) (*schemas.AuditEntry, error)
}

// ErrNotFoundf constructs the errs.NotFound error stores return for a missing row.
func ErrNotFoundf(entity, id string) error {
	return errs.Newf(errs.NotFound, "%s %q not found", entity, id)
}
