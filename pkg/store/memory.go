package store

import (
	"context"
	"sort"
	"sync"

	"github.com/switchboard-run/switchboard/pkg/errs"
	"github.com/switchboard-run/switchboard/pkg/schemas"
)

// Memory aggregates one in-memory implementation per store interface
// (spec §6: "one interface per entity") behind a single constructor, the
// way a development/test wiring typically wants "give me a store for
// everything" without the interfaces themselves collapsing into one type —
// mirroring the teacher's split of ReceiptStore/Ledger/OutboxStore into
// distinct concrete types rather than one god-struct.
type Memory struct {
	Envelopes  *MemoryEnvelopeStore
	Policies   *MemoryPolicyStore
	Identities *MemoryIdentityStore
	Approvals  *MemoryApprovalStore
	Competence *MemoryCompetenceStore
	Cartridges *MemoryCartridgeStore
	Audit      *MemoryAuditStore
}

// NewMemory constructs an empty Memory aggregate.
func NewMemory() *Memory {
	return &Memory{
		Envelopes:  NewMemoryEnvelopeStore(),
		Policies:   NewMemoryPolicyStore(),
		Identities: NewMemoryIdentityStore(),
		Approvals:  NewMemoryApprovalStore(),
		Competence: NewMemoryCompetenceStore(),
		Cartridges: NewMemoryCartridgeStore(),
		Audit:      NewMemoryAuditStore(),
	}
}

func competenceKey(principalID, actionType string) string { return principalID + "\x00" + actionType }

// --- MemoryEnvelopeStore ---

type MemoryEnvelopeStore struct {
	mu              sync.RWMutex
	byID            map[string]schemas.ActionEnvelope
	idempotencyKeys map[string]string
}

func NewMemoryEnvelopeStore() *MemoryEnvelopeStore {
	return &MemoryEnvelopeStore{byID: map[string]schemas.ActionEnvelope{}, idempotencyKeys: map[string]string{}}
}

func (m *MemoryEnvelopeStore) Get(ctx context.Context, id string) (*schemas.ActionEnvelope, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFoundf("envelope", id)
	}
	return &e, nil
}

func (m *MemoryEnvelopeStore) Create(ctx context.Context, env *schemas.ActionEnvelope) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byID[env.ID]; exists {
		return errs.Newf(errs.Validation, "envelope %q already exists", env.ID)
	}
	m.byID[env.ID] = *env
	return nil
}

func (m *MemoryEnvelopeStore) Update(ctx context.Context, env *schemas.ActionEnvelope) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.byID[env.ID]
	if !ok {
		return ErrNotFoundf("envelope", env.ID)
	}
	if cur.Version != env.Version-1 {
		return errs.Newf(errs.StaleVersion, "envelope %q: expected version %d, have %d", env.ID, env.Version-1, cur.Version)
	}
	m.byID[env.ID] = *env
	return nil
}

func (m *MemoryEnvelopeStore) ListByPrincipal(ctx context.Context, principalID string, limit int) ([]*schemas.ActionEnvelope, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*schemas.ActionEnvelope
	for _, e := range m.byID {
		if e.PrincipalID == principalID {
			cp := e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryEnvelopeStore) GetByIdempotencyKey(ctx context.Context, key string) (*schemas.ActionEnvelope, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	envID, ok := m.idempotencyKeys[key]
	if !ok {
		return nil, ErrNotFoundf("idempotency key", key)
	}
	e, ok := m.byID[envID]
	if !ok {
		return nil, ErrNotFoundf("envelope", envID)
	}
	return &e, nil
}

func (m *MemoryEnvelopeStore) PutIdempotencyKey(ctx context.Context, key, envelopeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.idempotencyKeys[key] = envelopeID
	return nil
}

// --- MemoryPolicyStore ---

type MemoryPolicyStore struct {
	mu sync.RWMutex
	byID map[string]schemas.Policy
}

func NewMemoryPolicyStore() *MemoryPolicyStore {
	return &MemoryPolicyStore{byID: map[string]schemas.Policy{}}
}

func (m *MemoryPolicyStore) List(ctx context.Context, organizationID string) ([]schemas.Policy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []schemas.Policy
	for _, p := range m.byID {
		if p.OrganizationID == nil || *p.OrganizationID == organizationID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out, nil
}

func (m *MemoryPolicyStore) Get(ctx context.Context, id string) (*schemas.Policy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFoundf("policy", id)
	}
	return &p, nil
}

func (m *MemoryPolicyStore) Put(ctx context.Context, p schemas.Policy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[p.ID] = p
	return nil
}

func (m *MemoryPolicyStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byID, id)
	return nil
}

// --- MemoryIdentityStore ---

type MemoryIdentityStore struct {
	mu       sync.RWMutex
	specs    map[string]schemas.IdentitySpec
	overlays map[string]schemas.RoleOverlay
}

func NewMemoryIdentityStore() *MemoryIdentityStore {
	return &MemoryIdentityStore{specs: map[string]schemas.IdentitySpec{}, overlays: map[string]schemas.RoleOverlay{}}
}

func (m *MemoryIdentityStore) GetSpec(ctx context.Context, principalID string) (*schemas.IdentitySpec, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.specs[principalID]
	if !ok {
		return nil, ErrNotFoundf("identity spec", principalID)
	}
	return &s, nil
}

func (m *MemoryIdentityStore) PutSpec(ctx context.Context, spec schemas.IdentitySpec) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.specs[spec.PrincipalID] = spec
	return nil
}

func (m *MemoryIdentityStore) ListOverlays(ctx context.Context, principalID string) ([]schemas.RoleOverlay, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []schemas.RoleOverlay
	for _, o := range m.overlays {
		if o.PrincipalID == principalID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (m *MemoryIdentityStore) PutOverlay(ctx context.Context, overlay schemas.RoleOverlay) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.overlays[overlay.ID] = overlay
	return nil
}

func (m *MemoryIdentityStore) DeleteOverlay(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.overlays, id)
	return nil
}

// --- MemoryApprovalStore ---

type MemoryApprovalStore struct {
	mu   sync.RWMutex
	byID map[string]schemas.ApprovalRequest
}

func NewMemoryApprovalStore() *MemoryApprovalStore {
	return &MemoryApprovalStore{byID: map[string]schemas.ApprovalRequest{}}
}

func (m *MemoryApprovalStore) Get(ctx context.Context, id string) (*schemas.ApprovalRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFoundf("approval", id)
	}
	return &a, nil
}

func (m *MemoryApprovalStore) Create(ctx context.Context, a *schemas.ApprovalRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byID[a.ID]; exists {
		return errs.Newf(errs.Validation, "approval %q already exists", a.ID)
	}
	m.byID[a.ID] = *a
	return nil
}

func (m *MemoryApprovalStore) Update(ctx context.Context, a *schemas.ApprovalRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.byID[a.ID]
	if !ok {
		return ErrNotFoundf("approval", a.ID)
	}
	if cur.Version != a.Version-1 {
		return errs.Newf(errs.StaleVersion, "approval %q: expected version %d, have %d", a.ID, a.Version-1, cur.Version)
	}
	m.byID[a.ID] = *a
	return nil
}

func (m *MemoryApprovalStore) ListPending(ctx context.Context, organizationID string) ([]*schemas.ApprovalRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*schemas.ApprovalRequest
	for _, a := range m.byID {
		if a.Status == schemas.ApprovalPending {
			cp := a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// --- MemoryCompetenceStore ---

type MemoryCompetenceStore struct {
	mu   sync.RWMutex
	byID map[string]schemas.CompetenceRecord
}

func NewMemoryCompetenceStore() *MemoryCompetenceStore {
	return &MemoryCompetenceStore{byID: map[string]schemas.CompetenceRecord{}}
}

func (m *MemoryCompetenceStore) Get(ctx context.Context, principalID, actionType string) (*schemas.CompetenceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.byID[competenceKey(principalID, actionType)]
	if !ok {
		return nil, ErrNotFoundf("competence record", competenceKey(principalID, actionType))
	}
	return &r, nil
}

func (m *MemoryCompetenceStore) Put(ctx context.Context, rec schemas.CompetenceRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[competenceKey(rec.PrincipalID, rec.ActionType)] = rec
	return nil
}

// --- MemoryCartridgeStore ---

type MemoryCartridgeStore struct {
	mu         sync.RWMutex
	cartridges map[string]map[string]CartridgeRegistration
}

func NewMemoryCartridgeStore() *MemoryCartridgeStore {
	return &MemoryCartridgeStore{cartridges: map[string]map[string]CartridgeRegistration{}}
}

func (m *MemoryCartridgeStore) Put(ctx context.Context, reg CartridgeRegistration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cartridges[reg.CartridgeID] == nil {
		m.cartridges[reg.CartridgeID] = map[string]CartridgeRegistration{}
	}
	m.cartridges[reg.CartridgeID][reg.Version] = reg
	return nil
}

func (m *MemoryCartridgeStore) GetLatest(ctx context.Context, cartridgeID string) (*CartridgeRegistration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	versions, ok := m.cartridges[cartridgeID]
	if !ok || len(versions) == 0 {
		return nil, ErrNotFoundf("cartridge", cartridgeID)
	}
	var latest *CartridgeRegistration
	for _, reg := range versions {
		r := reg
		if latest == nil || r.RegisteredAt.After(latest.RegisteredAt) {
			latest = &r
		}
	}
	return latest, nil
}

func (m *MemoryCartridgeStore) Get(ctx context.Context, cartridgeID, version string) (*CartridgeRegistration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	versions, ok := m.cartridges[cartridgeID]
	if !ok {
		return nil, ErrNotFoundf("cartridge", cartridgeID)
	}
	reg, ok := versions[version]
	if !ok {
		return nil, ErrNotFoundf("cartridge version", cartridgeID+"@"+version)
	}
	return &reg, nil
}

func (m *MemoryCartridgeStore) List(ctx context.Context) ([]CartridgeRegistration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []CartridgeRegistration
	for _, versions := range m.cartridges {
		for _, reg := range versions {
			out = append(out, reg)
		}
	}
	return out, nil
}

// --- MemoryAuditStore ---

type MemoryAuditStore struct {
	mu      sync.RWMutex
	entries []schemas.AuditEntry
	byID    map[string]int
}

func NewMemoryAuditStore() *MemoryAuditStore {
	return &MemoryAuditStore{byID: map[string]int{}}
}

func (m *MemoryAuditStore) Append(ctx context.Context, entry schemas.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLocked(entry)
}

func (m *MemoryAuditStore) appendLocked(entry schemas.AuditEntry) error {
	if _, exists := m.byID[entry.ID]; exists {
		return errs.Newf(errs.Validation, "audit entry %q already exists", entry.ID)
	}
	m.byID[entry.ID] = len(m.entries)
	m.entries = append(m.entries, entry)
	return nil
}

func (m *MemoryAuditStore) AppendAtomic(ctx context.Context, entry schemas.AuditEntry, expectedPrevHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var tail string
	if n := len(m.entries); n > 0 {
		tail = m.entries[n-1].EntryHash
	}
	if tail != expectedPrevHash {
		return errs.Newf(errs.StaleVersion, "audit chain tail changed: expected prev hash %q, have %q", expectedPrevHash, tail)
	}
	return m.appendLocked(entry)
}

func (m *MemoryAuditStore) GetLatest(ctx context.Context) (*schemas.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.entries) == 0 {
		return nil, nil
	}
	e := m.entries[len(m.entries)-1]
	return &e, nil
}

func (m *MemoryAuditStore) Get(ctx context.Context, id string) (*schemas.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	idx, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFoundf("audit entry", id)
	}
	e := m.entries[idx]
	return &e, nil
}

func (m *MemoryAuditStore) Query(ctx context.Context, filter AuditFilter) ([]schemas.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []schemas.AuditEntry
	for _, e := range m.entries {
		if filter.EnvelopeID != "" && e.EnvelopeID != filter.EnvelopeID {
			continue
		}
		if filter.OrganizationID != "" && e.OrganizationID != filter.OrganizationID {
			continue
		}
		if filter.EntityType != "" && e.EntityType != filter.EntityType {
			continue
		}
		if filter.EntityID != "" && e.EntityID != filter.EntityID {
			continue
		}
		if !filter.Since.IsZero() && e.Timestamp.Before(filter.Since) {
			continue
		}
		if !filter.Until.IsZero() && e.Timestamp.After(filter.Until) {
			continue
		}
		out = append(out, e)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// compile-time interface assertions
var (
	_ EnvelopeStore         = (*MemoryEnvelopeStore)(nil)
	_ PolicyStore           = (*MemoryPolicyStore)(nil)
	_ IdentityStore         = (*MemoryIdentityStore)(nil)
	_ ApprovalStore         = (*MemoryApprovalStore)(nil)
	_ CompetenceStore       = (*MemoryCompetenceStore)(nil)
	_ CartridgeRegistryStore = (*MemoryCartridgeStore)(nil)
	_ AuditStore            = (*MemoryAuditStore)(nil)
)
