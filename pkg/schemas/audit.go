package schemas

import "time"

// EvidencePointer references evidentiary material attached to an AuditEntry (spec §3).
type EvidencePointer struct {
	Type       string `json:"type"` // currently always "inline"
	Hash       string `json:"hash"`
	StorageRef string `json:"storageRef,omitempty"`
}

// AuditEntry is one hash-chained record in the audit ledger (spec §3, §4.9).
type AuditEntry struct {
	ID                string            `json:"id"`
	EventType         string            `json:"eventType"`
	Timestamp         time.Time         `json:"timestamp"`
	ActorType         PrincipalType     `json:"actorType"`
	ActorID           string            `json:"actorId"`
	EntityType        string            `json:"entityType"`
	EntityID          string            `json:"entityId"`
	RiskCategory       RiskCategory     `json:"riskCategory,omitempty"`
	VisibilityLevel   string            `json:"visibilityLevel"`
	Summary           string            `json:"summary"`
	Snapshot          map[string]any    `json:"snapshot"`
	EvidencePointers  []EvidencePointer `json:"evidencePointers,omitempty"`
	RedactionApplied  bool              `json:"redactionApplied"`
	RedactedFields    []string          `json:"redactedFields,omitempty"`
	ChainHashVersion  int               `json:"chainHashVersion"`
	SchemaVersion     int               `json:"schemaVersion"`
	EntryHash         string            `json:"entryHash"`
	PreviousEntryHash string            `json:"previousEntryHash,omitempty"`
	EnvelopeID        string            `json:"envelopeId,omitempty"`
	OrganizationID    string            `json:"organizationId,omitempty"`
	TraceID           string            `json:"traceId,omitempty"`
}

// hashableEntry is the entry-minus-entryHash view §4.7 hashes to produce
// EntryHash. Keeping it as a distinct (unexported) type means the hash input
// can never accidentally include the field it's computing.
type hashableEntry struct {
	ID                string            `json:"id"`
	EventType         string            `json:"eventType"`
	Timestamp         time.Time         `json:"timestamp"`
	ActorType         PrincipalType     `json:"actorType"`
	ActorID           string            `json:"actorId"`
	EntityType        string            `json:"entityType"`
	EntityID          string            `json:"entityId"`
	RiskCategory       RiskCategory     `json:"riskCategory,omitempty"`
	VisibilityLevel   string            `json:"visibilityLevel"`
	Summary           string            `json:"summary"`
	Snapshot          map[string]any    `json:"snapshot"`
	EvidencePointers  []EvidencePointer `json:"evidencePointers,omitempty"`
	RedactionApplied  bool              `json:"redactionApplied"`
	RedactedFields    []string          `json:"redactedFields,omitempty"`
	ChainHashVersion  int               `json:"chainHashVersion"`
	SchemaVersion     int               `json:"schemaVersion"`
	PreviousEntryHash string            `json:"previousEntryHash,omitempty"`
	EnvelopeID        string            `json:"envelopeId,omitempty"`
	OrganizationID    string            `json:"organizationId,omitempty"`
	TraceID           string            `json:"traceId,omitempty"`
}

// ForHashing projects the entry's hashed fields, excluding EntryHash itself.
func (e AuditEntry) ForHashing() any {
	return hashableEntry{
		ID: e.ID, EventType: e.EventType, Timestamp: e.Timestamp,
		ActorType: e.ActorType, ActorID: e.ActorID,
		EntityType: e.EntityType, EntityID: e.EntityID,
		RiskCategory: e.RiskCategory, VisibilityLevel: e.VisibilityLevel,
		Summary: e.Summary, Snapshot: e.Snapshot,
		EvidencePointers: e.EvidencePointers, RedactionApplied: e.RedactionApplied,
		RedactedFields: e.RedactedFields, ChainHashVersion: e.ChainHashVersion,
		SchemaVersion: e.SchemaVersion, PreviousEntryHash: e.PreviousEntryHash,
		EnvelopeID: e.EnvelopeID, OrganizationID: e.OrganizationID, TraceID: e.TraceID,
	}
}
