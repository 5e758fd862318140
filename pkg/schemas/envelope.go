package schemas

import "time"

// ExecuteResult is the outcome of a cartridge execute() call (spec §3).
type ExecuteResult struct {
	Success          bool           `json:"success"`
	Summary          string         `json:"summary"`
	ExternalRefs     []string       `json:"externalRefs,omitempty"`
	RollbackAvailable bool          `json:"rollbackAvailable"`
	PartialFailures  []string       `json:"partialFailures,omitempty"`
	DurationMs       int64          `json:"durationMs"`
	UndoRecipe       *UndoRecipe    `json:"undoRecipe,omitempty"`
}

// UndoRecipe describes the reverse action to synthesize on undo (spec §3).
type UndoRecipe struct {
	ReverseActionType string         `json:"reverseActionType"`
	ReverseParameters map[string]any `json:"reverseParameters"`
	UndoExpiresAt     time.Time      `json:"undoExpiresAt"`
}

// ActionEnvelope is the per-lifecycle aggregate (spec §3). It is immutable
// except for monotonic status transitions and list appends — see
// EnvelopeStatus.Terminal and Orchestrator's version bump on every mutation.
type ActionEnvelope struct {
	ID                string           `json:"id"`
	Version           int64            `json:"version"`
	IncomingMessageID string           `json:"incomingMessage,omitempty"`
	Proposals         []ActionProposal `json:"proposals"`
	ResolvedEntities  []ResolvedEntity `json:"resolvedEntities"`
	Plan              *string          `json:"plan,omitempty"`
	Decisions         []DecisionTrace  `json:"decisions"`
	ApprovalRequestIDs []string        `json:"approvalRequests"`
	ExecutionResults  []ExecuteResult  `json:"executionResults"`
	AuditEntryIDs     []string         `json:"auditEntryIds"`
	Status            EnvelopeStatus   `json:"status"`
	ParentEnvelopeID  string           `json:"parentEnvelopeId,omitempty"`
	TraceID           string           `json:"traceId"`
	PrincipalID       string           `json:"principalId"`
	OrganizationID    string           `json:"organizationId,omitempty"`
	CreatedAt         time.Time        `json:"createdAt"`
	UpdatedAt         time.Time        `json:"updatedAt"`
}

// LatestDecision returns the most recently appended DecisionTrace, if any.
func (e *ActionEnvelope) LatestDecision() *DecisionTrace {
	if len(e.Decisions) == 0 {
		return nil
	}
	return &e.Decisions[len(e.Decisions)-1]
}

// LatestProposal returns the most recently appended ActionProposal, if any.
func (e *ActionEnvelope) LatestProposal() *ActionProposal {
	if len(e.Proposals) == 0 {
		return nil
	}
	return &e.Proposals[len(e.Proposals)-1]
}
