package schemas

import "time"

// ApprovalRequest is the pending-human-decision aggregate (spec §3).
type ApprovalRequest struct {
	ID              string          `json:"id"`
	EnvelopeID      string          `json:"envelopeId"`
	Summary         string          `json:"summary"`
	RiskCategory    RiskCategory    `json:"riskCategory"`
	BindingHash     string          `json:"bindingHash"`
	EvidenceBundle  []string        `json:"evidenceBundle,omitempty"`
	Approvers       []string        `json:"approvers"`
	FallbackApprover string         `json:"fallbackApprover,omitempty"`
	EscalationDelay time.Duration   `json:"escalationDelay,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	ExpiresAt       time.Time       `json:"expiresAt"`
	ExpiredBehavior ExpiredBehavior `json:"expiredBehavior"`
	Status          ApprovalStatus  `json:"status"`
	RespondedBy     string          `json:"respondedBy,omitempty"`
	RespondedAt     *time.Time      `json:"respondedAt,omitempty"`
	PatchValue      map[string]any  `json:"patchValue,omitempty"`
	Version         int64           `json:"version"`
}

// CanFallback reports whether the fallback approver may act at now,
// i.e. the escalation delay (measured from CreatedAt, spec §9 Open Question a)
// has elapsed.
func (a *ApprovalRequest) CanFallback(now time.Time) bool {
	if a.FallbackApprover == "" {
		return false
	}
	return now.Sub(a.CreatedAt) >= a.EscalationDelay
}

// IsApprover reports whether who is an authorized responder at now: a listed
// approver always qualifies, the fallback approver qualifies once the
// escalation delay has elapsed.
func (a *ApprovalRequest) IsApprover(who string, now time.Time) bool {
	for _, id := range a.Approvers {
		if id == who {
			return true
		}
	}
	return who != "" && who == a.FallbackApprover && a.CanFallback(now)
}
