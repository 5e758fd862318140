package schemas

import "time"

// CompetenceHistoryEntry is one outcome recorded against a competence record.
type CompetenceHistoryEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Outcome   string    `json:"outcome"` // "success" | "failure" | "rollback"
	EnvelopeID string   `json:"envelopeId"`
}

// CompetenceRecord tracks a principal's track record for one action type (spec §3).
type CompetenceRecord struct {
	PrincipalID         string                   `json:"principalId"`
	ActionType          string                   `json:"actionType"`
	SuccessCount        int64                    `json:"successCount"`
	FailureCount        int64                    `json:"failureCount"`
	RollbackCount       int64                    `json:"rollbackCount"`
	ConsecutiveSuccesses int64                   `json:"consecutiveSuccesses"`
	Score               float64                  `json:"score"` // [0,1]
	LastActivityAt      time.Time                `json:"lastActivityAt"`
	LastDecayAppliedAt  time.Time                `json:"lastDecayAppliedAt"`
	History             []CompetenceHistoryEntry `json:"history"`
}
