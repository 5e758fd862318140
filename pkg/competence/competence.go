// Package competence maintains each principal's track record for an action
// type (spec §3, §4.6 step 7: "Update CompetenceRecord" after every
// execution). Decay is implemented as discrete, lazy decay applied on read
// (spec §9 Open Question c) rather than a background job, grounded on the
// teacher's lazy-interest-accrual pattern in pkg/ledger (balances are
// recomputed from lastAccrualAt at the moment they're read, not ticked by a
// clock).
package competence

import (
	"time"

	"github.com/switchboard-run/switchboard/pkg/schemas"
)

// DecayPeriod is the interval after which one decay step is applied.
const DecayPeriod = 30 * 24 * time.Hour

// DecayFactor pulls Score toward 0.5 (neutral) by this fraction per elapsed
// DecayPeriod, so a principal who stops acting drifts back to neutral
// standing rather than keeping a stale high or low score indefinitely.
const DecayFactor = 0.1

const neutralScore = 0.5

// ApplyDecay returns rec with any whole DecayPeriods elapsed since
// LastDecayAppliedAt applied, and LastDecayAppliedAt advanced by that many
// whole periods (never past now). A zero LastDecayAppliedAt is initialized
// to now without decaying, so a freshly created record never decays against
// its own creation.
func ApplyDecay(rec schemas.CompetenceRecord, now time.Time) schemas.CompetenceRecord {
	if rec.LastDecayAppliedAt.IsZero() {
		rec.LastDecayAppliedAt = now
		return rec
	}
	elapsed := now.Sub(rec.LastDecayAppliedAt)
	periods := int(elapsed / DecayPeriod)
	if periods <= 0 {
		return rec
	}
	for i := 0; i < periods; i++ {
		rec.Score += (neutralScore - rec.Score) * DecayFactor
	}
	rec.LastDecayAppliedAt = rec.LastDecayAppliedAt.Add(time.Duration(periods) * DecayPeriod)
	return rec
}

// Outcome is the disposition of one completed execution (spec §3
// CompetenceHistoryEntry.outcome).
type Outcome string

const (
	OutcomeSuccess  Outcome = "success"
	OutcomeFailure  Outcome = "failure"
	OutcomeRollback Outcome = "rollback"
)

// scoreDelta is the additive nudge to Score for one outcome, clamped to
// [0,1] by Record. Successes build trust slowly; rollbacks (an operator
// undoing the agent's work) cost more than a plain failure because they
// signal the agent's own action needed correcting.
var scoreDelta = map[Outcome]float64{
	OutcomeSuccess:  0.02,
	OutcomeFailure:  -0.05,
	OutcomeRollback: -0.08,
}

// Record applies decay for the elapsed time since the record's last decay,
// then folds in one new outcome (spec §4.6 step 7), appending a
// CompetenceHistoryEntry. principalID/actionType seed a fresh record when
// rec is the zero value.
func Record(rec schemas.CompetenceRecord, principalID, actionType string, outcome Outcome, envelopeID string, now time.Time) schemas.CompetenceRecord {
	if rec.PrincipalID == "" {
		rec = schemas.CompetenceRecord{PrincipalID: principalID, ActionType: actionType, Score: neutralScore}
	}
	rec = ApplyDecay(rec, now)

	switch outcome {
	case OutcomeSuccess:
		rec.SuccessCount++
		rec.ConsecutiveSuccesses++
	case OutcomeFailure:
		rec.FailureCount++
		rec.ConsecutiveSuccesses = 0
	case OutcomeRollback:
		rec.RollbackCount++
		rec.ConsecutiveSuccesses = 0
	}

	rec.Score = clamp01(rec.Score + scoreDelta[outcome])
	rec.LastActivityAt = now
	rec.History = append(rec.History, schemas.CompetenceHistoryEntry{
		Timestamp: now, Outcome: string(outcome), EnvelopeID: envelopeID,
	})
	return rec
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
