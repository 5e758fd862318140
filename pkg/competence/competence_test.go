package competence_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/switchboard-run/switchboard/pkg/competence"
	"github.com/switchboard-run/switchboard/pkg/schemas"
)

func TestRecordSeedsFreshRecordAtNeutral(t *testing.T) {
	now := time.Now()
	rec := competence.Record(schemas.CompetenceRecord{}, "p1", "crm.note.add", competence.OutcomeSuccess, "env-1", now)
	assert.Equal(t, "p1", rec.PrincipalID)
	assert.Equal(t, "crm.note.add", rec.ActionType)
	assert.Equal(t, int64(1), rec.SuccessCount)
	assert.Equal(t, int64(1), rec.ConsecutiveSuccesses)
	assert.InDelta(t, 0.52, rec.Score, 0.001)
	assert.Len(t, rec.History, 1)
}

func TestRecordFailureResetsConsecutiveSuccesses(t *testing.T) {
	now := time.Now()
	rec := competence.Record(schemas.CompetenceRecord{}, "p1", "a", competence.OutcomeSuccess, "e1", now)
	rec = competence.Record(rec, "p1", "a", competence.OutcomeSuccess, "e2", now.Add(time.Minute))
	assert.Equal(t, int64(2), rec.ConsecutiveSuccesses)

	rec = competence.Record(rec, "p1", "a", competence.OutcomeFailure, "e3", now.Add(2*time.Minute))
	assert.Equal(t, int64(0), rec.ConsecutiveSuccesses)
	assert.Equal(t, int64(1), rec.FailureCount)
}

func TestApplyDecayPullsScoreTowardNeutral(t *testing.T) {
	now := time.Now()
	rec := schemas.CompetenceRecord{Score: 0.9, LastDecayAppliedAt: now.Add(-2 * competence.DecayPeriod)}
	decayed := competence.ApplyDecay(rec, now)
	assert.Less(t, decayed.Score, 0.9)
	assert.Greater(t, decayed.Score, 0.5)
	assert.Equal(t, rec.LastDecayAppliedAt.Add(2*competence.DecayPeriod), decayed.LastDecayAppliedAt)
}

func TestApplyDecayNoOpWithinOnePeriod(t *testing.T) {
	now := time.Now()
	rec := schemas.CompetenceRecord{Score: 0.9, LastDecayAppliedAt: now.Add(-time.Hour)}
	decayed := competence.ApplyDecay(rec, now)
	assert.Equal(t, rec.Score, decayed.Score)
}

func TestApplyDecayInitializesZeroTimestampWithoutDecaying(t *testing.T) {
	now := time.Now()
	rec := schemas.CompetenceRecord{Score: 0.9}
	decayed := competence.ApplyDecay(rec, now)
	assert.Equal(t, 0.9, decayed.Score)
	assert.Equal(t, now, decayed.LastDecayAppliedAt)
}

func TestRecordScoreClampedToUnitInterval(t *testing.T) {
	now := time.Now()
	rec := schemas.CompetenceRecord{PrincipalID: "p1", ActionType: "a", Score: 0.99}
	rec = competence.Record(rec, "p1", "a", competence.OutcomeSuccess, "e1", now)
	assert.LessOrEqual(t, rec.Score, 1.0)
}
