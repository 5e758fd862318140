package risk

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/switchboard-run/switchboard/pkg/schemas"
)

func TestScorePedestal(t *testing.T) {
	cfg := DefaultConfig()
	s := Score(schemas.RiskInput{BaseRisk: schemas.RiskHigh}, cfg)
	require.Equal(t, 65.0, s.RawScore)
	require.Equal(t, schemas.RiskHigh, s.Category)
	require.Len(t, s.Factors, 1)
}

func TestScoreAdditiveFactors(t *testing.T) {
	cfg := DefaultConfig()
	s := Score(schemas.RiskInput{
		BaseRisk: schemas.RiskLow,
		Exposure: schemas.Exposure{DollarsAtRisk: 5000, BlastRadius: 0.5},
		Reversibility: schemas.ReversibilityNone,
		Sensitivity: schemas.Sensitivity{EntityVolatile: true, LearningPhase: true},
	}, cfg)

	require.Greater(t, s.RawScore, 20.0)
	require.True(t, len(s.Factors) >= 5)
}

func TestScoreClampedAt100(t *testing.T) {
	cfg := DefaultConfig()
	s := Score(schemas.RiskInput{
		BaseRisk: schemas.RiskCritical,
		Exposure: schemas.Exposure{DollarsAtRisk: 1e9, BlastRadius: 1},
		Reversibility: schemas.ReversibilityNone,
		Sensitivity: schemas.Sensitivity{EntityVolatile: true, LearningPhase: true, RecentlyModified: true},
	}, cfg)
	require.Equal(t, 100.0, s.RawScore)
	require.Equal(t, schemas.RiskCritical, s.Category)
}

func TestApplyCompositeOnlyRaises(t *testing.T) {
	cfg := DefaultConfig()
	base := Score(schemas.RiskInput{BaseRisk: schemas.RiskLow}, cfg)

	lowBurst := ApplyComposite(base, schemas.CompositeRiskContext{RecentActionCount: 1}, cfg)
	require.Equal(t, base.RawScore, lowBurst.RawScore)

	burst := ApplyComposite(base, schemas.CompositeRiskContext{
		RecentActionCount:      20,
		DistinctTargetEntities: 2,
		CumulativeExposure:     50000,
	}, cfg)
	require.GreaterOrEqual(t, burst.RawScore, base.RawScore)
	require.GreaterOrEqual(t, burst.Category.Rank(), base.Category.Rank())
}

func TestCategoryThresholds(t *testing.T) {
	require.Equal(t, schemas.RiskNone, categoryFor(0))
	require.Equal(t, schemas.RiskLow, categoryFor(10))
	require.Equal(t, schemas.RiskMedium, categoryFor(40))
	require.Equal(t, schemas.RiskHigh, categoryFor(70))
	require.Equal(t, schemas.RiskCritical, categoryFor(90))
}
