// Package risk implements the Risk Scorer (spec §3, §4.3): a weighted,
// explainable score built from a base-risk pedestal plus additive factors,
// with an optional composite-risk adjustment for burst/spread gaming. The
// additive-factor-plus-pedestal shape and the composite adjustment are
// grounded on the teacher's AggregateRiskAccounting in pkg/governance
// (SPEC_FULL.md §C.1).
package risk

import (
	"math"

	"github.com/switchboard-run/switchboard/pkg/schemas"
)

// baseRiskPedestal is the starting score for each BaseRisk category before
// additive factors apply (spec §4.3).
var baseRiskPedestal = map[schemas.RiskCategory]float64{
	schemas.RiskNone:     0,
	schemas.RiskLow:      20,
	schemas.RiskMedium:   40,
	schemas.RiskHigh:     65,
	schemas.RiskCritical: 85,
}

// Config tunes the Scorer's weights; the zero value is not usable, use
// DefaultConfig().
type Config struct {
	// ExposureWeight scales the log-scaled dollar exposure contribution.
	ExposureWeight float64
	// ExposureLogBase normalizes dollarsAtRisk before the log scale is applied.
	ExposureLogBase float64
	// BlastRadiusWeight scales the blastRadius [0,1] contribution directly.
	BlastRadiusWeight float64
	// ReversibilityPenalty maps Reversibility to an additive penalty.
	ReversibilityPenalty map[schemas.Reversibility]float64
	// SensitivityWeights maps each Sensitivity flag to its additive contribution.
	SensitivityWeights SensitivityWeights
	// CompositeWeight scales the composite-risk adjustment (spec §4.3).
	CompositeWeight float64
}

// SensitivityWeights holds the per-flag additive contribution for Sensitivity.
type SensitivityWeights struct {
	EntityVolatile   float64
	LearningPhase    float64
	RecentlyModified float64
}

// DefaultConfig returns Switchboard's built-in scoring weights (spec §4.3
// gives the shape of the formula but leaves exact weights to the deployer;
// these are the defaults a fresh install ships with).
func DefaultConfig() Config {
	return Config{
		ExposureWeight:    8,
		ExposureLogBase:   10,
		BlastRadiusWeight: 15,
		ReversibilityPenalty: map[schemas.Reversibility]float64{
			schemas.ReversibilityFull:    0,
			schemas.ReversibilityPartial: 8,
			schemas.ReversibilityNone:    18,
		},
		SensitivityWeights: SensitivityWeights{
			EntityVolatile:   6,
			LearningPhase:    10,
			RecentlyModified: 5,
		},
		CompositeWeight: 1.0,
	}
}

// Score computes a schemas.RiskScore from input using cfg, recording every
// contributing factor for auditability (spec §4.3: "factors[] kept for
// auditability").
func Score(input schemas.RiskInput, cfg Config) schemas.RiskScore {
	pedestal := baseRiskPedestal[input.BaseRisk]
	factors := []schemas.RiskFactor{{
		Factor:       "base_risk_pedestal",
		Weight:       1,
		Contribution: pedestal,
		Detail:       "pedestal for baseRisk=" + string(input.BaseRisk),
	}}

	total := pedestal

	if input.Exposure.DollarsAtRisk > 0 {
		c := cfg.ExposureWeight * math.Log(1+input.Exposure.DollarsAtRisk) / math.Log(cfg.ExposureLogBase)
		total += c
		factors = append(factors, schemas.RiskFactor{
			Factor: "exposure_dollars", Weight: cfg.ExposureWeight, Contribution: c,
			Detail: "log-scaled dollarsAtRisk",
		})
	}
	if input.Exposure.BlastRadius > 0 {
		c := cfg.BlastRadiusWeight * clamp01(input.Exposure.BlastRadius)
		total += c
		factors = append(factors, schemas.RiskFactor{
			Factor: "exposure_blast_radius", Weight: cfg.BlastRadiusWeight, Contribution: c,
			Detail: "linear blastRadius in [0,1]",
		})
	}
	if p, ok := cfg.ReversibilityPenalty[input.Reversibility]; ok && p != 0 {
		total += p
		factors = append(factors, schemas.RiskFactor{
			Factor: "reversibility_penalty", Weight: p, Contribution: p,
			Detail: "penalty for reversibility=" + string(input.Reversibility),
		})
	}
	if input.Sensitivity.EntityVolatile {
		total += cfg.SensitivityWeights.EntityVolatile
		factors = append(factors, schemas.RiskFactor{Factor: "sensitivity_entity_volatile", Weight: cfg.SensitivityWeights.EntityVolatile, Contribution: cfg.SensitivityWeights.EntityVolatile})
	}
	if input.Sensitivity.LearningPhase {
		total += cfg.SensitivityWeights.LearningPhase
		factors = append(factors, schemas.RiskFactor{Factor: "sensitivity_learning_phase", Weight: cfg.SensitivityWeights.LearningPhase, Contribution: cfg.SensitivityWeights.LearningPhase})
	}
	if input.Sensitivity.RecentlyModified {
		total += cfg.SensitivityWeights.RecentlyModified
		factors = append(factors, schemas.RiskFactor{Factor: "sensitivity_recently_modified", Weight: cfg.SensitivityWeights.RecentlyModified, Contribution: cfg.SensitivityWeights.RecentlyModified})
	}

	total = clamp(total, 0, 100)

	return schemas.RiskScore{
		RawScore: total,
		Category: categoryFor(total),
		Factors:  factors,
	}
}

// ApplyComposite adjusts a score upward using burst/spread accounting (spec
// §4.3: "an aggregate window... raises risk when many small actions would
// otherwise each individually clear the bar"), grounded on the teacher's
// AggregateRiskAccounting. It only ever raises the score and category,
// never lowers them.
func ApplyComposite(base schemas.RiskScore, composite schemas.CompositeRiskContext, cfg Config) schemas.RiskScore {
	if composite.RecentActionCount <= 1 {
		return base
	}

	// burst grows with recent action count and with concentration (actions
	// per distinct target entity), so bursts against few targets raise it
	// most. DistinctCartridges does not enter the formula.
	spread := 1.0
	if composite.DistinctTargetEntities > 0 {
		spread = float64(composite.RecentActionCount) / float64(composite.DistinctTargetEntities)
	}
	burst := cfg.CompositeWeight * math.Log(1+float64(composite.RecentActionCount)) * clamp(spread/4, 0.25, 3)
	exposureBoost := 0.0
	if composite.CumulativeExposure > 0 {
		exposureBoost = cfg.CompositeWeight * math.Log(1+composite.CumulativeExposure) / math.Log(100)
	}

	adjusted := clamp(base.RawScore+burst+exposureBoost, 0, 100)
	if adjusted <= base.RawScore {
		return base
	}

	factors := append(append([]schemas.RiskFactor{}, base.Factors...), schemas.RiskFactor{
		Factor: "composite_risk_adjustment", Weight: cfg.CompositeWeight, Contribution: adjusted - base.RawScore,
		Detail: "burst/spread accounting over recent action window",
	})

	return schemas.RiskScore{
		RawScore: adjusted,
		Category: categoryFor(adjusted).Max(base.Category),
		Factors:  factors,
	}
}

func categoryFor(score float64) schemas.RiskCategory {
	switch {
	case score >= 80:
		return schemas.RiskCritical
	case score >= 60:
		return schemas.RiskHigh
	case score >= 35:
		return schemas.RiskMedium
	case score >= 10:
		return schemas.RiskLow
	default:
		return schemas.RiskNone
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clamp01(v float64) float64 { return clamp(v, 0, 1) }
