package schemas

// Exposure captures the financial and blast-radius magnitude of a proposed action.
type Exposure struct {
	DollarsAtRisk float64 `json:"dollarsAtRisk"`
	BlastRadius   float64 `json:"blastRadius"`
}

// Sensitivity flags context that raises risk independent of exposure (spec §3).
type Sensitivity struct {
	EntityVolatile   bool `json:"entityVolatile"`
	LearningPhase    bool `json:"learningPhase"`
	RecentlyModified bool `json:"recentlyModified"`
}

// RiskInput is what a cartridge supplies to the Risk Scorer (spec §3).
type RiskInput struct {
	BaseRisk      RiskCategory  `json:"baseRisk"`
	Exposure      Exposure      `json:"exposure"`
	Reversibility Reversibility `json:"reversibility"`
	Sensitivity   Sensitivity   `json:"sensitivity"`
}

// RiskFactor is one additive contribution to a RiskScore, kept for auditability (spec §4.3).
type RiskFactor struct {
	Factor      string  `json:"factor"`
	Weight      float64 `json:"weight"`
	Contribution float64 `json:"contribution"`
	Detail      string  `json:"detail"`
}

// RiskScore is the Risk Scorer's output (spec §3).
type RiskScore struct {
	RawScore float64      `json:"rawScore"` // in [0,100]
	Category RiskCategory `json:"category"`
	Factors  []RiskFactor `json:"factors"`
}

// CompositeRiskContext is the burst/spread accounting the Orchestrator
// supplies for the composite-risk adjustment (spec §4.3).
type CompositeRiskContext struct {
	RecentActionCount     int     `json:"recentActionCount"`
	WindowMs               int64   `json:"windowMs"`
	CumulativeExposure     float64 `json:"cumulativeExposure"`
	DistinctTargetEntities int     `json:"distinctTargetEntities"`
	DistinctCartridges     int     `json:"distinctCartridges"`
}
