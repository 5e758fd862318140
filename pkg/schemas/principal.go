package schemas

// Principal is the actor on whose behalf an action is proposed. Switchboard
// consumes a principal id resolved elsewhere (it "does not replace identity
// providers", spec §1); this struct is the minimal shape the core needs.
type Principal struct {
	ID             string        `json:"id"`
	Type           PrincipalType `json:"type"`
	Name           string        `json:"name"`
	OrganizationID string        `json:"organizationId,omitempty"`
	Roles          []string      `json:"roles"`
}

// SpendWindow bounds cumulative spend for one rollup window. A nil field
// means "no limit" (spec §3 IdentitySpec).
type SpendWindow struct {
	Daily     *float64 `json:"daily,omitempty"`
	Weekly    *float64 `json:"weekly,omitempty"`
	Monthly   *float64 `json:"monthly,omitempty"`
	PerAction *float64 `json:"perAction,omitempty"`
}

// IdentitySpec holds a principal's governance knobs (spec §3).
type IdentitySpec struct {
	PrincipalID        string                                   `json:"principalId"`
	RiskTolerance      map[RiskCategory]ApprovalRequirement      `json:"riskTolerance"`
	GlobalSpendLimits  SpendWindow                               `json:"globalSpendLimits"`
	CartridgeSpendLimits map[string]SpendWindow                  `json:"spendLimits"`
	ForbiddenBehaviors []string                                  `json:"forbiddenBehaviors"`
	TrustBehaviors     []string                                  `json:"trustBehaviors"`
	GovernanceProfile  GovernanceProfile                         `json:"governanceProfile,omitempty"`
}

// TimeWindowCondition restricts an overlay to a recurring time-of-day range
// in a stated timezone (spec §4.1).
type TimeWindowCondition struct {
	Timezone  string `json:"timezone"`
	StartHour int    `json:"startHour"` // 0-23, inclusive
	EndHour   int    `json:"endHour"`   // 0-23, exclusive unless EndHour==StartHour (all-day)
}

// OverlayConditions are the conjunctive gates an overlay must satisfy to be active.
type OverlayConditions struct {
	TimeWindow  *TimeWindowCondition `json:"timeWindow,omitempty"`
	CartridgeIDs []string            `json:"cartridgeIds,omitempty"`
	ActionTypes  []string            `json:"actionTypes,omitempty"`
}

// OverlayOverrides are the set/limit deltas a RoleOverlay applies (spec §4.1).
type OverlayOverrides struct {
	TrustBehaviors     []string                `json:"trustBehaviors,omitempty"`
	ForbiddenBehaviors []string                `json:"forbiddenBehaviors,omitempty"`
	GlobalSpendLimits  *SpendWindow            `json:"globalSpendLimits,omitempty"`
	CartridgeSpendLimits map[string]SpendWindow `json:"spendLimits,omitempty"`
}

// RoleOverlay is a conditional modifier merged into a ResolvedIdentity (spec §3, §4.1).
type RoleOverlay struct {
	ID         string            `json:"id"`
	PrincipalID string           `json:"principalId"`
	Mode       OverlayMode       `json:"mode"`
	Priority   int               `json:"priority"`
	Active     bool              `json:"active"`
	Conditions OverlayConditions `json:"conditions"`
	Overrides  OverlayOverrides  `json:"overrides"`
}
