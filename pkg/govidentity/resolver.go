// Package govidentity implements the Identity Resolver (spec §4.1): it
// composes a principal's IdentitySpec with the RoleOverlays active for a
// given evaluation context into a single ResolvedIdentity. The resolver is
// pure and side-effect-free — it takes loaded records, not store handles —
// so the Orchestrator can call it without the resolver itself performing I/O.
package govidentity

import (
	"sort"
	"time"

	"github.com/switchboard-run/switchboard/pkg/errs"
	"github.com/switchboard-run/switchboard/pkg/schemas"
)

// EvalContext is the minimal context the resolver needs to decide which
// overlays are active (spec §4.1).
type EvalContext struct {
	ActionType  string
	CartridgeID string
	Now         time.Time
}

// ResolvedIdentity is the merged view of a principal's governance knobs after
// applying all active overlays in priority order (spec §4.1).
type ResolvedIdentity struct {
	PrincipalID               string
	EffectiveRiskTolerance     map[schemas.RiskCategory]schemas.ApprovalRequirement
	EffectiveGlobalSpendLimits schemas.SpendWindow
	EffectiveCartridgeSpendLimits map[string]schemas.SpendWindow
	EffectiveForbiddenBehaviors map[string]bool
	EffectiveTrustBehaviors     map[string]bool
	GovernanceProfile           schemas.GovernanceProfile
	MatchedOverlayIDs           []string
}

// EffectiveSpendLimits selects the spend window to enforce for a given
// cartridge id: cartridge-specific limits override the global ones field by
// field (a cartridge limit set to non-nil wins over the global one, even
// when it is larger).
func (r ResolvedIdentity) EffectiveSpendLimits(cartridgeID string) schemas.SpendWindow {
	base := r.EffectiveGlobalSpendLimits
	override, ok := r.EffectiveCartridgeSpendLimits[cartridgeID]
	if !ok {
		return base
	}
	if override.Daily != nil {
		base.Daily = override.Daily
	}
	if override.Weekly != nil {
		base.Weekly = override.Weekly
	}
	if override.Monthly != nil {
		base.Monthly = override.Monthly
	}
	if override.PerAction != nil {
		base.PerAction = override.PerAction
	}
	return base
}

// Resolve composes spec into a ResolvedIdentity by applying active overlays
// in ascending priority order (spec §4.1: "lower number applied first").
func Resolve(spec schemas.IdentitySpec, overlays []schemas.RoleOverlay, ctx EvalContext) (*ResolvedIdentity, error) {
	if spec.PrincipalID == "" {
		return nil, errs.New(errs.NotFound, "identity spec has no principal id")
	}

	result := &ResolvedIdentity{
		PrincipalID:                 spec.PrincipalID,
		EffectiveRiskTolerance:      cloneToleranceMap(spec.RiskTolerance),
		EffectiveGlobalSpendLimits:  spec.GlobalSpendLimits,
		EffectiveCartridgeSpendLimits: cloneSpendMap(spec.CartridgeSpendLimits),
		EffectiveForbiddenBehaviors: toSet(spec.ForbiddenBehaviors),
		EffectiveTrustBehaviors:     toSet(spec.TrustBehaviors),
		GovernanceProfile:           spec.GovernanceProfile,
	}

	active := make([]schemas.RoleOverlay, 0, len(overlays))
	for _, ov := range overlays {
		if ov.Active && overlayConditionsHold(ov.Conditions, ctx) {
			active = append(active, ov)
		}
	}
	sort.SliceStable(active, func(i, j int) bool { return active[i].Priority < active[j].Priority })

	for _, ov := range active {
		applyOverlay(result, ov)
		result.MatchedOverlayIDs = append(result.MatchedOverlayIDs, ov.ID)
	}

	return result, nil
}

func overlayConditionsHold(c schemas.OverlayConditions, ctx EvalContext) bool {
	if c.TimeWindow != nil && !timeWindowHolds(*c.TimeWindow, ctx.Now) {
		return false
	}
	if len(c.CartridgeIDs) > 0 && !contains(c.CartridgeIDs, ctx.CartridgeID) {
		return false
	}
	if len(c.ActionTypes) > 0 && !contains(c.ActionTypes, ctx.ActionType) {
		return false
	}
	return true
}

func timeWindowHolds(w schemas.TimeWindowCondition, now time.Time) bool {
	loc, err := time.LoadLocation(w.Timezone)
	if err != nil {
		loc = time.UTC
	}
	hour := now.In(loc).Hour()
	if w.StartHour == w.EndHour {
		return true // all-day window
	}
	if w.StartHour < w.EndHour {
		return hour >= w.StartHour && hour < w.EndHour
	}
	// wraps midnight, e.g. 22 -> 6
	return hour >= w.StartHour || hour < w.EndHour
}

func applyOverlay(r *ResolvedIdentity, ov schemas.RoleOverlay) {
	switch ov.Mode {
	case schemas.OverlayRestrict:
		intersectInto(r.EffectiveTrustBehaviors, ov.Overrides.TrustBehaviors)
		unionInto(r.EffectiveForbiddenBehaviors, ov.Overrides.ForbiddenBehaviors)
		tightenSpend(&r.EffectiveGlobalSpendLimits, ov.Overrides.GlobalSpendLimits)
		for cid, w := range ov.Overrides.CartridgeSpendLimits {
			cur := r.EffectiveCartridgeSpendLimits[cid]
			tightenSpend(&cur, &w)
			if r.EffectiveCartridgeSpendLimits == nil {
				r.EffectiveCartridgeSpendLimits = map[string]schemas.SpendWindow{}
			}
			r.EffectiveCartridgeSpendLimits[cid] = cur
		}
	case schemas.OverlayExtend:
		unionInto(r.EffectiveTrustBehaviors, ov.Overrides.TrustBehaviors)
		subtractFrom(r.EffectiveForbiddenBehaviors, ov.Overrides.ForbiddenBehaviors)
		relaxSpend(&r.EffectiveGlobalSpendLimits, ov.Overrides.GlobalSpendLimits)
		for cid, w := range ov.Overrides.CartridgeSpendLimits {
			cur := r.EffectiveCartridgeSpendLimits[cid]
			relaxSpend(&cur, &w)
			if r.EffectiveCartridgeSpendLimits == nil {
				r.EffectiveCartridgeSpendLimits = map[string]schemas.SpendWindow{}
			}
			r.EffectiveCartridgeSpendLimits[cid] = cur
		}
	}
}

// tightenSpend takes the min of cur and overlay per field, treating a nil
// overlay field as "no opinion" (spec §4.1: "treating null as 'no opinion'").
func tightenSpend(cur *schemas.SpendWindow, overlay *schemas.SpendWindow) {
	if overlay == nil {
		return
	}
	cur.Daily = minPtr(cur.Daily, overlay.Daily)
	cur.Weekly = minPtr(cur.Weekly, overlay.Weekly)
	cur.Monthly = minPtr(cur.Monthly, overlay.Monthly)
	cur.PerAction = minPtr(cur.PerAction, overlay.PerAction)
}

// relaxSpend takes the max of cur and overlay per field, with a nil field on
// either side preserving "no limit" (spec §4.1: "max, with null preserving no-limit").
func relaxSpend(cur *schemas.SpendWindow, overlay *schemas.SpendWindow) {
	if overlay == nil {
		return
	}
	cur.Daily = maxPtrOrNil(cur.Daily, overlay.Daily)
	cur.Weekly = maxPtrOrNil(cur.Weekly, overlay.Weekly)
	cur.Monthly = maxPtrOrNil(cur.Monthly, overlay.Monthly)
	cur.PerAction = maxPtrOrNil(cur.PerAction, overlay.PerAction)
}

// minPtr returns the tighter (smaller) of cur (a) and overlay (b). A nil
// overlay means "no opinion" and keeps cur as-is, including a nil cur. A nil
// cur means "no limit" (+Inf), so a concrete overlay value always wins the
// min against it.
func minPtr(a, b *float64) *float64 {
	if b == nil {
		return a
	}
	if a == nil {
		return b
	}
	if *b < *a {
		return b
	}
	return a
}

func maxPtrOrNil(a, b *float64) *float64 {
	if a == nil || b == nil {
		return nil
	}
	if *b > *a {
		return b
	}
	return a
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, i := range items {
		set[i] = true
	}
	return set
}

func cloneToleranceMap(m map[schemas.RiskCategory]schemas.ApprovalRequirement) map[schemas.RiskCategory]schemas.ApprovalRequirement {
	out := make(map[schemas.RiskCategory]schemas.ApprovalRequirement, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneSpendMap(m map[string]schemas.SpendWindow) map[string]schemas.SpendWindow {
	out := make(map[string]schemas.SpendWindow, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func intersectInto(set map[string]bool, keep []string) {
	keepSet := toSet(keep)
	for k := range set {
		if !keepSet[k] {
			delete(set, k)
		}
	}
}

func unionInto(set map[string]bool, add []string) {
	for _, a := range add {
		set[a] = true
	}
}

func subtractFrom(set map[string]bool, remove []string) {
	for _, r := range remove {
		delete(set, r)
	}
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
