// Package cartridge implements the Cartridge SDK contract and Registry
// (spec §3, §4 "Cartridge Contract"): the plugin boundary between
// Switchboard's core and the domain-specific systems it governs. The
// Registry's staged-publish, semver-guarded shape is grounded on the
// teacher's PackRegistry (core/pkg/registry/pack_registry.go).
package cartridge

import (
	"context"
	"encoding/json"
	"time"

	"github.com/switchboard-run/switchboard/pkg/schemas"
)

// Manifest describes a cartridge's identity, the action types it serves,
// and the JSON Schema each action type's parameters must satisfy (spec §3).
type Manifest struct {
	CartridgeID      string                     `json:"cartridgeId"`
	Version          string                     `json:"version"` // semver
	DisplayName      string                     `json:"displayName"`
	ActionTypes      []string                   `json:"actionTypes"`
	ParametersSchema map[string]json.RawMessage `json:"parametersSchema"` // actionType -> JSON Schema document
}

// Cartridge is the interface every plugin implements (spec §3: manifest,
// resolveEntity, enrichContext, getRiskInput, execute, getGuardrails,
// healthCheck, captureSnapshot).
type Cartridge interface {
	GetManifest() Manifest
	ResolveEntity(ctx context.Context, ref schemas.EntityRef) (schemas.ResolvedEntity, error)
	EnrichContext(ctx context.Context, proposal schemas.ActionProposal, resolved []schemas.ResolvedEntity) (map[string]any, error)
	GetRiskInput(ctx context.Context, proposal schemas.ActionProposal, enrichment map[string]any) (schemas.RiskInput, error)
	Execute(ctx context.Context, proposal schemas.ActionProposal, enrichment map[string]any) (schemas.ExecuteResult, error)
	GetGuardrails(ctx context.Context, principalID string) (Guardrails, error)
	HealthCheck(ctx context.Context) HealthStatus
	CaptureSnapshot(ctx context.Context, proposal schemas.ActionProposal) (map[string]any, error)
}

// Guardrails is a cartridge's self-reported operating limits, layered
// underneath the identity/policy-derived limits (spec §4 guardrail state).
type Guardrails struct {
	RateLimitPerMinute int                      `json:"rateLimitPerMinute,omitempty"`
	CooldownSeconds    int                      `json:"cooldownSeconds,omitempty"`
	ProtectedEntities  []string                 `json:"protectedEntities,omitempty"`
	SpendLimits        *schemas.SpendWindow     `json:"spendLimits,omitempty"`
}

// HealthStatus is the result of a cartridge's healthCheck call, grounded on
// the teacher's health-reporting convention (SPEC_FULL.md §B).
type HealthStatus struct {
	Healthy   bool      `json:"healthy"`
	Detail    string    `json:"detail,omitempty"`
	CheckedAt time.Time `json:"checkedAt"`
}
