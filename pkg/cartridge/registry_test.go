package cartridge_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/switchboard-run/switchboard/pkg/cartridge"
	"github.com/switchboard-run/switchboard/pkg/errs"
	"github.com/switchboard-run/switchboard/pkg/schemas"
)

// fakeCartridge is a minimal Cartridge used only to exercise Registry behavior.
type fakeCartridge struct {
	manifest cartridge.Manifest
}

func (f *fakeCartridge) GetManifest() cartridge.Manifest { return f.manifest }
func (f *fakeCartridge) ResolveEntity(ctx context.Context, ref schemas.EntityRef) (schemas.ResolvedEntity, error) {
	return schemas.ResolvedEntity{Ref: ref, EntityID: "ent-1"}, nil
}
func (f *fakeCartridge) EnrichContext(ctx context.Context, p schemas.ActionProposal, resolved []schemas.ResolvedEntity) (map[string]any, error) {
	return map[string]any{}, nil
}
func (f *fakeCartridge) GetRiskInput(ctx context.Context, p schemas.ActionProposal, enrichment map[string]any) (schemas.RiskInput, error) {
	return schemas.RiskInput{}, nil
}
func (f *fakeCartridge) Execute(ctx context.Context, p schemas.ActionProposal, enrichment map[string]any) (schemas.ExecuteResult, error) {
	return schemas.ExecuteResult{}, nil
}
func (f *fakeCartridge) GetGuardrails(ctx context.Context, principalID string) (cartridge.Guardrails, error) {
	return cartridge.Guardrails{}, nil
}
func (f *fakeCartridge) HealthCheck(ctx context.Context) cartridge.HealthStatus {
	return cartridge.HealthStatus{Healthy: true, CheckedAt: time.Unix(0, 0)}
}
func (f *fakeCartridge) CaptureSnapshot(ctx context.Context, p schemas.ActionProposal) (map[string]any, error) {
	return map[string]any{}, nil
}

func mustSchema(t *testing.T, schema string) json.RawMessage {
	t.Helper()
	return json.RawMessage(schema)
}

func TestRegistryRegisterAndResolve(t *testing.T) {
	r := cartridge.NewRegistry()
	c := &fakeCartridge{manifest: cartridge.Manifest{
		CartridgeID: "billing",
		Version:     "1.0.0",
		DisplayName: "Billing",
		ActionTypes: []string{"billing.refund"},
		ParametersSchema: map[string]json.RawMessage{
			"billing.refund": mustSchema(t, `{
				"type": "object",
				"required": ["amount"],
				"properties": {"amount": {"type": "number", "minimum": 0}}
			}`),
		},
	}}

	require.NoError(t, r.Register(c))

	id, err := r.InferCartridgeID("billing.refund")
	require.NoError(t, err)
	assert.Equal(t, "billing", id)

	resolved, err := r.ResolveForActionType("billing.refund")
	require.NoError(t, err)
	assert.Same(t, c, resolved)

	err = r.ValidateParameters("billing.refund", map[string]any{"amount": 10.0})
	assert.NoError(t, err)

	err = r.ValidateParameters("billing.refund", map[string]any{"amount": -5.0})
	assert.Error(t, err)
	assert.Equal(t, errs.Validation, errs.KindOf(err))
}

func TestRegistryRejectsInvalidSemver(t *testing.T) {
	r := cartridge.NewRegistry()
	c := &fakeCartridge{manifest: cartridge.Manifest{
		CartridgeID: "billing",
		Version:     "not-a-version",
		ActionTypes: []string{"billing.refund"},
	}}
	err := r.Register(c)
	require.Error(t, err)
	assert.Equal(t, errs.Validation, errs.KindOf(err))
}

func TestRegistryHighestVersionWins(t *testing.T) {
	r := cartridge.NewRegistry()
	v1 := &fakeCartridge{manifest: cartridge.Manifest{CartridgeID: "billing", Version: "1.0.0", ActionTypes: []string{"billing.refund"}}}
	v2 := &fakeCartridge{manifest: cartridge.Manifest{CartridgeID: "billing", Version: "1.2.0", ActionTypes: []string{"billing.refund"}}}

	require.NoError(t, r.Register(v1))
	require.NoError(t, r.Register(v2))

	resolved, err := r.Resolve("billing")
	require.NoError(t, err)
	assert.Same(t, v2, resolved)

	// Registering an older version afterward must not demote the active one.
	v0 := &fakeCartridge{manifest: cartridge.Manifest{CartridgeID: "billing", Version: "0.9.0", ActionTypes: []string{"billing.refund"}}}
	require.NoError(t, r.Register(v0))
	resolved, err = r.Resolve("billing")
	require.NoError(t, err)
	assert.Same(t, v2, resolved)
}

func TestRegistryRejectsActionTypeOwnershipConflict(t *testing.T) {
	r := cartridge.NewRegistry()
	first := &fakeCartridge{manifest: cartridge.Manifest{CartridgeID: "billing", Version: "1.0.0", ActionTypes: []string{"refund"}}}
	second := &fakeCartridge{manifest: cartridge.Manifest{CartridgeID: "payroll", Version: "1.0.0", ActionTypes: []string{"refund"}}}

	require.NoError(t, r.Register(first))
	err := r.Register(second)
	require.Error(t, err)
	assert.Equal(t, errs.Validation, errs.KindOf(err))
}

func TestRegistryUnknownActionTypeNotFound(t *testing.T) {
	r := cartridge.NewRegistry()
	_, err := r.InferCartridgeID("nonexistent")
	require.Error(t, err)
	assert.Equal(t, errs.NotFound, errs.KindOf(err))
}

func TestRegistryManifestsSortedByID(t *testing.T) {
	r := cartridge.NewRegistry()
	require.NoError(t, r.Register(&fakeCartridge{manifest: cartridge.Manifest{CartridgeID: "zeta", Version: "1.0.0"}}))
	require.NoError(t, r.Register(&fakeCartridge{manifest: cartridge.Manifest{CartridgeID: "alpha", Version: "1.0.0"}}))

	manifests := r.Manifests()
	require.Len(t, manifests, 2)
	assert.Equal(t, "alpha", manifests[0].CartridgeID)
	assert.Equal(t, "zeta", manifests[1].CartridgeID)
}
