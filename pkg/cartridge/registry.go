package cartridge

import (
	"bytes"
	"sort"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/switchboard-run/switchboard/pkg/errs"
)

// registeredCartridge pairs a live Cartridge implementation with its
// manifest and pre-compiled parameter schemas.
type registeredCartridge struct {
	cartridge Cartridge
	manifest  Manifest
	version   *semver.Version
	schemas   map[string]*jsonschema.Schema
}

// Registry is the semver-guarded cartridge registry (spec §3 "Cartridge
// Registry"): action-type-to-cartridge routing, version admission, and
// parametersSchema validation. Its staged map-plus-index shape and
// deterministic ordering follow the teacher's PackRegistry.
type Registry struct {
	mu sync.RWMutex
	// byID holds every registered version, keyed by cartridgeId then version string.
	byID map[string]map[string]*registeredCartridge
	// activeVersion is the version routing resolves to for each cartridgeId —
	// the highest successfully registered semver.
	activeVersion map[string]*semver.Version
	// byActionType routes an action type to its owning cartridgeId (spec
	// §4 "inferCartridgeId"); an action type belongs to exactly one cartridge.
	byActionType map[string]string
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		byID:          map[string]map[string]*registeredCartridge{},
		activeVersion: map[string]*semver.Version{},
		byActionType:  map[string]string{},
	}
}

// Register admits a cartridge into the registry. Registration fails closed
// if the manifest's version does not parse as semver, if any parameter
// schema fails to compile, or if an action type is already owned by a
// different cartridgeId (spec §4: action types are exclusive to one cartridge).
func (r *Registry) Register(c Cartridge) error {
	m := c.GetManifest()
	if m.CartridgeID == "" {
		return errs.New(errs.Validation, "cartridge manifest missing cartridgeId")
	}
	ver, err := semver.NewVersion(m.Version)
	if err != nil {
		return errs.Wrap(errs.Validation, err, "cartridge manifest version is not valid semver")
	}

	compiled := map[string]*jsonschema.Schema{}
	for actionType, raw := range m.ParametersSchema {
		sc, err := compileSchema(actionType, raw)
		if err != nil {
			return err
		}
		compiled[actionType] = sc
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, actionType := range m.ActionTypes {
		if owner, ok := r.byActionType[actionType]; ok && owner != m.CartridgeID {
			return errs.Newf(errs.Validation, "action type %q is already owned by cartridge %q", actionType, owner)
		}
	}

	if r.byID[m.CartridgeID] == nil {
		r.byID[m.CartridgeID] = map[string]*registeredCartridge{}
	}
	r.byID[m.CartridgeID][m.Version] = &registeredCartridge{
		cartridge: c, manifest: m, version: ver, schemas: compiled,
	}

	if cur, ok := r.activeVersion[m.CartridgeID]; !ok || ver.GreaterThan(cur) {
		r.activeVersion[m.CartridgeID] = ver
	}
	for _, actionType := range m.ActionTypes {
		r.byActionType[actionType] = m.CartridgeID
	}
	return nil
}

func compileSchema(actionType string, raw []byte) (*jsonschema.Schema, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	compiler := jsonschema.NewCompiler()
	resource := "switchboard://cartridge/" + actionType + ".json"
	if err := compiler.AddResource(resource, bytes.NewReader(raw)); err != nil {
		return nil, errs.Wrap(errs.Validation, err, "loading parameters schema for "+actionType)
	}
	sc, err := compiler.Compile(resource)
	if err != nil {
		return nil, errs.Wrap(errs.Validation, err, "compiling parameters schema for "+actionType)
	}
	return sc, nil
}

// InferCartridgeID resolves the cartridge that owns actionType (spec §4
// "inferCartridgeId").
func (r *Registry) InferCartridgeID(actionType string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byActionType[actionType]
	if !ok {
		return "", errs.Newf(errs.NotFound, "no cartridge registered for action type %q", actionType)
	}
	return id, nil
}

// Resolve returns the active registered Cartridge for cartridgeID.
func (r *Registry) Resolve(cartridgeID string) (Cartridge, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rc, err := r.activeLocked(cartridgeID)
	if err != nil {
		return nil, err
	}
	return rc.cartridge, nil
}

// ResolveForActionType is the common-path lookup: action type in, live
// Cartridge out, in one call.
func (r *Registry) ResolveForActionType(actionType string) (Cartridge, error) {
	id, err := r.InferCartridgeID(actionType)
	if err != nil {
		return nil, err
	}
	return r.Resolve(id)
}

func (r *Registry) activeLocked(cartridgeID string) (*registeredCartridge, error) {
	ver, ok := r.activeVersion[cartridgeID]
	if !ok {
		return nil, errs.Newf(errs.NotFound, "cartridge %q is not registered", cartridgeID)
	}
	return r.byID[cartridgeID][ver.Original()], nil
}

// ValidateParameters checks proposal parameters against the active
// registered version's compiled schema for actionType, if one was supplied.
// A cartridge with no schema for an action type admits any parameters.
func (r *Registry) ValidateParameters(actionType string, parameters map[string]any) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cartridgeID, ok := r.byActionType[actionType]
	if !ok {
		return errs.Newf(errs.NotFound, "no cartridge registered for action type %q", actionType)
	}
	rc, err := r.activeLocked(cartridgeID)
	if err != nil {
		return err
	}
	sc, ok := rc.schemas[actionType]
	if !ok || sc == nil {
		return nil
	}
	if err := sc.Validate(toJSONValue(parameters)); err != nil {
		return errs.Wrap(errs.Validation, err, "parameters failed schema validation for "+actionType)
	}
	return nil
}

// toJSONValue converts a map[string]any to the any-tree jsonschema.Validate
// expects (numbers as float64, which Go's map[string]any from JSON already is).
func toJSONValue(m map[string]any) any {
	return map[string]any(m)
}

// Manifests returns every registered cartridge's active manifest, sorted by
// cartridgeId for deterministic listing (spec: admin/introspection surface).
func (r *Registry) Manifests() []Manifest {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Manifest, 0, len(r.activeVersion))
	for id, ver := range r.activeVersion {
		out = append(out, r.byID[id][ver.Original()].manifest)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CartridgeID < out[j].CartridgeID })
	return out
}
