// Package rules implements the Rule Evaluator (spec §3, §4.2): a recursive
// boolean tree of conditions evaluated against a flattened, dotted-path
// context. Its structure follows the teacher's CEL-backed predicate
// evaluator in pkg/prg, generalized from a single predicate language to
// Switchboard's fixed operator set plus a CEL escape hatch.
package rules

import (
	"fmt"
	"sort"
)

// Context is the flattened evaluation context a Rule is checked against.
// Keys are dotted paths such as "action.type", "parameters.amount",
// "risk.category", "principal.id", "enrichment.accountAge", "time.hour".
type Context map[string]any

// Flatten walks nested maps/structs-as-maps under prefix and produces the
// dotted-path Context the Evaluator consumes. Non-map leaf values (including
// slices) are kept intact rather than further flattened, since "in"/"contains"
// operate on whole slice values.
func Flatten(prefix string, v any) Context {
	out := Context{}
	flattenInto(prefix, v, out)
	return out
}

func flattenInto(prefix string, v any, out Context) {
	switch m := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			path := k
			if prefix != "" {
				path = prefix + "." + k
			}
			flattenInto(path, m[k], out)
		}
	default:
		if prefix != "" {
			out[prefix] = v
		}
	}
}

// Merge layers additional namespaced contexts onto a base Context, returning
// a new combined Context. Later arguments win on key collision.
func Merge(layers ...Context) Context {
	out := Context{}
	for _, l := range layers {
		for k, v := range l {
			out[k] = v
		}
	}
	return out
}

// Lookup resolves a dotted path, reporting whether it was present. A present
// key with a nil value still reports ok=true — exists/not_exists distinguish
// "absent" from "present but null".
func (c Context) Lookup(path string) (any, bool) {
	v, ok := c[path]
	return v, ok
}

func (c Context) String() string {
	return fmt.Sprintf("Context(%d keys)", len(c))
}
