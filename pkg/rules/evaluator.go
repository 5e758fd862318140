package rules

import (
	"reflect"
	"regexp"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/switchboard-run/switchboard/pkg/errs"
	"github.com/switchboard-run/switchboard/pkg/schemas"
)

// ConditionResult is the per-leaf evidence an evaluation records (spec §3:
// "evaluate(rule, context) -> {matched, conditionResults[]}").
type ConditionResult struct {
	Field    string              `json:"field"`
	Operator schemas.RuleOperator `json:"operator"`
	Expected any                 `json:"expected,omitempty"`
	Actual   any                 `json:"actual,omitempty"`
	Matched  bool                `json:"matched"`
}

// Result is the Evaluator's full verdict for one Rule.
type Result struct {
	Matched          bool              `json:"matched"`
	ConditionResults []ConditionResult `json:"conditionResults"`
}

// Evaluator evaluates Rule trees against a Context. It owns a CEL
// environment so expression-typed conditions (operator "cel") are compiled
// once and cached, mirroring the teacher's program-cache pattern.
type Evaluator struct {
	env       *cel.Env
	mu        sync.RWMutex
	compiled  map[string]cel.Program
}

// NewEvaluator builds an Evaluator with a CEL environment that treats every
// flattened context field as a dynamic top-level variable lookup through a
// single "ctx" map, so CEL expressions in policy data can reference
// "ctx['risk.category']" without a fixed schema.
func NewEvaluator() (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("ctx", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, errs.Wrap(errs.Fatal, err, "building CEL environment")
	}
	return &Evaluator{env: env, compiled: map[string]cel.Program{}}, nil
}

// Evaluate walks rule recursively, returning its match verdict and the
// flattened list of leaf ConditionResults in tree order (spec §4.2).
func (e *Evaluator) Evaluate(rule schemas.Rule, ctx Context) (Result, error) {
	var results []ConditionResult
	matched, err := e.evalNode(rule, ctx, &results)
	if err != nil {
		return Result{}, err
	}
	return Result{Matched: matched, ConditionResults: results}, nil
}

func (e *Evaluator) evalNode(rule schemas.Rule, ctx Context, results *[]ConditionResult) (bool, error) {
	if len(rule.Conditions) == 0 && len(rule.Children) == 0 {
		return true, nil
	}

	var leafMatches []bool
	for _, cond := range rule.Conditions {
		m, cr, err := e.evalCondition(cond, ctx)
		if err != nil {
			return false, err
		}
		*results = append(*results, cr)
		leafMatches = append(leafMatches, m)
	}

	var childMatches []bool
	for _, child := range rule.Children {
		m, err := e.evalNode(child, ctx, results)
		if err != nil {
			return false, err
		}
		childMatches = append(childMatches, m)
	}

	all := append(leafMatches, childMatches...)
	switch rule.Composition {
	case schemas.CompositionOR:
		return anyTrue(all), nil
	case schemas.CompositionNOT:
		// NOT negates the conjunction of its members (spec §4.2: a NOT node
		// wraps exactly one logical group and inverts it).
		return !allTrue(all), nil
	default:
		// "" and AND both mean conjunction — a bare leaf list with no
		// composition set defaults to AND (spec §3: "a node with neither
		// Conditions nor Children evaluates to true" implies empty-AND=true).
		return allTrue(all), nil
	}
}

func allTrue(bs []bool) bool {
	for _, b := range bs {
		if !b {
			return false
		}
	}
	return true
}

func anyTrue(bs []bool) bool {
	for _, b := range bs {
		if b {
			return true
		}
	}
	return false
}

func (e *Evaluator) evalCondition(cond schemas.RuleCondition, ctx Context) (bool, ConditionResult, error) {
	if cond.Operator == schemas.OpCEL {
		m, err := e.evalCEL(cond, ctx)
		cr := ConditionResult{Field: cond.Field, Operator: cond.Operator, Expected: cond.Value, Matched: m}
		return m, cr, err
	}

	actual, present := ctx.Lookup(cond.Field)
	cr := ConditionResult{Field: cond.Field, Operator: cond.Operator, Expected: cond.Value, Actual: actual}

	switch cond.Operator {
	case schemas.OpExists:
		cr.Matched = present
	case schemas.OpNotExists:
		cr.Matched = !present
	case schemas.OpEq:
		cr.Matched = present && looseEqual(actual, cond.Value)
	case schemas.OpNeq:
		cr.Matched = !present || !looseEqual(actual, cond.Value)
	case schemas.OpGt, schemas.OpGte, schemas.OpLt, schemas.OpLte:
		if !present {
			cr.Matched = false
			break
		}
		a, aok := toFloat(actual)
		b, bok := toFloat(cond.Value)
		if !aok || !bok {
			return false, cr, errs.Newf(errs.Validation, "operator %s requires numeric operands at field %q", cond.Operator, cond.Field)
		}
		switch cond.Operator {
		case schemas.OpGt:
			cr.Matched = a > b
		case schemas.OpGte:
			cr.Matched = a >= b
		case schemas.OpLt:
			cr.Matched = a < b
		case schemas.OpLte:
			cr.Matched = a <= b
		}
	case schemas.OpIn:
		cr.Matched = present && memberOf(actual, cond.Value)
	case schemas.OpNotIn:
		cr.Matched = !present || !memberOf(actual, cond.Value)
	case schemas.OpContains:
		cr.Matched = present && memberOf(cond.Value, actual)
	case schemas.OpNotContains:
		cr.Matched = !present || !memberOf(cond.Value, actual)
	case schemas.OpMatches:
		pattern, ok := cond.Value.(string)
		if !ok {
			return false, cr, errs.Newf(errs.Validation, "operator matches requires a string pattern at field %q", cond.Field)
		}
		s, sok := actual.(string)
		if !present || !sok {
			cr.Matched = false
			break
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return false, cr, errs.Wrap(errs.Validation, err, "compiling matches pattern")
		}
		cr.Matched = re.MatchString(s)
	default:
		return false, cr, errs.Newf(errs.Validation, "unknown rule operator %q", cond.Operator)
	}
	return cr.Matched, cr, nil
}

func (e *Evaluator) evalCEL(cond schemas.RuleCondition, ctx Context) (bool, error) {
	expr, ok := cond.Value.(string)
	if !ok {
		return false, errs.New(errs.Validation, "cel condition value must be a string expression")
	}

	prg, err := e.program(expr)
	if err != nil {
		return false, err
	}

	out, _, err := prg.Eval(map[string]any{"ctx": map[string]any(ctx)})
	if err != nil {
		return false, errs.Wrap(errs.Validation, err, "evaluating cel expression")
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, errs.Newf(errs.Validation, "cel expression %q did not evaluate to a bool", expr)
	}
	return b, nil
}

func (e *Evaluator) program(expr string) (cel.Program, error) {
	e.mu.RLock()
	prg, ok := e.compiled[expr]
	e.mu.RUnlock()
	if ok {
		return prg, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if prg, ok := e.compiled[expr]; ok {
		return prg, nil
	}

	ast, iss := e.env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, errs.Wrap(errs.Validation, iss.Err(), "compiling cel expression")
	}
	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, errs.Wrap(errs.Validation, err, "building cel program")
	}
	e.compiled[expr] = prg
	return prg, nil
}

func looseEqual(a, b any) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af == bf
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	default:
		return 0, false
	}
}

func memberOf(needle, haystack any) bool {
	rv := reflect.ValueOf(haystack)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		for i := 0; i < rv.Len(); i++ {
			if looseEqual(needle, rv.Index(i).Interface()) {
				return true
			}
		}
		return false
	default:
		return looseEqual(needle, haystack)
	}
}

// Validate reports a structural error (unknown operator, malformed CEL
// expression) without requiring a Context, for cartridge/policy admission.
func (e *Evaluator) Validate(rule schemas.Rule) error {
	for _, cond := range rule.Conditions {
		if cond.Operator == schemas.OpCEL {
			expr, ok := cond.Value.(string)
			if !ok {
				return errs.New(errs.Validation, "cel condition value must be a string expression")
			}
			if _, err := e.program(expr); err != nil {
				return err
			}
			continue
		}
		switch cond.Operator {
		case schemas.OpEq, schemas.OpNeq, schemas.OpGt, schemas.OpGte, schemas.OpLt, schemas.OpLte,
			schemas.OpIn, schemas.OpNotIn, schemas.OpContains, schemas.OpNotContains,
			schemas.OpMatches, schemas.OpExists, schemas.OpNotExists:
		default:
			return errs.Newf(errs.Validation, "unknown rule operator %q", cond.Operator)
		}
	}
	for _, child := range rule.Children {
		if err := e.Validate(child); err != nil {
			return err
		}
	}
	return nil
}
