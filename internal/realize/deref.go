package realize

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/gocty"
)

// MaxPasses bounds the number of resolution passes made by Dereference.
const MaxPasses = 8

var (
	exprPattern = regexp.MustCompile(`(?s)\{\{\s*(.*?)\s*\}\}`)
	envPattern  = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)
)

// Ambient names resolved from the Context rather than the configuration.
const (
	nameCycle     = "cycle"
	nameLeadtime  = "leadtime"
	nameValidTime = "valid_time"
	nameEnv       = "env"
)

type refStatus int

const (
	refResolved refStatus = iota
	refPending
	refMissing
	refNull
)

// passState collects what a single pass could not resolve.
type passState struct {
	deferred []string
	blocked  []*UnresolvedReferenceError
}

type resolver struct {
	root   *Map
	ctx    Context
	parsed map[string]*expression
}

// Dereference resolves every ${NAME} and {{ expression }} in cfg against
// ctx and returns the realized configuration. cfg is not modified.
//
// Each pass walks the tree depth-first in key order. A reference whose
// target still holds an expression is deferred to a later pass. Resolution
// stops when a pass changes nothing; leftover deferred references are
// reported as unresolved (missing or null targets) or cyclic.
func Dereference(cfg *Config, ctx Context) (*Config, error) {
	r := &resolver{
		root:   cfg.root.Clone(),
		ctx:    ctx,
		parsed: make(map[string]*expression),
	}

	for pass := 1; pass <= MaxPasses; pass++ {
		st := &passState{}
		changed, err := r.walkMap(r.root, "", st)
		if err != nil {
			return nil, err
		}

		if len(st.deferred) == 0 && len(st.blocked) == 0 {
			if !changed {
				return &Config{root: r.root}, nil
			}
			continue
		}
		if !changed {
			if len(st.blocked) > 0 {
				return nil, st.blocked[0]
			}
			return nil, &CyclicReferenceError{Locations: st.deferred, Passes: pass}
		}
	}

	pending := pendingLocations(r.root, "")
	if len(pending) == 0 {
		return &Config{root: r.root}, nil
	}
	return nil, &CyclicReferenceError{Locations: pending, Passes: MaxPasses}
}

func (r *resolver) walkMap(m *Map, path string, st *passState) (bool, error) {
	changed := false
	for _, k := range m.keys {
		nv, c, err := r.resolveValue(m.values[k], joinPath(path, k), st)
		if err != nil {
			return false, err
		}
		if c {
			m.values[k] = nv
			changed = true
		}
	}
	return changed, nil
}

func (r *resolver) resolveValue(v any, loc string, st *passState) (any, bool, error) {
	switch t := v.(type) {
	case string:
		return r.resolveString(t, loc, st)
	case *Map:
		c, err := r.walkMap(t, loc, st)
		return t, c, err
	case []any:
		changed := false
		for i, item := range t {
			nv, c, err := r.resolveValue(item, joinPath(loc, fmt.Sprint(i)), st)
			if err != nil {
				return nil, false, err
			}
			if c {
				t[i] = nv
				changed = true
			}
		}
		return t, changed, nil
	default:
		return v, false, nil
	}
}

func (r *resolver) resolveString(s, loc string, st *passState) (any, bool, error) {
	out := r.substituteEnv(s)
	changed := out != s

	matches := exprPattern.FindAllStringSubmatchIndex(out, -1)
	if len(matches) == 0 {
		return out, changed, nil
	}

	if len(matches) == 1 && matches[0][0] == 0 && matches[0][1] == len(out) {
		body := out[matches[0][2]:matches[0][3]]
		v, ok, err := r.evaluate(body, loc, st)
		if err != nil || !ok {
			return out, changed, err
		}
		return finalizeValue(v), true, nil
	}

	var sb strings.Builder
	last := 0
	for _, m := range matches {
		sb.WriteString(out[last:m[0]])
		last = m[1]

		body := out[m[2]:m[3]]
		v, ok, err := r.evaluate(body, loc, st)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			sb.WriteString(out[m[0]:m[1]])
			continue
		}
		text, err := Stringify(finalizeValue(v))
		if err != nil {
			return nil, false, &ExpressionError{Location: loc, Expr: body, Message: err.Error()}
		}
		sb.WriteString(text)
	}
	sb.WriteString(out[last:])

	result := sb.String()
	return result, changed || result != out, nil
}

func (r *resolver) substituteEnv(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return envPattern.ReplaceAllStringFunc(s, func(m string) string {
		name := m[2 : len(m)-1]
		if v, ok := r.ctx.Env[name]; ok {
			return v
		}
		return m
	})
}

// evaluate returns the value of one expression body. ok is false when the
// expression has to wait for a later pass or is blocked; the reason is
// recorded in st.
func (r *resolver) evaluate(body, loc string, st *passState) (any, bool, error) {
	e, err := r.parse(body)
	if err != nil {
		return nil, false, &ExpressionError{Location: loc, Expr: body, Message: err.Error()}
	}

	for _, trav := range e.traversals() {
		status, reason := r.inspect(trav)
		switch status {
		case refPending:
			st.deferred = append(st.deferred, loc)
			return nil, false, nil
		case refMissing, refNull:
			st.blocked = append(st.blocked, &UnresolvedReferenceError{Location: loc, Expr: body, Reason: reason})
			return nil, false, nil
		}
	}

	if e.bare != nil {
		if v, ok := r.lookupTraversal(e.bare.Traversal); ok {
			return v, true, nil
		}
	}

	vars, err := r.variables(e)
	if err != nil {
		return nil, false, &ExpressionError{Location: loc, Expr: body, Message: err.Error()}
	}
	v, err := e.eval(vars)
	if err != nil {
		return nil, false, &ExpressionError{Location: loc, Expr: body, Message: err.Error()}
	}
	return v, true, nil
}

func (r *resolver) parse(body string) (*expression, error) {
	if e, ok := r.parsed[body]; ok {
		return e, nil
	}
	e, err := parseExpression(body)
	if err != nil {
		return nil, err
	}
	r.parsed[body] = e
	return e, nil
}

// inspect reports whether the value a traversal points to can be used now.
func (r *resolver) inspect(trav hcl.Traversal) (refStatus, string) {
	name := trav.RootName()
	path := traversalString(trav)

	switch name {
	case nameCycle, nameValidTime:
		if r.ctx.Cycle == nil {
			return refMissing, fmt.Sprintf("%s requires a cycle", name)
		}
		return refResolved, ""
	case nameLeadtime:
		if r.ctx.Leadtime == nil {
			return refMissing, "no leadtime was given"
		}
		return refResolved, ""
	case nameEnv:
		if len(trav) > 1 {
			steps, ok := traversalSteps(trav)
			if ok && len(steps) > 0 {
				if _, present := r.ctx.Env[steps[0]]; !present {
					return refMissing, fmt.Sprintf("environment variable %q is not set", steps[0])
				}
			}
		}
		return refResolved, ""
	}

	cur, ok := r.root.Get(name)
	if !ok {
		return refMissing, fmt.Sprintf("key %q not found", path)
	}

	steps, ok := traversalSteps(trav)
	if !ok {
		// Leave unusual traversals to the evaluator.
		return refResolved, ""
	}
	for _, step := range steps {
		if s, isString := cur.(string); isString && exprPattern.MatchString(s) {
			return refPending, ""
		}
		switch t := cur.(type) {
		case nil:
			return refNull, fmt.Sprintf("%q passes through a null value", path)
		case *Map:
			next, found := t.Get(step)
			if !found {
				return refMissing, fmt.Sprintf("key %q not found", path)
			}
			cur = next
		case []any:
			next, err := lookup(t, []string{step}, path)
			if err != nil {
				return refMissing, fmt.Sprintf("index %q out of range in %q", step, path)
			}
			cur = next
		default:
			return refMissing, fmt.Sprintf("key %q not found: %s is not a mapping or sequence", path, KindOf(cur))
		}
	}

	if cur == nil {
		return refNull, fmt.Sprintf("%q is null", path)
	}
	if containsExpression(cur) {
		return refPending, ""
	}
	return refResolved, ""
}

// lookupTraversal returns the value of a bare path without going through
// cty, which keeps integer and mapping values exactly as configured.
func (r *resolver) lookupTraversal(trav hcl.Traversal) (any, bool) {
	steps, ok := traversalSteps(trav)
	if !ok {
		return nil, false
	}

	var root any
	switch name := trav.RootName(); name {
	case nameCycle:
		root = r.ctx.Cycle.UTC()
	case nameValidTime:
		vt, _ := r.ctx.ValidTime()
		root = vt
	case nameLeadtime:
		root = *r.ctx.Leadtime
	case nameEnv:
		root = r.envMap()
	default:
		root, _ = r.root.Get(name)
	}

	v, err := lookup(root, steps, traversalString(trav))
	if err != nil {
		return nil, false
	}
	return CloneValue(v), true
}

func (r *resolver) envMap() *Map {
	m := NewMap()
	for _, k := range sortedKeys(r.ctx.Env) {
		m.Set(k, r.ctx.Env[k])
	}
	return m
}

// variables builds the evaluation scope for the roots an expression uses.
func (r *resolver) variables(e *expression) (map[string]cty.Value, error) {
	vars := make(map[string]cty.Value)
	for _, trav := range e.traversals() {
		name := trav.RootName()
		if _, done := vars[name]; done {
			continue
		}
		switch name {
		case nameCycle:
			vars[name] = timeVal(*r.ctx.Cycle)
		case nameValidTime:
			vt, _ := r.ctx.ValidTime()
			vars[name] = timeVal(vt)
		case nameLeadtime:
			vars[name] = durationVal(*r.ctx.Leadtime)
		case nameEnv:
			env := r.ctx.Env
			if env == nil {
				env = map[string]string{}
			}
			val, err := gocty.ToCtyValue(env, cty.Map(cty.String))
			if err != nil {
				return nil, fmt.Errorf("converting environment: %w", err)
			}
			vars[name] = val
		default:
			v, _ := r.root.Get(name)
			vars[name] = toCty(v)
		}
	}
	return vars, nil
}

// containsExpression reports whether any string within v holds a {{ }} expression.
func containsExpression(v any) bool {
	switch t := v.(type) {
	case string:
		return exprPattern.MatchString(t)
	case []any:
		for _, item := range t {
			if containsExpression(item) {
				return true
			}
		}
	case *Map:
		for _, k := range t.keys {
			if containsExpression(t.values[k]) {
				return true
			}
		}
	}
	return false
}

func pendingLocations(v any, path string) []string {
	var out []string
	switch t := v.(type) {
	case string:
		if exprPattern.MatchString(t) {
			out = append(out, path)
		}
	case []any:
		for i, item := range t {
			out = append(out, pendingLocations(item, joinPath(path, fmt.Sprint(i)))...)
		}
	case *Map:
		for _, k := range t.keys {
			out = append(out, pendingLocations(t.values[k], joinPath(path, k))...)
		}
	}
	return out
}

func traversalString(trav hcl.Traversal) string {
	parts := []string{trav.RootName()}
	if steps, ok := traversalSteps(trav); ok {
		parts = append(parts, steps...)
	}
	return strings.Join(parts, ".")
}

func joinPath(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}
