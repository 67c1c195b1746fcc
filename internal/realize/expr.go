package realize

import (
	"fmt"
	"math"
	"math/big"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"
)

// Time and duration values travel through expressions as capsules so that
// helpers such as strftime and add can recognise them.
var (
	timeType     = cty.Capsule("time", reflect.TypeOf(time.Time{}))
	durationType = cty.Capsule("duration", reflect.TypeOf(time.Duration(0)))
)

func timeVal(t time.Time) cty.Value {
	t = t.UTC()
	return cty.CapsuleVal(timeType, &t)
}

func durationVal(d time.Duration) cty.Value {
	return cty.CapsuleVal(durationType, &d)
}

// methodSugar rewrites x.strftime(fmt) into strftime(x, fmt).
var methodSugar = regexp.MustCompile(`([A-Za-z_][A-Za-z0-9_]*(?:\.[A-Za-z0-9_]+)*)\.strftime\(`)

// expression is a parsed {{ }} body restricted to the supported grammar.
type expression struct {
	text string
	expr hclsyntax.Expression
	// bare is set when the whole expression is a single dotted path.
	bare *hclsyntax.ScopeTraversalExpr
}

// parseExpression normalizes and parses an expression body, then checks it
// against the grammar: dotted path, helper call, or literal.
func parseExpression(text string) (*expression, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("empty expression")
	}

	src, err := normalizeQuotes(text)
	if err != nil {
		return nil, err
	}
	src = methodSugar.ReplaceAllString(src, "strftime($1, ")

	parsed, diags := hclsyntax.ParseExpression([]byte(src), "expression", hcl.Pos{Line: 1, Column: 1})
	if diags.HasErrors() {
		return nil, fmt.Errorf("%s", diagSummary(diags))
	}

	if err := checkGrammar(parsed); err != nil {
		return nil, err
	}

	e := &expression{text: text, expr: parsed}
	if trav, ok := parsed.(*hclsyntax.ScopeTraversalExpr); ok {
		e.bare = trav
	}
	return e, nil
}

// normalizeQuotes rewrites single-quoted string literals as double-quoted
// ones, escaping characters that are significant inside double quotes.
func normalizeQuotes(text string) (string, error) {
	var sb strings.Builder
	for i := 0; i < len(text); i++ {
		c := text[i]
		switch c {
		case '"':
			end := closingQuote(text, i, '"')
			if end < 0 {
				return "", fmt.Errorf("unterminated string literal")
			}
			sb.WriteString(text[i : end+1])
			i = end
		case '\'':
			end := closingQuote(text, i, '\'')
			if end < 0 {
				return "", fmt.Errorf("unterminated string literal")
			}
			body := text[i+1 : end]
			body = strings.ReplaceAll(body, `\'`, `'`)
			body = strings.ReplaceAll(body, `"`, `\"`)
			body = strings.ReplaceAll(body, "${", "$${")
			body = strings.ReplaceAll(body, "%{", "%%{")
			sb.WriteByte('"')
			sb.WriteString(body)
			sb.WriteByte('"')
			i = end
		default:
			sb.WriteByte(c)
		}
	}
	return sb.String(), nil
}

func closingQuote(text string, start int, quote byte) int {
	for j := start + 1; j < len(text); j++ {
		switch text[j] {
		case '\\':
			j++
		case quote:
			return j
		}
	}
	return -1
}

func checkGrammar(e hclsyntax.Expression) error {
	switch t := e.(type) {
	case *hclsyntax.ScopeTraversalExpr, *hclsyntax.LiteralValueExpr:
		return nil
	case *hclsyntax.TemplateExpr:
		for _, part := range t.Parts {
			if _, ok := part.(*hclsyntax.LiteralValueExpr); !ok {
				return fmt.Errorf("string interpolation is not supported")
			}
		}
		return nil
	case *hclsyntax.UnaryOpExpr:
		if t.Op == hclsyntax.OpNegate {
			if _, ok := t.Val.(*hclsyntax.LiteralValueExpr); ok {
				return nil
			}
		}
		return fmt.Errorf("operators are not supported")
	case *hclsyntax.FunctionCallExpr:
		if _, ok := helpers[t.Name]; !ok {
			return fmt.Errorf("unknown function %q (supported: strftime, add, int, str)", t.Name)
		}
		if t.ExpandFinal {
			return fmt.Errorf("argument expansion is not supported")
		}
		for _, arg := range t.Args {
			if err := checkGrammar(arg); err != nil {
				return err
			}
		}
		return nil
	case *hclsyntax.BinaryOpExpr, *hclsyntax.ConditionalExpr:
		return fmt.Errorf("operators are not supported")
	default:
		return fmt.Errorf("unsupported expression %T", e)
	}
}

// traversals returns the variable references an expression depends on.
func (e *expression) traversals() []hcl.Traversal {
	return e.expr.Variables()
}

// eval evaluates the expression with the given root variables.
func (e *expression) eval(vars map[string]cty.Value) (any, error) {
	ctx := &hcl.EvalContext{Variables: vars, Functions: helpers}
	val, diags := e.expr.Value(ctx)
	if diags.HasErrors() {
		return nil, fmt.Errorf("%s", diagSummary(diags))
	}
	return fromCty(val)
}

func diagSummary(diags hcl.Diagnostics) string {
	parts := make([]string, 0, len(diags))
	for _, d := range diags {
		if d.Severity != hcl.DiagError {
			continue
		}
		msg := d.Summary
		if d.Detail != "" {
			msg += ": " + d.Detail
		}
		parts = append(parts, msg)
	}
	return strings.Join(parts, "; ")
}

// traversalSteps converts the non-root steps of a traversal into lookup keys.
func traversalSteps(trav hcl.Traversal) ([]string, bool) {
	steps := make([]string, 0, len(trav))
	for _, step := range trav[1:] {
		switch s := step.(type) {
		case hcl.TraverseAttr:
			steps = append(steps, s.Name)
		case hcl.TraverseIndex:
			switch {
			case s.Key.Type() == cty.String:
				steps = append(steps, s.Key.AsString())
			case s.Key.Type() == cty.Number:
				bf := s.Key.AsBigFloat()
				i, acc := bf.Int64()
				if acc != big.Exact {
					return nil, false
				}
				steps = append(steps, strconv.FormatInt(i, 10))
			default:
				return nil, false
			}
		default:
			return nil, false
		}
	}
	return steps, true
}

// toCty converts a configuration value into a cty value.
func toCty(v any) cty.Value {
	switch t := v.(type) {
	case nil:
		return cty.NullVal(cty.DynamicPseudoType)
	case bool:
		return cty.BoolVal(t)
	case int64:
		return cty.NumberIntVal(t)
	case float64:
		if math.IsNaN(t) {
			return cty.NullVal(cty.Number)
		}
		return cty.NumberFloatVal(t)
	case string:
		return cty.StringVal(t)
	case time.Time:
		return timeVal(t)
	case time.Duration:
		return durationVal(t)
	case []any:
		if len(t) == 0 {
			return cty.EmptyTupleVal
		}
		vals := make([]cty.Value, len(t))
		for i, item := range t {
			vals[i] = toCty(item)
		}
		return cty.TupleVal(vals)
	case *Map:
		if t.Len() == 0 {
			return cty.EmptyObjectVal
		}
		attrs := make(map[string]cty.Value, t.Len())
		for _, k := range t.keys {
			attrs[k] = toCty(t.values[k])
		}
		return cty.ObjectVal(attrs)
	case map[string]string:
		if len(t) == 0 {
			return cty.EmptyObjectVal
		}
		attrs := make(map[string]cty.Value, len(t))
		for k, s := range t {
			attrs[k] = cty.StringVal(s)
		}
		return cty.ObjectVal(attrs)
	default:
		return cty.NullVal(cty.DynamicPseudoType)
	}
}

// fromCty converts an evaluation result back into a Go value. Times and
// durations are returned as time.Time and time.Duration.
func fromCty(v cty.Value) (any, error) {
	if v.IsNull() {
		return nil, nil
	}
	if !v.IsKnown() {
		return nil, fmt.Errorf("value is unknown")
	}

	ty := v.Type()
	switch {
	case ty.Equals(timeType):
		return *(v.EncapsulatedValue().(*time.Time)), nil
	case ty.Equals(durationType):
		return *(v.EncapsulatedValue().(*time.Duration)), nil
	case ty == cty.String:
		return v.AsString(), nil
	case ty == cty.Bool:
		return v.True(), nil
	case ty == cty.Number:
		return numberFromCty(v), nil
	case ty.IsTupleType() || ty.IsListType() || ty.IsSetType():
		out := make([]any, 0, v.LengthInt())
		it := v.ElementIterator()
		for it.Next() {
			_, ev := it.Element()
			nv, err := fromCty(ev)
			if err != nil {
				return nil, err
			}
			out = append(out, nv)
		}
		return out, nil
	case ty.IsObjectType() || ty.IsMapType():
		m := NewMap()
		it := v.ElementIterator()
		for it.Next() {
			k, ev := it.Element()
			nv, err := fromCty(ev)
			if err != nil {
				return nil, fmt.Errorf("in attribute %q: %w", k.AsString(), err)
			}
			m.Set(k.AsString(), nv)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unsupported result type %s", ty.FriendlyName())
	}
}

func numberFromCty(v cty.Value) any {
	bf := v.AsBigFloat()
	if bf.IsInt() {
		if i, acc := bf.Int64(); acc == big.Exact {
			return i
		}
	}
	f, _ := bf.Float64()
	return f
}

// finalizeValue turns evaluation-only types into configuration values.
func finalizeValue(v any) any {
	switch t := v.(type) {
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	case time.Duration:
		return t.String()
	case []any:
		for i := range t {
			t[i] = finalizeValue(t[i])
		}
		return t
	case *Map:
		for _, k := range t.keys {
			t.values[k] = finalizeValue(t.values[k])
		}
		return t
	default:
		return t
	}
}
