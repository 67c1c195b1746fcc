package realize

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/lestrrat-go/strftime"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
)

// helpers are the functions callable from {{ }} expressions.
var helpers = map[string]function.Function{
	"strftime": strftimeFunc,
	"add":      addFunc,
	"int":      intFunc,
	"str":      strFunc,
}

// timeLayouts are accepted when a string is passed where a time is expected.
var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15",
	"2006-01-02",
}

func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot interpret %q as a time", s)
}

var strftimeFunc = function.New(&function.Spec{
	Params: []function.Parameter{
		{Name: "time", Type: cty.DynamicPseudoType},
		{Name: "format", Type: cty.String},
	},
	Type: function.StaticReturnType(cty.String),
	Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
		var t time.Time
		switch ty := args[0].Type(); {
		case ty.Equals(timeType):
			t = *(args[0].EncapsulatedValue().(*time.Time))
		case ty == cty.String:
			parsed, err := parseTime(args[0].AsString())
			if err != nil {
				return cty.NilVal, function.NewArgError(0, err)
			}
			t = parsed
		default:
			return cty.NilVal, function.NewArgErrorf(0, "strftime requires a time, got %s", ty.FriendlyName())
		}

		out, err := strftime.Format(args[1].AsString(), t.UTC())
		if err != nil {
			return cty.NilVal, function.NewArgError(1, err)
		}
		return cty.StringVal(out), nil
	},
})

var addFunc = function.New(&function.Spec{
	Params: []function.Parameter{
		{Name: "a", Type: cty.DynamicPseudoType},
		{Name: "b", Type: cty.DynamicPseudoType},
	},
	Type: func(args []cty.Value) (cty.Type, error) {
		a, b := args[0].Type(), args[1].Type()
		switch {
		case a == cty.Number && b == cty.Number:
			return cty.Number, nil
		case a == cty.String && b == cty.String:
			return cty.String, nil
		case a.Equals(timeType) && b.Equals(durationType), a.Equals(durationType) && b.Equals(timeType):
			return timeType, nil
		case a.Equals(durationType) && b.Equals(durationType):
			return durationType, nil
		}
		return cty.NilType, fmt.Errorf("cannot add %s and %s", a.FriendlyName(), b.FriendlyName())
	},
	Impl: func(args []cty.Value, retType cty.Type) (cty.Value, error) {
		a, b := args[0], args[1]
		switch {
		case retType == cty.Number:
			return a.Add(b), nil
		case retType == cty.String:
			return cty.StringVal(a.AsString() + b.AsString()), nil
		case retType.Equals(durationType):
			return durationVal(capsuleDuration(a) + capsuleDuration(b)), nil
		default:
			if a.Type().Equals(durationType) {
				a, b = b, a
			}
			t := *(a.EncapsulatedValue().(*time.Time))
			return timeVal(t.Add(capsuleDuration(b))), nil
		}
	},
})

func capsuleDuration(v cty.Value) time.Duration {
	return *(v.EncapsulatedValue().(*time.Duration))
}

var intFunc = function.New(&function.Spec{
	Params: []function.Parameter{
		{Name: "value", Type: cty.DynamicPseudoType},
	},
	Type: function.StaticReturnType(cty.Number),
	Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
		v := args[0]
		switch ty := v.Type(); {
		case ty == cty.Number:
			return truncate(v.AsBigFloat()), nil
		case ty == cty.Bool:
			if v.True() {
				return cty.NumberIntVal(1), nil
			}
			return cty.NumberIntVal(0), nil
		case ty == cty.String:
			f, _, err := big.ParseFloat(strings.TrimSpace(v.AsString()), 10, 512, big.ToZero)
			if err != nil {
				return cty.NilVal, function.NewArgErrorf(0, "cannot convert %q to int", v.AsString())
			}
			return truncate(f), nil
		case ty.Equals(durationType):
			return cty.NumberIntVal(int64(capsuleDuration(v) / time.Hour)), nil
		default:
			return cty.NilVal, function.NewArgErrorf(0, "cannot convert %s to int", ty.FriendlyName())
		}
	},
})

func truncate(f *big.Float) cty.Value {
	i, _ := f.Int(nil)
	return cty.NumberVal(new(big.Float).SetInt(i))
}

var strFunc = function.New(&function.Spec{
	Params: []function.Parameter{
		{Name: "value", Type: cty.DynamicPseudoType},
	},
	Type: function.StaticReturnType(cty.String),
	Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
		v := args[0]
		switch ty := v.Type(); {
		case ty == cty.String:
			return v, nil
		case ty == cty.Bool:
			return cty.StringVal(strconv.FormatBool(v.True())), nil
		}

		native, err := fromCty(v)
		if err != nil {
			return cty.NilVal, function.NewArgError(0, err)
		}
		s, err := Stringify(finalizeValue(native))
		if err != nil {
			return cty.NilVal, function.NewArgError(0, err)
		}
		return cty.StringVal(s), nil
	},
})
