package params

import (
	"log/slog"
	"sort"

	"github.com/zclconf/go-cty/cty"
)

// Redacted is the placeholder that replaces sensitive values.
const Redacted = "[redacted]"

// Inputs is the resolved, read-only input set of one stage.
type Inputs struct {
	values    map[string]cty.Value
	sensitive map[string]bool
}

// Empty returns an input set with no values.
func Empty() *Inputs {
	return &Inputs{values: map[string]cty.Value{}, sensitive: map[string]bool{}}
}

// Get returns the raw cty value of an input.
func (in *Inputs) Get(name string) (cty.Value, bool) {
	if in == nil {
		return cty.NilVal, false
	}
	v, ok := in.values[name]
	return v, ok
}

// Has reports whether the input resolved to a value.
func (in *Inputs) Has(name string) bool {
	_, ok := in.Get(name)
	return ok
}

// String returns a string input.
func (in *Inputs) String(name string) (string, bool) {
	v, ok := in.Get(name)
	if !ok || v.IsNull() || !v.Type().Equals(cty.String) {
		return "", false
	}
	return v.AsString(), true
}

// Bool returns a boolean input.
func (in *Inputs) Bool(name string) (bool, bool) {
	v, ok := in.Get(name)
	if !ok || v.IsNull() || !v.Type().Equals(cty.Bool) {
		return false, false
	}
	return v.True(), true
}

// Number returns a numeric input.
func (in *Inputs) Number(name string) (float64, bool) {
	v, ok := in.Get(name)
	if !ok || v.IsNull() || !v.Type().Equals(cty.Number) {
		return 0, false
	}
	f, _ := v.AsBigFloat().Float64()
	return f, true
}

// Names returns the resolved input names, sorted.
func (in *Inputs) Names() []string {
	if in == nil {
		return nil
	}
	names := make([]string, 0, len(in.values))
	for name := range in.values {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Map returns the inputs as plain Go values.
func (in *Inputs) Map() map[string]any {
	out := make(map[string]any, len(in.Names()))
	for _, name := range in.Names() {
		out[name] = goValue(in.values[name])
	}
	return out
}

// Redacted returns the inputs as plain Go values with sensitive ones masked.
// It is the only form that may be persisted.
func (in *Inputs) Redacted() map[string]any {
	out := in.Map()
	for name := range out {
		if in.sensitive[name] {
			out[name] = Redacted
		}
	}
	return out
}

// LogValue implements slog.LogValuer.
func (in *Inputs) LogValue() slog.Value {
	red := in.Redacted()
	attrs := make([]slog.Attr, 0, len(red))
	for _, name := range in.Names() {
		attrs = append(attrs, slog.Any(name, red[name]))
	}
	return slog.GroupValue(attrs...)
}

func goValue(v cty.Value) any {
	if v.IsNull() || !v.IsKnown() {
		return nil
	}
	ty := v.Type()
	switch {
	case ty.Equals(cty.String):
		return v.AsString()
	case ty.Equals(cty.Bool):
		return v.True()
	case ty.Equals(cty.Number):
		bf := v.AsBigFloat()
		if i, acc := bf.Int64(); acc == 0 {
			return i
		}
		f, _ := bf.Float64()
		return f
	case ty.IsListType(), ty.IsTupleType(), ty.IsSetType():
		var out []any
		for it := v.ElementIterator(); it.Next(); {
			_, ev := it.Element()
			out = append(out, goValue(ev))
		}
		return out
	case ty.IsMapType(), ty.IsObjectType():
		out := make(map[string]any)
		for it := v.ElementIterator(); it.Next(); {
			k, ev := it.Element()
			out[k.AsString()] = goValue(ev)
		}
		return out
	}
	return nil
}

// Plain converts a single value to a plain Go value: string, bool, int64,
// float64, []any or map[string]any.
func Plain(v cty.Value) any {
	return goValue(v)
}
