package params

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/vk/stagegrid/internal/config"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/gocty"
)

// Resolve computes the inputs of a single stage from the caller's values.
// Caller values that do not name a declared parameter are ignored; stage
// `with` bindings without a declaration pass through untyped.
func Resolve(stage *config.Stage, callerInputs map[string]any) (*Inputs, error) {
	in := &Inputs{
		values:    make(map[string]cty.Value, len(stage.Params)+len(stage.With)),
		sensitive: make(map[string]bool),
	}

	for name, v := range stage.With {
		if _, declared := stage.Params[name]; !declared {
			in.values[name] = v
		}
	}

	for _, name := range sortedParamNames(stage) {
		p := stage.Params[name]
		val, found, err := pick(stage, p, name, callerInputs)
		if err != nil {
			return nil, err
		}
		if !found {
			if p.Required {
				return nil, &ValidationError{Stage: stage.Name, Param: name, Reason: "required parameter is missing"}
			}
			continue
		}
		if err := check(p, val); err != nil {
			return nil, &ValidationError{Stage: stage.Name, Param: name, Reason: err.Error()}
		}
		in.values[name] = val
		if p.Sensitive {
			in.sensitive[name] = true
		}
	}
	return in, nil
}

// ResolveAll resolves every stage of a definition. A caller input that no
// stage declares is rejected so typos surface at submission.
func ResolveAll(def *config.Definition, callerInputs map[string]any) (map[string]*Inputs, error) {
	declared := make(map[string]bool)
	out := make(map[string]*Inputs, len(def.Stages))
	for _, s := range def.Stages {
		for name := range s.Params {
			declared[name] = true
		}
		in, err := Resolve(s, callerInputs)
		if err != nil {
			return nil, err
		}
		out[s.Name] = in
	}

	names := make([]string, 0, len(callerInputs))
	for name := range callerInputs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if !declared[name] {
			return nil, &ValidationError{Param: name, Reason: "no stage declares this parameter"}
		}
	}
	return out, nil
}

// ParseInput converts a raw command-line string into a Go value of the
// parameter's declared type.
func ParseInput(p *config.Param, raw string) (any, error) {
	switch p.Type {
	case config.TypeNumber:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, &ValidationError{Param: p.Name, Reason: fmt.Sprintf("%q is not a number", raw)}
		}
		return f, nil
	case config.TypeBool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, &ValidationError{Param: p.Name, Reason: fmt.Sprintf("%q is not a boolean", raw)}
		}
		return b, nil
	default:
		return raw, nil
	}
}

func sortedParamNames(stage *config.Stage) []string {
	names := make([]string, 0, len(stage.Params))
	for name := range stage.Params {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// pick applies the precedence chain for one parameter.
func pick(stage *config.Stage, p *config.Param, name string, callerInputs map[string]any) (cty.Value, bool, error) {
	if raw, ok := callerInputs[name]; ok && raw != nil {
		v, err := toCty(raw)
		if err != nil {
			return cty.NilVal, false, &ValidationError{Stage: stage.Name, Param: name, Reason: err.Error()}
		}
		return v, true, nil
	}
	if v, ok := stage.With[name]; ok && !v.IsNull() {
		return v, true, nil
	}
	if p.Default != nil && !p.Default.IsNull() {
		return *p.Default, true, nil
	}
	return cty.NilVal, false, nil
}

func toCty(raw any) (cty.Value, error) {
	if v, ok := raw.(cty.Value); ok {
		return v, nil
	}
	ty, err := gocty.ImpliedType(raw)
	if err != nil {
		return cty.NilVal, fmt.Errorf("unsupported value of type %T", raw)
	}
	v, err := gocty.ToCtyValue(raw, ty)
	if err != nil {
		return cty.NilVal, fmt.Errorf("converting %T: %w", raw, err)
	}
	return v, nil
}

func check(p *config.Param, v cty.Value) error {
	want := p.Type.CtyType()
	if !v.Type().Equals(want) {
		return fmt.Errorf("expected %s, got %s", p.Type, v.Type().FriendlyName())
	}
	if !v.IsKnown() {
		return fmt.Errorf("value is not known")
	}
	if p.Type == config.TypeEnum && !p.Allows(v.AsString()) {
		return fmt.Errorf("%q is not one of %v", v.AsString(), p.Allowed)
	}
	return nil
}
