package hcl

import (
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/vk/stagegrid/internal/config"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"
)

// triggerRoots are the variables a condition or group key may reference.
var triggerRoots = map[string]struct{}{
	"branch": {},
	"event":  {},
	"actor":  {},
	"vars":   {},
}

// functions is the small library available in conditions and group keys.
var functions = map[string]function.Function{
	"lower":    stdlib.LowerFunc,
	"upper":    stdlib.UpperFunc,
	"length":   stdlib.LengthFunc,
	"contains": stdlib.ContainsFunc,
	"regexall": stdlib.RegexAllFunc,
	"replace":  stdlib.ReplaceFunc,
}

func evalContext(trigger config.Trigger) *hcl.EvalContext {
	return &hcl.EvalContext{
		Variables: trigger.CtyVariables(),
		Functions: functions,
	}
}

func checkVariables(expr hcl.Expression) error {
	for _, tr := range expr.Variables() {
		if _, ok := triggerRoots[tr.RootName()]; !ok {
			return fmt.Errorf("%s: unknown variable %q (want branch, event, actor or vars)", tr.SourceRange(), tr.RootName())
		}
	}
	return nil
}

func evaluate(expr hcl.Expression, trigger config.Trigger, want cty.Type) (cty.Value, error) {
	val, diags := expr.Value(evalContext(trigger))
	if diags.HasErrors() {
		return cty.NilVal, diags
	}
	if val.IsNull() || !val.IsWhollyKnown() {
		return cty.NilVal, fmt.Errorf("%s: expression produced no value", expr.Range())
	}
	converted, err := convert.Convert(val, want)
	if err != nil {
		return cty.NilVal, fmt.Errorf("%s: expected %s, got %s", expr.Range(), want.FriendlyName(), val.Type().FriendlyName())
	}
	return converted, nil
}

// exprCondition is a stage condition backed by an HCL expression.
type exprCondition struct {
	expr hcl.Expression
	src  string
}

func compileCondition(expr hcl.Expression, src []byte) (config.Condition, error) {
	if isMissing(expr) {
		return nil, nil
	}
	if err := checkVariables(expr); err != nil {
		return nil, err
	}
	return &exprCondition{expr: expr, src: string(expr.Range().SliceBytes(src))}, nil
}

// Evaluate implements config.Condition.
func (c *exprCondition) Evaluate(trigger config.Trigger) (bool, error) {
	v, err := evaluate(c.expr, trigger, cty.Bool)
	if err != nil {
		return false, err
	}
	return v.True(), nil
}

func (c *exprCondition) String() string { return c.src }

// templateKey renders a concurrency group key such as "deploy-${branch}".
type templateKey struct {
	expr hcl.Expression
}

func compileKeyTemplate(expr hcl.Expression) (config.KeyTemplate, error) {
	if isMissing(expr) {
		return nil, fmt.Errorf("group must not be empty")
	}
	if err := checkVariables(expr); err != nil {
		return nil, err
	}
	if len(expr.Variables()) == 0 {
		v, err := evaluate(expr, config.Trigger{}, cty.String)
		if err != nil {
			return nil, err
		}
		if v.AsString() == "" {
			return nil, fmt.Errorf("group must not be empty")
		}
		return config.StaticKey(v.AsString()), nil
	}
	return &templateKey{expr: expr}, nil
}

// Render implements config.KeyTemplate.
func (k *templateKey) Render(trigger config.Trigger) (string, error) {
	v, err := evaluate(k.expr, trigger, cty.String)
	if err != nil {
		return "", err
	}
	if v.AsString() == "" {
		return "", fmt.Errorf("%s: group key rendered empty", k.expr.Range())
	}
	return v.AsString(), nil
}
