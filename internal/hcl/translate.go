// This file translates the decoded HCL schema structs into the
// format-agnostic definition model of the config package.

package hcl

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/vk/stagegrid/internal/config"
	"github.com/vk/stagegrid/internal/ctxlog"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
)

func translatePipeline(ctx context.Context, p *pipelineBlock, src []byte) (*config.Definition, error) {
	logger := ctxlog.FromContext(ctx)
	def := &config.Definition{
		ID:          p.ID,
		Description: p.Description,
		MaxInFlight: p.MaxInFlight,
	}
	if p.MaxInFlight < 0 {
		return nil, fmt.Errorf("pipeline %q: max_in_flight must not be negative", p.ID)
	}

	if p.Concurrency != nil {
		key, err := compileKeyTemplate(p.Concurrency.Group)
		if err != nil {
			return nil, fmt.Errorf("pipeline %q: concurrency group: %w", p.ID, err)
		}
		def.Concurrency = &config.Concurrency{Group: key, CancelInProgress: p.Concurrency.CancelInProgress}
	}

	for _, s := range p.Stages {
		stage, err := translateStage(ctx, s, src)
		if err != nil {
			return nil, fmt.Errorf("pipeline %q: %w", p.ID, err)
		}
		def.Stages = append(def.Stages, stage)
	}
	logger.Debug("Translated pipeline.", "pipeline", p.ID, "stages", len(def.Stages))
	return def, nil
}

func translateStage(ctx context.Context, s *stageBlock, src []byte) (*config.Stage, error) {
	stage := &config.Stage{
		Name:            s.Name,
		Kind:            s.Kind,
		DependsOn:       s.DependsOn,
		ContinueOnError: s.ContinueOnError,
		RunOnSkipped:    s.RunOnSkipped,
		Secrets:         s.Secrets,
		Params:          make(map[string]*config.Param, len(s.Params)),
	}

	if s.Timeout != "" {
		d, err := time.ParseDuration(s.Timeout)
		if err != nil {
			return nil, fmt.Errorf("stage %q: invalid timeout %q: %w", s.Name, s.Timeout, err)
		}
		if d < 0 {
			return nil, fmt.Errorf("stage %q: timeout must not be negative", s.Name)
		}
		stage.Timeout = d
	}

	cond, err := compileCondition(s.Condition, src)
	if err != nil {
		return nil, fmt.Errorf("stage %q: condition: %w", s.Name, err)
	}
	stage.Condition = cond

	with, err := translateWith(s.With)
	if err != nil {
		return nil, fmt.Errorf("stage %q: with: %w", s.Name, err)
	}
	stage.With = with

	for _, pb := range s.Params {
		if _, dup := stage.Params[pb.Name]; dup {
			return nil, fmt.Errorf("stage %q: duplicate param %q", s.Name, pb.Name)
		}
		p, err := translateParam(ctx, pb)
		if err != nil {
			return nil, fmt.Errorf("stage %q: %w", s.Name, err)
		}
		stage.Params[pb.Name] = p
	}
	return stage, nil
}

// translateParam processes a single param block, handling its type keyword
// and default value.
func translateParam(ctx context.Context, pb *paramBlock) (*config.Param, error) {
	ty, err := typeExprToParamType(ctx, pb.Type)
	if err != nil {
		return nil, fmt.Errorf("param %q: %w", pb.Name, err)
	}

	p := &config.Param{
		Name:        pb.Name,
		Type:        ty,
		Description: pb.Description,
		Required:    pb.Required,
		Allowed:     pb.Allowed,
		Sensitive:   pb.Sensitive,
	}

	if pb.Default != nil && !pb.Default.IsNull() {
		// Literals like `2` or `"x"` come in untyped enough that a
		// conversion to the declared type is the friendly reading.
		v, err := convert.Convert(*pb.Default, ty.CtyType())
		if err != nil {
			return nil, fmt.Errorf("param %q: default must be %s: %w", pb.Name, ty, err)
		}
		p.Default = &v
	}
	return p, nil
}

// translateWith flattens the `with` object into per-input values.
func translateWith(v *cty.Value) (map[string]cty.Value, error) {
	if v == nil || v.IsNull() {
		return nil, nil
	}
	ty := v.Type()
	if !ty.IsObjectType() && !ty.IsMapType() {
		return nil, fmt.Errorf("must be an object, got %s", ty.FriendlyName())
	}
	out := make(map[string]cty.Value)
	for it := v.ElementIterator(); it.Next(); {
		k, ev := it.Element()
		out[k.AsString()] = ev
	}
	return out, nil
}

// isMissing reports whether gohcl filled in an absent optional expression.
func isMissing(expr hcl.Expression) bool {
	if expr == nil {
		return true
	}
	if len(expr.Variables()) > 0 {
		return false
	}
	v, diags := expr.Value(nil)
	return !diags.HasErrors() && v.IsNull()
}
