package hcl

import (
	"github.com/hashicorp/hcl/v2"
	"github.com/zclconf/go-cty/cty"
)

// fileRoot decodes all top-level blocks of a definition file.
type fileRoot struct {
	Pipelines []*pipelineBlock `hcl:"pipeline,block"`
	Remain    hcl.Body         `hcl:",remain"`
}

// pipelineBlock is a `pipeline` block: one definition.
type pipelineBlock struct {
	ID          string            `hcl:"id,label"`
	Description string            `hcl:"description,optional"`
	MaxInFlight int               `hcl:"max_in_flight,optional"`
	Concurrency *concurrencyBlock `hcl:"concurrency,block"`
	Stages      []*stageBlock     `hcl:"stage,block"`
}

// concurrencyBlock places runs of a pipeline into a concurrency group.
type concurrencyBlock struct {
	Group            hcl.Expression `hcl:"group"`
	CancelInProgress bool           `hcl:"cancel_in_progress,optional"`
}

// stageBlock is a `stage` block inside a pipeline.
type stageBlock struct {
	Name            string         `hcl:"name,label"`
	Kind            string         `hcl:"kind"`
	DependsOn       []string       `hcl:"depends_on,optional"`
	Condition       hcl.Expression `hcl:"condition,optional"`
	ContinueOnError bool           `hcl:"continue_on_error,optional"`
	RunOnSkipped    bool           `hcl:"run_on_skipped,optional"`
	Timeout         string         `hcl:"timeout,optional"`
	Secrets         []string       `hcl:"secrets,optional"`
	With            *cty.Value     `hcl:"with,optional"`
	Params          []*paramBlock  `hcl:"param,block"`
}

// paramBlock declares a typed stage parameter.
type paramBlock struct {
	Name        string         `hcl:"name,label"`
	Type        hcl.Expression `hcl:"type"`
	Description string         `hcl:"description,optional"`
	Default     *cty.Value     `hcl:"default,optional"`
	Required    bool           `hcl:"required,optional"`
	Allowed     []string       `hcl:"allowed,optional"`
	Sensitive   bool           `hcl:"sensitive,optional"`
}
