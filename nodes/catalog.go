package nodes

import (
	"github.com/aicflow/aicflow/workflow"
)

// Option configures the built-in catalog.
type Option func(*options)

type options struct {
	subflow *Subflow
	http    *HTTP
}

// WithSubflow enables the subflow kind backed by s.
func WithSubflow(s *Subflow) Option {
	return func(o *options) { o.subflow = s }
}

// WithHTTP backs the http kind with h. Without it http nodes need their
// own executor.
func WithHTTP(h *HTTP) Option {
	return func(o *options) { o.http = h }
}

// NewCatalog returns a catalog holding every built-in kind.
func NewCatalog(opts ...Option) *workflow.Catalog {
	c := workflow.NewCatalog()
	if err := Register(c, opts...); err != nil {
		// Built-in schemas are static; a failure here is a programming error.
		panic(err)
	}
	return c
}

// Register adds the built-in kinds to c.
func Register(c *workflow.Catalog, opts ...Option) error {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	for _, spec := range builtinSpecs() {
		if spec.Kind == workflow.KindHTTP && o.http != nil {
			spec.Executor = o.http
		}
		if err := c.Register(spec); err != nil {
			return err
		}
	}
	if o.subflow != nil {
		if err := c.Register(o.subflow.Spec()); err != nil {
			return err
		}
	}
	return nil
}

func builtinSpecs() []workflow.KindSpec {
	return []workflow.KindSpec{
		{
			Kind:        workflow.KindStart,
			Label:       "Start",
			Category:    "control",
			Description: "Entry point; emits the workflow input.",
			Executor:    workflow.ExecutorFunc(passthrough),
		},
		{
			Kind:        workflow.KindEnd,
			Label:       "End",
			Category:    "control",
			Description: "Exit point; its input is the workflow result.",
			Executor:    workflow.ExecutorFunc(passthrough),
		},
		{
			Kind:        workflow.KindPassthrough,
			Label:       "Passthrough",
			Category:    "data",
			Description: "Forwards its input unchanged.",
			Executor:    workflow.ExecutorFunc(passthrough),
		},
		{
			Kind:        workflow.KindMerge,
			Label:       "Merge",
			Category:    "data",
			Description: "Joins the outputs of its upstream nodes.",
			Executor:    workflow.ExecutorFunc(passthrough),
		},
		{
			Kind:         workflow.KindTransform,
			Label:        "Transform",
			Category:     "data",
			Description:  "Copies input fields by path and sets constant fields.",
			ConfigSchema: transformSchema,
			Executor:     workflow.ExecutorFunc(transform),
		},
		{
			Kind:         workflow.KindBranch,
			Label:        "If / Else",
			Category:     "control",
			Description:  "Routes its input to the true or false port.",
			Outputs:      workflow.Ports{PortTrue: workflow.PortObject, PortFalse: workflow.PortObject, PortResult: workflow.PortBoolean},
			ConfigSchema: branchSchema,
			Executor:     newBranch(),
		},
		{
			Kind:         workflow.KindDelay,
			Label:        "Delay",
			Category:     "control",
			Description:  "Waits before forwarding its input.",
			ConfigSchema: delaySchema,
			Defaults:     workflow.Record{"ms": 0},
			Executor:     workflow.ExecutorFunc(delay),
		},
		{
			Kind:        workflow.KindCustom,
			Label:       "Custom",
			Category:    "custom",
			Description: "Placeholder without built-in behavior.",
		},
		{
			Kind:         workflow.KindHTTP,
			Label:        "HTTP Request",
			Category:     "integration",
			Description:  "Calls an HTTP endpoint.",
			ConfigSchema: httpSchema,
			Defaults:     workflow.Record{"method": "GET"},
		},
		{
			Kind:         workflow.KindCode,
			Label:        "Code",
			Category:     "integration",
			Description:  "Runs user code; the executor is supplied by the host.",
			ConfigSchema: codeSchema,
		},
		{
			Kind:         workflow.KindLoop,
			Label:        "For Each",
			Category:     "control",
			Description:  "Iterates over a collection; the executor is supplied by the host.",
			ConfigSchema: loopSchema,
		},
	}
}

var transformSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"mapping": map[string]any{
			"type":                 "object",
			"additionalProperties": map[string]any{"type": "string", "minLength": 1},
		},
		"set": map[string]any{"type": "object"},
	},
}

var branchSchema = map[string]any{
	"type":     "object",
	"required": []any{"condition"},
	"properties": map[string]any{
		"condition": map[string]any{"type": "string"},
	},
}

var delaySchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"ms": map[string]any{"type": "integer", "minimum": 0},
	},
}

var httpSchema = map[string]any{
	"type":     "object",
	"required": []any{"url"},
	"properties": map[string]any{
		"url":     map[string]any{"type": "string", "minLength": 1},
		"method":  map[string]any{"type": "string", "enum": []any{"GET", "POST", "PUT", "PATCH", "DELETE"}},
		"headers": map[string]any{"type": "object"},
	},
}

var codeSchema = map[string]any{
	"type":     "object",
	"required": []any{"source"},
	"properties": map[string]any{
		"language": map[string]any{"type": "string"},
		"source":   map[string]any{"type": "string"},
	},
}

var loopSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"items":          map[string]any{"type": "string"},
		"max_iterations": map[string]any{"type": "integer", "minimum": 1},
	},
}
