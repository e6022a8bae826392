package nodes

import (
	"context"
	"maps"

	"github.com/aicflow/aicflow/internal/expr"
	"github.com/aicflow/aicflow/workflow"
)

// transform builds its output from the input.
//
// Without "mapping" the input is copied through; with it, only the mapped
// fields are emitted, each read from a dot path into the input. Missing
// paths are skipped. Fields under "set" are written last.
func transform(_ context.Context, _ string, in, cfg workflow.Record) (workflow.Record, error) {
	mapping, _ := asMap(cfg["mapping"])

	var out workflow.Record
	if len(mapping) == 0 {
		out = in.Clone()
	} else {
		out = make(workflow.Record, len(mapping))
		for key, p := range mapping {
			path, ok := p.(string)
			if !ok {
				continue
			}
			if v, ok := expr.Lookup(in, path); ok {
				out[key] = v
			}
		}
	}

	if set, ok := asMap(cfg["set"]); ok {
		maps.Copy(out, set)
	}
	return out, nil
}
