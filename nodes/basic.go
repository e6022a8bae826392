package nodes

import (
	"context"
	"fmt"
	"time"

	"github.com/aicflow/aicflow/workflow"
)

func passthrough(_ context.Context, _ string, in, _ workflow.Record) (workflow.Record, error) {
	return in.Clone(), nil
}

func delay(ctx context.Context, _ string, in, cfg workflow.Record) (workflow.Record, error) {
	ms, err := intConfig(cfg, "ms")
	if err != nil {
		return nil, err
	}
	if ms > 0 {
		t := time.NewTimer(time.Duration(ms) * time.Millisecond)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
		}
	}
	return in.Clone(), nil
}

// intConfig reads an integer config value. JSON decoding yields float64,
// Go callers usually pass int.
func intConfig(cfg workflow.Record, key string) (int64, error) {
	switch v := cfg[key].(type) {
	case nil:
		return 0, nil
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	case float64:
		return int64(v), nil
	default:
		return 0, fmt.Errorf("config %q: expected integer, got %T", key, v)
	}
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case workflow.Record:
		return m, true
	}
	return nil, false
}
