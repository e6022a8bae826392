package nodes

import (
	"context"
	"fmt"
	"sync"

	"github.com/aicflow/aicflow/internal/expr"
	"github.com/aicflow/aicflow/workflow"
)

// Output ports of the branch kind.
const (
	PortTrue   = "true"
	PortFalse  = "false"
	PortResult = "result"
)

// branch evaluates the "condition" config against its input. The input is
// emitted under the port that matches the outcome, and the outcome itself
// under "result".
type branch struct {
	cache sync.Map // condition source -> *expr.Expr
}

func newBranch() *branch { return &branch{} }

func (b *branch) Execute(_ context.Context, _ string, in, cfg workflow.Record) (workflow.Record, error) {
	src, _ := cfg["condition"].(string)
	e, err := b.compile(src)
	if err != nil {
		return nil, fmt.Errorf("condition %q: %w", src, err)
	}

	ok, err := e.Eval(in)
	if err != nil {
		return nil, err
	}
	port := PortFalse
	if ok {
		port = PortTrue
	}
	return workflow.Record{port: in.Clone(), PortResult: ok}, nil
}

func (b *branch) compile(src string) (*expr.Expr, error) {
	if e, ok := b.cache.Load(src); ok {
		return e.(*expr.Expr), nil
	}
	e, err := expr.Compile(src)
	if err != nil {
		return nil, err
	}
	b.cache.Store(src, e)
	return e, nil
}
