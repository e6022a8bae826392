package ctxkeys

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExecutionID(t *testing.T) {
	ctx := context.Background()
	_, ok := ExecutionID(ctx)
	assert.False(t, ok)

	_, ok = ExecutionID(WithExecutionID(ctx, ""))
	assert.False(t, ok)

	id, ok := ExecutionID(WithExecutionID(ctx, "exec-1"))
	assert.True(t, ok)
	assert.Equal(t, "exec-1", id)
}

func TestSubflowDepth(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, 0, SubflowDepth(ctx))

	ctx = WithSubflowDepth(ctx, 2)
	assert.Equal(t, 2, SubflowDepth(ctx))
	assert.Equal(t, 3, SubflowDepth(WithSubflowDepth(ctx, 3)))
}

func TestHistoryScope(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, HistoryScope(ctx))
	assert.Equal(t, "call", HistoryScope(WithHistoryScope(ctx, "call")))
}
