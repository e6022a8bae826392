package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aicflow/aicflow/workflow"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// =============================================================================
// 🧪 Collector 测试
// =============================================================================

func newTestCollector(t *testing.T) (*Collector, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewCollector("test", reg, zap.NewNop()), reg
}

func echo(_ context.Context, _ string, in, _ workflow.Record) (workflow.Record, error) {
	return in.Clone(), nil
}

func TestNewCollector(t *testing.T) {
	c, reg := newTestCollector(t)

	assert.NotNil(t, c.runsTotal)
	assert.NotNil(t, c.nodeInvocationsTotal)

	c.RecordGroup(1)
	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestCollector_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewCollector("dup", reg, nil)
	assert.Panics(t, func() { NewCollector("dup", reg, nil) })
}

func TestCollector_RecordNode(t *testing.T) {
	c, _ := newTestCollector(t)

	c.RecordNode(workflow.KindTransform, 10*time.Millisecond, nil)
	c.RecordNode(workflow.KindTransform, 20*time.Millisecond, nil)
	c.RecordNode("", time.Millisecond, errors.New("boom"))

	assert.Equal(t, 2.0, testutil.ToFloat64(c.nodeInvocationsTotal.WithLabelValues("transform", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.nodeInvocationsTotal.WithLabelValues("unknown", "failure")))
	assert.Equal(t, 2, testutil.CollectAndCount(c.nodeDuration))
}

func TestCollector_RecordRun(t *testing.T) {
	c, _ := newTestCollector(t)

	c.RecordRun(&workflow.Result{Strategy: workflow.StrategyTopological, CycleDetected: true}, time.Second, nil)
	c.RecordRun(&workflow.Result{Strategy: workflow.StrategyBranchTracing, FallbackUsed: true}, time.Second, nil)
	c.RecordRun(nil, 0, errors.New("boom"))

	assert.Equal(t, 1.0, testutil.ToFloat64(c.runsTotal.WithLabelValues("topological", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.runsTotal.WithLabelValues("branch_tracing", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.runsTotal.WithLabelValues("unknown", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.cyclesDetected))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.fallbacksTotal))
}

func TestCollector_Hooks(t *testing.T) {
	c, _ := newTestCollector(t)

	g := workflow.NewBuilder("metrics").
		AddNode("a", workflow.KindStart).WithFunc(echo).Done().
		AddNode("b", workflow.KindTransform).WithFunc(echo).Done().
		AddNode("c", workflow.KindTransform).WithFunc(echo).Done().
		AddNode("d", workflow.KindEnd).WithFunc(echo).Done().
		AddEdge("a", "b").
		AddEdge("a", "c").
		AddEdge("b", "d").
		AddEdge("c", "d").
		MustBuild()

	o := workflow.NewOrchestrator(workflow.WithHooks(c.Hooks()))
	_, err := o.Execute(context.Background(), g, workflow.Record{"x": 1})
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.runsTotal.WithLabelValues("topological", "success")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.nodeInvocationsTotal.WithLabelValues("transform", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.nodeInvocationsTotal.WithLabelValues("start", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.stateTransitions.WithLabelValues("idle", "scheduling")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.stateTransitions.WithLabelValues("running", "completed")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.cyclesDetected))

	c.mu.Lock()
	assert.Empty(t, c.starts)
	c.mu.Unlock()
}

func TestCollector_HooksOnFailure(t *testing.T) {
	c, _ := newTestCollector(t)

	g := workflow.NewBuilder("failing").
		AddNode("a", workflow.KindCustom).WithFunc(func(context.Context, string, workflow.Record, workflow.Record) (workflow.Record, error) {
		return nil, errors.New("boom")
	}).Done().
		MustBuild()

	o := workflow.NewOrchestrator(workflow.WithHooks(c.Hooks()))
	_, err := o.Execute(context.Background(), g, nil)
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.runsTotal.WithLabelValues("topological", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.nodeInvocationsTotal.WithLabelValues("custom", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.stateTransitions.WithLabelValues("running", "failed")))
}

func TestCollector_CircuitListener(t *testing.T) {
	c, _ := newTestCollector(t)

	inv := workflow.NewInvoker(workflow.InvokerConfig{
		CircuitBreaker: &workflow.CircuitBreakerConfig{FailureThreshold: 1, RecoveryTimeout: time.Hour},
	}, workflow.WithCircuitListener(c.CircuitListener()))

	node := &workflow.Node{ID: "flaky", Executor: workflow.ExecutorFunc(
		func(context.Context, string, workflow.Record, workflow.Record) (workflow.Record, error) {
			return nil, errors.New("down")
		})}

	_, err := inv.Invoke(context.Background(), node, nil)
	require.Error(t, err)
	_, err = inv.Invoke(context.Background(), node, nil)
	assert.ErrorIs(t, err, workflow.ErrCircuitOpen)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.circuitTransitions.WithLabelValues("flaky", workflow.CircuitOpen.String())))
}
