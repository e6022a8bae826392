package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aicflow/aicflow/internal/ctxkeys"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// echoExecutor returns {"val": "<id>_done", "from": inputs["val"]}.
var echoExecutor = ExecutorFunc(func(_ context.Context, id string, in, _ Record) (Record, error) {
	return Record{"val": id + "_done", "from": in["val"]}, nil
})

func echoNodes(ids ...string) []*Node {
	out := make([]*Node, len(ids))
	for i, id := range ids {
		out[i] = &Node{ID: id, Executor: echoExecutor}
	}
	return out
}

// eventLog collects hook events in order.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, fmt.Sprintf(format, args...))
}

func (l *eventLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

func (l *eventLog) index(event string) int {
	for i, e := range l.list() {
		if e == event {
			return i
		}
	}
	return -1
}

func (l *eventLog) hooks() Hooks {
	return Hooks{
		OnStateChange: func(_ string, from, to RunState) { l.add("state:%s->%s", from, to) },
		OnFallback: func(_ string, primary, fallback Strategy, _ error) {
			l.add("fallback:%s->%s", primary, fallback)
		},
		OnGroupStart: func(g GroupInfo) { l.add("group_start:%d", g.Index) },
		OnGroupEnd:   func(g GroupInfo, _ error) { l.add("group_end:%d", g.Index) },
		OnNodeStart:  func(_ string, n *Node) { l.add("node_start:%s", n.ID) },
		OnNodeEnd:    func(_ string, n *Node, _ time.Duration, _ error) { l.add("node_end:%s", n.ID) },
	}
}

// ---------------------------------------------------------------------------
// Topological strategy
// ---------------------------------------------------------------------------

func TestExecute_LinearChain(t *testing.T) {
	t.Parallel()
	g := mustGraph(t, echoNodes("A", "B", "C"), edge("A", "B"), edge("B", "C"))
	o := NewOrchestrator(WithLogger(zaptest.NewLogger(t)))

	res, err := o.Execute(context.Background(), g, nil)
	require.NoError(t, err)

	assert.Equal(t, map[string]Record{
		"A": {"val": "A_done", "from": nil},
		"B": {"val": "B_done", "from": "A_done"},
		"C": {"val": "C_done", "from": "B_done"},
	}, res.Outputs)
	assert.Equal(t, []string{"A", "B", "C"}, res.Order)
	assert.Equal(t, StrategyTopological, res.Strategy)
	assert.Equal(t, StateCompleted, res.State)
	assert.NotEmpty(t, res.ExecutionID)
	assert.False(t, res.FallbackUsed)
	assert.Len(t, res.Trace.Snapshot(), 3)
}

func TestExecute_GlobalInputReachesSources(t *testing.T) {
	t.Parallel()
	g := mustGraph(t, echoNodes("A", "B"), edge("A", "B"))
	res, err := NewOrchestrator().Execute(context.Background(), g, Record{"val": "seed"})
	require.NoError(t, err)
	assert.Equal(t, "seed", res.Outputs["A"]["from"])
	assert.Equal(t, "A_done", res.Outputs["B"]["from"])
}

func TestExecute_FailFast(t *testing.T) {
	t.Parallel()
	cause := errors.New("middle broke")
	nodes := echoNodes("A", "B", "C")
	nodes[1].Executor = &mockExecutor{err: cause}
	g := mustGraph(t, nodes, edge("A", "B"), edge("B", "C"))

	res, err := NewOrchestrator().Execute(context.Background(), g, nil)
	require.Error(t, err)
	require.NotNil(t, res)

	var ne *NodeError
	require.ErrorAs(t, err, &ne)
	assert.Equal(t, "B", ne.NodeID)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, []string{"B"}, FailedNodes(err))

	assert.Contains(t, res.Outputs, "A")
	assert.NotContains(t, res.Outputs, "B")
	assert.NotContains(t, res.Outputs, "C")
	assert.Equal(t, StateFailed, res.State)

	a, ok := res.Trace.Attempt("B")
	require.True(t, ok)
	assert.Equal(t, AttemptFailed, a.Status)
	_, ok = res.Trace.Attempt("C")
	assert.False(t, ok)
}

func TestExecute_FailingSiblingDoesNotCancelOthers(t *testing.T) {
	t.Parallel()
	slow := &mockExecutor{output: Record{"ok": true}, delay: 30 * time.Millisecond}
	nodes := []*Node{
		{ID: "bad", Executor: &mockExecutor{err: errors.New("fast failure")}},
		{ID: "slow", Executor: slow},
		{ID: "after", Executor: echoExecutor},
	}
	g := mustGraph(t, nodes, edge("bad", "after"), edge("slow", "after"))

	res, err := NewOrchestrator().Execute(context.Background(), g, nil)
	require.Error(t, err)
	assert.Equal(t, []string{"bad"}, FailedNodes(err))
	assert.Equal(t, Record{"ok": true}, res.Outputs["slow"])
	assert.NotContains(t, res.Outputs, "after")
}

func TestExecute_AllGroupFailuresReported(t *testing.T) {
	t.Parallel()
	nodes := []*Node{
		{ID: "x", Executor: &mockExecutor{err: errors.New("x")}},
		{ID: "y", Executor: &mockExecutor{err: errors.New("y")}},
	}
	g := mustGraph(t, nodes)

	_, err := NewOrchestrator().Execute(context.Background(), g, nil)
	assert.Equal(t, []string{"x", "y"}, FailedNodes(err))
}

func TestExecute_ParallelJoin(t *testing.T) {
	t.Parallel()
	var inFlight, maxInFlight atomic.Int32
	staggered := func(d time.Duration) Executor {
		return ExecutorFunc(func(ctx context.Context, id string, _, _ Record) (Record, error) {
			cur := inFlight.Add(1)
			for {
				prev := maxInFlight.Load()
				if cur <= prev || maxInFlight.CompareAndSwap(prev, cur) {
					break
				}
			}
			time.Sleep(d)
			inFlight.Add(-1)
			return Record{id: true}, nil
		})
	}
	nodes := []*Node{
		{ID: "A", Executor: staggered(40 * time.Millisecond)},
		{ID: "B", Executor: staggered(10 * time.Millisecond)},
		{ID: "C", Executor: echoExecutor},
	}
	g := mustGraph(t, nodes, edge("A", "C"), edge("B", "C"))

	log := &eventLog{}
	res, err := NewOrchestrator(WithHooks(log.hooks())).Execute(context.Background(), g, nil)
	require.NoError(t, err)

	assert.Equal(t, [][]string{{"A", "B"}, {"C"}}, res.Groups)
	assert.Equal(t, int32(2), maxInFlight.Load())

	end0 := log.index("group_end:0")
	require.NotEqual(t, -1, end0)
	assert.Less(t, log.index("node_end:A"), end0)
	assert.Less(t, log.index("node_end:B"), end0)
	assert.Less(t, log.index("node_end:B"), log.index("node_end:A"))
	assert.Greater(t, log.index("group_start:1"), end0)
	assert.Greater(t, log.index("node_start:C"), end0)
}

func TestExecute_MaxParallel(t *testing.T) {
	t.Parallel()
	var inFlight, maxInFlight atomic.Int32
	exec := ExecutorFunc(func(context.Context, string, Record, Record) (Record, error) {
		cur := inFlight.Add(1)
		if cur > maxInFlight.Load() {
			maxInFlight.Store(cur)
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return Record{}, nil
	})
	nodes := []*Node{{ID: "a", Executor: exec}, {ID: "b", Executor: exec}, {ID: "c", Executor: exec}}
	g := mustGraph(t, nodes)

	res, err := NewOrchestrator(WithMaxParallel(1)).Execute(context.Background(), g, nil)
	require.NoError(t, err)
	assert.Len(t, res.Outputs, 3)
	assert.Equal(t, int32(1), maxInFlight.Load())
}

func TestExecute_SequentialGrouping(t *testing.T) {
	t.Parallel()
	g := mustGraph(t, echoNodes("a", "b"))
	res, err := NewOrchestrator(WithGrouping(GroupingSequential)).Execute(context.Background(), g, nil)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"a"}, {"b"}}, res.Groups)
}

func TestExecute_Idempotent(t *testing.T) {
	t.Parallel()
	g := mustGraph(t, echoNodes("A", "B", "C"), edge("A", "B"), edge("A", "C"))
	o := NewOrchestrator(WithInvoker(NewInvoker(InvokerConfig{HistoryLimit: 10})))
	ctx := context.Background()

	first, err := o.Execute(ctx, g, Record{"val": 1})
	require.NoError(t, err)
	second, err := o.Execute(ctx, g, Record{"val": 1})
	require.NoError(t, err)

	assert.Equal(t, first.Outputs, second.Outputs)
	assert.NotEqual(t, first.ExecutionID, second.ExecutionID)

	recs, err := o.Invoker().History().List(ctx, "B")
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

func TestExecute_CycleRunsAcyclicPart(t *testing.T) {
	t.Parallel()
	g := mustGraph(t, echoNodes("x", "a", "b"), edge("x", "a"), edge("a", "b"), edge("b", "a"))

	res, err := NewOrchestrator().Execute(context.Background(), g, nil)
	require.NoError(t, err)
	assert.True(t, res.CycleDetected)
	assert.Equal(t, []string{"a", "b"}, res.Unreached)
	assert.Equal(t, []string{"x"}, res.Order)
	assert.Len(t, res.Outputs, 1)
	assert.Equal(t, StateCompleted, res.State)
}

func TestExecute_DefaultOutputNode(t *testing.T) {
	t.Parallel()
	g := mustGraph(t, []*Node{{ID: "placeholder", Kind: KindCustom}})
	res, err := NewOrchestrator().Execute(context.Background(), g, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultOutput(), res.Outputs["placeholder"])
}

func TestExecute_NilGraph(t *testing.T) {
	t.Parallel()
	_, err := NewOrchestrator().Execute(context.Background(), nil, nil)
	assert.Error(t, err)
}

func TestExecute_CancelledContext(t *testing.T) {
	t.Parallel()
	g := mustGraph(t, echoNodes("a", "b"), edge("a", "b"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := NewOrchestrator().Execute(ctx, g, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, res.Outputs)
}

func TestExecute_StateTransitions(t *testing.T) {
	t.Parallel()
	log := &eventLog{}
	g := mustGraph(t, echoNodes("a"))

	_, err := NewOrchestrator(WithHooks(log.hooks())).Execute(context.Background(), g, nil)
	require.NoError(t, err)

	var states []string
	for _, e := range log.list() {
		if len(e) > 6 && e[:6] == "state:" {
			states = append(states, e[6:])
		}
	}
	assert.Equal(t, []string{"idle->scheduling", "scheduling->running", "running->completed"}, states)
}

func TestExecute_RunEndHook(t *testing.T) {
	t.Parallel()
	var got *Result
	g := mustGraph(t, echoNodes("a"))
	o := NewOrchestrator(WithHooks(Hooks{OnRunEnd: func(r *Result, _ error) { got = r }}))

	res, err := o.Execute(context.Background(), g, nil)
	require.NoError(t, err)
	assert.Same(t, res, got)
}

// ---------------------------------------------------------------------------
// Fallback
// ---------------------------------------------------------------------------

func TestExecute_FallbackWhenPrimaryProducesNothing(t *testing.T) {
	t.Parallel()
	flaky := &mockExecutor{output: Record{"ok": true}, failFirst: 1}
	g := mustGraph(t, []*Node{{ID: "s", Executor: flaky}, {ID: "t", Executor: echoExecutor}}, edge("s", "t"))
	log := &eventLog{}

	o := NewOrchestrator(
		WithStrategy(StrategyTopological),
		WithFallback(StrategyBranchTracing),
		WithHooks(log.hooks()),
	)
	res, err := o.Execute(context.Background(), g, nil)
	require.NoError(t, err)

	assert.True(t, res.FallbackUsed)
	assert.Equal(t, StrategyBranchTracing, res.Strategy)
	assert.Equal(t, []string{"s"}, FailedNodes(res.PrimaryErr))
	assert.Len(t, res.Outputs, 2)
	assert.Equal(t, StateCompleted, res.State)
	assert.Equal(t, -1, log.index("state:running->scheduling"))
	assert.Greater(t, log.index("fallback:topological->branch_tracing"), log.index("state:scheduling->running"))
	var states []string
	for _, e := range log.list() {
		if strings.HasPrefix(e, "state:") {
			states = append(states, e)
		}
	}
	assert.Equal(t, []string{"state:idle->scheduling", "state:scheduling->running", "state:running->completed"}, states)

	// Both attempts are traced.
	var strategies []Strategy
	for _, a := range res.Trace.Snapshot() {
		if a.NodeID == "s" {
			strategies = append(strategies, a.Strategy)
		}
	}
	assert.Equal(t, []Strategy{StrategyTopological, StrategyBranchTracing}, strategies)
}

func TestExecute_NoFallbackWhenPrimarySucceeds(t *testing.T) {
	t.Parallel()
	g := mustGraph(t, echoNodes("a"))
	o := NewOrchestrator(WithFallback(StrategyBranchTracing))

	res, err := o.Execute(context.Background(), g, nil)
	require.NoError(t, err)
	assert.False(t, res.FallbackUsed)
	assert.Equal(t, StrategyTopological, res.Strategy)
	assert.Nil(t, res.PrimaryErr)
}

func TestExecute_NoFallbackAfterPartialOutput(t *testing.T) {
	t.Parallel()
	nodes := echoNodes("a", "b")
	nodes[1].Executor = &mockExecutor{err: errors.New("b")}
	g := mustGraph(t, nodes, edge("a", "b"))
	o := NewOrchestrator(WithFallback(StrategyBranchTracing))

	res, err := o.Execute(context.Background(), g, nil)
	require.Error(t, err)
	assert.False(t, res.FallbackUsed)
	assert.Contains(t, res.Outputs, "a")
}

func TestExecute_FallbackAlsoFails(t *testing.T) {
	t.Parallel()
	g := mustGraph(t, []*Node{{ID: "s", Executor: &mockExecutor{err: errors.New("always")}}})
	o := NewOrchestrator(WithFallback(StrategyBranchTracing))

	res, err := o.Execute(context.Background(), g, nil)
	require.Error(t, err)
	assert.True(t, res.FallbackUsed)
	assert.Error(t, res.PrimaryErr)
	assert.Equal(t, StateFailed, res.State)
}

func TestParseStrategy(t *testing.T) {
	t.Parallel()
	s, err := ParseStrategy("Branch_Tracing")
	require.NoError(t, err)
	assert.Equal(t, StrategyBranchTracing, s)

	s, err = ParseStrategy("none")
	require.NoError(t, err)
	assert.Equal(t, Strategy(""), s)

	_, err = ParseStrategy("dfs")
	assert.Error(t, err)
}

func TestOrchestrator_ExecutionIDInContext(t *testing.T) {
	var seen string
	g, err := NewGraph([]*Node{{
		ID: "a",
		Executor: ExecutorFunc(func(ctx context.Context, _ string, _, _ Record) (Record, error) {
			seen, _ = ctxkeys.ExecutionID(ctx)
			return Record{}, nil
		}),
	}}, nil)
	require.NoError(t, err)

	res, err := NewOrchestrator().Execute(context.Background(), g, nil)
	require.NoError(t, err)
	assert.Equal(t, res.ExecutionID, seen)
}
