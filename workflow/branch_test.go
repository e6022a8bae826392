package workflow

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestTraceBranches(t *testing.T) {
	t.Parallel()
	g := mustGraph(t, nodesOf("S1", "A", "B", "S2", "C"),
		edge("S1", "A"), edge("A", "B"), edge("S2", "B"), edge("S1", "C"))

	branches := TraceBranches(g)
	require.Len(t, branches, 2)
	assert.Equal(t, Branch{Source: "S1", Members: []string{"S1", "A", "B", "C"}}, branches[0])
	assert.Equal(t, Branch{Source: "S2", Members: []string{"S2", "B"}}, branches[1])
}

func TestBranchTracing_RunsEachNodeOnce(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	counting := ExecutorFunc(func(_ context.Context, id string, in, _ Record) (Record, error) {
		calls.Add(1)
		out := in.Clone()
		out[id] = true
		return out, nil
	})
	nodes := []*Node{
		{ID: "S1", Executor: counting},
		{ID: "A", Executor: counting},
		{ID: "B", Executor: counting},
		{ID: "S2", Executor: counting},
	}
	g := mustGraph(t, nodes, edge("S1", "A"), edge("A", "B"), edge("S2", "B"))

	o := NewOrchestrator(WithStrategy(StrategyBranchTracing), WithGrouping(GroupingSequential))
	res, err := o.Execute(context.Background(), g, Record{})
	require.NoError(t, err)

	assert.Equal(t, int32(4), calls.Load())
	assert.Equal(t, []string{"S1", "A", "B", "S2"}, res.Order)
	// B ran inside the first branch, before S2 produced anything.
	assert.Equal(t, Record{"S1": true, "A": true, "B": true}, res.Outputs["B"])
	assert.Empty(t, res.Unreached)
	assert.Equal(t, StrategyBranchTracing, res.Strategy)
}

func TestBranchTracing_LayeredWithinBranch(t *testing.T) {
	t.Parallel()
	g := mustGraph(t, echoNodes("S", "L", "R", "J"),
		edge("S", "L"), edge("S", "R"), edge("L", "J"), edge("R", "J"))

	res, err := NewOrchestrator(WithStrategy(StrategyBranchTracing)).Execute(context.Background(), g, nil)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"S"}, {"L", "R"}, {"J"}}, res.Groups)
}

func TestBranchTracing_CycleMembersRunAfterOrderedPart(t *testing.T) {
	t.Parallel()
	g := mustGraph(t, echoNodes("S", "a", "b", "c", "d"),
		edge("S", "a"), edge("a", "b"), edge("b", "a"), edge("c", "d"), edge("d", "c"))

	res, err := NewOrchestrator(WithStrategy(StrategyBranchTracing)).Execute(context.Background(), g, nil)
	require.NoError(t, err)
	assert.True(t, res.CycleDetected)
	assert.Equal(t, []string{"S", "a", "b"}, res.Order)
	// c and d are reachable from no source.
	assert.Equal(t, []string{"c", "d"}, res.Unreached)
	// a ran with the output of S only, b with the output of a.
	assert.Equal(t, "S_done", res.Outputs["a"]["from"])
	assert.Equal(t, "a_done", res.Outputs["b"]["from"])
}

func TestBranchTracing_FailFast(t *testing.T) {
	t.Parallel()
	nodes := echoNodes("S1", "A", "S2")
	nodes[1].Executor = &mockExecutor{err: assert.AnError}
	g := mustGraph(t, nodes, edge("S1", "A"))

	res, err := NewOrchestrator(WithStrategy(StrategyBranchTracing)).Execute(context.Background(), g, nil)
	require.Error(t, err)
	assert.Equal(t, []string{"A"}, FailedNodes(err))
	assert.Contains(t, res.Outputs, "S1")
	assert.NotContains(t, res.Outputs, "S2")
	assert.Equal(t, []string{"S2"}, res.Unreached)
}

func TestProperty_BranchTracingCoversReachableNodesOnce(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		g := drawDAG(rt)

		counts := make(map[string]*atomic.Int32, g.Len())
		nodes := make([]*Node, 0, g.Len())
		for _, n := range g.Nodes() {
			c := &atomic.Int32{}
			counts[n.ID] = c
			nodes = append(nodes, &Node{ID: n.ID, Executor: ExecutorFunc(
				func(context.Context, string, Record, Record) (Record, error) {
					c.Add(1)
					return Record{}, nil
				})})
		}
		g2, err := NewGraph(nodes, g.Edges())
		if err != nil {
			rt.Fatalf("rebuild graph: %v", err)
		}

		res, err := NewOrchestrator(WithStrategy(StrategyBranchTracing)).Execute(context.Background(), g2, nil)
		if err != nil {
			rt.Fatalf("execute: %v", err)
		}
		// In a DAG every node is reachable from some source.
		for id, c := range counts {
			if c.Load() != 1 {
				rt.Fatalf("node %s ran %d times", id, c.Load())
			}
		}
		if len(res.Unreached) != 0 {
			rt.Fatalf("unexpected unreached nodes %v", res.Unreached)
		}
	})
}
