package workflow

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Branch is the part of a graph reachable from one source node.
type Branch struct {
	Source string `json:"source"`
	// Members lists the reachable node ids in depth-first preorder,
	// successors visited in edge declaration order. Source comes first.
	Members []string `json:"members"`
}

// TraceBranches returns one branch per source node, in declaration order.
// Branches may overlap. Nodes reachable from no source, such as members of a
// cycle without an entry, belong to no branch.
func TraceBranches(g *Graph) []Branch {
	sources := g.SourceNodes()
	branches := make([]Branch, 0, len(sources))
	for _, src := range sources {
		branches = append(branches, Branch{Source: src.ID, Members: traceFrom(g, src.ID)})
	}
	return branches
}

func traceFrom(g *Graph, start string) []string {
	visited := map[string]bool{}
	var members []string
	stack := []string{start}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[id] {
			continue
		}
		visited[id] = true
		members = append(members, id)

		out := g.outgoing[id]
		for i := len(out) - 1; i >= 0; i-- {
			if !visited[out[i].Target] {
				stack = append(stack, out[i].Target)
			}
		}
	}
	return members
}

// planBranch orders members by Kahn's algorithm over the edges among them,
// seeded in trace order. Members that cannot be ordered because of a cycle
// are appended afterwards, one per group, in trace order.
func planBranch(g *Graph, members []*Node, grouping Grouping) [][]*Node {
	order, depth := kahn(g, members)
	groups := buildGroups(order, depth, grouping)
	if len(order) == len(members) {
		return groups
	}
	placed := make(map[string]bool, len(order))
	for _, n := range order {
		placed[n.ID] = true
	}
	for _, n := range members {
		if !placed[n.ID] {
			groups = append(groups, []*Node{n})
		}
	}
	return groups
}

// branchTracing runs every branch in source declaration order. A node that
// already ran in an earlier branch is not run again, so a node shared by two
// branches sees only the outputs available when its first branch reaches it.
func (r *run) branchTracing(ctx context.Context, store *OutputStore) (*Schedule, error) {
	_, cyclic := Order(r.g)
	sched := &Schedule{CycleDetected: cyclic}
	branches := TraceBranches(r.g)

	r.o.logger.Debug("traced branches",
		zap.String("execution_id", r.id),
		zap.Int("branches", len(branches)))

	r.setState(StateRunning)
	done := make(map[string]bool, r.g.Len())
	index := 0
	for _, b := range branches {
		members := make([]*Node, 0, len(b.Members))
		for _, id := range b.Members {
			if !done[id] {
				members = append(members, r.g.index[id])
			}
		}

		for _, grp := range planBranch(r.g, members, r.o.grouping) {
			if err := ctx.Err(); err != nil {
				sched.Unreached = unreachedNodes(r.g, done)
				return sched, err
			}
			err := r.runGroup(ctx, StrategyBranchTracing, index, grp, store)
			for _, n := range grp {
				done[n.ID] = true
			}
			sched.Order = append(sched.Order, grp...)
			sched.Groups = append(sched.Groups, grp)
			if err != nil {
				sched.Unreached = unreachedNodes(r.g, done)
				return sched, fmt.Errorf("branch %s, group %d: %w", b.Source, index, err)
			}
			index++
		}
	}

	sched.Unreached = unreachedNodes(r.g, done)
	if len(sched.Unreached) > 0 {
		r.o.logger.Warn("nodes not reachable from any source",
			zap.String("execution_id", r.id),
			zap.Strings("unreached", sched.Unreached))
	}
	return sched, nil
}

func unreachedNodes(g *Graph, done map[string]bool) []string {
	var out []string
	for _, n := range g.nodes {
		if !done[n.ID] {
			out = append(out, n.ID)
		}
	}
	return out
}
