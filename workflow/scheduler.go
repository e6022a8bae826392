package workflow

import (
	"fmt"
	"strings"
)

// Grouping selects how an ordered node sequence is split into execution groups.
type Grouping string

const (
	// GroupingSequential runs every node in its own group.
	GroupingSequential Grouping = "sequential"
	// GroupingLayered groups nodes that share a topological depth.
	GroupingLayered Grouping = "layered"
)

// ParseGrouping converts a configuration string into a Grouping.
func ParseGrouping(s string) (Grouping, error) {
	switch Grouping(strings.ToLower(strings.TrimSpace(s))) {
	case GroupingSequential:
		return GroupingSequential, nil
	case GroupingLayered, "":
		return GroupingLayered, nil
	default:
		return "", fmt.Errorf("unknown grouping %q", s)
	}
}

// Schedule is the execution plan for one graph.
type Schedule struct {
	// Order is a topological order of every node reachable by Kahn's algorithm.
	Order []*Node
	// Groups partitions Order. Members of a group have no edge between them
	// and every predecessor of a member sits in an earlier group.
	Groups [][]*Node
	// CycleDetected is set when Order is shorter than the node set.
	CycleDetected bool
	// Unreached lists, in declaration order, the nodes left out of Order.
	Unreached []string
}

// GroupIDs returns the node ids of every group.
func (s *Schedule) GroupIDs() [][]string {
	out := make([][]string, len(s.Groups))
	for i, grp := range s.Groups {
		out[i] = nodeIDs(grp)
	}
	return out
}

// OrderIDs returns the node ids of Order.
func (s *Schedule) OrderIDs() []string {
	return nodeIDs(s.Order)
}

// Order computes a topological order of g with Kahn's algorithm. Equally
// ready nodes keep declaration order. The second result reports whether
// some nodes could not be ordered because they sit on or behind a cycle.
func Order(g *Graph) ([]*Node, bool) {
	order, _ := kahn(g, g.nodes)
	return order, len(order) < len(g.nodes)
}

// Plan orders g and splits the order into execution groups.
func Plan(g *Graph, grouping Grouping) *Schedule {
	order, depth := kahn(g, g.nodes)
	s := &Schedule{
		Order:         order,
		Groups:        buildGroups(order, depth, grouping),
		CycleDetected: len(order) < len(g.nodes),
	}
	if s.CycleDetected {
		placed := make(map[string]bool, len(order))
		for _, n := range order {
			placed[n.ID] = true
		}
		for _, n := range g.nodes {
			if !placed[n.ID] {
				s.Unreached = append(s.Unreached, n.ID)
			}
		}
	}
	return s
}

// kahn orders the members subset of g. Only edges whose endpoints are both
// members count. The ready queue is seeded in members order and successors
// are visited in edge declaration order. depth holds the longest path length
// from a seed to each ordered node.
func kahn(g *Graph, members []*Node) ([]*Node, map[string]int) {
	inSet := make(map[string]bool, len(members))
	for _, n := range members {
		inSet[n.ID] = true
	}

	indeg := make(map[string]int, len(members))
	for _, n := range members {
		for _, e := range g.incoming[n.ID] {
			if inSet[e.Source] {
				indeg[n.ID]++
			}
		}
	}

	queue := make([]*Node, 0, len(members))
	for _, n := range members {
		if indeg[n.ID] == 0 {
			queue = append(queue, n)
		}
	}

	depth := make(map[string]int, len(members))
	order := make([]*Node, 0, len(members))
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		order = append(order, n)

		for _, e := range g.outgoing[n.ID] {
			if !inSet[e.Target] {
				continue
			}
			if d := depth[n.ID] + 1; d > depth[e.Target] {
				depth[e.Target] = d
			}
			indeg[e.Target]--
			if indeg[e.Target] == 0 {
				queue = append(queue, g.index[e.Target])
			}
		}
	}
	return order, depth
}

func buildGroups(order []*Node, depth map[string]int, grouping Grouping) [][]*Node {
	if len(order) == 0 {
		return nil
	}
	if grouping == GroupingSequential {
		groups := make([][]*Node, len(order))
		for i, n := range order {
			groups[i] = []*Node{n}
		}
		return groups
	}

	maxDepth := 0
	for _, n := range order {
		if depth[n.ID] > maxDepth {
			maxDepth = depth[n.ID]
		}
	}
	groups := make([][]*Node, maxDepth+1)
	for _, n := range order {
		d := depth[n.ID]
		groups[d] = append(groups[d], n)
	}
	return groups
}

func nodeIDs(nodes []*Node) []string {
	ids := make([]string, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID
	}
	return ids
}
