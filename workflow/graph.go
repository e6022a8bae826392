package workflow

import (
	"fmt"
	"maps"
	"time"
)

// Record is the unit of data flowing between nodes.
type Record map[string]any

// Clone returns a shallow copy of r. A nil record clones to an empty one.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	maps.Copy(out, r)
	return out
}

// NodeKind selects which executor logic applies to a node.
type NodeKind string

const (
	// KindStart marks the graph entry point
	KindStart NodeKind = "start"
	// KindEnd marks the graph exit point
	KindEnd NodeKind = "end"
	// KindPassthrough forwards its input unchanged
	KindPassthrough NodeKind = "passthrough"
	// KindTransform reshapes its input
	KindTransform NodeKind = "transform"
	// KindBranch routes its input to a "true" or "false" port
	KindBranch NodeKind = "branch"
	// KindMerge joins several upstream outputs
	KindMerge NodeKind = "merge"
	// KindDelay waits before forwarding its input
	KindDelay NodeKind = "delay"
	// KindSubflow runs a nested graph
	KindSubflow NodeKind = "subflow"
	// KindHTTP performs an HTTP call (externally supplied)
	KindHTTP NodeKind = "http"
	// KindCode runs user code (externally supplied)
	KindCode NodeKind = "code"
	// KindLoop iterates over its input (externally supplied)
	KindLoop NodeKind = "loop"
	// KindCustom is a placeholder node without built-in behavior
	KindCustom NodeKind = "custom"
)

// IsReserved reports whether at most one node of this kind may exist per graph.
func (k NodeKind) IsReserved() bool {
	return k == KindStart || k == KindEnd
}

// PortType is the declared value type of a node port.
type PortType string

const (
	PortAny     PortType = "any"
	PortString  PortType = "string"
	PortNumber  PortType = "number"
	PortBoolean PortType = "boolean"
	PortObject  PortType = "object"
	PortArray   PortType = "array"
	PortEvent   PortType = "event"
)

// Ports maps port names to their declared types.
type Ports map[string]PortType

// Has reports whether the port set is empty or declares name.
// An empty set accepts any handle.
func (p Ports) Has(name string) bool {
	if len(p) == 0 {
		return true
	}
	_, ok := p[name]
	return ok
}

// Accepts reports whether value conforms to the declared type t.
func (t PortType) Accepts(value any) bool {
	if value == nil {
		return true
	}
	switch t {
	case PortAny, PortEvent, "":
		return true
	case PortString:
		_, ok := value.(string)
		return ok
	case PortBoolean:
		_, ok := value.(bool)
		return ok
	case PortNumber:
		switch value.(type) {
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
			return true
		}
		return false
	case PortObject:
		switch value.(type) {
		case map[string]any, Record:
			return true
		}
		return false
	case PortArray:
		switch value.(type) {
		case []any, []string, []Record, []map[string]any:
			return true
		}
		return false
	default:
		return true
	}
}

// Node is a unit of work in a graph.
type Node struct {
	ID     string
	Kind   NodeKind
	Label  string
	Config Record

	Inputs  Ports
	Outputs Ports

	// Executor overrides the executor registered for Kind.
	Executor Executor
	// Timeout bounds a single executor call. Zero means the engine default.
	Timeout time.Duration
	// Retry overrides the engine retry policy for this node.
	Retry *RetryPolicy
}

// Edge is a directed connection between two nodes.
type Edge struct {
	ID           string
	Source       string
	Target       string
	SourceHandle string
	TargetHandle string
}

func (e Edge) String() string {
	s := e.Source
	if e.SourceHandle != "" {
		s += "." + e.SourceHandle
	}
	t := e.Target
	if e.TargetHandle != "" {
		t += "." + e.TargetHandle
	}
	return s + "->" + t
}

// Graph is an immutable set of nodes and the edges between them, plus the
// adjacency derived from them. A Graph may contain cycles.
type Graph struct {
	nodes    []*Node
	index    map[string]*Node
	edges    []Edge
	incoming map[string][]Edge
	outgoing map[string][]Edge
}

// NewGraph validates nodes and edges and builds a Graph. Nodes are copied, so
// later changes by the caller do not affect the graph.
//
// Validation fails with a *ValidationError when a node id is empty or
// duplicated, when more than one start or end node exists, when an edge
// references an unknown node, or when an edge handle names a port the node
// does not declare.
func NewGraph(nodes []*Node, edges []Edge) (*Graph, error) {
	g := &Graph{
		nodes:    make([]*Node, 0, len(nodes)),
		index:    make(map[string]*Node, len(nodes)),
		edges:    make([]Edge, 0, len(edges)),
		incoming: make(map[string][]Edge, len(nodes)),
		outgoing: make(map[string][]Edge, len(nodes)),
	}

	reserved := make(map[NodeKind]string)
	for _, n := range nodes {
		if n == nil || n.ID == "" {
			return nil, &ValidationError{Err: ErrEmptyNodeID, Message: "node id must not be empty"}
		}
		if _, dup := g.index[n.ID]; dup {
			return nil, &ValidationError{NodeID: n.ID, Err: ErrDuplicateNode,
				Message: fmt.Sprintf("node %q declared more than once", n.ID)}
		}
		if n.Kind.IsReserved() {
			if other, ok := reserved[n.Kind]; ok {
				return nil, &ValidationError{NodeID: n.ID, Err: ErrReservedKind,
					Message: fmt.Sprintf("node %q is a second %s node (first: %q)", n.ID, n.Kind, other)}
			}
			reserved[n.Kind] = n.ID
		}
		cp := *n
		g.nodes = append(g.nodes, &cp)
		g.index[cp.ID] = &cp
	}

	for i, e := range edges {
		if e.ID == "" {
			e.ID = fmt.Sprintf("e%d", i)
		}
		src, ok := g.index[e.Source]
		if !ok {
			return nil, &ValidationError{EdgeID: e.ID, Err: ErrDanglingEdge,
				Message: fmt.Sprintf("edge %s references unknown source %q", e, e.Source)}
		}
		dst, ok := g.index[e.Target]
		if !ok {
			return nil, &ValidationError{EdgeID: e.ID, Err: ErrDanglingEdge,
				Message: fmt.Sprintf("edge %s references unknown target %q", e, e.Target)}
		}
		if e.SourceHandle != "" && !src.Outputs.Has(e.SourceHandle) {
			return nil, &ValidationError{NodeID: src.ID, EdgeID: e.ID, Err: ErrUnknownPort,
				Message: fmt.Sprintf("edge %s: node %q has no output port %q", e, src.ID, e.SourceHandle)}
		}
		if e.TargetHandle != "" && !dst.Inputs.Has(e.TargetHandle) {
			return nil, &ValidationError{NodeID: dst.ID, EdgeID: e.ID, Err: ErrUnknownPort,
				Message: fmt.Sprintf("edge %s: node %q has no input port %q", e, dst.ID, e.TargetHandle)}
		}
		g.edges = append(g.edges, e)
		g.outgoing[e.Source] = append(g.outgoing[e.Source], e)
		g.incoming[e.Target] = append(g.incoming[e.Target], e)
	}

	return g, nil
}

// Nodes returns the nodes in declaration order.
func (g *Graph) Nodes() []*Node {
	out := make([]*Node, len(g.nodes))
	copy(out, g.nodes)
	return out
}

// Len returns the number of nodes.
func (g *Graph) Len() int { return len(g.nodes) }

// Node returns the node with the given id.
func (g *Graph) Node(id string) (*Node, bool) {
	n, ok := g.index[id]
	return n, ok
}

// Edges returns the edges in declaration order.
func (g *Graph) Edges() []Edge {
	out := make([]Edge, len(g.edges))
	copy(out, g.edges)
	return out
}

// IncomingEdges returns the edges targeting id, in declaration order.
func (g *Graph) IncomingEdges(id string) []Edge {
	return g.incoming[id]
}

// OutgoingEdges returns the edges leaving id, in declaration order.
func (g *Graph) OutgoingEdges(id string) []Edge {
	return g.outgoing[id]
}

// InDegree returns the number of edges targeting id.
func (g *Graph) InDegree(id string) int {
	return len(g.incoming[id])
}

// SourceNodes returns the nodes with no incoming edges, in declaration order.
func (g *Graph) SourceNodes() []*Node {
	var out []*Node
	for _, n := range g.nodes {
		if len(g.incoming[n.ID]) == 0 {
			out = append(out, n)
		}
	}
	return out
}

// SinkNodes returns the nodes with no outgoing edges, in declaration order.
func (g *Graph) SinkNodes() []*Node {
	var out []*Node
	for _, n := range g.nodes {
		if len(g.outgoing[n.ID]) == 0 {
			out = append(out, n)
		}
	}
	return out
}

// Successors returns the distinct direct successors of id in edge order.
func (g *Graph) Successors(id string) []*Node {
	seen := make(map[string]bool)
	var out []*Node
	for _, e := range g.outgoing[id] {
		if seen[e.Target] {
			continue
		}
		seen[e.Target] = true
		out = append(out, g.index[e.Target])
	}
	return out
}

// NodeByKind returns the first node of the given kind.
func (g *Graph) NodeByKind(kind NodeKind) (*Node, bool) {
	for _, n := range g.nodes {
		if n.Kind == kind {
			return n, true
		}
	}
	return nil, false
}
