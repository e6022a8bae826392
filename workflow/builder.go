package workflow

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Builder provides a fluent API for constructing graphs in code.
type Builder struct {
	name    string
	nodes   []*Node
	edges   []Edge
	catalog *Catalog
	logger  *zap.Logger
}

// NewBuilder creates a builder for a graph with the given name.
func NewBuilder(name string) *Builder {
	return &Builder{
		name:   name,
		logger: zap.NewNop(),
	}
}

// WithCatalog applies kind ports, defaults and config validation on Build.
func (b *Builder) WithCatalog(c *Catalog) *Builder {
	b.catalog = c
	return b
}

// WithLogger sets a custom logger.
func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger.With(zap.String("component", "graph_builder"))
	return b
}

// AddNode adds a node and returns a NodeBuilder for configuring it.
func (b *Builder) AddNode(id string, kind NodeKind) *NodeBuilder {
	n := &Node{ID: id, Kind: kind}
	b.nodes = append(b.nodes, n)
	return &NodeBuilder{node: n, parent: b}
}

// AddEdge connects from to to without handles.
func (b *Builder) AddEdge(from, to string) *Builder {
	b.edges = append(b.edges, Edge{Source: from, Target: to})
	return b
}

// Connect connects a named output port of from to a named input port of to.
func (b *Builder) Connect(from, sourceHandle, to, targetHandle string) *Builder {
	b.edges = append(b.edges, Edge{
		Source:       from,
		Target:       to,
		SourceHandle: sourceHandle,
		TargetHandle: targetHandle,
	})
	return b
}

// Chain connects the given nodes one after another.
func (b *Builder) Chain(ids ...string) *Builder {
	for i := 1; i < len(ids); i++ {
		b.AddEdge(ids[i-1], ids[i])
	}
	return b
}

// Build validates the nodes and edges and returns the graph.
func (b *Builder) Build() (*Graph, error) {
	if len(b.nodes) == 0 {
		return nil, fmt.Errorf("build %s: graph has no nodes", b.name)
	}
	if b.catalog != nil {
		for _, n := range b.nodes {
			if err := b.catalog.Apply(n); err != nil {
				return nil, err
			}
		}
	}
	g, err := NewGraph(b.nodes, b.edges)
	if err != nil {
		return nil, fmt.Errorf("build %s: %w", b.name, err)
	}

	if _, cyclic := Order(g); cyclic {
		b.logger.Warn("graph contains a cycle", zap.String("name", b.name))
	}
	b.logger.Debug("graph built",
		zap.String("name", b.name),
		zap.Int("nodes", len(b.nodes)),
		zap.Int("edges", len(b.edges)))
	return g, nil
}

// MustBuild is like Build but panics on error.
func (b *Builder) MustBuild() *Graph {
	g, err := b.Build()
	if err != nil {
		panic(err)
	}
	return g
}

// NodeBuilder configures a single node.
type NodeBuilder struct {
	node   *Node
	parent *Builder
}

// WithLabel sets the display label.
func (nb *NodeBuilder) WithLabel(label string) *NodeBuilder {
	nb.node.Label = label
	return nb
}

// WithConfig sets the node config.
func (nb *NodeBuilder) WithConfig(cfg Record) *NodeBuilder {
	nb.node.Config = cfg
	return nb
}

// WithExecutor sets the node's own executor.
func (nb *NodeBuilder) WithExecutor(e Executor) *NodeBuilder {
	nb.node.Executor = e
	return nb
}

// WithFunc sets the node's own executor from a function.
func (nb *NodeBuilder) WithFunc(fn ExecutorFunc) *NodeBuilder {
	nb.node.Executor = fn
	return nb
}

// WithInputs declares input ports.
func (nb *NodeBuilder) WithInputs(p Ports) *NodeBuilder {
	nb.node.Inputs = p
	return nb
}

// WithOutputs declares output ports.
func (nb *NodeBuilder) WithOutputs(p Ports) *NodeBuilder {
	nb.node.Outputs = p
	return nb
}

// WithTimeout bounds each executor call of the node.
func (nb *NodeBuilder) WithTimeout(d time.Duration) *NodeBuilder {
	nb.node.Timeout = d
	return nb
}

// WithRetry sets the node's retry policy.
func (nb *NodeBuilder) WithRetry(p RetryPolicy) *NodeBuilder {
	nb.node.Retry = &p
	return nb
}

// Done returns to the parent builder.
func (nb *NodeBuilder) Done() *Builder {
	return nb.parent
}
