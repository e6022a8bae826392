package nodes

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/aicflow/aicflow/internal/ctxkeys"
	"github.com/aicflow/aicflow/workflow"

	"go.uber.org/zap"
)

// DefaultMaxSubflowDepth bounds subflow nesting.
const DefaultMaxSubflowDepth = 8

// ErrGraphNotFound is returned by a GraphSource for an unknown name.
var ErrGraphNotFound = errors.New("graph not found")

// GraphSource resolves subflow names to graphs.
type GraphSource interface {
	Graph(name string) (*workflow.Graph, error)
}

// MapSource is a GraphSource over a fixed set of graphs.
type MapSource map[string]*workflow.Graph

func (m MapSource) Graph(name string) (*workflow.Graph, error) {
	g, ok := m[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrGraphNotFound, name)
	}
	return g, nil
}

// DirSource loads definitions named <name>.json, <name>.yaml or <name>.yml
// from a directory and builds them with a catalog. Built graphs are cached.
type DirSource struct {
	Dir     string
	Catalog *workflow.Catalog

	mu     sync.Mutex
	graphs map[string]*workflow.Graph
}

func (s *DirSource) Graph(name string) (*workflow.Graph, error) {
	if name != filepath.Base(name) {
		return nil, fmt.Errorf("invalid subflow name %q", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if g, ok := s.graphs[name]; ok {
		return g, nil
	}

	for _, ext := range []string{".json", ".yaml", ".yml"} {
		path := filepath.Join(s.Dir, name+ext)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		def, err := workflow.LoadDefinition(path)
		if err != nil {
			return nil, err
		}
		g, err := def.Build(s.Catalog)
		if err != nil {
			return nil, fmt.Errorf("subflow %s: %w", name, err)
		}
		if s.graphs == nil {
			s.graphs = make(map[string]*workflow.Graph)
		}
		s.graphs[name] = g
		return g, nil
	}
	return nil, fmt.Errorf("%w: %s in %s", ErrGraphNotFound, name, s.Dir)
}

// Subflow runs a nested graph, named by the "graph" config, with the node's
// input as the nested workflow input. Nested nodes record their history
// under the subflow node's key, so "call/start" for node start of the graph
// run by node call. Its output is the output of the
// nested end node, or, without an end node, the outputs of every sink node
// keyed by node id.
type Subflow struct {
	Source GraphSource
	// Orchestrator runs the nested graph. It is usually the orchestrator
	// running the parent graph and may be set after construction.
	Orchestrator *workflow.Orchestrator
	MaxDepth     int
	Logger       *zap.Logger
}

// Spec describes the subflow kind.
func (s *Subflow) Spec() workflow.KindSpec {
	return workflow.KindSpec{
		Kind:        workflow.KindSubflow,
		Label:       "Subflow",
		Category:    "control",
		Description: "Runs another workflow.",
		ConfigSchema: map[string]any{
			"type":     "object",
			"required": []any{"graph"},
			"properties": map[string]any{
				"graph": map[string]any{"type": "string", "minLength": 1},
			},
		},
		Executor: s,
	}
}

func (s *Subflow) Execute(ctx context.Context, nodeID string, in, cfg workflow.Record) (workflow.Record, error) {
	if s.Orchestrator == nil || s.Source == nil {
		return nil, errors.New("subflow: not configured")
	}
	name, _ := cfg["graph"].(string)

	maxDepth := s.MaxDepth
	if maxDepth <= 0 {
		maxDepth = DefaultMaxSubflowDepth
	}
	depth := ctxkeys.SubflowDepth(ctx)
	if depth >= maxDepth {
		return nil, fmt.Errorf("subflow %s: nesting deeper than %d", name, maxDepth)
	}

	g, err := s.Source.Graph(name)
	if err != nil {
		return nil, err
	}

	logger := s.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Debug("running subflow",
		zap.String("node_id", nodeID),
		zap.String("graph", name),
		zap.Int("depth", depth+1))

	nested := ctxkeys.WithSubflowDepth(ctx, depth+1)
	nested = ctxkeys.WithHistoryScope(nested, workflow.HistoryKey(ctx, nodeID))
	res, err := s.Orchestrator.Execute(nested, g, in)
	if err != nil {
		return nil, fmt.Errorf("subflow %s: %w", name, err)
	}
	return WorkflowOutput(g, res), nil
}

// WorkflowOutput extracts the overall output of a run: the end node's
// output when the graph has one, otherwise the output of every sink node
// keyed by id.
func WorkflowOutput(g *workflow.Graph, res *workflow.Result) workflow.Record {
	if end, ok := g.NodeByKind(workflow.KindEnd); ok {
		if out, ok := res.Output(end.ID); ok {
			return out.Clone()
		}
		return workflow.Record{}
	}
	out := workflow.Record{}
	for _, n := range g.SinkNodes() {
		if v, ok := res.Output(n.ID); ok {
			out[n.ID] = v
		}
	}
	return out
}
