package workflow

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Definition is the serializable form of a graph, in the shape emitted by
// the canvas editor.
type Definition struct {
	ID          string         `json:"id,omitempty" yaml:"id,omitempty"`
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	Version     string         `json:"version,omitempty" yaml:"version,omitempty"`
	Nodes       []NodeDef      `json:"nodes" yaml:"nodes"`
	Edges       []EdgeDef      `json:"edges" yaml:"edges"`
	Metadata    map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// NodeDef is the serializable form of a node.
type NodeDef struct {
	ID        string    `json:"id" yaml:"id"`
	Kind      NodeKind  `json:"kind" yaml:"kind"`
	Label     string    `json:"label,omitempty" yaml:"label,omitempty"`
	Position  *Position `json:"position,omitempty" yaml:"position,omitempty"`
	Config    Record    `json:"config,omitempty" yaml:"config,omitempty"`
	Inputs    Ports     `json:"inputs,omitempty" yaml:"inputs,omitempty"`
	Outputs   Ports     `json:"outputs,omitempty" yaml:"outputs,omitempty"`
	TimeoutMS int64     `json:"timeout_ms,omitempty" yaml:"timeout_ms,omitempty"`
	Retry     *RetryDef `json:"retry,omitempty" yaml:"retry,omitempty"`
}

// Position is a node's location on the canvas.
type Position struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// RetryDef is the serializable form of a RetryPolicy.
type RetryDef struct {
	MaxRetries  int   `json:"max_retries" yaml:"max_retries"`
	BaseDelayMS int64 `json:"base_delay_ms,omitempty" yaml:"base_delay_ms,omitempty"`
	MaxDelayMS  int64 `json:"max_delay_ms,omitempty" yaml:"max_delay_ms,omitempty"`
	Jitter      bool  `json:"jitter,omitempty" yaml:"jitter,omitempty"`
}

// EdgeDef is the serializable form of an edge.
type EdgeDef struct {
	ID           string `json:"id,omitempty" yaml:"id,omitempty"`
	Source       string `json:"source" yaml:"source"`
	Target       string `json:"target" yaml:"target"`
	SourceHandle string `json:"sourceHandle,omitempty" yaml:"sourceHandle,omitempty"`
	TargetHandle string `json:"targetHandle,omitempty" yaml:"targetHandle,omitempty"`
}

// Build turns the definition into a Graph. When catalog is non-nil, kind
// ports and config defaults are applied and configs are validated against
// their kind schema.
func (d *Definition) Build(catalog *Catalog) (*Graph, error) {
	nodes := make([]*Node, 0, len(d.Nodes))
	for _, nd := range d.Nodes {
		n := nd.node()
		if catalog != nil {
			if err := catalog.Apply(n); err != nil {
				return nil, err
			}
		}
		nodes = append(nodes, n)
	}

	edges := make([]Edge, 0, len(d.Edges))
	for _, ed := range d.Edges {
		edges = append(edges, Edge(ed))
	}
	return NewGraph(nodes, edges)
}

// Validate checks the structure of the definition without a catalog.
func (d *Definition) Validate() error {
	_, err := d.Build(nil)
	return err
}

func (nd NodeDef) node() *Node {
	n := &Node{
		ID:      nd.ID,
		Kind:    nd.Kind,
		Label:   nd.Label,
		Config:  nd.Config.Clone(),
		Inputs:  clonePorts(nd.Inputs),
		Outputs: clonePorts(nd.Outputs),
		Timeout: time.Duration(nd.TimeoutMS) * time.Millisecond,
	}
	if nd.Retry != nil {
		n.Retry = &RetryPolicy{
			MaxRetries: nd.Retry.MaxRetries,
			BaseDelay:  time.Duration(nd.Retry.BaseDelayMS) * time.Millisecond,
			MaxDelay:   time.Duration(nd.Retry.MaxDelayMS) * time.Millisecond,
			Jitter:     nd.Retry.Jitter,
		}
	}
	return n
}

// DefinitionOf exports a graph. Executors and canvas positions are not part
// of a Graph and are therefore absent.
func DefinitionOf(name string, g *Graph) *Definition {
	d := &Definition{Name: name}
	for _, n := range g.nodes {
		nd := NodeDef{
			ID:        n.ID,
			Kind:      n.Kind,
			Label:     n.Label,
			Config:    deepCopyRecord(n.Config),
			Inputs:    clonePorts(n.Inputs),
			Outputs:   clonePorts(n.Outputs),
			TimeoutMS: n.Timeout.Milliseconds(),
		}
		if n.Retry != nil {
			nd.Retry = &RetryDef{
				MaxRetries:  n.Retry.MaxRetries,
				BaseDelayMS: n.Retry.BaseDelay.Milliseconds(),
				MaxDelayMS:  n.Retry.MaxDelay.Milliseconds(),
				Jitter:      n.Retry.Jitter,
			}
		}
		d.Nodes = append(d.Nodes, nd)
	}
	for _, e := range g.edges {
		d.Edges = append(d.Edges, EdgeDef(e))
	}
	return d
}

// Clone returns a deep copy of the definition.
func (d *Definition) Clone() *Definition {
	cp := *d
	cp.Nodes = make([]NodeDef, len(d.Nodes))
	for i, nd := range d.Nodes {
		nd.Config = deepCopyRecord(nd.Config)
		nd.Inputs = clonePorts(nd.Inputs)
		nd.Outputs = clonePorts(nd.Outputs)
		if nd.Position != nil {
			p := *nd.Position
			nd.Position = &p
		}
		if nd.Retry != nil {
			r := *nd.Retry
			nd.Retry = &r
		}
		cp.Nodes[i] = nd
	}
	cp.Edges = append([]EdgeDef(nil), d.Edges...)
	if d.Metadata != nil {
		cp.Metadata = deepCopyRecord(d.Metadata)
	}
	return &cp
}

// ToJSON encodes the definition as indented JSON.
func (d *Definition) ToJSON() ([]byte, error) {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal definition to JSON: %w", err)
	}
	return data, nil
}

// ToYAML encodes the definition as YAML.
func (d *Definition) ToYAML() ([]byte, error) {
	data, err := yaml.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("marshal definition to YAML: %w", err)
	}
	return data, nil
}

// ParseJSON decodes and structurally validates a JSON definition.
func ParseJSON(data []byte) (*Definition, error) {
	var d Definition
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("unmarshal definition from JSON: %w", err)
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

// ParseYAML decodes and structurally validates a YAML definition.
func ParseYAML(data []byte) (*Definition, error) {
	var d Definition
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("unmarshal definition from YAML: %w", err)
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

// LoadDefinition reads a definition file. Files ending in .yaml or .yml are
// parsed as YAML, everything else as JSON.
func LoadDefinition(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read definition: %w", err)
	}
	if isYAML(path) {
		return ParseYAML(data)
	}
	return ParseJSON(data)
}

// SaveDefinition writes d to path, choosing the format from the extension.
func SaveDefinition(path string, d *Definition) error {
	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = d.ToYAML()
	} else {
		data, err = d.ToJSON()
	}
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write definition: %w", err)
	}
	return nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

func clonePorts(p Ports) Ports {
	if p == nil {
		return nil
	}
	out := make(Ports, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

func deepCopyRecord(r map[string]any) Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch x := v.(type) {
	case Record:
		return deepCopyRecord(x)
	case map[string]any:
		return map[string]any(deepCopyRecord(x))
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = deepCopyValue(e)
		}
		return out
	default:
		return v
	}
}
