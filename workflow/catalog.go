package workflow

import (
	"fmt"
	"maps"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// KindSpec describes a node kind: its ports, its config schema and the
// executor used for nodes that do not bring their own.
type KindSpec struct {
	Kind        NodeKind
	Label       string
	Category    string
	Description string

	Inputs  Ports
	Outputs Ports

	// ConfigSchema is a JSON schema applied to node configs of this kind.
	ConfigSchema map[string]any
	// Defaults are merged under each node config.
	Defaults Record

	Executor Executor
}

// Catalog is a registry of node kinds.
type Catalog struct {
	mu      sync.RWMutex
	specs   map[NodeKind]*KindSpec
	schemas map[NodeKind]*gojsonschema.Schema
	order   []NodeKind
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		specs:   make(map[NodeKind]*KindSpec),
		schemas: make(map[NodeKind]*gojsonschema.Schema),
	}
}

// Register adds or replaces a kind. The config schema, if any, is compiled
// eagerly so a broken schema fails here rather than at run time.
func (c *Catalog) Register(spec KindSpec) error {
	if spec.Kind == "" {
		return fmt.Errorf("register kind: empty kind")
	}

	var compiled *gojsonschema.Schema
	if spec.ConfigSchema != nil {
		s, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(spec.ConfigSchema))
		if err != nil {
			return fmt.Errorf("register kind %s: compile config schema: %w", spec.Kind, err)
		}
		compiled = s
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.specs[spec.Kind]; !exists {
		c.order = append(c.order, spec.Kind)
	}
	cp := spec
	c.specs[spec.Kind] = &cp
	if compiled != nil {
		c.schemas[spec.Kind] = compiled
	} else {
		delete(c.schemas, spec.Kind)
	}
	return nil
}

// MustRegister is like Register but panics on error.
func (c *Catalog) MustRegister(spec KindSpec) {
	if err := c.Register(spec); err != nil {
		panic(err)
	}
}

// Lookup returns the spec of a kind.
func (c *Catalog) Lookup(kind NodeKind) (KindSpec, bool) {
	if c == nil {
		return KindSpec{}, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.specs[kind]
	if !ok {
		return KindSpec{}, false
	}
	return *s, true
}

// Kinds lists the registered kinds in registration order.
func (c *Catalog) Kinds() []NodeKind {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]NodeKind(nil), c.order...)
}

// Executor returns the executor registered for kind, or nil.
func (c *Catalog) Executor(kind NodeKind) Executor {
	spec, ok := c.Lookup(kind)
	if !ok {
		return nil
	}
	return spec.Executor
}

// ValidateConfig checks config against the schema of kind. Unknown kinds
// and kinds without a schema accept any config.
func (c *Catalog) ValidateConfig(kind NodeKind, config Record) error {
	c.mu.RLock()
	schema, ok := c.schemas[kind]
	c.mu.RUnlock()
	if !ok {
		return nil
	}
	if config == nil {
		config = Record{}
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(map[string]any(config)))
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, kind, err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, re := range result.Errors() {
			msgs = append(msgs, re.String())
		}
		return fmt.Errorf("%w: %s: %s", ErrInvalidConfig, kind, strings.Join(msgs, "; "))
	}
	return nil
}

// Apply fills in the kind's ports and config defaults on node and validates
// the resulting config. Ports the node already declares are kept.
func (c *Catalog) Apply(node *Node) error {
	spec, ok := c.Lookup(node.Kind)
	if !ok {
		return nil
	}
	if len(node.Inputs) == 0 && len(spec.Inputs) > 0 {
		node.Inputs = maps.Clone(spec.Inputs)
	}
	if len(node.Outputs) == 0 && len(spec.Outputs) > 0 {
		node.Outputs = maps.Clone(spec.Outputs)
	}
	if len(spec.Defaults) > 0 {
		merged := spec.Defaults.Clone()
		maps.Copy(merged, node.Config)
		node.Config = merged
	}
	if err := c.ValidateConfig(node.Kind, node.Config); err != nil {
		return &ValidationError{NodeID: node.ID, Err: ErrInvalidConfig,
			Message: fmt.Sprintf("node %q: %v", node.ID, err)}
	}
	return nil
}
