package workflow

import (
	"maps"
	"sync"
)

// OutputStore holds the latest output of every node invoked during one run.
// It is safe for concurrent use.
type OutputStore struct {
	mu      sync.RWMutex
	outputs map[string]Record
	order   []string
}

// NewOutputStore returns an empty store.
func NewOutputStore() *OutputStore {
	return &OutputStore{outputs: make(map[string]Record)}
}

// Set records the output of a node.
func (s *OutputStore) Set(nodeID string, out Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.outputs[nodeID]; !ok {
		s.order = append(s.order, nodeID)
	}
	s.outputs[nodeID] = out
}

// Get returns the output of a node, if it ran.
func (s *OutputStore) Get(nodeID string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out, ok := s.outputs[nodeID]
	return out, ok
}

// Has reports whether a node produced output.
func (s *OutputStore) Has(nodeID string) bool {
	_, ok := s.Get(nodeID)
	return ok
}

// Len returns the number of nodes with recorded output.
func (s *OutputStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.outputs)
}

// Snapshot copies the store contents into a plain map.
func (s *OutputStore) Snapshot() map[string]Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Record, len(s.outputs))
	maps.Copy(out, s.outputs)
	return out
}

// Written returns node ids in the order their first output was recorded.
func (s *OutputStore) Written() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.order...)
}

// ResolveInputs builds the input record of node from the outputs already in
// store.
//
// A node without incoming edges receives a copy of fallback. Otherwise the
// incoming edges are applied in declaration order and later edges overwrite
// earlier keys:
//
//   - no handles: the whole upstream output is merged in;
//   - sourceHandle set: only that upstream field is bound, under targetHandle
//     when given and under sourceHandle otherwise;
//   - only targetHandle set: the whole upstream output is bound under it.
//
// Upstream nodes that have not run, and source fields that are absent,
// contribute nothing. ResolveInputs never fails.
func ResolveInputs(node *Node, g *Graph, store *OutputStore, fallback Record) Record {
	incoming := g.IncomingEdges(node.ID)
	if len(incoming) == 0 {
		return fallback.Clone()
	}

	in := make(Record)
	for _, e := range incoming {
		upstream, ok := store.Get(e.Source)
		if !ok {
			continue
		}
		switch {
		case e.SourceHandle != "":
			v, ok := upstream[e.SourceHandle]
			if !ok {
				continue
			}
			key := e.TargetHandle
			if key == "" {
				key = e.SourceHandle
			}
			in[key] = v
		case e.TargetHandle != "":
			in[e.TargetHandle] = upstream.Clone()
		default:
			maps.Copy(in, upstream)
		}
	}
	return in
}
