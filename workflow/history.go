package workflow

import (
	"context"
	"sync"
	"time"
)

// DefaultHistoryLimit is the number of execution records kept per node.
const DefaultHistoryLimit = 10

// ExecutionRecord is one successful invocation of a node.
type ExecutionRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Inputs    Record    `json:"inputs"`
	Outputs   Record    `json:"outputs"`
}

// HistoryStore keeps execution records per node id, most recent first.
// It outlives individual runs.
type HistoryStore interface {
	// Append prepends rec to the node's history and keeps at most limit
	// records. A limit below one keeps only rec.
	Append(ctx context.Context, nodeID string, rec ExecutionRecord, limit int) error
	// List returns the node's records, most recent first.
	List(ctx context.Context, nodeID string) ([]ExecutionRecord, error)
	// Clear drops the node's records.
	Clear(ctx context.Context, nodeID string) error
}

// MemoryHistoryStore is an in-process HistoryStore.
type MemoryHistoryStore struct {
	mu      sync.RWMutex
	records map[string][]ExecutionRecord
}

// NewMemoryHistoryStore creates an empty in-memory history store.
func NewMemoryHistoryStore() *MemoryHistoryStore {
	return &MemoryHistoryStore{records: make(map[string][]ExecutionRecord)}
}

func (s *MemoryHistoryStore) Append(_ context.Context, nodeID string, rec ExecutionRecord, limit int) error {
	if limit < 1 {
		limit = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.records[nodeID]
	n := min(len(prev)+1, limit)
	next := make([]ExecutionRecord, n)
	next[0] = rec
	copy(next[1:], prev)
	s.records[nodeID] = next
	return nil
}

func (s *MemoryHistoryStore) List(_ context.Context, nodeID string) ([]ExecutionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]ExecutionRecord(nil), s.records[nodeID]...), nil
}

func (s *MemoryHistoryStore) Clear(_ context.Context, nodeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, nodeID)
	return nil
}
