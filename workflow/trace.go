package workflow

import (
	"sync"
	"time"
)

// AttemptStatus is the status of one node attempt within a run.
type AttemptStatus string

const (
	AttemptRunning   AttemptStatus = "running"
	AttemptCompleted AttemptStatus = "completed"
	AttemptFailed    AttemptStatus = "failed"
)

// NodeAttempt records the invocation of a single node during a run.
type NodeAttempt struct {
	NodeID    string        `json:"node_id"`
	Kind      NodeKind      `json:"kind"`
	Strategy  Strategy      `json:"strategy"`
	Group     int           `json:"group"`
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Duration  time.Duration `json:"duration"`
	Status    AttemptStatus `json:"status"`
	Input     Record        `json:"input,omitempty"`
	Output    Record        `json:"output,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// RunTrace is the ordered log of node attempts made by one Execute call.
// Attempts of every strategy tried during the call are included.
type RunTrace struct {
	ExecutionID string         `json:"execution_id"`
	StartTime   time.Time      `json:"start_time"`
	EndTime     time.Time      `json:"end_time"`
	Duration    time.Duration  `json:"duration"`
	Attempts    []*NodeAttempt `json:"attempts"`
	Error       string         `json:"error,omitempty"`
	mu          sync.RWMutex
}

// NewRunTrace starts a trace for the given execution.
func NewRunTrace(executionID string) *RunTrace {
	return &RunTrace{
		ExecutionID: executionID,
		StartTime:   time.Now(),
		Attempts:    make([]*NodeAttempt, 0),
	}
}

// Start opens an attempt for node.
func (t *RunTrace) Start(node *Node, strategy Strategy, group int, input Record) *NodeAttempt {
	t.mu.Lock()
	defer t.mu.Unlock()

	a := &NodeAttempt{
		NodeID:    node.ID,
		Kind:      node.Kind,
		Strategy:  strategy,
		Group:     group,
		StartTime: time.Now(),
		Status:    AttemptRunning,
		Input:     input,
	}
	t.Attempts = append(t.Attempts, a)
	return a
}

// End closes an attempt with its output or error.
func (t *RunTrace) End(a *NodeAttempt, output Record, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	a.EndTime = time.Now()
	a.Duration = a.EndTime.Sub(a.StartTime)
	a.Output = output
	if err != nil {
		a.Status = AttemptFailed
		a.Error = err.Error()
	} else {
		a.Status = AttemptCompleted
	}
}

// Finish stamps the end of the run.
func (t *RunTrace) Finish(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.EndTime = time.Now()
	t.Duration = t.EndTime.Sub(t.StartTime)
	if err != nil {
		t.Error = err.Error()
	}
}

// Snapshot returns a copy of the attempts.
func (t *RunTrace) Snapshot() []NodeAttempt {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]NodeAttempt, len(t.Attempts))
	for i, a := range t.Attempts {
		out[i] = *a
	}
	return out
}

// Attempt returns the last attempt recorded for nodeID.
func (t *RunTrace) Attempt(nodeID string) (NodeAttempt, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for i := len(t.Attempts) - 1; i >= 0; i-- {
		if t.Attempts[i].NodeID == nodeID {
			return *t.Attempts[i], true
		}
	}
	return NodeAttempt{}, false
}
