package workflow

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyNodeID is returned for a node without an id.
	ErrEmptyNodeID = errors.New("empty node id")
	// ErrDuplicateNode is returned when two nodes share an id.
	ErrDuplicateNode = errors.New("duplicate node id")
	// ErrDanglingEdge is returned when an edge references a missing node.
	ErrDanglingEdge = errors.New("edge references unknown node")
	// ErrReservedKind is returned when a graph has more than one start or end node.
	ErrReservedKind = errors.New("reserved node kind declared more than once")
	// ErrUnknownPort is returned when an edge handle names an undeclared port.
	ErrUnknownPort = errors.New("unknown port")
	// ErrInvalidConfig is returned when a node config fails its kind schema.
	ErrInvalidConfig = errors.New("invalid node config")
	// ErrPortType is returned when an output value violates its declared port type.
	ErrPortType = errors.New("output does not match port type")
	// ErrCircuitOpen is returned when a node's circuit breaker rejects a call.
	ErrCircuitOpen = errors.New("circuit breaker open")
)

// ValidationError is a structural problem found before any node runs.
type ValidationError struct {
	NodeID  string
	EdgeID  string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	return "invalid graph: " + e.Message
}

func (e *ValidationError) Unwrap() error { return e.Err }

// NodeError reports a failed node invocation.
type NodeError struct {
	NodeID   string
	Kind     NodeKind
	Attempts int
	Cause    error
}

func (e *NodeError) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("node %s failed after %d attempts: %v", e.NodeID, e.Attempts, e.Cause)
	}
	return fmt.Sprintf("node %s failed: %v", e.NodeID, e.Cause)
}

func (e *NodeError) Unwrap() error { return e.Cause }

// FailedNodes extracts the ids of every *NodeError contained in err,
// including errors combined with errors.Join, in the order they appear.
func FailedNodes(err error) []string {
	var ids []string
	var walk func(error)
	walk = func(e error) {
		switch x := e.(type) {
		case nil:
		case *NodeError:
			ids = append(ids, x.NodeID)
		case interface{ Unwrap() []error }:
			for _, inner := range x.Unwrap() {
				walk(inner)
			}
		default:
			walk(errors.Unwrap(e))
		}
	}
	walk(err)
	return ids
}
