package workflow

import "sync"

// DefaultUndoLimit is the number of snapshots kept by an UndoHistory.
const DefaultUndoLimit = 100

// UndoHistory is a bounded undo/redo stack of definition snapshots.
type UndoHistory struct {
	mu      sync.Mutex
	limit   int
	past    []*Definition
	present *Definition
	future  []*Definition
}

// NewUndoHistory starts a history at initial. A limit below one uses
// DefaultUndoLimit.
func NewUndoHistory(initial *Definition, limit int) *UndoHistory {
	if limit < 1 {
		limit = DefaultUndoLimit
	}
	h := &UndoHistory{limit: limit}
	if initial != nil {
		h.present = initial.Clone()
	}
	return h
}

// Snapshot records d as the new current state. The redo stack is cleared
// and the oldest snapshot is dropped past the limit.
func (h *UndoHistory) Snapshot(d *Definition) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.present != nil {
		h.past = append(h.past, h.present)
		if len(h.past) > h.limit {
			h.past = h.past[len(h.past)-h.limit:]
		}
	}
	h.present = d.Clone()
	h.future = nil
}

// Current returns a copy of the current state, or nil.
func (h *UndoHistory) Current() *Definition {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.present == nil {
		return nil
	}
	return h.present.Clone()
}

// Undo steps back one snapshot and returns it.
func (h *UndoHistory) Undo() (*Definition, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.past) == 0 {
		return nil, false
	}
	prev := h.past[len(h.past)-1]
	h.past = h.past[:len(h.past)-1]
	h.future = append(h.future, h.present)
	h.present = prev
	return prev.Clone(), true
}

// Redo steps forward one snapshot and returns it.
func (h *UndoHistory) Redo() (*Definition, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.future) == 0 {
		return nil, false
	}
	next := h.future[len(h.future)-1]
	h.future = h.future[:len(h.future)-1]
	h.past = append(h.past, h.present)
	h.present = next
	return next.Clone(), true
}

// CanUndo reports whether Undo would succeed.
func (h *UndoHistory) CanUndo() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.past) > 0
}

// CanRedo reports whether Redo would succeed.
func (h *UndoHistory) CanRedo() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.future) > 0
}
