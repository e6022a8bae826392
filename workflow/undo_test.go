package workflow

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defNamed(name string) *Definition {
	return &Definition{Name: name, Nodes: []NodeDef{{ID: "a", Config: Record{"v": name}}}}
}

func TestUndoHistory_UndoRedo(t *testing.T) {
	t.Parallel()
	h := NewUndoHistory(defNamed("v0"), 0)
	assert.False(t, h.CanUndo())

	h.Snapshot(defNamed("v1"))
	h.Snapshot(defNamed("v2"))

	d, ok := h.Undo()
	require.True(t, ok)
	assert.Equal(t, "v1", d.Name)
	d, ok = h.Undo()
	require.True(t, ok)
	assert.Equal(t, "v0", d.Name)
	_, ok = h.Undo()
	assert.False(t, ok)

	d, ok = h.Redo()
	require.True(t, ok)
	assert.Equal(t, "v1", d.Name)
	assert.True(t, h.CanRedo())

	h.Snapshot(defNamed("v3"))
	assert.False(t, h.CanRedo())
	assert.Equal(t, "v3", h.Current().Name)
}

func TestUndoHistory_Bounded(t *testing.T) {
	t.Parallel()
	h := NewUndoHistory(defNamed("v0"), 3)
	for i := 1; i <= 10; i++ {
		h.Snapshot(defNamed(fmt.Sprintf("v%d", i)))
	}

	var names []string
	for h.CanUndo() {
		d, _ := h.Undo()
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{"v9", "v8", "v7"}, names)
}

func TestUndoHistory_SnapshotsAreCopies(t *testing.T) {
	t.Parallel()
	d := defNamed("v0")
	h := NewUndoHistory(d, 0)
	d.Nodes[0].Config["v"] = "mutated"

	assert.Equal(t, "v0", h.Current().Nodes[0].Config["v"])
}
