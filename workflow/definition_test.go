package workflow

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const canvasJSON = `{
  "name": "orders",
  "nodes": [
    {"id": "start", "kind": "start", "position": {"x": 0, "y": 0}},
    {"id": "check", "kind": "branch", "config": {"condition": "total > 100"},
     "outputs": {"true": "object", "false": "object"}},
    {"id": "notify", "kind": "http", "timeout_ms": 1500,
     "retry": {"max_retries": 2, "base_delay_ms": 50}},
    {"id": "end", "kind": "end"}
  ],
  "edges": [
    {"source": "start", "target": "check"},
    {"id": "hit", "source": "check", "target": "notify", "sourceHandle": "true", "targetHandle": "order"},
    {"source": "notify", "target": "end"}
  ]
}`

func TestParseJSON_Build(t *testing.T) {
	t.Parallel()
	d, err := ParseJSON([]byte(canvasJSON))
	require.NoError(t, err)
	assert.Equal(t, "orders", d.Name)

	g, err := d.Build(nil)
	require.NoError(t, err)
	assert.Equal(t, 4, g.Len())

	notify, ok := g.Node("notify")
	require.True(t, ok)
	assert.Equal(t, 1500*time.Millisecond, notify.Timeout)
	require.NotNil(t, notify.Retry)
	assert.Equal(t, 2, notify.Retry.MaxRetries)
	assert.Equal(t, 50*time.Millisecond, notify.Retry.BaseDelay)

	in := g.IncomingEdges("notify")
	require.Len(t, in, 1)
	assert.Equal(t, "hit", in[0].ID)
	assert.Equal(t, "true", in[0].SourceHandle)
	assert.Equal(t, "order", in[0].TargetHandle)
}

func TestParseJSON_DanglingEdge(t *testing.T) {
	t.Parallel()
	_, err := ParseJSON([]byte(`{"name":"x","nodes":[{"id":"a"}],"edges":[{"source":"a","target":"ghost"}]}`))
	assert.ErrorIs(t, err, ErrDanglingEdge)
}

func TestParseJSON_Malformed(t *testing.T) {
	t.Parallel()
	_, err := ParseJSON([]byte(`{"nodes": [`))
	assert.Error(t, err)
}

func TestDefinition_YAMLRoundTrip(t *testing.T) {
	t.Parallel()
	d, err := ParseJSON([]byte(canvasJSON))
	require.NoError(t, err)

	data, err := d.ToYAML()
	require.NoError(t, err)

	back, err := ParseYAML(data)
	require.NoError(t, err)
	assert.Equal(t, d.Name, back.Name)
	assert.Len(t, back.Nodes, len(d.Nodes))
	assert.Equal(t, d.Edges, back.Edges)
	assert.Equal(t, "total > 100", back.Nodes[1].Config["condition"])
	assert.Equal(t, PortObject, back.Nodes[1].Outputs["true"])
}

func TestDefinition_SaveAndLoad(t *testing.T) {
	t.Parallel()
	d, err := ParseJSON([]byte(canvasJSON))
	require.NoError(t, err)
	dir := t.TempDir()

	for _, name := range []string{"flow.json", "flow.yaml"} {
		path := filepath.Join(dir, name)
		require.NoError(t, SaveDefinition(path, d))

		loaded, err := LoadDefinition(path)
		require.NoError(t, err, name)
		assert.Equal(t, d.Edges, loaded.Edges, name)
		assert.Equal(t, d.Nodes[2].TimeoutMS, loaded.Nodes[2].TimeoutMS, name)
	}
}

func TestLoadDefinition_MissingFile(t *testing.T) {
	t.Parallel()
	_, err := LoadDefinition(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}

func TestDefinitionOf_RoundTrip(t *testing.T) {
	t.Parallel()
	g := NewBuilder("rt").
		AddNode("a", KindTransform).WithConfig(Record{"set": map[string]any{"k": "v"}}).Done().
		AddNode("b", KindDelay).WithTimeout(2*time.Second).Done().
		AddEdge("a", "b").
		MustBuild()

	d := DefinitionOf("rt", g)
	g2, err := d.Build(nil)
	require.NoError(t, err)

	b, _ := g2.Node("b")
	assert.Equal(t, 2*time.Second, b.Timeout)
	assert.Equal(t, g.Edges(), g2.Edges())
}

func TestDefinition_CloneIsDeep(t *testing.T) {
	t.Parallel()
	d, err := ParseJSON([]byte(canvasJSON))
	require.NoError(t, err)

	cp := d.Clone()
	cp.Nodes[1].Config["condition"] = "false"
	cp.Nodes[0].Position.X = 99
	cp.Edges[0].Target = "end"

	assert.Equal(t, "total > 100", d.Nodes[1].Config["condition"])
	assert.Equal(t, 0.0, d.Nodes[0].Position.X)
	assert.Equal(t, "check", d.Edges[0].Target)
}
