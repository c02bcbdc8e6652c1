package stream

import (
	"path/filepath"
	"testing"

	"github.com/mrudd/kgbuild/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriterDedupesNodesWithinSession(t *testing.T) {
	dir := t.TempDir()
	nodesPath := filepath.Join(dir, "nodes.jsonl")

	w, err := NewWriter(nodesPath, "", nil)
	require.NoError(t, err)

	n := model.NewNode("MONDO:0005148", "type 2 diabetes", []string{"biolink:Disease"}, nil)
	require.NoError(t, w.WriteNode(n))
	require.NoError(t, w.WriteNode(n))
	require.NoError(t, w.Close())

	assert.Equal(t, 1, w.NodeCount())
	assert.Equal(t, 1, w.RepeatNodeCount())

	r, err := NewNodeReader(nodesPath)
	require.NoError(t, err)
	defer r.Close()

	got, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "MONDO:0005148", got.ID)

	_, err = r.Next()
	assert.Error(t, err)
}

func TestWriterWithoutNodeDedupWritesDuplicates(t *testing.T) {
	dir := t.TempDir()
	nodesPath := filepath.Join(dir, "nodes.jsonl")

	w, err := NewWriter(nodesPath, "", nil, WithoutNodeDedup())
	require.NoError(t, err)

	n := model.NewNode("MONDO:0005148", "type 2 diabetes", []string{"biolink:Disease"}, nil)
	require.NoError(t, w.WriteNode(n))
	require.NoError(t, w.WriteNode(n))
	require.NoError(t, w.Close())

	assert.Equal(t, 2, w.NodeCount())
}

func TestEdgeRoundTrip(t *testing.T) {
	dir := t.TempDir()
	edgesPath := filepath.Join(dir, "edges.jsonl")

	w, err := NewWriter("", edgesPath, nil)
	require.NoError(t, err)

	e := model.NewEdge("MONDO:1", "MONDO:2", "biolink:related_to", "infores:ctd", nil, nil)
	require.NoError(t, w.WriteEdge(e))
	require.NoError(t, w.Close())

	r, err := NewEdgeReader(edgesPath)
	require.NoError(t, err)
	defer r.Close()

	got, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "MONDO:1", got.Subject)
	assert.Equal(t, "infores:ctd", got.PrimaryKnowledgeSource)
}

func TestGzipRoundTrip(t *testing.T) {
	dir := t.TempDir()
	nodesPath := filepath.Join(dir, "nodes.jsonl.gz")

	w, err := NewWriter(nodesPath, "", nil)
	require.NoError(t, err)
	n := model.NewNode("HGNC:1100", "BRCA1", []string{"biolink:Gene"}, nil)
	require.NoError(t, w.WriteNode(n))
	require.NoError(t, w.Close())

	r, err := NewNodeReader(nodesPath)
	require.NoError(t, err)
	defer r.Close()

	got, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "HGNC:1100", got.ID)
}
