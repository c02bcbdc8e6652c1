package merge

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/mrudd/kgbuild/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeLines(t *testing.T, path string, lines ...string) {
	t.Helper()
	content := ""
	for _, l := range lines {
		content += l + "\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestFileMergerPrimarySourcesMergeDuplicateNodes(t *testing.T) {
	dir := t.TempDir()
	sourceANodes := filepath.Join(dir, "a_nodes.jsonl")
	sourceAEdges := filepath.Join(dir, "a_edges.jsonl")
	sourceBNodes := filepath.Join(dir, "b_nodes.jsonl")
	sourceBEdges := filepath.Join(dir, "b_edges.jsonl")

	writeLines(t, sourceANodes,
		`{"id":"HGNC:1100","name":"BRCA1","category":["biolink:Gene"]}`,
		`{"id":"MESH:D003920","name":"Diabetes"}`,
	)
	writeLines(t, sourceAEdges,
		`{"subject":"HGNC:1100","predicate":"biolink:gene_associated_with_condition","object":"MESH:D003920","primary_knowledge_source":"infores:ctd"}`,
	)
	writeLines(t, sourceBNodes,
		`{"id":"HGNC:1100","category":["biolink:NamedThing"]}`,
	)
	writeLines(t, sourceBEdges,
		`{"subject":"HGNC:1100","predicate":"biolink:gene_associated_with_condition","object":"MESH:D003920","primary_knowledge_source":"infores:ctd"}`,
	)

	spec := Spec{
		GraphID: "test-graph",
		Sources: []Source{
			{ID: "source_a", Version: "1", NodeFilePaths: []string{sourceANodes}, EdgeFilePaths: []string{sourceAEdges}},
			{ID: "source_b", Version: "1", NodeFilePaths: []string{sourceBNodes}, EdgeFilePaths: []string{sourceBEdges}},
		},
	}

	fm, err := NewFileMerger(spec, dir, "nodes.jsonl", "edges.jsonl", logging.ForSource("test"))
	require.NoError(t, err)
	require.NoError(t, fm.Merge())

	nodesOut, err := os.ReadFile(filepath.Join(dir, "nodes.jsonl"))
	require.NoError(t, err)
	nodes := decodeLines(t, nodesOut)
	assert.Len(t, nodes, 2)

	edgesOut, err := os.ReadFile(filepath.Join(dir, "edges.jsonl"))
	require.NoError(t, err)
	edges := decodeLines(t, edgesOut)
	assert.Len(t, edges, 1)

	meta := fm.GetMergeMetadata()
	assert.Equal(t, 1, meta.MergedNodes)
	assert.Equal(t, 1, meta.MergedEdges)
	assert.Equal(t, 2, meta.FinalNodeCount)
	assert.Equal(t, 1, meta.FinalEdgeCount)
}

func TestFileMergerConnectedEdgeSubsetOnlyPullsConnectedEdges(t *testing.T) {
	dir := t.TempDir()
	primaryNodes := filepath.Join(dir, "primary_nodes.jsonl")
	primaryEdges := filepath.Join(dir, "primary_edges.jsonl")
	secondaryNodes := filepath.Join(dir, "secondary_nodes.jsonl")
	secondaryEdges := filepath.Join(dir, "secondary_edges.jsonl")

	writeLines(t, primaryNodes,
		`{"id":"HGNC:1100","name":"BRCA1"}`,
	)
	writeLines(t, primaryEdges,
		`{"subject":"HGNC:1100","predicate":"biolink:related_to","object":"MONDO:0005148","primary_knowledge_source":"infores:ctd"}`,
	)
	writeLines(t, secondaryNodes,
		`{"id":"MONDO:0005148","name":"type 2 diabetes"}`,
		`{"id":"UNCONNECTED:1","name":"orphan"}`,
	)
	writeLines(t, secondaryEdges,
		`{"subject":"MONDO:0005148","predicate":"biolink:related_to","object":"HGNC:1100","primary_knowledge_source":"infores:text-mining"}`,
		`{"subject":"UNCONNECTED:1","predicate":"biolink:related_to","object":"UNCONNECTED:2","primary_knowledge_source":"infores:text-mining"}`,
	)

	spec := Spec{
		GraphID: "test-graph",
		Sources: []Source{
			{ID: "primary", Version: "1", NodeFilePaths: []string{primaryNodes}, EdgeFilePaths: []string{primaryEdges}},
			{ID: "secondary", Version: "1", MergeStrategy: StrategyConnectedEdgeSubset, NodeFilePaths: []string{secondaryNodes}, EdgeFilePaths: []string{secondaryEdges}},
		},
	}

	fm, err := NewFileMerger(spec, dir, "nodes.jsonl", "edges.jsonl", logging.ForSource("test"))
	require.NoError(t, err)
	require.NoError(t, fm.Merge())

	nodesOut, err := os.ReadFile(filepath.Join(dir, "nodes.jsonl"))
	require.NoError(t, err)
	nodes := decodeLines(t, nodesOut)
	// UNCONNECTED:1 must not be pulled in: its only edge touches neither a
	// primary node nor a node discovered through a connected edge.
	assert.ElementsMatch(t, []string{"HGNC:1100", "MONDO:0005148"}, nodeKeysOf(nodes))

	edgesOut, err := os.ReadFile(filepath.Join(dir, "edges.jsonl"))
	require.NoError(t, err)
	edges := decodeLines(t, edgesOut)
	// The primary edge and the connected secondary edge have swapped
	// subject/object, so they don't share a merge key and both survive.
	assert.Len(t, edges, 2)
}

func TestFileMergerDontMergeEdgesAreAppendedVerbatim(t *testing.T) {
	dir := t.TempDir()
	primaryNodes := filepath.Join(dir, "primary_nodes.jsonl")
	primaryEdges := filepath.Join(dir, "primary_edges.jsonl")
	rawNodes := filepath.Join(dir, "raw_nodes.jsonl")
	rawEdges := filepath.Join(dir, "raw_edges.jsonl")

	writeLines(t, primaryNodes, `{"id":"HGNC:1100"}`)
	writeLines(t, primaryEdges, `{"subject":"HGNC:1100","predicate":"biolink:related_to","object":"MONDO:0005148","primary_knowledge_source":"infores:ctd"}`)
	writeLines(t, rawNodes, `{"id":"UNCONNECTED:1"}`)
	writeLines(t, rawEdges,
		`{"subject":"UNCONNECTED:1","predicate":"biolink:related_to","object":"UNCONNECTED:2","primary_knowledge_source":"infores:raw-source"}`,
		`{"subject":"UNCONNECTED:1","predicate":"biolink:related_to","object":"UNCONNECTED:2","primary_knowledge_source":"infores:raw-source"}`,
	)

	spec := Spec{
		GraphID: "test-graph",
		Sources: []Source{
			{ID: "primary", Version: "1", NodeFilePaths: []string{primaryNodes}, EdgeFilePaths: []string{primaryEdges}},
			{ID: "raw", Version: "1", MergeStrategy: StrategyDontMergeEdges, NodeFilePaths: []string{rawNodes}, EdgeFilePaths: []string{rawEdges}},
		},
	}

	fm, err := NewFileMerger(spec, dir, "nodes.jsonl", "edges.jsonl", logging.ForSource("test"))
	require.NoError(t, err)
	require.NoError(t, fm.Merge())

	edgesOut, err := os.ReadFile(filepath.Join(dir, "edges.jsonl"))
	require.NoError(t, err)
	edges := decodeLines(t, edgesOut)
	// The primary edge merges to 1; the two identical raw edges are
	// appended unmerged, duplicates and all.
	assert.Len(t, edges, 3)

	meta := fm.GetMergeMetadata()
	assert.Equal(t, 2, meta.UnmergedEdgeCount)
}

func TestFileMergerRejectsUnsupportedStrategy(t *testing.T) {
	dir := t.TempDir()
	spec := Spec{
		GraphID: "test-graph",
		Sources: []Source{
			{ID: "weird", MergeStrategy: "not_a_real_strategy"},
		},
	}
	fm, err := NewFileMerger(spec, dir, "", "", logging.ForSource("test"))
	require.NoError(t, err)
	err = fm.Merge()
	assert.Error(t, err)
	assert.NotEmpty(t, fm.GetMergeMetadata().MergeError)
}

func TestFileMergerUsesDiskBackendWhenRequested(t *testing.T) {
	dir := t.TempDir()
	spec := Spec{
		GraphID: "test-graph",
		Sources: []Source{
			{ID: "a", UseDiskMerge: true},
		},
	}
	fm, err := NewFileMerger(spec, dir, "", "", logging.ForSource("test"))
	require.NoError(t, err)
	_, ok := fm.nodeMerger.(*DiskMerger)
	assert.True(t, ok)
	_, ok = fm.edgeMerger.(*DiskMerger)
	assert.True(t, ok)
}
