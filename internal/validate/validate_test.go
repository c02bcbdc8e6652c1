package validate

import (
	"context"
	"os"
	"path/filepath"
	"testing"

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

// fakeBiolinkTypes models a tiny slice of the biolink hierarchy so tests can
// exercise leaf resolution and invalid-type/invalid-edge detection without a
// real biolink-model-toolkit client.
type fakeBiolinkTypes struct {
	invalidTypes map[string]bool
	invalidEdges map[string]bool
}

func (f *fakeBiolinkTypes) Leaves(categories []string) []string {
	leaves := make([]string, 0, len(categories))
	for _, c := range categories {
		if c != "biolink:NamedThing" || len(categories) == 1 {
			leaves = append(leaves, c)
		}
	}
	return leaves
}

func (f *fakeBiolinkTypes) IsValidNodeType(nodeType string) bool {
	return !f.invalidTypes[nodeType]
}

func (f *fakeBiolinkTypes) ValidateEdge(subjectTypes []string, predicate string, objectTypes []string) bool {
	return !f.invalidEdges[predicate]
}

type fakeInforesRegistry struct {
	statuses map[string]InforesStatus
}

func (f *fakeInforesRegistry) Status(infores string) InforesStatus {
	if s, ok := f.statuses[infores]; ok {
		return s
	}
	return InforesStatusValid
}

func TestValidateComputesPrefixAndCategoryDistributions(t *testing.T) {
	dir := t.TempDir()
	nodesPath := filepath.Join(dir, "nodes.jsonl")
	edgesPath := filepath.Join(dir, "edges.jsonl")
	writeLines(t, nodesPath,
		`{"id":"HGNC:1","name":"BRCA1","category":["biolink:Gene"]}`,
		`{"id":"MESH:D1","name":"Diabetes","category":["biolink:Disease"]}`,
	)
	writeLines(t, edgesPath,
		`{"subject":"HGNC:1","predicate":"biolink:gene_associated_with_condition","object":"MESH:D1","primary_knowledge_source":"infores:ctd"}`,
	)

	v := New(Config{}, &fakeBiolinkTypes{}, &fakeInforesRegistry{})
	result, err := v.Validate(context.Background(), nodesPath, edgesPath, "test-graph", "v1")
	require.NoError(t, err)

	assert.Equal(t, true, result["pass"])
	assert.Equal(t, []string{"infores:ctd"}, result["primary_knowledge_sources"])
	assert.Equal(t, 0, result["invalid_edges_due_to_predicate_and_node_types"])
	assert.Equal(t, 0, result["invalid_edges_due_to_missing_primary_ks"])

	prefixes := result["node_curie_prefixes"].([]countEntry)
	require.Len(t, prefixes, 2)
}

func TestValidateFlagsMissingPrimaryKnowledgeSource(t *testing.T) {
	dir := t.TempDir()
	nodesPath := filepath.Join(dir, "nodes.jsonl")
	edgesPath := filepath.Join(dir, "edges.jsonl")
	writeLines(t, nodesPath, `{"id":"HGNC:1","category":["biolink:Gene"]}`, `{"id":"MESH:D1","category":["biolink:Disease"]}`)
	writeLines(t, edgesPath, `{"subject":"HGNC:1","predicate":"biolink:related_to","object":"MESH:D1"}`)

	v := New(Config{}, &fakeBiolinkTypes{}, &fakeInforesRegistry{})
	result, err := v.Validate(context.Background(), nodesPath, edgesPath, "test-graph", "v1")
	require.NoError(t, err)

	assert.Equal(t, 1, result["invalid_edges_due_to_missing_primary_ks"])
	assert.Equal(t, []string{missingPrimaryKnowledgeSource}, result["primary_knowledge_sources"])
}

func TestValidateFlagsInvalidNodeTypesAndEdges(t *testing.T) {
	dir := t.TempDir()
	nodesPath := filepath.Join(dir, "nodes.jsonl")
	edgesPath := filepath.Join(dir, "edges.jsonl")
	writeLines(t, nodesPath,
		`{"id":"HGNC:1","category":["biolink:BadType"]}`,
		`{"id":"MESH:D1","category":["biolink:Disease"]}`,
	)
	writeLines(t, edgesPath,
		`{"subject":"HGNC:1","predicate":"biolink:bad_predicate","object":"MESH:D1","primary_knowledge_source":"infores:ctd"}`,
	)

	types := &fakeBiolinkTypes{
		invalidTypes: map[string]bool{"biolink:BadType": true},
		invalidEdges: map[string]bool{"biolink:bad_predicate": true},
	}
	v := New(Config{}, types, &fakeInforesRegistry{})
	result, err := v.Validate(context.Background(), nodesPath, edgesPath, "test-graph", "v1")
	require.NoError(t, err)

	assert.Equal(t, 1, result["invalid_edges_due_to_predicate_and_node_types"])
	warnings := result["warnings"].(map[string]any)
	assert.Contains(t, warnings["invalid_node_types"], "biolink:BadType")
}

func TestValidateFlagsDeprecatedAndInvalidInforesIdentifiers(t *testing.T) {
	dir := t.TempDir()
	nodesPath := filepath.Join(dir, "nodes.jsonl")
	edgesPath := filepath.Join(dir, "edges.jsonl")
	writeLines(t, nodesPath, `{"id":"HGNC:1","category":["biolink:Gene"]}`, `{"id":"MESH:D1","category":["biolink:Disease"]}`)
	writeLines(t, edgesPath,
		`{"subject":"HGNC:1","predicate":"biolink:related_to","object":"MESH:D1","primary_knowledge_source":"infores:old-source","aggregator_knowledge_source":["infores:bad-agg"]}`,
	)

	infores := &fakeInforesRegistry{statuses: map[string]InforesStatus{
		"infores:old-source": InforesStatusDeprecated,
		"infores:bad-agg":     InforesStatusInvalid,
	}}
	v := New(Config{}, &fakeBiolinkTypes{}, infores)
	result, err := v.Validate(context.Background(), nodesPath, edgesPath, "test-graph", "v1")
	require.NoError(t, err)

	warnings := result["warnings"].(map[string]any)
	assert.Contains(t, warnings["deprecated_knowledge_sources"], "infores:old-source")
	assert.Contains(t, warnings["invalid_knowledge_sources"], "infores:bad-agg")
}

func TestValidateGroupsSourceBreakdownByAggregatorAndPrimaryKS(t *testing.T) {
	dir := t.TempDir()
	nodesPath := filepath.Join(dir, "nodes.jsonl")
	edgesPath := filepath.Join(dir, "edges.jsonl")
	writeLines(t, nodesPath,
		`{"id":"HGNC:1","category":["biolink:Gene"]}`,
		`{"id":"MESH:D1","category":["biolink:Disease"]}`,
		`{"id":"MESH:D2","category":["biolink:Disease"]}`,
	)
	writeLines(t, edgesPath,
		`{"subject":"HGNC:1","predicate":"biolink:related_to","object":"MESH:D1","primary_knowledge_source":"infores:ctd","aggregator_knowledge_source":["infores:automat"]}`,
		`{"subject":"HGNC:1","predicate":"biolink:related_to","object":"MESH:D2","primary_knowledge_source":"infores:ctd"}`,
	)

	v := New(Config{}, &fakeBiolinkTypes{}, &fakeInforesRegistry{})
	result, err := v.Validate(context.Background(), nodesPath, edgesPath, "test-graph", "v1")
	require.NoError(t, err)

	breakdown := result["source_breakdown"].([]map[string]any)
	require.Len(t, breakdown, 2)

	var sawAggregated, sawNone bool
	for _, entry := range breakdown {
		agg, _ := entry["aggregator"].([]string)
		if len(agg) == 1 && agg[0] == "infores:automat" {
			sawAggregated = true
		}
		if agg == nil {
			sawNone = true
		}
	}
	assert.True(t, sawAggregated)
	assert.True(t, sawNone)
}
