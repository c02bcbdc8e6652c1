package graphspec

import (
	"testing"

	"github.com/mrudd/kgbuild/internal/normalize"
	"github.com/stretchr/testify/assert"
)

func TestDataSourceVersionIsEmptyUntilSourceVersionResolved(t *testing.T) {
	ds := &DataSource{ID: "ctd", NormalizationScheme: normalize.DefaultScheme()}
	assert.Empty(t, ds.Version())

	ds.SourceVersion = "2024-01-01"
	ds.ParsingVersion = "1.0"
	ds.SupplementationVersion = "1.1"
	assert.NotEmpty(t, ds.Version())
}

func TestDataSourceFilePathsFilterByNodeAndEdgeSubstring(t *testing.T) {
	ds := &DataSource{
		FilePaths: []string{"/x/normalized_nodes.jsonl", "/x/normalized_edges.jsonl", "/x/supp_norm_edges.jsonl"},
	}
	assert.Equal(t, []string{"/x/normalized_nodes.jsonl"}, ds.NodeFilePaths())
	assert.Equal(t, []string{"/x/normalized_edges.jsonl", "/x/supp_norm_edges.jsonl"}, ds.EdgeFilePaths())
}

func TestSubGraphSourceVersionPassesThroughGraphVersion(t *testing.T) {
	sg := &SubGraphSource{ID: "sub1", GraphVersion: "abc123"}
	assert.Equal(t, "abc123", sg.Version())
}

func TestGraphSpecMetadataRepresentationIncludesSourcesAndSubgraphs(t *testing.T) {
	spec := &GraphSpec{
		GraphID: "robokopkg",
		Sources: []*DataSource{
			{ID: "ctd", SourceVersion: "v1", NormalizationScheme: normalize.DefaultScheme()},
		},
		Subgraphs: []*SubGraphSource{
			{ID: "sub1", GraphVersion: "v2"},
		},
	}
	rep := spec.MetadataRepresentation()
	assert.Equal(t, "robokopkg", rep["graph_id"])
	assert.Len(t, rep["sources"], 1)
	assert.Len(t, rep["subgraphs"], 1)
}
