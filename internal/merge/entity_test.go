package merge

import (
	"testing"

	"github.com/mrudd/kgbuild/internal/model"
	"github.com/stretchr/testify/assert"
)

func TestEntityMergingFunctionConcatsLists(t *testing.T) {
	e1 := map[string]any{model.NodeID: "HGNC:1100", model.NodeTypes: []any{"biolink:Gene"}}
	e2 := map[string]any{model.NodeID: "HGNC:1100", model.NodeTypes: []any{"biolink:NamedThing"}}
	merged := entityMergingFunction(e1, e2)
	assert.ElementsMatch(t, []any{"biolink:Gene", "biolink:NamedThing"}, merged[model.NodeTypes])
}

func TestEntityMergingFunctionDedupesScalarList(t *testing.T) {
	e1 := map[string]any{model.Synonym: []any{"BRCA1"}}
	e2 := map[string]any{model.Synonym: []any{"BRCA1", "BRCA1_HUMAN"}}
	merged := entityMergingFunction(e1, e2)
	assert.Equal(t, []any{"BRCA1", "BRCA1_HUMAN"}, merged[model.Synonym])
}

func TestEntityMergingFunctionScalarConflictKeepsFirstWriter(t *testing.T) {
	e1 := map[string]any{model.NodeName: "Breast cancer 1 gene"}
	e2 := map[string]any{model.NodeName: "BRCA1"}
	merged := entityMergingFunction(e1, e2)
	assert.Equal(t, "Breast cancer 1 gene", merged[model.NodeName])
}

func TestEntityMergingFunctionPromotesScalarToListOnConflict(t *testing.T) {
	e1 := map[string]any{"value": "a"}
	e2 := map[string]any{"value": []any{"b", "c"}}
	merged := entityMergingFunction(e1, e2)
	assert.Equal(t, []any{"a", "b", "c"}, merged["value"])
}

func TestEntityMergingFunctionAddsMissingProperty(t *testing.T) {
	e1 := map[string]any{model.NodeID: "HGNC:1100"}
	e2 := map[string]any{model.NodeName: "BRCA1"}
	merged := entityMergingFunction(e1, e2)
	assert.Equal(t, "BRCA1", merged[model.NodeName])
}

func TestEntityMergingFunctionGroupsRetrievalSourcesByResourceKey(t *testing.T) {
	e1 := map[string]any{
		model.RetrievalSources: []any{
			map[string]any{model.RetrievalSourceID: "infores:ctd", model.RetrievalSourceRole: "primary_knowledge_source"},
		},
	}
	e2 := map[string]any{
		model.RetrievalSources: []any{
			map[string]any{model.RetrievalSourceID: "infores:ctd", model.RetrievalSourceRole: "primary_knowledge_source", "extra": "x"},
			map[string]any{model.RetrievalSourceID: "infores:biolink", model.RetrievalSourceRole: "aggregator_knowledge_source"},
		},
	}
	merged := entityMergingFunction(e1, e2)
	sources, ok := merged[model.RetrievalSources].([]any)
	if assert.True(t, ok) {
		assert.Len(t, sources, 2)
	}
}

func TestEdgeKeyIsStableAcrossQualifierOrdering(t *testing.T) {
	edgeA := map[string]any{
		model.SubjectID: "HGNC:1100", model.Predicate: "biolink:affects", model.ObjectID: "MESH:D003920",
		"object_aspect_qualifier": "activity", "object_direction_qualifier": "increased",
	}
	edgeB := map[string]any{
		model.ObjectID: "MESH:D003920", model.SubjectID: "HGNC:1100", model.Predicate: "biolink:affects",
		"object_direction_qualifier": "increased", "object_aspect_qualifier": "activity",
	}
	assert.Equal(t, edgeKey(edgeA, nil), edgeKey(edgeB, nil))
}

func TestEdgeKeyDiffersOnCustomAttributes(t *testing.T) {
	edge := map[string]any{
		model.SubjectID: "HGNC:1100", model.Predicate: "biolink:affects", model.ObjectID: "MESH:D003920",
		"qualified_predicate": "biolink:causes",
	}
	withoutCustom := edgeKey(edge, nil)
	withCustom := edgeKey(edge, []string{"qualified_predicate"})
	assert.NotEqual(t, withoutCustom, withCustom)
}

func TestIsQualifier(t *testing.T) {
	assert.True(t, isQualifier("object_aspect_qualifier"))
	assert.True(t, isQualifier("qualified_predicate"))
	assert.False(t, isQualifier(model.Predicate))
}
