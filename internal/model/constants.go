// Package model holds the canonical node/edge representation shared across
// the pipeline, along with the biolink property-name constants the rest of
// the codebase reads and writes by name.
package model

// Core biolink categories used as defaults / fallbacks.
const (
	NamedThing      = "biolink:NamedThing"
	SequenceVariant = "biolink:SequenceVariant"
)

// SubclassOf is checked explicitly during edge normalization: a subclass_of
// self-loop (subject == object after normalization) is discarded rather
// than written out.
const SubclassOf = "biolink:subclass_of"

// Node property names.
const (
	NodeID    = "id"
	NodeTypes = "category"
	NodeName  = "name"
	Synonym   = "synonym"
)

// Edge property names.
const (
	EdgeID                     = "id"
	SubjectID                  = "subject"
	ObjectID                   = "object"
	OriginalSubject            = "original_subject"
	OriginalObject             = "original_object"
	Predicate                  = "predicate"
	OriginalPredicate          = "original_predicate"
	RetrievalSources           = "sources"
	RetrievalSourceID          = "resource_id"
	RetrievalSourceRole        = "resource_role"
	PrimaryKnowledgeSource     = "primary_knowledge_source"
	AggregatorKnowledgeSources = "aggregator_knowledge_source"
	Publications               = "publications"
)

// FallbackEdgePredicate is used when an edge predicate normalization lookup
// comes back empty, matching FALLBACK_EDGE_PREDICATE in orion/normalization.py.
const FallbackEdgePredicate = "biolink:related_to"

// ListValuedProperties is the fixed whitelist of additional node/edge
// properties that must always be treated as lists during merge, even when a
// single source only ever supplies one value.
var ListValuedProperties = map[string]bool{
	NodeTypes:                  true,
	Synonym:                    true,
	Publications:               true,
	AggregatorKnowledgeSources: true,
	RetrievalSources:           true,
}
