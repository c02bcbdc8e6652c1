// Package validate implements the QC pass run over a merged KGX graph:
// curie-prefix and category distributions, per-source breakdowns, predicate
// totals, and biolink/infores validity checks. Grounded in full on
// orion/kgx_validation.py.
package validate

import (
	"context"
	"io"
	"sort"
	"strings"

	"github.com/mrudd/kgbuild/internal/model"
	"github.com/mrudd/kgbuild/internal/stream"
)

// InforesStatus is the result of looking up a knowledge source identifier in
// the biolink information-resources registry.
type InforesStatus string

const (
	InforesStatusValid      InforesStatus = "valid"
	InforesStatusDeprecated InforesStatus = "deprecated"
	InforesStatusInvalid    InforesStatus = "invalid"
)

// BiolinkTypes is the external biolink-model-toolkit oracle Validator
// consults for category-leaf resolution and predicate/type validity. This
// system does not ship a biolink-model-toolkit client; callers wire in
// whatever implementation fits their deployment, matching the external-oracle
// boundary spec.md draws around the biolink model itself.
type BiolinkTypes interface {
	// Leaves reduces a node's categories to its most specific biolink
	// class(es), matching BiolinkUtils.find_biolink_leaves.
	Leaves(categories []string) []string
	// IsValidNodeType reports whether a single biolink class name is a
	// recognized node category.
	IsValidNodeType(nodeType string) bool
	// ValidateEdge reports whether predicate is a legal relationship between
	// the given subject and object leaf types.
	ValidateEdge(subjectTypes []string, predicate string, objectTypes []string) bool
}

// InforesRegistry is the external biolink information-resources oracle
// Validator consults to flag deprecated or invalid knowledge source
// identifiers.
type InforesRegistry interface {
	Status(infores string) InforesStatus
}

// Config configures a Validator instance.
type Config struct {
	// SaveInvalidEdges is not read by Validate: edges failing
	// predicate/type validation are only counted in the QC results, and
	// none are written out.
	SaveInvalidEdges bool
}

// Validator runs the QC pass over a merged graph's node and edge files,
// matching validate_graph.
type Validator struct {
	cfg     Config
	types   BiolinkTypes
	infores InforesRegistry
}

func New(cfg Config, types BiolinkTypes, infores InforesRegistry) *Validator {
	return &Validator{cfg: cfg, types: types, infores: infores}
}

type countEntry struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

func sortCountsDesc(m map[string]int) []countEntry {
	out := make([]countEntry, 0, len(m))
	for k, v := range m {
		out = append(out, countEntry{Key: k, Count: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Key < out[j].Key
	})
	return out
}

type typeCount struct {
	Type  []string `json:"type"`
	Count int      `json:"count"`
}

func sortTypeCountsDesc(counts map[string]int, types map[string][]string) []typeCount {
	out := make([]typeCount, 0, len(counts))
	for k, v := range counts {
		out = append(out, typeCount{Type: types[k], Count: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return typeKey(out[i].Type) < typeKey(out[j].Type)
	})
	return out
}

type spoTypeCount struct {
	SubjectType []string `json:"subject_type"`
	Predicate   string   `json:"predicate"`
	ObjectType  []string `json:"object_type"`
	Count       int      `json:"count"`
}

// typeKey canonicalizes a set of leaf types into a stable map key, matching
// how the original keys its counters by frozenset(node_type).
func typeKey(types []string) string {
	sorted := append([]string(nil), types...)
	sort.Strings(sorted)
	return strings.Join(sorted, "|")
}

func spoKeyOf(subjectTypes []string, predicate string, objectTypes []string) string {
	return typeKey(subjectTypes) + "\x00" + predicate + "\x00" + typeKey(objectTypes)
}

func curiePrefix(id string) string {
	if idx := strings.IndexByte(id, ':'); idx >= 0 {
		return id[:idx]
	}
	return id
}

func stringField(obj map[string]any, key string) string {
	s, _ := obj[key].(string)
	return s
}

func stringSliceField(obj map[string]any, key string) []string {
	switch v := obj[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

type sourceBucket struct {
	nodeSet        map[string]bool
	edgeCount      int
	subjectPrefix  map[string]int
	subjectTypes   map[string]int
	subjectTypeSet map[string][]string
	predicates     map[string]int
	objectPrefix   map[string]int
	objectTypes    map[string]int
	objectTypeSet  map[string][]string
	spoTypes       map[string]int
	spoTypeSet     map[string]spoTypeCount
}

func newSourceBucket() *sourceBucket {
	return &sourceBucket{
		nodeSet:        map[string]bool{},
		subjectPrefix:  map[string]int{},
		subjectTypes:   map[string]int{},
		subjectTypeSet: map[string][]string{},
		predicates:     map[string]int{},
		objectPrefix:   map[string]int{},
		objectTypes:    map[string]int{},
		objectTypeSet:  map[string][]string{},
		spoTypes:       map[string]int{},
		spoTypeSet:     map[string]spoTypeCount{},
	}
}

func (b *sourceBucket) asMap() map[string]any {
	return map[string]any{
		"node_count":     len(b.nodeSet),
		"edge_count":     b.edgeCount,
		"subject_prefixes": sortCountsDesc(b.subjectPrefix),
		"subject_types":  sortTypeCountsDesc(b.subjectTypes, b.subjectTypeSet),
		"predicates":     sortCountsDesc(b.predicates),
		"object_prefixes": sortCountsDesc(b.objectPrefix),
		"object_types":   sortTypeCountsDesc(b.objectTypes, b.objectTypeSet),
		"s-p-o_types":    sortSPOTypeCountsDesc(b.spoTypes, b.spoTypeSet),
	}
}

func sortSPOTypeCountsDesc(counts map[string]int, rep map[string]spoTypeCount) []spoTypeCount {
	out := make([]spoTypeCount, 0, len(counts))
	for k, v := range counts {
		entry := rep[k]
		entry.Count = v
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return spoKeyOf(out[i].SubjectType, out[i].Predicate, out[i].ObjectType) <
			spoKeyOf(out[j].SubjectType, out[j].Predicate, out[j].ObjectType)
	})
	return out
}

const missingPrimaryKnowledgeSource = "missing_primary_knowledge_source"

// noneAggregator is the sentinel aggregator key used when an edge carries no
// aggregator_knowledge_source, matching the original's [None] fallback.
const noneAggregator = "\x00none"

// Validate streams nodesPath then edgesPath and returns the QC metadata
// dict, matching validate_graph.
func (v *Validator) Validate(ctx context.Context, nodesPath, edgesPath, graphID, graphVersion string) (map[string]any, error) {
	nodeCuriePrefixes := map[string]int{}
	nodeTypeCounts := map[string]int{}
	nodeTypeSet := map[string][]string{}
	nodeTypeLookup := map[string][]string{}
	allNodeProperties := map[string]bool{}
	allNodeTypes := map[string]bool{}

	nr, err := stream.NewRawReader(nodesPath)
	if err != nil {
		return nil, err
	}
	for {
		node, err := nr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			nr.Close()
			return nil, err
		}
		for k := range node {
			allNodeProperties[k] = true
		}
		id := stringField(node, model.NodeID)
		nodeCuriePrefixes[curiePrefix(id)]++

		leaves := v.types.Leaves(stringSliceField(node, model.NodeTypes))
		for _, t := range leaves {
			allNodeTypes[t] = true
		}
		key := typeKey(leaves)
		nodeTypeLookup[id] = leaves
		nodeTypeCounts[key]++
		nodeTypeSet[key] = leaves
	}
	nr.Close()

	var invalidNodeTypes []string
	for t := range allNodeTypes {
		if !v.types.IsValidNodeType(t) {
			invalidNodeTypes = append(invalidNodeTypes, t)
		}
	}
	sort.Strings(invalidNodeTypes)

	allPrimaryKnowledgeSources := map[string]bool{}
	allAggregatorKnowledgeSources := map[string]bool{}
	allEdgeProperties := map[string]bool{}
	predicateCounts := map[string]int{}
	edgesWithPublications := map[string]int{}
	spoTypeCounts := map[string]int{}
	spoTypeSet := map[string]spoTypeCount{}
	sourceBreakdown := map[string]map[string]*sourceBucket{}

	invalidEdgesDueToPredicateAndNodeTypes := 0
	invalidEdgesDueToMissingPrimaryKS := 0

	er, err := stream.NewRawReader(edgesPath)
	if err != nil {
		return nil, err
	}
	for {
		edge, err := er.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			er.Close()
			return nil, err
		}
		for k := range edge {
			allEdgeProperties[k] = true
		}

		subjectID := stringField(edge, model.SubjectID)
		objectID := stringField(edge, model.ObjectID)
		predicate := stringField(edge, model.Predicate)
		subjectTypes := nodeTypeLookup[subjectID]
		objectTypes := nodeTypeLookup[objectID]

		spoKey := spoKeyOf(subjectTypes, predicate, objectTypes)
		spoTypeCounts[spoKey]++
		spoTypeSet[spoKey] = spoTypeCount{SubjectType: subjectTypes, Predicate: predicate, ObjectType: objectTypes}

		primaryKS, hasPrimaryKS := edge[model.PrimaryKnowledgeSource].(string)
		if !hasPrimaryKS || primaryKS == "" {
			invalidEdgesDueToMissingPrimaryKS++
			primaryKS = missingPrimaryKnowledgeSource
		}
		allPrimaryKnowledgeSources[primaryKS] = true

		aggKS := stringSliceField(edge, model.AggregatorKnowledgeSources)
		var aggKey string
		if len(aggKS) == 0 {
			aggKey = noneAggregator
		} else {
			for _, ks := range aggKS {
				allAggregatorKnowledgeSources[ks] = true
			}
			sortedAgg := append([]string(nil), aggKS...)
			sort.Strings(sortedAgg)
			aggKey = strings.Join(sortedAgg, "|")
		}

		agg, ok := sourceBreakdown[aggKey]
		if !ok {
			agg = map[string]*sourceBucket{}
			sourceBreakdown[aggKey] = agg
		}
		bucket, ok := agg[primaryKS]
		if !ok {
			bucket = newSourceBucket()
			agg[primaryKS] = bucket
		}

		bucket.edgeCount++
		bucket.nodeSet[subjectID] = true
		bucket.nodeSet[objectID] = true

		subjectPrefix := curiePrefix(subjectID)
		objectPrefix := curiePrefix(objectID)
		bucket.subjectPrefix[subjectPrefix]++
		bucket.subjectTypes[typeKey(subjectTypes)]++
		bucket.subjectTypeSet[typeKey(subjectTypes)] = subjectTypes
		bucket.predicates[predicate]++
		bucket.objectPrefix[objectPrefix]++
		bucket.objectTypes[typeKey(objectTypes)]++
		bucket.objectTypeSet[typeKey(objectTypes)] = objectTypes
		bucket.spoTypes[spoKey]++
		bucket.spoTypeSet[spoKey] = spoTypeCount{SubjectType: subjectTypes, Predicate: predicate, ObjectType: objectTypes}

		predicateCounts[predicate]++

		if pubs := edge[model.Publications]; isNonEmpty(pubs) {
			edgesWithPublications[predicate]++
		}

		if !v.types.ValidateEdge(subjectTypes, predicate, objectTypes) {
			invalidEdgesDueToPredicateAndNodeTypes++
		}
	}
	er.Close()

	breakdownList := make([]map[string]any, 0, len(sourceBreakdown))
	aggKeys := make([]string, 0, len(sourceBreakdown))
	for k := range sourceBreakdown {
		aggKeys = append(aggKeys, k)
	}
	sort.Strings(aggKeys)
	for _, aggKey := range aggKeys {
		breakdown := map[string]any{}
		for primaryKS, bucket := range sourceBreakdown[aggKey] {
			breakdown[primaryKS] = bucket.asMap()
		}
		var aggregator []string
		if aggKey != noneAggregator {
			aggregator = strings.Split(aggKey, "|")
		}
		breakdownList = append(breakdownList, map[string]any{
			"aggregator": aggregator,
			"breakdown":  breakdown,
		})
	}

	var deprecatedInforesIDs, invalidInforesIDs []string
	allKnowledgeSources := map[string]bool{}
	for k := range allPrimaryKnowledgeSources {
		allKnowledgeSources[k] = true
	}
	for k := range allAggregatorKnowledgeSources {
		allKnowledgeSources[k] = true
	}
	if v.infores != nil {
		for ks := range allKnowledgeSources {
			switch v.infores.Status(ks) {
			case InforesStatusDeprecated:
				deprecatedInforesIDs = append(deprecatedInforesIDs, ks)
			case InforesStatusInvalid:
				invalidInforesIDs = append(invalidInforesIDs, ks)
			}
		}
	}
	sort.Strings(deprecatedInforesIDs)
	sort.Strings(invalidInforesIDs)

	warnings := map[string]any{}
	if len(deprecatedInforesIDs) > 0 {
		warnings["deprecated_knowledge_sources"] = deprecatedInforesIDs
	}
	if len(invalidInforesIDs) > 0 {
		warnings["invalid_knowledge_sources"] = invalidInforesIDs
	}
	if len(invalidNodeTypes) > 0 {
		warnings["invalid_node_types"] = invalidNodeTypes
	}

	result := map[string]any{
		"pass":                        true,
		"warnings":                    warnings,
		"errors":                      map[string]any{},
		"primary_knowledge_sources":   sortedKeys(allPrimaryKnowledgeSources),
		"aggregator_knowledge_sources": sortedKeys(allAggregatorKnowledgeSources),
		"node_curie_prefixes":         sortCountsDesc(nodeCuriePrefixes),
		"node_types":                  sortTypeCountsDesc(nodeTypeCounts, nodeTypeSet),
		"node_properties":             sortedKeys(allNodeProperties),
		"predicate_totals":            sortCountsDesc(predicateCounts),
		"edges_with_publications":     sortCountsDesc(edgesWithPublications),
		"edge_properties":             sortedKeys(allEdgeProperties),
		"s-p-o_types":                 sortSPOTypeCountsDesc(spoTypeCounts, spoTypeSet),
		"source_breakdown":            breakdownList,
		"invalid_edges_due_to_predicate_and_node_types": invalidEdgesDueToPredicateAndNodeTypes,
		"invalid_edges_due_to_missing_primary_ks":        invalidEdgesDueToMissingPrimaryKS,
	}
	return result, nil
}

func isNonEmpty(v any) bool {
	switch vv := v.(type) {
	case nil:
		return false
	case []any:
		return len(vv) > 0
	case []string:
		return len(vv) > 0
	case string:
		return vv != ""
	case bool:
		return vv
	default:
		return true
	}
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
