// Package merge implements deterministic entity-merging for KGX node and
// edge records: identity key functions, the list/scalar coercion rules used
// to combine duplicate records, and two GraphMerger backends (in-memory and
// disk-spilling) that apply them at scale. Grounded in full on
// orion/merging.py.
package merge

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/mrudd/kgbuild/internal/model"
)

// nodeKey returns the merge identity of a node: its CURIE id.
func nodeKey(node map[string]any) string {
	id, _ := node[model.NodeID].(string)
	return id
}

// edgeKey returns the merge identity of an edge: an xxhash of its subject,
// predicate, object, primary knowledge source, and qualifiers, optionally
// extended with a set of caller-supplied custom attributes. Qualifier keys
// are sorted before hashing; the original Python relies on dict insertion
// order instead, but Go map iteration order is unspecified, so this
// implementation sorts them to keep the key reproducible from one run of
// this program to the next.
func edgeKey(edge map[string]any, customKeyAttributes []string) string {
	qualifierKeys := make([]string, 0, len(edge))
	for k := range edge {
		if isQualifier(k) {
			qualifierKeys = append(qualifierKeys, k)
		}
	}
	sort.Strings(qualifierKeys)

	var qualifiers strings.Builder
	for _, k := range qualifierKeys {
		qualifiers.WriteString(k)
		qualifiers.WriteString(fmt.Sprint(edge[k]))
	}

	standard := fmt.Sprintf("%s%s%s%s%s",
		edge[model.SubjectID], edge[model.Predicate], edge[model.ObjectID],
		edge[model.PrimaryKnowledgeSource], qualifiers.String())

	if len(customKeyAttributes) > 0 {
		var custom strings.Builder
		for _, attr := range customKeyAttributes {
			if v, ok := edge[attr]; ok {
				custom.WriteString(fmt.Sprint(v))
			}
		}
		standard += custom.String()
	}

	return fmt.Sprintf("%016x", xxhash.Sum64String(standard))
}

// isQualifier reports whether a biolink edge property name is a qualifier
// slot, following the biolink model's naming convention.
func isQualifier(key string) bool {
	return key == "qualified_predicate" || strings.HasSuffix(key, "_qualifier")
}

// dictMergeKey groups duplicate dictionaries within a list-valued property
// during a merge. The default groups by full JSON-equivalent representation;
// retrieval_sources instead group by resource id and role, since two
// retrieval-source records referring to the same resource should merge even
// if other fields about them differ.
var dictMergeKeyFunctions = map[string]func(map[string]any) string{
	model.RetrievalSources: retrievalSourceKey,
}

func retrievalSourceKey(rs map[string]any) string {
	return fmt.Sprint(rs[model.RetrievalSourceID]) + fmt.Sprint(rs[model.RetrievalSourceRole])
}

func defaultDictMergeKey(entity map[string]any) string {
	keys := make([]string, 0, len(entity))
	for k := range entity {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		fmt.Fprint(&b, entity[k])
		b.WriteByte(';')
	}
	return b.String()
}

func dictMergeKeyFor(propertyName string) func(map[string]any) string {
	if fn, ok := dictMergeKeyFunctions[propertyName]; ok {
		return fn
	}
	return defaultDictMergeKey
}

// isTruthy mirrors Python truthiness for the handful of JSON value shapes
// that show up in KGX records: empty strings, zero, false, nil, and empty
// slices/maps are all falsy.
func isTruthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		return true
	}
}

// entityMergingFunction combines entity2's properties into entity1 in
// place and returns entity1. List-valued properties are concatenated;
// scalar/list conflicts are coerced into a list; scalar conflicts keep
// entity1's value (first-writer-wins). Any property that ends up list-typed
// is then deduplicated: lists of dictionaries are grouped and recursively
// merged by the dictMergeKeyFor key function, lists of scalars are sorted
// and deduplicated.
func entityMergingFunction(entity1, entity2 map[string]any) map[string]any {
	for key, entity2Value := range entity2 {
		entity1Value, hasKey := entity1[key]
		if hasKey && isTruthy(entity2Value) {
			list1, isList1 := entity1Value.([]any)
			list2, isList2 := entity2Value.([]any)

			switch {
			case isList1 && isList2:
				entity1[key] = append(append([]any{}, list1...), list2...)
			case isList1 && !isList2:
				entity1[key] = append(append([]any{}, list1...), entity2Value)
			case !isList1 && isList2:
				if isTruthy(entity1Value) {
					entity1[key] = append([]any{entity1Value}, list2...)
				} else {
					entity1[key] = entity2Value
				}
			default:
				// Neither side is a list: keep entity1's existing value.
			}

			if isList1 || isList2 {
				merged := entity1[key].([]any)
				if len(merged) > 0 {
					if _, isDict := merged[0].(map[string]any); isDict {
						entity1[key] = mergeDictList(merged, key)
					} else {
						entity1[key] = sortUniqueScalars(merged)
					}
				}
			}
		} else if !hasKey {
			entity1[key] = entity2Value
		}
	}
	return entity1
}

// mergeDictList groups a list of dictionary-valued properties by their
// merge key, recursively merging any that collide, and returns the
// deduplicated list in first-seen order.
func mergeDictList(items []any, propertyName string) []any {
	keyFn := dictMergeKeyFor(propertyName)

	order := make([]string, 0, len(items))
	grouped := make(map[string]map[string]any, len(items))
	for _, item := range items {
		dict, ok := item.(map[string]any)
		if !ok {
			continue
		}
		k := keyFn(dict)
		if existing, ok := grouped[k]; ok {
			grouped[k] = entityMergingFunction(existing, dict)
		} else {
			grouped[k] = dict
			order = append(order, k)
		}
	}

	result := make([]any, 0, len(order))
	for _, k := range order {
		result = append(result, grouped[k])
	}
	return result
}

// sortUniqueScalars deduplicates a list of scalar values and sorts it by
// string representation, matching Python's sorted(list(set(...))).
func sortUniqueScalars(items []any) []any {
	seen := make(map[string]any, len(items))
	keys := make([]string, 0, len(items))
	for _, item := range items {
		k := fmt.Sprint(item)
		if _, ok := seen[k]; !ok {
			seen[k] = item
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	result := make([]any, len(keys))
	for i, k := range keys {
		result[i] = seen[k]
	}
	return result
}
