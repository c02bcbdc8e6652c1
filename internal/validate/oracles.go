package validate

import "sort"

// StaticBiolinkTypes is a no-op BiolinkTypes: it treats whatever categories
// and predicates it is handed as already valid, and reduces a node's
// categories to a sorted copy of itself rather than resolving true biolink
// class ancestry. It exists so Validator has something to run against before
// a real biolink-model-toolkit client is wired in.
type StaticBiolinkTypes struct{}

func (StaticBiolinkTypes) Leaves(categories []string) []string {
	if len(categories) == 0 {
		return nil
	}
	out := append([]string(nil), categories...)
	sort.Strings(out)
	return out
}

func (StaticBiolinkTypes) IsValidNodeType(nodeType string) bool { return true }

func (StaticBiolinkTypes) ValidateEdge(subjectTypes []string, predicate string, objectTypes []string) bool {
	return true
}

// StaticInforesRegistry is a no-op InforesRegistry: every knowledge source
// reports as valid.
type StaticInforesRegistry struct{}

func (StaticInforesRegistry) Status(infores string) InforesStatus { return InforesStatusValid }
