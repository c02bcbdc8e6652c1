package model

import "encoding/json"

// Edge mirrors kgxedge in kgxmodel.py: subject/object/predicate plus
// knowledge-source provenance and a free-form property bag.
type Edge struct {
	ID                         string
	Subject                    string
	Object                     string
	Predicate                  string
	PrimaryKnowledgeSource     string
	AggregatorKnowledgeSources []string
	Properties                 map[string]any
}

// NewEdge constructs an edge with an empty property bag when none is given.
func NewEdge(subject, object, predicate, primaryKS string, aggKS []string, props map[string]any) *Edge {
	if props == nil {
		props = map[string]any{}
	}
	return &Edge{
		Subject:                    subject,
		Object:                     object,
		Predicate:                  predicate,
		PrimaryKnowledgeSource:     primaryKS,
		AggregatorKnowledgeSources: aggKS,
		Properties:                 props,
	}
}

// AsMap flattens the edge into the JSON object shape written to KGX edge
// files, matching KGXFileWriter.write_edge: only properties with truthy
// values are copied in, and the id/knowledge-source fields are optional.
func (e *Edge) AsMap() map[string]any {
	obj := make(map[string]any, len(e.Properties)+5)
	for k, v := range e.Properties {
		if isTruthy(v) {
			obj[k] = v
		}
	}
	if e.ID != "" {
		obj[EdgeID] = e.ID
	}
	obj[SubjectID] = e.Subject
	obj[Predicate] = e.Predicate
	obj[ObjectID] = e.Object
	if e.PrimaryKnowledgeSource != "" {
		obj[PrimaryKnowledgeSource] = e.PrimaryKnowledgeSource
	}
	if e.AggregatorKnowledgeSources != nil {
		obj[AggregatorKnowledgeSources] = e.AggregatorKnowledgeSources
	}
	return obj
}

func isTruthy(v any) bool {
	switch vv := v.(type) {
	case nil:
		return false
	case string:
		return vv != ""
	case []any:
		return len(vv) > 0
	case []string:
		return len(vv) > 0
	case bool:
		return vv
	case float64:
		return vv != 0
	case int:
		return vv != 0
	default:
		return true
	}
}

// EdgeFromMap parses a raw JSON edge object back into an Edge.
func EdgeFromMap(obj map[string]any) *Edge {
	e := &Edge{Properties: map[string]any{}}
	for k, v := range obj {
		switch k {
		case EdgeID:
			if s, ok := v.(string); ok {
				e.ID = s
			}
		case SubjectID:
			if s, ok := v.(string); ok {
				e.Subject = s
			}
		case ObjectID:
			if s, ok := v.(string); ok {
				e.Object = s
			}
		case Predicate:
			if s, ok := v.(string); ok {
				e.Predicate = s
			}
		case PrimaryKnowledgeSource:
			if s, ok := v.(string); ok {
				e.PrimaryKnowledgeSource = s
			}
		case AggregatorKnowledgeSources:
			e.AggregatorKnowledgeSources = toStringSlice(v)
		default:
			e.Properties[k] = v
		}
	}
	return e
}

// MarshalJSON / UnmarshalJSON let Edge be used directly with encoding/json
// where convenient (tests, fixtures) while AsMap/EdgeFromMap remain the hot
// path used by the streaming reader/writer.
func (e *Edge) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.AsMap())
}

func (e *Edge) UnmarshalJSON(data []byte) error {
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*e = *EdgeFromMap(obj)
	return nil
}
