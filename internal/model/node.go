package model

import "encoding/json"

// Node is a mapping from property name to value, with the semantic fields
// the pipeline inspects directly pulled out as named fields. Properties
// holds everything else and is flattened back into the same JSON object on
// marshal, matching the flat KGX node shape.
type Node struct {
	ID         string
	Name       string
	Categories []string
	Properties map[string]any
}

// NewNode builds a node with the NamedThing fallback category applied when
// no categories are supplied, matching kgxnode's constructor in kgxmodel.py.
func NewNode(id, name string, categories []string, properties map[string]any) *Node {
	if len(categories) == 0 {
		categories = []string{NamedThing}
	}
	if properties == nil {
		properties = map[string]any{}
	}
	return &Node{ID: id, Name: name, Categories: categories, Properties: properties}
}

// MarshalJSON flattens Properties alongside the semantic fields into one
// JSON object, the way the original writes {'id':..., 'name':..., 'category':...}
// then node_object.update(node_properties).
func (n *Node) MarshalJSON() ([]byte, error) {
	obj := make(map[string]any, len(n.Properties)+3)
	for k, v := range n.Properties {
		obj[k] = v
	}
	obj[NodeID] = n.ID
	obj[NodeName] = n.Name
	obj[NodeTypes] = n.Categories
	return json.Marshal(obj)
}

// UnmarshalJSON reverses MarshalJSON, pulling the semantic fields back out
// and leaving everything else in Properties.
func (n *Node) UnmarshalJSON(data []byte) error {
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	if id, ok := obj[NodeID].(string); ok {
		n.ID = id
	}
	delete(obj, NodeID)
	if name, ok := obj[NodeName].(string); ok {
		n.Name = name
	}
	delete(obj, NodeName)
	if cats, ok := obj[NodeTypes].([]any); ok {
		n.Categories = make([]string, 0, len(cats))
		for _, c := range cats {
			if s, ok := c.(string); ok {
				n.Categories = append(n.Categories, s)
			}
		}
	}
	delete(obj, NodeTypes)
	n.Properties = obj
	return nil
}

// AsMap returns the flattened representation used by code that works with
// raw JSON objects (e.g. the merger) rather than typed Nodes.
func (n *Node) AsMap() map[string]any {
	obj := make(map[string]any, len(n.Properties)+3)
	for k, v := range n.Properties {
		obj[k] = v
	}
	obj[NodeID] = n.ID
	obj[NodeName] = n.Name
	obj[NodeTypes] = n.Categories
	return obj
}

// NodeFromMap is the inverse of AsMap.
func NodeFromMap(obj map[string]any) *Node {
	n := &Node{Properties: map[string]any{}}
	for k, v := range obj {
		switch k {
		case NodeID:
			if s, ok := v.(string); ok {
				n.ID = s
			}
		case NodeName:
			if s, ok := v.(string); ok {
				n.Name = s
			}
		case NodeTypes:
			n.Categories = toStringSlice(v)
		default:
			n.Properties[k] = v
		}
	}
	return n
}

func toStringSlice(v any) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
