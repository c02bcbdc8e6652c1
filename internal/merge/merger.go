package merge

import (
	"bufio"
	"encoding/json"
	"io"

	"github.com/mrudd/kgbuild/internal/model"
)

// Merger accumulates node and edge records, merging duplicates as they
// arrive or lazily at write time, and streams the merged result out as KGX
// JSONL. MemoryMerger and DiskMerger are the two backends; FileMerger uses
// DiskMerger for the whole merge when any Source sets UseDiskMerge, and
// MemoryMerger otherwise.
type Merger interface {
	MergeNode(node map[string]any)
	MergeNodes(nodes []map[string]any) int

	MergeEdge(edge map[string]any, customKeyAttributes []string, addEdgeID bool)
	MergeEdges(edges []map[string]any, customKeyAttributes []string, addEdgeID bool) int

	// NodeIDs returns the set of node ids merged in so far. Cheap on both
	// backends: DiskMerger tracks it separately from its buffered/spilled
	// node bodies for exactly this purpose.
	NodeIDs() map[string]struct{}

	Flush() error

	// WriteMergedNodesJSONL and WriteMergedEdgesJSONL stream the fully
	// merged entity set to w as newline-delimited JSON, returning the
	// record count written.
	WriteMergedNodesJSONL(w io.Writer) (int, error)
	WriteMergedEdgesJSONL(w io.Writer) (int, error)

	MergedNodeCount() int
	MergedEdgeCount() int
}

func writeJSONLine(w *bufio.Writer, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.Write(b); err != nil {
		return err
	}
	return w.WriteByte('\n')
}

// MemoryMerger holds every merged node and edge in memory, edges kept as
// pre-serialized JSON so that resolved duplicates don't retain parsed copies
// of every source record.
type MemoryMerger struct {
	nodes map[string]map[string]any
	edges map[string]string

	customKeyAttributes []string
	mergedNodeCounter   int
	mergedEdgeCounter   int
}

func NewMemoryMerger() *MemoryMerger {
	return &MemoryMerger{
		nodes: make(map[string]map[string]any),
		edges: make(map[string]string),
	}
}

func (m *MemoryMerger) MergeNode(node map[string]any) {
	key := nodeKey(node)
	if existing, ok := m.nodes[key]; ok {
		m.mergedNodeCounter++
		m.nodes[key] = entityMergingFunction(existing, node)
	} else {
		m.nodes[key] = node
	}
}

func (m *MemoryMerger) MergeNodes(nodes []map[string]any) int {
	for _, n := range nodes {
		m.MergeNode(n)
	}
	return len(nodes)
}

func (m *MemoryMerger) MergeEdge(edge map[string]any, customKeyAttributes []string, addEdgeID bool) {
	m.customKeyAttributes = customKeyAttributes
	key := edgeKey(edge, customKeyAttributes)
	if existingJSON, ok := m.edges[key]; ok {
		m.mergedEdgeCounter++
		var existing map[string]any
		_ = json.Unmarshal([]byte(existingJSON), &existing)
		merged := entityMergingFunction(existing, edge)
		if addEdgeID {
			merged[model.EdgeID] = key
		}
		b, _ := json.Marshal(merged)
		m.edges[key] = string(b)
	} else {
		if addEdgeID {
			edge[model.EdgeID] = key
		}
		b, _ := json.Marshal(edge)
		m.edges[key] = string(b)
	}
}

func (m *MemoryMerger) MergeEdges(edges []map[string]any, customKeyAttributes []string, addEdgeID bool) int {
	for _, e := range edges {
		m.MergeEdge(e, customKeyAttributes, addEdgeID)
	}
	return len(edges)
}

func (m *MemoryMerger) NodeIDs() map[string]struct{} {
	ids := make(map[string]struct{}, len(m.nodes))
	for k := range m.nodes {
		ids[k] = struct{}{}
	}
	return ids
}

func (m *MemoryMerger) Flush() error { return nil }

func (m *MemoryMerger) WriteMergedNodesJSONL(w io.Writer) (int, error) {
	bw := bufio.NewWriter(w)
	count := 0
	for _, node := range m.nodes {
		if err := writeJSONLine(bw, node); err != nil {
			return count, err
		}
		count++
	}
	return count, bw.Flush()
}

func (m *MemoryMerger) WriteMergedEdgesJSONL(w io.Writer) (int, error) {
	bw := bufio.NewWriter(w)
	count := 0
	for _, edgeJSON := range m.edges {
		if _, err := bw.WriteString(edgeJSON); err != nil {
			return count, err
		}
		if err := bw.WriteByte('\n'); err != nil {
			return count, err
		}
		count++
	}
	return count, bw.Flush()
}

func (m *MemoryMerger) MergedNodeCount() int { return m.mergedNodeCounter }
func (m *MemoryMerger) MergedEdgeCount() int { return m.mergedEdgeCounter }
