package merge

import (
	"bufio"
	"container/heap"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/uuid"
	"github.com/mrudd/kgbuild/internal/model"
)

// defaultChunkSize bounds how many entities DiskMerger holds in memory
// before sorting and spilling them to a temp file.
const defaultChunkSize = 10_000_000

// DiskMerger merges nodes and edges without holding the whole entity set in
// memory: records are buffered, sorted by merge key, and spilled to temp
// files in chunks; the final merged stream is produced by a k-way merge
// across all spilled files, reading each one sequentially and combining
// runs of equal keys with entityMergingFunction. Grounded on
// orion/merging.py's DiskGraphMerger.
type DiskMerger struct {
	tempDir   string
	chunkSize int

	nodeIDs map[string]struct{}

	nodeBuffer []map[string]any
	edgeBuffer []map[string]any

	nodeSpillPaths []string
	edgeSpillPaths []string

	customKeyAttributes []string
	addEdgeID           bool

	mergedNodeCounter int
	mergedEdgeCounter int
}

func NewDiskMerger(tempDir string) *DiskMerger {
	return &DiskMerger{
		tempDir:   tempDir,
		chunkSize: defaultChunkSize,
		nodeIDs:   make(map[string]struct{}),
	}
}

func (d *DiskMerger) MergeNode(node map[string]any) {
	d.nodeIDs[nodeKey(node)] = struct{}{}
	d.nodeBuffer = append(d.nodeBuffer, node)
	if len(d.nodeBuffer) >= d.chunkSize {
		d.flushNodeBuffer()
	}
}

func (d *DiskMerger) MergeNodes(nodes []map[string]any) int {
	for _, n := range nodes {
		d.MergeNode(n)
	}
	return len(nodes)
}

func (d *DiskMerger) MergeEdge(edge map[string]any, customKeyAttributes []string, addEdgeID bool) {
	d.customKeyAttributes = customKeyAttributes
	d.addEdgeID = addEdgeID
	d.edgeBuffer = append(d.edgeBuffer, edge)
	if len(d.edgeBuffer) >= d.chunkSize {
		d.flushEdgeBuffer()
	}
}

func (d *DiskMerger) MergeEdges(edges []map[string]any, customKeyAttributes []string, addEdgeID bool) int {
	d.customKeyAttributes = customKeyAttributes
	d.addEdgeID = addEdgeID
	for _, e := range edges {
		d.MergeEdge(e, customKeyAttributes, addEdgeID)
	}
	return len(edges)
}

func (d *DiskMerger) NodeIDs() map[string]struct{} {
	ids := make(map[string]struct{}, len(d.nodeIDs))
	for k := range d.nodeIDs {
		ids[k] = struct{}{}
	}
	return ids
}

func (d *DiskMerger) Flush() error {
	if err := d.flushNodeBuffer(); err != nil {
		return err
	}
	return d.flushEdgeBuffer()
}

func (d *DiskMerger) flushNodeBuffer() error {
	if len(d.nodeBuffer) == 0 {
		return nil
	}
	path, err := d.sortAndSpill(d.nodeBuffer, "node", func(e map[string]any) string { return nodeKey(e) })
	if err != nil {
		return err
	}
	d.nodeSpillPaths = append(d.nodeSpillPaths, path)
	d.nodeBuffer = nil
	return nil
}

func (d *DiskMerger) flushEdgeBuffer() error {
	if len(d.edgeBuffer) == 0 {
		return nil
	}
	keyFn := func(e map[string]any) string { return edgeKey(e, d.customKeyAttributes) }
	path, err := d.sortAndSpill(d.edgeBuffer, "edge", keyFn)
	if err != nil {
		return err
	}
	d.edgeSpillPaths = append(d.edgeSpillPaths, path)
	d.edgeBuffer = nil
	return nil
}

func (d *DiskMerger) sortAndSpill(entities []map[string]any, entityType string, keyFn func(map[string]any) string) (string, error) {
	sort.Slice(entities, func(i, j int) bool { return keyFn(entities[i]) < keyFn(entities[j]) })

	name := fmt.Sprintf("%s_%s.temp", entityType, uuid.NewString())
	path := filepath.Join(d.tempDir, name)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("creating merge spill file %s: %w", path, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, e := range entities {
		if err := writeJSONLine(w, e); err != nil {
			return "", fmt.Errorf("writing merge spill file %s: %w", path, err)
		}
	}
	if err := w.Flush(); err != nil {
		return "", fmt.Errorf("flushing merge spill file %s: %w", path, err)
	}
	return path, nil
}

// spillReader wraps one spilled-chunk file, holding the next unread entity
// and its merge key so the k-way merge can compare across all open readers
// without re-parsing.
type spillReader struct {
	path    string
	file    *os.File
	scanner *bufio.Scanner
	keyFn   func(map[string]any) string

	key    string
	value  map[string]any
	atEOF  bool
}

func newSpillReader(path string, keyFn func(map[string]any) string) (*spillReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening merge spill file %s: %w", path, err)
	}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	r := &spillReader{path: path, file: f, scanner: scanner, keyFn: keyFn}
	if err := r.advance(); err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

func (r *spillReader) advance() error {
	if !r.scanner.Scan() {
		if err := r.scanner.Err(); err != nil {
			return err
		}
		r.atEOF = true
		r.value = nil
		r.key = ""
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(r.scanner.Bytes(), &m); err != nil {
		return fmt.Errorf("parsing merge spill file %s: %w", r.path, err)
	}
	r.value = m
	r.key = r.keyFn(m)
	return nil
}

func (r *spillReader) close() error {
	err := r.file.Close()
	os.Remove(r.path)
	return err
}

// spillHeap orders open spill readers by their current key, the priority
// queue driving the k-way merge.
type spillHeap []*spillReader

func (h spillHeap) Len() int            { return len(h) }
func (h spillHeap) Less(i, j int) bool  { return h[i].key < h[j].key }
func (h spillHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *spillHeap) Push(x any)         { *h = append(*h, x.(*spillReader)) }
func (h *spillHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// mergeSpills streams the fully merged entity set across every spilled
// file, consuming runs of equal keys with entityMergingFunction, and calls
// emit for each resulting merged entity. isEdge controls which merge
// counter is incremented and whether add_edge_id is honored.
func (d *DiskMerger) mergeSpills(paths []string, keyFn func(map[string]any) string, isEdge bool, emit func(map[string]any) error) error {
	if len(paths) == 0 {
		return nil
	}

	readers := make([]*spillReader, 0, len(paths))
	defer func() {
		for _, r := range readers {
			r.close()
		}
	}()

	h := &spillHeap{}
	for _, p := range paths {
		r, err := newSpillReader(p, keyFn)
		if err != nil {
			return err
		}
		readers = append(readers, r)
		if !r.atEOF {
			heap.Push(h, r)
		}
	}
	heap.Init(h)

	for h.Len() > 0 {
		minKey := (*h)[0].key
		var merged map[string]any

		for h.Len() > 0 && (*h)[0].key == minKey {
			r := (*h)[0]
			if merged == nil {
				merged = r.value
			} else {
				merged = entityMergingFunction(merged, r.value)
				if isEdge {
					d.mergedEdgeCounter++
				} else {
					d.mergedNodeCounter++
				}
			}
			if err := r.advance(); err != nil {
				return err
			}
			if r.atEOF {
				r.close()
				heap.Pop(h)
			} else {
				heap.Fix(h, 0)
			}
		}

		if isEdge && d.addEdgeID && merged != nil {
			merged[model.EdgeID] = minKey
		}
		if err := emit(merged); err != nil {
			return err
		}
	}
	return nil
}

func (d *DiskMerger) WriteMergedNodesJSONL(w io.Writer) (int, error) {
	if err := d.flushNodeBuffer(); err != nil {
		return 0, err
	}
	bw := bufio.NewWriter(w)
	count := 0
	err := d.mergeSpills(d.nodeSpillPaths, nodeKey, false, func(e map[string]any) error {
		count++
		return writeJSONLine(bw, e)
	})
	if err != nil {
		return count, err
	}
	return count, bw.Flush()
}

func (d *DiskMerger) WriteMergedEdgesJSONL(w io.Writer) (int, error) {
	if err := d.flushEdgeBuffer(); err != nil {
		return 0, err
	}
	keyFn := func(e map[string]any) string { return edgeKey(e, d.customKeyAttributes) }
	bw := bufio.NewWriter(w)
	count := 0
	err := d.mergeSpills(d.edgeSpillPaths, keyFn, true, func(e map[string]any) error {
		count++
		return writeJSONLine(bw, e)
	})
	if err != nil {
		return count, err
	}
	return count, bw.Flush()
}

func (d *DiskMerger) MergedNodeCount() int { return d.mergedNodeCounter }
func (d *DiskMerger) MergedEdgeCount() int { return d.mergedEdgeCounter }
