package stream

import (
	"bufio"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mrudd/kgbuild/internal/model"
)

// openWrite creates path for writing, wrapping it in a gzip writer when the
// filename ends in .gz. Mirrors KGXFileWriter's constructor, which warns
// (but proceeds) when overwriting an existing file.
func openWrite(path string, logWarn func(string)) (io.WriteCloser, error) {
	if _, err := os.Stat(path); err == nil && logWarn != nil {
		logWarn(fmt.Sprintf("overwriting existing file %s", path))
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", path, err)
	}
	if strings.HasSuffix(path, ".gz") {
		gz := gzip.NewWriter(f)
		return &gzipWriteCloser{gz: gz, file: f}, nil
	}
	return f, nil
}

type gzipWriteCloser struct {
	gz   *gzip.Writer
	file *os.File
}

func (g *gzipWriteCloser) Write(p []byte) (int, error) { return g.gz.Write(p) }
func (g *gzipWriteCloser) Close() error {
	if err := g.gz.Close(); err != nil {
		g.file.Close()
		return err
	}
	return g.file.Close()
}

// Writer writes KGX node and edge JSONL files, deduplicating nodes within
// the writing session. Grounded on orion/kgx_file_writer.py's
// KGXFileWriter.
type Writer struct {
	nodesFile io.WriteCloser
	edgesFile io.WriteCloser
	nodesW    *bufio.Writer
	edgesW    *bufio.Writer

	writtenNodes   map[string]struct{}
	uniquify       bool
	repeatNodeCount int
	nodeCount       int
	edgeCount       int
}

// WriterOption configures a Writer.
type WriterOption func(*Writer)

// WithoutNodeDedup disables the within-session written_nodes tracking,
// matching KGXFileWriter(uniquify=False) used when the caller already
// guarantees uniqueness (e.g. merger output).
func WithoutNodeDedup() WriterOption {
	return func(w *Writer) { w.uniquify = false }
}

// NewWriter opens nodesPath and/or edgesPath (either may be empty to skip
// that file) for writing.
func NewWriter(nodesPath, edgesPath string, logWarn func(string), opts ...WriterOption) (*Writer, error) {
	w := &Writer{writtenNodes: map[string]struct{}{}, uniquify: true}
	for _, opt := range opts {
		opt(w)
	}

	if nodesPath != "" {
		f, err := openWrite(nodesPath, logWarn)
		if err != nil {
			return nil, err
		}
		w.nodesFile = f
		w.nodesW = bufio.NewWriter(f)
	}
	if edgesPath != "" {
		f, err := openWrite(edgesPath, logWarn)
		if err != nil {
			if w.nodesFile != nil {
				w.nodesFile.Close()
			}
			return nil, err
		}
		w.edgesFile = f
		w.edgesW = bufio.NewWriter(f)
	}
	return w, nil
}

// WriteNode writes a single node, skipping it (and incrementing the repeat
// counter) if its ID was already written this session, matching
// write_node's uniquify behavior.
func (w *Writer) WriteNode(n *model.Node) error {
	if w.nodesW == nil {
		return fmt.Errorf("writer has no node file open")
	}
	if w.uniquify {
		if _, seen := w.writtenNodes[n.ID]; seen {
			w.repeatNodeCount++
			return nil
		}
		w.writtenNodes[n.ID] = struct{}{}
	}
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshaling node %s: %w", n.ID, err)
	}
	if _, err := w.nodesW.Write(data); err != nil {
		return err
	}
	if err := w.nodesW.WriteByte('\n'); err != nil {
		return err
	}
	w.nodeCount++
	return nil
}

// WriteEdge writes a single edge, unconditionally (edges are not deduped at
// write time; dedup happens in the merger).
func (w *Writer) WriteEdge(e *model.Edge) error {
	if w.edgesW == nil {
		return fmt.Errorf("writer has no edge file open")
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshaling edge %s: %w", e.ID, err)
	}
	if _, err := w.edgesW.Write(data); err != nil {
		return err
	}
	if err := w.edgesW.WriteByte('\n'); err != nil {
		return err
	}
	w.edgeCount++
	return nil
}

// WriteRawNode writes a generic map as one line of the node file, for
// callers that keep records in map form.
func (w *Writer) WriteRawNode(m map[string]any) error {
	if w.nodesW == nil {
		return fmt.Errorf("writer has no node file open")
	}
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	if _, err := w.nodesW.Write(data); err != nil {
		return err
	}
	w.nodeCount++
	return w.nodesW.WriteByte('\n')
}

func (w *Writer) WriteRawEdge(m map[string]any) error {
	if w.edgesW == nil {
		return fmt.Errorf("writer has no edge file open")
	}
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	if _, err := w.edgesW.Write(data); err != nil {
		return err
	}
	w.edgeCount++
	return w.edgesW.WriteByte('\n')
}

func (w *Writer) NodeCount() int        { return w.nodeCount }
func (w *Writer) EdgeCount() int        { return w.edgeCount }
func (w *Writer) RepeatNodeCount() int  { return w.repeatNodeCount }

// Close flushes and closes whichever files were opened.
func (w *Writer) Close() error {
	var firstErr error
	if w.nodesW != nil {
		if err := w.nodesW.Flush(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := w.nodesFile.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if w.edgesW != nil {
		if err := w.edgesW.Flush(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := w.edgesFile.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
