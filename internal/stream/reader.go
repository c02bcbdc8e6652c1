// Package stream implements the KGX JSONL file format: line-delimited JSON
// node and edge documents, optionally gzip-compressed, read and written in
// bounded-memory passes. Grounded on orion/kgx_file_writer.py and the
// streaming-file helpers in kgx_file_normalizer.py.
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

const maxLineSize = 64 * 1024 * 1024

// openRead opens path for reading, transparently wrapping it in a gzip
// reader when the filename ends in .gz.
func openRead(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("opening gzip reader for %s: %w", path, err)
		}
		return &gzipReadCloser{gz: gz, file: f}, nil
	}
	return f, nil
}

type gzipReadCloser struct {
	gz   *gzip.Reader
	file *os.File
}

func (g *gzipReadCloser) Read(p []byte) (int, error) { return g.gz.Read(p) }
func (g *gzipReadCloser) Close() error {
	if err := g.gz.Close(); err != nil {
		g.file.Close()
		return err
	}
	return g.file.Close()
}

// NodeReader streams Node records from a KGX node JSONL file.
type NodeReader struct {
	rc      io.ReadCloser
	scanner *bufio.Scanner
}

func NewNodeReader(path string) (*NodeReader, error) {
	rc, err := openRead(path)
	if err != nil {
		return nil, err
	}
	scanner := bufio.NewScanner(rc)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &NodeReader{rc: rc, scanner: scanner}, nil
}

// Next returns the next node, or (nil, io.EOF) when the file is exhausted.
func (r *NodeReader) Next() (*model.Node, error) {
	for r.scanner.Scan() {
		line := strings.TrimSpace(r.scanner.Text())
		if line == "" {
			continue
		}
		var n model.Node
		if err := json.Unmarshal([]byte(line), &n); err != nil {
			return nil, fmt.Errorf("parsing node line: %w", err)
		}
		return &n, nil
	}
	if err := r.scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning node file: %w", err)
	}
	return nil, io.EOF
}

func (r *NodeReader) Close() error { return r.rc.Close() }

// EdgeReader streams Edge records from a KGX edge JSONL file.
type EdgeReader struct {
	rc      io.ReadCloser
	scanner *bufio.Scanner
}

func NewEdgeReader(path string) (*EdgeReader, error) {
	rc, err := openRead(path)
	if err != nil {
		return nil, err
	}
	scanner := bufio.NewScanner(rc)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &EdgeReader{rc: rc, scanner: scanner}, nil
}

func (r *EdgeReader) Next() (*model.Edge, error) {
	for r.scanner.Scan() {
		line := strings.TrimSpace(r.scanner.Text())
		if line == "" {
			continue
		}
		var e model.Edge
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			return nil, fmt.Errorf("parsing edge line: %w", err)
		}
		return &e, nil
	}
	if err := r.scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning edge file: %w", err)
	}
	return nil, io.EOF
}

func (r *EdgeReader) Close() error { return r.rc.Close() }

// RawReader streams raw JSON objects as map[string]any, used by the merger's
// FileMerger, fsnormalize, supplement and validate, where records are kept
// in their generic form rather than typed Node/Edge structs.
type RawReader struct {
	rc      io.ReadCloser
	scanner *bufio.Scanner
}

func NewRawReader(path string) (*RawReader, error) {
	rc, err := openRead(path)
	if err != nil {
		return nil, err
	}
	scanner := bufio.NewScanner(rc)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &RawReader{rc: rc, scanner: scanner}, nil
}

func (r *RawReader) Next() (map[string]any, error) {
	for r.scanner.Scan() {
		line := strings.TrimSpace(r.scanner.Text())
		if line == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			return nil, fmt.Errorf("parsing raw json line: %w", err)
		}
		return m, nil
	}
	if err := r.scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning raw file: %w", err)
	}
	return nil, io.EOF
}

func (r *RawReader) Close() error { return r.rc.Close() }
