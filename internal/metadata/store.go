package metadata

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// store is the shared atomic load/save behavior for both SourceMetadata and
// GraphMetadata. It is embedded rather than exported because callers only
// ever work through the two concrete types below.
//
// Deliberate divergence from orion/metadata.py: save is atomic (write to a
// temp file in the same directory, then rename), where the original does a
// direct os.open(path, 'w') overwrite. spec.md requires atomicity so a crash
// mid-write never leaves a half-written metadata file that corrupts the next
// resume attempt.
type store struct {
	path string
	mu   sync.Mutex
}

func (s *store) load(into any) error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading metadata file %s: %w", s.path, err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, into); err != nil {
		return fmt.Errorf("parsing metadata file %s: %w", s.path, err)
	}
	return nil
}

func (s *store) save(from any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating metadata directory %s: %w", dir, err)
	}

	data, err := json.MarshalIndent(from, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling metadata: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".metadata-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp metadata file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp metadata file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp metadata file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("renaming temp metadata file into place: %w", err)
	}
	return nil
}
