// Package normcache persists normalization results across pipeline runs so
// re-normalizing an unchanged source version does not repeat every HTTP
// lookup. Grounded on the bbolt cache pattern in
// internal/mcp/identity_resolver.go (getCached/setCached over a named
// bucket), re-scoped from file-rename history to CURIE normalization
// results.
package normcache

import (
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"
)

// Entry is the cached normalization outcome for one original CURIE: the
// full node normalization service response, so a cache hit can reconstruct
// a node exactly as a live call would have, not just its ID mapping.
type Entry struct {
	NormalizedIDs      []string `json:"normalized_ids"` // nil means it failed to normalize
	Identifier         string   `json:"identifier,omitempty"`
	Label              string   `json:"label,omitempty"`
	Description        string   `json:"description,omitempty"`
	Categories         []string `json:"categories,omitempty"`
	Synonyms           []string `json:"synonyms,omitempty"`
	InformationContent float64  `json:"information_content,omitempty"`
	Failed             bool     `json:"failed,omitempty"`
}

// Cache stores normalization results keyed by (composite normalization
// version, original CURIE), partitioned into one bolt bucket per version so
// a version bump never reads stale entries.
type Cache struct {
	db *bolt.DB
}

func Open(path string) (*Cache, error) {
	db, err := bolt.Open(path, 0644, nil)
	if err != nil {
		return nil, fmt.Errorf("opening normalization cache %s: %w", path, err)
	}
	return &Cache{db: db}, nil
}

func (c *Cache) Close() error { return c.db.Close() }

func bucketName(compositeVersion string) []byte {
	return []byte("norm_" + compositeVersion)
}

// Get returns the cached entry for curie under compositeVersion, or
// (Entry{}, false) on a miss.
func (c *Cache) Get(compositeVersion, curie string) (Entry, bool) {
	var entry Entry
	found := false
	_ = c.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketName(compositeVersion))
		if bucket == nil {
			return nil
		}
		data := bucket.Get([]byte(curie))
		if data == nil {
			return nil
		}
		if err := json.Unmarshal(data, &entry); err != nil {
			return err
		}
		found = true
		return nil
	})
	return entry, found
}

// Put stores curie's normalization outcome under compositeVersion.
func (c *Cache) Put(compositeVersion, curie string, entry Entry) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists(bucketName(compositeVersion))
		if err != nil {
			return err
		}
		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		return bucket.Put([]byte(curie), data)
	})
}

// PutBatch stores multiple entries under one write transaction, used after
// a normalization batch completes to amortize bbolt's fsync cost.
func (c *Cache) PutBatch(compositeVersion string, entries map[string]Entry) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists(bucketName(compositeVersion))
		if err != nil {
			return err
		}
		for curie, entry := range entries {
			data, err := json.Marshal(entry)
			if err != nil {
				return err
			}
			if err := bucket.Put([]byte(curie), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// MissingFrom returns the subset of curies that have no cached entry under
// compositeVersion, preserving input order.
func (c *Cache) MissingFrom(compositeVersion string, curies []string) []string {
	var missing []string
	_ = c.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketName(compositeVersion))
		if bucket == nil {
			missing = append(missing, curies...)
			return nil
		}
		for _, curie := range curies {
			if bucket.Get([]byte(curie)) == nil {
				missing = append(missing, curie)
			}
		}
		return nil
	})
	return missing
}
