package normalize

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/mrudd/kgbuild/internal/errors"
	"github.com/mrudd/kgbuild/internal/model"
	"github.com/mrudd/kgbuild/internal/normcache"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// NodeNormalizer batches calls to the node normalization service, rewriting
// node IDs/categories/synonyms in place. Grounded on NodeNormalizer in
// orion/normalization.py; concurrency is the deliberate redesign called out
// in SPEC_FULL.md — the original hits the service sequentially per batch
// after abandoning a ThreadPoolExecutor attempt, this uses a bounded
// errgroup fan-out instead.
type NodeNormalizer struct {
	client     *retryableClient
	endpoint   string
	concurrency int
	conflate   bool
	includeTaxa bool
	strict     bool
	logger     *logrus.Entry

	cache        *normcache.Cache
	cacheVersion string

	mu                   sync.Mutex
	lookup               map[string][]string // nil value means failed to normalize
	failedToNormalizeIDs map[string]struct{}
}

// NodeNormalizerConfig carries the constructor inputs, mirroring
// NodeNormalizer.__init__'s keyword arguments.
type NodeNormalizerConfig struct {
	Endpoint    string
	Concurrency int
	BatchSize   int
	Timeout     time.Duration
	MaxRetries  int
	RateLimit   float64
	Strict      bool
	Conflate    bool
	IncludeTaxa bool

	// Cache, when set, is checked before hitting the normalization service
	// and populated with every freshly resolved CURIE, so re-running the
	// same normalization scheme against an unchanged source skips the HTTP
	// round trip entirely. CacheVersion partitions entries so a scheme
	// change (different node norm version, strict/conflate setting, ...)
	// never reads a stale result.
	Cache        *normcache.Cache
	CacheVersion string
}

func NewNodeNormalizer(cfg NodeNormalizerConfig, logger *logrus.Entry) *NodeNormalizer {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &NodeNormalizer{
		client:               newRetryableClient(cfg.Timeout, cfg.RateLimit, cfg.MaxRetries),
		endpoint:             cfg.Endpoint,
		concurrency:          cfg.Concurrency,
		conflate:             cfg.Conflate,
		includeTaxa:          cfg.IncludeTaxa,
		strict:               cfg.Strict,
		logger:               logger,
		cache:                cfg.Cache,
		cacheVersion:         cfg.CacheVersion,
		lookup:               map[string][]string{},
		failedToNormalizeIDs: map[string]struct{}{},
	}
}

type nodeNormRequest struct {
	Curies            []string `json:"curies"`
	Conflate          bool     `json:"conflate"`
	DrugChemicalConflate bool  `json:"drug_chemical_conflate"`
	Description       bool     `json:"description"`
	IncludeTaxa       bool     `json:"include_taxa"`
}

type nodeNormIDSection struct {
	Identifier  string `json:"identifier"`
	Label       string `json:"label"`
	Description string `json:"description"`
}

type nodeNormSynonym struct {
	Identifier string `json:"identifier"`
}

type nodeNormResult struct {
	ID                 nodeNormIDSection `json:"id"`
	Type               []string          `json:"type"`
	Synonyms           []nodeNormSynonym `json:"synonym"`
	InformationContent float64           `json:"information_content"`
}

func (n *NodeNormalizer) hitService(ctx context.Context, curies []string) (map[string]*nodeNormResult, error) {
	body, err := json.Marshal(nodeNormRequest{
		Curies:               curies,
		Conflate:             n.conflate,
		DrugChemicalConflate: n.conflate,
		Description:          true,
		IncludeTaxa:          n.includeTaxa,
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint+"/get_normalized_nodes", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.do(ctx, req)
	if err != nil {
		return nil, errors.NormalizationFailedError(err, fmt.Sprintf("node norm request failed for %d curies", len(curies)))
	}
	defer resp.Body.Close()

	var raw map[string]*nodeNormResult
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, errors.NormalizationFailedError(err, "decoding node normalization response")
	}
	if len(raw) == 0 {
		return nil, errors.NormalizationFailedErrorf("node normalization service %s returned an empty result for %d curies", n.endpoint, len(curies))
	}
	return raw, nil
}

// entryToResult reconstructs the service-shaped result a cache hit stands
// in for, or nil if the cached entry recorded a prior normalization failure.
func entryToResult(e normcache.Entry) *nodeNormResult {
	if e.Failed {
		return nil
	}
	synonyms := make([]nodeNormSynonym, 0, len(e.Synonyms))
	for _, s := range e.Synonyms {
		synonyms = append(synonyms, nodeNormSynonym{Identifier: s})
	}
	return &nodeNormResult{
		ID:                 nodeNormIDSection{Identifier: e.Identifier, Label: e.Label, Description: e.Description},
		Type:               e.Categories,
		Synonyms:           synonyms,
		InformationContent: e.InformationContent,
	}
}

// resultToEntry converts a service result (nil meaning failed) into the
// form stored in the normalization cache.
func resultToEntry(res *nodeNormResult) normcache.Entry {
	if res == nil {
		return normcache.Entry{Failed: true}
	}
	synonyms := make([]string, 0, len(res.Synonyms))
	for _, s := range res.Synonyms {
		synonyms = append(synonyms, s.Identifier)
	}
	return normcache.Entry{
		NormalizedIDs:      []string{res.ID.Identifier},
		Identifier:         res.ID.Identifier,
		Label:              res.ID.Label,
		Description:        res.ID.Description,
		Categories:         res.Type,
		Synonyms:           synonyms,
		InformationContent: res.InformationContent,
	}
}

// NormalizeNodes normalizes the given nodes in place, removing nodes that
// failed to normalize when strict mode is on, matching normalize_node_data.
// Batches are fanned out concurrently up to the configured concurrency.
// Curies already present in the normalization cache skip the HTTP service
// entirely; newly resolved curies are written back to the cache once fetched.
func (n *NodeNormalizer) NormalizeNodes(ctx context.Context, nodes []*model.Node, batchSize int) ([]*model.Node, []string, error) {
	if batchSize <= 0 {
		batchSize = 1000
	}
	ids := make([]string, len(nodes))
	for i, node := range nodes {
		ids[i] = node.ID
	}

	merged := map[string]*nodeNormResult{}
	var toFetch []string
	if n.cache != nil {
		for _, id := range ids {
			if entry, ok := n.cache.Get(n.cacheVersion, id); ok {
				merged[id] = entryToResult(entry)
				continue
			}
			toFetch = append(toFetch, id)
		}
	} else {
		toFetch = ids
	}

	chunks := chunkStrings(toFetch, batchSize)

	results := make([]map[string]*nodeNormResult, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(n.concurrency)
	for i, chunk := range chunks {
		i, chunk := i, chunk
		g.Go(func() error {
			r, err := n.hitService(gctx, chunk)
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	for _, r := range results {
		for k, v := range r {
			merged[k] = v
		}
	}

	if n.cache != nil && len(toFetch) > 0 {
		toCache := make(map[string]normcache.Entry, len(toFetch))
		for _, id := range toFetch {
			toCache[id] = resultToEntry(merged[id])
		}
		if err := n.cache.PutBatch(n.cacheVersion, toCache); err != nil {
			n.logger.WithError(err).Warn("failed to write normalization results to cache")
		}
	}

	var failed []string
	out := make([]*model.Node, 0, len(nodes))
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, node := range nodes {
		originalID := node.ID
		result := merged[originalID]
		if result == nil {
			failed = append(failed, originalID)
			n.failedToNormalizeIDs[originalID] = struct{}{}
			if n.strict {
				n.lookup[originalID] = nil
				continue
			}
			n.lookup[originalID] = []string{originalID}
			out = append(out, node)
			continue
		}
		normalizedID := result.ID.Identifier
		node.ID = normalizedID
		if len(result.Type) > 0 {
			node.Categories = result.Type
		}
		synonyms := make([]string, 0, len(result.Synonyms))
		for _, s := range result.Synonyms {
			synonyms = append(synonyms, s.Identifier)
		}
		node.Properties["synonym"] = synonyms
		if result.ID.Label != "" {
			node.Name = result.ID.Label
		}
		if result.InformationContent != 0 {
			node.Properties["information_content"] = result.InformationContent
		}
		if result.ID.Description != "" {
			node.Properties["description"] = result.ID.Description
		}
		n.lookup[originalID] = []string{normalizedID}
		out = append(out, node)
	}
	return out, failed, nil
}

// Lookup returns the normalized IDs a given original CURIE maps to (nil if
// it failed to normalize), matching node_normalization_lookup.
func (n *NodeNormalizer) Lookup(originalID string) ([]string, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	v, ok := n.lookup[originalID]
	return v, ok
}

// LookupMap returns a snapshot of the full normalization_map, written out
// alongside the normalized node file for later inspection/debugging.
func (n *NodeNormalizer) LookupMap() map[string][]string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make(map[string][]string, len(n.lookup))
	for k, v := range n.lookup {
		out[k] = v
	}
	return out
}

// FailedIDs returns the set of original CURIEs that failed to normalize.
func (n *NodeNormalizer) FailedIDs() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.failedToNormalizeIDs))
	for id := range n.failedToNormalizeIDs {
		out = append(out, id)
	}
	return out
}

func chunkStrings(items []string, size int) [][]string {
	var chunks [][]string
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		chunks = append(chunks, items[start:end])
	}
	return chunks
}
