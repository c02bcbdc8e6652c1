package normalize

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/mrudd/kgbuild/internal/errors"
	"github.com/mrudd/kgbuild/internal/model"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// EdgeNormalizationResult is the normalized predicate (and whether the
// relation should be inverted) for one original predicate.
type EdgeNormalizationResult struct {
	Predicate  string
	Inverted   bool
	Properties map[string]any
}

// EdgeNormalizer resolves predicates against the biolink lookup service.
// Grounded on EdgeNormalizer in orion/normalization.py.
type EdgeNormalizer struct {
	client      *retryableClient
	endpoint    string
	version     string
	concurrency int
	logger      *logrus.Entry

	mu     sync.Mutex
	lookup map[string]EdgeNormalizationResult
}

type EdgeNormalizerConfig struct {
	Endpoint    string
	Version     string // "latest" resolves the current production version
	Concurrency int
	Timeout     time.Duration
	MaxRetries  int
	RateLimit   float64
}

func NewEdgeNormalizer(ctx context.Context, cfg EdgeNormalizerConfig, logger *logrus.Entry) (*EdgeNormalizer, error) {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	en := &EdgeNormalizer{
		client:      newRetryableClient(cfg.Timeout, cfg.RateLimit, cfg.MaxRetries),
		endpoint:    strings.TrimSuffix(cfg.Endpoint, "/"),
		concurrency: cfg.Concurrency,
		logger:      logger,
		lookup:      map[string]EdgeNormalizationResult{},
	}
	if cfg.Version == "" || cfg.Version == "latest" {
		v, err := en.currentVersion(ctx)
		if err != nil {
			return nil, err
		}
		en.version = v
	} else {
		ok, err := en.versionValid(ctx, cfg.Version)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, errors.NormalizationFailedErrorf("edge norm version %s is not supported by endpoint %s", cfg.Version, cfg.Endpoint)
		}
		en.version = cfg.Version
	}
	return en, nil
}

func (en *EdgeNormalizer) availableVersions(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, en.endpoint+"/versions", nil)
	if err != nil {
		return nil, err
	}
	resp, err := en.client.do(ctx, req)
	if err != nil {
		return nil, errors.NormalizationFailedError(err, "fetching edge normalization versions")
	}
	defer resp.Body.Close()
	var versions []string
	if err := json.NewDecoder(resp.Body).Decode(&versions); err != nil {
		return nil, errors.NormalizationFailedError(err, "decoding edge normalization versions")
	}
	return versions, nil
}

func (en *EdgeNormalizer) currentVersion(ctx context.Context) (string, error) {
	versions, err := en.availableVersions(ctx)
	if err != nil {
		return "", err
	}
	if len(versions) == 0 {
		return "", errors.NormalizationFailedErrorf("edge normalization service %s returned no versions", en.endpoint)
	}
	return versions[0], nil
}

func (en *EdgeNormalizer) versionValid(ctx context.Context, version string) (bool, error) {
	versions, err := en.availableVersions(ctx)
	if err != nil {
		return false, err
	}
	for _, v := range versions {
		if v == version {
			return true, nil
		}
	}
	return false, nil
}

func (en *EdgeNormalizer) resolveChunk(ctx context.Context, predicates []string) (map[string]map[string]any, error) {
	reqURL := en.endpoint + "/resolve_predicate?version=" + url.QueryEscape(en.version)
	for _, p := range predicates {
		reqURL += "&predicate=" + url.QueryEscape(p)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := en.client.do(ctx, req)
	if err != nil {
		return nil, errors.NormalizationFailedError(err, "edge norm request failed")
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return map[string]map[string]any{}, nil
	}
	var out map[string]map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, errors.NormalizationFailedError(err, "decoding edge normalization response")
	}
	return out, nil
}

// NormalizeEdges resolves every distinct predicate present in edges that has
// not already been looked up, caching results for reuse across calls.
// Matches normalize_edge_data, with bounded concurrent chunk fan-out in
// place of the original's synchronous per-chunk calls.
func (en *EdgeNormalizer) NormalizeEdges(ctx context.Context, edges []*model.Edge, blockSize int) ([]string, error) {
	if blockSize <= 0 {
		blockSize = 100
	}

	en.mu.Lock()
	toResolve := map[string]struct{}{}
	for _, e := range edges {
		if _, done := en.lookup[e.Predicate]; !done {
			toResolve[e.Predicate] = struct{}{}
		}
	}
	en.mu.Unlock()

	if len(toResolve) == 0 {
		return nil, nil
	}
	predicates := make([]string, 0, len(toResolve))
	for p := range toResolve {
		predicates = append(predicates, p)
	}
	chunks := chunkStrings(predicates, blockSize)

	results := make([]map[string]map[string]any, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(en.concurrency)
	for i, chunk := range chunks {
		i, chunk := i, chunk
		g.Go(func() error {
			r, err := en.resolveChunk(gctx, chunk)
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := map[string]map[string]any{}
	for _, r := range results {
		for k, v := range r {
			merged[k] = v
		}
	}

	var failed []string
	en.mu.Lock()
	defer en.mu.Unlock()
	for predicate := range toResolve {
		info, ok := merged[predicate]
		_, hasPredicate := info["predicate"]
		_, hasIdentifier := info["identifier"]
		if ok && (hasPredicate || hasIdentifier) {
			normalized, _ := info["predicate"].(string)
			if normalized == "" {
				normalized, _ = info["identifier"].(string)
			}
			delete(info, "predicate")
			delete(info, "identifier")
			delete(info, "label")
			inverted, _ := info["inverted"].(bool)
			delete(info, "inverted")
			en.lookup[predicate] = EdgeNormalizationResult{Predicate: normalized, Inverted: inverted, Properties: info}
		} else {
			en.lookup[predicate] = EdgeNormalizationResult{Predicate: FallbackEdgePredicate}
			failed = append(failed, predicate)
		}
	}
	return failed, nil
}

// Lookup returns the normalization result previously computed for a
// predicate, matching edge_normalization_lookup.
func (en *EdgeNormalizer) Lookup(predicate string) (EdgeNormalizationResult, bool) {
	en.mu.Lock()
	defer en.mu.Unlock()
	r, ok := en.lookup[predicate]
	return r, ok
}

// Version returns the biolink version this normalizer resolved against.
func (en *EdgeNormalizer) Version() string { return en.version }

// LookupAll returns a snapshot of every predicate resolved so far, written
// out alongside the normalized edge file as the predicate map.
func (en *EdgeNormalizer) LookupAll() map[string]EdgeNormalizationResult {
	en.mu.Lock()
	defer en.mu.Unlock()
	out := make(map[string]EdgeNormalizationResult, len(en.lookup))
	for k, v := range en.lookup {
		out[k] = v
	}
	return out
}
