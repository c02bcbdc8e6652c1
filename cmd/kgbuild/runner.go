package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/mrudd/kgbuild/internal/dlq"
	"github.com/mrudd/kgbuild/internal/graphspec"
	"github.com/mrudd/kgbuild/internal/metadata"
	"github.com/mrudd/kgbuild/internal/normalize"
	"github.com/mrudd/kgbuild/internal/normcache"
	"github.com/mrudd/kgbuild/internal/pipeline"
	"github.com/mrudd/kgbuild/internal/supplement"
	"github.com/sirupsen/logrus"
)

// newPipeline builds a SourcePipeline wired against the loaded config. The
// loader registry is left empty: no concrete SourceLoader ships with this
// binary, matching source fetching being out of scope here. Any source
// that already has a built release still works fine; only an unbuilt
// source with no registered loader fails, with a clear error instead of a
// nil-pointer panic (guarded by pipelineSourceRunner below).
func newPipeline(storageDir string, testMode, freshStartMode bool, log *logrus.Entry) *pipeline.SourcePipeline {
	if freshStartMode {
		log.Info("running in fresh start mode, previous state and files will be ignored where the pipeline checks for them")
	}

	normCache, err := normcache.Open(filepath.Join(storageDir, "normalization_cache.bolt"))
	if err != nil {
		log.WithError(err).Warn("failed to open normalization cache, normalizing without it")
		normCache = nil
	}

	normalizerFactory := func(ctx context.Context, scheme normalize.Scheme) (*normalize.NodeNormalizer, *normalize.EdgeNormalizer, error) {
		nodeNorm := normalize.NewNodeNormalizer(normalize.NodeNormalizerConfig{
			Endpoint:     cfg.Normalization.NodeNormURL,
			Concurrency:  cfg.Normalization.Concurrency,
			BatchSize:    cfg.Normalization.BatchSize,
			Timeout:      cfg.Normalization.RequestTimeout,
			MaxRetries:   cfg.Normalization.MaxRetries,
			RateLimit:    cfg.Normalization.RateLimitPerSec,
			Strict:       scheme.Strict,
			Conflate:     scheme.Conflation,
			Cache:        normCache,
			CacheVersion: scheme.CompositeVersion(),
		}, log)
		edgeNorm, err := normalize.NewEdgeNormalizer(ctx, normalize.EdgeNormalizerConfig{
			Endpoint:    cfg.Normalization.EdgeNormURL,
			Version:     scheme.EdgeNormalizationVersion,
			Concurrency: cfg.Normalization.Concurrency,
			Timeout:     cfg.Normalization.RequestTimeout,
			MaxRetries:  cfg.Normalization.MaxRetries,
			RateLimit:   cfg.Normalization.RateLimitPerSec,
		}, log)
		if err != nil {
			return nil, nil, err
		}
		return nodeNorm, edgeNorm, nil
	}

	supplementerFactory := func(workDir string) *supplement.VariantSupplementer {
		return supplement.New(supplement.Config{WorkDir: workDir}, log)
	}

	validator := newValidator()

	deadLetterQueue := dlq.NewQueue(filepath.Join(storageDir, "dead_letter.jsonl"), log)

	return pipeline.New(pipeline.Config{
		StorageDir:     storageDir,
		TestMode:       testMode,
		FreshStartMode: freshStartMode,
	}, pipeline.Dependencies{
		Loaders:             pipeline.LoaderRegistry{},
		NormalizerFactory:   normalizerFactory,
		SupplementerFactory: supplementerFactory,
		Validator:           validator,
		DLQ:                 deadLetterQueue,
	}, log)
}

// pipelineSourceRunner adapts *pipeline.SourcePipeline to build.SourceRunner,
// rejecting operations on sources with no registered loader up front rather
// than letting the pipeline panic trying to invoke a nil loader factory.
type pipelineSourceRunner struct {
	sp      *pipeline.SourcePipeline
	loaders pipeline.LoaderRegistry
}

func (r *pipelineSourceRunner) requireLoader(sourceID string) error {
	if _, ok := r.loaders[sourceID]; !ok {
		return fmt.Errorf("no source loader registered for %q; source fetching/parsing is not shipped with this build - "+
			"build a graph whose sources already have resolved releases, or register a loader", sourceID)
	}
	return nil
}

func (r *pipelineSourceRunner) Run(ctx context.Context, sourceID, sourceVersion, parsingVersion string, scheme normalize.Scheme, supplementationVersion string) (string, error) {
	if err := r.requireLoader(sourceID); err != nil {
		return "", err
	}
	return r.sp.Run(ctx, sourceID, sourceVersion, parsingVersion, scheme, supplementationVersion)
}

func (r *pipelineSourceRunner) GetLatestSourceVersion(ctx context.Context, sourceID string) (string, error) {
	if err := r.requireLoader(sourceID); err != nil {
		return "", err
	}
	return r.sp.GetLatestSourceVersion(ctx, sourceID)
}

func (r *pipelineSourceRunner) ReleaseInfo(sourceID, sourceVersion, releaseVersion string) (*metadata.ReleaseInfo, error) {
	return r.sp.ReleaseInfo(sourceID, sourceVersion, releaseVersion)
}

func (r *pipelineSourceRunner) FinalFilePaths(sourceID, sourceVersion, parsingVersion string, scheme normalize.Scheme, supplementationVersion string) ([]string, error) {
	return r.sp.FinalFilePaths(sourceID, sourceVersion, parsingVersion, scheme, supplementationVersion)
}

// latestParsingVersion is the ParsingVersion lookup handed to
// graphspec.LatestVersionLookup: it only calls into the pipeline when a
// loader is actually registered for the source, leaving "latest" as a
// literal placeholder otherwise so parsing an unbuildable source's spec
// does not itself fail.
func (r *pipelineSourceRunner) latestParsingVersion(sourceID string) string {
	if r.requireLoader(sourceID) != nil {
		return "latest"
	}
	return r.sp.GetLatestParsingVersion(sourceID)
}

// defaultNodeNormalizationVersion is returned for graphs/sources that leave
// node_normalization_version unset. Unlike edge normalization, the node
// normalization service exposes no version-discovery endpoint in this
// codebase (EdgeNormalizer.Version()/currentVersion has no node-side
// analog), so there is no way to resolve "latest" to a concrete pinned
// version; "latest" is carried through as-is and trusted to mean the
// service's current behavior at request time, matching how
// NodeNormalizerConfig has no Version field at all.
const defaultNodeNormalizationVersion = "latest"

// edgeNormalizationVersion resolves "latest" to the edge normalization
// service's current production version by constructing a short-lived
// EdgeNormalizer, matching EdgeNormalizer.__init__'s own "latest" handling.
func edgeNormalizationVersion(ctx context.Context, log *logrus.Entry) func() string {
	return func() string {
		en, err := normalize.NewEdgeNormalizer(ctx, normalize.EdgeNormalizerConfig{
			Endpoint:    cfg.Normalization.EdgeNormURL,
			Version:     "latest",
			Timeout:     cfg.Normalization.RequestTimeout,
			MaxRetries:  cfg.Normalization.MaxRetries,
			RateLimit:   cfg.Normalization.RateLimitPerSec,
			Concurrency: 1,
		}, log)
		if err != nil {
			log.WithError(err).Warn("could not resolve latest edge normalization version, leaving as \"latest\"")
			return "latest"
		}
		return en.Version()
	}
}

// loadGraphSpecs parses every YAML file directly under dir into one
// combined graph_id -> spec map, matching GraphBuilder.load_graph_specs's
// directory of graph spec files.
func loadGraphSpecs(dir string, validSources graphspec.ValidSourceIDs, versions graphspec.LatestVersionLookup) (map[string]*graphspec.GraphSpec, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading graph specs directory %s: %w", dir, err)
	}

	specs := map[string]*graphspec.GraphSpec{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		fileSpecs, err := graphspec.LoadFile(filepath.Join(dir, entry.Name()), validSources, versions)
		if err != nil {
			return nil, fmt.Errorf("parsing graph spec %s: %w", entry.Name(), err)
		}
		for id, spec := range fileSpecs {
			specs[id] = spec
		}
	}
	return specs, nil
}

func sortedSpecIDs(specs map[string]*graphspec.GraphSpec) []string {
	ids := make([]string, 0, len(specs))
	for id := range specs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
