// Package pipeline implements the resumable per-source build pipeline:
// fetch, parse, normalize, supplement, and QC, each stage checked against
// persisted metadata before it is re-run. Grounded in full on
// orion/load_manager.py's SourceDataManager.run_pipeline.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/mrudd/kgbuild/internal/dlq"
	"github.com/mrudd/kgbuild/internal/errors"
	"github.com/mrudd/kgbuild/internal/fsnormalize"
	"github.com/mrudd/kgbuild/internal/metadata"
	"github.com/mrudd/kgbuild/internal/normalize"
	"github.com/mrudd/kgbuild/internal/supplement"
	"github.com/sirupsen/logrus"
)

// Validator runs the QC pass over a source's final normalized files,
// matching orion/kgx_validation.py's validate_graph entry point. Modeled as
// an interface here so internal/pipeline does not need to import
// internal/validate directly.
type Validator interface {
	Validate(ctx context.Context, nodesPath, edgesPath, graphID, graphVersion string) (map[string]any, error)
}

// NormalizerFactory builds the node/edge normalizers used for one
// normalization run, letting the caller control endpoint/cache wiring
// without the pipeline needing to know about it.
type NormalizerFactory func(ctx context.Context, scheme normalize.Scheme) (*normalize.NodeNormalizer, *normalize.EdgeNormalizer, error)

// SupplementerFactory builds a sequence-variant supplementer scoped to a
// per-run working directory.
type SupplementerFactory func(workDir string) *supplement.VariantSupplementer

// Config configures a SourcePipeline instance, matching the constructor
// arguments of SourceDataManager.
type Config struct {
	StorageDir     string
	TestMode       bool
	FreshStartMode bool

	// RetryDelay is the pause between get_latest_source_version retries,
	// matching the original's hardcoded 3-second sleep. Exposed so tests
	// can shrink it.
	RetryDelay time.Duration
}

// Dependencies wires in the collaborators a SourcePipeline orchestrates.
type Dependencies struct {
	Loaders             LoaderRegistry
	NormalizerFactory   NormalizerFactory
	SupplementerFactory SupplementerFactory
	Validator           Validator

	// DLQ records normalization/supplementation batches that failed, for
	// later review or retry. Optional: a nil DLQ just skips recording.
	DLQ *dlq.Queue
}

// enqueueFailure records a failed batch for sourceID/recordType in the dead
// letter log, if one is configured. Errors enqueuing are logged, not
// propagated: a DLQ write failure must never fail the pipeline run itself.
func (sp *SourcePipeline) enqueueFailure(ctx context.Context, sourceID, recordType string, failure error, meta map[string]any) {
	if sp.deps.DLQ == nil {
		return
	}
	if err := sp.deps.DLQ.Enqueue(ctx, sourceID, recordType, failure, meta); err != nil {
		sp.log.WithError(err).Warnf("failed to record %s failure for %s in dead letter log", recordType, sourceID)
	}
}

// SourcePipeline runs the per-source build pipeline and tracks resumable
// stage state, matching SourceDataManager.
type SourcePipeline struct {
	cfg  Config
	deps Dependencies
	log  *logrus.Entry
	p    paths

	mu                         sync.Mutex
	latestSourceVersionLookup  map[string]string
	latestParsingVersionLookup map[string]string
	sourceMetadataCache        map[string]*metadata.SourceMetadata
}

func New(cfg Config, deps Dependencies, log *logrus.Entry) *SourcePipeline {
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 3 * time.Second
	}
	return &SourcePipeline{
		cfg:                        cfg,
		deps:                       deps,
		log:                        log,
		p:                          paths{storageDir: cfg.StorageDir},
		latestSourceVersionLookup:  map[string]string{},
		latestParsingVersionLookup: map[string]string{},
		sourceMetadataCache:        map[string]*metadata.SourceMetadata{},
	}
}

// Run executes fetch -> parse -> normalize -> supplement -> QC for one
// source, returning the release version on success, matching run_pipeline.
// "latest" is accepted for sourceVersion/parsingVersion/supplementationVersion
// to mean "resolve the current version", matching the original's defaults.
func (sp *SourcePipeline) Run(ctx context.Context, sourceID, sourceVersion, parsingVersion string, scheme normalize.Scheme, supplementationVersion string) (string, error) {
	sp.log.Infof("running pipeline on %s", sourceID)
	if err := os.MkdirAll(sp.p.sourceDir(sourceID), 0o755); err != nil {
		return "", err
	}

	if sourceVersion == "" || sourceVersion == "latest" {
		v, err := sp.getLatestSourceVersion(ctx, sourceID, 0)
		if err != nil {
			return "", err
		}
		sourceVersion = v
	}
	ok, err := sp.runFetchStage(ctx, sourceID, sourceVersion)
	if err != nil {
		return "", err
	}
	if !ok {
		sp.log.Warnf("pipeline for %s aborted during fetch stage", sourceID)
		return "", nil
	}

	if parsingVersion == "" || parsingVersion == "latest" {
		parsingVersion = sp.getLatestParsingVersion(sourceID)
	}
	ok, err = sp.runParsingStage(ctx, sourceID, sourceVersion, parsingVersion)
	if err != nil {
		return "", err
	}
	if !ok {
		sp.log.Warnf("pipeline for %s aborted during parsing stage", sourceID)
		return "", nil
	}

	ok, err = sp.runNormalizationStage(ctx, sourceID, sourceVersion, parsingVersion, scheme)
	if err != nil {
		return "", err
	}
	if !ok {
		sp.log.Warnf("pipeline for %s aborted during normalization stage", sourceID)
		return "", nil
	}

	if supplementationVersion == "" || supplementationVersion == "latest" {
		supplementationVersion = supplement.Version
	}
	ok, err = sp.runSupplementationStage(ctx, sourceID, sourceVersion, parsingVersion, supplementationVersion, scheme)
	if err != nil {
		return "", err
	}
	if !ok {
		sp.log.Warnf("pipeline for %s supplementation stage not successful", sourceID)
		return "", nil
	}

	releaseVersion, err := sp.runQCAndMetadataStage(ctx, sourceID, sourceVersion, parsingVersion, supplementationVersion, scheme)
	if err != nil {
		return "", err
	}
	if releaseVersion == "" {
		sp.log.Warnf("pipeline for %s failed quality control", sourceID)
		return "", nil
	}
	return releaseVersion, nil
}

func (sp *SourcePipeline) loaderFactory(sourceID string) (LoaderFactory, error) {
	factory, ok := sp.deps.Loaders[sourceID]
	if !ok {
		return nil, errors.ConfigurationErrorf("no loader registered for source %s", sourceID)
	}
	return factory, nil
}

func (sp *SourcePipeline) getLatestSourceVersion(ctx context.Context, sourceID string, retries int) (string, error) {
	sp.mu.Lock()
	if v, ok := sp.latestSourceVersionLookup[sourceID]; ok {
		sp.mu.Unlock()
		return v, nil
	}
	sp.mu.Unlock()

	factory, err := sp.loaderFactory(sourceID)
	if err != nil {
		return "", err
	}
	loader := factory(sp.cfg.TestMode, "")
	sp.log.Infof("retrieving latest source version for %s", sourceID)
	v, err := loader.GetLatestSourceVersion(ctx)
	if err == nil {
		sp.log.Infof("found latest source version for %s: %s", sourceID, v)
		sp.mu.Lock()
		sp.latestSourceVersionLookup[sourceID] = v
		sp.mu.Unlock()
		return v, nil
	}

	if errors.GetType(err) == errors.ErrGetDataPull {
		sp.log.Errorf("error while checking for latest source version for %s: %v", sourceID, err)
		if retries < 2 {
			time.Sleep(sp.cfg.RetryDelay)
			return sp.getLatestSourceVersion(ctx, sourceID, retries+1)
		}
		return "", errors.DataVersionErrorf("error while checking for latest source version for %s: %v", sourceID, err)
	}
	return "", errors.DataVersionErrorf("error while checking for latest source version for %s: %v", sourceID, err)
}

func (sp *SourcePipeline) getLatestParsingVersion(sourceID string) string {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	if v, ok := sp.latestParsingVersionLookup[sourceID]; ok {
		return v
	}
	factory := sp.deps.Loaders[sourceID]
	loader := factory(sp.cfg.TestMode, "")
	v := loader.ParsingVersion()
	sp.latestParsingVersionLookup[sourceID] = v
	return v
}

func (sp *SourcePipeline) getSourceMetadata(sourceID, sourceVersion string) (*metadata.SourceMetadata, error) {
	key := sourceID + "@" + sourceVersion
	sp.mu.Lock()
	defer sp.mu.Unlock()
	if sm, ok := sp.sourceMetadataCache[key]; ok {
		return sm, nil
	}
	sm, err := metadata.NewSourceMetadata(sourceID, sourceVersion, sp.p.sourceDir(sourceID))
	if err != nil {
		return nil, err
	}
	sp.sourceMetadataCache[key] = sm
	return sm, nil
}

func (sp *SourcePipeline) runFetchStage(ctx context.Context, sourceID, sourceVersion string) (bool, error) {
	sm, err := sp.getSourceMetadata(sourceID, sourceVersion)
	if err != nil {
		return false, err
	}
	switch sm.GetFetchStatus() {
	case metadata.Stable:
		return true, nil
	case metadata.InProgress:
		sp.log.Infof("fetch stage for %s is already in progress", sourceID)
		return false, nil
	case metadata.Broken, metadata.Failed:
		sp.log.Infof("fetch stage for %s previously: %s", sourceID, sm.GetFetchStatus())
		return false, nil
	default:
		sp.log.Infof("fetching source data for %s (version: %s)...", sourceID, sourceVersion)
		return sp.fetchSource(ctx, sourceID, sourceVersion, 0)
	}
}

func (sp *SourcePipeline) fetchSource(ctx context.Context, sourceID, sourceVersion string, retries int) (bool, error) {
	sourceVersionPath := sp.p.sourceVersionDir(sourceID, sourceVersion)
	if err := os.MkdirAll(sourceVersionPath, 0o755); err != nil {
		return false, err
	}
	sm, err := sp.getSourceMetadata(sourceID, sourceVersion)
	if err != nil {
		return false, err
	}
	if err := sm.SetFetchStatus(metadata.InProgress); err != nil {
		return false, err
	}

	factory, err := sp.loaderFactory(sourceID)
	if err != nil {
		return false, err
	}
	loader := factory(sp.cfg.TestMode, sourceVersionPath)

	if loader.NeedsDataDownload() {
		latest, err := sp.getLatestSourceVersion(ctx, sourceID, 0)
		if err != nil {
			return false, err
		}
		if sourceVersion != latest {
			msg := fmt.Sprintf("fetching source data %s (version: %s) failed - fetching old source versions not supported", sourceID, sourceVersion)
			sp.log.Error(msg)
			sm.SetFetchError(msg)
			sm.SetFetchStatus(metadata.Failed)
			return false, nil
		}
		sp.log.Infof("retrieving source data for %s (version: %s)...", sourceID, sourceVersion)
		if err := loader.GetData(ctx); err != nil {
			if errors.GetType(err) == errors.ErrGetDataPull {
				sp.log.Infof("error while fetching source data for %s (version: %s): %v", sourceID, sourceVersion, err)
				if retries < 2 {
					sp.log.Errorf("retrying fetching for %s (retry %d)", sourceID, retries+1)
					return sp.fetchSource(ctx, sourceID, sourceVersion, retries+1)
				}
				sm.SetFetchError(err.Error())
				sm.SetFetchStatus(metadata.Failed)
				return false, nil
			}
			sm.SetFetchError(err.Error())
			sm.SetFetchStatus(metadata.Failed)
			return false, nil
		}
	} else {
		sp.log.Infof("source data was already retrieved for %s", sourceID)
	}
	sm.SetFetchStatus(metadata.Stable)
	return true, nil
}

func (sp *SourcePipeline) runParsingStage(ctx context.Context, sourceID, sourceVersion, parsingVersion string) (bool, error) {
	sm, err := sp.getSourceMetadata(sourceID, sourceVersion)
	if err != nil {
		return false, err
	}
	status := sm.GetParsingStatus(parsingVersion)
	switch status {
	case metadata.Stable:
		return true, nil
	case metadata.InProgress:
		sp.log.Infof("parsing stage for %s is already in progress", sourceID)
		return false, nil
	case metadata.Broken:
		sp.log.Infof("parsing stage for %s previously: %s", sourceID, status)
		return false, nil
	default:
		sp.log.Infof("parsing source %s (source_version: %s, parsing_version: %s)...", sourceID, sourceVersion, parsingVersion)
		return sp.parseSource(ctx, sourceID, sourceVersion, parsingVersion)
	}
}

func (sp *SourcePipeline) parseSource(ctx context.Context, sourceID, sourceVersion, parsingVersion string) (bool, error) {
	if parsingVersion != sp.getLatestParsingVersion(sourceID) {
		sp.log.Errorf("parser version %s unavailable for %s", parsingVersion, sourceID)
		return false, nil
	}
	sp.log.Infof("parsing source %s...", sourceID)
	currentTime := time.Now().Format("01-02-06 15:04:05")
	sm, err := sp.getSourceMetadata(sourceID, sourceVersion)
	if err != nil {
		return false, err
	}
	sm.UpdateParsingMetadata(parsingVersion, metadata.InProgress, sourceVersion, nil, "", "", nil)

	sourceDataDir := sp.p.sourceVersionDir(sourceID, sourceVersion)
	versionedParsingDir := sp.p.parsingDir(sourceID, sourceVersion, parsingVersion)
	if err := os.MkdirAll(versionedParsingDir, 0o755); err != nil {
		return false, err
	}

	factory, err := sp.loaderFactory(sourceID)
	if err != nil {
		return false, err
	}
	loader := factory(sp.cfg.TestMode, sourceDataDir)

	nodesPath := sp.p.sourceNodesFile(sourceID, sourceVersion, parsingVersion)
	edgesPath := sp.p.sourceEdgesFile(sourceID, sourceVersion, parsingVersion)
	parsingInfo, err := loader.Load(ctx, nodesPath, edgesPath)
	if err != nil {
		if errors.IsBroken(err) {
			sp.log.Errorf("parsing %s broken: %v", sourceID, err)
			sm.UpdateParsingMetadata(parsingVersion, metadata.Broken, "", nil, currentTime, err.Error(), nil)
			return false, nil
		}
		if errors.GetType(err) == errors.ErrParserFailed {
			sp.log.Errorf("parsing %s failed: %v", sourceID, err)
			sm.UpdateParsingMetadata(parsingVersion, metadata.Failed, "", nil, currentTime, err.Error(), nil)
			return false, nil
		}
		sm.UpdateParsingMetadata(parsingVersion, metadata.Failed, "", nil, currentTime, err.Error(), nil)
		return false, err
	}

	hasSequenceVariants := loader.HasSequenceVariants()
	sm.UpdateParsingMetadata(parsingVersion, metadata.Stable, sourceVersion, parsingInfo, currentTime, "", &hasSequenceVariants)
	return true, nil
}

func (sp *SourcePipeline) runNormalizationStage(ctx context.Context, sourceID, sourceVersion, parsingVersion string, scheme normalize.Scheme) (bool, error) {
	compositeVersion := scheme.CompositeVersion()
	sm, err := sp.getSourceMetadata(sourceID, sourceVersion)
	if err != nil {
		return false, err
	}
	status := sm.GetNormalizationStatus(parsingVersion, compositeVersion)
	switch status {
	case metadata.Stable:
		return true, nil
	case metadata.InProgress:
		sp.log.Infof("normalization stage for %s is already in progress", sourceID)
		return false, nil
	case metadata.Broken, metadata.Failed:
		sp.log.Infof("normalization stage for %s previously: %s", sourceID, status)
		return false, nil
	default:
		return sp.normalizeSource(ctx, sourceID, sourceVersion, parsingVersion, scheme)
	}
}

func (sp *SourcePipeline) normalizeSource(ctx context.Context, sourceID, sourceVersion, parsingVersion string, scheme normalize.Scheme) (bool, error) {
	sp.log.Infof("normalizing %s...", sourceID)
	compositeVersion := scheme.CompositeVersion()
	versionedDir := sp.p.normalizationDir(sourceID, sourceVersion, parsingVersion, compositeVersion)
	if err := os.MkdirAll(versionedDir, 0o755); err != nil {
		return false, err
	}
	sm, err := sp.getSourceMetadata(sourceID, sourceVersion)
	if err != nil {
		return false, err
	}
	sm.UpdateNormalizationMetadata(parsingVersion, compositeVersion, metadata.InProgress, nil, "", "", "", "", false, false)

	currentTime := time.Now().Format("01-02-06 15:04:05")
	factory, err := sp.loaderFactory(sourceID)
	if err != nil {
		return false, err
	}
	loader := factory(sp.cfg.TestMode, "")

	nodeN, edgeN, err := sp.deps.NormalizerFactory(ctx, scheme)
	if err != nil {
		sm.UpdateNormalizationMetadata(parsingVersion, compositeVersion, metadata.Failed, nil, currentTime, err.Error(), "", "", false, false)
		sp.enqueueFailure(ctx, sourceID, "normalization", err, nil)
		return false, nil
	}

	fn := fsnormalize.New(fsnormalize.Config{
		SourceNodesPath:          sp.p.sourceNodesFile(sourceID, sourceVersion, parsingVersion),
		NodesOutputPath:          sp.p.normalizedNodesFile(sourceID, sourceVersion, parsingVersion, compositeVersion),
		NodeNormMapPath:          sp.p.nodeNormMapFile(sourceID, sourceVersion, parsingVersion, compositeVersion),
		NodeNormFailuresPath:     sp.p.nodeNormFailuresFile(sourceID, sourceVersion, parsingVersion, compositeVersion),
		SourceEdgesPath:          sp.p.sourceEdgesFile(sourceID, sourceVersion, parsingVersion),
		EdgesOutputPath:          sp.p.normalizedEdgesFile(sourceID, sourceVersion, parsingVersion, compositeVersion),
		EdgeNormPredicateMapPath: sp.p.edgeNormPredicateMapFile(sourceID, sourceVersion, parsingVersion, compositeVersion),
		Scheme:                   scheme,
		DefaultProvenance:        loader.ProvenanceID(),
		PreserveUnconnectedNodes: loader.PreserveUnconnectedNodes(),
	}, nodeN, edgeN, sp.log)

	normalizationInfo, err := fn.NormalizeKGXFiles(ctx)
	if err != nil {
		msg := fmt.Sprintf("%s NormalizationFailedError: %v", sourceID, err)
		sp.log.Error(msg)
		sm.UpdateNormalizationMetadata(parsingVersion, compositeVersion, metadata.Failed, nil, currentTime, msg, "", "", false, false)
		sp.enqueueFailure(ctx, sourceID, "normalization", err, nil)
		return false, nil
	}
	if nodeFailures, _ := normalizationInfo["node_normalization_failures"].(int); nodeFailures > 0 {
		sp.enqueueFailure(ctx, sourceID, "normalization",
			fmt.Errorf("%d node(s) failed to normalize", nodeFailures),
			map[string]any{"parsing_version": parsingVersion, "node_normalization_failures": nodeFailures})
	}
	if edgeFailures, _ := normalizationInfo["edges_failed_due_to_nodes"].(int); edgeFailures > 0 {
		sp.enqueueFailure(ctx, sourceID, "normalization",
			fmt.Errorf("%d edge(s) dropped because an endpoint failed to normalize", edgeFailures),
			map[string]any{"parsing_version": parsingVersion, "edges_failed_due_to_nodes": edgeFailures})
	}
	sm.UpdateNormalizationMetadata(parsingVersion, compositeVersion, metadata.Stable, normalizationInfo, currentTime, "",
		scheme.NodeNormalizationVersion, scheme.EdgeNormalizationVersion, scheme.Strict, scheme.Conflation)
	return true, nil
}

func (sp *SourcePipeline) runSupplementationStage(ctx context.Context, sourceID, sourceVersion, parsingVersion, supplementationVersion string, scheme normalize.Scheme) (bool, error) {
	if supplementationVersion != supplement.Version {
		sp.log.Warnf("supplementation version %s is not supported", supplementationVersion)
		return false, nil
	}
	compositeVersion := scheme.CompositeVersion()
	sm, err := sp.getSourceMetadata(sourceID, sourceVersion)
	if err != nil {
		return false, err
	}
	status := sm.GetSupplementationStatus(parsingVersion, compositeVersion, supplementationVersion)
	switch status {
	case metadata.Stable:
		return true, nil
	case metadata.Failed, metadata.Broken:
		sp.log.Infof("supplementation stage for %s previously failed or was broken", sourceID)
		return false, nil
	case metadata.InProgress:
		sp.log.Infof("supplementation stage for %s is already in progress", sourceID)
		return false, nil
	default:
		return sp.supplementSource(ctx, sourceID, sourceVersion, parsingVersion, supplementationVersion, scheme)
	}
}

func (sp *SourcePipeline) supplementSource(ctx context.Context, sourceID, sourceVersion, parsingVersion, supplementationVersion string, scheme normalize.Scheme) (bool, error) {
	sp.log.Infof("supplementing source %s...", sourceID)
	compositeVersion := scheme.CompositeVersion()
	currentTime := time.Now().Format("01-02-06 15:04:05")
	sm, err := sp.getSourceMetadata(sourceID, sourceVersion)
	if err != nil {
		return false, err
	}
	sm.UpdateSupplementationMetadata(parsingVersion, compositeVersion, supplementationVersion, metadata.InProgress, nil, "", "")

	var supplementationInfo map[string]any
	if sm.HasSequenceVariants(parsingVersion) {
		versionedDir := sp.p.supplementationDir(sourceID, sourceVersion, parsingVersion, compositeVersion, supplementationVersion)
		if err := os.MkdirAll(versionedDir, 0o755); err != nil {
			return false, err
		}

		nodesPath := sp.p.normalizedNodesFile(sourceID, sourceVersion, parsingVersion, compositeVersion)
		suppNodesPath := sp.p.suppNodesFile(sourceID, sourceVersion, parsingVersion, compositeVersion, supplementationVersion)
		suppEdgesPath := sp.p.suppEdgesFile(sourceID, sourceVersion, parsingVersion, compositeVersion, supplementationVersion)

		vs := sp.deps.SupplementerFactory(versionedDir)
		rawInfo, err := vs.FindSupplementalData(ctx, nodesPath, suppNodesPath, suppEdgesPath)
		if err != nil {
			msg := fmt.Sprintf("%s SupplementationFailedError: %v", sourceID, err)
			sp.log.Error(msg)
			sm.UpdateSupplementationMetadata(parsingVersion, compositeVersion, supplementationVersion, metadata.Failed, nil, currentTime, msg)
			sp.enqueueFailure(ctx, sourceID, "supplementation", err, map[string]any{"parsing_version": parsingVersion})
			return false, nil
		}

		variantCount, _ := rawInfo["variant_count"].(int)
		if variantCount > 0 {
			nodeN, edgeN, err := sp.deps.NormalizerFactory(ctx, scheme)
			if err != nil {
				sm.UpdateSupplementationMetadata(parsingVersion, compositeVersion, supplementationVersion, metadata.Failed, nil, currentTime, err.Error())
				sp.enqueueFailure(ctx, sourceID, "supplementation", err, map[string]any{"parsing_version": parsingVersion})
				return false, nil
			}
			fn := fsnormalize.New(fsnormalize.Config{
				SourceNodesPath:          suppNodesPath,
				NodesOutputPath:          sp.p.normalizedSuppNodesFile(sourceID, sourceVersion, parsingVersion, compositeVersion, supplementationVersion),
				NodeNormMapPath:          sp.p.suppNodeNormMapFile(sourceID, sourceVersion, parsingVersion, compositeVersion, supplementationVersion),
				NodeNormFailuresPath:     sp.p.suppNodeNormFailuresFile(sourceID, sourceVersion, parsingVersion, compositeVersion, supplementationVersion),
				SourceEdgesPath:          suppEdgesPath,
				EdgesOutputPath:          sp.p.normalizedSuppEdgesFile(sourceID, sourceVersion, parsingVersion, compositeVersion, supplementationVersion),
				EdgeNormPredicateMapPath: sp.p.suppEdgeNormPredicateMapFile(sourceID, sourceVersion, parsingVersion, compositeVersion, supplementationVersion),
				Scheme:                   scheme,
				DefaultProvenance:        supplement.SnpeffProvenance,
				EdgeSubjectPreNormalized: true,
			}, nodeN, edgeN, sp.log)
			suppNormInfo, err := fn.NormalizeKGXFiles(ctx)
			if err != nil {
				msg := fmt.Sprintf("%s SupplementationFailedError: %v", sourceID, err)
				sp.log.Error(msg)
				sm.UpdateSupplementationMetadata(parsingVersion, compositeVersion, supplementationVersion, metadata.Failed, nil, currentTime, msg)
				sp.enqueueFailure(ctx, sourceID, "supplementation", err, map[string]any{"parsing_version": parsingVersion})
				return false, nil
			}
			rawInfo["supplementation_normalization_info"] = suppNormInfo
		}
		supplementationInfo = rawInfo
	}

	sm.UpdateSupplementationMetadata(parsingVersion, compositeVersion, supplementationVersion, metadata.Stable, supplementationInfo, currentTime, "")
	return true, nil
}

func (sp *SourcePipeline) runQCAndMetadataStage(ctx context.Context, sourceID, sourceVersion, parsingVersion, supplementationVersion string, scheme normalize.Scheme) (string, error) {
	sm, err := sp.getSourceMetadata(sourceID, sourceVersion)
	if err != nil {
		return "", err
	}
	factory, err := sp.loaderFactory(sourceID)
	if err != nil {
		return "", err
	}
	loader := factory(sp.cfg.TestMode, "")
	sourceMetaInformation, err := loader.SourceMetaInformation(ctx)
	if err != nil {
		return "", err
	}

	compositeVersion := scheme.CompositeVersion()
	releaseVersion, err := sm.GenerateReleaseMetadata(parsingVersion, compositeVersion, supplementationVersion, sourceMetaInformation)
	if err != nil {
		return "", err
	}
	sp.log.Infof("release version for %s: %s", sourceID, releaseVersion)

	nodesPath := sp.p.normalizedNodesFile(sourceID, sourceVersion, parsingVersion, compositeVersion)
	edgesPath := sp.p.normalizedEdgesFile(sourceID, sourceVersion, parsingVersion, compositeVersion)
	qcOutputPath := sp.p.releaseQCFile(sourceID, sourceVersion, releaseVersion)

	if _, err := os.Stat(qcOutputPath); os.IsNotExist(err) {
		sp.log.Info("running QC and validation...")
		qcResults, err := sp.deps.Validator.Validate(ctx, nodesPath, edgesPath, sourceID, releaseVersion)
		if err != nil {
			return "", errors.ValidationErrorf("validating %s: %v", sourceID, err)
		}
		data, err := json.MarshalIndent(qcResults, "", "    ")
		if err != nil {
			return "", err
		}
		if err := os.WriteFile(qcOutputPath, data, 0o644); err != nil {
			return "", err
		}
		sp.log.Infof("QC and validation complete, metadata generated: %s", qcOutputPath)
	}
	return releaseVersion, nil
}
