// Package build implements GraphBuilder: resolving a graph spec's
// dependencies (subgraphs and data sources), merging them into one KGX
// graph, and tracking build status so a build can resume after a crash.
// Grounded in full on orion/build_manager.py's GraphBuilder.
package build

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"encoding/json"

	"github.com/cespare/xxhash/v2"
	"github.com/mrudd/kgbuild/internal/errors"
	"github.com/mrudd/kgbuild/internal/graphspec"
	"github.com/mrudd/kgbuild/internal/logging"
	"github.com/mrudd/kgbuild/internal/merge"
	"github.com/mrudd/kgbuild/internal/metadata"
	"github.com/mrudd/kgbuild/internal/normalize"
	"github.com/sirupsen/logrus"
)

const (
	nodesFilename = "nodes.jsonl"
	edgesFilename = "edges.jsonl"
)

// SourceRunner runs one data source's pipeline and reports back the final
// file paths and release metadata a finished build contributes, matching
// the slice of SourceDataManager that GraphBuilder calls into.
type SourceRunner interface {
	Run(ctx context.Context, sourceID, sourceVersion, parsingVersion string, scheme normalize.Scheme, supplementationVersion string) (string, error)
	GetLatestSourceVersion(ctx context.Context, sourceID string) (string, error)
	ReleaseInfo(sourceID, sourceVersion, releaseVersion string) (*metadata.ReleaseInfo, error)
	FinalFilePaths(sourceID, sourceVersion, parsingVersion string, scheme normalize.Scheme, supplementationVersion string) ([]string, error)
}

// Validator runs the QC pass over a finished graph's merged files, matching
// validate_graph's graph-level entry point (the same contract
// internal/pipeline.Validator uses for a single source's files).
type Validator interface {
	Validate(ctx context.Context, nodesPath, edgesPath, graphID, graphVersion string) (map[string]any, error)
}

// Config locates a GraphBuilder's working directories.
type Config struct {
	// GraphsDir is the root directory under which every graph_id/version
	// is built, matching ORION_GRAPHS.
	GraphsDir string
}

// Dependencies wires in the collaborators GraphBuilder orchestrates.
type Dependencies struct {
	Sources   SourceRunner
	Validator Validator
}

// GraphBuilder resolves a GraphSpec's dependencies and merges them into a
// single graph, matching orion/build_manager.py's GraphBuilder class.
type GraphBuilder struct {
	cfg  Config
	deps Dependencies

	// specs holds every known graph spec by graph_id, including ones only
	// reachable as another graph's subgraph, matching self.graph_specs.
	specs map[string]*graphspec.GraphSpec
}

func New(cfg Config, deps Dependencies, specs map[string]*graphspec.GraphSpec) *GraphBuilder {
	return &GraphBuilder{cfg: cfg, deps: deps, specs: specs}
}

// GraphDir returns the output directory for one graph_id/version.
func (gb *GraphBuilder) GraphDir(graphID, graphVersion string) string {
	return filepath.Join(gb.cfg.GraphsDir, graphID, graphVersion)
}

func (gb *GraphBuilder) graphMetadata(graphID, graphVersion string) (*metadata.GraphMetadata, error) {
	dir := gb.GraphDir(graphID, graphVersion)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return metadata.NewGraphMetadata(graphID, dir)
}

func checkForExistingGraphDir(dir string) bool {
	info, err := os.Stat(dir)
	return err == nil && info.IsDir()
}

// Build builds graphSpec's graph: determines its version, checks for a
// previous build, resolves and builds its dependencies, merges sources, and
// runs QC, matching GraphBuilder.build_graph.
func (gb *GraphBuilder) Build(ctx context.Context, spec *graphspec.GraphSpec) (string, error) {
	log := graphLogger(spec.GraphID)
	log.Infof("building graph %s...", spec.GraphID)

	graphVersion, err := gb.DetermineGraphVersion(ctx, spec)
	if err != nil {
		return "", err
	}
	graphDir := gb.GraphDir(spec.GraphID, graphVersion)
	gm, err := gb.graphMetadata(spec.GraphID, graphVersion)
	if err != nil {
		return "", err
	}

	switch gm.Doc.BuildStatus {
	case metadata.InProgress:
		log.Infof("graph %s version %s has status: in progress. It may already be building, or a prior "+
			"build failed uncleanly and needs manual cleanup.", spec.GraphID, graphVersion)
		return "", errors.MergeErrorf("graph %s version %s build is already in progress", spec.GraphID, graphVersion)
	case metadata.Broken, metadata.Failed:
		log.Infof("graph %s version %s previously failed to build, skipping", spec.GraphID, graphVersion)
		return "", errors.MergeErrorf("graph %s version %s previously failed to build", spec.GraphID, graphVersion)
	case metadata.Stable:
		log.Infof("graph %s version %s was already built", spec.GraphID, graphVersion)
	default:
		log.Infof("building graph %s version %s, checking dependencies...", spec.GraphID, graphVersion)
		if err := gb.buildDependencies(ctx, spec); err != nil {
			log.Warnf("aborting graph %s version %s, building dependencies failed: %v", spec.GraphID, graphVersion, err)
			return "", err
		}

		log.Infof("building graph %s version %s, dependencies ready, merging sources...", spec.GraphID, graphVersion)
		if err := gm.SetBuildStatus(metadata.InProgress, "", ""); err != nil {
			return "", err
		}
		if err := gm.SetGraphVersion(graphVersion); err != nil {
			return "", err
		}
		if err := gm.SetGraphInfo(spec.GraphName, spec.GraphDescription, spec.GraphURL); err != nil {
			return "", err
		}
		for _, s := range spec.Sources {
			gm.SetSourceEntry(metadata.GraphSourceInfo{SourceID: s.ID, ReleaseVersion: s.Version(), Version: s.Version()})
		}
		for _, sg := range spec.Subgraphs {
			gm.SetSubgraphEntry(metadata.GraphSourceInfo{SourceID: sg.ID, Version: sg.Version()})
		}

		mergeSpec := toMergeSpec(spec)
		fm, err := merge.NewFileMerger(mergeSpec, graphDir, nodesFilename, edgesFilename, log)
		if err != nil {
			return "", err
		}
		mergeErr := fm.Merge()
		mergeMetadata := fm.GetMergeMetadata()

		currentTime := time.Now().Format("01-02-06 15:04:05")
		if mergeErr != nil {
			gm.SetBuildStatus(metadata.Failed, currentTime, mergeMetadata.MergeError)
			log.Errorf("merge error occurred while building graph %s: %v", spec.GraphID, mergeErr)
			return "", mergeErr
		}

		for _, s := range spec.Sources {
			gm.SetBuildInfo(s.Version(), mergeSourceInfo(mergeMetadata, s.ID), metadata.Stable, currentTime, "")
		}
		if err := gm.SetBuildStatus(metadata.Stable, currentTime, ""); err != nil {
			return "", err
		}
		log.Infof("building graph %s complete", spec.GraphID)
	}

	nodesPath := filepath.Join(graphDir, nodesFilename)
	edgesPath := filepath.Join(graphDir, edgesFilename)
	if !gb.hasQC(graphDir) {
		log.Infof("running QC for graph %s...", spec.GraphID)
		qcResults, err := gb.deps.Validator.Validate(ctx, nodesPath, edgesPath, spec.GraphID, graphVersion)
		if err != nil {
			return "", errors.ValidationErrorf("validating graph %s: %v", spec.GraphID, err)
		}
		if err := gb.writeQCResults(graphDir, qcResults); err != nil {
			return "", err
		}
		if passed, _ := qcResults["pass"].(bool); passed {
			log.Infof("QC passed for graph %s", spec.GraphID)
		} else {
			log.Warnf("QC failed for graph %s", spec.GraphID)
		}
	}

	return graphVersion, nil
}

func mergeSourceInfo(m merge.Metadata, sourceID string) map[string]any {
	if info, ok := m.Sources[sourceID]; ok {
		return info
	}
	return map[string]any{}
}

const qcResultsFilename = "qc_results.json"

func (gb *GraphBuilder) hasQC(graphDir string) bool {
	_, err := os.Stat(filepath.Join(graphDir, qcResultsFilename))
	return err == nil
}

func (gb *GraphBuilder) writeQCResults(graphDir string, results map[string]any) error {
	return writeJSON(filepath.Join(graphDir, qcResultsFilename), results)
}

// DetermineGraphVersion resolves every source and subgraph version this
// graph depends on, then derives a composite graph version, matching
// determine_graph_version.
func (gb *GraphBuilder) DetermineGraphVersion(ctx context.Context, spec *graphspec.GraphSpec) (string, error) {
	if spec.GraphVersion != "" {
		return spec.GraphVersion, nil
	}

	for _, source := range spec.Sources {
		if source.SourceVersion == "" {
			v, err := gb.deps.Sources.GetLatestSourceVersion(ctx, source.ID)
			if err != nil {
				return "", errors.DataVersionErrorf("resolving latest version for %s: %v", source.ID, err)
			}
			source.SourceVersion = v
		}
	}

	for _, subgraph := range spec.Subgraphs {
		if subgraph.GraphVersion == "" {
			subSpec, ok := gb.specs[subgraph.ID]
			if !ok {
				return "", errors.GraphSpecErrorf(
					"subgraph %s requested for graph %s but no version was specified and no graph spec exists to determine one",
					subgraph.ID, spec.GraphID)
			}
			v, err := gb.DetermineGraphVersion(ctx, subSpec)
			if err != nil {
				return "", err
			}
			subgraph.GraphVersion = v
		}
	}

	var parts []string
	for _, source := range spec.Sources {
		parts = append(parts, versionPart(source.Version(), source.MergeStrategy))
	}
	for _, subgraph := range spec.Subgraphs {
		parts = append(parts, versionPart(subgraph.Version(), subgraph.MergeStrategy))
	}
	composite := strings.Join(parts, "_")
	graphVersion := fmt.Sprintf("%016x", xxhash.Sum64String(composite))
	spec.GraphVersion = graphVersion
	return graphVersion, nil
}

func versionPart(version, mergeStrategy string) string {
	if mergeStrategy != "" {
		return version + "_" + mergeStrategy
	}
	return version
}

// buildDependencies makes sure every subgraph and data source this graph
// depends on is built, populating each source's FilePaths, matching
// build_dependencies.
func (gb *GraphBuilder) buildDependencies(ctx context.Context, spec *graphspec.GraphSpec) error {
	log := graphLogger(spec.GraphID)

	for _, subgraph := range spec.Subgraphs {
		subgraphDir := gb.GraphDir(subgraph.ID, subgraph.GraphVersion)
		if !checkForExistingGraphDir(subgraphDir) {
			subSpec, ok := gb.specs[subgraph.ID]
			if !ok {
				return errors.GraphSpecErrorf(
					"subgraph %s version %s requested for graph %s but not found and could not be built without a graph spec",
					subgraph.ID, subgraph.GraphVersion, spec.GraphID)
			}
			if subSpec.GraphVersion != subgraph.GraphVersion {
				return errors.GraphSpecErrorf(
					"subgraph %s version %s was specified, but the current spec resolves to version %s; "+
						"build that version first or drop the subgraph version pin", subgraph.ID, subgraph.GraphVersion, subSpec.GraphVersion)
			}
			log.Warnf("graph %s, subgraph dependency %s is not ready, building now", spec.GraphID, subgraph.ID)
			if _, err := gb.Build(ctx, subSpec); err != nil {
				return err
			}
		}

		subgraphMeta, err := gb.graphMetadata(subgraph.ID, subgraph.GraphVersion)
		if err != nil {
			return err
		}
		subgraph.GraphMetadata = subgraphMeta
		if subgraphMeta.Doc.BuildStatus != metadata.Stable {
			return errors.MergeErrorf("dependency subgraph %s version %s was not built successfully", subgraph.ID, subgraph.GraphVersion)
		}
		subgraph.FilePaths = []string{
			filepath.Join(subgraphDir, nodesFilename),
			filepath.Join(subgraphDir, edgesFilename),
		}
	}

	for _, source := range spec.Sources {
		releaseVersion := source.Version()
		if releaseVersion == "" {
			return errors.GraphSpecErrorf("source %s has no resolved version", source.ID)
		}
		releaseInfo, err := gb.deps.Sources.ReleaseInfo(source.ID, source.SourceVersion, releaseVersion)
		if err != nil {
			return err
		}
		if releaseInfo == nil {
			log.Infof("graph %s, dependency %s is not ready, building now", spec.GraphID, source.ID)
			if _, err := gb.deps.Sources.Run(ctx, source.ID, source.SourceVersion, source.ParsingVersion,
				source.NormalizationScheme, source.SupplementationVersion); err != nil {
				return errors.MergeErrorf("data source pipeline failed for dependency %s: %v", source.ID, err)
			}
			releaseInfo, err = gb.deps.Sources.ReleaseInfo(source.ID, source.SourceVersion, releaseVersion)
			if err != nil {
				return err
			}
			if releaseInfo == nil {
				return errors.MergeErrorf("dependency %s did not produce release %s after running", source.ID, releaseVersion)
			}
		}

		source.ReleaseInfo = releaseInfoToMap(releaseInfo)
		paths, err := gb.deps.Sources.FinalFilePaths(source.ID, source.SourceVersion, source.ParsingVersion,
			source.NormalizationScheme, source.SupplementationVersion)
		if err != nil {
			return err
		}
		source.FilePaths = paths
	}
	return nil
}

func releaseInfoToMap(ri *metadata.ReleaseInfo) map[string]any {
	m := map[string]any{
		"source_version":          ri.SourceVersion,
		"parsing_version":         ri.ParsingVersion,
		"normalization_version":   ri.NormalizationVersion,
		"supplementation_version": ri.SupplementationVersion,
	}
	for k, v := range ri.Extra {
		m[k] = v
	}
	return m
}

func toMergeSpec(spec *graphspec.GraphSpec) merge.Spec {
	sources := make([]merge.Source, 0, len(spec.Sources)+len(spec.Subgraphs))
	for _, s := range spec.Sources {
		sources = append(sources, merge.Source{
			ID:                    s.ID,
			Version:               s.Version(),
			NodeFilePaths:         s.NodeFilePaths(),
			EdgeFilePaths:         s.EdgeFilePaths(),
			MergeStrategy:         s.MergeStrategy,
			EdgeMergingAttributes: s.EdgeMergingAttributes,
			EdgeIDAddition:        s.EdgeIDAddition,
			UseDiskMerge:          s.UseDiskMerge,
		})
	}
	for _, sg := range spec.Subgraphs {
		sources = append(sources, merge.Source{
			ID:            sg.ID,
			Version:       sg.Version(),
			NodeFilePaths: sg.NodeFilePaths(),
			EdgeFilePaths: sg.EdgeFilePaths(),
			MergeStrategy: sg.MergeStrategy,
			UseDiskMerge:  sg.UseDiskMerge,
		})
	}
	return merge.Spec{GraphID: spec.GraphID, Sources: sources}
}

func graphLogger(graphID string) *logrus.Entry {
	return logging.ForGraph(graphID)
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// sortedGraphIDs returns the graph IDs of specs in sorted order. Nothing in
// this module calls it.
func sortedGraphIDs(specs map[string]*graphspec.GraphSpec) []string {
	ids := make([]string, 0, len(specs))
	for id := range specs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
