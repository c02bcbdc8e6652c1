package pipeline

import (
	"context"

	"github.com/mrudd/kgbuild/internal/metadata"
	"github.com/mrudd/kgbuild/internal/normalize"
)

// GetLatestSourceVersion exposes the memoized latest-version lookup for
// callers outside the pipeline stage loop, matching how
// GraphBuilder.determine_graph_version calls
// SourceDataManager.get_latest_source_version directly.
func (sp *SourcePipeline) GetLatestSourceVersion(ctx context.Context, sourceID string) (string, error) {
	return sp.getLatestSourceVersion(ctx, sourceID, 0)
}

// GetLatestParsingVersion exposes the memoized parser-version lookup.
func (sp *SourcePipeline) GetLatestParsingVersion(sourceID string) string {
	return sp.getLatestParsingVersion(sourceID)
}

// ReleaseInfo returns the recorded release metadata for sourceID/sourceVersion
// at releaseVersion, or nil if that release has not been built yet, matching
// SourceMetadata.get_release_info.
func (sp *SourcePipeline) ReleaseInfo(sourceID, sourceVersion, releaseVersion string) (*metadata.ReleaseInfo, error) {
	sm, err := sp.getSourceMetadata(sourceID, sourceVersion)
	if err != nil {
		return nil, err
	}
	if ri, ok := sm.Doc.Releases[releaseVersion]; ok {
		return &ri, nil
	}
	return nil, nil
}

// FinalFilePaths returns the node/edge file paths a finished source build
// contributes to a graph merge: the normalized files, plus the normalized
// supplemental files when the supplementation stage produced any, matching
// SourceDataManager.get_final_file_paths.
func (sp *SourcePipeline) FinalFilePaths(sourceID, sourceVersion, parsingVersion string, scheme normalize.Scheme, supplementationVersion string) ([]string, error) {
	compositeVersion := scheme.CompositeVersion()
	sm, err := sp.getSourceMetadata(sourceID, sourceVersion)
	if err != nil {
		return nil, err
	}

	paths := []string{
		sp.p.normalizedNodesFile(sourceID, sourceVersion, parsingVersion, compositeVersion),
		sp.p.normalizedEdgesFile(sourceID, sourceVersion, parsingVersion, compositeVersion),
	}
	if sm.HasSupplementalData(parsingVersion, compositeVersion, supplementationVersion) {
		paths = append(paths,
			sp.p.normalizedSuppNodesFile(sourceID, sourceVersion, parsingVersion, compositeVersion, supplementationVersion),
			sp.p.normalizedSuppEdgesFile(sourceID, sourceVersion, parsingVersion, compositeVersion, supplementationVersion),
		)
	}
	return paths, nil
}
