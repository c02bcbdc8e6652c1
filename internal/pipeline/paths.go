package pipeline

import (
	"fmt"
	"path/filepath"
)

// paths computes the on-disk layout for one source/version's working
// directories and files, mirroring the get_*_path methods on
// orion/load_manager.py's SourceDataManager.
type paths struct {
	storageDir string
}

func (p paths) sourceVersionDir(sourceID, sourceVersion string) string {
	return filepath.Join(p.storageDir, sourceID, sourceVersion)
}

func (p paths) sourceDir(sourceID string) string {
	return filepath.Join(p.storageDir, sourceID)
}

func (p paths) parsingDir(sourceID, sourceVersion, parsingVersion string) string {
	return filepath.Join(p.sourceVersionDir(sourceID, sourceVersion), fmt.Sprintf("parsed_%s", parsingVersion))
}

func (p paths) sourceNodesFile(sourceID, sourceVersion, parsingVersion string) string {
	return filepath.Join(p.parsingDir(sourceID, sourceVersion, parsingVersion), "source_nodes.jsonl")
}

func (p paths) sourceEdgesFile(sourceID, sourceVersion, parsingVersion string) string {
	return filepath.Join(p.parsingDir(sourceID, sourceVersion, parsingVersion), "source_edges.jsonl")
}

func (p paths) normalizationDir(sourceID, sourceVersion, parsingVersion, normVersion string) string {
	return filepath.Join(p.parsingDir(sourceID, sourceVersion, parsingVersion), fmt.Sprintf("normalized_%s", normVersion))
}

func (p paths) normalizedNodesFile(sourceID, sourceVersion, parsingVersion, normVersion string) string {
	return filepath.Join(p.normalizationDir(sourceID, sourceVersion, parsingVersion, normVersion), "normalized_nodes.jsonl")
}

func (p paths) nodeNormMapFile(sourceID, sourceVersion, parsingVersion, normVersion string) string {
	return filepath.Join(p.normalizationDir(sourceID, sourceVersion, parsingVersion, normVersion), "norm_node_map.json")
}

func (p paths) nodeNormFailuresFile(sourceID, sourceVersion, parsingVersion, normVersion string) string {
	return filepath.Join(p.normalizationDir(sourceID, sourceVersion, parsingVersion, normVersion), "norm_node_failures.log")
}

func (p paths) normalizedEdgesFile(sourceID, sourceVersion, parsingVersion, normVersion string) string {
	return filepath.Join(p.normalizationDir(sourceID, sourceVersion, parsingVersion, normVersion), "normalized_edges.jsonl")
}

func (p paths) edgeNormPredicateMapFile(sourceID, sourceVersion, parsingVersion, normVersion string) string {
	return filepath.Join(p.normalizationDir(sourceID, sourceVersion, parsingVersion, normVersion), "norm_predicate_map.json")
}

func (p paths) supplementationDir(sourceID, sourceVersion, parsingVersion, normVersion, suppVersion string) string {
	return filepath.Join(p.normalizationDir(sourceID, sourceVersion, parsingVersion, normVersion), fmt.Sprintf("supplemental_%s", suppVersion))
}

func (p paths) suppNodesFile(sourceID, sourceVersion, parsingVersion, normVersion, suppVersion string) string {
	return filepath.Join(p.supplementationDir(sourceID, sourceVersion, parsingVersion, normVersion, suppVersion), "supp_nodes.jsonl")
}

func (p paths) suppEdgesFile(sourceID, sourceVersion, parsingVersion, normVersion, suppVersion string) string {
	return filepath.Join(p.supplementationDir(sourceID, sourceVersion, parsingVersion, normVersion, suppVersion), "supp_edges.jsonl")
}

func (p paths) normalizedSuppNodesFile(sourceID, sourceVersion, parsingVersion, normVersion, suppVersion string) string {
	return filepath.Join(p.supplementationDir(sourceID, sourceVersion, parsingVersion, normVersion, suppVersion), "supp_norm_nodes.jsonl")
}

func (p paths) suppNodeNormMapFile(sourceID, sourceVersion, parsingVersion, normVersion, suppVersion string) string {
	return filepath.Join(p.supplementationDir(sourceID, sourceVersion, parsingVersion, normVersion, suppVersion), "supp_norm_node_map.json")
}

func (p paths) suppNodeNormFailuresFile(sourceID, sourceVersion, parsingVersion, normVersion, suppVersion string) string {
	return filepath.Join(p.supplementationDir(sourceID, sourceVersion, parsingVersion, normVersion, suppVersion), "supp_norm_node_failures.log")
}

func (p paths) normalizedSuppEdgesFile(sourceID, sourceVersion, parsingVersion, normVersion, suppVersion string) string {
	return filepath.Join(p.supplementationDir(sourceID, sourceVersion, parsingVersion, normVersion, suppVersion), "supp_norm_edges.jsonl")
}

func (p paths) suppEdgeNormPredicateMapFile(sourceID, sourceVersion, parsingVersion, normVersion, suppVersion string) string {
	return filepath.Join(p.supplementationDir(sourceID, sourceVersion, parsingVersion, normVersion, suppVersion), "supp_norm_predicate_map.json")
}

func (p paths) releaseQCFile(sourceID, sourceVersion, releaseVersion string) string {
	return filepath.Join(p.sourceVersionDir(sourceID, sourceVersion), fmt.Sprintf("%s_%s.json", sourceID, releaseVersion))
}
