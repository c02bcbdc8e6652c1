// Package graphspec models a graph build request: the data sources and
// subgraphs to merge together, and the version bookkeeping needed to make a
// build reproducible and resumable. Grounded in full on orion/kgxmodel.py.
package graphspec

import (
	"github.com/mrudd/kgbuild/internal/metadata"
	"github.com/mrudd/kgbuild/internal/normalize"
)

// VersionedSource is the common surface DetermineGraphVersion needs from
// both a data source and a subgraph entry, matching how GraphSource's
// generate_version/merge_strategy are consumed polymorphically in
// orion/build_manager.py's determine_graph_version.
type VersionedSource interface {
	SourceID() string
	Version() string
	Strategy() string
}

// DataSource is one upstream data source contributing to a graph, grounded
// on the DataSource dataclass in orion/kgxmodel.py.
type DataSource struct {
	ID                     string
	SourceVersion          string
	ParsingVersion         string
	SupplementationVersion string
	MergeStrategy          string
	EdgeMergingAttributes  []string
	EdgeIDAddition         bool
	NormalizationScheme    normalize.Scheme
	ReleaseInfo            map[string]any
	FilePaths              []string

	// UseDiskMerge requests the disk-spilling merge backend for this
	// source's contribution, matching RESOURCE_HOGS in
	// orion/load_manager.py but applied uniformly to both node and edge
	// merging instead of edges only.
	UseDiskMerge bool
}

func (d *DataSource) SourceID() string { return d.ID }
func (d *DataSource) Strategy() string { return d.MergeStrategy }

// Version lazily computes the release version once SourceVersion has been
// resolved, matching DataSource.generate_version: it intentionally returns
// "" (the Go analog of None) until the source version is known, so callers
// can tell "not yet resolved" apart from "resolved, no release yet".
func (d *DataSource) Version() string {
	if d.SourceVersion == "" {
		return ""
	}
	return metadata.GetSourceReleaseVersion(d.ID, d.SourceVersion, d.ParsingVersion,
		d.NormalizationScheme.CompositeVersion(), d.SupplementationVersion)
}

// MetadataRepresentation mirrors DataSource.get_metadata_representation,
// the dict recorded into a graph's metadata entry for this source.
func (d *DataSource) MetadataRepresentation() map[string]any {
	rep := map[string]any{
		"source_id":               d.ID,
		"source_version":          d.SourceVersion,
		"parsing_version":         d.ParsingVersion,
		"supplementation_version": d.SupplementationVersion,
		"normalization_scheme":    d.NormalizationScheme.MetadataRepresentation(),
		"release_version":         d.Version(),
		"merge_strategy":          d.MergeStrategy,
		"edge_merging_attributes": d.EdgeMergingAttributes,
		"edge_id_addition":        d.EdgeIDAddition,
	}
	for k, v := range d.ReleaseInfo {
		rep[k] = v
	}
	return rep
}

// NodeFilePaths returns the subset of FilePaths that hold node records,
// matching GraphSource.get_node_file_paths's substring-filter convention.
func (d *DataSource) NodeFilePaths() []string { return filterPaths(d.FilePaths, "node") }

// EdgeFilePaths returns the subset of FilePaths that hold edge records.
func (d *DataSource) EdgeFilePaths() []string { return filterPaths(d.FilePaths, "edge") }

// SubGraphSource references another graph, already built or about to be, as
// an input to this one. Grounded on SubGraphSource in orion/kgxmodel.py.
type SubGraphSource struct {
	ID            string
	GraphVersion  string
	MergeStrategy string
	GraphMetadata *metadata.GraphMetadata
	FilePaths     []string
	UseDiskMerge  bool
}

func (s *SubGraphSource) SourceID() string { return s.ID }
func (s *SubGraphSource) Strategy() string { return s.MergeStrategy }

// Version returns the subgraph's resolved graph version, matching
// SubGraphSource.generate_version (a direct passthrough of graph_version).
func (s *SubGraphSource) Version() string { return s.GraphVersion }

// MetadataRepresentation mirrors SubGraphSource.get_metadata_representation.
func (s *SubGraphSource) MetadataRepresentation() map[string]any {
	var subMeta *metadata.GraphMetadataDoc
	if s.GraphMetadata != nil {
		subMeta = &s.GraphMetadata.Doc
	}
	return map[string]any{
		"graph_id":       s.ID,
		"graph_version":  s.GraphVersion,
		"merge_strategy": s.MergeStrategy,
		"graph_metadata": subMeta,
	}
}

func (s *SubGraphSource) NodeFilePaths() []string { return filterPaths(s.FilePaths, "node") }
func (s *SubGraphSource) EdgeFilePaths() []string { return filterPaths(s.FilePaths, "edge") }

func filterPaths(paths []string, substr string) []string {
	var out []string
	for _, p := range paths {
		if containsFold(p, substr) {
			out = append(out, p)
		}
	}
	return out
}

func containsFold(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}

// GraphSpec is one graph's build request: its sources, subgraphs, and
// descriptive metadata. Grounded on the GraphSpec dataclass in
// orion/kgxmodel.py.
type GraphSpec struct {
	GraphID           string
	GraphName         string
	GraphDescription  string
	GraphURL          string
	GraphVersion      string
	GraphOutputFormat string
	Sources           []*DataSource
	Subgraphs         []*SubGraphSource
}

// MetadataRepresentation mirrors GraphSpec.get_metadata_representation.
func (g *GraphSpec) MetadataRepresentation() map[string]any {
	subgraphs := make([]map[string]any, 0, len(g.Subgraphs))
	for _, s := range g.Subgraphs {
		subgraphs = append(subgraphs, s.MetadataRepresentation())
	}
	sources := make([]map[string]any, 0, len(g.Sources))
	for _, s := range g.Sources {
		sources = append(sources, s.MetadataRepresentation())
	}
	return map[string]any{
		"graph_id":          g.GraphID,
		"graph_name":        g.GraphName,
		"graph_description": g.GraphDescription,
		"graph_url":         g.GraphURL,
		"graph_version":     g.GraphVersion,
		"subgraphs":         subgraphs,
		"sources":           sources,
	}
}
