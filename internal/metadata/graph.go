package metadata

import "path/filepath"

// GraphSourceInfo records one source or subgraph entry in a graph's
// metadata, matching the per-entry dicts GraphMetadata.set_build_info
// cross-references against by release_version.
type GraphSourceInfo struct {
	SourceID      string `json:"source_id"`
	ReleaseVersion string `json:"release_version,omitempty"`
	Version       string `json:"version,omitempty"`
	BuildStatus   Status `json:"build_status,omitempty"`
	BuildError    string `json:"build_error,omitempty"`
	BuildTime     string `json:"build_time,omitempty"`
	BuildInfo     map[string]any `json:"build_info,omitempty"`
}

// GraphMetadataDoc is the on-disk JSON shape for one graph_id, mirroring
// GraphMetadata's constructor fields in orion/metadata.py.
type GraphMetadataDoc struct {
	GraphID          string            `json:"graph_id"`
	GraphName        string            `json:"graph_name,omitempty"`
	GraphDescription string            `json:"graph_description,omitempty"`
	GraphURL         string            `json:"graph_url,omitempty"`
	GraphVersion     string            `json:"graph_version,omitempty"`
	BuildStatus      Status            `json:"build_status"`
	BuildTime        string            `json:"build_time,omitempty"`
	BuildError       string            `json:"build_error,omitempty"`
	Sources          []GraphSourceInfo `json:"sources"`
	Subgraphs        []GraphSourceInfo `json:"subgraphs"`
}

// GraphMetadata is the in-memory handle over a graph's metadata file,
// grounded on orion/metadata.py's GraphMetadata class.
type GraphMetadata struct {
	store store
	Doc   GraphMetadataDoc
}

// NewGraphMetadata loads (or initializes) the metadata document for
// graph_id under graphStorageDir.
func NewGraphMetadata(graphID, graphStorageDir string) (*GraphMetadata, error) {
	gm := &GraphMetadata{
		store: store{path: filepath.Join(graphStorageDir, graphID+".meta.json")},
	}
	if err := gm.store.load(&gm.Doc); err != nil {
		return nil, err
	}
	if gm.Doc.GraphID == "" {
		gm.Doc = GraphMetadataDoc{GraphID: graphID, BuildStatus: NotStarted}
	}
	return gm, nil
}

func (gm *GraphMetadata) save() error { return gm.store.save(&gm.Doc) }

// SetGraphInfo records the static descriptive fields from a GraphSpec,
// matching the constructor arguments GraphMetadata is built with.
func (gm *GraphMetadata) SetGraphInfo(name, description, url string) error {
	gm.Doc.GraphName = name
	gm.Doc.GraphDescription = description
	gm.Doc.GraphURL = url
	return gm.save()
}

func (gm *GraphMetadata) SetGraphVersion(version string) error {
	gm.Doc.GraphVersion = version
	return gm.save()
}

func (gm *GraphMetadata) SetBuildStatus(status Status, buildTime, buildErr string) error {
	gm.Doc.BuildStatus = status
	if buildTime != "" {
		gm.Doc.BuildTime = buildTime
	}
	if buildErr != "" {
		gm.Doc.BuildError = buildErr
	}
	return gm.save()
}

// SetSourceEntry upserts a source's entry by source_id, matching how
// GraphSpec.sources entries get their build_info attached.
func (gm *GraphMetadata) SetSourceEntry(entry GraphSourceInfo) error {
	for i := range gm.Doc.Sources {
		if gm.Doc.Sources[i].SourceID == entry.SourceID {
			gm.Doc.Sources[i] = entry
			return gm.save()
		}
	}
	gm.Doc.Sources = append(gm.Doc.Sources, entry)
	return gm.save()
}

// SetSubgraphEntry upserts a subgraph's entry by source_id (subgraph id).
func (gm *GraphMetadata) SetSubgraphEntry(entry GraphSourceInfo) error {
	for i := range gm.Doc.Subgraphs {
		if gm.Doc.Subgraphs[i].SourceID == entry.SourceID {
			gm.Doc.Subgraphs[i] = entry
			return gm.save()
		}
	}
	gm.Doc.Subgraphs = append(gm.Doc.Subgraphs, entry)
	return gm.save()
}

// SetBuildInfo cross-references a completed source build's release
// information into its matching sources[] entry by release_version,
// mirroring set_build_info in orion/metadata.py.
func (gm *GraphMetadata) SetBuildInfo(releaseVersion string, buildInfo map[string]any, buildStatus Status, buildTime, buildErr string) bool {
	for i := range gm.Doc.Sources {
		if gm.Doc.Sources[i].ReleaseVersion == releaseVersion {
			gm.Doc.Sources[i].BuildInfo = buildInfo
			gm.Doc.Sources[i].BuildStatus = buildStatus
			if buildTime != "" {
				gm.Doc.Sources[i].BuildTime = buildTime
			}
			if buildErr != "" {
				gm.Doc.Sources[i].BuildError = buildErr
			}
			_ = gm.save()
			return true
		}
	}
	return false
}

// GetSourceIDs returns the source_ids of every declared source entry.
func (gm *GraphMetadata) GetSourceIDs() []string {
	ids := make([]string, len(gm.Doc.Sources))
	for i, s := range gm.Doc.Sources {
		ids[i] = s.SourceID
	}
	return ids
}

// AllSourcesBuilt reports whether every declared source and subgraph has
// reached a terminal successful build status.
func (gm *GraphMetadata) AllSourcesBuilt() bool {
	for _, s := range gm.Doc.Sources {
		if s.BuildStatus != Stable {
			return false
		}
	}
	for _, s := range gm.Doc.Subgraphs {
		if s.BuildStatus != Stable {
			return false
		}
	}
	return true
}
