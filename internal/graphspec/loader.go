package graphspec

import (
	"os"

	"github.com/mrudd/kgbuild/internal/errors"
	"github.com/mrudd/kgbuild/internal/normalize"
	"gopkg.in/yaml.v3"
)

// yamlGraphSpecFile is the root document shape of a graph spec file,
// matching the 'graphs:' list parse_graph_spec iterates over.
type yamlGraphSpecFile struct {
	Graphs []yamlGraph `yaml:"graphs"`
}

type yamlGraph struct {
	GraphID                 string           `yaml:"graph_id"`
	GraphName               string           `yaml:"graph_name"`
	GraphDescription        string           `yaml:"graph_description"`
	GraphURL                string           `yaml:"graph_url"`
	OutputFormat            string           `yaml:"output_format"`
	NodeNormalizationVersion string          `yaml:"node_normalization_version"`
	EdgeNormalizationVersion string          `yaml:"edge_normalization_version"`
	Conflation              *bool            `yaml:"conflation"`
	StrictNormalization     *bool            `yaml:"strict_normalization"`
	EdgeMergingAttributes   []string         `yaml:"edge_merging_attributes"`
	EdgeIDAddition          *bool            `yaml:"edge_id_addition"`
	Sources                 []yamlDataSource `yaml:"sources"`
	Subgraphs               []yamlSubgraph   `yaml:"subgraphs"`
}

type yamlDataSource struct {
	SourceID                string   `yaml:"source_id"`
	SourceVersion           string   `yaml:"source_version"`
	ParsingVersion          string   `yaml:"parsing_version"`
	MergeStrategy           string   `yaml:"merge_strategy"`
	NodeNormalizationVersion string  `yaml:"node_normalization_version"`
	EdgeNormalizationVersion string  `yaml:"edge_normalization_version"`
	StrictNormalization     *bool    `yaml:"strict_normalization"`
	Conflation              *bool    `yaml:"conflation"`
	UseDiskMerge            bool     `yaml:"use_disk_merge"`
}

type yamlSubgraph struct {
	GraphID       string `yaml:"graph_id"`
	GraphVersion  string `yaml:"graph_version"`
	MergeStrategy string `yaml:"merge_strategy"`
	UseDiskMerge  bool   `yaml:"use_disk_merge"`
}

// ValidSourceIDs is supplied by the caller so ParseGraphSpecs can reject a
// spec naming an unknown data source, matching parse_data_source_spec's
// check against get_available_data_sources().
type ValidSourceIDs func(sourceID string) bool

// LatestVersionLookup resolves "latest" placeholders eagerly at parse time,
// matching how load_graph_specs calls into SourceDataManager for
// parsing/normalization versions before a build is ever triggered.
type LatestVersionLookup struct {
	ParsingVersion          func(sourceID string) string
	NodeNormalizationVersion func() string
	EdgeNormalizationVersion func() string
	SupplementationVersion  string
}

// LoadFile reads and parses a graph spec YAML file into a graph_id -> spec
// map, matching GraphBuilder.load_graph_specs + parse_graph_spec.
func LoadFile(path string, validSources ValidSourceIDs, versions LatestVersionLookup) (map[string]*GraphSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.GraphSpecErrorf("graph spec could not be found: %v", err)
	}
	return Parse(data, validSources, versions)
}

// Parse parses raw graph spec YAML bytes, matching parse_graph_spec.
func Parse(data []byte, validSources ValidSourceIDs, versions LatestVersionLookup) (map[string]*GraphSpec, error) {
	var doc yamlGraphSpecFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.GraphSpecErrorf("graph spec is not valid yaml: %v", err)
	}

	specs := map[string]*GraphSpec{}
	for _, g := range doc.Graphs {
		if g.GraphID == "" {
			return nil, errors.GraphSpecError("graph spec missing required field: graph_id")
		}

		sources := make([]*DataSource, 0, len(g.Sources))
		for _, s := range g.Sources {
			ds, err := parseDataSource(s, validSources, versions)
			if err != nil {
				return nil, errors.GraphSpecErrorf("%v (in graph %s)", err, g.GraphID)
			}
			sources = append(sources, ds)
		}

		subgraphs := make([]*SubGraphSource, 0, len(g.Subgraphs))
		for _, sg := range g.Subgraphs {
			subgraphs = append(subgraphs, parseSubgraph(sg))
		}

		if len(sources) == 0 && len(subgraphs) == 0 {
			return nil, errors.GraphSpecErrorf("no sources were provided for graph: %s", g.GraphID)
		}

		// graph-wide overrides, applied last so they win over per-source
		// settings, matching parse_graph_spec's loop over data_sources.
		nodeNormVersion := resolveVersion(g.NodeNormalizationVersion, versions.NodeNormalizationVersion)
		edgeNormVersion := resolveVersion(g.EdgeNormalizationVersion, versions.EdgeNormalizationVersion)
		for _, ds := range sources {
			if nodeNormVersion != "" {
				ds.NormalizationScheme.NodeNormalizationVersion = nodeNormVersion
			}
			if edgeNormVersion != "" {
				ds.NormalizationScheme.EdgeNormalizationVersion = edgeNormVersion
			}
			if g.Conflation != nil {
				ds.NormalizationScheme.Conflation = *g.Conflation
			}
			if g.StrictNormalization != nil {
				ds.NormalizationScheme.Strict = *g.StrictNormalization
			}
			if ds.MergeStrategy != "dont_merge_edges" {
				if g.EdgeMergingAttributes != nil {
					ds.EdgeMergingAttributes = g.EdgeMergingAttributes
				}
				if g.EdgeIDAddition != nil {
					ds.EdgeIDAddition = *g.EdgeIDAddition
				}
			}
		}

		specs[g.GraphID] = &GraphSpec{
			GraphID:           g.GraphID,
			GraphName:         g.GraphName,
			GraphDescription:  g.GraphDescription,
			GraphURL:          g.GraphURL,
			GraphOutputFormat: g.OutputFormat,
			Sources:           sources,
			Subgraphs:         subgraphs,
		}
	}
	return specs, nil
}

func resolveVersion(requested string, latest func() string) string {
	if requested == "latest" && latest != nil {
		return latest()
	}
	return requested
}

func parseDataSource(s yamlDataSource, validSources ValidSourceIDs, versions LatestVersionLookup) (*DataSource, error) {
	if s.SourceID == "" {
		return nil, errors.GraphSpecError("graph spec missing required field: source_id")
	}
	if validSources != nil && !validSources(s.SourceID) {
		return nil, errors.GraphSpecErrorf("data source %s is not a valid data source id", s.SourceID)
	}

	mergeStrategy := s.MergeStrategy
	if mergeStrategy == "default" {
		mergeStrategy = ""
	}

	parsingVersion := s.ParsingVersion
	if parsingVersion == "" || parsingVersion == "latest" {
		if versions.ParsingVersion != nil {
			parsingVersion = versions.ParsingVersion(s.SourceID)
		}
	}

	scheme := normalize.DefaultScheme()
	if s.NodeNormalizationVersion != "" {
		scheme.NodeNormalizationVersion = resolveVersion(s.NodeNormalizationVersion, versions.NodeNormalizationVersion)
	} else if versions.NodeNormalizationVersion != nil {
		scheme.NodeNormalizationVersion = versions.NodeNormalizationVersion()
	}
	if s.EdgeNormalizationVersion != "" {
		scheme.EdgeNormalizationVersion = resolveVersion(s.EdgeNormalizationVersion, versions.EdgeNormalizationVersion)
	} else if versions.EdgeNormalizationVersion != nil {
		scheme.EdgeNormalizationVersion = versions.EdgeNormalizationVersion()
	}
	if s.StrictNormalization != nil {
		scheme.Strict = *s.StrictNormalization
	}
	if s.Conflation != nil {
		scheme.Conflation = *s.Conflation
	}

	return &DataSource{
		ID:                     s.SourceID,
		SourceVersion:          s.SourceVersion,
		ParsingVersion:         parsingVersion,
		SupplementationVersion: versions.SupplementationVersion,
		MergeStrategy:          mergeStrategy,
		NormalizationScheme:    scheme,
		UseDiskMerge:           s.UseDiskMerge,
	}, nil
}

func parseSubgraph(sg yamlSubgraph) *SubGraphSource {
	mergeStrategy := sg.MergeStrategy
	if mergeStrategy == "default" {
		mergeStrategy = ""
	}
	return &SubGraphSource{
		ID:            sg.GraphID,
		GraphVersion:  sg.GraphVersion,
		MergeStrategy: mergeStrategy,
		UseDiskMerge:  sg.UseDiskMerge,
	}
}
