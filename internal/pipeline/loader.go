package pipeline

import "context"

// SourceLoader is implemented once per data source. It mirrors the
// attributes and methods orion/loader_interface.py's SourceDataLoader
// expects concrete parsers to provide: version discovery, data retrieval,
// and parsing into KGX node/edge files.
type SourceLoader interface {
	// GetLatestSourceVersion determines the identifier of the newest
	// available version of this source's upstream data.
	GetLatestSourceVersion(ctx context.Context) (string, error)

	// NeedsDataDownload reports whether the source's raw data still needs
	// to be fetched into its working directory.
	NeedsDataDownload() bool

	// GetData retrieves the source's raw data into its working directory.
	GetData(ctx context.Context) error

	// Load parses previously-fetched raw data into the given KGX node and
	// edge output files, returning parsing metadata (record counts, error
	// samples) matching the shape of load_metadata in
	// SourceDataLoader.load.
	Load(ctx context.Context, nodesOutputPath, edgesOutputPath string) (map[string]any, error)

	// ParsingVersion identifies this parser's logic; bump it whenever the
	// parsing behavior changes incompatibly.
	ParsingVersion() string

	// ProvenanceID is the infores identifier attached as the default
	// primary_knowledge_source for edges this source emits without one.
	ProvenanceID() string

	// PreserveUnconnectedNodes reports whether FileNormalizer should skip
	// the unconnected-node removal pass for this source.
	PreserveUnconnectedNodes() bool

	// HasSequenceVariants reports whether the most recent parse produced
	// sequence variant nodes, gating the supplementation stage.
	HasSequenceVariants() bool

	// SourceMetaInformation returns descriptive metadata about the source
	// (URL, license, attribution, etc.) recorded into the release metadata
	// at QC time.
	SourceMetaInformation(ctx context.Context) (map[string]any, error)
}

// LoaderFactory constructs a SourceLoader for one source, scoped to a
// specific working directory and test-mode flag, mirroring how
// SOURCE_DATA_LOADER_CLASSES[source_id](test_mode=..., source_data_dir=...)
// instantiates a parser in load_manager.py.
type LoaderFactory func(testMode bool, sourceDataDir string) SourceLoader

// LoaderRegistry maps a source_id to its loader constructor, the Go
// equivalent of SourceDataLoaderClassFactory's lookup dict.
type LoaderRegistry map[string]LoaderFactory
