package main

import (
	"fmt"
	"path/filepath"

	"github.com/mrudd/kgbuild/internal/build"
	"github.com/mrudd/kgbuild/internal/graphspec"
	"github.com/mrudd/kgbuild/internal/logging"
	"github.com/mrudd/kgbuild/internal/pipeline"
	"github.com/mrudd/kgbuild/internal/supplement"
	"github.com/spf13/cobra"
)

var (
	buildGraphSpecsDir string
	buildStorageDir    string
)

var buildCmd = &cobra.Command{
	Use:   "build <graph_id|all>",
	Short: "Build one or every graph defined under the graph specs directory",
	Long: `build resolves a graph's data source and subgraph dependencies,
building any that are not already up to date, merges them into a single
KGX graph, and runs the QC pass. Pass "all" to build every graph found in
the graph specs directory.`,
	Args: cobra.ExactArgs(1),
	RunE: runBuild,
}

func init() {
	buildCmd.Flags().StringVar(&buildGraphSpecsDir, "graph-specs-dir", "", "directory of graph spec YAML files (default: config graph_specs_dir)")
	buildCmd.Flags().StringVar(&buildStorageDir, "storage-dir", "", "directory holding per-source pipeline state and built graphs (default: config storage_dir)")
}

func runBuild(cmd *cobra.Command, args []string) error {
	target := args[0]
	ctx := cmd.Context()

	specsDir := buildGraphSpecsDir
	if specsDir == "" {
		specsDir = cfg.GraphSpecsDir
	}
	storageDir := buildStorageDir
	if storageDir == "" {
		storageDir = cfg.StorageDir
	}
	// Built graphs live in a "graphs" subdirectory of the storage root,
	// keeping per-source pipeline state (keyed by source_id) and
	// per-graph state (keyed by graph_id) from colliding in one flat
	// directory.
	graphsDir := filepath.Join(storageDir, "graphs")

	log := logging.ForGraph(target)
	sp := newPipeline(storageDir, cfg.TestMode, false, log)
	runner := &pipelineSourceRunner{sp: sp, loaders: pipeline.LoaderRegistry{}}

	versions := graphspec.LatestVersionLookup{
		ParsingVersion:           runner.latestParsingVersion,
		NodeNormalizationVersion: func() string { return defaultNodeNormalizationVersion },
		EdgeNormalizationVersion: edgeNormalizationVersion(ctx, log),
		SupplementationVersion:   supplement.Version,
	}

	specs, err := loadGraphSpecs(specsDir, nil, versions)
	if err != nil {
		return err
	}

	var graphIDs []string
	if target == "all" {
		graphIDs = sortedSpecIDs(specs)
		if len(graphIDs) == 0 {
			return fmt.Errorf("no graph specs found under %s", specsDir)
		}
	} else {
		if _, ok := specs[target]; !ok {
			return fmt.Errorf("graph %q was not found under %s", target, specsDir)
		}
		graphIDs = []string{target}
	}

	gb := build.New(build.Config{GraphsDir: graphsDir}, build.Dependencies{
		Sources:   runner,
		Validator: newValidator(),
	}, specs)

	for _, graphID := range graphIDs {
		graphVersion, err := gb.Build(ctx, specs[graphID])
		if err != nil {
			return fmt.Errorf("building graph %s: %w", graphID, err)
		}
		fmt.Printf("%s\t%s\n", graphID, graphVersion)
	}
	return nil
}
