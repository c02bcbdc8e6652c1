package main

import (
	"fmt"

	"github.com/mrudd/kgbuild/internal/logging"
	"github.com/mrudd/kgbuild/internal/normalize"
	"github.com/mrudd/kgbuild/internal/pipeline"
	"github.com/mrudd/kgbuild/internal/supplement"
	"github.com/spf13/cobra"
)

var (
	sourceVersionFlag    string
	parsingVersionFlag   string
	lenientNormalization bool
	freshStart           bool
)

var sourceCmd = &cobra.Command{
	Use:   "source <source_id>",
	Short: "Run the fetch/parse/normalize/supplement pipeline for one data source",
	Long: `source runs a single data source through the resumable build
pipeline: fetch, parse, normalize, and supplement, printing the resulting
release version on success.`,
	Args: cobra.ExactArgs(1),
	RunE: runSource,
}

func init() {
	sourceCmd.Flags().StringVar(&sourceVersionFlag, "source-version", "latest", "source version to build (default: latest)")
	sourceCmd.Flags().StringVar(&parsingVersionFlag, "parsing-version", "latest", "parser version to build (default: latest)")
	sourceCmd.Flags().BoolVar(&lenientNormalization, "lenient-normalization", false, "demote biolink-invalid node types to a property instead of failing strict normalization")
	sourceCmd.Flags().BoolVar(&freshStart, "fresh-start", false, "record fresh start mode in the pipeline config; no stage reads it, so previously recorded stage status is still honored")
}

func runSource(cmd *cobra.Command, args []string) error {
	sourceID := args[0]
	ctx := cmd.Context()

	log := logging.ForSource(sourceID)
	sp := newPipeline(cfg.StorageDir, cfg.TestMode, freshStart, log)
	runner := &pipelineSourceRunner{sp: sp, loaders: pipeline.LoaderRegistry{}}
	if err := runner.requireLoader(sourceID); err != nil {
		return err
	}

	scheme := normalize.DefaultScheme()
	scheme.Strict = !lenientNormalization
	scheme.EdgeNormalizationVersion = edgeNormalizationVersion(ctx, log)()
	scheme.NodeNormalizationVersion = defaultNodeNormalizationVersion

	release, err := sp.Run(ctx, sourceID, sourceVersionFlag, parsingVersionFlag, scheme, supplement.Version)
	if err != nil {
		return fmt.Errorf("running pipeline for %s: %w", sourceID, err)
	}
	if release == "" {
		return fmt.Errorf("pipeline for %s did not complete (a stage is already in progress or previously failed)", sourceID)
	}

	fmt.Printf("%s\t%s\n", sourceID, release)
	return nil
}
