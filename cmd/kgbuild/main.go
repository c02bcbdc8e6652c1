// Command kgbuild runs the knowledge graph build pipeline: per-source
// fetch/parse/normalize/supplement, graph-level dependency resolution and
// merging, and standalone QC validation. Grounded on cmd/crisk/main.go's
// cobra root command and PersistentPreRun pattern.
package main

import (
	"fmt"
	"os"

	"github.com/mrudd/kgbuild/internal/config"
	"github.com/mrudd/kgbuild/internal/logging"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	// Version information (set by build flags)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	cfgFile string
	verbose bool
	cfg     *config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "kgbuild",
	Short: "kgbuild builds and validates biomedical knowledge graphs",
	Long: `kgbuild runs the per-source build pipeline (fetch, parse, normalize,
supplement) and the graph-level merge and QC pass that turns a set of
data sources into a versioned KGX knowledge graph.`,
	Version: Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		var loadErr error
		cfg, loadErr = config.Load(cfgFile)
		if loadErr != nil {
			cfg = config.Default()
		}

		logLevel := logrus.InfoLevel
		if verbose {
			logLevel = logrus.DebugLevel
		}
		logCfg := logging.DefaultConfig()
		logCfg.Level = logLevel
		if cfg.LogsDir != "" {
			logCfg.OutputFile = cfg.LogsDir + "/kgbuild.log"
		}
		if err := logging.Initialize(logCfg); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to initialize logging: %v\n", err)
		}
		if loadErr != nil {
			logging.Get().WithError(loadErr).Warn("failed to load config, using defaults")
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: .kgbuild/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.SetVersionTemplate(`kgbuild {{.Version}}
Build time: ` + BuildTime + `
Git commit: ` + GitCommit + `
`)

	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(sourceCmd)
	rootCmd.AddCommand(validateCmd)
}
