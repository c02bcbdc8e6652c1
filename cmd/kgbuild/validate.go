package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/mrudd/kgbuild/internal/validate"
	"github.com/spf13/cobra"
)

var (
	validateGraphID      string
	validateGraphVersion string
)

var validateCmd = &cobra.Command{
	Use:   "validate <nodes.jsonl> <edges.jsonl>",
	Short: "Run the QC pass over a pair of KGX node/edge files",
	Long: `validate runs the same QC pass a graph build runs after merging,
against a standalone nodes/edges file pair, and prints the resulting QC
report as JSON on stdout.`,
	Args: cobra.ExactArgs(2),
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().StringVar(&validateGraphID, "graph-id", "", "graph id recorded in the QC report (required)")
	validateCmd.Flags().StringVar(&validateGraphVersion, "graph-version", "", "graph version recorded in the QC report (required)")
	validateCmd.MarkFlagRequired("graph-id")
	validateCmd.MarkFlagRequired("graph-version")
}

func runValidate(cmd *cobra.Command, args []string) error {
	nodesPath, edgesPath := args[0], args[1]

	v := newValidator()
	result, err := v.Validate(cmd.Context(), nodesPath, edgesPath, validateGraphID, validateGraphVersion)
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "    ")
	return enc.Encode(result)
}

// newValidator builds a Validator against the static oracle
// implementations: no biolink-model-toolkit or infores registry client is
// wired into this codebase, so every node type, edge shape, and knowledge
// source identifier is treated as valid. Swapping in real oracles only
// requires a new BiolinkTypes/InforesRegistry implementation; Validator
// itself does not change.
func newValidator() *validate.Validator {
	return validate.New(validate.Config{SaveInvalidEdges: false}, validate.StaticBiolinkTypes{}, validate.StaticInforesRegistry{})
}
