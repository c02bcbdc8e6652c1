package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/mrudd/kgbuild/internal/errors"
)

// ValidationResult accumulates configuration problems found by Validate.
type ValidationResult struct {
	Valid    bool
	Errors   []string
	Warnings []string
}

func (vr *ValidationResult) AddError(format string, args ...interface{}) {
	vr.Valid = false
	vr.Errors = append(vr.Errors, fmt.Sprintf(format, args...))
}

func (vr *ValidationResult) AddWarning(format string, args ...interface{}) {
	vr.Warnings = append(vr.Warnings, fmt.Sprintf(format, args...))
}

func (vr *ValidationResult) HasErrors() bool {
	return !vr.Valid || len(vr.Errors) > 0
}

func (vr *ValidationResult) Error() string {
	if !vr.HasErrors() {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("configuration validation failed:\n")
	for _, e := range vr.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", e))
	}
	if len(vr.Warnings) > 0 {
		sb.WriteString("warnings:\n")
		for _, w := range vr.Warnings {
			sb.WriteString(fmt.Sprintf("  - %s\n", w))
		}
	}
	return sb.String()
}

// Validate checks that the configuration is sufficient to run the pipeline,
// matching the ORION_STORAGE-must-be-set-and-valid check in
// SourceDataManager.init_storage_dir.
func (c *Config) Validate() *ValidationResult {
	result := &ValidationResult{Valid: true}

	if c.StorageDir == "" {
		result.AddError("storage_dir is required but not set (env KGBUILD_STORAGE_DIR)")
	}
	if c.GraphSpecsDir == "" {
		result.AddWarning("graph_specs_dir is not set; `build all` will have nothing to discover")
	}
	if c.Normalization.NodeNormURL == "" {
		result.AddError("normalization.node_norm_url is required")
	} else if _, err := url.Parse(c.Normalization.NodeNormURL); err != nil {
		result.AddError("normalization.node_norm_url is invalid: %v", err)
	}
	if c.Normalization.EdgeNormURL == "" {
		result.AddError("normalization.edge_norm_url is required")
	} else if _, err := url.Parse(c.Normalization.EdgeNormURL); err != nil {
		result.AddError("normalization.edge_norm_url is invalid: %v", err)
	}
	if c.Normalization.Concurrency <= 0 {
		result.AddWarning("normalization.concurrency must be positive, defaulting to 1")
	}
	if c.Merge.ChunkSize <= 0 {
		result.AddWarning("merge.chunk_size must be positive")
	}

	return result
}

// ValidateOrError returns a *errors.Error wrapping the validation failures,
// or nil if the configuration is usable.
func (c *Config) ValidateOrError() error {
	result := c.Validate()
	if result.HasErrors() {
		return errors.ConfigurationError(result.Error())
	}
	return nil
}
