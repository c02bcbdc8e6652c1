// Package normalize calls the external node and edge normalization
// services and rewrites KGX node/edge records with canonical identifiers
// and predicates. Grounded on orion/normalization.py.
package normalize

const (
	// CodeVersion tracks changes to the normalization logic itself,
	// independent of the remote services' own versions, matching
	// NORMALIZATION_CODE_VERSION in orion/normalization.py.
	CodeVersion = "1.4"

	// CustomNodeTypes holds biolink-invalid categories demoted to a
	// property when strict normalization is off.
	CustomNodeTypes = "custom_node_types"

	// FallbackEdgePredicate is used when a predicate fails to normalize.
	FallbackEdgePredicate = "biolink:related_to"
)

// Scheme mirrors NormalizationScheme: the versions and flags that
// together determine a reproducible composite normalization version.
type Scheme struct {
	NodeNormalizationVersion string
	EdgeNormalizationVersion string
	NormalizationCodeVersion string
	Strict                   bool
	Conflation               bool
}

// DefaultScheme returns the scheme used when a GraphSpec/source does not
// override normalization settings.
func DefaultScheme() Scheme {
	return Scheme{
		NodeNormalizationVersion: "latest",
		EdgeNormalizationVersion: "latest",
		NormalizationCodeVersion: CodeVersion,
		Strict:                   true,
		Conflation:               false,
	}
}

// CompositeVersion computes the composite_normalization_version string
// used as a cache-dir component and metadata key, matching
// get_composite_normalization_version.
func (s Scheme) CompositeVersion() string {
	v := s.NodeNormalizationVersion + "_" + s.EdgeNormalizationVersion + "_" + s.NormalizationCodeVersion
	if s.Conflation {
		v += "_conflated"
	}
	if s.Strict {
		v += "_strict"
	}
	return v
}

// MetadataRepresentation returns the fields recorded into a source's
// normalization metadata entry.
func (s Scheme) MetadataRepresentation() map[string]any {
	return map[string]any{
		"node_normalization_version": s.NodeNormalizationVersion,
		"edge_normalization_version": s.EdgeNormalizationVersion,
		"normalization_code_version": s.NormalizationCodeVersion,
		"conflation":                 s.Conflation,
		"strict":                     s.Strict,
	}
}
