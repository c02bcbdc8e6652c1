package metadata

import (
	"path/filepath"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// ParsingInfo mirrors the per-parsing-version record in
// orion/metadata.py's get_initial_parsing_metadata / update_parsing_metadata.
type ParsingInfo struct {
	Status              Status                        `json:"parsing_status"`
	SourceVersion        string                       `json:"parsing_source_version,omitempty"`
	Info                 map[string]any               `json:"parsing_info,omitempty"`
	Time                 string                        `json:"parsing_time,omitempty"`
	Error                string                        `json:"parsing_error,omitempty"`
	HasSequenceVariants  bool                          `json:"has_sequence_variants"`
	Normalizations       map[string]*NormalizationInfo `json:"normalizations"`
}

// NormalizationInfo mirrors update_normalization_metadata's stored dict.
type NormalizationInfo struct {
	Status                   Status                         `json:"normalization_status"`
	Info                     map[string]any                 `json:"normalization_info,omitempty"`
	Time                     string                          `json:"normalization_time,omitempty"`
	Error                    string                          `json:"normalization_error,omitempty"`
	NodeNormalizationVersion string                          `json:"node_normalization_version,omitempty"`
	EdgeNormalizationVersion string                          `json:"edge_normalization_version,omitempty"`
	Strict                   bool                            `json:"strict_normalization"`
	Conflation               bool                            `json:"conflation"`
	Supplementations         map[string]*SupplementationInfo `json:"supplementations"`
}

// SupplementationInfo mirrors update_supplementation_metadata's stored dict.
type SupplementationInfo struct {
	Status Status          `json:"supplementation_status"`
	Info   map[string]any  `json:"supplementation_info,omitempty"`
	Time   string          `json:"supplementation_time,omitempty"`
	Error  string          `json:"supplementation_error,omitempty"`
}

// ReleaseInfo records a completed release's composite version inputs plus
// whatever source_meta_information the loader reported, matching
// generate_release_metadata in orion/metadata.py.
type ReleaseInfo struct {
	SourceVersion          string         `json:"source_version"`
	ParsingVersion         string         `json:"parsing_version"`
	NormalizationVersion   string         `json:"normalization_version"`
	SupplementationVersion string         `json:"supplementation_version"`
	Extra                  map[string]any `json:"-"`
}

// SourceMetadataDoc is the on-disk JSON shape for a single source_id at a
// single source_version.
type SourceMetadataDoc struct {
	SourceID     string                  `json:"source_id"`
	SourceVersion string                 `json:"source_version"`
	FetchStatus  Status                  `json:"fetch_status"`
	FetchError   string                  `json:"fetch_error,omitempty"`
	Parsings     map[string]*ParsingInfo `json:"parsings"`
	Releases     map[string]ReleaseInfo  `json:"releases,omitempty"`
}

// SourceMetadata is the in-memory handle over a source's metadata file,
// grounded on orion/metadata.py's SourceMetadata class.
type SourceMetadata struct {
	store store
	Doc   SourceMetadataDoc
}

// NewSourceMetadata loads (or initializes) the metadata document for
// source_id/source_version stored under sourceStorageDir, matching
// SourceMetadata.__init__.
func NewSourceMetadata(sourceID, sourceVersion, sourceStorageDir string) (*SourceMetadata, error) {
	sm := &SourceMetadata{
		store: store{path: filepath.Join(sourceStorageDir, sourceID+".meta.json")},
	}
	if err := sm.store.load(&sm.Doc); err != nil {
		return nil, err
	}
	if sm.Doc.SourceID == "" {
		sm.Doc = SourceMetadataDoc{
			SourceID:      sourceID,
			SourceVersion: sourceVersion,
			FetchStatus:   NotStarted,
			Parsings:      map[string]*ParsingInfo{},
		}
	}
	return sm, nil
}

func (sm *SourceMetadata) save() error { return sm.store.save(&sm.Doc) }

func (sm *SourceMetadata) SetFetchStatus(status Status) error {
	sm.Doc.FetchStatus = status
	return sm.save()
}

func (sm *SourceMetadata) GetFetchStatus() Status { return sm.Doc.FetchStatus }

func (sm *SourceMetadata) SetFetchError(msg string) error {
	sm.Doc.FetchError = msg
	return sm.save()
}

func (sm *SourceMetadata) initialParsingInfo() *ParsingInfo {
	return &ParsingInfo{Status: NotStarted, Normalizations: map[string]*NormalizationInfo{}}
}

// UpdateParsingMetadata mirrors update_parsing_metadata: any non-zero field
// supplied is written, others left as-is.
func (sm *SourceMetadata) UpdateParsingMetadata(parsingVersion string, status Status, sourceVersion string, info map[string]any, parseTime, parseErr string, hasSequenceVariants *bool) error {
	pi, ok := sm.Doc.Parsings[parsingVersion]
	if !ok {
		pi = sm.initialParsingInfo()
		sm.Doc.Parsings[parsingVersion] = pi
	}
	if status != "" {
		pi.Status = status
	}
	if sourceVersion != "" {
		pi.SourceVersion = sourceVersion
	}
	if info != nil {
		pi.Info = info
	}
	if parseErr != "" {
		pi.Error = parseErr
	}
	if parseTime != "" {
		pi.Time = parseTime
	}
	if hasSequenceVariants != nil {
		pi.HasSequenceVariants = *hasSequenceVariants
	}
	return sm.save()
}

func (sm *SourceMetadata) GetParsingStatus(parsingVersion string) Status {
	if pi, ok := sm.Doc.Parsings[parsingVersion]; ok {
		return pi.Status
	}
	return NotStarted
}

func (sm *SourceMetadata) HasSequenceVariants(parsingVersion string) bool {
	if pi, ok := sm.Doc.Parsings[parsingVersion]; ok {
		return pi.HasSequenceVariants
	}
	return false
}

func (sm *SourceMetadata) normalization(parsingVersion, normalizationVersion string) *NormalizationInfo {
	pi := sm.Doc.Parsings[parsingVersion]
	ni, ok := pi.Normalizations[normalizationVersion]
	if !ok {
		ni = &NormalizationInfo{Status: NotStarted, Supplementations: map[string]*SupplementationInfo{}}
		pi.Normalizations[normalizationVersion] = ni
	}
	return ni
}

// UpdateNormalizationMetadata mirrors update_normalization_metadata.
func (sm *SourceMetadata) UpdateNormalizationMetadata(parsingVersion, normalizationVersion string, status Status, info map[string]any, normTime, normErr string, nodeVersion, edgeVersion string, strict, conflation bool) error {
	ni := sm.normalization(parsingVersion, normalizationVersion)
	if status != "" {
		ni.Status = status
	}
	if info != nil {
		ni.Info = info
	}
	if normTime != "" {
		ni.Time = normTime
	}
	if normErr != "" {
		ni.Error = normErr
	}
	if nodeVersion != "" {
		ni.NodeNormalizationVersion = nodeVersion
		ni.EdgeNormalizationVersion = edgeVersion
		ni.Strict = strict
		ni.Conflation = conflation
	}
	return sm.save()
}

func (sm *SourceMetadata) GetNormalizationStatus(parsingVersion, normalizationVersion string) Status {
	pi, ok := sm.Doc.Parsings[parsingVersion]
	if !ok {
		return NotStarted
	}
	if ni, ok := pi.Normalizations[normalizationVersion]; ok {
		return ni.Status
	}
	return NotStarted
}

// UpdateSupplementationMetadata mirrors update_supplementation_metadata.
func (sm *SourceMetadata) UpdateSupplementationMetadata(parsingVersion, normalizationVersion, supplementationVersion string, status Status, info map[string]any, suppTime, suppErr string) error {
	ni := sm.normalization(parsingVersion, normalizationVersion)
	si, ok := ni.Supplementations[supplementationVersion]
	if !ok {
		si = &SupplementationInfo{Status: NotStarted}
		ni.Supplementations[supplementationVersion] = si
	}
	if status != "" {
		si.Status = status
	}
	if info != nil {
		si.Info = info
	}
	if suppTime != "" {
		si.Time = suppTime
	}
	if suppErr != "" {
		si.Error = suppErr
	}
	return sm.save()
}

func (sm *SourceMetadata) GetSupplementationStatus(parsingVersion, normalizationVersion, supplementationVersion string) Status {
	pi, ok := sm.Doc.Parsings[parsingVersion]
	if !ok {
		return NotStarted
	}
	ni, ok := pi.Normalizations[normalizationVersion]
	if !ok {
		return NotStarted
	}
	if si, ok := ni.Supplementations[supplementationVersion]; ok {
		return si.Status
	}
	return NotStarted
}

// HasSupplementalData mirrors has_supplemental_data: true only if the
// supplementation produced at least one normalized edge.
func (sm *SourceMetadata) HasSupplementalData(parsingVersion, normalizationVersion, supplementationVersion string) bool {
	pi, ok := sm.Doc.Parsings[parsingVersion]
	if !ok {
		return false
	}
	ni, ok := pi.Normalizations[normalizationVersion]
	if !ok {
		return false
	}
	si, ok := ni.Supplementations[supplementationVersion]
	if !ok || si.Info == nil {
		return false
	}
	normInfo, ok := si.Info["supplementation_normalization_info"].(map[string]any)
	if !ok {
		return false
	}
	switch count := normInfo["final_normalized_edges"].(type) {
	case float64:
		return count > 0
	case int:
		return count > 0
	default:
		return false
	}
}

// GenerateReleaseMetadata computes and records the release version for this
// source at the given parsing/normalization/supplementation versions,
// mirroring generate_release_metadata.
func (sm *SourceMetadata) GenerateReleaseMetadata(parsingVersion, normalizationVersion, supplementationVersion string, sourceMetaInformation map[string]any) (string, error) {
	if sm.Doc.Releases == nil {
		sm.Doc.Releases = map[string]ReleaseInfo{}
	}
	releaseVersion := GetSourceReleaseVersion(sm.Doc.SourceID, sm.Doc.SourceVersion, parsingVersion, normalizationVersion, supplementationVersion)
	ri, ok := sm.Doc.Releases[releaseVersion]
	if !ok {
		ri = ReleaseInfo{
			SourceVersion:          sm.Doc.SourceVersion,
			ParsingVersion:         parsingVersion,
			NormalizationVersion:   normalizationVersion,
			SupplementationVersion: supplementationVersion,
		}
	}
	ri.Extra = sourceMetaInformation
	sm.Doc.Releases[releaseVersion] = ri
	if err := sm.save(); err != nil {
		return "", err
	}
	return releaseVersion, nil
}

// GetSourceReleaseVersion computes the deterministic release version hash,
// the exact formula from get_source_release_version in orion/metadata.py.
func GetSourceReleaseVersion(sourceID, sourceVersion, parsingVersion, normalizationVersion, supplementationVersion string) string {
	releaseString := strings.Join([]string{sourceID, sourceVersion, parsingVersion, normalizationVersion, supplementationVersion}, "_")
	return formatXXHash(xxhash.Sum64String(releaseString))
}

func formatXXHash(sum uint64) string {
	const hexDigits = "0123456789abcdef"
	buf := make([]byte, 16)
	for i := 15; i >= 0; i-- {
		buf[i] = hexDigits[sum&0xf]
		sum >>= 4
	}
	return string(buf)
}
