package metadata

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSourceMetadataInitializesFresh(t *testing.T) {
	dir := t.TempDir()
	sm, err := NewSourceMetadata("ctd", "2024-01-01", dir)
	require.NoError(t, err)
	assert.Equal(t, NotStarted, sm.GetFetchStatus())
	assert.Empty(t, sm.Doc.Parsings)
}

func TestSourceMetadataPersistsAcrossLoads(t *testing.T) {
	dir := t.TempDir()
	sm, err := NewSourceMetadata("ctd", "2024-01-01", dir)
	require.NoError(t, err)
	require.NoError(t, sm.SetFetchStatus(Stable))

	reloaded, err := NewSourceMetadata("ctd", "2024-01-01", dir)
	require.NoError(t, err)
	assert.Equal(t, Stable, reloaded.GetFetchStatus())
}

func TestUpdateParsingMetadataTracksStageTree(t *testing.T) {
	dir := t.TempDir()
	sm, err := NewSourceMetadata("ctd", "v1", dir)
	require.NoError(t, err)

	hasSV := true
	require.NoError(t, sm.UpdateParsingMetadata("p1", InProgress, "v1", nil, "", "", &hasSV))
	assert.Equal(t, InProgress, sm.GetParsingStatus("p1"))
	assert.True(t, sm.HasSequenceVariants("p1"))

	require.NoError(t, sm.UpdateNormalizationMetadata("p1", "n1", Stable, nil, "", "", "nodeV", "edgeV", false, false))
	assert.Equal(t, Stable, sm.GetNormalizationStatus("p1", "n1"))

	require.NoError(t, sm.UpdateSupplementationMetadata("p1", "n1", "s1", Stable, map[string]any{
		"supplementation_normalization_info": map[string]any{"final_normalized_edges": float64(5)},
	}, "", ""))
	assert.Equal(t, Stable, sm.GetSupplementationStatus("p1", "n1", "s1"))
	assert.True(t, sm.HasSupplementalData("p1", "n1", "s1"))
}

func TestGetSourceReleaseVersionDeterministic(t *testing.T) {
	a := GetSourceReleaseVersion("ctd", "v1", "p1", "n1", "s1")
	b := GetSourceReleaseVersion("ctd", "v1", "p1", "n1", "s1")
	c := GetSourceReleaseVersion("ctd", "v2", "p1", "n1", "s1")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 16)
}

func TestGenerateReleaseMetadataCaches(t *testing.T) {
	dir := t.TempDir()
	sm, err := NewSourceMetadata("ctd", "v1", dir)
	require.NoError(t, err)

	v1, err := sm.GenerateReleaseMetadata("p1", "n1", "s1", map[string]any{"count": float64(10)})
	require.NoError(t, err)
	assert.NotEmpty(t, v1)

	v2, err := sm.GenerateReleaseMetadata("p1", "n1", "s1", map[string]any{"count": float64(10)})
	require.NoError(t, err)
	assert.Equal(t, v1, v2)
	assert.Len(t, sm.Doc.Releases, 1)
}
