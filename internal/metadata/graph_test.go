package metadata

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewGraphMetadataInitializesFresh(t *testing.T) {
	dir := t.TempDir()
	gm, err := NewGraphMetadata("robokop", dir)
	require.NoError(t, err)
	assert.Equal(t, NotStarted, gm.Doc.BuildStatus)
	assert.Empty(t, gm.Doc.Sources)
}

func TestSetSourceEntryUpsertsByID(t *testing.T) {
	dir := t.TempDir()
	gm, err := NewGraphMetadata("robokop", dir)
	require.NoError(t, err)

	require.NoError(t, gm.SetSourceEntry(GraphSourceInfo{SourceID: "ctd", ReleaseVersion: "abc"}))
	require.NoError(t, gm.SetSourceEntry(GraphSourceInfo{SourceID: "ctd", ReleaseVersion: "def"}))
	require.Len(t, gm.Doc.Sources, 1)
	assert.Equal(t, "def", gm.Doc.Sources[0].ReleaseVersion)
}

func TestSetBuildInfoCrossReferencesByReleaseVersion(t *testing.T) {
	dir := t.TempDir()
	gm, err := NewGraphMetadata("robokop", dir)
	require.NoError(t, err)
	require.NoError(t, gm.SetSourceEntry(GraphSourceInfo{SourceID: "ctd", ReleaseVersion: "abc123"}))

	ok := gm.SetBuildInfo("abc123", map[string]any{"nodes": float64(100)}, Stable, "2024-01-01T00:00:00Z", "")
	assert.True(t, ok)
	assert.Equal(t, Stable, gm.Doc.Sources[0].BuildStatus)

	missing := gm.SetBuildInfo("doesnotexist", nil, Stable, "", "")
	assert.False(t, missing)
}

func TestAllSourcesBuiltRequiresEveryEntryStable(t *testing.T) {
	dir := t.TempDir()
	gm, err := NewGraphMetadata("robokop", dir)
	require.NoError(t, err)
	require.NoError(t, gm.SetSourceEntry(GraphSourceInfo{SourceID: "ctd", BuildStatus: Stable}))
	require.NoError(t, gm.SetSourceEntry(GraphSourceInfo{SourceID: "hgnc", BuildStatus: InProgress}))

	assert.False(t, gm.AllSourcesBuilt())

	require.NoError(t, gm.SetSourceEntry(GraphSourceInfo{SourceID: "hgnc", BuildStatus: Stable}))
	assert.True(t, gm.AllSourcesBuilt())
}
