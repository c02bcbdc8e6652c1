package normcache

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutGetRoundTrip(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(filepath.Join(dir, "norm.db"))
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Put("v1", "MESH:D003920", Entry{NormalizedIDs: []string{"MONDO:0005148"}}))

	got, ok := c.Get("v1", "MESH:D003920")
	require.True(t, ok)
	assert.Equal(t, []string{"MONDO:0005148"}, got.NormalizedIDs)

	_, ok = c.Get("v1", "MESH:unknown")
	assert.False(t, ok)
}

func TestEntriesAreIsolatedByVersion(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(filepath.Join(dir, "norm.db"))
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Put("v1", "MESH:D003920", Entry{NormalizedIDs: []string{"MONDO:0005148"}}))
	_, ok := c.Get("v2", "MESH:D003920")
	assert.False(t, ok)
}

func TestMissingFromReturnsOnlyUncachedCuries(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(filepath.Join(dir, "norm.db"))
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Put("v1", "HGNC:1100", Entry{NormalizedIDs: []string{"HGNC:1100"}}))
	missing := c.MissingFrom("v1", []string{"HGNC:1100", "HGNC:9999"})
	assert.Equal(t, []string{"HGNC:9999"}, missing)
}

func TestPutBatchWritesAllEntries(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(filepath.Join(dir, "norm.db"))
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.PutBatch("v1", map[string]Entry{
		"HGNC:1":    {NormalizedIDs: []string{"HGNC:1"}},
		"HGNC:2":    {NormalizedIDs: []string{"HGNC:2"}},
		"HGNC:fail": {NormalizedIDs: nil},
	}))

	got, ok := c.Get("v1", "HGNC:fail")
	require.True(t, ok)
	assert.Nil(t, got.NormalizedIDs)
}
