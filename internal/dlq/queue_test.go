package dlq

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnqueueAppendsAndIncrementsRetryCount(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dlq.jsonl")
	q := NewQueue(path, nil)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "ctd", "edge_normalization", errors.New("timeout"), nil))
	require.NoError(t, q.Enqueue(ctx, "ctd", "edge_normalization", errors.New("timeout again"), nil))

	entries, err := q.Entries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, 0, entries[0].RetryCount)
	assert.Equal(t, 1, entries[1].RetryCount)
	assert.NotEqual(t, entries[0].ID, entries[1].ID)
}

func TestPendingRetriesReturnsOnlyUnderMaxRetries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dlq.jsonl")
	q := NewQueue(path, nil)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		require.NoError(t, q.Enqueue(ctx, "ctd", "edge_normalization", errors.New("boom"), nil))
	}
	require.NoError(t, q.Enqueue(ctx, "hgnc", "supplementation", errors.New("boom"), nil))

	pending, err := q.PendingRetries(ctx, 3)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "hgnc", pending[0].SourceID)
}

func TestRecentFailuresOrdersMostRecentFirstAndRespectsLimit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dlq.jsonl")
	q := NewQueue(path, nil)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "a", "node_normalization", errors.New("e1"), nil))
	require.NoError(t, q.Enqueue(ctx, "b", "node_normalization", errors.New("e2"), nil))
	require.NoError(t, q.Enqueue(ctx, "c", "node_normalization", errors.New("e3"), nil))

	recent, err := q.RecentFailures(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "c", recent[0].SourceID)
	assert.Equal(t, "b", recent[1].SourceID)
}

func TestEntriesOnMissingFileReturnsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist.jsonl")
	q := NewQueue(path, nil)
	entries, err := q.Entries(context.Background())
	require.NoError(t, err)
	assert.Empty(t, entries)
}
