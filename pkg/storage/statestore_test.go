package storage

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStateStore(t *testing.T) *BoltStateStore {
	t.Helper()
	store, err := NewBoltStateStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestGetMissingKey(t *testing.T) {
	store := newTestStateStore(t)

	_, found, err := store.Get("missing")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestApplyBatchWritesEntryAndAppliedIndex(t *testing.T) {
	store := newTestStateStore(t)

	err := store.ApplyBatch(Batch{
		Mutation:     &Mutation{Key: "k1", Entry: Entry{Value: []byte("v1"), Revision: 1}},
		AppliedIndex: 5,
	})
	require.NoError(t, err)

	entry, found, err := store.Get("k1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("v1"), entry.Value)
	assert.EqualValues(t, 1, entry.Revision)
	assert.False(t, entry.Deleted)

	index, err := store.AppliedIndex()
	require.NoError(t, err)
	assert.EqualValues(t, 5, index)
}

func TestApplyBatchTombstoneKeepsRevision(t *testing.T) {
	store := newTestStateStore(t)

	require.NoError(t, store.ApplyBatch(Batch{
		Mutation:     &Mutation{Key: "k1", Entry: Entry{Value: []byte("v1"), Revision: 1}},
		AppliedIndex: 1,
	}))
	require.NoError(t, store.ApplyBatch(Batch{
		Mutation:     &Mutation{Key: "k1", Entry: Entry{Revision: 1, Deleted: true}},
		AppliedIndex: 2,
	}))

	entry, found, err := store.Get("k1")
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, entry.Deleted)
	assert.EqualValues(t, 1, entry.Revision)
}

func TestDedupMatchesOnlyExactSeq(t *testing.T) {
	store := newTestStateStore(t)

	require.NoError(t, store.ApplyBatch(Batch{
		HasDedup:      true,
		DedupClientID: 42,
		DedupSeqID:    7,
		DedupResponse: []byte("cached"),
		AppliedIndex:  1,
	}))

	resp, ok, err := store.Dedup(42, 7)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("cached"), resp)

	_, ok, err = store.Dedup(42, 8)
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = store.Dedup(99, 7)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	src := newTestStateStore(t)

	require.NoError(t, src.ApplyBatch(Batch{
		Mutation:     &Mutation{Key: "k1", Entry: Entry{Value: []byte("v1"), Revision: 1}},
		AppliedIndex: 3,
	}))
	require.NoError(t, src.ApplyBatch(Batch{
		Mutation:      &Mutation{Key: "k2", Entry: Entry{Value: []byte("v2"), Revision: 4}},
		HasDedup:      true,
		DedupClientID: 1,
		DedupSeqID:    2,
		DedupResponse: []byte("r"),
		AppliedIndex:  4,
	}))

	var buf bytes.Buffer
	require.NoError(t, src.Snapshot(&buf))

	dst := newTestStateStore(t)
	require.NoError(t, dst.Restore(&buf))

	index, err := dst.AppliedIndex()
	require.NoError(t, err)
	assert.EqualValues(t, 4, index)

	e1, found, err := dst.Get("k1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("v1"), e1.Value)

	e2, found, err := dst.Get("k2")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("v2"), e2.Value)

	resp, ok, err := dst.Dedup(1, 2)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("r"), resp)
}
