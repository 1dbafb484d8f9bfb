package fsm

import (
	"testing"

	"github.com/hashicorp/raft"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/distacean/distacean/pkg/storage"
	"github.com/distacean/distacean/pkg/types"
)

func newTestFSM(t *testing.T) (*DistaceanFSM, storage.StateStore) {
	t.Helper()
	store, err := storage.NewBoltStateStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return NewDistaceanFSM(store), store
}

func applyCommand(t *testing.T, f *DistaceanFSM, index uint64, req types.Request) *ApplyResult {
	t.Helper()
	data := mustJSON(t, req)
	cmd := types.Command{Op: types.CommandApplyKV, Data: data}
	result := f.Apply(&raft.Log{Index: index, Data: mustJSON(t, cmd)})
	r, ok := result.(*ApplyResult)
	require.True(t, ok)
	return r
}

func TestSetThenGetRevision(t *testing.T) {
	f, store := newTestFSM(t)

	r := applyCommand(t, f, 1, types.Request{
		ClientID: 1,
		Op:       types.KVOperation{Kind: types.OpSet, Key: "k", Value: []byte("v1")},
	})
	require.NoError(t, r.Err)
	assert.EqualValues(t, 1, r.Response.Result.Revision)

	entry, found, err := store.Get("k")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("v1"), entry.Value)
}

func TestSetReturnsPreviousValueWhenRequested(t *testing.T) {
	f, _ := newTestFSM(t)

	applyCommand(t, f, 1, types.Request{
		ClientID: 1,
		Op:       types.KVOperation{Kind: types.OpSet, Key: "k", Value: []byte("v1")},
	})
	r := applyCommand(t, f, 2, types.Request{
		ClientID: 1,
		Op:       types.KVOperation{Kind: types.OpSet, Key: "k", Value: []byte("v2"), ReturnPrevious: true},
	})
	require.NoError(t, r.Err)
	assert.Equal(t, []byte("v1"), r.Response.Result.PrevValue)
	assert.EqualValues(t, 2, r.Response.Result.Revision)
}

func TestCasFailureReturnsNoValue(t *testing.T) {
	f, _ := newTestFSM(t)

	applyCommand(t, f, 1, types.Request{
		ClientID: 1,
		Op:       types.KVOperation{Kind: types.OpSet, Key: "k", Value: []byte("v1")},
	})

	r := applyCommand(t, f, 2, types.Request{
		ClientID: 1,
		Op: types.KVOperation{
			Kind: types.OpCas, Key: "k", Value: []byte("v2"),
			ExpectedRevision: 99, ReturnPrevious: true,
		},
	})
	require.NoError(t, r.Err)
	assert.False(t, r.Response.Result.CasSuccess)
	assert.Nil(t, r.Response.Result.PrevValue)
	assert.EqualValues(t, 1, r.Response.Result.Revision)
}

func TestCasSuccessAdvancesRevision(t *testing.T) {
	f, _ := newTestFSM(t)

	applyCommand(t, f, 1, types.Request{
		ClientID: 1,
		Op:       types.KVOperation{Kind: types.OpSet, Key: "k", Value: []byte("v1")},
	})

	r := applyCommand(t, f, 2, types.Request{
		ClientID: 1,
		Op:       types.KVOperation{Kind: types.OpCas, Key: "k", Value: []byte("v2"), ExpectedRevision: 1},
	})
	require.NoError(t, r.Err)
	assert.True(t, r.Response.Result.CasSuccess)
	assert.EqualValues(t, 2, r.Response.Result.Revision)
}

func TestDeleteThenRecreateRevisionNeverResets(t *testing.T) {
	f, _ := newTestFSM(t)

	applyCommand(t, f, 1, types.Request{
		ClientID: 1,
		Op:       types.KVOperation{Kind: types.OpSet, Key: "k", Value: []byte("v1")},
	})
	del := applyCommand(t, f, 2, types.Request{
		ClientID: 1,
		Op:       types.KVOperation{Kind: types.OpDel, Key: "k"},
	})
	require.NoError(t, del.Err)
	assert.True(t, del.Response.Result.Existed)

	recreate := applyCommand(t, f, 3, types.Request{
		ClientID: 1,
		Op:       types.KVOperation{Kind: types.OpSet, Key: "k", Value: []byte("v2")},
	})
	require.NoError(t, recreate.Err)
	assert.EqualValues(t, 2, recreate.Response.Result.Revision)
}

func TestCasWithExpectedRevisionZeroSucceedsOnAbsentKey(t *testing.T) {
	f, _ := newTestFSM(t)

	r := applyCommand(t, f, 1, types.Request{
		ClientID: 1,
		Op:       types.KVOperation{Kind: types.OpCas, Key: "k", Value: []byte("v1"), ExpectedRevision: 0},
	})
	require.NoError(t, r.Err)
	assert.True(t, r.Response.Result.CasSuccess)
	assert.EqualValues(t, 1, r.Response.Result.Revision)
}

func TestCasWithExpectedRevisionZeroFailsOnLiveKey(t *testing.T) {
	f, _ := newTestFSM(t)

	applyCommand(t, f, 1, types.Request{
		ClientID: 1,
		Op:       types.KVOperation{Kind: types.OpSet, Key: "k", Value: []byte("v1")},
	})

	r := applyCommand(t, f, 2, types.Request{
		ClientID: 1,
		Op:       types.KVOperation{Kind: types.OpCas, Key: "k", Value: []byte("v2"), ExpectedRevision: 0},
	})
	require.NoError(t, r.Err)
	assert.False(t, r.Response.Result.CasSuccess)
	assert.EqualValues(t, 1, r.Response.Result.Revision)
}

func TestCasWithExpectedRevisionZeroSucceedsAfterDelete(t *testing.T) {
	f, _ := newTestFSM(t)

	applyCommand(t, f, 1, types.Request{
		ClientID: 1,
		Op:       types.KVOperation{Kind: types.OpSet, Key: "b", Value: []byte{0xAA}},
	})
	cas1 := applyCommand(t, f, 2, types.Request{
		ClientID: 1,
		Op:       types.KVOperation{Kind: types.OpCas, Key: "b", Value: []byte{0xBB}, ExpectedRevision: 1},
	})
	require.NoError(t, cas1.Err)
	require.True(t, cas1.Response.Result.CasSuccess)
	require.EqualValues(t, 2, cas1.Response.Result.Revision)

	del := applyCommand(t, f, 3, types.Request{
		ClientID: 1,
		Op:       types.KVOperation{Kind: types.OpDel, Key: "b"},
	})
	require.NoError(t, del.Err)
	require.True(t, del.Response.Result.Existed)

	cas2 := applyCommand(t, f, 4, types.Request{
		ClientID: 1,
		Op:       types.KVOperation{Kind: types.OpCas, Key: "b", Value: []byte{0xDD}, ExpectedRevision: 0},
	})
	require.NoError(t, cas2.Err)
	assert.True(t, cas2.Response.Result.CasSuccess)
	assert.GreaterOrEqual(t, cas2.Response.Result.Revision, uint64(3))
}

func TestDedupReturnsCachedResponseWithoutReapplying(t *testing.T) {
	f, store := newTestFSM(t)

	seq := uint64(1)
	req := types.Request{
		ClientID: 1, SeqID: &seq,
		Op: types.KVOperation{Kind: types.OpSet, Key: "k", Value: []byte("v1")},
	}
	first := applyCommand(t, f, 1, req)
	require.NoError(t, first.Err)

	second := applyCommand(t, f, 2, req)
	require.NoError(t, second.Err)
	assert.Equal(t, first.Response, second.Response)

	entry, _, err := store.Get("k")
	require.NoError(t, err)
	assert.EqualValues(t, 1, entry.Revision)
}

func TestDeleteOfMissingKeyIsNoop(t *testing.T) {
	f, _ := newTestFSM(t)

	r := applyCommand(t, f, 1, types.Request{
		ClientID: 1,
		Op:       types.KVOperation{Kind: types.OpDel, Key: "missing"},
	})
	require.NoError(t, r.Err)
	assert.False(t, r.Response.Result.Existed)
}
