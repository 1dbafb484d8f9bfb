package distacean

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/distacean/distacean/pkg/types"
)

func TestInitSingleNodeClusterServesWrites(t *testing.T) {
	d, err := InitSingleNodeCluster(types.SingleNodeConfig{
		NodeID:   1,
		DataDir:  t.TempDir(),
		BindAddr: "127.0.0.1:0",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Shutdown() })

	require.Eventually(t, d.IsLeader, 5*time.Second, 10*time.Millisecond)

	store := d.KVStore()
	resp, err := store.NewSet("a", []byte("v")).Execute(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, resp.Revision)

	value, found, err := store.NewRead("a").Execute(context.Background())
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("v"), value)
}

func TestInitJoiningClusterReplicatesWrites(t *testing.T) {
	leader, err := Init(types.ClusterConfig{
		NodeID:    1,
		BindAddr:  "127.0.0.1:0",
		DataDir:   t.TempDir(),
		Bootstrap: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = leader.Shutdown() })
	require.Eventually(t, leader.IsLeader, 5*time.Second, 10*time.Millisecond)

	follower, err := Init(types.ClusterConfig{
		NodeID:   2,
		BindAddr: "127.0.0.1:0",
		DataDir:  t.TempDir(),
		JoinAddr: string(leader.Node().LeaderAddr()),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = follower.Shutdown() })

	_, err = leader.KVStore().NewSet("shared", []byte("v")).Execute(context.Background())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		value, found, err := follower.KVStore().NewRead("shared").Local().AsIs().Execute(context.Background())
		return err == nil && found && string(value) == "v"
	}, 5*time.Second, 20*time.Millisecond)
}
