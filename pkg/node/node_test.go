package node

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/distacean/distacean/pkg/types"
)

func newTestNode(t *testing.T, id types.NodeID) *Node {
	t.Helper()

	cfg := types.ClusterConfig{
		NodeID:    id,
		BindAddr:  "127.0.0.1:0",
		DataDir:   t.TempDir(),
		Bootstrap: true,
	}
	n, err := NewNode(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = n.Shutdown() })
	return n
}

func awaitLeader(t *testing.T, n *Node) {
	t.Helper()
	require.Eventually(t, n.IsLeader, 5*time.Second, 10*time.Millisecond)
}

func TestSingleNodeBootstrapBecomesLeader(t *testing.T) {
	n := newTestNode(t, 1)
	awaitLeader(t, n)
}

func TestWriteOrForwardToLeaderAppliesLocallyWhenLeader(t *testing.T) {
	n := newTestNode(t, 1)
	awaitLeader(t, n)

	seq := uint64(1)
	req := types.Request{
		ClientID: 42,
		SeqID:    &seq,
		Op:       types.KVOperation{Kind: types.OpSet, Key: "a", Value: []byte("1")},
	}

	resp, err := n.WriteOrForwardToLeader(context.Background(), req)
	require.NoError(t, err)
	require.EqualValues(t, 1, resp.Result.Revision)
}

func TestGetReadLinearizerNoneReturnsAppliedIndexImmediately(t *testing.T) {
	n := newTestNode(t, 1)
	awaitLeader(t, n)

	token, err := n.GetReadLinearizer(context.Background(), types.ReadSourceLocal, types.ReadPolicyNone)
	require.NoError(t, err)
	require.NotNil(t, token)
}

func TestGetReadLinearizerReadIndexConfirmsLeadership(t *testing.T) {
	n := newTestNode(t, 1)
	awaitLeader(t, n)

	seq := uint64(1)
	_, err := n.WriteOrForwardToLeader(context.Background(), types.Request{
		ClientID: 1,
		SeqID:    &seq,
		Op:       types.KVOperation{Kind: types.OpSet, Key: "k", Value: []byte("v")},
	})
	require.NoError(t, err)

	token, err := n.GetReadLinearizer(context.Background(), types.ReadSourceLocal, types.ReadPolicyReadIndex)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, n.AwaitLinearizer(ctx, token))
}

func TestAddVoterFormsThreeNodeCluster(t *testing.T) {
	leader := newTestNode(t, 1)
	awaitLeader(t, leader)

	follower2 := newTestNode(t, 2)
	follower3 := newTestNode(t, 3)

	require.NoError(t, leader.AddVoter(2, string(follower2.transport.LocalAddr())))
	require.NoError(t, leader.AddVoter(3, string(follower3.transport.LocalAddr())))

	seq := uint64(1)
	resp, err := leader.WriteOrForwardToLeader(context.Background(), types.Request{
		ClientID: 7,
		SeqID:    &seq,
		Op:       types.KVOperation{Kind: types.OpSet, Key: "cluster-key", Value: []byte("v")},
	})
	require.NoError(t, err)
	require.EqualValues(t, 1, resp.Result.Revision)

	require.Eventually(t, func() bool {
		return follower2.raft.AppliedIndex() == leader.raft.AppliedIndex()
	}, 5*time.Second, 20*time.Millisecond)
}

func TestJoinClusterAsksLeaderToAddVoter(t *testing.T) {
	leader := newTestNode(t, 1)
	awaitLeader(t, leader)

	joiner, err := NewNode(types.ClusterConfig{
		NodeID:   2,
		BindAddr: "127.0.0.1:0",
		DataDir:  t.TempDir(),
		JoinAddr: string(leader.transport.LocalAddr()),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = joiner.Shutdown() })

	require.Eventually(t, func() bool {
		future := leader.raft.GetConfiguration()
		if future.Error() != nil {
			return false
		}
		return len(future.Configuration().Servers) == 2
	}, 5*time.Second, 20*time.Millisecond)
}
