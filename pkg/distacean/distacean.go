// Package distacean is the embedding surface: Init/InitSingleNodeCluster
// start a cluster member, KVStore returns the typed client handle over it.
package distacean

import (
	"fmt"

	"github.com/distacean/distacean/pkg/kv"
	"github.com/distacean/distacean/pkg/node"
	"github.com/distacean/distacean/pkg/types"
)

// Distacean is one running cluster member embedded into a host process.
type Distacean struct {
	node *node.Node
}

// Init starts a node per cfg: a fresh single-member cluster if
// cfg.Bootstrap is set, a node joining an existing cluster through
// cfg.JoinAddr if set, or a node rejoining a cluster it already belongs to
// (an existing data directory, neither flag set).
func Init(cfg types.ClusterConfig) (*Distacean, error) {
	n, err := node.NewNode(cfg)
	if err != nil {
		return nil, fmt.Errorf("distacean: init: %w", err)
	}
	return &Distacean{node: n}, nil
}

// InitSingleNodeCluster starts an ephemeral one-node cluster: a real
// single-member Raft group, not a bypass of the replication path, so the
// same code that runs in production runs under test.
func InitSingleNodeCluster(cfg types.SingleNodeConfig) (*Distacean, error) {
	n, err := node.NewNode(types.ClusterConfig{
		NodeID:    cfg.NodeID,
		BindAddr:  cfg.BindAddr,
		DataDir:   cfg.DataDir,
		Bootstrap: true,
	})
	if err != nil {
		return nil, fmt.Errorf("distacean: init single-node cluster: %w", err)
	}
	return &Distacean{node: n}, nil
}

// KVStore returns the typed client handle for Set/Delete/Cas/Read
// operations against this cluster member.
func (d *Distacean) KVStore() *kv.DistKV {
	return kv.New(d.node)
}

// Node returns the underlying cluster member, for callers (pkg/healthapi,
// cmd/distacean) that need Raft-level status beyond the KV surface.
func (d *Distacean) Node() *node.Node {
	return d.node
}

// AddVoter adds a node already listening at addr as a voting cluster
// member. Only the leader may call this successfully.
func (d *Distacean) AddVoter(id types.NodeID, addr string) error {
	return d.node.AddVoter(id, addr)
}

// IsLeader reports whether this member currently holds Raft leadership.
func (d *Distacean) IsLeader() bool {
	return d.node.IsLeader()
}

// Shutdown stops Raft, closes the state store, and releases the peer
// listener.
func (d *Distacean) Shutdown() error {
	return d.node.Shutdown()
}
