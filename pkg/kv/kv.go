// Package kv is the typed client handle embedding code uses to talk to a
// distacean cluster: Set/Cas/Delete and a consistency-aware Read builder,
// layered over pkg/node's write-forwarding and linearizer primitives.
package kv

import (
	"context"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/distacean/distacean/pkg/node"
	"github.com/distacean/distacean/pkg/types"
)

// DistKV is the handle returned by Distacean.KVStore(). It is safe for
// concurrent use: each call mints its own seq_id off an atomic counter
// scoped to this handle's client_id, so exactly-once dedup on the state
// machine side sees one strictly increasing sequence per handle.
type DistKV struct {
	node     *node.Node
	clientID types.NodeID
	seq      uint64
}

// New wraps n in a DistKV handle with a fresh client id, derived from a
// random UUID the way the teacher derives node/service/task ids throughout
// pkg/manager.
func New(n *node.Node) *DistKV {
	id := uuid.New()
	var clientID uint64
	for _, b := range id[:8] {
		clientID = clientID<<8 | uint64(b)
	}
	return &DistKV{node: n, clientID: clientID}
}

func (kv *DistKV) nextSeq() uint64 {
	return atomic.AddUint64(&kv.seq, 1)
}

// SetResponse is the result of a successful Set or Cas.
type SetResponse struct {
	PrevValue []byte
	Revision  uint64
}

// DelResponse is the result of a Delete.
type DelResponse struct {
	Existed bool
}

// NewSet starts an unconditional write of key to value.
func (kv *DistKV) NewSet(key string, value []byte) *SetRequest {
	return &SetRequest{kv: kv, key: key, value: value}
}

// NewCas starts a compare-and-swap write of key to value, applied only if
// the key's current revision equals expectedRevision.
func (kv *DistKV) NewCas(key string, value []byte, expectedRevision uint64) *SetRequest {
	return &SetRequest{kv: kv, key: key, value: value, expectedRevision: &expectedRevision}
}

// Delete removes key unconditionally. There is no builder for delete,
// matching spec.md's "direct; no builder" for this operation.
func (kv *DistKV) Delete(ctx context.Context, key string) (DelResponse, error) {
	seq := kv.nextSeq()
	req := types.Request{
		ClientID: kv.clientID,
		SeqID:    &seq,
		Op:       types.KVOperation{Kind: types.OpDel, Key: key},
	}
	resp, err := kv.node.WriteOrForwardToLeader(ctx, req)
	if err != nil {
		return DelResponse{}, err
	}
	return DelResponse{Existed: resp.Result.Existed}, nil
}

// NewRead starts a read of key, defaulting to a linearizable read served
// from the leader, matching spec.md §4.F's defaults.
func (kv *DistKV) NewRead(key string) *ReadRequest {
	return &ReadRequest{
		kv:          kv,
		key:         key,
		source:      types.ReadSourceLeader,
		consistency: ConsistencyLinearizable,
	}
}
