// Package fsm implements the distacean key-value state machine as a
// raft.FSM: it decodes the Command envelope hashicorp/raft replicates,
// dispatches Set/Del/Cas against pkg/storage's StateStore, and delegates
// snapshotting to the same store.
package fsm

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/hashicorp/raft"

	"github.com/distacean/distacean/pkg/storage"
	"github.com/distacean/distacean/pkg/types"
)

// ApplyResult is what Apply returns through raft.Log — a raft.ApplyFuture's
// Response() value. Node type-asserts to *ApplyResult after calling
// raft.Raft.Apply.
type ApplyResult struct {
	Response types.Response
	Err      error
}

// DistaceanFSM implements raft.FSM over a storage.StateStore. Apply is
// invoked strictly sequentially by the owning *raft.Raft, so no locking is
// needed here beyond what StateStore itself does for concurrent readers.
type DistaceanFSM struct {
	store storage.StateStore
}

// NewDistaceanFSM constructs an FSM over store.
func NewDistaceanFSM(store storage.StateStore) *DistaceanFSM {
	return &DistaceanFSM{store: store}
}

// Apply decodes a types.Command from the log entry and dispatches it.
func (f *DistaceanFSM) Apply(log *raft.Log) interface{} {
	var cmd types.Command
	if err := json.Unmarshal(log.Data, &cmd); err != nil {
		return &ApplyResult{Err: fmt.Errorf("failed to decode command: %w", err)}
	}

	switch cmd.Op {
	case types.CommandApplyKV:
		var req types.Request
		if err := json.Unmarshal(cmd.Data, &req); err != nil {
			return &ApplyResult{Err: fmt.Errorf("failed to decode request: %w", err)}
		}
		return f.applyRequest(log.Index, req)
	default:
		return &ApplyResult{Err: fmt.Errorf("unknown command op: %s", cmd.Op)}
	}
}

func (f *DistaceanFSM) applyRequest(logIndex uint64, req types.Request) *ApplyResult {
	if req.SeqID != nil {
		if cached, ok, err := f.store.Dedup(req.ClientID, *req.SeqID); err == nil && ok {
			var resp types.Response
			if err := json.Unmarshal(cached, &resp); err == nil {
				return &ApplyResult{Response: resp}
			}
		}
	}

	var (
		mutation *storage.Mutation
		result   types.KVResult
	)

	existing, found, err := f.store.Get(req.Op.Key)
	if err != nil {
		return &ApplyResult{Err: fmt.Errorf("failed to read current entry: %w", err)}
	}

	currentRevision := uint64(0)
	var currentValue []byte
	live := false
	if found {
		currentRevision = existing.Revision
		if !existing.Deleted {
			live = true
			currentValue = existing.Value
		}
	}

	switch req.Op.Kind {
	case types.OpSet:
		newRevision := currentRevision + 1
		mutation = &storage.Mutation{
			Key:   req.Op.Key,
			Entry: storage.Entry{Value: req.Op.Value, Revision: newRevision},
		}
		result = types.KVResult{Kind: types.OpSet, Revision: newRevision}
		if req.Op.ReturnPrevious && live {
			result.PrevValue = currentValue
		}

	case types.OpDel:
		result = types.KVResult{Kind: types.OpDel, Existed: live}
		if live {
			mutation = &storage.Mutation{
				Key:   req.Op.Key,
				Entry: storage.Entry{Revision: currentRevision, Deleted: true},
			}
		}

	case types.OpCas:
		// A tombstoned or never-written key compares as revision 0: Cas
		// with expected_revision==0 is how a caller asserts absence.
		comparisonRevision := currentRevision
		if !live {
			comparisonRevision = 0
		}
		if comparisonRevision != req.Op.ExpectedRevision {
			result = types.KVResult{Kind: types.OpCas, CasSuccess: false, Revision: comparisonRevision}
			break
		}
		newRevision := currentRevision + 1
		mutation = &storage.Mutation{
			Key:   req.Op.Key,
			Entry: storage.Entry{Value: req.Op.Value, Revision: newRevision},
		}
		result = types.KVResult{Kind: types.OpCas, CasSuccess: true, Revision: newRevision}
		if req.Op.ReturnPrevious && live {
			result.PrevValue = currentValue
		}

	default:
		return &ApplyResult{Err: fmt.Errorf("unknown op kind: %s", req.Op.Kind)}
	}

	response := types.Response{ClientID: req.ClientID, SeqID: req.SeqID, Result: result}

	batch := storage.Batch{Mutation: mutation, AppliedIndex: logIndex}
	if req.SeqID != nil {
		responseBytes, err := json.Marshal(response)
		if err != nil {
			return &ApplyResult{Err: fmt.Errorf("failed to encode response: %w", err)}
		}
		batch.HasDedup = true
		batch.DedupClientID = req.ClientID
		batch.DedupSeqID = *req.SeqID
		batch.DedupResponse = responseBytes
	}

	if err := f.store.ApplyBatch(batch); err != nil {
		return &ApplyResult{Err: fmt.Errorf("failed to commit batch: %w", err)}
	}

	return &ApplyResult{Response: response}
}

// Snapshot delegates to the StateStore's own snapshot stream format.
func (f *DistaceanFSM) Snapshot() (raft.FSMSnapshot, error) {
	return &fsmSnapshot{store: f.store}, nil
}

// Restore replaces the StateStore's contents with rc's snapshot stream.
func (f *DistaceanFSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()
	return f.store.Restore(rc)
}

type fsmSnapshot struct {
	store storage.StateStore
}

func (s *fsmSnapshot) Persist(sink raft.SnapshotSink) error {
	if err := s.store.Snapshot(sink); err != nil {
		sink.Cancel()
		return fmt.Errorf("failed to persist snapshot: %w", err)
	}
	return sink.Close()
}

func (s *fsmSnapshot) Release() {}
