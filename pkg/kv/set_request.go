package kv

import (
	"context"

	"github.com/distacean/distacean/pkg/types"
)

// SetRequest is the chainable builder NewSet/NewCas return. Execute is
// terminal.
type SetRequest struct {
	kv               *DistKV
	key              string
	value            []byte
	returnPrevious   bool
	expectedRevision *uint64
}

// WithPreviousValue asks the state machine to return the key's value
// before this write, when one existed.
func (r *SetRequest) WithPreviousValue() *SetRequest {
	r.returnPrevious = true
	return r
}

// Execute applies the write, forwarding to the leader if this handle's
// node isn't one. A failing Cas returns ErrRevisionMismatch without a
// PrevValue, per spec.md §9.
func (r *SetRequest) Execute(ctx context.Context) (SetResponse, error) {
	op := types.KVOperation{
		Key:            r.key,
		Value:          r.value,
		ReturnPrevious: r.returnPrevious,
	}
	if r.expectedRevision != nil {
		op.Kind = types.OpCas
		op.ExpectedRevision = *r.expectedRevision
	} else {
		op.Kind = types.OpSet
	}

	seq := r.kv.nextSeq()
	req := types.Request{ClientID: r.kv.clientID, SeqID: &seq, Op: op}

	resp, err := r.kv.node.WriteOrForwardToLeader(ctx, req)
	if err != nil {
		return SetResponse{}, err
	}

	if op.Kind == types.OpCas && !resp.Result.CasSuccess {
		return SetResponse{}, &ErrRevisionMismatch{CurrentRevision: resp.Result.Revision}
	}

	return SetResponse{PrevValue: resp.Result.PrevValue, Revision: resp.Result.Revision}, nil
}
