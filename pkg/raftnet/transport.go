package raftnet

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/raft"

	"github.com/distacean/distacean/pkg/transport"
	"github.com/distacean/distacean/pkg/types"
)

// defaultRPCTimeout bounds how long an outgoing Raft RPC waits for a
// response before this node's own raft.Raft retry/backoff takes over.
const defaultRPCTimeout = 10 * time.Second

// Transport implements raft.Transport over a *transport.PeerManager. It is
// itself the transport.RequestHandler registered with that PeerManager,
// and forwards application-level frames (AppRequest, Linearizer, Join) to a
// separately registered app handler so pkg/node can serve them.
type Transport struct {
	localAddr raft.ServerAddress
	peers     *transport.PeerManager
	timeout   time.Duration

	consumerCh chan raft.RPC

	heartbeatMu sync.Mutex
	heartbeat   func(raft.RPC)

	appHandlerMu sync.RWMutex
	appHandler   transport.RequestHandler

	sessionsMu sync.Mutex
	sessions   map[uint64]*snapshotSession
	nextSession uint64
}

// NewTransport constructs a Transport advertising localAddr and sending
// peer RPCs through peers.
func NewTransport(localAddr raft.ServerAddress, peers *transport.PeerManager) *Transport {
	return &Transport{
		localAddr:  localAddr,
		peers:      peers,
		timeout:    defaultRPCTimeout,
		consumerCh: make(chan raft.RPC),
		sessions:   make(map[uint64]*snapshotSession),
	}
}

// SetAppHandler registers the handler serving AppRequest/Linearizer/Join
// frames, i.e. pkg/node.
func (t *Transport) SetAppHandler(h transport.RequestHandler) {
	t.appHandlerMu.Lock()
	t.appHandler = h
	t.appHandlerMu.Unlock()
}

func (t *Transport) Consumer() <-chan raft.RPC {
	return t.consumerCh
}

func (t *Transport) LocalAddr() raft.ServerAddress {
	return t.localAddr
}

func (t *Transport) EncodePeer(_ raft.ServerID, addr raft.ServerAddress) []byte {
	return []byte(addr)
}

func (t *Transport) DecodePeer(data []byte) raft.ServerAddress {
	return raft.ServerAddress(data)
}

func (t *Transport) SetHeartbeatHandler(cb func(rpc raft.RPC)) {
	t.heartbeatMu.Lock()
	t.heartbeat = cb
	t.heartbeatMu.Unlock()
}

func (t *Transport) AppendEntries(_ raft.ServerID, target raft.ServerAddress, args *raft.AppendEntriesRequest, resp *raft.AppendEntriesResponse) error {
	return t.genericRPC(target, types.WireKindAppendEntries, args, resp)
}

func (t *Transport) RequestVote(_ raft.ServerID, target raft.ServerAddress, args *raft.RequestVoteRequest, resp *raft.RequestVoteResponse) error {
	return t.genericRPC(target, types.WireKindRequestVote, args, resp)
}

func (t *Transport) TimeoutNow(_ raft.ServerID, target raft.ServerAddress, args *raft.TimeoutNowRequest, resp *raft.TimeoutNowResponse) error {
	return t.genericRPC(target, types.WireKindTimeoutNow, args, resp)
}

func (t *Transport) genericRPC(target raft.ServerAddress, kind types.WireKind, args, resp interface{}) error {
	payload, err := encode(kind, args)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	defer cancel()

	respPayload, err := t.peers.RequestResponse(ctx, string(target), payload)
	if err != nil {
		return fmt.Errorf("raftnet: %s unreachable: %w", target, err)
	}
	if len(respPayload) == 0 {
		return fmt.Errorf("raftnet: remote handler failed on %s", target)
	}
	return decodeInto(respPayload, resp)
}

// HandleRequest implements transport.RequestHandler. It is the single
// entry point every inbound frame on this node's peer connections passes
// through, dispatching Raft RPC kinds locally and application kinds to the
// registered app handler.
func (t *Transport) HandleRequest(ctx context.Context, payload []byte) ([]byte, error) {
	kind, body := decodeKind(payload)
	switch kind {
	case types.WireKindAppendEntries:
		var args raft.AppendEntriesRequest
		if err := decodeInto(body, &args); err != nil {
			return nil, err
		}
		return t.dispatchAppendEntries(&args)

	case types.WireKindRequestVote:
		var args raft.RequestVoteRequest
		if err := decodeInto(body, &args); err != nil {
			return nil, err
		}
		return t.dispatchRPC(&args)

	case types.WireKindTimeoutNow:
		var args raft.TimeoutNowRequest
		if err := decodeInto(body, &args); err != nil {
			return nil, err
		}
		return t.dispatchRPC(&args)

	case types.WireKindInstallSnapshot:
		var chunk installSnapshotChunk
		if err := decodeInto(body, &chunk); err != nil {
			return nil, err
		}
		return t.handleInstallSnapshotChunk(chunk)

	case types.WireKindAppRequest, types.WireKindLinearizer, types.WireKindJoin:
		t.appHandlerMu.RLock()
		handler := t.appHandler
		t.appHandlerMu.RUnlock()
		if handler == nil {
			return nil, fmt.Errorf("raftnet: no application handler registered")
		}
		return handler.HandleRequest(ctx, payload)

	default:
		return nil, fmt.Errorf("raftnet: unknown wire kind %d", kind)
	}
}

func (t *Transport) dispatchRPC(args interface{}) ([]byte, error) {
	respCh := make(chan raft.RPCResponse, 1)
	t.consumerCh <- raft.RPC{Command: args, RespChan: respCh}
	result := <-respCh
	if result.Error != nil {
		return nil, result.Error
	}
	return encodeValue(result.Response)
}

func (t *Transport) dispatchAppendEntries(args *raft.AppendEntriesRequest) ([]byte, error) {
	respCh := make(chan raft.RPCResponse, 1)
	rpc := raft.RPC{Command: args, RespChan: respCh}

	t.heartbeatMu.Lock()
	hb := t.heartbeat
	t.heartbeatMu.Unlock()

	if hb != nil && len(args.Entries) == 0 {
		hb(rpc)
	} else {
		t.consumerCh <- rpc
	}

	result := <-respCh
	if result.Error != nil {
		return nil, result.Error
	}
	return encodeValue(result.Response)
}
