// Package types holds the data shapes shared across distacean's packages:
// the client request/response envelopes that travel through the Raft log,
// and the wire message kinds carried over the peer connection.
package types

import "encoding/json"

// NodeID identifies a Raft server or a KV client within a cluster.
type NodeID = uint64

// OpKind discriminates the KVOperation/KVResult tagged unions.
type OpKind string

const (
	OpSet OpKind = "set"
	OpDel OpKind = "del"
	OpCas OpKind = "cas"
)

// ReadPolicy selects how a linearizable read confirms the leader is current
// before serving from the local state machine.
type ReadPolicy int

const (
	// ReadPolicyNone serves the read immediately with no confirmation
	// round (the AsIs consistency level).
	ReadPolicyNone ReadPolicy = iota
	// ReadPolicyLeaseRead reuses a recent leader-lease confirmation when
	// one is still within LeaderLeaseTimeout, else performs one.
	ReadPolicyLeaseRead
	// ReadPolicyReadIndex always confirms leadership with a quorum round
	// before reading (VerifyLeader).
	ReadPolicyReadIndex
)

// ReadSource selects which node serves a read.
type ReadSource int

const (
	// ReadSourceLocal reads from whichever node handles the request,
	// without forwarding to the leader.
	ReadSourceLocal ReadSource = iota
	// ReadSourceLeader obtains the read's linearizer token from the current
	// leader; the value itself is still read from the local state machine.
	ReadSourceLeader
)

// KVOperation is the client-requested mutation carried inside Request.
type KVOperation struct {
	Kind             OpKind `json:"kind"`
	Key              string `json:"key"`
	Value            []byte `json:"value,omitempty"`
	ReturnPrevious   bool   `json:"return_previous,omitempty"`
	ExpectedRevision uint64 `json:"expected_revision,omitempty"`
}

// Request is the envelope a client sends for a write. ClientID/SeqID
// together form the dedup key the state machine checks before applying.
type Request struct {
	ClientID NodeID  `json:"client_id"`
	SeqID    *uint64 `json:"seq_id,omitempty"`
	Op       KVOperation `json:"op"`
}

// KVResult is the outcome of applying a KVOperation.
type KVResult struct {
	Kind       OpKind `json:"kind"`
	PrevValue  []byte `json:"prev_value,omitempty"`
	Revision   uint64 `json:"revision,omitempty"`
	Existed    bool   `json:"existed,omitempty"`
	CasSuccess bool   `json:"cas_success,omitempty"`
}

// Response is what the state machine returns for a Request, echoing the
// client/seq pair so a retried request can be matched against the dedup
// table's cached response.
type Response struct {
	ClientID NodeID      `json:"client_id,omitempty"`
	SeqID    *uint64     `json:"seq_id,omitempty"`
	Result   KVResult    `json:"result"`
}

// Command is the envelope placed on the Raft log, following the teacher's
// Command{Op, Data} convention: Op names the command kind, Data carries the
// JSON-encoded payload for that kind.
type Command struct {
	Op   string          `json:"op"`
	Data json.RawMessage `json:"data"`
}

// CommandApplyKV is the only Command.Op this module places on the log: it
// wraps a Request to be applied against the KV state machine.
const CommandApplyKV = "apply_kv"

// WireKind tags the payload inside a transport frame so the receiving side
// knows whether to route it to Raft or to the application layer.
type WireKind uint8

const (
	WireKindAppendEntries WireKind = iota + 1
	WireKindRequestVote
	WireKindInstallSnapshot
	WireKindTimeoutNow
	WireKindAppRequest
	WireKindLinearizer
	WireKindJoin
)

// WireRequest pairs a WireKind with that kind's own payload encoding. The
// peer wire does not carry this struct: pkg/raftnet and pkg/node frame each
// req_res payload as one WireKind byte followed by the kind's encoding.
type WireRequest struct {
	Kind    WireKind
	Payload []byte
}

// LinearizerRequest asks the leader to mint a read token under the given
// policy, sent by a follower serving a ReadSourceLeader read.
type LinearizerRequest struct {
	Policy ReadPolicy `json:"policy"`
}

// LinearizerData is the leader's reply to a LinearizerRequest: the log
// index a follower must observe applied before its local read is
// linearizable with respect to the leader's confirmation.
type LinearizerData struct {
	NodeID       NodeID `json:"node_id"`
	ReadLogIndex uint64 `json:"read_log_index"`
	Applied      uint64 `json:"applied"`
}

// ClusterConfig configures a node joining or bootstrapping a multi-node
// cluster.
type ClusterConfig struct {
	NodeID    NodeID
	BindAddr  string
	DataDir   string
	Bootstrap bool
	JoinAddr  string
}

// SingleNodeConfig configures an ephemeral one-node cluster, the path
// InitSingleNodeCluster uses.
type SingleNodeConfig struct {
	NodeID   NodeID
	DataDir  string
	BindAddr string
}

// JoinRequest asks the cluster leader to add the sending node as a voter.
type JoinRequest struct {
	NodeID NodeID `json:"node_id"`
	Addr   string `json:"addr"`
}

// JoinResult is the leader's reply to a JoinRequest.
type JoinResult struct {
	Error string `json:"error,omitempty"`
}
