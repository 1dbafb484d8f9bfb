/*
Package raftnet adapts pkg/transport into the raft.Transport interface
hashicorp/raft requires of its network layer, replacing the teacher's
raft.NewTCPTransport call so one wire can carry both Raft RPCs and
distacean's own application/linearizer frames.

Each outgoing RPC is gob-encoded, tagged with a one-byte types.WireKind,
and sent through pkg/transport's req_res. Inbound frames are decoded and
either dispatched onto Consumer() (the channel the local *raft.Raft drains
itself, per the raft.Transport contract) or, for application kinds,
forwarded to whatever handler pkg/node registered via SetAppHandler.
InstallSnapshot streams its reader in fixed-size chunks through an
io.Pipe so neither side buffers a whole snapshot in memory.
AppendEntriesPipeline is an unpipelined shim, matching what
raft.NewTCPTransport itself does when true pipelining isn't warranted.
*/
package raftnet
