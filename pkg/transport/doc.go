/*
Package transport is distacean's peer connection manager.

Every frame on the wire is uint32 length + uint8 kind (FrameRequest or
FrameResponse) + uint64 correlation id + payload. PeerManager keeps one
outbound PeerConn per peer address, created lazily by GetOrCreateConn and
reconnected on loss with a fixed 5s backoff (TCP_NODELAY is always set).
RequestResponse blocks on a per-correlation channel until the matching
response frame arrives, the context is done, or the connection closes.

Inbound connections accepted via Serve are handled separately: each request
frame is dispatched to the configured RequestHandler in its own goroutine,
so a slow request never blocks the next one on the same connection.

pkg/raftnet and pkg/node both build on this package: raftnet wraps Raft's
own RPC structs as request/response payloads, and node forwards
application writes and linearizer requests the same way.
*/
package transport
