/*
Package log provides structured logging for distacean using zerolog.

It wraps a single global zerolog.Logger, configured once via Init, with
child-logger helpers for the fields distacean's own packages attach most
often: component, node_id, peer_id.

# Usage

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true, Output: os.Stdout})
	log.Info("node started")

	nodeLog := log.WithNodeID("node-1")
	peerLog := log.WithPeerID(nodeLog, "node-2")
	peerLog.Info().Msg("connected to peer")

Never log key values or client payloads — only keys, sizes, and revisions.
*/
package log
