/*
Package metrics defines and registers distacean's Prometheus metrics and
serves them through Handler, which pkg/healthapi mounts at /metrics.

Metrics fall into three groups: Raft state (RaftIsLeader, RaftAppliedIndex,
RaftLastLogIndex, RaftApplyDuration, RaftCommitDuration), KV operations
(KVWritesTotal, KVCasFailuresTotal, KVReadsTotal, LinearizerWaitDuration),
and the peer transport (PeerRequestsTotal). Timer/ObserveDuration time an
operation and record it against a histogram:

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.RaftApplyDuration)

Collector samples Raft leadership/index state on a ticker and is started
once a *node.Node exists (see cmd/distacean's serve command).
*/
package metrics
