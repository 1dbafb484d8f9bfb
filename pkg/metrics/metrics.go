package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Raft metrics
	RaftIsLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "distacean_raft_is_leader",
			Help: "Whether this node is the Raft leader (1 = leader, 0 = follower)",
		},
	)

	RaftPeersTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "distacean_raft_peers_total",
			Help: "Total number of Raft peers in the cluster",
		},
	)

	RaftLastLogIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "distacean_raft_last_log_index",
			Help: "Current Raft last log index",
		},
	)

	RaftAppliedIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "distacean_raft_applied_index",
			Help: "Last applied Raft log index",
		},
	)

	RaftApplyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "distacean_raft_apply_duration_seconds",
			Help:    "Time taken for raft.Apply to return, including replication",
			Buckets: prometheus.DefBuckets,
		},
	)

	RaftCommitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "distacean_raft_commit_duration_seconds",
			Help:    "Time taken to commit a Raft log entry in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// KV operation metrics
	KVWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "distacean_kv_writes_total",
			Help: "Total number of KV write operations by kind and outcome",
		},
		[]string{"op", "outcome"},
	)

	KVCasFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "distacean_kv_cas_failures_total",
			Help: "Total number of compare-and-swap operations that lost the revision race",
		},
	)

	KVReadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "distacean_kv_reads_total",
			Help: "Total number of KV read operations by consistency policy",
		},
		[]string{"policy"},
	)

	LinearizerWaitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "distacean_linearizer_wait_duration_seconds",
			Help:    "Time spent waiting for the applied index to reach a linearizer token",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Peer transport metrics
	PeerRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "distacean_peer_requests_total",
			Help: "Total number of req_res round-trips by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(RaftIsLeader)
	prometheus.MustRegister(RaftPeersTotal)
	prometheus.MustRegister(RaftLastLogIndex)
	prometheus.MustRegister(RaftAppliedIndex)
	prometheus.MustRegister(RaftApplyDuration)
	prometheus.MustRegister(RaftCommitDuration)
	prometheus.MustRegister(KVWritesTotal)
	prometheus.MustRegister(KVCasFailuresTotal)
	prometheus.MustRegister(KVReadsTotal)
	prometheus.MustRegister(LinearizerWaitDuration)
	prometheus.MustRegister(PeerRequestsTotal)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
