package metrics

import "time"

// RaftStatsSource is the subset of *node.Node a Collector needs. It is
// defined here, not imported from pkg/node, to avoid a pkg/metrics ->
// pkg/node -> pkg/metrics import cycle (node.Node reports RaftCommitDuration
// and friends directly).
type RaftStatsSource interface {
	IsLeader() bool
	RaftStats() map[string]string
}

// Collector periodically samples Raft state into gauges, following the
// teacher's ticker-driven collection loop.
type Collector struct {
	source RaftStatsSource
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector over source.
func NewCollector(source RaftStatsSource) *Collector {
	return &Collector{
		source: source,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics every 15 seconds.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	if c.source.IsLeader() {
		RaftIsLeader.Set(1)
	} else {
		RaftIsLeader.Set(0)
	}

	stats := c.source.RaftStats()
	if stats == nil {
		return
	}
	if v, ok := parseUint(stats["last_log_index"]); ok {
		RaftLastLogIndex.Set(float64(v))
	}
	if v, ok := parseUint(stats["applied_index"]); ok {
		RaftAppliedIndex.Set(float64(v))
	}
	if v, ok := parseUint(stats["num_peers"]); ok {
		RaftPeersTotal.Set(float64(v))
	}
}

func parseUint(s string) (uint64, bool) {
	if s == "" {
		return 0, false
	}
	var v uint64
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
		v = v*10 + uint64(r-'0')
	}
	return v, true
}
