// Package metrics wraps the node's internal counters and gauges in
// github.com/prometheus/client_golang, grounded on the klaytn node's
// prometheus wiring (cmd/kcn/main.go registers a client_golang
// registerer). No HTTP exposition is started by default; callers that
// want a /metrics endpoint register Registry against their own
// promhttp.Handler.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds every counter/gauge the node updates during normal
// operation.
type Metrics struct {
	Registry *prometheus.Registry

	BlocksFinalized      prometheus.Counter
	TransactionsFinalized prometheus.Counter
	TransactionsRejected prometheus.Counter
	ConsensusTimeouts    prometheus.Counter
	ReorgsPerformed      prometheus.Counter
	PeersConnected       prometheus.Gauge
	ChainHeight          prometheus.Gauge
	CacheHotHits         prometheus.Counter
	CacheWarmHits        prometheus.Counter
	CacheMisses          prometheus.Counter
}

// New constructs and registers every metric against a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		BlocksFinalized: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "timecoin_blocks_finalized_total",
			Help: "Blocks that reached PRECOMMIT finality.",
		}),
		TransactionsFinalized: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "timecoin_transactions_finalized_total",
			Help: "Transactions that reached TimeVote finality.",
		}),
		TransactionsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "timecoin_transactions_rejected_total",
			Help: "Transactions rejected by TimeVote.",
		}),
		ConsensusTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "timecoin_consensus_timeouts_total",
			Help: "CONSENSUS_TIMEOUT fallbacks triggered.",
		}),
		ReorgsPerformed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "timecoin_reorgs_total",
			Help: "Chain reorganizations performed.",
		}),
		PeersConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "timecoin_peers_connected",
			Help: "Currently connected peers.",
		}),
		ChainHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "timecoin_chain_height",
			Help: "Current local chain height.",
		}),
		CacheHotHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "timecoin_block_cache_hot_hits_total",
			Help: "Block cache hot-tier hits.",
		}),
		CacheWarmHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "timecoin_block_cache_warm_hits_total",
			Help: "Block cache warm-tier hits.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "timecoin_block_cache_misses_total",
			Help: "Block cache misses.",
		}),
	}

	reg.MustRegister(
		m.BlocksFinalized,
		m.TransactionsFinalized,
		m.TransactionsRejected,
		m.ConsensusTimeouts,
		m.ReorgsPerformed,
		m.PeersConnected,
		m.ChainHeight,
		m.CacheHotHits,
		m.CacheWarmHits,
		m.CacheMisses,
	)
	return m
}
