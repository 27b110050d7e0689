package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ChainHeight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "aibtcc",
		Name:      "chain_height",
		Help:      "Number of blocks in the local chain.",
	})

	PeersConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "aibtcc",
		Name:      "peers_connected",
		Help:      "Number of connected P2P peers.",
	})

	MempoolSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "aibtcc",
		Name:      "mempool_size",
		Help:      "Number of pending transactions.",
	})

	BlocksMined = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "aibtcc",
		Name:      "blocks_mined_total",
		Help:      "Total blocks mined by this node.",
	})

	BlocksAccepted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "aibtcc",
		Name:      "blocks_accepted_total",
		Help:      "Total blocks accepted from peers.",
	})

	BlocksRejected = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "aibtcc",
		Name:      "blocks_rejected_total",
		Help:      "Total peer blocks rejected by validation.",
	})

	TransactionsRejected = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "aibtcc",
		Name:      "transactions_rejected_total",
		Help:      "Total transactions rejected at admission.",
	})

	ChainReplacements = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "aibtcc",
		Name:      "chain_replacements_total",
		Help:      "Total times the local chain was replaced by a heavier one.",
	})

	UptimeSeconds = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "aibtcc",
		Name:      "uptime_seconds",
		Help:      "Node uptime in seconds.",
	})
)

func init() {
	prometheus.MustRegister(
		ChainHeight,
		PeersConnected,
		MempoolSize,
		BlocksMined,
		BlocksAccepted,
		BlocksRejected,
		TransactionsRejected,
		ChainReplacements,
		UptimeSeconds,
	)
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
