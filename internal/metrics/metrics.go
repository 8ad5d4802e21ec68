// Package metrics exposes Prometheus collectors for the engine's internal
// health signals: reconciler pacing, write-log depth, HNSW size, and
// rate-limiter rejections.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// WriteLogPending reports the current number of entries queued per namespace.
	WriteLogPending = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "sutra",
		Subsystem: "writelog",
		Name:      "pending",
		Help:      "Entries currently queued in the in-memory write log.",
	}, []string{"namespace"})

	// WriteLogDropped counts writes rejected with Backpressure.
	WriteLogDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sutra",
		Subsystem: "writelog",
		Name:      "dropped_total",
		Help:      "Writes dropped due to write-log backpressure.",
	}, []string{"namespace"})

	// WriteLogWritten counts writes accepted into the write log.
	WriteLogWritten = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sutra",
		Subsystem: "writelog",
		Name:      "written_total",
		Help:      "Writes accepted into the write log.",
	}, []string{"namespace"})

	// ReconcilerIntervalMs reports the reconciler's current adaptive pacing interval.
	ReconcilerIntervalMs = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "sutra",
		Subsystem: "reconciler",
		Name:      "interval_ms",
		Help:      "Current adaptive reconciliation interval in milliseconds.",
	}, []string{"namespace"})

	// ReconcilerHealth reports the reconciler health score (1 - pending/capacity).
	ReconcilerHealth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "sutra",
		Subsystem: "reconciler",
		Name:      "health",
		Help:      "Reconciler health score in [0,1].",
	}, []string{"namespace"})

	// ReconcilerSequence reports the sequence number of the last published snapshot.
	ReconcilerSequence = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "sutra",
		Subsystem: "reconciler",
		Name:      "sequence",
		Help:      "Sequence stamp of the most recently published snapshot.",
	}, []string{"namespace"})

	// HNSWSize reports the number of live (non-tombstoned) points in the index.
	HNSWSize = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "sutra",
		Subsystem: "hnsw",
		Name:      "points",
		Help:      "Live points currently indexed by HNSW.",
	}, []string{"namespace"})

	// HNSWRebuilds counts full index rebuilds from snapshot.
	HNSWRebuilds = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sutra",
		Subsystem: "hnsw",
		Name:      "rebuilds_total",
		Help:      "Number of times the HNSW index was rebuilt from a snapshot.",
	}, []string{"namespace"})

	// RateLimiterRejected counts requests rejected by the token bucket.
	RateLimiterRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sutra",
		Subsystem: "ratelimit",
		Name:      "rejected_total",
		Help:      "Requests rejected by the per-client token bucket.",
	}, []string{"client"})
)

func init() {
	prometheus.MustRegister(
		WriteLogPending,
		WriteLogDropped,
		WriteLogWritten,
		ReconcilerIntervalMs,
		ReconcilerHealth,
		ReconcilerSequence,
		HNSWSize,
		HNSWRebuilds,
		RateLimiterRejected,
	)
}
