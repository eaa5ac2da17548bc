package syncer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	SyncRequests prometheus.Counter
	SyncRuns     *prometheus.CounterVec
	Updates      *prometheus.CounterVec
}

// NewMetrics registers the coordinator metrics with reg. A nil reg leaves
// them unregistered. Coalesced syncs are requests minus runs.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SyncRequests: f.NewCounter(prometheus.CounterOpts{
			Namespace: "openhouse",
			Subsystem: "sync",
			Name:      "requests_total",
			Help:      "Sync requests, including ones joined to a running sync.",
		}),
		SyncRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "openhouse",
			Subsystem: "sync",
			Name:      "runs_total",
			Help:      "Syncs actually run, by outcome.",
		}, []string{"outcome"}),
		Updates: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "openhouse",
			Subsystem: "sync",
			Name:      "criterion_updates_total",
			Help:      "Criterion edits by stage: local_only, queued, sent, failed.",
		}, []string{"stage"}),
	}
}
