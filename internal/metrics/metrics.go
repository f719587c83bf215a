// Package metrics registers the process's prometheus counters and cycle
// duration histogram and exposes them over /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every instrument the engine updates once per cycle.
type Metrics struct {
	CycleDuration      prometheus.Histogram
	ItemsPushedTotal   *prometheus.CounterVec
	ServersUnreachable prometheus.Counter
	PruneTotal         prometheus.Counter
}

// New registers every instrument against reg and returns the handle used to
// update them.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "reconciler_cycle_duration_seconds",
			Help:    "Duration of a full reconciliation cycle.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		ItemsPushedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reconciler_items_pushed_total",
			Help: "Watched-status items pushed to a server, by server id. Playlist changes are not counted.",
		}, []string{"server"}),
		ServersUnreachable: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reconciler_servers_unreachable_total",
			Help: "Count of server fetch failures across all cycles.",
		}),
		PruneTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reconciler_prune_total",
			Help: "Count of items removed from global state because they were absent from at least one reachable server.",
		}),
	}
	reg.MustRegister(m.CycleDuration, m.ItemsPushedTotal, m.ServersUnreachable, m.PruneTotal)
	return m
}

// Handler returns the HTTP handler serving the registered metrics.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
