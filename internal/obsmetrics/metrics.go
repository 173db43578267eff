// Package obsmetrics registers the Prometheus collectors exported by
// both binaries.
package obsmetrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles the collectors the scheduler and embed-builder update
// during a tick or build run. Construct one with NewMetrics and register
// it against a prometheus.Registerer.
type Metrics struct {
	TickDuration        prometheus.Histogram
	TickOutcome         *prometheus.CounterVec
	GroupsEmitted       prometheus.Counter
	GroupSize           prometheus.Histogram
	RoomIDsAllocated    prometheus.Counter
	PublishFailures     prometheus.Counter
	WaitingSetSize      prometheus.Gauge
	LeftoverSize        prometheus.Gauge
	ArtifactAgeSeconds  prometheus.Gauge
	BuildDuration       prometheus.Histogram
	BuildNodes          prometheus.Gauge
	BuildEdges          prometheus.Gauge
}

// NewMetrics constructs the collector set with the "lyncup" namespace and
// registers every collector against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "lyncup",
			Name:      "tick_duration_seconds",
			Help:      "Wall-clock duration of a single matching tick.",
			Buckets:   prometheus.DefBuckets,
		}),
		TickOutcome: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lyncup",
			Name:      "tick_outcome_total",
			Help:      "Count of ticks by terminal outcome (ok, lock_held, artifact_missing, too_few_users, transient_external, malformed, invariant).",
		}, []string{"outcome"}),
		GroupsEmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lyncup",
			Name:      "groups_emitted_total",
			Help:      "Total number of chat room groups emitted.",
		}),
		GroupSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "lyncup",
			Name:      "group_size",
			Help:      "Distribution of emitted group sizes.",
			Buckets:   []float64{1, 2, 3, 4, 5, 6},
		}),
		RoomIDsAllocated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lyncup",
			Name:      "room_ids_allocated_total",
			Help:      "Total number of room ids drawn from the counter.",
		}),
		PublishFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lyncup",
			Name:      "publish_failures_total",
			Help:      "Total number of per-user push publish failures.",
		}),
		WaitingSetSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "lyncup",
			Name:      "waiting_set_size",
			Help:      "Size of the waiting set at the start of the most recent tick.",
		}),
		LeftoverSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "lyncup",
			Name:      "leftover_bucket_size",
			Help:      "Size of the leftover bucket at the end of the most recent tick.",
		}),
		ArtifactAgeSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "lyncup",
			Name:      "artifact_age_seconds",
			Help:      "Age of the loaded ANN artifact, by file mtime.",
		}),
		BuildDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "lyncup",
			Name:      "embedding_build_duration_seconds",
			Help:      "Wall-clock duration of an embedding build run.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
		BuildNodes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "lyncup",
			Name:      "embedding_build_nodes",
			Help:      "Number of distinct users in the most recent build's graph.",
		}),
		BuildEdges: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "lyncup",
			Name:      "embedding_build_edges",
			Help:      "Number of directed edges, including synthesized reciprocals, in the most recent build's graph.",
		}),
	}

	reg.MustRegister(
		m.TickDuration, m.TickOutcome, m.GroupsEmitted, m.GroupSize,
		m.RoomIDsAllocated, m.PublishFailures, m.WaitingSetSize, m.LeftoverSize,
		m.ArtifactAgeSeconds, m.BuildDuration, m.BuildNodes, m.BuildEdges,
	)
	return m
}
