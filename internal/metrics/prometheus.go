package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the indexing core
type Metrics struct {
	// Existence filter metrics
	FilterPutsTotal      *prometheus.CounterVec
	FilterQueriesTotal   *prometheus.CounterVec
	FilterSyncsTotal     prometheus.Counter
	FilterSyncDuration   prometheus.Histogram
	FilterSyncErrorTotal prometheus.Counter

	// Lock registry metrics
	LockRegistryEntries   prometheus.Gauge
	LockAcquisitionsTotal *prometheus.CounterVec
	LockWaitDuration      prometheus.Histogram
	LockTimeoutsTotal     prometheus.Counter

	// Revision log metrics
	RevisionsAppendedTotal *prometheus.CounterVec
	RevisionsRejectedTotal *prometheus.CounterVec

	// Write pipeline metrics
	WritesAppliedTotal     *prometheus.CounterVec
	WritesNotStorableTotal prometheus.Counter
	WriteApplyDuration     prometheus.Histogram
}

// NewMetrics creates all metrics and registers them with reg. A nil reg
// uses a private registry so repeated construction never collides.
func NewMetrics(nodeID string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)
	labels := prometheus.Labels{"node_id": nodeID}

	return &Metrics{
		// Existence filter metrics
		FilterPutsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "pairdb",
			Subsystem:   "filter",
			Name:        "puts_total",
			Help:        "Total number of filter insertions, by whether any bit changed",
			ConstLabels: labels,
		}, []string{"changed"}),
		FilterQueriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "pairdb",
			Subsystem:   "filter",
			Name:        "queries_total",
			Help:        "Total number of filter membership queries, by result",
			ConstLabels: labels,
		}, []string{"result"}),
		FilterSyncsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "pairdb",
			Subsystem:   "filter",
			Name:        "syncs_total",
			Help:        "Total number of filter syncs to disk",
			ConstLabels: labels,
		}),
		FilterSyncDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "pairdb",
			Subsystem:   "filter",
			Name:        "sync_duration_seconds",
			Help:        "Histogram of filter sync durations",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}),
		FilterSyncErrorTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "pairdb",
			Subsystem:   "filter",
			Name:        "sync_errors_total",
			Help:        "Total number of failed filter syncs",
			ConstLabels: labels,
		}),

		// Lock registry metrics
		LockRegistryEntries: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   "pairdb",
			Subsystem:   "locks",
			Name:        "registry_entries",
			Help:        "Number of live keyed locks held in the registry",
			ConstLabels: labels,
		}),
		LockAcquisitionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "pairdb",
			Subsystem:   "locks",
			Name:        "acquisitions_total",
			Help:        "Total number of lock acquisitions, by mode",
			ConstLabels: labels,
		}, []string{"mode"}),
		LockWaitDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "pairdb",
			Subsystem:   "locks",
			Name:        "wait_duration_seconds",
			Help:        "Histogram of time spent waiting for keyed locks",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(0.00001, 4, 10), // 10us to ~2.6s
		}),
		LockTimeoutsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "pairdb",
			Subsystem:   "locks",
			Name:        "timeouts_total",
			Help:        "Total number of abandoned lock acquisitions",
			ConstLabels: labels,
		}),

		// Revision log metrics
		RevisionsAppendedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "pairdb",
			Subsystem:   "revlog",
			Name:        "appended_total",
			Help:        "Total number of revisions appended, by index kind",
			ConstLabels: labels,
		}, []string{"kind"}),
		RevisionsRejectedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "pairdb",
			Subsystem:   "revlog",
			Name:        "rejected_total",
			Help:        "Total number of revisions rejected, by reason",
			ConstLabels: labels,
		}, []string{"reason"}),

		// Write pipeline metrics
		WritesAppliedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "pairdb",
			Subsystem:   "index",
			Name:        "writes_applied_total",
			Help:        "Total number of writes applied, by type",
			ConstLabels: labels,
		}, []string{"type"}),
		WritesNotStorableTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "pairdb",
			Subsystem:   "index",
			Name:        "writes_not_storable_total",
			Help:        "Total number of writes rejected as not storable",
			ConstLabels: labels,
		}),
		WriteApplyDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "pairdb",
			Subsystem:   "index",
			Name:        "write_apply_duration_seconds",
			Help:        "Histogram of write application durations",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}),
	}
}
