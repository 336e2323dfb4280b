package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all application metrics
type Metrics struct {
	// Sync related metrics
	SyncRecordsFetched   *prometheus.CounterVec
	SyncRecordsInserted  *prometheus.CounterVec
	SyncRecordsUpdated   *prometheus.CounterVec
	SyncRecordsUnchanged *prometheus.CounterVec
	SyncRecordErrors     *prometheus.CounterVec
	SyncRunDuration      prometheus.Histogram

	// Dispatch related metrics
	RemindersProcessed *prometheus.CounterVec
	RemindersDeferred  prometheus.Counter
	DispatchDuration   prometheus.Histogram
	SendLatency        *prometheus.HistogramVec

	// Delivery callback metrics
	CallbacksProcessed *prometheus.CounterVec

	// Database metrics
	DatabaseOperations *prometheus.CounterVec
}

// NewMetrics creates and registers all application metrics
func NewMetrics(namespace, subsystem string) *Metrics {
	return &Metrics{
		SyncRecordsFetched: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "sync_records_fetched_total",
			Help:      "Total number of records fetched from the remote source",
		}, []string{"entity"}),
		SyncRecordsInserted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "sync_records_inserted_total",
			Help:      "Total number of records inserted into the local cache",
		}, []string{"entity"}),
		SyncRecordsUpdated: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "sync_records_updated_total",
			Help:      "Total number of cached records updated after a hash change",
		}, []string{"entity"}),
		SyncRecordsUnchanged: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "sync_records_unchanged_total",
			Help:      "Total number of records whose hash matched the cache",
		}, []string{"entity"}),
		SyncRecordErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "sync_record_errors_total",
			Help:      "Total number of per-record sync failures",
		}, []string{"entity"}),
		SyncRunDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "sync_run_duration_seconds",
			Help:      "Duration of a full sync run per owner",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		RemindersProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "reminders_processed_total",
			Help:      "Total number of reminders processed by outcome",
		}, []string{"outcome"}),
		RemindersDeferred: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "reminders_deferred_total",
			Help:      "Total number of due reminders deferred because the call window was closed",
		}),
		DispatchDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "dispatch_run_duration_seconds",
			Help:      "Duration of a dispatcher run",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}),
		SendLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "send_latency_seconds",
			Help:      "Latency of channel provider send calls",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"channel"}),
		CallbacksProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "delivery_callbacks_total",
			Help:      "Total number of delivery callbacks processed by result",
		}, []string{"result"}),
		DatabaseOperations: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "database_operations_total",
			Help:      "Total number of database operations",
		}, []string{"operation", "status"}),
	}
}

// New creates an unregistered metrics set, used by tests and tooling that
// must not collide with the default registry.
func New(namespace string) *Metrics {
	return &Metrics{
		SyncRecordsFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "sync_records_fetched_total",
		}, []string{"entity"}),
		SyncRecordsInserted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "sync_records_inserted_total",
		}, []string{"entity"}),
		SyncRecordsUpdated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "sync_records_updated_total",
		}, []string{"entity"}),
		SyncRecordsUnchanged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "sync_records_unchanged_total",
		}, []string{"entity"}),
		SyncRecordErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "sync_record_errors_total",
		}, []string{"entity"}),
		SyncRunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "sync_run_duration_seconds",
		}),
		RemindersProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "reminders_processed_total",
		}, []string{"outcome"}),
		RemindersDeferred: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "reminders_deferred_total",
		}),
		DispatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "dispatch_run_duration_seconds",
		}),
		SendLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "send_latency_seconds",
		}, []string{"channel"}),
		CallbacksProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "delivery_callbacks_total",
		}, []string{"result"}),
		DatabaseOperations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "database_operations_total",
		}, []string{"operation", "status"}),
	}
}
