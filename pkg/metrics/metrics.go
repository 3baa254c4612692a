package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Isolation/commit metrics
	CommitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vertexdb_commits_total",
			Help: "Total number of commit attempts by outcome (applied, aborted)",
		},
		[]string{"outcome"},
	)

	CommitsAbortedByConflict = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vertexdb_commits_aborted_total",
			Help: "Total number of commits aborted, by isolation conflict kind",
		},
		[]string{"conflict"},
	)

	CommitValidationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vertexdb_commit_validation_duration_seconds",
			Help:    "Time spent validating a commit against concurrent predecessors",
			Buckets: prometheus.DefBuckets,
		},
	)

	Watermark = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "vertexdb_isolation_watermark",
			Help: "Highest sequence number every prior commit has resolved through",
		},
	)

	OpenReaders = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "vertexdb_open_readers",
			Help: "Number of snapshots currently pinning a read sequence number",
		},
	)

	// WAL metrics
	WALAppendsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vertexdb_wal_appends_total",
			Help: "Total number of WAL records appended, by record type (commit, status)",
		},
		[]string{"record_type"},
	)

	WALSegmentRotationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vertexdb_wal_segment_rotations_total",
			Help: "Total number of WAL segment file rotations",
		},
	)

	// Schema lock metrics
	SchemaLockWaitDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vertexdb_schema_lock_wait_duration_seconds",
			Help:    "Time spent waiting to acquire the schema lock, by mode (shared, exclusive)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"mode"},
	)

	SchemaLockTimeoutsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vertexdb_schema_lock_timeouts_total",
			Help: "Total number of schema transactions that timed out waiting for the exclusive lock",
		},
	)

	// Concept layer metrics
	CardinalityViolationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vertexdb_cardinality_violations_total",
			Help: "Total number of cardinality violations detected at commit time",
		},
	)

	InstancesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vertexdb_instances_total",
			Help: "Total number of live instances by concept kind (entity, relation, attribute)",
		},
		[]string{"kind"},
	)

	// Planner/executor metrics
	QueryPlanDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vertexdb_query_plan_duration_seconds",
			Help:    "Time taken to build an execution plan for a conjunction",
			Buckets: prometheus.DefBuckets,
		},
	)

	RowsEmittedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vertexdb_rows_emitted_total",
			Help: "Total number of result rows emitted by the executor",
		},
	)

	CartesianActivationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vertexdb_cartesian_activations_total",
			Help: "Total number of times an intersection step expanded more than one candidate per shared key",
		},
	)

	CheckStepFilterRatio = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vertexdb_check_step_filter_ratio",
			Help:    "Fraction of input rows a check step let through",
			Buckets: []float64{0, 0.1, 0.25, 0.5, 0.75, 0.9, 1},
		},
	)
)

func init() {
	prometheus.MustRegister(
		CommitsTotal,
		CommitsAbortedByConflict,
		CommitValidationDuration,
		Watermark,
		OpenReaders,
		WALAppendsTotal,
		WALSegmentRotationsTotal,
		SchemaLockWaitDuration,
		SchemaLockTimeoutsTotal,
		CardinalityViolationsTotal,
		InstancesTotal,
		QueryPlanDuration,
		RowsEmittedTotal,
		CartesianActivationsTotal,
		CheckStepFilterRatio,
	)
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
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
