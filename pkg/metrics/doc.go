/*
Package metrics provides Prometheus metrics collection and exposition for
the storage engine.

Metrics are registered at package init via prometheus.MustRegister and
exposed through Handler() for a /metrics HTTP endpoint. Collector polls the
isolation manager and planner statistics store on a ticker, the same
poll-collect-expose shape used for the engine's other background state.

# Metrics catalog

Commit/isolation:

  - vertexdb_commits_total{outcome}: commit attempts by outcome
  - vertexdb_commits_aborted_total{conflict}: aborts by isolation conflict kind
  - vertexdb_commit_validation_duration_seconds: predecessor validation latency
  - vertexdb_isolation_watermark: highest fully-resolved sequence number
  - vertexdb_open_readers: snapshots currently pinning a read sequence number

WAL:

  - vertexdb_wal_appends_total{record_type}: records appended
  - vertexdb_wal_segment_rotations_total: segment file rotations

Schema lock:

  - vertexdb_schema_lock_wait_duration_seconds{mode}: lock acquire latency
  - vertexdb_schema_lock_timeouts_total: exclusive-acquire timeouts

Concept layer:

  - vertexdb_cardinality_violations_total: violations caught at commit time
  - vertexdb_instances_total{kind}: live instance counts

Planner/executor:

  - vertexdb_query_plan_duration_seconds: plan-build latency
  - vertexdb_rows_emitted_total: result rows produced
  - vertexdb_cartesian_activations_total: multi-candidate intersection expansions
  - vertexdb_check_step_filter_ratio: fraction of rows a check step passes

# Usage

	timer := metrics.NewTimer()
	_, err := storage.Commit(ctx, buf, openSeq, commitType)
	timer.ObserveDuration(metrics.CommitValidationDuration)
	if err != nil {
		metrics.CommitsTotal.WithLabelValues("aborted").Inc()
	} else {
		metrics.CommitsTotal.WithLabelValues("applied").Inc()
	}
*/
package metrics
