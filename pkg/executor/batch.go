/*
Package executor implements component I: the row-batch execution engine
that runs a pkg/planner Plan's steps over pkg/txn snapshots. Run
dispatches the two step kinds planner.StepKind defines: sort-merge
intersection with cartesian expansion, and check. Negation, disjunction,
assignment and unsorted-join are implemented as unexported step
functions; Run does not dispatch them.

Grounded on original_source/executor/step_executors.rs (the step
executors and their cartesian-iterator odometer) and
original_source/executor/read/immediate_executor.rs (batch-at-a-time
driving and interrupt polling).
*/
package executor

import (
	"github.com/cuemby/vertexdb/pkg/planner"
)

// BatchSize is the number of rows processed per batch, matching the
// original's fixed-width batching (chosen to amortize interrupt-check and
// allocation overhead against real per-row work without holding
// unbounded memory for a wide intersection).
const BatchSize = 64

// Row is one variable binding assignment, produced by a step and
// consumed by the next.
type Row map[planner.Variable][]byte

// Clone returns a deep-enough copy of r (copying the map, not the value
// byte slices, which are treated as immutable once produced).
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Batch is a fixed-capacity run of rows passed between steps.
type Batch struct {
	Rows []Row
}

// NewBatch returns an empty Batch with BatchSize capacity reserved.
func NewBatch() *Batch {
	return &Batch{Rows: make([]Row, 0, BatchSize)}
}

// Full reports whether the batch has reached BatchSize rows.
func (b *Batch) Full() bool { return len(b.Rows) >= BatchSize }
