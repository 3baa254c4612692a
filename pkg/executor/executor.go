package executor

import (
	"context"
	"errors"
	"fmt"

	"github.com/cuemby/vertexdb/pkg/concept"
	"github.com/cuemby/vertexdb/pkg/planner"
	"github.com/cuemby/vertexdb/pkg/txn"
)

// ErrInterrupted is returned when the caller's interrupt channel closes
// mid-execution, matching the original's cooperative interrupt polling
// between batches rather than relying on goroutine cancellation.
var ErrInterrupted = errors.New("executor: interrupted")

// Run drives plan's steps in order over seed, chunking row batches at
// BatchSize between steps and polling interrupt before each chunk — the
// same cooperative cancellation point original_source/executor/read's
// immediate executor checks between row batches, letting a long-running
// query be cancelled without tearing down the transaction.
func Run(ctx context.Context, s *txn.Snapshot, things *concept.ThingManager, plan *planner.Plan, seed *Batch, interrupt <-chan struct{}) (*Batch, error) {
	current := seed
	for _, step := range plan.Steps {
		next := NewBatch()
		for _, chunk := range chunks(current.Rows) {
			if interrupted(interrupt) {
				return nil, ErrInterrupted
			}
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			chunkBatch := &Batch{Rows: chunk}
			var result *Batch
			var err error
			switch step.Kind {
			case planner.StepIntersection:
				result, err = runIntersection(ctx, s, things, step, chunkBatch, interrupt)
			case planner.StepCheck:
				result, err = runCheck(s, things, step, chunkBatch)
			default:
				return nil, fmt.Errorf("executor: unknown step kind %d", step.Kind)
			}
			if err != nil {
				return nil, err
			}
			next.Rows = append(next.Rows, result.Rows...)
		}
		current = next
	}
	return current, nil
}

// chunks splits rows into BatchSize-sized slices, preserving order.
func chunks(rows []Row) [][]Row {
	if len(rows) == 0 {
		return [][]Row{{}}
	}
	var out [][]Row
	for i := 0; i < len(rows); i += BatchSize {
		end := i + BatchSize
		if end > len(rows) {
			end = len(rows)
		}
		out = append(out, rows[i:end])
	}
	return out
}
