package executor

import (
	"bytes"
	"context"
	"sort"

	"github.com/cuemby/vertexdb/pkg/concept"
	"github.com/cuemby/vertexdb/pkg/planner"
	"github.com/cuemby/vertexdb/pkg/txn"
)

// runIntersection executes one StepIntersection for every row in input,
// producing the n-way sorted-merge intersection of each constraint's
// candidates on step.SortVariable, cartesian-expanded across any other
// variable each constraint additionally generates.
//
// Grounded on step_executors.rs's IntersectionExecutor: each constraint
// contributes a stream sorted on the shared variable; the merge advances
// the stream(s) holding the smallest current key until all agree, then
// every combination of the (possibly >1, when a constraint leaves another
// of its variables unbound) per-constraint candidates at that key is
// emitted — the cartesian product the original's CartesianIterator
// performs once a shared key is confirmed to intersect.
func runIntersection(ctx context.Context, s *txn.Snapshot, things *concept.ThingManager, step planner.Step, input *Batch, interrupt <-chan struct{}) (*Batch, error) {
	out := NewBatch()
	for _, row := range input.Rows {
		if interrupted(interrupt) {
			return out, context.Canceled
		}
		rows, err := intersectForRow(s, things, step, row)
		if err != nil {
			return nil, err
		}
		out.Rows = append(out.Rows, rows...)
	}
	return out, nil
}

func intersectForRow(s *txn.Snapshot, things *concept.ThingManager, step planner.Step, row Row) ([]Row, error) {
	groups := make([][]candidate, len(step.Constraints))
	for i, c := range step.Constraints {
		src, ok := sources[c.Kind]
		if !ok {
			return nil, errUnsupportedConstraint(c.Kind)
		}
		cands, err := src(s, things, row, c)
		if err != nil {
			return nil, err
		}
		for j := range cands {
			cands[j].sortKey = cands[j].row[step.SortVariable]
		}
		sort.Slice(cands, func(a, b int) bool { return bytes.Compare(cands[a].sortKey, cands[b].sortKey) < 0 })
		groups[i] = cands
	}

	keys := commonKeys(groups)
	var out []Row
	for _, key := range keys {
		perConstraint := make([][]Row, len(groups))
		for i, g := range groups {
			perConstraint[i] = rowsAtKey(g, key)
		}
		out = append(out, cartesian(row, perConstraint)...)
	}
	return out, nil
}

// commonKeys returns every sort key present in all groups, via a
// multi-cursor sorted merge (each group is individually sorted ascending).
func commonKeys(groups [][]candidate) [][]byte {
	if len(groups) == 0 {
		return nil
	}
	cursors := make([]int, len(groups))
	var out [][]byte
	for {
		done := false
		for i, g := range groups {
			if cursors[i] >= len(g) {
				done = true
				break
			}
		}
		if done {
			break
		}
		maxKey := groups[0][cursors[0]].sortKey
		for i := 1; i < len(groups); i++ {
			k := groups[i][cursors[i]].sortKey
			if bytes.Compare(k, maxKey) > 0 {
				maxKey = k
			}
		}
		allMatch := true
		for i, g := range groups {
			for cursors[i] < len(g) && bytes.Compare(g[cursors[i]].sortKey, maxKey) < 0 {
				cursors[i]++
			}
			if cursors[i] >= len(g) || !bytes.Equal(g[cursors[i]].sortKey, maxKey) {
				allMatch = false
			}
		}
		if allMatch {
			out = append(out, maxKey)
		}
		// Advance every cursor past all entries equal to maxKey, whether or not
		// this round matched, so a sort key repeated within a single group is
		// never re-compared (and re-emitted) on the next pass.
		for i, g := range groups {
			for cursors[i] < len(g) && bytes.Equal(g[cursors[i]].sortKey, maxKey) {
				cursors[i]++
			}
		}
	}
	return out
}

func rowsAtKey(g []candidate, key []byte) []Row {
	var out []Row
	for _, c := range g {
		if bytes.Equal(c.sortKey, key) {
			out = append(out, c.row)
		}
	}
	return out
}

// cartesian expands the per-constraint candidate rows at one confirmed
// shared key into every combination, odometer-style: groups[len-1] varies
// fastest, matching a standard mixed-radix counter.
func cartesian(base Row, groups [][]Row) []Row {
	total := 1
	for _, g := range groups {
		if len(g) == 0 {
			return nil
		}
		total *= len(g)
	}
	out := make([]Row, 0, total)
	counters := make([]int, len(groups))
	for n := 0; n < total; n++ {
		merged := base.Clone()
		for gi, g := range groups {
			for k, v := range g[counters[gi]] {
				merged[k] = v
			}
		}
		out = append(out, merged)

		for gi := len(groups) - 1; gi >= 0; gi-- {
			counters[gi]++
			if counters[gi] < len(groups[gi]) {
				break
			}
			counters[gi] = 0
		}
	}
	return out
}

func interrupted(ch <-chan struct{}) bool {
	if ch == nil {
		return false
	}
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
