package executor

import (
	"context"
	"fmt"

	"github.com/cuemby/vertexdb/pkg/concept"
	"github.com/cuemby/vertexdb/pkg/planner"
	"github.com/cuemby/vertexdb/pkg/txn"
)

func errUnsupportedConstraint(k planner.ConstraintKind) error {
	return fmt.Errorf("executor: no source registered for constraint kind %d", k)
}

// runCheck executes a StepCheck: for every input row, re-derive the
// constraint's candidates given the row's bindings and keep the row only
// if at least one candidate's generated variables already agree with what
// the row has bound (or the constraint generates nothing new and simply
// produced at least one match), matching a Comparison/fully-bound Has or
// Links constraint used as a filter rather than a binder.
func runCheck(s *txn.Snapshot, things *concept.ThingManager, step planner.Step, input *Batch) (*Batch, error) {
	out := NewBatch()
	c := step.Constraints[0]

	if c.Kind == planner.ConstraintComparison {
		for _, row := range input.Rows {
			ok, err := evaluateComparison(c, row)
			if err != nil {
				return nil, err
			}
			if ok {
				out.Rows = append(out.Rows, row)
			}
		}
		return out, nil
	}

	src, ok := sources[c.Kind]
	if !ok {
		return nil, errUnsupportedConstraint(c.Kind)
	}
	for _, row := range input.Rows {
		cands, err := src(s, things, row, c)
		if err != nil {
			return nil, err
		}
		if rowSatisfiedBy(row, c, cands) {
			out.Rows = append(out.Rows, row)
		}
	}
	return out, nil
}

// rowSatisfiedBy reports whether any candidate agrees with row on every
// variable the constraint names (the bound ones must match exactly; the
// check doesn't need to bind anything new since a Check step's
// constraint's variables are, by construction, already fully bound).
func rowSatisfiedBy(row Row, c planner.Constraint, cands []candidate) bool {
	for _, cand := range cands {
		match := true
		for _, v := range c.Variables {
			existing, have := row[v]
			if !have {
				continue
			}
			if produced, ok := cand.row[v]; !ok || string(produced) != string(existing) {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

// Comparator evaluates a ConstraintComparison constraint's two (or more)
// bound variables. Registered per comparison operator out of band, since
// planner.Constraint carries no operator payload.
type Comparator func(row Row, vars []planner.Variable) (bool, error)

var comparators = map[string]Comparator{}

// RegisterComparator installs the comparison function used for
// Constraint.Variables sequences tagged by name (e.g. "eq", "lt"); the
// planner layer is expected to stash the operator name as the sole entry
// of GeneratedVariables, a convention owned entirely by this package's
// caller.
func RegisterComparator(name string, fn Comparator) { comparators[name] = fn }

func evaluateComparison(c planner.Constraint, row Row) (bool, error) {
	if len(c.GeneratedVariables) != 1 {
		return false, fmt.Errorf("executor: comparison constraint must name its operator as GeneratedVariables[0]")
	}
	fn, ok := comparators[string(c.GeneratedVariables[0])]
	if !ok {
		return false, fmt.Errorf("executor: no comparator registered for operator %q", c.GeneratedVariables[0])
	}
	return fn(row, c.Variables)
}

// runNegation executes a NegationPattern's single branch for each input
// row and keeps the row only if the branch plan produces zero results —
// matching a negation's semantics of "this pattern must not match".
func runNegation(ctx context.Context, s *txn.Snapshot, things *concept.ThingManager, n *planner.PlannedNested, input *Batch, interrupt <-chan struct{}) (*Batch, error) {
	if len(n.Branches) != 1 {
		return nil, fmt.Errorf("executor: negation must have exactly one branch")
	}
	out := NewBatch()
	for _, row := range input.Rows {
		seed := &Batch{Rows: []Row{row}}
		result, err := Run(ctx, s, things, n.Branches[0], seed, interrupt)
		if err != nil {
			return nil, err
		}
		if len(result.Rows) == 0 {
			out.Rows = append(out.Rows, row)
		}
	}
	return out, nil
}

// runDisjunction executes every branch for each input row and unions
// their outputs, matching "at least one of these patterns must match",
// each branch producing its own (possibly further-bound) rows.
func runDisjunction(ctx context.Context, s *txn.Snapshot, things *concept.ThingManager, n *planner.PlannedNested, input *Batch, interrupt <-chan struct{}) (*Batch, error) {
	out := NewBatch()
	for _, row := range input.Rows {
		seed := &Batch{Rows: []Row{row}}
		for _, branch := range n.Branches {
			result, err := Run(ctx, s, things, branch, seed, interrupt)
			if err != nil {
				return nil, err
			}
			out.Rows = append(out.Rows, result.Rows...)
		}
	}
	return out, nil
}

// Assigner computes an assignment/function-call constraint's output value
// from its already-bound input variables.
type Assigner func(row Row, inputs []planner.Variable) ([]byte, error)

var assigners = map[string]Assigner{}

// RegisterAssigner installs the function body executed for a
// ConstraintFunctionCall constraint whose first GeneratedVariables entry
// names it (the output variable is appended after the function name in
// GeneratedVariables, i.e. GeneratedVariables == [fnName, outputVar]).
func RegisterAssigner(name string, fn Assigner) { assigners[name] = fn }

// runAssignment evaluates a ConstraintFunctionCall constraint for every
// input row, binding its output variable; a function that returns a nil
// value drops the row (function calls filter, they don't merely
// annotate), and a function error stops the step and is returned.
func runAssignment(step planner.Step, input *Batch) (*Batch, error) {
	c := step.Constraints[0]
	if len(c.GeneratedVariables) != 2 {
		return nil, fmt.Errorf("executor: function-call constraint must declare [fnName, outputVar] in GeneratedVariables")
	}
	fnName, outputVar := string(c.GeneratedVariables[0]), c.GeneratedVariables[1]
	fn, ok := assigners[fnName]
	if !ok {
		return nil, fmt.Errorf("executor: no assigner registered for function %q", fnName)
	}
	out := NewBatch()
	for _, row := range input.Rows {
		value, err := fn(row, c.Variables)
		if err != nil {
			return nil, err
		}
		if value == nil {
			continue
		}
		merged := row.Clone()
		merged[outputVar] = value
		out.Rows = append(out.Rows, merged)
	}
	return out, nil
}

// runUnsortedJoin executes a constraint group as a plain nested-loop join
// rather than a sorted merge, used when a step's constraints don't share
// a single clean intersection variable (e.g. a multi-variable Links
// constraint joined against a Has constraint on an unrelated variable).
// Unlike StepIntersection, this makes no sortedness assumption and
// degrades to one source call per input row per constraint, cross-joined.
func runUnsortedJoin(s *txn.Snapshot, things *concept.ThingManager, step planner.Step, input *Batch) (*Batch, error) {
	out := NewBatch()
	for _, row := range input.Rows {
		rows := []Row{row}
		for _, c := range step.Constraints {
			src, ok := sources[c.Kind]
			if !ok {
				return nil, errUnsupportedConstraint(c.Kind)
			}
			var next []Row
			for _, r := range rows {
				cands, err := src(s, things, r, c)
				if err != nil {
					return nil, err
				}
				for _, cand := range cands {
					merged := r.Clone()
					for k, v := range cand.row {
						merged[k] = v
					}
					next = append(next, merged)
				}
			}
			rows = next
		}
		out.Rows = append(out.Rows, rows...)
	}
	return out, nil
}
