/*
Package planner implements component H: a greedy, cost-based planner that
orders a conjunction's variables and constraints into an executable plan,
merging constraints that share an intersection variable and recursing
into nested patterns (negation, disjunction, optional).

Grounded closely on
original_source/compiler/executable/match_/planner/plan.rs's
PlanBuilder::initialise_greedy/calculate_marginal_cost/finish.
*/
package planner

import (
	"errors"
	"fmt"
)

// Variable is one variable in a conjunction's pattern.
type Variable string

// ElementKind distinguishes a variable element from a constraint element
// in the planner's bipartite dependency graph.
type ElementKind uint8

const (
	ElementVariable ElementKind = iota
	ElementConstraint
)

// ElementCost is the cost model a constraint contributes to the greedy
// search, matching ElementCost{per_input, per_output, branching_factor}.
type ElementCost struct {
	PerInput        float64
	PerOutput       float64
	BranchingFactor float64
}

// MarginalCost is the formula the greedy search minimises at each step:
// per_input + branching_factor * per_output.
func (c ElementCost) MarginalCost() float64 {
	return c.PerInput + c.BranchingFactor*c.PerOutput
}

// ConstraintKind distinguishes the constraint shapes the executor knows
// how to run as an intersection, check, or assignment step.
type ConstraintKind uint8

const (
	ConstraintHas ConstraintKind = iota
	ConstraintLinks
	ConstraintIsa
	ConstraintComparison
	ConstraintFunctionCall // only valid when every input variable is already bound
)

// Constraint is one planner element representing a pattern constraint.
type Constraint struct {
	Kind ConstraintKind
	// Variables lists every variable this constraint touches, in the order
	// the underlying executor step expects them (e.g. Has: [owner,
	// attribute]; Links: [relation, player]).
	Variables []Variable
	// GeneratedVariables names the subset of Variables this constraint
	// introduces to the plan (produces), as opposed to consumes; an
	// Assignment/FunctionCall constraint's output variable, or a fresh
	// variable position that only this constraint ever names.
	GeneratedVariables []Variable
	Cost               ElementCost
	Statistics         StatisticsLookup
}

// StatisticsLookup resolves a constraint's ElementCost dynamically from
// pkg/planner/statistics, so the greedy search reflects current instance
// counts rather than a static estimate baked in at plan-construction time.
type StatisticsLookup func() ElementCost

func (c Constraint) cost() ElementCost {
	if c.Statistics != nil {
		return c.Statistics()
	}
	return c.Cost
}

// ErrUnplannableBinding is returned when a conjunction contains an
// Assignment/FunctionCall constraint whose inputs are never bound by any
// other constraint in the same conjunction — see DESIGN.md's Open
// Question decision: the planner refuses to plan an unbound function
// binding rather than silently running it last with undefined inputs.
var ErrUnplannableBinding = errors.New("planner: function-call constraint has an unbound input variable")

// step is one entry in a finished plan: either a single constraint (a
// Check step) or a group of constraints sharing one just-produced
// "intersection variable" (an Intersection step).
type step struct {
	intersectionVariable Variable
	constraints          []Constraint
}

// Plan is the ordered, lowered output of Build: a sequence of steps ready
// for pkg/executor.
type Plan struct {
	Steps []Step
}

// Step is the lowered, executor-facing form of a planned step.
type Step struct {
	Kind         StepKind
	Constraints  []Constraint
	SortVariable Variable // meaningful for StepIntersection
}

type StepKind uint8

const (
	StepIntersection StepKind = iota
	StepCheck
)

// Build runs the greedy ordering algorithm over constraints (sharing the
// given sharedVariables, typically the conjunction's output/bound
// variables) and lowers the result into a Plan.
//
// Matches PlanBuilder::initialise_greedy: open_set starts as every
// constraint; at each step, among constraints whose variable dependencies
// are already satisfied (is_valid), pick the one with minimum marginal
// cost; if it shares exactly one variable with the immediately preceding
// group and that variable was produced this stage, merge it into the same
// intersection-variable group; otherwise flush the current group into
// ordering and start a new one.
func Build(constraints []Constraint, sharedVariables []Variable) (*Plan, error) {
	if err := checkBindable(constraints, sharedVariables); err != nil {
		return nil, err
	}

	bound := make(map[Variable]bool, len(sharedVariables))
	for _, v := range sharedVariables {
		bound[v] = true
	}

	open := append([]Constraint(nil), constraints...)
	var steps []step
	var current *step

	for len(open) > 0 {
		idx, best := selectNext(open, bound)
		if idx < 0 {
			return nil, fmt.Errorf("planner: no constraint could be scheduled (disconnected or cyclic dependency)")
		}
		chosen := open[idx]
		open = append(open[:idx], open[idx+1:]...)

		for _, v := range chosen.GeneratedVariables {
			bound[v] = true
		}

		sharedWithCurrent, sharedVar := intersectionCandidate(current, chosen)
		if current != nil && sharedWithCurrent {
			current.constraints = append(current.constraints, chosen)
		} else {
			if current != nil {
				steps = append(steps, *current)
			}
			current = &step{intersectionVariable: sharedVar, constraints: []Constraint{chosen}}
		}
		_ = best
	}
	if current != nil {
		steps = append(steps, *current)
	}

	return lower(steps), nil
}

// checkBindable implements the Open Question decision: reject up front
// any constraint whose declared Variables are never all reachable from
// sharedVariables through some ordering of GeneratedVariables, rather
// than discovering it mid-search.
func checkBindable(constraints []Constraint, sharedVariables []Variable) error {
	bound := make(map[Variable]bool, len(sharedVariables))
	for _, v := range sharedVariables {
		bound[v] = true
	}
	remaining := append([]Constraint(nil), constraints...)
	progressed := true
	for progressed && len(remaining) > 0 {
		progressed = false
		var stillRemaining []Constraint
		for _, c := range remaining {
			if dependenciesSatisfied(c, bound) {
				for _, v := range c.GeneratedVariables {
					bound[v] = true
				}
				progressed = true
			} else {
				stillRemaining = append(stillRemaining, c)
			}
		}
		remaining = stillRemaining
	}
	if len(remaining) > 0 {
		return ErrUnplannableBinding
	}
	return nil
}

func dependenciesSatisfied(c Constraint, bound map[Variable]bool) bool {
	generated := make(map[Variable]bool, len(c.GeneratedVariables))
	for _, v := range c.GeneratedVariables {
		generated[v] = true
	}
	for _, v := range c.Variables {
		if generated[v] {
			continue
		}
		if !bound[v] {
			return false
		}
	}
	return true
}

// selectNext picks the lowest-marginal-cost constraint among those whose
// dependencies are satisfied, matching calculate_marginal_cost's use as
// the tie-break across the whole open_set at each iteration.
func selectNext(open []Constraint, bound map[Variable]bool) (int, ElementCost) {
	best := -1
	var bestCost ElementCost
	bestValue := 0.0
	for i, c := range open {
		if !dependenciesSatisfied(c, bound) {
			continue
		}
		cost := c.cost()
		value := cost.MarginalCost()
		if best < 0 || value < bestValue {
			best, bestValue, bestCost = i, value, cost
		}
	}
	return best, bestCost
}

// intersectionCandidate reports whether chosen should be merged into the
// current group: it must share exactly one variable with current's group,
// and that variable must be one current's group has already produced
// (i.e. it is the group's intersection variable, or becomes it).
func intersectionCandidate(current *step, chosen Constraint) (bool, Variable) {
	if current == nil {
		return false, soleGeneratedVariable(chosen)
	}
	shared := sharedVariable(current, chosen)
	if shared == "" {
		return false, soleGeneratedVariable(chosen)
	}
	if current.intersectionVariable != "" && shared != current.intersectionVariable {
		return false, soleGeneratedVariable(chosen)
	}
	return true, shared
}

func sharedVariable(current *step, chosen Constraint) Variable {
	producedByGroup := make(map[Variable]bool)
	for _, c := range current.constraints {
		for _, v := range c.GeneratedVariables {
			producedByGroup[v] = true
		}
	}
	var found Variable
	count := 0
	for _, v := range chosen.Variables {
		if producedByGroup[v] {
			found = v
			count++
		}
	}
	if count == 1 {
		return found
	}
	return ""
}

func soleGeneratedVariable(c Constraint) Variable {
	if len(c.GeneratedVariables) == 1 {
		return c.GeneratedVariables[0]
	}
	return ""
}

// lower turns the greedy search's step groups into executor-facing Steps:
// a group of 2+ constraints sharing an intersection variable becomes a
// single StepIntersection sorted on that variable; a lone constraint
// becomes a StepCheck.
func lower(steps []step) *Plan {
	p := &Plan{}
	for _, s := range steps {
		if len(s.constraints) > 1 && s.intersectionVariable != "" {
			p.Steps = append(p.Steps, Step{Kind: StepIntersection, Constraints: s.constraints, SortVariable: s.intersectionVariable})
		} else {
			for _, c := range s.constraints {
				p.Steps = append(p.Steps, Step{Kind: StepCheck, Constraints: []Constraint{c}})
			}
		}
	}
	return p
}
