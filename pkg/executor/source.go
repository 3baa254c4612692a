package executor

import (
	"fmt"
	"sort"

	"github.com/cuemby/vertexdb/pkg/concept"
	"github.com/cuemby/vertexdb/pkg/encoding"
	"github.com/cuemby/vertexdb/pkg/keyspace"
	"github.com/cuemby/vertexdb/pkg/planner"
	"github.com/cuemby/vertexdb/pkg/txn"
)

// candidate is one row a constraint source produces for a partially bound
// input row, together with the sort key the intersection merge compares
// on (the byte encoding of the constraint's intersection variable).
type candidate struct {
	sortKey []byte
	row     Row
}

// Source produces every candidate binding for a constraint given the
// variables already bound in row, sorted ascending by sortKey so the
// intersection step can merge multiple sources with a simple cursor walk.
type Source func(s *txn.Snapshot, things *concept.ThingManager, bound Row, c planner.Constraint) ([]candidate, error)

// sources is the fixed table of constraint-kind sources, grounded on
// original_source/executor/read/immediate_executor.rs's per-constraint
// InstructionExecutor variants, reduced here to direct keyspace range
// scans over pkg/concept's edge encodings.
var sources = map[planner.ConstraintKind]Source{
	planner.ConstraintHas:   hasSource,
	planner.ConstraintLinks: linksSource,
	planner.ConstraintIsa:   isaSource,
}

// hasSource iterates has-edges: if the owner variable is bound, scans
// owner->attribute edges; if only the attribute is bound, scans
// has_reverse. Requires Constraint.Variables == [owner, attribute].
func hasSource(s *txn.Snapshot, _ *concept.ThingManager, bound Row, c planner.Constraint) ([]candidate, error) {
	if len(c.Variables) != 2 {
		return nil, fmt.Errorf("executor: has constraint needs exactly 2 variables")
	}
	owner, attribute := c.Variables[0], c.Variables[1]
	var out []candidate

	if ownerVal, ok := bound[owner]; ok {
		prefix := encoding.BuildHasEdge(ownerVal, nil)
		prefix = prefix[:1+encoding.ObjectVertexLen]
		err := s.IterateRange(keyspace.Data, prefix, upperBound(prefix), func(key, _ []byte) (bool, error) {
			attrVertex := key[1+encoding.ObjectVertexLen:]
			row := Row{owner: ownerVal, attribute: append([]byte(nil), attrVertex...)}
			out = append(out, candidate{sortKey: row[attribute], row: row})
			return true, nil
		})
		return out, err
	}
	if attrVal, ok := bound[attribute]; ok {
		prefix := encoding.BuildHasReverseEdge(attrVal, nil)
		prefix = prefix[:1+encoding.AttributeVertexLen]
		err := s.IterateRange(keyspace.Data, prefix, upperBound(prefix), func(key, _ []byte) (bool, error) {
			ownerVertex := key[1+encoding.AttributeVertexLen:]
			row := Row{owner: append([]byte(nil), ownerVertex...), attribute: attrVal}
			out = append(out, candidate{sortKey: row[owner], row: row})
			return true, nil
		})
		return out, err
	}
	return nil, fmt.Errorf("executor: has constraint requires owner or attribute bound")
}

// linksSource iterates links-edges for a bound relation, producing one
// candidate per player; the role is not bound. Requires Constraint.Variables == [relation,
// player] with GeneratedVariables naming player (role is fixed per
// constraint instance at plan time, not modeled as a variable here).
func linksSource(s *txn.Snapshot, _ *concept.ThingManager, bound Row, c planner.Constraint) ([]candidate, error) {
	if len(c.Variables) != 2 {
		return nil, fmt.Errorf("executor: links constraint needs exactly 2 variables")
	}
	relation, player := c.Variables[0], c.Variables[1]
	relVal, ok := bound[relation]
	if !ok {
		return nil, fmt.Errorf("executor: links constraint requires relation bound")
	}
	prefix := append([]byte{byte(encoding.EdgePrefixLinks)}, relVal...)
	var out []candidate
	err := s.IterateRange(keyspace.Data, prefix, upperBound(prefix), func(key, _ []byte) (bool, error) {
		_, to, _ := encoding.SplitLinksEdge(key)
		row := Row{relation: relVal, player: append([]byte(nil), to...)}
		out = append(out, candidate{sortKey: row[player], row: row})
		return true, nil
	})
	return out, err
}

// TypeBinder supplies the fixed type an Isa constraint scans. isaSource
// scans every instance of that type, binding the constraint's single
// instance variable (Constraint.Variables[0]); the type is not carried on
// the constraint or the row, but looked up by variable name in the binders
// RegisterIsaType installs.
type TypeBinder func(c planner.Constraint) (encoding.Prefix, encoding.TypeID)

// isaTypeBinders is populated by callers that need Isa constraints resolved;
// kept as a package-level registry since planner.Constraint carries no type
// payload of its own (it is execution-agnostic).
var isaTypeBinders = map[string]TypeBinder{}

// RegisterIsaType associates an instance variable name with the fixed
// (prefix, typeID) an Isa constraint on that variable scans.
func RegisterIsaType(variable planner.Variable, prefix encoding.Prefix, typeID encoding.TypeID) {
	isaTypeBinders[string(variable)] = func(planner.Constraint) (encoding.Prefix, encoding.TypeID) {
		return prefix, typeID
	}
}

func isaSource(s *txn.Snapshot, _ *concept.ThingManager, _ Row, c planner.Constraint) ([]candidate, error) {
	if len(c.Variables) != 1 {
		return nil, fmt.Errorf("executor: isa constraint needs exactly 1 variable")
	}
	v := c.Variables[0]
	binder, ok := isaTypeBinders[string(v)]
	if !ok {
		return nil, fmt.Errorf("executor: isa constraint on %q has no registered type", v)
	}
	prefix, typeID := binder(c)
	scanPrefix := encoding.BuildTypeVertex(prefix, typeID)
	var out []candidate
	err := s.IterateRange(keyspace.Data, scanPrefix, upperBound(scanPrefix), func(key, _ []byte) (bool, error) {
		row := Row{v: append([]byte(nil), key...)}
		out = append(out, candidate{sortKey: key, row: row})
		return true, nil
	})
	sort.Slice(out, func(i, j int) bool { return string(out[i].sortKey) < string(out[j].sortKey) })
	return out, err
}

func upperBound(prefix []byte) []byte {
	out := append([]byte(nil), prefix...)
	for i := len(out) - 1; i >= 0; i-- {
		if out[i] != 0xFF {
			out[i]++
			return out[:i+1]
		}
	}
	return nil
}
