package concept

import (
	"context"
	"fmt"

	"github.com/cuemby/vertexdb/pkg/encoding"
	"github.com/cuemby/vertexdb/pkg/keyspace"
	"github.com/cuemby/vertexdb/pkg/seqnum"
	"github.com/cuemby/vertexdb/pkg/txn"
)

// CardinalityViolation describes one ownership or role-player cardinality
// bound a transaction's writes would leave broken if committed.
type CardinalityViolation struct {
	Owner         []byte // set for an owns-cardinality violation
	AttributeType encoding.TypeID
	Relation      []byte // set for a relates-cardinality violation
	RoleType      encoding.TypeID
	Count         int
	Min, Max      uint32
}

func (v CardinalityViolation) Error() string {
	if v.Owner != nil {
		return fmt.Sprintf("concept: owner has %d attributes of type %d, want [%d,%d]", v.Count, v.AttributeType, v.Min, v.Max)
	}
	return fmt.Sprintf("concept: relation has %d players in role %d, want [%d,%d]", v.Count, v.RoleType, v.Min, v.Max)
}

// ownerAttrPair and relationRolePair are the dirty-set keys a ChangeTracker
// accumulates: every owner/attribute-type pair and relation/role pair
// touched by a has- or role-player mutation during the transaction.
type ownerAttrPair struct {
	owner         string
	ownerPrefix   encoding.Prefix
	attributeType encoding.TypeID
}

type relationRolePair struct {
	relation string
	roleType encoding.TypeID
}

// ChangeTracker batches cardinality-relevant mutations across a
// transaction and validates them once, at commit time, rather than
// failing fast on the first write that looks locally invalid — matching
// cardinality_validation.rs's batch-reporting design (SPEC_FULL §12 item
// 6): an owner can legally drop below its minimum mid-transaction as long
// as it is back in bounds by commit.
type ChangeTracker struct {
	types *TypeManager

	dirtyOwns    map[ownerAttrPair]struct{}
	dirtyRelates map[relationRolePair]struct{}
}

// NewChangeTracker returns an empty ChangeTracker.
func NewChangeTracker(types *TypeManager) *ChangeTracker {
	return &ChangeTracker{
		types:        types,
		dirtyOwns:    make(map[ownerAttrPair]struct{}),
		dirtyRelates: make(map[relationRolePair]struct{}),
	}
}

// TrackHasChange records that owner's ownership of attributeType may have
// changed; call this alongside ThingManager.SetHas/UnsetHas.
func (ct *ChangeTracker) TrackHasChange(ownerPrefix encoding.Prefix, owner []byte, attributeType encoding.TypeID) {
	ct.dirtyOwns[ownerAttrPair{owner: string(owner), ownerPrefix: ownerPrefix, attributeType: attributeType}] = struct{}{}
}

// TrackRolePlayerChange records that relation's player set for roleType
// may have changed; call this alongside
// ThingManager.AddRolePlayer/RemoveRolePlayer.
func (ct *ChangeTracker) TrackRolePlayerChange(relation []byte, roleType encoding.TypeID) {
	ct.dirtyRelates[relationRolePair{relation: string(relation), roleType: roleType}] = struct{}{}
}

// Validate counts every dirty owns and relates pair against its declared
// cardinality bounds as of s's current view (committed plus buffered
// writes), and returns every violation found — never failing fast. An
// empty, non-nil-checked return means the transaction's cardinality
// constraints all hold and it is safe to commit.
func (ct *ChangeTracker) Validate(s *txn.Snapshot) ([]CardinalityViolation, error) {
	var violations []CardinalityViolation

	for pair := range ct.dirtyOwns {
		_, min, max, ok, err := ct.types.OwnsAnnotations(s, pair.ownerPrefix, ownerTypeOf(pair), pair.attributeType)
		if err != nil {
			return nil, err
		}
		if !ok || (min == 0 && max == 0) {
			continue // no cardinality annotation declared: unconstrained
		}
		closure, err := ct.types.SubtypeClosure(s, encoding.PrefixAttributeType, pair.attributeType)
		if err != nil {
			return nil, err
		}
		count, err := countHasEdges(s, []byte(pair.owner), closure)
		if err != nil {
			return nil, err
		}
		if uint32(count) < min || (max > 0 && uint32(count) > max) {
			violations = append(violations, CardinalityViolation{
				Owner: []byte(pair.owner), AttributeType: pair.attributeType,
				Count: count, Min: min, Max: max,
			})
		}
	}

	for pair := range ct.dirtyRelates {
		relationType, err := relationTypeOfInstance(s, []byte(pair.relation))
		if err != nil {
			return nil, err
		}
		min, max, ok, err := ct.types.RelatesCardinality(s, relationType, pair.roleType)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		count, err := countRolePlayers(s, []byte(pair.relation), pair.roleType)
		if err != nil {
			return nil, err
		}
		if uint32(count) < min || (max > 0 && uint32(count) > max) {
			violations = append(violations, CardinalityViolation{
				Relation: []byte(pair.relation), RoleType: pair.roleType,
				Count: count, Min: min, Max: max,
			})
		}
	}

	return violations, nil
}

// CardinalityError reports that a transaction's commit was rejected
// because one or more of its ownership/role-player cardinality bounds
// would be violated.
type CardinalityError struct {
	Violations []CardinalityViolation
}

func (e *CardinalityError) Error() string {
	if len(e.Violations) == 1 {
		return e.Violations[0].Error()
	}
	return fmt.Sprintf("concept: %d cardinality violations, first: %s", len(e.Violations), e.Violations[0].Error())
}

// CommitWithCardinalityCheck validates every has/role-player mutation
// ct accumulated during the transaction and, only if all bounds hold,
// commits s. A failing check rolls s back rather than leaving it open,
// matching a single commit-time gate (spec.md §4.5) rather than exposing
// a separate validate-then-commit protocol callers could get wrong.
func CommitWithCardinalityCheck(ctx context.Context, ct *ChangeTracker, s *txn.Snapshot) (seqnum.Number, error) {
	violations, err := ct.Validate(s)
	if err != nil {
		s.Rollback()
		return 0, err
	}
	if len(violations) > 0 {
		s.Rollback()
		return 0, &CardinalityError{Violations: violations}
	}
	return s.Commit(ctx)
}

// ownerTypeOf extracts the owner's type ID back out of its vertex key,
// since the dirty-set key stores the owner vertex, not its decomposed
// type.
func ownerTypeOf(pair ownerAttrPair) encoding.TypeID {
	_, typeID, _ := encoding.SplitObjectVertex([]byte(pair.owner))
	return typeID
}

func relationTypeOfInstance(_ *txn.Snapshot, relationVertex []byte) (encoding.TypeID, error) {
	_, typeID, _ := encoding.SplitObjectVertex(relationVertex)
	return typeID, nil
}

// countHasEdges counts owner's has-edges whose attribute type is in
// attributeTypes (the declared attribute type's subtype closure), matching
// cardinality_validation.rs's per-interface-type counting: an owner that
// owns several single-valued attribute types must not have one type's
// count inflated by another's edges.
func countHasEdges(s *txn.Snapshot, owner []byte, attributeTypes map[encoding.TypeID]bool) (int, error) {
	prefix := append([]byte{byte(encoding.EdgePrefixHas)}, owner...)
	count := 0
	err := s.IterateRange(keyspace.Data, prefix, prefixUpperBound(prefix), func(key, _ []byte) (bool, error) {
		attrVertex := key[1+encoding.ObjectVertexLen:]
		attrType, _ := encoding.SplitAttributeVertex(attrVertex)
		if attributeTypes[attrType] {
			count++
		}
		return true, nil
	})
	return count, err
}

func countRolePlayers(s *txn.Snapshot, relation []byte, role encoding.TypeID) (int, error) {
	prefix := append([]byte{byte(encoding.EdgePrefixLinks)}, relation...)
	count := 0
	err := s.IterateRange(keyspace.Data, prefix, prefixUpperBound(prefix), func(key, _ []byte) (bool, error) {
		_, _, r := encoding.SplitLinksEdge(key)
		if r == role {
			count++
		}
		return true, nil
	})
	return count, err
}
