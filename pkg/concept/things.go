package concept

import (
	"sync"

	"github.com/cuemby/vertexdb/pkg/encoding"
	"github.com/cuemby/vertexdb/pkg/keyspace"
	"github.com/cuemby/vertexdb/pkg/planner/statistics"
	"github.com/cuemby/vertexdb/pkg/txn"
)

// ThingManager creates and mutates instances: entities, relations,
// attributes, has-edges, and role players. It also owns the relation
// player count tracking that decides whether the supplemental
// role-player-index edges are maintained for a given relation instance.
type ThingManager struct {
	types *TypeManager
	stats *statistics.Store

	mu               sync.Mutex
	nextObjectID     uint64
	relationIndexMax uint32 // relation_index_threshold; see AddRolePlayer
}

// NewThingManager returns a ThingManager backed by types for schema
// lookups, with relationIndexThreshold controlling the supplemental
// role-player-index maintenance threshold (spec.md §4.6, §6;
// SPEC_FULL §12 item 1). stats may be nil, in which case instance/edge
// counts simply aren't tracked and the planner falls back to its static
// Constraint.Cost estimates.
func NewThingManager(types *TypeManager, relationIndexThreshold uint32, stats *statistics.Store) *ThingManager {
	return &ThingManager{types: types, relationIndexMax: relationIndexThreshold, stats: stats}
}

func (tm *ThingManager) countType(prefix encoding.Prefix, id encoding.TypeID, delta int64) {
	if tm.stats != nil {
		tm.stats.IncrementType(prefix, id, delta)
	}
}

func (tm *ThingManager) countEdge(prefix encoding.EdgePrefix, fromType encoding.TypeID, delta int64) {
	if tm.stats != nil {
		tm.stats.IncrementEdge(byte(prefix), fromType, delta)
	}
}

func (tm *ThingManager) allocateObjectID() encoding.ObjectID {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	id := tm.nextObjectID
	tm.nextObjectID++
	return encoding.ObjectID(id)
}

// CreateEntity creates a new entity instance of entityType.
func (tm *ThingManager) CreateEntity(s *txn.Snapshot, entityType encoding.TypeID) ([]byte, error) {
	id := tm.allocateObjectID()
	vertex := encoding.BuildObjectVertex(encoding.PrefixEntity, entityType, id)
	if err := s.Insert(keyspace.Data, vertex, nil); err != nil {
		return nil, err
	}
	tm.countType(encoding.PrefixEntity, entityType, 1)
	return vertex, nil
}

// CreateRelation creates a new relation instance of relationType.
func (tm *ThingManager) CreateRelation(s *txn.Snapshot, relationType encoding.TypeID) ([]byte, error) {
	id := tm.allocateObjectID()
	vertex := encoding.BuildObjectVertex(encoding.PrefixRelation, relationType, id)
	if err := s.Insert(keyspace.Data, vertex, nil); err != nil {
		return nil, err
	}
	tm.countType(encoding.PrefixRelation, relationType, 1)
	return vertex, nil
}

// PutLongAttribute finds or creates a Long-valued attribute instance with
// value v, returning its vertex. Long values are small and never
// disambiguated — two puts of the same integer always resolve to the same
// vertex.
func (tm *ThingManager) PutLongAttribute(s *txn.Snapshot, attributeType encoding.TypeID, v int64) ([]byte, error) {
	id := encoding.EncodeInlineLong(v)
	vertex := encoding.BuildAttributeVertex(attributeType, id[:])
	if err := s.Put(keyspace.Data, vertex, nil, false); err != nil {
		return nil, err
	}
	return vertex, nil
}

// PutStringAttribute finds or creates a String-valued attribute instance
// with value v, resolving inline vs. hash-disambiguated encoding per
// encoding.BuildInlineStringID/BuildOrFindHashedStringID.
func (tm *ThingManager) PutStringAttribute(s *txn.Snapshot, attributeType encoding.TypeID, v string) ([]byte, error) {
	if id, ok := encoding.BuildInlineStringID([]byte(v)); ok {
		vertex := encoding.BuildAttributeVertex(attributeType, id[:])
		if err := s.Put(keyspace.Data, vertex, nil, false); err != nil {
			return nil, err
		}
		return vertex, nil
	}

	lookup := func(candidate [encoding.AttributeIDLen]byte) ([]byte, bool, error) {
		vertex := encoding.BuildAttributeVertex(attributeType, candidate[:])
		_, err := s.Get(keyspace.Data, vertex)
		if err == keyspace.ErrNotFound {
			return nil, false, nil
		}
		if err != nil {
			return nil, false, err
		}
		storedKey := encoding.BuildAttributeVertex(attributeType, candidate[:])
		stored, err := s.Get(keyspace.Data, hashedStringValueKey(storedKey))
		if err != nil {
			return nil, false, err
		}
		return stored, true, nil
	}

	id, _, err := encoding.BuildOrFindHashedStringID([]byte(v), lookup)
	if err != nil {
		return nil, err
	}
	vertex := encoding.BuildAttributeVertex(attributeType, id[:])
	if err := s.Put(keyspace.Data, vertex, nil, false); err != nil {
		return nil, err
	}
	if err := s.Insert(keyspace.Data, hashedStringValueKey(vertex), []byte(v)); err != nil {
		return nil, err
	}
	return vertex, nil
}

// hashedStringValueKey derives the side key a hash-disambiguated string
// attribute's full value is stored under (the vertex key itself only
// carries the hashed+disambiguated ID, not the original string, so
// disambiguation must consult this side record).
func hashedStringValueKey(vertex []byte) []byte {
	return append(append([]byte(nil), vertex...), 0xFE)
}

// SetHas records that owner has attribute (and the reverse), subject to
// the owns edge's distinct annotation: a non-distinct owns edge permits
// recording the same owner/attribute pair more than once conceptually,
// but since has-edges are keyed by owner+attribute here, re-calling SetHas
// is naturally idempotent either way.
func (tm *ThingManager) SetHas(s *txn.Snapshot, owner, attribute []byte) error {
	if err := s.Insert(keyspace.Data, encoding.BuildHasEdge(owner, attribute), nil); err != nil {
		return err
	}
	if err := s.Insert(keyspace.Data, encoding.BuildHasReverseEdge(attribute, owner), nil); err != nil {
		return err
	}
	_, ownerType, _ := encoding.SplitObjectVertex(owner)
	tm.countEdge(encoding.EdgePrefixHas, ownerType, 1)
	return nil
}

// UnsetHas removes an owner/attribute has-edge pair.
func (tm *ThingManager) UnsetHas(s *txn.Snapshot, owner, attribute []byte) error {
	if err := s.Delete(keyspace.Data, encoding.BuildHasEdge(owner, attribute)); err != nil {
		return err
	}
	if err := s.Delete(keyspace.Data, encoding.BuildHasReverseEdge(attribute, owner)); err != nil {
		return err
	}
	_, ownerType, _ := encoding.SplitObjectVertex(owner)
	tm.countEdge(encoding.EdgePrefixHas, ownerType, -1)
	return nil
}

// AddRolePlayer adds player to relation in role, maintaining the links/
// links_reverse edges and, when the relation's total player count is at
// or below relationIndexMax, the supplemental role-player index against
// every other current player (SPEC_FULL §12 item 1).
func (tm *ThingManager) AddRolePlayer(s *txn.Snapshot, relation, player []byte, role encoding.TypeID) error {
	if err := s.Insert(keyspace.Data, encoding.BuildLinksEdge(relation, player, role), nil); err != nil {
		return err
	}
	if err := s.Insert(keyspace.Data, encoding.BuildLinksReverseEdge(player, relation, role), nil); err != nil {
		return err
	}
	_, relationType, _ := encoding.SplitObjectVertex(relation)
	tm.countEdge(encoding.EdgePrefixLinks, relationType, 1)

	players, err := tm.playersOf(s, relation)
	if err != nil {
		return err
	}
	if uint32(len(players)) > tm.relationIndexMax { // players already includes player
		return nil // too many players to maintain the index; planner falls back to the relation vertex
	}
	for _, other := range players {
		if bytesEqual(other.vertex, player) {
			continue
		}
		if err := s.Insert(keyspace.Data, encoding.BuildRolePlayerIndexEdge(player, other.vertex, relation, role, other.role), nil); err != nil {
			return err
		}
		if err := s.Insert(keyspace.Data, encoding.BuildRolePlayerIndexEdge(other.vertex, player, relation, other.role, role), nil); err != nil {
			return err
		}
	}
	return nil
}

type rolePlayer struct {
	vertex []byte
	role   encoding.TypeID
}

func (tm *ThingManager) playersOf(s *txn.Snapshot, relation []byte) ([]rolePlayer, error) {
	var out []rolePlayer
	prefix := append([]byte{byte(encoding.EdgePrefixLinks)}, relation...)
	err := s.IterateRange(keyspace.Data, prefix, prefixUpperBound(prefix), func(key, _ []byte) (bool, error) {
		_, to, role := encoding.SplitLinksEdge(key)
		out = append(out, rolePlayer{vertex: append([]byte(nil), to...), role: role})
		return true, nil
	})
	return out, err
}

func prefixUpperBound(prefix []byte) []byte {
	out := append([]byte(nil), prefix...)
	for i := len(out) - 1; i >= 0; i-- {
		if out[i] != 0xFF {
			out[i]++
			return out[:i+1]
		}
	}
	return nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// RemoveRolePlayer removes player from relation's role, tearing down the
// links edges and any role-player-index entries involving it.
func (tm *ThingManager) RemoveRolePlayer(s *txn.Snapshot, relation, player []byte, role encoding.TypeID) error {
	if err := s.Delete(keyspace.Data, encoding.BuildLinksEdge(relation, player, role)); err != nil {
		return err
	}
	if err := s.Delete(keyspace.Data, encoding.BuildLinksReverseEdge(player, relation, role)); err != nil {
		return err
	}
	_, relationType, _ := encoding.SplitObjectVertex(relation)
	tm.countEdge(encoding.EdgePrefixLinks, relationType, -1)

	players, err := tm.playersOf(s, relation)
	if err != nil {
		return err
	}
	for _, other := range players {
		if bytesEqual(other.vertex, player) {
			continue
		}
		_ = s.Delete(keyspace.Data, encoding.BuildRolePlayerIndexEdge(player, other.vertex, relation, role, other.role))
		_ = s.Delete(keyspace.Data, encoding.BuildRolePlayerIndexEdge(other.vertex, player, relation, other.role, role))
	}
	return nil
}
