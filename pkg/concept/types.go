/*
Package concept implements component G: the typed concept layer over
pkg/txn snapshots — entity/relation/role/attribute types and their
owns/plays/relates schema edges, and the entity/relation/attribute
instances that realize them.

Grounded on original_source/concept/type_/type_manager.rs (schema
mutation operations) and
original_source/concept/thing/thing_manager/validation/cardinality_validation.rs
(commit-time cardinality checking).
*/
package concept

import (
	"fmt"
	"sync"

	"github.com/cuemby/vertexdb/pkg/encoding"
	"github.com/cuemby/vertexdb/pkg/keyspace"
	"github.com/cuemby/vertexdb/pkg/txn"
)

// TypeManager creates and mutates the type system: entity/relation/role/
// attribute types, their supertypes, and their owns/plays/relates edges.
// Every method takes the schema snapshot it should operate within; it is
// the caller's responsibility to have opened one via txn.OpenSchema.
type TypeManager struct {
	mu      sync.Mutex
	nextID  map[encoding.Prefix]uint16
}

// NewTypeManager returns a TypeManager with fresh type-ID allocation
// state. One TypeManager is shared for the lifetime of a Storage; type-ID
// allocation is serialized by the schema lock, so the mutex here only
// protects the in-process counter against a future multi-writer schema
// path, not against true concurrent schema transactions (there can be at
// most one, by construction).
func NewTypeManager() *TypeManager {
	return &TypeManager{nextID: make(map[encoding.Prefix]uint16)}
}

func (tm *TypeManager) allocateTypeID(prefix encoding.Prefix) encoding.TypeID {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	id := tm.nextID[prefix]
	tm.nextID[prefix] = id + 1
	return encoding.TypeID(id)
}

// ErrTypeNotFound is returned when a type vertex does not exist.
var ErrTypeNotFound = fmt.Errorf("concept: type not found")

// CreateEntityType allocates and stores a new entity type, returning its
// type ID.
func (tm *TypeManager) CreateEntityType(s *txn.Snapshot, label string) (encoding.TypeID, error) {
	return tm.createType(s, encoding.PrefixEntityType, label)
}

// CreateRelationType allocates and stores a new relation type.
func (tm *TypeManager) CreateRelationType(s *txn.Snapshot, label string) (encoding.TypeID, error) {
	return tm.createType(s, encoding.PrefixRelationType, label)
}

// CreateRoleType allocates and stores a new role type, scoped to its
// owning relation type by convention of the label the caller passes
// (e.g. "employment:employee"); the role-relation relationship itself is
// recorded via SetRelates.
func (tm *TypeManager) CreateRoleType(s *txn.Snapshot, label string) (encoding.TypeID, error) {
	return tm.createType(s, encoding.PrefixRoleType, label)
}

// CreateAttributeType allocates and stores a new attribute type with the
// given value type.
func (tm *TypeManager) CreateAttributeType(s *txn.Snapshot, label string, valueType encoding.ValueType) (encoding.TypeID, error) {
	id, err := tm.createType(s, encoding.PrefixAttributeType, label)
	if err != nil {
		return 0, err
	}
	key := labelKey(encoding.PrefixAttributeType, id, "__value_type")
	if err := s.Insert(keyspace.Schema, key, []byte{byte(valueType)}); err != nil {
		return 0, err
	}
	return id, nil
}

// ValueTypeOf returns the value type a previously created attribute type
// was declared with.
func (tm *TypeManager) ValueTypeOf(s *txn.Snapshot, id encoding.TypeID) (encoding.ValueType, error) {
	key := labelKey(encoding.PrefixAttributeType, id, "__value_type")
	v, err := s.Get(keyspace.Schema, key)
	if err != nil {
		return 0, err
	}
	return encoding.ValueType(v[0]), nil
}

func (tm *TypeManager) createType(s *txn.Snapshot, prefix encoding.Prefix, label string) (encoding.TypeID, error) {
	id := tm.allocateTypeID(prefix)
	vertex := encoding.BuildTypeVertex(prefix, id)
	if err := s.Insert(keyspace.Schema, vertex, []byte(label)); err != nil {
		return 0, err
	}
	if err := s.Insert(keyspace.Schema, labelIndexKey(prefix, label), vertex); err != nil {
		return 0, err
	}
	return id, nil
}

// LookupByLabel resolves a type's ID from its label.
func (tm *TypeManager) LookupByLabel(s *txn.Snapshot, prefix encoding.Prefix, label string) (encoding.TypeID, error) {
	vertex, err := s.Get(keyspace.Schema, labelIndexKey(prefix, label))
	if err != nil {
		if err == keyspace.ErrNotFound {
			return 0, ErrTypeNotFound
		}
		return 0, err
	}
	_, id := encoding.SplitTypeVertex(vertex)
	return id, nil
}

func labelIndexKey(prefix encoding.Prefix, label string) []byte {
	out := []byte{0xF0, byte(prefix)}
	return append(out, []byte(label)...)
}

func labelKey(prefix encoding.Prefix, id encoding.TypeID, suffix string) []byte {
	out := encoding.BuildTypeVertex(prefix, id)
	out = append(out, 0xFF)
	return append(out, []byte(suffix)...)
}

// SetSupertype records that sub's supertype is super, via the sub schema
// edge (and its reverse).
func (tm *TypeManager) SetSupertype(s *txn.Snapshot, subPrefix encoding.Prefix, sub encoding.TypeID, super encoding.TypeID) error {
	subVertex := encoding.BuildTypeVertex(subPrefix, sub)
	superVertex := encoding.BuildTypeVertex(subPrefix, super)
	if err := s.Insert(keyspace.Schema, encoding.BuildSchemaEdge(encoding.EdgePrefixSub, subVertex, superVertex), nil); err != nil {
		return err
	}
	return s.Insert(keyspace.Schema, encoding.BuildSchemaEdge(encoding.EdgePrefixSubReverse, superVertex, subVertex), nil)
}

// SetOwns records that ownerType may own attributeType, with the given
// annotations (distinct/independent/unique/key and an optional
// cardinality range applied at owns-edge granularity).
func (tm *TypeManager) SetOwns(s *txn.Snapshot, ownerPrefix encoding.Prefix, ownerType encoding.TypeID, attributeType encoding.TypeID, bits encoding.AnnotationBits, min, max uint32) error {
	ownerVertex := encoding.BuildTypeVertex(ownerPrefix, ownerType)
	attrVertex := encoding.BuildTypeVertex(encoding.PrefixAttributeType, attributeType)
	value := encoding.EncodeAnnotations(bits, min, max)
	if err := s.Insert(keyspace.Schema, encoding.BuildSchemaEdge(encoding.EdgePrefixOwns, ownerVertex, attrVertex), value); err != nil {
		return err
	}
	return s.Insert(keyspace.Schema, encoding.BuildSchemaEdge(encoding.EdgePrefixOwnsReverse, attrVertex, ownerVertex), value)
}

// SetPlays records that playerType may play roleType.
func (tm *TypeManager) SetPlays(s *txn.Snapshot, playerPrefix encoding.Prefix, playerType encoding.TypeID, roleType encoding.TypeID) error {
	playerVertex := encoding.BuildTypeVertex(playerPrefix, playerType)
	roleVertex := encoding.BuildTypeVertex(encoding.PrefixRoleType, roleType)
	if err := s.Insert(keyspace.Schema, encoding.BuildSchemaEdge(encoding.EdgePrefixPlays, playerVertex, roleVertex), nil); err != nil {
		return err
	}
	return s.Insert(keyspace.Schema, encoding.BuildSchemaEdge(encoding.EdgePrefixPlaysReverse, roleVertex, playerVertex), nil)
}

// SetRelates records that relationType relates roleType, with a
// cardinality range bounding how many players may fill that role in a
// single relation instance.
func (tm *TypeManager) SetRelates(s *txn.Snapshot, relationType encoding.TypeID, roleType encoding.TypeID, min, max uint32) error {
	relationVertex := encoding.BuildTypeVertex(encoding.PrefixRelationType, relationType)
	roleVertex := encoding.BuildTypeVertex(encoding.PrefixRoleType, roleType)
	value := encoding.EncodeAnnotations(encoding.AnnotationCardinality, min, max)
	if err := s.Insert(keyspace.Schema, encoding.BuildSchemaEdge(encoding.EdgePrefixRelates, relationVertex, roleVertex), value); err != nil {
		return err
	}
	return s.Insert(keyspace.Schema, encoding.BuildSchemaEdge(encoding.EdgePrefixRelatesReverse, roleVertex, relationVertex), value)
}

// OwnsAnnotations returns the annotations ownerType declares for
// attributeType, or ok=false if no such owns edge exists.
func (tm *TypeManager) OwnsAnnotations(s *txn.Snapshot, ownerPrefix encoding.Prefix, ownerType, attributeType encoding.TypeID) (bits encoding.AnnotationBits, min, max uint32, ok bool, err error) {
	ownerVertex := encoding.BuildTypeVertex(ownerPrefix, ownerType)
	attrVertex := encoding.BuildTypeVertex(encoding.PrefixAttributeType, attributeType)
	value, getErr := s.Get(keyspace.Schema, encoding.BuildSchemaEdge(encoding.EdgePrefixOwns, ownerVertex, attrVertex))
	if getErr == keyspace.ErrNotFound {
		return 0, 0, 0, false, nil
	}
	if getErr != nil {
		return 0, 0, 0, false, getErr
	}
	bits, min, max = encoding.DecodeAnnotations(value)
	return bits, min, max, true, nil
}

// SubtypeClosure returns typeID together with every transitive subtype
// reachable from it via EdgePrefixSubReverse edges, so a cardinality check
// declared on a supertype's owns/relates edge counts instances of every
// subtype too. Matches type_manager.rs's get_subtypes_transitive, used by
// cardinality_validation.rs to count "across the source interface-type
// and its subtype closure".
func (tm *TypeManager) SubtypeClosure(s *txn.Snapshot, prefix encoding.Prefix, typeID encoding.TypeID) (map[encoding.TypeID]bool, error) {
	closure := map[encoding.TypeID]bool{typeID: true}
	frontier := []encoding.TypeID{typeID}
	for len(frontier) > 0 {
		var next []encoding.TypeID
		for _, id := range frontier {
			superVertex := encoding.BuildTypeVertex(prefix, id)
			edgePrefix := append([]byte{byte(encoding.EdgePrefixSubReverse)}, superVertex...)
			err := s.IterateRange(keyspace.Schema, edgePrefix, prefixUpperBound(edgePrefix), func(key, _ []byte) (bool, error) {
				_, sub := encoding.SplitSchemaEdge(key)
				_, subID := encoding.SplitTypeVertex(sub)
				if !closure[subID] {
					closure[subID] = true
					next = append(next, subID)
				}
				return true, nil
			})
			if err != nil {
				return nil, err
			}
		}
		frontier = next
	}
	return closure, nil
}

// RelatesCardinality returns the cardinality range relationType declares
// for roleType.
func (tm *TypeManager) RelatesCardinality(s *txn.Snapshot, relationType, roleType encoding.TypeID) (min, max uint32, ok bool, err error) {
	relationVertex := encoding.BuildTypeVertex(encoding.PrefixRelationType, relationType)
	roleVertex := encoding.BuildTypeVertex(encoding.PrefixRoleType, roleType)
	value, getErr := s.Get(keyspace.Schema, encoding.BuildSchemaEdge(encoding.EdgePrefixRelates, relationVertex, roleVertex))
	if getErr == keyspace.ErrNotFound {
		return 0, 0, false, nil
	}
	if getErr != nil {
		return 0, 0, false, getErr
	}
	_, min, max = encoding.DecodeAnnotations(value)
	return min, max, true, nil
}
