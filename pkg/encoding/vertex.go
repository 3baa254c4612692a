/*
Package encoding implements component F: the byte layout of typed graph
vertices, attribute IDs, and edges stored in pkg/keyspace's schema and
data keyspaces.

Grounded on original_source/encoding/graph/thing/vertex_attribute.rs and
edge.rs (byte-for-byte layout) and spec.md §3.3.
*/
package encoding

import "encoding/binary"

// Prefix tags the category of a vertex, the first byte of every vertex
// key.
type Prefix uint8

const (
	PrefixEntityType    Prefix = 0x10
	PrefixRelationType  Prefix = 0x11
	PrefixRoleType      Prefix = 0x12
	PrefixAttributeType Prefix = 0x13
	PrefixEntity        Prefix = 0x20
	PrefixRelation      Prefix = 0x21
	PrefixAttribute     Prefix = 0x22
)

// TypeIDLen is the width of a type ID: 2 bytes, allowing up to 65536
// distinct types per category.
const TypeIDLen = 2

// TypeID identifies one entity-type/relation-type/role-type/
// attribute-type vertex.
type TypeID uint16

func (t TypeID) put(dst []byte) { binary.BigEndian.PutUint16(dst, uint16(t)) }
func typeIDFrom(src []byte) TypeID { return TypeID(binary.BigEndian.Uint16(src)) }

// ObjectIDLen is the width of an instance ID for entities and relations.
const ObjectIDLen = 8

// ObjectID identifies one entity or relation instance, unique within its
// type.
type ObjectID uint64

func (o ObjectID) put(dst []byte) { binary.BigEndian.PutUint64(dst, uint64(o)) }
func objectIDFrom(src []byte) ObjectID { return ObjectID(binary.BigEndian.Uint64(src)) }

// TypeVertexLen is the encoded length of a type vertex key:
// prefix(1) + type ID(2).
const TypeVertexLen = 1 + TypeIDLen

// BuildTypeVertex encodes a type vertex key.
func BuildTypeVertex(prefix Prefix, typeID TypeID) []byte {
	out := make([]byte, TypeVertexLen)
	out[0] = byte(prefix)
	typeID.put(out[1:])
	return out
}

// SplitTypeVertex decodes a type vertex key.
func SplitTypeVertex(key []byte) (Prefix, TypeID) {
	return Prefix(key[0]), typeIDFrom(key[1:3])
}

// ObjectVertexLen is the encoded length of an entity/relation instance
// vertex key: prefix(1) + type ID(2) + object ID(8).
const ObjectVertexLen = 1 + TypeIDLen + ObjectIDLen

// BuildObjectVertex encodes an entity or relation instance vertex key.
func BuildObjectVertex(prefix Prefix, typeID TypeID, objectID ObjectID) []byte {
	out := make([]byte, ObjectVertexLen)
	out[0] = byte(prefix)
	typeID.put(out[1:])
	objectID.put(out[1+TypeIDLen:])
	return out
}

// SplitObjectVertex decodes an entity or relation instance vertex key.
func SplitObjectVertex(key []byte) (Prefix, TypeID, ObjectID) {
	return Prefix(key[0]), typeIDFrom(key[1:3]), objectIDFrom(key[3 : 3+ObjectIDLen])
}

// IsObjectVertex reports whether prefix identifies an entity or relation
// instance vertex (as opposed to an attribute instance, whose ID encoding
// is value-type-dependent and handled in attribute.go).
func IsObjectVertex(prefix Prefix) bool {
	return prefix == PrefixEntity || prefix == PrefixRelation
}
