package encoding

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
)

// ValueType enumerates the attribute value types spec.md §3.3 names.
type ValueType uint8

const (
	ValueBoolean ValueType = iota
	ValueLong
	ValueDouble
	ValueDecimal
	ValueDate
	ValueDateTime
	ValueDateTimeTZ
	ValueDuration
	ValueString
	ValueStruct
)

// inlineWidth returns the fixed on-disk width of vt's attribute ID when vt
// is inlineable (every fixed-width numeric/temporal type), or 0 for
// String/Struct, whose IDs are computed by BuildInlineStringID/
// BuildOrFindHashedStringID and BuildOrFindHashedStructID below.
func inlineWidth(vt ValueType) int {
	switch vt {
	case ValueBoolean:
		return 1
	case ValueLong:
		return 8
	case ValueDouble:
		return 8
	case ValueDecimal:
		return 16 // scale(8) + unscaled integer(8), matches a fixed-point decimal
	case ValueDate:
		return 8 // days since epoch
	case ValueDateTime:
		return 8
	case ValueDateTimeTZ:
		return 12 // 8-byte instant + 4-byte zone offset
	case ValueDuration:
		return 12 // months(4) + days(4) + nanos varies; fixed 12-byte packed form
	default:
		return 0
	}
}

// AttributeIDLen is the width of a string or struct attribute ID: 17
// bytes, matching StringAttributeID::LENGTH (AttributeIDLength::LONG_LENGTH)
// in vertex_attribute.rs. Struct IDs use only the first 8 of these 17
// bytes (hash(7) + disambiguator(1)); the remaining bytes are left zero.
const AttributeIDLen = 17

// stringInlineCapacity is ENCODING_STRING_INLINE_CAPACITY: AttributeIDLen-1,
// the number of bytes available to store a string inline before its tail
// byte (which doubles as a hash-or-not marker and, when inline, a length).
const stringInlineCapacity = AttributeIDLen - 1

// tailIsHashMask is ENCODING_STRING_TAIL_IS_HASH_MASK: the high bit of the
// tail byte. When set, the ID is a hashed ID; when clear, the low 7 bits
// of the tail byte are the inline string's length.
const tailIsHashMask = 0b1000_0000

// hashLen is the byte width of the hash portion of a hashed string ID.
const hashLen = 8

// hashedPrefixLen is ENCODING_STRING_HASHED_PREFIX_LENGTH:
// stringInlineCapacity - hashLen bytes of the original string kept
// verbatim ahead of the hash, so two strings with the same hash but
// different prefixes are visibly distinct on disk.
const hashedPrefixLen = stringInlineCapacity - hashLen

// BuildInlineStringID encodes s directly into an AttributeIDLen-byte ID
// when it is short enough (<= stringInlineCapacity bytes), matching
// StringAttributeID::build_inline_id. ok is false when s must be hashed
// instead (see BuildOrFindHashedStringID).
func BuildInlineStringID(s []byte) (id [AttributeIDLen]byte, ok bool) {
	if len(s) > stringInlineCapacity {
		return id, false
	}
	copy(id[:], s)
	id[AttributeIDLen-1] = byte(len(s)) // high bit clear: inline, len in low 7 bits
	return id, true
}

// IsInlineStringID reports whether id encodes its string inline rather
// than as a hash.
func IsInlineStringID(id [AttributeIDLen]byte) bool {
	return id[AttributeIDLen-1]&tailIsHashMask == 0
}

// InlineStringBytes returns the original string from an inline-encoded ID.
// Panics if id is not an inline ID.
func InlineStringBytes(id [AttributeIDLen]byte) []byte {
	if !IsInlineStringID(id) {
		panic("encoding: InlineStringBytes: id is a hashed ID")
	}
	n := int(id[AttributeIDLen-1] & 0x7f)
	return append([]byte(nil), id[:n]...)
}

// ExistingHashLookup answers, for a given hash-prefix candidate ID (with
// disambiguator byte fixed), whether a key with that exact ID already
// exists and, if so, whether its full stored string equals s. Implemented
// by pkg/concept over a txn.Snapshot; encoding itself has no storage
// access.
type ExistingHashLookup func(candidate [AttributeIDLen]byte) (storedString []byte, exists bool, err error)

// hashPrefixAndHash returns the hashedPrefixLen-byte verbatim prefix and
// the hashLen-byte hash of s, matching get_hash_prefix/get_hash_hash.
func hashPrefixAndHash(s []byte) (prefix [hashedPrefixLen]byte, hash [hashLen]byte) {
	n := copy(prefix[:], s)
	_ = n
	sum := sha256.Sum256(s)
	copy(hash[:], sum[:hashLen])
	return
}

// BuildOrFindHashedStringID computes the hashed attribute ID for s (which
// is too long to inline), scanning successive disambiguator bytes via
// lookup until it finds either an existing entry whose stored string
// equals s (a reuse — Found=true) or the first free disambiguator slot (a
// fresh allocation — Found=false). Matches
// StringAttributeID::build_or_find_hashed_id /
// find_existing_or_next_disambiguated_hash.
func BuildOrFindHashedStringID(s []byte, lookup ExistingHashLookup) (id [AttributeIDLen]byte, found bool, err error) {
	prefix, hash := hashPrefixAndHash(s)
	for disambiguator := 0; disambiguator < 256; disambiguator++ {
		var candidate [AttributeIDLen]byte
		copy(candidate[:hashedPrefixLen], prefix[:])
		copy(candidate[hashedPrefixLen:hashedPrefixLen+hashLen], hash[:])
		candidate[AttributeIDLen-1] = tailIsHashMask | byte(disambiguator)

		stored, exists, err := lookup(candidate)
		if err != nil {
			return id, false, err
		}
		if !exists {
			return candidate, false, nil
		}
		if bytesEqual(stored, s) {
			return candidate, true, nil
		}
	}
	return id, false, fmt.Errorf("encoding: exhausted 256 disambiguators for a single hash prefix+hash")
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

// StructIDLen is the width of a struct attribute ID: a 7-byte hash plus a
// 1-byte disambiguator, matching StructAttributeID.
const StructIDLen = 8

// BuildOrFindHashedStructID is the Struct-value-type analogue of
// BuildOrFindHashedStringID, over the struct's canonical encoded form
// rather than a string's raw bytes.
func BuildOrFindHashedStructID(encodedStruct []byte, lookup func(candidate [StructIDLen]byte) (stored []byte, exists bool, err error)) (id [StructIDLen]byte, found bool, err error) {
	sum := sha256.Sum256(encodedStruct)
	for disambiguator := 0; disambiguator < 256; disambiguator++ {
		var candidate [StructIDLen]byte
		copy(candidate[:7], sum[:7])
		candidate[7] = byte(disambiguator)

		stored, exists, err := lookup(candidate)
		if err != nil {
			return id, false, err
		}
		if !exists {
			return candidate, false, nil
		}
		if bytesEqual(stored, encodedStruct) {
			return candidate, true, nil
		}
	}
	return id, false, fmt.Errorf("encoding: exhausted 256 disambiguators for a single struct hash")
}

// EncodeInlineLong/EncodeInlineDouble encode the two most common fixed
// numeric value types directly, since ValueLong/ValueDouble attribute
// vertices are by far the most frequent in practice and deserve a
// direct, allocation-free path rather than routing through a generic
// byte-slice inliner.

func EncodeInlineLong(v int64) [8]byte {
	var out [8]byte
	binary.BigEndian.PutUint64(out[:], uint64(v))
	return out
}

func DecodeInlineLong(b [8]byte) int64 {
	return int64(binary.BigEndian.Uint64(b[:]))
}

func EncodeInlineDouble(v float64) [8]byte {
	var out [8]byte
	binary.BigEndian.PutUint64(out[:], math.Float64bits(v))
	return out
}

func DecodeInlineDouble(b [8]byte) float64 {
	return math.Float64frombits(binary.BigEndian.Uint64(b[:]))
}

// AttributeVertexLen is the encoded length of an attribute instance vertex
// key: prefix(1) + type ID(2) + attribute ID(AttributeIDLen, padded for
// inline value types narrower than that).
const AttributeVertexLen = 1 + TypeIDLen + AttributeIDLen

// BuildAttributeVertex encodes an attribute instance vertex key from its
// already-computed attribute ID bytes (which may be shorter than
// AttributeIDLen for inline numeric/temporal types; the remainder is
// zero-padded, mirroring prefix_type_to_value_id_encoding_length's
// per-value-type width and vertex_attribute.rs's build()).
func BuildAttributeVertex(typeID TypeID, attributeID []byte) []byte {
	out := make([]byte, AttributeVertexLen)
	out[0] = byte(PrefixAttribute)
	typeID.put(out[1:])
	copy(out[1+TypeIDLen:], attributeID)
	return out
}

// SplitAttributeVertex decodes an attribute instance vertex key's type ID
// and raw attribute-ID bytes (width AttributeIDLen; callers narrow based
// on the attribute type's declared ValueType).
func SplitAttributeVertex(key []byte) (TypeID, []byte) {
	return typeIDFrom(key[1:3]), key[3 : 3+AttributeIDLen]
}
