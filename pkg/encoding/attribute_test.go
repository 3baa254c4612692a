package encoding

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildInlineStringID_ShortString(t *testing.T) {
	id, ok := BuildInlineStringID([]byte("alice"))
	require.True(t, ok)
	assert.True(t, IsInlineStringID(id))
	assert.Equal(t, []byte("alice"), InlineStringBytes(id))
}

func TestBuildInlineStringID_TooLongRefuses(t *testing.T) {
	long := bytes.Repeat([]byte("x"), stringInlineCapacity+1)
	_, ok := BuildInlineStringID(long)
	assert.False(t, ok)
}

func TestBuildInlineStringID_ExactCapacityFits(t *testing.T) {
	exact := bytes.Repeat([]byte("y"), stringInlineCapacity)
	id, ok := BuildInlineStringID(exact)
	require.True(t, ok)
	assert.Equal(t, exact, InlineStringBytes(id))
}

func TestInlineStringBytes_PanicsOnHashedID(t *testing.T) {
	var id [AttributeIDLen]byte
	id[AttributeIDLen-1] = tailIsHashMask
	assert.Panics(t, func() { InlineStringBytes(id) })
}

// fakeStore is a minimal ExistingHashLookup backed by an in-memory map, for
// exercising BuildOrFindHashedStringID's disambiguation loop without a real
// keyspace.
type fakeStore struct {
	entries map[[AttributeIDLen]byte][]byte
}

func newFakeStore() *fakeStore {
	return &fakeStore{entries: make(map[[AttributeIDLen]byte][]byte)}
}

func (f *fakeStore) lookup(candidate [AttributeIDLen]byte) ([]byte, bool, error) {
	v, ok := f.entries[candidate]
	return v, ok, nil
}

func (f *fakeStore) put(id [AttributeIDLen]byte, s []byte) {
	f.entries[id] = append([]byte(nil), s...)
}

func TestBuildOrFindHashedStringID_FreshAllocation(t *testing.T) {
	store := newFakeStore()
	long := bytes.Repeat([]byte("z"), stringInlineCapacity+10)

	id, found, err := BuildOrFindHashedStringID(long, store.lookup)
	require.NoError(t, err)
	assert.False(t, found)
	assert.True(t, id[AttributeIDLen-1]&tailIsHashMask != 0)
}

func TestBuildOrFindHashedStringID_ReusesIdenticalString(t *testing.T) {
	store := newFakeStore()
	long := bytes.Repeat([]byte("z"), stringInlineCapacity+10)

	id, found, err := BuildOrFindHashedStringID(long, store.lookup)
	require.NoError(t, err)
	require.False(t, found)
	store.put(id, long)

	again, found, err := BuildOrFindHashedStringID(long, store.lookup)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, id, again)
}

// TestBuildOrFindHashedStringID_AdvancesDisambiguatorOnOccupiedSlot forces a
// same hash-prefix+hash pair to be occupied by an unrelated string, and
// checks the allocator advances to the next disambiguator byte rather than
// reusing or clobbering the occupied slot.
func TestBuildOrFindHashedStringID_AdvancesDisambiguatorOnOccupiedSlot(t *testing.T) {
	store := newFakeStore()
	long := bytes.Repeat([]byte("z"), stringInlineCapacity+10)

	prefix, hash := hashPrefixAndHash(long)
	var occupied [AttributeIDLen]byte
	copy(occupied[:hashedPrefixLen], prefix[:])
	copy(occupied[hashedPrefixLen:hashedPrefixLen+hashLen], hash[:])
	occupied[AttributeIDLen-1] = tailIsHashMask | 0 // disambiguator 0 taken by unrelated content
	store.put(occupied, []byte("unrelated content"))

	id, found, err := BuildOrFindHashedStringID(long, store.lookup)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, byte(1), id[AttributeIDLen-1]&0x7f, "disambiguator must advance past the occupied slot")
}

func TestEncodeDecodeInlineLong(t *testing.T) {
	b := EncodeInlineLong(-12345)
	assert.Equal(t, int64(-12345), DecodeInlineLong(b))
}

func TestEncodeDecodeInlineDouble(t *testing.T) {
	b := EncodeInlineDouble(3.14159)
	assert.InDelta(t, 3.14159, DecodeInlineDouble(b), 1e-12)
}

func TestAttributeVertexRoundTrip(t *testing.T) {
	id, ok := BuildInlineStringID([]byte("bob"))
	require.True(t, ok)

	key := BuildAttributeVertex(5, id[:])
	assert.Len(t, key, AttributeVertexLen)

	typeID, gotID := SplitAttributeVertex(key)
	assert.Equal(t, TypeID(5), typeID)
	assert.Equal(t, id[:], gotID)
}

func TestAttributeVertexZeroPadsShortInlineIDs(t *testing.T) {
	longID := EncodeInlineLong(42)
	key := BuildAttributeVertex(1, longID[:])
	_, gotID := SplitAttributeVertex(key)
	// The 8-byte long ID occupies the front of the AttributeIDLen-byte
	// field; the remainder is zero-padded.
	assert.Equal(t, longID[:], gotID[:8])
	for _, b := range gotID[8:] {
		assert.Equal(t, byte(0), b)
	}
}
