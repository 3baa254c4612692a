package encoding

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTypeVertexRoundTrip(t *testing.T) {
	key := BuildTypeVertex(PrefixEntityType, 42)
	assert.Len(t, key, TypeVertexLen)

	prefix, typeID := SplitTypeVertex(key)
	assert.Equal(t, PrefixEntityType, prefix)
	assert.Equal(t, TypeID(42), typeID)
}

func TestObjectVertexRoundTrip(t *testing.T) {
	key := BuildObjectVertex(PrefixEntity, 7, 1001)
	assert.Len(t, key, ObjectVertexLen)

	prefix, typeID, objectID := SplitObjectVertex(key)
	assert.Equal(t, PrefixEntity, prefix)
	assert.Equal(t, TypeID(7), typeID)
	assert.Equal(t, ObjectID(1001), objectID)
}

func TestIsObjectVertex(t *testing.T) {
	assert.True(t, IsObjectVertex(PrefixEntity))
	assert.True(t, IsObjectVertex(PrefixRelation))
	assert.False(t, IsObjectVertex(PrefixAttribute))
	assert.False(t, IsObjectVertex(PrefixEntityType))
}

func TestObjectVerticesWithSameTypeSortByObjectID(t *testing.T) {
	low := BuildObjectVertex(PrefixEntity, 1, 1)
	high := BuildObjectVertex(PrefixEntity, 1, 2)
	assert.Less(t, string(low), string(high))
}
