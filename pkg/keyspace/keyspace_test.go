package keyspace

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) *BoltStore {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestGet_MissingKeyReturnsErrNotFound(t *testing.T) {
	s := openStore(t)
	_, err := s.Get(Data, []byte("missing"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestWriteBatch_PutThenGetRoundTrips(t *testing.T) {
	s := openStore(t)
	require.NoError(t, s.WriteBatch(Batch{
		Keyspace: Data,
		Writes: []Write{
			{Keyspace: Data, Key: []byte("a"), Value: []byte("1")},
			{Keyspace: Data, Key: []byte("b"), Value: []byte("2")},
		},
	}))

	v, err := s.Get(Data, []byte("a"))
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), v)
}

func TestWriteBatch_NilValueDeletes(t *testing.T) {
	s := openStore(t)
	require.NoError(t, s.WriteBatch(Batch{Keyspace: Data, Writes: []Write{
		{Key: []byte("a"), Value: []byte("1")},
	}}))
	require.NoError(t, s.WriteBatch(Batch{Keyspace: Data, Writes: []Write{
		{Key: []byte("a"), Value: nil},
	}}))

	_, err := s.Get(Data, []byte("a"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestWriteBatch_KeyspacesAreIsolated(t *testing.T) {
	s := openStore(t)
	require.NoError(t, s.WriteBatch(Batch{Keyspace: Schema, Writes: []Write{
		{Key: []byte("a"), Value: []byte("schema-value")},
	}}))

	_, err := s.Get(Data, []byte("a"))
	assert.ErrorIs(t, err, ErrNotFound)

	v, err := s.Get(Schema, []byte("a"))
	require.NoError(t, err)
	assert.Equal(t, []byte("schema-value"), v)
}

func TestIterateRange_AscendingWithinBounds(t *testing.T) {
	s := openStore(t)
	require.NoError(t, s.WriteBatch(Batch{Keyspace: Data, Writes: []Write{
		{Key: []byte("a"), Value: []byte("1")},
		{Key: []byte("b"), Value: []byte("2")},
		{Key: []byte("c"), Value: []byte("3")},
		{Key: []byte("d"), Value: []byte("4")},
	}}))

	var keys []string
	err := s.IterateRange(Data, []byte("b"), []byte("d"), func(k, v []byte) (bool, error) {
		keys = append(keys, string(k))
		return true, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, keys)
}

func TestIterateRange_NilEndGoesToEnd(t *testing.T) {
	s := openStore(t)
	require.NoError(t, s.WriteBatch(Batch{Keyspace: Data, Writes: []Write{
		{Key: []byte("a"), Value: []byte("1")},
		{Key: []byte("b"), Value: []byte("2")},
	}}))

	var count int
	err := s.IterateRange(Data, []byte("a"), nil, func(k, v []byte) (bool, error) {
		count++
		return true, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestIterateRange_StopsEarlyWhenFnReturnsFalse(t *testing.T) {
	s := openStore(t)
	require.NoError(t, s.WriteBatch(Batch{Keyspace: Data, Writes: []Write{
		{Key: []byte("a"), Value: []byte("1")},
		{Key: []byte("b"), Value: []byte("2")},
		{Key: []byte("c"), Value: []byte("3")},
	}}))

	var count int
	err := s.IterateRange(Data, nil, nil, func(k, v []byte) (bool, error) {
		count++
		return false, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestIteratePrefix_OnlyMatchingKeys(t *testing.T) {
	s := openStore(t)
	require.NoError(t, s.WriteBatch(Batch{Keyspace: Data, Writes: []Write{
		{Key: []byte("user:1"), Value: []byte("a")},
		{Key: []byte("user:2"), Value: []byte("b")},
		{Key: []byte("group:1"), Value: []byte("c")},
	}}))

	var keys []string
	err := s.IteratePrefix(Data, []byte("user:"), func(k, v []byte) (bool, error) {
		keys = append(keys, string(k))
		return true, nil
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"user:1", "user:2"}, keys)
}

func TestAll_ReturnsSchemaAndData(t *testing.T) {
	assert.Equal(t, []ID{Schema, Data}, All())
}

func TestWriteBatch_EmptyIsNoop(t *testing.T) {
	s := openStore(t)
	assert.NoError(t, s.WriteBatch(Batch{Keyspace: Data}))
}
