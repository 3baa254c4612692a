package concept

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/vertexdb/pkg/encoding"
	"github.com/cuemby/vertexdb/pkg/keyspace"
	"github.com/cuemby/vertexdb/pkg/mvcc"
	"github.com/cuemby/vertexdb/pkg/planner/statistics"
	"github.com/cuemby/vertexdb/pkg/txn"
)

type harness struct {
	storage *mvcc.Storage
	lock    *txn.SchemaLock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	storage, err := mvcc.Open(mvcc.Config{
		Name: "test", DataDir: dir + "/data", WALDir: dir + "/wal",
		TimelineWindowSize: 16, Logger: zerolog.Nop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = storage.Close() })
	return &harness{storage: storage, lock: txn.NewSchemaLock()}
}

func (h *harness) schemaSnap(t *testing.T) *txn.Snapshot {
	t.Helper()
	s, err := txn.OpenSchema(context.Background(), h.storage, h.lock)
	require.NoError(t, err)
	return s
}

func (h *harness) writeSnap(t *testing.T) *txn.Snapshot {
	t.Helper()
	s, err := txn.Open(h.storage, h.lock, txn.ModeWrite)
	require.NoError(t, err)
	return s
}

func TestTypeManager_CreateEntityTypeAndLookupByLabel(t *testing.T) {
	h := newHarness(t)
	tm := NewTypeManager()

	s := h.schemaSnap(t)
	id, err := tm.CreateEntityType(s, "person")
	require.NoError(t, err)
	_, err = s.Commit(context.Background())
	require.NoError(t, err)

	s2 := h.schemaSnap(t)
	got, err := tm.LookupByLabel(s2, encoding.PrefixEntityType, "person")
	require.NoError(t, err)
	assert.Equal(t, id, got)
	_, err = s2.Commit(context.Background())
	require.NoError(t, err)
}

func TestTypeManager_LookupByLabel_UnknownReturnsErrTypeNotFound(t *testing.T) {
	h := newHarness(t)
	tm := NewTypeManager()
	s := h.schemaSnap(t)
	_, err := tm.LookupByLabel(s, encoding.PrefixEntityType, "nonexistent")
	assert.ErrorIs(t, err, ErrTypeNotFound)
	_, _ = s.Commit(context.Background())
}

func TestTypeManager_AttributeTypeRemembersValueType(t *testing.T) {
	h := newHarness(t)
	tm := NewTypeManager()
	s := h.schemaSnap(t)
	id, err := tm.CreateAttributeType(s, "age", encoding.ValueLong)
	require.NoError(t, err)

	vt, err := tm.ValueTypeOf(s, id)
	require.NoError(t, err)
	assert.Equal(t, encoding.ValueLong, vt)
	_, err = s.Commit(context.Background())
	require.NoError(t, err)
}

func TestTypeManager_OwnsAndRelatesAnnotationsRoundTrip(t *testing.T) {
	h := newHarness(t)
	tm := NewTypeManager()
	s := h.schemaSnap(t)

	personType, err := tm.CreateEntityType(s, "person")
	require.NoError(t, err)
	ageType, err := tm.CreateAttributeType(s, "age", encoding.ValueLong)
	require.NoError(t, err)
	require.NoError(t, tm.SetOwns(s, encoding.PrefixEntityType, personType, ageType, encoding.AnnotationCardinality, 1, 1))

	employmentType, err := tm.CreateRelationType(s, "employment")
	require.NoError(t, err)
	employeeRole, err := tm.CreateRoleType(s, "employment:employee")
	require.NoError(t, err)
	require.NoError(t, tm.SetRelates(s, employmentType, employeeRole, 1, 0))
	require.NoError(t, tm.SetPlays(s, encoding.PrefixEntityType, personType, employeeRole))

	bits, min, max, ok, err := tm.OwnsAnnotations(s, encoding.PrefixEntityType, personType, ageType)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, encoding.AnnotationCardinality, bits)
	assert.Equal(t, uint32(1), min)
	assert.Equal(t, uint32(1), max)

	rmin, rmax, ok, err := tm.RelatesCardinality(s, employmentType, employeeRole)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint32(1), rmin)
	assert.Equal(t, uint32(0), rmax)

	_, err = s.Commit(context.Background())
	require.NoError(t, err)
}

func TestThingManager_CreateEntity_IncrementsStatistics(t *testing.T) {
	h := newHarness(t)
	tm := NewTypeManager()
	stats := statistics.New()
	thm := NewThingManager(tm, 8, stats)

	s := h.schemaSnap(t)
	personType, err := tm.CreateEntityType(s, "person")
	require.NoError(t, err)
	_, err = s.Commit(context.Background())
	require.NoError(t, err)

	s2 := h.writeSnap(t)
	_, err = thm.CreateEntity(s2, personType)
	require.NoError(t, err)
	_, err = s2.Commit(context.Background())
	require.NoError(t, err)

	assert.Equal(t, uint64(1), stats.TypeCount(encoding.PrefixEntity, personType))
}

func TestThingManager_PutLongAttribute_SameValueReusesVertex(t *testing.T) {
	h := newHarness(t)
	tm := NewTypeManager()
	thm := NewThingManager(tm, 8, nil)

	s := h.schemaSnap(t)
	ageType, err := tm.CreateAttributeType(s, "age", encoding.ValueLong)
	require.NoError(t, err)
	_, err = s.Commit(context.Background())
	require.NoError(t, err)

	s2 := h.writeSnap(t)
	v1, err := thm.PutLongAttribute(s2, ageType, 42)
	require.NoError(t, err)
	v2, err := thm.PutLongAttribute(s2, ageType, 42)
	require.NoError(t, err)
	assert.Equal(t, v1, v2)
	_, err = s2.Commit(context.Background())
	require.NoError(t, err)
}

func TestThingManager_PutStringAttribute_ShortStringInline(t *testing.T) {
	h := newHarness(t)
	tm := NewTypeManager()
	thm := NewThingManager(tm, 8, nil)

	s := h.schemaSnap(t)
	nameType, err := tm.CreateAttributeType(s, "name", encoding.ValueString)
	require.NoError(t, err)
	_, err = s.Commit(context.Background())
	require.NoError(t, err)

	s2 := h.writeSnap(t)
	v1, err := thm.PutStringAttribute(s2, nameType, "alice")
	require.NoError(t, err)
	v2, err := thm.PutStringAttribute(s2, nameType, "alice")
	require.NoError(t, err)
	assert.Equal(t, v1, v2)
	_, err = s2.Commit(context.Background())
	require.NoError(t, err)
}

func TestThingManager_PutStringAttribute_LongStringHashDisambiguatedAndPersists(t *testing.T) {
	h := newHarness(t)
	tm := NewTypeManager()
	thm := NewThingManager(tm, 8, nil)

	s := h.schemaSnap(t)
	nameType, err := tm.CreateAttributeType(s, "bio", encoding.ValueString)
	require.NoError(t, err)
	_, err = s.Commit(context.Background())
	require.NoError(t, err)

	long := "this is a very long biography string that will not fit inline in the attribute id field at all"

	s2 := h.writeSnap(t)
	v1, err := thm.PutStringAttribute(s2, nameType, long)
	require.NoError(t, err)
	_, err = s2.Commit(context.Background())
	require.NoError(t, err)

	s3 := h.writeSnap(t)
	v2, err := thm.PutStringAttribute(s3, nameType, long)
	require.NoError(t, err)
	assert.Equal(t, v1, v2)
	_, err = s3.Commit(context.Background())
	require.NoError(t, err)
}

func TestThingManager_SetHasAndUnsetHas_CountsEdges(t *testing.T) {
	h := newHarness(t)
	tm := NewTypeManager()
	stats := statistics.New()
	thm := NewThingManager(tm, 8, stats)

	s := h.schemaSnap(t)
	personType, err := tm.CreateEntityType(s, "person")
	require.NoError(t, err)
	ageType, err := tm.CreateAttributeType(s, "age", encoding.ValueLong)
	require.NoError(t, err)
	_, err = s.Commit(context.Background())
	require.NoError(t, err)

	s2 := h.writeSnap(t)
	owner, err := thm.CreateEntity(s2, personType)
	require.NoError(t, err)
	attr, err := thm.PutLongAttribute(s2, ageType, 30)
	require.NoError(t, err)
	require.NoError(t, thm.SetHas(s2, owner, attr))
	_, err = s2.Commit(context.Background())
	require.NoError(t, err)

	assert.Equal(t, uint64(1), stats.EdgeCount(byte(encoding.EdgePrefixHas), personType))

	s4 := h.writeSnap(t)
	require.NoError(t, thm.UnsetHas(s4, owner, attr))
	_, err = s4.Commit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(0), stats.EdgeCount(byte(encoding.EdgePrefixHas), personType))
}

func TestThingManager_AddRolePlayer_MaintainsIndexUnderThreshold(t *testing.T) {
	h := newHarness(t)
	tm := NewTypeManager()
	stats := statistics.New()
	thm := NewThingManager(tm, 8, stats)

	s := h.schemaSnap(t)
	personType, err := tm.CreateEntityType(s, "person")
	require.NoError(t, err)
	employmentType, err := tm.CreateRelationType(s, "employment")
	require.NoError(t, err)
	employeeRole, err := tm.CreateRoleType(s, "employment:employee")
	require.NoError(t, err)
	employerRole, err := tm.CreateRoleType(s, "employment:employer")
	require.NoError(t, err)
	_, err = s.Commit(context.Background())
	require.NoError(t, err)

	s2 := h.writeSnap(t)
	alice, err := thm.CreateEntity(s2, personType)
	require.NoError(t, err)
	bob, err := thm.CreateEntity(s2, personType)
	require.NoError(t, err)
	rel, err := thm.CreateRelation(s2, employmentType)
	require.NoError(t, err)

	require.NoError(t, thm.AddRolePlayer(s2, rel, alice, employeeRole))
	require.NoError(t, thm.AddRolePlayer(s2, rel, bob, employerRole))
	_, err = s2.Commit(context.Background())
	require.NoError(t, err)

	assert.Equal(t, uint64(2), stats.EdgeCount(byte(encoding.EdgePrefixLinks), employmentType))

	s3 := h.writeSnap(t)
	var indexEdges int
	prefix := []byte{byte(encoding.EdgePrefixRolePlayerIndex)}
	require.NoError(t, s3.IterateRange(keyspace.Data, prefix, prefixUpperBound(prefix), func(k, v []byte) (bool, error) {
		indexEdges++
		return true, nil
	}))
	assert.Greater(t, indexEdges, 0)
	_, err = s3.Commit(context.Background())
	require.NoError(t, err)
}

func TestChangeTracker_Validate_ReportsCardinalityViolation(t *testing.T) {
	h := newHarness(t)
	tm := NewTypeManager()
	thm := NewThingManager(tm, 8, nil)

	s := h.schemaSnap(t)
	personType, err := tm.CreateEntityType(s, "person")
	require.NoError(t, err)
	ssnType, err := tm.CreateAttributeType(s, "ssn", encoding.ValueLong)
	require.NoError(t, err)
	require.NoError(t, tm.SetOwns(s, encoding.PrefixEntityType, personType, ssnType, encoding.AnnotationCardinality, 1, 1))
	_, err = s.Commit(context.Background())
	require.NoError(t, err)

	ct := NewChangeTracker(tm)
	s2 := h.writeSnap(t)
	owner, err := thm.CreateEntity(s2, personType)
	require.NoError(t, err)
	ct.TrackHasChange(encoding.PrefixEntityType, owner, ssnType)

	violations, err := ct.Validate(s2)
	require.NoError(t, err)
	require.Len(t, violations, 1)
	assert.Equal(t, 0, violations[0].Count)
	assert.Equal(t, uint32(1), violations[0].Min)
	s2.Rollback()
}

func TestChangeTracker_Validate_PassesWhenWithinBounds(t *testing.T) {
	h := newHarness(t)
	tm := NewTypeManager()
	thm := NewThingManager(tm, 8, nil)

	s := h.schemaSnap(t)
	personType, err := tm.CreateEntityType(s, "person")
	require.NoError(t, err)
	ssnType, err := tm.CreateAttributeType(s, "ssn", encoding.ValueLong)
	require.NoError(t, err)
	require.NoError(t, tm.SetOwns(s, encoding.PrefixEntityType, personType, ssnType, encoding.AnnotationCardinality, 1, 1))
	_, err = s.Commit(context.Background())
	require.NoError(t, err)

	ct := NewChangeTracker(tm)
	s2 := h.writeSnap(t)
	owner, err := thm.CreateEntity(s2, personType)
	require.NoError(t, err)
	attr, err := thm.PutLongAttribute(s2, ssnType, 123456789)
	require.NoError(t, err)
	require.NoError(t, thm.SetHas(s2, owner, attr))
	ct.TrackHasChange(encoding.PrefixEntityType, owner, ssnType)

	_, err = CommitWithCardinalityCheck(context.Background(), ct, s2)
	require.NoError(t, err)
}
