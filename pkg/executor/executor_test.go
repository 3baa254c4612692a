package executor

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/vertexdb/pkg/encoding"
	"github.com/cuemby/vertexdb/pkg/keyspace"
	"github.com/cuemby/vertexdb/pkg/mvcc"
	"github.com/cuemby/vertexdb/pkg/planner"
	"github.com/cuemby/vertexdb/pkg/txn"
)

func openExecStorage(t *testing.T) *mvcc.Storage {
	t.Helper()
	dir := t.TempDir()
	s, err := mvcc.Open(mvcc.Config{
		Name: "test", DataDir: dir + "/data", WALDir: dir + "/wal",
		TimelineWindowSize: 16, Logger: zerolog.Nop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func writeSnapshot(t *testing.T, storage *mvcc.Storage) *txn.Snapshot {
	t.Helper()
	lock := txn.NewSchemaLock()
	snap, err := txn.Open(storage, lock, txn.ModeWrite)
	require.NoError(t, err)
	return snap
}

func commitAndReopen(t *testing.T, storage *mvcc.Storage, snap *txn.Snapshot) *txn.Snapshot {
	t.Helper()
	_, err := snap.Commit(context.Background())
	require.NoError(t, err)
	lock := txn.NewSchemaLock()
	reader, err := txn.Open(storage, lock, txn.ModeRead)
	require.NoError(t, err)
	t.Cleanup(func() { reader.Rollback() })
	return reader
}

func seedHasEdge(t *testing.T, snap *txn.Snapshot, owner, attr []byte) {
	t.Helper()
	require.NoError(t, snap.Insert(keyspace.Data, encoding.BuildHasEdge(owner, attr), []byte{1}))
	require.NoError(t, snap.Insert(keyspace.Data, encoding.BuildHasReverseEdge(attr, owner), []byte{1}))
}

func TestHasSource_OwnerBoundScansForwardEdges(t *testing.T) {
	storage := openExecStorage(t)
	writer := writeSnapshot(t, storage)

	owner := encoding.BuildObjectVertex(encoding.PrefixEntity, 1, 1)
	attr1 := encoding.BuildAttributeVertex(2, []byte{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1})
	attr2 := encoding.BuildAttributeVertex(2, []byte{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 2})
	seedHasEdge(t, writer, owner, attr1)
	seedHasEdge(t, writer, owner, attr2)
	reader := commitAndReopen(t, storage, writer)

	c := planner.Constraint{Kind: planner.ConstraintHas, Variables: []planner.Variable{"owner", "attr"}}
	cands, err := hasSource(reader, nil, Row{"owner": owner}, c)
	require.NoError(t, err)
	assert.Len(t, cands, 2)
	for _, cand := range cands {
		assert.Equal(t, owner, cand.row["owner"])
	}
}

func TestHasSource_AttributeBoundScansReverseEdges(t *testing.T) {
	storage := openExecStorage(t)
	writer := writeSnapshot(t, storage)

	owner := encoding.BuildObjectVertex(encoding.PrefixEntity, 1, 1)
	attr := encoding.BuildAttributeVertex(2, []byte{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1})
	seedHasEdge(t, writer, owner, attr)
	reader := commitAndReopen(t, storage, writer)

	c := planner.Constraint{Kind: planner.ConstraintHas, Variables: []planner.Variable{"owner", "attr"}}
	cands, err := hasSource(reader, nil, Row{"attr": attr}, c)
	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.Equal(t, owner, cands[0].row["owner"])
}

func TestHasSource_NeitherBoundReturnsError(t *testing.T) {
	storage := openExecStorage(t)
	reader := writeSnapshot(t, storage)
	c := planner.Constraint{Kind: planner.ConstraintHas, Variables: []planner.Variable{"owner", "attr"}}
	_, err := hasSource(reader, nil, Row{}, c)
	assert.Error(t, err)
}

func TestLinksSource_RelationBoundScansPlayers(t *testing.T) {
	storage := openExecStorage(t)
	writer := writeSnapshot(t, storage)

	relation := encoding.BuildObjectVertex(encoding.PrefixRelation, 3, 10)
	player1 := encoding.BuildObjectVertex(encoding.PrefixEntity, 4, 20)
	player2 := encoding.BuildObjectVertex(encoding.PrefixEntity, 4, 21)
	require.NoError(t, writer.Insert(keyspace.Data, encoding.BuildLinksEdge(relation, player1, 5), []byte{1}))
	require.NoError(t, writer.Insert(keyspace.Data, encoding.BuildLinksEdge(relation, player2, 5), []byte{1}))
	reader := commitAndReopen(t, storage, writer)

	c := planner.Constraint{Kind: planner.ConstraintLinks, Variables: []planner.Variable{"relation", "player"}}
	cands, err := linksSource(reader, nil, Row{"relation": relation}, c)
	require.NoError(t, err)
	assert.Len(t, cands, 2)
}

func TestIsaSource_ScansInstancesOfRegisteredType(t *testing.T) {
	storage := openExecStorage(t)
	writer := writeSnapshot(t, storage)

	e1 := encoding.BuildObjectVertex(encoding.PrefixEntity, 7, 1)
	e2 := encoding.BuildObjectVertex(encoding.PrefixEntity, 7, 2)
	require.NoError(t, writer.Insert(keyspace.Data, e1, []byte{1}))
	require.NoError(t, writer.Insert(keyspace.Data, e2, []byte{1}))
	reader := commitAndReopen(t, storage, writer)

	RegisterIsaType("x", encoding.PrefixEntity, 7)
	c := planner.Constraint{Kind: planner.ConstraintIsa, Variables: []planner.Variable{"x"}}
	cands, err := isaSource(reader, nil, Row{}, c)
	require.NoError(t, err)
	assert.Len(t, cands, 2)
}

func TestIsaSource_UnregisteredVariableErrors(t *testing.T) {
	storage := openExecStorage(t)
	reader := writeSnapshot(t, storage)
	c := planner.Constraint{Kind: planner.ConstraintIsa, Variables: []planner.Variable{"never_registered_var"}}
	_, err := isaSource(reader, nil, Row{}, c)
	assert.Error(t, err)
}

func TestRunIntersection_MergesOnSharedGeneratedVariable(t *testing.T) {
	storage := openExecStorage(t)
	writer := writeSnapshot(t, storage)

	ownerBoth := encoding.BuildObjectVertex(encoding.PrefixEntity, 1, 1)
	ownerOnlyA := encoding.BuildObjectVertex(encoding.PrefixEntity, 1, 2)
	attrA := encoding.BuildAttributeVertex(2, []byte{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1})
	attrB := encoding.BuildAttributeVertex(3, []byte{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 2})
	// ownerBoth has both attrA and attrB; ownerOnlyA has only attrA, so it
	// must not appear in the "has both" intersection below.
	seedHasEdge(t, writer, ownerBoth, attrA)
	seedHasEdge(t, writer, ownerBoth, attrB)
	seedHasEdge(t, writer, ownerOnlyA, attrA)
	reader := commitAndReopen(t, storage, writer)

	// A single reverse scan from each attribute on its own lists its owners.
	single := planner.Step{
		Kind:         planner.StepIntersection,
		SortVariable: "owner",
		Constraints: []planner.Constraint{
			{Kind: planner.ConstraintHas, Variables: []planner.Variable{"owner", "attr"}},
		},
	}
	inputA := &Batch{Rows: []Row{{"attr": attrA}}}
	outA, err := runIntersection(context.Background(), reader, nil, single, inputA, nil)
	require.NoError(t, err)
	var ownersWithA []string
	for _, row := range outA.Rows {
		ownersWithA = append(ownersWithA, string(row["owner"]))
	}
	assert.ElementsMatch(t, []string{string(ownerBoth), string(ownerOnlyA)}, ownersWithA)

	inputB := &Batch{Rows: []Row{{"attr": attrB}}}
	outB, err := runIntersection(context.Background(), reader, nil, single, inputB, nil)
	require.NoError(t, err)
	require.Len(t, outB.Rows, 1)
	assert.Equal(t, ownerBoth, outB.Rows[0]["owner"])

	// "owner" is generated (unbound) by both constraints, each reverse-
	// scanning from a fixed attribute, so the merge genuinely has to agree
	// on owner rather than trivially inheriting an already-bound value.
	both := planner.Step{
		Kind:         planner.StepIntersection,
		SortVariable: "owner",
		Constraints: []planner.Constraint{
			{Kind: planner.ConstraintHas, Variables: []planner.Variable{"owner", "a"}},
			{Kind: planner.ConstraintHas, Variables: []planner.Variable{"owner", "b"}},
		},
	}
	inputBoth := &Batch{Rows: []Row{{"a": attrA, "b": attrB}}}
	outBoth, err := runIntersection(context.Background(), reader, nil, both, inputBoth, nil)
	require.NoError(t, err)
	require.Len(t, outBoth.Rows, 1)
	assert.Equal(t, ownerBoth, outBoth.Rows[0]["owner"])
}

func TestRunIntersection_NoCommonKeyProducesNoRows(t *testing.T) {
	storage := openExecStorage(t)
	writer := writeSnapshot(t, storage)

	owner1 := encoding.BuildObjectVertex(encoding.PrefixEntity, 1, 1)
	owner2 := encoding.BuildObjectVertex(encoding.PrefixEntity, 1, 2)
	attrName := encoding.BuildAttributeVertex(2, []byte{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1})
	attrAge := encoding.BuildAttributeVertex(3, []byte{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 2})
	// owner1 only has attrName, owner2 only has attrAge: the two reverse
	// scans below (one fixed to each attribute) never agree on "owner".
	seedHasEdge(t, writer, owner1, attrName)
	seedHasEdge(t, writer, owner2, attrAge)
	reader := commitAndReopen(t, storage, writer)

	step := planner.Step{
		Kind:         planner.StepIntersection,
		SortVariable: "owner",
		Constraints: []planner.Constraint{
			{Kind: planner.ConstraintHas, Variables: []planner.Variable{"owner", "name"}},
			{Kind: planner.ConstraintHas, Variables: []planner.Variable{"owner", "age"}},
		},
	}
	input := &Batch{Rows: []Row{{"name": attrName, "age": attrAge}}}
	out, err := runIntersection(context.Background(), reader, nil, step, input, nil)
	require.NoError(t, err)
	assert.Empty(t, out.Rows)
}

func TestRunIntersection_InterruptStopsEarly(t *testing.T) {
	storage := openExecStorage(t)
	reader := writeSnapshot(t, storage)

	step := planner.Step{Kind: planner.StepIntersection, SortVariable: "x",
		Constraints: []planner.Constraint{{Kind: planner.ConstraintIsa, Variables: []planner.Variable{"x"}}}}
	RegisterIsaType("x", encoding.PrefixEntity, 99)

	closed := make(chan struct{})
	close(closed)
	input := &Batch{Rows: []Row{{}, {}}}
	_, err := runIntersection(context.Background(), reader, nil, step, input, closed)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunCheck_KeepsRowsWhereEdgeExists(t *testing.T) {
	storage := openExecStorage(t)
	writer := writeSnapshot(t, storage)

	owner := encoding.BuildObjectVertex(encoding.PrefixEntity, 1, 1)
	attr := encoding.BuildAttributeVertex(2, []byte{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1})
	seedHasEdge(t, writer, owner, attr)
	otherOwner := encoding.BuildObjectVertex(encoding.PrefixEntity, 1, 2)
	reader := commitAndReopen(t, storage, writer)

	c := planner.Constraint{Kind: planner.ConstraintHas, Variables: []planner.Variable{"owner", "attr"}}
	step := planner.Step{Kind: planner.StepCheck, Constraints: []planner.Constraint{c}}
	input := &Batch{Rows: []Row{{"owner": owner, "attr": attr}, {"owner": otherOwner, "attr": attr}}}

	out, err := runCheck(reader, nil, step, input)
	require.NoError(t, err)
	require.Len(t, out.Rows, 1)
	assert.Equal(t, owner, out.Rows[0]["owner"])
}

func TestRunCheck_ComparisonFiltersByRegisteredComparator(t *testing.T) {
	RegisterComparator("eq", func(row Row, vars []planner.Variable) (bool, error) {
		return string(row[vars[0]]) == string(row[vars[1]]), nil
	})
	c := planner.Constraint{Kind: planner.ConstraintComparison, Variables: []planner.Variable{"a", "b"},
		GeneratedVariables: []planner.Variable{"eq"}}
	step := planner.Step{Kind: planner.StepCheck, Constraints: []planner.Constraint{c}}
	input := &Batch{Rows: []Row{
		{"a": []byte("x"), "b": []byte("x")},
		{"a": []byte("x"), "b": []byte("y")},
	}}

	out, err := runCheck(nil, nil, step, input)
	require.NoError(t, err)
	require.Len(t, out.Rows, 1)
	assert.Equal(t, []byte("x"), out.Rows[0]["b"])
}

func TestRunNegation_DropsRowsWhereBranchMatches(t *testing.T) {
	storage := openExecStorage(t)
	writer := writeSnapshot(t, storage)

	owner := encoding.BuildObjectVertex(encoding.PrefixEntity, 1, 1)
	attr := encoding.BuildAttributeVertex(2, []byte{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1})
	seedHasEdge(t, writer, owner, attr)
	clean := encoding.BuildObjectVertex(encoding.PrefixEntity, 1, 2)
	reader := commitAndReopen(t, storage, writer)

	branchPlan := &planner.Plan{Steps: []planner.Step{{
		Kind: planner.StepIntersection, SortVariable: "attr",
		Constraints: []planner.Constraint{
			{Kind: planner.ConstraintHas, Variables: []planner.Variable{"owner", "attr"}},
		},
	}}}

	nested := &planner.PlannedNested{Kind: planner.NestedNegation, Branches: []*planner.Plan{branchPlan}}
	input := &Batch{Rows: []Row{{"owner": owner}, {"owner": clean}}}
	out, err := runNegation(context.Background(), reader, nil, nested, input, nil)
	require.NoError(t, err)
	require.Len(t, out.Rows, 1)
	assert.Equal(t, clean, out.Rows[0]["owner"])
}

func TestRunDisjunction_UnionsEachBranchesRows(t *testing.T) {
	storage := openExecStorage(t)
	writer := writeSnapshot(t, storage)

	owner := encoding.BuildObjectVertex(encoding.PrefixEntity, 1, 1)
	attrA := encoding.BuildAttributeVertex(2, []byte{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1})
	attrB := encoding.BuildAttributeVertex(3, []byte{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 2})
	seedHasEdge(t, writer, owner, attrA)
	seedHasEdge(t, writer, owner, attrB)
	reader := commitAndReopen(t, storage, writer)

	branchA := &planner.Plan{Steps: []planner.Step{{
		Kind: planner.StepIntersection, SortVariable: "val",
		Constraints: []planner.Constraint{
			{Kind: planner.ConstraintHas, Variables: []planner.Variable{"owner", "val"}},
		},
	}}}

	nested := &planner.PlannedNested{Kind: planner.NestedDisjunction, Branches: []*planner.Plan{branchA, branchA}}
	input := &Batch{Rows: []Row{{"owner": owner}}}
	out, err := runDisjunction(context.Background(), reader, nil, nested, input, nil)
	require.NoError(t, err)
	// Same branch run twice against the same 2-edge owner: 2 rows per branch, 2 branches.
	assert.Len(t, out.Rows, 4)
}

func TestRunAssignment_BindsOutputAndDropsNilResults(t *testing.T) {
	RegisterAssigner("double", func(row Row, inputs []planner.Variable) ([]byte, error) {
		if string(row[inputs[0]]) == "skip" {
			return nil, nil
		}
		return append(row[inputs[0]], row[inputs[0]]...), nil
	})
	c := planner.Constraint{Kind: planner.ConstraintFunctionCall, Variables: []planner.Variable{"in"},
		GeneratedVariables: []planner.Variable{"double", "out"}}
	step := planner.Step{Kind: planner.StepCheck, Constraints: []planner.Constraint{c}}
	input := &Batch{Rows: []Row{{"in": []byte("ab")}, {"in": []byte("skip")}}}

	out, err := runAssignment(step, input)
	require.NoError(t, err)
	require.Len(t, out.Rows, 1)
	assert.Equal(t, []byte("abab"), out.Rows[0]["out"])
}

func TestRunUnsortedJoin_CrossJoinsEachConstraintInSequence(t *testing.T) {
	storage := openExecStorage(t)
	writer := writeSnapshot(t, storage)

	owner := encoding.BuildObjectVertex(encoding.PrefixEntity, 1, 1)
	attrA := encoding.BuildAttributeVertex(2, []byte{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1})
	attrB := encoding.BuildAttributeVertex(3, []byte{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 2})
	seedHasEdge(t, writer, owner, attrA)
	seedHasEdge(t, writer, owner, attrB)
	reader := commitAndReopen(t, storage, writer)

	step := planner.Step{Constraints: []planner.Constraint{
		{Kind: planner.ConstraintHas, Variables: []planner.Variable{"owner", "first"}},
	}}
	input := &Batch{Rows: []Row{{"owner": owner}}}
	out, err := runUnsortedJoin(reader, nil, step, input)
	require.NoError(t, err)
	assert.Len(t, out.Rows, 2)
}

func TestRun_UnknownStepKindErrors(t *testing.T) {
	storage := openExecStorage(t)
	reader := writeSnapshot(t, storage)
	plan := &planner.Plan{Steps: []planner.Step{{Kind: planner.StepKind(99)}}}
	_, err := Run(context.Background(), reader, nil, plan, NewBatch(), nil)
	assert.Error(t, err)
}

func TestRun_CancelledContextStopsBeforeFirstChunk(t *testing.T) {
	storage := openExecStorage(t)
	reader := writeSnapshot(t, storage)
	plan := &planner.Plan{Steps: []planner.Step{{Kind: planner.StepCheck,
		Constraints: []planner.Constraint{{Kind: planner.ConstraintComparison}}}}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Run(ctx, reader, nil, plan, &Batch{Rows: []Row{{}}}, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRun_InterruptChannelReturnsErrInterrupted(t *testing.T) {
	storage := openExecStorage(t)
	reader := writeSnapshot(t, storage)
	plan := &planner.Plan{Steps: []planner.Step{{Kind: planner.StepCheck,
		Constraints: []planner.Constraint{{Kind: planner.ConstraintComparison}}}}}

	closed := make(chan struct{})
	close(closed)
	_, err := Run(context.Background(), reader, nil, plan, &Batch{Rows: []Row{{}}}, closed)
	assert.ErrorIs(t, err, ErrInterrupted)
}

func TestChunks_SplitsAtBatchSizeBoundary(t *testing.T) {
	rows := make([]Row, BatchSize+1)
	for i := range rows {
		rows[i] = Row{}
	}
	out := chunks(rows)
	require.Len(t, out, 2)
	assert.Len(t, out[0], BatchSize)
	assert.Len(t, out[1], 1)
}

func TestChunks_EmptyInputYieldsOneEmptyChunk(t *testing.T) {
	out := chunks(nil)
	require.Len(t, out, 1)
	assert.Empty(t, out[0])
}

func TestBatch_Full(t *testing.T) {
	b := NewBatch()
	assert.False(t, b.Full())
	for i := 0; i < BatchSize; i++ {
		b.Rows = append(b.Rows, Row{})
	}
	assert.True(t, b.Full())
}

func TestRow_CloneIsIndependentMap(t *testing.T) {
	r := Row{"x": []byte("1")}
	c := r.Clone()
	c["y"] = []byte("2")
	_, hasY := r["y"]
	assert.False(t, hasY)
	assert.Equal(t, []byte("1"), c["x"])
}
