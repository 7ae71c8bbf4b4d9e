package stateaggregate

import (
	"context"
	"testing"

	"github.com/elephant-xyz/workflow-core/internal/kvmem"
	"github.com/elephant-xyz/workflow-core/pkg/kvstore"
	"github.com/elephant-xyz/workflow-core/pkg/workflowevent"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine() (*Engine, *kvmem.Store) {
	store := kvmem.New()
	return New(store), store
}

func TestApply_NewExecution_CreatesStateAndAggregate(t *testing.T) {
	engine, store := newTestEngine()
	ctx := context.Background()

	event := workflowevent.Event{
		ID: "evt-1", ExecutionID: "E1", County: "palmbeach", DataGroupLabel: "dg1",
		Phase: "prepare", Step: "download", Status: workflowevent.StatusRunning,
	}
	require.NoError(t, engine.Apply(ctx, event))

	state, err := store.GetItem(ctx, kvstore.Key{PK: kvstore.ExecutionPK("E1"), SK: kvstore.ExecutionStateSK("E1")})
	require.NoError(t, err)
	assert.Equal(t, "IN_PROGRESS", state.Attrs["bucket"])
	assert.EqualValues(t, 1, state.Version)

	agg, err := store.GetItem(ctx, kvstore.Key{PK: kvstore.AggregatePK("palmbeach", "dg1"), SK: kvstore.AggregateSK("prepare", "download")})
	require.NoError(t, err)
	assert.EqualValues(t, 1, agg.Attrs["inProgressCount"])
}

func TestApply_UnchangedCell_IsNoOp(t *testing.T) {
	engine, store := newTestEngine()
	ctx := context.Background()

	event := workflowevent.Event{ID: "evt-1", ExecutionID: "E1", County: "leon", Phase: "p", Step: "s", Status: workflowevent.StatusRunning}
	require.NoError(t, engine.Apply(ctx, event))
	require.NoError(t, engine.Apply(ctx, workflowevent.Event{ID: "evt-2", ExecutionID: "E1", County: "leon", Phase: "p", Step: "s", Status: workflowevent.StatusScheduled}))

	agg, err := store.GetItem(ctx, kvstore.Key{PK: kvstore.AggregatePK("leon", ""), SK: kvstore.AggregateSK("p", "s")})
	require.NoError(t, err)
	assert.EqualValues(t, 1, agg.Attrs["inProgressCount"])

	state, err := store.GetItem(ctx, kvstore.Key{PK: kvstore.ExecutionPK("E1"), SK: kvstore.ExecutionStateSK("E1")})
	require.NoError(t, err)
	assert.EqualValues(t, 1, state.Version)
}

// S8 — aggregate transition: prepare/download succeeds.
func TestApply_CellChange_TransitionsAggregateBalance(t *testing.T) {
	engine, store := newTestEngine()
	ctx := context.Background()

	require.NoError(t, engine.Apply(ctx, workflowevent.Event{
		ID: "evt-1", ExecutionID: "E1", County: "palmbeach", DataGroupLabel: "dg1",
		Phase: "prepare", Step: "download", Status: workflowevent.StatusRunning,
	}))
	require.NoError(t, engine.Apply(ctx, workflowevent.Event{
		ID: "evt-2", ExecutionID: "E1", County: "palmbeach", DataGroupLabel: "dg1",
		Phase: "prepare", Step: "download", Status: workflowevent.StatusSucceeded,
	}))

	aggKey := kvstore.Key{PK: kvstore.AggregatePK("palmbeach", "dg1"), SK: kvstore.AggregateSK("prepare", "download")}
	agg, err := store.GetItem(ctx, aggKey)
	require.NoError(t, err)
	// P4 — aggregate balance: in-progress decremented, succeeded incremented.
	assert.EqualValues(t, 0, agg.Attrs["inProgressCount"])
	assert.EqualValues(t, 1, agg.Attrs["succeededCount"])

	state, err := store.GetItem(ctx, kvstore.Key{PK: kvstore.ExecutionPK("E1"), SK: kvstore.ExecutionStateSK("E1")})
	require.NoError(t, err)
	assert.Equal(t, "SUCCEEDED", state.Attrs["bucket"])
	assert.EqualValues(t, 2, state.Version)
}

func TestApply_CellChange_MovesAcrossSteps(t *testing.T) {
	engine, store := newTestEngine()
	ctx := context.Background()

	require.NoError(t, engine.Apply(ctx, workflowevent.Event{
		ID: "evt-1", ExecutionID: "E1", County: "leon", Phase: "prepare", Step: "download", Status: workflowevent.StatusRunning,
	}))
	require.NoError(t, engine.Apply(ctx, workflowevent.Event{
		ID: "evt-2", ExecutionID: "E1", County: "leon", Phase: "prepare", Step: "transform", Status: workflowevent.StatusRunning,
	}))

	oldAgg, err := store.GetItem(ctx, kvstore.Key{PK: kvstore.AggregatePK("leon", ""), SK: kvstore.AggregateSK("prepare", "download")})
	require.NoError(t, err)
	assert.EqualValues(t, 0, oldAgg.Attrs["inProgressCount"])

	newAgg, err := store.GetItem(ctx, kvstore.Key{PK: kvstore.AggregatePK("leon", ""), SK: kvstore.AggregateSK("prepare", "transform")})
	require.NoError(t, err)
	assert.EqualValues(t, 1, newAgg.Attrs["inProgressCount"])
}

func TestApply_Idempotent(t *testing.T) {
	engine, store := newTestEngine()
	ctx := context.Background()

	event := workflowevent.Event{ID: "evt-1", ExecutionID: "E1", County: "leon", Phase: "p", Step: "s", Status: workflowevent.StatusRunning}
	require.NoError(t, engine.Apply(ctx, event))
	require.NoError(t, engine.Apply(ctx, event))

	agg, err := store.GetItem(ctx, kvstore.Key{PK: kvstore.AggregatePK("leon", ""), SK: kvstore.AggregateSK("p", "s")})
	require.NoError(t, err)
	assert.EqualValues(t, 1, agg.Attrs["inProgressCount"])
}

func TestGetAggregate_ReturnsCurrentCounts(t *testing.T) {
	engine, _ := newTestEngine()
	ctx := context.Background()

	require.NoError(t, engine.Apply(ctx, workflowevent.Event{
		ID: "evt-1", ExecutionID: "E1", County: "leon", DataGroupLabel: "dg1",
		Phase: "prepare", Step: "download", Status: workflowevent.StatusRunning,
	}))

	counts, err := engine.GetAggregate(ctx, "leon", "dg1", "prepare", "download")
	require.NoError(t, err)
	assert.EqualValues(t, 1, counts.InProgress)
	assert.EqualValues(t, 0, counts.Failed)
	assert.EqualValues(t, 0, counts.Succeeded)
}

func TestGetAggregate_NotFound(t *testing.T) {
	engine, _ := newTestEngine()
	_, err := engine.GetAggregate(context.Background(), "leon", "dg1", "prepare", "download")
	assert.ErrorIs(t, err, ErrAggregateNotFound)
}
