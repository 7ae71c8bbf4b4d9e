package errormutator

import (
	"context"
	"testing"

	"github.com/elephant-xyz/workflow-core/internal/kvmem"
	"github.com/elephant-xyz/workflow-core/pkg/ingestion"
	"github.com/elephant-xyz/workflow-core/pkg/kvstore"
	"github.com/elephant-xyz/workflow-core/pkg/metrics"
	"github.com/elephant-xyz/workflow-core/pkg/workflowevent"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSink struct{ samples []metrics.Sample }

func (f *fakeSink) PutSamples(ctx context.Context, samples []metrics.Sample) error {
	f.samples = append(f.samples, samples...)
	return nil
}

func seedTwoExecutionsSharingError(t *testing.T) *kvmem.Store {
	t.Helper()
	store := kvmem.New()
	engine := ingestion.New(store, metrics.NewPublisher(&fakeSink{}))
	ctx := context.Background()

	require.NoError(t, engine.Ingest(ctx, workflowevent.Event{
		ID: "evt-1", ExecutionID: "E1", County: "palmbeach",
		Errors: []workflowevent.ErrorItem{{Code: "01256"}},
	}))
	require.NoError(t, engine.Ingest(ctx, workflowevent.Event{
		ID: "evt-2", ExecutionID: "E2", County: "palmbeach",
		Errors: []workflowevent.ErrorItem{{Code: "01256"}},
	}))
	return store
}

// S4 — mark solved cascades.
func TestMarkSolvedForHashes_CascadesAcrossExecutions(t *testing.T) {
	store := seedTwoExecutionsSharingError(t)
	mutator := New(store)
	ctx := context.Background()

	require.NoError(t, mutator.MarkSolvedForHashes(ctx, []string{"01256"}, "palmbeach"))

	for _, execID := range []string{"E1", "E2"} {
		// Each execution's only error was solved and openErrorCount hit
		// zero, so the execution row and its link are now gone.
		_, err := store.GetItem(ctx, kvstore.Key{PK: kvstore.ExecutionPK(execID), SK: kvstore.LinkSK("01256")})
		require.Error(t, err)
		assert.True(t, kvstore.IsNotFound(err))

		_, err = store.GetItem(ctx, kvstore.Key{PK: kvstore.ExecutionPK(execID), SK: kvstore.ExecutionPK(execID)})
		assert.True(t, kvstore.IsNotFound(err))
	}

	rec, err := store.GetItem(ctx, kvstore.Key{PK: kvstore.ErrorPK("01256"), SK: kvstore.ErrorSK("01256")})
	require.NoError(t, err)
	assert.Equal(t, StatusMaybeSolved, rec.Attrs["status"])
	assert.Equal(t, "COUNT#MAYBESOLVED#0000000002#ERROR#01256", rec.GSI2SK)
}

func TestMarkSolvedForHashes_Idempotent(t *testing.T) {
	store := seedTwoExecutionsSharingError(t)
	mutator := New(store)
	ctx := context.Background()

	require.NoError(t, mutator.MarkSolvedForHashes(ctx, []string{"01256"}, "palmbeach"))
	require.NoError(t, mutator.MarkSolvedForHashes(ctx, []string{"01256"}, "palmbeach"))

	rec, err := store.GetItem(ctx, kvstore.Key{PK: kvstore.ErrorPK("01256"), SK: kvstore.ErrorSK("01256")})
	require.NoError(t, err)
	assert.Equal(t, StatusMaybeSolved, rec.Attrs["status"])
}

func TestMarkSolvedForHashes_PartialErrorLeavesExecutionOpen(t *testing.T) {
	store := kvmem.New()
	engine := ingestion.New(store, metrics.NewPublisher(&fakeSink{}))
	ctx := context.Background()

	require.NoError(t, engine.Ingest(ctx, workflowevent.Event{
		ID: "evt-1", ExecutionID: "E1", County: "leon",
		Errors: []workflowevent.ErrorItem{{Code: "01256"}, {Code: "23456"}},
	}))

	mutator := New(store)
	require.NoError(t, mutator.MarkSolvedForHashes(ctx, []string{"01256"}, "leon"))

	exec, err := store.GetItem(ctx, kvstore.Key{PK: kvstore.ExecutionPK("E1"), SK: kvstore.ExecutionPK("E1")})
	require.NoError(t, err)
	assert.EqualValues(t, 1, exec.Attrs["openErrorCount"])
}

// A partially solved execution's GSI sort keys must re-encode the
// decremented openErrorCount, or the selector keeps ordering it by a
// stale counter.
func TestMarkSolvedForHashes_RewritesSurvivorSortKeys(t *testing.T) {
	store := kvmem.New()
	engine := ingestion.New(store, metrics.NewPublisher(&fakeSink{}))
	ctx := context.Background()

	require.NoError(t, engine.Ingest(ctx, workflowevent.Event{
		ID: "evt-1", ExecutionID: "E1", County: "leon",
		Errors: []workflowevent.ErrorItem{{Code: "01256"}, {Code: "01999"}},
	}))

	mutator := New(store)
	require.NoError(t, mutator.MarkSolvedForHashes(ctx, []string{"01256"}, "leon"))

	exec, err := store.GetItem(ctx, kvstore.Key{PK: kvstore.ExecutionPK("E1"), SK: kvstore.ExecutionPK("E1")})
	require.NoError(t, err)
	assert.Equal(t, kvstore.FailedExecutionGSI1SK("E1", 1), exec.GSI1SK)
	assert.Equal(t, kvstore.FailedExecutionGSI3SK("E1", "01", "failed", 1), exec.GSI3SK)
}

func TestMarkUnrecoverableForExecution(t *testing.T) {
	store := kvmem.New()
	engine := ingestion.New(store, metrics.NewPublisher(&fakeSink{}))
	ctx := context.Background()

	require.NoError(t, engine.Ingest(ctx, workflowevent.Event{
		ID: "evt-1", ExecutionID: "E1", County: "leon",
		Errors: []workflowevent.ErrorItem{{Code: "01256"}},
	}))

	mutator := New(store)
	require.NoError(t, mutator.MarkUnrecoverableForExecution(ctx, "E1"))

	link, err := store.GetItem(ctx, kvstore.Key{PK: kvstore.ExecutionPK("E1"), SK: kvstore.LinkSK("01256")})
	require.NoError(t, err)
	assert.Equal(t, StatusMaybeUnrecoverable, link.Attrs["status"])

	rec, err := store.GetItem(ctx, kvstore.Key{PK: kvstore.ErrorPK("01256"), SK: kvstore.ErrorSK("01256")})
	require.NoError(t, err)
	assert.Equal(t, StatusMaybeUnrecoverable, rec.Attrs["status"])

	// The execution row is untouched; deletion is the controller's job.
	_, err = store.GetItem(ctx, kvstore.Key{PK: kvstore.ExecutionPK("E1"), SK: kvstore.ExecutionPK("E1")})
	require.NoError(t, err)
}

func TestMarkUnrecoverableForCode_AcrossExecutions(t *testing.T) {
	store := seedTwoExecutionsSharingError(t)
	mutator := New(store)
	ctx := context.Background()

	require.NoError(t, mutator.MarkUnrecoverableForCode(ctx, "01256"))

	for _, execID := range []string{"E1", "E2"} {
		link, err := store.GetItem(ctx, kvstore.Key{PK: kvstore.ExecutionPK(execID), SK: kvstore.LinkSK("01256")})
		require.NoError(t, err)
		assert.Equal(t, StatusMaybeUnrecoverable, link.Attrs["status"])
	}

	rec, err := store.GetItem(ctx, kvstore.Key{PK: kvstore.ErrorPK("01256"), SK: kvstore.ErrorSK("01256")})
	require.NoError(t, err)
	assert.Equal(t, StatusMaybeUnrecoverable, rec.Attrs["status"])
}
