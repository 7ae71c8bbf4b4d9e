package stateaggregate

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/elephant-xyz/workflow-core/pkg/kvstore"
	"github.com/elephant-xyz/workflow-core/pkg/workflowevent"
)

// Engine is the State & Aggregate Engine (C4).
type Engine struct {
	repo kvstore.Repository
}

// New builds an Engine over repo.
func New(repo kvstore.Repository) *Engine {
	return &Engine{repo: repo}
}

// cell is the (phase, step, bucket, county, dataGroup) tuple an
// ExecutionState row occupies at a point in time.
type cell struct {
	phase, step    string
	bucket         workflowevent.Bucket
	county, dgroup string
}

func (c cell) equal(o cell) bool {
	return c.phase == o.phase && c.step == o.step && c.bucket == o.bucket &&
		c.county == o.county && c.dgroup == o.dgroup
}

func bucketField(b workflowevent.Bucket) string {
	switch b {
	case workflowevent.BucketFailed:
		return "failedCount"
	case workflowevent.BucketSucceeded:
		return "succeededCount"
	default:
		return "inProgressCount"
	}
}

// Apply advances an execution's ExecutionState to the cell named by event,
// adjusting StepAggregate counters accordingly:
//
//   - new execution: Put ExecutionState, +1 the new cell's StepAggregate bucket.
//   - unchanged cell: no-op.
//   - changed cell: one transaction that -1s the old StepAggregate bucket
//     (guarded against going negative), +1s the new one, and advances
//     ExecutionState with optimistic concurrency on version.
//
// event.ID is recorded as an idempotency token so redelivery of the same
// event never double-applies a transition.
func (e *Engine) Apply(ctx context.Context, event workflowevent.Event) error {
	log := slog.With("execution_id", event.ExecutionID, "event_id", event.ID)

	if event.ID != "" {
		found, _, err := e.repo.CheckIdempotency(ctx, event.ID, "state")
		if err != nil {
			return fmt.Errorf("check state idempotency: %w", err)
		}
		if found {
			log.Info("state event already processed, skipping")
			return nil
		}
	}

	newCell := cell{
		phase:  event.Phase,
		step:   event.Step,
		bucket: workflowevent.NormalizeBucket(event.Status),
		county: event.County,
		dgroup: event.DataGroupLabel,
	}

	stateKey := kvstore.Key{PK: kvstore.ExecutionPK(event.ExecutionID), SK: kvstore.ExecutionStateSK(event.ExecutionID)}
	existing, err := e.repo.GetItem(ctx, stateKey)
	switch {
	case kvstore.IsNotFound(err):
		if err := e.applyNew(ctx, event, stateKey, newCell); err != nil {
			return err
		}
	case err != nil:
		return fmt.Errorf("get execution state: %w", err)
	default:
		oldCell := cellFromItem(*existing)
		if oldCell.equal(newCell) {
			log.Debug("state transition is a no-op, cell unchanged")
		} else if err := e.applyTransition(ctx, event, stateKey, existing.Version, oldCell, newCell); err != nil {
			return err
		}
	}

	if event.ID != "" {
		if err := e.repo.RecordIdempotency(ctx, event.ID, "state", nil); err != nil {
			log.Warn("failed to record state idempotency token", "error", err)
		}
	}
	return nil
}

func cellFromItem(item kvstore.Item) cell {
	phase, _ := item.Attrs["phase"].(string)
	step, _ := item.Attrs["step"].(string)
	bucket, _ := item.Attrs["bucket"].(string)
	county, _ := item.Attrs["county"].(string)
	dgroup, _ := item.Attrs["dataGroupLabel"].(string)
	return cell{phase: phase, step: step, bucket: workflowevent.Bucket(bucket), county: county, dgroup: dgroup}
}

// applyNew handles a first-sighting execution: create its ExecutionState row
// and bump the new cell's StepAggregate bucket, atomically.
func (e *Engine) applyNew(ctx context.Context, event workflowevent.Event, stateKey kvstore.Key, c cell) error {
	aggKey := kvstore.Key{PK: kvstore.AggregatePK(c.county, c.dgroup), SK: kvstore.AggregateSK(c.phase, c.step)}

	ops := []kvstore.WriteOp{
		{
			Kind: kvstore.WriteOpPut,
			Put: &kvstore.Item{
				PK: stateKey.PK, SK: stateKey.SK, EntityType: "ExecutionState",
				Attrs: map[string]any{
					"executionId":    event.ExecutionID,
					"phase":          c.phase,
					"step":           c.step,
					"bucket":         string(c.bucket),
					"status":         string(event.Status),
					"county":         c.county,
					"dataGroupLabel": c.dgroup,
				},
				Version: 1,
			},
		},
		{
			Kind: kvstore.WriteOpUpdate,
			Update: &kvstore.UpdateItemInput{
				PK: aggKey.PK, SK: aggKey.SK, EntityType: "StepAggregate",
				Set: map[string]any{"phase": c.phase, "step": c.step, "county": c.county, "dataGroupLabel": c.dgroup},
				Add: map[string]int64{bucketField(c.bucket): 1},
			},
		},
	}
	if err := e.repo.TransactWrite(ctx, ops); err != nil {
		return fmt.Errorf("create execution state: %w", err)
	}
	return nil
}

// applyTransition handles a cell change for an already-known execution: one
// transaction decrements the old StepAggregate bucket (best-effort guarded
// against underflow via a pre-read), increments the new one, and advances
// ExecutionState under optimistic concurrency.
func (e *Engine) applyTransition(ctx context.Context, event workflowevent.Event, stateKey kvstore.Key, version int64, oldCell, newCell cell) error {
	oldAggKey := kvstore.Key{PK: kvstore.AggregatePK(oldCell.county, oldCell.dgroup), SK: kvstore.AggregateSK(oldCell.phase, oldCell.step)}
	newAggKey := kvstore.Key{PK: kvstore.AggregatePK(newCell.county, newCell.dgroup), SK: kvstore.AggregateSK(newCell.phase, newCell.step)}
	oldField := bucketField(oldCell.bucket)
	newField := bucketField(newCell.bucket)

	ops := make([]kvstore.WriteOp, 0, 3)
	newAdd := map[string]int64{newField: 1}

	if decrementable, err := e.bucketAboveZero(ctx, oldAggKey, oldField); err != nil {
		return fmt.Errorf("check old aggregate bucket: %w", err)
	} else if decrementable && oldAggKey == newAggKey {
		// Only the bucket changed: both deltas go on the one StepAggregate
		// row, since a transaction may not touch the same item twice.
		newAdd[oldField] = -1
	} else if decrementable {
		ops = append(ops, kvstore.WriteOp{
			Kind: kvstore.WriteOpUpdate,
			Update: &kvstore.UpdateItemInput{
				PK: oldAggKey.PK, SK: oldAggKey.SK, EntityType: "StepAggregate",
				Add: map[string]int64{oldField: -1},
			},
		})
	}

	ops = append(ops, kvstore.WriteOp{
		Kind: kvstore.WriteOpUpdate,
		Update: &kvstore.UpdateItemInput{
			PK: newAggKey.PK, SK: newAggKey.SK, EntityType: "StepAggregate",
			Set: map[string]any{"phase": newCell.phase, "step": newCell.step, "county": newCell.county, "dataGroupLabel": newCell.dgroup},
			Add: newAdd,
		},
	})

	ops = append(ops, kvstore.WriteOp{
		Kind: kvstore.WriteOpUpdate,
		Update: &kvstore.UpdateItemInput{
			PK: stateKey.PK, SK: stateKey.SK, EntityType: "ExecutionState",
			Set: map[string]any{
				"executionId":    event.ExecutionID,
				"phase":          newCell.phase,
				"step":           newCell.step,
				"bucket":         string(newCell.bucket),
				"status":         string(event.Status),
				"county":         newCell.county,
				"dataGroupLabel": newCell.dgroup,
			},
			Condition: &kvstore.Condition{Op: kvstore.ConditionVersionEquals, VersionValue: version},
		},
	})

	if err := e.repo.TransactWrite(ctx, ops); err != nil {
		return fmt.Errorf("apply state transition: %w", err)
	}
	return nil
}

// AggregateCounts is the read-only view of one StepAggregate cell.
type AggregateCounts struct {
	County         string
	DataGroupLabel string
	Phase          string
	Step           string
	InProgress     int64
	Failed         int64
	Succeeded      int64
}

// ErrAggregateNotFound is returned by GetAggregate when the cell has never
// been touched by Apply.
var ErrAggregateNotFound = fmt.Errorf("stateaggregate: aggregate cell not found")

// GetAggregate fetches the current StepAggregate counters for one
// (county, dataGroup, phase, step) cell.
func (e *Engine) GetAggregate(ctx context.Context, county, dataGroup, phase, step string) (*AggregateCounts, error) {
	key := kvstore.Key{PK: kvstore.AggregatePK(county, dataGroup), SK: kvstore.AggregateSK(phase, step)}
	item, err := e.repo.GetItem(ctx, key)
	if kvstore.IsNotFound(err) {
		return nil, ErrAggregateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get aggregate: %w", err)
	}
	inProgress, _ := item.Attrs["inProgressCount"].(float64)
	failed, _ := item.Attrs["failedCount"].(float64)
	succeeded, _ := item.Attrs["succeededCount"].(float64)
	return &AggregateCounts{
		County: county, DataGroupLabel: dataGroup, Phase: phase, Step: step,
		InProgress: int64(inProgress), Failed: int64(failed), Succeeded: int64(succeeded),
	}, nil
}

// bucketAboveZero reports whether the named StepAggregate bucket is
// currently greater than zero, so a decrement never drives it negative.
func (e *Engine) bucketAboveZero(ctx context.Context, key kvstore.Key, field string) (bool, error) {
	item, err := e.repo.GetItem(ctx, key)
	if kvstore.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	count, _ := item.Attrs[field].(float64)
	return count > 0, nil
}
