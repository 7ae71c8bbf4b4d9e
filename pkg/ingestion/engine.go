package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/elephant-xyz/workflow-core/pkg/kvstore"
	"github.com/elephant-xyz/workflow-core/pkg/metrics"
	"github.com/elephant-xyz/workflow-core/pkg/workflowevent"
)

// Engine is the Error Ingestion Engine (C3).
type Engine struct {
	repo    kvstore.Repository
	metrics *metrics.Publisher
	retry   RetryPolicy
}

// New builds an Engine over repo, publishing phase metrics through pub.
func New(repo kvstore.Repository, pub *metrics.Publisher) *Engine {
	return &Engine{repo: repo, metrics: pub, retry: DefaultRetryPolicy}
}

// WithRetryPolicy overrides the default retry policy (mainly for tests).
func (e *Engine) WithRetryPolicy(p RetryPolicy) *Engine {
	e.retry = p
	return e
}

type codeGroup struct {
	code        string
	occurrences int64
	details     map[string]any
}

// Ingest consumes one workflow event: groups its errors by code, upserts
// FailedExecution/ExecutionErrorLink atomically, then upserts each
// ErrorRecord's counter with a follow-up GSI rewrite, and finally emits
// one phase metric regardless of whether errors were present. A publish
// failure propagates like any other — losing visibility into the pipeline
// is itself a data bug, so the event must be redelivered.
func (e *Engine) Ingest(ctx context.Context, event workflowevent.Event) (err error) {
	log := slog.With("execution_id", event.ExecutionID, "event_id", event.ID)

	defer func() {
		if pubErr := e.metrics.Publish(ctx, event); pubErr != nil {
			log.Error("failed to publish phase metric", "error", pubErr)
			err = errors.Join(err, pubErr)
		}
	}()

	if len(event.Errors) == 0 {
		return nil
	}

	if event.ID != "" {
		found, _, err := e.repo.CheckIdempotency(ctx, event.ID, "ingest")
		if err != nil {
			return fmt.Errorf("check ingest idempotency: %w", err)
		}
		if found {
			log.Info("ingest event already processed, skipping")
			return nil
		}
	}

	groups := groupByCode(event.Errors)

	if err := e.upsertExecutionAndLinks(ctx, event, groups); err != nil {
		return fmt.Errorf("upsert execution and links: %w", err)
	}

	for _, g := range groups {
		if err := e.retry.Do(ctx, func() error {
			return e.upsertErrorRecord(ctx, g.code, g.occurrences, g.details)
		}); err != nil {
			return fmt.Errorf("upsert error record %s: %w", g.code, err)
		}
	}

	if event.ID != "" {
		if err := e.repo.RecordIdempotency(ctx, event.ID, "ingest", nil); err != nil {
			log.Warn("failed to record ingest idempotency token", "error", err)
		}
	}

	return nil
}

// groupByCode groups errors by code, computing occurrence counts and
// retaining the first-observed details per code (deterministic on replay).
func groupByCode(errors []workflowevent.ErrorItem) []codeGroup {
	index := map[string]int{}
	var groups []codeGroup
	for _, e := range errors {
		if i, ok := index[e.Code]; ok {
			groups[i].occurrences++
			continue
		}
		index[e.Code] = len(groups)
		groups = append(groups, codeGroup{code: e.Code, occurrences: 1, details: e.Details})
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].code < groups[j].code })
	return groups
}

// dominantErrorType returns the shared errorType prefix across codes if
// all codes agree, else empty string.
func dominantErrorType(groups []codeGroup) string {
	if len(groups) == 0 {
		return ""
	}
	first := kvstore.ErrorType(groups[0].code)
	for _, g := range groups[1:] {
		if kvstore.ErrorType(g.code) != first {
			return ""
		}
	}
	return first
}

// upsertExecutionAndLinks performs the FailedExecution + ExecutionErrorLink
// writes atomically (batched into ≤100-item transactions), then issues a
// follow-up single-item update to rewrite the FailedExecution's GSI keys
// from the post-increment openErrorCount, the same two-phase shape used
// for ErrorRecord counters.
func (e *Engine) upsertExecutionAndLinks(ctx context.Context, event workflowevent.Event, groups []codeGroup) error {
	execKey := kvstore.Key{PK: kvstore.ExecutionPK(event.ExecutionID), SK: kvstore.ExecutionPK(event.ExecutionID)}

	newLinks := 0
	var totalOccurrences int64
	linkUpdates := make([]kvstore.WriteOp, 0, len(groups))
	for _, g := range groups {
		totalOccurrences += g.occurrences
		linkKey := kvstore.Key{PK: execKey.PK, SK: kvstore.LinkSK(g.code)}
		_, err := e.repo.GetItem(ctx, linkKey)
		isNew := kvstore.IsNotFound(err)
		if err != nil && !isNew {
			return fmt.Errorf("get link %s: %w", g.code, err)
		}
		if isNew {
			newLinks++
		}

		set := map[string]any{"executionId": event.ExecutionID, "errorCode": g.code, "county": event.County}
		if isNew {
			set["status"] = "failed"
			set["errorDetails"] = g.details
		}
		gsi1sk := kvstore.LinkGSI1SK(event.ExecutionID)
		linkUpdates = append(linkUpdates, kvstore.WriteOp{
			Kind: kvstore.WriteOpUpdate,
			Update: &kvstore.UpdateItemInput{
				PK: linkKey.PK, SK: linkKey.SK, EntityType: "ExecutionErrorLink",
				Set:       set,
				Add:       map[string]int64{"occurrences": g.occurrences},
				SetGSI1PK: strPtr(kvstore.ErrorPK(g.code)),
				SetGSI1SK: &gsi1sk,
			},
		})
	}

	_, err := e.repo.GetItem(ctx, execKey)
	execIsNew := kvstore.IsNotFound(err)
	if err != nil && !execIsNew {
		return fmt.Errorf("get execution: %w", err)
	}

	execSet := map[string]any{"executionId": event.ExecutionID, "county": event.County}
	if event.PreparedS3URI != "" {
		execSet["preparedS3Uri"] = event.PreparedS3URI
	}
	if event.ErrorsS3URI != "" {
		execSet["errorsS3Uri"] = event.ErrorsS3URI
	}
	if event.TaskToken != "" {
		execSet["taskToken"] = event.TaskToken
	}
	if event.SourceBucket != "" {
		execSet["sourceBucket"] = event.SourceBucket
		execSet["sourceKey"] = event.SourceKey
	}
	if execIsNew {
		execSet["status"] = "failed"
	}
	if errType := dominantErrorType(groups); errType != "" || execIsNew {
		execSet["errorType"] = errType
	}

	ops := append([]kvstore.WriteOp{{
		Kind: kvstore.WriteOpUpdate,
		Update: &kvstore.UpdateItemInput{
			PK: execKey.PK, SK: execKey.SK, EntityType: "FailedExecution",
			Set: execSet,
			Add: map[string]int64{
				"uniqueErrorCount": int64(newLinks),
				"totalOccurrences": totalOccurrences,
				"openErrorCount":   int64(newLinks),
			},
		},
	}}, linkUpdates...)

	const maxBatch = 100
	for start := 0; start < len(ops); start += maxBatch {
		end := min(start+maxBatch, len(ops))
		if err := e.repo.TransactWrite(ctx, ops[start:end]); err != nil {
			return err
		}
	}

	return e.rewriteExecutionGSI(ctx, execKey)
}

// rewriteExecutionGSI reads the post-increment openErrorCount and status,
// then rewrites GSI1/GSI3 sort keys to match (invariant I6).
func (e *Engine) rewriteExecutionGSI(ctx context.Context, execKey kvstore.Key) error {
	item, err := e.repo.GetItem(ctx, execKey)
	if err != nil {
		return fmt.Errorf("re-read execution for GSI rewrite: %w", err)
	}
	openErrorCount, _ := item.Attrs["openErrorCount"].(float64)
	status, _ := item.Attrs["status"].(string)
	if status == "" {
		status = "failed"
	}
	errorType, _ := item.Attrs["errorType"].(string)
	execID := execKey.PK[len("EXECUTION#"):]

	gsi1sk := kvstore.FailedExecutionGSI1SK(execID, int64(openErrorCount))
	gsi3sk := kvstore.FailedExecutionGSI3SK(execID, errorType, status, int64(openErrorCount))

	_, err = e.repo.UpdateItem(ctx, kvstore.UpdateItemInput{
		PK: execKey.PK, SK: execKey.SK, EntityType: "FailedExecution",
		SetGSI1PK: strPtr(kvstore.GSI1PartitionErrorCount),
		SetGSI1SK: &gsi1sk,
		SetGSI3PK: strPtr(kvstore.GSI3PartitionErrorCount),
		SetGSI3SK: &gsi3sk,
	})
	return err
}

// upsertErrorRecord atomically increments an ErrorRecord's totalCount, then
// rewrites its GSI2/GSI3 keys using the returned post-increment value — a
// two-step shape used because the increment and the derived sort key
// cannot be written in the same atomic step.
func (e *Engine) upsertErrorRecord(ctx context.Context, code string, occurrences int64, details map[string]any) error {
	key := kvstore.Key{PK: kvstore.ErrorPK(code), SK: kvstore.ErrorSK(code)}

	_, err := e.repo.GetItem(ctx, key)
	isNew := kvstore.IsNotFound(err)
	if err != nil && !isNew {
		return fmt.Errorf("get error record: %w", err)
	}

	set := map[string]any{"errorCode": code, "errorType": kvstore.ErrorType(code)}
	if isNew {
		set["status"] = "failed"
		set["errorDetails"] = details
	}

	gsi1sk := kvstore.ErrorRecordGSI1SK(code)
	item, err := e.repo.UpdateItem(ctx, kvstore.UpdateItemInput{
		PK: key.PK, SK: key.SK, EntityType: "ErrorRecord",
		Set:       set,
		Add:       map[string]int64{"totalCount": occurrences},
		SetGSI1PK: strPtr(kvstore.GSI1PartitionTypeError),
		SetGSI1SK: &gsi1sk,
	})
	if err != nil {
		return fmt.Errorf("increment error record: %w", err)
	}

	totalCount, _ := item.Attrs["totalCount"].(float64)
	status, _ := item.Attrs["status"].(string)
	if status == "" {
		status = "failed"
	}
	errorType, _ := item.Attrs["errorType"].(string)

	gsi2sk := kvstore.ErrorRecordGSI2SK(code, status, int64(totalCount))
	gsi3sk := kvstore.ErrorRecordGSI3SK(code, errorType, status, int64(totalCount))

	_, err = e.repo.UpdateItem(ctx, kvstore.UpdateItemInput{
		PK: key.PK, SK: key.SK, EntityType: "ErrorRecord",
		SetGSI2PK: strPtr(kvstore.GSI2PartitionTypeError),
		SetGSI2SK: &gsi2sk,
		SetGSI3PK: strPtr(kvstore.GSI3PartitionErrorCountError),
		SetGSI3SK: &gsi3sk,
	})
	return err
}

func strPtr(s string) *string { return &s }
