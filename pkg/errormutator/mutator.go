package errormutator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/elephant-xyz/workflow-core/pkg/kvstore"
)

// Status values this package writes to ExecutionErrorLink/ErrorRecord rows.
const (
	StatusMaybeSolved        = "maybeSolved"
	StatusMaybeUnrecoverable = "maybeUnrecoverable"
)

// Mutator is the Error-Status Mutator (C5).
type Mutator struct {
	repo kvstore.Repository
}

// New builds a Mutator over repo.
func New(repo kvstore.Repository) *Mutator {
	return &Mutator{repo: repo}
}

// MarkSolvedForHashes flags every ExecutionErrorLink matching any of hashes
// (fingerprint codes) as maybeSolved: each matching execution's
// openErrorCount is atomically decremented, and the execution row (plus
// all its links) is deleted once the count reaches zero. Each hash's
// ErrorRecord is then updated to maybeSolved with its GSI2/GSI3 keys
// rewritten from the current totalCount. county is accepted to match the
// operation's call shape but every link already carries its own county.
func (m *Mutator) MarkSolvedForHashes(ctx context.Context, hashes []string, county string) error {
	for _, hash := range hashes {
		if err := m.markSolvedForHash(ctx, hash); err != nil {
			return fmt.Errorf("mark solved for hash %s: %w", hash, err)
		}
	}
	return nil
}

func (m *Mutator) markSolvedForHash(ctx context.Context, code string) error {
	out, err := m.repo.Query(ctx, kvstore.QueryInput{
		Index: kvstore.IndexGSI1, Partition: kvstore.ErrorPK(code), EntityType: "ExecutionErrorLink",
	})
	if err != nil {
		return fmt.Errorf("reverse lookup links for %s: %w", code, err)
	}

	for _, link := range out.Items {
		execID := strings.TrimPrefix(link.PK, "EXECUTION#")
		if err := m.solveExecutionLink(ctx, execID, code); err != nil {
			return fmt.Errorf("solve link for execution %s: %w", execID, err)
		}
	}

	return m.updateErrorRecordStatus(ctx, code, StatusMaybeSolved)
}

// solveExecutionLink flips one execution's link for code to maybeSolved and
// decrements its FailedExecution.openErrorCount, deleting the execution
// (and all its links) once the count reaches zero. Idempotent: a link
// already at maybeSolved, or an execution already deleted, is a no-op.
func (m *Mutator) solveExecutionLink(ctx context.Context, execID, code string) error {
	linkKey := kvstore.Key{PK: kvstore.ExecutionPK(execID), SK: kvstore.LinkSK(code)}
	link, err := m.repo.GetItem(ctx, linkKey)
	if kvstore.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("get link: %w", err)
	}
	if status, _ := link.Attrs["status"].(string); status == StatusMaybeSolved {
		return nil
	}

	execKey := kvstore.Key{PK: kvstore.ExecutionPK(execID), SK: kvstore.ExecutionPK(execID)}
	if _, err := m.repo.GetItem(ctx, execKey); kvstore.IsNotFound(err) {
		return nil
	} else if err != nil {
		return fmt.Errorf("get execution: %w", err)
	}

	ops := []kvstore.WriteOp{
		{
			Kind: kvstore.WriteOpUpdate,
			Update: &kvstore.UpdateItemInput{
				PK: linkKey.PK, SK: linkKey.SK, EntityType: "ExecutionErrorLink",
				Set: map[string]any{"status": StatusMaybeSolved},
			},
		},
		{
			Kind: kvstore.WriteOpUpdate,
			Update: &kvstore.UpdateItemInput{
				PK: execKey.PK, SK: execKey.SK, EntityType: "FailedExecution",
				Add:       map[string]int64{"openErrorCount": -1},
				Condition: &kvstore.Condition{Op: kvstore.ConditionAttrGreaterInt, AttrName: "openErrorCount", AttrValue: 0},
			},
		},
	}
	if err := m.repo.TransactWrite(ctx, ops); err != nil {
		if kvstore.IsConditionFailed(err) {
			// Already decremented to zero by a prior run; idempotent no-op.
			return nil
		}
		return fmt.Errorf("decrement open error count: %w", err)
	}

	exec, err := m.repo.GetItem(ctx, execKey)
	if kvstore.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("re-read execution: %w", err)
	}
	openErrorCount, _ := exec.Attrs["openErrorCount"].(float64)
	if openErrorCount > 0 {
		return m.rewriteExecutionGSI(ctx, exec, execID, int64(openErrorCount))
	}
	return m.deleteExecution(ctx, execID)
}

// rewriteExecutionGSI re-derives a surviving FailedExecution's GSI1/GSI3
// sort keys from the post-decrement openErrorCount, keeping selector
// ordering consistent with the counter it encodes.
func (m *Mutator) rewriteExecutionGSI(ctx context.Context, exec *kvstore.Item, execID string, openErrorCount int64) error {
	status, _ := exec.Attrs["status"].(string)
	if status == "" {
		status = "failed"
	}
	errorType, _ := exec.Attrs["errorType"].(string)

	gsi1sk := kvstore.FailedExecutionGSI1SK(execID, openErrorCount)
	gsi3sk := kvstore.FailedExecutionGSI3SK(execID, errorType, status, openErrorCount)
	_, err := m.repo.UpdateItem(ctx, kvstore.UpdateItemInput{
		PK: exec.PK, SK: exec.SK, EntityType: "FailedExecution",
		SetGSI1SK: &gsi1sk,
		SetGSI3SK: &gsi3sk,
	})
	if err != nil {
		return fmt.Errorf("rewrite execution sort keys: %w", err)
	}
	return nil
}

// DeleteExecution removes the FailedExecution row and all its
// ExecutionErrorLinks for execID. The ExecutionState row, if present, is
// left alone — it belongs to the State & Aggregate Engine's own lifecycle.
// Exported for the auto-repair controller, which owns deletion on its
// commit and exhausted-retries transitions rather than the mutator
// deciding on its own when a repaired or abandoned execution should
// disappear.
func (m *Mutator) DeleteExecution(ctx context.Context, execID string) error {
	return m.deleteExecution(ctx, execID)
}

func (m *Mutator) deleteExecution(ctx context.Context, execID string) error {
	out, err := m.repo.Query(ctx, kvstore.QueryInput{Index: kvstore.IndexBase, Partition: kvstore.ExecutionPK(execID)})
	if err != nil {
		return fmt.Errorf("list execution rows: %w", err)
	}

	var ops []kvstore.WriteOp
	for _, item := range out.Items {
		if item.EntityType == "ExecutionState" {
			continue
		}
		key := kvstore.Key{PK: item.PK, SK: item.SK}
		ops = append(ops, kvstore.WriteOp{Kind: kvstore.WriteOpDelete, Delete: &key})
	}
	if len(ops) == 0 {
		return nil
	}
	if err := m.repo.TransactWrite(ctx, ops); err != nil {
		return fmt.Errorf("delete execution %s: %w", execID, err)
	}
	slog.Info("deleted exhausted execution rows", "execution_id", execID, "rows", len(ops))
	return nil
}

// MarkUnrecoverableForExecution flips every one of execID's links — and
// their ErrorRecords — to maybeUnrecoverable. Unlike MarkSolvedForHashes,
// this never decrements openErrorCount or deletes rows; the execution row
// itself is removed separately by the auto-repair controller once the
// terminal transition completes.
func (m *Mutator) MarkUnrecoverableForExecution(ctx context.Context, execID string) error {
	out, err := m.repo.Query(ctx, kvstore.QueryInput{
		Index: kvstore.IndexBase, Partition: kvstore.ExecutionPK(execID), SKPrefix: "ERROR#",
	})
	if err != nil {
		return fmt.Errorf("list links for execution %s: %w", execID, err)
	}

	for _, link := range out.Items {
		if status, _ := link.Attrs["status"].(string); status == StatusMaybeUnrecoverable {
			continue
		}
		code := strings.TrimPrefix(link.SK, "ERROR#")
		if err := m.updateLinkStatus(ctx, link.PK, link.SK, StatusMaybeUnrecoverable); err != nil {
			return fmt.Errorf("mark link unrecoverable: %w", err)
		}
		if err := m.updateErrorRecordStatus(ctx, code, StatusMaybeUnrecoverable); err != nil {
			return fmt.Errorf("mark error record unrecoverable: %w", err)
		}
	}
	return nil
}

// MarkUnrecoverableForCode flips every execution's link for code, and the
// code's own ErrorRecord, to maybeUnrecoverable.
func (m *Mutator) MarkUnrecoverableForCode(ctx context.Context, code string) error {
	out, err := m.repo.Query(ctx, kvstore.QueryInput{
		Index: kvstore.IndexGSI1, Partition: kvstore.ErrorPK(code), EntityType: "ExecutionErrorLink",
	})
	if err != nil {
		return fmt.Errorf("reverse lookup links for %s: %w", code, err)
	}

	for _, link := range out.Items {
		if status, _ := link.Attrs["status"].(string); status == StatusMaybeUnrecoverable {
			continue
		}
		if err := m.updateLinkStatus(ctx, link.PK, link.SK, StatusMaybeUnrecoverable); err != nil {
			return fmt.Errorf("mark link unrecoverable: %w", err)
		}
	}
	return m.updateErrorRecordStatus(ctx, code, StatusMaybeUnrecoverable)
}

func (m *Mutator) updateLinkStatus(ctx context.Context, pk, sk, status string) error {
	_, err := m.repo.UpdateItem(ctx, kvstore.UpdateItemInput{
		PK: pk, SK: sk, EntityType: "ExecutionErrorLink",
		Set: map[string]any{"status": status},
	})
	return err
}

// updateErrorRecordStatus sets an ErrorRecord's status and rewrites its
// GSI2/GSI3 sort keys from its current totalCount — the same two-phase
// shape the ingestion engine uses, since the sort key is derived from
// attributes that must already be committed.
func (m *Mutator) updateErrorRecordStatus(ctx context.Context, code, status string) error {
	key := kvstore.Key{PK: kvstore.ErrorPK(code), SK: kvstore.ErrorSK(code)}
	item, err := m.repo.GetItem(ctx, key)
	if kvstore.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("get error record: %w", err)
	}

	totalCount, _ := item.Attrs["totalCount"].(float64)
	errorType, _ := item.Attrs["errorType"].(string)

	gsi2sk := kvstore.ErrorRecordGSI2SK(code, status, int64(totalCount))
	gsi3sk := kvstore.ErrorRecordGSI3SK(code, errorType, status, int64(totalCount))

	_, err = m.repo.UpdateItem(ctx, kvstore.UpdateItemInput{
		PK: key.PK, SK: key.SK, EntityType: "ErrorRecord",
		Set:       map[string]any{"status": status},
		SetGSI2PK: strPtr(kvstore.GSI2PartitionTypeError),
		SetGSI2SK: &gsi2sk,
		SetGSI3PK: strPtr(kvstore.GSI3PartitionErrorCountError),
		SetGSI3SK: &gsi3sk,
	})
	return err
}

func strPtr(s string) *string { return &s }
