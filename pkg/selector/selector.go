package selector

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/elephant-xyz/workflow-core/pkg/kvstore"
)

// SortOrder picks which end of the open-error-count ordering to return.
type SortOrder string

// Valid SortOrder values.
const (
	SortMost  SortOrder = "most"
	SortLeast SortOrder = "least"
)

// ErrNoExecutions is returned when no FailedExecution matches the query.
var ErrNoExecutions = errors.New("selector: no matching execution")

// LinkSummary is one ExecutionErrorLink row surfaced by a selection.
type LinkSummary struct {
	Code        string
	Occurrences int64
	Status      string
}

// ExecutionSummary is the FailedExecution a selection picked, with its full
// error set paginated in.
type ExecutionSummary struct {
	ExecutionID    string
	County         string
	ErrorType      string
	Status         string
	OpenErrorCount int64
	PreparedS3URI  string
	ErrorsS3URI    string
	SourceBucket   string
	SourceKey      string
	TaskToken      string
	Links          []LinkSummary
}

// Selector is the Execution Selector (C6).
type Selector struct {
	repo kvstore.Repository
}

// New builds a Selector over repo.
func New(repo kvstore.Repository) *Selector {
	return &Selector{repo: repo}
}

// GetExecutionWithMost returns the FailedExecution with the highest
// openErrorCount, optionally restricted to errorType.
func (s *Selector) GetExecutionWithMost(ctx context.Context, errorType string) (*ExecutionSummary, error) {
	return s.Pick(ctx, SortMost, errorType)
}

// GetExecutionWithLeast returns the FailedExecution with the lowest
// openErrorCount, optionally restricted to errorType.
func (s *Selector) GetExecutionWithLeast(ctx context.Context, errorType string) (*ExecutionSummary, error) {
	return s.Pick(ctx, SortLeast, errorType)
}

// Pick implements both GetExecutionWithMost/Least: query GSI1 (unfiltered)
// or GSI3 (begins_with errorType) ordered by openErrorCount, take the first
// row, then page in its full link set.
func (s *Selector) Pick(ctx context.Context, order SortOrder, errorType string) (*ExecutionSummary, error) {
	if order != SortMost && order != SortLeast {
		return nil, fmt.Errorf("selector: invalid sort order %q", order)
	}
	errorType = strings.TrimSpace(errorType)

	// "most" wants descending order (Forward=false); "least" wants
	// ascending (Forward=true) — Pad10 sort keys make lexicographic order
	// equal numeric order either way.
	forward := order == SortLeast

	query := kvstore.QueryInput{
		Index: kvstore.IndexGSI1, Partition: kvstore.GSI1PartitionErrorCount,
		EntityType: "FailedExecution", Forward: forward, Limit: 1,
	}
	if errorType != "" {
		query.Index = kvstore.IndexGSI3
		query.Partition = kvstore.GSI3PartitionErrorCount
		query.SKPrefix = fmt.Sprintf("COUNT#%s#", errorType)
	}

	out, err := s.repo.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query executions: %w", err)
	}
	if len(out.Items) == 0 {
		return nil, ErrNoExecutions
	}

	item := out.Items[0]
	execID := strings.TrimPrefix(item.PK, "EXECUTION#")
	county, _ := item.Attrs["county"].(string)
	status, _ := item.Attrs["status"].(string)
	errType, _ := item.Attrs["errorType"].(string)
	openErrorCount, _ := item.Attrs["openErrorCount"].(float64)
	preparedS3URI, _ := item.Attrs["preparedS3Uri"].(string)
	errorsS3URI, _ := item.Attrs["errorsS3Uri"].(string)
	sourceBucket, _ := item.Attrs["sourceBucket"].(string)
	sourceKey, _ := item.Attrs["sourceKey"].(string)
	taskToken, _ := item.Attrs["taskToken"].(string)

	links, err := s.links(ctx, execID)
	if err != nil {
		return nil, fmt.Errorf("page links for execution %s: %w", execID, err)
	}

	return &ExecutionSummary{
		ExecutionID:    execID,
		County:         county,
		ErrorType:      errType,
		Status:         status,
		OpenErrorCount: int64(openErrorCount),
		PreparedS3URI:  preparedS3URI,
		ErrorsS3URI:    errorsS3URI,
		SourceBucket:   sourceBucket,
		SourceKey:      sourceKey,
		TaskToken:      taskToken,
		Links:          links,
	}, nil
}

// links pages through an execution's ExecutionErrorLink rows to completion.
func (s *Selector) links(ctx context.Context, execID string) ([]LinkSummary, error) {
	var result []LinkSummary
	cursor := ""
	for {
		out, err := s.repo.Query(ctx, kvstore.QueryInput{
			Index: kvstore.IndexBase, Partition: kvstore.ExecutionPK(execID), SKPrefix: "ERROR#",
			Cursor: cursor, Limit: 50,
		})
		if err != nil {
			return nil, err
		}
		for _, item := range out.Items {
			occurrences, _ := item.Attrs["occurrences"].(float64)
			status, _ := item.Attrs["status"].(string)
			result = append(result, LinkSummary{
				Code:        strings.TrimPrefix(item.SK, "ERROR#"),
				Occurrences: int64(occurrences),
				Status:      status,
			})
		}
		if out.NextCursor == "" {
			return result, nil
		}
		cursor = out.NextCursor
	}
}
