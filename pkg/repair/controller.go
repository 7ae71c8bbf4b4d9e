package repair

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/elephant-xyz/workflow-core/pkg/blobstore"
	"github.com/elephant-xyz/workflow-core/pkg/config"
	"github.com/elephant-xyz/workflow-core/pkg/fingerprint"
	"github.com/elephant-xyz/workflow-core/pkg/metrics"
	"github.com/elephant-xyz/workflow-core/pkg/repairagent"
	"github.com/elephant-xyz/workflow-core/pkg/selector"
	"github.com/elephant-xyz/workflow-core/pkg/validator"
	"github.com/elephant-xyz/workflow-core/pkg/workflowengine"
)

// Outcome is the terminal result of one Run.
type Outcome string

// Outcome values.
const (
	OutcomeCommitted     Outcome = "committed"
	OutcomeUnrecoverable Outcome = "unrecoverable"
	OutcomeNoExecutions  Outcome = "no_executions"
)

// Result summarizes one controller invocation.
type Result struct {
	ExecutionID string
	Outcome     Outcome
	Attempts    int
	FixedCount  int
}

// BlobStore is the subset of pkg/blobstore.Client the controller needs.
type BlobStore interface {
	Get(ctx context.Context, bucket, key string) ([]byte, error)
	Put(ctx context.Context, bucket, key string, data []byte) error
}

// AgentClient is the subset of pkg/repairagent.Client the controller needs.
type AgentClient interface {
	Repair(ctx context.Context, req repairagent.Request) (*repairagent.Response, error)
}

// ValidatorClient is the subset of pkg/validator.Client the controller needs.
type ValidatorClient interface {
	Validate(ctx context.Context, req validator.Request) (*validator.Response, error)
}

// OutputQueue receives a committed SVL validation's transaction items.
type OutputQueue interface {
	Send(ctx context.Context, items []validator.TransactionItem) error
}

// DLQMessage is the fallback payload sent when an SVL execution exhausts
// its repair attempts.
type DLQMessage struct {
	ExecutionID  string
	SourceBucket string
	SourceKey    string
	Cause        string
}

// DLQ receives exhausted SVL executions. MVL executions never route here.
type DLQ interface {
	Send(ctx context.Context, msg DLQMessage) error
}

// Mutator is the subset of pkg/errormutator.Mutator the controller needs.
type Mutator interface {
	MarkSolvedForHashes(ctx context.Context, hashes []string, county string) error
	MarkUnrecoverableForExecution(ctx context.Context, execID string) error
	DeleteExecution(ctx context.Context, execID string) error
}

// Selector is the subset of pkg/selector.Selector the controller needs.
type Selector interface {
	Pick(ctx context.Context, order selector.SortOrder, errorType string) (*selector.ExecutionSummary, error)
}

// PromptRegistry is the subset of pkg/config.Registry the controller needs.
type PromptRegistry interface {
	Get(name string) (config.PromptTemplate, error)
}

// Config holds the controller's tunables.
type Config struct {
	TransformBucket string
	TransformPrefix string
	MaxAttempts     int
	PromptName      string
}

// WorkflowEngine is the subset of pkg/workflowengine.Client the controller
// needs to report an execution's terminal outcome back to the workflow
// engine via its task-token callback. Optional: a Controller with none set
// simply skips the callback (e.g. local runs with no task token to honor).
type WorkflowEngine interface {
	Success(ctx context.Context, payload workflowengine.SuccessPayload) error
	Failure(ctx context.Context, payload workflowengine.FailurePayload) error
}

// Controller is the Auto-Repair Controller (C7).
type Controller struct {
	selector    Selector
	blob        BlobStore
	agent       AgentClient
	validator   ValidatorClient
	mutator     Mutator
	outputQueue OutputQueue
	dlq         DLQ
	sink        metrics.Sink
	prompts     PromptRegistry
	engine      WorkflowEngine
	cfg         Config
}

// New builds a Controller from its dependencies and tunables.
func New(sel Selector, blob BlobStore, agent AgentClient, val ValidatorClient, mutator Mutator,
	outputQueue OutputQueue, dlq DLQ, sink metrics.Sink, prompts PromptRegistry, cfg Config) *Controller {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.PromptName == "" {
		cfg.PromptName = config.DefaultRepairPromptName
	}
	return &Controller{
		selector: sel, blob: blob, agent: agent, validator: val, mutator: mutator,
		outputQueue: outputQueue, dlq: dlq, sink: sink, prompts: prompts, cfg: cfg,
	}
}

// WithWorkflowEngine attaches the task-token success/failure callback
// client, invoked on every terminal transition that carries a task token.
func (c *Controller) WithWorkflowEngine(engine WorkflowEngine) *Controller {
	c.engine = engine
	return c
}

// Run picks one execution via order/errorType and drives it through the
// full repair state machine to a terminal transition: commit (the
// patched scripts validate, errors get marked solved, and the execution
// is deleted) or exhausted (attempts run out, the execution's errors get
// marked unrecoverable, an SVL scenario is routed to the DLQ, and the
// execution is deleted).
func (c *Controller) Run(ctx context.Context, order selector.SortOrder, errorType string) (*Result, error) {
	exec, err := c.selector.Pick(ctx, order, errorType)
	if err != nil {
		if errors.Is(err, selector.ErrNoExecutions) {
			return &Result{Outcome: OutcomeNoExecutions}, nil
		}
		return nil, fmt.Errorf("pick execution: %w", err)
	}

	log := slog.With("execution_id", exec.ExecutionID, "county", exec.County)

	scenario := "SVL"
	if blobstore.IsMVLErrorsURI(exec.ErrorsS3URI) {
		scenario = "MVL"
	}

	scriptBucket := c.cfg.TransformBucket
	scriptKey := blobstore.ScriptArchiveKey(c.cfg.TransformPrefix, exec.County)

	originalScript, err := c.blob.Get(ctx, scriptBucket, scriptKey)
	if err != nil {
		return nil, fmt.Errorf("download transform scripts: %w", err)
	}

	preparedBucket, preparedKey, err := blobstore.ParseURI(exec.PreparedS3URI)
	if err != nil {
		return nil, fmt.Errorf("parse prepared output uri: %w", err)
	}
	seedURI := blobstore.FormatURI(preparedBucket, siblingKey(preparedKey, "seed_output.zip"))

	errorsURI := exec.ErrorsS3URI
	template, err := c.prompts.Get(c.cfg.PromptName)
	if err != nil {
		template = config.DefaultRepairPrompt
	}

	lastCode := fingerprint.DefaultCode
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		res, err := c.attempt(ctx, log, exec, scenario, scriptBucket, scriptKey, originalScript, seedURI, errorsURI, template, attempt)
		if err != nil {
			return nil, fmt.Errorf("repair attempt %d: %w", attempt, err)
		}
		if res.errorCode != "" {
			lastCode = res.errorCode
		}
		if res.committed {
			if err := c.commit(ctx, exec, scenario, res.hashes, res.items); err != nil {
				return nil, fmt.Errorf("commit repair: %w", err)
			}
			c.emit(ctx, "RepairSucceeded", exec.County, 1)
			c.emit(ctx, "RepairFixedCount", exec.County, float64(len(res.hashes)))
			log.Info("auto-repair committed", "attempts", attempt, "fixed_count", len(res.hashes))
			return &Result{ExecutionID: exec.ExecutionID, Outcome: OutcomeCommitted, Attempts: attempt, FixedCount: len(res.hashes)}, nil
		}
		if res.retryURI != "" {
			errorsURI = res.retryURI
		}
	}

	if err := c.exhaust(ctx, exec, scenario, lastCode); err != nil {
		return nil, fmt.Errorf("exhaust repair: %w", err)
	}
	c.emit(ctx, "RepairFailed", exec.County, 1)
	log.Warn("auto-repair exhausted retries", "attempts", c.cfg.MaxAttempts, "error_code", lastCode)
	return &Result{ExecutionID: exec.ExecutionID, Outcome: OutcomeUnrecoverable, Attempts: c.cfg.MaxAttempts}, nil
}

// attemptResult carries one iteration's outputs back to Run: the
// fingerprints derived from the iteration's errors CSV, the classified
// code of its first error (for the failure callback), whether validation
// committed, the transaction items to forward on commit, and a new errors
// URI to retry with if the validator embedded one in its failure message.
type attemptResult struct {
	hashes    []string
	errorCode string
	committed bool
	retryURI  string
	items     []validator.TransactionItem
}

// attempt runs one PARSE_ERRORS → INVOKE_AGENT → UPLOAD_PATCHED → VALIDATE
// iteration, rolling the script archive back to original on any non-commit
// outcome.
func (c *Controller) attempt(ctx context.Context, log *slog.Logger, exec *selector.ExecutionSummary, scenario, scriptBucket, scriptKey string,
	originalScript []byte, seedURI, errorsURI string, template config.PromptTemplate, attemptNum int) (*attemptResult, error) {

	errorsBucket, errorsKey, err := blobstore.ParseURI(errorsURI)
	if err != nil {
		return nil, fmt.Errorf("parse errors uri: %w", err)
	}
	errorsData, err := c.blob.Get(ctx, errorsBucket, errorsKey)
	if err != nil {
		return nil, fmt.Errorf("download errors csv: %w", err)
	}
	rows, err := ParseErrorsCSV(errorsData)
	if err != nil {
		return nil, fmt.Errorf("parse errors csv: %w", err)
	}
	res := &attemptResult{hashes: hashRows(rows, exec.County)}
	if len(rows) > 0 {
		res.errorCode = fingerprint.Classify(rows[0].Message)
	}

	prompt, err := template.Render(config.PromptParams{
		County: exec.County, Scenario: scenario, ErrorsCSV: RenderForPrompt(rows),
		TransformScript: string(originalScript), Attempt: attemptNum, MaxAttempts: c.cfg.MaxAttempts,
	})
	if err != nil {
		return nil, fmt.Errorf("render prompt: %w", err)
	}

	agentResp, err := c.agent.Repair(ctx, repairagent.Request{Prompt: prompt, County: exec.County, Scenario: scenario})
	if err != nil {
		return nil, fmt.Errorf("invoke repair agent: %w", err)
	}

	if err := c.blob.Put(ctx, scriptBucket, scriptKey, []byte(agentResp.PatchedScript)); err != nil {
		return nil, fmt.Errorf("upload patched scripts: %w", err)
	}

	req := validator.Request{
		Prepare:                       validator.PrepareRef{OutputS3URI: exec.PreparedS3URI},
		SeedOutputS3URI:               seedURI,
		PrepareSkipped:                false,
		SaveErrorsOnValidationFailure: false,
	}
	if exec.SourceBucket != "" && exec.SourceKey != "" {
		ref := &validator.S3Ref{}
		ref.Bucket.Name = exec.SourceBucket
		ref.Object.Key = exec.SourceKey
		req.S3 = ref
	}

	resp, err := c.validator.Validate(ctx, req)
	if err != nil {
		log.Warn("rolling back after validator call error", "attempt", attemptNum, "error", err)
		if rbErr := c.blob.Put(ctx, scriptBucket, scriptKey, originalScript); rbErr != nil {
			return nil, fmt.Errorf("rollback after validator error: %w", rbErr)
		}
		return res, nil
	}

	if resp.Succeeded() {
		res.committed = true
		res.items = resp.TransactionItems
		return res, nil
	}

	log.Info("validation failed, rolling back", "attempt", attemptNum, "message", resp.Message)
	if err := c.blob.Put(ctx, scriptBucket, scriptKey, originalScript); err != nil {
		return nil, fmt.Errorf("rollback original scripts: %w", err)
	}
	if newURI, ok := validator.ExtractErrorsURI(resp.Message); ok {
		res.retryURI = newURI
	}
	return res, nil
}

// commit forwards transaction items to the output queue (SVL scenarios
// only — MVL never writes through to the output queue), flags the fixed
// fingerprints solved everywhere they appear, then deletes the execution.
func (c *Controller) commit(ctx context.Context, exec *selector.ExecutionSummary, scenario string, hashes []string, items []validator.TransactionItem) error {
	if scenario != "MVL" {
		if err := c.outputQueue.Send(ctx, items); err != nil {
			return fmt.Errorf("forward transaction items: %w", err)
		}
	}
	if err := c.mutator.MarkSolvedForHashes(ctx, hashes, exec.County); err != nil {
		return fmt.Errorf("mark solved: %w", err)
	}
	c.notifySuccess(ctx, exec)
	if err := c.mutator.DeleteExecution(ctx, exec.ExecutionID); err != nil {
		return fmt.Errorf("delete execution: %w", err)
	}
	return nil
}

// notifySuccess posts a workflow-engine success callback when both an
// engine client and a task token are available. A callback failure is
// logged, not propagated: the repair already committed, so surfacing this
// as the attempt's terminal error would misreport what actually happened.
func (c *Controller) notifySuccess(ctx context.Context, exec *selector.ExecutionSummary) {
	if c.engine == nil || exec.TaskToken == "" {
		return
	}
	err := c.engine.Success(ctx, workflowengine.SuccessPayload{
		OutputS3URI: exec.PreparedS3URI, County: exec.County, TaskToken: exec.TaskToken,
	})
	if err != nil {
		slog.Error("workflow engine success callback failed", "execution_id", exec.ExecutionID, "error", err)
	}
}

// notifyFailure posts a workflow-engine failure callback when both an
// engine client and a task token are available, logging rather than
// propagating a callback failure for the same reason as notifySuccess.
func (c *Controller) notifyFailure(ctx context.Context, exec *selector.ExecutionSummary, errorCode, cause string) {
	if c.engine == nil || exec.TaskToken == "" {
		return
	}
	payload, err := workflowengine.NewFailurePayload(exec.TaskToken, errorCode, exec.County, cause)
	if err != nil {
		slog.Error("failed to build workflow engine failure payload", "execution_id", exec.ExecutionID, "error", err)
		return
	}
	if err := c.engine.Failure(ctx, payload); err != nil {
		slog.Error("workflow engine failure callback failed", "execution_id", exec.ExecutionID, "error", err)
	}
}

// exhaust marks the execution unrecoverable, routes it to the DLQ when
// it's an SVL scenario, then deletes it. errorCode is the classified code
// of the last attempt's leading error, forwarded on the failure callback.
func (c *Controller) exhaust(ctx context.Context, exec *selector.ExecutionSummary, scenario, errorCode string) error {
	if err := c.mutator.MarkUnrecoverableForExecution(ctx, exec.ExecutionID); err != nil {
		return fmt.Errorf("mark unrecoverable: %w", err)
	}
	cause := fmt.Sprintf("auto-repair exhausted %d attempts for execution %s", c.cfg.MaxAttempts, exec.ExecutionID)
	if scenario != "MVL" && exec.SourceBucket != "" && exec.SourceKey != "" {
		if err := c.dlq.Send(ctx, DLQMessage{
			ExecutionID: exec.ExecutionID, SourceBucket: exec.SourceBucket, SourceKey: exec.SourceKey,
			Cause: cause,
		}); err != nil {
			return fmt.Errorf("send to dlq: %w", err)
		}
	}
	c.notifyFailure(ctx, exec, errorCode, cause)
	if err := c.mutator.DeleteExecution(ctx, exec.ExecutionID); err != nil {
		return fmt.Errorf("delete execution: %w", err)
	}
	return nil
}

func (c *Controller) emit(ctx context.Context, name, county string, value float64) {
	if c.sink == nil {
		return
	}
	sample := metrics.Sample{
		Namespace: metrics.Namespace, MetricName: name, Value: value, Unit: "Count",
		Dimensions: []metrics.Dimension{{Name: "County", Value: county}},
	}
	if err := c.sink.PutSamples(ctx, []metrics.Sample{sample}); err != nil {
		slog.Error("failed to publish repair controller metric", "metric", name, "error", err)
	}
}

func hashRows(rows []ErrorRow, county string) []string {
	seen := map[string]struct{}{}
	var hashes []string
	for _, r := range rows {
		h := fingerprint.Hash(r.Message, r.Path, county)
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		hashes = append(hashes, h)
	}
	return hashes
}

// siblingKey replaces the final path segment of key with name, preserving
// the directory prefix — used to derive the seed-output key from the
// prepared-output key ("<prefix>/output.zip" alongside
// "<prefix>/seed_output.zip").
func siblingKey(key, name string) string {
	idx := strings.LastIndexByte(key, '/')
	if idx < 0 {
		return name
	}
	return key[:idx+1] + name
}
