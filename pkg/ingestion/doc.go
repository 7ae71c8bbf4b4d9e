// Package ingestion implements the Error Ingestion Engine (C3): it
// consumes a workflow event and upserts FailedExecution, ErrorRecord, and
// ExecutionErrorLink rows with atomic counter increments and GSI sort-key
// rewrites, following a transaction-partitioning rule: an ErrorRecord's
// post-increment sort keys cannot be written in the same atomic step as
// the increment itself.
package ingestion
