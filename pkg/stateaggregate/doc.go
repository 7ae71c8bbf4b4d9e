// Package stateaggregate implements the State & Aggregate Engine (C4): it
// maintains one ExecutionState row per execution and the StepAggregate
// counters derived from transitions between normalized lifecycle buckets,
// using optimistic concurrency on ExecutionState.version and an
// idempotency token per event so redelivery is a no-op.
package stateaggregate
