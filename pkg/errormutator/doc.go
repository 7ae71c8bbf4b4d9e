// Package errormutator implements the Error-Status Mutator (C5): the bulk
// operations that flip ExecutionErrorLink/ErrorRecord status to
// maybeSolved (after an auto-repair succeeds) or maybeUnrecoverable
// (after retries are exhausted), decrementing and deleting FailedExecution
// rows as their open error count reaches zero. Every operation is
// idempotent: replaying it with the same input reaches the same terminal
// state.
package errormutator
