// Package selector implements the Execution Selector (C6): queries that
// pick the FailedExecution with the most or fewest open errors, optionally
// restricted to a dominant error type, then page through that execution's
// ExecutionErrorLinks to return its full error set.
package selector
