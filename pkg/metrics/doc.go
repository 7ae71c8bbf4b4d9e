// Package metrics implements the Phase Metrics Publisher (C8): a pure
// mapping from a workflow event to one counter sample, published to a
// pluggable sink. A publish failure is surfaced, never swallowed — loss of
// visibility into pipeline health is itself treated as a bug.
package metrics
