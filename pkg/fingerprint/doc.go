// Package fingerprint implements the two pure functions the workflow error
// core uses to identify and classify raw error messages: a stable
// cross-execution hash, and an ordered-regex mapping from free-form text to
// a numeric error code.
package fingerprint
