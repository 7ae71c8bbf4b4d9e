// Package blobstore is the Blob Store Client (C9): a thin, typed wrapper
// over the object store used to move input archives, transform scripts,
// errors CSVs, and prepared/seed outputs in and out of the pipeline.
// The object store itself is an external collaborator; this package is
// the in-scope client and its error classification.
package blobstore
