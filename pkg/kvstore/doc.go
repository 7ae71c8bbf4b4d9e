// Package kvstore implements the single logical key-value table described
// by the workflow error & state tracking core: one physical store keyed by
// a composite (PK, SK) with three GSI-style alternate orderings, backed by
// PostgreSQL via pgx. It exposes typed GetItem/UpdateItem/TransactWrite/
// Query/BatchGet operations and owns the sort-key encoding so that callers
// never hand-format a GSI key themselves.
package kvstore
