package kvstore

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/jackc/pgx/v5/pgconn"
)

// Kind classifies a repository failure into the taxonomy callers branch
// on, rather than forcing them to inspect driver-specific error values
// themselves.
type Kind int

const (
	// KindUnknown is returned for errors that don't map onto the taxonomy;
	// callers should treat these as non-retryable.
	KindUnknown Kind = iota
	// KindNotFound — GetItem found no row (UpdateItem upserts instead).
	KindNotFound
	// KindConditionFailed — a Condition attached to Update/TransactWrite did
	// not hold (stale version, counter not yet past a threshold).
	KindConditionFailed
	// KindTransactionConflict — the database detected a serialization
	// failure or deadlock; the whole transaction should be retried from
	// scratch.
	KindTransactionConflict
	// KindTransientIO — connection reset, timeout, or other transport-level
	// failure; safe to retry with backoff.
	KindTransientIO
	// KindValidation — caller-supplied input was malformed (e.g. a
	// TransactWrite batch touching the same item twice).
	KindValidation
)

// Error wraps a repository failure with its Kind and the underlying cause.
type Error struct {
	Kind Kind
	Op   string
	Key  Key
	Err  error
}

func (e *Error) Error() string {
	if e.Key.PK != "" {
		return fmt.Sprintf("kvstore: %s %s/%s: %v", e.Op, e.Key.PK, e.Key.SK, e.Err)
	}
	return fmt.Sprintf("kvstore: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsNotFound reports whether err is a KindNotFound repository error.
func IsNotFound(err error) bool { return kindOf(err) == KindNotFound }

// IsConditionFailed reports whether err is a KindConditionFailed repository error.
func IsConditionFailed(err error) bool { return kindOf(err) == KindConditionFailed }

// IsRetryable reports whether err is a transient condition that a caller's
// retry policy should act on: transaction conflicts and transport failures,
// but never validation or business-rule failures.
func IsRetryable(err error) bool {
	switch kindOf(err) {
	case KindTransactionConflict, KindTransientIO:
		return true
	default:
		return false
	}
}

func kindOf(err error) Kind {
	var kerr *Error
	if errors.As(err, &kerr) {
		return kerr.Kind
	}
	return KindUnknown
}

// classifyPG maps a Postgres driver error onto a Kind, mirroring the
// dispatch shape of an MCP-call classifier: context errors first, then
// network-transport errors, then driver-specific codes, defaulting to
// "don't know how to recover from this."
func classifyPG(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindTransientIO
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindTransientIO
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return KindTransactionConflict
		case "23505": // unique_violation — lost the race on a conditional insert
			return KindConditionFailed
		case "08000", "08003", "08006", "08001", "08004": // connection_exception family
			return KindTransientIO
		case "57014": // query_canceled
			return KindTransientIO
		}
	}

	return KindUnknown
}

func wrapPG(op string, key Key, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Key: key, Err: err, Kind: classifyPG(err)}
}
