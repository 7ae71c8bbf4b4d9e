package kvstore

import (
	"fmt"
	"strconv"
	"strings"
)

// Partition literals, bit-exact with the wire contract.
const (
	GSI1PartitionErrorCount      = "METRIC#ERRORCOUNT"
	GSI3PartitionErrorCount      = "METRIC#ERRORCOUNT"
	GSI3PartitionErrorCountError = "METRIC#ERRORCOUNT#ERROR"
	GSI2PartitionTypeError       = "TYPE#ERROR"
	GSI1PartitionTypeError       = "TYPE#ERROR"
)

// Status tokens as they appear inside sort keys: uppercase, no spaces.
const (
	StatusTokenFailed             = "FAILED"
	StatusTokenMaybeSolved        = "MAYBESOLVED"
	StatusTokenMaybeUnrecoverable = "MAYBEUNRECOVERABLE"
)

// StatusToken normalizes a lowerCamel/lower status value into its sort-key token.
func StatusToken(status string) string {
	switch strings.ToLower(status) {
	case "failed":
		return StatusTokenFailed
	case "maybesolved":
		return StatusTokenMaybeSolved
	case "maybeunrecoverable":
		return StatusTokenMaybeUnrecoverable
	default:
		return strings.ToUpper(status)
	}
}

// padWidth is the fixed width mandated for numeric sort keys:
// 10 digits, zero-padded, so lexicographic order equals numeric order.
const padWidth = 10

// Pad10 zero-pads n to a fixed 10-digit decimal string. Negative counters
// are not a valid state for any counter this package tracks; callers must
// guard against going negative before calling Pad10.
func Pad10(n int64) string {
	s := strconv.FormatInt(n, 10)
	if len(s) >= padWidth {
		return s
	}
	return strings.Repeat("0", padWidth-len(s)) + s
}

// Base table key builders.

// ExecutionPK returns the partition key shared by a FailedExecution row,
// its ExecutionErrorLinks, and its ExecutionState row.
func ExecutionPK(executionID string) string {
	return "EXECUTION#" + executionID
}

// ErrorPK returns the partition/sort key for an ErrorRecord row.
func ErrorPK(code string) string {
	return "ERROR#" + code
}

// ErrorSK is an alias of ErrorPK; ErrorRecord is keyed PK == SK.
func ErrorSK(code string) string {
	return ErrorPK(code)
}

// LinkSK returns the sort key of an ExecutionErrorLink under an execution's PK.
func LinkSK(code string) string {
	return "ERROR#" + code
}

// ExecutionStateSK returns the sort key for an execution's ExecutionState
// row. It shares ExecutionPK's partition but uses a distinct SK prefix so
// the state row never collides with the FailedExecution row (which is
// keyed PK == SK) under the same partition.
func ExecutionStateSK(executionID string) string {
	return "STATE#" + executionID
}

// AggregatePK returns the partition key for a StepAggregate cell.
func AggregatePK(county, dataGroup string) string {
	return fmt.Sprintf("AGG#COUNTY#%s#DG#%s", county, dataGroup)
}

// AggregateSK returns the sort key for a StepAggregate cell.
func AggregateSK(phase, step string) string {
	return fmt.Sprintf("PHASE#%s#STEP#%s", phase, step)
}

// GSI sort-key builders. Each is re-derivable from base attributes alone
// (invariant I6) — never store one without recomputing from the post-write
// counter value.

// FailedExecutionGSI1SK sorts executions by open error count.
func FailedExecutionGSI1SK(executionID string, openErrorCount int64) string {
	return fmt.Sprintf("COUNT#%s#EXECUTION#%s", Pad10(openErrorCount), executionID)
}

// FailedExecutionGSI3SK sorts executions by error type, status, then open error count.
func FailedExecutionGSI3SK(executionID, errorType, status string, openErrorCount int64) string {
	return fmt.Sprintf("COUNT#%s#%s#%s#EXECUTION#%s", errorType, StatusToken(status), Pad10(openErrorCount), executionID)
}

// ErrorRecordGSI1SK reverse-indexes an error code.
func ErrorRecordGSI1SK(code string) string {
	return "ERROR#" + code
}

// ErrorRecordGSI2SK sorts error records by status then total occurrence count.
func ErrorRecordGSI2SK(code, status string, totalCount int64) string {
	return fmt.Sprintf("COUNT#%s#%s#ERROR#%s", StatusToken(status), Pad10(totalCount), code)
}

// ErrorRecordGSI3SK sorts error records by error type, status, then total count.
func ErrorRecordGSI3SK(code, errorType, status string, totalCount int64) string {
	return fmt.Sprintf("COUNT#%s#%s#%s#ERROR#%s", errorType, StatusToken(status), Pad10(totalCount), code)
}

// LinkGSI1SK reverse-indexes an ExecutionErrorLink from its ErrorRecord partition.
func LinkGSI1SK(executionID string) string {
	return "EXECUTION#" + executionID
}

// ErrorType returns the dominant-type prefix of an error code: its first
// two characters, or the whole code if shorter than two characters.
func ErrorType(code string) string {
	if len(code) <= 2 {
		return code
	}
	return code[:2]
}
