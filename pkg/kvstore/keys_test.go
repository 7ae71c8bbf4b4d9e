package kvstore

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPad10_FixedWidth(t *testing.T) {
	assert.Equal(t, "0000000000", Pad10(0))
	assert.Equal(t, "0000000001", Pad10(1))
	assert.Equal(t, "0000004217", Pad10(4217))
	assert.Equal(t, "9999999999", Pad10(9999999999))
}

// Lexicographic order of padded sort keys must equal numeric order of the
// counters they encode.
func TestPad10_LexicographicEqualsNumeric(t *testing.T) {
	counts := []int64{0, 1, 9, 10, 99, 100, 4217, 999999999, 1000000000}
	keys := make([]string, len(counts))
	for i, n := range counts {
		keys[i] = ErrorRecordGSI3SK("01256", "01", "failed", n)
	}
	assert.True(t, sort.StringsAreSorted(keys), "padded sort keys out of order: %v", keys)
}

func TestStatusToken(t *testing.T) {
	assert.Equal(t, "FAILED", StatusToken("failed"))
	assert.Equal(t, "MAYBESOLVED", StatusToken("maybeSolved"))
	assert.Equal(t, "MAYBEUNRECOVERABLE", StatusToken("maybeUnrecoverable"))
}

func TestErrorType(t *testing.T) {
	assert.Equal(t, "01", ErrorType("01256"))
	assert.Equal(t, "9", ErrorType("9"))
	assert.Equal(t, "ab", ErrorType("ab"))
}

func TestKeyBuilders(t *testing.T) {
	assert.Equal(t, "EXECUTION#E1", ExecutionPK("E1"))
	assert.Equal(t, "ERROR#01256", ErrorPK("01256"))
	assert.Equal(t, "STATE#E1", ExecutionStateSK("E1"))
	assert.Equal(t, "AGG#COUNTY#palmbeach#DG#dg1", AggregatePK("palmbeach", "dg1"))
	assert.Equal(t, "PHASE#prepare#STEP#download", AggregateSK("prepare", "download"))
}

func TestGSISortKeys(t *testing.T) {
	assert.Equal(t, "COUNT#0000000003#EXECUTION#E1", FailedExecutionGSI1SK("E1", 3))
	assert.Equal(t, "COUNT#01#FAILED#0000000003#EXECUTION#E1", FailedExecutionGSI3SK("E1", "01", "failed", 3))
	assert.Equal(t, "COUNT#FAILED#0000000001#ERROR#01256", ErrorRecordGSI2SK("01256", "failed", 1))
	assert.Equal(t, "COUNT#01#MAYBESOLVED#0000000002#ERROR#01256", ErrorRecordGSI3SK("01256", "01", "maybeSolved", 2))
	assert.Equal(t, "EXECUTION#E1", LinkGSI1SK("E1"))
}
