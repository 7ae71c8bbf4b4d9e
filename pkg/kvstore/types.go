package kvstore

import "time"

// Index names the GSI (or the base table) a Query targets.
type Index string

// Index values.
const (
	IndexBase Index = "base"
	IndexGSI1 Index = "gsi1"
	IndexGSI2 Index = "gsi2"
	IndexGSI3 Index = "gsi3"
)

// Key identifies an item by its composite primary key.
type Key struct {
	PK string
	SK string
}

// Item is the generic envelope every row in the logical table shares.
// EntityType discriminates FailedExecution / ErrorRecord /
// ExecutionErrorLink / ExecutionState / StepAggregate rows. Attrs carries
// every entity-specific attribute as a loosely typed bag; callers marshal
// their concrete struct into/out of it. The GSI columns are promoted out
// of Attrs because they are queried directly.
type Item struct {
	PK         string
	SK         string
	GSI1PK     string
	GSI1SK     string
	GSI2PK     string
	GSI2SK     string
	GSI3PK     string
	GSI3SK     string
	EntityType string
	Attrs      map[string]any
	Version    int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ConditionOp is the comparison a Condition asserts before a write commits.
type ConditionOp string

// Condition operators.
const (
	ConditionVersionEquals  ConditionOp = "version_equals"
	ConditionAttrGreaterInt ConditionOp = "attr_greater_int"
	ConditionNotExists      ConditionOp = "not_exists"
	ConditionExists         ConditionOp = "exists"
)

// Condition guards a write with a ConditionExpression-equivalent check.
// Exactly one of its fields is consulted depending on Op.
type Condition struct {
	Op           ConditionOp
	VersionValue int64  // for ConditionVersionEquals
	AttrName     string // for ConditionAttrGreaterInt
	AttrValue    int64  // for ConditionAttrGreaterInt (current value must be > this)
}

// UpdateItemInput describes a single SET/ADD update, Dynamo
// UpdateExpression-style, against one item.
type UpdateItemInput struct {
	PK         string
	SK         string
	EntityType string
	Set        map[string]any // attribute name -> new value, merged into Attrs
	Add        map[string]int64
	SetGSI1PK  *string
	SetGSI1SK  *string
	SetGSI2PK  *string
	SetGSI2SK  *string
	SetGSI3PK  *string
	SetGSI3SK  *string
	Condition  *Condition
}

// WriteOpKind discriminates the operations a TransactWrite batch may contain.
type WriteOpKind string

// Write operation kinds.
const (
	WriteOpPut            WriteOpKind = "put"
	WriteOpUpdate         WriteOpKind = "update"
	WriteOpDelete         WriteOpKind = "delete"
	WriteOpConditionCheck WriteOpKind = "condition_check"
)

// WriteOp is one operation inside a TransactWrite batch. A batch may not
// contain multiple operations against the *same* item; the repository
// enforces that at TransactWrite time.
type WriteOp struct {
	Kind      WriteOpKind
	Put       *Item
	Update    *UpdateItemInput
	Delete    *Key
	Condition *struct {
		Key
		Condition Condition
	}
}

// QueryInput describes one paginated Query against the base table or a GSI.
type QueryInput struct {
	Index      Index
	Partition  string
	SKPrefix   string // begins_with(SK, prefix); empty means no prefix filter
	Forward    bool   // true = ascending, false = descending
	Limit      int
	Cursor     string // opaque, returned by a prior QueryOutput.NextCursor
	EntityType string // optional FilterExpression-equivalent on entity_type
}

// QueryOutput is one page of Query results.
type QueryOutput struct {
	Items      []Item
	NextCursor string // empty when there are no more pages
}
