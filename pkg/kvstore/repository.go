package kvstore

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// maxTransactItems mirrors the ≤100-item ceiling a Dynamo TransactWriteItems
// call enforces. Postgres has no such limit, but a caller depending on this
// package should never silently grow a transaction past the boundary the
// rest of the system was designed around.
const maxTransactItems = 100

// Repository is the Key-Value Repository component (C1): the one interface
// every other component uses to read and write the logical table.
type Repository interface {
	GetItem(ctx context.Context, key Key) (*Item, error)
	UpdateItem(ctx context.Context, input UpdateItemInput) (*Item, error)
	TransactWrite(ctx context.Context, ops []WriteOp) error
	Query(ctx context.Context, input QueryInput) (*QueryOutput, error)
	BatchGet(ctx context.Context, keys []Key) ([]Item, error)
	// CheckIdempotency reports whether token has already been recorded for
	// operation, returning the previously stored result if so.
	CheckIdempotency(ctx context.Context, token, operation string) (found bool, result json.RawMessage, err error)
	// RecordIdempotency persists token so a redelivery of the same
	// operation becomes a no-op.
	RecordIdempotency(ctx context.Context, token, operation string, result json.RawMessage) error
}

var _ Repository = (*Store)(nil)

const itemColumns = `pk, sk, gsi1_pk, gsi1_sk, gsi2_pk, gsi2_sk, gsi3_pk, gsi3_sk, entity_type, attrs, version, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*Item, error) {
	var it Item
	var gsi1pk, gsi1sk, gsi2pk, gsi2sk, gsi3pk, gsi3sk sql.NullString
	var attrsRaw []byte
	if err := row.Scan(&it.PK, &it.SK, &gsi1pk, &gsi1sk, &gsi2pk, &gsi2sk, &gsi3pk, &gsi3sk,
		&it.EntityType, &attrsRaw, &it.Version, &it.CreatedAt, &it.UpdatedAt); err != nil {
		return nil, err
	}
	it.GSI1PK, it.GSI1SK = gsi1pk.String, gsi1sk.String
	it.GSI2PK, it.GSI2SK = gsi2pk.String, gsi2sk.String
	it.GSI3PK, it.GSI3SK = gsi3pk.String, gsi3sk.String
	if len(attrsRaw) > 0 {
		if err := json.Unmarshal(attrsRaw, &it.Attrs); err != nil {
			return nil, fmt.Errorf("unmarshal attrs: %w", err)
		}
	}
	return &it, nil
}

// GetItem fetches the item at key, or a KindNotFound error if it doesn't exist.
func (s *Store) GetItem(ctx context.Context, key Key) (*Item, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM kv_items WHERE pk = $1 AND sk = $2`, key.PK, key.SK)
	item, err := scanItem(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &Error{Op: "GetItem", Key: key, Kind: KindNotFound, Err: err}
		}
		return nil, wrapPG("GetItem", key, err)
	}
	return item, nil
}

// BatchGet fetches every key present in the table, in no particular order.
// Missing keys are simply absent from the result, mirroring a Dynamo
// BatchGetItem response.
func (s *Store) BatchGet(ctx context.Context, keys []Key) ([]Item, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	pks := make([]any, 0, len(keys)*2)
	placeholders := ""
	for i, k := range keys {
		if i > 0 {
			placeholders += ", "
		}
		placeholders += fmt.Sprintf("($%d, $%d)", len(pks)+1, len(pks)+2)
		pks = append(pks, k.PK, k.SK)
	}

	query := `SELECT ` + itemColumns + ` FROM kv_items WHERE (pk, sk) IN (` + placeholders + `)`
	rows, err := s.db.QueryContext(ctx, query, pks...)
	if err != nil {
		return nil, wrapPG("BatchGet", Key{}, err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, wrapPG("BatchGet", Key{}, err)
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapPG("BatchGet", Key{}, err)
	}
	return items, nil
}

// UpdateItem applies a single SET/ADD update, creating the row if it does
// not yet exist (an upsert, matching Dynamo UpdateItem semantics), honoring
// an optional Condition.
func (s *Store) UpdateItem(ctx context.Context, input UpdateItemInput) (*Item, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, wrapPG("UpdateItem", Key{PK: input.PK, SK: input.SK}, err)
	}
	defer tx.Rollback()

	item, err := updateItemTx(ctx, tx, input)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, wrapPG("UpdateItem", Key{PK: input.PK, SK: input.SK}, err)
	}
	return item, nil
}

func updateItemTx(ctx context.Context, tx *sql.Tx, input UpdateItemInput) (*Item, error) {
	key := Key{PK: input.PK, SK: input.SK}

	row := tx.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM kv_items WHERE pk = $1 AND sk = $2 FOR UPDATE`, input.PK, input.SK)
	existing, err := scanItem(row)
	exists := true
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, wrapPG("UpdateItem", key, err)
		}
		exists = false
		existing = &Item{PK: input.PK, SK: input.SK, EntityType: input.EntityType, Attrs: map[string]any{}, Version: 0}
	}

	if input.Condition != nil {
		if err := checkCondition(*input.Condition, existing, exists); err != nil {
			return nil, &Error{Op: "UpdateItem", Key: key, Kind: KindConditionFailed, Err: err}
		}
	}

	attrs := existing.Attrs
	if attrs == nil {
		attrs = map[string]any{}
	}
	for k, v := range input.Set {
		attrs[k] = v
	}
	for k, delta := range input.Add {
		current, _ := attrs[k].(float64)
		attrs[k] = current + float64(delta)
	}

	gsi1pk, gsi1sk := coalesceStr(input.SetGSI1PK, existing.GSI1PK), coalesceStr(input.SetGSI1SK, existing.GSI1SK)
	gsi2pk, gsi2sk := coalesceStr(input.SetGSI2PK, existing.GSI2PK), coalesceStr(input.SetGSI2SK, existing.GSI2SK)
	gsi3pk, gsi3sk := coalesceStr(input.SetGSI3PK, existing.GSI3PK), coalesceStr(input.SetGSI3SK, existing.GSI3SK)

	attrsRaw, err := json.Marshal(attrs)
	if err != nil {
		return nil, fmt.Errorf("marshal attrs: %w", err)
	}

	entityType := existing.EntityType
	if input.EntityType != "" {
		entityType = input.EntityType
	}
	newVersion := existing.Version + 1

	row = tx.QueryRowContext(ctx, `
		INSERT INTO kv_items (pk, sk, gsi1_pk, gsi1_sk, gsi2_pk, gsi2_sk, gsi3_pk, gsi3_sk, entity_type, attrs, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now(), now())
		ON CONFLICT (pk, sk) DO UPDATE SET
			gsi1_pk = EXCLUDED.gsi1_pk, gsi1_sk = EXCLUDED.gsi1_sk,
			gsi2_pk = EXCLUDED.gsi2_pk, gsi2_sk = EXCLUDED.gsi2_sk,
			gsi3_pk = EXCLUDED.gsi3_pk, gsi3_sk = EXCLUDED.gsi3_sk,
			entity_type = EXCLUDED.entity_type, attrs = EXCLUDED.attrs,
			version = EXCLUDED.version, updated_at = now()
		RETURNING `+itemColumns,
		input.PK, input.SK, nullIfEmpty(gsi1pk), nullIfEmpty(gsi1sk), nullIfEmpty(gsi2pk), nullIfEmpty(gsi2sk),
		nullIfEmpty(gsi3pk), nullIfEmpty(gsi3sk), entityType, attrsRaw, newVersion,
	)
	result, err := scanItem(row)
	if err != nil {
		return nil, wrapPG("UpdateItem", key, err)
	}
	return result, nil
}

// checkCondition evaluates a Condition against the pre-write state of an item.
func checkCondition(c Condition, existing *Item, exists bool) error {
	switch c.Op {
	case ConditionVersionEquals:
		if !exists || existing.Version != c.VersionValue {
			return fmt.Errorf("version mismatch: want %d", c.VersionValue)
		}
	case ConditionNotExists:
		if exists {
			return fmt.Errorf("item already exists")
		}
	case ConditionExists:
		if !exists {
			return fmt.Errorf("item does not exist")
		}
	case ConditionAttrGreaterInt:
		if !exists {
			return fmt.Errorf("item does not exist")
		}
		current, _ := existing.Attrs[c.AttrName].(float64)
		if int64(current) <= c.AttrValue {
			return fmt.Errorf("attr %s = %v, want > %d", c.AttrName, current, c.AttrValue)
		}
	default:
		return fmt.Errorf("unknown condition op %q", c.Op)
	}
	return nil
}

// TransactWrite applies every op atomically: all commit, or none do. A
// single-item appearing more than once is rejected up front, mirroring
// Dynamo TransactWriteItems' "no two actions on the same item" rule.
func (s *Store) TransactWrite(ctx context.Context, ops []WriteOp) error {
	if len(ops) == 0 {
		return nil
	}
	if len(ops) > maxTransactItems {
		return &Error{Op: "TransactWrite", Kind: KindValidation, Err: fmt.Errorf("batch of %d exceeds max of %d items", len(ops), maxTransactItems)}
	}
	seen := map[Key]bool{}
	for _, op := range ops {
		var k Key
		switch op.Kind {
		case WriteOpPut:
			k = Key{PK: op.Put.PK, SK: op.Put.SK}
		case WriteOpUpdate:
			k = Key{PK: op.Update.PK, SK: op.Update.SK}
		case WriteOpDelete:
			k = *op.Delete
		case WriteOpConditionCheck:
			k = op.Condition.Key
		default:
			return &Error{Op: "TransactWrite", Kind: KindValidation, Err: fmt.Errorf("unknown write op kind %q", op.Kind)}
		}
		if seen[k] {
			return &Error{Op: "TransactWrite", Key: k, Kind: KindValidation, Err: fmt.Errorf("duplicate item in transaction")}
		}
		seen[k] = true
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapPG("TransactWrite", Key{}, err)
	}
	defer tx.Rollback()

	for _, op := range ops {
		if err := applyWriteOp(ctx, tx, op); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return wrapPG("TransactWrite", Key{}, err)
	}
	return nil
}

func applyWriteOp(ctx context.Context, tx *sql.Tx, op WriteOp) error {
	switch op.Kind {
	case WriteOpPut:
		return putItemTx(ctx, tx, op.Put)
	case WriteOpUpdate:
		_, err := updateItemTx(ctx, tx, *op.Update)
		return err
	case WriteOpDelete:
		return deleteItemTx(ctx, tx, *op.Delete)
	case WriteOpConditionCheck:
		row := tx.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM kv_items WHERE pk = $1 AND sk = $2 FOR UPDATE`, op.Condition.PK, op.Condition.SK)
		existing, err := scanItem(row)
		exists := true
		if err != nil {
			if !errors.Is(err, sql.ErrNoRows) {
				return wrapPG("TransactWrite", op.Condition.Key, err)
			}
			exists = false
			existing = &Item{}
		}
		if err := checkCondition(op.Condition.Condition, existing, exists); err != nil {
			return &Error{Op: "TransactWrite", Key: op.Condition.Key, Kind: KindConditionFailed, Err: err}
		}
		return nil
	default:
		return &Error{Op: "TransactWrite", Kind: KindValidation, Err: fmt.Errorf("unknown write op kind %q", op.Kind)}
	}
}

func putItemTx(ctx context.Context, tx *sql.Tx, item *Item) error {
	if item.Attrs == nil {
		item.Attrs = map[string]any{}
	}
	attrsRaw, err := json.Marshal(item.Attrs)
	if err != nil {
		return fmt.Errorf("marshal attrs: %w", err)
	}
	version := item.Version
	if version == 0 {
		version = 1
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO kv_items (pk, sk, gsi1_pk, gsi1_sk, gsi2_pk, gsi2_sk, gsi3_pk, gsi3_sk, entity_type, attrs, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now(), now())
		ON CONFLICT (pk, sk) DO UPDATE SET
			gsi1_pk = EXCLUDED.gsi1_pk, gsi1_sk = EXCLUDED.gsi1_sk,
			gsi2_pk = EXCLUDED.gsi2_pk, gsi2_sk = EXCLUDED.gsi2_sk,
			gsi3_pk = EXCLUDED.gsi3_pk, gsi3_sk = EXCLUDED.gsi3_sk,
			entity_type = EXCLUDED.entity_type, attrs = EXCLUDED.attrs,
			version = EXCLUDED.version, updated_at = now()`,
		item.PK, item.SK, nullIfEmpty(item.GSI1PK), nullIfEmpty(item.GSI1SK), nullIfEmpty(item.GSI2PK), nullIfEmpty(item.GSI2SK),
		nullIfEmpty(item.GSI3PK), nullIfEmpty(item.GSI3SK), item.EntityType, attrsRaw, version,
	)
	if err != nil {
		return wrapPG("TransactWrite", Key{PK: item.PK, SK: item.SK}, err)
	}
	return nil
}

func deleteItemTx(ctx context.Context, tx *sql.Tx, key Key) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM kv_items WHERE pk = $1 AND sk = $2`, key.PK, key.SK)
	if err != nil {
		return wrapPG("TransactWrite", key, err)
	}
	return nil
}

// Query lists items from the base table or a GSI, paginated by an opaque
// cursor carrying the last row's sort key.
func (s *Store) Query(ctx context.Context, input QueryInput) (*QueryOutput, error) {
	pkCol, skCol := columnsForIndex(input.Index)
	limit := input.Limit
	if limit <= 0 {
		limit = 50
	}

	order := "ASC"
	cmp := ">"
	if !input.Forward {
		order = "DESC"
		cmp = "<"
	}

	query := `SELECT ` + itemColumns + ` FROM kv_items WHERE ` + pkCol + ` = $1`
	args := []any{input.Partition}

	if input.SKPrefix != "" {
		args = append(args, input.SKPrefix+"%")
		query += fmt.Sprintf(" AND %s LIKE $%d", skCol, len(args))
	}
	if input.EntityType != "" {
		args = append(args, input.EntityType)
		query += fmt.Sprintf(" AND entity_type = $%d", len(args))
	}
	if input.Cursor != "" {
		sk, err := decodeCursor(input.Cursor)
		if err != nil {
			return nil, &Error{Op: "Query", Kind: KindValidation, Err: err}
		}
		args = append(args, sk)
		query += fmt.Sprintf(" AND %s %s $%d", skCol, cmp, len(args))
	}
	args = append(args, limit+1)
	query += fmt.Sprintf(" ORDER BY %s %s LIMIT $%d", skCol, order, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapPG("Query", Key{}, err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, wrapPG("Query", Key{}, err)
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapPG("Query", Key{}, err)
	}

	out := &QueryOutput{Items: items}
	if len(items) > limit {
		out.Items = items[:limit]
		out.NextCursor = encodeCursor(skValueForIndex(out.Items[limit-1], input.Index))
	}
	return out, nil
}

func columnsForIndex(idx Index) (pk, sk string) {
	switch idx {
	case IndexGSI1:
		return "gsi1_pk", "gsi1_sk"
	case IndexGSI2:
		return "gsi2_pk", "gsi2_sk"
	case IndexGSI3:
		return "gsi3_pk", "gsi3_sk"
	default:
		return "pk", "sk"
	}
}

func skValueForIndex(item Item, idx Index) string {
	switch idx {
	case IndexGSI1:
		return item.GSI1SK
	case IndexGSI2:
		return item.GSI2SK
	case IndexGSI3:
		return item.GSI3SK
	default:
		return item.SK
	}
}

func encodeCursor(sk string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(sk))
}

func decodeCursor(cursor string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return "", fmt.Errorf("invalid cursor: %w", err)
	}
	return string(raw), nil
}

// CheckIdempotency reports whether token was already recorded for operation.
func (s *Store) CheckIdempotency(ctx context.Context, token, operation string) (bool, json.RawMessage, error) {
	var result []byte
	err := s.db.QueryRowContext(ctx, `SELECT result FROM kv_idempotency WHERE token = $1 AND operation = $2`, token, operation).Scan(&result)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil, nil
		}
		return false, nil, wrapPG("CheckIdempotency", Key{}, err)
	}
	return true, result, nil
}

// RecordIdempotency persists token. A duplicate insert (the same event
// redelivered concurrently) is treated as success, not a conflict.
func (s *Store) RecordIdempotency(ctx context.Context, token, operation string, result json.RawMessage) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv_idempotency (token, operation, result, created_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (token) DO NOTHING`, token, operation, result)
	if err != nil {
		return wrapPG("RecordIdempotency", Key{}, err)
	}
	return nil
}

// IncrCounter atomically adds delta to the named counter under (pk, sk),
// creating it at delta if absent, and returns the post-increment value.
// Used where a caller needs an atomic tally that isn't itself addressable
// as a full Item (e.g. a rolling metrics total).
func (s *Store) IncrCounter(ctx context.Context, key Key, name string, delta int64) (int64, error) {
	var value int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO kv_counters (pk, sk, name, value)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (pk, sk, name) DO UPDATE SET value = kv_counters.value + EXCLUDED.value
		RETURNING value`, key.PK, key.SK, name, delta).Scan(&value)
	if err != nil {
		return 0, wrapPG("IncrCounter", key, err)
	}
	return value, nil
}

// GetCounter returns the current value of the named counter, or 0 if absent.
func (s *Store) GetCounter(ctx context.Context, key Key, name string) (int64, error) {
	var value int64
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv_counters WHERE pk = $1 AND sk = $2 AND name = $3`, key.PK, key.SK, name).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, wrapPG("GetCounter", key, err)
	}
	return value, nil
}

func coalesceStr(set *string, existing string) string {
	if set != nil {
		return *set
	}
	return existing
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
