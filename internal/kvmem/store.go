// Package kvmem is an in-memory kvstore.Repository used by unit tests for
// the domain packages (ingestion, stateaggregate, errormutator, selector)
// so they can exercise transaction/condition semantics without a real
// Postgres instance. Integration coverage against real Postgres lives in
// pkg/kvstore's own tests.
package kvmem

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/elephant-xyz/workflow-core/pkg/kvstore"
)

// Store is a single-process, mutex-guarded implementation of
// kvstore.Repository backed by a plain map, mirroring the real Store's
// semantics (upsert-on-update, version bump per write, condition checks).
type Store struct {
	mu          sync.Mutex
	items       map[kvstore.Key]kvstore.Item
	idempotency map[string]json.RawMessage
	counters    map[string]int64
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{
		items:       map[kvstore.Key]kvstore.Item{},
		idempotency: map[string]json.RawMessage{},
		counters:    map[string]int64{},
	}
}

func (s *Store) GetItem(ctx context.Context, key kvstore.Key) (*kvstore.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[key]
	if !ok {
		return nil, &kvstore.Error{Op: "GetItem", Key: key, Kind: kvstore.KindNotFound}
	}
	clone := cloneItem(item)
	return &clone, nil
}

func (s *Store) BatchGet(ctx context.Context, keys []kvstore.Key) ([]kvstore.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []kvstore.Item
	for _, k := range keys {
		if item, ok := s.items[k]; ok {
			out = append(out, cloneItem(item))
		}
	}
	return out, nil
}

func (s *Store) UpdateItem(ctx context.Context, input kvstore.UpdateItemInput) (*kvstore.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateLocked(input)
}

func (s *Store) updateLocked(input kvstore.UpdateItemInput) (*kvstore.Item, error) {
	key := kvstore.Key{PK: input.PK, SK: input.SK}
	existing, exists := s.items[key]

	if input.Condition != nil {
		if err := checkCondition(*input.Condition, &existing, exists); err != nil {
			return nil, &kvstore.Error{Op: "UpdateItem", Key: key, Kind: kvstore.KindConditionFailed, Err: err}
		}
	}

	if !exists {
		existing = kvstore.Item{PK: input.PK, SK: input.SK, EntityType: input.EntityType, Attrs: map[string]any{}}
	}
	if existing.Attrs == nil {
		existing.Attrs = map[string]any{}
	}
	for k, v := range input.Set {
		existing.Attrs[k] = v
	}
	for k, delta := range input.Add {
		current, _ := existing.Attrs[k].(float64)
		existing.Attrs[k] = current + float64(delta)
	}
	if input.SetGSI1PK != nil {
		existing.GSI1PK = *input.SetGSI1PK
	}
	if input.SetGSI1SK != nil {
		existing.GSI1SK = *input.SetGSI1SK
	}
	if input.SetGSI2PK != nil {
		existing.GSI2PK = *input.SetGSI2PK
	}
	if input.SetGSI2SK != nil {
		existing.GSI2SK = *input.SetGSI2SK
	}
	if input.SetGSI3PK != nil {
		existing.GSI3PK = *input.SetGSI3PK
	}
	if input.SetGSI3SK != nil {
		existing.GSI3SK = *input.SetGSI3SK
	}
	if input.EntityType != "" {
		existing.EntityType = input.EntityType
	}
	existing.Version++
	s.items[key] = existing

	clone := cloneItem(existing)
	return &clone, nil
}

func checkCondition(c kvstore.Condition, existing *kvstore.Item, exists bool) error {
	switch c.Op {
	case kvstore.ConditionVersionEquals:
		if !exists || existing.Version != c.VersionValue {
			return errConditionFailed
		}
	case kvstore.ConditionNotExists:
		if exists {
			return errConditionFailed
		}
	case kvstore.ConditionExists:
		if !exists {
			return errConditionFailed
		}
	case kvstore.ConditionAttrGreaterInt:
		if !exists {
			return errConditionFailed
		}
		current, _ := existing.Attrs[c.AttrName].(float64)
		if int64(current) <= c.AttrValue {
			return errConditionFailed
		}
	}
	return nil
}

var errConditionFailed = conditionFailedErr{}

type conditionFailedErr struct{}

func (conditionFailedErr) Error() string { return "condition failed" }

func (s *Store) TransactWrite(ctx context.Context, ops []kvstore.WriteOp) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := map[kvstore.Key]bool{}
	for _, op := range ops {
		var k kvstore.Key
		switch op.Kind {
		case kvstore.WriteOpPut:
			k = kvstore.Key{PK: op.Put.PK, SK: op.Put.SK}
		case kvstore.WriteOpUpdate:
			k = kvstore.Key{PK: op.Update.PK, SK: op.Update.SK}
		case kvstore.WriteOpDelete:
			k = *op.Delete
		case kvstore.WriteOpConditionCheck:
			k = op.Condition.Key
		}
		if seen[k] {
			return &kvstore.Error{Op: "TransactWrite", Key: k, Kind: kvstore.KindValidation}
		}
		seen[k] = true
	}

	// Snapshot for rollback-on-failure, mirroring a real SQL transaction.
	snapshot := make(map[kvstore.Key]kvstore.Item, len(s.items))
	for k, v := range s.items {
		snapshot[k] = v
	}

	for _, op := range ops {
		switch op.Kind {
		case kvstore.WriteOpPut:
			if op.Put.Attrs == nil {
				op.Put.Attrs = map[string]any{}
			}
			if op.Put.Version == 0 {
				op.Put.Version = 1
			}
			s.items[kvstore.Key{PK: op.Put.PK, SK: op.Put.SK}] = cloneItem(*op.Put)
		case kvstore.WriteOpUpdate:
			if _, err := s.updateLocked(*op.Update); err != nil {
				s.items = snapshot
				return err
			}
		case kvstore.WriteOpDelete:
			delete(s.items, *op.Delete)
		case kvstore.WriteOpConditionCheck:
			existing, exists := s.items[op.Condition.Key]
			if err := checkCondition(op.Condition.Condition, &existing, exists); err != nil {
				s.items = snapshot
				return &kvstore.Error{Op: "TransactWrite", Key: op.Condition.Key, Kind: kvstore.KindConditionFailed, Err: err}
			}
		}
	}
	return nil
}

func (s *Store) Query(ctx context.Context, input kvstore.QueryInput) (*kvstore.QueryOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matches []kvstore.Item
	for _, item := range s.items {
		pk, sk := indexValues(item, input.Index)
		if pk != input.Partition {
			continue
		}
		if input.SKPrefix != "" && !hasPrefix(sk, input.SKPrefix) {
			continue
		}
		if input.EntityType != "" && item.EntityType != input.EntityType {
			continue
		}
		matches = append(matches, cloneItem(item))
	}

	sort.Slice(matches, func(i, j int) bool {
		si, sj := indexSK(matches[i], input.Index), indexSK(matches[j], input.Index)
		if input.Forward {
			return si < sj
		}
		return si > sj
	})

	limit := input.Limit
	if limit <= 0 {
		limit = 50
	}
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return &kvstore.QueryOutput{Items: matches}, nil
}

func indexValues(item kvstore.Item, idx kvstore.Index) (pk, sk string) {
	switch idx {
	case kvstore.IndexGSI1:
		return item.GSI1PK, item.GSI1SK
	case kvstore.IndexGSI2:
		return item.GSI2PK, item.GSI2SK
	case kvstore.IndexGSI3:
		return item.GSI3PK, item.GSI3SK
	default:
		return item.PK, item.SK
	}
}

func indexSK(item kvstore.Item, idx kvstore.Index) string {
	_, sk := indexValues(item, idx)
	return sk
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

func (s *Store) CheckIdempotency(ctx context.Context, token, operation string) (bool, json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result, ok := s.idempotency[token+"#"+operation]
	return ok, result, nil
}

func (s *Store) RecordIdempotency(ctx context.Context, token, operation string, result json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := token + "#" + operation
	if _, ok := s.idempotency[key]; ok {
		return nil
	}
	s.idempotency[key] = result
	return nil
}

func (s *Store) IncrCounter(ctx context.Context, key kvstore.Key, name string, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key.PK + "#" + key.SK + "#" + name
	s.counters[k] += delta
	return s.counters[k], nil
}

func (s *Store) GetCounter(ctx context.Context, key kvstore.Key, name string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters[key.PK+"#"+key.SK+"#"+name], nil
}

func cloneItem(item kvstore.Item) kvstore.Item {
	clone := item
	clone.Attrs = make(map[string]any, len(item.Attrs))
	for k, v := range item.Attrs {
		clone.Attrs[k] = v
	}
	return clone
}

var _ kvstore.Repository = (*Store)(nil)
