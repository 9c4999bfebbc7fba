package storage

import (
	"context"
	"fmt"

	"github.com/swarmguard/workflowmesh/internal/kv"
	"github.com/swarmguard/workflowmesh/internal/storekeys"
)

// StateOps implements spec.md §4.3's State surface. Reads are not
// journaled; the caller (internal/runtime) is responsible for journaling
// writes alongside the corresponding State entry.
type StateOps struct {
	store kv.Store
}

func NewStateOps(store kv.Store) *StateOps {
	return &StateOps{store: store}
}

func (s *StateOps) Get(ctx context.Context, workflowID, key string) ([]byte, bool, error) {
	v, ok, err := s.store.Get(ctx, storekeys.State(workflowID, key))
	if err != nil {
		return nil, false, fmt.Errorf("storage: state get: %w", err)
	}
	return v, ok, nil
}

func (s *StateOps) Set(ctx context.Context, workflowID, key string, value []byte) error {
	if err := s.store.Put(ctx, storekeys.State(workflowID, key), value); err != nil {
		return fmt.Errorf("storage: state set: %w", err)
	}
	return nil
}

func (s *StateOps) Delete(ctx context.Context, workflowID, key string) error {
	if err := s.store.Delete(ctx, storekeys.State(workflowID, key)); err != nil {
		return fmt.Errorf("storage: state delete: %w", err)
	}
	return nil
}

// DeleteAll removes every S/<wf>/ entry.
func (s *StateOps) DeleteAll(ctx context.Context, workflowID string) error {
	it, err := s.store.Scan(ctx, storekeys.StatePrefix(workflowID))
	if err != nil {
		return fmt.Errorf("storage: state delete all: scan: %w", err)
	}
	defer it.Close()

	var ops []kv.Op
	for it.Next() {
		ops = append(ops, kv.Op{Kind: kv.OpDelete, Key: it.Entry().Key})
	}
	if err := it.Err(); err != nil {
		return fmt.Errorf("storage: state delete all: iterate: %w", err)
	}
	if len(ops) == 0 {
		return nil
	}
	if err := s.store.Batch(ctx, ops); err != nil {
		return fmt.Errorf("storage: state delete all: batch: %w", err)
	}
	return nil
}
