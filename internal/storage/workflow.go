package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/swarmguard/workflowmesh/internal/kv"
	"github.com/swarmguard/workflowmesh/internal/storekeys"
)

// WorkflowOps implements spec.md §4.3's WorkflowOps surface, maintaining the
// status secondary index (X/<status>/<id>) on every write so findByStatus
// never has to scan the full metadata namespace.
type WorkflowOps struct {
	store kv.Store
}

func NewWorkflowOps(store kv.Store) *WorkflowOps {
	return &WorkflowOps{store: store}
}

// Create atomically writes W/<id> and X/<status>/<id> iff W/<id> does not
// already exist. Returns false, nil if a record already existed.
func (w *WorkflowOps) Create(ctx context.Context, md WorkflowMetadata) (bool, error) {
	key := storekeys.Workflow(md.ID)
	_, exists, err := w.store.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("storage: workflow create: check: %w", err)
	}
	if exists {
		return false, nil
	}
	b, err := encodeWorkflowMetadata(md)
	if err != nil {
		return false, err
	}
	ops := []kv.Op{
		{Kind: kv.OpPut, Key: key, Value: b},
		{Kind: kv.OpPut, Key: storekeys.Status(string(md.Status), md.ID), Value: []byte{}},
	}
	if err := w.store.Batch(ctx, ops); err != nil {
		return false, fmt.Errorf("storage: workflow create: batch: %w", err)
	}
	return true, nil
}

// Get reads W/<id>.
func (w *WorkflowOps) Get(ctx context.Context, workflowID string) (WorkflowMetadata, bool, error) {
	raw, ok, err := w.store.Get(ctx, storekeys.Workflow(workflowID))
	if err != nil {
		return WorkflowMetadata{}, false, fmt.Errorf("storage: workflow get: %w", err)
	}
	if !ok {
		return WorkflowMetadata{}, false, nil
	}
	md, err := decodeWorkflowMetadata(raw)
	if err != nil {
		return WorkflowMetadata{}, false, err
	}
	return md, true, nil
}

// Update reads the prior status, removes the stale status-index entry, and
// writes the new metadata plus new status-index entry in one batch.
func (w *WorkflowOps) Update(ctx context.Context, md WorkflowMetadata) error {
	prior, ok, err := w.Get(ctx, md.ID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("storage: workflow update: no record for %s", md.ID)
	}
	b, err := encodeWorkflowMetadata(md)
	if err != nil {
		return err
	}
	ops := []kv.Op{{Kind: kv.OpPut, Key: storekeys.Workflow(md.ID), Value: b}}
	if prior.Status != md.Status {
		ops = append(ops,
			kv.Op{Kind: kv.OpDelete, Key: storekeys.Status(string(prior.Status), md.ID)},
			kv.Op{Kind: kv.OpPut, Key: storekeys.Status(string(md.Status), md.ID), Value: []byte{}},
		)
	}
	if err := w.store.Batch(ctx, ops); err != nil {
		return fmt.Errorf("storage: workflow update: batch: %w", err)
	}
	return nil
}

// FindByStatus scans X/<status>/ and resolves each id, up to limit results
// (0 means unlimited).
func (w *WorkflowOps) FindByStatus(ctx context.Context, status Status, limit int) ([]WorkflowMetadata, error) {
	it, err := w.store.Scan(ctx, storekeys.StatusPrefix(string(status)))
	if err != nil {
		return nil, fmt.Errorf("storage: find by status: scan: %w", err)
	}
	defer it.Close()

	var results []WorkflowMetadata
	for it.Next() {
		if limit > 0 && len(results) >= limit {
			break
		}
		id, err := storekeys.WorkflowIDFromStatusKey(it.Entry().Key, string(status))
		if err != nil {
			return nil, err
		}
		md, ok, err := w.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		results = append(results, md)
	}
	if err := it.Err(); err != nil {
		return nil, fmt.Errorf("storage: find by status: iterate: %w", err)
	}
	return results, nil
}

// FindSuspendedReady filters Suspended workflows whose SuspendedUntil is at
// or before now, over-fetching up to limit*4 candidates before filtering
// (workflows without a deadline never match).
func (w *WorkflowOps) FindSuspendedReady(ctx context.Context, now time.Time, limit int) ([]WorkflowMetadata, error) {
	fetchLimit := 0
	if limit > 0 {
		fetchLimit = limit * 4
	}
	candidates, err := w.FindByStatus(ctx, StatusSuspended, fetchLimit)
	if err != nil {
		return nil, err
	}
	var ready []WorkflowMetadata
	for _, md := range candidates {
		if md.SuspendedUntil == nil {
			continue
		}
		if md.SuspendedUntil.After(now) {
			continue
		}
		ready = append(ready, md)
		if limit > 0 && len(ready) >= limit {
			break
		}
	}
	return ready, nil
}
