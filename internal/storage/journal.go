package storage

import (
	"context"
	"fmt"

	"github.com/swarmguard/workflowmesh/internal/kv"
	"github.com/swarmguard/workflowmesh/internal/storekeys"
)

// JournalOps implements spec.md §4.3's Journal surface.
type JournalOps struct {
	store kv.Store
}

func NewJournalOps(store kv.Store) *JournalOps {
	return &JournalOps{store: store}
}

// Append writes entry with Completed=false. The caller is responsible for
// appending before the journaled effect takes place, per spec.md §3.
func (j *JournalOps) Append(ctx context.Context, workflowID string, entry JournalEntry) error {
	entry.Completed = false
	entry.OutputJSON = nil
	b, err := encodeJournalEntry(entry)
	if err != nil {
		return err
	}
	if err := j.store.Put(ctx, storekeys.Journal(workflowID, entry.Seq), b); err != nil {
		return fmt.Errorf("storage: journal append: %w", err)
	}
	return nil
}

// Complete reads the entry at seq, sets Completed=true and OutputJSON, and
// writes it back.
func (j *JournalOps) Complete(ctx context.Context, workflowID string, seq uint64, outputJSON []byte) error {
	key := storekeys.Journal(workflowID, seq)
	raw, ok, err := j.store.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("storage: journal complete: read: %w", err)
	}
	if !ok {
		return fmt.Errorf("storage: journal complete: no entry at seq %d for %s", seq, workflowID)
	}
	entry, err := decodeJournalEntry(raw)
	if err != nil {
		return err
	}
	entry.Completed = true
	entry.OutputJSON = outputJSON
	b, err := encodeJournalEntry(entry)
	if err != nil {
		return err
	}
	if err := j.store.Put(ctx, key, b); err != nil {
		return fmt.Errorf("storage: journal complete: write: %w", err)
	}
	return nil
}

// GetAll prefix-scans J/<wf>/ and returns entries in ascending sequence
// order (guaranteed by storekeys' big-endian encoding).
func (j *JournalOps) GetAll(ctx context.Context, workflowID string) ([]JournalEntry, error) {
	it, err := j.store.Scan(ctx, storekeys.JournalPrefix(workflowID))
	if err != nil {
		return nil, fmt.Errorf("storage: journal get all: %w", err)
	}
	defer it.Close()

	var entries []JournalEntry
	for it.Next() {
		entry, err := decodeJournalEntry(it.Entry().Value)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := it.Err(); err != nil {
		return nil, fmt.Errorf("storage: journal get all: iterate: %w", err)
	}
	return entries, nil
}

// Delete removes the entire journal prefix for workflowID in one batch.
func (j *JournalOps) Delete(ctx context.Context, workflowID string) error {
	it, err := j.store.Scan(ctx, storekeys.JournalPrefix(workflowID))
	if err != nil {
		return fmt.Errorf("storage: journal delete: scan: %w", err)
	}
	defer it.Close()

	var ops []kv.Op
	for it.Next() {
		ops = append(ops, kv.Op{Kind: kv.OpDelete, Key: it.Entry().Key})
	}
	if err := it.Err(); err != nil {
		return fmt.Errorf("storage: journal delete: iterate: %w", err)
	}
	if len(ops) == 0 {
		return nil
	}
	if err := j.store.Batch(ctx, ops); err != nil {
		return fmt.Errorf("storage: journal delete: batch: %w", err)
	}
	return nil
}
