package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/swarmguard/workflowmesh/internal/kv"
	"github.com/swarmguard/workflowmesh/internal/storekeys"
)

// TimerOps implements spec.md §4.3's Timer surface. Exactly one row exists
// per not-yet-completed Sleep; row deletion is the exactly-once wake signal
// (§4.6, §8 "Timer exactly-once").
type TimerOps struct {
	store kv.Store
}

func NewTimerOps(store kv.Store) *TimerOps {
	return &TimerOps{store: store}
}

func (t *TimerOps) Schedule(ctx context.Context, timer Timer) error {
	b, err := encodeTimer(timer)
	if err != nil {
		return err
	}
	key := storekeys.Timer(timer.WakeTime.UnixNano(), timer.TimerID)
	if err := t.store.Put(ctx, key, b); err != nil {
		return fmt.Errorf("storage: timer schedule: %w", err)
	}
	return nil
}

// FindReady range-scans T/ up to now (inclusive), up to limit rows (0 means
// unlimited).
func (t *TimerOps) FindReady(ctx context.Context, now time.Time, limit int) ([]Timer, error) {
	start := storekeys.TimerPrefixStart()
	end := storekeys.TimerScanUpperBound(now.UnixNano())
	it, err := t.store.ScanRange(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("storage: timer find ready: scan: %w", err)
	}
	defer it.Close()

	var timers []Timer
	for it.Next() {
		if limit > 0 && len(timers) >= limit {
			break
		}
		tm, err := decodeTimer(it.Entry().Value)
		if err != nil {
			return nil, err
		}
		timers = append(timers, tm)
	}
	if err := it.Err(); err != nil {
		return nil, fmt.Errorf("storage: timer find ready: iterate: %w", err)
	}
	return timers, nil
}

func (t *TimerOps) Delete(ctx context.Context, timerID string, wakeTime time.Time) error {
	key := storekeys.Timer(wakeTime.UnixNano(), timerID)
	if err := t.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("storage: timer delete: %w", err)
	}
	return nil
}

// DeleteForWorkflow scans the whole timer namespace for rows matching
// workflowID. The timer namespace is not indexed by workflow id, so this is
// a full scan — acceptable because it is only used on workflow deletion.
func (t *TimerOps) DeleteForWorkflow(ctx context.Context, workflowID string) error {
	it, err := t.store.Scan(ctx, storekeys.TimerPrefixStart())
	if err != nil {
		return fmt.Errorf("storage: timer delete for workflow: scan: %w", err)
	}
	defer it.Close()

	var ops []kv.Op
	for it.Next() {
		tm, err := decodeTimer(it.Entry().Value)
		if err != nil {
			return err
		}
		if tm.WorkflowID != workflowID {
			continue
		}
		ops = append(ops, kv.Op{Kind: kv.OpDelete, Key: it.Entry().Key})
	}
	if err := it.Err(); err != nil {
		return fmt.Errorf("storage: timer delete for workflow: iterate: %w", err)
	}
	if len(ops) == 0 {
		return nil
	}
	if err := t.store.Batch(ctx, ops); err != nil {
		return fmt.Errorf("storage: timer delete for workflow: batch: %w", err)
	}
	return nil
}
