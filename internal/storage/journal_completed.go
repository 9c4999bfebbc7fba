package storage

import (
	"context"
	"fmt"

	"github.com/swarmguard/workflowmesh/internal/storekeys"
)

// AppendCompleted writes entry already marked Completed in one step, for
// the control-record journal types (Sleep, State) whose payload is the
// input recorded at append time rather than a separately-produced output,
// per spec.md §3's completed-iff-fire-and-forget-record rule.
func (j *JournalOps) AppendCompleted(ctx context.Context, workflowID string, entry JournalEntry) error {
	entry.Completed = true
	b, err := encodeJournalEntry(entry)
	if err != nil {
		return err
	}
	if err := j.store.Put(ctx, storekeys.Journal(workflowID, entry.Seq), b); err != nil {
		return fmt.Errorf("storage: journal append completed: %w", err)
	}
	return nil
}
