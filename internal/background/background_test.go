package background

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/swarmguard/workflowmesh/internal/kv/memkv"
	"github.com/swarmguard/workflowmesh/internal/registry"
	"github.com/swarmguard/workflowmesh/internal/runtime"
	"github.com/swarmguard/workflowmesh/internal/storage"
)

func newTestRuntime() (*runtime.Runtime, *storage.Facade) {
	store := storage.NewFacade(memkv.New())
	calls := registry.New()
	rt := runtime.New("node-1", store, calls, nil, nil)
	return rt, store
}

// TestTimerProcessorFiresExactlyOnce exercises spec.md §4.6's
// delete-before-resume invariant directly: calling runOnce twice on the same
// timer row must resume the workflow only once, since the first call's
// Delete removes the row before the second call's FindReady can see it.
func TestTimerProcessorFiresExactlyOnce(t *testing.T) {
	rt, store := newTestRuntime()
	var resumed int64
	rt.RegisterWorkflow("waiter", func(ctx *runtime.Context, input []byte) ([]byte, error) {
		atomic.AddInt64(&resumed, 1)
		ctx.Sleep(time.Hour)
		return json.Marshal("done")
	})

	ctx := context.Background()
	md, err := rt.Submit(ctx, "waiter", "w1", nil)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if md.Status != storage.StatusSuspended {
		t.Fatalf("expected Suspended, got %s", md.Status)
	}
	if resumed != 1 {
		t.Fatalf("expected handler entered once during submit, got %d", resumed)
	}

	// Force the scheduled timer ready by rewriting it with a past WakeTime.
	ready, err := store.Timer.FindReady(ctx, time.Now().Add(2*time.Hour), 0)
	if err != nil || len(ready) != 1 {
		t.Fatalf("expected 1 scheduled timer, got %v err=%v", ready, err)
	}
	timer := ready[0]
	if err := store.Timer.Delete(ctx, timer.TimerID, timer.WakeTime); err != nil {
		t.Fatalf("delete original timer: %v", err)
	}
	timer.WakeTime = time.Now().Add(-time.Second)
	if err := store.Timer.Schedule(ctx, timer); err != nil {
		t.Fatalf("reschedule timer: %v", err)
	}

	proc := NewTimerProcessor(store, rt, time.Hour, nil, nil)

	proc.runOnce(ctx)
	if resumed != 2 {
		t.Fatalf("expected one resume after first runOnce, got resumed=%d", resumed)
	}

	// A second runOnce must not find the timer again: Delete already
	// happened on the first pass, so FindReady returns nothing.
	proc.runOnce(ctx)
	if resumed != 2 {
		t.Fatalf("expected no further resume on second runOnce, got resumed=%d", resumed)
	}

	final, _, err := rt.GetStatus(ctx, "w1")
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	if final.Status != storage.StatusCompleted {
		t.Fatalf("expected Completed after resume, got %s", final.Status)
	}
}

// TestRecoveryProcessorDoesNotDoubleResume covers the redundant safety net of
// spec.md §4.6: a Suspended workflow whose deadline has passed is resumed by
// runOnce, and a second pass over the same storage state must not resume it
// again, since FindSuspendedReady no longer lists it once the first pass
// completes it.
func TestRecoveryProcessorDoesNotDoubleResume(t *testing.T) {
	rt, store := newTestRuntime()
	var resumed int64
	rt.RegisterWorkflow("waiter", func(ctx *runtime.Context, input []byte) ([]byte, error) {
		atomic.AddInt64(&resumed, 1)
		return json.Marshal("done")
	})

	ctx := context.Background()
	workflowID := uuid.NewString()
	past := time.Now().Add(-time.Minute)
	md := storage.WorkflowMetadata{
		ID:             workflowID,
		WorkflowType:   "waiter",
		Status:         storage.StatusSuspended,
		OwnerID:        "node-1",
		SuspendedUntil: &past,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}
	created, err := store.Workflow.Create(ctx, md)
	if err != nil || !created {
		t.Fatalf("seed workflow: created=%v err=%v", created, err)
	}

	proc := NewRecoveryProcessor(store, rt, time.Hour, nil)

	proc.runOnce(ctx)
	if resumed != 1 {
		t.Fatalf("expected exactly 1 resume after first runOnce, got %d", resumed)
	}
	final, _, err := rt.GetStatus(ctx, workflowID)
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	if final.Status != storage.StatusCompleted {
		t.Fatalf("expected Completed after resume, got %s", final.Status)
	}

	// Second pass: the workflow is no longer Suspended, so FindSuspendedReady
	// must not surface it again, and the handler must not re-run.
	proc.runOnce(ctx)
	if resumed != 1 {
		t.Fatalf("expected no further resume on second runOnce, got resumed=%d", resumed)
	}
}
