package runtime

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/swarmguard/workflowmesh/internal/storage"
)

func TestAwaitSignalSuspendsThenResumesOnDelivery(t *testing.T) {
	rt, store, _ := newTestRuntime()
	rt.RegisterWorkflow("approval", func(ctx *Context, input []byte) ([]byte, error) {
		payload, err := ctx.AwaitSignal("approve")
		if err != nil {
			return nil, err
		}
		return payload, nil
	})

	ctx := context.Background()
	md, err := rt.Submit(ctx, "approval", "w1", nil)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if md.Status != storage.StatusSuspended {
		t.Fatalf("expected Suspended, got %s", md.Status)
	}

	approved, _ := json.Marshal("approved")
	md2, err := rt.DeliverSignal(ctx, "w1", "approve", approved)
	if err != nil {
		t.Fatalf("deliver signal: %v", err)
	}
	if md2.Status != storage.StatusCompleted {
		t.Fatalf("expected Completed after signal, got %s", md2.Status)
	}
	var out string
	_ = json.Unmarshal(md2.OutputJSON, &out)
	if out != "approved" {
		t.Fatalf("expected 'approved', got %q", out)
	}

	entries, err := store.Journal.GetAll(ctx, "w1")
	if err != nil || len(entries) != 1 || entries[0].Type != storage.EntryAwakeable || !entries[0].Completed {
		t.Fatalf("expected one completed Awakeable entry, got %+v err=%v", entries, err)
	}
}

func TestDeliverSignalRejectsUnknownWorkflowThenResumesSuspendedAwait(t *testing.T) {
	rt, _, _ := newTestRuntime()
	rt.RegisterWorkflow("approval", func(ctx *Context, input []byte) ([]byte, error) {
		payload, err := ctx.AwaitSignal("approve")
		if err != nil {
			return nil, err
		}
		return payload, nil
	})

	ctx := context.Background()
	// Delivering before the handler has ever reached AwaitSignal is not
	// expressible through Submit (it runs the handler synchronously to its
	// first suspension point), so the buffering path is not exercised here.
	// This test checks that delivery to an unknown workflow id fails, and
	// that delivery to a workflow suspended in AwaitSignal completes it.
	approved, _ := json.Marshal("ok")
	if _, err := rt.DeliverSignal(ctx, "w-not-yet", "approve", approved); err == nil {
		t.Fatalf("expected error delivering to nonexistent workflow")
	}

	md, err := rt.Submit(ctx, "approval", "w2", nil)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if md.Status != storage.StatusSuspended {
		t.Fatalf("expected Suspended, got %s", md.Status)
	}
	md2, err := rt.DeliverSignal(ctx, "w2", "approve", approved)
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if md2.Status != storage.StatusCompleted {
		t.Fatalf("expected Completed, got %s", md2.Status)
	}
}

func TestDeliverSignalIsIdempotentOnTerminalWorkflow(t *testing.T) {
	rt, _, _ := newTestRuntime()
	rt.RegisterWorkflow("echo", func(ctx *Context, input []byte) ([]byte, error) {
		return input, nil
	})
	ctx := context.Background()
	md, err := rt.Submit(ctx, "echo", "w1", []byte(`"x"`))
	if err != nil || md.Status != storage.StatusCompleted {
		t.Fatalf("setup failed: %v %s", err, md.Status)
	}
	md2, err := rt.DeliverSignal(ctx, "w1", "late", []byte(`"y"`))
	if err != nil {
		t.Fatalf("deliver signal on terminal workflow: %v", err)
	}
	if md2.Status != storage.StatusCompleted {
		t.Fatalf("expected terminal status unchanged, got %s", md2.Status)
	}
}
