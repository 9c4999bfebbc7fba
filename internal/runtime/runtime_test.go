package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/swarmguard/workflowmesh/internal/kv/memkv"
	"github.com/swarmguard/workflowmesh/internal/registry"
	"github.com/swarmguard/workflowmesh/internal/storage"
)

func newTestRuntime() (*Runtime, *storage.Facade, *registry.Registry) {
	store := storage.NewFacade(memkv.New())
	calls := registry.New()
	rt := New("node-1", store, calls, nil, nil)
	return rt, store, calls
}

func TestEchoWorkflowNoReplay(t *testing.T) {
	rt, store, _ := newTestRuntime()
	rt.RegisterWorkflow("echo", func(ctx *Context, input []byte) ([]byte, error) {
		var s string
		if err := json.Unmarshal(input, &s); err != nil {
			return nil, err
		}
		return json.Marshal("Echo: " + s)
	})

	inputJSON, _ := json.Marshal("Hello")
	md, err := rt.Submit(context.Background(), "echo", "w1", inputJSON)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if md.Status != storage.StatusCompleted {
		t.Fatalf("expected Completed, got %s", md.Status)
	}
	var out string
	if err := json.Unmarshal(md.OutputJSON, &out); err != nil || out != "Echo: Hello" {
		t.Fatalf("expected 'Echo: Hello', got %q err=%v", out, err)
	}
	entries, err := store.Journal.GetAll(context.Background(), "w1")
	if err != nil || len(entries) != 0 {
		t.Fatalf("expected empty journal, got %v err=%v", entries, err)
	}
}

func TestSideEffectExactlyOnce(t *testing.T) {
	rt, store, _ := newTestRuntime()
	var counter int64

	rt.RegisterWorkflow("inc", func(ctx *Context, input []byte) ([]byte, error) {
		out, err := ctx.SideEffect("inc", func() ([]byte, error) {
			v := atomic.AddInt64(&counter, 1) - 1
			return json.Marshal(v)
		})
		if err != nil {
			return nil, err
		}
		return out, nil
	})

	ctx := context.Background()
	md, err := rt.Submit(ctx, "inc", "w1", nil)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	var first int64
	_ = json.Unmarshal(md.OutputJSON, &first)
	if first != 0 || counter != 1 {
		t.Fatalf("expected first=0 counter=1, got first=%d counter=%d", first, counter)
	}

	// Replay via ExecuteWorkflow again; since it's already Completed it
	// should be a no-op (terminal states never re-execute).
	md2, err := rt.ExecuteWorkflow(ctx, "inc", "w1", nil)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	var second int64
	_ = json.Unmarshal(md2.OutputJSON, &second)
	if second != 0 || counter != 1 {
		t.Fatalf("expected cached 0 and no re-execution: second=%d counter=%d", second, counter)
	}
	_ = store
}

func TestSleepSuspendsThenResumes(t *testing.T) {
	rt, store, _ := newTestRuntime()
	rt.RegisterWorkflow("waiter", func(ctx *Context, input []byte) ([]byte, error) {
		ctx.Sleep(50 * time.Millisecond)
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
	if md.SuspendedUntil == nil {
		t.Fatalf("expected SuspendedUntil set")
	}

	ready, err := store.Timer.FindReady(ctx, time.Now(), 0)
	if err != nil || len(ready) != 0 {
		t.Fatalf("expected no timers ready yet: %v err=%v", ready, err)
	}

	time.Sleep(60 * time.Millisecond)
	ready, err = store.Timer.FindReady(ctx, time.Now(), 0)
	if err != nil || len(ready) != 1 {
		t.Fatalf("expected 1 timer ready: %v err=%v", ready, err)
	}
	if err := store.Timer.Delete(ctx, ready[0].TimerID, ready[0].WakeTime); err != nil {
		t.Fatalf("delete timer: %v", err)
	}

	md2, err := rt.ExecuteWorkflow(ctx, "waiter", "w1", nil)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if md2.Status != storage.StatusCompleted {
		t.Fatalf("expected Completed after resume, got %s", md2.Status)
	}
	var out string
	_ = json.Unmarshal(md2.OutputJSON, &out)
	if out != "done" {
		t.Fatalf("expected 'done', got %q", out)
	}

	entries, err := store.Journal.GetAll(ctx, "w1")
	if err != nil || len(entries) != 1 || entries[0].Type != storage.EntrySleep || !entries[0].Completed {
		t.Fatalf("expected one completed Sleep entry, got %+v err=%v", entries, err)
	}
}

func TestCallRetryThenSuccess(t *testing.T) {
	rt, store, calls := newTestRuntime()
	var invocations int64
	calls.Register("flaky", func(ctx context.Context, req []byte) ([]byte, error) {
		n := atomic.AddInt64(&invocations, 1)
		if n < 3 {
			return nil, fmt.Errorf("transient failure %d", n)
		}
		return json.Marshal(3)
	})

	rt.RegisterWorkflow("caller", func(ctx *Context, input []byte) ([]byte, error) {
		policy := RetryPolicy{MaxAttempts: 5, InitialWait: time.Millisecond, MaxWait: 10 * time.Millisecond, Multiplier: 2}
		out, err := ctx.Call("flaky", []byte("0"), policy)
		if err != nil {
			return nil, err
		}
		return out, nil
	})

	ctx := context.Background()
	md, err := rt.Submit(ctx, "caller", "w1", nil)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if md.Status != storage.StatusCompleted {
		t.Fatalf("expected Completed, got %s err=%s", md.Status, md.ErrorMessage)
	}
	var out int
	_ = json.Unmarshal(md.OutputJSON, &out)
	if out != 3 {
		t.Fatalf("expected 3, got %d", out)
	}
	if invocations != 3 {
		t.Fatalf("expected exactly 3 invocations, got %d", invocations)
	}

	entries, err := store.Journal.GetAll(ctx, "w1")
	if err != nil || len(entries) != 1 || entries[0].Type != storage.EntryCall || !entries[0].Completed {
		t.Fatalf("expected one completed Call entry, got %+v err=%v", entries, err)
	}
}

func TestCancelDoesNotTouchTerminalWorkflow(t *testing.T) {
	rt, _, _ := newTestRuntime()
	rt.RegisterWorkflow("echo", func(ctx *Context, input []byte) ([]byte, error) {
		return input, nil
	})
	ctx := context.Background()
	md, err := rt.Submit(ctx, "echo", "w1", []byte(`"x"`))
	if err != nil || md.Status != storage.StatusCompleted {
		t.Fatalf("setup failed: %v %s", err, md.Status)
	}
	if err := rt.Cancel(ctx, "w1"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	final, _, _ := rt.GetStatus(ctx, "w1")
	if final.Status != storage.StatusCompleted {
		t.Fatalf("expected cancel to be a no-op on terminal workflow, got %s", final.Status)
	}
}
