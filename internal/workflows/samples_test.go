package workflows

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/swarmguard/workflowmesh/internal/kv/memkv"
	"github.com/swarmguard/workflowmesh/internal/registry"
	"github.com/swarmguard/workflowmesh/internal/runtime"
	"github.com/swarmguard/workflowmesh/internal/storage"
)

func newTestRuntime() (*runtime.Runtime, *registry.Registry) {
	store := storage.NewFacade(memkv.New())
	calls := registry.New()
	rt := runtime.New("node-1", store, calls, nil, nil)
	return rt, calls
}

func TestEchoRegisteredAndRuns(t *testing.T) {
	rt, calls := newTestRuntime()
	RegisterAll(rt, calls)

	ctx := context.Background()
	input, _ := json.Marshal("hi")
	md, err := rt.Submit(ctx, "echo", "w1", input)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if md.Status != storage.StatusCompleted {
		t.Fatalf("expected Completed, got %s", md.Status)
	}
}

func TestApprovalSuspendsAndCompletesOnSignal(t *testing.T) {
	rt, calls := newTestRuntime()
	RegisterAll(rt, calls)

	ctx := context.Background()
	md, err := rt.Submit(ctx, "approval", "w1", nil)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if md.Status != storage.StatusSuspended {
		t.Fatalf("expected Suspended, got %s", md.Status)
	}

	decision, _ := json.Marshal(approvalResult{Approved: true, Note: "looks good"})
	md2, err := rt.DeliverSignal(ctx, "w1", "approve", decision)
	if err != nil {
		t.Fatalf("deliver signal: %v", err)
	}
	if md2.Status != storage.StatusCompleted {
		t.Fatalf("expected Completed, got %s", md2.Status)
	}
	var out approvalResult
	if err := json.Unmarshal(md2.OutputJSON, &out); err != nil || !out.Approved {
		t.Fatalf("expected approved result, got %+v err=%v", out, err)
	}
}

func TestSequentialTasksRunsInDependencyOrder(t *testing.T) {
	rt, calls := newTestRuntime()
	RegisterAll(rt, calls)

	ctx := context.Background()
	input, _ := json.Marshal(sequentialInput{Tasks: []taskSpec{
		{ID: "a"},
		{ID: "b", DependsOn: "a"},
	}})
	md, err := rt.Submit(ctx, "sequential_tasks", "w1", input)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if md.Status != storage.StatusCompleted {
		t.Fatalf("expected Completed, got %s err=%s", md.Status, md.ErrorMessage)
	}
	var results []map[string]string
	if err := json.Unmarshal(md.OutputJSON, &results); err != nil || len(results) != 2 {
		t.Fatalf("expected 2 results, got %v err=%v", results, err)
	}
}

func TestSequentialTasksFailsOnUnmetDependency(t *testing.T) {
	rt, calls := newTestRuntime()
	RegisterAll(rt, calls)

	ctx := context.Background()
	input, _ := json.Marshal(sequentialInput{Tasks: []taskSpec{
		{ID: "b", DependsOn: "a"},
	}})
	md, err := rt.Submit(ctx, "sequential_tasks", "w1", input)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if md.Status != storage.StatusFailed {
		t.Fatalf("expected Failed, got %s", md.Status)
	}
}
