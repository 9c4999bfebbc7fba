// Package workflows registers the built-in sample workflow types a freshly
// started node understands, the way orchestrator/main.go seeds a sample
// Workflow into its in-memory store at startup. These are demonstration
// handlers exercising Context.Call, SetState and AwaitSignal, not a workflow-authoring
// framework — spec.md explicitly leaves workflow definition itself out of
// scope for the core.
package workflows

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/swarmguard/workflowmesh/internal/registry"
	"github.com/swarmguard/workflowmesh/internal/runtime"
)

// RegisterAll wires the sample workflow handlers and their backing
// registry functions into a freshly constructed Runtime.
func RegisterAll(rt *runtime.Runtime, calls *registry.Registry) {
	calls.Register("noop", func(_ context.Context, req []byte) ([]byte, error) { return req, nil })
	registerEcho(rt)
	registerApproval(rt)
	registerSequentialTasks(rt, calls)
}

func registerEcho(rt *runtime.Runtime) {
	rt.RegisterWorkflow("echo", func(ctx *runtime.Context, input []byte) ([]byte, error) {
		return input, nil
	})
}

type approvalResult struct {
	Approved bool   `json:"approved"`
	Note     string `json:"note,omitempty"`
}

// approval demonstrates the signal-wait suspension point of spec.md §4.5:
// it suspends until an external POST .../signal/approve delivers a
// decision, then records the outcome as durable state.
func registerApproval(rt *runtime.Runtime) {
	rt.RegisterWorkflow("approval", func(ctx *runtime.Context, input []byte) ([]byte, error) {
		payload, err := ctx.AwaitSignal("approve")
		if err != nil {
			return nil, err
		}
		var result approvalResult
		if err := json.Unmarshal(payload, &result); err != nil {
			return nil, fmt.Errorf("approval: decode signal payload: %w", err)
		}
		if err := ctx.SetState("decision", payload); err != nil {
			return nil, err
		}
		return json.Marshal(result)
	})
}

type taskSpec struct {
	ID        string `json:"id"`
	DependsOn string `json:"dependsOn,omitempty"`
}

type taskRequest struct {
	ID string `json:"id"`
}

type sequentialInput struct {
	Tasks []taskSpec `json:"tasks"`
}

// sequentialTasks adapts orchestrator/main.go's DAG executor (topologically
// ordered task execution) from a concurrent worker-pool run into a
// deterministic, single-threaded replay: since a durable handler must be
// deterministic across replays, tasks with satisfied dependencies run in
// declaration order rather than via a concurrent ready-queue.
func registerSequentialTasks(rt *runtime.Runtime, calls *registry.Registry) {
	calls.Register("run_task", func(_ context.Context, req []byte) ([]byte, error) {
		var t taskRequest
		if err := json.Unmarshal(req, &t); err != nil {
			return nil, err
		}
		return json.Marshal(map[string]string{"taskId": t.ID, "status": "done"})
	})

	rt.RegisterWorkflow("sequential_tasks", func(ctx *runtime.Context, input []byte) ([]byte, error) {
		var in sequentialInput
		if err := json.Unmarshal(input, &in); err != nil {
			return nil, fmt.Errorf("sequential_tasks: decode input: %w", err)
		}
		completed := make(map[string]bool, len(in.Tasks))
		results := make([]map[string]string, 0, len(in.Tasks))
		policy := runtime.RetryPolicy{MaxAttempts: 3, InitialWait: 100 * time.Millisecond, MaxWait: time.Second, Multiplier: 2}
		for _, t := range in.Tasks {
			if t.DependsOn != "" && !completed[t.DependsOn] {
				return nil, fmt.Errorf("sequential_tasks: %s depends on unmet %s", t.ID, t.DependsOn)
			}
			reqJSON, _ := json.Marshal(taskRequest{ID: t.ID})
			out, err := ctx.Call("run_task", reqJSON, policy)
			if err != nil {
				return nil, err
			}
			var result map[string]string
			if err := json.Unmarshal(out, &result); err != nil {
				return nil, err
			}
			results = append(results, result)
			completed[t.ID] = true
		}
		return json.Marshal(results)
	})
}
