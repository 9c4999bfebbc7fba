package runtime

import (
	"context"
	"fmt"

	"github.com/swarmguard/workflowmesh/internal/storage"
)

const signalBufferKeyPrefix = "__signal__:"

func signalBufferKey(name string) string { return signalBufferKeyPrefix + name }

// AwaitSignal suspends the workflow until an external signal named name is
// delivered, per spec.md §4.5's signal-wait suspension point. If the
// signal was already delivered before this call was ever reached (buffered
// via the unjournaled State side-channel), it returns immediately without
// suspending. Otherwise it records a pending Awakeable entry and suspends
// with no deadline; DeliverSignal resumes the workflow when the signal
// arrives.
func (c *Context) AwaitSignal(name string) ([]byte, error) {
	c.checkCancelled()
	seq, entry, hasEntry := c.allocSeq()
	if hasEntry {
		if entry.Completed {
			return entry.OutputJSON, nil
		}
		panic(suspendSignal{has: false})
	}

	if payload, ok, err := c.storage.State.Get(c.goCtx, c.workflowID, signalBufferKey(name)); err != nil {
		panic(fmt.Errorf("runtime: await signal %s: check buffer: %w", name, err))
	} else if ok {
		if err := c.storage.State.Delete(c.goCtx, c.workflowID, signalBufferKey(name)); err != nil {
			panic(fmt.Errorf("runtime: await signal %s: clear buffer: %w", name, err))
		}
		if err := c.storage.Journal.Append(c.goCtx, c.workflowID, storage.JournalEntry{
			Seq: seq, Type: storage.EntryAwakeable, Name: name,
		}); err != nil {
			panic(fmt.Errorf("runtime: await signal %s: journal append: %w", name, err))
		}
		if err := c.storage.Journal.Complete(c.goCtx, c.workflowID, seq, payload); err != nil {
			panic(fmt.Errorf("runtime: await signal %s: journal complete: %w", name, err))
		}
		return payload, nil
	}

	if err := c.storage.Journal.Append(c.goCtx, c.workflowID, storage.JournalEntry{
		Seq: seq, Type: storage.EntryAwakeable, Name: name,
	}); err != nil {
		panic(fmt.Errorf("runtime: await signal %s: journal append: %w", name, err))
	}
	panic(suspendSignal{has: false})
}

// DeliverSignal implements the Service API's POST .../signal/:signalName:
// if the workflow is currently suspended on a matching pending Awakeable
// entry, it completes that entry with payload and resumes execution by
// re-entering ExecuteWorkflow. If no handler has reached AwaitSignal(name)
// yet, the payload is buffered so the next matching AwaitSignal call
// consumes it without ever suspending.
func (r *Runtime) DeliverSignal(ctx context.Context, workflowID, signalName string, payload []byte) (storage.WorkflowMetadata, error) {
	md, ok, err := r.storage.Workflow.Get(ctx, workflowID)
	if err != nil {
		return storage.WorkflowMetadata{}, fmt.Errorf("runtime: deliver signal: load metadata: %w", err)
	}
	if !ok {
		return storage.WorkflowMetadata{}, fmt.Errorf("runtime: deliver signal: no such workflow %s", workflowID)
	}
	if md.Status.IsTerminal() {
		return md, nil
	}

	journal, err := r.storage.Journal.GetAll(ctx, workflowID)
	if err != nil {
		return storage.WorkflowMetadata{}, fmt.Errorf("runtime: deliver signal: load journal: %w", err)
	}
	var pending *storage.JournalEntry
	for i := range journal {
		e := journal[i]
		if e.Type == storage.EntryAwakeable && e.Name == signalName && !e.Completed {
			pending = &e
			break
		}
	}
	if pending == nil {
		if err := r.storage.State.Set(ctx, workflowID, signalBufferKey(signalName), payload); err != nil {
			return storage.WorkflowMetadata{}, fmt.Errorf("runtime: deliver signal: buffer: %w", err)
		}
		return md, nil
	}

	if err := r.storage.Journal.Complete(ctx, workflowID, pending.Seq, payload); err != nil {
		return storage.WorkflowMetadata{}, fmt.Errorf("runtime: deliver signal: complete: %w", err)
	}
	if md.Status != storage.StatusSuspended {
		return md, nil
	}
	return r.ExecuteWorkflow(ctx, md.WorkflowType, workflowID, md.InputJSON)
}
