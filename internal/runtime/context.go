package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	mathrand "math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/swarmguard/workflowmesh/internal/registry"
	"github.com/swarmguard/workflowmesh/internal/storage"
	"github.com/swarmguard/workflowmesh/internal/telemetry"
)

// Context is threaded through a workflow handler and exposes the journaled
// operations of spec.md §4.5.1. Every operation increments the local
// sequence counter and checks the replay map before acting.
type Context struct {
	goCtx       context.Context
	workflowID  string
	storage     *storage.Facade
	calls       *registry.Registry
	breakers    *breakerRegistry
	logger      *slog.Logger
	instruments *telemetry.Instruments

	replay map[uint64]storage.JournalEntry
	nextSeq uint64
}

func newContext(goCtx context.Context, workflowID string, storage *storage.Facade, calls *registry.Registry, breakers *breakerRegistry, logger *slog.Logger, instruments *telemetry.Instruments, journal []storage.JournalEntry) *Context {
	replay := make(map[uint64]storage.JournalEntry, len(journal))
	for _, e := range journal {
		replay[e.Seq] = e
	}
	return &Context{
		goCtx:       goCtx,
		workflowID:  workflowID,
		storage:     storage,
		calls:       calls,
		breakers:    breakers,
		logger:      logger,
		instruments: instruments,
		replay:      replay,
	}
}

// checkCancelled re-reads workflow status from storage and panics
// cancelledSignal{} if a concurrent Cancel() landed while this handler was
// mid-execution. ExecuteWorkflow's own Cancelled check only runs before the
// handler is invoked; this is the only point that catches a cancel arriving
// during a blocking operation. Called from the suspension points (Call's
// retry wait, Sleep, AwaitSignal) rather than on every operation, since those
// are the points a long-running handler can actually be interrupted at.
func (c *Context) checkCancelled() {
	md, ok, err := c.storage.Workflow.Get(c.goCtx, c.workflowID)
	if err != nil || !ok {
		return
	}
	if md.Status == storage.StatusCancelled {
		panic(cancelledSignal{})
	}
}

// WorkflowID returns the id of the workflow instance being executed.
func (c *Context) WorkflowID() string { return c.workflowID }

func (c *Context) allocSeq() (seq uint64, entry storage.JournalEntry, hasEntry bool) {
	seq = c.nextSeq
	c.nextSeq++
	entry, hasEntry = c.replay[seq]
	return
}

// Call journals a Call entry, invokes calls.Invoke with retries per policy,
// and completes the entry with the serialized response. On replay of a
// completed entry, no call is made.
func (c *Context) Call(name string, requestJSON []byte, policy RetryPolicy) ([]byte, error) {
	seq, entry, hasEntry := c.allocSeq()
	if hasEntry && entry.Completed {
		return entry.OutputJSON, nil
	}
	if !hasEntry {
		if err := c.storage.Journal.Append(c.goCtx, c.workflowID, storage.JournalEntry{
			Seq: seq, Type: storage.EntryCall, Name: name, InputJSON: requestJSON, Timestamp: time.Now(),
		}); err != nil {
			return nil, fmt.Errorf("runtime: call %s: journal append: %w", name, err)
		}
	}

	breaker := c.breakers.get(name)
	var lastErr error
	attempts := policy.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			c.instruments.RecordCallRetry(c.goCtx)
			c.checkCancelled()
		}
		if !breaker.Allow() {
			lastErr = fmt.Errorf("runtime: call %s: circuit open", name)
			break
		}
		resp, err := c.calls.Invoke(c.goCtx, name, requestJSON)
		if err == nil {
			breaker.RecordResult(true)
			if err := c.storage.Journal.Complete(c.goCtx, c.workflowID, seq, resp); err != nil {
				return nil, fmt.Errorf("runtime: call %s: journal complete: %w", name, err)
			}
			return resp, nil
		}
		breaker.RecordResult(false)
		lastErr = err
		if !policy.isRetryable(err) {
			break
		}
		if attempt < attempts-1 {
			delay := policy.backoffDelay(attempt)
			if delay > 0 {
				timer := time.NewTimer(delay)
				select {
				case <-timer.C:
				case <-c.goCtx.Done():
					timer.Stop()
					return nil, c.goCtx.Err()
				}
			}
		}
	}
	return nil, &DurableException{Message: fmt.Sprintf("call %s failed", name), Cause: lastErr}
}

// SideEffect journals a SideEffect entry, runs effect, and completes the
// entry with the serialized result. On replay the block is not re-run.
func (c *Context) SideEffect(name string, effect func() ([]byte, error)) ([]byte, error) {
	seq, entry, hasEntry := c.allocSeq()
	if hasEntry && entry.Completed {
		return entry.OutputJSON, nil
	}
	if !hasEntry {
		if err := c.storage.Journal.Append(c.goCtx, c.workflowID, storage.JournalEntry{
			Seq: seq, Type: storage.EntrySideEffect, Name: name, Timestamp: time.Now(),
		}); err != nil {
			return nil, fmt.Errorf("runtime: side effect %s: journal append: %w", name, err)
		}
	}
	result, err := effect()
	if err != nil {
		return nil, err
	}
	if err := c.storage.Journal.Complete(c.goCtx, c.workflowID, seq, result); err != nil {
		return nil, fmt.Errorf("runtime: side effect %s: journal complete: %w", name, err)
	}
	return result, nil
}

type sleepPayload struct {
	WakeTime time.Time `json:"wakeTime"`
}

// Sleep suspends the workflow until d has elapsed, per spec.md §4.5.1.
// First execution schedules a timer row, journals the Sleep entry already
// completed (a control record whose payload is the wake time) and panics
// with suspendSignal. On replay that completed entry returns immediately,
// whatever the current time; the wake-time check below applies only to a
// Sleep entry journaled incomplete.
func (c *Context) Sleep(d time.Duration) {
	c.checkCancelled()
	seq, entry, hasEntry := c.allocSeq()
	now := time.Now()

	if hasEntry {
		if entry.Completed {
			return
		}
		var payload sleepPayload
		if err := json.Unmarshal(entry.InputJSON, &payload); err != nil {
			panic(fmt.Errorf("runtime: sleep: decode payload: %w", err))
		}
		if !now.Before(payload.WakeTime) {
			if err := c.storage.Journal.Complete(c.goCtx, c.workflowID, seq, nil); err != nil {
				panic(fmt.Errorf("runtime: sleep: journal complete: %w", err))
			}
			return
		}
		panic(suspendSignal{until: payload.WakeTime, has: true})
	}

	wakeTime := now.Add(d)
	payload, err := json.Marshal(sleepPayload{WakeTime: wakeTime})
	if err != nil {
		panic(fmt.Errorf("runtime: sleep: encode payload: %w", err))
	}
	timerID := uuid.NewString()
	if err := c.storage.Timer.Schedule(c.goCtx, storage.Timer{
		WakeTime: wakeTime, TimerID: timerID, WorkflowID: c.workflowID, SequenceNumber: seq,
	}); err != nil {
		panic(fmt.Errorf("runtime: sleep: schedule timer: %w", err))
	}
	if err := c.storage.Journal.AppendCompleted(c.goCtx, c.workflowID, storage.JournalEntry{
		Seq: seq, Type: storage.EntrySleep, Name: "sleep", InputJSON: payload, Timestamp: now,
	}); err != nil {
		panic(fmt.Errorf("runtime: sleep: journal append: %w", err))
	}
	panic(suspendSignal{until: wakeTime, has: true})
}

// SetState writes the state value and then journals a completed State
// entry. The two are separate storage writes, not one atomic batch: a
// failure between them leaves the value written with no State entry. On
// replay (entry already completed) the write is not repeated — it already
// landed in the state store on first execution.
func (c *Context) SetState(key string, value []byte) error {
	seq, entry, hasEntry := c.allocSeq()
	if hasEntry && entry.Completed {
		return nil
	}
	if err := c.storage.State.Set(c.goCtx, c.workflowID, key, value); err != nil {
		return fmt.Errorf("runtime: set state %s: %w", key, err)
	}
	if err := c.storage.Journal.AppendCompleted(c.goCtx, c.workflowID, storage.JournalEntry{
		Seq: seq, Type: storage.EntryState, Name: key, InputJSON: value, Timestamp: time.Now(),
	}); err != nil {
		return fmt.Errorf("runtime: set state %s: journal append: %w", key, err)
	}
	return nil
}

// GetState reads directly from state; not journaled per spec.md §4.5.1.
func (c *Context) GetState(key string) ([]byte, bool, error) {
	v, ok, err := c.storage.State.Get(c.goCtx, c.workflowID, key)
	if err != nil {
		return nil, false, fmt.Errorf("runtime: get state %s: %w", key, err)
	}
	return v, ok, nil
}

// ClearState deletes from state; not journaled.
func (c *Context) ClearState(key string) error {
	if err := c.storage.State.Delete(c.goCtx, c.workflowID, key); err != nil {
		return fmt.Errorf("runtime: clear state %s: %w", key, err)
	}
	return nil
}

// Random returns a stable-across-replay random float64 in [0,1), implemented
// as a named SideEffect per spec.md §4.5.1.
func (c *Context) Random() (float64, error) {
	out, err := c.SideEffect("random", func() ([]byte, error) {
		return json.Marshal(mathrand.Float64())
	})
	if err != nil {
		return 0, err
	}
	var v float64
	if err := json.Unmarshal(out, &v); err != nil {
		return 0, fmt.Errorf("runtime: random: decode: %w", err)
	}
	return v, nil
}

// UUID returns a stable-across-replay UUID string, implemented as a named
// SideEffect per spec.md §4.5.1.
func (c *Context) UUID() (string, error) {
	out, err := c.SideEffect("uuid", func() ([]byte, error) {
		return json.Marshal(uuid.New().String())
	})
	if err != nil {
		return "", err
	}
	var v string
	if err := json.Unmarshal(out, &v); err != nil {
		return "", fmt.Errorf("runtime: uuid: decode: %w", err)
	}
	return v, nil
}
