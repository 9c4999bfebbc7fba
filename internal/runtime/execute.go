package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/swarmguard/workflowmesh/internal/registry"
	"github.com/swarmguard/workflowmesh/internal/storage"
	"github.com/swarmguard/workflowmesh/internal/telemetry"
)

// WorkflowHandler is a user-defined deterministic handler made durable by
// the runtime, per the GLOSSARY definition of Workflow.
type WorkflowHandler func(ctx *Context, inputJSON []byte) ([]byte, error)

// Runtime owns the storage facade, the call registry and the workflow
// handler map, and drives executeWorkflow per spec.md §4.5. There is no
// process-global state — background services hold a reference to this same
// instance, per spec.md §9's "Global process state" design note.
type Runtime struct {
	NodeID      string
	storage     *storage.Facade
	calls       *registry.Registry
	breakers    *breakerRegistry
	logger      *slog.Logger
	instruments *telemetry.Instruments

	mu        sync.RWMutex
	workflows map[string]WorkflowHandler
}

// New builds a Runtime. instruments may be nil (metrics unavailable); every
// recording call on it is nil-receiver safe.
func New(nodeID string, store *storage.Facade, calls *registry.Registry, logger *slog.Logger, instruments *telemetry.Instruments) *Runtime {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runtime{
		NodeID:      nodeID,
		storage:     store,
		calls:       calls,
		breakers:    newBreakerRegistry(),
		logger:      logger,
		instruments: instruments,
		workflows:   make(map[string]WorkflowHandler),
	}
}

// RegisterWorkflow adds a workflow type, keyed by name, built once at
// startup per spec.md §9's registry design note.
func (r *Runtime) RegisterWorkflow(name string, h WorkflowHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workflows[name] = h
}

func (r *Runtime) lookupWorkflow(name string) (WorkflowHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.workflows[name]
	return h, ok
}

// Submit implements spec.md §4.5's submit: generates an id if absent,
// atomically creates metadata Pending, and invokes executeWorkflow.
func (r *Runtime) Submit(ctx context.Context, workflowType, workflowID string, inputJSON []byte) (storage.WorkflowMetadata, error) {
	if workflowID == "" {
		workflowID = uuid.NewString()
	}
	if _, ok := r.lookupWorkflow(workflowType); !ok {
		return storage.WorkflowMetadata{}, &registry.ErrUnknownFunction{Name: workflowType}
	}

	now := time.Now()
	md := storage.WorkflowMetadata{
		ID: workflowID, WorkflowType: workflowType, Status: storage.StatusPending,
		OwnerID: r.NodeID, InputJSON: inputJSON, CreatedAt: now, UpdatedAt: now, MaxRetries: 0,
	}
	created, err := r.storage.Workflow.Create(ctx, md)
	if err != nil {
		return storage.WorkflowMetadata{}, fmt.Errorf("runtime: submit: create: %w", err)
	}
	if !created {
		existing, ok, err := r.storage.Workflow.Get(ctx, workflowID)
		if err != nil {
			return storage.WorkflowMetadata{}, fmt.Errorf("runtime: submit: read existing: %w", err)
		}
		if ok {
			return existing, nil
		}
	}
	r.instruments.RecordWorkflowStarted(ctx)

	return r.ExecuteWorkflow(ctx, workflowType, workflowID, inputJSON)
}

// ExecuteWorkflow implements spec.md §4.5's executeWorkflow: load the full
// journal, build a Context, invoke the handler, and persist the terminal or
// suspended outcome. Safe to call repeatedly on the same instance (resume).
func (r *Runtime) ExecuteWorkflow(ctx context.Context, workflowType, workflowID string, inputJSON []byte) (md storage.WorkflowMetadata, err error) {
	handler, ok := r.lookupWorkflow(workflowType)
	if !ok {
		return storage.WorkflowMetadata{}, &registry.ErrUnknownFunction{Name: workflowType}
	}

	existing, ok, err := r.storage.Workflow.Get(ctx, workflowID)
	if err != nil {
		return storage.WorkflowMetadata{}, fmt.Errorf("runtime: execute: load metadata: %w", err)
	}
	if !ok {
		return storage.WorkflowMetadata{}, fmt.Errorf("runtime: execute: no metadata for %s", workflowID)
	}
	if existing.Status == storage.StatusCancelled {
		return existing, nil
	}
	if existing.Status.IsTerminal() {
		return existing, nil
	}

	existing.Status = storage.StatusRunning
	existing.OwnerID = r.NodeID
	existing.UpdatedAt = time.Now()
	if err := r.storage.Workflow.Update(ctx, existing); err != nil {
		return storage.WorkflowMetadata{}, fmt.Errorf("runtime: execute: mark running: %w", err)
	}

	journal, err := r.storage.Journal.GetAll(ctx, workflowID)
	if err != nil {
		return storage.WorkflowMetadata{}, fmt.Errorf("runtime: execute: load journal: %w", err)
	}
	execCtx := newContext(ctx, workflowID, r.storage, r.calls, r.breakers, r.logger, r.instruments, journal)

	result, runErr := r.invokeHandler(handler, execCtx, inputJSON)

	final, ok, err := r.storage.Workflow.Get(ctx, workflowID)
	if err != nil {
		return storage.WorkflowMetadata{}, fmt.Errorf("runtime: execute: reload metadata: %w", err)
	}
	if !ok {
		return storage.WorkflowMetadata{}, fmt.Errorf("runtime: execute: metadata vanished for %s", workflowID)
	}
	now := time.Now()
	final.UpdatedAt = now

	switch outcome := runErr.(type) {
	case nil:
		final.Status = storage.StatusCompleted
		final.OutputJSON = result
		r.instruments.RecordWorkflowCompleted(ctx)
	case suspendSignal:
		final.Status = storage.StatusSuspended
		if outcome.has {
			final.SuspendedUntil = &outcome.until
		}
		r.instruments.RecordWorkflowSuspended(ctx)
	case cancelledSignal:
		final.Status = storage.StatusCancelled
	default:
		final.Status = storage.StatusFailed
		final.ErrorMessage = runErr.Error()
		r.instruments.RecordWorkflowFailed(ctx)
	}

	if err := r.storage.Workflow.Update(ctx, final); err != nil {
		return storage.WorkflowMetadata{}, fmt.Errorf("runtime: execute: finalize: %w", err)
	}
	return final, nil
}

// invokeHandler runs handler and recovers the suspendSignal/cancelledSignal
// control panics of spec.md §9, converting them into the error return value
// ExecuteWorkflow switches on. Any other panic is re-raised: it is a genuine
// handler bug, not a control signal.
func (r *Runtime) invokeHandler(handler WorkflowHandler, execCtx *Context, inputJSON []byte) (result []byte, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			switch v := rec.(type) {
			case suspendSignal:
				err = v
			case cancelledSignal:
				err = v
			case error:
				panic(v)
			default:
				panic(rec)
			}
		}
	}()
	return handler(execCtx, inputJSON)
}

func (s suspendSignal) Error() string   { return "runtime: workflow suspended" }
func (cancelledSignal) Error() string { return "runtime: workflow cancelled" }

// Cancel implements spec.md §5's cancel(workflowId): sets metadata to
// Cancelled without preempting a running handler, per spec.md §9 Open
// Question 2's decision.
func (r *Runtime) Cancel(ctx context.Context, workflowID string) error {
	md, ok, err := r.storage.Workflow.Get(ctx, workflowID)
	if err != nil {
		return fmt.Errorf("runtime: cancel: %w", err)
	}
	if !ok {
		return fmt.Errorf("runtime: cancel: no such workflow %s", workflowID)
	}
	if md.Status.IsTerminal() {
		return nil
	}
	md.Status = storage.StatusCancelled
	md.UpdatedAt = time.Now()
	if err := r.storage.Workflow.Update(ctx, md); err != nil {
		return fmt.Errorf("runtime: cancel: update: %w", err)
	}
	return nil
}

// GetStatus returns the current metadata for workflowID.
func (r *Runtime) GetStatus(ctx context.Context, workflowID string) (storage.WorkflowMetadata, bool, error) {
	return r.storage.Workflow.Get(ctx, workflowID)
}
