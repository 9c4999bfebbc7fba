package background

import (
	"context"
	"log/slog"
	"time"

	"github.com/swarmguard/workflowmesh/internal/runtime"
	"github.com/swarmguard/workflowmesh/internal/storage"
)

// DefaultRecoveryPollInterval matches spec.md §6's configuration default.
const DefaultRecoveryPollInterval = time.Second

const recoveryBatchSize = 50

// RecoveryProcessor implements spec.md §4.6's recovery processor: on a
// longer period it scans Suspended workflows whose SuspendedUntil has
// passed (e.g. an external signal with a deadline, not a timer row) and
// resumes them. Idempotent by construction — replay returns the same
// outputs for duplicate invocations.
type RecoveryProcessor struct {
	storage      *storage.Facade
	runtime      *runtime.Runtime
	pollInterval time.Duration
	logger       *slog.Logger

	stop chan struct{}
	done chan struct{}
}

func NewRecoveryProcessor(store *storage.Facade, rt *runtime.Runtime, pollInterval time.Duration, logger *slog.Logger) *RecoveryProcessor {
	if pollInterval <= 0 {
		pollInterval = DefaultRecoveryPollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RecoveryProcessor{
		storage:      store,
		runtime:      rt,
		pollInterval: pollInterval,
		logger:       logger,
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
}

func (p *RecoveryProcessor) Start(ctx context.Context) {
	go func() {
		defer close(p.done)
		ticker := time.NewTicker(p.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-p.stop:
				return
			case <-ticker.C:
				p.runOnce(ctx)
			}
		}
	}()
}

func (p *RecoveryProcessor) Stop() {
	close(p.stop)
	<-p.done
}

func (p *RecoveryProcessor) runOnce(ctx context.Context) {
	ready, err := p.storage.Workflow.FindSuspendedReady(ctx, time.Now(), recoveryBatchSize)
	if err != nil {
		p.logger.Error("recovery processor: find suspended ready failed", "error", err)
		return
	}
	for _, md := range ready {
		if _, err := p.runtime.ExecuteWorkflow(ctx, md.WorkflowType, md.ID, md.InputJSON); err != nil {
			p.logger.Error("recovery processor: resume failed", "workflow_id", md.ID, "error", err)
		}
	}
}
