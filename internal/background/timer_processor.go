// Package background implements spec.md §4.6's background services (timer
// processor, recovery processor) plus the supplemental cron and event
// triggers from SPEC_FULL.md, grounded on the teacher's scheduler.go
// ticker-driven loop shape.
package background

import (
	"context"
	"log/slog"
	"time"

	"github.com/swarmguard/workflowmesh/internal/runtime"
	"github.com/swarmguard/workflowmesh/internal/storage"
	"github.com/swarmguard/workflowmesh/internal/telemetry"
)

// DefaultTimerPollInterval matches spec.md §6's configuration default.
const DefaultTimerPollInterval = 100 * time.Millisecond

const timerBatchSize = 100

// TimerProcessor implements spec.md §4.6's timer processor: on a fixed
// period it finds ready timers, deletes each row before invoking the resume
// callback (delete-before-resume ensures exactly-once wake), and tolerates
// per-timer errors without stopping the batch.
type TimerProcessor struct {
	storage      *storage.Facade
	runtime      *runtime.Runtime
	pollInterval time.Duration
	logger       *slog.Logger
	instruments  *telemetry.Instruments

	stop chan struct{}
	done chan struct{}
}

// NewTimerProcessor builds a TimerProcessor. instruments may be nil; every
// recording call on it is nil-receiver safe.
func NewTimerProcessor(store *storage.Facade, rt *runtime.Runtime, pollInterval time.Duration, logger *slog.Logger, instruments *telemetry.Instruments) *TimerProcessor {
	if pollInterval <= 0 {
		pollInterval = DefaultTimerPollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TimerProcessor{
		storage:      store,
		runtime:      rt,
		pollInterval: pollInterval,
		logger:       logger,
		instruments:  instruments,
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// Start runs the poll loop until ctx is cancelled or Stop is called.
func (p *TimerProcessor) Start(ctx context.Context) {
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

// Stop cancels the loop and waits for it to exit.
func (p *TimerProcessor) Stop() {
	close(p.stop)
	<-p.done
}

func (p *TimerProcessor) runOnce(ctx context.Context) {
	timers, err := p.storage.Timer.FindReady(ctx, time.Now(), timerBatchSize)
	if err != nil {
		p.logger.Error("timer processor: find ready failed", "error", err)
		return
	}
	p.instruments.RecordTimerBatch(ctx, len(timers))
	for _, t := range timers {
		if err := p.storage.Timer.Delete(ctx, t.TimerID, t.WakeTime); err != nil {
			p.logger.Error("timer processor: delete failed", "timer_id", t.TimerID, "error", err)
			continue
		}
		if err := p.resume(ctx, t.WorkflowID); err != nil {
			p.logger.Error("timer processor: resume failed", "workflow_id", t.WorkflowID, "error", err)
		}
	}
}

func (p *TimerProcessor) resume(ctx context.Context, workflowID string) error {
	md, ok, err := p.storage.Workflow.Get(ctx, workflowID)
	if err != nil || !ok {
		return err
	}
	_, err = p.runtime.ExecuteWorkflow(ctx, md.WorkflowType, workflowID, md.InputJSON)
	return err
}
