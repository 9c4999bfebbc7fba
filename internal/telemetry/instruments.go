package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/metric"
)

// Instruments holds every metric instrument SPEC_FULL.md's Ambient Stack
// Telemetry section names. NewInstruments creates each one exactly once
// against the real MeterProvider InitMetrics returns; callers then thread
// the resulting *Instruments into runtime.New, gossip.New, dispatch.New,
// background.NewTimerProcessor and ratelimit.NewConcurrencyLimiter as a
// constructor parameter, per the "no global metric registry" rule — no
// component below main.go ever calls otel.GetMeterProvider() itself.
//
// Every recording method is nil-receiver safe, so components can record
// unconditionally even when metrics were never wired (tests, or a failed
// InitMetrics at startup falling back to a nil *Instruments).
type Instruments struct {
	workflowsStarted    metric.Int64Counter
	workflowsCompleted  metric.Int64Counter
	workflowsFailed     metric.Int64Counter
	workflowsSuspended  metric.Int64Counter
	callRetries         metric.Int64Counter
	gossipRoundLatency  metric.Float64Histogram
	dispatchRPCLatency  metric.Float64Histogram
	timerBatchSize      metric.Int64Histogram
	admissionQueueTotal metric.Int64Counter
}

// NewInstruments creates every named instrument once against mp.
func NewInstruments(mp metric.MeterProvider) (*Instruments, error) {
	meter := mp.Meter("workflowmesh")
	in := &Instruments{}

	var err error
	if in.workflowsStarted, err = meter.Int64Counter("workflowmesh_workflows_started_total",
		metric.WithDescription("workflow instances submitted")); err != nil {
		return nil, fmt.Errorf("telemetry: instruments: %w", err)
	}
	if in.workflowsCompleted, err = meter.Int64Counter("workflowmesh_workflows_completed_total",
		metric.WithDescription("workflow executions that reached Completed")); err != nil {
		return nil, fmt.Errorf("telemetry: instruments: %w", err)
	}
	if in.workflowsFailed, err = meter.Int64Counter("workflowmesh_workflows_failed_total",
		metric.WithDescription("workflow executions that reached Failed")); err != nil {
		return nil, fmt.Errorf("telemetry: instruments: %w", err)
	}
	if in.workflowsSuspended, err = meter.Int64Counter("workflowmesh_workflows_suspended_total",
		metric.WithDescription("workflow executions that suspended (Sleep or signal wait)")); err != nil {
		return nil, fmt.Errorf("telemetry: instruments: %w", err)
	}
	if in.callRetries, err = meter.Int64Counter("workflowmesh_call_retries_total",
		metric.WithDescription("Context.Call attempts beyond the first for a single journal entry")); err != nil {
		return nil, fmt.Errorf("telemetry: instruments: %w", err)
	}
	if in.gossipRoundLatency, err = meter.Float64Histogram("workflowmesh_gossip_round_latency_seconds",
		metric.WithDescription("duration of one gossip ping round"), metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("telemetry: instruments: %w", err)
	}
	if in.dispatchRPCLatency, err = meter.Float64Histogram("workflowmesh_dispatch_rpc_latency_seconds",
		metric.WithDescription("duration of a dispatch request forwarded to the owning node"), metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("telemetry: instruments: %w", err)
	}
	if in.timerBatchSize, err = meter.Int64Histogram("workflowmesh_timer_batch_size",
		metric.WithDescription("number of ready timers processed per poll")); err != nil {
		return nil, fmt.Errorf("telemetry: instruments: %w", err)
	}
	if in.admissionQueueTotal, err = meter.Int64Counter("workflowmesh_admission_queue_total",
		metric.WithDescription("admission-control waits queued by ConcurrencyLimiter")); err != nil {
		return nil, fmt.Errorf("telemetry: instruments: %w", err)
	}
	return in, nil
}

func (i *Instruments) RecordWorkflowStarted(ctx context.Context) {
	if i == nil {
		return
	}
	i.workflowsStarted.Add(ctx, 1)
}

func (i *Instruments) RecordWorkflowCompleted(ctx context.Context) {
	if i == nil {
		return
	}
	i.workflowsCompleted.Add(ctx, 1)
}

func (i *Instruments) RecordWorkflowFailed(ctx context.Context) {
	if i == nil {
		return
	}
	i.workflowsFailed.Add(ctx, 1)
}

func (i *Instruments) RecordWorkflowSuspended(ctx context.Context) {
	if i == nil {
		return
	}
	i.workflowsSuspended.Add(ctx, 1)
}

func (i *Instruments) RecordCallRetry(ctx context.Context) {
	if i == nil {
		return
	}
	i.callRetries.Add(ctx, 1)
}

func (i *Instruments) RecordGossipRound(ctx context.Context, d time.Duration) {
	if i == nil {
		return
	}
	i.gossipRoundLatency.Record(ctx, d.Seconds())
}

func (i *Instruments) RecordDispatchRPC(ctx context.Context, d time.Duration) {
	if i == nil {
		return
	}
	i.dispatchRPCLatency.Record(ctx, d.Seconds())
}

func (i *Instruments) RecordTimerBatch(ctx context.Context, n int) {
	if i == nil {
		return
	}
	i.timerBatchSize.Record(ctx, int64(n))
}

func (i *Instruments) RecordAdmissionQueued(ctx context.Context) {
	if i == nil {
		return
	}
	i.admissionQueueTotal.Add(ctx, 1)
}
