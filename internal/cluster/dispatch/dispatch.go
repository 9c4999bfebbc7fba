// Package dispatch implements spec.md §4.11's ownership-aware dispatch:
// every cluster-visible operation hashes the workflow id on the ring and
// either executes locally or forwards an RPC to the owning node. Grounded
// on federation/main.go's local-vs-remote-peer dispatch decision,
// generalized from full-mesh broadcast to ring-based single-owner routing.
//
// Per spec.md §9 Open Question 4, this uses a transport instance logically
// separate from the gossip transport, to avoid head-of-line blocking
// between membership traffic and workflow RPCs.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/swarmguard/workflowmesh/internal/cluster/membership"
	"github.com/swarmguard/workflowmesh/internal/cluster/ring"
	"github.com/swarmguard/workflowmesh/internal/cluster/transport"
	"github.com/swarmguard/workflowmesh/internal/runtime"
	"github.com/swarmguard/workflowmesh/internal/storage"
	"github.com/swarmguard/workflowmesh/internal/telemetry"
)

// ErrUnavailable corresponds to spec.md §4.11 step 4: the caller observes
// Unavailable on timeout or Nack, with no automatic fail-over.
var ErrUnavailable = errors.New("dispatch: owner unavailable")

// OpKind enumerates the cluster-visible operations of spec.md §4.11.
type OpKind string

const (
	OpSubmit    OpKind = "Submit"
	OpGetStatus OpKind = "GetStatus"
	OpCancel    OpKind = "Cancel"
	OpSignal    OpKind = "Signal"
)

// Request is the RPC envelope sent to an owning node.
type Request struct {
	Op           OpKind `json:"op"`
	WorkflowType string `json:"workflowType,omitempty"`
	WorkflowID   string `json:"workflowId"`
	InputJSON    []byte `json:"input,omitempty"`
	SignalName   string `json:"signalName,omitempty"`
}

// Response is the RPC reply from an owning node.
type Response struct {
	Metadata storage.WorkflowMetadata `json:"metadata"`
	Error    string                   `json:"error,omitempty"`
}

// Dispatcher owns the RPC transport and resolves ring ownership before
// acting.
type Dispatcher struct {
	selfID      string
	ring        *ring.Ring
	table       *membership.Table
	tr          transport.Transport
	runtime     *runtime.Runtime
	rpcTimeout  time.Duration
	instruments *telemetry.Instruments
}

// DefaultRPCTimeout matches spec.md §6's configuration default.
const DefaultRPCTimeout = 30 * time.Second

// New builds a Dispatcher. instruments may be nil; every recording call on
// it is nil-receiver safe.
func New(selfID string, r *ring.Ring, table *membership.Table, tr transport.Transport, rt *runtime.Runtime, rpcTimeout time.Duration, instruments *telemetry.Instruments) *Dispatcher {
	if rpcTimeout <= 0 {
		rpcTimeout = DefaultRPCTimeout
	}
	d := &Dispatcher{selfID: selfID, ring: r, table: table, tr: tr, runtime: rt, rpcTimeout: rpcTimeout, instruments: instruments}
	tr.OnMessage(d.handleMessage)
	return d
}

func (d *Dispatcher) resolveAddress(nodeID string) (string, bool) {
	n, ok := d.table.Get(nodeID)
	if !ok {
		return "", false
	}
	return n.Address, true
}

// Dispatch implements spec.md §4.11's four-step routing decision.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (storage.WorkflowMetadata, error) {
	owner, ok := d.ring.GetNode(req.WorkflowID)
	if !ok {
		return storage.WorkflowMetadata{}, fmt.Errorf("dispatch: empty ring")
	}
	if owner == d.selfID {
		return d.executeLocal(ctx, req)
	}

	addr, ok := d.resolveAddress(owner)
	if !ok {
		return storage.WorkflowMetadata{}, ErrUnavailable
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return storage.WorkflowMetadata{}, fmt.Errorf("dispatch: encode request: %w", err)
	}
	rpcCtx, cancel := context.WithTimeout(ctx, d.rpcTimeout)
	defer cancel()
	rpcStart := time.Now()
	raw, err := d.tr.SendAndReceive(rpcCtx, addr, payload)
	d.instruments.RecordDispatchRPC(ctx, time.Since(rpcStart))
	if err != nil {
		return storage.WorkflowMetadata{}, ErrUnavailable
	}
	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return storage.WorkflowMetadata{}, fmt.Errorf("dispatch: decode response: %w", err)
	}
	if resp.Error != "" {
		return storage.WorkflowMetadata{}, fmt.Errorf("dispatch: remote error: %s", resp.Error)
	}
	return resp.Metadata, nil
}

func (d *Dispatcher) executeLocal(ctx context.Context, req Request) (storage.WorkflowMetadata, error) {
	switch req.Op {
	case OpSubmit:
		return d.runtime.Submit(ctx, req.WorkflowType, req.WorkflowID, req.InputJSON)
	case OpGetStatus:
		md, ok, err := d.runtime.GetStatus(ctx, req.WorkflowID)
		if err != nil {
			return storage.WorkflowMetadata{}, err
		}
		if !ok {
			return storage.WorkflowMetadata{}, fmt.Errorf("dispatch: no such workflow %s", req.WorkflowID)
		}
		return md, nil
	case OpCancel:
		if err := d.runtime.Cancel(ctx, req.WorkflowID); err != nil {
			return storage.WorkflowMetadata{}, err
		}
		md, _, err := d.runtime.GetStatus(ctx, req.WorkflowID)
		return md, err
	case OpSignal:
		return d.runtime.DeliverSignal(ctx, req.WorkflowID, req.SignalName, req.InputJSON)
	default:
		return storage.WorkflowMetadata{}, fmt.Errorf("dispatch: unknown op %q", req.Op)
	}
}

func (d *Dispatcher) handleMessage(ctx context.Context, env transport.Envelope) ([]byte, error) {
	var req Request
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		return nil, fmt.Errorf("dispatch: decode request: %w", err)
	}
	md, err := d.executeLocal(ctx, req)
	resp := Response{Metadata: md}
	if err != nil {
		resp.Error = err.Error()
	}
	return json.Marshal(resp)
}
