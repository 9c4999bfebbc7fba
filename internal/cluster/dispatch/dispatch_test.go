package dispatch

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/swarmguard/workflowmesh/internal/cluster/membership"
	"github.com/swarmguard/workflowmesh/internal/cluster/ring"
	"github.com/swarmguard/workflowmesh/internal/cluster/transport"
	"github.com/swarmguard/workflowmesh/internal/kv/memkv"
	"github.com/swarmguard/workflowmesh/internal/registry"
	"github.com/swarmguard/workflowmesh/internal/runtime"
	"github.com/swarmguard/workflowmesh/internal/storage"
)

func newNode(tr transport.Transport, id, addr string) (*Dispatcher, *ring.Ring, *membership.Table) {
	store := storage.NewFacade(memkv.New())
	calls := registry.New()
	rt := runtime.New(id, store, calls, nil, nil)
	rt.RegisterWorkflow("echo", func(ctx *runtime.Context, input []byte) ([]byte, error) {
		return input, nil
	})
	r := ring.New(150)
	tbl := membership.New(id, addr)
	d := New(id, r, tbl, tr, rt, time.Second, nil)
	return d, r, tbl
}

func TestDispatchExecutesLocallyWhenOwner(t *testing.T) {
	net := transport.NewNetwork()
	d, r, _ := newNode(transport.NewInMemTransport(net, "n1:0"), "n1", "n1:0")
	r.AddNode("n1")

	ctx := context.Background()
	inputJSON, _ := json.Marshal("hi")
	md, err := d.Dispatch(ctx, Request{Op: OpSubmit, WorkflowType: "echo", WorkflowID: "w1", InputJSON: inputJSON})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if md.Status != storage.StatusCompleted {
		t.Fatalf("expected Completed, got %s", md.Status)
	}
}

func TestDispatchForwardsToOwner(t *testing.T) {
	net := transport.NewNetwork()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tr1 := transport.NewInMemTransport(net, "n1:0")
	tr2 := transport.NewInMemTransport(net, "n2:0")
	d1, r1, tbl1 := newNode(tr1, "n1", "n1:0")
	_, r2, tbl2 := newNode(tr2, "n2", "n2:0")
	_ = tr1.Start(ctx)
	_ = tr2.Start(ctx)
	defer tr1.Stop()
	defer tr2.Stop()

	tbl1.ApplyUpdate(membership.NodeInfo{NodeID: "n2", Address: "n2:0", State: membership.Alive})
	tbl2.ApplyUpdate(membership.NodeInfo{NodeID: "n1", Address: "n1:0", State: membership.Alive})
	r1.AddNode("n1")
	r1.AddNode("n2")
	r2.AddNode("n1")
	r2.AddNode("n2")

	// Find a workflow id owned by n2 from n1's ring view.
	var workflowID string
	for i := 0; ; i++ {
		candidate := "probe-" + string(rune('a'+i))
		owner, _ := r1.GetNode(candidate)
		if owner == "n2" {
			workflowID = candidate
			break
		}
		if i > 50 {
			t.Fatalf("could not find a key owned by n2")
		}
	}

	inputJSON, _ := json.Marshal("hello")
	md, err := d1.Dispatch(ctx, Request{Op: OpSubmit, WorkflowType: "echo", WorkflowID: workflowID, InputJSON: inputJSON})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if md.Status != storage.StatusCompleted {
		t.Fatalf("expected Completed via forwarded RPC, got %s", md.Status)
	}
}
