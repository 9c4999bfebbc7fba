package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/swarmguard/workflowmesh/internal/background"
	"github.com/swarmguard/workflowmesh/internal/cluster/dispatch"
	"github.com/swarmguard/workflowmesh/internal/cluster/membership"
	"github.com/swarmguard/workflowmesh/internal/cluster/ring"
	"github.com/swarmguard/workflowmesh/internal/cluster/transport"
	"github.com/swarmguard/workflowmesh/internal/kv/memkv"
	"github.com/swarmguard/workflowmesh/internal/ratelimit"
	"github.com/swarmguard/workflowmesh/internal/registry"
	"github.com/swarmguard/workflowmesh/internal/runtime"
	"github.com/swarmguard/workflowmesh/internal/storage"
)

func newTestServer(t *testing.T) (*Server, *storage.Facade) {
	t.Helper()
	kvStore := memkv.New()
	store := storage.NewFacade(kvStore)
	calls := registry.New()
	rt := runtime.New("n1", store, calls, nil, nil)
	rt.RegisterWorkflow("echo", func(ctx *runtime.Context, input []byte) ([]byte, error) {
		return input, nil
	})
	rt.RegisterWorkflow("waiter", func(ctx *runtime.Context, input []byte) ([]byte, error) {
		payload, err := ctx.AwaitSignal("go")
		if err != nil {
			return nil, err
		}
		return payload, nil
	})

	r := ring.New(150)
	r.AddNode("n1")
	tbl := membership.New("n1", "n1:0")

	net := transport.NewNetwork()
	tr := transport.NewInMemTransport(net, "n1:0")
	d := dispatch.New("n1", r, tbl, tr, rt, time.Second, nil)

	et := background.NewEventTrigger(rt, nil)
	et.Register(background.EventTemplate{EventType: "order.created", WorkflowType: "echo"})

	sched := background.NewScheduler(kvStore, rt, nil)

	limiter := ratelimit.NewConcurrencyLimiter(0, nil)
	return New("n1", d, store, r, tbl, limiter, et, sched, nil), store
}

func TestSubmitAndGet(t *testing.T) {
	srv, _ := newTestServer(t)
	handler := srv.Handler()

	body := strings.NewReader(`{"workflowName":"echo","workflowId":"w1","input":"hi"}`)
	req := httptest.NewRequest(http.MethodPost, "/workflows/submit", body)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var sub submitResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &sub); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if sub.Status != storage.StatusCompleted {
		t.Fatalf("expected Completed, got %s", sub.Status)
	}

	getReq := httptest.NewRequest(http.MethodGet, "/workflows/w1", nil)
	getRec := httptest.NewRecorder()
	handler.ServeHTTP(getRec, getReq)
	if getRec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", getRec.Code)
	}
}

func TestSubmitRejectsMissingWorkflowName(t *testing.T) {
	srv, _ := newTestServer(t)
	handler := srv.Handler()

	req := httptest.NewRequest(http.MethodPost, "/workflows/submit", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestSignalDeliveryAndResult(t *testing.T) {
	srv, _ := newTestServer(t)
	handler := srv.Handler()

	submitReq := httptest.NewRequest(http.MethodPost, "/workflows/submit", strings.NewReader(`{"workflowName":"waiter","workflowId":"w2"}`))
	submitRec := httptest.NewRecorder()
	handler.ServeHTTP(submitRec, submitReq)
	if submitRec.Code != http.StatusOK {
		t.Fatalf("submit failed: %d %s", submitRec.Code, submitRec.Body.String())
	}

	signalReq := httptest.NewRequest(http.MethodPost, "/workflows/w2/signal/go", strings.NewReader(`"released"`))
	signalRec := httptest.NewRecorder()
	handler.ServeHTTP(signalRec, signalReq)
	if signalRec.Code != http.StatusOK {
		t.Fatalf("signal failed: %d %s", signalRec.Code, signalRec.Body.String())
	}

	resultReq := httptest.NewRequest(http.MethodGet, "/workflows/w2/result", nil)
	resultRec := httptest.NewRecorder()
	handler.ServeHTTP(resultRec, resultReq)
	if resultRec.Code != http.StatusOK {
		t.Fatalf("result failed: %d", resultRec.Code)
	}
	var md storage.WorkflowMetadata
	if err := json.Unmarshal(resultRec.Body.Bytes(), &md); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if md.Status != storage.StatusCompleted {
		t.Fatalf("expected Completed, got %s", md.Status)
	}
}

func TestCancelAndListAndHealth(t *testing.T) {
	srv, _ := newTestServer(t)
	handler := srv.Handler()

	submitReq := httptest.NewRequest(http.MethodPost, "/workflows/submit", strings.NewReader(`{"workflowName":"echo","workflowId":"w3","input":"x"}`))
	submitRec := httptest.NewRecorder()
	handler.ServeHTTP(submitRec, submitReq)
	if submitRec.Code != http.StatusOK {
		t.Fatalf("submit failed: %d", submitRec.Code)
	}

	cancelReq := httptest.NewRequest(http.MethodPost, "/workflows/w3/cancel", nil)
	cancelRec := httptest.NewRecorder()
	handler.ServeHTTP(cancelRec, cancelReq)
	if cancelRec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 (no-op on terminal workflow), got %d", cancelRec.Code)
	}

	listReq := httptest.NewRequest(http.MethodGet, "/workflows?status=Completed", nil)
	listRec := httptest.NewRecorder()
	handler.ServeHTTP(listRec, listReq)
	if listRec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", listRec.Code)
	}
	var list workflowListResponse
	if err := json.Unmarshal(listRec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if list.Total < 1 {
		t.Fatalf("expected at least 1 completed workflow, got %d", list.Total)
	}

	healthReq := httptest.NewRequest(http.MethodGet, "/health", nil)
	healthRec := httptest.NewRecorder()
	handler.ServeHTTP(healthRec, healthReq)
	if healthRec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", healthRec.Code)
	}
}

func TestScheduleCreateAndDelete(t *testing.T) {
	srv, _ := newTestServer(t)
	handler := srv.Handler()

	body := strings.NewReader(`{"workflowType":"echo","cronExpr":"*/5 * * * * *"}`)
	createReq := httptest.NewRequest(http.MethodPost, "/schedules", body)
	createRec := httptest.NewRecorder()
	handler.ServeHTTP(createRec, createReq)
	if createRec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", createRec.Code, createRec.Body.String())
	}
	var cfg background.ScheduleConfig
	if err := json.Unmarshal(createRec.Body.Bytes(), &cfg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cfg.ID == "" {
		t.Fatal("expected a generated schedule id")
	}

	deleteReq := httptest.NewRequest(http.MethodDelete, "/schedules/"+cfg.ID, nil)
	deleteRec := httptest.NewRecorder()
	handler.ServeHTTP(deleteRec, deleteReq)
	if deleteRec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", deleteRec.Code, deleteRec.Body.String())
	}
}

func TestEventTriggerFansOutToTemplate(t *testing.T) {
	srv, store := newTestServer(t)
	handler := srv.Handler()

	req := httptest.NewRequest(http.MethodPost, "/events/order.created", strings.NewReader(`{"payload":"hello"}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}

	completed, err := store.Workflow.FindByStatus(req.Context(), storage.StatusCompleted, 0)
	if err != nil || len(completed) != 1 {
		t.Fatalf("expected 1 completed workflow submitted by event trigger, got %d err=%v", len(completed), err)
	}
}
