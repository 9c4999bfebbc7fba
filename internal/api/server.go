package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/swarmguard/workflowmesh/internal/background"
	"github.com/swarmguard/workflowmesh/internal/cluster/dispatch"
	"github.com/swarmguard/workflowmesh/internal/cluster/membership"
	"github.com/swarmguard/workflowmesh/internal/cluster/ring"
	"github.com/swarmguard/workflowmesh/internal/ratelimit"
	"github.com/swarmguard/workflowmesh/internal/storage"
)

// Server implements spec.md §6's Service API as a thin shell over
// dispatch.Dispatcher, grounded on orchestrator/main.go's
// http.NewServeMux + mux.HandleFunc wiring.
type Server struct {
	dispatcher   *dispatch.Dispatcher
	storage      *storage.Facade
	ring         *ring.Ring
	table        *membership.Table
	limiter      *ratelimit.ConcurrencyLimiter
	eventTrigger *background.EventTrigger
	scheduler    *background.Scheduler
	nodeID       string
	logger       *slog.Logger

	resultPollInterval time.Duration
	resultPollTimeout  time.Duration
}

// New builds a Server. scheduler may be nil, in which case the admin
// schedule endpoints respond 503 — matching handleEvent's nil-tolerance of
// eventTrigger.
func New(nodeID string, d *dispatch.Dispatcher, store *storage.Facade, r *ring.Ring, table *membership.Table, limiter *ratelimit.ConcurrencyLimiter, eventTrigger *background.EventTrigger, scheduler *background.Scheduler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		dispatcher:         d,
		storage:            store,
		ring:               r,
		table:              table,
		limiter:            limiter,
		eventTrigger:       eventTrigger,
		scheduler:          scheduler,
		nodeID:             nodeID,
		logger:             logger,
		resultPollInterval: 100 * time.Millisecond,
		resultPollTimeout:  30 * time.Second,
	}
}

// Handler builds the ServeMux routing table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/workflows/submit", s.handleSubmit)
	mux.HandleFunc("/workflows", s.handleList)
	mux.HandleFunc("/workflows/", s.handleWorkflowSubpaths)
	mux.HandleFunc("/events/", s.handleEvent)
	mux.HandleFunc("/schedules", s.handleSchedules)
	mux.HandleFunc("/schedules/", s.handleScheduleByID)
	return mux
}

// handleSchedules implements POST /schedules, the admin endpoint for
// background.Scheduler.AddSchedule. Supplemental to spec.md's core Service
// API (see SPEC_FULL.md's cron-triggered workflow submission feature).
func (s *Server) handleSchedules(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.scheduler == nil {
		writeError(w, http.StatusServiceUnavailable, "cron scheduler not configured")
		return
	}
	var req scheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.WorkflowType == "" || req.CronExpr == "" {
		writeError(w, http.StatusBadRequest, "workflowType and cronExpr are required")
		return
	}
	cfg, err := s.scheduler.AddSchedule(r.Context(), background.ScheduleConfig{
		WorkflowType:  req.WorkflowType,
		CronExpr:      req.CronExpr,
		InputTemplate: req.InputTemplate,
		Enabled:       true,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// handleScheduleByID implements DELETE /schedules/:id, removing a
// previously-added cron schedule.
func (s *Server) handleScheduleByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.scheduler == nil {
		writeError(w, http.StatusServiceUnavailable, "cron scheduler not configured")
		return
	}
	scheduleID := strings.TrimPrefix(r.URL.Path, "/schedules/")
	if scheduleID == "" {
		writeError(w, http.StatusBadRequest, "schedule id is required")
		return
	}
	if err := s.scheduler.RemoveSchedule(r.Context(), scheduleID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleEvent delivers an external event to internal/background's
// EventTrigger, fanning it out to every registered workflow-submission
// template whose filter matches. Supplemental to spec.md's core Service
// API (see SPEC_FULL.md).
func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	eventType := strings.TrimPrefix(r.URL.Path, "/events/")
	if eventType == "" {
		writeError(w, http.StatusBadRequest, "event type is required")
		return
	}
	var body struct {
		Attributes map[string]string `json:"attributes"`
		Payload    json.RawMessage   `json:"payload"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if s.eventTrigger == nil {
		writeError(w, http.StatusServiceUnavailable, "event triggers not configured")
		return
	}
	if err := s.eventTrigger.TriggerEvent(r.Context(), eventType, body.Attributes, body.Payload); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	active := int64(0)
	if s.limiter != nil {
		active = s.limiter.InFlight()
	}
	nodes := 1
	if s.table != nil {
		nodes = len(s.table.All())
	}
	writeJSON(w, http.StatusOK, healthResponse{
		Status: "ok", NodeID: s.nodeID, Nodes: nodes, ActiveWorkflows: active,
	})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.WorkflowName == "" {
		writeError(w, http.StatusBadRequest, "workflowName is required")
		return
	}

	if s.limiter != nil {
		if err := s.limiter.Acquire(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "admission limit reached")
			return
		}
		defer s.limiter.Release()
	}

	md, err := s.dispatcher.Dispatch(r.Context(), dispatch.Request{
		Op: dispatch.OpSubmit, WorkflowType: req.WorkflowName, WorkflowID: req.WorkflowID, InputJSON: req.Input,
	})
	if err != nil {
		s.writeDispatchError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, submitResponse{WorkflowID: md.ID, Status: md.Status})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	q := r.URL.Query()
	status := storage.Status(q.Get("status"))
	nameFilter := q.Get("name")
	limit := parseIntDefault(q.Get("limit"), 50)
	offset := parseIntDefault(q.Get("offset"), 0)

	var results []storage.WorkflowMetadata
	var err error
	if status != "" {
		results, err = s.storage.Workflow.FindByStatus(r.Context(), status, 0)
	} else {
		for _, st := range []storage.Status{
			storage.StatusPending, storage.StatusRunning, storage.StatusSuspended,
			storage.StatusCompleted, storage.StatusFailed, storage.StatusCancelled,
		} {
			var part []storage.WorkflowMetadata
			part, err = s.storage.Workflow.FindByStatus(r.Context(), st, 0)
			if err != nil {
				break
			}
			results = append(results, part...)
		}
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if nameFilter != "" {
		filtered := results[:0]
		for _, md := range results {
			if md.WorkflowType == nameFilter {
				filtered = append(filtered, md)
			}
		}
		results = filtered
	}

	total := len(results)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total || limit <= 0 {
		end = total
	}
	writeJSON(w, http.StatusOK, workflowListResponse{Workflows: results[offset:end], Total: total})
}

// handleWorkflowSubpaths dispatches /workflows/:id, /workflows/:id/result,
// /workflows/:id/events, /workflows/:id/signal/:name, /workflows/:id/cancel.
func (s *Server) handleWorkflowSubpaths(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/workflows/")
	parts := strings.Split(path, "/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	workflowID := parts[0]

	switch {
	case len(parts) == 1:
		s.handleGet(w, r, workflowID)
	case len(parts) == 2 && parts[1] == "result":
		s.handleResult(w, r, workflowID)
	case len(parts) == 2 && parts[1] == "events":
		s.handleEvents(w, r, workflowID)
	case len(parts) == 2 && parts[1] == "cancel":
		s.handleCancel(w, r, workflowID)
	case len(parts) == 3 && parts[1] == "signal":
		s.handleSignal(w, r, workflowID, parts[2])
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

// handleGet routes through the dispatcher (not direct storage) because
// workflow metadata lives on whichever node owns the id on the ring, per
// spec.md §4.11 — any node may serve the request.
func (s *Server) handleGet(w http.ResponseWriter, r *http.Request, workflowID string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	md, err := s.dispatcher.Dispatch(r.Context(), dispatch.Request{Op: dispatch.OpGetStatus, WorkflowID: workflowID})
	if err != nil {
		s.writeDispatchError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, md)
}

// handleResult long-polls until the workflow reaches a terminal status or
// the poll timeout elapses, per spec.md §6.
func (s *Server) handleResult(w http.ResponseWriter, r *http.Request, workflowID string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	deadline := time.Now().Add(s.resultPollTimeout)
	for {
		md, err := s.dispatcher.Dispatch(r.Context(), dispatch.Request{Op: dispatch.OpGetStatus, WorkflowID: workflowID})
		if err != nil {
			s.writeDispatchError(w, err)
			return
		}
		if md.Status.IsTerminal() {
			writeJSON(w, http.StatusOK, md)
			return
		}
		if time.Now().After(deadline) {
			writeJSON(w, http.StatusOK, md)
			return
		}
		select {
		case <-r.Context().Done():
			return
		case <-time.After(s.resultPollInterval):
		}
	}
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request, workflowID string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	after := parseUintDefault(r.URL.Query().Get("after"), 0)
	entries, err := s.storage.Journal.GetAll(r.Context(), workflowID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	filtered := entries[:0]
	for _, e := range entries {
		if e.Seq > after {
			filtered = append(filtered, e)
		}
	}
	writeJSON(w, http.StatusOK, eventsResponse{Events: filtered})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request, workflowID string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	_, err := s.dispatcher.Dispatch(r.Context(), dispatch.Request{Op: dispatch.OpCancel, WorkflowID: workflowID})
	if err != nil {
		s.writeDispatchError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSignal(w http.ResponseWriter, r *http.Request, workflowID, signalName string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	md, err := s.dispatcher.Dispatch(r.Context(), dispatch.Request{
		Op: dispatch.OpSignal, WorkflowID: workflowID, SignalName: signalName, InputJSON: body,
	})
	if err != nil {
		s.writeDispatchError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, md)
}

func (s *Server) writeDispatchError(w http.ResponseWriter, err error) {
	if errors.Is(err, dispatch.ErrUnavailable) {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if errors.Is(err, context.DeadlineExceeded) {
		writeError(w, http.StatusGatewayTimeout, err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

func parseIntDefault(v string, fallback int) int {
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func parseUintDefault(v string, fallback uint64) uint64 {
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}
