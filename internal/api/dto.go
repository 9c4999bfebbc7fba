// Package api implements spec.md §6's Service API: a plain net/http
// ServeMux dispatching JSON requests, grounded on orchestrator/main.go's
// mux.HandleFunc + json.NewDecoder/Encoder pattern.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/swarmguard/workflowmesh/internal/storage"
)

type submitRequest struct {
	WorkflowName string          `json:"workflowName"`
	WorkflowID   string          `json:"workflowId"`
	Input        json.RawMessage `json:"input"`
}

type submitResponse struct {
	WorkflowID string          `json:"workflowId"`
	Status     storage.Status  `json:"status"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

type healthResponse struct {
	Status          string `json:"status"`
	NodeID          string `json:"nodeId"`
	Nodes           int    `json:"nodes"`
	ActiveWorkflows int64  `json:"activeWorkflows"`
}

type workflowListResponse struct {
	Workflows []storage.WorkflowMetadata `json:"workflows"`
	Total     int                        `json:"total"`
}

type eventsResponse struct {
	Events []storage.JournalEntry `json:"events"`
}

type scheduleRequest struct {
	WorkflowType  string          `json:"workflowType"`
	CronExpr      string          `json:"cronExpr"`
	InputTemplate json.RawMessage `json:"inputTemplate"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, Code: status})
}
