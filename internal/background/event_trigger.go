package background

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/swarmguard/workflowmesh/internal/runtime"
)

// EventTemplate binds an eventType to a workflow submission, supplemental
// to spec.md per SPEC_FULL.md, grounded on the teacher's scheduler.go
// EventHandler/matchesFilter pattern.
type EventTemplate struct {
	EventType    string
	WorkflowType string
	Filter       map[string]string
}

// EventTrigger fans TriggerEvent calls out to every registered template
// whose filter matches, submitting a new workflow instance for each.
type EventTrigger struct {
	runtime *runtime.Runtime
	logger  *slog.Logger

	mu        sync.RWMutex
	templates []EventTemplate
}

func NewEventTrigger(rt *runtime.Runtime, logger *slog.Logger) *EventTrigger {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventTrigger{runtime: rt, logger: logger}
}

func (e *EventTrigger) Register(tpl EventTemplate) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates = append(e.templates, tpl)
}

// TriggerEvent submits one workflow instance per matching template.
func (e *EventTrigger) TriggerEvent(ctx context.Context, eventType string, payload map[string]string, payloadJSON []byte) error {
	e.mu.RLock()
	matches := make([]EventTemplate, 0, len(e.templates))
	for _, tpl := range e.templates {
		if tpl.EventType == eventType && matchesFilter(tpl.Filter, payload) {
			matches = append(matches, tpl)
		}
	}
	e.mu.RUnlock()

	var firstErr error
	for _, tpl := range matches {
		if _, err := e.runtime.Submit(ctx, tpl.WorkflowType, "", payloadJSON); err != nil {
			e.logger.Error("event trigger: submit failed", "workflow_type", tpl.WorkflowType, "error", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("background: trigger event %s: %w", eventType, err)
			}
		}
	}
	return firstErr
}

func matchesFilter(filter, payload map[string]string) bool {
	for k, want := range filter {
		got, ok := payload[k]
		if !ok || !strings.EqualFold(got, want) {
			return false
		}
	}
	return true
}
