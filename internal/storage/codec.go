package storage

import (
	"encoding/json"
	"fmt"
	"time"
)

// wire mirrors JournalEntry for JSON encoding; spec.md §9 keeps storage
// payloads opaque at the KV layer while typing happens here, at the
// storage/registry boundary.
type journalWire struct {
	Seq        uint64    `json:"seq"`
	Type       EntryType `json:"type"`
	Name       string    `json:"name"`
	InputJSON  []byte    `json:"input,omitempty"`
	OutputJSON []byte    `json:"output,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	Completed  bool      `json:"completed"`
}

func encodeJournalEntry(e JournalEntry) ([]byte, error) {
	w := journalWire{
		Seq:        e.Seq,
		Type:       e.Type,
		Name:       e.Name,
		InputJSON:  e.InputJSON,
		OutputJSON: e.OutputJSON,
		Timestamp:  e.Timestamp,
		Completed:  e.Completed,
	}
	b, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("storage: encode journal entry: %w", err)
	}
	return b, nil
}

func decodeJournalEntry(b []byte) (JournalEntry, error) {
	var w journalWire
	if err := json.Unmarshal(b, &w); err != nil {
		return JournalEntry{}, fmt.Errorf("storage: decode journal entry: %w", err)
	}
	return JournalEntry{
		Seq:        w.Seq,
		Type:       w.Type,
		Name:       w.Name,
		InputJSON:  w.InputJSON,
		OutputJSON: w.OutputJSON,
		Timestamp:  w.Timestamp,
		Completed:  w.Completed,
	}, nil
}

type workflowWire struct {
	ID             string     `json:"id"`
	WorkflowType   string     `json:"workflowType"`
	Status         Status     `json:"status"`
	OwnerID        string     `json:"ownerId,omitempty"`
	InputJSON      []byte     `json:"input,omitempty"`
	OutputJSON     []byte     `json:"output,omitempty"`
	ErrorMessage   string     `json:"errorMessage,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
	LockedUntil    *time.Time `json:"lockedUntil,omitempty"`
	SuspendedUntil *time.Time `json:"suspendedUntil,omitempty"`
	RetryCount     int        `json:"retryCount"`
	MaxRetries     int        `json:"maxRetries"`
}

func encodeWorkflowMetadata(m WorkflowMetadata) ([]byte, error) {
	w := workflowWire{
		ID: m.ID, WorkflowType: m.WorkflowType, Status: m.Status, OwnerID: m.OwnerID,
		InputJSON: m.InputJSON, OutputJSON: m.OutputJSON, ErrorMessage: m.ErrorMessage,
		CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt, LockedUntil: m.LockedUntil,
		SuspendedUntil: m.SuspendedUntil, RetryCount: m.RetryCount, MaxRetries: m.MaxRetries,
	}
	b, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("storage: encode workflow metadata: %w", err)
	}
	return b, nil
}

func decodeWorkflowMetadata(b []byte) (WorkflowMetadata, error) {
	var w workflowWire
	if err := json.Unmarshal(b, &w); err != nil {
		return WorkflowMetadata{}, fmt.Errorf("storage: decode workflow metadata: %w", err)
	}
	return WorkflowMetadata{
		ID: w.ID, WorkflowType: w.WorkflowType, Status: w.Status, OwnerID: w.OwnerID,
		InputJSON: w.InputJSON, OutputJSON: w.OutputJSON, ErrorMessage: w.ErrorMessage,
		CreatedAt: w.CreatedAt, UpdatedAt: w.UpdatedAt, LockedUntil: w.LockedUntil,
		SuspendedUntil: w.SuspendedUntil, RetryCount: w.RetryCount, MaxRetries: w.MaxRetries,
	}, nil
}

type timerWire struct {
	WakeTime       time.Time `json:"wakeTime"`
	TimerID        string    `json:"timerId"`
	WorkflowID     string    `json:"workflowId"`
	SequenceNumber uint64    `json:"sequenceNumber"`
}

func encodeTimer(t Timer) ([]byte, error) {
	w := timerWire{WakeTime: t.WakeTime, TimerID: t.TimerID, WorkflowID: t.WorkflowID, SequenceNumber: t.SequenceNumber}
	b, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("storage: encode timer: %w", err)
	}
	return b, nil
}

func decodeTimer(b []byte) (Timer, error) {
	var w timerWire
	if err := json.Unmarshal(b, &w); err != nil {
		return Timer{}, fmt.Errorf("storage: decode timer: %w", err)
	}
	return Timer{WakeTime: w.WakeTime, TimerID: w.TimerID, WorkflowID: w.WorkflowID, SequenceNumber: w.SequenceNumber}, nil
}
