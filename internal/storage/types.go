// Package storage implements the typed facades of spec.md §4.3
// (JournalOps, StateOps, WorkflowOps, TimerOps) over an internal/kv.Store,
// keyed via internal/storekeys.
package storage

import "time"

// EntryType enumerates the journal entry kinds named in spec.md §3.
type EntryType string

const (
	EntryCall       EntryType = "Call"
	EntrySideEffect EntryType = "SideEffect"
	EntrySleep      EntryType = "Sleep"
	EntrySignal     EntryType = "Signal"
	EntryState      EntryType = "State"
	EntryAwakeable  EntryType = "Awakeable"
)

// JournalEntry is one durable record of a journaled operation.
type JournalEntry struct {
	Seq        uint64
	Type       EntryType
	Name       string
	InputJSON  []byte
	OutputJSON []byte
	Timestamp  time.Time
	Completed  bool
}

// Status enumerates workflow lifecycle states per spec.md §3.
type Status string

const (
	StatusPending   Status = "Pending"
	StatusRunning   Status = "Running"
	StatusSuspended Status = "Suspended"
	StatusCompleted Status = "Completed"
	StatusFailed    Status = "Failed"
	StatusCancelled Status = "Cancelled"
)

// IsTerminal reports whether s never transitions further.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// WorkflowMetadata is the one-record-per-instance type of spec.md §3.
type WorkflowMetadata struct {
	ID             string
	WorkflowType   string
	Status         Status
	OwnerID        string
	InputJSON      []byte
	OutputJSON     []byte
	ErrorMessage   string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	LockedUntil    *time.Time
	SuspendedUntil *time.Time
	RetryCount     int
	MaxRetries     int
}

// Timer is the durable timer row of spec.md §3, keyed by (wakeTime, timerId).
type Timer struct {
	WakeTime       time.Time
	TimerID        string
	WorkflowID     string
	SequenceNumber uint64
}
