package storage

import "github.com/swarmguard/workflowmesh/internal/kv"

// Facade bundles the four typed surfaces of spec.md §4.3 over one KV store,
// the single object internal/runtime and internal/background depend on.
type Facade struct {
	Journal  *JournalOps
	State    *StateOps
	Workflow *WorkflowOps
	Timer    *TimerOps
}

func NewFacade(store kv.Store) *Facade {
	return &Facade{
		Journal:  NewJournalOps(store),
		State:    NewStateOps(store),
		Workflow: NewWorkflowOps(store),
		Timer:    NewTimerOps(store),
	}
}
