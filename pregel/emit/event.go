// Package emit defines the engine's observability event stream as a typed
// union (task, task_result, checkpoint, interrupt, values, updates, custom)
// rather than a single flat shape, so consumers can switch on Kind without
// guessing which Meta keys a given event actually populates.
package emit

import "time"

// Kind discriminates which payload field of an Event is populated.
type Kind string

const (
	KindTask       Kind = "task"
	KindTaskResult Kind = "task_result"
	KindCheckpoint Kind = "checkpoint"
	KindInterrupt  Kind = "interrupt"
	KindValues     Kind = "values"
	KindUpdates    Kind = "updates"
	KindCustom     Kind = "custom"
)

// TaskEvent reports a task about to be dispatched for a superstep.
type TaskEvent struct {
	TaskID string
	Node   string
	Step   int
	Path   string
}

// TaskResultEvent reports a task's outcome: the error if it failed after
// retries, the final attempt, and how long it took. PregelLoop leaves
// Writes nil.
type TaskResultEvent struct {
	TaskID   string
	Node     string
	Step     int
	Writes   map[string]any
	Err      string
	Attempt  int
	Duration time.Duration
}

// CheckpointEvent reports a newly committed checkpoint.
type CheckpointEvent struct {
	CheckpointID string
	Step         int
	Source       string
}

// InterruptEvent reports a node body requesting a pause via
// TaskWriter.Interrupt.
type InterruptEvent struct {
	TaskID  string
	Node    string
	Payload any
}

// ValuesEvent carries a full channel value snapshot for a superstep.
// PregelLoop does not emit values, updates or custom events; it emits
// task, task_result, checkpoint and interrupt events only.
type ValuesEvent struct {
	Step   int
	Values map[string]any
}

// UpdatesEvent carries only the channels a superstep changed.
type UpdatesEvent struct {
	Step    int
	Node    string
	Updates map[string]any
}

// CustomEvent carries an application-defined payload attributed to a node.
type CustomEvent struct {
	Node    string
	Payload any
}

// Event is one observability occurrence during graph execution. RunID and
// Timestamp are populated on every Event regardless of Kind; exactly one of
// the Kind-named fields is non-nil, matching Kind.
type Event struct {
	RunID     string
	Timestamp time.Time
	Kind      Kind

	Task       *TaskEvent
	TaskResult *TaskResultEvent
	Checkpoint *CheckpointEvent
	Interrupt  *InterruptEvent
	Values     *ValuesEvent
	Updates    *UpdatesEvent
	Custom     *CustomEvent
}
