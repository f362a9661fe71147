package domain

// BroadcastChannel is the pub/sub channel all task events are emitted on.
const BroadcastChannel = "tasks"

// EventType names a broadcast event on the tasks channel.
type EventType string

const (
	EventTaskCreated      EventType = "task-created"
	EventTaskUpdated      EventType = "task-updated"
	EventTaskDeleted      EventType = "task-deleted"
	EventTasksBulkUpdated EventType = "tasks-bulk-updated"
)

// EventPayload carries the event-specific body. Exactly one of Task, TaskID
// (optionally with Task) or Tasks is set depending on the event type.
type EventPayload struct {
	Task   *TaskDetail  `json:"task,omitempty"`
	TaskID string       `json:"taskId,omitempty"`
	Tasks  []TaskDetail `json:"tasks,omitempty"`
}

// Event is the envelope published on the tasks channel. Delivery may be
// duplicated or reordered across clients; consumers must apply events
// idempotently, merging by task id.
type Event struct {
	Type    EventType    `json:"event"`
	Payload EventPayload `json:"payload"`
}

// NewTaskEvent builds a single-task event (task-created or task-updated).
func NewTaskEvent(t EventType, task TaskDetail) Event {
	return Event{Type: t, Payload: EventPayload{Task: &task}}
}

// NewDeleteEvent builds a task-deleted event. The deleted task snapshot is
// included so clients can show what disappeared.
func NewDeleteEvent(taskID string, task *TaskDetail) Event {
	return Event{Type: EventTaskDeleted, Payload: EventPayload{TaskID: taskID, Task: task}}
}

// NewBulkEvent builds a tasks-bulk-updated event carrying the full updated,
// denormalized set.
func NewBulkEvent(tasks []TaskDetail) Event {
	return Event{Type: EventTasksBulkUpdated, Payload: EventPayload{Tasks: tasks}}
}
