package domain

import "fmt"

// TaskNotFoundError is returned when a task ID does not exist.
type TaskNotFoundError struct {
	TaskID string
}

func (e *TaskNotFoundError) Error() string {
	return fmt.Sprintf("task not found: %s", e.TaskID)
}

// MemberNotFoundError is returned when a member ID cannot be resolved
// within a workspace.
type MemberNotFoundError struct {
	MemberID    string
	WorkspaceID string
}

func (e *MemberNotFoundError) Error() string {
	return fmt.Sprintf("member %s not found in workspace %s", e.MemberID, e.WorkspaceID)
}

// UnauthorizedError is returned when an actor may not mutate a task.
type UnauthorizedError struct {
	ActorID string
	TaskID  string
}

func (e *UnauthorizedError) Error() string {
	return fmt.Sprintf("member %s may not mutate task %s", e.ActorID, e.TaskID)
}

// ValidationError is returned when a request is malformed. It is always
// raised before any persistence write.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// PersistenceError wraps a failed read or write against the task store.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// BroadcastError wraps a failed emission to the pub/sub layer. It is logged
// at the service boundary and never propagated: by the time a broadcast runs
// the persistence write has already committed.
type BroadcastError struct {
	Event string
	Err   error
}

func (e *BroadcastError) Error() string {
	return fmt.Sprintf("broadcast %s: %v", e.Event, e.Err)
}

func (e *BroadcastError) Unwrap() error { return e.Err }
