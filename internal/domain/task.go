package domain

import "time"

// Status partitions a workspace board into ordered columns.
type Status string

const (
	StatusBacklog    Status = "BACKLOG"
	StatusTodo       Status = "TODO"
	StatusInProgress Status = "IN_PROGRESS"
	StatusInReview   Status = "IN_REVIEW"
	StatusDone       Status = "DONE"
)

// AllStatuses returns every column in board display order.
func AllStatuses() []Status {
	return []Status{StatusBacklog, StatusTodo, StatusInProgress, StatusInReview, StatusDone}
}

// Valid reports whether s is a known board column.
func (s Status) Valid() bool {
	switch s {
	case StatusBacklog, StatusTodo, StatusInProgress, StatusInReview, StatusDone:
		return true
	}
	return false
}

// Task is the core domain entity: one card on the board.
//
// Within a (workspace_id, status) partition no two tasks share a position in
// steady state; transient collisions from unresolved concurrent writes are
// tolerated and corrected by the next renumber.
type Task struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Status       Status     `json:"status"`
	WorkspaceID  string     `json:"workspace_id"`
	ProjectID    string     `json:"project_id,omitempty"`
	AssigneeIDs  []string   `json:"assignee_ids"`
	DueDate      *time.Time `json:"due_date,omitempty"`
	Description  string     `json:"description,omitempty"`
	Position     int        `json:"position"`
	TimeLogs     []TimeLog  `json:"time_logs"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	LastActiveAt time.Time  `json:"last_active_at"`
}

// TotalTimeSpent sums the closed work intervals. Open entries contribute
// nothing until closed. Derived on demand, never stored.
func (t *Task) TotalTimeSpent() time.Duration {
	return TotalTime(t.TimeLogs)
}

// Role is a member's standing within a workspace.
type Role string

const (
	RoleAdmin  Role = "ADMIN"
	RoleMember Role = "MEMBER"
)

// Member is a denormalized workspace member record. ID is the membership id;
// UserID is the underlying account id. Task assignee lists may carry either,
// so identity checks must compare against both.
type Member struct {
	ID          string `json:"id"`
	UserID      string `json:"user_id"`
	WorkspaceID string `json:"workspace_id"`
	Name        string `json:"name"`
	Email       string `json:"email,omitempty"`
	Role        Role   `json:"role"`
}

// Project is the display record a task is resolved against for broadcasts.
type Project struct {
	ID          string `json:"id"`
	WorkspaceID string `json:"workspace_id"`
	Name        string `json:"name"`
}

// TaskDetail is a task denormalized with its resolved assignee and project
// display records, as carried by query responses and broadcast events.
type TaskDetail struct {
	Task
	Assignees []Member `json:"assignees"`
	Project   *Project `json:"project,omitempty"`
}
