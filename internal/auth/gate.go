// Package auth decides whether an actor may mutate a task. Session
// establishment and member lookup live outside the core; this package only
// evaluates the rule over already-resolved records.
package auth

import "github.com/Markk-dev/Temet-sub000/internal/domain"

// CanMutate reports whether actor may edit, move or delete task.
//
// Workspace admins may always mutate. Anyone else must appear in the task's
// assignee set. Assignee lists are denormalized and may carry either the
// membership id or the underlying user id, so both are checked.
func CanMutate(actor domain.Member, task *domain.Task) bool {
	if actor.Role == domain.RoleAdmin {
		return true
	}
	for _, id := range task.AssigneeIDs {
		if id == actor.ID || (actor.UserID != "" && id == actor.UserID) {
			return true
		}
	}
	return false
}
