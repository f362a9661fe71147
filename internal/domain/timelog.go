package domain

import (
	"time"

	"github.com/google/uuid"
)

// TimeLog is a single work interval on a task. A nil EndedAt means the
// interval is still open. At most one entry per task may be open at a time.
type TimeLog struct {
	ID        string     `json:"id"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// OpenLogIndex returns the index of the open entry in logs, or -1.
func OpenLogIndex(logs []TimeLog) int {
	for i := range logs {
		if logs[i].EndedAt == nil {
			return i
		}
	}
	return -1
}

// ApplyTransition returns the time-log list after the status transition
// (old → new) observed at now. old is empty on task creation.
//
// Entering IN_PROGRESS closes any stray open entry (should not normally
// exist) and appends a fresh open one. Leaving IN_PROGRESS closes the open
// entry, or no-ops if none is found. Transitions not touching IN_PROGRESS
// on either side leave the list untouched.
func ApplyTransition(logs []TimeLog, old, next Status, now time.Time) []TimeLog {
	entering := next == StatusInProgress && old != StatusInProgress
	leaving := old == StatusInProgress && next != StatusInProgress

	if !entering && !leaving {
		return logs
	}

	out := make([]TimeLog, len(logs))
	copy(out, logs)

	if i := OpenLogIndex(out); i >= 0 {
		ended := now
		out[i].EndedAt = &ended
	}

	if entering {
		out = append(out, TimeLog{
			ID:        uuid.New().String(),
			StartedAt: now,
		})
	}
	return out
}

// TotalTime sums (ended_at - started_at) over all closed entries.
func TotalTime(logs []TimeLog) time.Duration {
	var total time.Duration
	for i := range logs {
		if logs[i].EndedAt != nil {
			total += logs[i].EndedAt.Sub(logs[i].StartedAt)
		}
	}
	return total
}
