// Package board implements the ordering core of the task board: integer
// position allocation within status partitions and the client-side
// reconciler that keeps partitions converged under concurrent mutation.
package board

import "github.com/Markk-dev/Temet-sub000/internal/domain"

const (
	// PositionStep is the spacing between consecutive ordering keys. The
	// headroom lets most insertions land between neighbours without a full
	// renumber.
	PositionStep = 1000
	// PositionMin is the lowest key ever allocated.
	PositionMin = 1000
	// PositionMax is a hard clamp, not an error. Partitions longer than
	// PositionMax/PositionStep tasks collide at the ceiling until the
	// server-side renumber job rewrites them.
	PositionMax = 1_000_000
)

// PositionUpdate is one reorder instruction: move task ID to Position within
// the Status partition. Applying the same instruction twice is a no-op.
type PositionUpdate struct {
	ID       string        `json:"id"`
	Status   domain.Status `json:"status"`
	Position int           `json:"position"`
}

// PositionFor returns the ordering key for rank index within a partition.
func PositionFor(index int) int {
	p := (index + 1) * PositionStep
	if p > PositionMax {
		return PositionMax
	}
	return p
}

// NextPosition returns the key for appending after the current highest key
// in a partition. highest is 0 for an empty partition.
func NextPosition(highest int) int {
	p := highest + PositionStep
	if p < PositionMin {
		p = PositionMin
	}
	if p > PositionMax {
		p = PositionMax
	}
	return p
}

// Renumber walks a partition in its final order (the moved task already
// spliced in) and emits an instruction for every task whose stored position
// differs from the desired (index+1)*step key. Tasks already in place
// produce nothing, which is what makes repeated application idempotent.
func Renumber(partition []domain.Task, status domain.Status) []PositionUpdate {
	var updates []PositionUpdate
	for i := range partition {
		desired := PositionFor(i)
		if partition[i].Position != desired || partition[i].Status != status {
			updates = append(updates, PositionUpdate{
				ID:       partition[i].ID,
				Status:   status,
				Position: desired,
			})
		}
	}
	return updates
}
