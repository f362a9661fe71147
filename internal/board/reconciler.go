package board

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Markk-dev/Temet-sub000/internal/auth"
	"github.com/Markk-dev/Temet-sub000/internal/domain"
	"github.com/Markk-dev/Temet-sub000/pkg/retry"
)

// BulkUpdater submits a batch of reorder instructions to the mutation
// service. The batch is idempotent by construction: re-sending the same
// instructions is a no-op the second time.
type BulkUpdater interface {
	BulkUpdate(ctx context.Context, updates []PositionUpdate) error
}

// Notifier surfaces a non-blocking message to the user, e.g. a toast when a
// drag is rejected.
type Notifier interface {
	Notify(msg string)
}

// NopNotifier discards notifications.
type NopNotifier struct{}

func (NopNotifier) Notify(string) {}

const defaultPendingWindow = 10 * time.Second

// Reconciler holds the per-status ordered partitions for one viewer, applies
// optimistic local drags, and merges inbound broadcast events idempotently.
//
// The only consistency guarantee it maintains is local: after every
// operation each partition is sorted ascending by position. Convergence
// across clients follows from the merge-by-id idempotence of the remote
// apply operations, not from any global ordering of deliveries.
type Reconciler struct {
	mu         sync.Mutex
	partitions map[domain.Status][]domain.Task
	pending    map[string]time.Time

	actor    domain.Member
	updater  BulkUpdater
	notifier Notifier
	hub      *Hub
	window   time.Duration
	logger   *slog.Logger
}

// ReconcilerOption configures a Reconciler.
type ReconcilerOption func(*Reconciler)

func WithNotifier(n Notifier) ReconcilerOption {
	return func(r *Reconciler) { r.notifier = n }
}

func WithHub(h *Hub) ReconcilerOption {
	return func(r *Reconciler) { r.hub = h }
}

func WithPendingWindow(d time.Duration) ReconcilerOption {
	return func(r *Reconciler) { r.window = d }
}

func WithReconcilerLogger(l *slog.Logger) ReconcilerOption {
	return func(r *Reconciler) { r.logger = l }
}

// NewReconciler creates a Reconciler for the given viewer.
func NewReconciler(actor domain.Member, updater BulkUpdater, opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{
		partitions: make(map[domain.Status][]domain.Task),
		pending:    make(map[string]time.Time),
		actor:      actor,
		updater:    updater,
		notifier:   NopNotifier{},
		hub:        NewHub(),
		window:     defaultPendingWindow,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Hub returns the partition-change notification hub.
func (r *Reconciler) Hub() *Hub { return r.hub }

// Seed replaces all partitions from an initial query result.
func (r *Reconciler) Seed(tasks []domain.Task) {
	r.mu.Lock()
	r.partitions = make(map[domain.Status][]domain.Task)
	for _, t := range tasks {
		r.partitions[t.Status] = append(r.partitions[t.Status], t)
	}
	for s := range r.partitions {
		sortPartition(r.partitions[s])
	}
	r.mu.Unlock()

	for _, s := range domain.AllStatuses() {
		r.hub.Publish(s)
	}
}

// Partition returns a copy of the ordered sequence for status.
func (r *Reconciler) Partition(status domain.Status) []domain.Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Task, len(r.partitions[status]))
	copy(out, r.partitions[status])
	return out
}

// PendingCount returns how many optimistic mutations still await their
// broadcast echo.
func (r *Reconciler) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Drag moves the task at src[srcIndex] to dst[dstIndex], optimistically
// applies the resulting renumber to local state, and submits the instruction
// list to the mutation service in the background.
//
// A viewer who is neither an admin nor an assignee of the dragged task gets
// an UnauthorizedError, a notification, and zero state change — the caller
// reverts the drag visually. The returned instructions are what was
// submitted.
func (r *Reconciler) Drag(ctx context.Context, src domain.Status, srcIndex int, dst domain.Status, dstIndex int) ([]PositionUpdate, error) {
	r.mu.Lock()

	source := r.partitions[src]
	if srcIndex < 0 || srcIndex >= len(source) {
		r.mu.Unlock()
		return nil, &domain.ValidationError{Field: "sourceIndex", Reason: fmt.Sprintf("out of range for %s", src)}
	}
	moved := source[srcIndex]

	if !auth.CanMutate(r.actor, &moved) {
		r.mu.Unlock()
		r.notifier.Notify("you can only move tasks assigned to you")
		return nil, &domain.UnauthorizedError{ActorID: r.actor.ID, TaskID: moved.ID}
	}

	// Splice out of the source and into the destination. The task keeps its
	// stored status until the renumber instructions are applied, so a
	// cross-partition move is guaranteed to produce an instruction for it.
	source = append(source[:srcIndex], source[srcIndex+1:]...)
	r.partitions[src] = source

	dest := r.partitions[dst]
	if src == dst {
		dest = source
	}
	if dstIndex < 0 {
		dstIndex = 0
	}
	if dstIndex > len(dest) {
		dstIndex = len(dest)
	}
	dest = append(dest[:dstIndex], append([]domain.Task{moved}, dest[dstIndex:]...)...)
	r.partitions[dst] = dest

	updates := Renumber(dest, dst)
	if src != dst {
		updates = append(updates, Renumber(r.partitions[src], src)...)
	}

	deadline := time.Now().Add(r.window)
	for _, u := range updates {
		r.applyUpdateLocked(u)
		r.pending[u.ID] = deadline
	}
	sortPartition(r.partitions[dst])
	if src != dst {
		sortPartition(r.partitions[src])
	}
	r.mu.Unlock()

	r.hub.Publish(dst)
	if src != dst {
		r.hub.Publish(src)
	}

	if len(updates) > 0 {
		go r.submit(ctx, updates)
	}
	return updates, nil
}

// submit sends the instruction batch with a short retry schedule. On final
// failure the optimistic state is kept (a manual refresh re-synchronizes)
// and the user is notified.
func (r *Reconciler) submit(ctx context.Context, updates []PositionUpdate) {
	err := retry.Do(ctx, retry.Config{MaxAttempts: 3, Delay: 250 * time.Millisecond}, func() error {
		return r.updater.BulkUpdate(ctx, updates)
	})
	if err != nil {
		r.logger.Error("bulk update submit failed",
			slog.Int("updates", len(updates)),
			slog.String("error", err.Error()),
		)
		r.notifier.Notify("reorder could not be saved")
	}
}

// ApplyUpsert merges a task-created or task-updated broadcast: the task is
// removed from every partition by id, then inserted into the partition
// matching its current status, which is re-sorted. Duplicate delivery of the
// same event is therefore a no-op.
func (r *Reconciler) ApplyUpsert(task domain.Task) {
	r.mu.Lock()
	touched := r.removeEverywhereLocked(task.ID)
	r.partitions[task.Status] = append(r.partitions[task.Status], task)
	sortPartition(r.partitions[task.Status])
	delete(r.pending, task.ID)
	r.mu.Unlock()

	for _, s := range touched {
		if s != task.Status {
			r.hub.Publish(s)
		}
	}
	r.hub.Publish(task.Status)
}

// ApplyDelete merges a task-deleted broadcast. Idempotent if already absent.
func (r *Reconciler) ApplyDelete(taskID string) {
	r.mu.Lock()
	touched := r.removeEverywhereLocked(taskID)
	delete(r.pending, taskID)
	r.mu.Unlock()

	for _, s := range touched {
		r.hub.Publish(s)
	}
}

// ApplyBulk merges a tasks-bulk-updated broadcast as one batch: all
// referenced ids are removed first, then each task is reinserted and every
// affected partition sorted once, so no intermediate state is observable.
// Duplicate ids within the batch collapse to their last occurrence, so a
// task is never inserted twice.
func (r *Reconciler) ApplyBulk(tasks []domain.Task) {
	deduped := make([]domain.Task, 0, len(tasks))
	index := make(map[string]int, len(tasks))
	for _, t := range tasks {
		if i, ok := index[t.ID]; ok {
			deduped[i] = t
			continue
		}
		index[t.ID] = len(deduped)
		deduped = append(deduped, t)
	}

	r.mu.Lock()
	affected := make(map[domain.Status]bool)
	for _, t := range deduped {
		for _, s := range r.removeEverywhereLocked(t.ID) {
			affected[s] = true
		}
	}
	for _, t := range deduped {
		r.partitions[t.Status] = append(r.partitions[t.Status], t)
		affected[t.Status] = true
		delete(r.pending, t.ID)
	}
	for s := range affected {
		sortPartition(r.partitions[s])
	}
	r.mu.Unlock()

	for s := range affected {
		r.hub.Publish(s)
	}
}

// ExpirePending drops optimistic markers whose confirmation window has
// passed and returns their task ids. A caller seeing a non-empty result
// should refresh from the query endpoint.
func (r *Reconciler) ExpirePending(now time.Time) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var expired []string
	for id, deadline := range r.pending {
		if now.After(deadline) {
			expired = append(expired, id)
			delete(r.pending, id)
		}
	}
	sort.Strings(expired)
	return expired
}

func (r *Reconciler) applyUpdateLocked(u PositionUpdate) {
	for s, tasks := range r.partitions {
		for i := range tasks {
			if tasks[i].ID != u.ID {
				continue
			}
			tasks[i].Position = u.Position
			if s == u.Status {
				tasks[i].Status = u.Status
				return
			}
			moved := tasks[i]
			moved.Status = u.Status
			r.partitions[s] = append(tasks[:i], tasks[i+1:]...)
			r.partitions[u.Status] = append(r.partitions[u.Status], moved)
			return
		}
	}
}

// removeEverywhereLocked removes id from every partition and returns the
// statuses it was removed from.
func (r *Reconciler) removeEverywhereLocked(id string) []domain.Status {
	var touched []domain.Status
	for s, tasks := range r.partitions {
		for i := range tasks {
			if tasks[i].ID == id {
				r.partitions[s] = append(tasks[:i], tasks[i+1:]...)
				touched = append(touched, s)
				break
			}
		}
	}
	return touched
}

func sortPartition(tasks []domain.Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		if tasks[i].Position != tasks[j].Position {
			return tasks[i].Position < tasks[j].Position
		}
		return tasks[i].ID < tasks[j].ID
	})
}
