package board

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/Markk-dev/Temet-sub000/internal/domain"
)

// FailureKind categorizes what went wrong while handling an inbound event.
type FailureKind int

const (
	// FailureMalformed means the frame could not be decoded into an Event.
	FailureMalformed FailureKind = iota
	// FailureApply means applying a well-formed event panicked.
	FailureApply
)

// Action is the recovery taken for a failure category.
type Action int

const (
	// ActionSkip drops the offending frame and keeps pumping.
	ActionSkip Action = iota
	// ActionResync reseeds the reconciler from the query endpoint.
	ActionResync
)

// Policy maps failure categories to recovery actions. Failures keep the pump
// alive either way; the policy only decides how much state is rebuilt.
type Policy map[FailureKind]Action

// DefaultPolicy skips malformed frames and resyncs after an apply failure.
func DefaultPolicy() Policy {
	return Policy{
		FailureMalformed: ActionSkip,
		FailureApply:     ActionResync,
	}
}

// ResyncFunc fetches the authoritative task set for reseeding, typically the
// initial-load query.
type ResyncFunc func(ctx context.Context) ([]domain.Task, error)

// Pump drains raw broadcast frames into a Reconciler. One bad frame never
// kills the loop: each frame is handled under the recovery policy.
type Pump struct {
	reconciler *Reconciler
	policy     Policy
	resync     ResyncFunc
	logger     *slog.Logger
}

// NewPump wires a Pump. resync may be nil, in which case ActionResync
// degrades to ActionSkip.
func NewPump(r *Reconciler, policy Policy, resync ResyncFunc, logger *slog.Logger) *Pump {
	if policy == nil {
		policy = DefaultPolicy()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pump{reconciler: r, policy: policy, resync: resync, logger: logger}
}

// Run consumes frames until the channel closes or ctx is cancelled.
func (p *Pump) Run(ctx context.Context, frames <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}
			p.Handle(ctx, frame)
		}
	}
}

// Handle processes a single frame under the recovery policy.
func (p *Pump) Handle(ctx context.Context, frame []byte) {
	var ev domain.Event
	if err := json.Unmarshal(frame, &ev); err != nil {
		p.recover(ctx, FailureMalformed, err)
		return
	}

	if err := p.apply(ev); err != nil {
		p.recover(ctx, FailureApply, err)
	}
}

// apply dispatches one event, converting a panic into a tagged error so the
// policy table decides the outcome instead of the process dying.
func (p *Pump) apply(ev domain.Event) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("apply %s: %v", ev.Type, rec)
		}
	}()

	switch ev.Type {
	case domain.EventTaskCreated, domain.EventTaskUpdated:
		if ev.Payload.Task == nil {
			return fmt.Errorf("%s event without task", ev.Type)
		}
		p.reconciler.ApplyUpsert(ev.Payload.Task.Task)
	case domain.EventTaskDeleted:
		if ev.Payload.TaskID == "" {
			return fmt.Errorf("task-deleted event without taskId")
		}
		p.reconciler.ApplyDelete(ev.Payload.TaskID)
	case domain.EventTasksBulkUpdated:
		tasks := make([]domain.Task, 0, len(ev.Payload.Tasks))
		for _, d := range ev.Payload.Tasks {
			tasks = append(tasks, d.Task)
		}
		p.reconciler.ApplyBulk(tasks)
	default:
		return fmt.Errorf("unknown event type %q", ev.Type)
	}
	return nil
}

func (p *Pump) recover(ctx context.Context, kind FailureKind, cause error) {
	action := p.policy[kind]
	if action == ActionResync && p.resync == nil {
		action = ActionSkip
	}

	switch action {
	case ActionResync:
		p.logger.Warn("event apply failed, resyncing", slog.String("error", cause.Error()))
		tasks, err := p.resync(ctx)
		if err != nil {
			p.logger.Error("resync failed", slog.String("error", err.Error()))
			return
		}
		p.reconciler.Seed(tasks)
	default:
		p.logger.Warn("dropping event", slog.String("error", cause.Error()))
	}
}
