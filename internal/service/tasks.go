// Package service implements the authoritative mutation surface of the
// board: create, patch, delete and bulk-reorder of tasks, each followed by
// exactly one broadcast emission.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Markk-dev/Temet-sub000/internal/auth"
	"github.com/Markk-dev/Temet-sub000/internal/board"
	"github.com/Markk-dev/Temet-sub000/internal/domain"
	"github.com/Markk-dev/Temet-sub000/internal/kafka"
	"github.com/Markk-dev/Temet-sub000/internal/postgres"
	redisbc "github.com/Markk-dev/Temet-sub000/internal/redis"
	"github.com/Markk-dev/Temet-sub000/pkg/telemetry"
)

// Service is the task mutation service. Every mutating operation performs
// one read-modify-write cycle against the store with no cross-request
// locking, then emits exactly one broadcast. Broadcast failures are logged
// and swallowed: the persisted state is already correct, so only other
// clients miss the realtime update until their next refresh.
type Service struct {
	repo    postgres.TaskRepository
	dir     postgres.Directory
	bc      redisbc.Broadcaster
	journal kafka.Journal
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithJournal mirrors every broadcast into the durable event feed.
func WithJournal(j kafka.Journal) Option { return func(s *Service) { s.journal = j } }

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.logger = l } }

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// NewService constructs a Service with the given dependencies.
func NewService(repo postgres.TaskRepository, dir postgres.Directory, bc redisbc.Broadcaster, opts ...Option) *Service {
	s := &Service{
		repo:   repo,
		dir:    dir,
		bc:     bc,
		logger: slog.Default(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateInput is the payload for Create.
type CreateInput struct {
	Name        string
	Status      domain.Status
	WorkspaceID string
	ProjectID   string
	DueDate     *time.Time
	AssigneeIDs []string
	Description string
}

// PatchInput carries the fields to change; nil pointers (and a nil assignee
// slice) mean "keep the previous value".
type PatchInput struct {
	Name        *string
	Status      *domain.Status
	ProjectID   *string
	DueDate     *time.Time
	AssigneeIDs []string
	Description *string
}

// Create validates the input, appends the task at the end of its partition,
// opens a time log when the initial status is IN_PROGRESS, persists and
// broadcasts task-created.
func (s *Service) Create(ctx context.Context, in CreateInput) (*domain.TaskDetail, error) {
	ctx, span := otel.Tracer("service").Start(ctx, "service.create_task")
	defer span.End()

	if in.Name == "" {
		return nil, &domain.ValidationError{Field: "name", Reason: "required"}
	}
	if in.WorkspaceID == "" {
		return nil, &domain.ValidationError{Field: "workspaceId", Reason: "required"}
	}
	if !in.Status.Valid() {
		return nil, &domain.ValidationError{Field: "status", Reason: "unknown status"}
	}

	highest, err := s.repo.MaxPosition(ctx, in.WorkspaceID, in.Status)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "max position", Err: err}
	}

	// An absent assignee list must reach the store as an empty array, not
	// NULL: the tasks.assignee_ids column is NOT NULL.
	assignees := in.AssigneeIDs
	if assignees == nil {
		assignees = []string{}
	}

	now := s.now()
	task := &domain.Task{
		ID:           uuid.New().String(),
		Name:         in.Name,
		Status:       in.Status,
		WorkspaceID:  in.WorkspaceID,
		ProjectID:    in.ProjectID,
		AssigneeIDs:  assignees,
		DueDate:      in.DueDate,
		Description:  in.Description,
		Position:     board.NextPosition(highest),
		TimeLogs:     domain.ApplyTransition(nil, "", in.Status, now),
		CreatedAt:    now,
		UpdatedAt:    now,
		LastActiveAt: now,
	}
	span.SetAttributes(
		attribute.String("task.id", task.ID),
		attribute.String("task.status", string(task.Status)),
	)

	if err := s.repo.Create(ctx, task); err != nil {
		return nil, &domain.PersistenceError{Op: "create", Err: err}
	}

	detail, err := s.denormalize(ctx, task)
	if err != nil {
		return nil, err
	}
	telemetry.TasksMutated.WithLabelValues("create").Inc()
	s.emit(ctx, task.WorkspaceID, domain.NewTaskEvent(domain.EventTaskCreated, *detail))
	s.logger.Info("task created",
		slog.String("task_id", task.ID),
		slog.String("workspace_id", task.WorkspaceID),
		slog.String("status", string(task.Status)),
	)
	return detail, nil
}

// Patch loads the task, authorizes the actor, runs the time-log transition
// if the status changed, merges the given fields, persists and broadcasts
// task-updated. Unspecified fields keep their previous values.
func (s *Service) Patch(ctx context.Context, actor domain.Member, taskID string, in PatchInput) (*domain.TaskDetail, error) {
	ctx, span := otel.Tracer("service").Start(ctx, "service.patch_task")
	defer span.End()
	span.SetAttributes(attribute.String("task.id", taskID))

	task, err := s.repo.GetByID(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if !auth.CanMutate(actor, task) {
		telemetry.MutationsRejected.WithLabelValues("unauthorized").Inc()
		return nil, &domain.UnauthorizedError{ActorID: actor.ID, TaskID: taskID}
	}

	now := s.now()
	if in.Status != nil {
		if !in.Status.Valid() {
			return nil, &domain.ValidationError{Field: "status", Reason: "unknown status"}
		}
		if *in.Status != task.Status {
			task.TimeLogs = domain.ApplyTransition(task.TimeLogs, task.Status, *in.Status, now)
			task.Status = *in.Status
		}
	}
	if in.Name != nil {
		task.Name = *in.Name
	}
	if in.ProjectID != nil {
		task.ProjectID = *in.ProjectID
	}
	if in.DueDate != nil {
		task.DueDate = in.DueDate
	}
	if in.AssigneeIDs != nil {
		task.AssigneeIDs = in.AssigneeIDs
	}
	if in.Description != nil {
		task.Description = *in.Description
	}
	task.UpdatedAt = now
	task.LastActiveAt = now

	if err := s.repo.Update(ctx, task); err != nil {
		return nil, &domain.PersistenceError{Op: "update", Err: err}
	}

	detail, err := s.denormalize(ctx, task)
	if err != nil {
		return nil, err
	}
	telemetry.TasksMutated.WithLabelValues("patch").Inc()
	s.emit(ctx, task.WorkspaceID, domain.NewTaskEvent(domain.EventTaskUpdated, *detail))
	return detail, nil
}

// Delete loads the task, authorizes the actor, deletes it and broadcasts
// task-deleted carrying the resolved snapshot.
func (s *Service) Delete(ctx context.Context, actor domain.Member, taskID string) error {
	ctx, span := otel.Tracer("service").Start(ctx, "service.delete_task")
	defer span.End()
	span.SetAttributes(attribute.String("task.id", taskID))

	task, err := s.repo.GetByID(ctx, taskID)
	if err != nil {
		return err
	}
	if !auth.CanMutate(actor, task) {
		telemetry.MutationsRejected.WithLabelValues("unauthorized").Inc()
		return &domain.UnauthorizedError{ActorID: actor.ID, TaskID: taskID}
	}

	detail, err := s.denormalize(ctx, task)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, taskID); err != nil {
		return &domain.PersistenceError{Op: "delete", Err: err}
	}

	telemetry.TasksMutated.WithLabelValues("delete").Inc()
	s.emit(ctx, task.WorkspaceID, domain.NewDeleteEvent(taskID, detail))
	s.logger.Info("task deleted",
		slog.String("task_id", taskID),
		slog.String("workspace_id", task.WorkspaceID),
	)
	return nil
}

// BulkUpdate applies a batch of reorder instructions. The whole batch must
// reference tasks of exactly one workspace and every position must lie in
// the allowed range; both are rejected before any write. Tasks are updated
// independently (the batch is not atomic): a mid-batch failure leaves the
// earlier writes in place, and the single tasks-bulk-updated broadcast
// carries exactly the tasks that were persisted.
func (s *Service) BulkUpdate(ctx context.Context, updates []board.PositionUpdate) ([]domain.TaskDetail, error) {
	ctx, span := otel.Tracer("service").Start(ctx, "service.bulk_update")
	defer span.End()
	span.SetAttributes(attribute.Int("batch.size", len(updates)))

	if len(updates) == 0 {
		return nil, &domain.ValidationError{Field: "tasks", Reason: "empty batch"}
	}
	ids := make([]string, 0, len(updates))
	seen := make(map[string]bool, len(updates))
	for _, u := range updates {
		if u.Position < board.PositionMin || u.Position > board.PositionMax {
			telemetry.MutationsRejected.WithLabelValues("position_range").Inc()
			return nil, &domain.ValidationError{Field: "position", Reason: "outside [1000, 1000000]"}
		}
		if !u.Status.Valid() {
			return nil, &domain.ValidationError{Field: "status", Reason: "unknown status"}
		}
		if seen[u.ID] {
			telemetry.MutationsRejected.WithLabelValues("duplicate_ids").Inc()
			return nil, &domain.ValidationError{Field: "tasks", Reason: "duplicate task id " + u.ID}
		}
		seen[u.ID] = true
		ids = append(ids, u.ID)
	}

	tasks, err := s.repo.GetByIDs(ctx, ids)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "load batch", Err: err}
	}
	byID := make(map[string]*domain.Task, len(tasks))
	workspaces := make(map[string]bool)
	for _, t := range tasks {
		byID[t.ID] = t
		workspaces[t.WorkspaceID] = true
	}
	for _, u := range updates {
		if byID[u.ID] == nil {
			return nil, &domain.TaskNotFoundError{TaskID: u.ID}
		}
	}
	if len(workspaces) != 1 {
		telemetry.MutationsRejected.WithLabelValues("mixed_workspaces").Inc()
		return nil, &domain.ValidationError{Field: "tasks", Reason: "batch spans multiple workspaces"}
	}

	now := s.now()
	var updated []*domain.Task
	var failed error
	for _, u := range updates {
		task := byID[u.ID]
		if u.Status != task.Status {
			task.TimeLogs = domain.ApplyTransition(task.TimeLogs, task.Status, u.Status, now)
			task.Status = u.Status
		}
		task.Position = u.Position
		task.UpdatedAt = now
		task.LastActiveAt = now
		if err := s.repo.Update(ctx, task); err != nil {
			failed = err
			s.logger.Error("bulk update write failed",
				slog.String("task_id", task.ID),
				slog.String("error", err.Error()),
			)
			break
		}
		updated = append(updated, task)
	}

	var details []domain.TaskDetail
	if len(updated) > 0 {
		details, err = s.denormalizeAll(ctx, updated)
		if err != nil {
			return nil, err
		}
		telemetry.TasksMutated.WithLabelValues("bulk").Inc()
		s.emit(ctx, updated[0].WorkspaceID, domain.NewBulkEvent(details))
	}
	if failed != nil {
		return details, failed
	}
	return details, nil
}

// Get returns one task denormalized with its display records.
func (s *Service) Get(ctx context.Context, taskID string) (*domain.TaskDetail, error) {
	task, err := s.repo.GetByID(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return s.denormalize(ctx, task)
}

// List is the initial-load query surface: tasks filtered and paginated,
// denormalized with their resolved project and assignee records.
func (s *Service) List(ctx context.Context, filter postgres.TaskFilter) ([]domain.TaskDetail, error) {
	if filter.WorkspaceID == "" {
		return nil, &domain.ValidationError{Field: "workspaceId", Reason: "required"}
	}
	tasks, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "list", Err: err}
	}
	return s.denormalizeAll(ctx, tasks)
}

// emit publishes the event on the tasks channel and mirrors it into the
// journal. Failures are logged and never propagated.
func (s *Service) emit(ctx context.Context, workspaceID string, ev domain.Event) {
	if err := s.bc.Publish(ctx, ev); err != nil {
		telemetry.BroadcastFailures.Inc()
		s.logger.Error("broadcast failed",
			slog.String("event", string(ev.Type)),
			slog.String("error", err.Error()),
		)
	} else {
		telemetry.BroadcastEvents.WithLabelValues(string(ev.Type)).Inc()
	}

	if s.journal == nil {
		return
	}
	if err := s.journal.Record(ctx, workspaceID, ev); err != nil {
		telemetry.JournalFailures.Inc()
		s.logger.Error("journal write failed",
			slog.String("event", string(ev.Type)),
			slog.String("error", err.Error()),
		)
	}
}

func (s *Service) denormalize(ctx context.Context, task *domain.Task) (*domain.TaskDetail, error) {
	details, err := s.denormalizeAll(ctx, []*domain.Task{task})
	if err != nil {
		return nil, err
	}
	return &details[0], nil
}

// denormalizeAll batch-resolves assignees and projects for the broadcast and
// query response shapes.
func (s *Service) denormalizeAll(ctx context.Context, tasks []*domain.Task) ([]domain.TaskDetail, error) {
	memberIDs := make([]string, 0)
	projectIDs := make([]string, 0)
	seenM := make(map[string]bool)
	seenP := make(map[string]bool)
	for _, t := range tasks {
		for _, id := range t.AssigneeIDs {
			if !seenM[id] {
				seenM[id] = true
				memberIDs = append(memberIDs, id)
			}
		}
		if t.ProjectID != "" && !seenP[t.ProjectID] {
			seenP[t.ProjectID] = true
			projectIDs = append(projectIDs, t.ProjectID)
		}
	}

	members, err := s.dir.Members(ctx, memberIDs)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "resolve members", Err: err}
	}
	projects, err := s.dir.Projects(ctx, projectIDs)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "resolve projects", Err: err}
	}

	details := make([]domain.TaskDetail, 0, len(tasks))
	for _, t := range tasks {
		d := domain.TaskDetail{Task: *t, Assignees: []domain.Member{}}
		for _, id := range t.AssigneeIDs {
			if m, ok := members[id]; ok {
				d.Assignees = append(d.Assignees, m)
			}
		}
		if p, ok := projects[t.ProjectID]; ok {
			proj := p
			d.Project = &proj
		}
		details = append(details, d)
	}
	return details, nil
}
