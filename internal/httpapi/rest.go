// Package httpapi exposes the mutation and query surface of the board over
// HTTP. Authentication is out of scope: requests carry the already-
// established member identity in headers, and the handler resolves it
// through the directory capability.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"

	"github.com/Markk-dev/Temet-sub000/internal/board"
	"github.com/Markk-dev/Temet-sub000/internal/domain"
	"github.com/Markk-dev/Temet-sub000/internal/postgres"
	redisstore "github.com/Markk-dev/Temet-sub000/internal/redis"
	"github.com/Markk-dev/Temet-sub000/internal/service"
)

const (
	headerMemberID    = "X-Member-Id"
	headerWorkspaceID = "X-Workspace-Id"
)

// TaskService is the mutation/query surface the handlers delegate to.
type TaskService interface {
	Create(ctx context.Context, in service.CreateInput) (*domain.TaskDetail, error)
	Patch(ctx context.Context, actor domain.Member, taskID string, in service.PatchInput) (*domain.TaskDetail, error)
	Delete(ctx context.Context, actor domain.Member, taskID string) error
	BulkUpdate(ctx context.Context, updates []board.PositionUpdate) ([]domain.TaskDetail, error)
	Get(ctx context.Context, taskID string) (*domain.TaskDetail, error)
	List(ctx context.Context, filter postgres.TaskFilter) ([]domain.TaskDetail, error)
}

// REST handles HTTP requests for the board API.
type REST struct {
	svc      TaskService
	dir      postgres.Directory
	presence redisstore.Presence
	logger   *slog.Logger
}

// NewREST creates a new REST handler.
func NewREST(svc TaskService, dir postgres.Directory, presence redisstore.Presence, logger *slog.Logger) *REST {
	return &REST{svc: svc, dir: dir, presence: presence, logger: logger}
}

// Routes mounts all API routes on r. Mutating routes go through limit.
func (h *REST) Routes(r chi.Router, limit func(http.Handler) http.Handler) {
	r.Get("/healthz", h.Healthz)
	r.Get("/readyz", h.Healthz)
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/tasks", h.ListTasks)
		r.Get("/tasks/{id}", h.GetTask)
		r.Group(func(r chi.Router) {
			if limit != nil {
				r.Use(limit)
			}
			r.Post("/tasks", h.CreateTask)
			r.Patch("/tasks/{id}", h.PatchTask)
			r.Delete("/tasks/{id}", h.DeleteTask)
			r.Post("/tasks/bulk", h.BulkUpdateTasks)
		})
		r.Get("/workspaces/{id}/presence", h.GetPresence)
		r.Post("/workspaces/{id}/presence", h.Heartbeat)
	})
}

// CreateTaskRequest is the JSON body for POST /api/v1/tasks.
type CreateTaskRequest struct {
	Name        string        `json:"name"`
	Status      domain.Status `json:"status"`
	WorkspaceID string        `json:"workspace_id"`
	ProjectID   string        `json:"project_id,omitempty"`
	DueDate     *time.Time    `json:"due_date,omitempty"`
	AssigneeIDs []string      `json:"assignee_ids"`
	Description string        `json:"description,omitempty"`
}

// PatchTaskRequest is the JSON body for PATCH /api/v1/tasks/{id}. Absent
// fields keep their previous values.
type PatchTaskRequest struct {
	Name        *string        `json:"name,omitempty"`
	Status      *domain.Status `json:"status,omitempty"`
	ProjectID   *string        `json:"project_id,omitempty"`
	DueDate     *time.Time     `json:"due_date,omitempty"`
	AssigneeIDs []string       `json:"assignee_ids,omitempty"`
	Description *string        `json:"description,omitempty"`
}

// BulkUpdateRequest is the JSON body for POST /api/v1/tasks/bulk.
type BulkUpdateRequest struct {
	Tasks []board.PositionUpdate `json:"tasks"`
}

// CreateTask handles POST /api/v1/tasks.
func (h *REST) CreateTask(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("httpapi").Start(r.Context(), "api.create_task")
	defer span.End()

	var req CreateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	detail, err := h.svc.Create(ctx, service.CreateInput{
		Name:        req.Name,
		Status:      req.Status,
		WorkspaceID: req.WorkspaceID,
		ProjectID:   req.ProjectID,
		DueDate:     req.DueDate,
		AssigneeIDs: req.AssigneeIDs,
		Description: req.Description,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, detail)
}

// GetTask handles GET /api/v1/tasks/{id}.
func (h *REST) GetTask(w http.ResponseWriter, r *http.Request) {
	detail, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// ListTasks handles GET /api/v1/tasks — the initial-load query surface.
func (h *REST) ListTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := postgres.TaskFilter{
		WorkspaceID: q.Get("workspace_id"),
		ProjectID:   q.Get("project_id"),
		AssigneeID:  q.Get("assignee_id"),
		Search:      q.Get("search"),
	}
	if s := q.Get("status"); s != "" {
		status := domain.Status(s)
		filter.Status = &status
	}
	if d := q.Get("due_before"); d != "" {
		if t, err := time.Parse(time.RFC3339, d); err == nil {
			filter.DueBefore = &t
		}
	}
	if d := q.Get("due_after"); d != "" {
		if t, err := time.Parse(time.RFC3339, d); err == nil {
			filter.DueAfter = &t
		}
	}
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))
	filter.Offset, _ = strconv.Atoi(q.Get("offset"))

	details, err := h.svc.List(r.Context(), filter)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": details})
}

// PatchTask handles PATCH /api/v1/tasks/{id}.
func (h *REST) PatchTask(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("httpapi").Start(r.Context(), "api.patch_task")
	defer span.End()

	actor, ok := h.resolveActor(w, r)
	if !ok {
		return
	}

	var req PatchTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	detail, err := h.svc.Patch(ctx, actor, chi.URLParam(r, "id"), service.PatchInput{
		Name:        req.Name,
		Status:      req.Status,
		ProjectID:   req.ProjectID,
		DueDate:     req.DueDate,
		AssigneeIDs: req.AssigneeIDs,
		Description: req.Description,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// DeleteTask handles DELETE /api/v1/tasks/{id}.
func (h *REST) DeleteTask(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("httpapi").Start(r.Context(), "api.delete_task")
	defer span.End()

	actor, ok := h.resolveActor(w, r)
	if !ok {
		return
	}

	taskID := chi.URLParam(r, "id")
	if err := h.svc.Delete(ctx, actor, taskID); err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"task_id": taskID})
}

// BulkUpdateTasks handles POST /api/v1/tasks/bulk.
func (h *REST) BulkUpdateTasks(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("httpapi").Start(r.Context(), "api.bulk_update")
	defer span.End()

	var req BulkUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	details, err := h.svc.BulkUpdate(ctx, req.Tasks)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": details})
}

// GetPresence handles GET /api/v1/workspaces/{id}/presence.
func (h *REST) GetPresence(w http.ResponseWriter, r *http.Request) {
	members, err := h.presence.Active(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.logger.Error("presence read failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to read presence")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"members": members})
}

// Heartbeat handles POST /api/v1/workspaces/{id}/presence.
func (h *REST) Heartbeat(w http.ResponseWriter, r *http.Request) {
	memberID := r.Header.Get(headerMemberID)
	if memberID == "" {
		writeError(w, http.StatusBadRequest, "missing "+headerMemberID+" header")
		return
	}
	if err := h.presence.Heartbeat(r.Context(), chi.URLParam(r, "id"), memberID); err != nil {
		h.logger.Error("presence heartbeat failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to record presence")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Healthz handles GET /healthz.
func (h *REST) Healthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// resolveActor resolves the acting member from the identity headers. On
// failure the response is already written and ok is false.
func (h *REST) resolveActor(w http.ResponseWriter, r *http.Request) (domain.Member, bool) {
	memberID := r.Header.Get(headerMemberID)
	workspaceID := r.Header.Get(headerWorkspaceID)
	if memberID == "" || workspaceID == "" {
		writeError(w, http.StatusBadRequest, "missing identity headers")
		return domain.Member{}, false
	}

	actor, err := h.dir.Actor(r.Context(), workspaceID, memberID)
	if err != nil {
		var notFound *domain.MemberNotFoundError
		if errors.As(err, &notFound) {
			writeError(w, http.StatusForbidden, "not a member of this workspace")
			return domain.Member{}, false
		}
		h.logger.Error("actor lookup failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to resolve member")
		return domain.Member{}, false
	}
	return actor, true
}

// writeDomainError maps the error taxonomy onto HTTP status codes.
func (h *REST) writeDomainError(w http.ResponseWriter, err error) {
	var (
		validation   *domain.ValidationError
		unauthorized *domain.UnauthorizedError
		notFound     *domain.TaskNotFoundError
	)
	switch {
	case errors.As(err, &validation):
		writeError(w, http.StatusBadRequest, validation.Error())
	case errors.As(err, &unauthorized):
		writeError(w, http.StatusForbidden, unauthorized.Error())
	case errors.As(err, &notFound):
		writeError(w, http.StatusNotFound, notFound.Error())
	default:
		h.logger.Error("internal error", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
