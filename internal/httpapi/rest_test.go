package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Markk-dev/Temet-sub000/internal/board"
	"github.com/Markk-dev/Temet-sub000/internal/domain"
	"github.com/Markk-dev/Temet-sub000/internal/postgres"
	redisstore "github.com/Markk-dev/Temet-sub000/internal/redis"
	"github.com/Markk-dev/Temet-sub000/internal/service"
)

// ── fakes ──────────────────────────────────────────────────────────────

type fakeTaskService struct {
	createFn func(service.CreateInput) (*domain.TaskDetail, error)
	patchFn  func(domain.Member, string, service.PatchInput) (*domain.TaskDetail, error)
	deleteFn func(domain.Member, string) error
	bulkFn   func([]board.PositionUpdate) ([]domain.TaskDetail, error)
	getFn    func(string) (*domain.TaskDetail, error)
	listFn   func(postgres.TaskFilter) ([]domain.TaskDetail, error)
}

var _ TaskService = (*fakeTaskService)(nil)

func (f *fakeTaskService) Create(_ context.Context, in service.CreateInput) (*domain.TaskDetail, error) {
	return f.createFn(in)
}

func (f *fakeTaskService) Patch(_ context.Context, actor domain.Member, id string, in service.PatchInput) (*domain.TaskDetail, error) {
	return f.patchFn(actor, id, in)
}

func (f *fakeTaskService) Delete(_ context.Context, actor domain.Member, id string) error {
	return f.deleteFn(actor, id)
}

func (f *fakeTaskService) BulkUpdate(_ context.Context, updates []board.PositionUpdate) ([]domain.TaskDetail, error) {
	return f.bulkFn(updates)
}

func (f *fakeTaskService) Get(_ context.Context, id string) (*domain.TaskDetail, error) {
	return f.getFn(id)
}

func (f *fakeTaskService) List(_ context.Context, filter postgres.TaskFilter) ([]domain.TaskDetail, error) {
	return f.listFn(filter)
}

type fakeDirectory struct {
	members map[string]domain.Member
}

var _ postgres.Directory = (*fakeDirectory)(nil)

func (d *fakeDirectory) Members(context.Context, []string) (map[string]domain.Member, error) {
	return nil, nil
}

func (d *fakeDirectory) Projects(context.Context, []string) (map[string]domain.Project, error) {
	return nil, nil
}

func (d *fakeDirectory) Actor(_ context.Context, workspaceID, memberID string) (domain.Member, error) {
	if m, ok := d.members[memberID]; ok {
		return m, nil
	}
	return domain.Member{}, &domain.MemberNotFoundError{MemberID: memberID, WorkspaceID: workspaceID}
}

type fakePresence struct {
	beats  map[string][]string
	active []string
	err    error
}

var _ redisstore.Presence = (*fakePresence)(nil)

func (p *fakePresence) Heartbeat(_ context.Context, workspaceID, memberID string) error {
	if p.err != nil {
		return p.err
	}
	if p.beats == nil {
		p.beats = make(map[string][]string)
	}
	p.beats[workspaceID] = append(p.beats[workspaceID], memberID)
	return nil
}

func (p *fakePresence) Active(context.Context, string) ([]string, error) {
	return p.active, p.err
}

type fakeLimiter struct {
	allow bool
	err   error
	keys  []string
}

var _ redisstore.RateLimiter = (*fakeLimiter)(nil)

func (l *fakeLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.keys = append(l.keys, key)
	return l.allow, l.err
}

func (l *fakeLimiter) Limit() int { return 10 }

// ── helpers ────────────────────────────────────────────────────────────

func detailFor(id string) *domain.TaskDetail {
	return &domain.TaskDetail{Task: domain.Task{
		ID: id, Name: "task " + id, Status: domain.StatusTodo, WorkspaceID: "w1", Position: 1000,
	}}
}

func newTestRouter(svc TaskService, limit func(http.Handler) http.Handler) http.Handler {
	dir := &fakeDirectory{members: map[string]domain.Member{
		"m1": {ID: "m1", UserID: "u1", WorkspaceID: "w1", Role: domain.RoleMember},
	}}
	h := NewREST(svc, dir, &fakePresence{}, telemetryTestLogger())
	r := chi.NewRouter()
	h.Routes(r, limit)
	return r
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func identityHeaders() map[string]string {
	return map[string]string{headerMemberID: "m1", headerWorkspaceID: "w1"}
}

// ── create ─────────────────────────────────────────────────────────────

func TestCreateTask(t *testing.T) {
	var got service.CreateInput
	svc := &fakeTaskService{createFn: func(in service.CreateInput) (*domain.TaskDetail, error) {
		got = in
		return detailFor("t1"), nil
	}}
	router := newTestRouter(svc, nil)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/tasks", CreateTaskRequest{
		Name:        "ship it",
		Status:      domain.StatusTodo,
		WorkspaceID: "w1",
		AssigneeIDs: []string{"m1"},
	}, nil)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "ship it", got.Name)
	assert.Equal(t, domain.StatusTodo, got.Status)

	var out domain.TaskDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "t1", out.ID)
}

func TestCreateTask_ValidationMapsTo400(t *testing.T) {
	svc := &fakeTaskService{createFn: func(service.CreateInput) (*domain.TaskDetail, error) {
		return nil, &domain.ValidationError{Field: "name", Reason: "required"}
	}}
	router := newTestRouter(svc, nil)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/tasks", CreateTaskRequest{}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateTask_MalformedBody(t *testing.T) {
	svc := &fakeTaskService{createFn: func(service.CreateInput) (*domain.TaskDetail, error) {
		t.Fatal("service must not be called")
		return nil, nil
	}}
	router := newTestRouter(svc, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/tasks", bytes.NewReader([]byte("{nope")))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// ── patch / delete ─────────────────────────────────────────────────────

func TestPatchTask_ResolvesActorFromHeaders(t *testing.T) {
	var gotActor domain.Member
	svc := &fakeTaskService{patchFn: func(actor domain.Member, id string, in service.PatchInput) (*domain.TaskDetail, error) {
		gotActor = actor
		return detailFor(id), nil
	}}
	router := newTestRouter(svc, nil)

	rec := doJSON(t, router, http.MethodPatch, "/api/v1/tasks/t1",
		PatchTaskRequest{}, identityHeaders())

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "m1", gotActor.ID)
}

func TestPatchTask_MissingIdentityHeaders(t *testing.T) {
	svc := &fakeTaskService{patchFn: func(domain.Member, string, service.PatchInput) (*domain.TaskDetail, error) {
		t.Fatal("service must not be called")
		return nil, nil
	}}
	router := newTestRouter(svc, nil)

	rec := doJSON(t, router, http.MethodPatch, "/api/v1/tasks/t1", PatchTaskRequest{}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPatchTask_UnknownMemberMapsTo403(t *testing.T) {
	svc := &fakeTaskService{}
	router := newTestRouter(svc, nil)

	rec := doJSON(t, router, http.MethodPatch, "/api/v1/tasks/t1", PatchTaskRequest{},
		map[string]string{headerMemberID: "stranger", headerWorkspaceID: "w1"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestPatchTask_ErrorTaxonomy(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"unauthorized", &domain.UnauthorizedError{ActorID: "m1", TaskID: "t1"}, http.StatusForbidden},
		{"not found", &domain.TaskNotFoundError{TaskID: "t1"}, http.StatusNotFound},
		{"validation", &domain.ValidationError{Field: "status", Reason: "unknown"}, http.StatusBadRequest},
		{"persistence", &domain.PersistenceError{Op: "update", Err: errors.New("down")}, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeTaskService{patchFn: func(domain.Member, string, service.PatchInput) (*domain.TaskDetail, error) {
				return nil, tt.err
			}}
			router := newTestRouter(svc, nil)

			rec := doJSON(t, router, http.MethodPatch, "/api/v1/tasks/t1",
				PatchTaskRequest{}, identityHeaders())
			assert.Equal(t, tt.code, rec.Code)
		})
	}
}

func TestDeleteTask(t *testing.T) {
	var deleted string
	svc := &fakeTaskService{deleteFn: func(_ domain.Member, id string) error {
		deleted = id
		return nil
	}}
	router := newTestRouter(svc, nil)

	rec := doJSON(t, router, http.MethodDelete, "/api/v1/tasks/t9", nil, identityHeaders())

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "t9", deleted)
}

// ── bulk / queries ─────────────────────────────────────────────────────

func TestBulkUpdateTasks(t *testing.T) {
	var got []board.PositionUpdate
	svc := &fakeTaskService{bulkFn: func(updates []board.PositionUpdate) ([]domain.TaskDetail, error) {
		got = updates
		return []domain.TaskDetail{*detailFor("a"), *detailFor("b")}, nil
	}}
	router := newTestRouter(svc, nil)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/tasks/bulk", BulkUpdateRequest{
		Tasks: []board.PositionUpdate{
			{ID: "a", Status: domain.StatusTodo, Position: 2000},
			{ID: "b", Status: domain.StatusTodo, Position: 1000},
		},
	}, identityHeaders())

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
}

func TestListTasks_BuildsFilterFromQuery(t *testing.T) {
	var got postgres.TaskFilter
	svc := &fakeTaskService{listFn: func(filter postgres.TaskFilter) ([]domain.TaskDetail, error) {
		got = filter
		return []domain.TaskDetail{}, nil
	}}
	router := newTestRouter(svc, nil)

	rec := doJSON(t, router, http.MethodGet,
		"/api/v1/tasks?workspace_id=w1&status=TODO&assignee_id=m1&limit=50&offset=10", nil, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "w1", got.WorkspaceID)
	require.NotNil(t, got.Status)
	assert.Equal(t, domain.StatusTodo, *got.Status)
	assert.Equal(t, "m1", got.AssigneeID)
	assert.Equal(t, 50, got.Limit)
	assert.Equal(t, 10, got.Offset)
}

func TestGetTask_NotFound(t *testing.T) {
	svc := &fakeTaskService{getFn: func(id string) (*domain.TaskDetail, error) {
		return nil, &domain.TaskNotFoundError{TaskID: id}
	}}
	router := newTestRouter(svc, nil)

	rec := doJSON(t, router, http.MethodGet, "/api/v1/tasks/ghost", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthz(t *testing.T) {
	router := newTestRouter(&fakeTaskService{}, nil)
	rec := doJSON(t, router, http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

// ── rate limiting ──────────────────────────────────────────────────────

func TestRateLimit_KeyedByMemberHeader(t *testing.T) {
	limiter := &fakeLimiter{allow: true}
	svc := &fakeTaskService{createFn: func(service.CreateInput) (*domain.TaskDetail, error) {
		return detailFor("t1"), nil
	}}
	router := newTestRouter(svc, RateLimit(limiter, telemetryTestLogger()))

	rec := doJSON(t, router, http.MethodPost, "/api/v1/tasks",
		CreateTaskRequest{Name: "x", Status: domain.StatusTodo, WorkspaceID: "w1"},
		identityHeaders())

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Len(t, limiter.keys, 1)
	assert.Equal(t, "m1", limiter.keys[0])
}

func TestRateLimit_Exceeded(t *testing.T) {
	limiter := &fakeLimiter{allow: false}
	svc := &fakeTaskService{createFn: func(service.CreateInput) (*domain.TaskDetail, error) {
		t.Fatal("service must not be called")
		return nil, nil
	}}
	router := newTestRouter(svc, RateLimit(limiter, telemetryTestLogger()))

	rec := doJSON(t, router, http.MethodPost, "/api/v1/tasks",
		CreateTaskRequest{Name: "x"}, identityHeaders())
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestRateLimit_BackendErrorFailsOpen(t *testing.T) {
	limiter := &fakeLimiter{err: errors.New("redis down")}
	svc := &fakeTaskService{createFn: func(service.CreateInput) (*domain.TaskDetail, error) {
		return detailFor("t1"), nil
	}}
	router := newTestRouter(svc, RateLimit(limiter, telemetryTestLogger()))

	rec := doJSON(t, router, http.MethodPost, "/api/v1/tasks",
		CreateTaskRequest{Name: "x", Status: domain.StatusTodo, WorkspaceID: "w1"},
		identityHeaders())
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestRateLimit_SkipsReadRoutes(t *testing.T) {
	limiter := &fakeLimiter{allow: false}
	svc := &fakeTaskService{listFn: func(postgres.TaskFilter) ([]domain.TaskDetail, error) {
		return []domain.TaskDetail{}, nil
	}}
	router := newTestRouter(svc, RateLimit(limiter, telemetryTestLogger()))

	rec := doJSON(t, router, http.MethodGet, "/api/v1/tasks?workspace_id=w1", nil, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, limiter.keys)
}

// ── presence ───────────────────────────────────────────────────────────

func TestHeartbeatRequiresMemberHeader(t *testing.T) {
	router := newTestRouter(&fakeTaskService{}, nil)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/workspaces/w1/presence", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHeartbeatRecordsMember(t *testing.T) {
	presence := &fakePresence{}
	dir := &fakeDirectory{members: map[string]domain.Member{}}
	h := NewREST(&fakeTaskService{}, dir, presence, telemetryTestLogger())
	r := chi.NewRouter()
	h.Routes(r, nil)

	rec := doJSON(t, r, http.MethodPost, "/api/v1/workspaces/w1/presence", nil,
		map[string]string{headerMemberID: "m1"})

	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{"m1"}, presence.beats["w1"])
}

// telemetryTestLogger returns a logger that keeps test output quiet.
func telemetryTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
