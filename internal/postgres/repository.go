package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Markk-dev/Temet-sub000/internal/board"
	"github.com/Markk-dev/Temet-sub000/internal/domain"
)

// TaskFilter narrows a List query. WorkspaceID is required; everything else
// is optional. Limit defaults to 50.
type TaskFilter struct {
	WorkspaceID string
	ProjectID   string
	Status      *domain.Status
	AssigneeID  string
	DueBefore   *time.Time
	DueAfter    *time.Time
	Search      string
	Limit       int
	Offset      int
}

// PartitionStat summarizes one (workspace, status) partition for the
// renumber job.
type PartitionStat struct {
	WorkspaceID string
	Status      domain.Status
	Count       int
	MaxPosition int
	Collisions  bool
}

// TaskRepository abstracts all database access for tasks.
type TaskRepository interface {
	Create(ctx context.Context, task *domain.Task) error
	Update(ctx context.Context, task *domain.Task) error
	Delete(ctx context.Context, id string) error
	GetByID(ctx context.Context, id string) (*domain.Task, error)
	GetByIDs(ctx context.Context, ids []string) ([]*domain.Task, error)
	List(ctx context.Context, filter TaskFilter) ([]*domain.Task, error)
	MaxPosition(ctx context.Context, workspaceID string, status domain.Status) (int, error)
	Partitions(ctx context.Context) ([]PartitionStat, error)
	RenumberPartition(ctx context.Context, workspaceID string, status domain.Status) ([]*domain.Task, error)
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository wraps a pgxpool with the TaskRepository interface.
func NewRepository(pool *pgxpool.Pool) TaskRepository {
	return &repository{pool: pool}
}

// NewPool creates a pgxpool and verifies connectivity.
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return pool, nil
}

const taskColumns = `id, name, status, workspace_id, project_id, assignee_ids,
       due_date, description, position, time_logs, created_at, updated_at, last_active_at`

func (r *repository) Create(ctx context.Context, task *domain.Task) error {
	logs, err := json.Marshal(task.TimeLogs)
	if err != nil {
		return fmt.Errorf("marshal time logs: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO tasks
			(id, name, status, workspace_id, project_id, assignee_ids,
			 due_date, description, position, time_logs, created_at, updated_at, last_active_at)
		VALUES
			($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, $9, $10, $11, $12, $13)
	`,
		task.ID, task.Name, string(task.Status), task.WorkspaceID, task.ProjectID,
		task.AssigneeIDs, task.DueDate, task.Description, task.Position, logs,
		task.CreatedAt, task.UpdatedAt, task.LastActiveAt,
	)
	if err != nil {
		return fmt.Errorf("create task %s: %w", task.ID, err)
	}
	return nil
}

func (r *repository) Update(ctx context.Context, task *domain.Task) error {
	logs, err := json.Marshal(task.TimeLogs)
	if err != nil {
		return fmt.Errorf("marshal time logs: %w", err)
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE tasks
		SET name = $1, status = $2, project_id = NULLIF($3, ''), assignee_ids = $4,
		    due_date = $5, description = $6, position = $7, time_logs = $8,
		    updated_at = $9, last_active_at = $10
		WHERE id = $11
	`,
		task.Name, string(task.Status), task.ProjectID, task.AssigneeIDs,
		task.DueDate, task.Description, task.Position, logs,
		task.UpdatedAt, task.LastActiveAt, task.ID,
	)
	if err != nil {
		return fmt.Errorf("update task %s: %w", task.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return &domain.TaskNotFoundError{TaskID: task.ID}
	}
	return nil
}

func (r *repository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM tasks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete task %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return &domain.TaskNotFoundError{TaskID: id}
	}
	return nil
}

func (r *repository) GetByID(ctx context.Context, id string) (*domain.Task, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id)
	task, err := scanTask(row)
	if err != nil {
		var notFound *domain.TaskNotFoundError
		if errors.As(err, &notFound) {
			return nil, &domain.TaskNotFoundError{TaskID: id}
		}
		return nil, err
	}
	return task, nil
}

func (r *repository) GetByIDs(ctx context.Context, ids []string) ([]*domain.Task, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("get tasks by ids: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

func (r *repository) List(ctx context.Context, filter TaskFilter) ([]*domain.Task, error) {
	where := []string{"workspace_id = $1"}
	args := []any{filter.WorkspaceID}

	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.ProjectID != "" {
		where = append(where, "project_id = "+arg(filter.ProjectID))
	}
	if filter.Status != nil {
		where = append(where, "status = "+arg(string(*filter.Status)))
	}
	if filter.AssigneeID != "" {
		where = append(where, arg(filter.AssigneeID)+" = ANY(assignee_ids)")
	}
	if filter.DueBefore != nil {
		where = append(where, "due_date <= "+arg(*filter.DueBefore))
	}
	if filter.DueAfter != nil {
		where = append(where, "due_date >= "+arg(*filter.DueAfter))
	}
	if filter.Search != "" {
		where = append(where, "name ILIKE "+arg("%"+filter.Search+"%"))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT ` + taskColumns + ` FROM tasks WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY status, position, id LIMIT ` + arg(limit) + ` OFFSET ` + arg(filter.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks for workspace %s: %w", filter.WorkspaceID, err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

func (r *repository) MaxPosition(ctx context.Context, workspaceID string, status domain.Status) (int, error) {
	var max int
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(MAX(position), 0)
		FROM tasks
		WHERE workspace_id = $1 AND status = $2
	`, workspaceID, string(status)).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("max position for %s/%s: %w", workspaceID, status, err)
	}
	return max, nil
}

func (r *repository) Partitions(ctx context.Context) ([]PartitionStat, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT workspace_id, status, COUNT(*), MAX(position),
		       COUNT(*) <> COUNT(DISTINCT position)
		FROM tasks
		GROUP BY workspace_id, status
	`)
	if err != nil {
		return nil, fmt.Errorf("partition stats: %w", err)
	}
	defer rows.Close()

	var stats []PartitionStat
	for rows.Next() {
		var s PartitionStat
		var status string
		if err := rows.Scan(&s.WorkspaceID, &status, &s.Count, &s.MaxPosition, &s.Collisions); err != nil {
			return nil, fmt.Errorf("scan partition stat: %w", err)
		}
		s.Status = domain.Status(status)
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

// RenumberPartition rewrites every position in one partition at full spacing
// inside a single transaction, locking the rows so concurrent mutations
// cannot interleave. Returns the partition in its new order.
func (r *repository) RenumberPartition(ctx context.Context, workspaceID string, status domain.Status) ([]*domain.Task, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin renumber tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
		SELECT id, position FROM tasks
		WHERE workspace_id = $1 AND status = $2
		ORDER BY position, id
		FOR UPDATE
	`, workspaceID, string(status))
	if err != nil {
		return nil, fmt.Errorf("lock partition %s/%s: %w", workspaceID, status, err)
	}

	type rowRef struct {
		id  string
		pos int
	}
	var refs []rowRef
	for rows.Next() {
		var ref rowRef
		if err := rows.Scan(&ref.id, &ref.pos); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan partition row: %w", err)
		}
		refs = append(refs, ref)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read partition: %w", err)
	}

	now := time.Now().UTC()
	for i, ref := range refs {
		desired := board.PositionFor(i)
		if ref.pos == desired {
			continue
		}
		if _, err := tx.Exec(ctx, `
			UPDATE tasks SET position = $1, updated_at = $2 WHERE id = $3
		`, desired, now, ref.id); err != nil {
			return nil, fmt.Errorf("renumber task %s: %w", ref.id, err)
		}
	}

	out, err := tx.Query(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE workspace_id = $1 AND status = $2
		ORDER BY position, id
	`, workspaceID, string(status))
	if err != nil {
		return nil, fmt.Errorf("reload partition %s/%s: %w", workspaceID, status, err)
	}
	tasks, err := scanTasks(out)
	out.Close()
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit renumber: %w", err)
	}
	return tasks, nil
}

// scanTask reads a task row from any pgx row type.
func scanTask(row interface {
	Scan(...any) error
}) (*domain.Task, error) {
	var task domain.Task
	var statusStr string
	var projectID *string
	var logsJSON []byte
	err := row.Scan(
		&task.ID, &task.Name, &statusStr, &task.WorkspaceID, &projectID,
		&task.AssigneeIDs, &task.DueDate, &task.Description, &task.Position,
		&logsJSON, &task.CreatedAt, &task.UpdatedAt, &task.LastActiveAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &domain.TaskNotFoundError{TaskID: "unknown"}
		}
		return nil, fmt.Errorf("scan task: %w", err)
	}
	task.Status = domain.Status(statusStr)
	if projectID != nil {
		task.ProjectID = *projectID
	}
	if len(logsJSON) > 0 {
		if err := json.Unmarshal(logsJSON, &task.TimeLogs); err != nil {
			return nil, fmt.Errorf("unmarshal time logs for %s: %w", task.ID, err)
		}
	}
	return &task, nil
}

func scanTasks(rows pgx.Rows) ([]*domain.Task, error) {
	var tasks []*domain.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}
