package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Markk-dev/Temet-sub000/internal/domain"
)

// Directory is the member-lookup capability the core consumes. It resolves
// denormalized member and project display records for broadcasts and query
// responses, and the workspace role used by the authorization gate.
type Directory interface {
	// Members resolves the given ids to member records. Ids may be either
	// membership ids or user ids; the result is keyed by whichever id was
	// asked for. Unknown ids are simply absent.
	Members(ctx context.Context, ids []string) (map[string]domain.Member, error)
	// Projects resolves project ids to display records. Unknown ids absent.
	Projects(ctx context.Context, ids []string) (map[string]domain.Project, error)
	// Actor resolves the acting member within a workspace.
	Actor(ctx context.Context, workspaceID, memberID string) (domain.Member, error)
}

type directory struct {
	pool *pgxpool.Pool
}

// NewDirectory wraps a pgxpool with the Directory interface.
func NewDirectory(pool *pgxpool.Pool) Directory {
	return &directory{pool: pool}
}

func (d *directory) Members(ctx context.Context, ids []string) (map[string]domain.Member, error) {
	if len(ids) == 0 {
		return map[string]domain.Member{}, nil
	}
	rows, err := d.pool.Query(ctx, `
		SELECT id, user_id, workspace_id, name, email, role
		FROM members
		WHERE id = ANY($1) OR user_id = ANY($1)
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("resolve members: %w", err)
	}
	defer rows.Close()

	byBoth := make(map[string]domain.Member)
	for rows.Next() {
		var m domain.Member
		var role string
		if err := rows.Scan(&m.ID, &m.UserID, &m.WorkspaceID, &m.Name, &m.Email, &role); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		m.Role = domain.Role(role)
		byBoth[m.ID] = m
		byBoth[m.UserID] = m
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make(map[string]domain.Member, len(ids))
	for _, id := range ids {
		if m, ok := byBoth[id]; ok {
			out[id] = m
		}
	}
	return out, nil
}

func (d *directory) Projects(ctx context.Context, ids []string) (map[string]domain.Project, error) {
	if len(ids) == 0 {
		return map[string]domain.Project{}, nil
	}
	rows, err := d.pool.Query(ctx, `
		SELECT id, workspace_id, name FROM projects WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("resolve projects: %w", err)
	}
	defer rows.Close()

	out := make(map[string]domain.Project)
	for rows.Next() {
		var p domain.Project
		if err := rows.Scan(&p.ID, &p.WorkspaceID, &p.Name); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		out[p.ID] = p
	}
	return out, rows.Err()
}

func (d *directory) Actor(ctx context.Context, workspaceID, memberID string) (domain.Member, error) {
	row := d.pool.QueryRow(ctx, `
		SELECT id, user_id, workspace_id, name, email, role
		FROM members
		WHERE workspace_id = $1 AND (id = $2 OR user_id = $2)
	`, workspaceID, memberID)

	var m domain.Member
	var role string
	err := row.Scan(&m.ID, &m.UserID, &m.WorkspaceID, &m.Name, &m.Email, &role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Member{}, &domain.MemberNotFoundError{MemberID: memberID, WorkspaceID: workspaceID}
		}
		return domain.Member{}, fmt.Errorf("resolve actor %s: %w", memberID, err)
	}
	m.Role = domain.Role(role)
	return m, nil
}
