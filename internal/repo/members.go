package repo

import (
	"context"
	"database/sql"

	"teamline/internal/domain"
)

// Membership store. At most one row exists per (resource, actor) pair: adds
// are role-overwriting upserts, removes of absent pairs are no-ops.

func (r Repo) UpsertProjectMember(ctx context.Context, tx *sql.Tx, projectID, actorID, role, now string) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO project_members(project_id, actor_id, role, added_at) VALUES (?,?,?,?)
ON CONFLICT(project_id, actor_id) DO UPDATE SET role=excluded.role`, projectID, actorID, role, now)
	return err
}

// SetProjectMemberRole changes an existing row's role in place. ErrNotFound
// when no membership row exists; the check-then-act is a single UPDATE.
func (r Repo) SetProjectMemberRole(ctx context.Context, tx *sql.Tx, projectID, actorID, role string) error {
	res, err := tx.ExecContext(ctx, `UPDATE project_members SET role=? WHERE project_id=? AND actor_id=?`, role, projectID, actorID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// RemoveProjectMember is idempotent: removing an absent pair reports false
// without error.
func (r Repo) RemoveProjectMember(ctx context.Context, tx *sql.Tx, projectID, actorID string) (bool, error) {
	res, err := tx.ExecContext(ctx, `DELETE FROM project_members WHERE project_id=? AND actor_id=?`, projectID, actorID)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r Repo) GetProjectMember(ctx context.Context, projectID, actorID string) (domain.Membership, error) {
	var m domain.Membership
	err := r.DB.QueryRowContext(ctx, `SELECT project_id, actor_id, role, added_at FROM project_members WHERE project_id=? AND actor_id=?`,
		projectID, actorID).Scan(&m.ResourceID, &m.ActorID, &m.Role, &m.AddedAt)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	return m, err
}

// GetProjectMemberTx reads the membership row inside the caller's
// transaction, for check-then-act sequences like last-manager guards.
func (r Repo) GetProjectMemberTx(ctx context.Context, tx *sql.Tx, projectID, actorID string) (domain.Membership, error) {
	var m domain.Membership
	err := tx.QueryRowContext(ctx, `SELECT project_id, actor_id, role, added_at FROM project_members WHERE project_id=? AND actor_id=?`,
		projectID, actorID).Scan(&m.ResourceID, &m.ActorID, &m.Role, &m.AddedAt)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	return m, err
}

func (r Repo) ListProjectMembers(ctx context.Context, projectID string) ([]domain.Membership, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT project_id, actor_id, role, added_at FROM project_members WHERE project_id=? ORDER BY added_at ASC, actor_id ASC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Membership
	for rows.Next() {
		var m domain.Membership
		if err := rows.Scan(&m.ResourceID, &m.ActorID, &m.Role, &m.AddedAt); err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

// CountProjectManagers backs the "always one manager" invariant.
func (r Repo) CountProjectManagers(ctx context.Context, tx *sql.Tx, projectID string) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT count(*) FROM project_members WHERE project_id=? AND role='manager'`, projectID).Scan(&n)
	return n, err
}

func (r Repo) UpsertWorkspaceMember(ctx context.Context, tx *sql.Tx, workspaceID, actorID, role, now string) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO workspace_members(workspace_id, actor_id, role, added_at) VALUES (?,?,?,?)
ON CONFLICT(workspace_id, actor_id) DO UPDATE SET role=excluded.role`, workspaceID, actorID, role, now)
	return err
}

func (r Repo) RemoveWorkspaceMember(ctx context.Context, tx *sql.Tx, workspaceID, actorID string) (bool, error) {
	res, err := tx.ExecContext(ctx, `DELETE FROM workspace_members WHERE workspace_id=? AND actor_id=?`, workspaceID, actorID)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r Repo) GetWorkspaceMember(ctx context.Context, workspaceID, actorID string) (domain.Membership, error) {
	var m domain.Membership
	err := r.DB.QueryRowContext(ctx, `SELECT workspace_id, actor_id, role, added_at FROM workspace_members WHERE workspace_id=? AND actor_id=?`,
		workspaceID, actorID).Scan(&m.ResourceID, &m.ActorID, &m.Role, &m.AddedAt)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	return m, err
}

func (r Repo) ListWorkspaceMembers(ctx context.Context, workspaceID string) ([]domain.Membership, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT workspace_id, actor_id, role, added_at FROM workspace_members WHERE workspace_id=? ORDER BY added_at ASC, actor_id ASC`, workspaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Membership
	for rows.Next() {
		var m domain.Membership
		if err := rows.Scan(&m.ResourceID, &m.ActorID, &m.Role, &m.AddedAt); err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}
