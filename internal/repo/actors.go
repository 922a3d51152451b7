package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"teamline/internal/domain"
)

// EnsureActor inserts an actor row if missing. Existing rows are untouched.
func (r Repo) EnsureActor(ctx context.Context, tx *sql.Tx, actorID, now string) error {
	if actorID == "" {
		return errors.New("actor_id required")
	}
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO actors(id, created_at) VALUES (?,?)`, actorID, now)
	return err
}

func (r Repo) InsertActor(ctx context.Context, tx *sql.Tx, a domain.Actor) error {
	if a.CreatedAt == "" {
		a.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO actors(id, name, platform_admin, created_at) VALUES (?,?,?,?)`,
		a.ID, nullable(a.Name), boolToInt(a.PlatformAdmin), a.CreatedAt)
	return err
}

// GetActor loads the actor with its managed-workspace set.
func (r Repo) GetActor(ctx context.Context, id string) (domain.Actor, error) {
	var a domain.Actor
	var name sql.NullString
	var admin int
	err := r.DB.QueryRowContext(ctx, `SELECT id, name, platform_admin, created_at FROM actors WHERE id=?`, id).
		Scan(&a.ID, &name, &admin, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	if name.Valid {
		a.Name = name.String
	}
	a.PlatformAdmin = admin != 0
	a.ManagedWorkspaces, err = r.managedWorkspaces(ctx, id)
	return a, err
}

func (r Repo) managedWorkspaces(ctx context.Context, actorID string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT workspace_id FROM managed_workspaces WHERE actor_id=? ORDER BY workspace_id`, actorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r Repo) SetPlatformAdmin(ctx context.Context, tx *sql.Tx, actorID string, admin bool) error {
	res, err := tx.ExecContext(ctx, `UPDATE actors SET platform_admin=? WHERE id=?`, boolToInt(admin), actorID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ToggleManagedWorkspace assigns the workspace-manager role, or removes it if
// already held. Returns true when the role is held after the call. Assigning
// twice is a toggle, not an additive grant.
func (r Repo) ToggleManagedWorkspace(ctx context.Context, tx *sql.Tx, actorID, workspaceID, now string) (bool, error) {
	res, err := tx.ExecContext(ctx, `DELETE FROM managed_workspaces WHERE actor_id=? AND workspace_id=?`, actorID, workspaceID)
	if err != nil {
		return false, err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return false, nil
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO managed_workspaces(actor_id, workspace_id, assigned_at) VALUES (?,?,?)`,
		actorID, workspaceID, now)
	if err != nil {
		return false, err
	}
	return true, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
