package repo_test

import (
	"context"
	"database/sql"
	"testing"

	"teamline/internal/db"
	"teamline/internal/domain"
	"teamline/internal/migrate"
	"teamline/internal/repo"
)

func newTestRepo(t *testing.T) (repo.Repo, context.Context) {
	t.Helper()
	dir := t.TempDir()
	if _, err := db.EnsureDir(dir); err != nil {
		t.Fatalf("ensure dir: %v", err)
	}
	conn, err := db.Open(db.Config{Dir: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repo.Repo{DB: conn}, context.Background()
}

func inTx(t *testing.T, r repo.Repo, ctx context.Context, fn func(tx *sql.Tx) error) {
	t.Helper()
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		t.Fatalf("tx: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func seedProject(t *testing.T, r repo.Repo, ctx context.Context, projectID string) {
	t.Helper()
	inTx(t, r, ctx, func(tx *sql.Tx) error {
		if err := r.InsertWorkspace(ctx, tx, domain.Workspace{
			ID: "ws-1", Name: "W", OwnerID: "admin", CreatedAt: "2024-01-01T00:00:00Z",
		}); err != nil && projectID != "p-2" {
			return err
		}
		return r.InsertProject(ctx, tx, domain.Project{
			ID: projectID, WorkspaceID: "ws-1", Name: "P", CreatorID: "admin", CreatedAt: "2024-01-01T00:00:00Z",
		})
	})
}

func TestUpsertProjectMemberIsIdempotent(t *testing.T) {
	r, ctx := newTestRepo(t)
	seedProject(t, r, ctx, "p-1")
	inTx(t, r, ctx, func(tx *sql.Tx) error {
		if err := r.EnsureActor(ctx, tx, "bob", "2024-01-01T00:00:00Z"); err != nil {
			return err
		}
		if err := r.UpsertProjectMember(ctx, tx, "p-1", "bob", "member", "2024-01-01T00:00:00Z"); err != nil {
			return err
		}
		return r.UpsertProjectMember(ctx, tx, "p-1", "bob", "manager", "2024-01-02T00:00:00Z")
	})
	members, err := r.ListProjectMembers(ctx, "p-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(members) != 1 {
		t.Fatalf("expected one row, got %d", len(members))
	}
	if members[0].Role != "manager" {
		t.Fatalf("upsert must update role, got %q", members[0].Role)
	}
}

func TestRemoveProjectMemberReportsRemoval(t *testing.T) {
	r, ctx := newTestRepo(t)
	seedProject(t, r, ctx, "p-1")
	inTx(t, r, ctx, func(tx *sql.Tx) error {
		if err := r.EnsureActor(ctx, tx, "bob", "2024-01-01T00:00:00Z"); err != nil {
			return err
		}
		return r.UpsertProjectMember(ctx, tx, "p-1", "bob", "member", "2024-01-01T00:00:00Z")
	})
	var removed bool
	inTx(t, r, ctx, func(tx *sql.Tx) error {
		var err error
		removed, err = r.RemoveProjectMember(ctx, tx, "p-1", "bob")
		return err
	})
	if !removed {
		t.Fatalf("expected removed=true")
	}
	inTx(t, r, ctx, func(tx *sql.Tx) error {
		var err error
		removed, err = r.RemoveProjectMember(ctx, tx, "p-1", "bob")
		return err
	})
	if removed {
		t.Fatalf("expected removed=false for absent row")
	}
	if _, err := r.GetProjectMember(ctx, "p-1", "bob"); err != repo.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCountProjectManagers(t *testing.T) {
	r, ctx := newTestRepo(t)
	seedProject(t, r, ctx, "p-1")
	inTx(t, r, ctx, func(tx *sql.Tx) error {
		for _, m := range []struct{ id, role string }{
			{"a", "manager"}, {"b", "member"}, {"c", "manager"},
		} {
			if err := r.EnsureActor(ctx, tx, m.id, "2024-01-01T00:00:00Z"); err != nil {
				return err
			}
			if err := r.UpsertProjectMember(ctx, tx, "p-1", m.id, m.role, "2024-01-01T00:00:00Z"); err != nil {
				return err
			}
		}
		return nil
	})
	var n int
	inTx(t, r, ctx, func(tx *sql.Tx) error {
		var err error
		n, err = r.CountProjectManagers(ctx, tx, "p-1")
		return err
	})
	if n != 2 {
		t.Fatalf("expected 2 managers, got %d", n)
	}
}

func TestToggleManagedWorkspace(t *testing.T) {
	r, ctx := newTestRepo(t)
	seedProject(t, r, ctx, "p-1")
	inTx(t, r, ctx, func(tx *sql.Tx) error {
		return r.EnsureActor(ctx, tx, "maria", "2024-01-01T00:00:00Z")
	})
	var assigned bool
	inTx(t, r, ctx, func(tx *sql.Tx) error {
		var err error
		assigned, err = r.ToggleManagedWorkspace(ctx, tx, "maria", "ws-1", "2024-01-01T00:00:00Z")
		return err
	})
	if !assigned {
		t.Fatalf("first toggle should assign")
	}
	a, err := r.GetActor(ctx, "maria")
	if err != nil {
		t.Fatal(err)
	}
	if !a.Manages("ws-1") {
		t.Fatalf("expected managed workspace recorded")
	}
	inTx(t, r, ctx, func(tx *sql.Tx) error {
		var err error
		assigned, err = r.ToggleManagedWorkspace(ctx, tx, "maria", "ws-1", "2024-01-02T00:00:00Z")
		return err
	})
	if assigned {
		t.Fatalf("second toggle should remove")
	}
	a, err = r.GetActor(ctx, "maria")
	if err != nil {
		t.Fatal(err)
	}
	if a.Manages("ws-1") {
		t.Fatalf("expected grant removed")
	}
}

func TestAPIKeyLookupByHash(t *testing.T) {
	r, ctx := newTestRepo(t)
	inTx(t, r, ctx, func(tx *sql.Tx) error {
		if err := r.EnsureActor(ctx, tx, "bot", "2024-01-01T00:00:00Z"); err != nil {
			return err
		}
		return r.InsertAPIKey(ctx, tx, domain.APIKey{
			ID:      "key-1",
			ActorID: "bot",
			Name:    "ci",
			KeyHash: repo.HashAPIKey("s3cret"),
		})
	})
	k, err := r.GetAPIKeyByHash(ctx, repo.HashAPIKey("  s3cret "))
	if err != nil {
		t.Fatalf("lookup with surrounding whitespace: %v", err)
	}
	if k.ActorID != "bot" {
		t.Fatalf("unexpected actor %s", k.ActorID)
	}
	if _, err := r.GetAPIKeyByHash(ctx, repo.HashAPIKey("wrong")); err != repo.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := r.DeleteAPIKey(ctx, "key-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := r.GetAPIKeyByHash(ctx, repo.HashAPIKey("s3cret")); err != repo.ErrNotFound {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestTaskCursorPagination(t *testing.T) {
	r, ctx := newTestRepo(t)
	seedProject(t, r, ctx, "p-1")
	inTx(t, r, ctx, func(tx *sql.Tx) error {
		for _, id := range []string{"t-1", "t-2", "t-3"} {
			task := domain.Task{
				ID: id, ProjectID: "p-1", Title: id, Status: "todo",
				CreatedAt: "2024-01-01T00:00:00Z", UpdatedAt: "2024-01-01T00:00:00Z",
			}
			if err := r.InsertTask(ctx, tx, task); err != nil {
				return err
			}
		}
		return nil
	})
	page1, err := r.ListTasks(ctx, repo.TaskFilters{ProjectID: "p-1", Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(page1) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(page1))
	}
	last := page1[len(page1)-1]
	page2, err := r.ListTasks(ctx, repo.TaskFilters{
		ProjectID:       "p-1",
		Limit:           2,
		CursorCreatedAt: last.CreatedAt,
		CursorID:        last.ID,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(page2) != 1 {
		t.Fatalf("expected 1 remaining task, got %d", len(page2))
	}
	for _, got := range page1 {
		if got.ID == page2[0].ID {
			t.Fatalf("pages overlap on %s", got.ID)
		}
	}
}

func TestProjectDeleteCascadesMemberships(t *testing.T) {
	r, ctx := newTestRepo(t)
	seedProject(t, r, ctx, "p-1")
	inTx(t, r, ctx, func(tx *sql.Tx) error {
		if err := r.EnsureActor(ctx, tx, "bob", "2024-01-01T00:00:00Z"); err != nil {
			return err
		}
		return r.UpsertProjectMember(ctx, tx, "p-1", "bob", "member", "2024-01-01T00:00:00Z")
	})
	inTx(t, r, ctx, func(tx *sql.Tx) error {
		return r.DeleteProject(ctx, tx, "p-1")
	})
	if _, err := r.GetProject(ctx, "p-1"); err != repo.ErrNotFound {
		t.Fatalf("expected ErrNotFound for project, got %v", err)
	}
	members, err := r.ListProjectMembers(ctx, "p-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(members) != 0 {
		t.Fatalf("expected memberships gone, got %v", members)
	}
}
