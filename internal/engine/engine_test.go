package engine_test

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"teamline/internal/audit"
	"teamline/internal/authz"
	"teamline/internal/db"
	"teamline/internal/engine"
	"teamline/internal/migrate"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
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
	eng := engine.New(conn, log.New(io.Discard, "", 0))
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	seedAdmin(t, ctx, eng, "admin")
	return testEnv{Engine: eng, Ctx: ctx}
}

func seedAdmin(t *testing.T, ctx context.Context, eng engine.Engine, id string) {
	t.Helper()
	tx, err := eng.DB.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := eng.Repo.EnsureActor(ctx, tx, id, "2024-01-01T00:00:00Z"); err != nil {
		t.Fatalf("ensure actor: %v", err)
	}
	if err := eng.Repo.SetPlatformAdmin(ctx, tx, id, true); err != nil {
		t.Fatalf("set admin: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

// The canonical hierarchy walk: an admin creates a workspace, hands the
// workspace-manager role to M, and M creates a project in it without ever
// appearing in the workspace's member list.
func TestManagerCreatesProjectWithoutWorkspaceMembership(t *testing.T) {
	env := newTestEnv(t)
	w, err := env.Engine.CreateWorkspace(env.Ctx, "admin", engine.WorkspaceCreateOptions{Name: "Acme"})
	if err != nil {
		t.Fatalf("create workspace: %v", err)
	}
	assigned, err := env.Engine.ToggleWorkspaceManager(env.Ctx, "admin", w.ID, "maria")
	if err != nil {
		t.Fatalf("toggle manager: %v", err)
	}
	if !assigned {
		t.Fatalf("expected manager assigned")
	}
	// maria has no workspace membership row, only the managed-workspace grant
	members, err := env.Engine.Repo.ListWorkspaceMembers(env.Ctx, w.ID)
	if err != nil {
		t.Fatalf("list workspace members: %v", err)
	}
	for _, m := range members {
		if m.ActorID == "maria" {
			t.Fatalf("manager should not appear as workspace member")
		}
	}
	p, err := env.Engine.CreateProject(env.Ctx, "maria", engine.ProjectCreateOptions{WorkspaceID: w.ID, Name: "Launch"})
	if err != nil {
		t.Fatalf("create project as manager: %v", err)
	}
	// creator becomes the project's first manager
	pm, err := env.Engine.Repo.GetProjectMember(env.Ctx, p.ID, "maria")
	if err != nil {
		t.Fatalf("get project member: %v", err)
	}
	if pm.Role != "manager" {
		t.Fatalf("expected manager role, got %q", pm.Role)
	}

	if err := env.Engine.AddProjectMember(env.Ctx, "maria", p.ID, "bob", "member"); err != nil {
		t.Fatalf("add member: %v", err)
	}
	if err := env.Engine.ChangeProjectMemberRole(env.Ctx, "maria", p.ID, "bob", "manager"); err != nil {
		t.Fatalf("promote bob: %v", err)
	}

	// project trail, newest first: updated_project, added_member, created_project
	records, err := env.Engine.ProjectActivity(env.Ctx, "maria", p.ID, audit.ListFilters{})
	if err != nil {
		t.Fatalf("activity: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	want := []string{"updated_project", "added_member", "created_project"}
	for i, rec := range records {
		if rec.Action != want[i] {
			t.Fatalf("record %d: got %s want %s", i, rec.Action, want[i])
		}
	}
}

func TestToggleWorkspaceManagerTwiceRemoves(t *testing.T) {
	env := newTestEnv(t)
	w, err := env.Engine.CreateWorkspace(env.Ctx, "admin", engine.WorkspaceCreateOptions{Name: "Acme"})
	if err != nil {
		t.Fatal(err)
	}
	assigned, err := env.Engine.ToggleWorkspaceManager(env.Ctx, "admin", w.ID, "maria")
	if err != nil || !assigned {
		t.Fatalf("first toggle: assigned=%v err=%v", assigned, err)
	}
	assigned, err = env.Engine.ToggleWorkspaceManager(env.Ctx, "admin", w.ID, "maria")
	if err != nil || assigned {
		t.Fatalf("second toggle: assigned=%v err=%v", assigned, err)
	}
	// with the grant gone maria may no longer create projects
	_, err = env.Engine.CreateProject(env.Ctx, "maria", engine.ProjectCreateOptions{WorkspaceID: w.ID, Name: "Launch"})
	var fe authz.ForbiddenError
	if !errors.As(err, &fe) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if fe.Reason != authz.ReasonNotAMember {
		t.Fatalf("expected not-a-member, got %s", fe.Reason)
	}
	// the trail kept both transitions
	records, err := env.Engine.WorkspaceActivity(env.Ctx, "admin", w.ID, audit.ListFilters{})
	if err != nil {
		t.Fatal(err)
	}
	var actions []string
	for _, rec := range records {
		actions = append(actions, rec.Action)
	}
	if len(actions) != 3 || actions[0] != "unassigned_manager" || actions[1] != "assigned_manager" {
		t.Fatalf("unexpected trail %v", actions)
	}
}

func TestLastManagerCannotBeDemotedOrRemoved(t *testing.T) {
	env := newTestEnv(t)
	w, _ := env.Engine.CreateWorkspace(env.Ctx, "admin", engine.WorkspaceCreateOptions{Name: "Acme"})
	p, err := env.Engine.CreateProject(env.Ctx, "admin", engine.ProjectCreateOptions{WorkspaceID: w.ID, Name: "Solo"})
	if err != nil {
		t.Fatal(err)
	}
	var ce engine.ConflictError
	err = env.Engine.ChangeProjectMemberRole(env.Ctx, "admin", p.ID, "admin", "member")
	if !errors.As(err, &ce) {
		t.Fatalf("expected conflict on demote, got %v", err)
	}
	err = env.Engine.RemoveProjectMember(env.Ctx, "admin", p.ID, "admin")
	if !errors.As(err, &ce) {
		t.Fatalf("expected conflict on remove, got %v", err)
	}
	// a second manager unblocks both
	if err := env.Engine.AddProjectMember(env.Ctx, "admin", p.ID, "bob", "manager"); err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.RemoveProjectMember(env.Ctx, "admin", p.ID, "admin"); err != nil {
		t.Fatalf("remove after second manager: %v", err)
	}
}

func TestRemoveAbsentMemberIsSilent(t *testing.T) {
	env := newTestEnv(t)
	w, _ := env.Engine.CreateWorkspace(env.Ctx, "admin", engine.WorkspaceCreateOptions{Name: "Acme"})
	p, _ := env.Engine.CreateProject(env.Ctx, "admin", engine.ProjectCreateOptions{WorkspaceID: w.ID, Name: "P"})
	before, err := env.Engine.ProjectActivity(env.Ctx, "admin", p.ID, audit.ListFilters{})
	if err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.RemoveProjectMember(env.Ctx, "admin", p.ID, "ghost"); err != nil {
		t.Fatalf("expected no-op, got %v", err)
	}
	after, err := env.Engine.ProjectActivity(env.Ctx, "admin", p.ID, audit.ListFilters{})
	if err != nil {
		t.Fatal(err)
	}
	if len(after) != len(before) {
		t.Fatalf("no-op removal must not append audit records")
	}
}

func TestMemberCannotManageMembership(t *testing.T) {
	env := newTestEnv(t)
	w, _ := env.Engine.CreateWorkspace(env.Ctx, "admin", engine.WorkspaceCreateOptions{Name: "Acme"})
	p, _ := env.Engine.CreateProject(env.Ctx, "admin", engine.ProjectCreateOptions{WorkspaceID: w.ID, Name: "P"})
	if err := env.Engine.AddProjectMember(env.Ctx, "admin", p.ID, "bob", "member"); err != nil {
		t.Fatal(err)
	}
	err := env.Engine.ChangeProjectMemberRole(env.Ctx, "bob", p.ID, "bob", "manager")
	var fe authz.ForbiddenError
	if !errors.As(err, &fe) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if fe.Reason != authz.ReasonInsufficientRole {
		t.Fatalf("expected insufficient-role, got %s", fe.Reason)
	}
	if err := env.Engine.AddProjectMember(env.Ctx, "bob", p.ID, "eve", "member"); !errors.As(err, &fe) {
		t.Fatalf("member must not add members, got %v", err)
	}
}

func TestTaskLifecycleAppearsInProjectTrail(t *testing.T) {
	env := newTestEnv(t)
	w, _ := env.Engine.CreateWorkspace(env.Ctx, "admin", engine.WorkspaceCreateOptions{Name: "Acme"})
	p, _ := env.Engine.CreateProject(env.Ctx, "admin", engine.ProjectCreateOptions{WorkspaceID: w.ID, Name: "P"})
	task, err := env.Engine.CreateTask(env.Ctx, "admin", engine.TaskCreateOptions{ProjectID: p.ID, Title: "Ship it"})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if task.Status != "todo" {
		t.Fatalf("expected todo, got %s", task.Status)
	}
	task, err = env.Engine.UpdateTask(env.Ctx, "admin", engine.TaskUpdateOptions{ID: task.ID, Status: "done"})
	if err != nil {
		t.Fatalf("complete task: %v", err)
	}
	if task.Status != "done" {
		t.Fatalf("expected done, got %s", task.Status)
	}
	records, err := env.Engine.ProjectActivity(env.Ctx, "admin", p.ID, audit.ListFilters{})
	if err != nil {
		t.Fatal(err)
	}
	var sawCreated, sawCompleted bool
	for _, rec := range records {
		if rec.TargetKind != "project" {
			t.Fatalf("task records must target the project, got %s", rec.TargetKind)
		}
		switch rec.Action {
		case "created_task":
			sawCreated = true
		case "completed_task":
			sawCompleted = true
			if rec.Details["task_id"] != task.ID {
				t.Fatalf("expected task_id detail, got %v", rec.Details)
			}
		}
	}
	if !sawCreated || !sawCompleted {
		t.Fatalf("missing task records in trail")
	}
}

func TestInvalidTaskStatusRejected(t *testing.T) {
	env := newTestEnv(t)
	w, _ := env.Engine.CreateWorkspace(env.Ctx, "admin", engine.WorkspaceCreateOptions{Name: "Acme"})
	p, _ := env.Engine.CreateProject(env.Ctx, "admin", engine.ProjectCreateOptions{WorkspaceID: w.ID, Name: "P"})
	task, _ := env.Engine.CreateTask(env.Ctx, "admin", engine.TaskCreateOptions{ProjectID: p.ID, Title: "T"})
	if _, err := env.Engine.UpdateTask(env.Ctx, "admin", engine.TaskUpdateOptions{ID: task.ID, Status: "blocked"}); err == nil {
		t.Fatalf("expected invalid status error")
	}
}

func TestProjectMemberMayUpdateButNotDeleteTasks(t *testing.T) {
	env := newTestEnv(t)
	w, _ := env.Engine.CreateWorkspace(env.Ctx, "admin", engine.WorkspaceCreateOptions{Name: "Acme"})
	p, _ := env.Engine.CreateProject(env.Ctx, "admin", engine.ProjectCreateOptions{WorkspaceID: w.ID, Name: "P"})
	if err := env.Engine.AddProjectMember(env.Ctx, "admin", p.ID, "bob", "member"); err != nil {
		t.Fatal(err)
	}
	task, _ := env.Engine.CreateTask(env.Ctx, "admin", engine.TaskCreateOptions{ProjectID: p.ID, Title: "T"})
	if _, err := env.Engine.UpdateTask(env.Ctx, "bob", engine.TaskUpdateOptions{ID: task.ID, Status: "in_progress"}); err != nil {
		t.Fatalf("member update: %v", err)
	}
	var fe authz.ForbiddenError
	if err := env.Engine.DeleteTask(env.Ctx, "bob", task.ID); !errors.As(err, &fe) {
		t.Fatalf("expected forbidden delete, got %v", err)
	}
	if _, err := env.Engine.CreateTask(env.Ctx, "bob", engine.TaskCreateOptions{ProjectID: p.ID, Title: "X"}); !errors.As(err, &fe) {
		t.Fatalf("expected forbidden create, got %v", err)
	}
}

func TestAuditRecordsOutliveProject(t *testing.T) {
	env := newTestEnv(t)
	w, _ := env.Engine.CreateWorkspace(env.Ctx, "admin", engine.WorkspaceCreateOptions{Name: "Acme"})
	p, _ := env.Engine.CreateProject(env.Ctx, "admin", engine.ProjectCreateOptions{WorkspaceID: w.ID, Name: "Doomed"})
	if err := env.Engine.DeleteProject(env.Ctx, "admin", p.ID); err != nil {
		t.Fatalf("delete project: %v", err)
	}
	var count int
	err := env.Engine.DB.QueryRowContext(env.Ctx, `SELECT count(*) FROM audit_records WHERE target_id=?`, p.ID).Scan(&count)
	if err != nil && err != sql.ErrNoRows {
		t.Fatal(err)
	}
	if count == 0 {
		t.Fatalf("records must survive project deletion")
	}
}

func TestSetPlatformAdminRequiresAdmin(t *testing.T) {
	env := newTestEnv(t)
	var fe authz.ForbiddenError
	if err := env.Engine.SetPlatformAdmin(env.Ctx, "nobody", "eve", true); !errors.As(err, &fe) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if err := env.Engine.SetPlatformAdmin(env.Ctx, "admin", "eve", true); err != nil {
		t.Fatalf("admin grant: %v", err)
	}
	// eve now passes platform-only checks
	if _, err := env.Engine.CreateWorkspace(env.Ctx, "eve", engine.WorkspaceCreateOptions{Name: "Eve's"}); err != nil {
		t.Fatalf("new admin create workspace: %v", err)
	}
}

func TestUnknownActorResolvesToNone(t *testing.T) {
	env := newTestEnv(t)
	w, _ := env.Engine.CreateWorkspace(env.Ctx, "admin", engine.WorkspaceCreateOptions{Name: "Acme"})
	p, _ := env.Engine.CreateProject(env.Ctx, "admin", engine.ProjectCreateOptions{WorkspaceID: w.ID, Name: "P"})
	role, err := env.Engine.Authorize(env.Ctx, "never-seen", authz.ProjectTarget(p.ID, w.ID), authz.ActionViewProject)
	var fe authz.ForbiddenError
	if !errors.As(err, &fe) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if role != authz.RoleNone {
		t.Fatalf("expected none, got %s", role)
	}
}

func TestWorkspaceMemberLifecycle(t *testing.T) {
	env := newTestEnv(t)
	w, _ := env.Engine.CreateWorkspace(env.Ctx, "admin", engine.WorkspaceCreateOptions{Name: "Acme"})
	if err := env.Engine.AddWorkspaceMember(env.Ctx, "admin", w.ID, "bob"); err != nil {
		t.Fatal(err)
	}
	// adding twice keeps a single row
	if err := env.Engine.AddWorkspaceMember(env.Ctx, "admin", w.ID, "bob"); err != nil {
		t.Fatal(err)
	}
	members, err := env.Engine.Repo.ListWorkspaceMembers(env.Ctx, w.ID)
	if err != nil {
		t.Fatal(err)
	}
	seen := 0
	for _, m := range members {
		if m.ActorID == "bob" {
			seen++
		}
	}
	if seen != 1 {
		t.Fatalf("expected one membership row for bob, got %d", seen)
	}
	if err := env.Engine.RemoveWorkspaceMember(env.Ctx, "admin", w.ID, "bob"); err != nil {
		t.Fatal(err)
	}
	// bob can no longer view the workspace
	_, err = env.Engine.Authorize(env.Ctx, "bob", authz.WorkspaceTarget(w.ID), authz.ActionViewWorkspace)
	var fe authz.ForbiddenError
	if !errors.As(err, &fe) {
		t.Fatalf("expected forbidden after removal, got %v", err)
	}
}
