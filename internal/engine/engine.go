// Package engine orchestrates every mutating operation: resolve the actor's
// effective role, evaluate the requested action, apply the mutation in a
// transaction, then append the audit record. The audit append happens after
// commit so a record never describes a rolled-back write.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"teamline/internal/audit"
	"teamline/internal/authz"
	"teamline/internal/domain"
	"teamline/internal/repo"
)

// ConflictError indicates a mutation that would break a structural
// invariant, such as removing a project's last manager.
type ConflictError struct {
	Message string
}

func (e ConflictError) Error() string { return e.Message }

type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Audit    audit.Logger
	Resolver authz.Resolver
	Now      func() time.Time
}

func New(db *sql.DB, logger *log.Logger) Engine {
	r := repo.Repo{DB: db}
	return Engine{
		DB:       db,
		Repo:     r,
		Audit:    audit.Logger{DB: db, Logger: logger},
		Resolver: authz.Resolver{Members: r},
		Now:      time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowString() string {
	return e.now().UTC().Format(time.RFC3339)
}

// loadActor returns the stored actor, or a bare identity with no grants when
// the id has never been seen. Unknown actors resolve to role none rather
// than erroring, since authentication already happened upstream.
func (e Engine) loadActor(ctx context.Context, actorID string) (domain.Actor, error) {
	a, err := e.Repo.GetActor(ctx, actorID)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Actor{ID: actorID}, nil
	}
	return a, err
}

// Authorize resolves the actor's effective role against the target and
// evaluates the action. It is read-only and safe to call speculatively.
func (e Engine) Authorize(ctx context.Context, actorID string, target authz.Target, action authz.Action) (authz.EffectiveRole, error) {
	actor, err := e.loadActor(ctx, actorID)
	if err != nil {
		return authz.RoleNone, err
	}
	role, err := e.Resolver.Resolve(ctx, actor, target)
	if err != nil {
		return authz.RoleNone, err
	}
	if err := authz.Evaluate(role, action); err != nil {
		return role, err
	}
	return role, nil
}

// --- workspaces ---

type WorkspaceCreateOptions struct {
	ID    string
	Name  string
	Color string
}

func (e Engine) CreateWorkspace(ctx context.Context, actorID string, opts WorkspaceCreateOptions) (domain.Workspace, error) {
	if opts.Name == "" {
		return domain.Workspace{}, errors.New("name is required")
	}
	if _, err := e.Authorize(ctx, actorID, authz.PlatformTarget(), authz.ActionCreateWorkspace); err != nil {
		return domain.Workspace{}, err
	}
	now := e.nowString()
	w := domain.Workspace{
		ID:        opts.ID,
		Name:      opts.Name,
		Color:     opts.Color,
		OwnerID:   actorID,
		CreatedAt: now,
	}
	if w.ID == "" {
		w.ID = uuid.New().String()
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Workspace{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.EnsureActor(ctx, tx, actorID, now); err != nil {
		return domain.Workspace{}, err
	}
	if err := e.Repo.InsertWorkspace(ctx, tx, w); err != nil {
		return domain.Workspace{}, fmt.Errorf("insert workspace: %w", err)
	}
	if err := e.Repo.UpsertWorkspaceMember(ctx, tx, w.ID, actorID, string(authz.WorkspaceRoleMember), now); err != nil {
		return domain.Workspace{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Workspace{}, err
	}
	e.Audit.Record(ctx, &actorID, audit.ActionCreatedWorkspace, string(authz.TargetWorkspace), w.ID, audit.Details{"name": w.Name})
	return w, nil
}

// ToggleWorkspaceManager assigns the workspace-manager role to the target
// actor, or removes it when already held. Returns whether the role is held
// after the call.
func (e Engine) ToggleWorkspaceManager(ctx context.Context, actorID, workspaceID, managerID string) (bool, error) {
	w, err := e.Repo.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return false, err
	}
	if _, err := e.Authorize(ctx, actorID, authz.WorkspaceTarget(w.ID), authz.ActionAssignWorkspaceManager); err != nil {
		return false, err
	}
	now := e.nowString()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()
	if err := e.Repo.EnsureActor(ctx, tx, managerID, now); err != nil {
		return false, err
	}
	assigned, err := e.Repo.ToggleManagedWorkspace(ctx, tx, managerID, w.ID, now)
	if err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	action := audit.ActionAssignedManager
	if !assigned {
		action = audit.ActionUnassignedManager
	}
	e.Audit.Record(ctx, &actorID, action, string(authz.TargetWorkspace), w.ID, audit.Details{"manager_id": managerID})
	return assigned, nil
}

func (e Engine) AddWorkspaceMember(ctx context.Context, actorID, workspaceID, memberID string) error {
	w, err := e.Repo.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return err
	}
	if _, err := e.Authorize(ctx, actorID, authz.WorkspaceTarget(w.ID), authz.ActionAddWorkspaceMember); err != nil {
		return err
	}
	now := e.nowString()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.EnsureActor(ctx, tx, memberID, now); err != nil {
		return err
	}
	if err := e.Repo.UpsertWorkspaceMember(ctx, tx, w.ID, memberID, string(authz.WorkspaceRoleMember), now); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	e.Audit.Record(ctx, &actorID, audit.ActionAddedMember, string(authz.TargetWorkspace), w.ID, audit.Details{"member_id": memberID})
	return nil
}

func (e Engine) RemoveWorkspaceMember(ctx context.Context, actorID, workspaceID, memberID string) error {
	w, err := e.Repo.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return err
	}
	if _, err := e.Authorize(ctx, actorID, authz.WorkspaceTarget(w.ID), authz.ActionRemoveWorkspaceMember); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	removed, err := e.Repo.RemoveWorkspaceMember(ctx, tx, w.ID, memberID)
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	if removed {
		e.Audit.Record(ctx, &actorID, audit.ActionRemovedMember, string(authz.TargetWorkspace), w.ID, audit.Details{"member_id": memberID})
	}
	return nil
}

// --- projects ---

type ProjectCreateOptions struct {
	ID          string
	WorkspaceID string
	Name        string
	Description string
}

// CreateProject inserts the project and, unconditionally, a manager
// membership row for its creator. The row is written even when the creator's
// allow came from the platform-admin or workspace-manager bypass, so every
// project always has at least one explicit manager.
func (e Engine) CreateProject(ctx context.Context, actorID string, opts ProjectCreateOptions) (domain.Project, error) {
	if opts.Name == "" {
		return domain.Project{}, errors.New("name is required")
	}
	w, err := e.Repo.GetWorkspace(ctx, opts.WorkspaceID)
	if err != nil {
		return domain.Project{}, err
	}
	if _, err := e.Authorize(ctx, actorID, authz.WorkspaceTarget(w.ID), authz.ActionCreateProject); err != nil {
		return domain.Project{}, err
	}
	now := e.nowString()
	p := domain.Project{
		ID:          opts.ID,
		WorkspaceID: w.ID,
		Name:        opts.Name,
		Description: opts.Description,
		CreatorID:   actorID,
		CreatedAt:   now,
	}
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.EnsureActor(ctx, tx, actorID, now); err != nil {
		return domain.Project{}, err
	}
	if err := e.Repo.InsertProject(ctx, tx, p); err != nil {
		return domain.Project{}, fmt.Errorf("insert project: %w", err)
	}
	if err := e.Repo.UpsertProjectMember(ctx, tx, p.ID, actorID, string(authz.ProjectRoleManager), now); err != nil {
		return domain.Project{}, fmt.Errorf("insert creator membership: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	e.Audit.Record(ctx, &actorID, audit.ActionCreatedProject, string(authz.TargetProject), p.ID, audit.Details{"name": p.Name})
	return p, nil
}

func (e Engine) UpdateProject(ctx context.Context, actorID, projectID string, name, description *string) (domain.Project, error) {
	p, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return p, err
	}
	if _, err := e.Authorize(ctx, actorID, authz.ProjectTarget(p.ID, p.WorkspaceID), authz.ActionUpdateProject); err != nil {
		return p, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return p, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateProject(ctx, tx, p.ID, name, description); err != nil {
		return p, err
	}
	if err := tx.Commit(); err != nil {
		return p, err
	}
	e.Audit.Record(ctx, &actorID, audit.ActionUpdatedProject, string(authz.TargetProject), p.ID, nil)
	return e.Repo.GetProject(ctx, projectID)
}

// DeleteProject removes the project and cascades its memberships and tasks.
// The audit trail is retained for history.
func (e Engine) DeleteProject(ctx context.Context, actorID, projectID string) error {
	p, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return err
	}
	if _, err := e.Authorize(ctx, actorID, authz.ProjectTarget(p.ID, p.WorkspaceID), authz.ActionDeleteProject); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteProject(ctx, tx, p.ID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	e.Audit.Record(ctx, &actorID, audit.ActionDeletedProject, string(authz.TargetProject), p.ID, audit.Details{"name": p.Name})
	return nil
}

// --- project membership ---

func (e Engine) AddProjectMember(ctx context.Context, actorID, projectID, memberID, role string) error {
	if role == "" {
		role = string(authz.ProjectRoleMember)
	}
	if !authz.ValidProjectRole(role) {
		return fmt.Errorf("invalid project role %q", role)
	}
	p, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return err
	}
	if _, err := e.Authorize(ctx, actorID, authz.ProjectTarget(p.ID, p.WorkspaceID), authz.ActionAddProjectMember); err != nil {
		return err
	}
	now := e.nowString()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.EnsureActor(ctx, tx, memberID, now); err != nil {
		return err
	}
	if err := e.Repo.UpsertProjectMember(ctx, tx, p.ID, memberID, role, now); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	e.Audit.Record(ctx, &actorID, audit.ActionAddedMember, string(authz.TargetProject), p.ID, audit.Details{"member_id": memberID, "role": role})
	return nil
}

// ChangeProjectMemberRole changes an existing membership row's role in
// place. The permission check is on the issuing actor, never the target, so
// a member cannot promote themselves. Demoting the last manager is a
// conflict.
func (e Engine) ChangeProjectMemberRole(ctx context.Context, actorID, projectID, memberID, role string) error {
	if !authz.ValidProjectRole(role) {
		return fmt.Errorf("invalid project role %q", role)
	}
	p, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return err
	}
	if _, err := e.Authorize(ctx, actorID, authz.ProjectTarget(p.ID, p.WorkspaceID), authz.ActionChangeProjectMemberRole); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	current, err := e.Repo.GetProjectMemberTx(ctx, tx, p.ID, memberID)
	if err != nil {
		return err
	}
	if current.Role == string(authz.ProjectRoleManager) && role != string(authz.ProjectRoleManager) {
		managers, err := e.Repo.CountProjectManagers(ctx, tx, p.ID)
		if err != nil {
			return err
		}
		if managers <= 1 {
			return ConflictError{Message: "cannot demote the last project manager"}
		}
	}
	if err := e.Repo.SetProjectMemberRole(ctx, tx, p.ID, memberID, role); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	e.Audit.Record(ctx, &actorID, audit.ActionUpdatedProject, string(authz.TargetProject), p.ID, audit.Details{
		"member_id":   memberID,
		"role":        role,
		"description": fmt.Sprintf("changed %s's role to %s", memberID, role),
	})
	return nil
}

// RemoveProjectMember is idempotent: removing an actor who holds no
// membership is a no-op and produces no audit record.
func (e Engine) RemoveProjectMember(ctx context.Context, actorID, projectID, memberID string) error {
	p, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return err
	}
	if _, err := e.Authorize(ctx, actorID, authz.ProjectTarget(p.ID, p.WorkspaceID), authz.ActionRemoveProjectMember); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	current, err := e.Repo.GetProjectMemberTx(ctx, tx, p.ID, memberID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if current.Role == string(authz.ProjectRoleManager) {
		managers, err := e.Repo.CountProjectManagers(ctx, tx, p.ID)
		if err != nil {
			return err
		}
		if managers <= 1 {
			return ConflictError{Message: "cannot remove the last project manager"}
		}
	}
	if _, err := e.Repo.RemoveProjectMember(ctx, tx, p.ID, memberID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	e.Audit.Record(ctx, &actorID, audit.ActionRemovedMember, string(authz.TargetProject), p.ID, audit.Details{"member_id": memberID})
	return nil
}

func (e Engine) ListProjectMembers(ctx context.Context, actorID, projectID string) ([]domain.Membership, error) {
	p, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if _, err := e.Authorize(ctx, actorID, authz.ProjectTarget(p.ID, p.WorkspaceID), authz.ActionViewProject); err != nil {
		return nil, err
	}
	return e.Repo.ListProjectMembers(ctx, p.ID)
}

// --- tasks ---

type TaskCreateOptions struct {
	ID          string
	ProjectID   string
	Title       string
	Description string
	AssigneeID  string
	DueAt       string
}

func (e Engine) CreateTask(ctx context.Context, actorID string, opts TaskCreateOptions) (domain.Task, error) {
	if opts.Title == "" {
		return domain.Task{}, errors.New("title is required")
	}
	p, err := e.Repo.GetProject(ctx, opts.ProjectID)
	if err != nil {
		return domain.Task{}, err
	}
	if _, err := e.Authorize(ctx, actorID, authz.ProjectTarget(p.ID, p.WorkspaceID), authz.ActionCreateTask); err != nil {
		return domain.Task{}, err
	}
	now := e.nowString()
	t := domain.Task{
		ID:          opts.ID,
		ProjectID:   p.ID,
		Title:       opts.Title,
		Description: opts.Description,
		Status:      "todo",
		AssigneeID:  optionalString(opts.AssigneeID),
		DueAt:       optionalString(opts.DueAt),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return t, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
		return t, err
	}
	if err := tx.Commit(); err != nil {
		return t, err
	}
	e.Audit.Record(ctx, &actorID, audit.ActionCreatedTask, string(authz.TargetProject), p.ID, audit.Details{"task_id": t.ID, "title": t.Title})
	return t, nil
}

type TaskUpdateOptions struct {
	ID          string
	Title       string
	Description *string
	Status      string
	Assign      *string
	DueAt       *string
}

func validTaskStatus(s string) bool {
	switch s {
	case "todo", "in_progress", "done":
		return true
	}
	return false
}

func (e Engine) UpdateTask(ctx context.Context, actorID string, opts TaskUpdateOptions) (domain.Task, error) {
	t, err := e.Repo.GetTask(ctx, opts.ID)
	if err != nil {
		return t, err
	}
	p, err := e.Repo.GetProject(ctx, t.ProjectID)
	if err != nil {
		return t, err
	}
	if _, err := e.Authorize(ctx, actorID, authz.TaskTarget(t.ID, p.ID, p.WorkspaceID), authz.ActionUpdateTask); err != nil {
		return t, err
	}
	if opts.Title != "" {
		t.Title = opts.Title
	}
	if opts.Description != nil {
		t.Description = *opts.Description
	}
	if opts.Assign != nil {
		if *opts.Assign == "" {
			t.AssigneeID = nil
		} else {
			t.AssigneeID = opts.Assign
		}
	}
	if opts.DueAt != nil {
		if *opts.DueAt == "" {
			t.DueAt = nil
		} else {
			t.DueAt = opts.DueAt
		}
	}
	completed := false
	if opts.Status != "" && opts.Status != t.Status {
		if !validTaskStatus(opts.Status) {
			return t, fmt.Errorf("invalid task status %q", opts.Status)
		}
		completed = opts.Status == "done"
		t.Status = opts.Status
	}
	t.UpdatedAt = e.nowString()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return t, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return t, err
	}
	if err := tx.Commit(); err != nil {
		return t, err
	}
	action := audit.ActionUpdatedTask
	if completed {
		action = audit.ActionCompletedTask
	}
	e.Audit.Record(ctx, &actorID, action, string(authz.TargetProject), p.ID, audit.Details{"task_id": t.ID, "status": t.Status})
	return t, nil
}

func (e Engine) DeleteTask(ctx context.Context, actorID, taskID string) error {
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	p, err := e.Repo.GetProject(ctx, t.ProjectID)
	if err != nil {
		return err
	}
	if _, err := e.Authorize(ctx, actorID, authz.TaskTarget(t.ID, p.ID, p.WorkspaceID), authz.ActionDeleteTask); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteTask(ctx, tx, t.ID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	e.Audit.Record(ctx, &actorID, audit.ActionDeletedTask, string(authz.TargetProject), p.ID, audit.Details{"task_id": t.ID, "title": t.Title})
	return nil
}

// --- platform administration ---

func (e Engine) SetPlatformAdmin(ctx context.Context, actorID, targetActorID string, admin bool) error {
	if _, err := e.Authorize(ctx, actorID, authz.PlatformTarget(), authz.ActionSetPlatformAdmin); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.EnsureActor(ctx, tx, targetActorID, e.nowString()); err != nil {
		return err
	}
	if err := e.Repo.SetPlatformAdmin(ctx, tx, targetActorID, admin); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	e.Audit.Record(ctx, &actorID, audit.ActionSetAdmin, string(authz.TargetActor), targetActorID, audit.Details{"platform_admin": admin})
	return nil
}

// --- activity feeds ---

func (e Engine) ProjectActivity(ctx context.Context, actorID, projectID string, f audit.ListFilters) ([]domain.AuditRecord, error) {
	p, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if _, err := e.Authorize(ctx, actorID, authz.ProjectTarget(p.ID, p.WorkspaceID), authz.ActionViewProject); err != nil {
		return nil, err
	}
	f.TargetID = p.ID
	return e.Audit.List(ctx, f)
}

func (e Engine) WorkspaceActivity(ctx context.Context, actorID, workspaceID string, f audit.ListFilters) ([]domain.AuditRecord, error) {
	w, err := e.Repo.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	if _, err := e.Authorize(ctx, actorID, authz.WorkspaceTarget(w.ID), authz.ActionViewWorkspace); err != nil {
		return nil, err
	}
	f.TargetID = w.ID
	return e.Audit.List(ctx, f)
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
