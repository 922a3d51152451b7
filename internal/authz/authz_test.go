package authz_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"teamline/internal/authz"
	"teamline/internal/domain"
	"teamline/internal/repo"
)

// fakeMembers serves membership rows from maps keyed resourceID|actorID.
type fakeMembers struct {
	project   map[string]string
	workspace map[string]bool
}

func (f fakeMembers) GetProjectMember(_ context.Context, projectID, actorID string) (domain.Membership, error) {
	role, ok := f.project[projectID+"|"+actorID]
	if !ok {
		return domain.Membership{}, repo.ErrNotFound
	}
	return domain.Membership{ResourceID: projectID, ActorID: actorID, Role: role}, nil
}

func (f fakeMembers) GetWorkspaceMember(_ context.Context, workspaceID, actorID string) (domain.Membership, error) {
	if !f.workspace[workspaceID+"|"+actorID] {
		return domain.Membership{}, repo.ErrNotFound
	}
	return domain.Membership{ResourceID: workspaceID, ActorID: actorID, Role: "member"}, nil
}

func TestResolvePriorityOrder(t *testing.T) {
	ctx := context.Background()
	members := fakeMembers{
		project:   map[string]string{"p-1|ann": "member"},
		workspace: map[string]bool{"ws-1|ann": true},
	}
	r := authz.Resolver{Members: members}

	// the platform-admin flag dominates every membership
	role, err := r.Resolve(ctx, domain.Actor{ID: "ann", PlatformAdmin: true}, authz.ProjectTarget("p-1", "ws-1"))
	require.NoError(t, err)
	assert.Equal(t, authz.RolePlatformAdmin, role)

	// a managed-workspace grant beats the project membership row
	role, err = r.Resolve(ctx, domain.Actor{ID: "ann", ManagedWorkspaces: []string{"ws-1"}}, authz.ProjectTarget("p-1", "ws-1"))
	require.NoError(t, err)
	assert.Equal(t, authz.RoleWorkspaceManager, role)

	// but only against the workspace actually managed
	role, err = r.Resolve(ctx, domain.Actor{ID: "ann", ManagedWorkspaces: []string{"ws-2"}}, authz.ProjectTarget("p-1", "ws-1"))
	require.NoError(t, err)
	assert.Equal(t, authz.RoleProjectMember, role)

	role, err = r.Resolve(ctx, domain.Actor{ID: "ann"}, authz.WorkspaceTarget("ws-1"))
	require.NoError(t, err)
	assert.Equal(t, authz.RoleWorkspaceMember, role)

	role, err = r.Resolve(ctx, domain.Actor{ID: "stranger"}, authz.ProjectTarget("p-1", "ws-1"))
	require.NoError(t, err)
	assert.Equal(t, authz.RoleNone, role)
}

func TestResolveManagerWithoutMembershipRow(t *testing.T) {
	ctx := context.Background()
	r := authz.Resolver{Members: fakeMembers{}}
	actor := domain.Actor{ID: "maria", ManagedWorkspaces: []string{"ws-1"}}

	role, err := r.Resolve(ctx, actor, authz.WorkspaceTarget("ws-1"))
	require.NoError(t, err)
	assert.Equal(t, authz.RoleWorkspaceManager, role)

	// task targets authorize through the parent project's workspace
	role, err = r.Resolve(ctx, actor, authz.TaskTarget("t-1", "p-1", "ws-1"))
	require.NoError(t, err)
	assert.Equal(t, authz.RoleWorkspaceManager, role)
}

func TestResolveProjectManagerRole(t *testing.T) {
	ctx := context.Background()
	r := authz.Resolver{Members: fakeMembers{project: map[string]string{"p-1|lee": "manager"}}}
	role, err := r.Resolve(ctx, domain.Actor{ID: "lee"}, authz.ProjectTarget("p-1", "ws-1"))
	require.NoError(t, err)
	assert.Equal(t, authz.RoleProjectManager, role)
}

func TestEvaluateDecisionTable(t *testing.T) {
	cases := []struct {
		role    authz.EffectiveRole
		action  authz.Action
		allowed bool
	}{
		{authz.RolePlatformAdmin, authz.ActionCreateWorkspace, true},
		{authz.RolePlatformAdmin, authz.ActionDeleteTask, true},
		{authz.RoleWorkspaceManager, authz.ActionCreateWorkspace, false},
		{authz.RoleWorkspaceManager, authz.ActionAssignWorkspaceManager, false},
		{authz.RoleWorkspaceManager, authz.ActionCreateProject, true},
		{authz.RoleWorkspaceManager, authz.ActionAddWorkspaceMember, true},
		{authz.RoleWorkspaceManager, authz.ActionDeleteProject, true},
		{authz.RoleWorkspaceManager, authz.ActionDeleteTask, true},
		{authz.RoleProjectManager, authz.ActionCreateProject, false},
		{authz.RoleProjectManager, authz.ActionAddProjectMember, true},
		{authz.RoleProjectManager, authz.ActionChangeProjectMemberRole, true},
		{authz.RoleProjectManager, authz.ActionCreateTask, true},
		{authz.RoleProjectMember, authz.ActionAddProjectMember, false},
		{authz.RoleProjectMember, authz.ActionUpdateTask, true},
		{authz.RoleProjectMember, authz.ActionDeleteTask, false},
		{authz.RoleProjectMember, authz.ActionViewProject, true},
		{authz.RoleWorkspaceMember, authz.ActionViewWorkspace, true},
		{authz.RoleWorkspaceMember, authz.ActionViewProject, false},
		{authz.RoleNone, authz.ActionViewWorkspace, false},
	}
	for _, tc := range cases {
		err := authz.Evaluate(tc.role, tc.action)
		if tc.allowed {
			assert.NoErrorf(t, err, "%s should allow %s", tc.role, tc.action)
		} else {
			assert.Errorf(t, err, "%s should deny %s", tc.role, tc.action)
		}
	}
}

func TestEvaluateDenyReasons(t *testing.T) {
	var fe authz.ForbiddenError

	err := authz.Evaluate(authz.RoleNone, authz.ActionViewProject)
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, authz.ReasonNotAMember, fe.Reason)

	err = authz.Evaluate(authz.RoleProjectMember, authz.ActionDeleteProject)
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, authz.ReasonInsufficientRole, fe.Reason)
	assert.Equal(t, authz.ActionDeleteProject, fe.Action)
	assert.Equal(t, authz.RoleProjectMember, fe.Role)

	err = authz.Evaluate(authz.RoleProjectManager, authz.Action("launch-rocket"))
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, authz.ReasonUnknownAction, fe.Reason)

	// unknown actions are still granted to platform admins
	assert.NoError(t, authz.Evaluate(authz.RolePlatformAdmin, authz.Action("launch-rocket")))
}

func TestForbiddenErrorMessage(t *testing.T) {
	err := authz.Evaluate(authz.RoleWorkspaceMember, authz.ActionCreateTask)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create-task")
	assert.Contains(t, err.Error(), "workspace-member")
	var fe authz.ForbiddenError
	assert.True(t, errors.As(err, &fe))
}

func TestValidProjectRole(t *testing.T) {
	assert.True(t, authz.ValidProjectRole("manager"))
	assert.True(t, authz.ValidProjectRole("member"))
	assert.False(t, authz.ValidProjectRole("owner"))
	assert.False(t, authz.ValidProjectRole(""))
}

func TestRoleStrings(t *testing.T) {
	assert.Equal(t, "platform-admin", authz.RolePlatformAdmin.String())
	assert.Equal(t, "workspace-manager", authz.RoleWorkspaceManager.String())
	assert.Equal(t, "project-manager", authz.RoleProjectManager.String())
	assert.Equal(t, "project-member", authz.RoleProjectMember.String())
	assert.Equal(t, "workspace-member", authz.RoleWorkspaceMember.String())
	assert.Equal(t, "none", authz.RoleNone.String())
}
