package authz

import (
	"context"
	"errors"

	"teamline/internal/domain"
	"teamline/internal/repo"
)

// MembershipReader is the read-only slice of the membership store the
// resolver needs. It never mutates state.
type MembershipReader interface {
	GetProjectMember(ctx context.Context, projectID, actorID string) (domain.Membership, error)
	GetWorkspaceMember(ctx context.Context, workspaceID, actorID string) (domain.Membership, error)
}

// Resolver computes the effective role of an actor against a resource by
// walking platform, workspace and project scopes top-down. First match wins.
type Resolver struct {
	Members MembershipReader
}

// Resolve is idempotent and side-effect-free. Priority order:
//  1. platform-admin flag on the actor,
//  2. workspace-manager via the actor's managed-workspace set,
//  3. explicit membership row on the resource itself,
//  4. none.
func (r Resolver) Resolve(ctx context.Context, actor domain.Actor, target Target) (EffectiveRole, error) {
	if actor.PlatformAdmin {
		return RolePlatformAdmin, nil
	}
	if actor.Manages(target.WorkspaceID) {
		return RoleWorkspaceManager, nil
	}
	switch target.Kind {
	case TargetProject, TargetTask:
		m, err := r.Members.GetProjectMember(ctx, target.ProjectID, actor.ID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return RoleNone, nil
			}
			return RoleNone, err
		}
		switch ProjectRole(m.Role) {
		case ProjectRoleManager:
			return RoleProjectManager, nil
		case ProjectRoleMember:
			return RoleProjectMember, nil
		}
		return RoleNone, nil
	case TargetWorkspace:
		_, err := r.Members.GetWorkspaceMember(ctx, target.WorkspaceID, actor.ID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return RoleNone, nil
			}
			return RoleNone, err
		}
		return RoleWorkspaceMember, nil
	}
	return RoleNone, nil
}
