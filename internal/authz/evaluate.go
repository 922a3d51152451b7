package authz

import "fmt"

// Action identifies a mutating or read operation subject to authorization.
// The vocabulary is closed: adding an action means extending Evaluate, which
// is exhaustive over it.
type Action string

const (
	ActionCreateWorkspace        Action = "create-workspace"
	ActionViewWorkspace          Action = "view-workspace"
	ActionAssignWorkspaceManager Action = "assign-workspace-manager"
	ActionAddWorkspaceMember     Action = "add-workspace-member"
	ActionRemoveWorkspaceMember  Action = "remove-workspace-member"
	ActionSetPlatformAdmin       Action = "set-platform-admin"

	ActionCreateProject           Action = "create-project"
	ActionViewProject             Action = "view-project"
	ActionUpdateProject           Action = "update-project"
	ActionDeleteProject           Action = "delete-project"
	ActionAddProjectMember        Action = "add-project-member"
	ActionChangeProjectMemberRole Action = "change-project-member-role"
	ActionRemoveProjectMember     Action = "remove-project-member"

	ActionCreateTask Action = "create-task"
	ActionUpdateTask Action = "update-task"
	ActionDeleteTask Action = "delete-task"
)

// Deny reasons carried by ForbiddenError.
const (
	ReasonNotAMember       = "not-a-member"
	ReasonInsufficientRole = "insufficient-role"
	ReasonUnknownAction    = "unknown-action"
)

// ForbiddenError indicates the effective role is insufficient for an action.
type ForbiddenError struct {
	Action Action
	Role   EffectiveRole
	Reason string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("action %s forbidden for role %s (%s)", e.Action, e.Role, e.Reason)
}

// Evaluate applies the decision table to an already-resolved effective role.
// platform-admin bypasses everything; workspace-manager covers all project
// and task actions within the managed workspace but none of the
// platform-only actions; project roles are scoped to their project.
func Evaluate(role EffectiveRole, action Action) error {
	if role == RolePlatformAdmin {
		return nil
	}
	var minRole EffectiveRole
	switch action {
	case ActionCreateWorkspace, ActionAssignWorkspaceManager, ActionSetPlatformAdmin:
		// platform-only
		minRole = RolePlatformAdmin
	case ActionCreateProject, ActionAddWorkspaceMember, ActionRemoveWorkspaceMember:
		minRole = RoleWorkspaceManager
	case ActionUpdateProject, ActionDeleteProject,
		ActionAddProjectMember, ActionChangeProjectMemberRole, ActionRemoveProjectMember,
		ActionCreateTask, ActionDeleteTask:
		minRole = RoleProjectManager
	case ActionViewProject, ActionUpdateTask:
		minRole = RoleProjectMember
	case ActionViewWorkspace:
		minRole = RoleWorkspaceMember
	default:
		return ForbiddenError{Action: action, Role: role, Reason: ReasonUnknownAction}
	}
	if role >= minRole {
		return nil
	}
	reason := ReasonInsufficientRole
	if role == RoleNone {
		reason = ReasonNotAMember
	}
	return ForbiddenError{Action: action, Role: role, Reason: reason}
}
