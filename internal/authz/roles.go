// Package authz implements the layered permission model: a closed role
// vocabulary, the role hierarchy resolver and the permission evaluator.
package authz

// WorkspaceRole is a role held through a workspace membership row. The
// workspace-manager role is deliberately not part of this vocabulary: it is
// tracked on the actor's managed-workspace set and resolved as a bypass, so a
// manager may not appear in the workspace's own member listing.
type WorkspaceRole string

const WorkspaceRoleMember WorkspaceRole = "member"

// ProjectRole is a role held through a project membership row.
type ProjectRole string

const (
	ProjectRoleManager ProjectRole = "manager"
	ProjectRoleMember  ProjectRole = "member"
)

// ValidProjectRole reports whether the wire string names a project role.
func ValidProjectRole(s string) bool {
	switch ProjectRole(s) {
	case ProjectRoleManager, ProjectRoleMember:
		return true
	}
	return false
}

// EffectiveRole is the single highest-priority role an actor holds against a
// specific resource. Values are ordered by scope so higher scope always
// dominates, but the evaluator decides per action rather than by comparison.
type EffectiveRole int

const (
	RoleNone EffectiveRole = iota
	RoleWorkspaceMember
	RoleProjectMember
	RoleProjectManager
	RoleWorkspaceManager
	RolePlatformAdmin
)

func (r EffectiveRole) String() string {
	switch r {
	case RolePlatformAdmin:
		return "platform-admin"
	case RoleWorkspaceManager:
		return "workspace-manager"
	case RoleProjectManager:
		return "project-manager"
	case RoleProjectMember:
		return "project-member"
	case RoleWorkspaceMember:
		return "workspace-member"
	default:
		return "none"
	}
}

// TargetKind identifies the resource kind an authorization decision is about.
type TargetKind string

const (
	TargetWorkspace TargetKind = "workspace"
	TargetProject   TargetKind = "project"
	TargetTask      TargetKind = "task"
	TargetActor     TargetKind = "actor"
)

// Target locates a resource in the workspace/project hierarchy. WorkspaceID
// is the owning workspace for project and task targets, and the resource
// itself for workspace targets. ProjectID is set for project and task
// targets; task actions are authorized through the parent project.
type Target struct {
	Kind        TargetKind
	ID          string
	WorkspaceID string
	ProjectID   string
}

func WorkspaceTarget(workspaceID string) Target {
	return Target{Kind: TargetWorkspace, ID: workspaceID, WorkspaceID: workspaceID}
}

func ProjectTarget(projectID, workspaceID string) Target {
	return Target{Kind: TargetProject, ID: projectID, WorkspaceID: workspaceID, ProjectID: projectID}
}

func TaskTarget(taskID, projectID, workspaceID string) Target {
	return Target{Kind: TargetTask, ID: taskID, WorkspaceID: workspaceID, ProjectID: projectID}
}

// PlatformTarget is used for actions that are not scoped to any resource
// instance, such as creating a workspace.
func PlatformTarget() Target {
	return Target{}
}
