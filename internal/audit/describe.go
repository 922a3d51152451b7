package audit

import (
	"strings"

	"teamline/internal/domain"
)

// Action identifies what a record describes. The vocabulary is closed; the
// textual fallback in Render exists only for unknown historical records, not
// as an escape hatch for new code.
type Action string

const (
	ActionCreatedWorkspace  Action = "created_workspace"
	ActionAssignedManager   Action = "assigned_manager"
	ActionUnassignedManager Action = "unassigned_manager"
	ActionSetAdmin          Action = "set_admin"

	ActionCreatedProject Action = "created_project"
	ActionUpdatedProject Action = "updated_project"
	ActionDeletedProject Action = "deleted_project"
	ActionAddedMember    Action = "added_member"
	ActionRemovedMember  Action = "removed_member"

	ActionCreatedTask   Action = "created_task"
	ActionUpdatedTask   Action = "updated_task"
	ActionCompletedTask Action = "completed_task"
	ActionDeletedTask   Action = "deleted_task"
)

var descriptions = map[Action]string{
	ActionCreatedWorkspace:  "created the workspace",
	ActionAssignedManager:   "assigned a workspace manager",
	ActionUnassignedManager: "removed a workspace manager",
	ActionSetAdmin:          "changed platform admin status",
	ActionCreatedProject:    "created the project",
	ActionUpdatedProject:    "updated the project",
	ActionDeletedProject:    "deleted the project",
	ActionAddedMember:       "added a member",
	ActionRemovedMember:     "removed a member",
	ActionCreatedTask:       "created a task",
	ActionUpdatedTask:       "updated a task",
	ActionCompletedTask:     "completed a task",
	ActionDeletedTask:       "deleted a task",
}

// Describe returns the template for a known action, or the empty string.
func Describe(action Action) string {
	return descriptions[action]
}

// Render returns a human-readable description for a record: the details
// description override verbatim when present, else the action template, else
// the identifier with separators spaced out. Never empty for a non-empty
// action.
func Render(rec domain.AuditRecord) string {
	if rec.Details != nil {
		if v, ok := rec.Details["description"]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	if tmpl := descriptions[Action(rec.Action)]; tmpl != "" {
		return tmpl
	}
	replacer := strings.NewReplacer("_", " ", "-", " ", ".", " ")
	return strings.TrimSpace(replacer.Replace(rec.Action))
}

// ActorLabel names the acting principal of a record. A nil actor is the
// platform itself.
func ActorLabel(actorID *string) string {
	if actorID == nil || *actorID == "" {
		return "Master Admin"
	}
	return *actorID
}
