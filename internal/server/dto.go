package server

import (
	"teamline/internal/audit"
	"teamline/internal/domain"
)

// Request payloads

type CreateWorkspaceRequest struct {
	ID    *string `json:"id,omitempty"`
	Name  string  `json:"name"`
	Color *string `json:"color,omitempty"`
}

type ToggleManagerRequest struct {
	ActorID string `json:"actor_id"`
}

type AddMemberRequest struct {
	ActorID string `json:"actor_id"`
	Role    string `json:"role,omitempty" enum:"manager,member"`
}

type ChangeMemberRoleRequest struct {
	Role string `json:"role" enum:"manager,member"`
}

type CreateProjectRequest struct {
	ID          *string `json:"id,omitempty"`
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
}

type UpdateProjectRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
}

type CreateTaskRequest struct {
	ID          *string `json:"id,omitempty"`
	Title       string  `json:"title"`
	Description *string `json:"description,omitempty"`
	AssigneeID  *string `json:"assignee_id,omitempty"`
	DueAt       *string `json:"due_at,omitempty" format:"date-time"`
}

type UpdateTaskRequest struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Status      *string `json:"status,omitempty" enum:"todo,in_progress,done"`
	AssigneeID  *string `json:"assignee_id,omitempty"`
	DueAt       *string `json:"due_at,omitempty" format:"date-time"`
}

type SetPlatformAdminRequest struct {
	Admin bool `json:"admin"`
}

type DevLoginRequest struct {
	ActorID string `json:"actor_id"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

// Response payloads

type WorkspaceResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Color     string `json:"color,omitempty"`
	OwnerID   string `json:"owner_id"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type ProjectResponse struct {
	ID          string `json:"id"`
	WorkspaceID string `json:"workspace_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	CreatorID   string `json:"creator_id"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type TaskResponse struct {
	ID          string  `json:"id"`
	ProjectID   string  `json:"project_id"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	Status      string  `json:"status" enum:"todo,in_progress,done"`
	AssigneeID  *string `json:"assignee_id,omitempty"`
	DueAt       *string `json:"due_at,omitempty" format:"date-time"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
	UpdatedAt   string  `json:"updated_at" format:"date-time"`
}

type MembershipResponse struct {
	ActorID string `json:"actor_id"`
	Role    string `json:"role"`
	AddedAt string `json:"added_at" format:"date-time"`
}

type ToggleManagerResponse struct {
	WorkspaceID string `json:"workspace_id"`
	ActorID     string `json:"actor_id"`
	Manager     bool   `json:"manager"`
}

type AuditRecordResponse struct {
	ID          int64          `json:"id"`
	ActorID     *string        `json:"actor_id,omitempty"`
	ActorLabel  string         `json:"actor_label"`
	Action      string         `json:"action"`
	TargetKind  string         `json:"target_kind"`
	TargetID    string         `json:"target_id"`
	Details     map[string]any `json:"details,omitempty"`
	Description string         `json:"description"`
	CreatedAt   string         `json:"created_at" format:"date-time"`
}

type WhoAmIResponse struct {
	ActorID       string   `json:"actor_id"`
	PlatformAdmin bool     `json:"platform_admin"`
	Manages       []string `json:"manages"`
}

type paginatedTasks struct {
	Items      []TaskResponse `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

type paginatedAudit struct {
	Items      []AuditRecordResponse `json:"items"`
	NextCursor string                `json:"next_cursor,omitempty"`
}

// Conversion helpers

func workspaceResponse(w domain.Workspace) WorkspaceResponse {
	return WorkspaceResponse(w)
}

func projectResponse(p domain.Project) ProjectResponse {
	return ProjectResponse(p)
}

func taskResponse(t domain.Task) TaskResponse {
	return TaskResponse(t)
}

func membershipResponse(m domain.Membership) MembershipResponse {
	return MembershipResponse{
		ActorID: m.ActorID,
		Role:    m.Role,
		AddedAt: m.AddedAt,
	}
}

func auditResponse(rec domain.AuditRecord) AuditRecordResponse {
	return AuditRecordResponse{
		ID:          rec.ID,
		ActorID:     rec.ActorID,
		ActorLabel:  audit.ActorLabel(rec.ActorID),
		Action:      rec.Action,
		TargetKind:  rec.TargetKind,
		TargetID:    rec.TargetID,
		Details:     rec.Details,
		Description: audit.Render(rec),
		CreatedAt:   rec.CreatedAt,
	}
}

func mapWorkspaces(items []domain.Workspace) []WorkspaceResponse {
	res := make([]WorkspaceResponse, 0, len(items))
	for _, w := range items {
		res = append(res, workspaceResponse(w))
	}
	return res
}

func mapProjects(items []domain.Project) []ProjectResponse {
	res := make([]ProjectResponse, 0, len(items))
	for _, p := range items {
		res = append(res, projectResponse(p))
	}
	return res
}

func mapTasks(items []domain.Task) []TaskResponse {
	res := make([]TaskResponse, 0, len(items))
	for _, t := range items {
		res = append(res, taskResponse(t))
	}
	return res
}

func mapMemberships(items []domain.Membership) []MembershipResponse {
	res := make([]MembershipResponse, 0, len(items))
	for _, m := range items {
		res = append(res, membershipResponse(m))
	}
	return res
}

func mapAudit(items []domain.AuditRecord) []AuditRecordResponse {
	res := make([]AuditRecordResponse, 0, len(items))
	for _, rec := range items {
		res = append(res, auditResponse(rec))
	}
	return res
}

func stringOrEmpty(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}
