package domain

type Actor struct {
	ID                string   `json:"id"`
	Name              string   `json:"name,omitempty"`
	PlatformAdmin     bool     `json:"platform_admin"`
	ManagedWorkspaces []string `json:"managed_workspaces,omitempty"`
	CreatedAt         string   `json:"created_at" format:"date-time"`
}

// Manages reports whether the actor holds the workspace-manager role for the
// given workspace.
func (a Actor) Manages(workspaceID string) bool {
	if workspaceID == "" {
		return false
	}
	for _, id := range a.ManagedWorkspaces {
		if id == workspaceID {
			return true
		}
	}
	return false
}

type Workspace struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Color     string `json:"color,omitempty"`
	OwnerID   string `json:"owner_id"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Project struct {
	ID          string `json:"id"`
	WorkspaceID string `json:"workspace_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	CreatorID   string `json:"creator_id"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type Task struct {
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

// Membership is a stored (actor, resource, role) association. The role string
// is only meaningful relative to the resource kind it was issued for; the
// typed vocabularies live in the authz package.
type Membership struct {
	ResourceID string `json:"resource_id"`
	ActorID    string `json:"actor_id"`
	Role       string `json:"role"`
	AddedAt    string `json:"added_at" format:"date-time"`
}

// AuditRecord is an immutable log entry of an accepted mutation. A nil
// ActorID denotes the platform itself acting. Records outlive the resources
// they describe.
type AuditRecord struct {
	ID         int64          `json:"id"`
	ActorID    *string        `json:"actor_id,omitempty"`
	Action     string         `json:"action"`
	TargetKind string         `json:"target_kind"`
	TargetID   string         `json:"target_id"`
	Details    map[string]any `json:"details,omitempty"`
	CreatedAt  string         `json:"created_at" format:"date-time"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
