package teamlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Teamline HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	ActorID     string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Workspace represents the API workspace model.
type Workspace struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Color     string `json:"color,omitempty"`
	OwnerID   string `json:"owner_id"`
	CreatedAt string `json:"created_at"`
}

// Project represents the API project model.
type Project struct {
	ID          string `json:"id"`
	WorkspaceID string `json:"workspace_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	CreatorID   string `json:"creator_id"`
	CreatedAt   string `json:"created_at"`
}

// Task represents the API task model.
type Task struct {
	ID          string  `json:"id"`
	ProjectID   string  `json:"project_id"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	Status      string  `json:"status"`
	AssigneeID  *string `json:"assignee_id,omitempty"`
	DueAt       *string `json:"due_at,omitempty"`
	CreatedAt   string  `json:"created_at"`
	UpdatedAt   string  `json:"updated_at"`
}

// Membership represents a member row of a workspace or project.
type Membership struct {
	ActorID string `json:"actor_id"`
	Role    string `json:"role"`
	AddedAt string `json:"added_at"`
}

// AuditRecord represents one audit trail entry.
type AuditRecord struct {
	ID          int64          `json:"id"`
	ActorID     *string        `json:"actor_id"`
	ActorLabel  string         `json:"actor_label"`
	Action      string         `json:"action"`
	TargetKind  string         `json:"target_kind"`
	TargetID    string         `json:"target_id"`
	Details     map[string]any `json:"details,omitempty"`
	Description string         `json:"description"`
	CreatedAt   string         `json:"created_at"`
}

// WhoAmI describes the authenticated actor's standing.
type WhoAmI struct {
	ActorID       string   `json:"actor_id"`
	PlatformAdmin bool     `json:"platform_admin"`
	Manages       []string `json:"manages"`
}

// ToggleManagerResult reports the state after a manager toggle.
type ToggleManagerResult struct {
	WorkspaceID string `json:"workspace_id"`
	ActorID     string `json:"actor_id"`
	Manager     bool   `json:"manager"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedTasks wraps task listings with a cursor.
type PaginatedTasks struct {
	Items      []Task `json:"items"`
	NextCursor string `json:"next_cursor"`
}

// PaginatedAudit wraps audit listings with a cursor.
type PaginatedAudit struct {
	Items      []AuditRecord `json:"items"`
	NextCursor string        `json:"next_cursor"`
}

// CreateWorkspace creates a workspace. Requires platform admin.
func (c *Client) CreateWorkspace(ctx context.Context, name, color string) (Workspace, error) {
	body := map[string]any{"name": name}
	if color != "" {
		body["color"] = color
	}
	var resp Workspace
	err := c.do(ctx, http.MethodPost, "workspaces", body, &resp)
	return resp, err
}

// ToggleWorkspaceManager flips the workspace-manager role for an actor.
func (c *Client) ToggleWorkspaceManager(ctx context.Context, workspaceID, actorID string) (ToggleManagerResult, error) {
	body := map[string]any{"actor_id": actorID}
	var resp ToggleManagerResult
	endpoint := fmt.Sprintf("workspaces/%s/managers/toggle", url.PathEscape(workspaceID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// AddWorkspaceMember adds an actor to a workspace.
func (c *Client) AddWorkspaceMember(ctx context.Context, workspaceID, actorID string) error {
	body := map[string]any{"actor_id": actorID}
	endpoint := fmt.Sprintf("workspaces/%s/members", url.PathEscape(workspaceID))
	return c.do(ctx, http.MethodPost, endpoint, body, nil)
}

// CreateProject creates a project; the caller becomes its first manager.
func (c *Client) CreateProject(ctx context.Context, workspaceID, name, description string) (Project, error) {
	body := map[string]any{"name": name}
	if description != "" {
		body["description"] = description
	}
	var resp Project
	endpoint := fmt.Sprintf("workspaces/%s/projects", url.PathEscape(workspaceID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// AddProjectMember adds an actor to a project with the given role.
func (c *Client) AddProjectMember(ctx context.Context, projectID, actorID, role string) error {
	body := map[string]any{"actor_id": actorID}
	if role != "" {
		body["role"] = role
	}
	endpoint := fmt.Sprintf("projects/%s/members", url.PathEscape(projectID))
	return c.do(ctx, http.MethodPost, endpoint, body, nil)
}

// ChangeProjectMemberRole changes an existing member's role.
func (c *Client) ChangeProjectMemberRole(ctx context.Context, projectID, actorID, role string) error {
	body := map[string]any{"role": role}
	endpoint := fmt.Sprintf("projects/%s/members/%s", url.PathEscape(projectID), url.PathEscape(actorID))
	return c.do(ctx, http.MethodPatch, endpoint, body, nil)
}

// RemoveProjectMember removes an actor from a project.
func (c *Client) RemoveProjectMember(ctx context.Context, projectID, actorID string) error {
	endpoint := fmt.Sprintf("projects/%s/members/%s", url.PathEscape(projectID), url.PathEscape(actorID))
	return c.do(ctx, http.MethodDelete, endpoint, nil, nil)
}

// ProjectMembers lists a project's membership rows.
func (c *Client) ProjectMembers(ctx context.Context, projectID string) ([]Membership, error) {
	var resp []Membership
	endpoint := fmt.Sprintf("projects/%s/members", url.PathEscape(projectID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// CreateTask creates a task in a project.
func (c *Client) CreateTask(ctx context.Context, projectID, title string) (Task, error) {
	body := map[string]any{"title": title}
	var resp Task
	endpoint := fmt.Sprintf("projects/%s/tasks", url.PathEscape(projectID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// TasksPage returns a paginated task listing.
func (c *Client) TasksPage(ctx context.Context, projectID string, limit int, cursor string) (PaginatedTasks, error) {
	endpoint := fmt.Sprintf("projects/%s/tasks", url.PathEscape(projectID))
	endpoint = withPageParams(endpoint, limit, cursor)
	var resp PaginatedTasks
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// ProjectActivity returns the project's audit trail, newest first.
func (c *Client) ProjectActivity(ctx context.Context, projectID string, limit int, cursor string) (PaginatedAudit, error) {
	endpoint := fmt.Sprintf("projects/%s/activity", url.PathEscape(projectID))
	endpoint = withPageParams(endpoint, limit, cursor)
	var resp PaginatedAudit
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// WorkspaceActivity returns the workspace's audit trail, newest first.
func (c *Client) WorkspaceActivity(ctx context.Context, workspaceID string, limit int, cursor string) (PaginatedAudit, error) {
	endpoint := fmt.Sprintf("workspaces/%s/activity", url.PathEscape(workspaceID))
	endpoint = withPageParams(endpoint, limit, cursor)
	var resp PaginatedAudit
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// WhoAmI returns the authenticated actor's grants.
func (c *Client) WhoAmI(ctx context.Context) (WhoAmI, error) {
	var resp WhoAmI
	err := c.do(ctx, http.MethodGet, "me", nil, &resp)
	return resp, err
}

// SetPlatformAdmin grants or revokes the platform-admin flag.
func (c *Client) SetPlatformAdmin(ctx context.Context, actorID string, admin bool) error {
	body := map[string]any{"admin": admin}
	endpoint := fmt.Sprintf("admin/actors/%s/platform-admin", url.PathEscape(actorID))
	return c.do(ctx, http.MethodPut, endpoint, body, nil)
}

func withPageParams(endpoint string, limit int, cursor string) string {
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	if cursor != "" {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint = fmt.Sprintf("%s%scursor=%s", endpoint, sep, url.QueryEscape(cursor))
	}
	return endpoint
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	case c.ActorID != "":
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
