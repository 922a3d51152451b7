package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"teamline/internal/audit"
	"teamline/internal/config"
	"teamline/internal/db"
	"teamline/internal/domain"
	"teamline/internal/engine"
	"teamline/internal/migrate"
	"teamline/internal/repo"
	"teamline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "tl",
	Short: "Teamline CLI",
	Long: `Teamline is a layered authorization and audit-trail engine for team workspaces.
Core concepts:
- Workspace: the outer container; a platform admin creates it and can hand out
  the workspace-manager role per workspace (assignment is a toggle).
- Project: lives in one workspace; its creator becomes its first manager, and
  every project always keeps at least one manager.
- Roles: platform-admin > workspace-manager > project-manager > project-member.
  The strongest layer that matches decides; platform admins bypass all checks.
- Audit trail: every accepted mutation appends an immutable record; view it
  with 'tl activity'. Records attribute to the issuing actor, or "Master Admin"
  when the platform itself acted.`,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("TEAMLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("data", "d", ".teamline", "data directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "acting actor identifier")
	_ = viper.BindPFlag("data", rootCmd.PersistentFlags().Lookup("data"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(workspaceCmd())
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(activityCmd())
	rootCmd.AddCommand(actorCmd())
	rootCmd.AddCommand(apikeyCmd())
}

func initCmd() *cobra.Command {
	var admin string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default teamline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(".")
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			content := config.GenerateDefault(admin)
			if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&admin, "admin", "local-user", "bootstrap platform admin actor id")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(".")
			if err != nil {
				return err
			}
			if cfg == nil {
				cfg = config.Default(viper.GetString("actor-id"))
			}
			dataDir := viper.GetString("data")
			if cfg.Data.Dir != "" && !cmd.Flags().Changed("data") {
				dataDir = cfg.Data.Dir
			}
			if _, err := db.EnsureDir(dataDir); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Dir: dataDir})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			e := engine.New(conn, log.Default())
			if err := bootstrapAdmins(cmd.Context(), e, cfg.Auth.BootstrapAdmins); err != nil {
				return err
			}
			if addr == "" {
				addr = cfg.Server.Listen
			}
			if basePath == "" {
				basePath = cfg.Server.BasePath
			}
			secret := os.Getenv("TEAMLINE_JWT_SECRET")
			if secret == "" {
				secret = cfg.Auth.JWTSecret
			}
			authCfg := server.AuthConfig{
				JWTSecret:              secret,
				AllowLegacyActorHeader: cfg.Auth.AllowLegacyHeader,
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Teamline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to config)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (defaults to config)")
	return cmd
}

// bootstrapAdmins grants the platform-admin flag to the configured actors
// without an authorization check; there is no admin yet on a fresh database.
func bootstrapAdmins(ctx context.Context, e engine.Engine, ids []string) error {
	for _, id := range ids {
		tx, err := e.DB.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		now := time.Now().UTC().Format(time.RFC3339)
		if err := e.Repo.EnsureActor(ctx, tx, id, now); err != nil {
			tx.Rollback()
			return err
		}
		if err := e.Repo.SetPlatformAdmin(ctx, tx, id, true); err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		e.Audit.Record(ctx, nil, audit.ActionSetAdmin, "actor", id, audit.Details{"platform_admin": true})
	}
	return nil
}

func workspaceCmd() *cobra.Command {
	ws := &cobra.Command{Use: "workspace", Short: "Manage workspaces"}
	ws.AddCommand(workspaceCreateCmd())
	ws.AddCommand(workspaceListCmd())
	ws.AddCommand(workspaceShowCmd())
	ws.AddCommand(workspaceManagerCmd())
	ws.AddCommand(workspaceMemberCmd())
	return ws
}

func workspaceCreateCmd() *cobra.Command {
	var id, name, color string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create workspace (platform admin only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				w, err := e.CreateWorkspace(ctx, viper.GetString("actor-id"), engine.WorkspaceCreateOptions{
					ID:    id,
					Name:  name,
					Color: color,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(w)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "workspace id (optional)")
	cmd.Flags().StringVar(&name, "name", "", "workspace name")
	cmd.Flags().StringVar(&color, "color", "", "display color")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func workspaceListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List workspaces",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListWorkspaces(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Owner", "Created"})
				for _, w := range items {
					tw.AppendRow(table.Row{w.ID, w.Name, w.OwnerID, w.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func workspaceShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a workspace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				w, err := r.GetWorkspace(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(w)
			})
		},
	}
	return cmd
}

func workspaceManagerCmd() *cobra.Command {
	mgr := &cobra.Command{Use: "manager", Short: "Manage workspace managers"}
	var workspaceID string
	toggle := &cobra.Command{
		Use:   "toggle <actor-id>",
		Short: "Assign the workspace-manager role, or remove it when already held",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				assigned, err := e.ToggleWorkspaceManager(ctx, viper.GetString("actor-id"), workspaceID, args[0])
				if err != nil {
					return err
				}
				state := "removed from"
				if assigned {
					state = "assigned to"
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"workspace_id": workspaceID, "actor_id": args[0], "manager": assigned})
				}
				fmt.Printf("manager role %s %s in workspace %s\n", state, args[0], workspaceID)
				return nil
			})
		},
	}
	toggle.Flags().StringVar(&workspaceID, "workspace", "", "workspace id")
	_ = toggle.MarkFlagRequired("workspace")
	mgr.AddCommand(toggle)
	return mgr
}

func workspaceMemberCmd() *cobra.Command {
	member := &cobra.Command{Use: "member", Short: "Manage workspace members"}
	var workspaceID string

	add := &cobra.Command{
		Use:   "add <actor-id>",
		Short: "Add workspace member",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.AddWorkspaceMember(ctx, viper.GetString("actor-id"), workspaceID, args[0])
			})
		},
	}
	add.Flags().StringVar(&workspaceID, "workspace", "", "workspace id")
	_ = add.MarkFlagRequired("workspace")

	var removeWorkspaceID string
	remove := &cobra.Command{
		Use:   "remove <actor-id>",
		Short: "Remove workspace member",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.RemoveWorkspaceMember(ctx, viper.GetString("actor-id"), removeWorkspaceID, args[0])
			})
		},
	}
	remove.Flags().StringVar(&removeWorkspaceID, "workspace", "", "workspace id")
	_ = remove.MarkFlagRequired("workspace")

	var listWorkspaceID string
	list := &cobra.Command{
		Use:   "list",
		Short: "List workspace members",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListWorkspaceMembers(ctx, listWorkspaceID)
				if err != nil {
					return err
				}
				return printMemberships(items)
			})
		},
	}
	list.Flags().StringVar(&listWorkspaceID, "workspace", "", "workspace id")
	_ = list.MarkFlagRequired("workspace")

	member.AddCommand(add, remove, list)
	return member
}

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectShowCmd())
	prj.AddCommand(projectUpdateCmd())
	prj.AddCommand(projectDeleteCmd())
	prj.AddCommand(projectMemberCmd())
	return prj
}

func projectCreateCmd() *cobra.Command {
	var id, workspaceID, name, desc string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create project (creator becomes its first manager)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.CreateProject(ctx, viper.GetString("actor-id"), engine.ProjectCreateOptions{
					ID:          id,
					WorkspaceID: workspaceID,
					Name:        name,
					Description: desc,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "project id (optional)")
	cmd.Flags().StringVar(&workspaceID, "workspace", "", "workspace id")
	cmd.Flags().StringVar(&name, "name", "", "project name")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	_ = cmd.MarkFlagRequired("workspace")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func projectListCmd() *cobra.Command {
	var workspaceID string
	var mine bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				var items []domain.Project
				var err error
				if mine {
					items, err = r.ListProjectsForActor(ctx, viper.GetString("actor-id"))
				} else {
					items, err = r.ListProjects(ctx, workspaceID)
				}
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Workspace", "Name", "Creator", "Created"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.WorkspaceID, p.Name, p.CreatorID, p.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&workspaceID, "workspace", "", "filter by workspace id")
	cmd.Flags().BoolVar(&mine, "mine", false, "only projects where the actor holds a membership")
	return cmd
}

func projectShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				p, err := r.GetProject(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	return cmd
}

func projectUpdateCmd() *cobra.Command {
	var name, description string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var namePtr, descPtr *string
			if cmd.Flags().Changed("name") {
				namePtr = &name
			}
			if cmd.Flags().Changed("description") {
				descPtr = &description
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.UpdateProject(ctx, viper.GetString("actor-id"), args[0], namePtr, descPtr)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "project name")
	cmd.Flags().StringVar(&description, "description", "", "description")
	return cmd
}

func projectDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteProject(ctx, viper.GetString("actor-id"), args[0])
			})
		},
	}
	return cmd
}

func projectMemberCmd() *cobra.Command {
	member := &cobra.Command{Use: "member", Short: "Manage project members"}

	var addProject, addRole string
	add := &cobra.Command{
		Use:   "add <actor-id>",
		Short: "Add project member",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.AddProjectMember(ctx, viper.GetString("actor-id"), addProject, args[0], addRole)
			})
		},
	}
	add.Flags().StringVar(&addProject, "project", "", "project id")
	add.Flags().StringVar(&addRole, "role", "member", "role (manager or member)")
	_ = add.MarkFlagRequired("project")

	var roleProject, newRole string
	setRole := &cobra.Command{
		Use:   "set-role <actor-id>",
		Short: "Change a project member's role",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.ChangeProjectMemberRole(ctx, viper.GetString("actor-id"), roleProject, args[0], newRole)
			})
		},
	}
	setRole.Flags().StringVar(&roleProject, "project", "", "project id")
	setRole.Flags().StringVar(&newRole, "role", "", "new role (manager or member)")
	_ = setRole.MarkFlagRequired("project")
	_ = setRole.MarkFlagRequired("role")

	var removeProject string
	remove := &cobra.Command{
		Use:   "remove <actor-id>",
		Short: "Remove project member",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.RemoveProjectMember(ctx, viper.GetString("actor-id"), removeProject, args[0])
			})
		},
	}
	remove.Flags().StringVar(&removeProject, "project", "", "project id")
	_ = remove.MarkFlagRequired("project")

	var listProject string
	list := &cobra.Command{
		Use:   "list",
		Short: "List project members",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListProjectMembers(ctx, viper.GetString("actor-id"), listProject)
				if err != nil {
					return err
				}
				return printMemberships(items)
			})
		},
	}
	list.Flags().StringVar(&listProject, "project", "", "project id")
	_ = list.MarkFlagRequired("project")

	member.AddCommand(add, setRole, remove, list)
	return member
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{Use: "task", Short: "Manage tasks"}
	task.AddCommand(taskCreateCmd())
	task.AddCommand(taskListCmd())
	task.AddCommand(taskGetCmd())
	task.AddCommand(taskUpdateCmd())
	task.AddCommand(taskDoneCmd())
	task.AddCommand(taskDeleteCmd())
	return task
}

func taskCreateCmd() *cobra.Command {
	var opts engine.TaskCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.CreateTask(ctx, viper.GetString("actor-id"), opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "task id (optional)")
	cmd.Flags().StringVar(&opts.ProjectID, "project", "", "project id")
	cmd.Flags().StringVar(&opts.Title, "title", "", "title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&opts.AssigneeID, "assignee-id", "", "assignee id")
	cmd.Flags().StringVar(&opts.DueAt, "due-at", "", "due timestamp (RFC3339)")
	_ = cmd.MarkFlagRequired("project")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func taskListCmd() *cobra.Command {
	var f repo.TaskFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				tasks, err := r.ListTasks(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Assignee", "Due"})
				for _, t := range tasks {
					assignee := ""
					if t.AssigneeID != nil {
						assignee = *t.AssigneeID
					}
					due := ""
					if t.DueAt != nil {
						due = *t.DueAt
					}
					tw.AppendRow(table.Row{t.ID, t.Title, t.Status, assignee, due})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.ProjectID, "project", "", "project id")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.AssigneeID, "assignee-id", "", "assignee filter")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}

func taskGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Get task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				t, err := r.GetTask(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	return cmd
}

func taskUpdateCmd() *cobra.Command {
	var title, description, status, assign, dueAt string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.TaskUpdateOptions{
				ID:     args[0],
				Title:  title,
				Status: status,
			}
			if cmd.Flags().Changed("description") {
				opts.Description = &description
			}
			if cmd.Flags().Changed("assign") {
				opts.Assign = &assign
			}
			if cmd.Flags().Changed("due-at") {
				opts.DueAt = &dueAt
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.UpdateTask(ctx, viper.GetString("actor-id"), opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&status, "status", "", "new status (todo, in_progress, done)")
	cmd.Flags().StringVar(&assign, "assign", "", "set assignee id (empty clears)")
	cmd.Flags().StringVar(&dueAt, "due-at", "", "due timestamp (empty clears)")
	return cmd
}

func taskDoneCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "done <id>",
		Short: "Mark task done",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.UpdateTask(ctx, viper.GetString("actor-id"), engine.TaskUpdateOptions{
					ID:     args[0],
					Status: "done",
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	return cmd
}

func taskDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteTask(ctx, viper.GetString("actor-id"), args[0])
			})
		},
	}
	return cmd
}

func activityCmd() *cobra.Command {
	var projectID, workspaceID string
	var n int
	cmd := &cobra.Command{
		Use:   "activity",
		Short: "Tail the audit trail for a project or workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			if projectID == "" && workspaceID == "" {
				return fmt.Errorf("--project or --workspace required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actorID := viper.GetString("actor-id")
				filters := audit.ListFilters{Limit: n}
				var records []domain.AuditRecord
				var err error
				if projectID != "" {
					records, err = e.ProjectActivity(ctx, actorID, projectID, filters)
				} else {
					records, err = e.WorkspaceActivity(ctx, actorID, workspaceID, filters)
				}
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(records)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"When", "Actor", "Action", "Description"})
				for _, rec := range records {
					tw.AppendRow(table.Row{rec.CreatedAt, audit.ActorLabel(rec.ActorID), rec.Action, audit.Render(rec)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "project id")
	cmd.Flags().StringVar(&workspaceID, "workspace", "", "workspace id")
	cmd.Flags().IntVar(&n, "n", 20, "number of records")
	return cmd
}

func actorCmd() *cobra.Command {
	actor := &cobra.Command{Use: "actor", Short: "Actor administration"}

	whoami := &cobra.Command{
		Use:   "whoami",
		Short: "Show the acting actor's grants",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				a, err := r.GetActor(ctx, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}

	var admin bool
	setAdmin := &cobra.Command{
		Use:   "set-admin <actor-id>",
		Short: "Grant or revoke the platform-admin flag (platform admin only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.SetPlatformAdmin(ctx, viper.GetString("actor-id"), args[0], admin)
			})
		},
	}
	setAdmin.Flags().BoolVar(&admin, "admin", true, "admin flag value")

	bootstrap := &cobra.Command{
		Use:   "bootstrap-admin <actor-id>",
		Short: "Grant platform-admin without an authorization check (fresh database only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return bootstrapAdmins(ctx, e, []string{args[0]})
			})
		},
	}

	actor.AddCommand(whoami, setAdmin, bootstrap)
	return actor
}

func apikeyCmd() *cobra.Command {
	key := &cobra.Command{Use: "apikey", Short: "Manage API keys"}

	var keyActor, keyName string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an API key (secret is printed once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if keyActor == "" {
				keyActor = viper.GetString("actor-id")
			}
			secret := uuid.New().String() + uuid.New().String()
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				tx, err := r.DB.BeginTx(ctx, nil)
				if err != nil {
					return err
				}
				defer tx.Rollback()
				now := time.Now().UTC().Format(time.RFC3339)
				if err := r.EnsureActor(ctx, tx, keyActor, now); err != nil {
					return err
				}
				k := domain.APIKey{
					ID:        uuid.New().String(),
					ActorID:   keyActor,
					Name:      keyName,
					KeyHash:   repo.HashAPIKey(secret),
					CreatedAt: now,
				}
				if err := r.InsertAPIKey(ctx, tx, k); err != nil {
					return err
				}
				if err := tx.Commit(); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"id": k.ID, "actor_id": k.ActorID, "key": secret})
				}
				fmt.Printf("API key %s created for %s\nSecret (save it now): %s\n", k.ID, k.ActorID, secret)
				return nil
			})
		},
	}
	create.Flags().StringVar(&keyActor, "actor", "", "actor the key authenticates as (defaults to --actor-id)")
	create.Flags().StringVar(&keyName, "name", "", "key label")

	var listActor string
	list := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListAPIKeys(ctx, listActor)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	list.Flags().StringVar(&listActor, "actor", "", "filter by actor id")

	del := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
			})
		},
	}

	key.AddCommand(create, list, del)
	return key
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	dataDir := viper.GetString("data")
	if _, err := db.EnsureDir(dataDir); err != nil {
		return err
	}
	conn, err := db.Open(db.Config{Dir: dataDir})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, engine.New(conn, log.Default()))
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	dataDir := viper.GetString("data")
	if _, err := db.EnsureDir(dataDir); err != nil {
		return err
	}
	conn, err := db.Open(db.Config{Dir: dataDir})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func printMemberships(items []domain.Membership) error {
	if viper.GetBool("json") {
		return printJSON(items)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Actor", "Role", "Added"})
	for _, m := range items {
		tw.AppendRow(table.Row{m.ActorID, m.Role, m.AddedAt})
	}
	tw.Render()
	return nil
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
