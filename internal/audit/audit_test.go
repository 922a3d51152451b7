package audit_test

import (
	"bytes"
	"context"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"teamline/internal/audit"
	"teamline/internal/db"
	"teamline/internal/domain"
	"teamline/internal/migrate"
)

func newTestLogger(t *testing.T) audit.Logger {
	t.Helper()
	dir := t.TempDir()
	_, err := db.EnsureDir(dir)
	require.NoError(t, err)
	conn, err := db.Open(db.Config{Dir: dir})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	return audit.Logger{DB: conn}
}

func strPtr(s string) *string { return &s }

func TestAppendAndListNewestFirst(t *testing.T) {
	l := newTestLogger(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	step := 0
	l.Now = func() time.Time {
		step++
		return base.Add(time.Duration(step) * time.Second)
	}

	for _, action := range []audit.Action{
		audit.ActionCreatedProject,
		audit.ActionAddedMember,
		audit.ActionUpdatedProject,
	} {
		_, err := l.Append(ctx, strPtr("maria"), action, "project", "p-1", nil)
		require.NoError(t, err)
	}
	_, err := l.Append(ctx, strPtr("maria"), audit.ActionCreatedTask, "project", "p-2", nil)
	require.NoError(t, err)

	records, err := l.List(ctx, audit.ListFilters{TargetID: "p-1"})
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "updated_project", records[0].Action)
	assert.Equal(t, "added_member", records[1].Action)
	assert.Equal(t, "created_project", records[2].Action)
}

func TestListSameTimestampOrderedByID(t *testing.T) {
	l := newTestLogger(t)
	ctx := context.Background()
	l.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }

	first, err := l.Append(ctx, nil, audit.ActionCreatedProject, "project", "p-1", nil)
	require.NoError(t, err)
	second, err := l.Append(ctx, nil, audit.ActionAddedMember, "project", "p-1", nil)
	require.NoError(t, err)
	require.Greater(t, second.ID, first.ID)

	records, err := l.List(ctx, audit.ListFilters{TargetID: "p-1"})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, second.ID, records[0].ID)
	assert.Equal(t, first.ID, records[1].ID)
}

func TestListCompositeCursor(t *testing.T) {
	l := newTestLogger(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	step := 0
	l.Now = func() time.Time {
		step++
		return base.Add(time.Duration(step) * time.Second)
	}
	for i := 0; i < 5; i++ {
		_, err := l.Append(ctx, strPtr("maria"), audit.ActionCreatedTask, "project", "p-1", nil)
		require.NoError(t, err)
	}

	page1, err := l.List(ctx, audit.ListFilters{TargetID: "p-1", Limit: 2})
	require.NoError(t, err)
	require.Len(t, page1, 2)

	last := page1[len(page1)-1]
	page2, err := l.List(ctx, audit.ListFilters{
		TargetID:        "p-1",
		Limit:           10,
		CursorCreatedAt: last.CreatedAt,
		CursorID:        last.ID,
	})
	require.NoError(t, err)
	require.Len(t, page2, 3)
	for _, rec := range page2 {
		assert.Less(t, rec.ID, last.ID)
	}
}

func TestAppendStoresDetails(t *testing.T) {
	l := newTestLogger(t)
	ctx := context.Background()
	_, err := l.Append(ctx, strPtr("maria"), audit.ActionAddedMember, "project", "p-1", audit.Details{
		"member_id": "bob",
		"role":      "member",
	})
	require.NoError(t, err)
	records, err := l.List(ctx, audit.ListFilters{TargetID: "p-1"})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "bob", records[0].Details["member_id"])
	assert.Equal(t, "member", records[0].Details["role"])
}

func TestRecordSwallowsAppendFailure(t *testing.T) {
	l := newTestLogger(t)
	var buf bytes.Buffer
	l.Logger = log.New(&buf, "", 0)
	require.NoError(t, l.DB.Close())
	// must not panic or propagate; the failed append leaves a warning
	l.Record(context.Background(), strPtr("maria"), audit.ActionCreatedTask, "project", "p-1", nil)
	assert.Contains(t, buf.String(), "WARNING")
}

func TestRenderFallbackChain(t *testing.T) {
	// details description wins
	rec := domain.AuditRecord{
		Action:  "created_task",
		Details: map[string]any{"description": "created task \"Ship it\""},
	}
	assert.Equal(t, "created task \"Ship it\"", audit.Render(rec))

	// known action falls back to the template
	rec = domain.AuditRecord{Action: "created_task"}
	assert.Equal(t, "created a task", audit.Render(rec))

	// unknown action falls back to the spaced identifier
	rec = domain.AuditRecord{Action: "rotated_key.v2"}
	assert.Equal(t, "rotated key v2", audit.Render(rec))

	// empty description detail does not shadow the template
	rec = domain.AuditRecord{Action: "added_member", Details: map[string]any{"description": ""}}
	assert.Equal(t, "added a member", audit.Render(rec))
}

func TestDescribeKnownActions(t *testing.T) {
	assert.Equal(t, "created the workspace", audit.Describe(audit.ActionCreatedWorkspace))
	assert.Equal(t, "completed a task", audit.Describe(audit.ActionCompletedTask))
	assert.Empty(t, audit.Describe(audit.Action("bogus")))
}

func TestActorLabel(t *testing.T) {
	assert.Equal(t, "Master Admin", audit.ActorLabel(nil))
	empty := ""
	assert.Equal(t, "Master Admin", audit.ActorLabel(&empty))
	id := "maria"
	assert.Equal(t, "maria", audit.ActorLabel(&id))
}
