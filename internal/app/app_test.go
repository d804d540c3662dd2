package app_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stepline/internal/app"
	"stepline/internal/catalog"
	"stepline/internal/config"
	"stepline/internal/domain"
	"stepline/internal/errs"
	"stepline/internal/events"
	"stepline/internal/logger"
	"stepline/internal/store"
)

var admin = domain.Actor{ID: "users/admin"}

func openApp(t *testing.T, cfg *config.Config) (*app.App, *events.Memory) {
	t.Helper()
	mem := &events.Memory{}
	a, err := app.Open(context.Background(), app.Options{
		Workspace: t.TempDir(),
		Config:    cfg,
		Log:       logger.Nop(),
		Events:    mem,
		Now:       func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) },
	})
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	ctx := context.Background()
	require.NoError(t, a.Store.Save(ctx, store.Document{"id": "ranks/clerk", "name": "Clerk"}))
	require.NoError(t, a.Store.Save(ctx, store.Document{"id": "users/admin", "firstName": "Ada", "lastName": "Min", "username": "admin", "rank": "ranks/clerk"}))
	return a, mem
}

func newProject() store.Document {
	return store.Document{
		"id":    "launch",
		"title": "Launch",
		"start": "2024-01-01",
		"modules": map[string]any{
			"0": []any{map[string]any{
				"title": "Paperwork",
				"tasks": map[string]any{
					"0": []any{map[string]any{"title": "Upload", "type": "DOCUMENT_UPLOAD", "ttc": 2}},
					"1": []any{map[string]any{"title": "Review", "type": "DOCUMENT_REVIEW", "ttc": 1}},
				},
			}},
		},
	}
}

func TestProjectLifecycle(t *testing.T) {
	ctx := context.Background()
	a, mem := openApp(t, nil)

	_, err := a.Documents.Create(ctx, admin, nil, catalog.Projects, newProject())
	require.NoError(t, err)

	project, err := a.Documents.Get(ctx, admin, catalog.Projects, "launch")
	require.NoError(t, err)
	assert.Equal(t, "IN_PROGRESS", project["status"], "projects start on creation")
	assert.Equal(t, 3.0, project["ttc"])
	assert.Equal(t, "2024-01-04T00:00:00Z", project["suspense"])

	moduleKey := project["modules"].(map[string]any)["0"].([]any)[0].(string)
	module, err := a.Documents.Get(ctx, admin, catalog.Modules, moduleKey)
	require.NoError(t, err)
	assert.Equal(t, "launch", module["project"])
	steps := module["tasks"].(map[string]any)
	upload := steps["0"].([]any)[0].(string)
	review := steps["1"].([]any)[0].(string)

	_, err = a.Engine.CompleteTask(ctx, admin, "tasks/"+upload, domain.StatusCompleted)
	require.NoError(t, err)
	_, err = a.Engine.CompleteTask(ctx, admin, "tasks/"+review, domain.StatusCompleted)
	require.NoError(t, err)

	state, err := a.Engine.AutomaticAdvance(ctx, admin, "projects/launch")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, state.Status)
	assert.Equal(t, -1, state.CurrentStep)
	assert.Equal(t, 100.0, state.PercentComplete)
	assert.Contains(t, mem.Types(), "project.complete")
}

func TestAutoStartDisabled(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	cfg.Workflow.AutoStart = false
	a, mem := openApp(t, cfg)

	_, err := a.Documents.Create(ctx, admin, nil, catalog.Projects, newProject())
	require.NoError(t, err)

	project, err := a.Documents.Get(ctx, admin, catalog.Projects, "launch")
	require.NoError(t, err)
	assert.Equal(t, "AWAITING", project["status"])
	assert.Equal(t, 3.0, project["ttc"], "new projects are scheduled either way")
	assert.Equal(t, []string{"project.reschedule"}, mem.Types())
}

func TestRejectedCreateStoresNothing(t *testing.T) {
	ctx := context.Background()
	a, mem := openApp(t, nil)

	bad := newProject()
	bad["start"] = "next tuesday"
	_, err := a.Documents.Create(ctx, admin, nil, catalog.Projects, bad)
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrValidation)
	assert.Equal(t, errs.TypeMismatch, errs.CodeOf(err))

	_, err = a.Documents.Get(ctx, admin, catalog.Projects, "launch")
	assert.ErrorIs(t, err, store.ErrNotFound)
	for _, name := range []string{catalog.Projects, catalog.Modules, catalog.Tasks} {
		docs, err := a.Documents.List(ctx, admin, name)
		require.NoError(t, err)
		assert.Empty(t, docs, name)
	}
	assert.Empty(t, mem.Events())

	_, err = a.Documents.Create(ctx, admin, nil, catalog.Projects, newProject())
	require.NoError(t, err)
	project, err := a.Documents.Get(ctx, admin, catalog.Projects, "launch")
	require.NoError(t, err)
	assert.Equal(t, "IN_PROGRESS", project["status"])
}
