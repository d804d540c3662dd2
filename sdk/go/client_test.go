package steplinesdk

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stepline/internal/app"
	"stepline/internal/logger"
	"stepline/internal/server"
)

func newClient(t *testing.T) *Client {
	t.Helper()
	ctx := context.Background()
	a, err := app.Open(ctx, app.Options{
		Workspace: t.TempDir(),
		Log:       logger.Nop(),
		Now:       func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) },
	})
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	handler, err := server.New(server.Config{
		Documents: a.Documents,
		Workflows: a.Engine,
		BasePath:  "/v0",
		Auth:      server.AuthConfig{AllowActorHeader: true},
	})
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := New(srv.URL)
	c.ActorID = "users/admin"
	return c
}

func newProject(key string, taskSteps ...string) Document {
	tasks := map[string]any{}
	for i, title := range taskSteps {
		tasks[fmt.Sprint(i)] = []any{map[string]any{"title": title, "type": "DOCUMENT_UPLOAD", "ttc": 1}}
	}
	return Document{
		"id":      key,
		"title":   "Launch",
		"start":   "2024-01-01",
		"modules": map[string]any{"0": []any{map[string]any{"title": "Intake", "tasks": tasks}}},
	}
}

func firstInStep(t *testing.T, doc Document, field, step string) string {
	t.Helper()
	steps, ok := doc[field].(map[string]any)
	require.True(t, ok, "%s is not a stepper: %v", field, doc[field])
	items, ok := steps[step].([]any)
	require.True(t, ok && len(items) > 0, "step %s of %s is empty", step, field)
	key, _ := items[0].(string)
	return key
}

func TestClientWorkflow(t *testing.T) {
	ctx := context.Background()
	c := newClient(t)

	project, err := c.CreateDocument(ctx, "projects", newProject("launch", "Upload", "Review"))
	require.NoError(t, err)
	assert.Equal(t, "launch", project.ID())
	assert.Equal(t, "IN_PROGRESS", project["status"], "projects start on creation")

	module, err := c.GetDocument(ctx, "modules", firstInStep(t, project, "modules", "0"))
	require.NoError(t, err)
	upload := firstInStep(t, module, "tasks", "0")
	review := firstInStep(t, module, "tasks", "1")

	state, err := c.CompleteTask(ctx, upload, "COMPLETED")
	require.NoError(t, err)
	assert.Equal(t, "COMPLETED", state.Status)

	state, err = c.Advance(ctx, "modules", module.ID())
	require.NoError(t, err)
	assert.Equal(t, 1, state.CurrentStep, "the module moved on when the task closed")
	assert.Equal(t, 50.0, state.PercentComplete)

	task, err := c.GetDocument(ctx, "tasks", review)
	require.NoError(t, err)
	assert.Equal(t, "IN_PROGRESS", task["status"])

	items, err := c.ListDocuments(ctx, "tasks")
	require.NoError(t, err)
	assert.Len(t, items, 2)

	updated, err := c.UpdateDocument(ctx, "projects", "launch", Document{"title": "Launch v2"})
	require.NoError(t, err)
	assert.Equal(t, "Launch v2", updated["title"])
}

func TestClientErrors(t *testing.T) {
	ctx := context.Background()
	c := newClient(t)

	_, err := c.GetDocument(ctx, "projects", "missing")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "not_found", apiErr.Code)

	_, err = c.CreateDocument(ctx, "projects", newProject("p", "Upload"))
	require.NoError(t, err)
	_, err = c.Complete(ctx, "projects", "p", false)
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	assert.Equal(t, "incomplete_descendant", apiErr.Code)
	assert.Len(t, apiErr.IDs(), 2)

	state, err := c.Complete(ctx, "projects", "p", true)
	require.NoError(t, err)
	assert.Equal(t, "COMPLETED", state.Status)

	c.ActorID = ""
	_, err = c.ListDocuments(ctx, "projects")
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
}
