package catalog_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stepline/internal/catalog"
	"stepline/internal/db"
	"stepline/internal/document"
	"stepline/internal/domain"
	"stepline/internal/errs"
	"stepline/internal/migrate"
	"stepline/internal/repo"
	"stepline/internal/store"
)

func newService(t *testing.T) (*document.Service, repo.Repo) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	_, err = migrate.Migrate(context.Background(), conn)
	require.NoError(t, err)

	reg, err := catalog.Load()
	require.NoError(t, err)
	st := repo.New(conn)
	norm := &document.Normalizer{
		Store:     st,
		Registry:  reg,
		Builders:  catalog.Builders(st),
		Modifiers: catalog.Modifiers(),
		Now:       func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) },
	}
	return &document.Service{Normalizer: norm, Store: st, Registry: reg}, st
}

func TestLoad(t *testing.T) {
	reg, err := catalog.Load()
	require.NoError(t, err)
	assert.True(t, reg.Resolved())

	for _, name := range []string{catalog.Ranks, catalog.Users, catalog.Comments, catalog.Tasks, catalog.Modules, catalog.Projects, catalog.ModuleTemplates} {
		s, ok := reg.Lookup(name)
		require.True(t, ok, name)
		assert.True(t, s.Referable(), name)
	}
	for _, name := range []string{catalog.Permissions, catalog.Waive, catalog.TaskTemplates} {
		s, ok := reg.Lookup(name)
		require.True(t, ok, name)
		assert.False(t, s.Referable(), name)
	}

	modules, _ := reg.Lookup(catalog.Modules)
	require.NotNil(t, modules.ParentField())
	assert.Equal(t, "project", modules.ParentField().Name)

	users, _ := reg.Lookup(catalog.Users)
	assert.True(t, users.Field("password").HideGetID)
	assert.True(t, users.Field("name").Dummy)
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	_, err := catalog.Parse([]byte("types:\n  - name: x\n    colour: red\n"))
	require.Error(t, err)

	_, err = catalog.Parse([]byte("types:\n  - name: x\n    collection: xs\n    fields:\n      - {name: y, type: fkey, foreign: nowhere}\n"))
	require.Error(t, err)
	assert.Equal(t, errs.SchemaMisconfigured, errs.CodeOf(err))
}

func TestModuleFromTemplate(t *testing.T) {
	ctx := context.Background()
	svc, st := newService(t)
	actor := domain.Actor{ID: "users/admin"}

	require.NoError(t, st.Save(ctx, store.Document{"id": "ranks/officer", "name": "Officer"}))
	require.NoError(t, st.Save(ctx, store.Document{"id": "users/admin", "firstName": "Ada", "lastName": "Min", "username": "admin", "rank": "ranks/officer"}))

	_, err := svc.Create(ctx, actor, nil, catalog.ModuleTemplates, store.Document{
		"id":    "intake",
		"title": "Intake",
		"ttc":   5,
		"tasks": map[string]any{
			"0": []any{map[string]any{"id": "ignored", "title": "Upload", "type": string(domain.TaskDocumentUpload), "ttc": 2, "rank": "officer"}},
			"1": []any{map[string]any{"title": "Review", "type": string(domain.TaskDocumentReview), "ttc": 3}},
		},
	})
	require.NoError(t, err)

	tmpl, err := st.Get(ctx, "moduleTemplates/intake")
	require.NoError(t, err)
	first := tmpl["tasks"].(map[string]any)["0"].([]any)[0].(map[string]any)
	_, hasID := first["id"]
	assert.False(t, hasID, "task templates carry no id")
	assert.Equal(t, "ranks/officer", first["rank"])

	project, err := svc.Create(ctx, actor, nil, catalog.Projects, store.Document{
		"id":      "p1",
		"title":   "Onboarding",
		"start":   "2024-01-01T00:00:00Z",
		"modules": map[string]any{"0": []any{"intake"}},
	})
	require.NoError(t, err)

	moduleID := project["modules"].(map[string]any)["0"].([]any)[0].(string)
	assert.Regexp(t, `^modules/`, moduleID)
	module, err := st.Get(ctx, moduleID)
	require.NoError(t, err)
	assert.Equal(t, "Intake", module["title"])
	assert.Equal(t, "projects/p1", module["project"])
	assert.Equal(t, string(domain.StatusAwaiting), module["status"])

	steps := module["tasks"].(map[string]any)
	require.Len(t, steps, 2)
	taskID := steps["0"].([]any)[0].(string)
	task, err := st.Get(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, "Upload", task["title"])
	assert.Equal(t, moduleID, task["module"])
	assert.Equal(t, "ranks/officer", task["rank"])
	assert.Equal(t, string(domain.StatusAwaiting), task["status"])
	assert.Equal(t, 2.0, task["ttc"])

	_, err = svc.Create(ctx, actor, nil, catalog.Projects, store.Document{
		"title":   "Broken",
		"start":   "2024-01-01T00:00:00Z",
		"modules": map[string]any{"0": []any{"missing"}},
	})
	assert.Equal(t, errs.InvalidKeyValue, errs.CodeOf(err))
}

func TestCommentBuilderAndWaiveAuthor(t *testing.T) {
	ctx := context.Background()
	svc, st := newService(t)
	actor := domain.Actor{ID: "users/admin"}
	require.NoError(t, st.Save(ctx, store.Document{"id": "users/admin", "firstName": "Ada", "lastName": "Min", "username": "admin", "rank": "ranks/officer"}))

	module, err := svc.Create(ctx, actor, nil, catalog.Modules, store.Document{
		"title":    "Waived",
		"project":  "p9",
		"tasks":    map[string]any{},
		"comments": []any{"  looks fine  "},
		"waive":    map[string]any{"comment": "not needed"},
	})
	require.NoError(t, err)

	comments := module["comments"].([]any)
	require.Len(t, comments, 1)
	comment, err := st.Get(ctx, comments[0].(string))
	require.NoError(t, err)
	assert.Equal(t, "  looks fine  ", comment["content"])
	assert.Equal(t, "users/admin", comment["author"])

	waive := module["waive"].(map[string]any)
	assert.Equal(t, "users/admin", waive["author"])
	assert.Regexp(t, `^comments/`, waive["comment"])
}
