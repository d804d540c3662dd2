package schema_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stepline/internal/errs"
	"stepline/internal/schema"
)

func buildRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	reg := schema.NewRegistry()
	note, err := schema.Build("note", []schema.FieldDef{
		{Name: "text", Type: schema.TypeString},
	}, schema.Options{})
	require.NoError(t, err)
	tasks, err := schema.Build("tasks", []schema.FieldDef{
		{Name: "title", Type: schema.TypeString},
		{Name: "module", Type: schema.TypeParent, Parent: "modules", BackReference: "tasks"},
		{Name: "secret", Type: schema.TypeString, Hidden: true, Optional: true},
		{Name: "label", Type: schema.TypeString, Dummy: true, Optional: true},
	}, schema.Options{Collection: "tasks", CreateTimestamp: true})
	require.NoError(t, err)
	modules, err := schema.Build("modules", []schema.FieldDef{
		{Name: "title", Type: schema.TypeString},
		{Name: "tasks", Type: schema.TypeStep, Foreign: "tasks", AcceptNew: true},
		{Name: "notes", Type: schema.TypeArray, Data: "note", Optional: true},
		{Name: "lead", Type: schema.TypeFKey, Foreign: "tasks", Optional: true},
	}, schema.Options{Collection: "modules", UpdateTimestamp: true})
	require.NoError(t, err)
	for _, s := range []*schema.Schema{note, tasks, modules} {
		require.NoError(t, reg.Register(s))
	}
	require.NoError(t, reg.ResolveDependencies())
	return reg
}

func TestBuild(t *testing.T) {
	t.Run("Should classify fields once", func(t *testing.T) {
		reg := buildRegistry(t)
		modules, ok := reg.Lookup("modules")
		require.True(t, ok)

		var foreign, embedded []string
		for _, f := range modules.ForeignFields() {
			foreign = append(foreign, f.Name)
		}
		for _, f := range modules.EmbeddedFields() {
			embedded = append(embedded, f.Name)
		}
		assert.Equal(t, []string{"tasks", "lead"}, foreign)
		assert.Equal(t, []string{"notes"}, embedded)
		assert.Nil(t, modules.ParentField())

		tasks, _ := reg.Lookup("tasks")
		require.NotNil(t, tasks.ParentField())
		assert.Equal(t, "module", tasks.ParentField().Name)
		assert.Same(t, modules, schema.Target(tasks.ParentField().Kind))
	})

	t.Run("Should inject managed timestamp fields", func(t *testing.T) {
		reg := buildRegistry(t)
		tasks, _ := reg.Lookup("tasks")
		f := tasks.Field(schema.FieldCreatedAt)
		require.NotNil(t, f)
		assert.True(t, f.Managed)
		assert.Nil(t, tasks.Field(schema.FieldUpdatedAt))

		modules, _ := reg.Lookup("modules")
		assert.NotNil(t, modules.Field(schema.FieldUpdatedAt))
	})

	t.Run("Should hide hidden and dummy fields everywhere", func(t *testing.T) {
		reg := buildRegistry(t)
		tasks, _ := reg.Lookup("tasks")
		for _, name := range []string{"secret", "label"} {
			f := tasks.Field(name)
			assert.True(t, f.HideGetAll && f.HideGetID && f.HideGetRef, name)
		}
		title := tasks.Field("title")
		assert.False(t, title.HideGetAll || title.HideGetID || title.HideGetRef)
	})

	t.Run("Should keep explicit visibility flags", func(t *testing.T) {
		no := false
		s, err := schema.Build("x", []schema.FieldDef{
			{Name: "a", Type: schema.TypeString, Hidden: true, HideGetRef: &no},
		}, schema.Options{})
		require.NoError(t, err)
		f := s.Field("a")
		assert.True(t, f.HideGetAll)
		assert.False(t, f.HideGetRef)
	})

	t.Run("Should fail fast on misconfigured fields", func(t *testing.T) {
		cases := map[string]schema.FieldDef{
			"two kinds":          {Name: "a", Type: schema.TypeFKey, Foreign: "b", Data: "c"},
			"parent without ref": {Name: "a", Type: schema.TypeParent, Parent: "b"},
			"primitive with ref": {Name: "a", Type: schema.TypeString, Foreign: "b"},
			"array without elem": {Name: "a", Type: schema.TypeArray},
			"unknown type":       {Name: "a", Type: "date"},
			"reserved id":        {Name: "id", Type: schema.TypeString},
			"no name":            {Type: schema.TypeString},
		}
		for name, def := range cases {
			_, err := schema.Build("x", []schema.FieldDef{def}, schema.Options{})
			require.Error(t, err, name)
			assert.True(t, errors.Is(err, errs.ErrInternal), name)
			assert.Equal(t, errs.SchemaMisconfigured, errs.CodeOf(err), name)
		}
	})

	t.Run("Should reject duplicate fields", func(t *testing.T) {
		_, err := schema.Build("x", []schema.FieldDef{
			{Name: "a", Type: schema.TypeString},
			{Name: "a", Type: schema.TypeNumber},
		}, schema.Options{})
		assert.Equal(t, errs.SchemaMisconfigured, errs.CodeOf(err))
	})
}

func TestResolveDependencies(t *testing.T) {
	t.Run("Should fail on unknown targets", func(t *testing.T) {
		reg := schema.NewRegistry()
		s, err := schema.Build("a", []schema.FieldDef{
			{Name: "b", Type: schema.TypeFKey, Foreign: "missing"},
		}, schema.Options{Collection: "a"})
		require.NoError(t, err)
		require.NoError(t, reg.Register(s))
		assert.Equal(t, errs.SchemaMisconfigured, errs.CodeOf(reg.ResolveDependencies()))
	})

	t.Run("Should refuse to reference embedded data", func(t *testing.T) {
		reg := schema.NewRegistry()
		data, _ := schema.Build("data", nil, schema.Options{})
		s, _ := schema.Build("a", []schema.FieldDef{
			{Name: "b", Type: schema.TypeFKey, Foreign: "data"},
		}, schema.Options{Collection: "a"})
		require.NoError(t, reg.Register(data))
		require.NoError(t, reg.Register(s))
		assert.Error(t, reg.ResolveDependencies())
	})

	t.Run("Should check parent back references", func(t *testing.T) {
		reg := schema.NewRegistry()
		parent, _ := schema.Build("parents", []schema.FieldDef{
			{Name: "title", Type: schema.TypeString},
		}, schema.Options{Collection: "parents"})
		child, _ := schema.Build("children", []schema.FieldDef{
			{Name: "owner", Type: schema.TypeParent, Parent: "parents", BackReference: "kids"},
		}, schema.Options{Collection: "children"})
		require.NoError(t, reg.Register(parent))
		require.NoError(t, reg.Register(child))
		assert.Error(t, reg.ResolveDependencies())
	})

	t.Run("Should reject duplicates and late registration", func(t *testing.T) {
		reg := buildRegistry(t)
		s, _ := schema.Build("late", nil, schema.Options{Collection: "late"})
		assert.Error(t, reg.Register(s))

		reg = schema.NewRegistry()
		a, _ := schema.Build("a", nil, schema.Options{Collection: "things"})
		b, _ := schema.Build("b", nil, schema.Options{Collection: "things"})
		require.NoError(t, reg.Register(a))
		assert.Error(t, reg.Register(b))
	})
}

func TestIDs(t *testing.T) {
	reg := buildRegistry(t)
	tasks, _ := reg.Lookup("tasks")
	note, _ := reg.Lookup("note")

	id, ok := tasks.AsID("abc_1-2")
	assert.True(t, ok)
	assert.Equal(t, "tasks/abc_1-2", id)

	id, ok = tasks.AsID("tasks/abc")
	assert.True(t, ok)
	assert.Equal(t, "tasks/abc", id)

	_, ok = tasks.AsID("modules/abc")
	assert.False(t, ok)
	_, ok = tasks.AsID("not a key")
	assert.False(t, ok)
	_, ok = note.AsID("abc")
	assert.False(t, ok)

	assert.Equal(t, "abc", schema.KeyOf("tasks/abc"))
	assert.Equal(t, "plain text", schema.KeyOf("plain text"))

	s, ok := reg.ForID("modules/x")
	require.True(t, ok)
	assert.Equal(t, "modules", s.Name)
	_, ok = reg.ForID("nope")
	assert.False(t, ok)
}
