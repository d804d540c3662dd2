package repo_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stepline/internal/db"
	"stepline/internal/migrate"
	"stepline/internal/repo"
	"stepline/internal/store"
)

func newRepo(t *testing.T) repo.Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	_, err = migrate.Migrate(context.Background(), conn)
	require.NoError(t, err)
	r := repo.New(conn)
	r.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	return r
}

func TestSaveGetUpdate(t *testing.T) {
	ctx := context.Background()
	r := newRepo(t)

	t.Run("Should round trip a document", func(t *testing.T) {
		doc := store.Document{"id": "tasks/t1", "title": "Upload", "ttc": 3.0, "tags": []any{"a"}}
		require.NoError(t, r.Save(ctx, doc))

		got, err := r.Get(ctx, "tasks/t1")
		require.NoError(t, err)
		assert.Equal(t, doc, got)

		ok, err := r.Exists(ctx, "tasks/t1")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("Should report missing documents", func(t *testing.T) {
		_, err := r.Get(ctx, "tasks/none")
		assert.True(t, errors.Is(err, store.ErrNotFound))

		ok, err := r.Exists(ctx, "tasks/none")
		require.NoError(t, err)
		assert.False(t, ok)

		err = r.Update(ctx, store.Document{"id": "tasks/none"}, store.UpdateOptions{})
		assert.True(t, errors.Is(err, store.ErrNotFound))
	})

	t.Run("Should refuse duplicate saves and bad ids", func(t *testing.T) {
		assert.Error(t, r.Save(ctx, store.Document{"id": "tasks/t1"}))
		assert.Error(t, r.Save(ctx, store.Document{"id": "t1"}))
	})

	t.Run("Should patch fields and merge objects on request", func(t *testing.T) {
		require.NoError(t, r.Save(ctx, store.Document{
			"id":    "modules/m1",
			"title": "M1",
			"waive": map[string]any{"comment": "why", "author": "users/u1"},
		}))

		require.NoError(t, r.Update(ctx, store.Document{
			"id":    "modules/m1",
			"waive": map[string]any{"comment": "because"},
		}, store.UpdateOptions{MergeObjects: true}))
		got, err := r.Get(ctx, "modules/m1")
		require.NoError(t, err)
		assert.Equal(t, "M1", got["title"])
		assert.Equal(t, map[string]any{"comment": "because", "author": "users/u1"}, got["waive"])

		require.NoError(t, r.Update(ctx, store.Document{
			"id":    "modules/m1",
			"title": "M1b",
			"waive": map[string]any{"comment": "replaced"},
		}, store.UpdateOptions{}))
		got, err = r.Get(ctx, "modules/m1")
		require.NoError(t, err)
		assert.Equal(t, store.Document{
			"id":    "modules/m1",
			"title": "M1b",
			"waive": map[string]any{"comment": "replaced"},
		}, got)
	})
}

func TestFieldHelpers(t *testing.T) {
	ctx := context.Background()
	r := newRepo(t)
	for _, doc := range []store.Document{
		{"id": "tasks/a", "status": "COMPLETED", "steps": map[string]any{"0": []any{"x"}}},
		{"id": "tasks/b", "status": "IN_PROGRESS"},
		{"id": "tasks/c", "status": "WAIVED"},
	} {
		require.NoError(t, r.Save(ctx, doc))
	}

	t.Run("Should read single fields", func(t *testing.T) {
		v, err := r.GetField(ctx, "tasks/a", "status")
		require.NoError(t, err)
		assert.Equal(t, "COMPLETED", v)

		v, err = r.GetField(ctx, "tasks/a", "steps")
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"0": []any{"x"}}, v)

		v, err = r.GetField(ctx, "tasks/a", "missing")
		require.NoError(t, err)
		assert.Nil(t, v)

		_, err = r.GetField(ctx, "tasks/zzz", "status")
		assert.True(t, errors.Is(err, store.ErrNotFound))
	})

	t.Run("Should list violating ids including unknown ones", func(t *testing.T) {
		bad, err := r.AssertManyFieldEquals(ctx, []string{"tasks/a", "tasks/b", "tasks/c", "tasks/zzz"}, "status", []any{"COMPLETED", "WAIVED"})
		require.NoError(t, err)
		assert.Equal(t, []string{"tasks/b", "tasks/zzz"}, bad)

		bad, err = r.AssertManyFieldEquals(ctx, nil, "status", []any{"COMPLETED"})
		require.NoError(t, err)
		assert.Empty(t, bad)
	})

	t.Run("Should update one field on many documents", func(t *testing.T) {
		require.NoError(t, r.UpdateManyField(ctx, []string{"tasks/a", "tasks/b"}, "status", "AWAITING"))
		for _, id := range []string{"tasks/a", "tasks/b"} {
			v, err := r.GetField(ctx, id, "status")
			require.NoError(t, err)
			assert.Equal(t, "AWAITING", v)
		}
		require.NoError(t, r.UpdateManyField(ctx, []string{"tasks/c"}, "percentComplete", 100))
		v, err := r.GetField(ctx, "tasks/c", "percentComplete")
		require.NoError(t, err)
		assert.Equal(t, 100.0, v)
	})

	t.Run("Should list a collection", func(t *testing.T) {
		docs, err := r.List(ctx, "tasks")
		require.NoError(t, err)
		assert.Len(t, docs, 3)
	})
}

func TestRunInTx(t *testing.T) {
	ctx := context.Background()
	r := newRepo(t)

	boom := errors.New("boom")
	err := r.RunInTx(ctx, func(ctx context.Context, tx store.Store) error {
		require.NoError(t, tx.Save(ctx, store.Document{"id": "tasks/x"}))
		return boom
	})
	assert.ErrorIs(t, err, boom)
	ok, err := r.Exists(ctx, "tasks/x")
	require.NoError(t, err)
	assert.False(t, ok)

	err = r.RunInTx(ctx, func(ctx context.Context, tx store.Store) error {
		if err := tx.Save(ctx, store.Document{"id": "tasks/y"}); err != nil {
			return err
		}
		return tx.RunInTx(ctx, func(ctx context.Context, inner store.Store) error {
			return inner.Save(ctx, store.Document{"id": "tasks/z"})
		})
	})
	require.NoError(t, err)
	for _, id := range []string{"tasks/y", "tasks/z"} {
		ok, err := r.Exists(ctx, id)
		require.NoError(t, err)
		assert.True(t, ok, id)
	}
}

func TestGenerateID(t *testing.T) {
	r := newRepo(t)
	a := r.GenerateID("tasks")
	b := r.GenerateID("tasks")
	assert.NotEqual(t, a, b)
	assert.Regexp(t, `^tasks/[0-9A-Za-z_-]{22}$`, a)
}

func TestListCreationOrder(t *testing.T) {
	ctx := context.Background()
	r := newRepo(t)
	base := time.Date(2024, 1, 1, 9, 0, 5, 0, time.UTC)
	stamps := []time.Time{
		base.Add(100 * time.Millisecond),
		base.Add(120 * time.Millisecond),
		base.Add(time.Second),
	}
	for i, id := range []string{"tasks/c", "tasks/a", "tasks/b"} {
		at := stamps[i]
		r.Now = func() time.Time { return at }
		require.NoError(t, r.Save(ctx, store.Document{"id": id}))
	}

	docs, err := r.List(ctx, "tasks")
	require.NoError(t, err)
	ids := make([]string, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, store.IDOf(d))
	}
	assert.Equal(t, []string{"tasks/c", "tasks/a", "tasks/b"}, ids)
}
