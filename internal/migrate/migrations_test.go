package migrate_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stepline/internal/db"
	"stepline/internal/migrate"
)

func TestMigrate(t *testing.T) {
	ctx := context.Background()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	applied, err := migrate.Migrate(ctx, conn)
	require.NoError(t, err)
	assert.Positive(t, applied)

	applied, err = migrate.Migrate(ctx, conn)
	require.NoError(t, err)
	assert.Zero(t, applied)

	var n int
	require.NoError(t, conn.QueryRowContext(ctx, `SELECT count(*) FROM documents`).Scan(&n))
	assert.Zero(t, n)
}
