package persistence

import (
	"context"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JackSteven13/cashbot-dreamweaver-sub002/internal/testutil"
	"github.com/JackSteven13/cashbot-dreamweaver-sub002/migrations"
)

func TestExtractVersion(t *testing.T) {
	assert.Equal(t, "000002", extractVersion("000002_balance_events.up.sql"))
	assert.Equal(t, "noversion.sql", extractVersion("noversion.sql"))
}

func TestListMigrationFiles_SortedBySuffix(t *testing.T) {
	m := NewMigrator(nil, fstest.MapFS{
		"000002_b.up.sql":   {Data: []byte("SELECT 2")},
		"000001_a.up.sql":   {Data: []byte("SELECT 1")},
		"000001_a.down.sql": {Data: []byte("SELECT 0")},
		"README.md":         {Data: []byte("docs")},
	})

	ups, err := m.listMigrationFiles(".up.sql")
	require.NoError(t, err)
	assert.Equal(t, []string{"000001_a.up.sql", "000002_b.up.sql"}, ups)
}

func TestEmbeddedMigrations_Paired(t *testing.T) {
	m := NewMigrator(nil, migrations.FS)
	ups, err := m.listMigrationFiles(".up.sql")
	require.NoError(t, err)
	downs, err := m.listMigrationFiles(".down.sql")
	require.NoError(t, err)

	require.NotEmpty(t, ups)
	assert.Equal(t, len(ups), len(downs), "every up migration has a down")
}

func TestMigrator_UpIsIdempotent(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	m := NewMigrator(db, migrations.FS)
	ctx := context.Background()
	require.NoError(t, m.Up(ctx))
	require.NoError(t, m.Up(ctx))

	status, err := m.Status(ctx)
	require.NoError(t, err)
	for _, s := range status {
		assert.True(t, s.Applied, s.Filename)
	}
}
