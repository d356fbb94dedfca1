package persistence

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMigrationFiles_SortedSQLOnly(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"0002_b.sql", "0001_a.sql", "README.md"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("SELECT 1;"), 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested"), 0o755))

	files, err := migrationFiles(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"0001_a.sql", "0002_b.sql"}, files)
}

func TestMigrationFiles_MissingDir(t *testing.T) {
	_, err := migrationFiles(filepath.Join(t.TempDir(), "absent"))
	require.Error(t, err)
}

func TestRunMigrations_NoPool(t *testing.T) {
	applied, err := RunMigrations(t.Context(), nil, "migrations", zap.NewNop())
	require.NoError(t, err)
	assert.Zero(t, applied)
}

func TestMigrationsShipped(t *testing.T) {
	files, err := migrationFiles(filepath.Join("..", "..", "migrations"))
	require.NoError(t, err)
	assert.Contains(t, files, "0001_init.sql")
}

func TestPostgresPing_Unconfigured(t *testing.T) {
	var pg *Postgres
	assert.ErrorIs(t, pg.Ping(t.Context()), ErrNoDatabase)
	assert.ErrorIs(t, (&Postgres{}).Ping(t.Context()), ErrNoDatabase)
}
