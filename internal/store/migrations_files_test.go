package store

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var migrationsDir = filepath.Join("..", "..", "db", "migrations")

func TestMigrationsHaveMatchingUpAndDownFiles(t *testing.T) {
	entries, err := os.ReadDir(migrationsDir)
	require.NoError(t, err)

	pattern := regexp.MustCompile(`^(\d+)_.*\.(up|down)\.sql$`)
	byVersion := map[string]map[string]bool{}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		match := pattern.FindStringSubmatch(entry.Name())
		if match == nil {
			continue
		}
		version, direction := match[1], match[2]
		if byVersion[version] == nil {
			byVersion[version] = map[string]bool{}
		}
		require.False(t, byVersion[version][direction], "duplicate %s migration for version %s", direction, version)
		byVersion[version][direction] = true
	}

	require.NotEmpty(t, byVersion, "no migrations discovered")
	for version, dirs := range byVersion {
		assert.True(t, dirs["up"] && dirs["down"], "version %s must include both up and down files", version)
	}
}

func TestMigrationFiles_SortedBySuffix(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"0002_b.up.sql", "0001_a.up.sql", "0001_a.down.sql", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("SELECT 1;"), 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "0003_dir.up.sql"), 0o755))

	ups, err := migrationFiles(dir, ".up.sql")
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "0001_a.up.sql"), filepath.Join(dir, "0002_b.up.sql")}, ups)

	downs, err := migrationFiles(dir, ".down.sql")
	require.NoError(t, err)
	assert.Len(t, downs, 1)

	_, err = migrationFiles(filepath.Join(dir, "missing"), ".up.sql")
	assert.Error(t, err)
}
