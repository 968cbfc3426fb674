/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package runner

import (
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/require"

	migrate "github.com/acronis/go-migrate"
)

func TestLoadDirMigrations(t *testing.T) {
	t.Run("sorted by name regardless of creation order", func(t *testing.T) {
		dir := t.TempDir()
		writeMigrations(t, dir, map[string]string{
			"20240102_second.sql": "B",
			"20240101_first.sql":  "A",
			"20240103_third.sql":  "C",
		})
		migrations, err := LoadDirMigrations(dir)
		require.NoError(t, err)
		require.Equal(t, []Migration{
			{Name: "20240101_first.sql", Content: "A"},
			{Name: "20240102_second.sql", Content: "B"},
			{Name: "20240103_third.sql", Content: "C"},
		}, migrations)
	})

	t.Run("ignores non-sql files, underscore-prefixed files and subdirectories", func(t *testing.T) {
		dir := t.TempDir()
		writeMigrations(t, dir, map[string]string{
			"0001_keep.sql": "KEEP",
			"_shared.sql":   "IGNORED",
			"README.md":     "IGNORED",
			"backup.sql.bk": "IGNORED",
		})
		require.NoError(t, os.Mkdir(filepath.Join(dir, "nested"), 0700))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "nested", "0002_nested.sql"), []byte("IGNORED"), 0600))

		migrations, err := LoadDirMigrations(dir)
		require.NoError(t, err)
		require.Equal(t, []Migration{{Name: "0001_keep.sql", Content: "KEEP"}}, migrations)
	})

	t.Run("empty directory yields empty set", func(t *testing.T) {
		migrations, err := LoadDirMigrations(t.TempDir())
		require.NoError(t, err)
		require.Empty(t, migrations)
	})

	t.Run("missing directory", func(t *testing.T) {
		_, err := LoadDirMigrations(filepath.Join(t.TempDir(), "nope"))
		require.ErrorIs(t, err, migrate.ErrSourceNotFound)
	})

	t.Run("path is a file, not a directory", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "migrations")
		require.NoError(t, os.WriteFile(path, []byte("not a dir"), 0600))
		_, err := LoadDirMigrations(path)
		require.ErrorIs(t, err, migrate.ErrSourceNotFound)
	})
}

func TestLoadFSMigrations(t *testing.T) {
	fsys := fstest.MapFS{
		"migrations/0002_b.sql": {Data: []byte("B")},
		"migrations/0001_a.sql": {Data: []byte("A")},
		"migrations/_frag.sql":  {Data: []byte("IGNORED")},
		"migrations/readme.md":  {Data: []byte("IGNORED")},
	}

	migrations, err := LoadFSMigrations(fsys, "migrations")
	require.NoError(t, err)
	require.Equal(t, []Migration{
		{Name: "0001_a.sql", Content: "A"},
		{Name: "0002_b.sql", Content: "B"},
	}, migrations)

	_, err = LoadFSMigrations(fsys, "missing")
	require.ErrorIs(t, err, migrate.ErrSourceNotFound)
}
