/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package runner

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"

	migrate "github.com/acronis/go-migrate"
)

// MigrationFileExt is the extension migration files must carry.
const MigrationFileExt = ".sql"

// Files whose name starts with this prefix are private fragments and are
// never executed.
const ignorePrefix = "_"

// Migration is one named unit of schema change. Content is opaque SQL
// text; the engine never parses it.
type Migration struct {
	Name    string // base file name, unique across the source
	Content string
}

// LoadDirMigrations reads the migration files from a directory on the
// local filesystem. See LoadFSMigrations for the discovery rules.
func LoadDirMigrations(dir string) ([]Migration, error) {
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", migrate.ErrSourceNotFound, dir)
		}
		return nil, fmt.Errorf("stat migrations directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", migrate.ErrSourceNotFound, dir)
	}
	return LoadFSMigrations(os.DirFS(dir), ".")
}

// LoadFSMigrations reads the migration files from a directory of an fs.FS
// (an embed.FS, typically). Files are matched by the .sql extension,
// names starting with "_" are ignored, and the result is sorted ascending
// by name: execution order is defined by the lexical sort alone, never by
// directory enumeration order.
func LoadFSMigrations(fsys fs.FS, dir string) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", migrate.ErrSourceNotFound, dir)
		}
		return nil, fmt.Errorf("read migrations directory %s: %w", dir, err)
	}

	var migrations []Migration
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, MigrationFileExt) || strings.HasPrefix(name, ignorePrefix) {
			continue
		}
		content, readErr := fs.ReadFile(fsys, path.Join(dir, name))
		if readErr != nil {
			return nil, fmt.Errorf("read migration %s: %w", name, readErr)
		}
		migrations = append(migrations, Migration{Name: name, Content: string(content)})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Name < migrations[j].Name
	})
	return migrations, nil
}
