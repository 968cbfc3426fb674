/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package runner

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/acronis/go-appkit/log"
	"github.com/stretchr/testify/require"

	migrate "github.com/acronis/go-migrate"
	"github.com/acronis/go-migrate/sqlite"
)

const bootstrapSQL = `CREATE TABLE IF NOT EXISTS schema_migrations (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	migration_name TEXT NOT NULL UNIQUE,
	executed_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);`

func writeMigrations(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0600))
	}
}

func newSQLiteRunner(t *testing.T, dir string, options ...Option) (*Runner, *migrate.SQLAdapter) {
	t.Helper()
	adapter := sqlite.New(":memory:")
	r, err := New(adapter, dir, log.NewDisabledLogger(), options...)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, r.Cleanup(context.Background()))
	})
	return r, adapter
}

func selectAppliedNames(t *testing.T, adapter *migrate.SQLAdapter) []string {
	t.Helper()
	rows, err := adapter.DB().Query("SELECT migration_name FROM schema_migrations ORDER BY id")
	require.NoError(t, err)
	defer func() { require.NoError(t, rows.Close()) }()
	var names []string
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		names = append(names, name)
	}
	require.NoError(t, rows.Err())
	return names
}

func TestRunnerFreshDatabase(t *testing.T) {
	dir := t.TempDir()
	writeMigrations(t, dir, map[string]string{
		"0000_bootstrap.sql":    bootstrapSQL,
		"0001_create_users.sql": "CREATE TABLE users (id INTEGER PRIMARY KEY, email TEXT NOT NULL UNIQUE);",
	})
	r, adapter := newSQLiteRunner(t, dir)
	ctx := context.Background()

	res, err := r.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, Result{Executed: 2, Skipped: 0}, res)
	require.Equal(t, []string{"0000_bootstrap.sql", "0001_create_users.sql"}, selectAppliedNames(t, adapter))

	// The second run over the same source executes nothing.
	res, err = r.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, Result{Executed: 0, Skipped: 2}, res)
	require.Equal(t, []string{"0000_bootstrap.sql", "0001_create_users.sql"}, selectAppliedNames(t, adapter))
}

func TestRunnerAppliesInLexicalOrder(t *testing.T) {
	dir := t.TempDir()
	// Written in shuffled order on purpose; only names may define the order.
	writeMigrations(t, dir, map[string]string{
		"0003_add_index.sql":    "CREATE INDEX idx_users_email ON users (email);",
		"0000_bootstrap.sql":    bootstrapSQL,
		"0002_add_column.sql":   "ALTER TABLE users ADD COLUMN full_name TEXT;",
		"0001_create_users.sql": "CREATE TABLE users (id INTEGER PRIMARY KEY, email TEXT NOT NULL UNIQUE);",
	})
	r, adapter := newSQLiteRunner(t, dir)

	res, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, Result{Executed: 4, Skipped: 0}, res)
	require.Equal(t,
		[]string{"0000_bootstrap.sql", "0001_create_users.sql", "0002_add_column.sql", "0003_add_index.sql"},
		selectAppliedNames(t, adapter))
}

func TestRunnerAppliesOnlyPending(t *testing.T) {
	dir := t.TempDir()
	writeMigrations(t, dir, map[string]string{
		"0000_bootstrap.sql":    bootstrapSQL,
		"0001_create_users.sql": "CREATE TABLE users (id INTEGER PRIMARY KEY);",
	})
	r, adapter := newSQLiteRunner(t, dir)
	ctx := context.Background()

	_, err := r.Run(ctx)
	require.NoError(t, err)

	// A new migration shows up later; only it is applied.
	writeMigrations(t, dir, map[string]string{
		"0002_create_groups.sql": "CREATE TABLE groups (id INTEGER PRIMARY KEY);",
	})
	res, err := r.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, Result{Executed: 1, Skipped: 2}, res)
	require.Equal(t,
		[]string{"0000_bootstrap.sql", "0001_create_users.sql", "0002_create_groups.sql"},
		selectAppliedNames(t, adapter))
}

func TestRunnerStopsOnFirstFailure(t *testing.T) {
	dir := t.TempDir()
	writeMigrations(t, dir, map[string]string{
		"0000_bootstrap.sql":    bootstrapSQL,
		"0001_create_users.sql": "CREATE TABLE users (id INTEGER PRIMARY KEY);",
		"0002_broken.sql":       "INSERT INTO users (id) VALUES (1);\nTHIS IS NOT SQL;",
		"0003_never_runs.sql":   "CREATE TABLE unreached (id INTEGER PRIMARY KEY);",
	})
	r, adapter := newSQLiteRunner(t, dir)
	ctx := context.Background()

	res, err := r.Run(ctx)
	var migErr *migrate.MigrationError
	require.ErrorAs(t, err, &migErr)
	require.Equal(t, "0002_broken.sql", migErr.Name)
	require.Equal(t, Result{Executed: 2, Skipped: 0}, res)

	// The failing migration left no partial changes and no record.
	require.Equal(t, []string{"0000_bootstrap.sql", "0001_create_users.sql"}, selectAppliedNames(t, adapter))
	var userCount int
	require.NoError(t, adapter.DB().QueryRow("SELECT COUNT(*) FROM users").Scan(&userCount))
	require.Equal(t, 0, userCount)

	// Fixing the migration makes the next run resume at the failure point.
	writeMigrations(t, dir, map[string]string{
		"0002_broken.sql": "INSERT INTO users (id) VALUES (1);",
	})
	res, err = r.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, Result{Executed: 2, Skipped: 2}, res)
}

func TestRunnerIgnoresNonMigrationFiles(t *testing.T) {
	dir := t.TempDir()
	writeMigrations(t, dir, map[string]string{
		"0000_bootstrap.sql": bootstrapSQL,
		"_fragment.sql":      "THIS WOULD FAIL IF EXECUTED;",
		"notes.txt":          "not a migration",
	})
	require.NoError(t, os.Mkdir(filepath.Join(dir, "archive"), 0700))
	r, adapter := newSQLiteRunner(t, dir)

	res, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, Result{Executed: 1, Skipped: 0}, res)
	require.Equal(t, []string{"0000_bootstrap.sql"}, selectAppliedNames(t, adapter))
}

func TestRunnerMissingSourceDir(t *testing.T) {
	r, _ := newSQLiteRunner(t, filepath.Join(t.TempDir(), "does-not-exist"))
	_, err := r.Run(context.Background())
	require.ErrorIs(t, err, migrate.ErrSourceNotFound)
}

func TestRunnerEmptySource(t *testing.T) {
	dir := t.TempDir()
	r, adapter := newSQLiteRunner(t, dir)

	res, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, Result{}, res)

	// Nothing was created, not even the tracking table.
	exists, err := adapter.TableExists(context.Background(), migrate.DefaultMigrationsTableName, "")
	require.NoError(t, err)
	require.False(t, exists)
}

func TestRunnerBootstrapMustCreateTrackingTable(t *testing.T) {
	dir := t.TempDir()
	writeMigrations(t, dir, map[string]string{
		"0000_bootstrap.sql": "CREATE TABLE IF NOT EXISTS something_else (id INTEGER PRIMARY KEY);",
	})
	r, _ := newSQLiteRunner(t, dir)

	_, err := r.Run(context.Background())
	require.ErrorIs(t, err, migrate.ErrMissingBootstrap)
}

func TestRunnerCustomTableName(t *testing.T) {
	const tableName = "my_migrations"
	dir := t.TempDir()
	writeMigrations(t, dir, map[string]string{
		"0000_bootstrap.sql": `CREATE TABLE IF NOT EXISTS my_migrations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			migration_name TEXT NOT NULL UNIQUE,
			executed_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
		"0001_create_users.sql": "CREATE TABLE users (id INTEGER PRIMARY KEY);",
	})
	r, adapter := newSQLiteRunner(t, dir, WithTableName(tableName))
	ctx := context.Background()

	res, err := r.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, Result{Executed: 2, Skipped: 0}, res)

	var count int
	require.NoError(t, adapter.DB().QueryRow("SELECT COUNT(*) FROM my_migrations").Scan(&count))
	require.Equal(t, 2, count)
}

func TestRunnerWithFS(t *testing.T) {
	fsys := fstest.MapFS{
		"migrations/0000_bootstrap.sql":    {Data: []byte(bootstrapSQL)},
		"migrations/0001_create_users.sql": {Data: []byte("CREATE TABLE users (id INTEGER PRIMARY KEY);")},
	}
	adapter := sqlite.New(":memory:")
	r, err := New(adapter, "migrations", log.NewDisabledLogger(), WithFS(fsys))
	require.NoError(t, err)
	defer func() { require.NoError(t, r.Cleanup(context.Background())) }()

	res, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, Result{Executed: 2, Skipped: 0}, res)
}

func TestRunnerWithMetrics(t *testing.T) {
	dir := t.TempDir()
	writeMigrations(t, dir, map[string]string{
		"0000_bootstrap.sql":    bootstrapSQL,
		"0001_create_users.sql": "CREATE TABLE users (id INTEGER PRIMARY KEY);",
	})
	metrics := migrate.NewPrometheusMetrics()
	r, _ := newSQLiteRunner(t, dir, WithMetrics(metrics))

	res, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, Result{Executed: 2, Skipped: 0}, res)
}

// trackingTableDropper simulates a racing process that drops the tracking
// table between the existence check and the batch query.
type trackingTableDropper struct {
	migrate.Adapter
	dropped bool
}

func (a *trackingTableDropper) ExecutedMigrations(ctx context.Context, tableName string, names []string) ([]string, error) {
	if !a.dropped {
		a.dropped = true
		if err := a.Adapter.ExecRaw(ctx, "DROP TABLE "+tableName); err != nil {
			return nil, err
		}
	}
	return a.Adapter.ExecutedMigrations(ctx, tableName, names)
}

func TestRunnerRebootstrapsWhenTrackingTableVanishes(t *testing.T) {
	dir := t.TempDir()
	writeMigrations(t, dir, map[string]string{
		"0000_bootstrap.sql":    bootstrapSQL,
		"0001_create_users.sql": "CREATE TABLE users (id INTEGER PRIMARY KEY);",
	})
	adapter := &trackingTableDropper{Adapter: sqlite.New(":memory:")}
	r, err := New(adapter, dir, log.NewDisabledLogger())
	require.NoError(t, err)
	defer func() { require.NoError(t, r.Cleanup(context.Background())) }()

	res, err := r.Run(context.Background())
	require.NoError(t, err)
	require.True(t, adapter.dropped)
	require.Equal(t, Result{Executed: 2, Skipped: 0}, res)
}
