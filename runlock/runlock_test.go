/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package runlock

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	migrate "github.com/acronis/go-migrate"
)

func openSQLiteDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { require.NoError(t, db.Close()) })
	return db
}

func newSQLiteManager(t *testing.T, db *sql.DB) *Manager {
	t.Helper()
	manager, err := NewManager(migrate.DialectSQLite)
	require.NoError(t, err)
	require.NoError(t, manager.EnsureTable(context.Background(), db))
	return manager
}

func TestNewManager(t *testing.T) {
	for _, dialect := range []migrate.Dialect{
		migrate.DialectPostgres, migrate.DialectPgx, migrate.DialectMySQL, migrate.DialectSQLite,
	} {
		manager, err := NewManager(dialect)
		require.NoError(t, err, "dialect %s", dialect)
		require.Contains(t, manager.CreateTableSQL(), DefaultTableName)
		require.Contains(t, manager.DropTableSQL(), DefaultTableName)
	}

	_, err := NewManager(migrate.DialectMSSQL)
	require.EqualError(t, err, `unsupported sql dialect "mssql"`)

	manager, err := NewManager(migrate.DialectSQLite, WithTableName("custom_locks"))
	require.NoError(t, err)
	require.Contains(t, manager.CreateTableSQL(), "custom_locks")
}

func TestNewLockKeyValidation(t *testing.T) {
	db := openSQLiteDB(t)
	manager := newSQLiteManager(t, db)
	ctx := context.Background()

	_, err := manager.NewLock(ctx, db, "")
	require.EqualError(t, err, "lock key cannot be empty")

	_, err = manager.NewLock(ctx, db, strings.Repeat("k", 41))
	require.EqualError(t, err, "lock key cannot be longer than 40 symbols")
}

func TestLockAcquireReleaseExtend(t *testing.T) {
	db := openSQLiteDB(t)
	manager := newSQLiteManager(t, db)
	ctx := context.Background()

	lock, err := manager.NewLock(ctx, db, DefaultKey)
	require.NoError(t, err)
	require.NoError(t, lock.Acquire(ctx, db, time.Minute))
	require.NotEmpty(t, lock.Token())

	// A second contender cannot take the same key while it is held.
	contender, err := manager.NewLock(ctx, db, DefaultKey)
	require.NoError(t, err)
	require.ErrorIs(t, contender.Acquire(ctx, db, time.Minute), ErrLockAlreadyAcquired)

	require.NoError(t, lock.Extend(ctx, db))

	require.NoError(t, lock.Release(ctx, db))
	require.ErrorIs(t, lock.Release(ctx, db), ErrLockAlreadyReleased)
	require.ErrorIs(t, lock.Extend(ctx, db), ErrLockAlreadyReleased)

	// Once released, the key is free again.
	require.NoError(t, contender.Acquire(ctx, db, time.Minute))
	require.NoError(t, contender.Release(ctx, db))
}

func TestLockExpires(t *testing.T) {
	db := openSQLiteDB(t)
	manager := newSQLiteManager(t, db)
	ctx := context.Background()

	lock, err := manager.NewLock(ctx, db, "expiring")
	require.NoError(t, err)
	require.NoError(t, lock.Acquire(ctx, db, 50*time.Millisecond))

	time.Sleep(150 * time.Millisecond)

	// An expired lock is reclaimable by anyone.
	contender, err := manager.NewLock(ctx, db, "expiring")
	require.NoError(t, err)
	require.NoError(t, contender.Acquire(ctx, db, time.Minute))
}

func TestAcquireWithStaticToken(t *testing.T) {
	db := openSQLiteDB(t)
	manager := newSQLiteManager(t, db)
	ctx := context.Background()

	lock, err := manager.NewLock(ctx, db, "static")
	require.NoError(t, err)
	require.NoError(t, lock.AcquireWithStaticToken(ctx, db, "token-1", time.Minute))

	// The same token re-acquires the held lock.
	sameHolder, err := manager.NewLock(ctx, db, "static")
	require.NoError(t, err)
	require.NoError(t, sameHolder.AcquireWithStaticToken(ctx, db, "token-1", time.Minute))

	// A different token does not.
	other, err := manager.NewLock(ctx, db, "static")
	require.NoError(t, err)
	require.ErrorIs(t, other.AcquireWithStaticToken(ctx, db, "token-2", time.Minute), ErrLockAlreadyAcquired)
}

func TestDoExclusively(t *testing.T) {
	db := openSQLiteDB(t)
	ctx := context.Background()

	var calls int
	err := DoExclusively(ctx, db, migrate.DialectSQLite, DefaultKey, func(ctx context.Context) error {
		calls++
		// The lock is held while the function runs.
		manager, newErr := NewManager(migrate.DialectSQLite)
		require.NoError(t, newErr)
		contender, lockErr := manager.NewLock(ctx, db, DefaultKey)
		require.NoError(t, lockErr)
		require.ErrorIs(t, contender.Acquire(ctx, db, time.Minute), ErrLockAlreadyAcquired)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, calls)

	// The lock is released when the function returns.
	manager, err := NewManager(migrate.DialectSQLite)
	require.NoError(t, err)
	lock, err := manager.NewLock(ctx, db, DefaultKey)
	require.NoError(t, err)
	require.NoError(t, lock.Acquire(ctx, db, time.Minute))
}
