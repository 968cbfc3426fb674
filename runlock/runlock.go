/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

// Package runlock provides an optional database-backed mutual exclusion
// for migration runs. The engine itself never locks anything; a deployment
// that starts several replicas concurrently can wrap the migration run in
// Lock.DoExclusively to make sure only one replica applies migrations at
// a time.
package runlock

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	migrate "github.com/acronis/go-migrate"
)

// DefaultTableName is the default name of the table that stores run locks.
const DefaultTableName = "migration_run_locks"

// DefaultKey is the lock key used by migration runs unless the caller
// picks its own.
const DefaultKey = "migrations"

// ErrLockAlreadyAcquired is returned by Acquire when another process
// holds a non-expired lock with the same key.
var ErrLockAlreadyAcquired = errors.New("lock is already acquired")

// ErrLockAlreadyReleased is returned by Release and Extend when the lock
// is not held anymore (released explicitly or expired).
var ErrLockAlreadyReleased = errors.New("lock is already released")

// SQLExecutor is satisfied by *sql.DB, *sql.Tx and *sql.Conn.
type SQLExecutor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// Manager builds run locks over one lock table of one SQL dialect.
type Manager struct {
	queries lockQueries
}

// ManagerOption is an option for NewManager.
type ManagerOption func(*managerOptions)

type managerOptions struct {
	tableName string
}

// WithTableName overrides the lock table name (DefaultTableName by default).
func WithTableName(tableName string) ManagerOption {
	return func(o *managerOptions) {
		o.tableName = tableName
	}
}

// NewManager creates a run lock manager for the passed SQL dialect.
func NewManager(dialect migrate.Dialect, options ...ManagerOption) (*Manager, error) {
	var opts managerOptions
	for _, opt := range options {
		opt(&opts)
	}
	if opts.tableName == "" {
		opts.tableName = DefaultTableName
	}
	q, err := newLockQueries(dialect, opts.tableName)
	if err != nil {
		return nil, err
	}
	return &Manager{q}, nil
}

// CreateTableSQL returns the SQL statement creating the lock table.
// The statement is idempotent and is a good candidate for inclusion in
// the bootstrap migration file.
func (m *Manager) CreateTableSQL() string {
	return m.queries.createTable
}

// DropTableSQL returns the SQL statement dropping the lock table.
func (m *Manager) DropTableSQL() string {
	return m.queries.dropTable
}

// EnsureTable creates the lock table if it does not exist yet.
func (m *Manager) EnsureTable(ctx context.Context, executor SQLExecutor) error {
	if _, err := executor.ExecContext(ctx, m.queries.createTable); err != nil {
		return fmt.Errorf("create lock table: %w", err)
	}
	return nil
}

// NewLock creates a new initialized (but not acquired) run lock.
// The lock row is inserted if missing, so NewLock is safe to call
// concurrently from several processes.
func (m *Manager) NewLock(ctx context.Context, executor SQLExecutor, key string) (Lock, error) {
	if key == "" {
		return Lock{}, fmt.Errorf("lock key cannot be empty")
	}
	if len(key) > 40 {
		return Lock{}, fmt.Errorf("lock key cannot be longer than 40 symbols")
	}
	if _, err := executor.ExecContext(ctx, m.queries.initLock, key); err != nil {
		return Lock{}, fmt.Errorf("init lock with key %s: %w", key, err)
	}
	return Lock{Key: key, manager: m}, nil
}

// Lock represents one lock row in the database. A lock is held by the
// process that knows its current token; expiry makes a crashed holder's
// lock reclaimable.
type Lock struct {
	Key     string
	TTL     time.Duration
	token   string
	manager *Manager
}

// Acquire acquires the lock with a fresh random token.
func (l *Lock) Acquire(ctx context.Context, executor SQLExecutor, lockTTL time.Duration) error {
	return l.AcquireWithStaticToken(ctx, executor, uuid.NewString(), lockTTL)
}

// AcquireWithStaticToken acquires the lock using the passed token.
// A process that already holds the lock under the same token re-acquires
// it; use this to keep the lock across process restarts with a stable
// identity. Prefer Acquire unless you need that.
func (l *Lock) AcquireWithStaticToken(ctx context.Context, executor SQLExecutor, token string, lockTTL time.Duration) error {
	interval := l.manager.queries.intervalMaker(lockTTL)
	err := execQueryAndCheckAffectedRow(ctx, executor, l.manager.queries.acquireLock,
		[]interface{}{interval, token, l.Key, token}, ErrLockAlreadyAcquired)
	if err != nil {
		return err
	}
	l.TTL = lockTTL
	l.token = token
	return nil
}

// Release releases the lock. ErrLockAlreadyReleased is returned when the
// lock has expired or was released before.
func (l *Lock) Release(ctx context.Context, executor SQLExecutor) error {
	return execQueryAndCheckAffectedRow(ctx, executor,
		l.manager.queries.releaseLock, []interface{}{l.Key, l.token}, ErrLockAlreadyReleased)
}

// Extend resets the expiration timeout of an already acquired lock.
// ErrLockAlreadyReleased means the lock was lost and must be acquired
// again.
func (l *Lock) Extend(ctx context.Context, executor SQLExecutor) error {
	interval := l.manager.queries.intervalMaker(l.TTL)
	return execQueryAndCheckAffectedRow(ctx, executor,
		l.manager.queries.extendLock, []interface{}{interval, l.Key, l.token}, ErrLockAlreadyReleased)
}

// Token returns the token of the last acquired lock. Useful in logs when
// investigating contention between replicas.
func (l *Lock) Token() string {
	return l.token
}

// Logger is an interface for logging errors.
type Logger interface {
	Errorf(format string, args ...interface{})
}

type doOptions struct {
	lockTTL                time.Duration
	periodicExtendInterval time.Duration
	releaseTimeout         time.Duration
	logger                 Logger
}

// DoOption is an option for DoExclusively.
type DoOption func(*doOptions)

// WithLockTTL sets TTL for the lock acquired by DoExclusively.
func WithLockTTL(ttl time.Duration) DoOption {
	return func(o *doOptions) {
		o.lockTTL = ttl
	}
}

// WithPeriodicExtendInterval sets the interval of periodic lock extension.
func WithPeriodicExtendInterval(interval time.Duration) DoOption {
	return func(o *doOptions) {
		o.periodicExtendInterval = interval
	}
}

// WithReleaseTimeout sets the timeout for the final lock release.
func WithReleaseTimeout(timeout time.Duration) DoOption {
	return func(o *doOptions) {
		o.releaseTimeout = timeout
	}
}

// WithLogger sets the logger for DoExclusively.
func WithLogger(logger Logger) DoOption {
	return func(o *doOptions) {
		o.logger = logger
	}
}

// DoExclusively acquires the lock, calls fn, and releases the lock when
// fn returns. The default TTL is 1 minute (WithLockTTL to change), and
// the lock is extended periodically within a separate goroutine, every
// half of the TTL by default (WithPeriodicExtendInterval to change).
// If an extension discovers the lock was lost, the context passed to fn
// is canceled. The final release uses its own timeout (5 seconds by
// default, WithReleaseTimeout to change) so it works even when the
// caller's context is already canceled.
func (l *Lock) DoExclusively(
	ctx context.Context,
	dbConn *sql.DB,
	fn func(ctx context.Context) error,
	options ...DoOption,
) error {
	var opts doOptions
	for _, opt := range options {
		opt(&opts)
	}
	if opts.lockTTL == 0 {
		opts.lockTTL = 1 * time.Minute
	}
	if opts.periodicExtendInterval == 0 {
		opts.periodicExtendInterval = opts.lockTTL / 2
	}
	if opts.releaseTimeout == 0 {
		opts.releaseTimeout = 5 * time.Second
	}
	if opts.logger == nil {
		opts.logger = disabledLogger{}
	}

	if acquireLockErr := migrate.DoInTx(ctx, dbConn, func(tx *sql.Tx) error {
		return l.Acquire(ctx, tx, opts.lockTTL)
	}); acquireLockErr != nil {
		return acquireLockErr
	}

	//nolint:contextcheck // context.Background() is being used to allow lock release even
	// if the passed ctx is already canceled
	defer func() {
		releaseCtx, releaseCtxCancel := context.WithTimeout(context.Background(), opts.releaseTimeout)
		defer releaseCtxCancel()
		if releaseLockErr := migrate.DoInTx(releaseCtx, dbConn, func(tx *sql.Tx) error {
			return l.Release(releaseCtx, tx)
		}); releaseLockErr != nil {
			opts.logger.Errorf("failed to release lock with key %s and token %s, error: %v", l.Key, l.token, releaseLockErr)
		}
	}()

	childCtx, childCtxCancel := context.WithCancel(ctx)
	defer childCtxCancel()

	periodicExtensionExit := make(chan struct{})
	periodicExtensionDone := make(chan struct{})
	defer func() {
		close(periodicExtensionDone)
		<-periodicExtensionExit
	}()

	go func() {
		defer func() { close(periodicExtensionExit) }()
		ticker := time.NewTicker(opts.periodicExtendInterval)
		defer ticker.Stop()
		for {
			select {
			case <-periodicExtensionDone:
				return
			case <-ticker.C:
				if extendErr := migrate.DoInTx(ctx, dbConn, func(tx *sql.Tx) error {
					return l.Extend(ctx, tx)
				}); extendErr != nil {
					opts.logger.Errorf("failed to extend lock with key %s and token %s, error: %v", l.Key, l.token, extendErr)
					if errors.Is(extendErr, ErrLockAlreadyReleased) {
						childCtxCancel() // The lock was lost, stop the exclusive job asap.
						return
					}
				}
			}
		}
	}()

	return fn(childCtx)
}

// DoExclusively acquires a run lock with the passed key, calls fn and
// releases the lock when fn is finished. It is a ready-to-use helper that
// creates a Manager, makes sure the lock table exists, initializes the
// lock and calls Lock.DoExclusively on it. DefaultTableName is used for
// the table name; construct a Manager manually to change it.
func DoExclusively(
	ctx context.Context,
	dbConn *sql.DB,
	dialect migrate.Dialect,
	key string,
	fn func(ctx context.Context) error,
	options ...DoOption,
) error {
	manager, err := NewManager(dialect)
	if err != nil {
		return fmt.Errorf("create lock manager: %w", err)
	}
	if err = manager.EnsureTable(ctx, dbConn); err != nil {
		return err
	}
	lock, err := manager.NewLock(ctx, dbConn, key)
	if err != nil {
		return fmt.Errorf("create new lock: %w", err)
	}
	return lock.DoExclusively(ctx, dbConn, fn, options...)
}

func execQueryAndCheckAffectedRow(
	ctx context.Context, executor SQLExecutor, query string, args []interface{}, errOnNoAffectedRows error,
) error {
	result, err := executor.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}

	// If the same context object is used in BeginTx() and in ExecContext() methods and it's canceled,
	// "context deadline exceeded" or "canceling statement due to user request" errors are not returned from the ExecContext().
	// This issue is actual for github.com/lib/pq driver (https://github.com/lib/pq/issues/874).
	// Probably it's because when a context is canceled, tx is rolled backed and this behavior is not handled properly in lib/pq.
	// We can apply a simple work around here and just check ctx.Err() as guys from cocroachdb did
	// (https://github.com/cockroachdb/cockroach/pull/39525/files#diff-f3aa9f413e52eca7d64bf33c9493ec426a0c54aa4dca7a9d948721aa365e96c0).
	if ctx.Err() != nil {
		return ctx.Err()
	}

	var affected int64
	if affected, err = result.RowsAffected(); err != nil {
		return err
	} else if affected == 0 {
		return errOnNoAffectedRows
	}
	return nil
}

type lockQueries struct {
	createTable   string
	dropTable     string
	initLock      string
	acquireLock   string
	releaseLock   string
	extendLock    string
	intervalMaker func(interval time.Duration) string
}

func newLockQueries(dialect migrate.Dialect, tableName string) (lockQueries, error) {
	switch dialect {
	case migrate.DialectPostgres, migrate.DialectPgx:
		return lockQueries{
			createTable:   fmt.Sprintf(postgresCreateTableQuery, tableName),
			dropTable:     fmt.Sprintf(postgresDropTableQuery, tableName),
			initLock:      fmt.Sprintf(postgresInitLockQuery, tableName),
			acquireLock:   fmt.Sprintf(postgresAcquireLockQuery, tableName),
			releaseLock:   fmt.Sprintf(postgresReleaseLockQuery, tableName),
			extendLock:    fmt.Sprintf(postgresExtendLockQuery, tableName),
			intervalMaker: postgresMakeInterval,
		}, nil
	case migrate.DialectMySQL:
		return lockQueries{
			createTable:   fmt.Sprintf(mySQLCreateTableQuery, tableName),
			dropTable:     fmt.Sprintf(mySQLDropTableQuery, tableName),
			initLock:      fmt.Sprintf(mySQLInitLockQuery, tableName),
			acquireLock:   fmt.Sprintf(mySQLAcquireLockQuery, tableName),
			releaseLock:   fmt.Sprintf(mySQLReleaseLockQuery, tableName),
			extendLock:    fmt.Sprintf(mySQLExtendLockQuery, tableName),
			intervalMaker: mySQLMakeInterval,
		}, nil
	case migrate.DialectSQLite:
		return lockQueries{
			createTable:   fmt.Sprintf(sqliteCreateTableQuery, tableName),
			dropTable:     fmt.Sprintf(sqliteDropTableQuery, tableName),
			initLock:      fmt.Sprintf(sqliteInitLockQuery, tableName),
			acquireLock:   fmt.Sprintf(sqliteAcquireLockQuery, tableName),
			releaseLock:   fmt.Sprintf(sqliteReleaseLockQuery, tableName),
			extendLock:    fmt.Sprintf(sqliteExtendLockQuery, tableName),
			intervalMaker: sqliteMakeInterval,
		}, nil
	default:
		return lockQueries{}, fmt.Errorf("unsupported sql dialect %q", dialect)
	}
}

//nolint:lll
const (
	postgresCreateTableQuery = `CREATE TABLE IF NOT EXISTS "%s" (lock_key varchar(40) PRIMARY KEY, token uuid, expire_at timestamp);`
	postgresDropTableQuery   = `DROP TABLE IF EXISTS "%s";`
	postgresInitLockQuery    = `INSERT INTO "%s" (lock_key) VALUES ($1) ON CONFLICT (lock_key) DO NOTHING;`
	postgresAcquireLockQuery = `UPDATE "%s" SET expire_at = NOW() + $1::interval, token = $2 WHERE lock_key = $3 AND ((expire_at IS NULL OR expire_at < NOW()) OR token = $4);`
	postgresReleaseLockQuery = `UPDATE "%s" SET expire_at = NULL WHERE lock_key = $1 AND token = $2 AND expire_at >= NOW();`
	postgresExtendLockQuery  = `UPDATE "%s" SET expire_at = NOW() + $1::interval WHERE lock_key = $2 AND token = $3 AND expire_at >= NOW();`
)

func postgresMakeInterval(interval time.Duration) string {
	return strconv.FormatInt(interval.Microseconds(), 10) + " microseconds"
}

//nolint:lll
const (
	mySQLCreateTableQuery = "CREATE TABLE IF NOT EXISTS `%s` (lock_key VARCHAR(40) PRIMARY KEY, token VARCHAR(36), expire_at BIGINT);"
	mySQLDropTableQuery   = "DROP TABLE IF EXISTS `%s`;"
	mySQLInitLockQuery    = "INSERT IGNORE `%s` (lock_key) VALUES (?);"
	mySQLAcquireLockQuery = "UPDATE `%s` SET expire_at = UNIX_TIMESTAMP(DATE_ADD(CURTIME(4), INTERVAL ? MICROSECOND))*10000, token = ? WHERE lock_key = ? AND ((expire_at IS NULL OR expire_at < UNIX_TIMESTAMP(CURTIME(4))*10000) OR token = ?);"
	mySQLReleaseLockQuery = "UPDATE `%s` SET expire_at = NULL WHERE lock_key = ? AND token = ? AND expire_at >= UNIX_TIMESTAMP(CURTIME(4))*10000;"
	mySQLExtendLockQuery  = "UPDATE `%s` SET expire_at = UNIX_TIMESTAMP(DATE_ADD(CURTIME(4), INTERVAL ? MICROSECOND))*10000 WHERE lock_key = ? AND token = ? AND expire_at >= UNIX_TIMESTAMP(CURTIME(4))*10000;"
)

func mySQLMakeInterval(interval time.Duration) string {
	return strconv.FormatInt(interval.Microseconds(), 10)
}

// SQLite stores expire_at as unix microseconds derived from julianday,
// which keeps sub-second precision unlike strftime('%s').
//
//nolint:lll
const (
	sqliteCreateTableQuery = `CREATE TABLE IF NOT EXISTS "%s" (lock_key TEXT PRIMARY KEY, token TEXT, expire_at INTEGER);`
	sqliteDropTableQuery   = `DROP TABLE IF EXISTS "%s";`
	sqliteInitLockQuery    = `INSERT OR IGNORE INTO "%s" (lock_key) VALUES (?);`
	sqliteAcquireLockQuery = `UPDATE "%s" SET expire_at = CAST((julianday('now') - 2440587.5)*86400000000 AS INTEGER) + ?, token = ? WHERE lock_key = ? AND ((expire_at IS NULL OR expire_at < CAST((julianday('now') - 2440587.5)*86400000000 AS INTEGER)) OR token = ?);`
	sqliteReleaseLockQuery = `UPDATE "%s" SET expire_at = NULL WHERE lock_key = ? AND token = ? AND expire_at >= CAST((julianday('now') - 2440587.5)*86400000000 AS INTEGER);`
	sqliteExtendLockQuery  = `UPDATE "%s" SET expire_at = CAST((julianday('now') - 2440587.5)*86400000000 AS INTEGER) + ? WHERE lock_key = ? AND token = ? AND expire_at >= CAST((julianday('now') - 2440587.5)*86400000000 AS INTEGER);`
)

func sqliteMakeInterval(interval time.Duration) string {
	return strconv.FormatInt(interval.Microseconds(), 10)
}

type disabledLogger struct{}

func (disabledLogger) Errorf(msg string, args ...interface{}) {}
