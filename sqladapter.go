/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package migrate

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/acronis/go-appkit/log"
)

// AdapterQueries carries the dialect-specific SQL a backend contributes to
// SQLAdapter. Backend packages fill it in and hand it to NewSQLAdapter;
// everything else (connection lifecycle, transactions, scanning) is shared.
type AdapterQueries struct {
	// Ping is a trivial round-trip query used by TestConnection.
	// Defaults to "SELECT 1".
	Ping string

	// TableExists returns a query yielding a single integer count of
	// relations matching the given name and schema. An empty schema must be
	// interpreted as the backend's current default schema.
	TableExists func(tableName, schema string) (query string, args []interface{})

	// ExecutedMigrations returns a single membership-predicate query
	// yielding the subset of names that have tracking records.
	ExecutedMigrations func(tableName string, names []string) (query string, args []interface{}, err error)

	// InsertRecord returns an insert statement for the tracking table with
	// exactly one placeholder (the migration name). The statement must
	// tolerate duplicates: inserting an existing name is a no-op.
	InsertRecord func(tableName string) string

	// MissingRelation classifies "relation does not exist" driver errors.
	MissingRelation func(err error) bool
}

type adapterOptions struct {
	logger      log.FieldLogger
	txIsolation sql.IsolationLevel
}

// AdapterOption is a functional option for adapter constructors.
type AdapterOption func(*adapterOptions)

// WithAdapterLogger sets the logger used for connection diagnostics.
// A disabled logger is used by default.
func WithAdapterLogger(logger log.FieldLogger) AdapterOption {
	return func(o *adapterOptions) {
		o.logger = logger
	}
}

// WithTxIsolation sets the isolation level for migration transactions.
func WithTxIsolation(level sql.IsolationLevel) AdapterOption {
	return func(o *adapterOptions) {
		o.txIsolation = level
	}
}

// SQLAdapter implements Adapter on top of database/sql for one concrete
// dialect. It owns its connection handle exclusively: the pool is pinned
// to a single open connection because migrations apply in strict total
// order and a second connection could only be used to break that order.
type SQLAdapter struct {
	driverName string
	dsn        string
	queries    AdapterQueries
	logger     log.FieldLogger
	txIsolation sql.IsolationLevel

	db     *sql.DB
	ownsDB bool
}

var _ Adapter = (*SQLAdapter)(nil)

// NewSQLAdapter creates an adapter that will open its own connection on
// Connect using the given driver name and DSN.
func NewSQLAdapter(driverName, dsn string, queries AdapterQueries, options ...AdapterOption) *SQLAdapter {
	a := newSQLAdapter(queries, options)
	a.driverName = driverName
	a.dsn = dsn
	return a
}

// NewSQLAdapterFromDB creates an adapter around an existing connection
// handle. The handle stays owned by the caller: Disconnect drops the
// adapter's reference but does not close it.
func NewSQLAdapterFromDB(dbConn *sql.DB, queries AdapterQueries, options ...AdapterOption) *SQLAdapter {
	a := newSQLAdapter(queries, options)
	a.db = dbConn
	return a
}

func newSQLAdapter(queries AdapterQueries, options []AdapterOption) *SQLAdapter {
	opts := adapterOptions{logger: log.NewDisabledLogger(), txIsolation: sql.LevelDefault}
	for _, opt := range options {
		opt(&opts)
	}
	if queries.Ping == "" {
		queries.Ping = "SELECT 1"
	}
	return &SQLAdapter{
		queries:     queries,
		logger:      opts.logger,
		txIsolation: opts.txIsolation,
	}
}

// Connect opens and verifies the connection. It is idempotent: calling it
// while already connected is a no-op.
func (a *SQLAdapter) Connect(ctx context.Context) error {
	if a.db != nil {
		return nil
	}
	dbConn, err := sql.Open(a.driverName, a.dsn)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	dbConn.SetMaxOpenConns(DefaultMaxOpenConns)
	dbConn.SetMaxIdleConns(DefaultMaxIdleConns)
	if err = dbConn.PingContext(ctx); err != nil {
		_ = dbConn.Close()
		return fmt.Errorf("ping database: %w", err)
	}
	a.db = dbConn
	a.ownsDB = true
	return nil
}

// Disconnect releases the connection. Safe to call when not connected and
// on all exit paths; a handle passed in via NewSQLAdapterFromDB is not
// closed, only dropped.
func (a *SQLAdapter) Disconnect(_ context.Context) error {
	if a.db == nil {
		return nil
	}
	var err error
	if a.ownsDB {
		err = a.db.Close()
	}
	a.db = nil
	a.ownsDB = false
	if err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// DB returns the underlying connection handle, nil when not connected.
// Exposed for companion packages (run locks, instrumentation) that need
// raw access over the same single connection.
func (a *SQLAdapter) DB() *sql.DB {
	return a.db
}

// TestConnection issues the dialect's ping query and reports whether it
// round-tripped. Failures are logged and reported as false, never raised.
func (a *SQLAdapter) TestConnection(ctx context.Context) bool {
	if a.db == nil {
		a.logger.Error("connection check failed: adapter is not connected")
		return false
	}
	var one int
	if err := a.db.QueryRowContext(ctx, a.queries.Ping).Scan(&one); err != nil {
		a.logger.Error(fmt.Sprintf("connection check failed: %v", err))
		return false
	}
	return true
}

// ExecRaw executes migration SQL text outside a transaction.
func (a *SQLAdapter) ExecRaw(ctx context.Context, sqlText string) error {
	if a.db == nil {
		return ErrNotConnected
	}
	_, err := a.db.ExecContext(ctx, sqlText)
	return err
}

// Query executes a single parameterized statement.
func (a *SQLAdapter) Query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	if a.db == nil {
		return nil, ErrNotConnected
	}
	return a.db.QueryContext(ctx, query, args...)
}

// TableExists reports whether the named relation exists.
func (a *SQLAdapter) TableExists(ctx context.Context, tableName, schema string) (bool, error) {
	if a.db == nil {
		return false, ErrNotConnected
	}
	query, args := a.queries.TableExists(tableName, schema)
	var count int
	if err := a.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return false, fmt.Errorf("check table %s existence: %w", tableName, err)
	}
	return count > 0, nil
}

// ExecutedMigrations returns the subset of names recorded in the tracking
// table, fetched with a single membership query.
func (a *SQLAdapter) ExecutedMigrations(ctx context.Context, tableName string, names []string) ([]string, error) {
	if len(names) == 0 {
		return nil, nil
	}
	query, args, err := a.queries.ExecutedMigrations(tableName, names)
	if err != nil {
		return nil, fmt.Errorf("build executed migrations query: %w", err)
	}
	rows, err := a.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var executed []string
	for rows.Next() {
		var name string
		if err = rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan executed migration name: %w", err)
		}
		executed = append(executed, name)
	}
	return executed, rows.Err()
}

// InTx runs fn within a transaction, handing it the transaction-scoped
// capability value. Commit on nil return, rollback otherwise.
func (a *SQLAdapter) InTx(ctx context.Context, fn func(tx Tx) error) error {
	if a.db == nil {
		return ErrNotConnected
	}
	var txOpts []TxOption
	if a.txIsolation != sql.LevelDefault {
		txOpts = append(txOpts, WithTxOptions(&sql.TxOptions{Isolation: a.txIsolation}))
	}
	return DoInTx(ctx, a.db, func(tx *sql.Tx) error {
		return fn(&sqlTx{tx: tx, insertRecord: a.queries.InsertRecord})
	}, txOpts...)
}

// IsMissingRelation classifies "relation does not exist" errors.
func (a *SQLAdapter) IsMissingRelation(err error) bool {
	if a.queries.MissingRelation == nil {
		return false
	}
	return a.queries.MissingRelation(err)
}

// sqlTx is the transaction-scoped capability value produced by InTx.
// It is invalidated when the callback returns.
type sqlTx struct {
	tx           *sql.Tx
	insertRecord func(tableName string) string
}

func (t *sqlTx) ExecRaw(ctx context.Context, sqlText string) error {
	_, err := t.tx.ExecContext(ctx, sqlText)
	return err
}

func (t *sqlTx) InsertMigrationRecord(ctx context.Context, tableName, migrationName string) error {
	if _, err := t.tx.ExecContext(ctx, t.insertRecord(tableName), migrationName); err != nil {
		return fmt.Errorf("insert migration record %s: %w", migrationName, err)
	}
	return nil
}
