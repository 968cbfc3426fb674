/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Dialect defines a database dialect.
type Dialect string

// Supported dialects. The dialect value doubles as the backend identifier
// accepted by NewAdapter and as the key of the adapter factory registry.
const (
	DialectSQLite   Dialect = "sqlite3"
	DialectMySQL    Dialect = "mysql"
	DialectPostgres Dialect = "postgres"
	DialectPgx      Dialect = "pgx"
	DialectMSSQL    Dialect = "mssql"
)

// Default values for the connection pool parameters.
// A migration run is a single sequential process holding exactly one open
// connection: later migrations may depend on schema state left by earlier
// ones, so there is nothing to parallelize.
const (
	DefaultMaxOpenConns    = 1
	DefaultMaxIdleConns    = 1
	DefaultConnMaxLifetime = time.Minute * 10
)

// Open opens a database connection pool for the configured dialect.
// If ping is true, the database is pinged to verify the connection
// before returning.
func Open(cfg *Config, ping bool) (*sql.DB, error) {
	driverName, dsn := cfg.DriverNameAndDSN()
	if driverName == "" {
		return nil, &UnknownDialectError{Name: string(cfg.Dialect)}
	}

	dbConn, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	dbConn.SetMaxOpenConns(cfg.MaxOpenConns)
	dbConn.SetMaxIdleConns(cfg.MaxIdleConns)
	dbConn.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime))

	if ping {
		if err = dbConn.Ping(); err != nil {
			_ = dbConn.Close()
			return nil, fmt.Errorf("ping database: %w", err)
		}
	}

	return dbConn, nil
}

type txOptions struct {
	sqlTxOpts *sql.TxOptions
}

// TxOption is a functional option for DoInTx.
type TxOption func(*txOptions)

// WithTxOptions sets the sql.TxOptions (isolation level, read-only flag)
// used to begin the transaction.
func WithTxOptions(sqlTxOpts *sql.TxOptions) TxOption {
	return func(o *txOptions) {
		o.sqlTxOpts = sqlTxOpts
	}
}

// DoInTx begins a transaction, calls fn with it, and commits.
// If fn returns an error or panics, the transaction is rolled back;
// a panic is re-raised after the rollback.
func DoInTx(ctx context.Context, dbConn *sql.DB, fn func(tx *sql.Tx) error, options ...TxOption) error {
	var opts txOptions
	for _, opt := range options {
		opt(&opts)
	}

	tx, err := dbConn.BeginTx(ctx, opts.sqlTxOpts)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err = fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
