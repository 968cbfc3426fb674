/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

// Package postgres provides the PostgreSQL migration adapter. It registers
// two backends: "postgres" (the lib/pq driver) and "pgx" (the pgx stdlib
// driver).
//
// Migration files may contain multiple SQL statements. lib/pq executes
// them with the simple query protocol as long as no parameters are bound.
// For pgx, add default_query_exec_mode=simple_protocol to the DSN if your
// migration files are multi-statement.
package postgres

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // register the "pgx" driver
	"github.com/lib/pq"

	migrate "github.com/acronis/go-migrate"
)

// ErrCode is a PostgreSQL error code.
type ErrCode string

// PostgreSQL error codes the adapter interprets.
const (
	ErrCodeUndefinedTable ErrCode = "42P01"
)

func init() {
	migrate.RegisterAdapterFactory(migrate.DialectPostgres, func(dsn string, opts ...migrate.AdapterOption) migrate.Adapter {
		return New(dsn, opts...)
	})
	migrate.RegisterAdapterFactory(migrate.DialectPgx, func(dsn string, opts ...migrate.AdapterOption) migrate.Adapter {
		return NewPgx(dsn, opts...)
	})
}

// New creates a PostgreSQL adapter backed by the lib/pq driver.
func New(dsn string, opts ...migrate.AdapterOption) *migrate.SQLAdapter {
	return migrate.NewSQLAdapter(string(migrate.DialectPostgres), dsn, adapterQueries(), opts...)
}

// NewPgx creates a PostgreSQL adapter backed by the pgx stdlib driver.
func NewPgx(dsn string, opts ...migrate.AdapterOption) *migrate.SQLAdapter {
	return migrate.NewSQLAdapter(string(migrate.DialectPgx), dsn, adapterQueries(), opts...)
}

// NewFromDB creates a PostgreSQL adapter around an existing connection
// handle opened with either Postgres driver.
func NewFromDB(dbConn *sql.DB, opts ...migrate.AdapterOption) *migrate.SQLAdapter {
	return migrate.NewSQLAdapterFromDB(dbConn, adapterQueries(), opts...)
}

func adapterQueries() migrate.AdapterQueries {
	return migrate.AdapterQueries{
		TableExists: func(tableName, schema string) (string, []interface{}) {
			query := `SELECT COUNT(*) FROM information_schema.tables
				WHERE table_name = $1 AND table_schema = COALESCE(NULLIF($2, ''), current_schema())`
			return query, []interface{}{tableName, schema}
		},
		ExecutedMigrations: func(tableName string, names []string) (string, []interface{}, error) {
			// One round trip for the whole candidate list.
			query := fmt.Sprintf(
				`SELECT migration_name FROM %s WHERE migration_name = ANY($1::text[])`, tableName)
			return query, []interface{}{pq.Array(names)}, nil
		},
		InsertRecord: func(tableName string) string {
			return fmt.Sprintf(
				`INSERT INTO %s (migration_name) VALUES ($1) ON CONFLICT (migration_name) DO NOTHING`, tableName)
		},
		MissingRelation: IsUndefinedTableError,
	}
}

// IsUndefinedTableError reports whether err is the PostgreSQL
// undefined_table error (SQLSTATE 42P01), from either driver.
func IsUndefinedTableError(err error) bool {
	var pgxErr *pgconn.PgError
	if errors.As(err, &pgxErr) {
		return ErrCode(pgxErr.Code) == ErrCodeUndefinedTable
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return ErrCode(pqErr.Code) == ErrCodeUndefinedTable
	}
	return false
}
