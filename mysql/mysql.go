/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

// Package mysql provides the MySQL migration adapter ("mysql" backend).
// The DSN must enable multi-statement mode when migration files contain
// more than one statement; MakeMySQLDSN in the root package does so.
package mysql

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/mysql" // register the goqu mysql dialect
	mysqldrv "github.com/go-sql-driver/mysql"

	migrate "github.com/acronis/go-migrate"
)

// MySQL server error numbers the adapter interprets.
const (
	ErrNumNoSuchTable = 1146
)

func init() {
	migrate.RegisterAdapterFactory(migrate.DialectMySQL, func(dsn string, opts ...migrate.AdapterOption) migrate.Adapter {
		return New(dsn, opts...)
	})
}

// New creates a MySQL adapter for the given DSN.
func New(dsn string, opts ...migrate.AdapterOption) *migrate.SQLAdapter {
	return migrate.NewSQLAdapter(string(migrate.DialectMySQL), dsn, adapterQueries(), opts...)
}

// NewFromDB creates a MySQL adapter around an existing connection handle.
func NewFromDB(dbConn *sql.DB, opts ...migrate.AdapterOption) *migrate.SQLAdapter {
	return migrate.NewSQLAdapterFromDB(dbConn, adapterQueries(), opts...)
}

func adapterQueries() migrate.AdapterQueries {
	return migrate.AdapterQueries{
		TableExists: func(tableName, schema string) (string, []interface{}) {
			query := `SELECT COUNT(*) FROM information_schema.tables
				WHERE table_name = ? AND table_schema = COALESCE(NULLIF(?, ''), DATABASE())`
			return query, []interface{}{tableName, schema}
		},
		ExecutedMigrations: func(tableName string, names []string) (string, []interface{}, error) {
			return goqu.Dialect("mysql").
				From(tableName).
				Select("migration_name").
				Where(goqu.C("migration_name").In(names)).
				Prepared(true).
				ToSQL()
		},
		InsertRecord: func(tableName string) string {
			return fmt.Sprintf("INSERT IGNORE INTO %s (migration_name) VALUES (?)", tableName)
		},
		MissingRelation: IsNoSuchTableError,
	}
}

// IsNoSuchTableError reports whether err is the MySQL "table doesn't
// exist" server error (1146).
func IsNoSuchTableError(err error) bool {
	var mysqlErr *mysqldrv.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == ErrNumNoSuchTable
}
