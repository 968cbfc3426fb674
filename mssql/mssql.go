/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

// Package mssql provides the Microsoft SQL Server migration adapter
// ("mssql" backend).
package mssql

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlserver" // register the goqu sqlserver dialect
	mssqldrv "github.com/microsoft/go-mssqldb"

	migrate "github.com/acronis/go-migrate"
)

// SQL Server error numbers the adapter interprets.
const (
	ErrNumInvalidObjectName = 208
)

func init() {
	migrate.RegisterAdapterFactory(migrate.DialectMSSQL, func(dsn string, opts ...migrate.AdapterOption) migrate.Adapter {
		return New(dsn, opts...)
	})
}

// New creates a SQL Server adapter for the given DSN.
func New(dsn string, opts ...migrate.AdapterOption) *migrate.SQLAdapter {
	return migrate.NewSQLAdapter(string(migrate.DialectMSSQL), dsn, adapterQueries(), opts...)
}

// NewFromDB creates a SQL Server adapter around an existing connection handle.
func NewFromDB(dbConn *sql.DB, opts ...migrate.AdapterOption) *migrate.SQLAdapter {
	return migrate.NewSQLAdapterFromDB(dbConn, adapterQueries(), opts...)
}

func adapterQueries() migrate.AdapterQueries {
	return migrate.AdapterQueries{
		TableExists: func(tableName, schema string) (string, []interface{}) {
			query := `SELECT COUNT(*) FROM sys.tables t
				JOIN sys.schemas s ON s.schema_id = t.schema_id
				WHERE t.name = @p1 AND s.name = COALESCE(NULLIF(@p2, ''), SCHEMA_NAME())`
			return query, []interface{}{tableName, schema}
		},
		ExecutedMigrations: func(tableName string, names []string) (string, []interface{}, error) {
			return goqu.Dialect("sqlserver").
				From(tableName).
				Select("migration_name").
				Where(goqu.C("migration_name").In(names)).
				Prepared(true).
				ToSQL()
		},
		InsertRecord: func(tableName string) string {
			// SQL Server has no INSERT IGNORE; the conditional insert keeps
			// the duplicate-tolerant contract.
			return fmt.Sprintf(
				"IF NOT EXISTS (SELECT 1 FROM %s WHERE migration_name = @p1) INSERT INTO %s (migration_name) VALUES (@p1)",
				tableName, tableName)
		},
		MissingRelation: IsInvalidObjectNameError,
	}
}

// IsInvalidObjectNameError reports whether err is the SQL Server "invalid
// object name" error (208).
func IsInvalidObjectNameError(err error) bool {
	var sqlErr mssqldrv.Error
	return errors.As(err, &sqlErr) && sqlErr.Number == ErrNumInvalidObjectName
}
