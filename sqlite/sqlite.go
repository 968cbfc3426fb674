/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

// Package sqlite provides the SQLite migration adapter ("sqlite3" backend)
// backed by the mattn/go-sqlite3 driver.
package sqlite

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3" // register the goqu sqlite3 dialect
	_ "github.com/mattn/go-sqlite3"                    // register the "sqlite3" driver

	migrate "github.com/acronis/go-migrate"
)

func init() {
	migrate.RegisterAdapterFactory(migrate.DialectSQLite, func(dsn string, opts ...migrate.AdapterOption) migrate.Adapter {
		return New(dsn, opts...)
	})
}

// New creates a SQLite adapter for the given database path.
func New(dsn string, opts ...migrate.AdapterOption) *migrate.SQLAdapter {
	return migrate.NewSQLAdapter(string(migrate.DialectSQLite), dsn, adapterQueries(), opts...)
}

// NewFromDB creates a SQLite adapter around an existing connection handle.
func NewFromDB(dbConn *sql.DB, opts ...migrate.AdapterOption) *migrate.SQLAdapter {
	return migrate.NewSQLAdapterFromDB(dbConn, adapterQueries(), opts...)
}

func adapterQueries() migrate.AdapterQueries {
	return migrate.AdapterQueries{
		// SQLite has no schemas; the schema argument is ignored.
		TableExists: func(tableName, _ string) (string, []interface{}) {
			return `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`,
				[]interface{}{tableName}
		},
		ExecutedMigrations: func(tableName string, names []string) (string, []interface{}, error) {
			return goqu.Dialect("sqlite3").
				From(tableName).
				Select("migration_name").
				Where(goqu.C("migration_name").In(names)).
				Prepared(true).
				ToSQL()
		},
		InsertRecord: func(tableName string) string {
			return fmt.Sprintf(`INSERT OR IGNORE INTO %s (migration_name) VALUES (?)`, tableName)
		},
		MissingRelation: IsNoSuchTableError,
	}
}

// IsNoSuchTableError reports whether err is the SQLite "no such table"
// error. The driver exposes no dedicated code for it, so the message is
// matched.
func IsNoSuchTableError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "no such table")
}
