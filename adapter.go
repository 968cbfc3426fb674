/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package migrate

import (
	"context"
	"database/sql"
)

// Adapter is the capability set every database backend must provide to the
// migration runner. One Adapter instance owns exactly one connection
// handle; adapters are not safe for concurrent use and are not meant to be
// shared between runners.
//
// Errors from the underlying database driver are surfaced unchanged; the
// adapter adds no interpretation beyond IsMissingRelation.
type Adapter interface {
	// Connect establishes the connection. Calling Connect on an already
	// connected adapter is a no-op.
	Connect(ctx context.Context) error

	// Disconnect releases the connection. Safe to call when not connected.
	Disconnect(ctx context.Context) error

	// TestConnection issues a trivial round-trip query and reports whether
	// it succeeded. Connectivity failures are logged, not returned: this
	// call exists purely to produce a pre-flight health signal.
	TestConnection(ctx context.Context) bool

	// ExecRaw executes arbitrary, possibly multi-statement SQL text without
	// parameter binding. It is used exclusively for migration file content,
	// which is trusted operator-authored input.
	ExecRaw(ctx context.Context, sqlText string) error

	// Query executes a single parameterized statement and returns its rows.
	Query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)

	// TableExists reports whether a relation exists. An empty schema means
	// the backend's current default schema.
	TableExists(ctx context.Context, tableName, schema string) (bool, error)

	// ExecutedMigrations returns which of the given migration names already
	// have records in the tracking table. It issues exactly one query with
	// a membership predicate over the full candidate list, so the cost is a
	// single round trip regardless of how many names are checked.
	ExecutedMigrations(ctx context.Context, tableName string, names []string) ([]string, error)

	// InTx runs fn with a transaction-scoped capability value. The
	// transaction is committed when fn returns nil and rolled back
	// otherwise; the error from fn is propagated. The Tx value must not be
	// retained after fn returns.
	InTx(ctx context.Context, fn func(tx Tx) error) error

	// IsMissingRelation reports whether err means "relation does not
	// exist" in the backend's vocabulary. The runner uses this to recover
	// from the benign race where the tracking table vanishes between the
	// existence check and the batch-diff query.
	IsMissingRelation(err error) bool
}

// Tx is the capability value passed to the InTx callback. It intentionally
// exposes only the two operations a migration transaction needs.
type Tx interface {
	// ExecRaw executes migration SQL text within the transaction.
	ExecRaw(ctx context.Context, sqlText string) error

	// InsertMigrationRecord inserts a tracking record for the named
	// migration. Inserting a record that already exists is a no-op, not an
	// error, which guards against races and accidental re-entry.
	InsertMigrationRecord(ctx context.Context, tableName, migrationName string) error
}
