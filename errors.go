/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package migrate

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the engine. All of them indicate either a
// setup mistake or an unusable connection; none of them is retried
// internally.
var (
	// ErrNotConnected is returned by adapter methods invoked before Connect.
	ErrNotConnected = errors.New("adapter is not connected")

	// ErrConnectionCheckFailed is returned by the runner when the pre-flight
	// connection check fails. No migrations are attempted in that case.
	ErrConnectionCheckFailed = errors.New("database connection check failed")

	// ErrSourceNotFound is returned when the migrations directory does not exist.
	ErrSourceNotFound = errors.New("migrations source not found")

	// ErrMissingBootstrap is returned when the tracking table is absent and
	// the lexically-first migration does not create it. The engine refuses
	// to improvise DDL for the tracking table.
	ErrMissingBootstrap = errors.New("bootstrap migration is missing or does not create the tracking table")
)

// UnknownDialectError is returned when a backend identifier has no
// registered adapter factory or no DSN builder.
type UnknownDialectError struct {
	Name string
}

func (e *UnknownDialectError) Error() string {
	return fmt.Sprintf("unknown database dialect %q", e.Name)
}

// MigrationError annotates a failure inside a migration's transaction with
// the name of the failing migration file. The transaction has been rolled
// back by the time this error is observed, so the database holds no partial
// changes from the failing migration.
type MigrationError struct {
	Name string
	Err  error
}

func (e *MigrationError) Error() string {
	return fmt.Sprintf("migration %s: %v", e.Name, e.Err)
}

func (e *MigrationError) Unwrap() error {
	return e.Err
}
