/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

// Package migrate implements a database-agnostic schema-migration engine.
//
// Migrations are plain SQL files applied in ascending lexical-name order,
// each inside its own transaction together with the tracking record that
// marks it as executed. The engine itself is backend-neutral: all SQL
// execution goes through the Adapter capability interface, and concrete
// backends (PostgreSQL, MySQL, SQLite, MSSQL) live in their own
// subpackages and register themselves with the adapter factory.
//
// A minimal invocation looks like this:
//
//	import (
//	    "github.com/acronis/go-migrate"
//	    "github.com/acronis/go-migrate/runner"
//
//	    _ "github.com/acronis/go-migrate/postgres" // registers the "postgres" and "pgx" backends
//	)
//
//	adapter, err := migrate.NewAdapter("postgres", os.Getenv("DB_DSN"))
//	if err != nil {
//	    return err
//	}
//	r, err := runner.New(adapter, "migrations", logger)
//	if err != nil {
//	    return err
//	}
//	defer func() { _ = r.Cleanup(ctx) }()
//	result, err := r.Run(ctx)
//
// The lexically-first migration file is the bootstrap migration: its SQL
// must create the tracking table (schema_migrations by convention). The
// engine never generates DDL for the tracking table on its own.
package migrate
