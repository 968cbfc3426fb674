/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

// Package runner applies ordered SQL migrations exactly once against a
// database reached through a migrate.Adapter. The lexically-first file of
// the source is the bootstrap migration and must create the tracking
// table itself; the runner never improvises DDL.
package runner

import (
	"context"
	"fmt"
	"io/fs"
	"time"

	"github.com/acronis/go-appkit/log"

	migrate "github.com/acronis/go-migrate"
)

// Result reports what a single Run did: how many migrations were executed
// in this run and how many were skipped as already executed.
type Result struct {
	Executed int
	Skipped  int
}

// Option configures a Runner.
type Option func(r *Runner)

// WithTableName overrides the tracking table name
// (migrate.DefaultMigrationsTableName by default). The bootstrap
// migration must create a table with the same name.
func WithTableName(tableName string) Option {
	return func(r *Runner) {
		r.tableName = tableName
	}
}

// WithSchema sets the schema the tracking table lives in. Empty means the
// connection's default schema.
func WithSchema(schema string) Option {
	return func(r *Runner) {
		r.schema = schema
	}
}

// WithFS makes the runner read migrations from the passed fs.FS instead
// of the local filesystem. The dir argument of New is then interpreted
// relative to the fs.FS root.
func WithFS(fsys fs.FS) Option {
	return func(r *Runner) {
		r.fsys = fsys
	}
}

// WithMetrics enables Prometheus instrumentation of migration runs.
func WithMetrics(metrics *migrate.PrometheusMetrics) Option {
	return func(r *Runner) {
		r.metrics = metrics
	}
}

// WithSlowMigrationThreshold makes the runner log a warning for every
// migration that takes longer than the passed duration. Zero disables the
// warning.
func WithSlowMigrationThreshold(threshold time.Duration) Option {
	return func(r *Runner) {
		r.slowThreshold = threshold
	}
}

// Runner discovers migrations in a source directory and applies the
// pending ones in lexical order, each in its own transaction.
type Runner struct {
	adapter       migrate.Adapter
	dir           string
	fsys          fs.FS
	logger        log.FieldLogger
	tableName     string
	schema        string
	metrics       *migrate.PrometheusMetrics
	slowThreshold time.Duration
}

// New constructs a Runner over the passed adapter and migrations
// directory.
func New(adapter migrate.Adapter, dir string, logger log.FieldLogger, options ...Option) (*Runner, error) {
	if adapter == nil {
		return nil, fmt.Errorf("adapter is missing")
	}
	if logger == nil {
		logger = log.NewDisabledLogger()
	}
	r := &Runner{
		adapter:   adapter,
		dir:       dir,
		logger:    logger,
		tableName: migrate.DefaultMigrationsTableName,
	}
	for _, opt := range options {
		opt(r)
	}
	return r, nil
}

// Run connects (if not connected yet), verifies the connection, makes
// sure the tracking table exists and applies all pending migrations in
// lexical order, one transaction per migration. It stops on the first
// failure; migrations applied before the failure stay applied.
//
// Run is idempotent: a second call over the same source and database
// executes nothing and reports everything as skipped.
func (r *Runner) Run(ctx context.Context) (Result, error) {
	if err := r.adapter.Connect(ctx); err != nil {
		return Result{}, fmt.Errorf("connect: %w", err)
	}
	if !r.adapter.TestConnection(ctx) {
		return Result{}, migrate.ErrConnectionCheckFailed
	}

	migrations, err := r.loadMigrations()
	if err != nil {
		return Result{}, err
	}
	if len(migrations) == 0 {
		r.logger.Info(fmt.Sprintf("no migration files found in %q, nothing to do", r.dir))
		return Result{}, nil
	}
	bootstrap := migrations[0]

	trackingExisted, err := r.adapter.TableExists(ctx, r.tableName, r.schema)
	if err != nil {
		return Result{}, fmt.Errorf("check tracking table %s: %w", r.tableName, err)
	}
	if !trackingExisted {
		if err = r.bootstrapTrackingTable(ctx, bootstrap); err != nil {
			return Result{}, err
		}
	}

	names := make([]string, 0, len(migrations))
	for _, mig := range migrations {
		names = append(names, mig.Name)
	}
	executedNames, err := r.adapter.ExecutedMigrations(ctx, r.tableName, names)
	if err != nil {
		if !r.adapter.IsMissingRelation(err) {
			return Result{}, fmt.Errorf("query executed migrations: %w", err)
		}
		// The tracking table vanished between the existence check and the
		// batch query (another process may be bootstrapping the same
		// database). Re-run the bootstrap and start from a clean slate.
		r.logger.Warn(fmt.Sprintf(
			"tracking table %s is missing, re-running bootstrap migration %s", r.tableName, bootstrap.Name))
		if err = r.bootstrapTrackingTable(ctx, bootstrap); err != nil {
			return Result{}, err
		}
		trackingExisted = false
		executedNames = nil
	}
	executedSet := make(map[string]struct{}, len(executedNames))
	for _, name := range executedNames {
		executedSet[name] = struct{}{}
	}

	var res Result
	for i, mig := range migrations {
		if i == 0 && trackingExisted {
			// Bootstrap already did its job in some earlier run.
			r.logger.Debug(fmt.Sprintf("migration %s skipped, tracking table already exists", mig.Name))
			res.Skipped++
			continue
		}
		if _, ok := executedSet[mig.Name]; ok {
			r.logger.Debug(fmt.Sprintf("migration %s skipped, already executed", mig.Name))
			res.Skipped++
			continue
		}
		if err = r.applyMigration(ctx, mig); err != nil {
			return res, err
		}
		res.Executed++
	}

	r.logger.Info(fmt.Sprintf("migrations applied, %d executed, %d skipped", res.Executed, res.Skipped))
	return res, nil
}

// Cleanup releases the adapter's connection. It is separate from Run so
// that a caller may issue several Run calls over one connection.
func (r *Runner) Cleanup(ctx context.Context) error {
	return r.adapter.Disconnect(ctx)
}

func (r *Runner) loadMigrations() ([]Migration, error) {
	if r.fsys != nil {
		return LoadFSMigrations(r.fsys, r.dir)
	}
	return LoadDirMigrations(r.dir)
}

// bootstrapTrackingTable executes the bootstrap migration outside any
// transaction (DDL is not transactional on every backend) and verifies it
// actually created the tracking table. The bootstrap file is expected to
// be written idempotently (CREATE TABLE IF NOT EXISTS or equivalent), so
// racing processes executing it concurrently is harmless.
func (r *Runner) bootstrapTrackingTable(ctx context.Context, bootstrap Migration) error {
	if err := r.adapter.ExecRaw(ctx, bootstrap.Content); err != nil {
		return &migrate.MigrationError{Name: bootstrap.Name, Err: err}
	}
	exists, err := r.adapter.TableExists(ctx, r.tableName, r.schema)
	if err != nil {
		return fmt.Errorf("check tracking table %s after bootstrap: %w", r.tableName, err)
	}
	if !exists {
		return fmt.Errorf("%w: %s did not create table %s", migrate.ErrMissingBootstrap, bootstrap.Name, r.tableName)
	}
	r.logger.Info(fmt.Sprintf("tracking table %s created by bootstrap migration %s", r.tableName, bootstrap.Name))
	return nil
}

func (r *Runner) applyMigration(ctx context.Context, mig Migration) error {
	start := time.Now()
	err := r.adapter.InTx(ctx, func(tx migrate.Tx) error {
		if txErr := tx.ExecRaw(ctx, mig.Content); txErr != nil {
			return txErr
		}
		return tx.InsertMigrationRecord(ctx, r.tableName, mig.Name)
	})
	elapsed := time.Since(start)
	if r.metrics != nil {
		r.metrics.ObserveMigration(mig.Name, elapsed, err != nil)
	}
	if err != nil {
		return &migrate.MigrationError{Name: mig.Name, Err: err}
	}
	r.logger.Info(fmt.Sprintf("migration %s executed in %s", mig.Name, elapsed))
	if r.slowThreshold > 0 && elapsed >= r.slowThreshold {
		r.logger.Warn(fmt.Sprintf("migration %s took %s, longer than %s", mig.Name, elapsed, r.slowThreshold))
	}
	return nil
}
