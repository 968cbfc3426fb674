/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

// Package testdb starts throwaway database containers for integration
// tests. Tests using it must be guarded with testing.Short().
package testdb

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/mariadb"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	postgresImage = "postgres:16-alpine"
	mariadbImage  = "mariadb:11"

	dbName     = "migrate_test"
	dbUser     = "migrate"
	dbPassword = "migrate_password"

	startupTimeout = 2 * time.Minute
)

// RunPostgres starts a PostgreSQL container and returns a DSN for it.
// The container is terminated during test cleanup.
func RunPostgres(ctx context.Context, t *testing.T) string {
	t.Helper()

	ctr, err := postgres.Run(ctx, postgresImage,
		postgres.WithDatabase(dbName),
		postgres.WithUsername(dbUser),
		postgres.WithPassword(dbPassword),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).WithStartupTimeout(startupTimeout)),
	)
	require.NoError(t, err, "start postgres container")
	t.Cleanup(func() {
		require.NoError(t, testcontainers.TerminateContainer(ctr))
	})

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "get postgres connection string")
	return dsn
}

// RunMariaDB starts a MariaDB container and returns a MySQL-protocol DSN
// for it. The container is terminated during test cleanup.
func RunMariaDB(ctx context.Context, t *testing.T) string {
	t.Helper()

	ctr, err := mariadb.Run(ctx, mariadbImage,
		mariadb.WithDatabase(dbName),
		mariadb.WithUsername(dbUser),
		mariadb.WithPassword(dbPassword),
	)
	require.NoError(t, err, "start mariadb container")
	t.Cleanup(func() {
		require.NoError(t, testcontainers.TerminateContainer(ctr))
	})

	dsn, err := ctr.ConnectionString(ctx, "multiStatements=true")
	require.NoError(t, err, "get mariadb connection string")
	return dsn
}
