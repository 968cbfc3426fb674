/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package migrate

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewAdapter(t *testing.T) {
	RegisterAdapterFactory(Dialect("fakedb"), func(dsn string, opts ...AdapterOption) Adapter {
		return NewSQLAdapter("fakedb", dsn, AdapterQueries{}, opts...)
	})

	t.Run("known backend", func(t *testing.T) {
		adapter, err := NewAdapter("fakedb", "dsn")
		require.NoError(t, err)
		require.NotNil(t, adapter)
	})

	t.Run("backend name is matched case-insensitively", func(t *testing.T) {
		for _, backend := range []string{"FakeDB", "FAKEDB", "  fakedb  "} {
			adapter, err := NewAdapter(backend, "dsn")
			require.NoError(t, err, "backend %q", backend)
			require.NotNil(t, adapter)
		}
	})

	t.Run("unknown backend", func(t *testing.T) {
		adapter, err := NewAdapter("mongo", "dsn")
		require.Nil(t, adapter)
		var unknownDialectErr *UnknownDialectError
		require.True(t, errors.As(err, &unknownDialectErr))
		require.Equal(t, "mongo", unknownDialectErr.Name)
		require.EqualError(t, err, `unknown database dialect "mongo"`)
	})
}

func TestMigrationError(t *testing.T) {
	cause := errors.New("syntax error")
	err := &MigrationError{Name: "0002_add_index.sql", Err: cause}
	require.EqualError(t, err, "migration 0002_add_index.sql: syntax error")
	require.ErrorIs(t, err, cause)
}
