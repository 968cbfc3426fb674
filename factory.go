/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package migrate

import (
	"strings"
	"sync"
)

// AdapterFactoryFunc constructs a ready-to-connect Adapter for a DSN.
// The constructor performs no I/O; Connect is invoked later by the caller.
type AdapterFactoryFunc func(dsn string, opts ...AdapterOption) Adapter

var (
	adapterFactoriesMu sync.RWMutex
	adapterFactories   = make(map[Dialect]AdapterFactoryFunc)
)

// RegisterAdapterFactory registers an adapter constructor for a dialect.
// Backend packages call it from init(), mirroring how database/sql drivers
// register themselves; importing a backend package for side effects makes
// its dialect available to NewAdapter.
func RegisterAdapterFactory(dialect Dialect, factory AdapterFactoryFunc) {
	adapterFactoriesMu.Lock()
	defer adapterFactoriesMu.Unlock()
	adapterFactories[dialect] = factory
}

// NewAdapter builds an Adapter for the named backend. The backend
// identifier is matched case-insensitively against registered dialects.
// An unknown identifier is a configuration error: *UnknownDialectError is
// returned and no connection is attempted.
func NewAdapter(backend, dsn string, opts ...AdapterOption) (Adapter, error) {
	dialect := Dialect(strings.ToLower(strings.TrimSpace(backend)))
	adapterFactoriesMu.RLock()
	factory, ok := adapterFactories[dialect]
	adapterFactoriesMu.RUnlock()
	if !ok {
		return nil, &UnknownDialectError{Name: backend}
	}
	return factory(dsn, opts...), nil
}

// NewAdapterFromConfig builds an Adapter from a parsed Config, deriving
// the DSN and the transaction isolation level from the dialect-specific
// configuration section.
func NewAdapterFromConfig(cfg *Config, opts ...AdapterOption) (Adapter, error) {
	_, dsn := cfg.DriverNameAndDSN()
	opts = append([]AdapterOption{WithTxIsolation(cfg.TxIsolationLevel())}, opts...)
	return NewAdapter(string(cfg.Dialect), dsn, opts...)
}
