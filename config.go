/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package migrate

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/acronis/go-appkit/config"
	"gopkg.in/yaml.v3"
)

const cfgDefaultKeyPrefix = "db"

const (
	cfgKeyDialect         = "dialect"
	cfgKeyMaxOpenConns    = "maxOpenConns"
	cfgKeyMaxIdleConns    = "maxIdleConns"
	cfgKeyConnMaxLifetime = "connMaxLifeTime"

	cfgKeyMigrationsDir       = "migrations.dir"
	cfgKeyMigrationsTableName = "migrations.tableName"

	cfgKeySQLitePath = "sqlite3.path"

	cfgKeyMySQLTxLevel = "mysql.txLevel"
	cfgKeyMSSQLTxLevel = "mssql.txLevel"
	cfgKeyMSSQLParams  = "mssql.additionalParameters"

	cfgKeyPostgresTxLevel    = "postgres.txLevel"
	cfgKeyPostgresSSLMode    = "postgres.sslMode"
	cfgKeyPostgresSearchPath = "postgres.searchPath"
	cfgKeyPostgresParams     = "postgres.additionalParameters"
)

// Default values for the migrations section.
const (
	DefaultMigrationsDir       = "migrations"
	DefaultMigrationsTableName = "schema_migrations"
)

// PostgresSSLMode defines the SSL mode for connecting to Postgres.
type PostgresSSLMode string

// Supported Postgres SSL modes.
const (
	PostgresSSLModeDisable    PostgresSSLMode = "disable"
	PostgresSSLModeRequire    PostgresSSLMode = "require"
	PostgresSSLModeVerifyCA   PostgresSSLMode = "verify-ca"
	PostgresSSLModeVerifyFull PostgresSSLMode = "verify-full"
)

// PostgresDefaultSSLMode is the default SSL mode for Postgres connections.
const PostgresDefaultSSLMode = PostgresSSLModeVerifyCA

// Patroni replica-aware connection parameter, added for the pgx driver so
// connections always land on a writable node.
const (
	PgTargetSessionAttrs = "target_session_attrs"
	PgReadWriteParam     = "read-write"
)

// Default transaction isolation levels per dialect.
const (
	MySQLDefaultTxLevel    = sql.LevelReadCommitted
	PostgresDefaultTxLevel = sql.LevelReadCommitted
	MSSQLDefaultTxLevel    = sql.LevelReadCommitted
)

// Config represents a set of configuration parameters for connecting to a
// database and running migrations against it.
type Config struct {
	Dialect         Dialect             `mapstructure:"dialect" yaml:"dialect" json:"dialect"`
	MaxOpenConns    int                 `mapstructure:"maxOpenConns" yaml:"maxOpenConns" json:"maxOpenConns"`
	MaxIdleConns    int                 `mapstructure:"maxIdleConns" yaml:"maxIdleConns" json:"maxIdleConns"`
	ConnMaxLifetime config.TimeDuration `mapstructure:"connMaxLifeTime" yaml:"connMaxLifeTime" json:"connMaxLifeTime"`
	Migrations      MigrationsConfig    `mapstructure:"migrations" yaml:"migrations" json:"migrations"`
	MySQL           MySQLConfig         `mapstructure:"mysql" yaml:"mysql" json:"mysql"`
	MSSQL           MSSQLConfig         `mapstructure:"mssql" yaml:"mssql" json:"mssql"`
	SQLite          SQLiteConfig        `mapstructure:"sqlite3" yaml:"sqlite3" json:"sqlite3"`
	Postgres        PostgresConfig      `mapstructure:"postgres" yaml:"postgres" json:"postgres"`

	keyPrefix         string
	supportedDialects []Dialect
}

var _ config.Config = (*Config)(nil)
var _ config.KeyPrefixProvider = (*Config)(nil)

// MigrationsConfig represents configuration parameters of the migration
// source and the tracking table.
type MigrationsConfig struct {
	Dir       string `mapstructure:"dir" yaml:"dir" json:"dir"`
	TableName string `mapstructure:"tableName" yaml:"tableName" json:"tableName"`
}

// MySQLConfig represents configuration parameters for connecting to MySQL.
type MySQLConfig struct {
	Host             string         `mapstructure:"host" yaml:"host" json:"host"`
	Port             int            `mapstructure:"port" yaml:"port" json:"port"`
	User             string         `mapstructure:"user" yaml:"user" json:"user"`
	Password         string         `mapstructure:"password" yaml:"password" json:"password"`
	Database         string         `mapstructure:"database" yaml:"database" json:"database"`
	TxIsolationLevel IsolationLevel `mapstructure:"txLevel" yaml:"txLevel" json:"txLevel"`
}

// MSSQLConfig represents configuration parameters for connecting to MSSQL.
type MSSQLConfig struct {
	Host                 string            `mapstructure:"host" yaml:"host" json:"host"`
	Port                 int               `mapstructure:"port" yaml:"port" json:"port"`
	User                 string            `mapstructure:"user" yaml:"user" json:"user"`
	Password             string            `mapstructure:"password" yaml:"password" json:"password"`
	Database             string            `mapstructure:"database" yaml:"database" json:"database"`
	TxIsolationLevel     IsolationLevel    `mapstructure:"txLevel" yaml:"txLevel" json:"txLevel"`
	AdditionalParameters map[string]string `mapstructure:"additionalParameters" yaml:"additionalParameters" json:"additionalParameters"`
}

// SQLiteConfig represents configuration parameters for opening SQLite.
type SQLiteConfig struct {
	Path string `mapstructure:"path" yaml:"path" json:"path"`
}

// PostgresConfig represents configuration parameters for connecting to Postgres.
type PostgresConfig struct {
	Host                 string            `mapstructure:"host" yaml:"host" json:"host"`
	Port                 int               `mapstructure:"port" yaml:"port" json:"port"`
	User                 string            `mapstructure:"user" yaml:"user" json:"user"`
	Password             string            `mapstructure:"password" yaml:"password" json:"password"`
	Database             string            `mapstructure:"database" yaml:"database" json:"database"`
	TxIsolationLevel     IsolationLevel    `mapstructure:"txLevel" yaml:"txLevel" json:"txLevel"`
	SSLMode              PostgresSSLMode   `mapstructure:"sslMode" yaml:"sslMode" json:"sslMode"`
	SearchPath           string            `mapstructure:"searchPath" yaml:"searchPath" json:"searchPath"`
	AdditionalParameters map[string]string `mapstructure:"additionalParameters" yaml:"additionalParameters" json:"additionalParameters"`
}

// ConfigOption is a functional option for the Config.
type ConfigOption func(*configOptions)

type configOptions struct {
	keyPrefix string
}

// WithKeyPrefix returns a ConfigOption that sets a key prefix for parsing
// configuration parameters. The prefix is used by config.Loader.
func WithKeyPrefix(keyPrefix string) ConfigOption {
	return func(o *configOptions) {
		o.keyPrefix = keyPrefix
	}
}

// NewConfig creates a new instance of the Config.
func NewConfig(supportedDialects []Dialect, options ...ConfigOption) *Config {
	opts := configOptions{keyPrefix: cfgDefaultKeyPrefix}
	for _, opt := range options {
		opt(&opts)
	}
	return &Config{supportedDialects: supportedDialects, keyPrefix: opts.keyPrefix}
}

// NewDefaultConfig creates a new instance of the Config with default values.
func NewDefaultConfig(supportedDialects []Dialect, options ...ConfigOption) *Config {
	cfg := NewConfig(supportedDialects, options...)
	cfg.MaxOpenConns = DefaultMaxOpenConns
	cfg.MaxIdleConns = DefaultMaxIdleConns
	cfg.ConnMaxLifetime = config.TimeDuration(DefaultConnMaxLifetime)
	cfg.Migrations = MigrationsConfig{Dir: DefaultMigrationsDir, TableName: DefaultMigrationsTableName}
	cfg.MySQL.TxIsolationLevel = IsolationLevel(MySQLDefaultTxLevel)
	cfg.MSSQL.TxIsolationLevel = IsolationLevel(MSSQLDefaultTxLevel)
	cfg.Postgres.TxIsolationLevel = IsolationLevel(PostgresDefaultTxLevel)
	cfg.Postgres.SSLMode = PostgresDefaultSSLMode
	return cfg
}

// KeyPrefix returns a key prefix with which all configuration parameters
// should be presented. Implements config.KeyPrefixProvider interface.
func (c *Config) KeyPrefix() string {
	if c.keyPrefix == "" {
		return cfgDefaultKeyPrefix
	}
	return c.keyPrefix
}

// SupportedDialects returns the list of supported dialects.
func (c *Config) SupportedDialects() []Dialect {
	if len(c.supportedDialects) != 0 {
		return c.supportedDialects
	}
	return []Dialect{DialectSQLite, DialectMySQL, DialectPostgres, DialectPgx, DialectMSSQL}
}

// SetProviderDefaults sets default configuration values in config.DataProvider.
func (c *Config) SetProviderDefaults(dp config.DataProvider) {
	dp.SetDefault(cfgKeyMaxOpenConns, DefaultMaxOpenConns)
	dp.SetDefault(cfgKeyMaxIdleConns, DefaultMaxIdleConns)
	dp.SetDefault(cfgKeyConnMaxLifetime, DefaultConnMaxLifetime)
	dp.SetDefault(cfgKeyMigrationsDir, DefaultMigrationsDir)
	dp.SetDefault(cfgKeyMigrationsTableName, DefaultMigrationsTableName)
	dp.SetDefault(cfgKeyMySQLTxLevel, MySQLDefaultTxLevel.String())
	dp.SetDefault(cfgKeyMSSQLTxLevel, MSSQLDefaultTxLevel.String())
	dp.SetDefault(cfgKeyPostgresTxLevel, PostgresDefaultTxLevel.String())
	dp.SetDefault(cfgKeyPostgresSSLMode, string(PostgresDefaultSSLMode))
}

// Set sets configuration values from config.DataProvider.
func (c *Config) Set(dp config.DataProvider) error {
	if err := c.setDialectConfig(dp); err != nil {
		return err
	}

	maxOpenConns, err := dp.GetInt(cfgKeyMaxOpenConns)
	if err != nil {
		return err
	}
	if maxOpenConns < 0 {
		return dp.WrapKeyErr(cfgKeyMaxOpenConns, fmt.Errorf("must be positive"))
	}
	maxIdleConns, err := dp.GetInt(cfgKeyMaxIdleConns)
	if err != nil {
		return err
	}
	if maxIdleConns < 0 {
		return dp.WrapKeyErr(cfgKeyMaxIdleConns, fmt.Errorf("must be positive"))
	}
	if maxIdleConns > 0 && maxOpenConns > 0 && maxIdleConns > maxOpenConns {
		return dp.WrapKeyErr(cfgKeyMaxIdleConns, fmt.Errorf("must be less than %s", cfgKeyMaxOpenConns))
	}
	c.MaxOpenConns = maxOpenConns
	c.MaxIdleConns = maxIdleConns

	connMaxLifetime, err := dp.GetDuration(cfgKeyConnMaxLifetime)
	if err != nil {
		return err
	}
	c.ConnMaxLifetime = config.TimeDuration(connMaxLifetime)

	if c.Migrations.Dir, err = dp.GetString(cfgKeyMigrationsDir); err != nil {
		return err
	}
	if c.Migrations.TableName, err = dp.GetString(cfgKeyMigrationsTableName); err != nil {
		return err
	}

	return nil
}

// TxIsolationLevel returns transaction isolation level from parsed config
// for the configured dialect.
func (c *Config) TxIsolationLevel() sql.IsolationLevel {
	switch c.Dialect {
	case DialectMySQL:
		return sql.IsolationLevel(c.MySQL.TxIsolationLevel)
	case DialectPostgres, DialectPgx:
		return sql.IsolationLevel(c.Postgres.TxIsolationLevel)
	case DialectMSSQL:
		return sql.IsolationLevel(c.MSSQL.TxIsolationLevel)
	}
	return sql.LevelDefault
}

// DriverNameAndDSN returns driver name and DSN for connecting.
func (c *Config) DriverNameAndDSN() (driverName, dsn string) {
	switch c.Dialect {
	case DialectSQLite:
		return "sqlite3", MakeSQLiteDSN(&c.SQLite)
	case DialectMySQL:
		return "mysql", MakeMySQLDSN(&c.MySQL)
	case DialectPostgres:
		return "postgres", MakePostgresDSN(&c.Postgres)
	case DialectPgx:
		return "pgx", MakePostgresDSN(&c.Postgres)
	case DialectMSSQL:
		return "mssql", MakeMSSQLDSN(&c.MSSQL)
	}
	return "", ""
}

func (c *Config) setDialectConfig(dp config.DataProvider) error {
	supported := make([]string, 0, len(c.SupportedDialects()))
	for _, dialect := range c.SupportedDialects() {
		supported = append(supported, string(dialect))
	}
	dialectStr, err := dp.GetStringFromSet(cfgKeyDialect, supported, false)
	if err != nil {
		return err
	}
	c.Dialect = Dialect(dialectStr)

	switch c.Dialect {
	case DialectSQLite:
		c.SQLite.Path, err = dp.GetString(cfgKeySQLitePath)
		return err

	case DialectMySQL:
		if err = setServerConfig(dp, "mysql",
			&c.MySQL.Host, &c.MySQL.Port, &c.MySQL.User, &c.MySQL.Password, &c.MySQL.Database); err != nil {
			return err
		}
		c.MySQL.TxIsolationLevel, err = getIsolationLevel(dp, cfgKeyMySQLTxLevel)
		return err

	case DialectPostgres, DialectPgx:
		return c.setPostgresConfig(dp)

	case DialectMSSQL:
		if err = setServerConfig(dp, "mssql",
			&c.MSSQL.Host, &c.MSSQL.Port, &c.MSSQL.User, &c.MSSQL.Password, &c.MSSQL.Database); err != nil {
			return err
		}
		if c.MSSQL.TxIsolationLevel, err = getIsolationLevel(dp, cfgKeyMSSQLTxLevel); err != nil {
			return err
		}
		params, paramsErr := dp.GetStringMapString(cfgKeyMSSQLParams)
		if paramsErr != nil {
			return paramsErr
		}
		if len(params) != 0 {
			c.MSSQL.AdditionalParameters = params
		}
		return nil
	}
	return nil
}

func (c *Config) setPostgresConfig(dp config.DataProvider) error {
	var err error
	if err = setServerConfig(dp, "postgres",
		&c.Postgres.Host, &c.Postgres.Port, &c.Postgres.User, &c.Postgres.Password, &c.Postgres.Database); err != nil {
		return err
	}
	if c.Postgres.SearchPath, err = dp.GetString(cfgKeyPostgresSearchPath); err != nil {
		return err
	}
	if c.Postgres.TxIsolationLevel, err = getIsolationLevel(dp, cfgKeyPostgresTxLevel); err != nil {
		return err
	}

	params, err := dp.GetStringMapString(cfgKeyPostgresParams)
	if err != nil {
		return err
	}
	if len(params) != 0 {
		c.Postgres.AdditionalParameters = params
	}
	// Force a Patroni readonly replica-aware parameter for the pgx driver.
	// An explicitly configured value is not overridden.
	if c.Dialect == DialectPgx {
		if _, ok := c.Postgres.AdditionalParameters[PgTargetSessionAttrs]; !ok {
			if c.Postgres.AdditionalParameters == nil {
				c.Postgres.AdditionalParameters = make(map[string]string)
			}
			c.Postgres.AdditionalParameters[PgTargetSessionAttrs] = PgReadWriteParam
		}
	}

	sslModes := []string{
		string(PostgresSSLModeDisable),
		string(PostgresSSLModeRequire),
		string(PostgresSSLModeVerifyCA),
		string(PostgresSSLModeVerifyFull),
	}
	sslModeStr, err := dp.GetStringFromSet(cfgKeyPostgresSSLMode, sslModes, false)
	if err != nil {
		return err
	}
	c.Postgres.SSLMode = PostgresSSLMode(sslModeStr)
	return nil
}

// setServerConfig reads the host/port/credentials fields shared by all
// server-based dialect sections.
func setServerConfig(dp config.DataProvider, section string, host *string, port *int, user, password, database *string) error {
	var err error
	if *host, err = dp.GetString(section + ".host"); err != nil {
		return err
	}
	if *port, err = dp.GetInt(section + ".port"); err != nil {
		return err
	}
	if *user, err = dp.GetString(section + ".user"); err != nil {
		return err
	}
	if *password, err = dp.GetString(section + ".password"); err != nil {
		return err
	}
	if *database, err = dp.GetString(section + ".database"); err != nil {
		return err
	}
	return nil
}

func getIsolationLevel(dp config.DataProvider, key string) (IsolationLevel, error) {
	s, err := dp.GetString(key)
	if err != nil {
		return IsolationLevel(sql.LevelDefault), err
	}
	level, err := parseIsolationLevel(s)
	if err != nil {
		return level, dp.WrapKeyErr(key, err)
	}
	return level, nil
}

// IsolationLevel is a transaction isolation level that (un)marshals as the
// human-readable string used by database/sql.
type IsolationLevel sql.IsolationLevel

// String returns the human-readable string representation.
// Implements fmt.Stringer interface.
func (il IsolationLevel) String() string {
	return sql.IsolationLevel(il).String()
}

// UnmarshalJSON allows decoding string representation of isolation level from JSON.
// Implements json.Unmarshaler interface.
func (il *IsolationLevel) UnmarshalJSON(data []byte) error {
	level, err := parseIsolationLevel(strings.Trim(string(data), `"`))
	if err != nil {
		return err
	}
	*il = level
	return nil
}

// UnmarshalYAML allows decoding from YAML.
// Implements yaml.Unmarshaler interface.
func (il *IsolationLevel) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("invalid isolation level: %w", err)
	}
	level, err := parseIsolationLevel(s)
	if err != nil {
		return err
	}
	*il = level
	return nil
}

// UnmarshalText allows decoding from text.
// Implements encoding.TextUnmarshaler interface, which is used by mapstructure.TextUnmarshallerHookFunc.
func (il *IsolationLevel) UnmarshalText(text []byte) error {
	return il.UnmarshalJSON(text)
}

// MarshalJSON encodes as a human-readable string in JSON.
// Implements json.Marshaler interface.
func (il IsolationLevel) MarshalJSON() ([]byte, error) {
	return json.Marshal(il.String())
}

// MarshalYAML encodes as a human-readable string in YAML.
// Implements yaml.Marshaler interface.
func (il IsolationLevel) MarshalYAML() (interface{}, error) {
	return il.String(), nil
}

// MarshalText encodes as a human-readable string in text.
// Implements encoding.TextMarshaler interface.
func (il *IsolationLevel) MarshalText() ([]byte, error) {
	return []byte(il.String()), nil
}

func parseIsolationLevel(s string) (IsolationLevel, error) {
	for _, level := range []sql.IsolationLevel{
		sql.LevelReadUncommitted,
		sql.LevelReadCommitted,
		sql.LevelRepeatableRead,
		sql.LevelSerializable,
	} {
		if level.String() == s {
			return IsolationLevel(level), nil
		}
	}
	return IsolationLevel(sql.LevelDefault), fmt.Errorf("invalid isolation level: %s", s)
}
