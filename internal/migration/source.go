// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package migration

import (
	"context"
	"database/sql"
	"net"
	"net/url"
	"strconv"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/samber/oops"
	// Register the pure-Go sqlite driver as "sqlite".
	_ "modernc.org/sqlite"
)

// SourceConfig locates a legacy database. Host, Port, Database, User and
// Password apply to network backends; Path applies to SQLite.
type SourceConfig struct {
	Host     string `koanf:"host" json:"host,omitempty"`
	Port     int    `koanf:"port" json:"port,omitempty"`
	Database string `koanf:"database" json:"database,omitempty"`
	User     string `koanf:"user" json:"user,omitempty"`
	Password string `koanf:"password" json:"password,omitempty"`
	Path     string `koanf:"path" json:"path,omitempty"`
	// Table overrides the type's default table.
	Table string `koanf:"table" json:"table,omitempty"`
}

// Source is an open legacy database ready to be read.
type Source struct {
	Type  Type
	DB    *sql.DB
	Table string
}

// NewSource wraps an already open database. An empty table selects the
// type's default.
func NewSource(t Type, db *sql.DB, table string) *Source {
	return &Source{Type: t, DB: db, Table: t.Table(table)}
}

// OpenSource connects to the legacy database described by cfg and checks it
// answers. Nothing is read until the source is handed to an Engine.
func OpenSource(ctx context.Context, t Type, cfg SourceConfig) (*Source, error) {
	db, err := openDB(t.Dialect, cfg)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, oops.Code("MIGRATION_SOURCE_UNAVAILABLE").
			With("type", t.ID).
			Wrap(err)
	}
	return NewSource(t, db, cfg.Table), nil
}

// Close closes the underlying database.
func (s *Source) Close() error {
	if err := s.DB.Close(); err != nil {
		return oops.Code("MIGRATION_SOURCE_CLOSE_FAILED").Wrap(err)
	}
	return nil
}

func openDB(d Dialect, cfg SourceConfig) (*sql.DB, error) {
	switch d {
	case DialectMySQL:
		db, err := sql.Open("mysql", mysqlDSN(cfg))
		if err != nil {
			return nil, oops.Code("MIGRATION_SOURCE_OPEN_FAILED").With("dialect", string(d)).Wrap(err)
		}
		return db, nil
	case DialectPostgreSQL:
		connCfg, err := pgx.ParseConfig(postgresURL(cfg))
		if err != nil {
			return nil, oops.Code("MIGRATION_SOURCE_OPEN_FAILED").With("dialect", string(d)).Wrap(err)
		}
		return stdlib.OpenDB(*connCfg), nil
	case DialectSQLite:
		if cfg.Path == "" {
			return nil, oops.Code("MIGRATION_SOURCE_OPEN_FAILED").
				With("dialect", string(d)).
				Errorf("sqlite source needs a path")
		}
		db, err := sql.Open("sqlite", sqliteDSN(cfg.Path))
		if err != nil {
			return nil, oops.Code("MIGRATION_SOURCE_OPEN_FAILED").With("dialect", string(d)).Wrap(err)
		}
		return db, nil
	}
	return nil, oops.Code("MIGRATION_SOURCE_OPEN_FAILED").Errorf("unsupported dialect %q", d)
}

func mysqlDSN(cfg SourceConfig) string {
	port := cfg.Port
	if port == 0 {
		port = 3306
	}
	c := mysql.NewConfig()
	c.User = cfg.User
	c.Passwd = cfg.Password
	c.Net = "tcp"
	c.Addr = net.JoinHostPort(hostOrLocal(cfg.Host), strconv.Itoa(port))
	c.DBName = cfg.Database
	c.ParseTime = true
	return c.FormatDSN()
}

func postgresURL(cfg SourceConfig) string {
	port := cfg.Port
	if port == 0 {
		port = 5432
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(hostOrLocal(cfg.Host), strconv.Itoa(port)),
		Path:   "/" + cfg.Database,
	}
	if cfg.User != "" {
		u.User = url.UserPassword(cfg.User, cfg.Password)
	}
	return u.String()
}

// sqliteDSN opens path read-only; the legacy file is never written.
func sqliteDSN(path string) string {
	return "file:" + path + "?mode=ro"
}

func hostOrLocal(host string) string {
	if host == "" {
		return "localhost"
	}
	return host
}
