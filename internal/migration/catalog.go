// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package migration

import (
	"slices"
	"strings"

	"github.com/samber/oops"
)

// Dialect is the SQL flavour of a legacy source.
type Dialect string

// Supported dialects.
const (
	DialectMySQL      Dialect = "mysql"
	DialectSQLite     Dialect = "sqlite"
	DialectPostgreSQL Dialect = "postgresql"
)

// quoteTable quotes a possibly schema-qualified table name for d.
func (d Dialect) quoteTable(name string) (string, error) {
	if name == "" {
		return "", oops.Code("MIGRATION_INVALID_TABLE").Errorf("table name cannot be empty")
	}
	open, closing := `"`, `"`
	if d == DialectMySQL {
		open, closing = "`", "`"
	}
	parts := strings.Split(name, ".")
	for i, p := range parts {
		if p == "" || strings.ContainsAny(p, "`\"'\x00;") {
			return "", oops.Code("MIGRATION_INVALID_TABLE").
				With("table", name).
				Errorf("invalid table name %q", name)
		}
		parts[i] = open + p + closing
	}
	return strings.Join(parts, "."), nil
}

// Type describes one legacy plugin schema on one database backend.
type Type struct {
	// ID is the configuration name, e.g. "authme-mysql".
	ID      string
	Plugin  string
	Dialect Dialect
	// DefaultTable is read when no table is configured.
	DefaultTable string
	// UpdateOnly types attach data to accounts that already exist instead of
	// creating accounts.
	UpdateOnly bool
	// Requires names the plugin whose import must run first.
	Requires string

	convert convertFunc
}

type plugin struct {
	name       string
	table      string
	dialects   []Dialect
	updateOnly bool
	requires   string
	convert    convertFunc
}

var plugins = []plugin{
	{name: "jpremium", table: "user_profiles", dialects: []Dialect{DialectMySQL}, convert: convertJPremium},
	{name: "authme", table: "authme", dialects: []Dialect{DialectMySQL, DialectSQLite, DialectPostgreSQL}, convert: convertAuthMe},
	{name: "aegis", table: "aegis", dialects: []Dialect{DialectMySQL}, convert: convertAegis},
	{name: "dba", table: "playerdata", dialects: []Dialect{DialectMySQL}, convert: convertDBA},
	{name: "nlogin", table: "nlogin", dialects: []Dialect{DialectSQLite, DialectMySQL}, convert: convertNLogin},
	{name: "loginsecurity", table: "ls_players", dialects: []Dialect{DialectMySQL, DialectSQLite}, convert: convertLoginSecurity},
	{
		name: "fastlogin", table: "premium", dialects: []Dialect{DialectSQLite, DialectMySQL},
		updateOnly: true, requires: "authme", convert: convertFastLogin,
	},
	{name: "limboauth", table: "AUTH", dialects: []Dialect{DialectMySQL}, convert: convertLimboAuth},
	{name: "authy", table: "players", dialects: []Dialect{DialectMySQL, DialectSQLite}, convert: convertAuthy},
	{name: "logit", table: "logit_accounts", dialects: []Dialect{DialectMySQL}, convert: convertLogIt},
	{
		name: "librelogin", table: "librepremium_data",
		dialects: []Dialect{DialectMySQL, DialectSQLite, DialectPostgreSQL}, convert: convertNative,
	},
}

var catalog = buildCatalog()

func buildCatalog() map[string]Type {
	out := make(map[string]Type)
	for _, p := range plugins {
		for _, d := range p.dialects {
			id := p.name + "-" + string(d)
			out[id] = Type{
				ID:           id,
				Plugin:       p.name,
				Dialect:      d,
				DefaultTable: p.table,
				UpdateOnly:   p.updateOnly,
				Requires:     p.requires,
				convert:      p.convert,
			}
		}
	}
	return out
}

// Lookup returns the migration type registered under id.
func Lookup(id string) (Type, error) {
	t, ok := catalog[strings.ToLower(strings.TrimSpace(id))]
	if !ok {
		return Type{}, oops.Code("MIGRATION_UNKNOWN_TYPE").
			With("type", id).
			Errorf("unknown migration type %q", id)
	}
	return t, nil
}

// TypeIDs returns every registered type id, sorted.
func TypeIDs() []string {
	ids := make([]string, 0, len(catalog))
	for id := range catalog {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Table returns configured, or the type's default when configured is empty.
func (t Type) Table(configured string) string {
	if configured != "" {
		return configured
	}
	return t.DefaultTable
}
