// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package config loads gatekeeper's YAML configuration. Keys keep the
// kebab-case names server operators already use; command-line flags override
// file values.
package config

import (
	"errors"
	"io/fs"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
	"golang.org/x/crypto/bcrypt"

	"github.com/holomush/gatekeeper/internal/auth"
	"github.com/holomush/gatekeeper/internal/hashing"
	"github.com/holomush/gatekeeper/internal/logging"
	"github.com/holomush/gatekeeper/internal/migration"
)

// Config is the full configuration document.
type Config struct {
	DefaultCryptoProvider string `koanf:"default-crypto-provider" json:"default-crypto-provider,omitempty" jsonschema:"enum=SHA-256,enum=SHA-512,enum=BCrypt-2A,enum=Argon-2ID" jsonschema_description:"Algorithm new passwords are hashed with"`
	BCryptCost            int    `koanf:"bcrypt-cost" json:"bcrypt-cost,omitempty" jsonschema:"minimum=4,maximum=31"`

	ConflictStrategy string `koanf:"profile-conflict-resolution-strategy" json:"profile-conflict-resolution-strategy,omitempty" jsonschema:"enum=BLOCK,enum=USE_OFFLINE,enum=OVERWRITE"`

	MaxLoginAttempts    int `koanf:"max-login-attempts" json:"max-login-attempts,omitempty" jsonschema_description:"Wrong passwords before a kick; negative disables"`
	AttemptWindowMillis int `koanf:"milliseconds-to-refresh-login-attempts" json:"milliseconds-to-refresh-login-attempts,omitempty"`
	// SessionTimeout is in seconds; zero or less disables sessions.
	SessionTimeout     int  `koanf:"session-timeout" json:"session-timeout,omitempty"`
	IPLimit            int  `koanf:"ip-limit" json:"ip-limit,omitempty"`
	MinPasswordLength  int  `koanf:"minimum-password-length" json:"minimum-password-length,omitempty"`
	MinUsernameLength  int  `koanf:"minimum-username-length" json:"minimum-username-length,omitempty"`
	SecondsToAuthorize int  `koanf:"seconds-to-authorize" json:"seconds-to-authorize,omitempty" jsonschema_description:"Seconds to log in before a kick; negative disables"`
	AutoRegister       bool `koanf:"auto-register" json:"auto-register,omitempty"`

	NewUUIDCreator  string   `koanf:"new-uuid-creator" json:"new-uuid-creator,omitempty" jsonschema:"enum=RANDOM,enum=CRACKED,enum=MOJANG"`
	AllowedCommands []string `koanf:"allowed-commands-while-unauthorized" json:"allowed-commands-while-unauthorized,omitempty"`

	TOTP      TOTP           `koanf:"totp" json:"totp,omitempty"`
	Migration Migration      `koanf:"migration" json:"migration,omitempty"`
	Database  DatabaseConfig `koanf:"database" json:"database,omitempty"`

	LogLevel    string `koanf:"log-level" json:"log-level,omitempty" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
	LogFormat   string `koanf:"log-format" json:"log-format,omitempty" jsonschema:"enum=json,enum=text"`
	MetricsAddr string `koanf:"metrics-addr" json:"metrics-addr,omitempty" jsonschema_description:"Listen address for /metrics and health probes; empty disables"`
}

// TOTP configures two-factor authentication.
type TOTP struct {
	Enabled bool   `koanf:"enabled" json:"enabled,omitempty"`
	Label   string `koanf:"label" json:"label,omitempty"`
	// DelayMillis is the minimum time between two code checks for one user.
	DelayMillis int `koanf:"delay" json:"delay,omitempty"`
}

// Migration configures the one-shot import of a legacy database.
type Migration struct {
	OnNextStartup bool        `koanf:"on-next-startup" json:"on-next-startup,omitempty"`
	Type          string      `koanf:"type" json:"type,omitempty"`
	OldDatabase   OldDatabase `koanf:"old-database" json:"old-database,omitempty"`
}

// OldDatabase holds one connection block per legacy backend; the block
// matching the migration type's dialect is used.
type OldDatabase struct {
	MySQL      migration.SourceConfig `koanf:"mysql" json:"mysql,omitempty"`
	PostgreSQL migration.SourceConfig `koanf:"postgresql" json:"postgresql,omitempty"`
	SQLite     migration.SourceConfig `koanf:"sqlite" json:"sqlite,omitempty"`
}

// DatabaseConfig locates the canonical user store. An empty URL keeps users
// in memory.
type DatabaseConfig struct {
	URL             string `koanf:"url" json:"url,omitempty"`
	MaxConns        int32  `koanf:"max-conns" json:"max-conns,omitempty"`
	ConnectAttempts uint64 `koanf:"connect-attempts" json:"connect-attempts,omitempty"`
}

// Default values.
const (
	DefaultLogLevel     = "info"
	DefaultLogFormat    = "json"
	DefaultMetricsAddr  = "127.0.0.1:9100"
	defaultMaxConns     = 10
	defaultAttempts     = 5
	defaultTOTPDelayMs  = 1000
	defaultAttemptMilli = 10000
)

// Default returns the configuration used when a key is absent.
func Default() *Config {
	return &Config{
		DefaultCryptoProvider: hashing.BCrypt2A,
		BCryptCost:            bcrypt.DefaultCost,
		ConflictStrategy:      string(auth.ConflictBlock),
		MaxLoginAttempts:      -1,
		AttemptWindowMillis:   defaultAttemptMilli,
		IPLimit:               -1,
		MinPasswordLength:     -1,
		MinUsernameLength:     -1,
		SecondsToAuthorize:    -1,
		NewUUIDCreator:        string(auth.UUIDCracked),
		AllowedCommands:       slices.Clone(auth.DefaultAllowedCommands),
		TOTP: TOTP{
			Enabled:     true,
			Label:       auth.DefaultTOTPLabel,
			DelayMillis: defaultTOTPDelayMs,
		},
		Migration: Migration{Type: "authme-sqlite"},
		Database: DatabaseConfig{
			MaxConns:        defaultMaxConns,
			ConnectAttempts: defaultAttempts,
		},
		LogLevel:    DefaultLogLevel,
		LogFormat:   DefaultLogFormat,
		MetricsAddr: DefaultMetricsAddr,
	}
}

// flagKeys maps override flags onto configuration keys.
var flagKeys = map[string]string{
	"log-level":    "log-level",
	"log-format":   "log-format",
	"metrics-addr": "metrics-addr",
	"database-url": "database.url",
}

// BindFlags registers the flags Load accepts as overrides.
func BindFlags(fs *pflag.FlagSet) {
	fs.String("log-level", DefaultLogLevel, "log level (debug, info, warn, error)")
	fs.String("log-format", DefaultLogFormat, "log format (json or text)")
	fs.String("metrics-addr", DefaultMetricsAddr, "metrics/health HTTP address (empty = disabled)")
	fs.String("database-url", "", "PostgreSQL URL of the user store (empty = in memory)")
}

// Load reads path over the defaults, then applies flags the user set
// explicitly. An empty path or a missing file yields the defaults. The
// result is validated.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		data, err := os.ReadFile(path) //nolint:gosec // operator-supplied config path
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, oops.Code("CONFIG_READ_FAILED").With("path", path).Wrap(err)
		default:
			if err := ValidateDocument(data); err != nil {
				return nil, oops.Code("CONFIG_INVALID").With("path", path).Wrap(err)
			}
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, oops.Code("CONFIG_READ_FAILED").With("path", path).Wrap(err)
			}
		}
	}

	if flags != nil {
		provider := posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.Code("CONFIG_READ_FAILED").With("source", "flags").Wrap(err)
		}
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, oops.Code("CONFIG_INVALID").With("path", path).Wrap(err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects unknown identifiers and incomplete migration settings.
// Every problem found is reported.
func (c *Config) Validate() error {
	var problems []string

	switch c.DefaultCryptoProvider {
	case hashing.SHA256, hashing.SHA512, hashing.BCrypt2A, hashing.Argon2ID:
	default:
		problems = append(problems, "default-crypto-provider: unknown provider "+quote(c.DefaultCryptoProvider))
	}
	if c.BCryptCost < bcrypt.MinCost || c.BCryptCost > bcrypt.MaxCost {
		problems = append(problems, "bcrypt-cost: out of range")
	}
	if !auth.ConflictStrategy(c.ConflictStrategy).Valid() {
		problems = append(problems, "profile-conflict-resolution-strategy: unknown strategy "+quote(c.ConflictStrategy))
	}
	if !auth.UUIDCreator(c.NewUUIDCreator).Valid() {
		problems = append(problems, "new-uuid-creator: unknown creator "+quote(c.NewUUIDCreator))
	}
	if c.AttemptWindowMillis <= 0 {
		problems = append(problems, "milliseconds-to-refresh-login-attempts: must be positive")
	}
	if c.TOTP.DelayMillis < 0 {
		problems = append(problems, "totp.delay: must not be negative")
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		problems = append(problems, "log-level: unknown level "+quote(c.LogLevel))
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		problems = append(problems, "log-format: must be 'json' or 'text'")
	}
	if c.Migration.OnNextStartup {
		if _, _, err := c.MigrationSource(); err != nil {
			problems = append(problems, "migration: "+err.Error())
		}
	}

	if len(problems) > 0 {
		return oops.Code("CONFIG_INVALID").
			With("problems", problems).
			Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// MigrationSource resolves the configured migration type and the connection
// block for its backend.
func (c *Config) MigrationSource() (migration.Type, migration.SourceConfig, error) {
	typ, err := migration.Lookup(c.Migration.Type)
	if err != nil {
		return migration.Type{}, migration.SourceConfig{}, err
	}
	var src migration.SourceConfig
	switch typ.Dialect {
	case migration.DialectMySQL:
		src = c.Migration.OldDatabase.MySQL
	case migration.DialectPostgreSQL:
		src = c.Migration.OldDatabase.PostgreSQL
	case migration.DialectSQLite:
		src = c.Migration.OldDatabase.SQLite
		if src.Path == "" {
			return typ, src, oops.Code("CONFIG_INVALID").
				With("type", typ.ID).
				Errorf("old-database.sqlite.path is required for %s", typ.ID)
		}
		return typ, src, nil
	}
	if src.Database == "" {
		return typ, src, oops.Code("CONFIG_INVALID").
			With("type", typ.ID).
			Errorf("old-database.%s.database is required for %s", typ.Dialect, typ.ID)
	}
	return typ, src, nil
}

// AuthSettings converts the policy keys to authenticator settings.
func (c *Config) AuthSettings() auth.Settings {
	s := auth.DefaultSettings()
	s.ConflictStrategy = auth.ConflictStrategy(c.ConflictStrategy)
	s.MaxLoginAttempts = c.MaxLoginAttempts
	s.AttemptWindow = time.Duration(c.AttemptWindowMillis) * time.Millisecond
	s.SessionTimeout = max(time.Duration(c.SessionTimeout)*time.Second, 0)
	s.IPLimit = c.IPLimit
	s.MinPasswordLength = c.MinPasswordLength
	s.MinUsernameLength = c.MinUsernameLength
	s.AuthorizeTimeout = -1
	if c.SecondsToAuthorize >= 0 {
		s.AuthorizeTimeout = time.Duration(c.SecondsToAuthorize) * time.Second
	}
	s.AutoRegister = c.AutoRegister
	s.UUIDCreator = auth.UUIDCreator(c.NewUUIDCreator)
	s.AllowedCommands = slices.Clone(c.AllowedCommands)
	s.TwoFactor.Enabled = c.TOTP.Enabled
	s.TwoFactor.Label = c.TOTP.Label
	s.TwoFactor.Delay = time.Duration(c.TOTP.DelayMillis) * time.Millisecond
	return s
}

func quote(s string) string {
	return `"` + s + `"`
}
