// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"fmt"
	"strings"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/gatekeeper/internal/store"
)

// newMigrator opens the schema migrator; tests replace it.
var newMigrator MigratorFactory = defaultMigratorFactory

// NewMigrateCmd creates the migrate subcommand.
func NewMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the user store schema",
		Long: `Apply, roll back or inspect the PostgreSQL schema of the user store.
The database is taken from database.url in the config file or --database-url.`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: withMigrator(func(cmd *cobra.Command, m SchemaMigrator, _ []string) error {
			cmd.Println("Running migrations...")
			if err := m.Up(); err != nil {
				return err
			}
			cmd.Println("Migrations completed successfully")
			return nil
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back every migration",
		Args:  cobra.NoArgs,
		RunE: withMigrator(func(cmd *cobra.Command, m SchemaMigrator, _ []string) error {
			if err := m.Down(); err != nil {
				return err
			}
			cmd.Println("All migrations rolled back")
			return nil
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "steps N",
		Short: "Apply N migrations, or roll back when N is negative",
		Args:  cobra.ExactArgs(1),
		RunE: withMigrator(func(cmd *cobra.Command, m SchemaMigrator, args []string) error {
			n, err := parseForceVersion(args[0])
			if err != nil {
				return err
			}
			if err := m.Steps(n); err != nil {
				return err
			}
			cmd.Printf("Migrated %d step(s)\n", n)
			return nil
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "force VERSION",
		Short: "Mark VERSION as applied without running it",
		Long:  `Record VERSION as the applied schema version and clear the dirty flag.`,
		Args:  cobra.ExactArgs(1),
		RunE: withMigrator(func(cmd *cobra.Command, m SchemaMigrator, args []string) error {
			v, err := parseForceVersion(args[0])
			if err != nil {
				return err
			}
			if err := m.Force(v); err != nil {
				return err
			}
			cmd.Printf("Forced schema version %d\n", v)
			return nil
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the applied version and pending migrations",
		Args:  cobra.NoArgs,
		RunE:  withMigrator(runMigrateStatus),
	})

	return cmd
}

func runMigrateStatus(cmd *cobra.Command, m SchemaMigrator, _ []string) error {
	current, dirty, err := m.Version()
	if err != nil {
		return err
	}
	pending, err := m.Pending()
	if err != nil {
		return err
	}

	state := "clean"
	if dirty {
		state = "dirty"
	}
	cmd.Printf("Current version: %d (%s)\n", current, state)
	if len(pending) == 0 {
		cmd.Println("Schema is up to date")
		return nil
	}
	cmd.Printf("Pending migrations: %d\n", len(pending))
	for _, v := range pending {
		name, err := store.MigrationName(v)
		if err != nil {
			return err
		}
		cmd.Printf("  %s\n", name)
	}
	return nil
}

// withMigrator loads configuration, opens a migrator for database.url and
// closes it after fn returns.
func withMigrator(fn func(cmd *cobra.Command, m SchemaMigrator, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig(cmd, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		databaseURL, err := getDatabaseURL(cfg.Database.URL)
		if err != nil {
			return err
		}
		m, err := newMigrator(databaseURL)
		if err != nil {
			return oops.Code("DB_CONNECT_FAILED").With("operation", "open migrator").Wrap(err)
		}
		defer func() { _ = m.Close() }() //nolint:errcheck // command result takes precedence
		return fn(cmd, m, args)
	}
}

func getDatabaseURL(url string) (string, error) {
	if strings.TrimSpace(url) == "" {
		return "", oops.Code("CONFIG_INVALID").Errorf("database.url or --database-url is required")
	}
	return url, nil
}

// parseForceVersion reads a leading integer from s.
func parseForceVersion(s string) (int, error) {
	var v int
	if _, err := fmt.Sscanf(strings.TrimSpace(s), "%d", &v); err != nil {
		return 0, oops.Code("INVALID_VERSION").With("input", s).Wrap(err)
	}
	return v, nil
}
