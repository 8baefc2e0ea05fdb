// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/gatekeeper/internal/app"
	"github.com/holomush/gatekeeper/internal/auth"
	"github.com/holomush/gatekeeper/internal/config"
	"github.com/holomush/gatekeeper/internal/migration"
)

// importOptions holds the flags of the import command.
type importOptions struct {
	typeID     string
	sourcePath string
	output     string
}

// NewImportCmd creates the import subcommand.
func NewImportCmd() *cobra.Command {
	opts := &importOptions{}

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import accounts from a legacy authentication plugin",
		Long: `Read every account from the legacy database described under
migration.old-database and write it to the user store, then print the
run report. Without database.url the accounts are imported into memory
and discarded, which is useful as a dry run.

Known types: ` + strings.Join(migration.TypeIDs(), ", "),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(cmd, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			return runImport(cmd.Context(), cfg, logger, opts, cmd.OutOrStdout(), nil)
		},
	}

	cmd.Flags().StringVar(&opts.typeID, "type", "", "migration type, overriding migration.type")
	cmd.Flags().StringVar(&opts.sourcePath, "source-path", "", "SQLite file, overriding migration.old-database.sqlite.path")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "text", "report format (text or yaml)")

	return cmd
}

func runImport(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts *importOptions, out io.Writer, deps *app.Deps) error {
	write, err := reportWriter(opts.output)
	if err != nil {
		return err
	}

	run := *cfg
	run.Migration.OnNextStartup = false
	if opts.typeID != "" {
		run.Migration.Type = opts.typeID
	}
	if opts.sourcePath != "" {
		run.Migration.OldDatabase.SQLite.Path = opts.sourcePath
	}
	typ, src, err := run.MigrationSource()
	if err != nil {
		return err
	}

	a, err := app.Bootstrap(ctx, &run, "", logger, deps)
	if err != nil {
		return err
	}
	defer a.Close()

	var open func(context.Context, migration.Type, migration.SourceConfig) (*migration.Source, error)
	if deps != nil {
		open = deps.OpenSource
	}
	report, runErr := app.Import(ctx, app.ImportRequest{
		Users:   a.Users,
		Hashing: a.Hashing,
		Creator: auth.UUIDCreator(run.NewUUIDCreator),
		Logger:  logger,
		Type:    typ,
		Source:  src,
		Open:    open,
	})
	if report != nil {
		if err := write(report, out); err != nil {
			return oops.Code("IMPORT_OUTPUT_FAILED").Wrap(err)
		}
	}
	return runErr
}

func reportWriter(format string) (func(*migration.Report, io.Writer) error, error) {
	switch format {
	case "text":
		return (*migration.Report).WriteText, nil
	case "yaml":
		return (*migration.Report).WriteYAML, nil
	default:
		return nil, oops.Code("INVALID_OUTPUT").
			With("output", format).
			Errorf("output must be 'text' or 'yaml', got %q", format)
	}
}
