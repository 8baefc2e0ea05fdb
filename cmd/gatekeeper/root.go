// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/holomush/gatekeeper/internal/config"
	"github.com/holomush/gatekeeper/internal/logging"
	"github.com/holomush/gatekeeper/internal/xdg"
)

const serviceName = "gatekeeper"

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the gatekeeper CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gatekeeper",
		Short: "Gatekeeper - authentication for game server networks",
		Long: `Gatekeeper authenticates players joining a server network. It resolves
premium and offline profiles, enforces login attempt and address limits,
runs TOTP two-factor challenges and imports accounts from legacy
authentication plugins.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "",
		"config file path (default: $XDG_CONFIG_HOME/gatekeeper/gatekeeper.yml, then /etc/gatekeeper/gatekeeper.yml)")
	config.BindFlags(cmd.PersistentFlags())

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewImportCmd())
	cmd.AddCommand(NewConfigCmd())

	return cmd
}

// loadConfig reads the config file named by --config, applies flag
// overrides and installs the default logger writing to w.
func loadConfig(cmd *cobra.Command, w io.Writer) (*config.Config, *slog.Logger, error) {
	cfg, err := readConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	logger := logging.Setup(serviceName, cmd.Root().Version, cfg.LogFormat, level, w)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

// readConfig loads the file named by --config. Without --config the XDG
// locations are searched and the first existing file becomes configFile.
func readConfig(cmd *cobra.Command) (*config.Config, error) {
	if configFile == "" {
		found, err := xdg.FindConfig()
		if err != nil {
			return nil, err
		}
		configFile = found
	}
	return config.Load(configFile, cmd.Flags())
}
