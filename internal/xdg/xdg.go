// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package xdg locates gatekeeper's configuration file following the XDG
// Base Directory layout.
package xdg

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/samber/oops"
)

const (
	appName    = "gatekeeper"
	configName = "gatekeeper.yml"
)

// systemConfigDir is searched after the user's config directory.
var systemConfigDir = filepath.Join("/etc", appName)

// ConfigDir returns the XDG config directory for gatekeeper.
// Checks XDG_CONFIG_HOME first, falls back to ~/.config.
func ConfigDir() (string, error) {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", oops.Code("XDG_NO_HOME").Wrap(err)
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, appName), nil
}

// ConfigFile returns the per-user config file path, whether or not it exists.
func ConfigFile() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, configName), nil
}

// FindConfig returns the first existing config file among the per-user file
// and the system-wide file, or "" when neither exists.
func FindConfig() (string, error) {
	candidates := make([]string, 0, 2)
	if user, err := ConfigFile(); err == nil {
		candidates = append(candidates, user)
	}
	candidates = append(candidates, filepath.Join(systemConfigDir, configName))

	for _, path := range candidates {
		info, err := os.Stat(path)
		switch {
		case err == nil && !info.IsDir():
			return path, nil
		case err == nil, errors.Is(err, fs.ErrNotExist):
			continue
		default:
			return "", oops.Code("XDG_STAT_FAILED").With("path", path).Wrap(err)
		}
	}
	return "", nil
}
