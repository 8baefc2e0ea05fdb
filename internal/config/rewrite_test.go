// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package config_test

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/gatekeeper/internal/config"
	"github.com/holomush/gatekeeper/pkg/errutil"
)

const migratingConfig = `# gatekeeper configuration
max-login-attempts: 3

migration:
  # flip back to true to import again
  on-next-startup: true
  type: authme-sqlite
  old-database:
    sqlite:
      path: /srv/authme.db
`

func TestDisableMigrationOnNextStartup(t *testing.T) {
	path := writeConfig(t, migratingConfig)

	require.NoError(t, config.DisableMigrationOnNextStartup(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(data)
	assert.Contains(t, out, "on-next-startup: false")
	assert.Contains(t, out, "# gatekeeper configuration")
	assert.Contains(t, out, "# flip back to true to import again")
	assert.Contains(t, out, "path: /srv/authme.db")

	cfg, err := config.Load(path, nil)
	require.NoError(t, err)
	assert.False(t, cfg.Migration.OnNextStartup)
	assert.Equal(t, 3, cfg.MaxLoginAttempts)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestDisableMigrationOnNextStartup_NoOp(t *testing.T) {
	for _, body := range []string{
		"max-login-attempts: 3\n",
		"migration:\n  on-next-startup: false # already off\n",
		"",
	} {
		path := writeConfig(t, body)
		require.NoError(t, config.DisableMigrationOnNextStartup(path))
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, body, string(data), "file must be left untouched")
	}
}

func TestDisableMigrationOnNextStartup_MissingFile(t *testing.T) {
	err := config.DisableMigrationOnNextStartup(t.TempDir() + "/absent.yml")
	errutil.AssertErrorCode(t, err, "CONFIG_READ_FAILED")
}
