// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package store

import (
	"errors"
	"testing"

	"github.com/golang-migrate/migrate/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/gatekeeper/pkg/errutil"
)

// fakeMigrate implements migrateIface with canned results.
type fakeMigrate struct {
	upErr          error
	downErr        error
	stepsErr       error
	version        uint
	dirty          bool
	versionErr     error
	forceErr       error
	closeSourceErr error
	closeDBErr     error

	steps []int
}

func (f *fakeMigrate) Up() error   { return f.upErr }
func (f *fakeMigrate) Down() error { return f.downErr }
func (f *fakeMigrate) Steps(n int) error {
	f.steps = append(f.steps, n)
	return f.stepsErr
}
func (f *fakeMigrate) Version() (uint, bool, error) { return f.version, f.dirty, f.versionErr }
func (f *fakeMigrate) Force(_ int) error            { return f.forceErr }
func (f *fakeMigrate) Close() (error, error)        { return f.closeSourceErr, f.closeDBErr }

func TestNewMigrator_UnknownScheme(t *testing.T) {
	_, err := NewMigrator("badscheme://localhost:5432/gatekeeper")
	errutil.AssertErrorCode(t, err, "MIGRATION_INIT_FAILED")
}

func TestMigrateURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"postgres://u:p@db:5432/gk", "pgx5://u:p@db:5432/gk"},
		{"postgresql://db/gk?sslmode=disable", "pgx5://db/gk?sslmode=disable"},
		{"pgx5://db/gk", "pgx5://db/gk"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, MigrateURL(tt.in))
		})
	}
}

func TestMigrator_NoChangeIsSuccess(t *testing.T) {
	m := &Migrator{m: &fakeMigrate{
		upErr:    migrate.ErrNoChange,
		downErr:  migrate.ErrNoChange,
		stepsErr: migrate.ErrNoChange,
	}}
	require.NoError(t, m.Up())
	require.NoError(t, m.Down())
	require.NoError(t, m.Steps(0))
}

func TestMigrator_Failures(t *testing.T) {
	boom := errors.New("database locked")
	tests := []struct {
		name string
		call func(m *Migrator) error
		code string
	}{
		{"up", func(m *Migrator) error { return m.Up() }, "MIGRATION_UP_FAILED"},
		{"down", func(m *Migrator) error { return m.Down() }, "MIGRATION_DOWN_FAILED"},
		{"steps", func(m *Migrator) error { return m.Steps(2) }, "MIGRATION_STEPS_FAILED"},
		{"force", func(m *Migrator) error { return m.Force(1) }, "MIGRATION_FORCE_FAILED"},
		{"version", func(m *Migrator) error {
			_, _, err := m.Version()
			return err
		}, "MIGRATION_VERSION_FAILED"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &Migrator{m: &fakeMigrate{
				upErr: boom, downErr: boom, stepsErr: boom, forceErr: boom, versionErr: boom,
			}}
			err := tt.call(m)
			errutil.AssertErrorCode(t, err, tt.code)
			assert.ErrorIs(t, err, boom)
		})
	}
}

func TestMigrator_StepsPassesCount(t *testing.T) {
	fake := &fakeMigrate{}
	m := &Migrator{m: fake}
	require.NoError(t, m.Steps(-1))
	require.NoError(t, m.Steps(2))
	assert.Equal(t, []int{-1, 2}, fake.steps)
}

func TestMigrator_Version(t *testing.T) {
	t.Run("dirty", func(t *testing.T) {
		m := &Migrator{m: &fakeMigrate{version: 2, dirty: true}}
		v, dirty, err := m.Version()
		require.NoError(t, err)
		assert.Equal(t, uint(2), v)
		assert.True(t, dirty)
	})

	t.Run("empty database", func(t *testing.T) {
		m := &Migrator{m: &fakeMigrate{versionErr: migrate.ErrNilVersion}}
		v, dirty, err := m.Version()
		require.NoError(t, err)
		assert.Zero(t, v)
		assert.False(t, dirty)
	})
}

func TestMigrator_ForceRejectsNegative(t *testing.T) {
	m := &Migrator{m: &fakeMigrate{}}
	errutil.AssertErrorCode(t, m.Force(-1), "INVALID_VERSION")
	require.NoError(t, m.Force(0))
}

func TestMigrator_Close(t *testing.T) {
	tests := []struct {
		name      string
		srcErr    error
		dbErr     error
		component string
	}{
		{name: "clean"},
		{name: "source", srcErr: errors.New("source close failed"), component: "source"},
		{name: "database", dbErr: errors.New("db close failed"), component: "database"},
		{
			name:      "both",
			srcErr:    errors.New("source close failed"),
			dbErr:     errors.New("db close failed"),
			component: "both",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &Migrator{m: &fakeMigrate{closeSourceErr: tt.srcErr, closeDBErr: tt.dbErr}}
			err := m.Close()
			if tt.component == "" {
				require.NoError(t, err)
				return
			}
			errutil.AssertErrorCode(t, err, "MIGRATION_CLOSE_FAILED")
			errutil.AssertErrorContext(t, err, "component", tt.component)
			if tt.srcErr != nil {
				assert.Contains(t, err.Error(), tt.srcErr.Error())
			}
			if tt.dbErr != nil {
				assert.Contains(t, err.Error(), tt.dbErr.Error())
			}
		})
	}
}

func TestMigrator_Pending(t *testing.T) {
	tests := []struct {
		name string
		fake *fakeMigrate
		want []uint
	}{
		{"fresh database", &fakeMigrate{versionErr: migrate.ErrNilVersion}, []uint{1, 2}},
		{"users applied", &fakeMigrate{version: 1}, []uint{2}},
		{"up to date", &fakeMigrate{version: 2}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := (&Migrator{m: tt.fake}).Pending()
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("version failure", func(t *testing.T) {
		_, err := (&Migrator{m: &fakeMigrate{versionErr: errors.New("connection lost")}}).Pending()
		errutil.AssertErrorContext(t, err, "operation", "list pending migrations")
	})
}

func TestMigrationName(t *testing.T) {
	name, err := MigrationName(1)
	require.NoError(t, err)
	assert.Equal(t, "000001_create_users", name)

	name, err = MigrationName(2)
	require.NoError(t, err)
	assert.Equal(t, "000002_create_sessions", name)

	name, err = MigrationName(99)
	require.NoError(t, err)
	assert.Empty(t, name)
}
