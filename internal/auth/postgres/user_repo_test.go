// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package postgres_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/gatekeeper/internal/auth"
	"github.com/holomush/gatekeeper/internal/auth/postgres"
	"github.com/holomush/gatekeeper/internal/hashing"
	"github.com/holomush/gatekeeper/pkg/errutil"
)

var userCols = []string{
	"id", "premium_id", "last_nickname", "premium_status", "hashed_password", "salt", "algo",
	"ip", "join_date", "last_seen", "last_authentication", "secret2fa",
}

func strPtr(s string) *string { return &s }

func TestUserRepository_GetByName(t *testing.T) {
	id := uuid.MustParse("b50ad385-829d-3141-a216-7e7d7539ba7f")
	premium := uuid.MustParse("069a79f4-44e9-4726-a5be-fca90e38aaf5")
	joined := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	authed := joined.Add(time.Hour)

	tests := []struct {
		name      string
		setupMock func(mock pgxmock.PgxPoolIface)
		check     func(t *testing.T, u *auth.User, err error)
	}{
		{
			name: "registered premium user",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				rows := pgxmock.NewRows(userCols).AddRow(
					id.String(), strPtr(premium.String()), "Notch", "PREMIUM",
					strPtr("$2a$10$abc"), (*string)(nil), strPtr("BCrypt-2A"),
					strPtr("10.0.0.1"), joined, authed, &authed, strPtr("JBSWY3DPEHPK3PXP"),
				)
				mock.ExpectQuery(`SELECT .* FROM gatekeeper_users\s+WHERE LOWER\(last_nickname\) = LOWER\(\$1\)`).
					WithArgs("notch").
					WillReturnRows(rows)
			},
			check: func(t *testing.T, u *auth.User, err error) {
				require.NoError(t, err)
				assert.Equal(t, id, u.ID)
				require.NotNil(t, u.PremiumID)
				assert.Equal(t, premium, *u.PremiumID)
				assert.Equal(t, "Notch", u.LastNickname)
				assert.Equal(t, auth.PremiumVerified, u.Premium)
				require.NotNil(t, u.Password)
				assert.Equal(t, hashing.HashedPassword{Hash: "$2a$10$abc", Algorithm: "BCrypt-2A"}, *u.Password)
				assert.Equal(t, "10.0.0.1", u.IP)
				assert.Equal(t, joined, u.JoinDate)
				assert.Equal(t, authed, u.LastAuthDate)
				assert.True(t, u.HasTwoFactor())
			},
		},
		{
			name: "unregistered record has no password",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				rows := pgxmock.NewRows(userCols).AddRow(
					id.String(), (*string)(nil), "Notch", "CRACKED",
					(*string)(nil), (*string)(nil), (*string)(nil),
					(*string)(nil), joined, joined, (*time.Time)(nil), (*string)(nil),
				)
				mock.ExpectQuery(`SELECT .* FROM gatekeeper_users`).
					WithArgs("notch").
					WillReturnRows(rows)
			},
			check: func(t *testing.T, u *auth.User, err error) {
				require.NoError(t, err)
				assert.Nil(t, u.PremiumID)
				assert.False(t, u.IsRegistered())
				assert.True(t, u.LastAuthDate.IsZero())
				assert.Empty(t, u.IP)
			},
		},
		{
			name: "not found",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(`SELECT .* FROM gatekeeper_users`).
					WithArgs("notch").
					WillReturnError(pgx.ErrNoRows)
			},
			check: func(t *testing.T, _ *auth.User, err error) {
				require.ErrorIs(t, err, auth.ErrNotFound)
				errutil.AssertErrorCode(t, err, "USER_NOT_FOUND")
			},
		},
		{
			name: "database error",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(`SELECT .* FROM gatekeeper_users`).
					WithArgs("notch").
					WillReturnError(errors.New("connection refused"))
			},
			check: func(t *testing.T, _ *auth.User, err error) {
				errutil.AssertErrorCode(t, err, "USER_GET_BY_NAME_FAILED")
				assert.Contains(t, err.Error(), "connection refused")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, err := pgxmock.NewPool()
			require.NoError(t, err, "failed to create mock")
			defer mock.Close()

			tt.setupMock(mock)

			repo := postgres.NewUserRepository(mock)
			u, err := repo.GetByName(context.Background(), "notch")
			tt.check(t, u, err)

			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestUserRepository_GetByPremiumID(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	premium := uuid.New()
	mock.ExpectQuery(`SELECT .* FROM gatekeeper_users\s+WHERE premium_id = \$1`).
		WithArgs(premium.String()).
		WillReturnError(pgx.ErrNoRows)

	repo := postgres.NewUserRepository(mock)
	_, err = repo.GetByPremiumID(context.Background(), premium)
	require.ErrorIs(t, err, auth.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_GetByID_InvalidStoredID(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	id := uuid.New()
	now := time.Now().UTC()
	mock.ExpectQuery(`SELECT .* FROM gatekeeper_users\s+WHERE id = \$1`).
		WithArgs(id.String()).
		WillReturnRows(pgxmock.NewRows(userCols).AddRow(
			"not-a-uuid", (*string)(nil), "Notch", "CRACKED",
			(*string)(nil), (*string)(nil), (*string)(nil),
			(*string)(nil), now, now, (*time.Time)(nil), (*string)(nil),
		))

	repo := postgres.NewUserRepository(mock)
	_, err = repo.GetByID(context.Background(), id)
	errutil.AssertErrorCode(t, err, "USER_INVALID_ID")
}

func TestUserRepository_Create(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	user, err := auth.NewUser(uuid.New(), "Notch", "10.0.0.1", now)
	require.NoError(t, err)
	user.Password = &hashing.HashedPassword{Hash: "h", Salt: "s", Algorithm: "SHA256"}

	tests := []struct {
		name     string
		execErr  error
		wantCode string
		wantIs   error
	}{
		{name: "success"},
		{
			name:     "unique violation",
			execErr:  &pgconn.PgError{Code: pgerrcode.UniqueViolation},
			wantCode: "USER_ALREADY_EXISTS",
			wantIs:   auth.ErrAlreadyExists,
		},
		{
			name:     "other failure",
			execErr:  errors.New("disk full"),
			wantCode: "USER_CREATE_FAILED",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, err := pgxmock.NewPool()
			require.NoError(t, err)
			defer mock.Close()

			exp := mock.ExpectExec(`INSERT INTO gatekeeper_users`).
				WithArgs(
					user.ID.String(), pgxmock.AnyArg(), "Notch", "CRACKED",
					pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
					now, now, pgxmock.AnyArg(), pgxmock.AnyArg(),
				)
			if tt.execErr != nil {
				exp.WillReturnError(tt.execErr)
			} else {
				exp.WillReturnResult(pgxmock.NewResult("INSERT", 1))
			}

			repo := postgres.NewUserRepository(mock)
			err = repo.Create(context.Background(), user)
			if tt.wantCode == "" {
				require.NoError(t, err)
			} else {
				errutil.AssertErrorCode(t, err, tt.wantCode)
				if tt.wantIs != nil {
					assert.ErrorIs(t, err, tt.wantIs)
				}
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestUserRepository_Update(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	user, err := auth.NewUser(uuid.New(), "Notch", "10.0.0.1", now)
	require.NoError(t, err)

	t.Run("missing row", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectExec(`UPDATE gatekeeper_users SET`).
			WithArgs(user.ID.String(), pgxmock.AnyArg(), "Notch", "CRACKED",
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
				now, now, pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		err = postgres.NewUserRepository(mock).Update(context.Background(), user)
		require.ErrorIs(t, err, auth.ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rename onto taken name", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectExec(`UPDATE gatekeeper_users SET`).
			WithArgs(user.ID.String(), pgxmock.AnyArg(), "Notch", "CRACKED",
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
				now, now, pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnError(&pgconn.PgError{Code: pgerrcode.UniqueViolation})

		err = postgres.NewUserRepository(mock).Update(context.Background(), user)
		require.ErrorIs(t, err, auth.ErrAlreadyExists)
	})

	t.Run("success", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectExec(`UPDATE gatekeeper_users SET`).
			WithArgs(user.ID.String(), pgxmock.AnyArg(), "Notch", "CRACKED",
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
				now, now, pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		require.NoError(t, postgres.NewUserRepository(mock).Update(context.Background(), user))
	})
}

func TestUserRepository_Delete(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	id := uuid.New()
	mock.ExpectExec(`DELETE FROM gatekeeper_users WHERE id = \$1`).
		WithArgs(id.String()).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec(`DELETE FROM gatekeeper_users WHERE id = \$1`).
		WithArgs(id.String()).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	repo := postgres.NewUserRepository(mock)
	require.NoError(t, repo.Delete(context.Background(), id))
	require.ErrorIs(t, repo.Delete(context.Background(), id), auth.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_Replace(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	oldID := uuid.New()
	user, err := auth.NewUser(uuid.New(), "Steve", "10.0.0.1", now)
	require.NoError(t, err)

	insertArgs := []any{
		user.ID.String(), pgxmock.AnyArg(), "Steve", "CRACKED",
		pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
		now, now, pgxmock.AnyArg(), pgxmock.AnyArg(),
	}

	t.Run("commits delete and insert together", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectBegin()
		mock.ExpectExec(`DELETE FROM gatekeeper_users WHERE id = \$1`).
			WithArgs(oldID.String()).
			WillReturnResult(pgxmock.NewResult("DELETE", 1))
		mock.ExpectExec(`INSERT INTO gatekeeper_users`).
			WithArgs(insertArgs...).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mock.ExpectCommit()

		require.NoError(t, postgres.NewUserRepository(mock).Replace(context.Background(), oldID, user))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("insert failure rolls back the delete", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectBegin()
		mock.ExpectExec(`DELETE FROM gatekeeper_users WHERE id = \$1`).
			WithArgs(oldID.String()).
			WillReturnResult(pgxmock.NewResult("DELETE", 1))
		mock.ExpectExec(`INSERT INTO gatekeeper_users`).
			WithArgs(insertArgs...).
			WillReturnError(errors.New("disk full"))
		mock.ExpectRollback()

		err = postgres.NewUserRepository(mock).Replace(context.Background(), oldID, user)
		errutil.AssertErrorCode(t, err, "USER_REPLACE_FAILED")
		assert.Contains(t, err.Error(), "disk full")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing old user rolls back", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectBegin()
		mock.ExpectExec(`DELETE FROM gatekeeper_users WHERE id = \$1`).
			WithArgs(oldID.String()).
			WillReturnResult(pgxmock.NewResult("DELETE", 0))
		mock.ExpectRollback()

		err = postgres.NewUserRepository(mock).Replace(context.Background(), oldID, user)
		require.ErrorIs(t, err, auth.ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("name taken by another user", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectBegin()
		mock.ExpectExec(`DELETE FROM gatekeeper_users WHERE id = \$1`).
			WithArgs(oldID.String()).
			WillReturnResult(pgxmock.NewResult("DELETE", 1))
		mock.ExpectExec(`INSERT INTO gatekeeper_users`).
			WithArgs(insertArgs...).
			WillReturnError(&pgconn.PgError{Code: pgerrcode.UniqueViolation})
		mock.ExpectRollback()

		err = postgres.NewUserRepository(mock).Replace(context.Background(), oldID, user)
		require.ErrorIs(t, err, auth.ErrAlreadyExists)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestUserRepository_CountByIP(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM gatekeeper_users WHERE ip = \$1`).
		WithArgs("10.0.0.1").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM gatekeeper_users`).
		WithArgs("10.0.0.2").
		WillReturnError(errors.New("timeout"))

	repo := postgres.NewUserRepository(mock)
	n, err := repo.CountByIP(context.Background(), "10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	_, err = repo.CountByIP(context.Background(), "10.0.0.2")
	errutil.AssertErrorCode(t, err, "USER_COUNT_BY_IP_FAILED")
}
