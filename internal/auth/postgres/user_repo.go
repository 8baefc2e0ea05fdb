// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package postgres implements the auth repositories on PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/samber/oops"

	"github.com/holomush/gatekeeper/internal/auth"
	"github.com/holomush/gatekeeper/internal/hashing"
)

// DB is the subset of pgxpool.Pool the repositories use.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

const userColumns = `id, premium_id, last_nickname, premium_status, hashed_password, salt, algo,
		       ip, join_date, last_seen, last_authentication, secret2fa`

// UserRepository implements auth.UserRepository using PostgreSQL.
type UserRepository struct {
	db DB
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(db DB) *UserRepository {
	return &UserRepository{db: db}
}

// GetByName retrieves a user by nickname (case-insensitive).
func (r *UserRepository) GetByName(ctx context.Context, name string) (*auth.User, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM gatekeeper_users
		WHERE LOWER(last_nickname) = LOWER($1)
	`, name)

	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").
			With("name", name).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_GET_BY_NAME_FAILED").
			With("operation", "get user by name").
			With("name", name).
			Wrap(err)
	}
	return user, nil
}

// GetByID retrieves a user by ID.
func (r *UserRepository) GetByID(ctx context.Context, id uuid.UUID) (*auth.User, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM gatekeeper_users
		WHERE id = $1
	`, id.String())

	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_GET_BY_ID_FAILED").
			With("operation", "get user by id").
			With("id", id.String()).
			Wrap(err)
	}
	return user, nil
}

// GetByPremiumID retrieves the user bound to premiumID.
func (r *UserRepository) GetByPremiumID(ctx context.Context, premiumID uuid.UUID) (*auth.User, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM gatekeeper_users
		WHERE premium_id = $1
	`, premiumID.String())

	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").
			With("premium_id", premiumID.String()).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_GET_BY_PREMIUM_ID_FAILED").
			With("operation", "get user by premium id").
			With("premium_id", premiumID.String()).
			Wrap(err)
	}
	return user, nil
}

const insertUser = `
		INSERT INTO gatekeeper_users (
			id, premium_id, last_nickname, premium_status, hashed_password, salt, algo,
			ip, join_date, last_seen, last_authentication, secret2fa
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

// Create stores a new user.
func (r *UserRepository) Create(ctx context.Context, user *auth.User) error {
	_, err := r.db.Exec(ctx, insertUser, params(user)...)
	if isUniqueViolation(err) {
		return oops.Code("USER_ALREADY_EXISTS").
			With("name", user.LastNickname).
			Wrap(auth.ErrAlreadyExists)
	}
	if err != nil {
		return oops.Code("USER_CREATE_FAILED").
			With("operation", "insert user").
			With("name", user.LastNickname).
			Wrap(err)
	}
	return nil
}

// Update replaces a stored user.
func (r *UserRepository) Update(ctx context.Context, user *auth.User) error {
	p := params(user)
	result, err := r.db.Exec(ctx, `
		UPDATE gatekeeper_users SET
			premium_id = $2, last_nickname = $3, premium_status = $4,
			hashed_password = $5, salt = $6, algo = $7, ip = $8,
			join_date = $9, last_seen = $10, last_authentication = $11, secret2fa = $12
		WHERE id = $1
	`, p...)
	if isUniqueViolation(err) {
		return oops.Code("USER_ALREADY_EXISTS").
			With("id", user.ID.String()).
			With("name", user.LastNickname).
			Wrap(auth.ErrAlreadyExists)
	}
	if err != nil {
		return oops.Code("USER_UPDATE_FAILED").
			With("operation", "update user").
			With("id", user.ID.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("USER_NOT_FOUND").
			With("id", user.ID.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// Delete removes a user. Its session goes with it through the foreign key.
func (r *UserRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.Exec(ctx, `DELETE FROM gatekeeper_users WHERE id = $1`, id.String())
	if err != nil {
		return oops.Code("USER_DELETE_FAILED").
			With("operation", "delete user").
			With("id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("USER_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// Replace deletes oldID and inserts user in one transaction. The old
// user's session is removed by the cascade.
func (r *UserRepository) Replace(ctx context.Context, oldID uuid.UUID, user *auth.User) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return oops.Code("USER_REPLACE_FAILED").
			With("operation", "begin transaction").
			Wrap(err)
	}
	defer func() {
		_ = tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op
	}()

	result, err := tx.Exec(ctx, `DELETE FROM gatekeeper_users WHERE id = $1`, oldID.String())
	if err != nil {
		return oops.Code("USER_REPLACE_FAILED").
			With("operation", "delete replaced user").
			With("id", oldID.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("USER_NOT_FOUND").
			With("id", oldID.String()).
			Wrap(auth.ErrNotFound)
	}

	_, err = tx.Exec(ctx, insertUser, params(user)...)
	if isUniqueViolation(err) {
		return oops.Code("USER_ALREADY_EXISTS").
			With("name", user.LastNickname).
			Wrap(auth.ErrAlreadyExists)
	}
	if err != nil {
		return oops.Code("USER_REPLACE_FAILED").
			With("operation", "insert replacement user").
			With("name", user.LastNickname).
			Wrap(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return oops.Code("USER_REPLACE_FAILED").
			With("operation", "commit transaction").
			Wrap(err)
	}
	return nil
}

// CountByIP returns the number of users whose last address is ip.
func (r *UserRepository) CountByIP(ctx context.Context, ip string) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM gatekeeper_users WHERE ip = $1`, ip).Scan(&n)
	if err != nil {
		return 0, oops.Code("USER_COUNT_BY_IP_FAILED").
			With("operation", "count users by ip").
			Wrap(err)
	}
	return n, nil
}

// params orders user's fields as the INSERT and UPDATE statements expect.
func params(u *auth.User) []any {
	var premiumID *string
	if u.PremiumID != nil {
		s := u.PremiumID.String()
		premiumID = &s
	}
	var hash, salt, algo *string
	if u.Password != nil {
		hash, salt, algo = &u.Password.Hash, &u.Password.Salt, &u.Password.Algorithm
	}
	var lastAuth *time.Time
	if !u.LastAuthDate.IsZero() {
		lastAuth = &u.LastAuthDate
	}
	var secret *string
	if u.Secret2FA != "" {
		secret = &u.Secret2FA
	}
	var ip *string
	if u.IP != "" {
		ip = &u.IP
	}
	return []any{
		u.ID.String(),
		premiumID,
		u.LastNickname,
		u.Premium.String(),
		hash,
		salt,
		algo,
		ip,
		u.JoinDate,
		u.LastSeen,
		lastAuth,
		secret,
	}
}

// scanUser scans a single row into a User.
// Callers are responsible for handling pgx.ErrNoRows.
func scanUser(row pgx.Row) (*auth.User, error) {
	var (
		idStr      string
		premiumStr *string
		nickname   string
		status     string
		hash       *string
		salt       *string
		algo       *string
		ip         *string
		joinDate   time.Time
		lastSeen   time.Time
		lastAuth   *time.Time
		secret     *string
	)

	err := row.Scan(&idStr, &premiumStr, &nickname, &status, &hash, &salt, &algo,
		&ip, &joinDate, &lastSeen, &lastAuth, &secret)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err //nolint:wrapcheck // Callers wrap with context-specific info
		}
		return nil, oops.With("operation", "scan user").Wrap(err)
	}

	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("USER_INVALID_ID").With("id", idStr).Wrap(err)
	}
	user := &auth.User{
		ID:           id,
		LastNickname: nickname,
		Premium:      auth.ParsePremiumStatus(status),
		JoinDate:     joinDate,
		LastSeen:     lastSeen,
	}
	if premiumStr != nil {
		pid, err := uuid.Parse(*premiumStr)
		if err != nil {
			return nil, oops.Code("USER_INVALID_PREMIUM_ID").With("premium_id", *premiumStr).Wrap(err)
		}
		user.PremiumID = &pid
	}
	if hash != nil && algo != nil {
		hp := hashing.HashedPassword{Hash: *hash, Algorithm: *algo}
		if salt != nil {
			hp.Salt = *salt
		}
		user.Password = &hp
	}
	if ip != nil {
		user.IP = *ip
	}
	if lastAuth != nil {
		user.LastAuthDate = *lastAuth
	}
	if secret != nil {
		user.Secret2FA = *secret
	}
	return user, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}

var _ auth.UserRepository = (*UserRepository)(nil)
