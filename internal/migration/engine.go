// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package migration

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/gatekeeper/internal/auth"
	"github.com/holomush/gatekeeper/internal/hashing"
	"github.com/holomush/gatekeeper/pkg/errutil"
)

// Engine imports legacy accounts into the canonical user store.
type Engine struct {
	users   auth.UserRepository
	hashing *hashing.Registry
	creator auth.UUIDCreator
	logger  *slog.Logger
	now     func() time.Time
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the engine's logger.
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// WithUUIDCreator selects how ids are derived for sources without one.
func WithUUIDCreator(c auth.UUIDCreator) EngineOption {
	return func(e *Engine) { e.creator = c }
}

// NewEngine creates an Engine writing to users. Hashes whose algorithm is
// not in registry are skipped rather than imported.
func NewEngine(users auth.UserRepository, registry *hashing.Registry, opts ...EngineOption) (*Engine, error) {
	if users == nil || registry == nil {
		return nil, oops.Code("MIGRATION_INVALID_CONFIG").Errorf("user repository and hashing registry are required")
	}
	e := &Engine{
		users:   users,
		hashing: registry,
		creator: auth.UUIDCracked,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if !e.creator.Valid() {
		return nil, oops.Code("MIGRATION_INVALID_CONFIG").
			With("uuid_creator", string(e.creator)).
			Errorf("unknown uuid creator %q", e.creator)
	}
	return e, nil
}

// Run reads every row of src, then writes the convertible ones. A failure to
// read the source aborts before anything is written. Once writing starts the
// run ignores cancellation of ctx; an interrupted run is safe to repeat.
// The report is returned even when err is non-nil.
func (e *Engine) Run(ctx context.Context, src *Source) (*Report, error) {
	report := &Report{
		RunID:     ulid.Make().String(),
		Type:      src.Type.ID,
		Table:     src.Table,
		StartedAt: e.now(),
	}
	logger := e.logger.With("run_id", report.RunID, "type", src.Type.ID)
	if src.Type.Requires != "" {
		logger.InfoContext(ctx, "migration expects a prior import", "requires", src.Type.Requires)
	}

	records, err := e.read(ctx, src, report)
	if err != nil {
		return e.finish(ctx, logger, report, err)
	}

	writeCtx := context.WithoutCancel(ctx)
	for _, rec := range records {
		if src.Type.UpdateOnly {
			err = e.attach(writeCtx, rec, report)
		} else {
			err = e.create(writeCtx, rec, report)
		}
		if err != nil {
			return e.finish(ctx, logger, report, err)
		}
	}
	return e.finish(ctx, logger, report, nil)
}

func (e *Engine) finish(ctx context.Context, logger *slog.Logger, report *Report, err error) (*Report, error) {
	report.FinishedAt = e.now()
	if err != nil {
		report.Aborted = err.Error()
		errutil.LogErrorContext(ctx, logger, slog.LevelError, "migration aborted", err)
	}
	recordReport(report)
	logger.InfoContext(ctx, "migration finished",
		"read", report.Read,
		"migrated", report.Migrated,
		"skipped", len(report.Skipped),
		"conflicts", len(report.Conflicts))
	return report, err
}

// read loads and converts the whole source. Rows that fail conversion are
// recorded as skipped; query and cursor failures are fatal.
func (e *Engine) read(ctx context.Context, src *Source, report *Report) ([]Record, error) {
	table, err := src.Type.Dialect.quoteTable(src.Table)
	if err != nil {
		return nil, err
	}

	rows, err := src.DB.QueryContext(ctx, "SELECT * FROM "+table) //nolint:gosec // identifier is validated and quoted
	if err != nil {
		return nil, oops.Code("MIGRATION_SOURCE_FAILED").
			With("operation", "query source").
			With("table", src.Table).
			Wrap(err)
	}
	defer rows.Close() //nolint:errcheck // read errors surface through rows.Err

	cols, err := rows.Columns()
	if err != nil {
		return nil, oops.Code("MIGRATION_SOURCE_FAILED").With("operation", "read columns").Wrap(err)
	}

	var records []Record
	for rows.Next() {
		report.Read++
		r, err := scanRow(rows, cols)
		if err != nil {
			report.skip("", &SkipError{Reason: ReasonMalformedRow, Detail: err.Error()})
			continue
		}
		rec, err := src.Type.convert(r)
		if err != nil {
			e.logger.DebugContext(ctx, "skipping source row", "name", rec.Name, "error", err)
			report.skip(rec.Name, err)
			continue
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("MIGRATION_SOURCE_FAILED").
			With("operation", "iterate source").
			With("rows_read", report.Read).
			Wrap(err)
	}
	return records, nil
}

// create imports rec as a new account. A record is matched to a previous
// import by its source id, or by name when the source carries no id.
func (e *Engine) create(ctx context.Context, rec Record, report *Report) error {
	if err := e.validate(rec); err != nil {
		report.skip(rec.Name, err)
		return nil
	}

	id := rec.ID
	if id == uuid.Nil {
		id = e.creator.NewID(rec.Name, rec.PremiumID)
	}

	prior, err := e.byID(ctx, id)
	if err != nil {
		return err
	}
	if prior != nil {
		report.skip(rec.Name, &SkipError{Reason: ReasonAlreadyMigrated})
		return nil
	}

	named, err := e.byName(ctx, rec.Name)
	if err != nil {
		return err
	}
	if named != nil {
		if rec.ID == uuid.Nil {
			report.skip(rec.Name, &SkipError{Reason: ReasonAlreadyMigrated})
		} else {
			e.conflict(ctx, report, rec.Name, ReasonNameTaken, named.ID.String())
		}
		return nil
	}

	if rec.PremiumID != nil {
		bound, err := e.byPremiumID(ctx, *rec.PremiumID)
		if err != nil {
			return err
		}
		if bound != nil {
			e.conflict(ctx, report, rec.Name, ReasonPremiumIDTaken, bound.LastNickname)
			return nil
		}
	}

	user := e.userFor(id, rec)
	if err := e.users.Create(ctx, user); err != nil {
		if errors.Is(err, auth.ErrAlreadyExists) {
			e.conflict(ctx, report, rec.Name, ReasonNameTaken, err.Error())
			return nil
		}
		return oops.Code("MIGRATION_TARGET_FAILED").With("operation", "create user").With("name", rec.Name).Wrap(err)
	}
	report.Migrated++
	return nil
}

// attach binds a premium id from an update-only source to the existing
// account of the same name.
func (e *Engine) attach(ctx context.Context, rec Record, report *Report) error {
	if !rec.Premium || rec.PremiumID == nil {
		report.skip(rec.Name, &SkipError{Reason: ReasonNotPremium})
		return nil
	}
	user, err := e.byName(ctx, rec.Name)
	if err != nil {
		return err
	}
	if user == nil {
		report.skip(rec.Name, &SkipError{Reason: ReasonNoAccount})
		return nil
	}
	if user.PremiumID != nil && *user.PremiumID == *rec.PremiumID {
		report.skip(rec.Name, &SkipError{Reason: ReasonAlreadyMigrated})
		return nil
	}
	bound, err := e.byPremiumID(ctx, *rec.PremiumID)
	if err != nil {
		return err
	}
	if bound != nil {
		e.conflict(ctx, report, rec.Name, ReasonPremiumIDTaken, bound.LastNickname)
		return nil
	}

	pid := *rec.PremiumID
	user.PremiumID = &pid
	user.Premium = auth.PremiumVerified
	if err := e.users.Update(ctx, user); err != nil {
		if errors.Is(err, auth.ErrAlreadyExists) {
			e.conflict(ctx, report, rec.Name, ReasonPremiumIDTaken, err.Error())
			return nil
		}
		return oops.Code("MIGRATION_TARGET_FAILED").With("operation", "update user").With("name", rec.Name).Wrap(err)
	}
	report.Migrated++
	return nil
}

func (e *Engine) validate(rec Record) error {
	if err := auth.ValidateUsername(rec.Name, 0); err != nil {
		return &SkipError{Reason: ReasonInvalidName, Detail: err.Error()}
	}
	if rec.Password != nil {
		if _, err := e.hashing.Lookup(rec.Password.Algorithm); err != nil {
			return &SkipError{Reason: ReasonUnsupportedHash, Detail: "algorithm " + rec.Password.Algorithm}
		}
	}
	return nil
}

func (e *Engine) userFor(id uuid.UUID, rec Record) *auth.User {
	join := rec.JoinDate
	if join.IsZero() {
		join = e.now()
	}
	seen := rec.LastSeen
	if seen.Before(join) {
		seen = join
	}
	user := &auth.User{
		ID:           id,
		LastNickname: rec.Name,
		Premium:      auth.PremiumCracked,
		Password:     rec.Password,
		IP:           rec.IP,
		JoinDate:     join,
		LastSeen:     seen,
		LastAuthDate: rec.LastAuthDate,
		Secret2FA:    strings.ToUpper(rec.Secret2FA),
	}
	if rec.PremiumID != nil {
		pid := *rec.PremiumID
		user.PremiumID = &pid
		user.Premium = auth.PremiumVerified
	}
	return user
}

func (e *Engine) conflict(ctx context.Context, report *Report, name, reason, detail string) {
	e.logger.WarnContext(ctx, "migration conflict", "name", name, "reason", reason, "detail", detail)
	report.conflict(name, &SkipError{Reason: reason, Detail: detail})
}

func (e *Engine) byID(ctx context.Context, id uuid.UUID) (*auth.User, error) {
	return found(e.users.GetByID(ctx, id))
}

func (e *Engine) byName(ctx context.Context, name string) (*auth.User, error) {
	return found(e.users.GetByName(ctx, name))
}

func (e *Engine) byPremiumID(ctx context.Context, id uuid.UUID) (*auth.User, error) {
	return found(e.users.GetByPremiumID(ctx, id))
}

// found maps ErrNotFound to (nil, nil) and any other failure to a fatal
// target error.
func found(u *auth.User, err error) (*auth.User, error) {
	if errors.Is(err, auth.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, oops.Code("MIGRATION_TARGET_FAILED").With("operation", "lookup user").Wrap(err)
	}
	return u, nil
}

func asSkip(err error) (*SkipError, bool) {
	var se *SkipError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}
