// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package migration

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/oops"

	"github.com/holomush/gatekeeper/internal/hashing"
)

// Record is one legacy account normalized to the canonical shape.
type Record struct {
	// ID is the account id carried by the source, or uuid.Nil when the
	// source has none and one must be derived.
	ID        uuid.UUID
	PremiumID *uuid.UUID
	// Premium reports that the source marked the account as premium.
	Premium      bool
	Name         string
	Password     *hashing.HashedPassword
	IP           string
	JoinDate     time.Time
	LastSeen     time.Time
	LastAuthDate time.Time
	Secret2FA    string
}

// Skip reasons recorded in reports.
const (
	ReasonAlreadyMigrated = "already migrated"
	ReasonMalformedRow    = "malformed row"
	ReasonUnsupportedHash = "unsupported hash format"
	ReasonInvalidName     = "invalid name"
	ReasonNoAccount       = "no existing account"
	ReasonNotPremium      = "not premium"
	ReasonNameTaken       = "name taken by another account"
	ReasonPremiumIDTaken  = "premium id bound to another account"
)

// SkipError marks a source row that cannot be migrated. Reason is one of
// the Reason constants.
type SkipError struct {
	Reason string
	Detail string
}

func (e *SkipError) Error() string {
	if e.Detail == "" {
		return e.Reason
	}
	return e.Reason + ": " + e.Detail
}

func skip(reason, format string, args ...any) error {
	return &SkipError{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// row is one scanned source row keyed by lower-cased column name.
type row map[string]any

func scanRow(rows *sql.Rows, cols []string) (row, error) {
	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, oops.Code("MIGRATION_SCAN_FAILED").Wrap(err)
	}
	r := make(row, len(cols))
	for i, c := range cols {
		r[strings.ToLower(c)] = values[i]
	}
	return r, nil
}

// str returns the column as trimmed text. NULL and missing columns are "".
func (r row) str(col string) string {
	switch v := r[col].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case []byte:
		return strings.TrimSpace(string(v))
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case time.Time:
		return v.UTC().Format(time.RFC3339Nano)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// bool accepts native booleans, non-zero integers and the usual truthy text.
func (r row) bool(col string) bool {
	switch v := r[col].(type) {
	case bool:
		return v
	case int64:
		return v != 0
	case float64:
		return v != 0
	}
	switch strings.ToLower(r.str(col)) {
	case "1", "t", "true", "y", "yes":
		return true
	}
	return false
}

// Epoch values at or above this are milliseconds; below, seconds.
const millisThreshold = 100_000_000_000

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// time reads epoch seconds, epoch milliseconds, driver timestamps, or text
// timestamps. Zero and unparseable values yield the zero time.
func (r row) time(col string) time.Time {
	switch v := r[col].(type) {
	case nil:
		return time.Time{}
	case time.Time:
		return v.UTC()
	case int64:
		return epoch(v)
	case float64:
		return epoch(int64(v))
	}
	s := r.str(col)
	if s == "" {
		return time.Time{}
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return epoch(n)
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func epoch(n int64) time.Time {
	switch {
	case n <= 0:
		return time.Time{}
	case n >= millisThreshold:
		return time.UnixMilli(n).UTC()
	default:
		return time.Unix(n, 0).UTC()
	}
}

// uuid parses the column as a UUID in dashed or compact form. Empty yields
// nil; anything else unparseable is a malformed row.
func (r row) uuid(col string) (*uuid.UUID, error) {
	s := r.str(col)
	if s == "" {
		return nil, nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return nil, skip(ReasonMalformedRow, "column %s: %v", col, err)
	}
	if id == uuid.Nil {
		return nil, nil
	}
	return &id, nil
}

// firstTime returns the first non-zero time among cols.
func (r row) firstTime(cols ...string) time.Time {
	for _, c := range cols {
		if t := r.time(c); !t.IsZero() {
			return t
		}
	}
	return time.Time{}
}

// firstStr returns the first non-empty column among cols.
func (r row) firstStr(cols ...string) string {
	for _, c := range cols {
		if s := r.str(c); s != "" {
			return s
		}
	}
	return ""
}
