// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package migration imports accounts from the databases of other
// authentication plugins into the canonical user store.
//
// Each supported schema is a Type, named "<plugin>-<backend>" (for example
// "authme-mysql"). Types declare the hash formats they accept; a stored hash
// that does not match a declared format is skipped and reported, never
// guessed at.
//
// An Engine run reads the whole source before writing. Rows that cannot be
// converted are skipped and listed in the Report; a source that cannot be
// queried aborts the run with nothing written. Runs are idempotent: records
// already present in the store are reported as "already migrated".
//
// FastLogin sources only mark names as premium, so they attach premium ids
// to accounts an AuthMe import created earlier and never create accounts.
package migration
