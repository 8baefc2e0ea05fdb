// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package auth authenticates principals connecting through a host.
//
// # Flow
//
// The host calls Authenticator.Connect for every new connection and gets a
// Flow back. The flow starts in one of AWAITING_PASSWORD,
// AWAITING_REGISTRATION or AUTHENTICATED (premium auto-login or a resumed
// session), or is kicked outright. Login, Register and SubmitTOTP move it
// forward. Every kick is reported to the host's Kicker with a message key.
//
// # Domain Types
//
// User and Session should be created using NewUser and NewSession.
// Direct struct initialization bypasses validation.
//
// # Errors
//
// Operations return oops errors. ResultOf maps an error onto the result
// kind and message key the command layer renders; anything that is not a
// player-correctable outcome maps to the generic MessageErrorOccurred.
package auth
