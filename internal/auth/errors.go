// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"errors"

	"github.com/holomush/gatekeeper/pkg/errutil"
)

// Store sentinels. Repositories wrap these with an oops code and context.
var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned when a create would violate uniqueness.
	ErrAlreadyExists = errors.New("already exists")
)

// Error codes surfaced to the command layer.
const (
	CodeInvalidUsername    = "AUTH_INVALID_USERNAME"
	CodePasswordTooShort   = "AUTH_PASSWORD_TOO_SHORT"
	CodeInvalidCredentials = "AUTH_INVALID_CREDENTIALS"
	CodePasswordMismatch   = "AUTH_PASSWORD_MISMATCH"
	CodeNameTaken          = "AUTH_NAME_TAKEN"
	CodeInvalidCase        = "AUTH_INVALID_CASE"
	CodeNotRegistered      = "AUTH_NOT_REGISTERED"
	CodeAlreadyPremium     = "AUTH_ALREADY_PREMIUM"
	CodeNotPremium         = "AUTH_NOT_PREMIUM"
	CodeTOTPWrong          = "TOTP_WRONG"
	CodeTOTPInvalidFormat  = "TOTP_INVALID_FORMAT"
	CodeTOTPNotEnabled     = "TOTP_NOT_ENABLED"
	CodeTOTPAlreadyEnabled = "TOTP_ALREADY_ENABLED"
	CodeTOTPDisabled       = "TOTP_DISABLED"
	CodeTOTPNoChallenge    = "TOTP_NO_CHALLENGE"

	CodeUnauthorized = "AUTH_UNAUTHORIZED"
	CodeWrongState   = "AUTH_WRONG_STATE"
	CodeKicked       = "AUTH_KICKED"

	CodeRateLimited     = "AUTH_RATE_LIMITED"
	CodeIPLimitExceeded = "AUTH_IP_LIMIT_EXCEEDED"
	CodeTOTPRateLimited = "TOTP_RATE_LIMITED"
)

// ResultKind classifies the outcome of an operation for the command layer.
type ResultKind int

// Result kinds.
const (
	ResultSuccess ResultKind = iota
	ResultInvalidArgument
	ResultUnauthorized
	ResultRateLimited
	ResultFailure
)

// String returns the kind name.
func (k ResultKind) String() string {
	switch k {
	case ResultSuccess:
		return "success"
	case ResultInvalidArgument:
		return "invalid_argument"
	case ResultUnauthorized:
		return "unauthorized"
	case ResultRateLimited:
		return "rate_limited"
	default:
		return "failure"
	}
}

// Result is what an adapter renders into user-visible text. MessageKey
// names an entry in the host's message catalog.
type Result struct {
	Kind       ResultKind
	MessageKey string
}

// MessageErrorOccurred is the catalog key for any failure whose details must
// not reach the player.
const MessageErrorOccurred = "error-occurred"

var resultByCode = map[string]Result{
	CodeInvalidUsername:    {ResultInvalidArgument, "error-forbidden-username"},
	CodePasswordTooShort:   {ResultInvalidArgument, "error-forbidden-password"},
	CodeInvalidCredentials: {ResultInvalidArgument, "error-password-wrong"},
	CodePasswordMismatch:   {ResultInvalidArgument, "error-password-wrong"},
	CodeNameTaken:          {ResultInvalidArgument, "error-already-registered"},
	CodeInvalidCase:        {ResultInvalidArgument, "kick-invalid-case-username"},
	CodeNotRegistered:      {ResultInvalidArgument, "error-not-registered"},
	CodeAlreadyPremium:     {ResultInvalidArgument, "error-already-premium"},
	CodeNotPremium:         {ResultInvalidArgument, "error-not-premium"},
	CodeTOTPWrong:          {ResultInvalidArgument, "totp-wrong"},
	CodeTOTPInvalidFormat:  {ResultInvalidArgument, "totp-wrong"},
	CodeTOTPNotEnabled:     {ResultInvalidArgument, "totp-not-enabled"},
	CodeTOTPAlreadyEnabled: {ResultInvalidArgument, "totp-already-enabled"},
	CodeTOTPDisabled:       {ResultInvalidArgument, "totp-disabled"},
	CodeTOTPNoChallenge:    {ResultInvalidArgument, "totp-not-awaiting"},

	CodeUnauthorized: {ResultUnauthorized, "error-no-permission"},
	CodeWrongState:   {ResultUnauthorized, "error-no-permission"},
	CodeKicked:       {ResultUnauthorized, "error-no-permission"},

	CodeRateLimited:     {ResultRateLimited, "kick-error-password-wrong"},
	CodeIPLimitExceeded: {ResultRateLimited, "kick-ip-limit"},
	CodeTOTPRateLimited: {ResultRateLimited, "totp-wait"},
}

// ResultOf maps err onto the command-layer result. Errors whose code is not
// a user-facing one, including unknown crypto providers and storage
// failures, become a generic failure.
func ResultOf(err error) Result {
	if err == nil {
		return Result{Kind: ResultSuccess}
	}
	if r, found := resultByCode[errutil.Code(err)]; found {
		return r
	}
	return Result{Kind: ResultFailure, MessageKey: MessageErrorOccurred}
}

// IsUserError reports whether err is an expected, player-correctable outcome
// rather than a fault worth logging.
func IsUserError(err error) bool {
	k := ResultOf(err).Kind
	return k == ResultInvalidArgument || k == ResultUnauthorized || k == ResultRateLimited
}
