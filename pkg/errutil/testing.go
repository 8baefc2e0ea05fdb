// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package errutil

import (
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
)

// AssertErrorCode fails t unless err carries code. The code compared is the
// one oops reports, which is the innermost code on the wrap chain.
func AssertErrorCode(t testing.TB, err error, code string) {
	t.Helper()
	oopsErr, ok := asOops(t, err)
	if !ok {
		return
	}
	assert.Equal(t, code, oopsErr.Code(), "error code of %q", err.Error())
}

// AssertErrorContext fails t unless key=value is in err's context, merged
// across every wrap.
func AssertErrorContext(t testing.TB, err error, key string, value any) {
	t.Helper()
	oopsErr, ok := asOops(t, err)
	if !ok {
		return
	}
	got, present := oopsErr.Context()[key]
	if !assert.True(t, present, "context of %q has no %q", err.Error(), key) {
		return
	}
	assert.Equal(t, value, got, "context %q of %q", key, err.Error())
}

func asOops(t testing.TB, err error) (oops.OopsError, bool) {
	t.Helper()
	if !assert.Error(t, err) {
		return oops.OopsError{}, false
	}
	oopsErr, ok := oops.AsOops(err)
	assert.True(t, ok, "expected an oops error, got %T: %v", err, err)
	return oopsErr, ok
}
