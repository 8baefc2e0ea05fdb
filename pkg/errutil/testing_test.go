// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package errutil_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"

	"github.com/holomush/gatekeeper/pkg/errutil"
)

// recordingT captures failures instead of failing the running test.
type recordingT struct {
	testing.TB
	failures []string
}

func (r *recordingT) Helper() {}

func (r *recordingT) Errorf(format string, args ...any) {
	r.failures = append(r.failures, fmt.Sprintf(format, args...))
}

func TestAssertErrorCode(t *testing.T) {
	wrapped := oops.Code("AUTH_STORE_FAILED").With("operation", "replace offline user").
		Wrap(oops.Code("USER_REPLACE_FAILED").Errorf("disk full"))

	tests := []struct {
		name   string
		err    error
		code   string
		failed bool
	}{
		{"matching code", oops.Code("SESSION_NOT_FOUND").Errorf("no session"), "SESSION_NOT_FOUND", false},
		{"innermost code wins", wrapped, "USER_REPLACE_FAILED", false},
		{"outer code is shadowed", wrapped, "AUTH_STORE_FAILED", true},
		{"nil error", nil, "SESSION_NOT_FOUND", true},
		{"plain error", errors.New("boom"), "SESSION_NOT_FOUND", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recordingT{TB: t}
			errutil.AssertErrorCode(rec, tt.err, tt.code)
			assert.Equal(t, tt.failed, len(rec.failures) > 0, "failures: %v", rec.failures)
		})
	}
}

func TestAssertErrorContext(t *testing.T) {
	err := oops.With("operation", "startup import").
		Wrap(oops.With("user_id", "123").Errorf("test error"))

	tests := []struct {
		name   string
		key    string
		value  any
		failed bool
	}{
		{"outer key", "operation", "startup import", false},
		{"inner key", "user_id", "123", false},
		{"wrong value", "user_id", "456", true},
		{"missing key", "name", "Steve", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recordingT{TB: t}
			errutil.AssertErrorContext(rec, err, tt.key, tt.value)
			assert.Equal(t, tt.failed, len(rec.failures) > 0, "failures: %v", rec.failures)
		})
	}
}
