// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package errutil

import (
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RequireOops fails the test unless err carries an oops error and returns it.
func RequireOops(t testing.TB, err error) oops.OopsError {
	t.Helper()
	require.Error(t, err)
	oopsErr, ok := oops.AsOops(err)
	require.True(t, ok, "expected oops error, got %T: %v", err, err)
	return oopsErr
}

// AssertErrorCode asserts the oops code of err, such as ADAPTER_START_FAILED.
func AssertErrorCode(t testing.TB, err error, code string) {
	t.Helper()
	assert.Equal(t, code, RequireOops(t, err).Code(), "error code of %v", err)
}

// AssertErrorDomain asserts the oops domain err was raised in.
func AssertErrorDomain(t testing.TB, err error, domain string) {
	t.Helper()
	assert.Equal(t, domain, RequireOops(t, err).Domain(), "error domain of %v", err)
}

// AssertErrorContext asserts one attribute attached with oops.With.
func AssertErrorContext(t testing.TB, err error, key string, value any) {
	t.Helper()
	attrs := RequireOops(t, err).Context()
	if assert.Contains(t, attrs, key) {
		assert.Equal(t, value, attrs[key])
	}
}
