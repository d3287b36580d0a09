package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOfUnwrapsChains(t *testing.T) {
	base := Validation("register", "apex domains are not allowed")
	wrapped := fmt.Errorf("create domain: %w", base)

	assert.Equal(t, KindValidation, KindOf(wrapped))
	assert.True(t, Is(wrapped, KindValidation))
	assert.False(t, Is(wrapped, KindConflict))
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
	assert.Equal(t, Kind(""), KindOf(nil))
}

func TestWrapNil(t *testing.T) {
	assert.NoError(t, Wrap(KindTransient, "lookup", nil, ""))
	assert.NoError(t, Transient("lookup", nil))
}

func TestErrorString(t *testing.T) {
	err := Transient("txt lookup", errors.New("i/o timeout"))
	require.Error(t, err)
	assert.Equal(t, "txt lookup: transient: i/o timeout", err.Error())

	assert.Equal(t, "find: domain not found", NotFound("find", "domain not found").Error())
}

func TestRetryable(t *testing.T) {
	assert.True(t, IsRetryable(Transient("poll", errors.New("502"))))
	assert.True(t, IsRetryable(New(KindResolverUnavailable, "edge", "dial failed")))
	assert.False(t, IsRetryable(Permanent("poll", "hostname blocked")))
	assert.False(t, IsRetryable(errors.New("plain")))
}

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{Validation("op", "bad"), http.StatusBadRequest},
		{Conflict("op", "dup"), http.StatusConflict},
		{NotFound("op", "missing"), http.StatusNotFound},
		{Permanent("op", "gave up"), http.StatusUnprocessableEntity},
		{Transient("op", errors.New("x")), http.StatusServiceUnavailable},
		{errors.New("unexpected"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, HTTPStatus(tc.err), tc.err.Error())
	}
}

func TestMessageHidesInternalErrors(t *testing.T) {
	assert.Equal(t, "Internal server error", Message(errors.New("pq: connection refused")))
	assert.Equal(t, "domain already registered", Message(Conflict("create", "domain already registered")))
	assert.Equal(t, "Service temporarily unavailable", Message(Transient("txt lookup", errors.New("i/o timeout"))))
}
