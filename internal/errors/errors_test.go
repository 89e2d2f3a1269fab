package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapPreservesCause(t *testing.T) {
	cause := stderrors.New("connection refused")
	err := Wrap(cause, CodeKafkaConnection, "cannot reach broker")

	require.NotNil(t, err)
	assert.Equal(t, CodeKafkaConnection, err.Code)
	assert.True(t, stderrors.Is(err, cause))
	assert.Contains(t, err.Error(), "connection refused")
}

func TestWrapNilCause(t *testing.T) {
	assert.Nil(t, Wrap(nil, CodeInternal, "nothing happened"))
}

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Code
	}{
		{"typed error", New(CodeTopicNotFound, "missing"), CodeTopicNotFound},
		{"wrapped typed error", fmt.Errorf("outer: %w", New(CodeValidation, "bad")), CodeValidation},
		{"plain error", stderrors.New("boom"), CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CodeOf(tt.err))
		})
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		code Code
		want bool
	}{
		{CodeValidation, false},
		{CodeAuthenticationFailed, false},
		{CodeAuthorizationFailed, false},
		{CodeTopicAlreadyExists, false},
		{CodeInstanceAlreadyExists, false},
		{CodeTopicNotFound, false},
		{CodeInstanceNotFound, false},
		{CodeKafkaConnection, true},
		{CodeKafkaTimeout, true},
		{CodeStorageOperationFailed, true},
		{CodeInternal, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(New(tt.code, "x")))
		})
	}
}

func TestIsRetryableNilAndPlain(t *testing.T) {
	assert.False(t, IsRetryable(nil))
	// Unclassified failures are assumed transient.
	assert.True(t, IsRetryable(stderrors.New("unknown")))
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(CodeValidation))
	assert.Equal(t, http.StatusConflict, HTTPStatus(CodeInstanceAlreadyExists))
	assert.Equal(t, http.StatusGone, HTTPStatus(CodeInstanceNotFound))
	assert.Equal(t, http.StatusTooManyRequests, HTTPStatus(CodeRateLimitExceeded))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(Code("NO_SUCH_CODE")))
}

func TestMask(t *testing.T) {
	details := map[string]interface{}{
		"host":          "db.local",
		"password":      "hunter2",
		"api_key":       "abc",
		"client_secret": "xyz",
		"nested": map[string]interface{}{
			"sasl_password": "pw",
			"port":          9092,
		},
	}

	masked := Mask(details)

	assert.Equal(t, "db.local", masked["host"])
	assert.Equal(t, "***MASKED***", masked["password"])
	assert.Equal(t, "***MASKED***", masked["api_key"])
	assert.Equal(t, "***MASKED***", masked["client_secret"])
	nested := masked["nested"].(map[string]interface{})
	assert.Equal(t, "***MASKED***", nested["sasl_password"])
	assert.Equal(t, 9092, nested["port"])

	// Original details are untouched.
	assert.Equal(t, "hunter2", details["password"])
}

func TestWithDetail(t *testing.T) {
	err := New(CodeInternal, "open circuit").WithDetail("circuit_state", "open")
	assert.Equal(t, "open", err.Details["circuit_state"])
}
