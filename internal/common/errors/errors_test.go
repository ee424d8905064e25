package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError(t *testing.T) {
	t.Run("message includes type and cause", func(t *testing.T) {
		cause := fmt.Errorf("dial tcp: connection refused")
		err := ConnectionError("redis unreachable", cause)

		assert.Contains(t, err.Error(), "connection")
		assert.Contains(t, err.Error(), "redis unreachable")
		assert.Contains(t, err.Error(), "connection refused")
	})

	t.Run("unwrap exposes the cause", func(t *testing.T) {
		cause := fmt.Errorf("boom")
		err := InternalError("wrapper", cause)

		assert.True(t, stderrors.Is(err, cause))
	})

	t.Run("context is appended to the message", func(t *testing.T) {
		err := ValidationError("bad policy").WithContext("role", "doctor")

		assert.Contains(t, err.Error(), "role=doctor")
	})
}

func TestTypeChecks(t *testing.T) {
	t.Run("is type matches the constructor", func(t *testing.T) {
		assert.True(t, IsType(ConnectionError("x", nil), ErrTypeConnection))
		assert.True(t, IsType(SerializationError("x", nil), ErrTypeSerialization))
		assert.False(t, IsType(ConfigError("x"), ErrTypeConnection))
		assert.False(t, IsType(nil, ErrTypeConnection))
		assert.False(t, IsType(fmt.Errorf("plain"), ErrTypeInternal))
	})

	t.Run("get type classifies foreign errors as internal", func(t *testing.T) {
		assert.Equal(t, ErrTypeTimeout, GetType(TimeoutError("scan")))
		assert.Equal(t, ErrTypeInternal, GetType(fmt.Errorf("plain")))
		assert.Equal(t, ErrorType(""), GetType(nil))
	})

	t.Run("rate limit error names the resource", func(t *testing.T) {
		err := RateLimitError("role:doctor:u-1")
		require.Equal(t, ErrTypeRateLimit, GetType(err))
		assert.Contains(t, err.Error(), "role:doctor:u-1")
	})
}
