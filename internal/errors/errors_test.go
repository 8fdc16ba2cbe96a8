package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndexError_Unwrap_PreservesOriginalError(t *testing.T) {
	// Given: an original error
	originalErr := errors.New("segment missing")

	// When: wrapping with IndexError
	ie := EngineInit("open index", originalErr)

	// Then: unwrapping returns original error
	require.NotNil(t, ie)
	assert.Equal(t, originalErr, errors.Unwrap(ie))
	assert.True(t, errors.Is(ie, originalErr))
}

func TestIndexError_Error_ReturnsFormattedMessage(t *testing.T) {
	tests := []struct {
		name     string
		err      *IndexError
		expected string
	}{
		{
			name:     "invalid key",
			err:      InvalidKey("composite key has 3 parts, index has 2 fields"),
			expected: "[ERR_401_INVALID_KEY] composite key has 3 parts, index has 2 fields",
		},
		{
			name:     "unsupported",
			err:      Unsupported("remove by free-text key"),
			expected: "[ERR_407_UNSUPPORTED] remove by free-text key is not supported",
		},
		{
			name:     "config",
			err:      ConfigError("bad option", nil),
			expected: "[ERR_102_CONFIG_INVALID] bad option",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestIndexError_Is_MatchesSentinelThroughWrapping(t *testing.T) {
	// Given: a query syntax error wrapped by fmt
	err := fmt.Errorf("get: %w", QuerySyntax("title:(", errors.New("unexpected end of input")))

	// Then: it matches the sentinel by code only
	assert.True(t, errors.Is(err, ErrQuerySyntax))
	assert.False(t, errors.Is(err, ErrInvalidKey))
	assert.Equal(t, ErrCodeQuerySyntax, GetCode(err))
}

func TestQuerySyntax_CarriesParserText(t *testing.T) {
	err := QuerySyntax("a AND", errors.New("expected term at offset 5"))

	assert.Contains(t, err.Error(), "expected term at offset 5")
	assert.Equal(t, "a AND", err.Details["query"])
}

func TestCategoryAndSeverity_DerivedFromCode(t *testing.T) {
	tests := []struct {
		code     string
		category Category
		severity Severity
	}{
		{ErrCodeConfigInvalid, CategoryConfig, SeverityError},
		{ErrCodeCorruptIndex, CategoryStorage, SeverityFatal},
		{ErrCodeIndexLocked, CategoryStorage, SeverityWarning},
		{ErrCodeInvalidKey, CategoryValidation, SeverityError},
		{ErrCodeStaleRead, CategoryInternal, SeverityWarning},
		{"short", CategoryInternal, SeverityError},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := New(tt.code, "x", nil)
			assert.Equal(t, tt.category, err.Category)
			assert.Equal(t, tt.severity, err.Severity)
		})
	}
}

func TestStaleRead_IsRetryableWarning(t *testing.T) {
	err := StaleRead(7, 5, context.DeadlineExceeded)

	assert.True(t, IsRetryable(err))
	assert.False(t, IsFatal(err))
	assert.Contains(t, err.Message, "generation 5")
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestRetry_StopsOnNonRetryable(t *testing.T) {
	// Given: a function failing with a non-retryable error
	calls := 0
	err := Retry(context.Background(), DefaultRetryConfig(), func() error {
		calls++
		return InvalidKey("bad")
	})

	// Then: it is called once
	assert.Equal(t, 1, calls)
	assert.True(t, errors.Is(err, ErrInvalidKey))
}

func TestRetry_RetriesRetryableUntilSuccess(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 5, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2}
	calls := 0

	err := Retry(context.Background(), cfg, func() error {
		calls++
		if calls < 3 {
			return New(ErrCodeIndexLocked, "locked", nil)
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetry_ExhaustsBudget(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}

	err := Retry(context.Background(), cfg, func() error {
		return New(ErrCodeIndexLocked, "locked", nil)
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed after 2 retries")
	assert.True(t, errors.Is(err, ErrIndexLocked))
}

func TestRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Retry(ctx, DefaultRetryConfig(), func() error { return nil })

	assert.ErrorIs(t, err, context.Canceled)
}

func TestRetryFor_ScalesAttemptsToBudget(t *testing.T) {
	assert.Equal(t, 0, RetryFor(0).MaxRetries)
	assert.Greater(t, RetryFor(5*time.Second).MaxRetries, RetryFor(100*time.Millisecond).MaxRetries)
}

func TestLogAttrs_IncludesCodeAndDetails(t *testing.T) {
	err := QuerySyntax("a AND", errors.New("boom"))

	attrs := LogAttrs(err)

	got := map[string]string{}
	for _, a := range attrs {
		got[a.Key] = a.Value.String()
	}
	assert.Equal(t, ErrCodeQuerySyntax, got["error_code"])
	assert.Equal(t, "a AND", got["detail_query"])
	assert.Equal(t, "boom", got["cause"])
}

func TestLogAttrs_PlainError(t *testing.T) {
	attrs := LogAttrs(errors.New("plain"))

	require.Len(t, attrs, 1)
	assert.Equal(t, "error", attrs[0].Key)
	assert.Nil(t, LogAttrs(nil))
}

func TestFormatForCLI(t *testing.T) {
	out := FormatForCLI(EngineInit("cannot open index", nil))

	assert.Contains(t, out, "Error: cannot open index")
	assert.Contains(t, out, "Hint:")
	assert.Contains(t, out, "Code: ERR_207_ENGINE_INIT")
	assert.Contains(t, FormatForCLI(errors.New("x")), ErrCodeInternal)
	assert.Empty(t, FormatForCLI(nil))
}
