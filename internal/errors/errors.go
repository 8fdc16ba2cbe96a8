package errors

import (
	stderrors "errors"
	"fmt"
)

// IndexError is the structured error type for the index engine.
// It provides rich context for error handling, logging, and user presentation.
type IndexError struct {
	// Code is the unique error code (e.g., "ERR_401_INVALID_KEY").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, Storage, Validation, Internal).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool

	// Suggestion is an actionable suggestion for the user.
	Suggestion string
}

// Error implements the error interface.
func (e *IndexError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *IndexError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
// This enables errors.Is() to work with IndexError sentinels.
func (e *IndexError) Is(target error) bool {
	if t, ok := target.(*IndexError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *IndexError) WithDetail(key, value string) *IndexError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
func (e *IndexError) WithSuggestion(suggestion string) *IndexError {
	e.Suggestion = suggestion
	return e
}

// New creates a new IndexError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *IndexError {
	return &IndexError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates an IndexError from an existing error.
// The error's message becomes the IndexError message.
func Wrap(code string, err error) *IndexError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// Sentinels for errors.Is matching. Matching is by code only.
var (
	ErrInvalidKey   = &IndexError{Code: ErrCodeInvalidKey}
	ErrQuerySyntax  = &IndexError{Code: ErrCodeQuerySyntax}
	ErrInvalidConf  = &IndexError{Code: ErrCodeConfigInvalid}
	ErrUnsupported  = &IndexError{Code: ErrCodeUnsupported}
	ErrEngineInit   = &IndexError{Code: ErrCodeEngineInit}
	ErrEngineState  = &IndexError{Code: ErrCodeEngineState}
	ErrStaleRead    = &IndexError{Code: ErrCodeStaleRead}
	ErrIndexLocked  = &IndexError{Code: ErrCodeIndexLocked}
	ErrCorruptIndex = &IndexError{Code: ErrCodeCorruptIndex}
	ErrIndexMissing = &IndexError{Code: ErrCodeIndexNotFound}
)

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *IndexError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// InvalidKey reports a key whose shape does not fit the index definition.
func InvalidKey(message string) *IndexError {
	return New(ErrCodeInvalidKey, message, nil)
}

// QuerySyntax reports a free-text query the parser rejected.
// The parser's own message is kept as the cause.
func QuerySyntax(query string, cause error) *IndexError {
	msg := "invalid query syntax"
	if cause != nil {
		msg = "invalid query syntax: " + cause.Error()
	}
	return New(ErrCodeQuerySyntax, msg, cause).WithDetail("query", query)
}

// Unsupported reports an operation that is not available for this key shape or index type.
func Unsupported(operation string) *IndexError {
	return New(ErrCodeUnsupported, operation+" is not supported", nil)
}

// EngineInit reports a failure to create or open the segment store.
func EngineInit(message string, cause error) *IndexError {
	return New(ErrCodeEngineInit, message, cause).
		WithSuggestion("Check the index directory permissions, or rebuild the index")
}

// EngineState reports a lifecycle misuse such as use after close.
func EngineState(message string) *IndexError {
	return New(ErrCodeEngineState, message, nil)
}

// StaleRead is the warning attached to a searcher that may not reflect
// every write up to the requested generation.
func StaleRead(requested, published int64, cause error) *IndexError {
	return New(ErrCodeStaleRead,
		fmt.Sprintf("searcher at generation %d does not cover requested generation %d", published, requested),
		cause)
}

// ValidationError creates a validation-related error.
func ValidationError(message string, cause error) *IndexError {
	return New(ErrCodeInvalidInput, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *IndexError {
	return New(ErrCodeInternal, message, cause)
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if ie, ok := As(err); ok {
		return ie.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
func IsFatal(err error) bool {
	if ie, ok := As(err); ok {
		return ie.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from an IndexError anywhere in the chain.
// Returns empty string if there is none.
func GetCode(err error) string {
	if ie, ok := As(err); ok {
		return ie.Code
	}
	return ""
}

// As finds the first IndexError in err's chain.
func As(err error) (*IndexError, bool) {
	var ie *IndexError
	if stderrors.As(err, &ie) {
		return ie, true
	}
	return nil, false
}
