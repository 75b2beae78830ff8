package errors

import (
	"fmt"
)

// IndexError is the structured error type for ragdex.
// It provides rich context for error handling, logging, and API responses.
type IndexError struct {
	// Code is the unique error code (e.g., "ERR_401_INVALID_INPUT").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, Persistence, etc.).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool
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
// This enables errors.Is() to work with IndexError.
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

// Validation creates a caller-input validation error.
func Validation(message string) *IndexError {
	return New(ErrCodeInvalidInput, message, nil)
}

// MissingDeleteTarget reports a delete request with neither id nor source.
func MissingDeleteTarget() *IndexError {
	return New(ErrCodeMissingDeleteTarget, "provide id or source", nil)
}

// EmbedderUnavailable reports that no embedding variant could be constructed.
func EmbedderUnavailable(message string, cause error) *IndexError {
	return New(ErrCodeEmbedderUnavailable, message, cause)
}

// BackendUnavailable reports that no search backend could be constructed.
// Fatal at startup.
func BackendUnavailable(message string, cause error) *IndexError {
	return New(ErrCodeBackendUnavailable, message, cause)
}

// Rebuild reports a failed delete-triggered rebuild. The prior persisted
// state remains authoritative because nothing has been rewritten yet.
func Rebuild(message string, cause error) *IndexError {
	return New(ErrCodeRebuildFailed, message, cause)
}

// CorruptArtifact reports an unreadable persisted artifact.
// Callers treat this as a cold start, not a fatal condition.
func CorruptArtifact(artifact string, cause error) *IndexError {
	return Wrap(ErrCodeCorruptArtifact, cause).WithDetail("artifact", artifact)
}

// IsValidation checks if an error is a caller input validation error.
func IsValidation(err error) bool {
	return GetCategory(err) == CategoryValidation
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if ie, ok := err.(*IndexError); ok {
		return ie.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
func IsFatal(err error) bool {
	if ie, ok := err.(*IndexError); ok {
		return ie.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from an IndexError.
// Returns empty string if not an IndexError.
func GetCode(err error) string {
	if ie, ok := err.(*IndexError); ok {
		return ie.Code
	}
	return ""
}

// GetCategory extracts the category from an IndexError.
// Returns empty string if not an IndexError.
func GetCategory(err error) Category {
	if ie, ok := err.(*IndexError); ok {
		return ie.Category
	}
	return ""
}
