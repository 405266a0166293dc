// Package errors defines the application error taxonomy shared by the engine.
package errors

import (
	stderrors "errors"
	"fmt"
	"sort"
	"strings"
)

// ErrorType represents the type of error
type ErrorType string

const (
	ErrTypeConnection ErrorType = "connection"
	ErrTypeValidation ErrorType = "validation"
	ErrTypeConfig     ErrorType = "config"
	ErrTypeAuth       ErrorType = "authentication"
	ErrTypeNotFound   ErrorType = "not_found"
	ErrTypeConflict   ErrorType = "conflict"
	ErrTypeInternal   ErrorType = "internal"
	ErrTypeTimeout    ErrorType = "timeout"
	ErrTypeRateLimit  ErrorType = "rate_limit"

	// Delivery and dispatch failure classes.
	ErrTypeMalformedFilter ErrorType = "malformed_filter"
	ErrTypeTransient       ErrorType = "transient"
	ErrTypePermanent       ErrorType = "permanent"
	ErrTypeExhausted       ErrorType = "exhausted"
	ErrTypeInfrastructure  ErrorType = "infrastructure"
)

// AppError represents a structured application error
type AppError struct {
	Type    ErrorType              `json:"type"`
	Message string                 `json:"message"`
	Code    string                 `json:"code,omitempty"`
	Cause   error                  `json:"-"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	parts := []string{string(e.Type), e.Message}

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("code=%s", e.Code))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause=%v", e.Cause))
	}

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		contextParts := make([]string, 0, len(keys))
		for _, k := range keys {
			contextParts = append(contextParts, fmt.Sprintf("%s=%v", k, e.Context[k]))
		}
		parts = append(parts, fmt.Sprintf("context={%s}", strings.Join(contextParts, ", ")))
	}

	return strings.Join(parts, ": ")
}

// Unwrap returns the underlying cause
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithCode adds an error code
func (e *AppError) WithCode(code string) *AppError {
	e.Code = code
	return e
}

func ConnectionError(msg string, cause error) *AppError {
	return &AppError{Type: ErrTypeConnection, Message: msg, Cause: cause}
}

func ValidationError(msg string) *AppError {
	return &AppError{Type: ErrTypeValidation, Message: msg}
}

func ConfigError(msg string) *AppError {
	return &AppError{Type: ErrTypeConfig, Message: msg}
}

func AuthError(msg string) *AppError {
	return &AppError{Type: ErrTypeAuth, Message: msg}
}

func NotFoundError(resource string) *AppError {
	return &AppError{Type: ErrTypeNotFound, Message: fmt.Sprintf("%s not found", resource)}
}

func ConflictError(msg string) *AppError {
	return &AppError{Type: ErrTypeConflict, Message: msg}
}

func InternalError(msg string, cause error) *AppError {
	return &AppError{Type: ErrTypeInternal, Message: msg, Cause: cause}
}

func TimeoutError(operation string) *AppError {
	return &AppError{Type: ErrTypeTimeout, Message: fmt.Sprintf("timeout during %s", operation)}
}

func RateLimitError(resource string) *AppError {
	return &AppError{Type: ErrTypeRateLimit, Message: fmt.Sprintf("rate limit exceeded for %s", resource)}
}

// MalformedFilterError reports a filter node that cannot be evaluated.
func MalformedFilterError(path, msg string) *AppError {
	return (&AppError{Type: ErrTypeMalformedFilter, Message: msg}).WithContext("path", path)
}

// TransientError marks a failure that may succeed when retried.
func TransientError(msg string, cause error) *AppError {
	return &AppError{Type: ErrTypeTransient, Message: msg, Cause: cause}
}

// PermanentError marks a failure that must not be retried.
func PermanentError(msg string, cause error) *AppError {
	return &AppError{Type: ErrTypePermanent, Message: msg, Cause: cause}
}

// ExhaustedError reports that a retry budget has been used up.
func ExhaustedError(attempts int, cause error) *AppError {
	return (&AppError{
		Type:    ErrTypeExhausted,
		Message: fmt.Sprintf("retry budget exhausted after %d attempts", attempts),
		Cause:   cause,
	}).WithContext("attempts", attempts)
}

// InfrastructureError wraps a failure of the engine's own plumbing
// (claims, ledger writes, store lookups).
func InfrastructureError(operation string, cause error) *AppError {
	return &AppError{Type: ErrTypeInfrastructure, Message: fmt.Sprintf("%s failed", operation), Cause: cause}
}

// IsType checks if any error in err's chain is an AppError of the given type
func IsType(err error, errType ErrorType) bool {
	var appErr *AppError
	if !stderrors.As(err, &appErr) {
		return false
	}
	return appErr.Type == errType
}

// GetType returns the error type if it's an AppError, otherwise returns ErrTypeInternal
func GetType(err error) ErrorType {
	if err == nil {
		return ""
	}
	var appErr *AppError
	if !stderrors.As(err, &appErr) {
		return ErrTypeInternal
	}
	return appErr.Type
}

// IsRetryable reports whether err belongs to a class that the retry
// policies should try again. Unclassified errors are treated as transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch GetType(err) {
	case ErrTypePermanent, ErrTypeExhausted, ErrTypeMalformedFilter, ErrTypeValidation, ErrTypeAuth, ErrTypeNotFound, ErrTypeConfig:
		return false
	default:
		return true
	}
}
