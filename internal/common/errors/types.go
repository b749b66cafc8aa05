package errors

import (
	goerrors "errors"
	"fmt"
	"strings"
)

// ErrorType represents the type of error
type ErrorType string

const (
	// ErrTypeStoreUnavailable represents transient remote-store failures (retryable)
	ErrTypeStoreUnavailable ErrorType = "store_unavailable"
	// ErrTypeCircuitOpen represents fail-fast rejections while the breaker is open
	ErrTypeCircuitOpen ErrorType = "circuit_open"
	// ErrTypeNotFound represents resource not found results
	ErrTypeNotFound ErrorType = "not_found"
	// ErrTypeVariableMissing represents renders with unbound required variables
	ErrTypeVariableMissing ErrorType = "variable_missing"
	// ErrTypeRenderTimeout represents renders abandoned before starting
	ErrTypeRenderTimeout ErrorType = "render_timeout"
	// ErrTypeRender represents unexpected rendering failures
	ErrTypeRender ErrorType = "render_error"
	// ErrTypeValidation represents caller contract violations
	ErrTypeValidation ErrorType = "validation"
	// ErrTypeConfig represents configuration errors
	ErrTypeConfig ErrorType = "config"
	// ErrTypeInternal represents internal system errors
	ErrTypeInternal ErrorType = "internal"
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
		contextParts := make([]string, 0, len(e.Context))
		for k, v := range e.Context {
			contextParts = append(contextParts, fmt.Sprintf("%s=%v", k, v))
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

// StoreUnavailableError creates a new transient store error
func StoreUnavailableError(msg string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeStoreUnavailable,
		Message: msg,
		Cause:   cause,
	}
}

// CircuitOpenError creates a new circuit-open error
func CircuitOpenError(name string) *AppError {
	return &AppError{
		Type:    ErrTypeCircuitOpen,
		Message: fmt.Sprintf("circuit breaker '%s' is open", name),
	}
}

// NotFoundError creates a new not found error
func NotFoundError(resource string) *AppError {
	return &AppError{
		Type:    ErrTypeNotFound,
		Message: fmt.Sprintf("%s not found", resource),
	}
}

// VariableMissingError creates a new missing-variable error
func VariableMissingError(names []string) *AppError {
	return &AppError{
		Type:    ErrTypeVariableMissing,
		Message: fmt.Sprintf("missing variables: %s", strings.Join(names, ", ")),
		Context: map[string]interface{}{"variables_missing": names},
	}
}

// RenderTimeoutError creates a new render timeout error
func RenderTimeoutError(msg string) *AppError {
	return &AppError{
		Type:    ErrTypeRenderTimeout,
		Message: msg,
	}
}

// RenderError creates a new rendering error wrapping the underlying cause
func RenderError(msg string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeRender,
		Message: msg,
		Cause:   cause,
	}
}

// ValidationError creates a new validation error
func ValidationError(msg string) *AppError {
	return &AppError{
		Type:    ErrTypeValidation,
		Message: msg,
	}
}

// ConfigError creates a new configuration error
func ConfigError(msg string) *AppError {
	return &AppError{
		Type:    ErrTypeConfig,
		Message: msg,
	}
}

// InternalError creates a new internal error
func InternalError(msg string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeInternal,
		Message: msg,
		Cause:   cause,
	}
}

// IsType checks if an error (or any error it wraps) is of a specific type
func IsType(err error, errType ErrorType) bool {
	if err == nil {
		return false
	}

	var appErr *AppError
	if !goerrors.As(err, &appErr) {
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
	if !goerrors.As(err, &appErr) {
		return ErrTypeInternal
	}

	return appErr.Type
}

// AsAppError extracts an AppError from an error chain
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if goerrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}
