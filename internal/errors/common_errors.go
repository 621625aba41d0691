package errors

import (
	"errors"
	"fmt"
)

// ErrorType represents the type of error
type ErrorType string

const (
	ErrTypeConfiguration  ErrorType = "CONFIGURATION"
	ErrTypeDataValidation ErrorType = "DATA_VALIDATION"
	ErrTypeCredibility    ErrorType = "CREDIBILITY_INPUT"
	ErrTypeNumeric        ErrorType = "NUMERIC_EVALUATION"
	ErrTypeParsing        ErrorType = "PARSING"
	ErrTypeNotFound       ErrorType = "NOT_FOUND"
)

// AppError represents an application-specific error
type AppError struct {
	Type    ErrorType
	Message string
	Cause   error
	Context map[string]interface{}
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap allows errors.Is and errors.As to work with AppError
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

// NewAppError creates a new application error
func NewAppError(errType ErrorType, message string, cause error) *AppError {
	return &AppError{
		Type:    errType,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

// Helper functions for common error types

// NewConfigurationError reports contradictory or out-of-range settings.
func NewConfigurationError(message string) *AppError {
	return NewAppError(ErrTypeConfiguration, message, nil)
}

// NewDataValidationError reports missing values, unmapped levels or a zero baseline.
func NewDataValidationError(message string) *AppError {
	return NewAppError(ErrTypeDataValidation, message, nil)
}

// NewCredibilityInputError reports an absent or malformed exposure column.
func NewCredibilityInputError(message string, cause error) *AppError {
	return NewAppError(ErrTypeCredibility, message, cause)
}

// NewNumericEvaluationError reports a domain-invalid floating point result during scoring.
func NewNumericEvaluationError(message string, cause error) *AppError {
	return NewAppError(ErrTypeNumeric, message, cause)
}

// NewParsingError creates a parsing-related error
func NewParsingError(message string, cause error) *AppError {
	return NewAppError(ErrTypeParsing, message, cause)
}

// NewNotFoundError creates a not found error
func NewNotFoundError(resource string) *AppError {
	return NewAppError(ErrTypeNotFound, fmt.Sprintf("%s not found", resource), nil)
}

// TypeOf returns the ErrorType of the first AppError in err's chain.
func TypeOf(err error) (ErrorType, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type, true
	}
	return "", false
}

// IsType reports whether err's chain holds an AppError of the given type.
func IsType(err error, errType ErrorType) bool {
	t, ok := TypeOf(err)
	return ok && t == errType
}
