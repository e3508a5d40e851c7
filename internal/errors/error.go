package errors

import (
	stderrors "errors"
	"fmt"
)

// Category represents the type of error.
type Category string

const (
	CategoryConfig   Category = "config"
	CategoryStartup  Category = "startup"
	CategoryProtocol Category = "protocol"
)

// LightningError is a structured error with a code, a hint, and an
// optional wrapped cause.
type LightningError struct {
	// Code is a unique error identifier (e.g., "L101").
	Code string

	// Category is the error type (config, startup, etc.).
	Category Category

	// Message is a short description of the error.
	Message string

	// Detail is a longer explanation of the error.
	Detail string

	// Suggestion is a hint on how to fix the error.
	Suggestion string

	// Wrapped is the underlying error, if any.
	Wrapped error
}

// Error implements the error interface.
func (e *LightningError) Error() string {
	msg := e.Message
	if e.Code != "" {
		msg = fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	if e.Wrapped != nil {
		msg += ": " + e.Wrapped.Error()
	}
	return msg
}

// Unwrap returns the wrapped error for errors.Is/As support.
func (e *LightningError) Unwrap() error {
	return e.Wrapped
}

// WithDetail adds a detailed explanation to the error.
func (e *LightningError) WithDetail(d string) *LightningError {
	e.Detail = d
	return e
}

// Wrap wraps another error.
func (e *LightningError) Wrap(err error) *LightningError {
	e.Wrapped = err
	return e
}

// New creates a LightningError from a registered error code.
func New(code string) *LightningError {
	template, ok := registry[code]
	if !ok {
		return &LightningError{
			Code:    code,
			Message: "Unknown error",
		}
	}
	return &LightningError{
		Code:       code,
		Category:   template.Category,
		Message:    template.Message,
		Suggestion: template.Suggestion,
	}
}

// HasCode reports whether err (or anything it wraps) is a LightningError
// with the given code.
func HasCode(err error, code string) bool {
	var le *LightningError
	if !stderrors.As(err, &le) {
		return false
	}
	return le.Code == code
}
