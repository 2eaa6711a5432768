package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ValidationError reports a malformed or out-of-range input value.
// It is always surfaced to the caller and never retried.
type ValidationError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

// NewValidationError creates a validation error for a single field.
func NewValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// IsValidationError reports whether err is (or wraps) a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ConfigurationError reports a BankPolicy that violates its invariants.
// It blocks policy activation; in-flight scoring falls back to the
// default policy instead of failing.
type ConfigurationError struct {
	BankCode   string            `json:"bankCode"`
	Violations []ValidationError `json:"violations"`
}

func (e *ConfigurationError) Error() string {
	reasons := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		reasons[i] = v.Field + ": " + v.Reason
	}
	return fmt.Sprintf("invalid bank policy %q: %s", e.BankCode, strings.Join(reasons, "; "))
}

// ComputationError wraps an unexpected internal fault with context.
// Callers log it and surface a generic failure without internal detail.
type ComputationError struct {
	Op  string
	Err error
}

func (e *ComputationError) Error() string {
	return fmt.Sprintf("computation failed in %s: %v", e.Op, e.Err)
}

func (e *ComputationError) Unwrap() error {
	return e.Err
}
