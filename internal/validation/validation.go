// Package validation collects field-level input failures so a request can
// report every bad field at once.
package validation

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// ValidationError is one rejected field.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func fail(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// Collector accumulates failures. The zero value is ready to use.
type Collector struct {
	errors []ValidationError
}

// Add records err. A nil err is ignored so checks can be chained.
func (c *Collector) Add(err *ValidationError) {
	if err != nil {
		c.errors = append(c.errors, *err)
	}
}

// HasErrors reports whether anything was recorded.
func (c *Collector) HasErrors() bool {
	return len(c.errors) > 0
}

// Errors returns the recorded failures in the order they were added.
func (c *Collector) Errors() []ValidationError {
	return c.errors
}

// Err returns the recorded failures as an *Error, or nil.
func (c *Collector) Err() error {
	if !c.HasErrors() {
		return nil
	}
	return &Error{Errors: append([]ValidationError(nil), c.errors...)}
}

// Error is a non-empty set of field failures.
type Error struct {
	Errors []ValidationError
}

func (e *Error) Error() string {
	parts := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		parts[i] = fe.Field + " " + fe.Message
	}
	return strings.Join(parts, "; ")
}

// ValidateUTF8 rejects byte sequences that are not UTF-8.
func ValidateUTF8(field, value string) *ValidationError {
	if utf8.ValidString(value) {
		return nil
	}
	return fail(field, "must be valid UTF-8")
}

// ValidateNoNullBytes rejects embedded NUL characters.
func ValidateNoNullBytes(field, value string) *ValidationError {
	if !strings.ContainsRune(value, 0) {
		return nil
	}
	return fail(field, "must not contain null bytes")
}

// ValidateMaxLength rejects values longer than max characters.
func ValidateMaxLength(field, value string, max int) *ValidationError {
	if utf8.RuneCountInString(value) <= max {
		return nil
	}
	return fail(field, "exceeds maximum length of %d characters", max)
}

// ValidateRequired rejects empty and whitespace-only values.
func ValidateRequired(field, value string) *ValidationError {
	if strings.TrimSpace(value) != "" {
		return nil
	}
	return fail(field, "is required")
}

// ValidateEnum rejects values outside allowed. Matching is case-sensitive.
func ValidateEnum(field, value string, allowed []string) *ValidationError {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fail(field, "must be one of: %s", strings.Join(allowed, ", "))
}

// ValidateIntRange rejects values outside [min, max].
func ValidateIntRange(field string, value, min, max int) *ValidationError {
	if value >= min && value <= max {
		return nil
	}
	return fail(field, "must be between %d and %d", min, max)
}
