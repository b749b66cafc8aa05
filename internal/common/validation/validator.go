package validation

import (
	"fmt"
	"strings"
)

// Validator accumulates validation errors so a caller gets every
// violation in one pass instead of fixing them one at a time.
type Validator struct {
	errors []error
}

func NewValidator() *Validator {
	return &Validator{errors: make([]error, 0)}
}

// RequireString validates that a string is not empty
func (v *Validator) RequireString(value, name string) *Validator {
	if strings.TrimSpace(value) == "" {
		v.addError("%s is required", name)
	}
	return v
}

// RequireOneOf validates that a value is one of the allowed values
func (v *Validator) RequireOneOf(value string, allowed []string, name string) *Validator {
	if value == "" {
		v.addError("%s is required", name)
		return v
	}

	for _, a := range allowed {
		if value == a {
			return v
		}
	}

	v.addError("%s must be one of: %s", name, strings.Join(allowed, ", "))
	return v
}

// RequireMaxLength validates that a string has a maximum length
func (v *Validator) RequireMaxLength(value string, maxLength int, name string) *Validator {
	if len(value) > maxLength {
		v.addError("%s must be at most %d characters long", name, maxLength)
	}
	return v
}

// ValidateIf runs a validation function when the condition holds
func (v *Validator) ValidateIf(condition bool, fn func() error) *Validator {
	if condition {
		if err := fn(); err != nil {
			v.errors = append(v.errors, err)
		}
	}
	return v
}

func (v *Validator) addError(format string, args ...interface{}) {
	v.errors = append(v.errors, fmt.Errorf(format, args...))
}

// HasErrors returns true if there are validation errors
func (v *Validator) HasErrors() bool {
	return len(v.errors) > 0
}

// Error returns the combined validation error or nil
func (v *Validator) Error() error {
	if !v.HasErrors() {
		return nil
	}

	if len(v.errors) == 1 {
		return v.errors[0]
	}

	parts := make([]string, len(v.errors))
	for i, err := range v.errors {
		parts[i] = err.Error()
	}
	return fmt.Errorf("validation failed: %s", strings.Join(parts, "; "))
}
