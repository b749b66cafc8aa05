package validation

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidator_NoErrors(t *testing.T) {
	v := NewValidator().
		RequireString("value", "field").
		RequireOneOf("a", []string{"a", "b"}, "choice")

	assert.False(t, v.HasErrors())
	assert.NoError(t, v.Error())
}

func TestValidator_AccumulatesErrors(t *testing.T) {
	v := NewValidator().
		RequireString("", "code").
		RequireOneOf("x", []string{"a", "b"}, "type")

	require.True(t, v.HasErrors())
	err := v.Error()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "code is required")
	assert.Contains(t, err.Error(), "type must be one of: a, b")
}

func TestValidator_SingleErrorIsNotWrapped(t *testing.T) {
	err := NewValidator().RequireString(" ", "name").Error()
	require.Error(t, err)
	assert.Equal(t, "name is required", err.Error())
}

func TestValidator_RequireMaxLength(t *testing.T) {
	assert.NoError(t, NewValidator().RequireMaxLength("short", 10, "field").Error())
	assert.Error(t, NewValidator().RequireMaxLength("toolongvalue", 5, "field").Error())
}

func TestValidator_ValidateIf(t *testing.T) {
	custom := errors.New("subject is required for email templates")

	err := NewValidator().ValidateIf(true, func() error { return custom }).Error()
	assert.Equal(t, custom, err)

	assert.NoError(t, NewValidator().ValidateIf(false, func() error { return custom }).Error())
}
