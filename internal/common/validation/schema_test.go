package validation

import (
	"testing"

	"advertiser-onboarding/internal/common/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSchema() JSONSchema {
	return JSONSchema{
		Type:     "object",
		Required: []string{"name", "email", "languages", "agree"},
		Properties: map[string]Property{
			"name":      {Type: "string", MinLength: IntPtr(2), MaxLength: IntPtr(50)},
			"email":     {Type: "string", Pattern: StringPtr(EmailPattern), Message: "Invalid email."},
			"languages": {Type: "array", MinItems: IntPtr(1)},
			"agree":     {Type: "boolean", MustBeTrue: true},
			"checks":    {Type: "array", MinItems: IntPtr(2), Items: &Property{Type: "boolean", MustBeTrue: true}},
		},
	}
}

func TestValidateInput_Valid(t *testing.T) {
	result := ValidateInput(map[string]interface{}{
		"name":      "Alex",
		"email":     "alex@example.com",
		"languages": []string{"English"},
		"agree":     true,
		"checks":    []bool{true, true},
	}, testSchema())

	assert.True(t, result.Valid)
	assert.Empty(t, result.Errors)
	assert.NoError(t, result.AsError())
}

func TestValidateInput_BlankValuesAreMissing(t *testing.T) {
	result := ValidateInput(map[string]interface{}{
		"name":      "   ",
		"email":     "alex@example.com",
		"languages": []string{" "},
		"agree":     false,
	}, testSchema())

	require.False(t, result.Valid)
	assert.True(t, result.HasErrors("name"))
	assert.True(t, result.HasErrors("languages"))
	assert.True(t, result.HasErrors("agree"))
	assert.False(t, result.HasErrors("email"))
}

func TestValidateInput_Constraints(t *testing.T) {
	result := ValidateInput(map[string]interface{}{
		"name":      "A",
		"email":     "not-an-email",
		"languages": []string{"English"},
		"agree":     true,
		"checks":    []bool{true, false},
		"extra":     "x",
	}, testSchema())

	require.False(t, result.Valid)
	assert.True(t, result.HasErrors("name"))
	assert.True(t, result.HasErrors("checks"))
	assert.True(t, result.HasErrors("extra"))

	var emailMsg string
	for _, e := range result.Errors {
		if e.Field == "email" {
			emailMsg = e.Message
		}
	}
	assert.Equal(t, "Invalid email.", emailMsg)

	err := result.AsError()
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeValidationFailed))
}

func TestValidateEmail(t *testing.T) {
	assert.True(t, ValidateEmail("a@x.com"))
	assert.True(t, ValidateEmail(" a@x.com "))
	assert.False(t, ValidateEmail("a@x"))
	assert.False(t, ValidateEmail("a b@x.com"))
}
