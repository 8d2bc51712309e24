package validation

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"advertiser-onboarding/internal/common/errors"
)

type JSONSchema struct {
	Type                 string              `json:"type"`
	Properties           map[string]Property `json:"properties"`
	Required             []string            `json:"required,omitempty"`
	AdditionalProperties bool                `json:"additionalProperties,omitempty"`
}

type Property struct {
	Type        string    `json:"type"`
	Description string    `json:"description,omitempty"`
	Enum        []string  `json:"enum,omitempty"`
	Pattern     *string   `json:"pattern,omitempty"`
	MinLength   *int      `json:"minLength,omitempty"`
	MaxLength   *int      `json:"maxLength,omitempty"`
	MinItems    *int      `json:"minItems,omitempty"`
	MustBeTrue  bool      `json:"mustBeTrue,omitempty"`
	Items       *Property `json:"items,omitempty"`
	// Message replaces the generated message for every violation of this property.
	Message string `json:"message,omitempty"`
}

type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// ValidateInput checks input against schema. A required field is missing when it is
// absent, nil, a blank string, an empty list or false.
func ValidateInput(input map[string]interface{}, schema JSONSchema) *ValidationResult {
	result := &ValidationResult{}
	missing := map[string]bool{}

	for _, field := range schema.Required {
		if isBlank(input[field]) {
			missing[field] = true
			result.add(field, messageOr(schema.Properties[field], "required field missing"), "REQUIRED_FIELD_MISSING")
		}
	}

	for _, field := range sortedKeys(input) {
		if missing[field] {
			continue
		}
		prop, exists := schema.Properties[field]
		if !exists {
			if !schema.AdditionalProperties {
				result.add(field, "field not allowed in schema", "EXTRA_FIELD")
			}
			continue
		}
		result.Errors = append(result.Errors, validateField(field, input[field], prop)...)
	}

	result.Valid = len(result.Errors) == 0
	return result
}

func (vr *ValidationResult) add(field, message, code string) {
	vr.Errors = append(vr.Errors, ValidationError{Field: field, Message: message, Code: code})
}

func validateField(field string, value interface{}, prop Property) []ValidationError {
	var out []ValidationError
	fail := func(message, code string) {
		out = append(out, ValidationError{Field: field, Message: messageOr(prop, message), Code: code})
	}

	if value == nil {
		return nil
	}

	if err := validateType(value, prop.Type); err != nil {
		fail(err.Error(), "INVALID_TYPE")
		return out
	}

	switch v := value.(type) {
	case string:
		v = strings.TrimSpace(v)
		length := utf8.RuneCountInString(v)
		if prop.MinLength != nil && length < *prop.MinLength {
			fail(fmt.Sprintf("value must be at least %d characters", *prop.MinLength), "MIN_LENGTH_VIOLATION")
		}
		if prop.MaxLength != nil && length > *prop.MaxLength {
			fail(fmt.Sprintf("value must be at most %d characters", *prop.MaxLength), "MAX_LENGTH_VIOLATION")
		}
		if prop.Pattern != nil && v != "" {
			if matched, err := regexp.MatchString(*prop.Pattern, v); err != nil || !matched {
				fail(fmt.Sprintf("value must match pattern %s", *prop.Pattern), "PATTERN_MISMATCH")
			}
		}
		if len(prop.Enum) > 0 && !contains(prop.Enum, v) {
			fail(fmt.Sprintf("value must be one of %v", prop.Enum), "INVALID_ENUM_VALUE")
		}
	case bool:
		if prop.MustBeTrue && !v {
			fail("value must be true", "MUST_BE_TRUE")
		}
	case []string:
		if prop.MinItems != nil && len(nonBlank(v)) < *prop.MinItems {
			fail(fmt.Sprintf("select at least %d", *prop.MinItems), "MIN_ITEMS_VIOLATION")
		}
		if prop.Items != nil {
			for i, item := range v {
				out = append(out, validateField(fmt.Sprintf("%s[%d]", field, i), item, *prop.Items)...)
			}
		}
	case []bool:
		if prop.MinItems != nil && len(v) < *prop.MinItems {
			fail(fmt.Sprintf("expected %d items", *prop.MinItems), "MIN_ITEMS_VIOLATION")
		}
		if prop.Items != nil && prop.Items.MustBeTrue {
			for i, item := range v {
				if !item {
					out = append(out, ValidationError{
						Field:   fmt.Sprintf("%s[%d]", field, i),
						Message: messageOr(prop, "value must be true"),
						Code:    "MUST_BE_TRUE",
					})
				}
			}
		}
	}

	return out
}

func validateType(value interface{}, expectedType string) error {
	switch expectedType {
	case "string":
		if _, ok := value.(string); !ok {
			return fmt.Errorf("expected string, got %T", value)
		}
	case "boolean":
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("expected boolean, got %T", value)
		}
	case "array":
		switch value.(type) {
		case []string, []bool, []interface{}:
		default:
			return fmt.Errorf("expected array, got %T", value)
		}
	}
	return nil
}

func isBlank(value interface{}) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(v) == ""
	case bool:
		return !v
	case []string:
		return len(nonBlank(v)) == 0
	case []bool:
		return len(v) == 0
	case []interface{}:
		return len(v) == 0
	}
	return false
}

func nonBlank(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			out = append(out, v)
		}
	}
	return out
}

func messageOr(prop Property, fallback string) string {
	if prop.Message != "" {
		return prop.Message
	}
	return fallback
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (vr *ValidationResult) GetErrorMessages() []string {
	messages := make([]string, len(vr.Errors))
	for i, err := range vr.Errors {
		messages[i] = fmt.Sprintf("%s: %s", err.Field, err.Message)
	}
	return messages
}

func (vr *ValidationResult) HasErrors(field string) bool {
	for _, err := range vr.Errors {
		if err.Field == field || strings.HasPrefix(err.Field, field+"[") {
			return true
		}
	}
	return false
}

// Merge appends the errors of other.
func (vr *ValidationResult) Merge(other *ValidationResult) {
	vr.Errors = append(vr.Errors, other.Errors...)
	vr.Valid = len(vr.Errors) == 0
}

// AsError converts a failed result into a VALIDATION_FAILED StandardError, or nil.
func (vr *ValidationResult) AsError() error {
	if len(vr.Errors) == 0 {
		return nil
	}
	fields := make([]errors.FieldError, len(vr.Errors))
	for i, e := range vr.Errors {
		fields[i] = errors.FieldError{Field: e.Field, Message: e.Message}
	}
	return errors.NewValidationError(fields)
}

// EmailPattern accepts anything shaped like local@domain.tld.
const EmailPattern = `^[^\s@]+@[^\s@]+\.[^\s@]+$`

var emailRegexp = regexp.MustCompile(EmailPattern)

func ValidateEmail(email string) bool {
	return emailRegexp.MatchString(strings.TrimSpace(email))
}

func ValidatePhone(phone string) bool {
	phonePattern := regexp.MustCompile(`^\+?[\d\s\-\(\)\.]{7,}$`)
	return phonePattern.MatchString(strings.TrimSpace(phone))
}

func IntPtr(i int) *int {
	return &i
}

func StringPtr(s string) *string {
	return &s
}
