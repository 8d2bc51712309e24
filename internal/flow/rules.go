package flow

import (
	"advertiser-onboarding/internal/common/errors"
	"advertiser-onboarding/internal/common/validation"
	"advertiser-onboarding/internal/models"
)

// StepInput carries the data of one step action. Only the field matching the current
// step is read.
type StepInput struct {
	Plan         *models.PlanTier   `json:"plan,omitempty"`
	Registration *RegistrationInput `json:"registration,omitempty"`
	Consent      *ConsentInput      `json:"consent,omitempty"`
	Compliance   []bool             `json:"complianceChecks,omitempty"`
}

type RegistrationInput struct {
	FullName        string   `json:"fullName"`
	DisplayName     string   `json:"displayName"`
	Email           string   `json:"email"`
	Password        string   `json:"password"`
	ConfirmPassword string   `json:"confirmPassword"`
	Phone           string   `json:"phone"`
	Location        string   `json:"location"`
	Languages       []string `json:"languages"`
	Services        []string `json:"services"`
	AgreedToTerms   bool     `json:"agreedToTerms"`
}

type ConsentInput struct {
	AgreedToTerms  bool `json:"agreedToTerms"`
	MarketingOptIn bool `json:"marketingOptIn"`
}

const minPasswordLength = 6

func registrationSchema() validation.JSONSchema {
	return validation.JSONSchema{
		Type: "object",
		Required: []string{
			"fullName", "displayName", "email", "password", "confirmPassword",
			"phone", "location", "languages", "services", "agreedToTerms",
		},
		Properties: map[string]validation.Property{
			"fullName":    {Type: "string", MaxLength: validation.IntPtr(120)},
			"displayName": {Type: "string", MinLength: validation.IntPtr(2), MaxLength: validation.IntPtr(50)},
			"email": {
				Type:    "string",
				Pattern: validation.StringPtr(validation.EmailPattern),
				Message: "Invalid email.",
			},
			"password": {
				Type:      "string",
				MinLength: validation.IntPtr(minPasswordLength),
				Message:   "Password must have at least 6 characters.",
			},
			"confirmPassword": {Type: "string"},
			"phone":           {Type: "string", MaxLength: validation.IntPtr(40)},
			"location":        {Type: "string", MaxLength: validation.IntPtr(120)},
			"languages":       {Type: "array", MinItems: validation.IntPtr(1), Message: "Select at least one language."},
			"services":        {Type: "array", MinItems: validation.IntPtr(1), Message: "Select at least one service."},
			"agreedToTerms":   {Type: "boolean", MustBeTrue: true},
		},
	}
}

func consentSchema() validation.JSONSchema {
	return validation.JSONSchema{
		Type:     "object",
		Required: []string{"agreedToTerms"},
		Properties: map[string]validation.Property{
			"agreedToTerms":  {Type: "boolean", MustBeTrue: true, Message: "You must accept the terms to continue."},
			"marketingOptIn": {Type: "boolean"},
		},
	}
}

func complianceSchema() validation.JSONSchema {
	n := len(models.ComplianceItems)
	return validation.JSONSchema{
		Type:     "object",
		Required: []string{"complianceChecks"},
		Properties: map[string]validation.Property{
			"complianceChecks": {
				Type:     "array",
				MinItems: validation.IntPtr(n),
				Items:    &validation.Property{Type: "boolean", MustBeTrue: true},
				Message:  "Confirm every item of the checklist.",
			},
		},
	}
}

func missingInput(field string) error {
	return errors.NewValidationError([]errors.FieldError{{Field: field, Message: "required field missing"}})
}

func validatePlan(in StepInput) (models.PlanTier, error) {
	if in.Plan == nil {
		return "", missingInput("plan")
	}
	plan, err := models.LookupPlan(*in.Plan)
	if err != nil {
		return "", errors.NewValidationError([]errors.FieldError{{Field: "plan", Message: err.Error()}})
	}
	return plan.Tier, nil
}

// validateRegistration returns the normalized draft. Languages and services may
// arrive as single comma-separated entries.
func validateRegistration(in StepInput) (models.AdvertiserDraft, error) {
	r := in.Registration
	if r == nil {
		return models.AdvertiserDraft{}, missingInput("registration")
	}

	languages := splitEntries(r.Languages)
	services := splitEntries(r.Services)

	result := validation.ValidateInput(map[string]interface{}{
		"fullName":        r.FullName,
		"displayName":     r.DisplayName,
		"email":           r.Email,
		"password":        r.Password,
		"confirmPassword": r.ConfirmPassword,
		"phone":           r.Phone,
		"location":        r.Location,
		"languages":       languages,
		"services":        services,
		"agreedToTerms":   r.AgreedToTerms,
	}, registrationSchema())

	if r.Password != "" && r.ConfirmPassword != "" && r.Password != r.ConfirmPassword {
		result.Merge(&validation.ValidationResult{Errors: []validation.ValidationError{{
			Field:   "confirmPassword",
			Message: "Passwords do not match.",
			Code:    "PASSWORD_MISMATCH",
		}}})
	}
	if err := result.AsError(); err != nil {
		return models.AdvertiserDraft{}, err
	}

	draft := models.AdvertiserDraft{
		FullName:      r.FullName,
		DisplayName:   r.DisplayName,
		Email:         r.Email,
		Phone:         r.Phone,
		Location:      r.Location,
		Languages:     languages,
		Services:      services,
		AgreedToTerms: r.AgreedToTerms,
	}.Normalized()
	draft.Password = r.Password
	return draft, nil
}

func validateConsent(in StepInput) (ConsentInput, error) {
	if in.Consent == nil {
		return ConsentInput{}, missingInput("consent")
	}
	result := validation.ValidateInput(map[string]interface{}{
		"agreedToTerms":  in.Consent.AgreedToTerms,
		"marketingOptIn": in.Consent.MarketingOptIn,
	}, consentSchema())
	if err := result.AsError(); err != nil {
		return ConsentInput{}, err
	}
	return *in.Consent, nil
}

func validateCompliance(in StepInput) ([]bool, error) {
	checks := in.Compliance
	if checks == nil {
		checks = []bool{}
	}
	result := validation.ValidateInput(map[string]interface{}{"complianceChecks": checks}, complianceSchema())
	if len(checks) > len(models.ComplianceItems) {
		result.Merge(&validation.ValidationResult{Errors: []validation.ValidationError{{
			Field:   "complianceChecks",
			Message: "Unexpected checklist items.",
			Code:    "MAX_ITEMS_VIOLATION",
		}}})
	}
	if err := result.AsError(); err != nil {
		return nil, err
	}
	return append([]bool(nil), checks...), nil
}

func splitEntries(values []string) []string {
	var out []string
	for _, v := range values {
		out = append(out, models.SplitList(v)...)
	}
	return models.CleanList(out)
}
