package activationnotify

import (
	"advertiser-onboarding/internal/common/validation"
	"advertiser-onboarding/internal/models"
)

func GetInputSchema() validation.JSONSchema {
	return validation.JSONSchema{
		Type:                 "object",
		Required:             []string{"flowId", "accountId", "email", "displayName", "plan"},
		AdditionalProperties: true,
		Properties: map[string]validation.Property{
			"flowId": {
				Type:      "string",
				MaxLength: validation.IntPtr(64),
			},
			"accountId": {
				Type:      "string",
				MaxLength: validation.IntPtr(255),
			},
			"email": {
				Type:        "string",
				Description: "Advertiser e-mail",
				Pattern:     validation.StringPtr(validation.EmailPattern),
				MaxLength:   validation.IntPtr(255),
			},
			"fullName": {
				Type:      "string",
				MaxLength: validation.IntPtr(200),
			},
			"displayName": {
				Type:      "string",
				MaxLength: validation.IntPtr(100),
			},
			"plan": {
				Type: "string",
				Enum: models.PlanTiers(),
			},
			"consentRecordId": {
				Type: "string",
			},
			"marketingOptIn": {
				Type: "boolean",
			},
		},
	}
}
