package flow

import (
	"fmt"
	"strings"

	"advertiser-onboarding/internal/models"

	"github.com/xeipuuv/gojsonschema"
)

// snapshotSchema is the JSON schema a stored FlowState must satisfy to be resumed.
func snapshotSchema() map[string]interface{} {
	steps := make([]interface{}, len(models.StepOrder))
	for i, s := range models.StepOrder {
		steps[i] = string(s)
	}
	plans := make([]interface{}, 0, 4)
	for _, p := range models.PlanTiers() {
		plans = append(plans, p)
	}

	stringList := map[string]interface{}{
		"type":  []interface{}{"array", "null"},
		"items": map[string]interface{}{"type": "string"},
	}

	return map[string]interface{}{
		"type":     "object",
		"required": []interface{}{"flowId", "version", "currentStep", "selectedPlan", "draft", "consent", "complianceChecks"},
		"properties": map[string]interface{}{
			"flowId":       map[string]interface{}{"type": "string", "minLength": 1},
			"version":      map[string]interface{}{"const": models.SnapshotVersion},
			"currentStep":  map[string]interface{}{"enum": steps},
			"selectedPlan": map[string]interface{}{"enum": plans},
			"draft": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"fullName":      map[string]interface{}{"type": "string"},
					"displayName":   map[string]interface{}{"type": "string"},
					"email":         map[string]interface{}{"type": "string"},
					"phone":         map[string]interface{}{"type": "string"},
					"location":      map[string]interface{}{"type": "string"},
					"languages":     stringList,
					"services":      stringList,
					"agreedToTerms": map[string]interface{}{"type": "boolean"},
				},
			},
			"consent": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"agreedToTerms":  map[string]interface{}{"type": "boolean"},
					"marketingOptIn": map[string]interface{}{"type": "boolean"},
				},
			},
			"complianceChecks": map[string]interface{}{
				"type":     "array",
				"maxItems": len(models.ComplianceItems),
				"items":    map[string]interface{}{"type": "boolean"},
			},
			"accountId":    map[string]interface{}{"type": "string"},
			"accountEmail": map[string]interface{}{"type": "string"},
			"lastError":    map[string]interface{}{"type": "string"},
			"updatedAt":    map[string]interface{}{"type": "string"},
		},
	}
}

var snapshotSchemaLoader = gojsonschema.NewGoLoader(snapshotSchema())

// validateSnapshot checks raw JSON against the snapshot schema.
func validateSnapshot(raw []byte) error {
	result, err := gojsonschema.Validate(snapshotSchemaLoader, gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return fmt.Errorf("validation error: %w", err)
	}
	if !result.Valid() {
		errs := make([]string, len(result.Errors()))
		for i, desc := range result.Errors() {
			errs[i] = desc.String()
		}
		return fmt.Errorf("snapshot validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
