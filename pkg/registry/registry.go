// pkg/registry/registry.go
package registry

import (
	"encoding/json"
	"os"

	"underwriting-workers/internal/common/validation"
)

func LoadRegistry(path string) (*ActivityRegistry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var reg ActivityRegistry
	err = json.Unmarshal(data, &reg)
	return &reg, err
}

// FindByTaskType returns the activity registered for a Camunda task type.
func (r *ActivityRegistry) FindByTaskType(taskType string) (*Activity, bool) {
	for i := range r.Activities {
		if r.Activities[i].TaskType == taskType {
			return &r.Activities[i], true
		}
	}
	return nil, false
}

// ValidateJobInput checks a job payload against the activity's declared
// input schema. An activity without a schema accepts any payload.
func (a *Activity) ValidateJobInput(input map[string]interface{}) *validation.ValidationResult {
	if len(a.InputSchema) == 0 {
		return &validation.ValidationResult{Valid: true}
	}

	raw, err := json.Marshal(a.InputSchema)
	if err != nil {
		return &validation.ValidationResult{
			Valid: false,
			Errors: []validation.ValidationError{
				{Field: "inputSchema", Message: err.Error(), Code: "SCHEMA_UNREADABLE"},
			},
		}
	}

	schema, err := validation.GetSchemaFromJSON(string(raw))
	if err != nil {
		return &validation.ValidationResult{
			Valid: false,
			Errors: []validation.ValidationError{
				{Field: "inputSchema", Message: err.Error(), Code: "SCHEMA_UNREADABLE"},
			},
		}
	}

	return validation.ValidateInput(input, schema)
}
