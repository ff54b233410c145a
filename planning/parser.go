package planning

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/ashwick/townmind/internal/util"
)

// planSchema validates generated plans before activation. Validation failure
// is a recoverable data error handled by the template fallback.
const planSchema = `{
	"type": "object",
	"required": ["goal", "schedule"],
	"properties": {
		"goal": {"type": "string", "minLength": 1},
		"schedule": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"required": ["time", "activity"],
				"properties": {
					"time": {"type": "string", "pattern": "^([01]?[0-9]|2[0-3]):[0-5][0-9]$"},
					"activity": {"type": "string", "minLength": 1},
					"location": {"type": "string"},
					"priority": {"type": "integer", "minimum": 1, "maximum": 10}
				}
			}
		}
	}
}`

var compiledPlanSchema = jsonschema.MustCompileString("plan.json", planSchema)

type parsedPlan struct {
	Goal     string          `json:"goal"`
	Schedule []scheduleEntry `json:"schedule"`
}

type scheduleEntry struct {
	Time     string `json:"time"`
	Activity string `json:"activity"`
	Location string `json:"location"`
	Priority int    `json:"priority"`
}

// parsePlan extracts and validates the plan JSON from generation output that
// may wrap it in prose or code fences.
func parsePlan(text string) (parsedPlan, error) {
	raw, ok := util.ExtractJSONObject(text)
	if !ok {
		return parsedPlan{}, fmt.Errorf("no JSON object in plan output")
	}
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return parsedPlan{}, fmt.Errorf("plan output not valid JSON: %w", err)
	}
	if err := compiledPlanSchema.Validate(v); err != nil {
		return parsedPlan{}, fmt.Errorf("plan output failed validation: %w", err)
	}
	var p parsedPlan
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return parsedPlan{}, fmt.Errorf("decode plan: %w", err)
	}
	return p, nil
}
