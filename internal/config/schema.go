package config

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// riskSchema rejects malformed risk sections before decoding, so a
// typo in a hot-reloaded file cannot silently zero a limit.
const riskSchema = `{
  "type": "object",
  "properties": {
    "max_position_pct":         {"type": "number", "exclusiveMinimum": 0, "maximum": 100},
    "max_total_exposure_pct":   {"type": "number", "exclusiveMinimum": 0, "maximum": 100},
    "max_daily_drawdown_pct":   {"type": "number", "exclusiveMinimum": 0, "maximum": 100},
    "max_total_drawdown_pct":   {"type": "number", "exclusiveMinimum": 0, "maximum": 100},
    "volatility_threshold_pct": {"type": "number", "exclusiveMinimum": 0},
    "volatility_scale":         {"type": "number", "exclusiveMinimum": 0, "maximum": 1},
    "volatility_lookback":      {"type": "integer", "minimum": 2},
    "overrides": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "properties": {
          "max_position_pct": {"type": "number", "exclusiveMinimum": 0, "maximum": 100}
        },
        "required": ["max_position_pct"],
        "additionalProperties": false
      }
    }
  },
  "additionalProperties": false
}`

var compiledRiskSchema = jsonschema.MustCompileString("risk.schema.json", riskSchema)

func validateRiskSection(raw any) error {
	if raw == nil {
		return nil
	}
	// Round-trip through JSON so YAML scalar types match what the
	// validator expects.
	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("risk config is not serializable: %w", err)
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("risk config is not serializable: %w", err)
	}
	if err := compiledRiskSchema.Validate(doc); err != nil {
		return fmt.Errorf("risk config rejected by schema: %w", err)
	}
	return nil
}
