// Package template resolves step parameters against the outputs of earlier steps.
//
// Parameter strings may embed variables of the form {{step.<stepId>.<dot.path>}}.
// Each variable is replaced by the value found at <dot.path> in the output of the
// execution step recorded for <stepId>. Resolution is pure: no I/O, no shared state.
package template

import (
	"encoding/json"

	"github.com/dukex/stepflow/pkg/models"
)

// Resolve returns a copy of parameters with every variable substituted.
//
// Strings are resolved by concatenation. Arrays are resolved per item with the nested
// field list of the matching dynamic field. Any other value, nested mappings included,
// is passed through as is. Fields missing from the schema are treated as plain strings.
func Resolve(parameters map[string]any, fields []models.Field, executionSteps []*models.ExecutionStep) map[string]any {
	resolved := make(map[string]any, len(parameters))

	for key, value := range parameters {
		field, _ := models.FieldByKey(fields, key)

		switch v := value.(type) {
		case string:
			resolved[key] = resolveString(v, field.EffectiveValueType(), executionSteps)
		case []any:
			resolved[key] = resolveItems(v, field.Fields, executionSteps)
		case []map[string]any:
			items := make([]any, len(v))
			for i, item := range v {
				items[i] = item
			}

			resolved[key] = resolveItems(items, field.Fields, executionSteps)
		default:
			resolved[key] = value
		}
	}

	return resolved
}

func resolveItems(items []any, fields []models.Field, executionSteps []*models.ExecutionStep) []any {
	resolved := make([]any, len(items))

	for i, item := range items {
		entry, ok := item.(map[string]any)
		if !ok {
			resolved[i] = item

			continue
		}

		resolved[i] = Resolve(entry, fields, executionSteps)
	}

	return resolved
}

func resolveString(value string, valueType models.ValueType, executionSteps []*models.ExecutionStep) any {
	computed := substitute(value, executionSteps)

	if valueType != models.ValueTypeParse {
		return computed
	}

	return parseValue(computed)
}

// parseValue decodes a resolved string as JSON. Plain numbers are not accepted:
// numeric-looking text stays a string, as does anything that fails to decode.
func parseValue(computed string) any {
	var parsed any

	if err := json.Unmarshal([]byte(computed), &parsed); err != nil {
		return computed
	}

	if _, isNumber := parsed.(float64); isNumber {
		return computed
	}

	return parsed
}
