package template

import (
	"testing"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func executionStep(stepID string, dataOut map[string]any) *models.ExecutionStep {
	return &models.ExecutionStep{StepID: stepID, DataOut: dataOut}
}

func TestResolve_NoVariablesIsIdentity(t *testing.T) {
	parameters := map[string]any{
		"text":    "plain text",
		"count":   3,
		"enabled": true,
		"nested":  map[string]any{"a": "{{not.a.variable}}"},
		"entries": []any{map[string]any{"key": "k", "value": "v"}},
	}

	resolved := Resolve(parameters, nil, nil)

	assert.Equal(t, parameters, resolved)
}

func TestResolve_SingleVariable(t *testing.T) {
	resolved := Resolve(
		map[string]any{"text": "{{step.S1.message}}"},
		nil,
		[]*models.ExecutionStep{executionStep("S1", map[string]any{"message": "hi"})},
	)

	assert.Equal(t, map[string]any{"text": "hi"}, resolved)
}

func TestResolve_MixedLiteralAndVariables(t *testing.T) {
	steps := []*models.ExecutionStep{
		executionStep("trigger-1", map[string]any{
			"body": map[string]any{"message": "hello", "sender": "ana"},
		}),
	}

	resolved := Resolve(
		map[string]any{"message": "Message: {{step.trigger-1.body.message}} by {{step.trigger-1.body.sender}}"},
		nil,
		steps,
	)

	assert.Equal(t, "Message: hello by ana", resolved["message"])
}

func TestResolve_ArrayAndObjectSerialization(t *testing.T) {
	steps := []*models.ExecutionStep{
		executionStep("S1", map[string]any{
			"list":   []any{1, 2},
			"object": map[string]any{"b": "<x>", "a": 1},
		}),
	}

	resolved := Resolve(map[string]any{
		"list":   "{{step.S1.list}}",
		"object": "{{step.S1.object}}",
	}, nil, steps)

	assert.Equal(t, "[1,2]", resolved["list"])
	assert.Equal(t, `{"a":1,"b":"<x>"}`, resolved["object"])
}

func TestResolve_ScalarRendering(t *testing.T) {
	steps := []*models.ExecutionStep{
		executionStep("S1", map[string]any{
			"number": 42.5,
			"flag":   false,
			"empty":  nil,
			"items":  []any{"first", "second"},
		}),
	}

	resolved := Resolve(map[string]any{
		"number": "n={{step.S1.number}}",
		"flag":   "{{step.S1.flag}}",
		"empty":  "[{{step.S1.empty}}]",
		"index":  "{{step.S1.items.1}}",
	}, nil, steps)

	assert.Equal(t, "n=42.5", resolved["number"])
	assert.Equal(t, "false", resolved["flag"])
	assert.Equal(t, "[]", resolved["empty"])
	assert.Equal(t, "second", resolved["index"])
}

func TestResolve_MissingStepOrPathIsEmpty(t *testing.T) {
	steps := []*models.ExecutionStep{executionStep("S1", map[string]any{"message": "hi"})}

	resolved := Resolve(map[string]any{
		"missingPath": "a{{step.S1.nope.deeper}}b",
		"missingStep": "a{{step.S2.message}}b",
	}, nil, steps)

	assert.Equal(t, "ab", resolved["missingPath"])
	assert.Equal(t, "ab", resolved["missingStep"])

	nullSteps := []*models.ExecutionStep{executionStep("S1", map[string]any{"v": nil})}
	resolved = Resolve(map[string]any{"a": "x{{step.S1.v}}y"}, nil, nullSteps)

	assert.Equal(t, "xnully", resolved["a"])
}

func TestResolve_NullParsesToNull(t *testing.T) {
	fields := []models.Field{{Key: "payload", ValueType: models.ValueTypeParse}}
	steps := []*models.ExecutionStep{executionStep("S1", map[string]any{"v": nil})}

	resolved := Resolve(map[string]any{"payload": "{{step.S1.v}}"}, fields, steps)

	value, ok := resolved["payload"]
	assert.True(t, ok)
	assert.Nil(t, value)
}

func TestResolve_BracketIndexes(t *testing.T) {
	steps := []*models.ExecutionStep{executionStep("S1", map[string]any{
		"list":   []any{map[string]any{"n": "a"}, map[string]any{"n": "b"}},
		"matrix": []any{[]any{1, 2}, []any{3, 4}},
	})}

	resolved := Resolve(map[string]any{
		"bracket": "{{step.S1.list[0].n}}",
		"dot":     "{{step.S1.list.1.n}}",
		"nested":  "{{step.S1.matrix[1][0]}}",
		"outside": "x{{step.S1.list[5].n}}y",
	}, nil, steps)

	assert.Equal(t, "a", resolved["bracket"])
	assert.Equal(t, "b", resolved["dot"])
	assert.Equal(t, "3", resolved["nested"])
	assert.Equal(t, "xy", resolved["outside"])
}

func TestResolve_KeysWithPathSyntax(t *testing.T) {
	steps := []*models.ExecutionStep{executionStep("S1", map[string]any{"what?": "answer", "a*b": "star"})}

	resolved := Resolve(map[string]any{
		"question": "{{step.S1.what?}}",
		"star":     "{{step.S1.a*b}}",
	}, nil, steps)

	assert.Equal(t, "answer", resolved["question"])
	assert.Equal(t, "star", resolved["star"])
}

func TestResolve_ParseValueType(t *testing.T) {
	fields := []models.Field{
		{Key: "payload", ValueType: models.ValueTypeParse},
	}

	testCases := []struct {
		name     string
		dataOut  map[string]any
		expected any
	}{
		{
			name:     "numeric text stays a string",
			dataOut:  map[string]any{"value": "42"},
			expected: "42",
		},
		{
			name:     "json object is decoded",
			dataOut:  map[string]any{"value": `{"a":1}`},
			expected: map[string]any{"a": float64(1)},
		},
		{
			name:     "serialized array is decoded",
			dataOut:  map[string]any{"value": []any{"x", "y"}},
			expected: []any{"x", "y"},
		},
		{
			name:     "boolean is decoded",
			dataOut:  map[string]any{"value": true},
			expected: true,
		},
		{
			name:     "invalid json stays a string",
			dataOut:  map[string]any{"value": "{broken"},
			expected: "{broken",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			resolved := Resolve(
				map[string]any{"payload": "{{step.S1.value}}"},
				fields,
				[]*models.ExecutionStep{executionStep("S1", tc.dataOut)},
			)

			assert.Equal(t, tc.expected, resolved["payload"])
		})
	}
}

func TestResolve_UnknownFieldDefaultsToString(t *testing.T) {
	resolved := Resolve(
		map[string]any{"payload": "{{step.S1.value}}"},
		[]models.Field{{Key: "other", ValueType: models.ValueTypeParse}},
		[]*models.ExecutionStep{executionStep("S1", map[string]any{"value": `{"a":1}`})},
	)

	assert.Equal(t, `{"a":1}`, resolved["payload"])
}

func TestResolve_ArraysRecurseWithNestedFields(t *testing.T) {
	fields := []models.Field{
		{
			Key:  "headers",
			Type: models.FieldTypeDynamic,
			Fields: []models.Field{
				{Key: "key"},
				{Key: "value", ValueType: models.ValueTypeParse},
			},
		},
	}

	resolved := Resolve(map[string]any{
		"headers": []any{
			map[string]any{"key": "X-Token", "value": "{{step.S1.token}}"},
			map[string]any{"key": "X-Meta", "value": "{{step.S1.meta}}"},
			"not-a-mapping",
		},
	}, fields, []*models.ExecutionStep{
		executionStep("S1", map[string]any{"token": "abc", "meta": map[string]any{"k": "v"}}),
	})

	headers, ok := resolved["headers"].([]any)
	require.True(t, ok)
	require.Len(t, headers, 3)
	assert.Equal(t, map[string]any{"key": "X-Token", "value": "abc"}, headers[0])
	assert.Equal(t, map[string]any{"key": "X-Meta", "value": map[string]any{"k": "v"}}, headers[1])
	assert.Equal(t, "not-a-mapping", headers[2])
}

func TestResolve_DoesNotMutateInput(t *testing.T) {
	parameters := map[string]any{"text": "{{step.S1.message}}"}

	_ = Resolve(parameters, nil, []*models.ExecutionStep{executionStep("S1", map[string]any{"message": "hi"})})

	assert.Equal(t, "{{step.S1.message}}", parameters["text"])
}

func TestRewriteStepReferences(t *testing.T) {
	parameters := map[string]any{
		"message": "{{step.old-trigger.body.x}} and {{step.old-action.result}}",
		"untouched": "{{step.unknown.value}}",
		"count":     7,
		"rows": []any{
			map[string]any{"value": "{{step.old-trigger.body.y}}"},
		},
		"nested": map[string]any{"deep": "{{step.old-action.id}}"},
	}

	rewritten := RewriteStepReferences(parameters, map[string]string{
		"old-trigger": "new-trigger",
		"old-action":  "new-action",
	})

	assert.Equal(t, "{{step.new-trigger.body.x}} and {{step.new-action.result}}", rewritten["message"])
	assert.Equal(t, "{{step.unknown.value}}", rewritten["untouched"])
	assert.Equal(t, 7, rewritten["count"])
	assert.Equal(t, []any{map[string]any{"value": "{{step.new-trigger.body.y}}"}}, rewritten["rows"])
	assert.Equal(t, map[string]any{"deep": "{{step.new-action.id}}"}, rewritten["nested"])

	assert.Equal(t, "{{step.old-trigger.body.x}} and {{step.old-action.result}}", parameters["message"])
}

func TestRewriteStepReferences_NilParameters(t *testing.T) {
	assert.Equal(t, map[string]any{}, RewriteStepReferences(nil, map[string]string{"a": "b"}))
}

func TestReferencedStepIDs(t *testing.T) {
	ids := ReferencedStepIDs("{{step.a.x}} {{step.b.y.z}} {{step.a.w}} {{step.c}}")

	assert.Equal(t, []string{"a", "b"}, ids)
	assert.True(t, HasVariables(Variable("a", "body.x")))
	assert.False(t, HasVariables("{{step.a}}"))
}
