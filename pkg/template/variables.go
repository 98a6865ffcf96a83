package template

import (
	"bytes"
	"encoding/json"
	"regexp"
	"sort"
	"strings"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/tidwall/gjson"
)

const (
	variablePrefix = "{{step."
	variableSuffix = "}}"
)

// variablePattern matches {{step.<stepId>.<segment>[.<segment>...]}}.
var variablePattern = regexp.MustCompile(`\{\{step\.[\da-zA-Z-]+(?:\.[^.}{]+)+\}\}`)

// bracketIndex matches list indexes written as name[0].
var bracketIndex = regexp.MustCompile(`\[(\d+)\]`)

// gjson treats these as path syntax; keys containing them are escaped.
const gjsonSpecialChars = `\*?|#@!=<>%`

// HasVariables reports whether value embeds at least one step variable.
func HasVariables(value string) bool {
	return variablePattern.MatchString(value)
}

// Variable builds the variable token that points at path in the output of stepID.
func Variable(stepID, path string) string {
	return variablePrefix + stepID + "." + path + variableSuffix
}

// ReferencedStepIDs lists the distinct step identifiers a value refers to, in order of appearance.
func ReferencedStepIDs(value string) []string {
	var ids []string

	seen := make(map[string]bool)

	for _, token := range variablePattern.FindAllString(value, -1) {
		stepID, _ := splitVariable(token)
		if !seen[stepID] {
			seen[stepID] = true
			ids = append(ids, stepID)
		}
	}

	return ids
}

func splitVariable(token string) (string, string) {
	reference := strings.TrimSuffix(strings.TrimPrefix(token, variablePrefix), variableSuffix)
	stepID, path, _ := strings.Cut(reference, ".")

	return stepID, path
}

func substitute(value string, executionSteps []*models.ExecutionStep) string {
	return variablePattern.ReplaceAllStringFunc(value, func(token string) string {
		stepID, path := splitVariable(token)

		return lookup(executionSteps, stepID, path)
	})
}

// lookup renders the value at path in the output of stepID. Missing steps and
// missing paths render as an empty string, an explicit null as "null". Arrays and
// mappings render as compact JSON.
func lookup(executionSteps []*models.ExecutionStep, stepID, path string) string {
	var dataOut map[string]any

	for _, executionStep := range executionSteps {
		if executionStep != nil && executionStep.StepID == stepID {
			dataOut = executionStep.DataOut

			break
		}
	}

	if dataOut == nil {
		return ""
	}

	raw, err := marshalCompact(dataOut)
	if err != nil {
		return ""
	}

	result := gjson.GetBytes(raw, escapePath(path))
	if !result.Exists() {
		return ""
	}

	switch result.Type {
	case gjson.String:
		return result.Str
	default:
		return result.Raw
	}
}

func marshalCompact(value any) ([]byte, error) {
	var buf bytes.Buffer

	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)

	if err := encoder.Encode(value); err != nil {
		return nil, err
	}

	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func escapePath(path string) string {
	path = strings.TrimPrefix(bracketIndex.ReplaceAllString(path, ".$1"), ".")
	segments := strings.Split(path, ".")

	for i, segment := range segments {
		if !strings.ContainsAny(segment, gjsonSpecialChars) {
			continue
		}

		var escaped strings.Builder

		for _, r := range segment {
			if strings.ContainsRune(gjsonSpecialChars, r) {
				escaped.WriteByte('\\')
			}

			escaped.WriteRune(r)
		}

		segments[i] = escaped.String()
	}

	return strings.Join(segments, ".")
}

// RewriteStepReferences returns a copy of parameters where every variable pointing at
// an old step identifier points at its replacement instead. Arrays and nested mappings
// are rewritten recursively; other values are copied as is.
func RewriteStepReferences(parameters map[string]any, newStepIDs map[string]string) map[string]any {
	if parameters == nil {
		return map[string]any{}
	}

	oldIDs := make([]string, 0, len(newStepIDs))
	for oldID := range newStepIDs {
		oldIDs = append(oldIDs, oldID)
	}

	sort.Strings(oldIDs)

	return rewriteMap(parameters, oldIDs, newStepIDs)
}

func rewriteMap(parameters map[string]any, oldIDs []string, newStepIDs map[string]string) map[string]any {
	rewritten := make(map[string]any, len(parameters))

	for key, value := range parameters {
		rewritten[key] = rewriteValue(value, oldIDs, newStepIDs)
	}

	return rewritten
}

func rewriteValue(value any, oldIDs []string, newStepIDs map[string]string) any {
	switch v := value.(type) {
	case string:
		for _, oldID := range oldIDs {
			v = strings.ReplaceAll(v, variablePrefix+oldID+".", variablePrefix+newStepIDs[oldID]+".")
		}

		return v
	case []any:
		items := make([]any, len(v))
		for i, item := range v {
			items[i] = rewriteValue(item, oldIDs, newStepIDs)
		}

		return items
	case []map[string]any:
		items := make([]any, len(v))
		for i, item := range v {
			items[i] = rewriteMap(item, oldIDs, newStepIDs)
		}

		return items
	case map[string]any:
		return rewriteMap(v, oldIDs, newStepIDs)
	default:
		return value
	}
}
