package models

// ValueType tells the interpolation engine how to treat a resolved string.
type ValueType string

const (
	ValueTypeString ValueType = "string"
	// ValueTypeParse asks for the resolved string to be decoded as JSON when possible.
	ValueTypeParse ValueType = "parse"
)

// FieldType is the input kind of a parameter field as declared by an adapter.
type FieldType string

const (
	FieldTypeString   FieldType = "string"
	FieldTypeDropdown FieldType = "dropdown"
	FieldTypeDynamic  FieldType = "dynamic"
	FieldTypeCheckbox FieldType = "checkbox"
)

// Field describes one parameter an adapter accepts.
// Dynamic fields hold an array of entries, each described by the nested Fields.
type Field struct {
	Key       string    `json:"key"                  validate:"required"`
	Label     string    `json:"label"`
	Type      FieldType `json:"type"`
	ValueType ValueType `json:"value_type,omitempty"`
	Required  bool      `json:"required"`
	Fields    []Field   `json:"fields,omitempty"`
}

// FieldByKey finds the schema for a parameter key.
func FieldByKey(fields []Field, key string) (Field, bool) {
	for _, field := range fields {
		if field.Key == key {
			return field, true
		}
	}

	return Field{}, false
}

// EffectiveValueType defaults to the string value type.
func (f Field) EffectiveValueType() ValueType {
	if f.ValueType == "" {
		return ValueTypeString
	}

	return f.ValueType
}

// MissingRequired returns the keys of required fields that are absent or empty in parameters.
func MissingRequired(fields []Field, parameters map[string]any) []string {
	var missing []string

	for _, field := range fields {
		if !field.Required {
			continue
		}

		value, ok := parameters[field.Key]
		if !ok || value == nil {
			missing = append(missing, field.Key)

			continue
		}

		switch v := value.(type) {
		case string:
			if v == "" {
				missing = append(missing, field.Key)
			}
		case []any:
			if len(v) == 0 {
				missing = append(missing, field.Key)
			}
		}
	}

	return missing
}
