package domain

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// FieldType enumerates the validation types a field schema can declare.
type FieldType string

const (
	FieldTypeText        FieldType = "text"
	FieldTypeNumber      FieldType = "number"
	FieldTypeDate        FieldType = "date"
	FieldTypeEmail       FieldType = "email"
	FieldTypePhone       FieldType = "phone"
	FieldTypeBoolean     FieldType = "boolean"
	FieldTypeSelect      FieldType = "select"
	FieldTypeCustomRegex FieldType = "custom_regex"
)

// FieldSchema describes one column an importer expects from uploads.
// ExtraRules carries type-specific options (sign, format, options, pattern,
// template, min_length, max_length) already normalized by NormalizeExtraRules.
type FieldSchema struct {
	Name       string         `json:"name"`
	Type       FieldType      `json:"type"`
	Required   bool           `json:"required"`
	NotBlank   bool           `json:"not_blank,omitempty"`
	ExtraRules map[string]any `json:"extra_rules,omitempty"`
}

// Importer is a reusable upload template: the field schemas to validate
// against plus delivery settings for the completion webhook.
type Importer struct {
	ID                      uuid.UUID     `json:"id"`
	Name                    string        `json:"name"`
	Fields                  []FieldSchema `json:"fields"`
	WebhookURL              string        `json:"webhook_url,omitempty"`
	WebhookEnabled          bool          `json:"webhook_enabled"`
	IncludeDataInWebhook    bool          `json:"include_data_in_webhook"`
	TruncateData            bool          `json:"truncate_data"`
	WebhookDataSampleSize   *int          `json:"webhook_data_sample_size,omitempty"`
	IncludeUnmatchedColumns bool          `json:"include_unmatched_columns"`
	FilterInvalidRows       bool          `json:"filter_invalid_rows"`
	CreatedAt               time.Time     `json:"created_at"`
	UpdatedAt               time.Time     `json:"updated_at"`
}

// NewImporter creates an importer with normalized field rules.
func NewImporter(name string, fields []FieldSchema) Importer {
	now := time.Now()
	normalized := make([]FieldSchema, len(fields))
	for i, f := range fields {
		f.ExtraRules = NormalizeExtraRules(f.Type, f.ExtraRules)
		normalized[i] = f
	}
	return Importer{
		ID:        uuid.New(),
		Name:      name,
		Fields:    normalized,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// FieldNames returns the schema field names in declaration order.
func (im Importer) FieldNames() []string {
	names := make([]string, len(im.Fields))
	for i, f := range im.Fields {
		names[i] = f.Name
	}
	return names
}

// FieldByName looks a field schema up by exact name.
func (im Importer) FieldByName(name string) (FieldSchema, bool) {
	for _, f := range im.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldSchema{}, false
}

// RequiredFieldNames returns the names of all required fields.
func (im Importer) RequiredFieldNames() []string {
	var names []string
	for _, f := range im.Fields {
		if f.Required {
			names = append(names, f.Name)
		}
	}
	return names
}

// FieldsAsJSONB returns the field schemas for database storage.
func (im Importer) FieldsAsJSONB() (json.RawMessage, error) {
	return json.Marshal(im.Fields)
}

// FieldsFromJSONB decodes field schemas from JSONB, normalizing the extra
// rules of each field so callers never see the legacy encodings.
func FieldsFromJSONB(fieldsJSON json.RawMessage) ([]FieldSchema, error) {
	var fields []FieldSchema
	if err := json.Unmarshal(fieldsJSON, &fields); err != nil {
		return nil, err
	}
	for i := range fields {
		fields[i].ExtraRules = NormalizeExtraRules(fields[i].Type, fields[i].ExtraRules)
	}
	return fields, nil
}

// NormalizeExtraRules folds the legacy rule encodings into one canonical map.
// Historical schemas stored rules in several shapes: a bare string such as
// "positive", a JSON-encoded object, or a validation_format key whose meaning
// depends on the field type. The result is always a non-nil map keyed by
// sign, format, pattern, options or template as the type requires.
func NormalizeExtraRules(fieldType FieldType, raw any) map[string]any {
	rules := map[string]any{}

	switch v := raw.(type) {
	case nil:
	case string:
		trimmed := strings.TrimSpace(v)
		switch strings.ToLower(trimmed) {
		case "positive", "negative":
			rules["sign"] = strings.ToLower(trimmed)
		default:
			var decoded map[string]any
			if err := json.Unmarshal([]byte(trimmed), &decoded); err == nil {
				rules = decoded
			}
		}
	case map[string]any:
		for k, val := range v {
			rules[k] = val
		}
	}

	if vf, ok := rules["validation_format"]; ok {
		if s, isStr := vf.(string); isStr && s != "" {
			switch fieldType {
			case FieldTypeNumber:
				rules["sign"] = strings.ToLower(s)
			case FieldTypeDate:
				rules["format"] = s
			case FieldTypeCustomRegex:
				rules["pattern"] = s
			case FieldTypeSelect:
				rules["options"] = s
			case FieldTypeBoolean:
				rules["template"] = s
			}
		}
		delete(rules, "validation_format")
	}

	if t, ok := rules["template"].(string); ok {
		rules["template"] = strings.ReplaceAll(strings.ToLower(t), "_", "/")
	}

	return rules
}
