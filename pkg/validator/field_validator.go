package validator

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/tabledeck/importd/internal/domain"
)

// FieldValidator checks individual cell values against field schemas. It is
// stateless and safe for concurrent use; the same instance validates full
// uploads, incremental saves and single-cell edits so results never drift
// between passes.
type FieldValidator struct{}

// NewFieldValidator creates a new field validator
func NewFieldValidator() *FieldValidator {
	return &FieldValidator{}
}

var (
	dayFirstPattern  = regexp.MustCompile(`^(\d{1,2})[-/.](\d{1,2})[-/.](\d{4})$`)
	yearFirstPattern = regexp.MustCompile(`^(\d{4})[-/.](\d{1,2})[-/.](\d{1,2})$`)
	digitsPattern    = regexp.MustCompile(`^\d+$`)
	emailPattern     = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	phonePattern     = regexp.MustCompile(`^\+?[\d\s\-()]{7,15}$`)
)

// ValidateField validates a single cell value against its field schema.
// It returns a human-readable message when the value is invalid, or the
// empty string when it passes. Empty values only fail for required fields.
func (fv *FieldValidator) ValidateField(value any, field domain.FieldSchema) string {
	name := field.Name
	if name == "" {
		name = "Field"
	}
	str := domain.CellString(value)

	if field.Required && strings.TrimSpace(str) == "" {
		return fmt.Sprintf("%s is required", name)
	}
	if !field.Required && str == "" {
		return ""
	}

	rules := field.ExtraRules
	if rules == nil {
		rules = map[string]any{}
	}
	trimmed := strings.TrimSpace(str)

	switch strings.ToLower(string(field.Type)) {
	case "number", "numeric", "integer":
		return fv.validateNumber(trimmed, name, strings.ToLower(string(field.Type)), rules)
	case "email":
		if !emailPattern.MatchString(trimmed) {
			return fmt.Sprintf("%s must be a valid email address", name)
		}
		return ""
	case "phone":
		if !phonePattern.MatchString(trimmed) {
			return fmt.Sprintf("%s must be a valid phone number", name)
		}
		return ""
	case "date", "datetime":
		format, _ := rules["format"].(string)
		return fv.validateDate(trimmed, name, format)
	case "boolean", "bool":
		template, _ := rules["template"].(string)
		return fv.validateBoolean(trimmed, name, template)
	case "select", "enum":
		return fv.validateSelect(trimmed, name, rules["options"])
	case "text", "string", "":
		return fv.validateLength(str, name, rules)
	default:
		if pattern, ok := rules["pattern"].(string); ok && pattern != "" {
			return fv.validatePattern(trimmed, name, pattern)
		}
		return ""
	}
}

// validateNumber rejects common mis-pastes (emails, URLs) before parsing so
// the message points at what the value actually looks like.
func (fv *FieldValidator) validateNumber(value, name, fieldType string, rules map[string]any) string {
	if strings.Contains(value, "@") {
		return fmt.Sprintf("%s appears to contain an email address but should be a number", name)
	}
	if strings.HasPrefix(value, "http://") || strings.HasPrefix(value, "https://") {
		return fmt.Sprintf("%s appears to contain a URL but should be a number", name)
	}

	num, err := strconv.ParseFloat(value, 64)
	if err != nil || math.IsNaN(num) || math.IsInf(num, 0) {
		return fmt.Sprintf("%s must be a valid number", name)
	}

	if subtype, _ := rules["subtype"].(string); fieldType == "integer" || subtype == "integer" {
		if num != math.Trunc(num) {
			return fmt.Sprintf("%s must be a whole number", name)
		}
	}

	if min, ok := numberRule(rules, "min_value"); ok && num < min {
		return fmt.Sprintf("%s must be at least %v", name, min)
	}
	if max, ok := numberRule(rules, "max_value"); ok && num > max {
		return fmt.Sprintf("%s must be at most %v", name, max)
	}

	if sign, _ := rules["sign"].(string); sign != "" {
		switch strings.ToLower(sign) {
		case "positive":
			if num <= 0 {
				return fmt.Sprintf("%s must be a positive number", name)
			}
		case "negative":
			if num >= 0 {
				return fmt.Sprintf("%s must be a negative number", name)
			}
		}
	}

	return ""
}

// validateDate checks a declared format first; only format "any" (or none)
// falls through to compact numeric dates, ISO-8601 and the common layouts.
func (fv *FieldValidator) validateDate(value, name, format string) string {
	fmtUpper := strings.ToUpper(strings.TrimSpace(format))

	if fmtUpper != "" && fmtUpper != "ANY" {
		switch fmtUpper {
		case "MM/DD/YYYY":
			m := dayFirstPattern.FindStringSubmatch(value)
			if m == nil {
				return fmt.Sprintf("%s must be in MM/DD/YYYY format", name)
			}
			if !calendarValid(m[3], m[1], m[2]) {
				return fmt.Sprintf("%s must be a valid date in MM/DD/YYYY format", name)
			}
			return ""
		case "DD/MM/YYYY":
			m := dayFirstPattern.FindStringSubmatch(value)
			if m == nil {
				return fmt.Sprintf("%s must be in DD/MM/YYYY format", name)
			}
			if !calendarValid(m[3], m[2], m[1]) {
				return fmt.Sprintf("%s must be a valid date in DD/MM/YYYY format", name)
			}
			return ""
		case "YYYY/MM/DD":
			m := yearFirstPattern.FindStringSubmatch(value)
			if m == nil {
				return fmt.Sprintf("%s must be in YYYY/MM/DD format", name)
			}
			if !calendarValid(m[1], m[2], m[3]) {
				return fmt.Sprintf("%s must be a valid date in YYYY/MM/DD format", name)
			}
			return ""
		case "YYYY-MM-DD":
			m := yearFirstPattern.FindStringSubmatch(value)
			if m == nil {
				return fmt.Sprintf("%s must be in YYYY-MM-DD format", name)
			}
			if !calendarValid(m[1], m[2], m[3]) {
				return fmt.Sprintf("%s must be a valid date in YYYY-MM-DD format", name)
			}
			return ""
		}
		// Unknown declared formats fall through to the permissive checks.
	}

	if digitsPattern.MatchString(value) {
		if fmtUpper == "" || fmtUpper == "ANY" {
			if len(value) == 8 {
				if _, err := time.Parse("20060102", value); err == nil {
					return ""
				}
			}
			if len(value) == 6 {
				if _, err := time.Parse("20060102", value+"01"); err == nil {
					return ""
				}
			}
		}
		return fmt.Sprintf("%s must be a valid date format (not just numbers)", name)
	}

	if fmtUpper == "" || fmtUpper == "ANY" {
		if isoDateTime(value) {
			return ""
		}
		if m := yearFirstPattern.FindStringSubmatch(value); m != nil && calendarValid(m[1], m[2], m[3]) {
			return ""
		}
		if m := dayFirstPattern.FindStringSubmatch(value); m != nil && strings.Count(value, "/") == 2 {
			// Accept either month-first or day-first readings.
			if calendarValid(m[3], m[1], m[2]) || calendarValid(m[3], m[2], m[1]) {
				return ""
			}
		}
		if _, err := time.Parse("2006-01-02 15:04:05", value); err == nil {
			return ""
		}
		return fmt.Sprintf("%s must be a valid date format", name)
	}

	return fmt.Sprintf("%s must be in %s format", name, strings.TrimSpace(format))
}

var booleanTemplates = map[string][]string{
	"any":        {"true", "false", "yes", "no", "1", "0", "on", "off", "t", "f", "y", "n"},
	"true/false": {"true", "false", "t", "f"},
	"yes/no":     {"yes", "no", "y", "n"},
	"1/0":        {"1", "0"},
	"on/off":     {"on", "off"},
}

func (fv *FieldValidator) validateBoolean(value, name, template string) string {
	normalized := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(template)), "_", "/")
	allowed, ok := booleanTemplates[normalized]
	if !ok {
		normalized = "any"
		allowed = booleanTemplates["any"]
	}

	lower := strings.ToLower(value)
	for _, v := range allowed {
		if lower == v {
			return ""
		}
	}

	display := normalized
	if normalized == "any" {
		display = "any of: true/false, yes/no, 1/0, on/off"
	}
	return fmt.Sprintf("%s must be a valid boolean value (%s)", name, display)
}

// validateSelect accepts options either as a comma-separated string or a
// list; comparison is case-insensitive.
func (fv *FieldValidator) validateSelect(value, name string, rawOptions any) string {
	var options []string
	switch opts := rawOptions.(type) {
	case string:
		for _, opt := range strings.Split(opts, ",") {
			if trimmed := strings.TrimSpace(opt); trimmed != "" {
				options = append(options, trimmed)
			}
		}
	case []string:
		options = opts
	case []any:
		for _, opt := range opts {
			options = append(options, domain.CellString(opt))
		}
	}
	if len(options) == 0 {
		return ""
	}

	lower := strings.ToLower(value)
	for _, opt := range options {
		if lower == strings.ToLower(opt) {
			return ""
		}
	}
	return fmt.Sprintf("%s must be one of: %s", name, strings.Join(options, ", "))
}

func (fv *FieldValidator) validateLength(value, name string, rules map[string]any) string {
	length := len(value)
	if min, ok := numberRule(rules, "min_length"); ok && length < int(min) {
		return fmt.Sprintf("%s must be at least %d characters", name, int(min))
	}
	if max, ok := numberRule(rules, "max_length"); ok && length > int(max) {
		return fmt.Sprintf("%s exceeds maximum length of %d characters", name, int(max))
	}
	return ""
}

// validatePattern matches from the start of the value. A pattern that fails
// to compile leaves the value unvalidated rather than failing every row.
func (fv *FieldValidator) validatePattern(value, name, pattern string) string {
	re, err := regexp.Compile("^(?:" + pattern + ")")
	if err != nil {
		return ""
	}
	if !re.MatchString(value) {
		return fmt.Sprintf("%s does not match required pattern", name)
	}
	return ""
}

// calendarValid reports whether the string parts form a real calendar date.
func calendarValid(year, month, day string) bool {
	y, err1 := strconv.Atoi(year)
	m, err2 := strconv.Atoi(month)
	d, err3 := strconv.Atoi(day)
	if err1 != nil || err2 != nil || err3 != nil {
		return false
	}
	if m < 1 || m > 12 || d < 1 {
		return false
	}
	t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
	return t.Year() == y && int(t.Month()) == m && t.Day() == d
}

var isoLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func isoDateTime(value string) bool {
	v := strings.Replace(value, "Z", "+00:00", 1)
	for _, layout := range isoLayouts {
		if _, err := time.Parse(layout, v); err == nil {
			return true
		}
	}
	// RFC3339 needs the literal Z form as well.
	if _, err := time.Parse(time.RFC3339, value); err == nil {
		return true
	}
	return false
}

func numberRule(rules map[string]any, key string) (float64, bool) {
	switch v := rules[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case string:
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			return n, true
		}
	}
	return 0, false
}
