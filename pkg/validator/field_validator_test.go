package validator

import (
	"strings"
	"testing"

	"github.com/tabledeck/importd/internal/domain"
)

func TestValidateFieldRequired(t *testing.T) {
	v := NewFieldValidator()
	field := domain.FieldSchema{Name: "email", Type: domain.FieldTypeEmail, Required: true}

	if msg := v.ValidateField("", field); msg != "email is required" {
		t.Fatalf("expected required message, got %q", msg)
	}
	if msg := v.ValidateField("   ", field); msg != "email is required" {
		t.Fatalf("expected required message for whitespace, got %q", msg)
	}

	optional := domain.FieldSchema{Name: "nickname", Type: domain.FieldTypeText}
	if msg := v.ValidateField("", optional); msg != "" {
		t.Fatalf("expected empty optional value to pass, got %q", msg)
	}
}

func TestValidateFieldNumber(t *testing.T) {
	v := NewFieldValidator()

	cases := []struct {
		name    string
		value   string
		rules   map[string]any
		wantErr string
	}{
		{"valid integer", "42", nil, ""},
		{"valid decimal", "-3.14", nil, ""},
		{"email pasted into number", "jane@example.com", nil, "appears to contain an email address"},
		{"url pasted into number", "https://example.com/price", nil, "appears to contain a URL"},
		{"not a number", "abc", nil, "must be a valid number"},
		{"nan rejected", "NaN", nil, "must be a valid number"},
		{"infinity rejected", "Inf", nil, "must be a valid number"},
		{"negative infinity rejected", "-Infinity", nil, "must be a valid number"},
		{"positive sign ok", "5", map[string]any{"sign": "positive"}, ""},
		{"positive sign zero fails", "0", map[string]any{"sign": "positive"}, "must be a positive number"},
		{"positive sign negative fails", "-1", map[string]any{"sign": "positive"}, "must be a positive number"},
		{"negative sign ok", "-2.5", map[string]any{"sign": "negative"}, ""},
		{"negative sign fails", "3", map[string]any{"sign": "negative"}, "must be a negative number"},
	}

	for _, tc := range cases {
		field := domain.FieldSchema{Name: "amount", Type: domain.FieldTypeNumber, ExtraRules: tc.rules}
		msg := v.ValidateField(tc.value, field)
		if tc.wantErr == "" && msg != "" {
			t.Errorf("%s: expected valid, got %q", tc.name, msg)
		}
		if tc.wantErr != "" && !strings.Contains(msg, tc.wantErr) {
			t.Errorf("%s: expected message containing %q, got %q", tc.name, tc.wantErr, msg)
		}
	}
}

func TestValidateFieldDateDeclaredFormatWins(t *testing.T) {
	v := NewFieldValidator()
	field := domain.FieldSchema{
		Name:       "start_date",
		Type:       domain.FieldTypeDate,
		ExtraRules: map[string]any{"format": "MM/DD/YYYY"},
	}

	// A perfectly valid ISO date still fails when the declared format differs.
	if msg := v.ValidateField("2024-01-05", field); msg == "" {
		t.Fatal("expected ISO date to fail under declared MM/DD/YYYY format")
	}
	if msg := v.ValidateField("01/05/2024", field); msg != "" {
		t.Fatalf("expected MM/DD/YYYY value to pass, got %q", msg)
	}
	// Alternate delimiters are allowed within the declared ordering.
	if msg := v.ValidateField("01-05-2024", field); msg != "" {
		t.Fatalf("expected dashed MM-DD-YYYY value to pass, got %q", msg)
	}
	// Structure matches but the calendar date does not exist.
	if msg := v.ValidateField("13/45/2024", field); !strings.Contains(msg, "valid date") {
		t.Fatalf("expected calendar failure, got %q", msg)
	}
}

func TestValidateFieldDateAnyFormat(t *testing.T) {
	v := NewFieldValidator()
	field := domain.FieldSchema{Name: "when", Type: domain.FieldTypeDate}

	valid := []string{
		"2024-09-18",
		"2024/09/18",
		"2024.09.18",
		"09/18/2024",
		"18/09/2024",
		"2024-09-18 12:30:00",
		"2024-09-18T12:30:00Z",
		"20240918",
		"202409",
	}
	for _, value := range valid {
		if msg := v.ValidateField(value, field); msg != "" {
			t.Errorf("expected %q to pass under Any format, got %q", value, msg)
		}
	}

	if msg := v.ValidateField("12345", field); !strings.Contains(msg, "not just numbers") {
		t.Errorf("expected bare digit rejection, got %q", msg)
	}
	if msg := v.ValidateField("next tuesday", field); msg == "" {
		t.Error("expected free-text date to fail")
	}
}

func TestValidateFieldBooleanTemplates(t *testing.T) {
	v := NewFieldValidator()

	// With no template set, every common representation is accepted.
	anyField := domain.FieldSchema{Name: "active", Type: domain.FieldTypeBoolean}
	for _, value := range []string{"1", "yes", "TRUE", "off", "n"} {
		if msg := v.ValidateField(value, anyField); msg != "" {
			t.Errorf("expected %q to pass with default template, got %q", value, msg)
		}
	}
	if msg := v.ValidateField("maybe", anyField); msg == "" {
		t.Error("expected 'maybe' to fail boolean validation")
	}

	strict := domain.FieldSchema{
		Name:       "active",
		Type:       domain.FieldTypeBoolean,
		ExtraRules: map[string]any{"template": "1/0"},
	}
	if msg := v.ValidateField("1", strict); msg != "" {
		t.Errorf("expected '1' to pass 1/0 template, got %q", msg)
	}
	if msg := v.ValidateField("yes", strict); msg == "" {
		t.Error("expected 'yes' to fail 1/0 template")
	}

	underscore := domain.FieldSchema{
		Name:       "active",
		Type:       domain.FieldTypeBoolean,
		ExtraRules: map[string]any{"template": "yes_no"},
	}
	if msg := v.ValidateField("y", underscore); msg != "" {
		t.Errorf("expected underscore template variant to normalize, got %q", msg)
	}
}

func TestValidateFieldEmailAndPhone(t *testing.T) {
	v := NewFieldValidator()

	email := domain.FieldSchema{Name: "email", Type: domain.FieldTypeEmail}
	if msg := v.ValidateField("jane@example.com", email); msg != "" {
		t.Fatalf("expected valid email, got %q", msg)
	}
	if msg := v.ValidateField("bad-email", email); !strings.Contains(msg, "valid email address") {
		t.Fatalf("expected email failure, got %q", msg)
	}

	phone := domain.FieldSchema{Name: "phone", Type: domain.FieldTypePhone}
	if msg := v.ValidateField("+1 555-123-4567", phone); msg != "" {
		t.Fatalf("expected valid phone, got %q", msg)
	}
	if msg := v.ValidateField("123", phone); msg == "" {
		t.Fatal("expected too-short phone to fail")
	}
}

func TestValidateFieldSelect(t *testing.T) {
	v := NewFieldValidator()

	field := domain.FieldSchema{
		Name:       "status",
		Type:       domain.FieldTypeSelect,
		ExtraRules: map[string]any{"options": "Active, Inactive, Pending"},
	}
	if msg := v.ValidateField("active", field); msg != "" {
		t.Fatalf("expected case-insensitive match, got %q", msg)
	}
	if msg := v.ValidateField("archived", field); !strings.Contains(msg, "must be one of") {
		t.Fatalf("expected select failure, got %q", msg)
	}

	listField := domain.FieldSchema{
		Name:       "status",
		Type:       domain.FieldTypeSelect,
		ExtraRules: map[string]any{"options": []any{"red", "green"}},
	}
	if msg := v.ValidateField("GREEN", listField); msg != "" {
		t.Fatalf("expected list options to match, got %q", msg)
	}
}

func TestValidateFieldTextLength(t *testing.T) {
	v := NewFieldValidator()
	field := domain.FieldSchema{
		Name:       "code",
		Type:       domain.FieldTypeText,
		ExtraRules: map[string]any{"min_length": float64(3), "max_length": float64(5)},
	}

	if msg := v.ValidateField("abcd", field); msg != "" {
		t.Fatalf("expected in-range length, got %q", msg)
	}
	if msg := v.ValidateField("ab", field); !strings.Contains(msg, "at least 3 characters") {
		t.Fatalf("expected min length failure, got %q", msg)
	}
	if msg := v.ValidateField("abcdef", field); !strings.Contains(msg, "maximum length of 5") {
		t.Fatalf("expected max length failure, got %q", msg)
	}
}

func TestValidateFieldCustomPattern(t *testing.T) {
	v := NewFieldValidator()

	field := domain.FieldSchema{
		Name:       "sku",
		Type:       domain.FieldTypeCustomRegex,
		ExtraRules: map[string]any{"pattern": `[A-Z]{3}-\d{4}`},
	}
	if msg := v.ValidateField("ABC-1234", field); msg != "" {
		t.Fatalf("expected pattern match, got %q", msg)
	}
	if msg := v.ValidateField("lowercase", field); !strings.Contains(msg, "required pattern") {
		t.Fatalf("expected pattern failure, got %q", msg)
	}

	// A malformed pattern leaves the value unvalidated instead of failing rows.
	broken := domain.FieldSchema{
		Name:       "sku",
		Type:       domain.FieldTypeCustomRegex,
		ExtraRules: map[string]any{"pattern": `([unclosed`},
	}
	if msg := v.ValidateField("anything", broken); msg != "" {
		t.Fatalf("expected malformed pattern to pass values through, got %q", msg)
	}
}

func TestValidateFieldDeterministic(t *testing.T) {
	v := NewFieldValidator()
	field := domain.FieldSchema{
		Name:       "amount",
		Type:       domain.FieldTypeNumber,
		ExtraRules: map[string]any{"sign": "positive"},
	}

	first := v.ValidateField("-10", field)
	for i := 0; i < 5; i++ {
		if got := v.ValidateField("-10", field); got != first {
			t.Fatalf("validator not deterministic: %q vs %q", first, got)
		}
	}
}

func TestValidateFieldUnknownTypePasses(t *testing.T) {
	v := NewFieldValidator()
	field := domain.FieldSchema{Name: "misc", Type: "geojson"}
	if msg := v.ValidateField("anything at all", field); msg != "" {
		t.Fatalf("expected unknown type to pass, got %q", msg)
	}
}
