package domain

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestConflictJSONHeaderSentinel(t *testing.T) {
	structural := Conflict{Row: HeaderRow, Field: "email", Message: "Required column 'email' is missing"}
	encoded, err := json.Marshal(structural)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if want := `"row":"Header"`; !json.Valid(encoded) || !strings.Contains(string(encoded), want) {
		t.Fatalf("expected %s in %s", want, encoded)
	}

	var decoded Conflict
	if err := json.Unmarshal(encoded, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Row != HeaderRow || decoded.Type() != ConflictStructural {
		t.Fatalf("expected structural conflict round trip, got %+v", decoded)
	}

	cell := Conflict{Row: 3, Field: "amount", Message: "amount must be a valid number"}
	encoded, err = json.Marshal(cell)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(encoded), `"row":3`) {
		t.Fatalf("expected numeric row in %s", encoded)
	}
	if err := json.Unmarshal(encoded, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Row != 3 || decoded.Type() != ConflictValidation {
		t.Fatalf("expected validation conflict round trip, got %+v", decoded)
	}
}

func TestErrorRowCount(t *testing.T) {
	job := NewImportJob(uuid.New(), SourceAPI)
	job.RowCount = 10
	job.Errors = []Conflict{
		{Row: 1, Field: "email", Message: "bad"},
		{Row: 1, Field: "amount", Message: "bad"},
		{Row: 4, Field: "email", Message: "bad"},
	}

	if got := job.ErrorRowCount(); got != 2 {
		t.Fatalf("expected 2 distinct error rows, got %d", got)
	}

	// One structural conflict marks the whole file as failed.
	job.Errors = append(job.Errors, Conflict{Row: HeaderRow, Field: "name", Message: "missing"})
	if got := job.ErrorRowCount(); got != 10 {
		t.Fatalf("expected all rows counted with structural error, got %d", got)
	}
}

func TestResolveStatus(t *testing.T) {
	job := NewImportJob(uuid.New(), SourcePortal)
	if got := job.ResolveStatus(); got != StatusCompleted {
		t.Fatalf("expected COMPLETED with no errors, got %s", got)
	}
	job.Errors = []Conflict{{Row: 1, Field: "email", Message: "bad"}}
	if got := job.ResolveStatus(); got != StatusUncompleted {
		t.Fatalf("expected UNCOMPLETED with errors, got %s", got)
	}
}

func TestNormalizeExtraRules(t *testing.T) {
	// Legacy bare-string sign rule.
	rules := NormalizeExtraRules(FieldTypeNumber, "positive")
	if rules["sign"] != "positive" {
		t.Fatalf("expected sign rule from bare string, got %v", rules)
	}

	// JSON-encoded rule object.
	rules = NormalizeExtraRules(FieldTypeSelect, `{"options": "a,b,c"}`)
	if rules["options"] != "a,b,c" {
		t.Fatalf("expected decoded options, got %v", rules)
	}

	// validation_format folds into the type-specific key.
	rules = NormalizeExtraRules(FieldTypeDate, map[string]any{"validation_format": "YYYY-MM-DD"})
	if rules["format"] != "YYYY-MM-DD" {
		t.Fatalf("expected format from validation_format, got %v", rules)
	}
	if _, ok := rules["validation_format"]; ok {
		t.Fatal("validation_format should be removed after folding")
	}

	rules = NormalizeExtraRules(FieldTypeCustomRegex, map[string]any{"validation_format": `^\d+$`})
	if rules["pattern"] != `^\d+$` {
		t.Fatalf("expected pattern from validation_format, got %v", rules)
	}

	// Boolean templates normalize underscores and case.
	rules = NormalizeExtraRules(FieldTypeBoolean, map[string]any{"template": "Yes_No"})
	if rules["template"] != "yes/no" {
		t.Fatalf("expected normalized template, got %v", rules)
	}

	// Always a non-nil map.
	if rules := NormalizeExtraRules(FieldTypeText, nil); rules == nil {
		t.Fatal("expected non-nil rules map")
	}
}
