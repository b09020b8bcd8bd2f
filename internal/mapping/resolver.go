// Package mapping matches uploaded file headers to importer field schemas.
// Resolution runs in three stages: exact header matches, fuzzy matches for
// what remains, then a final header check that either produces a usable
// column mapping or a set of structural conflicts that fail the job.
package mapping

import (
	"fmt"
	"strings"

	"github.com/tabledeck/importd/internal/domain"
)

// Resolution is the outcome of matching file headers against an importer.
type Resolution struct {
	// Mapping maps importer field names to the file column that feeds them.
	Mapping map[string]string
	// AutoCreated is true when no mapping was provided and one was derived
	// from header matching; callers should persist it back onto the job.
	AutoCreated bool
	// MappedHeaders is the header row with mapped columns renamed to field
	// names, preserving original file order.
	MappedHeaders []string
	// Failed indicates a structural mismatch that should fail the job.
	Failed bool
	// ErrorMessage summarizes the mismatch when Failed is set.
	ErrorMessage string
	// Conflicts carries the header-scoped conflicts when Failed is set.
	Conflicts []domain.Conflict
}

// Resolver derives column mappings between file headers and field schemas.
type Resolver struct{}

// NewResolver creates a new schema resolver
func NewResolver() *Resolver {
	return &Resolver{}
}

// Resolve matches headers against the importer's fields. A provided mapping
// is applied as-is; without one, exact then fuzzy matching auto-creates a
// mapping as long as every required field finds a home. Header order from
// the file is preserved throughout.
func (r *Resolver) Resolve(headers []string, imp domain.Importer, provided map[string]string) Resolution {
	res := Resolution{Mapping: provided}

	fieldNames := imp.FieldNames()
	required := imp.RequiredFieldNames()

	if len(provided) == 0 {
		smart := smartMatch(headers, fieldNames)

		missingRequired := missingFrom(required, keys(smart))
		if len(missingRequired) == 0 && len(smart) > 0 {
			res.Mapping = smart
			res.AutoCreated = true
		}
	}

	res.MappedHeaders = applyMapping(headers, res.Mapping)

	current := make(map[string]struct{}, len(res.MappedHeaders))
	for _, h := range res.MappedHeaders {
		current[h] = struct{}{}
	}

	var overlap int
	for _, name := range fieldNames {
		if _, ok := current[name]; ok {
			overlap++
		}
	}
	missingRequired := missingFrom(required, mapKeysFromSet(current))

	switch {
	case len(missingRequired) > 0:
		res.Failed = true
		res.ErrorMessage = fmt.Sprintf("Required fields are missing: %s", strings.Join(missingRequired, ", "))
		for _, name := range missingRequired {
			res.Conflicts = append(res.Conflicts, domain.Conflict{
				Row:     domain.HeaderRow,
				Field:   name,
				Message: fmt.Sprintf("Required field '%s' is missing from the data file.", name),
			})
		}
	case overlap == 0:
		res.Failed = true
		res.ErrorMessage = "No matching fields found between CSV and importer configuration."
		res.Conflicts = append(res.Conflicts, domain.Conflict{
			Row:     domain.HeaderRow,
			Field:   "Mapping",
			Message: res.ErrorMessage,
		})
	case len(res.Mapping) == 0 && overlap < len(fieldNames):
		res.Failed = true
		res.ErrorMessage = fmt.Sprintf("Only %d of %d fields match. Please provide a column mapping.", overlap, len(fieldNames))
		res.Conflicts = append(res.Conflicts, domain.Conflict{
			Row:     domain.HeaderRow,
			Field:   "Mapping",
			Message: res.ErrorMessage,
		})
	}

	return res
}

// normalizeHeader lowers, trims and strips a single trailing plural 's' so
// that e.g. "Emails" fuzzy-matches a field named "email".
func normalizeHeader(header string) string {
	h := strings.ToLower(strings.TrimSpace(header))
	if len(h) > 1 && strings.HasSuffix(h, "s") {
		return h[:len(h)-1]
	}
	return h
}

// smartMatch pairs importer fields with file headers: exact matches first,
// then fuzzy matches over whatever remains. Each header feeds at most one
// field.
func smartMatch(headers []string, fieldNames []string) map[string]string {
	headerSet := make(map[string]struct{}, len(headers))
	for _, h := range headers {
		headerSet[h] = struct{}{}
	}

	mapping := make(map[string]string)
	claimed := make(map[string]struct{})

	for _, name := range fieldNames {
		if _, ok := headerSet[name]; ok {
			mapping[name] = name
			claimed[name] = struct{}{}
		}
	}

	for _, name := range fieldNames {
		if _, done := mapping[name]; done {
			continue
		}
		normField := normalizeHeader(name)
		for _, header := range headers {
			if _, taken := claimed[header]; taken {
				continue
			}
			if normalizeHeader(header) == normField {
				mapping[name] = header
				claimed[header] = struct{}{}
				break
			}
		}
	}

	return mapping
}

// applyMapping renames file columns to the field names that consume them.
func applyMapping(headers []string, mapping map[string]string) []string {
	if len(mapping) == 0 {
		out := make([]string, len(headers))
		copy(out, headers)
		return out
	}

	reverse := make(map[string]string, len(mapping))
	for field, column := range mapping {
		reverse[column] = field
	}

	out := make([]string, len(headers))
	for i, h := range headers {
		if field, ok := reverse[h]; ok {
			out[i] = field
		} else {
			out[i] = h
		}
	}
	return out
}

func keys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func mapKeysFromSet(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func missingFrom(wanted []string, have []string) []string {
	haveSet := make(map[string]struct{}, len(have))
	for _, h := range have {
		haveSet[h] = struct{}{}
	}
	var missing []string
	for _, w := range wanted {
		if _, ok := haveSet[w]; !ok {
			missing = append(missing, w)
		}
	}
	return missing
}
