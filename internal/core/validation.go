package core

// Cells are checked in two passes. ValidateHeaders runs once per dataset
// and fails the whole job when a required column is absent. ValidateCell
// runs per scalar cell; its failures become row-level validation errors
// grouped by column on the row outcome.

import (
	"errors"
	"fmt"
	"strings"
)

// ValidationError is one problem with one cell of a row.
type ValidationError struct {
	Field   string // column header
	Value   string // offending cell, empty for a missing value
	Message string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// groupValidationErrors keys messages by column, keeping their order.
func groupValidationErrors(errs []ValidationError) map[string][]string {
	if len(errs) == 0 {
		return nil
	}
	grouped := make(map[string][]string, len(errs))
	for _, e := range errs {
		grouped[e.Field] = append(grouped[e.Field], e.Message)
	}
	return grouped
}

// requiredEmpty reports a required column holding no value.
func requiredEmpty(spec FieldSpec, raw string) *ValidationError {
	if raw != "" || !spec.Required || spec.AllowEmpty {
		return nil
	}
	return &ValidationError{Field: spec.Name, Message: "required field is empty"}
}

var cellCheckers = map[FieldType]struct {
	ok  func(string) bool
	msg string
}{
	FieldNumeric: {func(v string) bool { _, ok := ParseNumeric(v); return ok }, "invalid number format"},
	FieldInteger: {func(v string) bool { _, ok := ParseInteger(v); return ok }, "must be a whole number"},
	FieldDate:    {func(v string) bool { _, ok := ParseDate(v); return ok }, "invalid date format (use YYYY-MM-DD or similar)"},
	FieldBool:    {func(v string) bool { _, ok := ParseBool(v); return ok }, "must be yes/no, true/false, or 1/0"},
}

// ValidateCell checks a scalar cell against its field. Empty cells pass;
// whether they are allowed is decided by requiredEmpty.
func ValidateCell(value string, spec FieldSpec) error {
	if value == "" {
		return nil
	}
	if spec.Type == FieldEnum {
		return validateEnum(value, spec.EnumValues)
	}
	if c, ok := cellCheckers[spec.Type]; ok && !c.ok(value) {
		return errors.New(c.msg)
	}
	return nil
}

func validateEnum(value string, allowed []string) error {
	if len(allowed) == 0 {
		return nil
	}
	for _, ev := range allowed {
		if strings.EqualFold(ev, value) {
			return nil
		}
	}
	return fmt.Errorf("value must be one of: %s", strings.Join(allowed, ", "))
}

// ValidateHeaders indexes the header row and fails with ErrMissingColumns
// naming every writable required column it lacks.
func ValidateHeaders(headers []string, specs []FieldSpec) (HeaderIndex, error) {
	idx := MakeHeaderIndex(headers)

	var missing []string
	for _, spec := range specs {
		if !spec.Required || spec.ReadOnly {
			continue
		}
		if _, ok := idx[strings.ToLower(spec.Name)]; !ok {
			missing = append(missing, spec.Name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumns, strings.Join(missing, ", "))
	}
	return idx, nil
}
