package core

import (
	"context"
	"fmt"
	"strings"
)

// convertScalar turns a cleaned cell into the typed value stored for spec.
// An empty cell converts to nil.
func convertScalar(raw string, spec FieldSpec) (any, error) {
	if raw == "" {
		return nil, nil
	}
	if err := ValidateCell(raw, spec); err != nil {
		return nil, err
	}

	switch spec.Type {
	case FieldDate:
		t, _ := ParseDate(raw)
		return t, nil
	case FieldNumeric:
		f, _ := ParseNumeric(raw)
		return f, nil
	case FieldInteger:
		i, _ := ParseInteger(raw)
		return i, nil
	case FieldBool:
		b, _ := ParseBool(raw)
		return b, nil
	case FieldEnum:
		for _, ev := range spec.EnumValues {
			if strings.EqualFold(ev, raw) {
				return ev, nil
			}
		}
		return raw, nil
	default:
		return raw, nil
	}
}

// resolveForeignKey finds the id of the entity referenced by raw.
func resolveForeignKey(ctx context.Context, store EntityStore, spec FieldSpec, raw string) (Entity, error) {
	fk := spec.ForeignKey
	lookup := fk.Lookup
	if lookup == "" {
		lookup = IDAttribute
	}

	matches, err := store.Find(ctx, fk.Entity, Query{Filters: []Filter{Eq(lookup, raw)}, Limit: 2})
	if err != nil {
		return nil, fmt.Errorf("lookup %s: %w", fk.Entity, err)
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("%s with %s %q does not exist", fk.Entity, lookup, raw)
	case 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("more than one %s with %s %q", fk.Entity, lookup, raw)
	}
}

// renderField renders one field of a stored entity.
func renderField(ctx context.Context, store EntityStore, spec FieldSpec, e Entity) (string, error) {
	switch spec.Type {
	case FieldRelation:
		return spec.Relation.Encode(ctx, store, e)
	case FieldForeignKey:
		id := e[spec.AttributeName()]
		if id == nil {
			return "", nil
		}
		related, err := store.Find(ctx, spec.ForeignKey.Entity, Query{Filters: []Filter{Eq(IDAttribute, id)}, Limit: 1})
		if err != nil {
			return "", fmt.Errorf("lookup %s: %w", spec.ForeignKey.Entity, err)
		}
		if len(related) == 0 {
			return "", nil
		}
		lookup := spec.ForeignKey.Lookup
		if lookup == "" {
			lookup = IDAttribute
		}
		return RenderValue(related[0][lookup]), nil
	default:
		return RenderValue(e[spec.AttributeName()]), nil
	}
}
