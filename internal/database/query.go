package database

import (
	"fmt"
	"strings"

	"github.com/JonMunkholm/impex/internal/core"
	"github.com/jackc/pgx/v5"
)

func quoteIdentifier(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

// buildFilter generates SQL for a single filter. Text operators compare
// the column's text form so they work on any column type.
func buildFilter(f core.Filter, argIdx int) (string, []any, int, error) {
	col := quoteIdentifier(f.Attribute)
	text := col + "::text"

	switch f.Operator {
	case core.OpEquals, "":
		if f.Value == nil {
			return col + " IS NULL", nil, argIdx, nil
		}
		if _, ok := f.Value.(string); ok {
			col = text
		}
		return fmt.Sprintf("%s = $%d", col, argIdx), []any{f.Value}, argIdx + 1, nil

	case core.OpIEquals:
		return fmt.Sprintf("lower(%s) = lower($%d)", text, argIdx),
			[]any{core.RenderValue(f.Value)}, argIdx + 1, nil

	case core.OpContains:
		return fmt.Sprintf("%s LIKE $%d", text, argIdx),
			[]any{"%" + escapeLike(core.RenderValue(f.Value)) + "%"}, argIdx + 1, nil

	case core.OpStartsWith:
		return fmt.Sprintf("%s LIKE $%d", text, argIdx),
			[]any{escapeLike(core.RenderValue(f.Value)) + "%"}, argIdx + 1, nil

	case core.OpEndsWith:
		return fmt.Sprintf("%s LIKE $%d", text, argIdx),
			[]any{"%" + escapeLike(core.RenderValue(f.Value))}, argIdx + 1, nil

	case core.OpGreaterEq:
		return fmt.Sprintf("%s >= $%d", col, argIdx), []any{f.Value}, argIdx + 1, nil

	case core.OpLessEq:
		return fmt.Sprintf("%s <= $%d", col, argIdx), []any{f.Value}, argIdx + 1, nil

	case core.OpGreater:
		return fmt.Sprintf("%s > $%d", col, argIdx), []any{f.Value}, argIdx + 1, nil

	case core.OpLess:
		return fmt.Sprintf("%s < $%d", col, argIdx), []any{f.Value}, argIdx + 1, nil

	case core.OpIn:
		values, ok := f.Value.([]any)
		if !ok {
			return "", nil, argIdx, fmt.Errorf("filter %s__in: want a list, got %T", f.Attribute, f.Value)
		}
		if len(values) == 0 {
			return "FALSE", nil, argIdx, nil
		}
		placeholders := make([]string, len(values))
		for i := range values {
			placeholders[i] = fmt.Sprintf("$%d", argIdx+i)
		}
		return fmt.Sprintf("%s IN (%s)", col, strings.Join(placeholders, ", ")),
			values, argIdx + len(values), nil

	case core.OpIRegex:
		return fmt.Sprintf("%s ~* $%d", text, argIdx),
			[]any{core.RenderValue(f.Value)}, argIdx + 1, nil

	default:
		return "", nil, argIdx, fmt.Errorf("filter %s: unsupported operator %q", f.Attribute, f.Operator)
	}
}

// buildWhere joins filters with AND. It returns "" for no filters.
func buildWhere(filters []core.Filter, argIdx int) (string, []any, error) {
	if len(filters) == 0 {
		return "", nil, nil
	}
	var (
		clauses []string
		args    []any
	)
	for _, f := range filters {
		clause, fargs, next, err := buildFilter(f, argIdx)
		if err != nil {
			return "", nil, err
		}
		clauses = append(clauses, clause)
		args = append(args, fargs...)
		argIdx = next
	}
	return " WHERE " + strings.Join(clauses, " AND "), args, nil
}

// buildOrder renders sort specs. NULLs sort first ascending, matching the
// in-memory store.
func buildOrder(sorts []core.SortSpec) string {
	if len(sorts) == 0 {
		return ""
	}
	parts := make([]string, len(sorts))
	for i, s := range sorts {
		if s.Desc {
			parts[i] = quoteIdentifier(s.Attribute) + " DESC NULLS LAST"
		} else {
			parts[i] = quoteIdentifier(s.Attribute) + " ASC NULLS FIRST"
		}
	}
	return " ORDER BY " + strings.Join(parts, ", ")
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
