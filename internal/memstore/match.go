package memstore

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/JonMunkholm/impex/internal/core"
)

func matchAll(row core.Entity, filters []core.Filter) (bool, error) {
	for _, f := range filters {
		ok, err := match(row[f.Attribute], f)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func match(v any, f core.Filter) (bool, error) {
	switch f.Operator {
	case core.OpEquals, "":
		return equal(v, f.Value), nil
	case core.OpIEquals:
		return strings.EqualFold(core.RenderValue(v), core.RenderValue(f.Value)), nil
	case core.OpContains:
		return strings.Contains(core.RenderValue(v), core.RenderValue(f.Value)), nil
	case core.OpStartsWith:
		return strings.HasPrefix(core.RenderValue(v), core.RenderValue(f.Value)), nil
	case core.OpEndsWith:
		return strings.HasSuffix(core.RenderValue(v), core.RenderValue(f.Value)), nil
	case core.OpGreater:
		return v != nil && compare(v, f.Value) > 0, nil
	case core.OpGreaterEq:
		return v != nil && compare(v, f.Value) >= 0, nil
	case core.OpLess:
		return v != nil && compare(v, f.Value) < 0, nil
	case core.OpLessEq:
		return v != nil && compare(v, f.Value) <= 0, nil
	case core.OpIn:
		values, ok := f.Value.([]any)
		if !ok {
			return false, fmt.Errorf("filter %s__in: want a list, got %T", f.Attribute, f.Value)
		}
		for _, candidate := range values {
			if equal(v, candidate) {
				return true, nil
			}
		}
		return false, nil
	case core.OpIRegex:
		re, err := regexp.Compile("(?i)" + core.RenderValue(f.Value))
		if err != nil {
			return false, fmt.Errorf("filter %s__iregex: %w", f.Attribute, err)
		}
		return v != nil && re.MatchString(core.RenderValue(v)), nil
	default:
		return false, fmt.Errorf("filter %s: unsupported operator %q", f.Attribute, f.Operator)
	}
}

// equal compares loosely so that a cell string matches the typed stored
// value it converts to ("3" equals int64(3)).
func equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return compare(a, b) == 0
}

// compare orders nil first, then numbers numerically, times
// chronologically and everything else by rendered text.
func compare(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}

	if ta, ok := a.(time.Time); ok {
		if tb, ok := b.(time.Time); ok {
			return ta.Compare(tb)
		}
	}

	fa, aNum := number(a)
	fb, bNum := number(b)
	if aNum && bNum {
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	}

	return strings.Compare(core.RenderValue(a), core.RenderValue(b))
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}
