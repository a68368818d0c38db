package core

import (
	"path"
	"sort"
	"strings"
)

// FormatRegistry resolves tabular formats by file extension.
type FormatRegistry struct {
	byExt map[string]TabularFormat
}

// NewFormatRegistry indexes formats by each of their extensions. Later
// formats do not override earlier ones.
func NewFormatRegistry(formats ...TabularFormat) *FormatRegistry {
	r := &FormatRegistry{byExt: make(map[string]TabularFormat)}
	for _, f := range formats {
		for _, ext := range f.Extensions() {
			ext = normalizeExt(ext)
			if _, ok := r.byExt[ext]; !ok {
				r.byExt[ext] = f
			}
		}
	}
	return r
}

// Lookup returns the format handling ext ("csv" or ".csv").
func (r *FormatRegistry) Lookup(ext string) (TabularFormat, error) {
	ext = normalizeExt(ext)
	if f, ok := r.byExt[ext]; ok {
		return f, nil
	}
	return nil, &UnsupportedFormatError{Ext: ext, Supported: r.Extensions()}
}

// ForFile returns the format for a file name by its extension.
func (r *FormatRegistry) ForFile(name string) (TabularFormat, string, error) {
	ext := normalizeExt(path.Ext(name))
	f, err := r.Lookup(ext)
	return f, ext, err
}

// Extensions lists every supported extension in sorted order.
func (r *FormatRegistry) Extensions() []string {
	exts := make([]string, 0, len(r.byExt))
	for ext := range r.byExt {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

func normalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
}
