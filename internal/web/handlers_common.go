package web

import (
	"net/http"
	"strconv"

	"github.com/JonMunkholm/impex/internal/core"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// listResponse is the paged envelope of job listings.
type listResponse[T any] struct {
	Count   int `json:"count"`
	Limit   int `json:"limit"`
	Offset  int `json:"offset"`
	Results []T `json:"results"`
}

func newListResponse[T any](results []T, total int, f core.JobFilter) listResponse[T] {
	if results == nil {
		results = []T{}
	}
	return listResponse[T]{Count: total, Limit: f.Limit, Offset: f.Offset, Results: results}
}

// parseJobFilter reads status, limit and offset query parameters.
func parseJobFilter(r *http.Request) (core.JobFilter, error) {
	q := r.URL.Query()
	f := core.JobFilter{Status: q.Get("status"), Limit: defaultPageSize}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return f, badRequest("limit must be a positive integer")
		}
		f.Limit = min(n, maxPageSize)
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, badRequest("offset must be a non-negative integer")
		}
		f.Offset = n
	}
	return f, nil
}

// formatInfo describes one supported file format.
type formatInfo struct {
	Extension   string `json:"extension"`
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
}

func (s *Server) handleListFormats(w http.ResponseWriter, r *http.Request) {
	formats := s.service.Formats()
	var out []formatInfo
	for _, ext := range formats.Extensions() {
		f, err := formats.Lookup(ext)
		if err != nil {
			continue
		}
		out = append(out, formatInfo{Extension: ext, Name: f.Name(), ContentType: f.ContentType()})
	}
	writeJSON(w, r, http.StatusOK, out)
}

// resourceInfo describes one importable/exportable resource.
type resourceInfo struct {
	Key        string      `json:"key"`
	Label      string      `json:"label"`
	Fields     []fieldInfo `json:"fields"`
	Formats    []string    `json:"formats"`
	Filterable []string    `json:"filterable,omitempty"`
	Ordering   []string    `json:"ordering,omitempty"`
}

type fieldInfo struct {
	Name       string   `json:"name"`
	Attribute  string   `json:"attribute"`
	Type       string   `json:"type"`
	Required   bool     `json:"required,omitempty"`
	ReadOnly   bool     `json:"read_only,omitempty"`
	EnumValues []string `json:"enum_values,omitempty"`
}

func (s *Server) handleListResources(w http.ResponseWriter, r *http.Request) {
	allFormats := s.service.Formats().Extensions()

	defs := s.service.Registry().All()
	out := make([]resourceInfo, 0, len(defs))
	for _, def := range defs {
		info := resourceInfo{
			Key:        def.Info.Key,
			Label:      def.Info.Label,
			Formats:    def.Formats,
			Filterable: def.Filterable,
			Ordering:   def.Ordering,
		}
		if len(info.Formats) == 0 {
			info.Formats = allFormats
		}
		for _, f := range def.Fields {
			info.Fields = append(info.Fields, fieldInfo{
				Name:       f.Name,
				Attribute:  f.AttributeName(),
				Type:       f.Type.String(),
				Required:   f.Required,
				ReadOnly:   f.ReadOnly,
				EnumValues: f.EnumValues,
			})
		}
		out = append(out, info)
	}
	writeJSON(w, r, http.StatusOK, out)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]any{
		"status":  "ok",
		"uploads": s.uploads.Status(),
	})
}
