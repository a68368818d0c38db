// Package format implements the tabular file formats jobs read and write.
package format

import (
	"bytes"
	"errors"
	"strings"

	"github.com/JonMunkholm/impex/internal/core"
)

var errEmptyFile = errors.New("empty file")

// All returns every supported format.
func All() []core.TabularFormat {
	return []core.TabularFormat{CSV(), TSV(), JSON(), YAML(), XLSX()}
}

// NewRegistry returns a registry over All.
func NewRegistry() *core.FormatRegistry {
	return core.NewFormatRegistry(All()...)
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// cleanText strips a UTF-8 byte order mark and replaces invalid UTF-8
// sequences with '?'. Spreadsheet exports on Windows produce both.
func cleanText(data []byte) []byte {
	data = bytes.TrimPrefix(data, utf8BOM)
	return bytes.ToValidUTF8(data, []byte("?"))
}

// newDataset builds a Dataset from a header row and data rows, trimming
// header names and dropping rows where every cell is blank.
func newDataset(header []string, rows [][]string) *core.Dataset {
	ds := &core.Dataset{Headers: make([]string, len(header))}
	for i, h := range header {
		ds.Headers[i] = strings.TrimSpace(h)
	}
	for _, row := range rows {
		if blank(row) {
			continue
		}
		ds.Rows = append(ds.Rows, row)
	}
	return ds
}

func blank(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

// cell returns row[i], or "" for short rows.
func cell(row []string, i int) string {
	if i < len(row) {
		return row[i]
	}
	return ""
}
