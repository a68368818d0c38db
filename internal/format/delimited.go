package format

import (
	"bytes"
	"encoding/csv"
	"fmt"

	"github.com/JonMunkholm/impex/internal/core"
)

// Delimited reads and writes character-separated text files.
type Delimited struct {
	name        string
	comma       rune
	exts        []string
	contentType string
}

var _ core.TabularFormat = (*Delimited)(nil)

// CSV returns the comma-separated format.
func CSV() *Delimited {
	return &Delimited{name: "csv", comma: ',', exts: []string{"csv"}, contentType: "text/csv"}
}

// TSV returns the tab-separated format.
func TSV() *Delimited {
	return &Delimited{name: "tsv", comma: '\t', exts: []string{"tsv"}, contentType: "text/tab-separated-values"}
}

func (d *Delimited) Name() string         { return d.name }
func (d *Delimited) Extensions() []string { return d.exts }
func (d *Delimited) ContentType() string  { return d.contentType }

// Parse reads the first record as the header. Rows may be shorter or
// longer than the header.
func (d *Delimited) Parse(data []byte) (*core.Dataset, error) {
	data = cleanText(data)
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errEmptyFile
	}

	r := csv.NewReader(bytes.NewReader(data))
	r.Comma = d.comma
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", d.name, err)
	}
	if len(records) == 0 {
		return nil, errEmptyFile
	}
	return newDataset(records[0], records[1:]), nil
}

// Render writes the header followed by every row.
func (d *Delimited) Render(ds *core.Dataset) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Comma = d.comma

	if err := w.Write(ds.Headers); err != nil {
		return nil, err
	}
	for _, row := range ds.Rows {
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("write %s: %w", d.name, err)
	}
	return buf.Bytes(), nil
}
