package format

import (
	"bytes"
	"fmt"

	"github.com/JonMunkholm/impex/internal/core"
	"github.com/xuri/excelize/v2"
)

const xlsxSheet = "Sheet1"

// XLSXFormat reads the first worksheet of a workbook and writes a
// single-sheet workbook.
type XLSXFormat struct{}

var _ core.TabularFormat = XLSXFormat{}

// XLSX returns the Excel workbook format.
func XLSX() XLSXFormat { return XLSXFormat{} }

func (XLSXFormat) Name() string         { return "xlsx" }
func (XLSXFormat) Extensions() []string { return []string{"xlsx"} }
func (XLSXFormat) ContentType() string {
	return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
}

func (XLSXFormat) Parse(data []byte) (*core.Dataset, error) {
	if len(data) == 0 {
		return nil, errEmptyFile
	}

	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("invalid xlsx: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errEmptyFile
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("invalid xlsx: %w", err)
	}
	if len(rows) == 0 {
		return nil, errEmptyFile
	}
	return newDataset(rows[0], rows[1:]), nil
}

func (XLSXFormat) Render(ds *core.Dataset) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := writeRow(f, 1, ds.Headers); err != nil {
		return nil, err
	}
	for i, row := range ds.Rows {
		if err := writeRow(f, i+2, row); err != nil {
			return nil, err
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write xlsx: %w", err)
	}
	return buf.Bytes(), nil
}

func writeRow(f *excelize.File, n int, row []string) error {
	ref, err := excelize.CoordinatesToCellName(1, n)
	if err != nil {
		return err
	}
	values := make([]any, len(row))
	for i, v := range row {
		values[i] = v
	}
	if err := f.SetSheetRow(xlsxSheet, ref, &values); err != nil {
		return fmt.Errorf("write xlsx row %d: %w", n, err)
	}
	return nil
}
