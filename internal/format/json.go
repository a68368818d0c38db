package format

import (
	"bytes"
	"fmt"

	"github.com/JonMunkholm/impex/internal/core"
	jsoniter "github.com/json-iterator/go"
)

// JSONFormat reads and writes an array of flat objects. Keys become
// columns in first-seen order.
type JSONFormat struct{}

var _ core.TabularFormat = JSONFormat{}

// JSON returns the JSON format.
func JSON() JSONFormat { return JSONFormat{} }

func (JSONFormat) Name() string         { return "json" }
func (JSONFormat) Extensions() []string { return []string{"json"} }
func (JSONFormat) ContentType() string  { return "application/json" }

func (JSONFormat) Parse(data []byte) (*core.Dataset, error) {
	data = cleanText(data)
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errEmptyFile
	}

	iter := jsoniter.ParseBytes(jsoniter.ConfigCompatibleWithStandardLibrary, data)
	if iter.WhatIsNext() != jsoniter.ArrayValue {
		return nil, fmt.Errorf("invalid json: want an array of objects")
	}

	var (
		headers []string
		index   = map[string]int{}
		objects []map[string]string
	)
	iter.ReadArrayCB(func(it *jsoniter.Iterator) bool {
		if it.WhatIsNext() != jsoniter.ObjectValue {
			it.ReportError("read row", "want an object")
			return false
		}
		obj := map[string]string{}
		it.ReadObjectCB(func(it *jsoniter.Iterator, key string) bool {
			if _, ok := index[key]; !ok {
				index[key] = len(headers)
				headers = append(headers, key)
			}
			obj[key] = readScalar(it)
			return it.Error == nil
		})
		objects = append(objects, obj)
		return it.Error == nil
	})
	if iter.Error != nil {
		return nil, fmt.Errorf("invalid json: %w", iter.Error)
	}

	rows := make([][]string, len(objects))
	for i, obj := range objects {
		row := make([]string, len(headers))
		for j, h := range headers {
			row[j] = obj[h]
		}
		rows[i] = row
	}
	return newDataset(headers, rows), nil
}

func readScalar(it *jsoniter.Iterator) string {
	switch it.WhatIsNext() {
	case jsoniter.StringValue:
		return it.ReadString()
	case jsoniter.NumberValue:
		return string(it.ReadNumber())
	case jsoniter.BoolValue:
		return core.RenderValue(it.ReadBool())
	case jsoniter.NilValue:
		it.ReadNil()
		return ""
	default:
		it.Skip()
		it.ReportError("read cell", "nested values are not supported")
		return ""
	}
}

// Render writes one object per row with keys in header order.
func (JSONFormat) Render(ds *core.Dataset) ([]byte, error) {
	var buf bytes.Buffer
	stream := jsoniter.NewStream(jsoniter.ConfigCompatibleWithStandardLibrary, &buf, 4096)

	stream.WriteArrayStart()
	for i, row := range ds.Rows {
		if i > 0 {
			stream.WriteMore()
		}
		stream.WriteObjectStart()
		for j, h := range ds.Headers {
			if j > 0 {
				stream.WriteMore()
			}
			stream.WriteObjectField(h)
			stream.WriteString(cell(row, j))
		}
		stream.WriteObjectEnd()
	}
	stream.WriteArrayEnd()

	if err := stream.Flush(); err != nil {
		return nil, fmt.Errorf("write json: %w", err)
	}
	if stream.Error != nil {
		return nil, fmt.Errorf("write json: %w", stream.Error)
	}
	return buf.Bytes(), nil
}
