package format

import (
	"bytes"
	"fmt"

	"github.com/JonMunkholm/impex/internal/core"
	"gopkg.in/yaml.v3"
)

// YAMLFormat reads and writes a sequence of flat mappings. Keys become
// columns in first-seen order.
type YAMLFormat struct{}

var _ core.TabularFormat = YAMLFormat{}

// YAML returns the YAML format.
func YAML() YAMLFormat { return YAMLFormat{} }

func (YAMLFormat) Name() string         { return "yaml" }
func (YAMLFormat) Extensions() []string { return []string{"yaml", "yml"} }
func (YAMLFormat) ContentType() string  { return "application/yaml" }

func (YAMLFormat) Parse(data []byte) (*core.Dataset, error) {
	data = cleanText(data)
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errEmptyFile
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid yaml: %w", err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 || doc.Content[0].Kind != yaml.SequenceNode {
		return nil, fmt.Errorf("invalid yaml: want a list of mappings")
	}

	var (
		headers []string
		index   = map[string]int{}
		objects []map[string]string
	)
	for _, item := range doc.Content[0].Content {
		if item.Kind != yaml.MappingNode {
			return nil, fmt.Errorf("invalid yaml: line %d: want a mapping", item.Line)
		}
		obj := map[string]string{}
		for i := 0; i+1 < len(item.Content); i += 2 {
			key, value := item.Content[i], item.Content[i+1]
			if value.Kind != yaml.ScalarNode {
				return nil, fmt.Errorf("invalid yaml: line %d: %s must be a scalar", value.Line, key.Value)
			}
			if _, ok := index[key.Value]; !ok {
				index[key.Value] = len(headers)
				headers = append(headers, key.Value)
			}
			if value.Tag != "!!null" {
				obj[key.Value] = value.Value
			}
		}
		objects = append(objects, obj)
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

// Render writes one mapping per row with string values in header order.
func (YAMLFormat) Render(ds *core.Dataset) ([]byte, error) {
	seq := &yaml.Node{Kind: yaml.SequenceNode}
	for _, row := range ds.Rows {
		m := &yaml.Node{Kind: yaml.MappingNode}
		for j, h := range ds.Headers {
			m.Content = append(m.Content,
				&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: h},
				&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: cell(row, j)},
			)
		}
		seq.Content = append(seq.Content, m)
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{seq}}); err != nil {
		return nil, fmt.Errorf("write yaml: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("write yaml: %w", err)
	}
	return buf.Bytes(), nil
}
