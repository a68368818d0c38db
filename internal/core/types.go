package core

import (
	"context"
	"fmt"
	"strings"
)

// FieldType represents the expected data type for a column.
type FieldType int

const (
	FieldText FieldType = iota
	FieldEnum
	FieldDate
	FieldNumeric
	FieldInteger
	FieldBool
	FieldForeignKey
	FieldRelation
)

var fieldTypeNames = [...]string{
	FieldText:       "text",
	FieldEnum:       "enum",
	FieldDate:       "date",
	FieldNumeric:    "numeric",
	FieldInteger:    "integer",
	FieldBool:       "bool",
	FieldForeignKey: "reference",
	FieldRelation:   "relation",
}

func (ft FieldType) String() string {
	if ft < 0 || int(ft) >= len(fieldTypeNames) {
		return "value"
	}
	return fieldTypeNames[ft]
}

// FieldSpec defines how one tabular column maps onto an entity attribute.
type FieldSpec struct {
	Name       string              // Column header name (matched case-insensitively)
	Attribute  string              // Entity attribute; derived from Name when empty
	Type       FieldType           // Expected data type
	Required   bool                // Column must exist in the header and hold a value
	AllowEmpty bool                // If true, empty values are allowed even when Required
	ReadOnly   bool                // Exported but never written on import
	EnumValues []string            // Valid values for FieldEnum type
	Normalizer func(string) string // Optional transformation function

	ForeignKey *ForeignKeySpec // Target of a FieldForeignKey column
	Relation   *RelationCodec  // Codec of a FieldRelation column
}

// AttributeName returns the entity attribute the field reads and writes.
func (f FieldSpec) AttributeName() string {
	if f.Attribute != "" {
		return f.Attribute
	}
	return toAttributeName(f.Name)
}

// ForeignKeySpec resolves a cell value to the id of an entity in another
// collection by matching Lookup.
type ForeignKeySpec struct {
	Entity string
	Lookup string
}

// ResourceInfo contains display information about a resource.
type ResourceInfo struct {
	Key    string // Unique identifier: "artists"
	Label  string // Display name: "Artists"
	Entity string // Store collection/table name
}

// ResourceDefinition is everything needed to import into or export out of
// one entity collection.
type ResourceDefinition struct {
	Info   ResourceInfo
	Fields []FieldSpec

	// IdentityFields are the attributes used to find an existing entity for
	// a row. A row with any empty identity value always creates a new entity.
	IdentityFields []string

	// DeleteField names a column whose truthy value deletes the matched entity.
	DeleteField string

	// SkipUnchanged reports updates that change nothing as skips.
	SkipUnchanged bool

	// Ordering is the default export ordering ("-attr" for descending).
	Ordering []string

	// Formats restricts the accepted file extensions. Empty allows all.
	Formats []string

	// Filterable lists the attributes export params may filter on. Empty
	// allows any declared field attribute.
	Filterable []string

	// ValidateRow runs after field conversion succeeded.
	ValidateRow func(ctx context.Context, values Entity) []ValidationError
}

// Columns returns the header names in declaration order.
func (d *ResourceDefinition) Columns() []string {
	cols := make([]string, len(d.Fields))
	for i, f := range d.Fields {
		cols[i] = f.Name
	}
	return cols
}

// FieldByAttribute returns the field writing the given attribute.
func (d *ResourceDefinition) FieldByAttribute(attr string) (FieldSpec, bool) {
	for _, f := range d.Fields {
		if f.AttributeName() == attr {
			return f, true
		}
	}
	return FieldSpec{}, false
}

// Entity is one stored record keyed by attribute name. The "id" attribute
// is assigned by the store.
type Entity map[string]any

// IDAttribute is the attribute holding an entity's store-assigned id.
const IDAttribute = "id"

// ID returns the store-assigned id, or nil for an unsaved entity.
func (e Entity) ID() any {
	return e[IDAttribute]
}

// IDString renders an id for comparisons and messages.
func IDString(id any) string {
	if id == nil {
		return ""
	}
	return fmt.Sprint(id)
}

// FilterOperator represents a comparison operator for store filters.
type FilterOperator string

const (
	OpContains   FilterOperator = "contains"
	OpEquals     FilterOperator = "eq"
	OpIEquals    FilterOperator = "ieq"
	OpStartsWith FilterOperator = "starts"
	OpEndsWith   FilterOperator = "ends"
	OpGreaterEq  FilterOperator = "gte"
	OpLessEq     FilterOperator = "lte"
	OpGreater    FilterOperator = "gt"
	OpLess       FilterOperator = "lt"
	OpIn         FilterOperator = "in"
	OpIRegex     FilterOperator = "iregex"
)

// Filter is a single condition on an entity attribute.
type Filter struct {
	Attribute string
	Operator  FilterOperator
	Value     any // []any for OpIn
}

// Eq builds an equality filter.
func Eq(attr string, value any) Filter {
	return Filter{Attribute: attr, Operator: OpEquals, Value: value}
}

// SortSpec represents a single sort attribute and direction.
type SortSpec struct {
	Attribute string
	Desc      bool
}

// Query selects and orders entities of one collection.
type Query struct {
	Filters []Filter
	Sort    []SortSpec
	Limit   int // 0 means no limit
}

// Dataset is a parsed tabular file: a header row plus data rows.
type Dataset struct {
	Headers []string
	Rows    [][]string
}

// Len returns the number of data rows.
func (d *Dataset) Len() int {
	if d == nil {
		return 0
	}
	return len(d.Rows)
}

// HeaderIndex maps column names (lowercase) to their position in a row.
type HeaderIndex map[string]int

// Cell returns the trimmed value of the named column, or "" when the
// column is absent or the row is short. Quotes and a leading "=" are data.
func (h HeaderIndex) Cell(row []string, name string) (string, bool) {
	pos, ok := h[strings.ToLower(name)]
	if !ok {
		return "", false
	}
	if pos >= len(row) {
		return "", true
	}
	return strings.TrimSpace(row[pos]), true
}

func toAttributeName(name string) string {
	name = strings.TrimSpace(strings.ToLower(name))
	return strings.Join(strings.Fields(name), "_")
}
