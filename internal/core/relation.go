package core

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"golang.org/x/text/unicode/norm"
)

// RelationConfig describes a many-to-many relation stored in a join
// collection that carries extra attributes per link, e.g. an artist's
// memberships in bands with the date each one was joined.
type RelationConfig struct {
	JoinEntity       string // Join collection: "memberships"
	OwnerAttribute   string // Join attribute pointing at the owner: "artist_id"
	RelatedEntity    string // Related collection: "bands"
	RelatedAttribute string // Join attribute pointing at the related entity: "band_id"

	// RemField is the related attribute rendered into the cell (default: id).
	RemField string
	// RemFieldLookup selects how RemField is matched on decode: empty for
	// equality, "regex" for a case-insensitive whitespace-tolerant match,
	// or any FilterOperator name.
	RemFieldLookup string

	// ExtraFields are join attributes rendered after the lookup value.
	ExtraFields []string
	// ExtraFieldTypes converts extra values before they are stored.
	ExtraFieldTypes map[string]FieldType

	InstanceSeparator string // default ","
	PropSeparator     string // default ":", ";" is coerced to ":"
	RenderEmpty       bool
}

// RelationItem is one decoded link: the related entity plus the extra
// attributes of the join row.
type RelationItem struct {
	Related    Entity
	Properties map[string]string
}

// RelationCodec flattens a relation into one delimited cell and back.
type RelationCodec struct {
	cfg RelationConfig
}

// NewRelationCodec applies defaults to cfg.
func NewRelationCodec(cfg RelationConfig) *RelationCodec {
	if cfg.InstanceSeparator == "" {
		cfg.InstanceSeparator = ","
	}
	if cfg.PropSeparator == "" || cfg.PropSeparator == ";" {
		cfg.PropSeparator = ":"
	}
	if cfg.RemField == "" {
		cfg.RemField = IDAttribute
	}
	return &RelationCodec{cfg: cfg}
}

// Config returns the effective configuration.
func (c *RelationCodec) Config() RelationConfig {
	return c.cfg
}

// Encode renders the owner's current links.
func (c *RelationCodec) Encode(ctx context.Context, store EntityStore, owner Entity) (string, error) {
	items, err := c.Load(ctx, store, owner.ID())
	if err != nil {
		return "", err
	}
	return c.EncodeItems(items), nil
}

// Load reads the owner's links in join-row order.
func (c *RelationCodec) Load(ctx context.Context, store EntityStore, ownerID any) ([]RelationItem, error) {
	if ownerID == nil {
		return nil, nil
	}

	joins, err := store.Find(ctx, c.cfg.JoinEntity, Query{
		Filters: []Filter{Eq(c.cfg.OwnerAttribute, ownerID)},
		Sort:    []SortSpec{{Attribute: IDAttribute}},
	})
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", c.cfg.JoinEntity, err)
	}

	items := make([]RelationItem, 0, len(joins))
	for _, join := range joins {
		related, err := store.Find(ctx, c.cfg.RelatedEntity, Query{
			Filters: []Filter{Eq(IDAttribute, join[c.cfg.RelatedAttribute])},
			Limit:   1,
		})
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", c.cfg.RelatedEntity, err)
		}
		if len(related) == 0 {
			continue
		}

		props := make(map[string]string, len(c.cfg.ExtraFields))
		for _, extra := range c.cfg.ExtraFields {
			props[extra] = RenderValue(join[extra])
		}
		items = append(items, RelationItem{Related: related[0], Properties: props})
	}
	return items, nil
}

// EncodeItems renders links without touching the store.
func (c *RelationCodec) EncodeItems(items []RelationItem) string {
	instances := make([]string, 0, len(items))
	for _, item := range items {
		props := make([]string, 0, len(c.cfg.ExtraFields)+1)
		props = append(props, RenderValue(item.Related[c.cfg.RemField]))
		for _, extra := range c.cfg.ExtraFields {
			props = append(props, item.Properties[extra])
		}

		inst := strings.Join(props, c.cfg.PropSeparator)
		if inst == "" && !c.cfg.RenderEmpty {
			continue
		}
		instances = append(instances, inst)
	}
	return strings.Join(instances, c.cfg.InstanceSeparator)
}

// Decode parses a cell into links. Every lookup value that matches no
// related entity is collected into one aggregate error. A lookup matching
// several entities yields one item per match. Links are de-duplicated by
// related id.
func (c *RelationCodec) Decode(ctx context.Context, store EntityStore, value string) ([]RelationItem, error) {
	if value == "" {
		return nil, nil
	}
	if c.cfg.InstanceSeparator == "\n" {
		value = strings.ReplaceAll(value, "\r", "")
	}

	var (
		result  []RelationItem
		invalid []string
		seen    = mapset.NewThreadUnsafeSet[string]()
	)
	for _, raw := range cleanSequence(strings.Split(value, c.cfg.InstanceSeparator), true) {
		items, err := c.decodeInstance(ctx, store, raw)
		if err != nil {
			return nil, err
		}
		if len(items) == 0 {
			invalid = append(invalid, raw)
			continue
		}
		for _, item := range items {
			if seen.Add(IDString(item.Related.ID())) {
				result = append(result, item)
			}
		}
	}

	if len(invalid) > 0 {
		return nil, fmt.Errorf("You are trying import invalid values: %s", formatValueList(invalid))
	}
	return result, nil
}

func (c *RelationCodec) decodeInstance(ctx context.Context, store EntityStore, raw string) ([]RelationItem, error) {
	parts := strings.Split(raw, c.cfg.PropSeparator)
	if len(parts) > len(c.cfg.ExtraFields)+1 {
		return nil, fmt.Errorf("Too many property separators '%s' in '%s'", c.cfg.PropSeparator, raw)
	}

	parts = cleanSequence(parts, false)
	lookup, extras := parts[0], parts[1:]

	related, err := store.Find(ctx, c.cfg.RelatedEntity, Query{
		Filters: []Filter{c.lookupFilter(lookup)},
		Sort:    []SortSpec{{Attribute: IDAttribute}},
	})
	if err != nil {
		return nil, fmt.Errorf("lookup %s: %w", c.cfg.RelatedEntity, err)
	}

	// An empty property is not provided: the link is stored without it, and
	// it encodes back to the same empty slot.
	props := make(map[string]string, len(extras))
	for i, v := range extras {
		if v != "" {
			props[c.cfg.ExtraFields[i]] = v
		}
	}

	items := make([]RelationItem, 0, len(related))
	for _, rel := range related {
		items = append(items, RelationItem{Related: rel, Properties: props})
	}
	return items, nil
}

func (c *RelationCodec) lookupFilter(value string) Filter {
	switch c.cfg.RemFieldLookup {
	case "":
		return Eq(c.cfg.RemField, value)
	case "regex":
		return Filter{Attribute: c.cfg.RemField, Operator: OpIRegex, Value: looseMatchPattern(value)}
	default:
		return Filter{Attribute: c.cfg.RemField, Operator: FilterOperator(c.cfg.RemFieldLookup), Value: value}
	}
}

// Apply replaces every join row of the owner with one row per item.
func (c *RelationCodec) Apply(ctx context.Context, store EntityStore, ownerID any, items []RelationItem) error {
	if _, err := store.DeleteWhere(ctx, c.cfg.JoinEntity, []Filter{Eq(c.cfg.OwnerAttribute, ownerID)}); err != nil {
		return fmt.Errorf("clear %s: %w", c.cfg.JoinEntity, err)
	}

	for _, item := range items {
		values := Entity{
			c.cfg.OwnerAttribute:   ownerID,
			c.cfg.RelatedAttribute: item.Related.ID(),
		}

		extras := make([]string, 0, len(item.Properties))
		for k := range item.Properties {
			extras = append(extras, k)
		}
		sort.Strings(extras)
		for _, k := range extras {
			v, err := convertScalar(item.Properties[k], FieldSpec{Name: k, Type: c.cfg.ExtraFieldTypes[k]})
			if err != nil {
				return fmt.Errorf("%s: %w", k, err)
			}
			values[k] = v
		}

		if _, err := store.Insert(ctx, c.cfg.JoinEntity, values); err != nil {
			return fmt.Errorf("create %s: %w", c.cfg.JoinEntity, err)
		}
	}
	return nil
}

// illegalCharacters are the C0 controls spreadsheet writers reject.
var illegalCharacters = regexp.MustCompile("[\x00-\x08\x0b-\x0c\x0e-\x1f]")

// normalizeString collapses whitespace runs, strips illegal control
// characters and applies NFKC normalization.
func normalizeString(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	s = illegalCharacters.ReplaceAllString(s, "")
	return norm.NFKC.String(s)
}

func cleanSequence(values []string, ignoreEmpty bool) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = normalizeString(v)
		if ignoreEmpty && v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}

// looseMatchPattern builds a pattern matching value case-insensitively
// with any run of whitespace between its words.
func looseMatchPattern(value string) string {
	words := strings.Fields(value)
	for i, w := range words {
		words[i] = regexp.QuoteMeta(w)
	}
	return "^" + strings.Join(words, `\s+`) + "$"
}

func formatValueList(values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = "'" + v + "'"
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}
