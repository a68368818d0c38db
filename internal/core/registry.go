package core

import (
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
)

// ResourceRef is the persisted form of a resource selection: the
// registered resource name plus its parameters (export filters).
type ResourceRef struct {
	Name   string            `json:"name"`
	Params map[string]string `json:"params,omitempty"`
}

// Registry holds resource definitions by key.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]*ResourceDefinition
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]*ResourceDefinition)}
}

// DefaultRegistry receives the definitions registered at init time.
var DefaultRegistry = NewRegistry()

// Register adds a resource definition to the default registry.
// Panics if a resource with the same key is already registered.
func Register(def ResourceDefinition) {
	DefaultRegistry.Register(def)
}

// Register adds a resource definition.
// Panics if a resource with the same key is already registered.
func (r *Registry) Register(def ResourceDefinition) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.defs[def.Info.Key]; exists {
		panic(fmt.Sprintf("resource already registered: %s", def.Info.Key))
	}
	if def.Info.Entity == "" {
		def.Info.Entity = def.Info.Key
	}
	if def.Info.Label == "" {
		def.Info.Label = def.Info.Key
	}

	r.defs[def.Info.Key] = &def
}

// Get returns a resource definition by key.
// Returns false if not found.
func (r *Registry) Get(key string) (*ResourceDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.defs[key]
	return def, ok
}

// Resolve returns the definition a ref points at.
func (r *Registry) Resolve(ref ResourceRef) (*ResourceDefinition, error) {
	def, ok := r.Get(ref.Name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownResource, ref.Name)
	}
	return def, nil
}

// All returns all registered resource definitions sorted by key.
func (r *Registry) All() []*ResourceDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*ResourceDefinition, 0, len(r.defs))
	for _, def := range r.defs {
		result = append(result, def)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Info.Key < result[j].Info.Key
	})

	return result
}

// Count returns the number of registered resources.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.defs)
}

// Clear removes all registered resources.
// Primarily useful for testing.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs = make(map[string]*ResourceDefinition)
}

// BuildQuery converts export params and ordering into a store query.
//
// Param keys are "attr" (equality) or "attr__op" with op one of the
// FilterOperator names. Values are converted with the field's type; "in"
// takes a comma-separated list. Ordering entries are attributes, prefixed
// with "-" for descending; the definition's default ordering applies when
// none is given.
func (d *ResourceDefinition) BuildQuery(params map[string]string, ordering []string) (Query, error) {
	var q Query

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		attr, op := key, OpEquals
		if i := strings.Index(key, "__"); i >= 0 {
			attr, op = key[:i], FilterOperator(key[i+2:])
		}
		if !validOperator(op) {
			return Query{}, fmt.Errorf("%w: unknown operator %q in %q", ErrInvalidQuery, op, key)
		}

		spec, ok := d.filterField(attr)
		if !ok {
			return Query{}, fmt.Errorf("%w: cannot filter %s by %q", ErrInvalidQuery, d.Info.Key, attr)
		}

		value, err := filterValue(spec, op, params[key])
		if err != nil {
			return Query{}, fmt.Errorf("%w: %s: %v", ErrInvalidQuery, key, err)
		}
		q.Filters = append(q.Filters, Filter{Attribute: attr, Operator: op, Value: value})
	}

	if len(ordering) == 0 {
		ordering = d.Ordering
	}
	for _, o := range ordering {
		o = strings.TrimSpace(o)
		if o == "" {
			continue
		}
		desc := strings.HasPrefix(o, "-")
		attr := strings.TrimPrefix(o, "-")
		if !d.hasAttribute(attr) {
			return Query{}, fmt.Errorf("%w: cannot order %s by %q", ErrInvalidQuery, d.Info.Key, attr)
		}
		q.Sort = append(q.Sort, SortSpec{Attribute: attr, Desc: desc})
	}
	if len(q.Sort) == 0 {
		q.Sort = []SortSpec{{Attribute: IDAttribute}}
	}

	return q, nil
}

func (d *ResourceDefinition) filterField(attr string) (FieldSpec, bool) {
	if attr == IDAttribute {
		return FieldSpec{Name: IDAttribute, Type: FieldInteger}, true
	}
	if len(d.Filterable) > 0 && !slices.Contains(d.Filterable, attr) {
		return FieldSpec{}, false
	}
	spec, ok := d.FieldByAttribute(attr)
	if !ok || spec.Type == FieldRelation {
		return FieldSpec{}, false
	}
	return spec, true
}

func (d *ResourceDefinition) hasAttribute(attr string) bool {
	if attr == IDAttribute {
		return true
	}
	spec, ok := d.FieldByAttribute(attr)
	return ok && spec.Type != FieldRelation
}

func filterValue(spec FieldSpec, op FilterOperator, raw string) (any, error) {
	// Foreign keys filter on the stored id.
	if spec.Type == FieldForeignKey {
		spec = FieldSpec{Name: spec.Name, Type: FieldInteger}
	}
	switch op {
	case OpIn:
		var vals []any
		for _, part := range strings.Split(raw, ",") {
			v, err := convertScalar(strings.TrimSpace(part), spec)
			if err != nil {
				return nil, err
			}
			vals = append(vals, v)
		}
		return vals, nil
	case OpContains, OpStartsWith, OpEndsWith, OpIEquals, OpIRegex:
		return raw, nil
	default:
		return convertScalar(strings.TrimSpace(raw), spec)
	}
}

func validOperator(op FilterOperator) bool {
	switch op {
	case OpContains, OpEquals, OpIEquals, OpStartsWith, OpEndsWith,
		OpGreaterEq, OpLessEq, OpGreater, OpLess, OpIn, OpIRegex:
		return true
	}
	return false
}
