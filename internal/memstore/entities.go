// Package memstore provides in-memory implementations of the core stores.
// They back the tests and CLI dry runs and hold nothing across restarts.
package memstore

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"

	"github.com/JonMunkholm/impex/internal/core"
)

type collection struct {
	nextID int64
	rows   []core.Entity // insertion order
}

func (c *collection) clone() *collection {
	rows := make([]core.Entity, len(c.rows))
	for i, r := range c.rows {
		rows[i] = maps.Clone(r)
	}
	return &collection{nextID: c.nextID, rows: rows}
}

type dataset map[string]*collection

func (d dataset) clone() dataset {
	out := make(dataset, len(d))
	for name, c := range d {
		out[name] = c.clone()
	}
	return out
}

// Entities is an EntityStore over maps. Ids are int64 and assigned per
// collection starting at 1.
//
// Atomic serializes transactions: while one runs, every other call waits.
// A failed transaction restores the snapshot taken when it began.
type Entities struct {
	txMu sync.Mutex // held for the duration of a transaction
	mu   sync.RWMutex
	data dataset
}

var _ core.EntityStore = (*Entities)(nil)

// NewEntities creates an empty store.
func NewEntities() *Entities {
	return &Entities{data: make(dataset)}
}

// Find returns copies of the matching entities.
func (s *Entities) Find(ctx context.Context, entity string, q core.Query) ([]core.Entity, error) {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	return s.find(entity, q)
}

// Insert stores a copy of values and returns it with its new id.
func (s *Entities) Insert(ctx context.Context, entity string, values core.Entity) (core.Entity, error) {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	return s.insert(entity, values), nil
}

// Update merges values into the entity with id.
func (s *Entities) Update(ctx context.Context, entity string, id any, values core.Entity) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	return s.update(entity, id, values)
}

// Delete removes the entity with id.
func (s *Entities) Delete(ctx context.Context, entity string, id any) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	return s.delete(entity, id)
}

// DeleteWhere removes every entity matching filters.
func (s *Entities) DeleteWhere(ctx context.Context, entity string, filters []core.Filter) (int, error) {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	return s.deleteWhere(entity, filters)
}

// Atomic runs fn inside a transaction.
func (s *Entities) Atomic(ctx context.Context, fn func(core.EntityStore) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	return s.atomic(ctx, fn)
}

// Count returns the number of stored entities of a collection.
func (s *Entities) Count(entity string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if c, ok := s.data[entity]; ok {
		return len(c.rows)
	}
	return 0
}

func (s *Entities) atomic(ctx context.Context, fn func(core.EntityStore) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	snapshot := s.data.clone()
	s.mu.RUnlock()

	if err := fn(&tx{s: s}); err != nil {
		s.mu.Lock()
		s.data = snapshot
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *Entities) find(entity string, q core.Query) ([]core.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.data[entity]
	if !ok {
		return nil, nil
	}

	var out []core.Entity
	for _, row := range c.rows {
		matched, err := matchAll(row, q.Filters)
		if err != nil {
			return nil, err
		}
		if matched {
			out = append(out, maps.Clone(row))
		}
	}

	if len(q.Sort) > 0 {
		sort.SliceStable(out, func(i, j int) bool {
			for _, spec := range q.Sort {
				c := compare(out[i][spec.Attribute], out[j][spec.Attribute])
				if c == 0 {
					continue
				}
				if spec.Desc {
					return c > 0
				}
				return c < 0
			}
			return false
		})
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *Entities) insert(entity string, values core.Entity) core.Entity {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.data[entity]
	if !ok {
		c = &collection{}
		s.data[entity] = c
	}
	c.nextID++
	row := maps.Clone(values)
	if row == nil {
		row = core.Entity{}
	}
	row[core.IDAttribute] = c.nextID
	c.rows = append(c.rows, row)
	return maps.Clone(row)
}

func (s *Entities) update(entity string, id any, values core.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.lookup(entity, id)
	if row == nil {
		return fmt.Errorf("%s %v: %w", entity, id, core.ErrNotFound)
	}
	for k, v := range values {
		if k == core.IDAttribute {
			continue
		}
		row[k] = v
	}
	return nil
}

func (s *Entities) delete(entity string, id any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.data[entity]
	if ok {
		for i, row := range c.rows {
			if equal(row.ID(), id) {
				c.rows = append(c.rows[:i], c.rows[i+1:]...)
				return nil
			}
		}
	}
	return fmt.Errorf("%s %v: %w", entity, id, core.ErrNotFound)
}

func (s *Entities) deleteWhere(entity string, filters []core.Filter) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.data[entity]
	if !ok {
		return 0, nil
	}
	kept := c.rows[:0]
	removed := 0
	for _, row := range c.rows {
		matched, err := matchAll(row, filters)
		if err != nil {
			return 0, err
		}
		if matched {
			removed++
			continue
		}
		kept = append(kept, row)
	}
	c.rows = kept
	return removed, nil
}

func (s *Entities) lookup(entity string, id any) core.Entity {
	c, ok := s.data[entity]
	if !ok {
		return nil
	}
	for _, row := range c.rows {
		if equal(row.ID(), id) {
			return row
		}
	}
	return nil
}

// tx is the store view handed to Atomic callbacks. The enclosing
// transaction already holds txMu.
type tx struct {
	s *Entities
}

func (t *tx) Find(ctx context.Context, entity string, q core.Query) ([]core.Entity, error) {
	return t.s.find(entity, q)
}

func (t *tx) Insert(ctx context.Context, entity string, values core.Entity) (core.Entity, error) {
	return t.s.insert(entity, values), nil
}

func (t *tx) Update(ctx context.Context, entity string, id any, values core.Entity) error {
	return t.s.update(entity, id, values)
}

func (t *tx) Delete(ctx context.Context, entity string, id any) error {
	return t.s.delete(entity, id)
}

func (t *tx) DeleteWhere(ctx context.Context, entity string, filters []core.Filter) (int, error) {
	return t.s.deleteWhere(entity, filters)
}

// Atomic nests: a failure restores the state from when the nested call began.
func (t *tx) Atomic(ctx context.Context, fn func(core.EntityStore) error) error {
	return t.s.atomic(ctx, fn)
}
