package database

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/JonMunkholm/impex/internal/core"
	"github.com/jackc/pgx/v5"
)

// Entities is a core.EntityStore over plain tables: one table per entity,
// one column per attribute and a BIGSERIAL "id" primary key.
type Entities struct {
	db DBTX
}

// NewEntities creates an entity store on db.
func NewEntities(db DBTX) *Entities {
	return &Entities{db: db}
}

func (s *Entities) Find(ctx context.Context, entity string, q core.Query) ([]core.Entity, error) {
	where, args, err := buildWhere(q.Filters, 1)
	if err != nil {
		return nil, err
	}
	sql := "SELECT * FROM " + quoteIdentifier(entity) + where + buildOrder(q.Sort)
	if q.Limit > 0 {
		sql += fmt.Sprintf(" LIMIT %d", q.Limit)
	}

	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", entity, err)
	}
	entities, err := pgx.CollectRows(rows, scanEntity)
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", entity, err)
	}
	return entities, nil
}

func (s *Entities) Insert(ctx context.Context, entity string, values core.Entity) (core.Entity, error) {
	cols, args := columns(values)

	var sql string
	if len(cols) == 0 {
		sql = fmt.Sprintf("INSERT INTO %s DEFAULT VALUES RETURNING *", quoteIdentifier(entity))
	} else {
		quoted := make([]string, len(cols))
		placeholders := make([]string, len(cols))
		for i, c := range cols {
			quoted[i] = quoteIdentifier(c)
			placeholders[i] = fmt.Sprintf("$%d", i+1)
		}
		sql = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING *",
			quoteIdentifier(entity), strings.Join(quoted, ", "), strings.Join(placeholders, ", "))
	}

	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("insert %s: %w", entity, err)
	}
	created, err := pgx.CollectExactlyOneRow(rows, scanEntity)
	if err != nil {
		return nil, fmt.Errorf("insert %s: %w", entity, err)
	}
	return created, nil
}

func (s *Entities) Update(ctx context.Context, entity string, id any, values core.Entity) error {
	cols, args := columns(values)
	if len(cols) == 0 {
		return nil
	}

	sets := make([]string, len(cols))
	for i, c := range cols {
		sets[i] = fmt.Sprintf("%s = $%d", quoteIdentifier(c), i+1)
	}
	args = append(args, id)
	sql := fmt.Sprintf("UPDATE %s SET %s WHERE id = $%d",
		quoteIdentifier(entity), strings.Join(sets, ", "), len(args))

	tag, err := s.db.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("update %s %v: %w", entity, id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s %v: %w", entity, id, core.ErrNotFound)
	}
	return nil
}

func (s *Entities) Delete(ctx context.Context, entity string, id any) error {
	tag, err := s.db.Exec(ctx, "DELETE FROM "+quoteIdentifier(entity)+" WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete %s %v: %w", entity, id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s %v: %w", entity, id, core.ErrNotFound)
	}
	return nil
}

func (s *Entities) DeleteWhere(ctx context.Context, entity string, filters []core.Filter) (int, error) {
	where, args, err := buildWhere(filters, 1)
	if err != nil {
		return 0, err
	}
	tag, err := s.db.Exec(ctx, "DELETE FROM "+quoteIdentifier(entity)+where, args...)
	if err != nil {
		return 0, fmt.Errorf("delete %s: %w", entity, err)
	}
	return int(tag.RowsAffected()), nil
}

// Atomic runs fn in a transaction, or in a savepoint when the store is
// already transactional.
func (s *Entities) Atomic(ctx context.Context, fn func(core.EntityStore) error) error {
	return Transact(ctx, s.db, func(tx pgx.Tx) error {
		return fn(&Entities{db: tx})
	})
}

// columns returns the writable attributes of values in sorted order with
// their arguments.
func columns(values core.Entity) ([]string, []any) {
	cols := make([]string, 0, len(values))
	for k := range values {
		if k == core.IDAttribute {
			continue
		}
		cols = append(cols, k)
	}
	sort.Strings(cols)

	args := make([]any, len(cols))
	for i, c := range cols {
		args[i] = values[c]
	}
	return cols, args
}

func scanEntity(row pgx.CollectableRow) (core.Entity, error) {
	vals, err := row.Values()
	if err != nil {
		return nil, err
	}
	fields := row.FieldDescriptions()
	e := make(core.Entity, len(fields))
	for i, fd := range fields {
		e[fd.Name] = vals[i]
	}
	return e, nil
}
