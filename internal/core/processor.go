package core

// processor.go applies a parsed dataset to the store (import) and renders
// stored entities into a dataset (export).
//
// Rows are processed strictly in input order inside one call; there is no
// parallelism across rows. Every import run is wrapped in one store
// transaction, with a nested transaction per row so that a failed row
// leaves nothing behind in collect mode. A dry run stages its rows the same
// way and then rolls the outer transaction back, so later rows see earlier
// ones exactly as they will on the real run.

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
)

// ImportPolicy selects how row failures are handled.
type ImportPolicy struct {
	DryRun          bool // stage every row, then roll the whole batch back
	FailFast        bool // abort the batch on the first failed row
	ForceSkipErrors bool // demote failed rows to skips and continue
}

// ProcessorOptions bounds one processor run.
type ProcessorOptions struct {
	MaxDatasetRows int // 0 disables the ceiling
	ResultRowCap   int // 0 keeps every row outcome
}

// BatchProcessor runs imports and exports for one resource.
type BatchProcessor struct {
	def   *ResourceDefinition
	store EntityStore
	opts  ProcessorOptions
}

// NewBatchProcessor creates a processor for def writing through store.
func NewBatchProcessor(def *ResourceDefinition, store EntityStore, opts ProcessorOptions) *BatchProcessor {
	return &BatchProcessor{def: def, store: store, opts: opts}
}

// errDryRunRollback discards the writes staged by a dry run.
var errDryRunRollback = errors.New("dry run rollback")

type rowAbortError struct {
	row RowOutcome
}

func (e *rowAbortError) Error() string {
	return fmt.Sprintf("row %d: %s", e.row.Number, describeRowErrors(e.row))
}

// ProcessImport applies ds under policy. Structural failures (row ceiling,
// missing columns, fail-fast abort) return an error together with a result
// holding only base errors.
func (p *BatchProcessor) ProcessImport(ctx context.Context, ds *Dataset, policy ImportPolicy, progress *ProgressReporter) (*BatchResult, error) {
	result := NewBatchResult(p.def.Columns(), p.opts.ResultRowCap)

	if p.opts.MaxDatasetRows > 0 && ds.Len() > p.opts.MaxDatasetRows {
		return p.abort(result, &TooManyRowsError{Rows: ds.Len(), Max: p.opts.MaxDatasetRows})
	}

	idx, err := ValidateHeaders(ds.Headers, p.def.Fields)
	if err != nil {
		return p.abort(result, err)
	}

	result.State = BatchProcessing
	progress.Initialize(ds.Len())

	run := func(store EntityStore) error {
		for i, row := range ds.Rows {
			if err := ctx.Err(); err != nil {
				return err
			}

			outcome := p.importRow(ctx, store, idx, i+1, row)
			if policy.DryRun && outcome.ImportType == ImportTypeNew {
				outcome.ObjectID = ""
			}
			if outcome.Failed() {
				if policy.FailFast {
					return &rowAbortError{row: outcome}
				}
				if policy.ForceSkipErrors {
					outcome.demote()
				}
			}
			result.AddRow(outcome)
			progress.Advance()
		}
		if policy.DryRun {
			return errDryRunRollback
		}
		return nil
	}

	err = p.store.Atomic(ctx, run)
	if errors.Is(err, errDryRunRollback) {
		err = nil
	}
	if err != nil {
		var abort *rowAbortError
		if errors.As(err, &abort) {
			err = fmt.Errorf("%w: %s", ErrBatchAborted, abort.Error())
		}
		return p.abort(result, err)
	}

	result.State = BatchCompleted
	return result, nil
}

// abort discards row outcomes and records err as the only base error.
func (p *BatchProcessor) abort(result *BatchResult, err error) (*BatchResult, error) {
	result.State = BatchAborted
	result.Totals = make(map[ImportType]int)
	result.TotalRows = 0
	result.Rows = nil
	result.AddBaseError(RowError{Message: err.Error(), Traceback: fmt.Sprintf("%+v", err)})
	return result, err
}

// rowData is one converted input row.
type rowData struct {
	values    Entity
	display   map[string]string
	relations map[string][]RelationItem
	provided  map[string]bool
}

func (p *BatchProcessor) importRow(ctx context.Context, store EntityStore, idx HeaderIndex, number int, row []string) RowOutcome {
	out := RowOutcome{Number: number, RowValues: p.rowValues(idx, row)}

	data, verrs := p.convertRow(ctx, store, idx, row)
	if len(verrs) == 0 && p.def.ValidateRow != nil {
		verrs = p.def.ValidateRow(ctx, data.values)
	}
	if len(verrs) > 0 {
		out.ImportType = ImportTypeInvalid
		out.ValidationErrors = groupValidationErrors(verrs)
		return out
	}

	existing, err := p.resolveExisting(ctx, store, data.values)
	if err != nil {
		return failedRow(out, err)
	}

	var before []string
	if existing != nil {
		out.ObjectID = IDString(existing.ID())
		if before, err = p.render(ctx, store, existing); err != nil {
			return failedRow(out, err)
		}
	}

	if p.wantsDelete(idx, row) {
		if existing == nil {
			out.ImportType = ImportTypeSkip
			return out
		}
		out.ImportType = ImportTypeDelete
		out.DiffBefore = before
		if err := store.Atomic(ctx, func(tx EntityStore) error { return p.deleteEntity(ctx, tx, existing.ID()) }); err != nil {
			return failedRow(out, err)
		}
		return out
	}

	after := p.diffAfter(data, before)
	if existing != nil && p.def.SkipUnchanged && slices.Equal(before, after) {
		out.ImportType = ImportTypeSkip
		out.DiffBefore, out.DiffAfter = before, after
		return out
	}

	out.ImportType = ImportTypeNew
	if existing != nil {
		out.ImportType = ImportTypeUpdate
	}
	out.DiffBefore, out.DiffAfter = before, after

	err = store.Atomic(ctx, func(tx EntityStore) error {
		id, err := p.save(ctx, tx, existing, data.values)
		if err != nil {
			return err
		}
		out.ObjectID = IDString(id)
		for attr, items := range data.relations {
			spec, _ := p.def.FieldByAttribute(attr)
			if err := spec.Relation.Apply(ctx, tx, id, items); err != nil {
				return fmt.Errorf("Column '%s': %w", spec.Name, err)
			}
		}
		return nil
	})
	if err != nil {
		return failedRow(out, err)
	}
	return out
}

func failedRow(out RowOutcome, err error) RowOutcome {
	out.ImportType = ImportTypeError
	out.DiffBefore, out.DiffAfter = nil, nil
	out.Errors = append(out.Errors, RowError{Message: err.Error(), Traceback: fmt.Sprintf("%+v", err)})
	return out
}

// convertRow converts every present, writable column of row.
func (p *BatchProcessor) convertRow(ctx context.Context, store EntityStore, idx HeaderIndex, row []string) (rowData, []ValidationError) {
	data := rowData{
		values:    Entity{},
		display:   map[string]string{},
		relations: map[string][]RelationItem{},
		provided:  map[string]bool{},
	}
	var verrs []ValidationError

	for _, spec := range p.def.Fields {
		if spec.ReadOnly {
			continue
		}
		raw, present := idx.Cell(row, spec.Name)
		if !present {
			continue
		}
		attr := spec.AttributeName()

		if spec.Normalizer != nil && raw != "" {
			raw = spec.Normalizer(raw)
		}
		if verr := requiredEmpty(spec, raw); verr != nil {
			verrs = append(verrs, *verr)
			continue
		}

		switch spec.Type {
		case FieldRelation:
			items, err := spec.Relation.Decode(ctx, store, raw)
			if err != nil {
				verrs = append(verrs, ValidationError{Field: spec.Name, Value: raw, Message: err.Error()})
				continue
			}
			data.relations[attr] = items
			data.display[attr] = spec.Relation.EncodeItems(items)
		case FieldForeignKey:
			if raw == "" {
				data.values[attr] = nil
				break
			}
			related, err := resolveForeignKey(ctx, store, spec, raw)
			if err != nil {
				verrs = append(verrs, ValidationError{Field: spec.Name, Value: raw, Message: err.Error()})
				continue
			}
			data.values[attr] = related.ID()
			data.display[attr] = raw
		default:
			v, err := convertScalar(raw, spec)
			if err != nil {
				verrs = append(verrs, ValidationError{Field: spec.Name, Value: raw, Message: err.Error()})
				continue
			}
			data.values[attr] = v
			data.display[attr] = RenderValue(v)
		}
		data.provided[attr] = true
	}

	return data, verrs
}

// resolveExisting finds the entity matching the row's identity values.
func (p *BatchProcessor) resolveExisting(ctx context.Context, store EntityStore, values Entity) (Entity, error) {
	if len(p.def.IdentityFields) == 0 {
		return nil, nil
	}

	filters := make([]Filter, 0, len(p.def.IdentityFields))
	for _, attr := range p.def.IdentityFields {
		v, ok := values[attr]
		if !ok || v == nil || v == "" {
			return nil, nil
		}
		filters = append(filters, Eq(attr, v))
	}

	matches, err := store.Find(ctx, p.def.Info.Entity, Query{Filters: filters, Limit: 2})
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", p.def.Info.Entity, err)
	}
	switch len(matches) {
	case 0:
		return nil, nil
	case 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("more than one %s matches %s", p.def.Info.Entity, strings.Join(p.def.IdentityFields, ", "))
	}
}

func (p *BatchProcessor) save(ctx context.Context, store EntityStore, existing, values Entity) (any, error) {
	if existing != nil {
		if err := store.Update(ctx, p.def.Info.Entity, existing.ID(), values); err != nil {
			return nil, err
		}
		return existing.ID(), nil
	}

	created, err := store.Insert(ctx, p.def.Info.Entity, values)
	if err != nil {
		return nil, err
	}
	return created.ID(), nil
}

func (p *BatchProcessor) deleteEntity(ctx context.Context, store EntityStore, id any) error {
	for _, spec := range p.def.Fields {
		if spec.Type == FieldRelation && !spec.ReadOnly {
			if err := spec.Relation.Apply(ctx, store, id, nil); err != nil {
				return err
			}
		}
	}
	return store.Delete(ctx, p.def.Info.Entity, id)
}

func (p *BatchProcessor) wantsDelete(idx HeaderIndex, row []string) bool {
	if p.def.DeleteField == "" {
		return false
	}
	raw, ok := idx.Cell(row, p.def.DeleteField)
	if !ok {
		return false
	}
	v, _ := ParseBool(raw)
	return v
}

func (p *BatchProcessor) rowValues(idx HeaderIndex, row []string) []string {
	vals := make([]string, len(p.def.Fields))
	for i, spec := range p.def.Fields {
		vals[i], _ = idx.Cell(row, spec.Name)
	}
	return vals
}

func (p *BatchProcessor) render(ctx context.Context, store EntityStore, e Entity) ([]string, error) {
	vals := make([]string, len(p.def.Fields))
	for i, spec := range p.def.Fields {
		v, err := renderField(ctx, store, spec, e)
		if err != nil {
			return nil, fmt.Errorf("render %s: %w", spec.Name, err)
		}
		vals[i] = v
	}
	return vals, nil
}

func (p *BatchProcessor) diffAfter(data rowData, before []string) []string {
	vals := make([]string, len(p.def.Fields))
	for i, spec := range p.def.Fields {
		attr := spec.AttributeName()
		switch {
		case data.provided[attr]:
			vals[i] = data.display[attr]
		case before != nil:
			vals[i] = before[i]
		}
	}
	return vals
}

// ProcessExport renders entities in order. The first render failure aborts
// the export.
func (p *BatchProcessor) ProcessExport(ctx context.Context, entities []Entity, progress *ProgressReporter) (*Dataset, *ExportSummary, error) {
	summary := &ExportSummary{State: BatchProcessing, Headers: p.def.Columns()}
	ds := &Dataset{Headers: p.def.Columns(), Rows: make([][]string, 0, len(entities))}

	progress.Initialize(len(entities))
	for _, e := range entities {
		if err := ctx.Err(); err != nil {
			summary.State = BatchAborted
			return nil, summary, err
		}

		row, err := p.render(ctx, p.store, e)
		if err != nil {
			summary.State = BatchAborted
			return nil, summary, fmt.Errorf("export %s %s: %w", p.def.Info.Entity, IDString(e.ID()), err)
		}
		ds.Rows = append(ds.Rows, row)
		summary.TotalRows++
		progress.Advance()
	}

	summary.State = BatchCompleted
	return ds, summary, nil
}

func describeRowErrors(row RowOutcome) string {
	var parts []string
	for _, e := range row.Errors {
		parts = append(parts, e.Message)
	}
	fields := make([]string, 0, len(row.ValidationErrors))
	for f := range row.ValidationErrors {
		fields = append(fields, f)
	}
	slices.Sort(fields)
	for _, f := range fields {
		parts = append(parts, fmt.Sprintf("%s: %s", f, strings.Join(row.ValidationErrors[f], "; ")))
	}
	return strings.Join(parts, "; ")
}
