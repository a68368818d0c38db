package core_test

import (
	"context"
	"errors"
	"testing"

	"github.com/JonMunkholm/impex/internal/core"
	"github.com/JonMunkholm/impex/internal/core/resources"
	"github.com/JonMunkholm/impex/internal/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type processorFixture struct {
	store *memstore.Entities
	def   *core.ResourceDefinition
}

func newProcessorFixture(t *testing.T, resource string) processorFixture {
	t.Helper()
	def, err := resources.NewRegistry().Resolve(core.ResourceRef{Name: resource})
	require.NoError(t, err)

	store := memstore.NewEntities()
	insert(t, store, resources.EntityInstruments, core.Entity{"title": "Guitar"})
	insert(t, store, resources.EntityBands, core.Entity{"title": "Queen"})
	return processorFixture{store: store, def: def}
}

func (f processorFixture) processor(opts core.ProcessorOptions) *core.BatchProcessor {
	return core.NewBatchProcessor(f.def, f.store, opts)
}

func artistsDataset(rows ...[]string) *core.Dataset {
	return &core.Dataset{Headers: []string{"Name", "Instrument", "Bands"}, Rows: rows}
}

func assertTotalsMatchRows(t *testing.T, res *core.BatchResult) {
	t.Helper()
	sum := 0
	for _, n := range res.Totals {
		sum += n
	}
	assert.Equal(t, res.TotalRows, sum)
}

func TestProcessImport_CreatesEntities(t *testing.T) {
	ctx := context.Background()
	f := newProcessorFixture(t, "artists")
	ds := artistsDataset(
		[]string{"Freddie   Mercury", "", "Queen:1970-06-27"},
		[]string{"Brian May", "Guitar", "Queen"},
	)

	res, err := f.processor(core.ProcessorOptions{}).ProcessImport(ctx, ds, core.ImportPolicy{}, nil)
	require.NoError(t, err)

	assert.Equal(t, core.BatchCompleted, res.State)
	assert.Equal(t, map[core.ImportType]int{core.ImportTypeNew: 2}, res.Totals)
	assertTotalsMatchRows(t, res)
	require.Len(t, res.Rows, 2)
	assert.Equal(t, 1, res.Rows[0].Number)
	assert.NotEmpty(t, res.Rows[0].ObjectID)
	assert.Equal(t, []string{"", "", "Freddie Mercury", "", "Queen:1970-06-27"}, res.Rows[0].DiffAfter)

	assert.Equal(t, 2, f.store.Count(resources.EntityArtists))
	assert.Equal(t, 2, f.store.Count(resources.EntityMemberships))
}

func TestProcessImport_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newProcessorFixture(t, "artists")
	ds := artistsDataset(
		[]string{"Freddie Mercury", "", "Queen:1970-06-27"},
		[]string{"Brian May", "Guitar", "Queen"},
	)
	p := f.processor(core.ProcessorOptions{})

	_, err := p.ProcessImport(ctx, ds, core.ImportPolicy{}, nil)
	require.NoError(t, err)

	res, err := p.ProcessImport(ctx, ds, core.ImportPolicy{}, nil)
	require.NoError(t, err)
	assert.Equal(t, map[core.ImportType]int{core.ImportTypeUpdate: 2}, res.Totals)
	assert.Equal(t, res.Rows[0].DiffBefore, res.Rows[0].DiffAfter)
	assert.Equal(t, 2, f.store.Count(resources.EntityArtists))
	assert.Equal(t, 2, f.store.Count(resources.EntityMemberships))

	changed := artistsDataset([]string{"Brian May", "", "Queen"})
	res, err = p.ProcessImport(ctx, changed, core.ImportPolicy{}, nil)
	require.NoError(t, err)
	assert.Equal(t, map[core.ImportType]int{core.ImportTypeUpdate: 1}, res.Totals)
	assert.Equal(t, []string{"2", "", "Brian May", "Guitar", "Queen:"}, res.Rows[0].DiffBefore)
	assert.Equal(t, []string{"2", "", "Brian May", "", "Queen:"}, res.Rows[0].DiffAfter)
}

func TestProcessImport_SkipUnchangedIsOptIn(t *testing.T) {
	ctx := context.Background()
	f := newProcessorFixture(t, "artists")
	def := *f.def
	def.SkipUnchanged = true
	p := core.NewBatchProcessor(&def, f.store, core.ProcessorOptions{})
	ds := artistsDataset(
		[]string{"Freddie Mercury", "", "Queen:1970-06-27"},
		[]string{"Brian May", "Guitar", "Queen"},
	)

	_, err := p.ProcessImport(ctx, ds, core.ImportPolicy{}, nil)
	require.NoError(t, err)

	res, err := p.ProcessImport(ctx, ds, core.ImportPolicy{}, nil)
	require.NoError(t, err)
	assert.Equal(t, map[core.ImportType]int{core.ImportTypeSkip: 2}, res.Totals)

	res, err = p.ProcessImport(ctx, artistsDataset([]string{"Brian May", "", "Queen"}), core.ImportPolicy{}, nil)
	require.NoError(t, err)
	assert.Equal(t, map[core.ImportType]int{core.ImportTypeUpdate: 1}, res.Totals)
}

func TestProcessImport_DryRunMatchesImport(t *testing.T) {
	ctx := context.Background()
	ds := artistsDataset(
		[]string{"Brian May", "", "Queen"},
		[]string{"Brian May", "Guitar", "Queen:1970-06-27"},
	)
	want := map[core.ImportType]int{core.ImportTypeNew: 1, core.ImportTypeUpdate: 1}

	f := newProcessorFixture(t, "artists")
	p := f.processor(core.ProcessorOptions{})

	preview, err := p.ProcessImport(ctx, ds, core.ImportPolicy{DryRun: true}, nil)
	require.NoError(t, err)
	assert.Equal(t, want, preview.Totals)
	assert.Empty(t, preview.Rows[0].ObjectID, "staged ids are not reported")
	assert.Equal(t, 0, f.store.Count(resources.EntityArtists))
	assert.Equal(t, 0, f.store.Count(resources.EntityMemberships))

	res, err := p.ProcessImport(ctx, ds, core.ImportPolicy{FailFast: true}, nil)
	require.NoError(t, err)
	assert.Equal(t, want, res.Totals)
	assert.Equal(t, preview.Rows[1].DiffAfter, res.Rows[1].DiffAfter)
	assert.Equal(t, 1, f.store.Count(resources.EntityArtists))
}

func TestProcessImport_KeepsQuotesAndFormulaText(t *testing.T) {
	ctx := context.Background()
	f := newProcessorFixture(t, "artists")
	p := f.processor(core.ProcessorOptions{})
	names := []string{`Dwayne "The Rock"`, "'Til Tuesday", "=SUM(A1)"}
	ds := artistsDataset()
	for _, n := range names {
		ds.Rows = append(ds.Rows, []string{n, "", ""})
	}

	res, err := p.ProcessImport(ctx, ds, core.ImportPolicy{}, nil)
	require.NoError(t, err)
	assert.Equal(t, map[core.ImportType]int{core.ImportTypeNew: 3}, res.Totals)

	for _, n := range names {
		found, err := f.store.Find(ctx, resources.EntityArtists, core.Query{Filters: []core.Filter{core.Eq("name", n)}})
		require.NoError(t, err)
		assert.Len(t, found, 1, n)
	}

	res, err = p.ProcessImport(ctx, ds, core.ImportPolicy{}, nil)
	require.NoError(t, err)
	assert.Equal(t, map[core.ImportType]int{core.ImportTypeUpdate: 3}, res.Totals)
	assert.Equal(t, 3, f.store.Count(resources.EntityArtists))
}

func TestProcessImport_DryRunWritesNothing(t *testing.T) {
	ctx := context.Background()
	f := newProcessorFixture(t, "artists")
	ds := artistsDataset([]string{"Roger Taylor", "", "Queen"})

	res, err := f.processor(core.ProcessorOptions{}).ProcessImport(ctx, ds, core.ImportPolicy{DryRun: true}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Totals[core.ImportTypeNew])
	assert.Equal(t, 0, f.store.Count(resources.EntityArtists))
	assert.Equal(t, 0, f.store.Count(resources.EntityMemberships))
}

func TestProcessImport_ForceSkipDemotesFailedRows(t *testing.T) {
	ctx := context.Background()
	f := newProcessorFixture(t, "artists")
	ds := artistsDataset(
		[]string{"Roger Taylor", "Drums", ""},
		[]string{"John Deacon", "", ""},
	)

	res, err := f.processor(core.ProcessorOptions{}).ProcessImport(ctx, ds, core.ImportPolicy{ForceSkipErrors: true}, nil)
	require.NoError(t, err)

	assert.Equal(t, map[core.ImportType]int{core.ImportTypeNew: 1, core.ImportTypeSkip: 1}, res.Totals)
	assert.False(t, res.HasErrors())
	assert.False(t, res.HasValidationErrors())

	skipped := res.Rows[0]
	assert.Equal(t, core.ImportTypeSkip, skipped.ImportType)
	assert.Nil(t, skipped.ValidationErrors)
	assert.Equal(t, map[string][]string{
		"Instrument": {`instruments with title "Drums" does not exist`},
	}, skipped.SkippedFieldErrors)
	assert.Equal(t, skipped.RowValues, skipped.DiffAfter)

	assert.Equal(t, 1, f.store.Count(resources.EntityArtists))
}

func TestProcessImport_CollectsFailedRows(t *testing.T) {
	ctx := context.Background()
	f := newProcessorFixture(t, "artists")
	ds := artistsDataset(
		[]string{"", "", ""},
		[]string{"John Deacon", "", "Queen, Wings"},
		[]string{"Brian May", "", ""},
	)

	res, err := f.processor(core.ProcessorOptions{}).ProcessImport(ctx, ds, core.ImportPolicy{}, nil)
	require.NoError(t, err)

	assert.Equal(t, map[core.ImportType]int{core.ImportTypeInvalid: 2, core.ImportTypeNew: 1}, res.Totals)
	assertTotalsMatchRows(t, res)
	assert.True(t, res.HasValidationErrors())
	assert.Equal(t, []string{"required field is empty"}, res.Rows[0].ValidationErrors["Name"])
	assert.Equal(t, []string{"You are trying import invalid values: ['Wings']"}, res.Rows[1].ValidationErrors["Bands"])

	assert.Equal(t, 1, f.store.Count(resources.EntityArtists))
}

func TestProcessImport_FailFastRollsBack(t *testing.T) {
	ctx := context.Background()
	f := newProcessorFixture(t, "artists")
	ds := artistsDataset(
		[]string{"Brian May", "Guitar", "Queen"},
		[]string{"Roger Taylor", "Drums", ""},
	)

	res, err := f.processor(core.ProcessorOptions{}).ProcessImport(ctx, ds, core.ImportPolicy{FailFast: true}, nil)
	require.ErrorIs(t, err, core.ErrBatchAborted)
	assert.Contains(t, err.Error(), "row 2")

	assert.Equal(t, core.BatchAborted, res.State)
	assert.Empty(t, res.Rows)
	assert.Equal(t, 0, res.TotalRows)
	require.Len(t, res.BaseErrors, 1)
	assert.True(t, res.HasErrors())

	assert.Equal(t, 0, f.store.Count(resources.EntityArtists))
	assert.Equal(t, 0, f.store.Count(resources.EntityMemberships))
}

func TestProcessImport_StructuralFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("too many rows", func(t *testing.T) {
		f := newProcessorFixture(t, "artists")
		ds := artistsDataset([]string{"A", "", ""}, []string{"B", "", ""})

		res, err := f.processor(core.ProcessorOptions{MaxDatasetRows: 1}).ProcessImport(ctx, ds, core.ImportPolicy{}, nil)
		require.ErrorIs(t, err, core.ErrTooManyRows)

		var tooMany *core.TooManyRowsError
		require.True(t, errors.As(err, &tooMany))
		assert.Equal(t, 2, tooMany.Rows)
		assert.Equal(t, 1, tooMany.Max)
		assert.Equal(t, core.BatchAborted, res.State)
		assert.Equal(t, 0, f.store.Count(resources.EntityArtists))
	})

	t.Run("missing required column", func(t *testing.T) {
		f := newProcessorFixture(t, "artists")
		ds := &core.Dataset{Headers: []string{"Instrument"}, Rows: [][]string{{"Guitar"}}}

		res, err := f.processor(core.ProcessorOptions{}).ProcessImport(ctx, ds, core.ImportPolicy{}, nil)
		require.ErrorIs(t, err, core.ErrMissingColumns)
		assert.Contains(t, err.Error(), "Name")
		require.Len(t, res.BaseErrors, 1)
	})
}

func TestProcessImport_Deletes(t *testing.T) {
	ctx := context.Background()
	f := newProcessorFixture(t, "artists")
	p := f.processor(core.ProcessorOptions{})

	_, err := p.ProcessImport(ctx, artistsDataset([]string{"Brian May", "Guitar", "Queen"}), core.ImportPolicy{}, nil)
	require.NoError(t, err)
	require.Equal(t, 1, f.store.Count(resources.EntityMemberships))

	ds := &core.Dataset{
		Headers: []string{"Name", "Delete"},
		Rows:    [][]string{{"Brian May", "yes"}, {"Nobody", "yes"}},
	}
	res, err := p.ProcessImport(ctx, ds, core.ImportPolicy{}, nil)
	require.NoError(t, err)

	assert.Equal(t, map[core.ImportType]int{core.ImportTypeDelete: 1, core.ImportTypeSkip: 1}, res.Totals)
	assert.Equal(t, 0, f.store.Count(resources.EntityArtists))
	assert.Equal(t, 0, f.store.Count(resources.EntityMemberships))
}

func TestProcessImport_RowValidator(t *testing.T) {
	ctx := context.Background()
	f := newProcessorFixture(t, "bands")
	ds := &core.Dataset{
		Headers: []string{"Title", "Formed", "Genre"},
		Rows: [][]string{
			{"Muse", "1994-01-01", "rock"},
			{"Tomorrow's Band", "2999-01-01", ""},
			{"Unknown", "", "Polka"},
		},
	}

	res, err := f.processor(core.ProcessorOptions{}).ProcessImport(ctx, ds, core.ImportPolicy{}, nil)
	require.NoError(t, err)

	assert.Equal(t, core.ImportTypeNew, res.Rows[0].ImportType)
	assert.Equal(t, []string{"date is in the future"}, res.Rows[1].ValidationErrors["Formed"])
	assert.Contains(t, res.Rows[2].ValidationErrors["Genre"][0], "value must be one of")

	muse, err := f.store.Find(ctx, resources.EntityBands, core.Query{Filters: []core.Filter{core.Eq("title", "Muse")}})
	require.NoError(t, err)
	require.Len(t, muse, 1)
	assert.Equal(t, "Rock", muse[0]["genre"])
}

func TestProcessImport_PublishesProgress(t *testing.T) {
	ctx := context.Background()
	f := newProcessorFixture(t, "instruments")
	ds := &core.Dataset{Headers: []string{"Title"}}
	for _, title := range []string{"Bass", "Drums", "Piano", "Violin", "Flute"} {
		ds.Rows = append(ds.Rows, []string{title})
	}

	tc := &publishingContext{}
	progress := core.NewProgressReporter(tc, "IMPORTING", 2)
	_, err := f.processor(core.ProcessorOptions{}).ProcessImport(ctx, ds, core.ImportPolicy{}, progress)
	require.NoError(t, err)

	assert.Equal(t, []int{0, 2, 4, 5}, tc.currents)
	assert.Equal(t, 5, progress.Current())
}

func TestProcessExport(t *testing.T) {
	ctx := context.Background()
	f := newProcessorFixture(t, "artists")
	p := f.processor(core.ProcessorOptions{})

	_, err := p.ProcessImport(ctx, artistsDataset(
		[]string{"Brian May", "Guitar", "Queen:1970-01-01"},
		[]string{"Freddie Mercury", "", ""},
	), core.ImportPolicy{}, nil)
	require.NoError(t, err)

	entities, err := f.store.Find(ctx, resources.EntityArtists, core.Query{Sort: []core.SortSpec{{Attribute: "name"}}})
	require.NoError(t, err)

	ds, summary, err := p.ProcessExport(ctx, entities, nil)
	require.NoError(t, err)

	assert.Equal(t, core.BatchCompleted, summary.State)
	assert.Equal(t, 2, summary.TotalRows)
	assert.Equal(t, []string{"ID", "External ID", "Name", "Instrument", "Bands"}, ds.Headers)
	assert.Equal(t, [][]string{
		{"1", "", "Brian May", "Guitar", "Queen:1970-01-01"},
		{"2", "", "Freddie Mercury", "", ""},
	}, ds.Rows)
}

type publishingContext struct {
	currents []int
}

func (c *publishingContext) TaskID() string           { return "task" }
func (c *publishingContext) Context() context.Context { return context.Background() }
func (c *publishingContext) PublishProgress(state string, current, total int) {
	c.currents = append(c.currents, current)
}
