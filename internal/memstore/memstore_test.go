package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/JonMunkholm/impex/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedBands(t *testing.T, s *Entities) {
	t.Helper()
	ctx := context.Background()
	for _, title := range []string{"The Beatles", "Queen", "The Who"} {
		_, err := s.Insert(ctx, "bands", core.Entity{"title": title})
		require.NoError(t, err)
	}
}

func TestEntities_InsertAssignsSequentialIDs(t *testing.T) {
	s := NewEntities()
	ctx := context.Background()

	a, err := s.Insert(ctx, "bands", core.Entity{"title": "Queen"})
	require.NoError(t, err)
	b, err := s.Insert(ctx, "bands", core.Entity{"title": "Muse"})
	require.NoError(t, err)
	other, err := s.Insert(ctx, "artists", core.Entity{"name": "Freddie"})
	require.NoError(t, err)

	assert.Equal(t, int64(1), a.ID())
	assert.Equal(t, int64(2), b.ID())
	assert.Equal(t, int64(1), other.ID())
}

func TestEntities_FindFilters(t *testing.T) {
	s := NewEntities()
	seedBands(t, s)
	ctx := context.Background()

	tests := []struct {
		name   string
		filter core.Filter
		want   []string
	}{
		{"equals", core.Eq("title", "Queen"), []string{"Queen"}},
		{"equals id as text", core.Eq("id", "2"), []string{"Queen"}},
		{"iequals", core.Filter{Attribute: "title", Operator: core.OpIEquals, Value: "queen"}, []string{"Queen"}},
		{"starts", core.Filter{Attribute: "title", Operator: core.OpStartsWith, Value: "The"}, []string{"The Beatles", "The Who"}},
		{"contains", core.Filter{Attribute: "title", Operator: core.OpContains, Value: "ee"}, []string{"Queen"}},
		{"greater", core.Filter{Attribute: "id", Operator: core.OpGreater, Value: int64(1)}, []string{"Queen", "The Who"}},
		{"in", core.Filter{Attribute: "id", Operator: core.OpIn, Value: []any{int64(1), int64(3)}}, []string{"The Beatles", "The Who"}},
		{"iregex", core.Filter{Attribute: "title", Operator: core.OpIRegex, Value: `^the\s+who$`}, []string{"The Who"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Find(ctx, "bands", core.Query{Filters: []core.Filter{tt.filter}, Sort: []core.SortSpec{{Attribute: "id"}}})
			require.NoError(t, err)
			var titles []string
			for _, e := range got {
				titles = append(titles, e["title"].(string))
			}
			assert.Equal(t, tt.want, titles)
		})
	}
}

func TestEntities_FindSortAndLimit(t *testing.T) {
	s := NewEntities()
	seedBands(t, s)

	got, err := s.Find(context.Background(), "bands", core.Query{
		Sort:  []core.SortSpec{{Attribute: "title", Desc: true}},
		Limit: 2,
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "The Who", got[0]["title"])
	assert.Equal(t, "The Beatles", got[1]["title"])
}

func TestEntities_FindReturnsCopies(t *testing.T) {
	s := NewEntities()
	seedBands(t, s)
	ctx := context.Background()

	got, err := s.Find(ctx, "bands", core.Query{Filters: []core.Filter{core.Eq("id", int64(1))}})
	require.NoError(t, err)
	got[0]["title"] = "changed"

	again, err := s.Find(ctx, "bands", core.Query{Filters: []core.Filter{core.Eq("id", int64(1))}})
	require.NoError(t, err)
	assert.Equal(t, "The Beatles", again[0]["title"])
}

func TestEntities_UpdateAndDelete(t *testing.T) {
	s := NewEntities()
	seedBands(t, s)
	ctx := context.Background()

	require.NoError(t, s.Update(ctx, "bands", int64(2), core.Entity{"title": "Queen II", "id": int64(99)}))
	got, err := s.Find(ctx, "bands", core.Query{Filters: []core.Filter{core.Eq("id", int64(2))}})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Queen II", got[0]["title"])

	require.NoError(t, s.Delete(ctx, "bands", int64(2)))
	assert.Equal(t, 2, s.Count("bands"))

	err = s.Delete(ctx, "bands", int64(2))
	assert.ErrorIs(t, err, core.ErrNotFound)
	err = s.Update(ctx, "bands", int64(2), core.Entity{"title": "x"})
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestEntities_DeleteWhere(t *testing.T) {
	s := NewEntities()
	seedBands(t, s)

	n, err := s.DeleteWhere(context.Background(), "bands", []core.Filter{
		{Attribute: "title", Operator: core.OpStartsWith, Value: "The"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, s.Count("bands"))
}

func TestEntities_AtomicRollsBack(t *testing.T) {
	s := NewEntities()
	seedBands(t, s)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.Atomic(ctx, func(tx core.EntityStore) error {
		if _, err := tx.Insert(ctx, "bands", core.Entity{"title": "Muse"}); err != nil {
			return err
		}
		if err := tx.Delete(ctx, "bands", int64(1)); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, s.Count("bands"))

	// The id counter is restored with the data.
	e, err := s.Insert(ctx, "bands", core.Entity{"title": "Muse"})
	require.NoError(t, err)
	assert.Equal(t, int64(4), e.ID())
}

func TestEntities_NestedAtomic(t *testing.T) {
	s := NewEntities()
	ctx := context.Background()

	err := s.Atomic(ctx, func(tx core.EntityStore) error {
		_, err := tx.Insert(ctx, "bands", core.Entity{"title": "kept"})
		require.NoError(t, err)

		inner := tx.Atomic(ctx, func(tx core.EntityStore) error {
			_, err := tx.Insert(ctx, "bands", core.Entity{"title": "dropped"})
			require.NoError(t, err)
			return errors.New("row failed")
		})
		assert.Error(t, inner)
		return nil
	})
	require.NoError(t, err)

	got, err := s.Find(ctx, "bands", core.Query{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "kept", got[0]["title"])
}

func TestJobs_ConditionalUpdate(t *testing.T) {
	s := NewJobs()
	ctx := context.Background()
	job := &core.ImportJob{ID: "a", Status: core.ImportParsed, CreatedAt: time.Now()}
	require.NoError(t, s.CreateImportJob(ctx, job))

	first, err := s.GetImportJob(ctx, "a")
	require.NoError(t, err)
	second, err := s.GetImportJob(ctx, "a")
	require.NoError(t, err)

	first.Status = core.ImportConfirmed
	require.NoError(t, s.UpdateImportJob(ctx, first, core.ImportParsed))

	second.Status = core.ImportConfirmed
	err = s.UpdateImportJob(ctx, second, core.ImportParsed)
	assert.ErrorIs(t, err, core.ErrStatusConflict)

	_, err = s.GetImportJob(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestJobs_GetReturnsCopy(t *testing.T) {
	s := NewJobs()
	ctx := context.Background()
	require.NoError(t, s.CreateExportJob(ctx, &core.ExportJob{ID: "e", Status: core.ExportCreated}))

	job, err := s.GetExportJob(ctx, "e")
	require.NoError(t, err)
	job.Status = core.ExportExported

	stored, err := s.GetExportJob(ctx, "e")
	require.NoError(t, err)
	assert.Equal(t, core.ExportCreated, stored.Status)
}

func TestJobs_ListNewestFirst(t *testing.T) {
	s := NewJobs()
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		status := core.ImportParsed
		if id == "b" {
			status = core.ImportImported
		}
		require.NoError(t, s.CreateImportJob(ctx, &core.ImportJob{
			ID: id, Status: status, CreatedAt: base.Add(time.Duration(i) * time.Hour),
		}))
	}

	jobs, total, err := s.ListImportJobs(ctx, core.JobFilter{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, jobs, 2)
	assert.Equal(t, "c", jobs[0].ID)
	assert.Equal(t, "b", jobs[1].ID)

	jobs, total, err = s.ListImportJobs(ctx, core.JobFilter{Status: "PARSED", Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, jobs, 1)
	assert.Equal(t, "a", jobs[0].ID)
}
