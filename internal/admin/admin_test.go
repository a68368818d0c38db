package admin

import (
	"context"
	"testing"

	"github.com/JonMunkholm/impex/internal/core"
	"github.com/JonMunkholm/impex/internal/core/resources"
	"github.com/JonMunkholm/impex/internal/format"
	"github.com/JonMunkholm/impex/internal/memstore"
	"github.com/JonMunkholm/impex/internal/runner"
	"github.com/JonMunkholm/impex/internal/storage"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newService(entities *memstore.Entities) *core.Service {
	return core.NewService(core.Deps{
		Registry: resources.NewRegistry(),
		Formats:  format.NewRegistry(),
		Jobs:     memstore.NewJobs(),
		Entities: entities,
		Files:    storage.NewMemory(),
		Runner:   runner.NewInlineRunner(),
	}, core.DefaultConfig())
}

func writeFile(t *testing.T, fs afero.Fs, name, content string) {
	t.Helper()
	require.NoError(t, afero.WriteFile(fs, name, []byte(content), 0o644))
}

func TestImportDir(t *testing.T) {
	ctx := context.Background()
	entities := memstore.NewEntities()
	svc := newService(entities)
	fs := afero.NewMemMapFs()

	writeFile(t, fs, "in/instruments/a.csv", "Title\nGuitar\nBass\n")
	writeFile(t, fs, "in/bands/b.csv", "Title\nQueen\n")
	writeFile(t, fs, "in/bands/notes.txt", "ignored")
	writeFile(t, fs, "in/artists/c.csv", "Name,Instrument,Bands\nBrian May,Guitar,Queen\n")
	writeFile(t, fs, "in/artists/bad.csv", "Name,Instrument\nJohn Deacon,Triangle\n")

	results, err := ImportDir(ctx, svc, fs, "in", DirOptions{
		Resources:      []string{"instruments", "bands", "artists"},
		AutoConfirm:    true,
		RemoveImported: true,
		CreatedBy:      "cli",
	})
	require.NoError(t, err)
	require.Len(t, results, 4)

	byFile := make(map[string]FileResult, len(results))
	for _, r := range results {
		require.NoError(t, r.Err, r.File)
		byFile[r.File] = r
	}
	assert.Equal(t, core.ImportImported, byFile["in/instruments/a.csv"].Job.Status)
	assert.Equal(t, core.ImportImported, byFile["in/artists/c.csv"].Job.Status)
	assert.Equal(t, core.ImportInputError, byFile["in/artists/bad.csv"].Job.Status)
	assert.Equal(t, "cli", byFile["in/bands/b.csv"].Job.CreatedBy)

	assert.Equal(t, 2, entities.Count(resources.EntityInstruments))
	assert.Equal(t, 1, entities.Count(resources.EntityArtists))
	assert.Equal(t, 1, entities.Count(resources.EntityMemberships))

	exists, _ := afero.Exists(fs, "in/artists/c.csv")
	assert.False(t, exists, "imported file is removed")
	exists, _ = afero.Exists(fs, "in/artists/bad.csv")
	assert.True(t, exists, "failed file is kept")
	exists, _ = afero.Exists(fs, "in/bands/notes.txt")
	assert.True(t, exists)
}

func TestImportDir_DiscoversResourceDirs(t *testing.T) {
	svc := newService(memstore.NewEntities())
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "in/bands/b.csv", "Title\nQueen\n")
	writeFile(t, fs, "in/misc/x.csv", "Title\nNope\n")

	results, err := ImportDir(context.Background(), svc, fs, "in", DirOptions{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "bands", results[0].Resource)
	assert.Equal(t, core.ImportParsed, results[0].Job.Status, "not confirmed without AutoConfirm")
}

func TestImportDir_UnknownResource(t *testing.T) {
	svc := newService(memstore.NewEntities())
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("in/albums", 0o755))

	_, err := ImportDir(context.Background(), svc, fs, "in", DirOptions{Resources: []string{"albums"}})
	assert.ErrorIs(t, err, core.ErrUnknownResource)
}

func TestReset(t *testing.T) {
	ctx := context.Background()
	entities := memstore.NewEntities()
	_, err := entities.Insert(ctx, resources.EntityBands, core.Entity{"title": "Queen"})
	require.NoError(t, err)
	_, err = entities.Insert(ctx, resources.EntityBands, core.Entity{"title": "Yes"})
	require.NoError(t, err)

	deleted, err := Reset(ctx, entities, []string{resources.EntityMemberships, resources.EntityBands})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{resources.EntityMemberships: 0, resources.EntityBands: 2}, deleted)
	assert.Equal(t, 0, entities.Count(resources.EntityBands))
}
