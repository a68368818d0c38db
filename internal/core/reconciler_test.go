package core_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/JonMunkholm/impex/internal/core"
	"github.com/JonMunkholm/impex/internal/core/resources"
	"github.com/JonMunkholm/impex/internal/format"
	"github.com/JonMunkholm/impex/internal/memstore"
	"github.com/JonMunkholm/impex/internal/runner"
	"github.com/JonMunkholm/impex/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestService_ReconcileRecordsLostFailures(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t)

	lost := f.createImport(t, core.ImportRequest{Data: strings.NewReader(validArtists)})
	healthy := f.createImport(t, core.ImportRequest{Data: strings.NewReader(validArtists)})
	export, err := f.svc.CreateExportJob(ctx, core.ExportRequest{Resource: core.ResourceRef{Name: "bands"}, Format: "csv"})
	require.NoError(t, err)

	f.runner.setState(lost.ParseTaskID, core.TaskStatus{State: core.TaskFailure, Err: "worker lost"})
	f.runner.setState(export.ExportTaskID, core.TaskStatus{State: core.TaskFailure, Err: "worker lost"})

	assert.Equal(t, 3, f.svc.Reconcile(ctx))

	assert.Equal(t, core.ImportParseError, f.importJob(t, lost.ID).Status)
	assert.Equal(t, core.ImportParsing, f.importJob(t, healthy.ID).Status)
	assert.Equal(t, core.ExportError, f.exportJob(t, export.ID).Status)
	assert.Equal(t, []string{lost.ID}, f.failedImport)
	assert.Equal(t, []string{export.ID}, f.failedExport)

	// Only the healthy job is still running.
	assert.Equal(t, 1, f.svc.Reconcile(ctx))
}

func TestService_ReconcileFailsJobsLostInRestart(t *testing.T) {
	ctx := context.Background()
	jobs := memstore.NewJobs()
	files := storage.NewMemory()
	entities := memstore.NewEntities()
	deps := func(r core.TaskRunner) core.Deps {
		return core.Deps{
			Registry: resources.NewRegistry(),
			Formats:  format.NewRegistry(),
			Jobs:     jobs,
			Entities: entities,
			Files:    files,
			Runner:   r,
		}
	}

	// The first process accepts the parse task and dies before running it.
	before := core.NewService(deps(newManualRunner()), core.DefaultConfig())
	job, err := before.CreateImportJob(ctx, core.ImportRequest{
		Resource: core.ResourceRef{Name: "artists"},
		FileName: "artists.csv",
		Data:     strings.NewReader(validArtists),
	})
	require.NoError(t, err)
	require.Equal(t, core.ImportParsing, job.Status)

	t.Run("within the grace period", func(t *testing.T) {
		after := core.NewService(deps(runner.NewTacheRunner(runner.Options{Workers: 1})), core.DefaultConfig())

		progress, err := after.ImportProgress(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, core.Progress{Status: "PARSING", State: "PENDING"}, progress)
	})

	t.Run("after the grace period", func(t *testing.T) {
		cfg := core.DefaultConfig()
		cfg.LostTaskGrace = 0
		after := core.NewService(deps(runner.NewTacheRunner(runner.Options{Workers: 1})), cfg)

		assert.Equal(t, 1, after.Reconcile(ctx))

		got, err := after.GetImportJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, core.ImportParseError, got.Status)
		assert.Contains(t, got.ErrorMessage, "task lost")
		assert.Equal(t, 0, after.Reconcile(ctx))
	})
}

func TestService_StartReconcilerStopsOnCancel(t *testing.T) {
	f := newServiceFixture(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		f.svc.StartReconciler(ctx, time.Millisecond)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reconciler did not stop")
	}
}
