package core

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"slices"
	"time"

	"github.com/JonMunkholm/impex/internal/logging"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/pkg/errors"
)

// ExportRequest describes an export. Resource.Params carries the filters.
type ExportRequest struct {
	Resource  ResourceRef
	Format    string
	Ordering  []string
	CreatedBy string
}

// CreateExportJob validates the request, persists a CREATED job and
// schedules the export phase right away.
func (s *Service) CreateExportJob(ctx context.Context, req ExportRequest) (*ExportJob, error) {
	def, err := s.registry.Resolve(req.Resource)
	if err != nil {
		return nil, err
	}
	format, err := s.formats.Lookup(req.Format)
	if err != nil {
		return nil, err
	}
	ext := normalizeExt(req.Format)
	if len(def.Formats) > 0 && !slices.Contains(def.Formats, ext) {
		return nil, &UnsupportedFormatError{Ext: ext, Supported: def.Formats}
	}
	if _, err := def.BuildQuery(req.Resource.Params, req.Ordering); err != nil {
		return nil, err
	}

	now := s.now()
	job := &ExportJob{
		ID:        s.newID(),
		Status:    ExportCreated,
		Resource:  req.Resource,
		Format:    ext,
		Ordering:  req.Ordering,
		CreatedBy: req.CreatedBy,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.jobs.CreateExportJob(ctx, job); err != nil {
		return nil, errors.Wrap(err, "create export job")
	}
	logging.WithFields(ctx, "job_id", job.ID, "resource", def.Info.Key, "format", format.Name()).
		Info("export job created")

	if err := s.scheduleExport(ctx, job); err != nil {
		return nil, err
	}
	if fresh, err := s.jobs.GetExportJob(ctx, job.ID); err == nil {
		job = fresh
	}
	return job, nil
}

// GetExportJob returns an export job by id.
func (s *Service) GetExportJob(ctx context.Context, id string) (*ExportJob, error) {
	return s.jobs.GetExportJob(ctx, id)
}

// ListExportJobs returns a page of export jobs, newest first, and the
// total count matching f.
func (s *Service) ListExportJobs(ctx context.Context, f JobFilter) ([]*ExportJob, int, error) {
	return s.jobs.ListExportJobs(ctx, f)
}

// CancelExport moves an unfinished export to CANCELLED and revokes its task.
func (s *Service) CancelExport(ctx context.Context, id string) (*ExportJob, error) {
	job, err := s.jobs.GetExportJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if !exportCancellable.Contains(job.Status) {
		return nil, exportStatusError(job, exportCancellable)
	}

	from := job.Status
	taskID := job.ActiveTaskID()
	job.Status = ExportCancelled
	job.UpdatedAt = s.now()
	if err := s.jobs.UpdateExportJob(ctx, job, from); err != nil {
		if errors.Is(err, ErrStatusConflict) {
			return nil, s.exportConflict(ctx, id, exportCancellable)
		}
		return nil, errors.Wrap(err, "cancel export job")
	}
	logTransition(ctx, "export", job.ID, from, job.Status)

	if taskID != "" {
		if err := s.runner.Cancel(ctx, taskID); err != nil {
			logging.WithFields(ctx, "job_id", job.ID, "task_id", taskID).Warn("revoke export task", "error", err)
		}
	}
	return job, nil
}

// ExportProgress reports the job status and, while exporting, the runner's
// progress. A runner failure never recorded on the job is recorded here.
func (s *Service) ExportProgress(ctx context.Context, id string) (Progress, error) {
	job, err := s.jobs.GetExportJob(ctx, id)
	if err != nil {
		return Progress{}, err
	}
	if !exportInFlight.Contains(job.Status) {
		return Progress{Status: string(job.Status)}, nil
	}

	ts, err := s.pollTask(ctx, job.ExportTaskID, job.UpdatedAt)
	if err != nil {
		return Progress{}, errors.Wrap(err, "poll export task")
	}

	if ts.State == TaskFailure {
		job.Status = ExportError
		job.ErrorMessage = truncateMessage(ts.Err, s.cfg.ErrorMessageLimit)
		job.Traceback = ts.Traceback
		job.ExportFinishedAt = s.timestamp()
		job.UpdatedAt = s.now()
		if err := s.jobs.UpdateExportJob(ctx, job, ExportExporting); err != nil {
			if !errors.Is(err, ErrStatusConflict) {
				return Progress{}, errors.Wrap(err, "record export task failure")
			}
			fresh, err := s.jobs.GetExportJob(ctx, id)
			if err != nil {
				return Progress{}, err
			}
			return Progress{Status: string(fresh.Status)}, nil
		}
		logTransition(ctx, "export", job.ID, ExportExporting, ExportError)
		s.notifyExportFailed(ctx, job)
	}

	return newProgress(string(job.Status), ts), nil
}

// OpenExportOutput opens the rendered file of an EXPORTED job.
func (s *Service) OpenExportOutput(ctx context.Context, id string) (*ExportJob, TabularFormat, io.ReadCloser, error) {
	job, err := s.jobs.GetExportJob(ctx, id)
	if err != nil {
		return nil, nil, nil, err
	}
	if job.Status != ExportExported {
		return nil, nil, nil, exportStatusError(job, mapset.NewSet(ExportExported))
	}
	format, err := s.formats.Lookup(job.Format)
	if err != nil {
		return nil, nil, nil, err
	}
	rc, err := s.files.Open(ctx, job.OutputFile)
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "open export file")
	}
	return job, format, rc, nil
}

func (s *Service) exportConflict(ctx context.Context, id string, allowed mapset.Set[ExportStatus]) error {
	fresh, err := s.jobs.GetExportJob(ctx, id)
	if err != nil {
		return err
	}
	return exportStatusError(fresh, allowed)
}

func (s *Service) scheduleExport(ctx context.Context, job *ExportJob) error {
	taskID := s.newID()
	job.Status = ExportExporting
	job.ExportTaskID = taskID
	job.ExportStartedAt = s.timestamp()
	job.UpdatedAt = s.now()
	if err := s.jobs.UpdateExportJob(ctx, job, ExportCreated); err != nil {
		return errors.Wrap(err, "schedule export")
	}
	logTransition(ctx, "export", job.ID, ExportCreated, ExportExporting)

	if err := s.runner.Submit(ctx, taskID, s.exportTask(job.ID)); err != nil {
		s.failExport(ctx, job, errors.Wrap(err, "submit export task"))
	}
	return nil
}

func (s *Service) failExport(ctx context.Context, job *ExportJob, cause error) {
	job.Status = ExportError
	job.ErrorMessage, job.Traceback = s.recordError(cause)
	job.ExportFinishedAt = s.timestamp()
	job.UpdatedAt = s.now()

	logging.FromContext(ctx).Error("export failed", "job_id", job.ID, "error", cause)
	if !s.finishExport(ctx, job) {
		return
	}
	s.notifyExportFailed(ctx, job)
}

func (s *Service) finishExport(ctx context.Context, job *ExportJob) bool {
	if err := s.jobs.UpdateExportJob(ctx, job, ExportExporting); err != nil {
		logging.FromContext(ctx).Warn("export result dropped", "job_id", job.ID, "status", job.Status, "error", err)
		return false
	}
	logTransition(ctx, "export", job.ID, ExportExporting, job.Status)
	return true
}

func (s *Service) exportTask(jobID string) TaskFunc {
	return func(tc TaskContext) error {
		ctx := jobContext(tc, jobID)

		job, err := s.jobs.GetExportJob(ctx, jobID)
		if err != nil {
			return errors.Wrap(err, "load export job")
		}
		if job.Status != ExportExporting || job.ExportTaskID != tc.TaskID() {
			logging.FromContext(ctx).Warn("stale export task", "status", job.Status, "task_id", tc.TaskID())
			return nil
		}

		output, summary, err := s.runExport(ctx, tc, job)
		job.Result = summary
		if err != nil {
			s.failExport(ctx, job, err)
			return nil
		}

		job.Status = ExportExported
		job.OutputFile = output
		job.ExportFinishedAt = s.timestamp()
		job.UpdatedAt = s.now()
		s.finishExport(ctx, job)
		return nil
	}
}

// runExport queries, renders and stores the export file, returning its
// storage name.
func (s *Service) runExport(ctx context.Context, tc TaskContext, job *ExportJob) (string, *ExportSummary, error) {
	def, err := s.registry.Resolve(job.Resource)
	if err != nil {
		return "", nil, errors.WithStack(err)
	}
	format, err := s.formats.Lookup(job.Format)
	if err != nil {
		return "", nil, errors.WithStack(err)
	}
	q, err := def.BuildQuery(job.Resource.Params, job.Ordering)
	if err != nil {
		return "", nil, errors.WithStack(err)
	}

	entities, err := s.entities.Find(ctx, def.Info.Entity, q)
	if err != nil {
		return "", nil, errors.Wrap(err, "query export entities")
	}

	progress := NewProgressReporter(tc, string(ExportExporting), s.cfg.StatusUpdateRowCount)
	ds, summary, err := s.processor(def).ProcessExport(ctx, entities, progress)
	if err != nil {
		return "", summary, errors.WithStack(err)
	}

	data, err := format.Render(ds)
	if err != nil {
		return "", summary, errors.Wrapf(err, "render %s", format.Name())
	}

	name := path.Join("export", job.ID, exportFileName(def.Info.Key, job.Format, s.now()))
	if err := s.files.Save(ctx, name, bytes.NewReader(data)); err != nil {
		return "", summary, errors.Wrap(err, "store export file")
	}
	return name, summary, nil
}

func exportFileName(resource, ext string, at time.Time) string {
	return fmt.Sprintf("%s-%s.%s", resource, at.Format("2006-01-02"), ext)
}
