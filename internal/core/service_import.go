package core

import (
	"context"
	"io"
	"path"
	"slices"

	"github.com/JonMunkholm/impex/internal/logging"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/pkg/errors"
)

// ImportRequest describes an uploaded file to import.
type ImportRequest struct {
	Resource      ResourceRef
	FileName      string
	Data          io.Reader
	SkipParseStep bool // import immediately without the dry-run parse
	ForceImport   bool // demote failed rows to skips
	CreatedBy     string
}

// CreateImportJob stores the upload, persists a CREATED job and schedules
// its first phase. Unknown resources and unsupported file extensions are
// rejected before anything is stored.
func (s *Service) CreateImportJob(ctx context.Context, req ImportRequest) (*ImportJob, error) {
	def, err := s.registry.Resolve(req.Resource)
	if err != nil {
		return nil, err
	}
	_, ext, err := s.formats.ForFile(req.FileName)
	if err != nil {
		return nil, err
	}
	if len(def.Formats) > 0 && !slices.Contains(def.Formats, ext) {
		return nil, &UnsupportedFormatError{Ext: ext, Supported: def.Formats}
	}

	id := s.newID()
	dataFile := path.Join("import", id, path.Base(req.FileName))
	if err := s.files.Save(ctx, dataFile, req.Data); err != nil {
		return nil, errors.Wrap(err, "store import file")
	}

	now := s.now()
	job := &ImportJob{
		ID:            id,
		Status:        ImportCreated,
		Resource:      req.Resource,
		DataFile:      dataFile,
		Format:        ext,
		SkipParseStep: req.SkipParseStep,
		ForceImport:   req.ForceImport,
		CreatedBy:     req.CreatedBy,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.jobs.CreateImportJob(ctx, job); err != nil {
		if rmErr := s.files.Remove(ctx, dataFile); rmErr != nil {
			logging.FromContext(ctx).Warn("remove orphaned import file", "file", dataFile, "error", rmErr)
		}
		return nil, errors.Wrap(err, "create import job")
	}
	logging.WithFields(ctx, "job_id", job.ID, "resource", def.Info.Key).Info("import job created")

	if job.SkipParseStep {
		err = s.scheduleImport(ctx, job, ImportCreated, ImportImporting)
	} else {
		err = s.scheduleParse(ctx, job)
	}
	if err != nil {
		return nil, err
	}
	return s.reloadImport(ctx, job), nil
}

// GetImportJob returns an import job by id.
func (s *Service) GetImportJob(ctx context.Context, id string) (*ImportJob, error) {
	return s.jobs.GetImportJob(ctx, id)
}

// ListImportJobs returns a page of import jobs, newest first, and the
// total count matching f.
func (s *Service) ListImportJobs(ctx context.Context, f JobFilter) ([]*ImportJob, int, error) {
	return s.jobs.ListImportJobs(ctx, f)
}

// Confirm schedules the import phase of a PARSED job.
func (s *Service) Confirm(ctx context.Context, id string) (*ImportJob, error) {
	job, err := s.jobs.GetImportJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if !importConfirmable.Contains(job.Status) {
		return nil, importStatusError(job, importConfirmable)
	}

	if err := s.scheduleImport(ctx, job, ImportParsed, ImportConfirmed); err != nil {
		if errors.Is(err, ErrStatusConflict) {
			return nil, s.importConflict(ctx, id, importConfirmable)
		}
		return nil, err
	}
	return s.reloadImport(ctx, job), nil
}

// CancelImport moves a job that has not finished to CANCELLED and revokes
// the task of its active phase.
func (s *Service) CancelImport(ctx context.Context, id string) (*ImportJob, error) {
	job, err := s.jobs.GetImportJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if !importCancellable.Contains(job.Status) {
		return nil, importStatusError(job, importCancellable)
	}

	from := job.Status
	taskID := job.ActiveTaskID()
	job.Status = ImportCancelled
	job.UpdatedAt = s.now()
	if err := s.jobs.UpdateImportJob(ctx, job, from); err != nil {
		if errors.Is(err, ErrStatusConflict) {
			return nil, s.importConflict(ctx, id, importCancellable)
		}
		return nil, errors.Wrap(err, "cancel import job")
	}
	logTransition(ctx, "import", job.ID, from, job.Status)

	if taskID != "" {
		if err := s.runner.Cancel(ctx, taskID); err != nil {
			logging.WithFields(ctx, "job_id", job.ID, "task_id", taskID).Warn("revoke import task", "error", err)
		}
	}
	return job, nil
}

// ImportProgress reports the job status and, while a phase runs, the
// runner's progress. A runner failure never recorded on the job is
// recorded here.
func (s *Service) ImportProgress(ctx context.Context, id string) (Progress, error) {
	job, err := s.jobs.GetImportJob(ctx, id)
	if err != nil {
		return Progress{}, err
	}
	if !importInFlight.Contains(job.Status) {
		return Progress{Status: string(job.Status)}, nil
	}

	ts, err := s.pollTask(ctx, job.ActiveTaskID(), job.UpdatedAt)
	if err != nil {
		return Progress{}, errors.Wrap(err, "poll import task")
	}

	if ts.State == TaskFailure {
		to := ImportParseError
		if job.Status == ImportImporting {
			to = ImportImportError
		}
		from := job.Status
		job.Status = to
		job.ErrorMessage = truncateMessage(ts.Err, s.cfg.ErrorMessageLimit)
		job.Traceback = ts.Traceback
		job.UpdatedAt = s.now()
		if to == ImportImportError {
			job.ImportFinishedAt = s.timestamp()
		} else {
			job.ParseFinishedAt = s.timestamp()
		}

		if err := s.jobs.UpdateImportJob(ctx, job, from); err != nil {
			if !errors.Is(err, ErrStatusConflict) {
				return Progress{}, errors.Wrap(err, "record import task failure")
			}
			fresh, err := s.jobs.GetImportJob(ctx, id)
			if err != nil {
				return Progress{}, err
			}
			return Progress{Status: string(fresh.Status)}, nil
		}
		logTransition(ctx, "import", job.ID, from, to)
		s.notifyImportFailed(ctx, job)
	}

	return newProgress(string(job.Status), ts), nil
}

// reloadImport returns the stored state of job, which a synchronous runner
// may already have moved past the scheduled status.
func (s *Service) reloadImport(ctx context.Context, job *ImportJob) *ImportJob {
	fresh, err := s.jobs.GetImportJob(ctx, job.ID)
	if err != nil {
		return job
	}
	return fresh
}

// importConflict reloads a job whose status changed under a verb.
func (s *Service) importConflict(ctx context.Context, id string, allowed mapset.Set[ImportStatus]) error {
	fresh, err := s.jobs.GetImportJob(ctx, id)
	if err != nil {
		return err
	}
	return importStatusError(fresh, allowed)
}

// scheduleParse persists PARSING with a fresh parse task id, then submits
// the task.
func (s *Service) scheduleParse(ctx context.Context, job *ImportJob) error {
	taskID := s.newID()
	job.Status = ImportParsing
	job.ParseTaskID = taskID
	job.ParseStartedAt = s.timestamp()
	job.UpdatedAt = s.now()
	if err := s.jobs.UpdateImportJob(ctx, job, ImportCreated); err != nil {
		return errors.Wrap(err, "schedule parse")
	}
	logTransition(ctx, "import", job.ID, ImportCreated, ImportParsing)

	if err := s.runner.Submit(ctx, taskID, s.parseTask(job.ID)); err != nil {
		s.failImport(ctx, job, ImportParsing, ImportParseError, errors.Wrap(err, "submit parse task"))
	}
	return nil
}

// scheduleImport persists to with a fresh import task id, then submits
// the task.
func (s *Service) scheduleImport(ctx context.Context, job *ImportJob, from, to ImportStatus) error {
	taskID := s.newID()
	job.Status = to
	job.ImportTaskID = taskID
	job.UpdatedAt = s.now()
	if to == ImportImporting {
		job.ImportStartedAt = s.timestamp()
	}
	if err := s.jobs.UpdateImportJob(ctx, job, from); err != nil {
		job.Status = from
		return errors.Wrap(err, "schedule import")
	}
	logTransition(ctx, "import", job.ID, from, to)

	if err := s.runner.Submit(ctx, taskID, s.importTask(job.ID)); err != nil {
		s.failImport(ctx, job, to, ImportImportError, errors.Wrap(err, "submit import task"))
	}
	return nil
}

// failImport persists an error status. A lost race (the job was cancelled
// meanwhile) leaves the stored job untouched.
func (s *Service) failImport(ctx context.Context, job *ImportJob, from, to ImportStatus, cause error) {
	job.Status = to
	job.ErrorMessage, job.Traceback = s.recordError(cause)
	job.UpdatedAt = s.now()
	if to == ImportParseError {
		job.ParseFinishedAt = s.timestamp()
	} else {
		job.ImportFinishedAt = s.timestamp()
	}

	logging.FromContext(ctx).Error("import phase failed", "job_id", job.ID, "error", cause)
	if !s.finishImport(ctx, job, from) {
		return
	}
	s.notifyImportFailed(ctx, job)
}

// finishImport persists the outcome of a phase. It reports false when the
// job left from while the phase ran.
func (s *Service) finishImport(ctx context.Context, job *ImportJob, from ImportStatus) bool {
	if err := s.jobs.UpdateImportJob(ctx, job, from); err != nil {
		logging.FromContext(ctx).Warn("import result dropped", "job_id", job.ID, "status", job.Status, "error", err)
		return false
	}
	logTransition(ctx, "import", job.ID, from, job.Status)
	return true
}

func (s *Service) parseTask(jobID string) TaskFunc {
	return func(tc TaskContext) error {
		ctx := jobContext(tc, jobID)

		job, err := s.jobs.GetImportJob(ctx, jobID)
		if err != nil {
			return errors.Wrap(err, "load import job")
		}
		if job.Status != ImportParsing || job.ParseTaskID != tc.TaskID() {
			logging.FromContext(ctx).Warn("stale parse task", "status", job.Status, "task_id", tc.TaskID())
			return nil
		}

		policy := ImportPolicy{DryRun: true, ForceSkipErrors: job.ForceImport}
		result, err := s.runImport(ctx, tc, job, policy, string(ImportParsing))
		job.Result = result
		if err != nil {
			s.failImport(ctx, job, ImportParsing, ImportParseError, err)
			return nil
		}

		job.Status = ImportParsed
		if result.HasErrors() || result.HasValidationErrors() {
			job.Status = ImportInputError
		}
		job.ParseFinishedAt = s.timestamp()
		job.UpdatedAt = s.now()
		s.finishImport(ctx, job, ImportParsing)
		return nil
	}
}

func (s *Service) importTask(jobID string) TaskFunc {
	return func(tc TaskContext) error {
		ctx := jobContext(tc, jobID)

		job, err := s.jobs.GetImportJob(ctx, jobID)
		if err != nil {
			return errors.Wrap(err, "load import job")
		}
		if job.ImportTaskID != tc.TaskID() || (job.Status != ImportConfirmed && job.Status != ImportImporting) {
			logging.FromContext(ctx).Warn("stale import task", "status", job.Status, "task_id", tc.TaskID())
			return nil
		}

		if job.Status == ImportConfirmed {
			job.Status = ImportImporting
			job.ImportStartedAt = s.timestamp()
			job.UpdatedAt = s.now()
			if !s.finishImport(ctx, job, ImportConfirmed) {
				return nil
			}
		}

		policy := ImportPolicy{FailFast: !job.ForceImport, ForceSkipErrors: job.ForceImport}
		result, err := s.runImport(ctx, tc, job, policy, string(ImportImporting))
		job.Result = result
		if err != nil {
			s.failImport(ctx, job, ImportImporting, ImportImportError, err)
			return nil
		}

		job.Status = ImportImported
		job.ImportFinishedAt = s.timestamp()
		job.UpdatedAt = s.now()
		s.finishImport(ctx, job, ImportImporting)
		return nil
	}
}

// runImport loads the job's file and runs the processor over it.
func (s *Service) runImport(ctx context.Context, tc TaskContext, job *ImportJob, policy ImportPolicy, state string) (*BatchResult, error) {
	def, err := s.registry.Resolve(job.Resource)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	format, err := s.formats.Lookup(job.Format)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	ds, err := s.readDataset(ctx, job.DataFile, format)
	if err != nil {
		return nil, err
	}

	progress := NewProgressReporter(tc, state, s.cfg.StatusUpdateRowCount)
	result, err := s.processor(def).ProcessImport(ctx, ds, policy, progress)
	if err != nil {
		return result, errors.WithStack(err)
	}
	return result, nil
}

func (s *Service) readDataset(ctx context.Context, name string, format TabularFormat) (*Dataset, error) {
	rc, err := s.files.Open(ctx, name)
	if err != nil {
		return nil, errors.Wrap(err, "open import file")
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, errors.Wrap(err, "read import file")
	}
	ds, err := format.Parse(data)
	if err != nil {
		return nil, errors.Wrapf(err, "parse %s file", format.Name())
	}
	return ds, nil
}
