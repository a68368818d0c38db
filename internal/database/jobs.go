package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/JonMunkholm/impex/internal/core"
	"github.com/jackc/pgx/v5"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Jobs is the Postgres core.JobStore.
type Jobs struct {
	db DBTX
}

// NewJobs creates a job store on db.
func NewJobs(db DBTX) *Jobs {
	return &Jobs{db: db}
}

const importColumns = `id, status, resource, data_file, format, skip_parse_step, force_import,
	parse_task_id, import_task_id, result, error_message, traceback, created_by,
	created_at, updated_at, parse_started_at, parse_finished_at, import_started_at, import_finished_at`

const exportColumns = `id, status, resource, format, ordering, output_file, export_task_id,
	result, error_message, traceback, created_by,
	created_at, updated_at, export_started_at, export_finished_at`

func (s *Jobs) CreateImportJob(ctx context.Context, job *core.ImportJob) error {
	args, err := importArgs(job)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `INSERT INTO import_jobs (`+importColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`, args...)
	if err != nil {
		return fmt.Errorf("insert import job: %w", err)
	}
	return nil
}

func (s *Jobs) GetImportJob(ctx context.Context, id string) (*core.ImportJob, error) {
	rows, err := s.db.Query(ctx, `SELECT `+importColumns+` FROM import_jobs WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("get import job: %w", err)
	}
	job, err := pgx.CollectExactlyOneRow(rows, scanImportJob)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("import job %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get import job: %w", err)
	}
	return job, nil
}

// UpdateImportJob rewrites every mutable column. With from given, the
// write applies only while the stored status is one of from.
func (s *Jobs) UpdateImportJob(ctx context.Context, job *core.ImportJob, from ...core.ImportStatus) error {
	args, err := importArgs(job)
	if err != nil {
		return err
	}
	args = append(args, statusStrings(from))

	tag, err := s.db.Exec(ctx, `UPDATE import_jobs SET
		status = $2, resource = $3, data_file = $4, format = $5, skip_parse_step = $6,
		force_import = $7, parse_task_id = $8, import_task_id = $9, result = $10,
		error_message = $11, traceback = $12, created_by = $13, created_at = $14,
		updated_at = $15, parse_started_at = $16, parse_finished_at = $17,
		import_started_at = $18, import_finished_at = $19
		WHERE id = $1 AND (cardinality($20::text[]) = 0 OR status = ANY($20))`, args...)
	if err != nil {
		return fmt.Errorf("update import job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.missOrConflict(ctx, "import_jobs", job.ID)
	}
	return nil
}

func (s *Jobs) ListImportJobs(ctx context.Context, f core.JobFilter) ([]*core.ImportJob, int, error) {
	total, err := s.count(ctx, "import_jobs", f.Status)
	if err != nil {
		return nil, 0, err
	}
	rows, err := s.db.Query(ctx, `SELECT `+importColumns+` FROM import_jobs
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`, f.Status, limitArg(f.Limit), max(f.Offset, 0))
	if err != nil {
		return nil, 0, fmt.Errorf("list import jobs: %w", err)
	}
	jobs, err := pgx.CollectRows(rows, scanImportJob)
	if err != nil {
		return nil, 0, fmt.Errorf("list import jobs: %w", err)
	}
	return jobs, total, nil
}

func (s *Jobs) CreateExportJob(ctx context.Context, job *core.ExportJob) error {
	args, err := exportArgs(job)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `INSERT INTO export_jobs (`+exportColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`, args...)
	if err != nil {
		return fmt.Errorf("insert export job: %w", err)
	}
	return nil
}

func (s *Jobs) GetExportJob(ctx context.Context, id string) (*core.ExportJob, error) {
	rows, err := s.db.Query(ctx, `SELECT `+exportColumns+` FROM export_jobs WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("get export job: %w", err)
	}
	job, err := pgx.CollectExactlyOneRow(rows, scanExportJob)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("export job %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get export job: %w", err)
	}
	return job, nil
}

func (s *Jobs) UpdateExportJob(ctx context.Context, job *core.ExportJob, from ...core.ExportStatus) error {
	args, err := exportArgs(job)
	if err != nil {
		return err
	}
	args = append(args, statusStrings(from))

	tag, err := s.db.Exec(ctx, `UPDATE export_jobs SET
		status = $2, resource = $3, format = $4, ordering = $5, output_file = $6,
		export_task_id = $7, result = $8, error_message = $9, traceback = $10,
		created_by = $11, created_at = $12, updated_at = $13,
		export_started_at = $14, export_finished_at = $15
		WHERE id = $1 AND (cardinality($16::text[]) = 0 OR status = ANY($16))`, args...)
	if err != nil {
		return fmt.Errorf("update export job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.missOrConflict(ctx, "export_jobs", job.ID)
	}
	return nil
}

func (s *Jobs) ListExportJobs(ctx context.Context, f core.JobFilter) ([]*core.ExportJob, int, error) {
	total, err := s.count(ctx, "export_jobs", f.Status)
	if err != nil {
		return nil, 0, err
	}
	rows, err := s.db.Query(ctx, `SELECT `+exportColumns+` FROM export_jobs
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`, f.Status, limitArg(f.Limit), max(f.Offset, 0))
	if err != nil {
		return nil, 0, fmt.Errorf("list export jobs: %w", err)
	}
	jobs, err := pgx.CollectRows(rows, scanExportJob)
	if err != nil {
		return nil, 0, fmt.Errorf("list export jobs: %w", err)
	}
	return jobs, total, nil
}

func (s *Jobs) count(ctx context.Context, table, status string) (int, error) {
	var total int
	err := s.db.QueryRow(ctx,
		`SELECT count(*) FROM `+quoteIdentifier(table)+` WHERE ($1 = '' OR status = $1)`, status,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return total, nil
}

// missOrConflict explains an update that touched no row.
func (s *Jobs) missOrConflict(ctx context.Context, table, id string) error {
	var status string
	err := s.db.QueryRow(ctx, `SELECT status FROM `+quoteIdentifier(table)+` WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", table, id, core.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("read %s status: %w", table, err)
	}
	return fmt.Errorf("%s %s is %s: %w", table, id, status, core.ErrStatusConflict)
}

func importArgs(job *core.ImportJob) ([]any, error) {
	resource, err := json.Marshal(job.Resource)
	if err != nil {
		return nil, fmt.Errorf("encode resource: %w", err)
	}
	result, err := marshalNullable(job.Result)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return []any{
		job.ID, string(job.Status), resource, job.DataFile, job.Format, job.SkipParseStep, job.ForceImport,
		job.ParseTaskID, job.ImportTaskID, result, job.ErrorMessage, job.Traceback, job.CreatedBy,
		job.CreatedAt, job.UpdatedAt, job.ParseStartedAt, job.ParseFinishedAt, job.ImportStartedAt, job.ImportFinishedAt,
	}, nil
}

func scanImportJob(row pgx.CollectableRow) (*core.ImportJob, error) {
	var (
		job              core.ImportJob
		status           string
		resource, result []byte
	)
	err := row.Scan(
		&job.ID, &status, &resource, &job.DataFile, &job.Format, &job.SkipParseStep, &job.ForceImport,
		&job.ParseTaskID, &job.ImportTaskID, &result, &job.ErrorMessage, &job.Traceback, &job.CreatedBy,
		&job.CreatedAt, &job.UpdatedAt, &job.ParseStartedAt, &job.ParseFinishedAt, &job.ImportStartedAt, &job.ImportFinishedAt,
	)
	if err != nil {
		return nil, err
	}
	job.Status = core.ImportStatus(status)
	if err := json.Unmarshal(resource, &job.Resource); err != nil {
		return nil, fmt.Errorf("decode resource: %w", err)
	}
	if len(result) > 0 {
		job.Result = &core.BatchResult{}
		if err := json.Unmarshal(result, job.Result); err != nil {
			return nil, fmt.Errorf("decode result: %w", err)
		}
	}
	return &job, nil
}

func exportArgs(job *core.ExportJob) ([]any, error) {
	resource, err := json.Marshal(job.Resource)
	if err != nil {
		return nil, fmt.Errorf("encode resource: %w", err)
	}
	ordering, err := json.Marshal(job.Ordering)
	if err != nil {
		return nil, fmt.Errorf("encode ordering: %w", err)
	}
	result, err := marshalNullable(job.Result)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return []any{
		job.ID, string(job.Status), resource, job.Format, ordering, job.OutputFile, job.ExportTaskID,
		result, job.ErrorMessage, job.Traceback, job.CreatedBy,
		job.CreatedAt, job.UpdatedAt, job.ExportStartedAt, job.ExportFinishedAt,
	}, nil
}

func scanExportJob(row pgx.CollectableRow) (*core.ExportJob, error) {
	var (
		job                        core.ExportJob
		status                     string
		resource, ordering, result []byte
	)
	err := row.Scan(
		&job.ID, &status, &resource, &job.Format, &ordering, &job.OutputFile, &job.ExportTaskID,
		&result, &job.ErrorMessage, &job.Traceback, &job.CreatedBy,
		&job.CreatedAt, &job.UpdatedAt, &job.ExportStartedAt, &job.ExportFinishedAt,
	)
	if err != nil {
		return nil, err
	}
	job.Status = core.ExportStatus(status)
	if err := json.Unmarshal(resource, &job.Resource); err != nil {
		return nil, fmt.Errorf("decode resource: %w", err)
	}
	if len(ordering) > 0 {
		if err := json.Unmarshal(ordering, &job.Ordering); err != nil {
			return nil, fmt.Errorf("decode ordering: %w", err)
		}
	}
	if len(result) > 0 {
		job.Result = &core.ExportSummary{}
		if err := json.Unmarshal(result, job.Result); err != nil {
			return nil, fmt.Errorf("decode result: %w", err)
		}
	}
	return &job, nil
}

// marshalNullable encodes v, mapping a nil pointer to SQL NULL.
func marshalNullable[T any](v *T) (any, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func statusStrings[S ~string](statuses []S) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

// limitArg maps "no limit" to NULL, which LIMIT treats as unbounded.
func limitArg(limit int) any {
	if limit <= 0 {
		return nil
	}
	return limit
}
