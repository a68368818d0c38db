// Package sqlite keeps job history in a local SQLite file so the operator
// CLI can run without a job server.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/JonMunkholm/impex/internal/core"
	"github.com/avast/retry-go"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type importJobRecord struct {
	ID            string           `gorm:"primaryKey"`
	Status        string           `gorm:"index;not null"`
	Resource      core.ResourceRef `gorm:"serializer:jsoniter;not null"`
	DataFile      string
	Format        string
	SkipParseStep bool
	ForceImport   bool
	ParseTaskID   string
	ImportTaskID  string
	Result        *core.BatchResult `gorm:"serializer:jsoniter"`
	ErrorMessage  string
	Traceback     string
	CreatedBy     string

	CreatedAt        time.Time `gorm:"index;autoCreateTime:false"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime:false"`
	ParseStartedAt   *time.Time
	ParseFinishedAt  *time.Time
	ImportStartedAt  *time.Time
	ImportFinishedAt *time.Time
}

func (importJobRecord) TableName() string { return "import_jobs" }

type exportJobRecord struct {
	ID           string           `gorm:"primaryKey"`
	Status       string           `gorm:"index;not null"`
	Resource     core.ResourceRef `gorm:"serializer:jsoniter;not null"`
	Format       string
	Ordering     []string `gorm:"serializer:jsoniter"`
	OutputFile   string
	ExportTaskID string
	Result       *core.ExportSummary `gorm:"serializer:jsoniter"`
	ErrorMessage string
	Traceback    string
	CreatedBy    string

	CreatedAt        time.Time `gorm:"index;autoCreateTime:false"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime:false"`
	ExportStartedAt  *time.Time
	ExportFinishedAt *time.Time
}

func (exportJobRecord) TableName() string { return "export_jobs" }

// Jobs is a core.JobStore on gorm.
type Jobs struct {
	db *gorm.DB
}

var _ core.JobStore = (*Jobs)(nil)

// Open opens (creating if needed) the SQLite file at path and migrates the
// job tables. A locked database is retried up to attempts times.
func Open(ctx context.Context, path string, attempts uint) (*Jobs, error) {
	var db *gorm.DB
	err := retry.Do(
		func() error {
			var err error
			db, err = gorm.Open(sqlite.Open(path), &gorm.Config{
				Logger: logger.Default.LogMode(logger.Silent),
			})
			if err != nil {
				return err
			}
			return db.WithContext(ctx).AutoMigrate(&importJobRecord{}, &exportJobRecord{})
		},
		retry.Context(ctx),
		retry.Attempts(max(attempts, 1)),
		retry.Delay(200*time.Millisecond),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			slog.Warn("sqlite open failed, retrying", "path", path, "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("open job database %s: %w", path, err)
	}
	return &Jobs{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Jobs) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Jobs) CreateImportJob(ctx context.Context, job *core.ImportJob) error {
	if err := s.db.WithContext(ctx).Create(toImportRecord(job)).Error; err != nil {
		return fmt.Errorf("insert import job: %w", err)
	}
	return nil
}

func (s *Jobs) GetImportJob(ctx context.Context, id string) (*core.ImportJob, error) {
	var rec importJobRecord
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("import job %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get import job: %w", err)
	}
	return rec.job(), nil
}

// UpdateImportJob rewrites every column. With from given, the write
// applies only while the stored status is one of from.
func (s *Jobs) UpdateImportJob(ctx context.Context, job *core.ImportJob, from ...core.ImportStatus) error {
	q := s.db.WithContext(ctx).Model(&importJobRecord{}).Where("id = ?", job.ID)
	if len(from) > 0 {
		q = q.Where("status IN ?", statusStrings(from))
	}
	res := q.Select("*").Updates(toImportRecord(job))
	if res.Error != nil {
		return fmt.Errorf("update import job: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return s.missOrConflict(ctx, &importJobRecord{}, job.ID)
	}
	return nil
}

func (s *Jobs) ListImportJobs(ctx context.Context, f core.JobFilter) ([]*core.ImportJob, int, error) {
	var total int64
	if err := filtered(s.db.WithContext(ctx).Model(&importJobRecord{}), f).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count import jobs: %w", err)
	}
	var recs []importJobRecord
	if err := paged(filtered(s.db.WithContext(ctx), f), f).Find(&recs).Error; err != nil {
		return nil, 0, fmt.Errorf("list import jobs: %w", err)
	}
	jobs := make([]*core.ImportJob, len(recs))
	for i := range recs {
		jobs[i] = recs[i].job()
	}
	return jobs, int(total), nil
}

func (s *Jobs) CreateExportJob(ctx context.Context, job *core.ExportJob) error {
	if err := s.db.WithContext(ctx).Create(toExportRecord(job)).Error; err != nil {
		return fmt.Errorf("insert export job: %w", err)
	}
	return nil
}

func (s *Jobs) GetExportJob(ctx context.Context, id string) (*core.ExportJob, error) {
	var rec exportJobRecord
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("export job %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get export job: %w", err)
	}
	return rec.job(), nil
}

func (s *Jobs) UpdateExportJob(ctx context.Context, job *core.ExportJob, from ...core.ExportStatus) error {
	q := s.db.WithContext(ctx).Model(&exportJobRecord{}).Where("id = ?", job.ID)
	if len(from) > 0 {
		q = q.Where("status IN ?", statusStrings(from))
	}
	res := q.Select("*").Updates(toExportRecord(job))
	if res.Error != nil {
		return fmt.Errorf("update export job: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return s.missOrConflict(ctx, &exportJobRecord{}, job.ID)
	}
	return nil
}

func (s *Jobs) ListExportJobs(ctx context.Context, f core.JobFilter) ([]*core.ExportJob, int, error) {
	var total int64
	if err := filtered(s.db.WithContext(ctx).Model(&exportJobRecord{}), f).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count export jobs: %w", err)
	}
	var recs []exportJobRecord
	if err := paged(filtered(s.db.WithContext(ctx), f), f).Find(&recs).Error; err != nil {
		return nil, 0, fmt.Errorf("list export jobs: %w", err)
	}
	jobs := make([]*core.ExportJob, len(recs))
	for i := range recs {
		jobs[i] = recs[i].job()
	}
	return jobs, int(total), nil
}

// missOrConflict explains an update that touched no row.
func (s *Jobs) missOrConflict(ctx context.Context, model any, id string) error {
	var status string
	err := s.db.WithContext(ctx).Model(model).Where("id = ?", id).Select("status").Row().Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("job %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("read job %s status: %w", id, err)
	}
	return fmt.Errorf("job %s is %s: %w", id, status, core.ErrStatusConflict)
}

func filtered(q *gorm.DB, f core.JobFilter) *gorm.DB {
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	return q
}

func paged(q *gorm.DB, f core.JobFilter) *gorm.DB {
	q = q.Order("created_at DESC").Order("id DESC")
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	if f.Offset > 0 {
		if f.Limit <= 0 {
			q = q.Limit(-1)
		}
		q = q.Offset(f.Offset)
	}
	return q
}

func statusStrings[S ~string](statuses []S) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func toImportRecord(j *core.ImportJob) *importJobRecord {
	return &importJobRecord{
		ID:               j.ID,
		Status:           string(j.Status),
		Resource:         j.Resource,
		DataFile:         j.DataFile,
		Format:           j.Format,
		SkipParseStep:    j.SkipParseStep,
		ForceImport:      j.ForceImport,
		ParseTaskID:      j.ParseTaskID,
		ImportTaskID:     j.ImportTaskID,
		Result:           j.Result,
		ErrorMessage:     j.ErrorMessage,
		Traceback:        j.Traceback,
		CreatedBy:        j.CreatedBy,
		CreatedAt:        j.CreatedAt,
		UpdatedAt:        j.UpdatedAt,
		ParseStartedAt:   j.ParseStartedAt,
		ParseFinishedAt:  j.ParseFinishedAt,
		ImportStartedAt:  j.ImportStartedAt,
		ImportFinishedAt: j.ImportFinishedAt,
	}
}

func (r *importJobRecord) job() *core.ImportJob {
	return &core.ImportJob{
		ID:               r.ID,
		Status:           core.ImportStatus(r.Status),
		Resource:         r.Resource,
		DataFile:         r.DataFile,
		Format:           r.Format,
		SkipParseStep:    r.SkipParseStep,
		ForceImport:      r.ForceImport,
		ParseTaskID:      r.ParseTaskID,
		ImportTaskID:     r.ImportTaskID,
		Result:           r.Result,
		ErrorMessage:     r.ErrorMessage,
		Traceback:        r.Traceback,
		CreatedBy:        r.CreatedBy,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
		ParseStartedAt:   r.ParseStartedAt,
		ParseFinishedAt:  r.ParseFinishedAt,
		ImportStartedAt:  r.ImportStartedAt,
		ImportFinishedAt: r.ImportFinishedAt,
	}
}

func toExportRecord(j *core.ExportJob) *exportJobRecord {
	return &exportJobRecord{
		ID:               j.ID,
		Status:           string(j.Status),
		Resource:         j.Resource,
		Format:           j.Format,
		Ordering:         j.Ordering,
		OutputFile:       j.OutputFile,
		ExportTaskID:     j.ExportTaskID,
		Result:           j.Result,
		ErrorMessage:     j.ErrorMessage,
		Traceback:        j.Traceback,
		CreatedBy:        j.CreatedBy,
		CreatedAt:        j.CreatedAt,
		UpdatedAt:        j.UpdatedAt,
		ExportStartedAt:  j.ExportStartedAt,
		ExportFinishedAt: j.ExportFinishedAt,
	}
}

func (r *exportJobRecord) job() *core.ExportJob {
	return &core.ExportJob{
		ID:               r.ID,
		Status:           core.ExportStatus(r.Status),
		Resource:         r.Resource,
		Format:           r.Format,
		Ordering:         r.Ordering,
		OutputFile:       r.OutputFile,
		ExportTaskID:     r.ExportTaskID,
		Result:           r.Result,
		ErrorMessage:     r.ErrorMessage,
		Traceback:        r.Traceback,
		CreatedBy:        r.CreatedBy,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
		ExportStartedAt:  r.ExportStartedAt,
		ExportFinishedAt: r.ExportFinishedAt,
	}
}
