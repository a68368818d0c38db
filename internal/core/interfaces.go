package core

import (
	"context"
	"io"
)

// EntityStore is the persistence capability imports write through and
// exports read from.
type EntityStore interface {
	Find(ctx context.Context, entity string, q Query) ([]Entity, error)
	Insert(ctx context.Context, entity string, values Entity) (Entity, error)
	Update(ctx context.Context, entity string, id any, values Entity) error
	Delete(ctx context.Context, entity string, id any) error
	DeleteWhere(ctx context.Context, entity string, filters []Filter) (int, error)

	// Atomic runs fn against a store view whose writes commit only when fn
	// returns nil. Calls nest.
	Atomic(ctx context.Context, fn func(EntityStore) error) error
}

// JobFilter narrows job listings.
type JobFilter struct {
	Status string
	Limit  int
	Offset int
}

// JobStore persists import and export jobs.
//
// Update methods are conditional: the write applies only when the stored
// status is one of from, otherwise ErrStatusConflict is returned. This is
// the serialization point for racing verbs on one job.
type JobStore interface {
	CreateImportJob(ctx context.Context, job *ImportJob) error
	GetImportJob(ctx context.Context, id string) (*ImportJob, error)
	UpdateImportJob(ctx context.Context, job *ImportJob, from ...ImportStatus) error
	ListImportJobs(ctx context.Context, f JobFilter) ([]*ImportJob, int, error)

	CreateExportJob(ctx context.Context, job *ExportJob) error
	GetExportJob(ctx context.Context, id string) (*ExportJob, error)
	UpdateExportJob(ctx context.Context, job *ExportJob, from ...ExportStatus) error
	ListExportJobs(ctx context.Context, f JobFilter) ([]*ExportJob, int, error)
}

// FileStorage holds uploaded import files and produced export files.
type FileStorage interface {
	Save(ctx context.Context, name string, r io.Reader) error
	Open(ctx context.Context, name string) (io.ReadCloser, error)
	Remove(ctx context.Context, name string) error
}

// TabularFormat converts between file bytes and a Dataset.
type TabularFormat interface {
	Name() string
	Extensions() []string
	ContentType() string
	Parse(data []byte) (*Dataset, error)
	Render(ds *Dataset) ([]byte, error)
}

// TaskState is the runner-side state of one submitted task. While a phase
// publishes progress the state is the phase label (PARSING, IMPORTING,
// EXPORTING).
type TaskState string

const (
	TaskPending TaskState = "PENDING"
	TaskStarted TaskState = "STARTED"
	TaskRetry   TaskState = "RETRY"
	TaskSuccess TaskState = "SUCCESS"
	TaskFailure TaskState = "FAILURE"
	TaskRevoked TaskState = "REVOKED"
)

// ProgressInfo is the last published {current, total} pair of a task.
type ProgressInfo struct {
	Current int `json:"current"`
	Total   int `json:"total"`
}

// TaskStatus is what a runner reports for a task id.
type TaskStatus struct {
	State     TaskState
	Info      *ProgressInfo
	Err       string
	Traceback string

	// Lost marks a FAILURE for an id the runner has no record of, as after
	// a restart.
	Lost bool
}

// TaskContext is handed to every phase function by the runner executing it.
type TaskContext interface {
	TaskID() string
	Context() context.Context
}

// ProgressPublisher is implemented by task contexts whose runner can store
// progress. Contexts without it make progress reporting a no-op.
type ProgressPublisher interface {
	PublishProgress(state string, current, total int)
}

// TaskFunc is the body of one job phase.
type TaskFunc func(tc TaskContext) error

// TaskRunner executes phase functions in the background.
type TaskRunner interface {
	Submit(ctx context.Context, taskID string, fn TaskFunc) error
	Cancel(ctx context.Context, taskID string) error
	Poll(ctx context.Context, taskID string) (TaskStatus, error)
}
