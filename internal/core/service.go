package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/JonMunkholm/impex/internal/logging"
	"github.com/google/uuid"
)

// Config holds the thresholds the job service and its processors use.
type Config struct {
	MaxDatasetRows       int // row ceiling per import, 0 disables
	StatusUpdateRowCount int // units between progress publishes
	ErrorMessageLimit    int // runes kept in a job's error message
	ResultRowCap         int // row outcomes kept per result, 0 keeps all

	// LostTaskGrace is how long after a job's last transition a lost task
	// still reads as PENDING. It covers the gap between persisting a phase
	// and submitting its task.
	LostTaskGrace time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		MaxDatasetRows:       100000,
		StatusUpdateRowCount: DefaultStatusUpdateRowCount,
		ErrorMessageLimit:    128,
		ResultRowCap:         1000,
		LostTaskGrace:        time.Minute,
	}
}

// Deps are the collaborators a Service works through.
type Deps struct {
	Registry *Registry // DefaultRegistry when nil
	Formats  *FormatRegistry
	Jobs     JobStore
	Entities EntityStore
	Files    FileStorage
	Runner   TaskRunner
}

// ImportFailedFunc observes an import job that reached an error status.
type ImportFailedFunc func(ctx context.Context, job *ImportJob)

// ExportFailedFunc observes an export job that reached an error status.
type ExportFailedFunc func(ctx context.Context, job *ExportJob)

// Service creates jobs, runs their phases on the TaskRunner and serves the
// job verbs (confirm, cancel, progress).
type Service struct {
	cfg      Config
	registry *Registry
	formats  *FormatRegistry
	jobs     JobStore
	entities EntityStore
	files    FileStorage
	runner   TaskRunner

	now   func() time.Time
	newID func() string

	hooksMu      sync.RWMutex
	importFailed []ImportFailedFunc
	exportFailed []ExportFailedFunc
}

// NewService creates a Service.
func NewService(deps Deps, cfg Config) *Service {
	reg := deps.Registry
	if reg == nil {
		reg = DefaultRegistry
	}
	return &Service{
		cfg:      cfg,
		registry: reg,
		formats:  deps.Formats,
		jobs:     deps.Jobs,
		entities: deps.Entities,
		files:    deps.Files,
		runner:   deps.Runner,
		now:      func() time.Time { return time.Now().UTC() },
		newID:    func() string { return uuid.NewString() },
	}
}

// Registry returns the resource registry jobs resolve against.
func (s *Service) Registry() *Registry { return s.registry }

// Formats returns the supported tabular formats.
func (s *Service) Formats() *FormatRegistry { return s.formats }

// OnImportFailed registers fn to run after an import job is persisted in
// PARSE_ERROR or IMPORT_ERROR.
func (s *Service) OnImportFailed(fn ImportFailedFunc) {
	s.hooksMu.Lock()
	defer s.hooksMu.Unlock()
	s.importFailed = append(s.importFailed, fn)
}

// OnExportFailed registers fn to run after an export job is persisted in
// EXPORT_ERROR.
func (s *Service) OnExportFailed(fn ExportFailedFunc) {
	s.hooksMu.Lock()
	defer s.hooksMu.Unlock()
	s.exportFailed = append(s.exportFailed, fn)
}

func (s *Service) notifyImportFailed(ctx context.Context, job *ImportJob) {
	s.hooksMu.RLock()
	hooks := append([]ImportFailedFunc(nil), s.importFailed...)
	s.hooksMu.RUnlock()
	for _, fn := range hooks {
		fn(ctx, job)
	}
}

func (s *Service) notifyExportFailed(ctx context.Context, job *ExportJob) {
	s.hooksMu.RLock()
	hooks := append([]ExportFailedFunc(nil), s.exportFailed...)
	s.hooksMu.RUnlock()
	for _, fn := range hooks {
		fn(ctx, job)
	}
}

func (s *Service) processor(def *ResourceDefinition) *BatchProcessor {
	return NewBatchProcessor(def, s.entities, ProcessorOptions{
		MaxDatasetRows: s.cfg.MaxDatasetRows,
		ResultRowCap:   s.cfg.ResultRowCap,
	})
}

func (s *Service) timestamp() *time.Time {
	t := s.now()
	return &t
}

// recordError fills the error fields of a failed job.
func (s *Service) recordError(err error) (message, traceback string) {
	return truncateMessage(err.Error(), s.cfg.ErrorMessageLimit), fmt.Sprintf("%+v", err)
}

func logTransition(ctx context.Context, kind, id string, from, to any) {
	logging.FromContext(logging.WithJobID(ctx, id)).Info("job status changed",
		"kind", kind,
		"from", from,
		"to", to,
	)
}

// Progress is the poll view of a job.
type Progress struct {
	Status  string `json:"status"`
	State   string `json:"state,omitempty"`
	Percent *int   `json:"percent,omitempty"`
	Current *int   `json:"current,omitempty"`
	Total   *int   `json:"total,omitempty"`
}

func newProgress(status string, ts TaskStatus) Progress {
	p := Progress{Status: status, State: string(ts.State)}
	if ts.Info == nil {
		return p
	}
	current, total := ts.Info.Current, ts.Info.Total
	p.Current, p.Total = &current, &total
	if total > 0 {
		percent := 100 * current / total
		p.Percent = &percent
	}
	return p
}

// jobContext tags ctx so every log entry of a phase carries the job id.
func jobContext(tc TaskContext, jobID string) context.Context {
	return logging.WithJobID(tc.Context(), jobID)
}

// pollTask polls the active task of a job last updated at updatedAt.
func (s *Service) pollTask(ctx context.Context, taskID string, updatedAt time.Time) (TaskStatus, error) {
	ts, err := s.runner.Poll(ctx, taskID)
	if err != nil {
		return TaskStatus{}, err
	}
	if ts.Lost && s.now().Sub(updatedAt) < s.cfg.LostTaskGrace {
		return TaskStatus{State: TaskPending}, nil
	}
	return ts, nil
}
