package memstore

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/JonMunkholm/impex/internal/core"
)

// Jobs is a JobStore over maps. Jobs are copied in and out so callers
// never share state with the store.
type Jobs struct {
	mu      sync.Mutex
	imports map[string]core.ImportJob
	exports map[string]core.ExportJob
}

var _ core.JobStore = (*Jobs)(nil)

// NewJobs creates an empty job store.
func NewJobs() *Jobs {
	return &Jobs{
		imports: make(map[string]core.ImportJob),
		exports: make(map[string]core.ExportJob),
	}
}

func (s *Jobs) CreateImportJob(ctx context.Context, job *core.ImportJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.imports[job.ID]; ok {
		return fmt.Errorf("import job %s already exists", job.ID)
	}
	s.imports[job.ID] = *job
	return nil
}

func (s *Jobs) GetImportJob(ctx context.Context, id string) (*core.ImportJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.imports[id]
	if !ok {
		return nil, fmt.Errorf("import job %s: %w", id, core.ErrNotFound)
	}
	return &job, nil
}

func (s *Jobs) UpdateImportJob(ctx context.Context, job *core.ImportJob, from ...core.ImportStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.imports[job.ID]
	if !ok {
		return fmt.Errorf("import job %s: %w", job.ID, core.ErrNotFound)
	}
	if len(from) > 0 && !slices.Contains(from, stored.Status) {
		return fmt.Errorf("import job %s is %s: %w", job.ID, stored.Status, core.ErrStatusConflict)
	}
	s.imports[job.ID] = *job
	return nil
}

func (s *Jobs) ListImportJobs(ctx context.Context, f core.JobFilter) ([]*core.ImportJob, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var all []*core.ImportJob
	for _, job := range s.imports {
		if f.Status != "" && string(job.Status) != f.Status {
			continue
		}
		job := job
		all = append(all, &job)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID > all[j].ID
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	return page(all, f), len(all), nil
}

func (s *Jobs) CreateExportJob(ctx context.Context, job *core.ExportJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.exports[job.ID]; ok {
		return fmt.Errorf("export job %s already exists", job.ID)
	}
	s.exports[job.ID] = *job
	return nil
}

func (s *Jobs) GetExportJob(ctx context.Context, id string) (*core.ExportJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.exports[id]
	if !ok {
		return nil, fmt.Errorf("export job %s: %w", id, core.ErrNotFound)
	}
	return &job, nil
}

func (s *Jobs) UpdateExportJob(ctx context.Context, job *core.ExportJob, from ...core.ExportStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.exports[job.ID]
	if !ok {
		return fmt.Errorf("export job %s: %w", job.ID, core.ErrNotFound)
	}
	if len(from) > 0 && !slices.Contains(from, stored.Status) {
		return fmt.Errorf("export job %s is %s: %w", job.ID, stored.Status, core.ErrStatusConflict)
	}
	s.exports[job.ID] = *job
	return nil
}

func (s *Jobs) ListExportJobs(ctx context.Context, f core.JobFilter) ([]*core.ExportJob, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var all []*core.ExportJob
	for _, job := range s.exports {
		if f.Status != "" && string(job.Status) != f.Status {
			continue
		}
		job := job
		all = append(all, &job)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID > all[j].ID
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	return page(all, f), len(all), nil
}

func page[T any](all []T, f core.JobFilter) []T {
	if f.Offset >= len(all) {
		return []T{}
	}
	all = all[f.Offset:]
	if f.Limit > 0 && len(all) > f.Limit {
		all = all[:f.Limit]
	}
	return all
}
