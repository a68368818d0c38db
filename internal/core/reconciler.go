package core

// reconciler.go periodically polls the runner for every job still in a
// running state. Polling goes through ImportProgress/ExportProgress, which
// record a runner-side failure on the job when the phase function never
// got to write it, so jobs nobody is watching still reach a final status.

import (
	"context"
	"log/slog"
	"time"
)

// reconcilePageSize is how many job ids are read per list call.
const reconcilePageSize = 100

var (
	runningImportStatuses = []ImportStatus{ImportParsing, ImportImporting}
	runningExportStatuses = []ExportStatus{ExportExporting}
)

// StartReconciler polls running jobs every interval until ctx is cancelled.
// It runs once immediately on start.
func (s *Service) StartReconciler(ctx context.Context, interval time.Duration) {
	slog.Info("job reconciler started", "interval", interval)

	s.Reconcile(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("job reconciler stopped")
			return
		case <-ticker.C:
			s.Reconcile(ctx)
		}
	}
}

// Reconcile performs one sweep and returns how many jobs it polled.
// Errors on individual jobs are logged and do not stop the sweep.
func (s *Service) Reconcile(ctx context.Context) int {
	start := time.Now()
	polled := 0

	for _, status := range runningImportStatuses {
		ids, err := s.collectIDs(ctx, string(status), func(f JobFilter) ([]string, int, error) {
			jobs, total, err := s.jobs.ListImportJobs(ctx, f)
			ids := make([]string, len(jobs))
			for i, j := range jobs {
				ids[i] = j.ID
			}
			return ids, total, err
		})
		if err != nil {
			slog.Error("list running import jobs", "status", status, "error", err)
			continue
		}
		for _, id := range ids {
			if _, err := s.ImportProgress(ctx, id); err != nil {
				slog.Warn("poll import job", "job_id", id, "error", err)
			}
			polled++
		}
	}

	for _, status := range runningExportStatuses {
		ids, err := s.collectIDs(ctx, string(status), func(f JobFilter) ([]string, int, error) {
			jobs, total, err := s.jobs.ListExportJobs(ctx, f)
			ids := make([]string, len(jobs))
			for i, j := range jobs {
				ids[i] = j.ID
			}
			return ids, total, err
		})
		if err != nil {
			slog.Error("list running export jobs", "status", status, "error", err)
			continue
		}
		for _, id := range ids {
			if _, err := s.ExportProgress(ctx, id); err != nil {
				slog.Warn("poll export job", "job_id", id, "error", err)
			}
			polled++
		}
	}

	slog.Debug("job reconcile completed", "polled", polled, "duration_ms", time.Since(start).Milliseconds())
	return polled
}

// collectIDs reads every id with the given status before any of them is
// polled, since polling can move a job out of the listed status.
func (s *Service) collectIDs(ctx context.Context, status string, list func(JobFilter) ([]string, int, error)) ([]string, error) {
	var all []string
	for offset := 0; ; offset += reconcilePageSize {
		if err := ctx.Err(); err != nil {
			return all, err
		}
		ids, total, err := list(JobFilter{Status: status, Limit: reconcilePageSize, Offset: offset})
		if err != nil {
			return all, err
		}
		all = append(all, ids...)
		if len(ids) < reconcilePageSize || offset+len(ids) >= total {
			return all, nil
		}
	}
}
