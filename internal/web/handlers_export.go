package web

import (
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/JonMunkholm/impex/internal/core"
	"github.com/JonMunkholm/impex/internal/logging"
	mw "github.com/JonMunkholm/impex/internal/web/middleware"
	"github.com/go-chi/chi/v5"
)

// maxExportRequestBytes bounds the JSON body of an export request.
const maxExportRequestBytes = 1 << 20

// exportRequest is the body of POST /api/export-jobs.
type exportRequest struct {
	Resource string            `json:"resource"`
	Format   string            `json:"format"`
	Filters  map[string]string `json:"filters"`
	Ordering []string          `json:"ordering"`
}

func (s *Server) handleCreateExportJob(w http.ResponseWriter, r *http.Request) {
	var req exportRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxExportRequestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		s.respondError(w, r, badRequest("invalid JSON body: "+err.Error()))
		return
	}
	req.Resource = strings.TrimSpace(req.Resource)
	if req.Resource == "" {
		s.respondError(w, r, badRequest("resource is required"))
		return
	}
	if req.Format == "" {
		req.Format = "csv"
	}

	job, err := s.service.CreateExportJob(r.Context(), core.ExportRequest{
		Resource:  core.ResourceRef{Name: req.Resource, Params: req.Filters},
		Format:    req.Format,
		Ordering:  req.Ordering,
		CreatedBy: mw.Actor(r.Context()),
	})
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, job)
}

func (s *Server) handleListExportJobs(w http.ResponseWriter, r *http.Request) {
	f, err := parseJobFilter(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	jobs, total, err := s.service.ListExportJobs(r.Context(), f)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, newListResponse(jobs, total, f))
}

func (s *Server) handleGetExportJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.service.GetExportJob(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, job)
}

func (s *Server) handleExportProgress(w http.ResponseWriter, r *http.Request) {
	p, err := s.service.ExportProgress(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, p)
}

func (s *Server) handleCancelExport(w http.ResponseWriter, r *http.Request) {
	job, err := s.service.CancelExport(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, job)
}

// handleDownloadExport streams the rendered file of an EXPORTED job.
func (s *Server) handleDownloadExport(w http.ResponseWriter, r *http.Request) {
	job, format, rc, err := s.service.OpenExportOutput(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", path.Base(job.OutputFile)))
	if _, err := io.Copy(w, rc); err != nil {
		logging.WithFields(r.Context(), "job_id", job.ID).Error("stream export file", "error", err)
	}
}
