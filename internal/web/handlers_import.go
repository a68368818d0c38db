package web

import (
	"errors"
	"net/http"
	"strings"

	"github.com/JonMunkholm/impex/internal/core"
	mw "github.com/JonMunkholm/impex/internal/web/middleware"
	"github.com/go-chi/chi/v5"
)

// multipartMemory is how much of a multipart form is kept in memory
// before spilling to temporary files.
const multipartMemory = 8 << 20

// handleCreateImportJob stores an uploaded file and creates an import job.
//
// Form fields: file (required), resource (required), skip_parse_step and
// force_import (optional booleans).
func (s *Server) handleCreateImportJob(w http.ResponseWriter, r *http.Request) {
	if err := s.uploads.Acquire(r.Context()); err != nil {
		s.respondError(w, r, err)
		return
	}
	defer s.uploads.Release()

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		if isBodyTooLarge(err) {
			s.respondError(w, r, &http.MaxBytesError{Limit: s.cfg.MaxUploadBytes})
			return
		}
		s.respondError(w, r, badRequest("invalid multipart form"))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, r, badRequest("no file provided"))
		return
	}
	defer file.Close()

	resource := strings.TrimSpace(r.FormValue("resource"))
	if resource == "" {
		s.respondError(w, r, badRequest("resource is required"))
		return
	}
	skipParse, err := formBool(r, "skip_parse_step")
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	force, err := formBool(r, "force_import")
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	job, err := s.service.CreateImportJob(r.Context(), core.ImportRequest{
		Resource:      core.ResourceRef{Name: resource},
		FileName:      header.Filename,
		Data:          file,
		SkipParseStep: skipParse,
		ForceImport:   force,
		CreatedBy:     mw.Actor(r.Context()),
	})
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, job)
}

func (s *Server) handleListImportJobs(w http.ResponseWriter, r *http.Request) {
	f, err := parseJobFilter(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	jobs, total, err := s.service.ListImportJobs(r.Context(), f)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, newListResponse(jobs, total, f))
}

func (s *Server) handleGetImportJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.service.GetImportJob(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, job)
}

func (s *Server) handleImportProgress(w http.ResponseWriter, r *http.Request) {
	p, err := s.service.ImportProgress(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, p)
}

func (s *Server) handleConfirmImport(w http.ResponseWriter, r *http.Request) {
	job, err := s.service.Confirm(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, job)
}

func (s *Server) handleCancelImport(w http.ResponseWriter, r *http.Request) {
	job, err := s.service.CancelImport(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, job)
}

func formBool(r *http.Request, name string) (bool, error) {
	raw := r.FormValue(name)
	if raw == "" {
		return false, nil
	}
	v, ok := core.ParseBool(raw)
	if !ok {
		return false, badRequest(name + " must be a boolean")
	}
	return v, nil
}

func isBodyTooLarge(err error) bool {
	var maxBytes *http.MaxBytesError
	return errors.As(err, &maxBytes) || strings.Contains(err.Error(), "request body too large")
}
