package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/dgallion1/docingest/internal/ingesterr"
	"github.com/dgallion1/docingest/internal/parser"
	"github.com/dgallion1/docingest/internal/pipeline"
	"github.com/dgallion1/docingest/internal/vectorstore"
)

type upload struct {
	filename string
	data     []byte
	replace  string
}

// readUpload pulls the "file" part and the optional replace_document_id
// field out of a multipart request. It writes the error response itself.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) (upload, bool) {
	// Limit total request size.
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+1024*1024) // extra 1MB for form overhead

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		jsonError(w, "invalid multipart form: "+err.Error(), http.StatusBadRequest)
		return upload{}, false
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		jsonError(w, "file is required: "+err.Error(), http.StatusBadRequest)
		return upload{}, false
	}
	defer file.Close()

	filename := sanitizeFilename(header.Filename)
	if !parser.IsSupportedExtension(filename) {
		jsonError(w, fmt.Sprintf("unsupported file type: %s", filepath.Ext(filename)), http.StatusBadRequest)
		return upload{}, false
	}

	data, err := io.ReadAll(io.LimitReader(file, s.cfg.MaxUploadBytes+1))
	if err != nil {
		jsonError(w, "failed to read file", http.StatusInternalServerError)
		return upload{}, false
	}
	if int64(len(data)) > s.cfg.MaxUploadBytes {
		jsonError(w, fmt.Sprintf("file exceeds max size (%d bytes)", s.cfg.MaxUploadBytes), http.StatusRequestEntityTooLarge)
		return upload{}, false
	}

	return upload{
		filename: filename,
		data:     data,
		replace:  strings.TrimSpace(r.FormValue("replace_document_id")),
	}, true
}

// handleIngest queues a document and returns a job to poll.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	up, ok := s.readUpload(w, r)
	if !ok {
		return
	}

	job, err := s.jobs.Submit(up.filename, up.data, up.replace)
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":   job.ID,
		"filename": job.Filename,
		"status":   pipeline.StatusQueued,
		"poll_url": fmt.Sprintf("/api/ingest/%s/status", job.ID),
	})
}

// handleIngestSync runs the whole pipeline inside the request.
func (s *Server) handleIngestSync(w http.ResponseWriter, r *http.Request) {
	up, ok := s.readUpload(w, r)
	if !ok {
		return
	}

	res, err := s.service.Ingest(r.Context(), pipeline.IngestRequest{
		Filename:          up.filename,
		Data:              up.data,
		ReplaceDocumentID: up.replace,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleIngestStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	job := s.jobs.GetJob(jobID)
	if job == nil {
		jsonError(w, "job not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, job.Snapshot())
}

// writeError maps the ingestion error taxonomy onto status codes.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case ingesterr.IsValidation(err):
		code = http.StatusBadRequest
	case ingesterr.IsExtraction(err), ingesterr.IsChunking(err):
		code = http.StatusUnprocessableEntity
	case ingesterr.IsTransient(err), errors.Is(err, pipeline.ErrQueueFull), errors.Is(err, pipeline.ErrStopped):
		code = http.StatusServiceUnavailable
	case errors.Is(err, vectorstore.ErrDocumentNotFound):
		code = http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		code = http.StatusGatewayTimeout
	}
	if code >= http.StatusInternalServerError {
		s.log.Error("request failed", zap.Int("status", code), zap.Error(err))
	}
	jsonError(w, err.Error(), code)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func sanitizeFilename(name string) string {
	// Strip path components, keep only the base name.
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.ReplaceAll(name, "..", "_")
	if name == "" || name == "." || name == "/" {
		name = "unnamed"
	}
	return name
}
