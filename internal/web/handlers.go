package web

import (
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/a-h/templ"
	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/LotTrace/internal/core"
	"github.com/JonMunkholm/LotTrace/internal/logging"
	"github.com/JonMunkholm/LotTrace/internal/web/templates"
)

// handleIndex renders the upload and lot search page.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	sources := core.AllSources()
	page := templates.IndexPage{
		Title:       "LotTrace",
		Inputs:      make([]templates.InputFile, 0, len(sources)),
		MaxUploadMB: float64(s.cfg.Upload.MaxFileSize) / (1 << 20),
	}
	for _, src := range sources {
		page.Inputs = append(page.Inputs, templates.InputFile{FileName: src.FileName, Label: src.Label})
	}
	templ.Handler(templates.Index(page)).ServeHTTP(w, r)
}

// UploadResponse is returned after a successful upload and pipeline run.
type UploadResponse struct {
	JobID          string             `json:"job_id"`
	Download       string             `json:"download"`
	FilesProcessed []string           `json:"files_processed"`
	Rows           int                `json:"rows"`
	ArchivedRows   int64              `json:"archived_rows,omitempty"`
	Stages         []core.StageReport `json:"stages"`
}

// handleUpload saves the multipart "files" into a new job and runs the
// pipeline over it before responding.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	maxSize := s.cfg.Upload.MaxFileSize
	r.Body = http.MaxBytesReader(w, r.Body, maxSize)

	if err := r.ParseMultipartForm(maxSize); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) || r.ContentLength > maxSize {
			respondError(w, r, core.ErrFileTooLarge, http.StatusRequestEntityTooLarge)
			return
		}
		respondError(w, r, fmt.Errorf("%w: %v", core.ErrNoFiles, err), http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	headers := r.MultipartForm.File["files"]
	files := make([]core.UploadedFile, 0, len(headers))
	for _, h := range headers {
		f, err := h.Open()
		if err != nil {
			respondError(w, r, fmt.Errorf("open %s: %w", h.Filename, err), http.StatusBadRequest)
			return
		}
		defer f.Close()
		files = append(files, core.UploadedFile{Name: h.Filename, Content: f})
	}

	job, err := s.service.CreateJob(r.Context(), files)
	if err != nil {
		respondError(w, r, err, statusFor(err))
		return
	}

	ctx := logging.WithJobID(r.Context(), job.ID)
	logging.FromContext(ctx).Info("files uploaded", "files", job.Files, "missing", job.Missing)

	result, err := s.service.RunJob(ctx, job.ID)
	if err != nil {
		respondError(w, r.WithContext(ctx), err, statusFor(err))
		return
	}

	writeJSON(w, http.StatusOK, UploadResponse{
		JobID:          job.ID,
		Download:       result.Download,
		FilesProcessed: job.Files,
		Rows:           result.Rows,
		ArchivedRows:   result.Archived,
		Stages:         result.Stages,
	})
}

// handleDownload sends a file from a job directory as an attachment.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	name := chi.URLParam(r, "filename")

	path, err := s.service.ArtifactPath(jobID, name)
	if err != nil {
		respondError(w, r, err, statusFor(err))
		return
	}
	serveAttachment(w, r, path)
}

// handleSearch filters a job's final table by lot code and sends the
// matching rows as lot_trace_result.csv.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if err := parseForm(r); err != nil {
		respondError(w, r, err, http.StatusBadRequest)
		return
	}
	jobID := strings.TrimSpace(r.FormValue("job_id"))
	if jobID == "" {
		respondError(w, r, core.ErrJobNotFound, http.StatusBadRequest)
		return
	}
	lotA := strings.TrimSpace(r.FormValue("lot_a"))
	lotB := strings.TrimSpace(r.FormValue("lot_b"))

	ctx := logging.WithJobID(r.Context(), jobID)
	result, err := s.service.Search(ctx, jobID, lotA, lotB)
	if err != nil {
		var noMatch *core.NoMatchError
		if errors.As(err, &noMatch) {
			respondErrorDebug(w, r.WithContext(ctx), err, http.StatusNotFound, noMatchHints(noMatch))
			return
		}
		respondError(w, r.WithContext(ctx), err, statusFor(err))
		return
	}
	serveAttachment(w, r, result.Path)
}

// handleDebug reports the shape of a job's final table.
func (s *Server) handleDebug(w http.ResponseWriter, r *http.Request) {
	in, err := s.service.Inspect(chi.URLParam(r, "jobID"))
	if err != nil {
		respondError(w, r, err, statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, in)
}

// HealthResponse reports liveness and pipeline capacity.
type HealthResponse struct {
	Status     string `json:"status"`
	ActiveRuns int    `json:"active_runs"`
	MaxRuns    int    `json:"max_runs"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.service.Limiter().Status()
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:     "ok",
		ActiveRuns: status.Active,
		MaxRuns:    status.MaxConcurrent,
	})
}

// parseForm accepts both urlencoded and multipart bodies.
func parseForm(r *http.Request) error {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		err := r.ParseMultipartForm(1 << 20)
		if err != nil && !errors.Is(err, multipart.ErrMessageTooLarge) {
			return err
		}
		return nil
	}
	return r.ParseForm()
}

func noMatchHints(e *core.NoMatchError) []string {
	var hints []string
	if len(e.SampleA) > 0 {
		hints = append(hints, fmt.Sprintf("Available LOT A values: %s", strings.Join(e.SampleA, ", ")))
	}
	if len(e.SampleB) > 0 {
		hints = append(hints, fmt.Sprintf("Available LOT B values: %s", strings.Join(e.SampleB, ", ")))
	}
	return hints
}

// serveAttachment streams a file with download headers.
func serveAttachment(w http.ResponseWriter, r *http.Request, path string) {
	name := filepath.Base(path)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, name))
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv":
		w.Header().Set("Content-Type", "text/csv")
	case ".xlsx":
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	default:
		w.Header().Set("Content-Type", "application/octet-stream")
	}
	http.ServeFile(w, r, path)
}
