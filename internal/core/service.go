package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/JonMunkholm/LotTrace/internal/config"
	"github.com/JonMunkholm/LotTrace/internal/logging"
)

var (
	// ErrNoFiles is returned when an upload carries no named file.
	ErrNoFiles = errors.New("no file provided")

	// ErrMissingInput is returned when a job directory lacks a pipeline input.
	ErrMissingInput = errors.New("missing input file")

	// ErrArtifactNotFound is returned for a file that is not in the job directory.
	ErrArtifactNotFound = errors.New("file not found")
)

// Archiver copies a job's final table somewhere durable.
type Archiver interface {
	Archive(ctx context.Context, jobID uuid.UUID, t *Table) (int64, error)
}

// UploadedFile is one file of an upload request.
type UploadedFile struct {
	Name    string
	Content io.Reader
}

// Job identifies a job directory and the files saved into it.
type Job struct {
	ID      string   `json:"job_id"`
	Dir     string   `json:"-"`
	Files   []string `json:"files_processed"`
	Missing []string `json:"missing_inputs,omitempty"`
}

// RunResult describes a finished pipeline run.
type RunResult struct {
	JobID    string        `json:"job_id"`
	Download string        `json:"download"`
	Rows     int           `json:"rows"`
	Archived int64         `json:"archived_rows"`
	Stages   []StageReport `json:"stages"`
	Duration time.Duration `json:"duration_ns"`
}

// SearchResult describes a saved lot search.
type SearchResult struct {
	JobID    string       `json:"job_id"`
	Path     string       `json:"-"`
	Download string       `json:"download"`
	Rows     int          `json:"rows"`
	Steps    []SearchStep `json:"steps"`
}

// Service manages job directories and runs the pipeline over them.
type Service struct {
	jobsDir     string
	allowedExts []string
	maxFileSize int64

	runner   *Runner
	limiter  *JobLimiter
	archiver Archiver
	runs     RunObserver
}

// NewService creates the jobs directory if needed and wires the pipeline.
// observer and archiver may be nil.
func NewService(cfg *config.Config, observer StageObserver, archiver Archiver) (*Service, error) {
	dir, err := filepath.Abs(cfg.Jobs.Dir)
	if err != nil {
		return nil, fmt.Errorf("resolve jobs dir: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create jobs dir: %w", err)
	}

	exts := make([]string, 0, len(cfg.Upload.AllowedExtensions))
	for _, e := range cfg.Upload.AllowedExtensions {
		exts = append(exts, strings.ToLower(strings.TrimPrefix(strings.TrimSpace(e), ".")))
	}

	runs, _ := observer.(RunObserver)

	pipeline := NewPipeline(cfg.Pipeline, cfg.Layout)
	return &Service{
		jobsDir:     dir,
		allowedExts: exts,
		maxFileSize: cfg.Upload.MaxFileSize,
		runner:      NewRunner(pipeline.Stages(), cfg.Pipeline.StageTimeout, observer),
		limiter:     NewJobLimiter(cfg.Pipeline.MaxConcurrent, cfg.Pipeline.MaxWait),
		archiver:    archiver,
		runs:        runs,
	}, nil
}

// Limiter exposes the run limiter, e.g. for draining on shutdown.
func (s *Service) Limiter() *JobLimiter {
	return s.limiter
}

// CreateJob validates the uploaded files and saves them into a new job
// directory. Every file is checked before anything is written.
func (s *Service) CreateJob(ctx context.Context, files []UploadedFile) (Job, error) {
	names := make([]string, 0, len(files))
	for _, f := range files {
		if strings.TrimSpace(f.Name) == "" {
			continue
		}
		name, err := s.checkFileName(f.Name)
		if err != nil {
			return Job{}, err
		}
		names = append(names, name)
	}
	if len(names) == 0 {
		return Job{}, ErrNoFiles
	}

	job := Job{ID: uuid.New().String()}
	job.Dir = filepath.Join(s.jobsDir, job.ID)
	if err := os.MkdirAll(job.Dir, 0o755); err != nil {
		return Job{}, fmt.Errorf("create job dir: %w", err)
	}

	i := 0
	for _, f := range files {
		if strings.TrimSpace(f.Name) == "" {
			continue
		}
		if err := s.saveFile(filepath.Join(job.Dir, names[i]), f.Content); err != nil {
			os.RemoveAll(job.Dir)
			return Job{}, fmt.Errorf("%s: %w", names[i], err)
		}
		job.Files = append(job.Files, names[i])
		i++
	}
	job.Missing = MissingSources(job.Dir)

	logging.FromContext(logging.WithJobID(ctx, job.ID)).Info("job created",
		"files", job.Files,
		"missing_inputs", job.Missing,
	)
	return job, nil
}

// checkFileName returns the name a file is saved under, or ErrInvalidFile.
// Names matching a registered input in another case are saved under the
// registered spelling.
func (s *Service) checkFileName(name string) (string, error) {
	clean := SanitizeFileName(name)
	if clean == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidFile, name)
	}
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(clean), "."))
	if !slices.Contains(s.allowedExts, ext) {
		return "", fmt.Errorf("%w: %s: only %s files are allowed", ErrInvalidFile, name, strings.Join(s.allowedExts, ", "))
	}
	if def, ok := SourceForFile(clean); ok {
		clean = def.FileName
	}
	return clean, nil
}

func (s *Service) saveFile(path string, r io.Reader) error {
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	n, err := io.Copy(out, io.LimitReader(r, s.maxFileSize+1))
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err == nil && n > s.maxFileSize {
		err = fmt.Errorf("%w: limit is %d bytes", ErrFileTooLarge, s.maxFileSize)
	}
	return err
}

// SanitizeFileName reduces an uploaded name to a safe base name: path parts
// are stripped, spaces become underscores and characters other than letters,
// digits, '_', '-' and '.' are removed. It returns "" when nothing usable is left.
func SanitizeFileName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r == ' ':
			b.WriteRune('_')
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '-' || r == '.'):
			b.WriteRune(r)
		}
	}
	clean := strings.TrimLeft(b.String(), "._")
	if clean == "" || strings.Contains(clean, "..") {
		return ""
	}
	return clean
}

// JobDir returns the directory of an existing job.
func (s *Service) JobDir(id string) (string, error) {
	u, err := uuid.Parse(id)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrJobNotFound, id)
	}
	dir := filepath.Join(s.jobsDir, u.String())
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return "", fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return dir, nil
}

// ArtifactPath returns the path of a file inside a job directory. Names with
// path separators or parent references are rejected.
func (s *Service) ArtifactPath(id, name string) (string, error) {
	dir, err := s.JobDir(id)
	if err != nil {
		return "", err
	}
	if name == "" || name != filepath.Base(name) || name == "." || name == ".." {
		return "", fmt.Errorf("%w: %q", ErrArtifactNotFound, name)
	}
	path := filepath.Join(dir, name)
	if rel, err := filepath.Rel(dir, path); err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("%w: %q", ErrArtifactNotFound, name)
	}
	if info, err := os.Stat(path); err != nil || info.IsDir() {
		return "", fmt.Errorf("%w: %s", ErrArtifactNotFound, name)
	}
	return path, nil
}

// RunJob runs the whole pipeline over a job directory. It waits for a free
// run slot first. On failure the directory is kept as it is.
func (s *Service) RunJob(ctx context.Context, id string) (RunResult, error) {
	result := RunResult{JobID: id}
	dir, err := s.JobDir(id)
	if err != nil {
		return result, err
	}
	ctx = logging.WithJobID(ctx, id)
	log := logging.FromContext(ctx)

	if missing := MissingSources(dir); len(missing) > 0 {
		return result, fmt.Errorf("%w: %s", ErrMissingInput, strings.Join(missing, ", "))
	}

	if err := s.limiter.Acquire(ctx); err != nil {
		return result, err
	}
	s.reportActive()
	defer func() {
		s.limiter.Release()
		s.reportActive()
	}()

	start := time.Now()
	reports, err := s.runner.Run(ctx, dir)
	result.Stages = reports
	result.Duration = time.Since(start)
	if err != nil {
		s.observeRun(err)
		return result, err
	}

	final, err := readArtifact(dir, ArtifactFinal)
	if err != nil {
		err = fmt.Errorf("pipeline completed but %s was not generated: %w", ArtifactFinal, err)
		s.observeRun(err)
		return result, err
	}
	s.observeRun(nil)
	result.Rows = final.Len()
	result.Download = downloadPath(id, ArtifactFinal)

	if s.archiver != nil {
		n, err := s.archiver.Archive(ctx, uuid.MustParse(id), final)
		if err != nil {
			log.Error("archive failed", "error", err)
		} else {
			result.Archived = n
			if s.runs != nil {
				s.runs.AddArchivedRows(n)
			}
		}
	}

	log.Info("pipeline completed",
		"rows", result.Rows,
		"archived_rows", result.Archived,
		"duration_ms", result.Duration.Milliseconds(),
	)
	return result, nil
}

// Search filters a job's final table by lot code and saves the matches as
// lot_trace_result.csv.
func (s *Service) Search(ctx context.Context, id, lotA, lotB string) (SearchResult, error) {
	result := SearchResult{JobID: id}
	final, err := s.finalTable(id)
	if err != nil {
		return result, err
	}
	ctx = logging.WithJobID(ctx, id)

	found, steps, err := SearchLots(final, lotA, lotB)
	result.Steps = steps
	for _, st := range steps {
		logging.FromContext(ctx).Debug("lot search step",
			"column", st.Column, "term", st.Term, "mode", st.Mode, "matches", st.Matches)
	}
	if err != nil {
		return result, err
	}

	dir, _ := s.JobDir(id)
	result.Path = filepath.Join(dir, ArtifactSearch)
	if err := WriteTable(result.Path, found); err != nil {
		return result, err
	}
	result.Rows = found.Len()
	result.Download = downloadPath(id, ArtifactSearch)

	logging.FromContext(ctx).Info("lot search saved", "lot_a", lotA, "lot_b", lotB, "rows", result.Rows)
	return result, nil
}

// Inspect summarizes a job's final table.
func (s *Service) Inspect(id string) (Inspection, error) {
	final, err := s.finalTable(id)
	if err != nil {
		return Inspection{}, err
	}
	return Inspect(final), nil
}

func (s *Service) finalTable(id string) (*Table, error) {
	path, err := s.ArtifactPath(id, ArtifactFinal)
	if err != nil {
		return nil, err
	}
	return ReadTable(path)
}

func (s *Service) observeRun(err error) {
	if s.runs != nil {
		s.runs.ObserveRun(err)
	}
}

func (s *Service) reportActive() {
	if s.runs != nil {
		s.runs.SetActiveRuns(s.limiter.Active())
	}
}

func downloadPath(id, name string) string {
	return "/download/" + id + "/" + name
}
