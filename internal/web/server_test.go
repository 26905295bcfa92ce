package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/LotTrace/internal/config"
	"github.com/JonMunkholm/LotTrace/internal/core"
	"github.com/JonMunkholm/LotTrace/internal/metrics"
)

func testLayout() config.RawLayout {
	l := config.DefaultRawLayout()
	l.SupplierRow, l.SupplierCol = 0, 1
	l.DropColumn = "Meta"
	l.UnnamedDropStart, l.UnnamedDropEnd = 6, 8
	l.MetadataRows = []int{0}
	l.HeaderRow, l.SubHeaderRow = 1, 2
	l.OverlayStart = 2
	l.BlankColumn = 1
	l.MinMaxFirst, l.MinMaxLast = 4, 4
	return l
}

func testConfig(t *testing.T) *config.Config {
	return &config.Config{
		Jobs:   config.JobsConfig{Dir: t.TempDir()},
		Upload: config.UploadConfig{MaxFileSize: 1 << 20, AllowedExtensions: []string{"xlsx", "csv"}},
		Pipeline: config.PipelineConfig{
			StageTimeout:  time.Minute,
			MaxConcurrent: 1,
			MaxWait:       time.Second,
			LinkWindow:    60 * time.Second,
			MergeWindow:   6 * time.Hour,
		},
		Rate:     config.RateLimitConfig{Enabled: false, RequestsPerMinute: 100},
		Security: config.SecurityConfig{EnableCSP: true},
		Metrics:  config.MetricsConfig{Enabled: true, Path: "/metrics"},
		Layout:   testLayout(),
	}
}

func newTestServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	m := metrics.New()
	svc, err := core.NewService(cfg, m, nil)
	require.NoError(t, err)
	s := NewServer(svc, cfg, m)
	t.Cleanup(func() { s.Shutdown(context.Background()) })
	return s
}

func rawWorkbook(t *testing.T) []byte {
	t.Helper()
	tbl, err := core.ReadCSV(strings.NewReader(strings.Join([]string{
		"Meta,,,,,,,Junk1,Junk2",
		"Supplier,ACME GmbH,,,,,,,",
		",Date,,Heat,Thickness,,LOT,j,j",
		",,,Heat Melt,,,LOT A,,",
		",2024-01-05,x,24017,1.1,1.3,A-1,,",
		",2024-01-07,x,24019,1.0,1.2,A-2,,",
	}, "\n") + "\n"))
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, core.WriteXLSX(&buf, tbl))
	return buf.Bytes()
}

func inputs(t *testing.T) map[string]string {
	return map[string]string{
		"raw_data.xlsx":         string(rawWorkbook(t)),
		"tbl_etching_batch.csv": "CB_MELT,Created,Line\n24017,2024-01-05 08:00:00,E4\n24019.0,2024-01-07 09:00:00,E4\n",
		"CL_Cleaner.csv":        "TimeStamp,Panel\n2024-01-05 08:00:30,P1\n2024-01-05 10:00:00,P2\n",
		"CL_Developer.csv":      "TimeStamp,Panel\n2024-01-05 08:01:00,P1\n",
		"CL_Etcher4.csv":        "TimeStamp,Panel\n2024-01-05 08:01:20,P1\n",
	}
}

func multipartBody(t *testing.T, files map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for name, content := range files {
		fw, err := mw.CreateFormFile("files", name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &body, mw.FormDataContentType()
}

func do(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func uploadJob(t *testing.T, s *Server) UploadResponse {
	t.Helper()
	body, ctype := multipartBody(t, inputs(t))
	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", ctype)

	rec := do(s, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp UploadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func searchForm(jobID, lotA, lotB string) *http.Request {
	form := url.Values{"job_id": {jobID}, "lot_a": {lotA}, "lot_b": {lotB}}
	req := httptest.NewRequest(http.MethodPost, "/search", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var e ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &e), rec.Body.String())
	return e
}

func TestUploadSearchDownload(t *testing.T) {
	s := newTestServer(t, testConfig(t))

	up := uploadJob(t, s)
	assert.NotEmpty(t, up.JobID)
	assert.Equal(t, "/download/"+up.JobID+"/final_data.csv", up.Download)
	assert.Equal(t, 2, up.Rows)
	assert.Len(t, up.FilesProcessed, 5)
	assert.Len(t, up.Stages, 4)

	rec := do(s, httptest.NewRequest(http.MethodGet, up.Download, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), `filename="final_data.csv"`)
	assert.True(t, strings.HasPrefix(rec.Body.String(), "sync_data,"))

	rec = do(s, searchForm(up.JobID, "a-1", ""))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Disposition"), `filename="lot_trace_result.csv"`)
	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	assert.Len(t, lines, 2)
	assert.Contains(t, lines[1], "A-1")

	rec = do(s, httptest.NewRequest(http.MethodGet, "/debug/"+up.JobID, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var in core.Inspection
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &in))
	assert.Equal(t, 2, in.TotalRows)
}

func TestSearch_NoMatch(t *testing.T) {
	s := newTestServer(t, testConfig(t))
	up := uploadJob(t, s)

	rec := do(s, searchForm(up.JobID, "ZZZ", ""))
	require.Equal(t, http.StatusNotFound, rec.Code)

	e := decodeError(t, rec)
	assert.Equal(t, "LOT002", e.Code)
	require.NotEmpty(t, e.Debug)
	assert.Equal(t, "Available LOT A values: A-1, A-2", e.Debug[0])
}

func TestSearch_NoMatch_HTMXFragment(t *testing.T) {
	s := newTestServer(t, testConfig(t))
	up := uploadJob(t, s)

	req := searchForm(up.JobID, "ZZZ", "")
	req.Header.Set("HX-Request", "true")
	rec := do(s, req)
	require.Equal(t, http.StatusNotFound, rec.Code)

	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	assert.Contains(t, body, `role="alert"`)
	assert.Contains(t, body, "(LOT002)")
	assert.Contains(t, body, "<li>Available LOT A values: A-1, A-2</li>")
}

func TestRespondErrorDebug_UnmappedErrorHidesHints(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/debug/x", nil)
	rec := httptest.NewRecorder()

	respondErrorDebug(rec, req, errors.New("disk exploded at /var/jobs"), http.StatusBadRequest, []string{"secret path"})

	e := decodeError(t, rec)
	assert.Equal(t, "ERR000", e.Code)
	assert.Empty(t, e.Debug)
	assert.NotContains(t, rec.Body.String(), "/var/jobs")
}

func TestSearch_BadRequests(t *testing.T) {
	s := newTestServer(t, testConfig(t))

	tests := []struct {
		name     string
		req      *http.Request
		wantCode int
		wantErr  string
	}{
		{"missing job id", searchForm("", "A", ""), http.StatusBadRequest, "JOB001"},
		{"unknown job", searchForm(uuid.NewString(), "A", ""), http.StatusNotFound, "JOB001"},
		{"malformed job", searchForm("../etc", "A", ""), http.StatusNotFound, "JOB001"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(s, tt.req)
			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantErr, decodeError(t, rec).Code)
		})
	}

	up := uploadJob(t, s)
	rec := do(s, searchForm(up.JobID, " ", ""))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "LOT001", decodeError(t, rec).Code)
}

func TestUpload_Rejected(t *testing.T) {
	s := newTestServer(t, testConfig(t))

	files := inputs(t)
	delete(files, "CL_Etcher4.csv")
	body, ctype := multipartBody(t, files)
	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", ctype)

	rec := do(s, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "FILE004", decodeError(t, rec).Code)

	body, ctype = multipartBody(t, map[string]string{"evil.exe": "x"})
	req = httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", ctype)

	rec = do(s, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "FILE002", decodeError(t, rec).Code)
}

func TestUpload_TooLarge(t *testing.T) {
	cfg := testConfig(t)
	cfg.Upload.MaxFileSize = 64
	s := newTestServer(t, cfg)

	body, ctype := multipartBody(t, map[string]string{"CL_Cleaner.csv": strings.Repeat("x", 1024)})
	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", ctype)

	rec := do(s, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, "FILE001", decodeError(t, rec).Code)
}

func TestDownload_NotFound(t *testing.T) {
	s := newTestServer(t, testConfig(t))
	up := uploadJob(t, s)

	for _, path := range []string{
		"/download/" + uuid.NewString() + "/final_data.csv",
		"/download/" + up.JobID + "/missing.csv",
		"/download/" + up.JobID + "/..%2F..%2Fsecret",
	} {
		rec := do(s, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
	}
}

func TestIndexHealthAndMetrics(t *testing.T) {
	s := newTestServer(t, testConfig(t))

	rec := do(s, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "<title>LotTrace</title>")
	assert.Contains(t, rec.Body.String(), "<code>CL_Etcher4.csv</code>")
	assert.Contains(t, rec.Body.String(), "up to 1 MB")
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.NotContains(t, rec.Header().Get("Content-Security-Policy"), "unsafe-inline")

	rec = do(s, httptest.NewRequest(http.MethodGet, "/static/app.js", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "function searchLot()")

	rec = do(s, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var health HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, HealthResponse{Status: "ok", ActiveRuns: 0, MaxRuns: 1}, health)

	rec = do(s, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `lottrace_http_requests_total{method="GET",route="/healthz",status="200"} 1`)
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig(t)
	cfg.Rate = config.RateLimitConfig{Enabled: true, RequestsPerMinute: 2}
	s := newTestServer(t, cfg)

	for i := 0; i < 2; i++ {
		rec := do(s, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := do(s, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Equal(t, "RATE001", decodeError(t, rec).Code)

	// another client has its own bucket
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.RemoteAddr = "10.1.1.1:4000"
	assert.Equal(t, http.StatusOK, do(s, req).Code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&core.StageError{Stage: "x", Index: 1, Total: 4, Err: core.ErrLayout}, http.StatusInternalServerError},
		{core.ErrFileTooLarge, http.StatusRequestEntityTooLarge},
		{core.ErrMissingInput, http.StatusBadRequest},
		{core.ErrMissingColumn, http.StatusBadRequest},
		{core.ErrArtifactNotFound, http.StatusNotFound},
		{&core.NoMatchError{}, http.StatusNotFound},
		{core.ErrTooManyJobs, http.StatusServiceUnavailable},
		{errRateLimited, http.StatusTooManyRequests},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}
