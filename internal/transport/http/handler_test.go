package httptransport_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sharp-job-service/internal/artifact"
	"sharp-job-service/internal/entity"
	"sharp-job-service/internal/service"
	"sharp-job-service/internal/testutil"
	httptransport "sharp-job-service/internal/transport/http"
	"sharp-job-service/internal/usage"
	"sharp-job-service/internal/worker"
)

// ---- fakes ----

// countingVolume records every store access made through the reader.
type countingVolume struct {
	*artifact.Store
	touches atomic.Int32
}

func (v *countingVolume) Refresh(ctx context.Context) error {
	v.touches.Add(1)
	return v.Store.Refresh(ctx)
}

func (v *countingVolume) Exists(p string) (bool, error) {
	v.touches.Add(1)
	return v.Store.Exists(p)
}

func (v *countingVolume) List(dir string) ([]string, error) {
	v.touches.Add(1)
	return v.Store.List(dir)
}

func (v *countingVolume) Open(p string) (afero.File, error) {
	v.touches.Add(1)
	return v.Store.Open(p)
}

type plyInferencer struct {
	store *artifact.Store
}

func (f *plyInferencer) Infer(ctx context.Context, imagePath, outputDir string) error {
	rel, err := filepath.Rel("/data", outputDir)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	buf.WriteString("ply\nformat binary_little_endian 1.0\nelement vertex 1\n")
	for _, p := range []string{"x", "y", "z", "f_dc_0", "f_dc_1", "f_dc_2", "opacity"} {
		fmt.Fprintf(&buf, "property float %s\n", p)
	}
	buf.WriteString("end_header\n")
	for _, v := range []float32{1, 2, 3, 0.5, 0, -0.5, 2} {
		_ = binary.Write(&buf, binary.LittleEndian, v)
	}
	_, err = f.store.Write(filepath.ToSlash(filepath.Join(rel, "output.ply")), &buf)
	return err
}

type counterStub struct {
	counts map[string]int64
	err    error
}

func (c *counterStub) IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error) {
	if c.err != nil {
		return 0, c.err
	}
	c.counts[key]++
	return c.counts[key], nil
}

func (c *counterStub) Ping(ctx context.Context) error { return c.err }

// ---- helpers ----

type env struct {
	router  http.Handler
	jobs    *testutil.JobStore
	queue   *testutil.Queue
	volume  *countingVolume
	proc    *worker.Processor
	limiter *counterStub
}

func newEnv(t *testing.T, checks ...httptransport.HealthCheck) *env {
	t.Helper()
	store, err := artifact.NewStore(afero.NewMemMapFs(), "/data")
	require.NoError(t, err)

	jobs := testutil.NewJobStore()
	uploads := testutil.NewUploadStore()
	queue := testutil.NewQueue()
	completions := &testutil.CompletionLog{}
	agg := usage.NewAggregator(completions)
	volume := &countingVolume{Store: store}
	reader := artifact.NewReader(volume, 2, time.Millisecond)

	jobSvc := service.NewJobService(jobs, uploads, queue, service.NewEstimator(3, 45))
	h := httptransport.NewHandler(httptransport.Deps{
		Jobs:              jobSvc,
		Uploads:           service.NewUploadService(uploads, store, 1<<20),
		Artifacts:         reader,
		Mesh:              service.NewMeshService(jobs, reader, store, new(testutil.MockReconstructor)),
		Usage:             agg,
		Checks:            checks,
		AverageJobSeconds: 45,
		GPUCostPerHour:    0.59,
		MaxUploadBytes:    1 << 20,
	})
	limiter := &counterStub{counts: map[string]int64{}}

	return &env{
		router: httptransport.Routes(h, httptransport.RouterConfig{
			AllowedOrigins:     []string{"http://localhost:5173"},
			RateLimiter:        limiter,
			RateLimitPerMinute: 1000,
		}),
		jobs:    jobs,
		queue:   queue,
		volume:  volume,
		limiter: limiter,
		proc: worker.NewProcessor(jobs, uploads, &plyInferencer{store: store}, store, reader, agg,
			worker.ProcessorConfig{Ceiling: 3}),
	}
}

func (e *env) do(t *testing.T, method, target string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *env) upload(t *testing.T) string {
	t.Helper()
	var img bytes.Buffer
	require.NoError(t, png.Encode(&img, image.NewRGBA(image.Rect(0, 0, 8, 6))))

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "<cat>.png")
	require.NoError(t, err)
	_, err = fw.Write(img.Bytes())
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	rec := e.do(t, http.MethodPost, "/api/upload", &body, mw.FormDataContentType())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		ImageID  string `json:"imageId"`
		Filename string `json:"filename"`
		Width    int    `json:"width"`
		Height   int    `json:"height"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "&lt;cat&gt;.png", resp.Filename)
	assert.Equal(t, 8, resp.Width)
	assert.Equal(t, 6, resp.Height)
	return resp.ImageID
}

type jobSnapshot struct {
	JobID                string  `json:"jobId"`
	Status               string  `json:"status"`
	QueuePosition        int     `json:"queuePosition"`
	EstimatedWaitSeconds int     `json:"estimatedWaitSeconds"`
	ResultRef            *string `json:"resultRef"`
	SplatURL             *string `json:"splatUrl"`
	Error                *string `json:"error"`
}

func decodeJob(t *testing.T, rec *httptest.ResponseRecorder) jobSnapshot {
	t.Helper()
	var j jobSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &j))
	return j
}

// ---- tests ----

func TestHTTP_EndToEnd(t *testing.T) {
	e := newEnv(t)
	imageID := e.upload(t)

	rec := e.do(t, http.MethodPost, "/api/generate", bytes.NewBufferString(`{"imageId":"`+imageID+`"}`), "application/json")
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	job := decodeJob(t, rec)
	assert.Equal(t, "queued", job.Status)
	assert.Equal(t, 1, job.QueuePosition)
	assert.Equal(t, 45, job.EstimatedWaitSeconds)
	assert.Equal(t, []string{job.JobID}, e.queue.Pending())

	require.NoError(t, e.proc.Execute(context.Background(), job.JobID))

	rec = e.do(t, http.MethodGet, "/api/status/"+job.JobID, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	done := decodeJob(t, rec)
	assert.Equal(t, "complete", done.Status)
	require.NotNil(t, done.ResultRef)
	assert.NotEmpty(t, *done.ResultRef)
	require.NotNil(t, done.SplatURL)
	assert.Nil(t, done.Error)

	rec = e.do(t, http.MethodGet, *done.SplatURL, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/octet-stream", rec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("ply\n")))
	assert.Contains(t, rec.Body.String(), "property uchar red")

	before := e.volume.touches.Load()
	rec = e.do(t, http.MethodGet, "/api/download/"+job.JobID+"/..%2F..%2Fetc%2Fpasswd", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = e.do(t, http.MethodGet, "/api/download/"+job.JobID+"/..splat.ply", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, before, e.volume.touches.Load())

	rec = e.do(t, http.MethodGet, "/api/usage", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var u struct {
		Usage usage.Report `json:"usage"`
		Cost  usage.Cost   `json:"cost"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &u))
	assert.Equal(t, int64(1), u.Usage.AllTime)
	assert.Equal(t, 1, u.Usage.ThisHour)
	assert.Equal(t, 1, u.Usage.HourlyBreakdown[23])
	assert.InDelta(t, 45.0/3600*0.59, u.Cost.ThisHour, 1e-9)
}

func TestHTTP_Status_Errors(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodGet, "/api/status/not-a-uuid", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodGet, "/api/status/"+uuid.NewString(), nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "NOT_FOUND", body["code"])
}

func TestHTTP_Generate_UnknownUpload(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodPost, "/api/generate", bytes.NewBufferString(`{"imageId":"`+uuid.NewString()+`"}`), "application/json")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/generate", bytes.NewBufferString(`{`), "application/json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHTTP_Download_MissingArtifact(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodGet, "/api/download/"+uuid.NewString()+"/splat.ply", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "checked")
}

func TestHTTP_Upload_Rejected(t *testing.T) {
	e := newEnv(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "evil.exe")
	require.NoError(t, err)
	_, _ = fw.Write([]byte("MZ"))
	require.NoError(t, mw.Close())

	rec := e.do(t, http.MethodPost, "/api/upload", &body, mw.FormDataContentType())
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/upload", bytes.NewBufferString("nope"), "text/plain")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHTTP_MeshConvert_JobNotComplete(t *testing.T) {
	e := newEnv(t)
	id := uuid.New()
	e.jobs.Put(&entity.Job{ID: id, Status: entity.StatusQueued})

	rec := e.do(t, http.MethodPost, "/api/mesh/convert", bytes.NewBufferString(`{"jobId":"`+id.String()+`"}`), "application/json")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = e.do(t, http.MethodGet, "/api/mesh/methods", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ball_pivoting")

	rec = e.do(t, http.MethodGet, "/api/mesh/download/..%2Fsecret", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHTTP_Queue(t *testing.T) {
	e := newEnv(t)
	e.jobs.Put(&entity.Job{ID: uuid.New(), Status: entity.StatusProcessing})
	e.jobs.Put(&entity.Job{ID: uuid.New(), Status: entity.StatusQueued})

	rec := e.do(t, http.MethodGet, "/api/queue", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var st service.QueueStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, service.QueueStatus{ActiveJobs: 1, QueuedJobs: 1, MaxConcurrent: 3, AverageJobSeconds: 45}, st)
}

func TestHTTP_Health(t *testing.T) {
	ok := httptransport.HealthCheck{Name: "database", Ping: func(ctx context.Context) error { return nil }}
	e := newEnv(t, ok)
	rec := e.do(t, http.MethodGet, "/api/health", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"healthy"`)

	down := httptransport.HealthCheck{Name: "redis", Ping: func(ctx context.Context) error { return errors.New("connection refused") }}
	e = newEnv(t, ok, down)
	rec = e.do(t, http.MethodGet, "/api/health", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"degraded"`)
}

func TestHTTP_SecurityHeaders(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodGet, "/api/queue", nil, "")
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "strict-origin-when-cross-origin", rec.Header().Get("Referrer-Policy"))
}

func TestRateLimit(t *testing.T) {
	limiter := &counterStub{counts: map[string]int64{}}
	h := httptransport.RateLimit(limiter, 2)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	call := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/usage", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, call().Code)
	rec := call()
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	rec = call()
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
}

func TestRateLimit_FailsOpen(t *testing.T) {
	limiter := &counterStub{err: errors.New("redis down")}
	h := httptransport.RateLimit(limiter, 1)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusNoContent, rec.Code)
	}
}
