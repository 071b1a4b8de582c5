package httptransport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"sharp-job-service/internal/artifact"
	"sharp-job-service/internal/entity"
	"sharp-job-service/internal/service"
	"sharp-job-service/internal/usage"
)

type JobService interface {
	Submit(ctx context.Context, uploadID uuid.UUID) (*entity.Job, error)
	GetJob(ctx context.Context, id uuid.UUID) (*entity.Job, error)
	QueueStatus(ctx context.Context) (service.QueueStatus, error)
}

type UploadService interface {
	Save(ctx context.Context, filename string, r io.Reader) (*entity.Upload, error)
}

type ArtifactReader interface {
	Fetch(ctx context.Context, jobID uuid.UUID, filename string) (*artifact.Artifact, error)
	FetchMesh(ctx context.Context, filename string) (*artifact.Artifact, error)
}

type MeshService interface {
	Methods() ([]service.MeshMethod, []string)
	Convert(ctx context.Context, req service.MeshRequest) (*service.MeshResult, error)
}

type UsageReporter interface {
	Report(ctx context.Context) (usage.Report, error)
}

// HealthCheck is one dependency probed by /api/health.
type HealthCheck struct {
	Name string
	Ping func(ctx context.Context) error
}

type Deps struct {
	Jobs      JobService
	Uploads   UploadService
	Artifacts ArtifactReader
	Mesh      MeshService
	Usage     UsageReporter
	Checks    []HealthCheck

	AverageJobSeconds int
	GPUCostPerHour    float64
	MaxUploadBytes    int64
}

type Handler struct {
	d Deps
}

func NewHandler(d Deps) *Handler {
	if d.MaxUploadBytes <= 0 {
		d.MaxUploadBytes = 50 << 20
	}
	return &Handler{d: d}
}

type uploadResp struct {
	ImageID  string `json:"imageId"`
	Filename string `json:"filename"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	Size     int64  `json:"size"`
}

type generateReq struct {
	ImageID string `json:"imageId"`
}

type jobResp struct {
	JobID                string           `json:"jobId"`
	UploadID             string           `json:"uploadId"`
	Status               entity.JobStatus `json:"status"`
	StatusDetail         *string          `json:"statusDetail,omitempty"`
	QueuePosition        int              `json:"queuePosition"`
	EstimatedWaitSeconds int              `json:"estimatedWaitSeconds"`
	ResultRef            *string          `json:"resultRef,omitempty"`
	SplatURL             *string          `json:"splatUrl,omitempty"`
	ProcessingTimeMs     *int64           `json:"processingTimeMs,omitempty"`
	Error                *string          `json:"error,omitempty"`
	CreatedAt            string           `json:"createdAt"`
	UpdatedAt            string           `json:"updatedAt"`
}

func toJobResp(j *entity.Job) jobResp {
	resp := jobResp{
		JobID:                j.ID.String(),
		UploadID:             j.UploadID.String(),
		Status:               j.Status,
		StatusDetail:         j.StatusDetail,
		QueuePosition:        j.QueuePosition,
		EstimatedWaitSeconds: j.EstimatedWaitSeconds,
		ProcessingTimeMs:     j.ProcessingTimeMs,
		Error:                j.Error,
		CreatedAt:            j.CreatedAt.Format(time.RFC3339),
		UpdatedAt:            j.UpdatedAt.Format(time.RFC3339),
	}
	if j.Status == entity.StatusComplete && j.ResultRef != nil {
		resp.ResultRef = j.ResultRef
		url := fmt.Sprintf("/api/download/%s/%s", j.ID, artifact.ResultFile)
		resp.SplatURL = &url
	}
	return resp
}

// Upload godoc
// @Summary Upload an image
// @Description Stores a jpg, png, webp or gif image for later generation.
// @Tags uploads
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "image"
// @Success 200 {object} uploadResp
// @Failure 400 {object} apiError
// @Failure 503 {object} apiError
// @Router /api/upload [post]
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	// multipart framing needs a little room over the file cap
	r.Body = http.MaxBytesReader(w, r.Body, h.d.MaxUploadBytes+1<<20)

	file, header, err := r.FormFile("file")
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeErr(w, http.StatusBadRequest, "INVALID_INPUT", fmt.Sprintf("file exceeds %d bytes", h.d.MaxUploadBytes))
			return
		}
		writeErr(w, http.StatusBadRequest, "INVALID_INPUT", "multipart field \"file\" is required")
		return
	}
	defer file.Close()

	u, err := h.d.Uploads.Save(r.Context(), header.Filename, file)
	if err != nil {
		mapError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, uploadResp{
		ImageID:  u.ID.String(),
		Filename: html.EscapeString(u.Filename),
		Width:    u.Width,
		Height:   u.Height,
		Size:     u.SizeBytes,
	})
}

// Generate godoc
// @Summary Request generation for an upload
// @Tags jobs
// @Accept json
// @Produce json
// @Param request body generateReq true "upload to process"
// @Success 202 {object} jobResp
// @Failure 400 {object} apiError
// @Failure 404 {object} apiError
// @Failure 503 {object} apiError
// @Router /api/generate [post]
func (h *Handler) Generate(w http.ResponseWriter, r *http.Request) {
	var req generateReq
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "INVALID_INPUT", "invalid json")
		return
	}
	uploadID, err := uuid.Parse(req.ImageID)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "INVALID_INPUT", "invalid imageId")
		return
	}

	job, err := h.d.Jobs.Submit(r.Context(), uploadID)
	if err != nil {
		mapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, toJobResp(job))
}

// Status godoc
// @Summary Poll a job
// @Tags jobs
// @Produce json
// @Param jobId path string true "job id (uuid)"
// @Success 200 {object} jobResp
// @Failure 400 {object} apiError
// @Failure 404 {object} apiError
// @Router /api/status/{jobId} [get]
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, chi.URLParam(r, "jobId"))
	if !ok {
		return
	}
	job, err := h.d.Jobs.GetJob(r.Context(), id)
	if err != nil {
		mapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toJobResp(job))
}

// Download godoc
// @Summary Download a job artifact
// @Description Serves outputs/{jobId}/{filename}. If the exact name is missing, a file with the same extension is served.
// @Tags jobs
// @Produce octet-stream
// @Param jobId path string true "job id (uuid)"
// @Param filename path string true "artifact name, e.g. splat.ply"
// @Success 200 {file} binary
// @Failure 400 {object} apiError
// @Failure 404 {object} apiError
// @Router /api/download/{jobId}/{filename} [get]
func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, chi.URLParam(r, "jobId"))
	if !ok {
		return
	}
	name := chi.URLParam(r, "filename")
	if err := artifact.ValidateFilename(name); err != nil {
		mapError(w, r, err)
		return
	}

	a, err := h.d.Artifacts.Fetch(r.Context(), id, name)
	if err != nil {
		mapError(w, r, err)
		return
	}
	serveArtifact(w, r, a)
}

// Queue godoc
// @Summary Queue snapshot
// @Tags queue
// @Produce json
// @Success 200 {object} service.QueueStatus
// @Failure 503 {object} apiError
// @Router /api/queue [get]
func (h *Handler) Queue(w http.ResponseWriter, r *http.Request) {
	st, err := h.d.Jobs.QueueStatus(r.Context())
	if err != nil {
		mapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type healthResp struct {
	Status string               `json:"status"`
	Checks map[string]string    `json:"checks"`
	Queue  *service.QueueStatus `json:"queue,omitempty"`
}

// Health godoc
// @Summary Service health
// @Tags queue
// @Produce json
// @Success 200 {object} healthResp
// @Failure 503 {object} healthResp
// @Router /api/health [get]
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	resp := healthResp{Status: "healthy", Checks: map[string]string{}}
	for _, c := range h.d.Checks {
		if err := c.Ping(ctx); err != nil {
			resp.Status = "degraded"
			resp.Checks[c.Name] = "error: " + err.Error()
			continue
		}
		resp.Checks[c.Name] = "ok"
	}
	if st, err := h.d.Jobs.QueueStatus(ctx); err == nil {
		resp.Queue = &st
	} else {
		resp.Status = "degraded"
	}

	code := http.StatusOK
	if resp.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

type usageResp struct {
	Usage             usage.Report `json:"usage"`
	Cost              usage.Cost   `json:"cost"`
	GPUCostPerHour    float64      `json:"gpuCostPerHour"`
	AverageJobSeconds int          `json:"averageJobSeconds"`
}

// Usage godoc
// @Summary Completed-job counters and estimated GPU cost
// @Tags usage
// @Produce json
// @Success 200 {object} usageResp
// @Failure 503 {object} apiError
// @Router /api/usage [get]
func (h *Handler) Usage(w http.ResponseWriter, r *http.Request) {
	report, err := h.d.Usage.Report(r.Context())
	if err != nil {
		mapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, usageResp{
		Usage:             report,
		Cost:              usage.EstimateCost(report, h.d.AverageJobSeconds, h.d.GPUCostPerHour),
		GPUCostPerHour:    h.d.GPUCostPerHour,
		AverageJobSeconds: h.d.AverageJobSeconds,
	})
}

func parseID(w http.ResponseWriter, raw string) (uuid.UUID, bool) {
	id, err := uuid.Parse(raw)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "INVALID_INPUT", "invalid id")
		return uuid.Nil, false
	}
	return id, true
}

func serveArtifact(w http.ResponseWriter, r *http.Request, a *artifact.Artifact) {
	defer a.File.Close()
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", a.Name))
	http.ServeContent(w, r, a.Name, time.Time{}, a.File)
}
