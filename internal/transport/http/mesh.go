package httptransport

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"sharp-job-service/internal/artifact"
	"sharp-job-service/internal/service"
)

type meshMethodsResp struct {
	Methods []service.MeshMethod `json:"methods"`
	Formats []string             `json:"formats"`
}

type meshConvertReq struct {
	JobID  string  `json:"jobId"`
	Method string  `json:"method"`
	Format string  `json:"format"`
	Depth  int     `json:"depth"`
	Alpha  float64 `json:"alpha"`
}

// MeshMethods godoc
// @Summary Supported mesh reconstruction methods and output formats
// @Tags mesh
// @Produce json
// @Success 200 {object} meshMethodsResp
// @Router /api/mesh/methods [get]
func (h *Handler) MeshMethods(w http.ResponseWriter, r *http.Request) {
	methods, formats := h.d.Mesh.Methods()
	writeJSON(w, http.StatusOK, meshMethodsResp{Methods: methods, Formats: formats})
}

// MeshConvert godoc
// @Summary Convert a finished job's point cloud to a mesh
// @Tags mesh
// @Accept json
// @Produce json
// @Param request body meshConvertReq true "conversion parameters"
// @Success 200 {object} service.MeshResult
// @Failure 400 {object} apiError
// @Failure 404 {object} apiError
// @Failure 409 {object} apiError
// @Router /api/mesh/convert [post]
func (h *Handler) MeshConvert(w http.ResponseWriter, r *http.Request) {
	var req meshConvertReq
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "INVALID_INPUT", "invalid json")
		return
	}
	jobID, err := uuid.Parse(req.JobID)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "INVALID_INPUT", "invalid jobId")
		return
	}

	res, err := h.d.Mesh.Convert(r.Context(), service.MeshRequest{
		JobID:  jobID,
		Method: req.Method,
		Format: req.Format,
		Depth:  req.Depth,
		Alpha:  req.Alpha,
	})
	if err != nil {
		mapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// MeshDownload godoc
// @Summary Download a mesh
// @Tags mesh
// @Produce octet-stream
// @Param filename path string true "mesh file name"
// @Success 200 {file} binary
// @Failure 400 {object} apiError
// @Failure 404 {object} apiError
// @Router /api/mesh/download/{filename} [get]
func (h *Handler) MeshDownload(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "filename")
	if err := artifact.ValidateFilename(name); err != nil {
		mapError(w, r, err)
		return
	}
	a, err := h.d.Artifacts.FetchMesh(r.Context(), name)
	if err != nil {
		mapError(w, r, err)
		return
	}
	serveArtifact(w, r, a)
}
