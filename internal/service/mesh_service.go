package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"sharp-job-service/internal/artifact"
	"sharp-job-service/internal/collaborator"
	"sharp-job-service/internal/entity"
)

const (
	DefaultMeshDepth = 9
	MinMeshDepth     = 6
	MaxMeshDepth     = 12

	DefaultMeshAlpha = 0.03
	MinMeshAlpha     = 0.01
	MaxMeshAlpha     = 2.0
)

type MeshMethod struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

var meshMethods = []MeshMethod{
	{ID: "poisson", Name: "Poisson", Description: "Watertight surface, smooth result; tune with depth"},
	{ID: "ball_pivoting", Name: "Ball pivoting", Description: "Keeps fine detail, may leave holes"},
	{ID: "alpha_shape", Name: "Alpha shape", Description: "Fast, follows the point set tightly; tune with alpha"},
}

var meshFormats = []string{"obj", "glb", "ply"}

type MeshRequest struct {
	JobID  uuid.UUID
	Method string
	Format string
	Depth  int     // 0 means default
	Alpha  float64 // 0 means default
}

type MeshResult struct {
	Filename    string `json:"filename"`
	DownloadURL string `json:"downloadUrl"`
	Method      string `json:"method"`
	Format      string `json:"format"`
	Vertices    int    `json:"vertices"`
	Faces       int    `json:"faces"`
}

type Reconstructor interface {
	Reconstruct(ctx context.Context, p collaborator.MeshParams) (collaborator.MeshStats, error)
}

type ArtifactLocator interface {
	Locate(ctx context.Context, jobID uuid.UUID, filename string) (string, error)
}

type LocalPather interface {
	LocalPath(p string) string
}

type JobGetter interface {
	GetByID(ctx context.Context, id uuid.UUID) (*entity.Job, error)
}

// MeshService turns a finished job's point cloud into a mesh.
type MeshService struct {
	jobs    JobGetter
	locator ArtifactLocator
	paths   LocalPather
	mesh    Reconstructor
}

func NewMeshService(jobs JobGetter, locator ArtifactLocator, paths LocalPather, mesh Reconstructor) *MeshService {
	return &MeshService{jobs: jobs, locator: locator, paths: paths, mesh: mesh}
}

func (s *MeshService) Methods() ([]MeshMethod, []string) {
	return meshMethods, meshFormats
}

func (s *MeshService) Convert(ctx context.Context, req MeshRequest) (*MeshResult, error) {
	if err := normalizeMeshRequest(&req); err != nil {
		return nil, err
	}

	job, err := s.jobs.GetByID(ctx, req.JobID)
	if err != nil {
		return nil, err
	}
	if job.Status != entity.StatusComplete {
		return nil, fmt.Errorf("job %s is %s: %w", job.ID, job.Status, entity.ErrInvalidTransition)
	}

	src, err := s.locator.Locate(ctx, job.ID, artifact.ResultFile)
	if err != nil {
		return nil, err
	}

	name := fmt.Sprintf("mesh_%s.%s", strings.ReplaceAll(uuid.NewString(), "-", "")[:8], req.Format)
	stats, err := s.mesh.Reconstruct(ctx, collaborator.MeshParams{
		Input:  s.paths.LocalPath(src),
		Output: s.paths.LocalPath(artifact.MeshPath(name)),
		Method: req.Method,
		Depth:  req.Depth,
		Alpha:  req.Alpha,
	})
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"component": "mesh",
		"job_id":    job.ID.String(),
		"method":    req.Method,
		"filename":  name,
		"vertices":  stats.Vertices,
		"faces":     stats.Faces,
	}).Info("mesh created")

	return &MeshResult{
		Filename:    name,
		DownloadURL: "/api/mesh/download/" + name,
		Method:      req.Method,
		Format:      req.Format,
		Vertices:    stats.Vertices,
		Faces:       stats.Faces,
	}, nil
}

func normalizeMeshRequest(req *MeshRequest) error {
	if req.Method == "" {
		req.Method = "poisson"
	}
	if req.Format == "" {
		req.Format = "obj"
	}
	req.Method = strings.ToLower(req.Method)
	req.Format = strings.ToLower(req.Format)

	known := false
	for _, m := range meshMethods {
		if m.ID == req.Method {
			known = true
		}
	}
	if !known {
		return fmt.Errorf("unknown method %q: %w", req.Method, entity.ErrInvalidInput)
	}
	known = false
	for _, f := range meshFormats {
		if f == req.Format {
			known = true
		}
	}
	if !known {
		return fmt.Errorf("unknown format %q: %w", req.Format, entity.ErrInvalidInput)
	}

	if req.Depth == 0 {
		req.Depth = DefaultMeshDepth
	}
	if req.Depth < MinMeshDepth || req.Depth > MaxMeshDepth {
		return fmt.Errorf("depth must be %d..%d: %w", MinMeshDepth, MaxMeshDepth, entity.ErrInvalidInput)
	}
	if req.Alpha == 0 {
		req.Alpha = DefaultMeshAlpha
	}
	if req.Alpha < MinMeshAlpha || req.Alpha > MaxMeshAlpha {
		return fmt.Errorf("alpha must be %g..%g: %w", MinMeshAlpha, MaxMeshAlpha, entity.ErrInvalidInput)
	}
	return nil
}
