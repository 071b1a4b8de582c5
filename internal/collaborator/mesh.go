package collaborator

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"sharp-job-service/internal/config"
	"sharp-job-service/internal/entity"
)

type MeshParams struct {
	Input  string
	Output string
	Method string
	Depth  int
	Alpha  float64
}

type MeshStats struct {
	Vertices int `json:"vertices"`
	Faces    int `json:"faces"`
}

// MeshCLI runs the point-cloud-to-mesh tool, which reports its result as a
// single JSON object on stdout.
type MeshCLI struct {
	command string
	timeout time.Duration
}

func NewMeshCLI(cfg config.MeshConfig) *MeshCLI {
	return &MeshCLI{command: cfg.Command, timeout: cfg.Timeout}
}

func (m *MeshCLI) Reconstruct(ctx context.Context, p MeshParams) (MeshStats, error) {
	args := []string{
		"--input", p.Input,
		"--output", p.Output,
		"--method", p.Method,
		"--depth", strconv.Itoa(p.Depth),
		"--alpha", strconv.FormatFloat(p.Alpha, 'f', -1, 64),
	}
	out, err := run(ctx, m.timeout, m.command, args...)
	if err != nil {
		return MeshStats{}, err
	}

	var stats MeshStats
	if err := json.Unmarshal(out, &stats); err != nil {
		return MeshStats{}, fmt.Errorf("decode %s output: %w: %w", m.command, entity.ErrCollaboratorFailure, err)
	}
	return stats, nil
}
