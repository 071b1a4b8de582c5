package collaborator

import (
	"context"
	"time"

	"sharp-job-service/internal/config"
)

// SharpCLI runs `sharp predict -i <image> -o <dir> [-c <checkpoint>]`.
// The tool writes one or more .ply files into the output directory.
type SharpCLI struct {
	command    string
	checkpoint string
	timeout    time.Duration
}

func NewSharpCLI(cfg config.InferenceConfig) *SharpCLI {
	return &SharpCLI{command: cfg.Command, checkpoint: cfg.Checkpoint, timeout: cfg.Timeout}
}

func (s *SharpCLI) Infer(ctx context.Context, imagePath, outputDir string) error {
	args := []string{"predict", "-i", imagePath, "-o", outputDir}
	if s.checkpoint != "" {
		args = append(args, "-c", s.checkpoint)
	}
	_, err := run(ctx, s.timeout, s.command, args...)
	return err
}
