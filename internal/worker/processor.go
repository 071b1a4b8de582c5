package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"sharp-job-service/internal/artifact"
	"sharp-job-service/internal/collaborator"
	"sharp-job-service/internal/entity"
	"sharp-job-service/internal/ply"
)

// maxErrorLen bounds the error text stored on a failed job.
const maxErrorLen = 2000

const (
	detailInference = "Running Sharp inference..."
	detailLocating  = "Locating output..."
	detailColors    = "Encoding colors..."
	detailSplat     = "Writing web splat..."
)

type JobRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (*entity.Job, error)
	AcquireSlot(ctx context.Context, id uuid.UUID, ceiling int, detail string) error
	SetDetail(ctx context.Context, id uuid.UUID, detail string) error
	Complete(ctx context.Context, id uuid.UUID, resultRef string, processingMs int64) error
	Fail(ctx context.Context, id uuid.UUID, errText string) error
}

type UploadRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (*entity.Upload, error)
}

// Inferencer is the external model: it reads an image and writes point
// clouds into outputDir.
type Inferencer interface {
	Infer(ctx context.Context, imagePath, outputDir string) error
}

// Artifacts is the write side of the artifact store.
type Artifacts interface {
	LocalPath(p string) string
	MkdirAll(dir string) error
	ReadFile(p string) ([]byte, error)
	Write(p string, r io.Reader) (int64, error)
	Rename(from, to string) error
}

type Locator interface {
	Locate(ctx context.Context, jobID uuid.UUID, filename string) (string, error)
}

type CompletionRecorder interface {
	RecordCompletion(ctx context.Context, t time.Time) error
}

type ProcessorConfig struct {
	Ceiling    int
	WriteSplat bool
}

type Processor struct {
	jobs      JobRepo
	uploads   UploadRepo
	infer     Inferencer
	artifacts Artifacts
	locator   Locator
	usage     CompletionRecorder
	cfg       ProcessorConfig
	now       func() time.Time
}

func NewProcessor(
	jobs JobRepo,
	uploads UploadRepo,
	infer Inferencer,
	artifacts Artifacts,
	locator Locator,
	usage CompletionRecorder,
	cfg ProcessorConfig,
) *Processor {
	if cfg.Ceiling < 1 {
		cfg.Ceiling = 1
	}
	return &Processor{
		jobs:      jobs,
		uploads:   uploads,
		infer:     infer,
		artifacts: artifacts,
		locator:   locator,
		usage:     usage,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Execute claims a global slot for jobID and drives the job to a terminal
// state. It returns ErrNoSlot (or a store error) only while the job has not
// started, meaning the delivery should be retried; once the job is
// processing, every fault ends up in the job record instead.
func (p *Processor) Execute(ctx context.Context, jobID string) (err error) {
	id, err := uuid.Parse(jobID)
	if err != nil {
		log.WithFields(log.Fields{"component": "worker", "job_id": jobID}).Warn("discarding malformed job id")
		return fmt.Errorf("job id %q: %w", jobID, entity.ErrInvalidInput)
	}
	logger := log.WithFields(log.Fields{"component": "worker", "job_id": id.String()})

	job, err := p.jobs.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if job.Status != entity.StatusQueued {
		// redelivery of a job someone else already took
		logger.WithField("status", job.Status).Debug("skipping job")
		return nil
	}

	if err := p.jobs.AcquireSlot(ctx, id, p.cfg.Ceiling, detailInference); err != nil {
		if errors.Is(err, entity.ErrInvalidTransition) {
			return nil
		}
		return err
	}

	// Once processing, the job runs to completion, timeout or crash.
	ctx = context.WithoutCancel(ctx)
	start := p.now()
	logger.WithField("upload_id", job.UploadID.String()).Info("job processing")

	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprintf("internal error: %v", r)
			logger.WithField("panic", r).Error("job panicked")
			p.fail(ctx, id, msg, start)
			err = nil
		}
	}()

	resultRef, runErr := p.run(ctx, job)
	if runErr != nil {
		p.fail(ctx, id, runErr.Error(), start)
		return nil
	}

	elapsed := p.now().Sub(start).Milliseconds()
	if err := p.jobs.Complete(ctx, id, resultRef, elapsed); err != nil {
		logger.WithError(err).Error("mark complete failed")
		return err
	}
	logger.WithFields(log.Fields{
		"status":      entity.StatusComplete,
		"duration_ms": elapsed,
		"result_ref":  resultRef,
	}).Info("job complete")

	if err := p.usage.RecordCompletion(ctx, p.now()); err != nil {
		logger.WithError(err).Warn("record completion failed")
	}
	return nil
}

func (p *Processor) run(ctx context.Context, job *entity.Job) (string, error) {
	upload, err := p.uploads.GetByID(ctx, job.UploadID)
	if err != nil {
		return "", fmt.Errorf("load upload: %w", err)
	}

	outDir := artifact.OutputDir(job.ID)
	if err := p.artifacts.MkdirAll(outDir); err != nil {
		return "", err
	}
	if err := p.infer.Infer(ctx, p.artifacts.LocalPath(upload.Path), p.artifacts.LocalPath(outDir)); err != nil {
		return "", err
	}

	p.detail(ctx, job.ID, detailLocating)
	found, err := p.locator.Locate(ctx, job.ID, artifact.ResultFile)
	if err != nil {
		return "", fmt.Errorf("no PLY output found in %s: %w", outDir, err)
	}
	resultRef := artifact.OutputPath(job.ID, artifact.ResultFile)
	if found != resultRef {
		if err := p.artifacts.Rename(found, resultRef); err != nil {
			return "", err
		}
	}

	p.detail(ctx, job.ID, detailColors)
	data, err := p.artifacts.ReadFile(resultRef)
	if err != nil {
		return "", err
	}
	colored, changed, err := ply.AddDisplayColors(data)
	switch {
	case errors.Is(err, ply.ErrNoSHColor):
		log.WithField("job_id", job.ID.String()).Info("no SH color in output, skipping color encoding")
		colored = data
	case err != nil:
		return "", fmt.Errorf("encode colors: %w", err)
	case changed:
		if _, err := p.artifacts.Write(resultRef, bytes.NewReader(colored)); err != nil {
			return "", err
		}
	}

	if p.cfg.WriteSplat {
		p.detail(ctx, job.ID, detailSplat)
		p.writeSplat(job.ID, colored)
	}
	return resultRef, nil
}

// writeSplat is best-effort: the .ply is the result, the .splat a convenience.
func (p *Processor) writeSplat(id uuid.UUID, data []byte) {
	logger := log.WithFields(log.Fields{"component": "worker", "job_id": id.String()})
	splat, err := ply.ToSplat(data)
	if err != nil {
		logger.WithError(err).Warn("splat conversion failed")
		return
	}
	if _, err := p.artifacts.Write(artifact.OutputPath(id, artifact.SplatFile), bytes.NewReader(splat)); err != nil {
		logger.WithError(err).Warn("write splat failed")
	}
}

func (p *Processor) detail(ctx context.Context, id uuid.UUID, detail string) {
	if err := p.jobs.SetDetail(ctx, id, detail); err != nil {
		log.WithFields(log.Fields{"job_id": id.String(), "error": err.Error()}).Debug("set detail failed")
	}
}

func (p *Processor) fail(ctx context.Context, id uuid.UUID, msg string, start time.Time) {
	msg = collaborator.Truncate(msg, maxErrorLen)
	logger := log.WithFields(log.Fields{
		"component":   "worker",
		"job_id":      id.String(),
		"status":      entity.StatusError,
		"duration_ms": p.now().Sub(start).Milliseconds(),
	})
	if err := p.jobs.Fail(ctx, id, msg); err != nil {
		logger.WithError(err).Error("mark failed failed")
		return
	}
	logger.WithField("error", msg).Warn("job failed")
}
