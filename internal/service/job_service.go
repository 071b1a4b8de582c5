package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"sharp-job-service/internal/entity"
)

// JobRepository is the job store port (implementation: postgresql.JobRepository).
type JobRepository interface {
	Create(ctx context.Context, job *entity.Job) error
	GetByID(ctx context.Context, id uuid.UUID) (*entity.Job, error)
	Counts(ctx context.Context) (entity.JobCounts, error)
	MarkDispatched(ctx context.Context, id uuid.UUID) error
	ListUndispatched(ctx context.Context, limit int) ([]uuid.UUID, error)
}

type UploadRepository interface {
	Create(ctx context.Context, u *entity.Upload) error
	GetByID(ctx context.Context, id uuid.UUID) (*entity.Upload, error)
}

// JobQueue is the enqueue-only side of Queue.
type JobQueue interface {
	Enqueue(ctx context.Context, jobID string) error
}

// QueueStatus is the shared queue snapshot served by /api/queue and /api/health.
type QueueStatus struct {
	ActiveJobs        int `json:"activeJobs"`
	QueuedJobs        int `json:"queuedJobs"`
	MaxConcurrent     int `json:"maxConcurrent"`
	AverageJobSeconds int `json:"averageJobSeconds"`
}

// JobService is the admission controller: it registers jobs and hands them to
// the dispatch queue while the global ceiling has room.
type JobService struct {
	jobs      JobRepository
	uploads   UploadRepository
	queue     JobQueue
	estimator Estimator
	now       func() time.Time
}

func NewJobService(jobs JobRepository, uploads UploadRepository, queue JobQueue, estimator Estimator) *JobService {
	return &JobService{
		jobs:      jobs,
		uploads:   uploads,
		queue:     queue,
		estimator: estimator,
		now:       time.Now,
	}
}

// Submit registers a queued job for uploadID and dispatches it right away if a
// slot is free. The returned snapshot is the one the caller first observes.
func (s *JobService) Submit(ctx context.Context, uploadID uuid.UUID) (*entity.Job, error) {
	if _, err := s.uploads.GetByID(ctx, uploadID); err != nil {
		return nil, err
	}

	counts, err := s.jobs.Counts(ctx)
	if err != nil {
		return nil, err
	}
	position, eta := s.estimator.Estimate(counts.Inflight())

	detail := "Waiting in queue"
	now := s.now().UTC()
	job := &entity.Job{
		ID:                   uuid.New(),
		UploadID:             uploadID,
		Status:               entity.StatusQueued,
		StatusDetail:         &detail,
		QueuePosition:        position,
		EstimatedWaitSeconds: eta,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"component":      "admission",
		"job_id":         job.ID.String(),
		"upload_id":      uploadID.String(),
		"queue_position": position,
		"eta_seconds":    eta,
	}).Info("job queued")

	if counts.Processing+counts.Dispatched < s.estimator.Ceiling {
		if err := s.dispatch(ctx, job.ID); err != nil {
			// the job stays undispatched; the next admission pass retries it
			log.WithFields(log.Fields{
				"component": "admission",
				"job_id":    job.ID.String(),
				"error":     err.Error(),
			}).Warn("dispatch failed")
		}
	}
	return job, nil
}

// AdmissionPass dispatches the oldest undispatched queued jobs into whatever
// room the ceiling has left. It returns how many were dispatched.
func (s *JobService) AdmissionPass(ctx context.Context) (int, error) {
	counts, err := s.jobs.Counts(ctx)
	if err != nil {
		return 0, err
	}
	free := s.estimator.Ceiling - counts.Processing - counts.Dispatched
	if free <= 0 {
		return 0, nil
	}

	ids, err := s.jobs.ListUndispatched(ctx, free)
	if err != nil {
		return 0, err
	}

	dispatched := 0
	for _, id := range ids {
		if err := s.dispatch(ctx, id); err != nil {
			return dispatched, fmt.Errorf("dispatch %s: %w", id, err)
		}
		dispatched++
	}
	return dispatched, nil
}

// dispatch enqueues before marking: a lost mark only risks a duplicate
// delivery, which the guarded slot claim absorbs.
func (s *JobService) dispatch(ctx context.Context, id uuid.UUID) error {
	if err := s.queue.Enqueue(ctx, id.String()); err != nil {
		return fmt.Errorf("enqueue: %w: %w", entity.ErrStoreUnavailable, err)
	}
	if err := s.jobs.MarkDispatched(ctx, id); err != nil {
		// a worker may already have claimed it
		if errors.Is(err, entity.ErrInvalidTransition) {
			return nil
		}
		return err
	}
	return nil
}

func (s *JobService) GetJob(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	return s.jobs.GetByID(ctx, id)
}

func (s *JobService) GetUpload(ctx context.Context, id uuid.UUID) (*entity.Upload, error) {
	return s.uploads.GetByID(ctx, id)
}

func (s *JobService) QueueStatus(ctx context.Context) (QueueStatus, error) {
	counts, err := s.jobs.Counts(ctx)
	if err != nil {
		return QueueStatus{}, err
	}
	return QueueStatus{
		ActiveJobs:        counts.Processing,
		QueuedJobs:        counts.Queued,
		MaxConcurrent:     s.estimator.Ceiling,
		AverageJobSeconds: s.estimator.AverageJobSeconds,
	}, nil
}
