// Package testutil holds in-memory fakes of the store and queue ports,
// shared by the service, worker and transport tests.
package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"sharp-job-service/internal/entity"
	"sharp-job-service/internal/service"
)

// JobStore is an in-memory job store with the same guarded transitions as
// the Postgres repository.
type JobStore struct {
	mu      sync.Mutex
	jobs    map[uuid.UUID]*entity.Job
	order   []uuid.UUID
	maxSeen int

	CreateErr error
	CountsErr error
	Now       func() time.Time
}

func NewJobStore() *JobStore {
	return &JobStore{jobs: map[uuid.UUID]*entity.Job{}, Now: time.Now}
}

func (s *JobStore) Create(ctx context.Context, job *entity.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.CreateErr != nil {
		return s.CreateErr
	}
	cp := *job
	cp.Status = entity.StatusQueued
	s.jobs[job.ID] = &cp
	s.order = append(s.order, job.ID)
	return nil
}

// Put stores job as is, bypassing the state machine.
func (s *JobStore) Put(job *entity.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *job
	if _, ok := s.jobs[job.ID]; !ok {
		s.order = append(s.order, job.ID)
	}
	s.jobs[job.ID] = &cp
}

func (s *JobStore) GetByID(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", id, entity.ErrNotFound)
	}
	cp := *j
	return &cp, nil
}

func (s *JobStore) Counts(ctx context.Context) (entity.JobCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.CountsErr != nil {
		return entity.JobCounts{}, s.CountsErr
	}
	return s.countsLocked(), nil
}

func (s *JobStore) countsLocked() entity.JobCounts {
	var c entity.JobCounts
	for _, j := range s.jobs {
		switch j.Status {
		case entity.StatusQueued:
			c.Queued++
			if j.DispatchedAt != nil {
				c.Dispatched++
			}
		case entity.StatusProcessing:
			c.Processing++
		}
	}
	return c
}

func (s *JobStore) MarkDispatched(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, err := s.guard(id, entity.StatusQueued, entity.StatusQueued)
	if err != nil {
		return err
	}
	now := s.Now()
	j.DispatchedAt = &now
	return nil
}

func (s *JobStore) ListUndispatched(ctx context.Context, limit int) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []uuid.UUID
	for _, id := range s.order {
		if len(ids) >= limit {
			break
		}
		j := s.jobs[id]
		if j.Status == entity.StatusQueued && j.DispatchedAt == nil {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *JobStore) AcquireSlot(ctx context.Context, id uuid.UUID, ceiling int, detail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("job %s: %w", id, entity.ErrNotFound)
	}
	if !entity.CanTransition(j.Status, entity.StatusProcessing) {
		return fmt.Errorf("job %s %s -> processing: %w", id, j.Status, entity.ErrInvalidTransition)
	}
	if s.countsLocked().Processing >= ceiling {
		return entity.ErrNoSlot
	}
	now := s.Now()
	j.Status = entity.StatusProcessing
	j.StatusDetail = &detail
	j.QueuePosition = 0
	j.EstimatedWaitSeconds = 0
	j.StartedAt = &now
	if p := s.countsLocked().Processing; p > s.maxSeen {
		s.maxSeen = p
	}
	return nil
}

func (s *JobStore) SetDetail(ctx context.Context, id uuid.UUID, detail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, err := s.guard(id, entity.StatusProcessing, entity.StatusProcessing)
	if err != nil {
		return err
	}
	j.StatusDetail = &detail
	return nil
}

func (s *JobStore) Complete(ctx context.Context, id uuid.UUID, resultRef string, processingMs int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, err := s.guard(id, entity.StatusProcessing, entity.StatusComplete)
	if err != nil {
		return err
	}
	now := s.Now()
	detail := "Complete"
	j.Status = entity.StatusComplete
	j.StatusDetail = &detail
	j.ResultRef = &resultRef
	j.ProcessingTimeMs = &processingMs
	j.CompletedAt = &now
	return nil
}

func (s *JobStore) Fail(ctx context.Context, id uuid.UUID, errText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, err := s.guard(id, entity.StatusProcessing, entity.StatusError)
	if err != nil {
		return err
	}
	now := s.Now()
	detail := "Inference failed"
	j.Status = entity.StatusError
	j.StatusDetail = &detail
	j.Error = &errText
	j.CompletedAt = &now
	return nil
}

func (s *JobStore) FailStale(ctx context.Context, olderThanSeconds int, errText string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.Now().Add(-time.Duration(olderThanSeconds) * time.Second)
	var n int64
	for _, j := range s.jobs {
		if j.Status == entity.StatusProcessing && j.StartedAt != nil && j.StartedAt.Before(cutoff) {
			msg := errText
			j.Status = entity.StatusError
			j.Error = &msg
			n++
		}
	}
	return n, nil
}

// MaxProcessing is the highest processing count ever observed.
func (s *JobStore) MaxProcessing() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxSeen
}

// All returns copies of every job in creation order.
func (s *JobStore) All() []entity.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]entity.Job, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.jobs[id])
	}
	return out
}

func (s *JobStore) guard(id uuid.UUID, from, to entity.JobStatus) (*entity.Job, error) {
	j, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", id, entity.ErrNotFound)
	}
	if j.Status != from {
		return nil, fmt.Errorf("job %s %s -> %s: %w", id, j.Status, to, entity.ErrInvalidTransition)
	}
	return j, nil
}

type UploadStore struct {
	mu      sync.Mutex
	uploads map[uuid.UUID]entity.Upload
}

func NewUploadStore(uploads ...entity.Upload) *UploadStore {
	s := &UploadStore{uploads: map[uuid.UUID]entity.Upload{}}
	for _, u := range uploads {
		s.uploads[u.ID] = u
	}
	return s
}

func (s *UploadStore) Create(ctx context.Context, u *entity.Upload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploads[u.ID] = *u
	return nil
}

func (s *UploadStore) GetByID(ctx context.Context, id uuid.UUID) (*entity.Upload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.uploads[id]
	if !ok {
		return nil, fmt.Errorf("upload %s: %w", id, entity.ErrNotFound)
	}
	return &u, nil
}

// Queue is an in-memory service.Queue.
type Queue struct {
	mu         sync.Mutex
	pending    []string // head at index 0
	processing []string
	acked      []string
	requeued   int

	EnqueueErr error
}

var _ service.Queue = (*Queue)(nil)

func NewQueue() *Queue {
	return &Queue{}
}

func (q *Queue) Enqueue(ctx context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.EnqueueErr != nil {
		return q.EnqueueErr
	}
	q.pending = append(q.pending, jobID)
	return nil
}

func (q *Queue) ClaimBlocking(ctx context.Context, timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	for {
		q.mu.Lock()
		if len(q.pending) > 0 {
			id := q.pending[0]
			q.pending = q.pending[1:]
			q.processing = append(q.processing, id)
			q.mu.Unlock()
			return id, nil
		}
		q.mu.Unlock()

		if timeout > 0 && time.Now().After(deadline) {
			return "", service.ErrQueueEmpty
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(2 * time.Millisecond):
		}
	}
}

func (q *Queue) Ack(ctx context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.processing = remove(q.processing, jobID)
	q.acked = append(q.acked, jobID)
	return nil
}

func (q *Queue) Requeue(ctx context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.processing = remove(q.processing, jobID)
	q.pending = append([]string{jobID}, q.pending...)
	q.requeued++
	return nil
}

func (q *Queue) RequeueStale(ctx context.Context, max int64) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var moved int64
	for len(q.processing) > 0 && moved < max {
		id := q.processing[0]
		q.processing = q.processing[1:]
		q.pending = append(q.pending, id)
		moved++
	}
	return moved, nil
}

func (q *Queue) Len(ctx context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.pending)), nil
}

// Pending returns the ids waiting to be claimed, head first.
func (q *Queue) Pending() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.pending...)
}

func (q *Queue) Acked() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.acked...)
}

func (q *Queue) Requeued() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.requeued
}

func remove(list []string, id string) []string {
	for i, v := range list {
		if v == id {
			return append(list[:i:i], list[i+1:]...)
		}
	}
	return list
}

// CompletionLog is an in-memory usage.CompletionLog.
type CompletionLog struct {
	mu      sync.Mutex
	entries []time.Time
	total   int64

	AppendErr error
}

func (l *CompletionLog) Append(ctx context.Context, t time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.AppendErr != nil {
		return l.AppendErr
	}
	l.entries = append(l.entries, t)
	l.total++
	return nil
}

func (l *CompletionLog) Load(ctx context.Context) ([]time.Time, int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := append([]time.Time(nil), l.entries...)
	sort.Slice(out, func(i, j int) bool { return out[i].After(out[j]) })
	return out, l.total, nil
}
