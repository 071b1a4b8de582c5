package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"sharp-job-service/internal/entity"
	"sharp-job-service/internal/service"
)

// Executor runs one delivered job id.
type Executor interface {
	Execute(ctx context.Context, jobID string) error
}

type Pool struct {
	queue      service.Queue
	executor   Executor
	workers    int
	claimDelay time.Duration
	retryDelay time.Duration
	afterJob   func()
}

type PoolOption func(*Pool)

// WithAfterJob registers fn to run after every delivery settles, e.g. to
// trigger an admission pass when a slot frees up.
func WithAfterJob(fn func()) PoolOption {
	return func(p *Pool) { p.afterJob = fn }
}

// WithRetryDelay sets the pause after a delivery is requeued for lack of a
// slot.
func WithRetryDelay(d time.Duration) PoolOption {
	return func(p *Pool) { p.retryDelay = d }
}

func WithClaimDelay(d time.Duration) PoolOption {
	return func(p *Pool) { p.claimDelay = d }
}

func NewPool(queue service.Queue, executor Executor, workers int, opts ...PoolOption) *Pool {
	if workers <= 0 {
		workers = 3
	}
	p := &Pool{
		queue:      queue,
		executor:   executor,
		workers:    workers,
		claimDelay: 5 * time.Second,
		retryDelay: 2 * time.Second,
		afterJob:   func() {},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run claims job ids until ctx is cancelled, then waits for in-flight jobs
// to finish before returning.
func (p *Pool) Run(ctx context.Context) {
	log.WithFields(log.Fields{"component": "worker", "workers": p.workers}).Info("worker pool started")

	jobCh := make(chan string)
	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for jobID := range jobCh {
				p.handle(ctx, n, jobID)
			}
		}(i + 1)
	}

	defer func() {
		close(jobCh)
		wg.Wait()
		log.WithField("component", "worker").Info("worker pool stopped")
	}()

	for {
		if ctx.Err() != nil {
			return
		}
		jobID, err := p.queue.ClaimBlocking(ctx, p.claimDelay)
		if err != nil {
			if !errors.Is(err, service.ErrQueueEmpty) && ctx.Err() == nil {
				log.WithField("component", "worker").WithError(err).Warn("claim failed")
				sleep(ctx, p.retryDelay)
			}
			continue
		}
		select {
		case jobCh <- jobID:
		case <-ctx.Done():
			// claimed but never handed out; the reaper puts it back
			return
		}
	}
}

func (p *Pool) handle(ctx context.Context, n int, jobID string) {
	logger := log.WithFields(log.Fields{"component": "worker", "worker": n, "job_id": jobID})
	settle := context.WithoutCancel(ctx)

	err := p.executor.Execute(ctx, jobID)
	switch {
	case errors.Is(err, entity.ErrNoSlot), errors.Is(err, entity.ErrStoreUnavailable):
		// the job never started; hand it to the next free worker
		logger.WithError(err).Debug("requeueing job")
		if rqErr := p.queue.Requeue(settle, jobID); rqErr != nil {
			logger.WithError(rqErr).Error("requeue failed")
		}
		sleep(ctx, p.retryDelay)
		return
	case err != nil:
		logger.WithError(err).Warn("job delivery dropped")
	}

	if ackErr := p.queue.Ack(settle, jobID); ackErr != nil {
		logger.WithError(ackErr).Error("ack failed")
	}
	p.afterJob()
}

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
