package worker

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"sharp-job-service/internal/service"
)

// StaleFailer fails processing jobs that have outlived any possible run.
type StaleFailer interface {
	FailStale(ctx context.Context, olderThanSeconds int, errText string) (int64, error)
}

// Reaper returns orphaned deliveries to the queue and fails jobs whose
// worker died mid-run, so their slots are released.
type Reaper struct {
	queue    service.Queue
	jobs     StaleFailer
	interval time.Duration
	maxAge   time.Duration
	batch    int64
}

func NewReaper(queue service.Queue, jobs StaleFailer, interval, maxAge time.Duration) *Reaper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Reaper{queue: queue, jobs: jobs, interval: interval, maxAge: maxAge, batch: 100}
}

func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep runs one reaping pass.
func (r *Reaper) Sweep(ctx context.Context) {
	logger := log.WithField("component", "reaper")

	n, err := r.queue.RequeueStale(ctx, r.batch)
	if err != nil {
		logger.WithError(err).Warn("requeue stale failed")
	} else if n > 0 {
		logger.WithField("count", n).Info("requeued deliveries from processing")
	}

	if r.maxAge <= 0 {
		return
	}
	failed, err := r.jobs.FailStale(ctx, int(r.maxAge.Seconds()), "worker lost")
	if err != nil {
		logger.WithError(err).Warn("fail stale jobs failed")
		return
	}
	if failed > 0 {
		logger.WithField("count", failed).Warn("failed jobs abandoned by their worker")
	}
}
