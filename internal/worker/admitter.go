package worker

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
)

type AdmissionPasser interface {
	AdmissionPass(ctx context.Context) (int, error)
}

// Admitter dispatches queued jobs into free slots, periodically and on
// demand.
type Admitter struct {
	svc      AdmissionPasser
	interval time.Duration
	kick     chan struct{}
}

func NewAdmitter(svc AdmissionPasser, interval time.Duration) *Admitter {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Admitter{svc: svc, interval: interval, kick: make(chan struct{}, 1)}
}

// Trigger requests a pass without blocking. Triggers coalesce.
func (a *Admitter) Trigger() {
	select {
	case a.kick <- struct{}{}:
	default:
	}
}

func (a *Admitter) Run(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	a.pass(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-a.kick:
		}
		a.pass(ctx)
	}
}

func (a *Admitter) pass(ctx context.Context) {
	n, err := a.svc.AdmissionPass(ctx)
	if err != nil {
		if ctx.Err() == nil {
			log.WithField("component", "admitter").WithError(err).Warn("admission pass failed")
		}
		return
	}
	if n > 0 {
		log.WithFields(log.Fields{"component": "admitter", "dispatched": n}).Debug("admitted jobs")
	}
}
