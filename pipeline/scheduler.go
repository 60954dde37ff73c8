package pipeline

import (
	"context"
	"time"
)

// Scheduler runs a job immediately and then on every tick of a fixed
// interval until stopped.
type Scheduler struct {
	interval time.Duration
	stop     chan struct{}
	done     chan struct{}
}

// NewScheduler builds a scheduler firing every interval.
func NewScheduler(interval time.Duration) *Scheduler {
	return &Scheduler{interval: interval}
}

// Start begins ticking. Jobs run on the scheduler goroutine, so a slow job
// delays the next tick instead of overlapping it.
func (s *Scheduler) Start(ctx context.Context, job func(time.Time)) {
	if job == nil || s.stop != nil {
		return
	}

	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go func(stop <-chan struct{}) {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		job(time.Now())
		for {
			select {
			case t := <-ticker.C:
				job(t)
			case <-ctx.Done():
				return
			case <-stop:
				return
			}
		}
	}(s.stop)
}

// Stop halts the ticker goroutine and waits for a running job to return.
func (s *Scheduler) Stop() {
	if s.stop == nil {
		return
	}
	close(s.stop)
	<-s.done
	s.stop = nil
}
