// Package schedule drives the periodic background feed refresh.
package schedule

import (
	"github.com/robfig/cron/v3"

	appLog "chronogrid/internal/log"
)

// Scheduler wraps a cron runner around a single refresh job.
type Scheduler struct {
	c *cron.Cron
}

// New validates the cron expression and registers job. The job does not run
// until Start is called.
func New(spec string, job func()) (*Scheduler, error) {
	c := cron.New()
	if _, err := c.AddFunc(spec, job); err != nil {
		return nil, err
	}
	appLog.Info("refresh schedule registered", "cron", spec)
	return &Scheduler{c: c}, nil
}

// Start begins running the schedule in its own goroutine.
func (s *Scheduler) Start() {
	s.c.Start()
}

// Stop halts the schedule and waits for a running job to finish.
func (s *Scheduler) Stop() {
	ctx := s.c.Stop()
	<-ctx.Done()
}
