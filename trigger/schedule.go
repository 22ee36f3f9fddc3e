package trigger

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/GoCodeAlone/modhost"
)

// Schedule requests a reload on a cron schedule.
type Schedule struct {
	cron   *cron.Cron
	spec   string
	logger modhost.Logger
}

// NewSchedule parses spec, a standard cron expression or descriptor such as
// "@every 30s", and prepares a schedule feeding target.
func NewSchedule(spec string, target Reloader, logger modhost.Logger) (*Schedule, error) {
	if logger == nil {
		logger = discardLogger()
	}
	s := &Schedule{cron: cron.New(), spec: spec, logger: logger}
	_, err := s.cron.AddFunc(spec, func() {
		logger.Debug("Scheduled reload", "schedule", spec)
		target.Trigger(modhost.ReloadTriggerSchedule)
	})
	if err != nil {
		return nil, fmt.Errorf("trigger: schedule %q: %w", spec, err)
	}
	return s, nil
}

// Start runs the schedule in its own goroutine.
func (s *Schedule) Start() {
	s.cron.Start()
	s.logger.Info("Reload schedule started", "schedule", s.spec)
}

// Stop halts the schedule and waits for a running job, or ctx.
func (s *Schedule) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
