package scheduler

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// SweepFunc re-applies overdue work and reports how many accounts it touched.
type SweepFunc func(ctx context.Context) (int, error)

// Sweeper runs a SweepFunc on a cron schedule. It catches timeouts whose
// in-memory task was lost, e.g. across a restart.
type Sweeper struct {
	cron   *cron.Cron
	spec   string
	sweep  SweepFunc
	logger *logrus.Logger
}

func NewSweeper(spec string, sweep SweepFunc, logger *logrus.Logger) (*Sweeper, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("parse sweep schedule %q: %w", spec, err)
	}
	cronLogger := cron.PrintfLogger(logger)
	return &Sweeper{
		cron: cron.New(
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
		spec:   spec,
		sweep:  sweep,
		logger: logger,
	}, nil
}

// Start registers the sweep job and starts the cron loop.
func (s *Sweeper) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.spec, func() { s.RunOnce(ctx) }); err != nil {
		return fmt.Errorf("register sweep job: %w", err)
	}
	s.cron.Start()
	s.logger.Infof("timeout sweep scheduled (%s)", s.spec)
	return nil
}

// RunOnce executes one sweep synchronously.
func (s *Sweeper) RunOnce(ctx context.Context) {
	n, err := s.sweep(ctx)
	if err != nil {
		s.logger.Errorf("timeout sweep failed: %v", err)
		return
	}
	if n > 0 {
		s.logger.Infof("timeout sweep re-enabled %d accounts", n)
	}
}

// Stop halts the cron loop and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}
