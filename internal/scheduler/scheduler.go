package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Task is the deferred action run once its delay has elapsed.
type Task func(ctx context.Context) error

// Scheduler runs deferred account tasks. Each pending task waits on its own timer;
// at most Workers tasks execute at once.
type Scheduler interface {
	Start(ctx context.Context) error
	Shutdown()
	// Schedule returns immediately; task runs at or after delay. There is no cancellation handle.
	Schedule(accountID uuid.UUID, delay time.Duration, task Task)
}

// Observer is notified about the scheduler's queue and task results.
type Observer interface {
	ScheduledPending(delta int)
	ScheduledDone(err error)
}

type Config struct {
	Workers  int
	Logger   *logrus.Logger
	Observer Observer
}

type scheduler struct {
	cfg Config
	sem chan struct{}
	wg  sync.WaitGroup

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	closed bool
}

func New(cfg Config) Scheduler {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	return &scheduler{
		cfg: cfg,
		sem: make(chan struct{}, cfg.Workers),
	}
}

func (s *scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx != nil {
		return nil
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cfg.Logger.Infof("timeout scheduler started with %d workers", s.cfg.Workers)
	return nil
}

func (s *scheduler) Shutdown() {
	s.mu.Lock()
	s.closed = true
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.cfg.Logger.Info("timeout scheduler stopped")
}

func (s *scheduler) Schedule(accountID uuid.UUID, delay time.Duration, task Task) {
	logger := s.cfg.Logger.WithField("account_id", accountID)

	s.mu.Lock()
	if s.ctx == nil || s.closed {
		s.mu.Unlock()
		logger.Warn("scheduler not running, dropping task")
		return
	}
	ctx := s.ctx
	s.wg.Add(1)
	s.mu.Unlock()

	if delay < 0 {
		delay = 0
	}
	s.pending(1)

	go func() {
		defer s.wg.Done()
		defer s.pending(-1)

		timer := time.NewTimer(delay)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			logger.Debug("scheduler stopped before task was due")
			return
		case <-timer.C:
		}

		select {
		case <-ctx.Done():
			return
		case s.sem <- struct{}{}:
			defer func() { <-s.sem }()
			s.run(ctx, logger, task)
		}
	}()
}

func (s *scheduler) run(ctx context.Context, logger *logrus.Entry, task Task) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("scheduled task panicked: %v", r)
		}
	}()

	err := task(ctx)
	if err != nil {
		logger.Errorf("scheduled task failed: %v", err)
	}
	if s.cfg.Observer != nil {
		s.cfg.Observer.ScheduledDone(err)
	}
}

func (s *scheduler) pending(delta int) {
	if s.cfg.Observer != nil {
		s.cfg.Observer.ScheduledPending(delta)
	}
}
