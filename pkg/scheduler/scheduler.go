// Package scheduler triggers the entity-linking pipeline on an interval.
// With several replicas the distributed lock keeps runs single-flight.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/orchestrator"
	"github.com/Ramsey-B/fern/pkg/redis"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

var ErrSchedulerAlreadyRunning = errors.New("scheduler already running")

const (
	DefaultInterval = time.Hour
	DefaultLockTTL  = 30 * time.Minute
	LinkingLockKey  = "linking:run"
	Trigger         = "scheduler"
)

// Runner is satisfied by *orchestrator.Orchestrator.
type Runner interface {
	Run(ctx context.Context, trigger string) (*models.LinkingRun, error)
}

// Locker is satisfied by *redis.Locker.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) error) error
}

type Config struct {
	Interval time.Duration
	LockTTL  time.Duration
	// RunOnStart triggers a run as soon as the scheduler starts.
	RunOnStart bool
}

func DefaultConfig() Config {
	return Config{Interval: DefaultInterval, LockTTL: DefaultLockTTL}
}

type Scheduler struct {
	runner Runner
	locker Locker
	cfg    Config
	logger ectologger.Logger

	mu       sync.Mutex
	running  bool
	stopCh   chan struct{}
	stoppedC chan struct{}
}

// New builds a scheduler. locker may be nil when only one replica runs.
func New(runner Runner, locker Locker, cfg Config, logger ectologger.Logger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = DefaultLockTTL
	}
	return &Scheduler{runner: runner, locker: locker, cfg: cfg, logger: logger}
}

func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrSchedulerAlreadyRunning
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.stoppedC = make(chan struct{})

	s.logger.WithContext(ctx).Infof("Starting linking scheduler: interval=%s", s.cfg.Interval)
	go s.loop(ctx, s.stopCh, s.stoppedC)
	return nil
}

// Stop waits for an in-flight run to notice cancellation, bounded by ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	stopCh, stoppedC := s.stopCh, s.stoppedC
	s.mu.Unlock()

	close(stopCh)
	select {
	case <-stoppedC:
		s.logger.WithContext(ctx).Info("Linking scheduler stopped")
		return nil
	case <-ctx.Done():
		s.logger.WithContext(ctx).Warn("Linking scheduler shutdown timed out")
		return ctx.Err()
	}
}

func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) loop(ctx context.Context, stopCh <-chan struct{}, stoppedC chan<- struct{}) {
	defer close(stoppedC)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-stopCh:
			cancel()
		case <-runCtx.Done():
		}
	}()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	if s.cfg.RunOnStart {
		s.Tick(runCtx)
	}

	for {
		select {
		case <-runCtx.Done():
			return
		case <-ticker.C:
			s.Tick(runCtx)
		}
	}
}

// Tick performs one scheduled run. A run held by another replica or already
// in progress here is skipped quietly.
func (s *Scheduler) Tick(ctx context.Context) {
	ctx, span := tracing.StartSpan(ctx, "scheduler.Scheduler.Tick")
	defer span.End()

	log := s.logger.WithContext(ctx)

	run := func(ctx context.Context) error {
		result, err := s.runner.Run(ctx, Trigger)
		if err != nil {
			return err
		}
		log.WithFields(map[string]any{
			"run_id":      result.ID,
			"status":      result.Status,
			"duration_ms": result.DurationMs,
		}).Info("Scheduled linking run finished")
		return nil
	}

	var err error
	if s.locker != nil {
		err = s.locker.WithLock(ctx, LinkingLockKey, s.cfg.LockTTL, run)
	} else {
		err = run(ctx)
	}

	switch {
	case err == nil:
	case errors.Is(err, redis.ErrLockNotAcquired), errors.Is(err, orchestrator.ErrRunInProgress):
		log.Debug("Linking run already in progress, skipping tick")
	case errors.Is(err, context.Canceled):
		log.Info("Scheduled linking run cancelled")
	default:
		tracing.RecordError(span, err)
		log.WithError(err).Error("Scheduled linking run failed")
	}
}
