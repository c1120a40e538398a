package scheduler_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/logging"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/orchestrator"
	"github.com/Ramsey-B/fern/pkg/redis"
	"github.com/Ramsey-B/fern/pkg/scheduler"
)

type fakeRunner struct {
	calls    atomic.Int32
	triggers chan string
	err      error
}

func (f *fakeRunner) Run(ctx context.Context, trigger string) (*models.LinkingRun, error) {
	f.calls.Add(1)
	if f.triggers != nil {
		select {
		case f.triggers <- trigger:
		default:
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &models.LinkingRun{ID: uuid.New(), Status: models.RunStatusCompleted}, nil
}

type fakeLocker struct {
	mu   sync.Mutex
	held bool
	keys []string
}

func (l *fakeLocker) WithLock(ctx context.Context, key string, _ time.Duration, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	if l.held {
		l.mu.Unlock()
		return redis.ErrLockNotAcquired
	}
	l.held = true
	l.keys = append(l.keys, key)
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		l.held = false
		l.mu.Unlock()
	}()
	return fn(ctx)
}

func TestTick_RunsUnderLock(t *testing.T) {
	runner := &fakeRunner{}
	locker := &fakeLocker{}
	s := scheduler.New(runner, locker, scheduler.DefaultConfig(), logging.Nop())

	s.Tick(context.Background())

	assert.Equal(t, int32(1), runner.calls.Load())
	assert.Equal(t, []string{scheduler.LinkingLockKey}, locker.keys)
}

func TestTick_SkipsWhenLockHeld(t *testing.T) {
	runner := &fakeRunner{}
	locker := &fakeLocker{held: true}
	s := scheduler.New(runner, locker, scheduler.DefaultConfig(), logging.Nop())

	s.Tick(context.Background())

	assert.Zero(t, runner.calls.Load())
}

func TestTick_ToleratesRunnerErrors(t *testing.T) {
	for _, err := range []error{orchestrator.ErrRunInProgress, errors.New("db down")} {
		runner := &fakeRunner{err: err}
		s := scheduler.New(runner, nil, scheduler.DefaultConfig(), logging.Nop())

		assert.NotPanics(t, func() { s.Tick(context.Background()) })
		assert.Equal(t, int32(1), runner.calls.Load())
	}
}

func TestStartStop(t *testing.T) {
	runner := &fakeRunner{triggers: make(chan string, 1)}
	s := scheduler.New(runner, nil, scheduler.Config{Interval: time.Hour, RunOnStart: true}, logging.Nop())

	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Start(context.Background()), scheduler.ErrSchedulerAlreadyRunning)
	assert.True(t, s.IsRunning())

	select {
	case trigger := <-runner.triggers:
		assert.Equal(t, scheduler.Trigger, trigger)
	case <-time.After(5 * time.Second):
		t.Fatal("run on start did not happen")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	assert.False(t, s.IsRunning())
	require.NoError(t, s.Stop(ctx))
}
