package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethpandaops/sfbulk/pkg/extractor"
	"github.com/ethpandaops/sfbulk/pkg/failure"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errRunFailed = errors.New("run failed")

func testLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.WarnLevel)

	return log
}

// blockingRunner blocks each run until release is closed
type blockingRunner struct {
	mu      sync.Mutex
	calls   int
	started chan struct{}
	release chan struct{}
	err     error
}

func newBlockingRunner() *blockingRunner {
	return &blockingRunner{
		started: make(chan struct{}, 10),
		release: make(chan struct{}),
	}
}

func (r *blockingRunner) Run(ctx context.Context) (*extractor.Result, error) {
	r.mu.Lock()
	r.calls++
	n := r.calls
	r.mu.Unlock()

	r.started <- struct{}{}

	select {
	case <-r.release:
	case <-ctx.Done():
		return &extractor.Result{RunID: "canceled", Error: ctx.Err().Error()}, ctx.Err()
	}

	res := &extractor.Result{RunID: "run-" + string(rune('0'+n)), Object: "Account"}
	if r.err != nil {
		res.Error = r.err.Error()
	}

	return res, r.err
}

func (r *blockingRunner) Object() string { return "Account" }

func (r *blockingRunner) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.calls
}

// staticElector reports a fixed leadership
type staticElector struct {
	leader bool
}

func (e *staticElector) Start(_ context.Context) error { return nil }

func (e *staticElector) Stop() error { return nil }

func (e *staticElector) IsLeader() bool { return e.leader }

func (e *staticElector) WaitForLeadership(ctx context.Context) error {
	if e.leader {
		return nil
	}

	<-ctx.Done()

	return ctx.Err()
}

func testSchedulerConfig() *Config {
	return &Config{RunTimeout: time.Minute, ShutdownTimeout: time.Second}
}

func waitStarted(t *testing.T, r *blockingRunner) {
	t.Helper()

	select {
	case <-r.started:
	case <-time.After(2 * time.Second):
		t.Fatal("run did not start")
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name     string
		schedule string
		timeout  time.Duration
		wantErr  error
	}{
		{name: "on demand only", timeout: time.Hour},
		{name: "descriptor", schedule: "@every 30m", timeout: time.Hour},
		{name: "cron expression", schedule: "15 3 * * *", timeout: time.Hour},
		{name: "daily", schedule: "@daily", timeout: time.Hour},
		{name: "seconds field rejected", schedule: "0 15 3 * * *", timeout: time.Hour, wantErr: ErrInvalidSchedule},
		{name: "garbage", schedule: "sometimes", timeout: time.Hour, wantErr: ErrInvalidSchedule},
		{name: "zero timeout", wantErr: ErrInvalidRunTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Schedule: tt.schedule, RunTimeout: tt.timeout}

			err := cfg.Validate()
			if tt.wantErr == nil {
				require.NoError(t, err)
				return
			}

			require.ErrorIs(t, err, tt.wantErr)
			assert.True(t, failure.Is(err, failure.KindValidation))
		})
	}
}

func TestNewServiceRejectsInvalidConfig(t *testing.T) {
	_, err := NewService(testLogger(), &Config{Schedule: "nope", RunTimeout: time.Minute}, newBlockingRunner(), NewMemoryTracker(), nil)
	require.ErrorIs(t, err, ErrInvalidSchedule)
}

func TestTriggerBeforeStart(t *testing.T) {
	svc, err := NewService(testLogger(), testSchedulerConfig(), newBlockingRunner(), NewMemoryTracker(), nil)
	require.NoError(t, err)

	assert.ErrorIs(t, svc.Trigger(), ErrNotStarted)
	require.NoError(t, svc.Stop())
}

func TestTriggerRunsOneAtATime(t *testing.T) {
	runner := newBlockingRunner()

	svc, err := NewService(testLogger(), testSchedulerConfig(), runner, NewMemoryTracker(), nil)
	require.NoError(t, err)
	require.NoError(t, svc.Start(context.Background()))

	require.NoError(t, svc.Trigger())
	waitStarted(t, runner)

	status := svc.Status()
	assert.True(t, status.Running)
	assert.NotNil(t, status.Started)
	assert.Equal(t, "Account", status.Object)
	assert.True(t, status.Leader)

	assert.ErrorIs(t, svc.Trigger(), ErrRunning)

	close(runner.release)

	assert.Eventually(t, func() bool { return !svc.Status().Running }, 2*time.Second, 10*time.Millisecond)

	last, err := svc.Last(context.Background())
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, "run-1", last.RunID)
	assert.Equal(t, 1, runner.Calls())

	require.NoError(t, svc.Stop())
}

func TestFailedRunIsRecorded(t *testing.T) {
	runner := newBlockingRunner()
	runner.err = errRunFailed
	close(runner.release)

	svc, err := NewService(testLogger(), testSchedulerConfig(), runner, NewMemoryTracker(), nil)
	require.NoError(t, err)
	require.NoError(t, svc.Start(context.Background()))

	require.NoError(t, svc.Trigger())

	assert.Eventually(t, func() bool {
		last, _ := svc.Last(context.Background())
		return last != nil
	}, 2*time.Second, 10*time.Millisecond)

	last, err := svc.Last(context.Background())
	require.NoError(t, err)
	assert.Equal(t, errRunFailed.Error(), last.Error)

	require.NoError(t, svc.Stop())
}

func TestRunOnStart(t *testing.T) {
	runner := newBlockingRunner()
	close(runner.release)

	cfg := testSchedulerConfig()
	cfg.RunOnStart = true

	svc, err := NewService(testLogger(), cfg, runner, NewMemoryTracker(), nil)
	require.NoError(t, err)
	require.NoError(t, svc.Start(context.Background()))

	waitStarted(t, runner)
	require.NoError(t, svc.Stop())

	assert.Equal(t, 1, runner.Calls())
}

func TestFollowerDoesNotRun(t *testing.T) {
	runner := newBlockingRunner()

	cfg := testSchedulerConfig()
	cfg.RunOnStart = true
	cfg.ShutdownTimeout = 50 * time.Millisecond

	svc, err := NewService(testLogger(), cfg, runner, NewMemoryTracker(), &staticElector{})
	require.NoError(t, err)
	require.NoError(t, svc.Start(context.Background()))

	assert.ErrorIs(t, svc.Trigger(), ErrNotLeader)
	assert.False(t, svc.Status().Leader)

	require.NoError(t, svc.Stop())
	assert.Equal(t, 0, runner.Calls())
}

func TestScheduleReportsNextRun(t *testing.T) {
	cfg := testSchedulerConfig()
	cfg.Schedule = "@every 1h"

	svc, err := NewService(testLogger(), cfg, newBlockingRunner(), NewMemoryTracker(), nil)
	require.NoError(t, err)
	require.NoError(t, svc.Start(context.Background()))

	status := svc.Status()
	require.NotNil(t, status.Next)
	assert.WithinDuration(t, time.Now().Add(time.Hour), *status.Next, time.Minute)
	assert.Equal(t, "@every 1h", status.Schedule)
	assert.False(t, status.Running)

	require.NoError(t, svc.Stop())
}

func TestTriggerDuringShutdown(t *testing.T) {
	runner := newBlockingRunner()

	cfg := testSchedulerConfig()
	cfg.ShutdownTimeout = 5 * time.Second

	svc, err := NewService(testLogger(), cfg, runner, NewMemoryTracker(), nil)
	require.NoError(t, err)
	require.NoError(t, svc.Start(context.Background()))

	require.NoError(t, svc.Trigger())
	waitStarted(t, runner)

	stopped := make(chan error, 1)
	go func() { stopped <- svc.Stop() }()

	assert.Eventually(t, func() bool {
		return errors.Is(svc.Trigger(), ErrStopping)
	}, 2*time.Second, 5*time.Millisecond)

	close(runner.release)

	select {
	case err := <-stopped:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("stop did not return")
	}

	assert.Equal(t, 1, runner.Calls())
	assert.ErrorIs(t, svc.Trigger(), ErrStopping)
	require.NoError(t, svc.Stop(), "a second stop is a no-op")
}

func TestStopCancelsRunAfterTimeout(t *testing.T) {
	runner := newBlockingRunner()

	cfg := testSchedulerConfig()
	cfg.ShutdownTimeout = 50 * time.Millisecond

	svc, err := NewService(testLogger(), cfg, runner, NewMemoryTracker(), nil)
	require.NoError(t, err)
	require.NoError(t, svc.Start(context.Background()))

	require.NoError(t, svc.Trigger())
	waitStarted(t, runner)

	require.NoError(t, svc.Stop())

	last, err := svc.Last(context.Background())
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, "canceled", last.RunID)
}

func TestCronLoggerFields(t *testing.T) {
	f := fields([]interface{}{"entry", 1, "next", "soon", 42, "skipped", "dangling"})

	assert.Equal(t, 1, f["entry"])
	assert.Equal(t, "soon", f["next"])
	assert.Len(t, f, 2)
}
