package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethpandaops/sfbulk/pkg/extractor"
	"github.com/ethpandaops/sfbulk/pkg/observability"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Triggers recorded with each run
const (
	TriggerSchedule = "schedule"
	TriggerStartup  = "startup"
	TriggerManual   = "manual"
)

var (
	// ErrRunning is returned when a run is requested while one is active
	ErrRunning = errors.New("an extraction is already running")
	// ErrNotLeader is returned when a run is requested on a follower
	ErrNotLeader = errors.New("this instance is not the leader")
	// ErrNotStarted is returned when a run is requested before Start
	ErrNotStarted = errors.New("scheduler is not started")
	// ErrStopping is returned when a run is requested during shutdown
	ErrStopping = errors.New("scheduler is stopping")
)

// Runner performs one extraction
type Runner interface {
	Run(ctx context.Context) (*extractor.Result, error)
	Object() string
}

// Status is a point-in-time view of the scheduler
type Status struct {
	Object   string     `json:"object"`
	Schedule string     `json:"schedule,omitempty"`
	Running  bool       `json:"running"`
	Started  *time.Time `json:"started,omitempty"`
	Next     *time.Time `json:"next,omitempty"`
	Leader   bool       `json:"leader"`
}

// Service runs extractions on a schedule and on demand, one at a time
type Service interface {
	// Start registers the schedule and returns immediately
	Start(ctx context.Context) error

	// Stop waits for the active run up to the shutdown timeout
	Stop() error

	// Trigger starts a run in the background
	Trigger() error

	// Status reports whether a run is active and when the next is due
	Status() Status

	// Last returns the most recent result, or nil
	Last(ctx context.Context) (*extractor.Result, error)
}

type service struct {
	log     logrus.FieldLogger
	cfg     *Config
	runner  Runner
	tracker Tracker
	elector LeaderElector

	cron    *cron.Cron
	entryID cron.EntryID

	running  atomic.Bool
	mu       sync.RWMutex
	started  time.Time
	stopping bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewService creates a scheduler. elector may be nil, in which case this
// instance always runs.
func NewService(log logrus.FieldLogger, cfg *Config, runner Runner, tracker Tracker, elector LeaderElector) (Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &service{
		log:     log.WithField("service", "scheduler"),
		cfg:     cfg,
		runner:  runner,
		tracker: tracker,
		elector: elector,
	}, nil
}

func (s *service) Start(ctx context.Context) error {
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	if s.elector != nil {
		if err := s.elector.Start(s.ctx); err != nil {
			return err
		}
	}

	if s.cfg.Schedule != "" {
		logger := newCronLogger(s.log)

		s.cron = cron.New(
			cron.WithParser(parser),
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		)

		id, err := s.cron.AddFunc(s.cfg.Schedule, s.scheduled)
		if err != nil {
			return err
		}

		s.entryID = id
		s.cron.Start()

		s.log.WithFields(logrus.Fields{
			"schedule": s.cfg.Schedule,
			"object":   s.runner.Object(),
		}).Info("Scheduled extraction")
	}

	if s.cfg.RunOnStart {
		s.wg.Add(1)

		go func() {
			defer s.wg.Done()

			if s.elector != nil {
				if err := s.elector.WaitForLeadership(s.ctx); err != nil {
					s.log.WithError(err).Debug("Skipping startup run")
					return
				}
			}

			s.execute(TriggerStartup)
		}()
	}

	return nil
}

func (s *service) Stop() error {
	s.mu.Lock()
	if s.cancel == nil || s.stopping {
		s.mu.Unlock()
		return nil
	}

	// No run may join the wait group once stopping is set
	s.stopping = true
	s.mu.Unlock()

	done := make(chan struct{})

	go func() {
		defer close(done)

		if s.cron != nil {
			<-s.cron.Stop().Done()
		}

		s.wg.Wait()
	}()

	timer := time.NewTimer(s.cfg.ShutdownTimeout)
	defer timer.Stop()

	select {
	case <-done:
	case <-timer.C:
		s.log.Warn("Run did not finish within the shutdown timeout, canceling it")
		s.cancel()
		<-done
	}

	s.cancel()

	if s.elector != nil {
		if err := s.elector.Stop(); err != nil {
			s.log.WithError(err).Warn("Failed to stop leader election")
		}
	}

	return s.tracker.Close()
}

func (s *service) Trigger() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx == nil {
		return ErrNotStarted
	}

	if s.stopping {
		return ErrStopping
	}

	if !s.isLeader() {
		return ErrNotLeader
	}

	if !s.running.CompareAndSwap(false, true) {
		return ErrRunning
	}

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()
		s.run(TriggerManual)
	}()

	return nil
}

func (s *service) Status() Status {
	st := Status{
		Object:   s.runner.Object(),
		Schedule: s.cfg.Schedule,
		Running:  s.running.Load(),
		Leader:   s.isLeader(),
	}

	if st.Running {
		s.mu.RLock()
		started := s.started
		s.mu.RUnlock()

		st.Started = &started
	}

	if s.cron != nil {
		if next := s.cron.Entry(s.entryID).Next; !next.IsZero() {
			st.Next = &next
		}
	}

	return st
}

func (s *service) Last(ctx context.Context) (*extractor.Result, error) {
	return s.tracker.Last(ctx)
}

func (s *service) scheduled() {
	if !s.isLeader() {
		s.log.Debug("Not the leader, skipping scheduled run")
		return
	}

	s.execute(TriggerSchedule)
}

func (s *service) execute(trigger string) {
	if !s.running.CompareAndSwap(false, true) {
		s.log.WithField("trigger", trigger).Warn("Previous run still active, skipping")
		return
	}

	s.run(trigger)
}

// run performs one extraction. The caller must have set running.
func (s *service) run(trigger string) {
	defer s.running.Store(false)

	s.mu.Lock()
	s.started = time.Now().UTC()
	s.mu.Unlock()

	log := s.log.WithFields(logrus.Fields{
		"trigger": trigger,
		"object":  s.runner.Object(),
	})

	observability.RecordScheduledRun(s.runner.Object(), trigger)

	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.RunTimeout)
	defer cancel()

	res, err := s.runner.Run(ctx)
	if err != nil {
		log.WithError(err).Warn("Scheduled extraction failed")
	}

	if res == nil {
		return
	}

	if err := s.tracker.Record(context.WithoutCancel(ctx), res); err != nil {
		log.WithError(err).Error("Failed to record run")
	}
}

func (s *service) isLeader() bool {
	return s.elector == nil || s.elector.IsLeader()
}

// cronLogger adapts logrus to the cron logger interface
type cronLogger struct {
	log logrus.FieldLogger
}

func newCronLogger(log logrus.FieldLogger) cron.Logger {
	return &cronLogger{log: log.WithField("component", "cron")}
}

func (l *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.WithFields(fields(keysAndValues)).Debug(msg)
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.WithError(err).WithFields(fields(keysAndValues)).Error(msg)
}

func fields(keysAndValues []interface{}) logrus.Fields {
	out := make(logrus.Fields, len(keysAndValues)/2)

	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			continue
		}

		out[key] = keysAndValues[i+1]
	}

	return out
}

var _ Service = (*service)(nil)
