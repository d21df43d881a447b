package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	//nolint:gosec // only exposed if pprofAddr config is set
	_ "net/http/pprof"

	"github.com/ethpandaops/sfbulk/pkg/api"
	"github.com/ethpandaops/sfbulk/pkg/extractor"
	"github.com/ethpandaops/sfbulk/pkg/observability"
	sfredis "github.com/ethpandaops/sfbulk/pkg/redis"
	"github.com/ethpandaops/sfbulk/pkg/scheduler"
	"github.com/ethpandaops/sfbulk/pkg/state"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Server represents the main application server
type Server struct {
	log    logrus.FieldLogger
	config *Config

	extractor *extractor.Extractor
	scheduler scheduler.Service
	api       api.Service

	pprofServer *http.Server
}

// NewServer creates a new server instance
func NewServer(log logrus.FieldLogger, config *Config) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	ext, err := extractor.New(log, &config.Extraction)
	if err != nil {
		return nil, err
	}

	tracker, elector, err := coordination(log, config, ext.Table())
	if err != nil {
		_ = ext.Close()
		return nil, err
	}

	sched, err := scheduler.NewService(log, &config.Schedule, ext, tracker, elector)
	if err != nil {
		_ = ext.Close()
		return nil, err
	}

	return &Server{
		log:       log,
		config:    config,
		extractor: ext,
		scheduler: sched,
		api:       api.NewService(&config.API, sched, log),
	}, nil
}

// coordination picks the run tracker and leader elector. Instances share
// them through redis when the state lives there.
func coordination(log logrus.FieldLogger, config *Config, table string) (scheduler.Tracker, scheduler.LeaderElector, error) {
	st := &config.Extraction.State
	if st.Backend != state.BackendRedis {
		return scheduler.NewMemoryTracker(), nil, nil
	}

	key := st.KeyFor(table)

	client, err := sfredis.NewClient(&st.Redis)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create redis client: %w", err)
	}

	tracker := scheduler.NewRedisTracker(log, client, st.Redis.PrefixKey("runs:"+key))

	if !config.Schedule.LeaderElection {
		return tracker, nil, nil
	}

	electionClient, err := sfredis.NewClient(&st.Redis)
	if err != nil {
		_ = tracker.Close()
		return nil, nil, fmt.Errorf("failed to create redis client: %w", err)
	}

	return tracker, scheduler.NewLeaderElector(log, electionClient, st.Redis.PrefixKey("leader:"+key)), nil
}

// Start starts the server and all its components. It blocks until ctx is
// canceled or the process receives SIGINT or SIGTERM.
func (s *Server) Start(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	s.log.WithFields(logrus.Fields{
		"object":   s.extractor.Object(),
		"schedule": s.config.Schedule.Schedule,
		"api":      s.config.API.Enabled,
	}).Info("Starting server")

	observability.StartMetricsServer(s.log, s.config.MetricsAddr)

	if s.config.PProfAddr != nil {
		s.pprofServer = &http.Server{
			Addr:              *s.config.PProfAddr,
			ReadHeaderTimeout: 120 * time.Second,
		}

		g.Go(func() error {
			s.log.WithField("addr", s.pprofServer.Addr).Info("Starting pprof server")

			if err := s.pprofServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}

			return nil
		})
	}

	if err := s.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	if err := s.api.Start(ctx); err != nil {
		return fmt.Errorf("failed to start api: %w", err)
	}

	g.Go(func() error {
		<-ctx.Done()

		return s.stop(context.Background())
	})

	return g.Wait()
}

func (s *Server) stop(ctx context.Context) error {
	cleanupCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	s.log.Info("Starting graceful shutdown...")

	if err := s.api.Stop(); err != nil {
		s.log.WithError(err).Error("failed to stop api")
	}

	if err := s.scheduler.Stop(); err != nil {
		s.log.WithError(err).Error("failed to stop scheduler")
	}

	if err := s.extractor.Close(); err != nil {
		s.log.WithError(err).Error("failed to close state backend")
	}

	if s.pprofServer != nil {
		if err := s.pprofServer.Shutdown(cleanupCtx); err != nil {
			s.log.WithError(err).Error("failed to shutdown pprof server")
		}
	}

	if err := observability.StopMetricsServer(cleanupCtx); err != nil {
		s.log.WithError(err).Error("failed to stop metrics server")
	}

	s.log.Info("Server stopped")

	return nil
}
