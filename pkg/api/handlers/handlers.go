// Package handlers implements the request handlers of the sfbulk API.
package handlers

import (
	"context"
	"errors"

	"github.com/ethpandaops/sfbulk/pkg/extractor"
	"github.com/ethpandaops/sfbulk/pkg/scheduler"
	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
)

// Scheduler is the part of the scheduler the API exposes
type Scheduler interface {
	Trigger() error
	Status() scheduler.Status
	Last(ctx context.Context) (*extractor.Result, error)
}

// Server holds the handlers
type Server struct {
	scheduler Scheduler
	log       logrus.FieldLogger
}

// NewServer creates a new API server instance
func NewServer(sched Scheduler, log logrus.FieldLogger) *Server {
	return &Server{
		scheduler: sched,
		log:       log.WithField("component", "api.handlers"),
	}
}

// Register mounts the handlers on router
func (s *Server) Register(router fiber.Router) {
	router.Get("/health", s.Health)
	router.Get("/status", s.Status)
	router.Get("/runs/last", s.LastRun)
	router.Post("/runs", s.TriggerRun)
}

// Health handles GET /api/v1/health
func (s *Server) Health(c fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "ok"})
}

// Status handles GET /api/v1/status
func (s *Server) Status(c fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(s.scheduler.Status())
}

// LastRun handles GET /api/v1/runs/last
func (s *Server) LastRun(c fiber.Ctx) error {
	res, err := s.scheduler.Last(c.Context())
	if err != nil {
		s.log.WithError(err).Error("Failed to load last run")
		return err
	}

	if res == nil {
		return ErrNoRun
	}

	return c.Status(fiber.StatusOK).JSON(res)
}

// TriggerRun handles POST /api/v1/runs
func (s *Server) TriggerRun(c fiber.Ctx) error {
	err := s.scheduler.Trigger()

	switch {
	case errors.Is(err, scheduler.ErrRunning):
		return ErrRunActive
	case errors.Is(err, scheduler.ErrNotLeader):
		return ErrNotLeader
	case errors.Is(err, scheduler.ErrStopping):
		return ErrShuttingDown
	case err != nil:
		return err
	}

	s.log.Info("Extraction triggered through the API")

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "accepted"})
}
